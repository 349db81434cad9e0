package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"
)

// Scenario is one staged-and-run case of the harness: the artifact patterns
// uploaded to the container named after the scenario.
type Scenario struct {
	Name  string   `yaml:"name"`
	Files []string `yaml:"files"`
}

type ScenariosConfig struct {
	Scenarios []Scenario `yaml:"scenarios"`
}

// DefaultScenarios runs the staged task once with its companion settings
// file and once without it.
func DefaultScenarios() []Scenario {
	return []Scenario{
		{Name: "with-config", Files: []string{"batchtask", "batchtask.yaml"}},
		{Name: "without-config", Files: []string{"batchtask"}},
	}
}

// HarnessConfig holds the batchboy settings.
type HarnessConfig struct {
	BatchEndpoint    string
	BatchAccountName string
	BatchAccountKey  string

	StorageBackend string // local or gcs

	// local backend
	StorageDir    string
	StorageListen string
	StorageURL    string
	StorageKey    string

	// gcs backend
	GCSProject         string
	GCSBucketPrefix    string
	GCSCredentialsFile string

	ArtifactDir  string
	PoolID       string
	PoolVMSize   string
	PoolNodes    int
	TaskCommand  string
	JobTimeout   time.Duration
	ReferenceTTL time.Duration
	LogLevel     string

	ScenariosFile string
	Scenarios     []Scenario
}

// LoadHarness reads the harness configuration from BATCHBOY_* environment
// variables.
func LoadHarness() (*HarnessConfig, error) {
	const prefix = "BATCHBOY"
	v := newViper(prefix)
	v.SetDefault("batch_endpoint", "localhost:8124")
	v.SetDefault("storage_backend", "local")
	v.SetDefault("storage_dir", filepath.Join(os.TempDir(), "batchboy-blobs"))
	v.SetDefault("storage_listen", "127.0.0.1:10000")
	v.SetDefault("storage_url", "http://127.0.0.1:10000")
	v.SetDefault("artifact_dir", "./bin")
	v.SetDefault("pool_id", "pool1")
	v.SetDefault("pool_vm_size", "small")
	v.SetDefault("pool_nodes", "1")
	v.SetDefault("task_command", "batchtask")
	v.SetDefault("job_timeout", "5m")
	v.SetDefault("reference_ttl", "1h")
	v.SetDefault("log_level", "info")
	v.SetDefault("scenarios_config", "./scenarios.yaml")

	cfg := &HarnessConfig{
		BatchEndpoint:      v.GetString("batch_endpoint"),
		BatchAccountName:   v.GetString("batch_account_name"),
		BatchAccountKey:    v.GetString("batch_account_key"),
		StorageBackend:     v.GetString("storage_backend"),
		StorageDir:         v.GetString("storage_dir"),
		StorageListen:      v.GetString("storage_listen"),
		StorageURL:         v.GetString("storage_url"),
		StorageKey:         v.GetString("storage_key"),
		GCSProject:         v.GetString("gcs_project"),
		GCSBucketPrefix:    v.GetString("gcs_bucket_prefix"),
		GCSCredentialsFile: v.GetString("gcs_credentials_file"),
		ArtifactDir:        v.GetString("artifact_dir"),
		PoolID:             v.GetString("pool_id"),
		PoolVMSize:         v.GetString("pool_vm_size"),
		TaskCommand:        v.GetString("task_command"),
		LogLevel:           v.GetString("log_level"),
		ScenariosFile:      v.GetString("scenarios_config"),
	}

	if cfg.BatchAccountName == "" || cfg.BatchAccountKey == "" {
		return nil, errors.New("BATCHBOY_BATCH_ACCOUNT_NAME and BATCHBOY_BATCH_ACCOUNT_KEY are required")
	}

	switch cfg.StorageBackend {
	case "local":
		if cfg.StorageKey == "" {
			return nil, errors.New("BATCHBOY_STORAGE_KEY is required for the local storage backend")
		}
	case "gcs":
		if cfg.GCSProject == "" {
			return nil, errors.New("BATCHBOY_GCS_PROJECT is required for the gcs storage backend")
		}
	default:
		return nil, fmt.Errorf("invalid BATCHBOY_STORAGE_BACKEND %q: want local or gcs", cfg.StorageBackend)
	}

	var err error
	if cfg.PoolNodes, err = intValue(v, prefix, "pool_nodes"); err != nil {
		return nil, err
	}
	if cfg.PoolNodes <= 0 {
		return nil, fmt.Errorf("invalid BATCHBOY_POOL_NODES: must be positive")
	}
	if cfg.JobTimeout, err = durationValue(v, prefix, "job_timeout"); err != nil {
		return nil, err
	}
	if cfg.ReferenceTTL, err = durationValue(v, prefix, "reference_ttl"); err != nil {
		return nil, err
	}
	// References are fetched when the task starts, which can be as late as
	// the job timeout.
	if cfg.ReferenceTTL <= cfg.JobTimeout {
		return nil, fmt.Errorf("BATCHBOY_REFERENCE_TTL (%s) must exceed BATCHBOY_JOB_TIMEOUT (%s)", cfg.ReferenceTTL, cfg.JobTimeout)
	}

	scenarios, err := loadScenarios(cfg.ScenariosFile)
	if err != nil {
		return nil, fmt.Errorf("loading scenarios config: %w", err)
	}
	cfg.Scenarios = scenarios

	return cfg, nil
}

func loadScenarios(path string) ([]Scenario, error) {
	var cfg ScenariosConfig
	found, err := readYAML(path, &cfg)
	if err != nil {
		return nil, err
	}
	if !found || len(cfg.Scenarios) == 0 {
		return DefaultScenarios(), nil
	}
	for i, s := range cfg.Scenarios {
		if s.Name == "" {
			return nil, fmt.Errorf("%s: scenario %d has no name", path, i)
		}
		if len(s.Files) == 0 {
			return nil, fmt.Errorf("%s: scenario %q has no files", path, s.Name)
		}
	}
	return cfg.Scenarios, nil
}
