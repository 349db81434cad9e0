package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
)

func setDaemonAccount(t *testing.T) {
	t.Helper()
	t.Setenv("BATCHD_ACCOUNT_NAME", "devaccount")
	t.Setenv("BATCHD_ACCOUNT_KEY", "devkey")
	t.Setenv("BATCHD_POOLS_CONFIG", filepath.Join(t.TempDir(), "missing.yaml"))
}

func TestLoad_Defaults(t *testing.T) {
	setDaemonAccount(t)

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Port != "8124" {
		t.Errorf("Port = %q, want 8124", cfg.Port)
	}
	if cfg.MetricsPort != "9124" {
		t.Errorf("MetricsPort = %q, want 9124", cfg.MetricsPort)
	}
	if cfg.Executor != "subprocess" {
		t.Errorf("Executor = %q, want subprocess", cfg.Executor)
	}
	if cfg.RateLimit != 0 || cfg.RateBurst != 10 {
		t.Errorf("rate = %v/%d, want 0/10", cfg.RateLimit, cfg.RateBurst)
	}
	if len(cfg.Pools.Pools) != 0 {
		t.Errorf("Pools = %v, want none", cfg.Pools.Pools)
	}
}

func TestLoad_Overrides(t *testing.T) {
	setDaemonAccount(t)
	t.Setenv("BATCHD_PORT", "9000")
	t.Setenv("BATCHD_METRICS_PORT", "off")
	t.Setenv("BATCHD_EXECUTOR", "docker")
	t.Setenv("BATCHD_RATE_LIMIT", "2.5")
	t.Setenv("BATCHD_RATE_BURST", "4")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Port != "9000" {
		t.Errorf("Port = %q, want 9000", cfg.Port)
	}
	if cfg.MetricsPort != "" {
		t.Errorf("MetricsPort = %q, want disabled", cfg.MetricsPort)
	}
	if cfg.Executor != "docker" {
		t.Errorf("Executor = %q, want docker", cfg.Executor)
	}
	if cfg.RateLimit != 2.5 || cfg.RateBurst != 4 {
		t.Errorf("rate = %v/%d, want 2.5/4", cfg.RateLimit, cfg.RateBurst)
	}
}

func TestLoad_RelativeWorkDir(t *testing.T) {
	setDaemonAccount(t)
	dir := t.TempDir()
	t.Chdir(dir)
	t.Setenv("BATCHD_WORK_DIR", "work")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	wd, err := os.Getwd()
	if err != nil {
		t.Fatal(err)
	}
	if want := filepath.Join(wd, "work"); cfg.WorkDir != want {
		t.Errorf("WorkDir = %q, want %q", cfg.WorkDir, want)
	}
}

func TestLoad_Errors(t *testing.T) {
	tests := []struct {
		name string
		env  map[string]string
		want string
	}{
		{"missing key", map[string]string{"BATCHD_ACCOUNT_KEY": ""}, "BATCHD_ACCOUNT_KEY"},
		{"bad executor", map[string]string{"BATCHD_EXECUTOR": "vm"}, "BATCHD_EXECUTOR"},
		{"bad rate", map[string]string{"BATCHD_RATE_LIMIT": "fast"}, "BATCHD_RATE_LIMIT"},
		{"bad burst", map[string]string{"BATCHD_RATE_BURST": "x"}, "BATCHD_RATE_BURST"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			setDaemonAccount(t)
			for k, v := range tt.env {
				t.Setenv(k, v)
			}
			_, err := Load()
			if err == nil {
				t.Fatal("Load() error = nil, want error")
			}
			if !strings.Contains(err.Error(), tt.want) {
				t.Errorf("Load() error = %v, want mention of %s", err, tt.want)
			}
		})
	}
}

func TestLoad_PoolsFile(t *testing.T) {
	setDaemonAccount(t)
	path := filepath.Join(t.TempDir(), "pools.yaml")
	content := `pools:
  - id: pool1
    vmSize: small
  - id: gpu
    vmSize: large
    targetNodes: 3
`
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
	t.Setenv("BATCHD_POOLS_CONFIG", path)

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	want := []PoolDefinition{
		{ID: "pool1", VMSize: "small", TargetNodes: 1},
		{ID: "gpu", VMSize: "large", TargetNodes: 3},
	}
	if diff := cmp.Diff(want, cfg.Pools.Pools); diff != "" {
		t.Errorf("Pools mismatch (-want +got):\n%s", diff)
	}
}

func TestLoad_PoolsFileInvalid(t *testing.T) {
	setDaemonAccount(t)
	path := filepath.Join(t.TempDir(), "pools.yaml")
	if err := os.WriteFile(path, []byte("pools:\n  - vmSize: small\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	t.Setenv("BATCHD_POOLS_CONFIG", path)

	if _, err := Load(); err == nil {
		t.Fatal("Load() error = nil, want missing id error")
	}
}

func setHarnessAccount(t *testing.T) {
	t.Helper()
	t.Setenv("BATCHBOY_BATCH_ACCOUNT_NAME", "devaccount")
	t.Setenv("BATCHBOY_BATCH_ACCOUNT_KEY", "devkey")
	t.Setenv("BATCHBOY_STORAGE_KEY", "blobkey")
	t.Setenv("BATCHBOY_SCENARIOS_CONFIG", filepath.Join(t.TempDir(), "missing.yaml"))
}

func TestLoadHarness_Defaults(t *testing.T) {
	setHarnessAccount(t)

	cfg, err := LoadHarness()
	if err != nil {
		t.Fatalf("LoadHarness() error = %v", err)
	}
	if cfg.BatchEndpoint != "localhost:8124" {
		t.Errorf("BatchEndpoint = %q", cfg.BatchEndpoint)
	}
	if cfg.StorageBackend != "local" {
		t.Errorf("StorageBackend = %q, want local", cfg.StorageBackend)
	}
	if cfg.PoolID != "pool1" || cfg.PoolVMSize != "small" || cfg.PoolNodes != 1 {
		t.Errorf("pool = %s/%s/%d, want pool1/small/1", cfg.PoolID, cfg.PoolVMSize, cfg.PoolNodes)
	}
	if cfg.JobTimeout != 5*time.Minute {
		t.Errorf("JobTimeout = %v, want 5m", cfg.JobTimeout)
	}
	if cfg.ReferenceTTL != time.Hour {
		t.Errorf("ReferenceTTL = %v, want 1h", cfg.ReferenceTTL)
	}
	if diff := cmp.Diff(DefaultScenarios(), cfg.Scenarios); diff != "" {
		t.Errorf("Scenarios mismatch (-want +got):\n%s", diff)
	}
}

func TestLoadHarness_Errors(t *testing.T) {
	tests := []struct {
		name string
		env  map[string]string
		want string
	}{
		{"missing account", map[string]string{"BATCHBOY_BATCH_ACCOUNT_NAME": ""}, "BATCHBOY_BATCH_ACCOUNT_NAME"},
		{"missing storage key", map[string]string{"BATCHBOY_STORAGE_KEY": ""}, "BATCHBOY_STORAGE_KEY"},
		{"gcs without project", map[string]string{"BATCHBOY_STORAGE_BACKEND": "gcs"}, "BATCHBOY_GCS_PROJECT"},
		{"unknown backend", map[string]string{"BATCHBOY_STORAGE_BACKEND": "s3"}, "BATCHBOY_STORAGE_BACKEND"},
		{"bad timeout", map[string]string{"BATCHBOY_JOB_TIMEOUT": "soon"}, "BATCHBOY_JOB_TIMEOUT"},
		{"zero nodes", map[string]string{"BATCHBOY_POOL_NODES": "0"}, "BATCHBOY_POOL_NODES"},
		{"ttl below timeout", map[string]string{"BATCHBOY_REFERENCE_TTL": "1m"}, "must exceed"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			setHarnessAccount(t)
			for k, v := range tt.env {
				t.Setenv(k, v)
			}
			_, err := LoadHarness()
			if err == nil {
				t.Fatal("LoadHarness() error = nil, want error")
			}
			if !strings.Contains(err.Error(), tt.want) {
				t.Errorf("LoadHarness() error = %v, want mention of %s", err, tt.want)
			}
		})
	}
}

func TestLoadHarness_ScenariosFile(t *testing.T) {
	setHarnessAccount(t)
	path := filepath.Join(t.TempDir(), "scenarios.yaml")
	content := `scenarios:
  - name: only-binary
    files: ["batchtask*"]
`
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
	t.Setenv("BATCHBOY_SCENARIOS_CONFIG", path)

	cfg, err := LoadHarness()
	if err != nil {
		t.Fatalf("LoadHarness() error = %v", err)
	}
	want := []Scenario{{Name: "only-binary", Files: []string{"batchtask*"}}}
	if diff := cmp.Diff(want, cfg.Scenarios); diff != "" {
		t.Errorf("Scenarios mismatch (-want +got):\n%s", diff)
	}
}

func TestLoadHarness_ScenarioWithoutFiles(t *testing.T) {
	setHarnessAccount(t)
	path := filepath.Join(t.TempDir(), "scenarios.yaml")
	if err := os.WriteFile(path, []byte("scenarios:\n  - name: empty\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	t.Setenv("BATCHBOY_SCENARIOS_CONFIG", path)

	if _, err := LoadHarness(); err == nil {
		t.Fatal("LoadHarness() error = nil, want error")
	}
}
