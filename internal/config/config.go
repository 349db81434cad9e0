// Package config loads batchd and batchboy settings from the environment and
// optional YAML files.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
)

// PoolDefinition is a pool the daemon creates at startup.
type PoolDefinition struct {
	ID          string `yaml:"id"`
	VMSize      string `yaml:"vmSize"`
	TargetNodes int    `yaml:"targetNodes"`
}

type PoolsConfig struct {
	Pools []PoolDefinition `yaml:"pools"`
}

// Config holds the batchd daemon settings.
type Config struct {
	Port        string
	MetricsPort string // empty disables the metrics listener
	Executor    string
	DockerImage string
	WorkDir     string
	LogLevel    string
	AccountName string
	AccountKey  string
	RateLimit   float64 // requests per second, 0 means unlimited
	RateBurst   int
	PoolsFile   string
	Pools       *PoolsConfig
}

// Load reads the daemon configuration from BATCHD_* environment variables.
func Load() (*Config, error) {
	v := newViper("BATCHD")
	v.SetDefault("port", "8124")
	v.SetDefault("metrics_port", "9124")
	v.SetDefault("executor", "subprocess")
	v.SetDefault("docker_image", "debian:bookworm-slim")
	v.SetDefault("work_dir", filepath.Join(os.TempDir(), "batchd"))
	v.SetDefault("log_level", "info")
	v.SetDefault("rate_limit", "0")
	v.SetDefault("rate_burst", "10")
	v.SetDefault("pools_config", "./pools.yaml")

	cfg := &Config{
		Port:        v.GetString("port"),
		MetricsPort: v.GetString("metrics_port"),
		Executor:    v.GetString("executor"),
		DockerImage: v.GetString("docker_image"),
		WorkDir:     v.GetString("work_dir"),
		LogLevel:    v.GetString("log_level"),
		AccountName: v.GetString("account_name"),
		AccountKey:  v.GetString("account_key"),
		PoolsFile:   v.GetString("pools_config"),
	}
	if strings.EqualFold(cfg.MetricsPort, "off") {
		cfg.MetricsPort = ""
	}

	workDir, err := filepath.Abs(cfg.WorkDir)
	if err != nil {
		return nil, fmt.Errorf("invalid BATCHD_WORK_DIR %q: %w", cfg.WorkDir, err)
	}
	cfg.WorkDir = workDir

	if cfg.AccountName == "" || cfg.AccountKey == "" {
		return nil, errors.New("BATCHD_ACCOUNT_NAME and BATCHD_ACCOUNT_KEY are required")
	}
	switch cfg.Executor {
	case "subprocess", "docker":
	default:
		return nil, fmt.Errorf("invalid BATCHD_EXECUTOR %q: want subprocess or docker", cfg.Executor)
	}

	rate, err := strconv.ParseFloat(v.GetString("rate_limit"), 64)
	if err != nil || rate < 0 {
		return nil, fmt.Errorf("invalid BATCHD_RATE_LIMIT %q", v.GetString("rate_limit"))
	}
	cfg.RateLimit = rate

	if cfg.RateBurst, err = intValue(v, "BATCHD", "rate_burst"); err != nil {
		return nil, err
	}

	pools, err := loadPoolsConfig(cfg.PoolsFile)
	if err != nil {
		return nil, fmt.Errorf("loading pools config: %w", err)
	}
	cfg.Pools = pools

	return cfg, nil
}

func loadPoolsConfig(path string) (*PoolsConfig, error) {
	var cfg PoolsConfig
	found, err := readYAML(path, &cfg)
	if err != nil || !found {
		return &cfg, err
	}
	for i, p := range cfg.Pools {
		if p.ID == "" {
			return nil, fmt.Errorf("%s: pool %d has no id", path, i)
		}
		if p.TargetNodes <= 0 {
			cfg.Pools[i].TargetNodes = 1
		}
	}
	return &cfg, nil
}

// readYAML decodes path into out. A missing file is not an error; found
// reports whether anything was read.
func readYAML(path string, out any) (found bool, err error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return false, nil
		}
		return false, fmt.Errorf("reading %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, out); err != nil {
		return false, fmt.Errorf("parsing %s: %w", path, err)
	}
	return true, nil
}

func newViper(prefix string) *viper.Viper {
	v := viper.New()
	v.SetEnvPrefix(prefix)
	v.AutomaticEnv()
	return v
}

func intValue(v *viper.Viper, prefix, key string) (int, error) {
	raw := v.GetString(key)
	n, err := strconv.Atoi(raw)
	if err != nil {
		return 0, fmt.Errorf("invalid %s_%s: %w", prefix, strings.ToUpper(key), err)
	}
	return n, nil
}

func durationValue(v *viper.Viper, prefix, key string) (time.Duration, error) {
	raw := v.GetString(key)
	d, err := time.ParseDuration(raw)
	if err != nil {
		return 0, fmt.Errorf("invalid %s_%s: %w", prefix, strings.ToUpper(key), err)
	}
	if d <= 0 {
		return 0, fmt.Errorf("invalid %s_%s: must be positive", prefix, strings.ToUpper(key))
	}
	return d, nil
}
