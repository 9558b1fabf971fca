package config

import (
	"os"
	"path/filepath"
	"strings"

	"github.com/BurntSushi/toml"
)

type Config struct {
	DataDir        string            `toml:"DataDir"`
	MetricsAddress string            `toml:"MetricsAddress"`
	IndexerPath    string            `toml:"IndexerPath"`
	Environment    string            `toml:"Environment"`
	PausedModules  []string          `toml:"PausedModules"`
	Allocations    map[string]string `toml:"Allocations"`
	ReputationFile string            `toml:"ReputationFile"`
	Logging        Logging           `toml:"logging"`
	Reputation     Reputation        `toml:"reputation"`
	Telemetry      Telemetry         `toml:"telemetry"`
}

// Load loads the configuration from the given path, writing a default file
// first when none exists.
func Load(path string) (*Config, error) {
	cfg := &Config{}
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return createDefault(path)
	}

	if _, err := toml.DecodeFile(path, cfg); err != nil {
		return nil, err
	}
	cfg.normalize()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (cfg *Config) normalize() {
	cfg.DataDir = strings.TrimSpace(cfg.DataDir)
	if cfg.DataDir == "" {
		cfg.DataDir = "./jobledger-data"
	}
	cfg.MetricsAddress = strings.TrimSpace(cfg.MetricsAddress)
	if cfg.MetricsAddress == "" {
		cfg.MetricsAddress = ":9102"
	}
	cfg.Environment = strings.TrimSpace(cfg.Environment)
	if cfg.Environment == "" {
		cfg.Environment = "local"
	}
	cfg.IndexerPath = strings.TrimSpace(cfg.IndexerPath)
	if cfg.PausedModules == nil {
		cfg.PausedModules = []string{}
	}
	for i, module := range cfg.PausedModules {
		cfg.PausedModules[i] = strings.ToLower(strings.TrimSpace(module))
	}
	if cfg.Allocations == nil {
		cfg.Allocations = map[string]string{}
	}
	if strings.TrimSpace(cfg.Telemetry.ServiceName) == "" {
		cfg.Telemetry.ServiceName = "marketd"
	}
}

// createDefault creates and saves a default configuration file.
func createDefault(path string) (*Config, error) {
	cfg := &Config{
		DataDir:        "./jobledger-data",
		MetricsAddress: ":9102",
		IndexerPath:    "./jobledger-data/indexer.db",
		Environment:    "local",
		PausedModules:  []string{},
		Allocations:    map[string]string{},
		Logging:        Logging{Level: "info"},
		Telemetry:      Telemetry{ServiceName: "marketd", Endpoint: "localhost:4318", Insecure: true},
	}
	if err := persist(path, cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

func persist(path string, cfg *Config) error {
	dir := filepath.Dir(path)
	if dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return err
		}
	}
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_TRUNC|os.O_CREATE, 0o644)
	if err != nil {
		return err
	}
	defer f.Close()

	return toml.NewEncoder(f).Encode(cfg)
}
