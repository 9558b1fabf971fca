package config

import (
	"fmt"
	"strings"
)

// KnownModules lists the module names PausedModules may reference.
var KnownModules = map[string]struct{}{
	"escrow":     {},
	"reputation": {},
	"registry":   {},
	"jobs":       {},
}

// Validate checks the configuration for values the node cannot start with.
func (cfg *Config) Validate() error {
	if cfg == nil {
		return fmt.Errorf("configuration is missing")
	}
	for _, module := range cfg.PausedModules {
		if _, ok := KnownModules[module]; !ok {
			return fmt.Errorf("PausedModules: unknown module %q", module)
		}
	}
	if _, err := cfg.ParseAllocations(); err != nil {
		return err
	}
	if _, err := cfg.ReputationParams(); err != nil {
		return err
	}
	if r := cfg.Telemetry.SampleRatio; r < 0 || r > 1 {
		return fmt.Errorf("telemetry: SampleRatio %v outside [0,1]", r)
	}
	switch strings.ToLower(strings.TrimSpace(cfg.Logging.Level)) {
	case "", "debug", "info", "warn", "warning", "error":
	default:
		return fmt.Errorf("logging: unknown level %q", cfg.Logging.Level)
	}
	return nil
}
