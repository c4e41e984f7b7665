package config

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"

	"gopkg.in/yaml.v3"
)

var envVarPattern = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)\}`)

// Load reads and parses configuration from a file. Missing fields keep their
// defaults; ${VAR} references are expanded from the environment before parsing.
func Load(configPath string) (*Config, error) {
	absPath, err := filepath.Abs(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve config path %q: %w", configPath, err)
	}

	data, err := os.ReadFile(absPath)
	if err != nil {
		return nil, fmt.Errorf("config file not found: %s\n"+
			"Hint: Check the path or run with --config flag", absPath)
	}

	data = expandEnvVars(data)

	cfg := Defaults()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config %s: %w", absPath, err)
	}

	applyDefaults(cfg)

	if err := validate(cfg); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// expandEnvVars replaces ${VAR} references with environment values. Unset
// variables expand to the empty string so validation catches them.
func expandEnvVars(data []byte) []byte {
	return envVarPattern.ReplaceAllFunc(data, func(match []byte) []byte {
		name := envVarPattern.FindSubmatch(match)[1]
		return []byte(os.Getenv(string(name)))
	})
}

// applyDefaults fills zero values that yaml parsing may have cleared.
func applyDefaults(cfg *Config) {
	def := Defaults()

	if cfg.Service.Name == "" {
		cfg.Service.Name = def.Service.Name
	}
	if cfg.Service.LogLevel == "" {
		cfg.Service.LogLevel = def.Service.LogLevel
	}
	if cfg.Service.LogFormat == "" {
		cfg.Service.LogFormat = def.Service.LogFormat
	}
	if cfg.Service.RequestTimeout <= 0 {
		cfg.Service.RequestTimeout = def.Service.RequestTimeout
	}
	if cfg.Service.DedupeWindow <= 0 {
		cfg.Service.DedupeWindow = def.Service.DedupeWindow
	}
	if cfg.Service.SyncBudget <= 0 {
		cfg.Service.SyncBudget = def.Service.SyncBudget
	}
	if cfg.Service.OutcomeRetention <= 0 {
		cfg.Service.OutcomeRetention = def.Service.OutcomeRetention
	}
	if cfg.Service.ApprovalMode == "" {
		cfg.Service.ApprovalMode = def.Service.ApprovalMode
	}
	if cfg.Store.Path == "" {
		cfg.Store.Path = def.Store.Path
	}
	if cfg.Engine.StartTimeout <= 0 {
		cfg.Engine.StartTimeout = def.Engine.StartTimeout
	}
	if cfg.Engine.HealthTimeout <= 0 {
		cfg.Engine.HealthTimeout = def.Engine.HealthTimeout
	}
	if cfg.Engine.ProbeTimeout <= 0 {
		cfg.Engine.ProbeTimeout = def.Engine.ProbeTimeout
	}
	if cfg.Engine.InvokeTimeout <= 0 {
		cfg.Engine.InvokeTimeout = def.Engine.InvokeTimeout
	}
	if cfg.Engine.IdleUnloadAfter <= 0 {
		cfg.Engine.IdleUnloadAfter = def.Engine.IdleUnloadAfter
	}
	if cfg.Queue.Capacity <= 0 {
		cfg.Queue.Capacity = def.Queue.Capacity
	}
	if cfg.Queue.NormalReleaseEvery <= 0 {
		cfg.Queue.NormalReleaseEvery = def.Queue.NormalReleaseEvery
	}
	if cfg.Queue.LowReleaseEvery <= 0 {
		cfg.Queue.LowReleaseEvery = def.Queue.LowReleaseEvery
	}
	if cfg.Queue.LowReleaseThreshold <= 0 {
		cfg.Queue.LowReleaseThreshold = def.Queue.LowReleaseThreshold
	}
	if cfg.API.Listen == "" {
		cfg.API.Listen = def.API.Listen
	}
}
