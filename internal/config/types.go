package config

import "time"

// Config represents the complete iglood configuration.
type Config struct {
	Service ServiceConfig `yaml:"service"`
	Store   StoreConfig   `yaml:"store"`
	Engine  EngineConfig  `yaml:"engine"`
	Queue   QueueConfig   `yaml:"queue"`
	API     APIConfig     `yaml:"api,omitempty"`
}

// ServiceConfig defines core router settings.
type ServiceConfig struct {
	Name             string        `yaml:"name"`
	LogLevel         string        `yaml:"log_level"`
	LogFormat        string        `yaml:"log_format"`
	RequestTimeout   time.Duration `yaml:"request_timeout"`
	DedupeWindow     time.Duration `yaml:"dedupe_window"`
	SyncBudget       time.Duration `yaml:"sync_budget"`
	OutcomeRetention time.Duration `yaml:"outcome_retention"`
	// ApprovalMode decides undetermined permission checks: "deny" refuses
	// them, "allow" grants and persists a rule for the tuple.
	ApprovalMode string `yaml:"approval_mode"`
}

// StoreConfig defines the sqlite database location.
type StoreConfig struct {
	Path string `yaml:"path"`
}

// EngineConfig defines the execution engine process and its lifecycle timing.
type EngineConfig struct {
	Command         []string      `yaml:"command"`
	StartTimeout    time.Duration `yaml:"start_timeout"`
	HealthTimeout   time.Duration `yaml:"health_timeout"`
	ProbeTimeout    time.Duration `yaml:"probe_timeout"`
	InvokeTimeout   time.Duration `yaml:"invoke_timeout"`
	IdleUnloadAfter time.Duration `yaml:"idle_unload_after"`
}

// QueueConfig defines request queue bands and capacity.
type QueueConfig struct {
	Capacity            int           `yaml:"capacity"`
	NormalReleaseEvery  time.Duration `yaml:"normal_release_every"`
	LowReleaseEvery     time.Duration `yaml:"low_release_every"`
	LowReleaseThreshold int           `yaml:"low_release_threshold"`
}

// APIConfig defines HTTP API server settings.
type APIConfig struct {
	Enabled bool          `yaml:"enabled"`
	Listen  string        `yaml:"listen"`
	Auth    APIAuthConfig `yaml:"auth"`
}

// APIAuthConfig defines API authentication settings.
type APIAuthConfig struct {
	APIKey string `yaml:"api_key"`
}

// Defaults returns a Config with the product-tuned defaults. The suppression
// window and idle-unload values are tuning knobs, not contracts; deployments
// override them in config.yaml.
func Defaults() *Config {
	return &Config{
		Service: ServiceConfig{
			Name:             "iglood",
			LogLevel:         "info",
			LogFormat:        "json",
			RequestTimeout:   30 * time.Second,
			DedupeWindow:     5 * time.Second,
			SyncBudget:       750 * time.Millisecond,
			OutcomeRetention: 30 * 24 * time.Hour,
			ApprovalMode:     "deny",
		},
		Store: StoreConfig{
			Path: "./data/iglood.db",
		},
		Engine: EngineConfig{
			StartTimeout:    30 * time.Second,
			HealthTimeout:   5 * time.Second,
			ProbeTimeout:    2 * time.Second,
			InvokeTimeout:   20 * time.Second,
			IdleUnloadAfter: 5 * time.Minute,
		},
		Queue: QueueConfig{
			Capacity:            1000,
			NormalReleaseEvery:  10 * time.Second,
			LowReleaseEvery:     60 * time.Second,
			LowReleaseThreshold: 50,
		},
		API: APIConfig{
			Enabled: false,
			Listen:  "127.0.0.1:8080",
		},
	}
}
