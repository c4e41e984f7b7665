package config

import (
	"fmt"
	"strings"
)

// validate checks config invariants that defaults cannot repair.
func validate(cfg *Config) error {
	var errs []string

	if cfg.Service.SyncBudget >= cfg.Service.RequestTimeout {
		errs = append(errs, "service.sync_budget must be shorter than service.request_timeout")
	}

	switch strings.ToLower(cfg.Service.LogFormat) {
	case "json", "text":
	default:
		errs = append(errs, fmt.Sprintf("service.log_format %q is not one of json, text", cfg.Service.LogFormat))
	}

	switch strings.ToLower(cfg.Service.ApprovalMode) {
	case "deny", "allow":
	default:
		errs = append(errs, fmt.Sprintf("service.approval_mode %q is not one of deny, allow", cfg.Service.ApprovalMode))
	}

	if len(cfg.Engine.Command) == 0 {
		errs = append(errs, "engine.command is required (path to the signer engine binary)")
	}
	if cfg.Engine.HealthTimeout >= cfg.Engine.StartTimeout {
		errs = append(errs, "engine.health_timeout must be shorter than engine.start_timeout")
	}

	if cfg.Queue.NormalReleaseEvery >= cfg.Queue.LowReleaseEvery {
		errs = append(errs, "queue.normal_release_every must be shorter than queue.low_release_every")
	}
	if cfg.Queue.LowReleaseThreshold > cfg.Queue.Capacity {
		errs = append(errs, "queue.low_release_threshold cannot exceed queue.capacity")
	}

	if cfg.API.Enabled && cfg.API.Auth.APIKey == "" {
		errs = append(errs, "api.auth.api_key is required when the API is enabled")
	}

	if len(errs) > 0 {
		return fmt.Errorf("%s", strings.Join(errs, "; "))
	}
	return nil
}
