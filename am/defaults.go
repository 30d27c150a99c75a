package am

import (
	"github.com/spf13/viper"
)

// SetDefaults configures default values for all configuration options
func SetDefaults(v *viper.Viper) {
	// Database defaults
	v.SetDefault("database.path", "veridict.db")

	// Server defaults
	v.SetDefault("server.allowed_origins", []string{"http://localhost:8710"})
	v.SetDefault("server.submit_rate_per_minute", 60)
	v.SetDefault("server.submit_burst", 10)

	// Pipeline defaults
	v.SetDefault("pipeline.tick_interval_seconds", 1)
	v.SetDefault("pipeline.global_deadline_seconds", 0) // no global deadline
	v.SetDefault("pipeline.retention_days", 30)

	// Heartbeat monitor defaults
	v.SetDefault("monitor.sweep_interval_seconds", 5)
	v.SetDefault("monitor.evidence_grace_seconds", 30)
}

// DefaultStages returns the stage sequence used when the config file defines
// none. A single review gate with a modest quorum keeps a bare install usable.
func DefaultStages() []StageConfig {
	return []StageConfig{
		{
			Name:                  "review",
			TargetWorkers:         6,
			MinPartial:            4,
			PartialTimeoutSeconds: 300,
			MinimumAbsolute:       2,
			HardTimeoutSeconds:    900,
			MaxDwellRetries:       3,
			MaxDwellSeconds:       3600,
			MaxWorkers:            8,
			SlotTTLSeconds:        30,
		},
	}
}
