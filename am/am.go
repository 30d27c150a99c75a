package am

import "time"

// Config represents the core Veridict configuration
type Config struct {
	Database DatabaseConfig `mapstructure:"database"`
	Server   ServerConfig   `mapstructure:"server"`
	Pipeline PipelineConfig `mapstructure:"pipeline"`
	Monitor  MonitorConfig  `mapstructure:"monitor"`
	Stages   []StageConfig  `mapstructure:"stages"`
}

// DatabaseConfig configures the SQLite database
type DatabaseConfig struct {
	Path string `mapstructure:"path"`
}

// ServerConfig configures the Veridict HTTP server
type ServerConfig struct {
	Port           *int     `mapstructure:"port"` // nil = default 8710, 0 is invalid (omit for default)
	AllowedOrigins []string `mapstructure:"allowed_origins"`

	// Submission rate limiting (per client IP)
	SubmitRatePerMinute int `mapstructure:"submit_rate_per_minute"` // default: 60
	SubmitBurst         int `mapstructure:"submit_burst"`           // default: 10
}

// DefaultServerPort is used when server.port is omitted.
const DefaultServerPort = 8710

// PipelineConfig configures the evaluation loop
type PipelineConfig struct {
	TickIntervalSeconds   int `mapstructure:"tick_interval_seconds"`   // how often in-flight claims are advanced (default: 1)
	GlobalDeadlineSeconds int `mapstructure:"global_deadline_seconds"` // 0 = no global deadline
	RetentionDays         int `mapstructure:"retention_days"`          // terminal claims kept this long before cleanup (default: 30)
}

// GlobalDeadline returns the overall per-claim deadline, or 0 when unset.
func (p PipelineConfig) GlobalDeadline() time.Duration {
	return time.Duration(p.GlobalDeadlineSeconds) * time.Second
}

// MonitorConfig configures the heartbeat monitor
type MonitorConfig struct {
	SweepIntervalSeconds int `mapstructure:"sweep_interval_seconds"` // stale-slot sweep cadence (default: 5)
	EvidenceGraceSeconds int `mapstructure:"evidence_grace_seconds"` // late-evidence grace after slot expiry (default: 30)
}

// EvidenceGrace returns the grace window for late-arriving evidence.
func (m MonitorConfig) EvidenceGrace() time.Duration {
	return time.Duration(m.EvidenceGraceSeconds) * time.Second
}

// StageConfig defines one ordered validation gate and its quorum policy.
// Stages are loaded once at startup and are immutable during a run.
type StageConfig struct {
	Name                  string `mapstructure:"name"`
	TargetWorkers         int    `mapstructure:"target_workers"`          // full-quorum responder target
	MinPartial            int    `mapstructure:"min_partial"`             // minimum responders for the partial tier
	PartialTimeoutSeconds int    `mapstructure:"partial_timeout_seconds"` // elapsed time before partial tier applies
	MinimumAbsolute       int    `mapstructure:"minimum_absolute"`        // minimum responders for the incomplete tier
	HardTimeoutSeconds    int    `mapstructure:"hard_timeout_seconds"`    // elapsed time after which progress is forced
	MaxDwellRetries       int    `mapstructure:"max_dwell_retries"`       // defer retries before no_quorum rejection
	MaxDwellSeconds       int    `mapstructure:"max_dwell_seconds"`       // total stage dwell before the claim is deferred
	MaxWorkers            int    `mapstructure:"max_workers"`             // concurrently-alive slot cap
	SlotTTLSeconds        int    `mapstructure:"slot_ttl_seconds"`        // heartbeat TTL for evaluation slots
}

// PartialTimeout returns the partial-tier timeout as a duration.
func (s StageConfig) PartialTimeout() time.Duration {
	return time.Duration(s.PartialTimeoutSeconds) * time.Second
}

// HardTimeout returns the hard timeout as a duration.
func (s StageConfig) HardTimeout() time.Duration {
	return time.Duration(s.HardTimeoutSeconds) * time.Second
}

// MaxDwell returns the maximum stage dwell time as a duration.
func (s StageConfig) MaxDwell() time.Duration {
	return time.Duration(s.MaxDwellSeconds) * time.Second
}

// SlotTTL returns the slot heartbeat TTL as a duration.
func (s StageConfig) SlotTTL() time.Duration {
	return time.Duration(s.SlotTTLSeconds) * time.Second
}
