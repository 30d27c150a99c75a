package am

import "github.com/veridict/veridict/errors"

// Validate checks that the configuration is valid
func (c *Config) Validate() error {
	// Server port: 0 is invalid (omit for default), negative is invalid
	if c.Server.Port != nil && *c.Server.Port == 0 {
		return errors.Newf("server.port cannot be 0 (omit for default port %d)", DefaultServerPort)
	}
	if c.Server.Port != nil && *c.Server.Port < 0 {
		return errors.Newf("server.port must be positive, got %d", *c.Server.Port)
	}

	if c.Server.SubmitRatePerMinute < 0 {
		return errors.Newf("server.submit_rate_per_minute must be >= 0, got %d", c.Server.SubmitRatePerMinute)
	}

	// Tick interval: 0 = no automatic ticking (external scheduler), negative = invalid
	if c.Pipeline.TickIntervalSeconds < 0 {
		return errors.Newf("pipeline.tick_interval_seconds must be >= 0, got %d", c.Pipeline.TickIntervalSeconds)
	}
	if c.Pipeline.GlobalDeadlineSeconds < 0 {
		return errors.Newf("pipeline.global_deadline_seconds must be >= 0, got %d", c.Pipeline.GlobalDeadlineSeconds)
	}

	if c.Monitor.SweepIntervalSeconds <= 0 {
		return errors.Newf("monitor.sweep_interval_seconds must be > 0, got %d", c.Monitor.SweepIntervalSeconds)
	}
	if c.Monitor.EvidenceGraceSeconds < 0 {
		return errors.Newf("monitor.evidence_grace_seconds must be >= 0, got %d", c.Monitor.EvidenceGraceSeconds)
	}

	if len(c.Stages) == 0 {
		c.Stages = DefaultStages()
	}

	seen := make(map[string]bool, len(c.Stages))
	for i, s := range c.Stages {
		if s.Name == "" {
			return errors.Newf("stages[%d].name cannot be empty", i)
		}
		if seen[s.Name] {
			return errors.Newf("duplicate stage name %q", s.Name)
		}
		seen[s.Name] = true

		if s.TargetWorkers <= 0 {
			return errors.Newf("stage %q: target_workers must be > 0, got %d", s.Name, s.TargetWorkers)
		}
		if s.MinPartial <= 0 || s.MinPartial > s.TargetWorkers {
			return errors.Newf("stage %q: min_partial must be in 1..target_workers, got %d", s.Name, s.MinPartial)
		}
		if s.MinimumAbsolute <= 0 || s.MinimumAbsolute > s.MinPartial {
			return errors.Newf("stage %q: minimum_absolute must be in 1..min_partial, got %d", s.Name, s.MinimumAbsolute)
		}
		if s.PartialTimeoutSeconds <= 0 {
			return errors.Newf("stage %q: partial_timeout_seconds must be > 0, got %d", s.Name, s.PartialTimeoutSeconds)
		}
		if s.HardTimeoutSeconds <= s.PartialTimeoutSeconds {
			return errors.Newf("stage %q: hard_timeout_seconds must exceed partial_timeout_seconds (%d), got %d",
				s.Name, s.PartialTimeoutSeconds, s.HardTimeoutSeconds)
		}
		if s.MaxDwellRetries < 0 {
			return errors.Newf("stage %q: max_dwell_retries must be >= 0, got %d", s.Name, s.MaxDwellRetries)
		}
		if s.MaxDwellSeconds <= 0 {
			return errors.Newf("stage %q: max_dwell_seconds must be > 0, got %d", s.Name, s.MaxDwellSeconds)
		}
		if s.MaxWorkers <= 0 {
			return errors.Newf("stage %q: max_workers must be > 0, got %d", s.Name, s.MaxWorkers)
		}
		if s.SlotTTLSeconds <= 0 {
			return errors.Newf("stage %q: slot_ttl_seconds must be > 0, got %d", s.Name, s.SlotTTLSeconds)
		}
	}

	return nil
}
