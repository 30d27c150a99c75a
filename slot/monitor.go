package slot

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
)

// Monitor periodically sweeps the registry for slots past their heartbeat
// deadline and reclaims them. This is the sole failure-detection mechanism:
// a crashed or hung worker is discovered only through deadline expiry, never
// through explicit failure signaling.
type Monitor struct {
	registry *Registry
	interval time.Duration
	ctx      context.Context
	cancel   context.CancelFunc
	wg       sync.WaitGroup
	logger   *zap.SugaredLogger

	mu        sync.Mutex
	lastSweep time.Time
	sweeps    int64
	reclaimed int64
}

// MonitorConfig contains configuration for the heartbeat monitor
type MonitorConfig struct {
	SweepInterval time.Duration // How often to scan for stale slots
}

// DefaultMonitorConfig returns sensible defaults
func DefaultMonitorConfig() MonitorConfig {
	return MonitorConfig{
		SweepInterval: 5 * time.Second,
	}
}

// NewMonitor creates a heartbeat monitor over the given registry.
func NewMonitor(registry *Registry, cfg MonitorConfig, logger *zap.SugaredLogger) *Monitor {
	return NewMonitorWithContext(context.Background(), registry, cfg, logger)
}

// NewMonitorWithContext creates a monitor with a parent context.
// Useful for tests and shutdown coordination.
func NewMonitorWithContext(ctx context.Context, registry *Registry, cfg MonitorConfig, logger *zap.SugaredLogger) *Monitor {
	monitorCtx, cancel := context.WithCancel(ctx)
	interval := cfg.SweepInterval
	if interval <= 0 {
		interval = DefaultMonitorConfig().SweepInterval
	}
	return &Monitor{
		registry: registry,
		interval: interval,
		ctx:      monitorCtx,
		cancel:   cancel,
		logger:   logger.Named("monitor"),
	}
}

// Start begins the sweep loop
func (m *Monitor) Start() {
	m.wg.Add(1)
	go m.run()
	m.logger.Infow("Heartbeat monitor started", "interval", m.interval)
}

// Stop gracefully stops the monitor
func (m *Monitor) Stop() {
	m.cancel()
	m.wg.Wait()
	m.logger.Infow("Heartbeat monitor stopped")
}

func (m *Monitor) run() {
	defer m.wg.Done()

	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	for {
		select {
		case <-m.ctx.Done():
			return
		case now := <-ticker.C:
			if err := m.Sweep(now.UTC()); err != nil {
				m.logger.Warnw("Sweep error", "error", err)
			}
		}
	}
}

// Sweep runs one reclaim pass. Exposed so tests and external schedulers can
// drive the monitor without the internal timer.
func (m *Monitor) Sweep(now time.Time) error {
	reclaimed, err := m.registry.SweepExpired(now)
	if err != nil {
		return err
	}

	m.mu.Lock()
	m.lastSweep = now
	m.sweeps++
	m.reclaimed += int64(reclaimed)
	m.mu.Unlock()

	if reclaimed > 0 {
		m.logger.Infow("Reclaimed stale slots", "count", reclaimed)
	}
	return nil
}

// Stats returns monitor statistics
func (m *Monitor) Stats() map[string]interface{} {
	m.mu.Lock()
	defer m.mu.Unlock()

	return map[string]interface{}{
		"last_sweep_at":   m.lastSweep,
		"sweeps":          m.sweeps,
		"slots_reclaimed": m.reclaimed,
	}
}
