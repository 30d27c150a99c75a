package pipeline

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
)

// DefaultTickInterval is how often the pipeline evaluates active claims
// when no interval is configured.
const DefaultTickInterval = 1 * time.Second

// Ticker runs the coordinator's evaluation pass on a fixed interval.
type Ticker struct {
	coordinator *Coordinator
	interval    time.Duration
	logger      *zap.SugaredLogger

	cancel  context.CancelFunc
	wg      sync.WaitGroup
	started bool
	mu      sync.Mutex
}

// NewTicker creates a ticker driving the given coordinator.
func NewTicker(coordinator *Coordinator, interval time.Duration, logger *zap.SugaredLogger) *Ticker {
	if interval <= 0 {
		interval = DefaultTickInterval
	}
	return &Ticker{
		coordinator: coordinator,
		interval:    interval,
		logger:      logger.Named("ticker"),
	}
}

// Start begins the evaluation loop. Safe to call once; subsequent calls are
// no-ops until Stop.
func (t *Ticker) Start(ctx context.Context) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.started {
		return
	}
	t.started = true

	ctx, t.cancel = context.WithCancel(ctx)
	t.wg.Add(1)
	go t.run(ctx)
	t.logger.Infow("Pipeline ticker started", "interval", t.interval)
}

// Stop halts the loop and waits for any in-progress pass to finish.
func (t *Ticker) Stop() {
	t.mu.Lock()
	if !t.started {
		t.mu.Unlock()
		return
	}
	t.started = false
	cancel := t.cancel
	t.mu.Unlock()

	cancel()
	t.wg.Wait()
	t.logger.Info("Pipeline ticker stopped")
}

func (t *Ticker) run(ctx context.Context) {
	defer t.wg.Done()

	ticker := time.NewTicker(t.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := t.coordinator.Tick(ctx); err != nil {
				t.logger.Errorw("Evaluation pass failed", "error", err)
			}
		}
	}
}
