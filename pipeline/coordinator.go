package pipeline

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/veridict/veridict/claim"
	"github.com/veridict/veridict/errors"
	"github.com/veridict/veridict/evidence"
	"github.com/veridict/veridict/slot"
)

// tickBatchSize caps how many claims one evaluation pass picks up. Oldest
// claims go first; anything past the cap waits for the next tick.
const tickBatchSize = 512

// Coordinator is the public surface of the pipeline. It owns claim intake,
// the periodic evaluation pass, operator interventions, and the transition
// event feed.
type Coordinator struct {
	store     *claim.Store
	registry  *slot.Registry
	collector *evidence.Collector
	machine   *Machine
	logger    *zap.SugaredLogger

	mu          sync.Mutex
	inflight    map[string]struct{}
	subscribers map[chan Transition]struct{}
}

// NewCoordinator wires the pipeline surface around an existing machine.
func NewCoordinator(store *claim.Store, registry *slot.Registry, collector *evidence.Collector,
	machine *Machine, logger *zap.SugaredLogger) *Coordinator {
	return &Coordinator{
		store:       store,
		registry:    registry,
		collector:   collector,
		machine:     machine,
		logger:      logger.Named("coordinator"),
		inflight:    make(map[string]struct{}),
		subscribers: make(map[chan Transition]struct{}),
	}
}

// Submit validates and persists a new claim at stage 0.
func (co *Coordinator) Submit(payload []byte, metadata map[string]string) (*claim.Claim, error) {
	c, err := claim.New(payload, metadata)
	if err != nil {
		return nil, err
	}
	if err := co.store.Put(c); err != nil {
		return nil, err
	}
	co.logger.Infow("Claim submitted", "claim_id", c.ID, "payload_bytes", len(payload))
	return c, nil
}

// StatusView is the full observable state of one claim.
type StatusView struct {
	Claim     *claim.Claim    `json:"claim"`
	StageName string          `json:"stage_name,omitempty"`
	Outcomes  []claim.Outcome `json:"outcomes"`
	LiveSlots []slot.Slot     `json:"live_slots"`
}

// Status returns a claim together with its outcome log and live slots.
func (co *Coordinator) Status(claimID string) (*StatusView, error) {
	c, err := co.store.Get(claimID)
	if err != nil {
		return nil, err
	}
	outcomes, err := co.store.GetOutcomes(claimID)
	if err != nil {
		return nil, err
	}
	live, err := co.registry.ListLive(claimID, c.Stage)
	if err != nil {
		return nil, err
	}

	view := &StatusView{Claim: c, Outcomes: outcomes, LiveSlots: live}
	if cfg, err := co.registry.StageConfig(c.Stage); err == nil {
		view.StageName = cfg.Name
	}
	return view, nil
}

// Tick runs one evaluation pass over all active claims. Claims are stepped
// in parallel with each other; steps of the same claim never overlap, by the
// in-flight set. Store outages abort the pass so the next tick retries.
func (co *Coordinator) Tick(ctx context.Context) error {
	active, err := co.store.ListActive(tickBatchSize)
	if err != nil {
		if errors.Is(err, errors.ErrStoreUnavailable) {
			co.logger.Warnw("Skipping evaluation pass, store unavailable", "error", err)
			return nil
		}
		return err
	}

	var wg sync.WaitGroup
	for _, c := range active {
		if !co.begin(c.ID) {
			continue
		}
		wg.Add(1)
		go func(claimID string) {
			defer wg.Done()
			defer co.end(claimID)

			tr, err := co.machine.Step(ctx, claimID)
			if err != nil {
				co.logger.Errorw("Claim step failed", "claim_id", claimID, "error", err)
				return
			}
			if tr != nil {
				co.publish(*tr)
			}
		}(c.ID)
	}
	wg.Wait()
	return nil
}

func (co *Coordinator) begin(claimID string) bool {
	co.mu.Lock()
	defer co.mu.Unlock()
	if _, busy := co.inflight[claimID]; busy {
		return false
	}
	co.inflight[claimID] = struct{}{}
	return true
}

func (co *Coordinator) end(claimID string) {
	co.mu.Lock()
	defer co.mu.Unlock()
	delete(co.inflight, claimID)
}

// Resubmit re-enters a deferred claim into its current stage with a fresh
// retry budget. The stage index is preserved so completed stages are not
// repeated.
func (co *Coordinator) Resubmit(claimID string) (*claim.Claim, error) {
	return co.reenter(claimID, "resubmitted", func(c *claim.Claim) error {
		if c.Status != claim.StatusDeferred {
			return errors.Newf("claim %s is %s, only deferred claims can be resubmitted", claimID, c.Status)
		}
		return nil
	})
}

// ReturnForRevision discards the current stage's evidence and restarts the
// stage for an active claim, e.g. after the claim payload was amended.
func (co *Coordinator) ReturnForRevision(claimID string) (*claim.Claim, error) {
	return co.reenter(claimID, "returned_for_revision", func(c *claim.Claim) error {
		if c.Status.Terminal() && c.Status != claim.StatusDeferred {
			return errors.Newf("claim %s is %s and cannot be revised", claimID, c.Status)
		}
		return nil
	})
}

func (co *Coordinator) reenter(claimID, decision string, check func(*claim.Claim) error) (*claim.Claim, error) {
	c, err := co.store.Get(claimID)
	if err != nil {
		return nil, err
	}
	if err := check(c); err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	stage := c.Stage

	if err := co.store.AppendStageOutcome(c.ID, stage, claim.Outcome{
		Stage:     stage,
		Decision:  decision,
		CreatedAt: now,
	}); err != nil {
		return nil, err
	}

	c.ReenterStage(now)
	if err := co.store.Update(c); err != nil {
		return nil, err
	}

	if err := co.registry.ReleaseStage(c.ID, stage); err != nil {
		co.logger.Warnw("Failed to release stage slots", "claim_id", c.ID, "stage", stage, "error", err)
	}
	if err := co.collector.ResetStage(c.ID, stage); err != nil {
		co.logger.Warnw("Failed to reset stage evidence", "claim_id", c.ID, "stage", stage, "error", err)
	}

	co.logger.Infow("Claim re-entered stage", "claim_id", c.ID, "stage", stage, "decision", decision)
	return c, nil
}

// Stats reports claim counts by status.
func (co *Coordinator) Stats() (map[claim.Status]int, error) {
	return co.store.CountsByStatus()
}

// Subscribe registers a buffered channel for transition events. Slow
// consumers drop events rather than stall the pipeline.
func (co *Coordinator) Subscribe() chan Transition {
	ch := make(chan Transition, 64)
	co.mu.Lock()
	co.subscribers[ch] = struct{}{}
	co.mu.Unlock()
	return ch
}

// Unsubscribe removes and closes a channel returned by Subscribe.
func (co *Coordinator) Unsubscribe(ch chan Transition) {
	co.mu.Lock()
	_, ok := co.subscribers[ch]
	delete(co.subscribers, ch)
	co.mu.Unlock()
	if ok {
		close(ch)
	}
}

func (co *Coordinator) publish(tr Transition) {
	co.mu.Lock()
	defer co.mu.Unlock()
	for ch := range co.subscribers {
		select {
		case ch <- tr:
		default:
		}
	}
}
