package pipeline

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/veridict/veridict/am"
	"github.com/veridict/veridict/claim"
	"github.com/veridict/veridict/consensus"
	"github.com/veridict/veridict/errors"
	"github.com/veridict/veridict/evidence"
	"github.com/veridict/veridict/slot"
)

// Reasons recorded in outcome log entries for forced transitions.
const (
	ReasonMaxDwell       = "max_dwell_exceeded"
	ReasonGlobalDeadline = "global_deadline_exceeded"
)

// conflictRetries bounds transparent retries on optimistic version conflicts
// within a single step; further conflicts surface to the next tick.
const conflictRetries = 3

// Transition describes one committed state change of a claim. Every
// transition has a matching immutable outcome record in the claim's log.
type Transition struct {
	ClaimID    string          `json:"claim_id"`
	Stage      int             `json:"stage"`
	StageName  string          `json:"stage_name"`
	Decision   string          `json:"decision"`
	Tier       string          `json:"tier,omitempty"`
	Reason     string          `json:"reason,omitempty"`
	FromStatus claim.Status    `json:"from_status"`
	ToStatus   claim.Status    `json:"to_status"`
	Responders int             `json:"responders"`
	Tally      consensus.Tally `json:"tally"`
	At         time.Time       `json:"at"`
}

// Machine drives a single claim through the ordered stage sequence. It owns
// no goroutines; the Coordinator decides when and how often to step each
// claim.
type Machine struct {
	store          *claim.Store
	registry       *slot.Registry
	collector      *evidence.Collector
	stages         []am.StageConfig
	policies       []consensus.Policy
	globalDeadline time.Duration
	logger         *zap.SugaredLogger
}

// NewMachine creates the stage state machine for the configured stages.
func NewMachine(store *claim.Store, registry *slot.Registry, collector *evidence.Collector,
	stages []am.StageConfig, globalDeadline time.Duration, logger *zap.SugaredLogger) *Machine {

	policies := make([]consensus.Policy, len(stages))
	for i, s := range stages {
		policies[i] = consensus.PolicyFromStage(s)
	}

	return &Machine{
		store:          store,
		registry:       registry,
		collector:      collector,
		stages:         stages,
		policies:       policies,
		globalDeadline: globalDeadline,
		logger:         logger.Named("pipeline"),
	}
}

// Step advances one claim by at most one transition. Returns nil when no
// transition occurred (decision pending or claim already terminal).
// Version conflicts from concurrent steps of the same claim are retried
// transparently; each retry re-reads the claim and recomputes consensus.
func (m *Machine) Step(ctx context.Context, claimID string) (*Transition, error) {
	var lastErr error
	for attempt := 0; attempt <= conflictRetries; attempt++ {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		default:
		}

		tr, err := m.step(claimID)
		if err == nil {
			return tr, nil
		}
		if !errors.IsConflict(err) {
			return nil, err
		}
		lastErr = err
	}
	return nil, errors.Wrapf(lastErr, "claim %s kept conflicting after %d attempts", claimID, conflictRetries)
}

func (m *Machine) step(claimID string) (*Transition, error) {
	c, err := m.store.Get(claimID)
	if err != nil {
		return nil, err
	}
	if c.Status.Terminal() {
		return nil, nil
	}

	now := time.Now().UTC()

	// Overall pipeline deadline overrides stage-level state
	if m.globalDeadline > 0 && now.Sub(c.CreatedAt) > m.globalDeadline {
		return m.park(c, claim.StatusDeferred, ReasonGlobalDeadline, consensus.Result{Elapsed: c.StageElapsed(now)}, now)
	}

	if c.Stage < 0 || c.Stage >= len(m.policies) {
		return nil, errors.AssertionFailedf("claim %s at stage %d outside configured range", c.ID, c.Stage)
	}
	cfg := m.stages[c.Stage]

	if c.Status == claim.StatusPending {
		c.BeginReview()
		if err := m.store.Update(c); err != nil {
			return nil, err
		}
	}

	// Dwell budget covers the whole stage, across defer retries
	if c.StageDwell(now) > cfg.MaxDwell() {
		return m.park(c, claim.StatusDeferred, ReasonMaxDwell, consensus.Result{Elapsed: c.StageElapsed(now)}, now)
	}

	evs, err := m.collector.Get(c.ID, c.Stage)
	if err != nil {
		return nil, err
	}

	res := consensus.Evaluate(m.policies[c.Stage], evs, c.StageElapsed(now), c.RetryCount)

	switch res.Decision {
	case consensus.DecisionPending:
		return nil, nil

	case consensus.DecisionAdvance:
		return m.advance(c, cfg, res, now)

	case consensus.DecisionReject:
		return m.park(c, claim.StatusRejected, res.Reason, res, now)

	case consensus.DecisionDefer:
		return m.deferStage(c, cfg, res, now)

	default:
		return nil, errors.AssertionFailedf("unknown consensus decision %q", res.Decision)
	}
}

// advance moves the claim forward one stage (or to approved past the last
// stage), resetting the completed stage's working set. The tally survives
// in the outcome log.
func (m *Machine) advance(c *claim.Claim, cfg am.StageConfig, res consensus.Result, now time.Time) (*Transition, error) {
	fromStatus := c.Status
	stage := c.Stage

	if err := m.appendOutcome(c.ID, stage, res, "", now); err != nil {
		return nil, err
	}

	if stage+1 >= len(m.stages) {
		c.Approve()
	} else {
		c.AdvanceStage(now)
		c.Status = claim.StatusInReview
	}
	if err := m.store.Update(c); err != nil {
		return nil, err
	}

	// Working-set reset happens after the claim commit: a crash in between
	// leaves stale rows that the sweep and cleanup paths tolerate.
	if err := m.registry.ReleaseStage(c.ID, stage); err != nil {
		m.logger.Warnw("Failed to release stage slots", "claim_id", c.ID, "stage", stage, "error", err)
	}
	if err := m.collector.ResetStage(c.ID, stage); err != nil {
		m.logger.Warnw("Failed to reset stage evidence", "claim_id", c.ID, "stage", stage, "error", err)
	}

	tr := m.transition(c, stage, cfg.Name, res, "", fromStatus, now)
	m.logger.Infow("Claim advanced",
		"claim_id", c.ID,
		"stage", cfg.Name,
		"tier", res.Tier,
		"responders", res.Responders,
		"to_status", c.Status)
	return tr, nil
}

// park moves the claim to a terminal-ish state (rejected or deferred).
func (m *Machine) park(c *claim.Claim, to claim.Status, reason string, res consensus.Result, now time.Time) (*Transition, error) {
	fromStatus := c.Status
	stage := c.Stage
	stageName := ""
	if stage >= 0 && stage < len(m.stages) {
		stageName = m.stages[stage].Name
	}

	decision := string(consensus.DecisionReject)
	if to == claim.StatusDeferred {
		decision = "defer"
	}
	if err := m.appendOutcomeRaw(c.ID, stage, decision, string(res.Tier), reason, res, now); err != nil {
		return nil, err
	}

	switch to {
	case claim.StatusRejected:
		c.Reject()
	case claim.StatusDeferred:
		c.Defer()
	default:
		return nil, errors.AssertionFailedf("park to non-terminal status %q", to)
	}
	if err := m.store.Update(c); err != nil {
		return nil, err
	}

	if err := m.registry.ReleaseStage(c.ID, stage); err != nil {
		m.logger.Warnw("Failed to release stage slots", "claim_id", c.ID, "stage", stage, "error", err)
	}

	tr := &Transition{
		ClaimID:    c.ID,
		Stage:      stage,
		StageName:  stageName,
		Decision:   decision,
		Tier:       string(res.Tier),
		Reason:     reason,
		FromStatus: fromStatus,
		ToStatus:   c.Status,
		Responders: res.Responders,
		Tally:      res.Tally,
		At:         now,
	}
	m.logger.Infow("Claim parked",
		"claim_id", c.ID,
		"stage", stageName,
		"to_status", c.Status,
		"reason", reason)
	return tr, nil
}

// deferStage keeps the claim in its stage, restarts the stage clock, and
// burns one retry from the dwell budget.
func (m *Machine) deferStage(c *claim.Claim, cfg am.StageConfig, res consensus.Result, now time.Time) (*Transition, error) {
	fromStatus := c.Status
	stage := c.Stage

	if err := m.appendOutcome(c.ID, stage, res, "", now); err != nil {
		return nil, err
	}

	c.RestartStageClock(now)
	if err := m.store.Update(c); err != nil {
		return nil, err
	}

	tr := m.transition(c, stage, cfg.Name, res, "", fromStatus, now)
	m.logger.Infow("Claim deferred for another round",
		"claim_id", c.ID,
		"stage", cfg.Name,
		"responders", res.Responders,
		"retry", c.RetryCount)
	return tr, nil
}

func (m *Machine) appendOutcome(claimID string, stage int, res consensus.Result, reason string, now time.Time) error {
	return m.appendOutcomeRaw(claimID, stage, string(res.Decision), string(res.Tier), reason, res, now)
}

func (m *Machine) appendOutcomeRaw(claimID string, stage int, decision, tier, reason string, res consensus.Result, now time.Time) error {
	if reason == "" {
		reason = res.Reason
	}
	return m.store.AppendStageOutcome(claimID, stage, claim.Outcome{
		Stage:      stage,
		Decision:   decision,
		Tier:       tier,
		Reason:     reason,
		Responders: res.Responders,
		Support:    res.Tally.Support,
		Contradict: res.Tally.Contradict,
		Uncertain:  res.Tally.Uncertain,
		CreatedAt:  now,
	})
}

func (m *Machine) transition(c *claim.Claim, stage int, stageName string, res consensus.Result, reason string, from claim.Status, now time.Time) *Transition {
	if reason == "" {
		reason = res.Reason
	}
	return &Transition{
		ClaimID:    c.ID,
		Stage:      stage,
		StageName:  stageName,
		Decision:   string(res.Decision),
		Tier:       string(res.Tier),
		Reason:     reason,
		FromStatus: from,
		ToStatus:   c.Status,
		Responders: res.Responders,
		Tally:      res.Tally,
		At:         now,
	}
}

// Replay recomputes a claim's terminal status from its outcome log alone.
// The log is the system's single audit trail; this is the check that it is
// sufficient to reconstruct why a claim ended where it did.
func Replay(outcomes []claim.Outcome, stageCount int) claim.Status {
	stage := 0
	parked := false
	for _, o := range outcomes {
		switch o.Decision {
		case string(consensus.DecisionAdvance):
			stage++
			if stage >= stageCount {
				return claim.StatusApproved
			}
		case string(consensus.DecisionReject):
			return claim.StatusRejected
		case "defer":
			// Parked for an operator; a later resubmission revives it
			parked = true
		case "resubmitted", "returned_for_revision":
			parked = false
		case string(consensus.DecisionDefer):
			// Claim stays in its stage; evaluation continues
		}
	}
	if parked {
		return claim.StatusDeferred
	}
	if stage == 0 && len(outcomes) == 0 {
		return claim.StatusPending
	}
	return claim.StatusInReview
}
