package slot

import (
	"database/sql"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/veridict/veridict/am"
	"github.com/veridict/veridict/errors"
)

// Registry manages slot reservations for all (claim, stage) pairs. The
// per-stage capacity counter is the one tightly-shared resource in the
// system, so claim/release go through a single mutex; everything else is
// plain reads against computed deadlines.
type Registry struct {
	db     *sql.DB
	stages []am.StageConfig
	mu     sync.Mutex
}

// NewRegistry creates a slot registry for the configured stage sequence.
func NewRegistry(db *sql.DB, stages []am.StageConfig) *Registry {
	return &Registry{db: db, stages: stages}
}

// StageCount returns the number of configured stages.
func (r *Registry) StageCount() int {
	return len(r.stages)
}

// StageConfig returns the configuration for a stage index.
func (r *Registry) StageConfig(stage int) (am.StageConfig, error) {
	if stage < 0 || stage >= len(r.stages) {
		return am.StageConfig{}, errors.Newf("stage index %d out of range (have %d stages)", stage, len(r.stages))
	}
	return r.stages[stage], nil
}

// ClaimSlot reserves an evaluation slot for a worker. Fails with
// ErrAlreadyHeld if the worker already holds a live slot for the pair, or
// ErrCapacityExceeded when the stage's concurrent-worker cap is reached.
// A zero ttl uses the stage's configured slot TTL.
func (r *Registry) ClaimSlot(claimID string, stage int, workerID string, ttl time.Duration) (*Slot, error) {
	cfg, err := r.StageConfig(stage)
	if err != nil {
		return nil, err
	}
	if ttl <= 0 {
		ttl = cfg.SlotTTL()
	}

	// Capacity check and insert must be one critical section: two workers
	// racing for the last slot must not both win.
	r.mu.Lock()
	defer r.mu.Unlock()

	now := time.Now().UTC()

	var held bool
	err = r.db.QueryRow(`
		SELECT EXISTS(
			SELECT 1 FROM slots
			WHERE claim_id = ? AND stage = ? AND worker_id = ?
			  AND state IN ('reserved', 'alive') AND deadline > ?
		)`, claimID, stage, workerID, now).Scan(&held)
	if err != nil {
		return nil, errors.Wrap(err, "failed to check held slots")
	}
	if held {
		return nil, errors.Wrapf(errors.ErrAlreadyHeld, "worker %s on claim %s stage %d", workerID, claimID, stage)
	}

	var live int
	err = r.db.QueryRow(`
		SELECT COUNT(*) FROM slots
		WHERE claim_id = ? AND stage = ?
		  AND state IN ('reserved', 'alive') AND deadline > ?`,
		claimID, stage, now).Scan(&live)
	if err != nil {
		return nil, errors.Wrap(err, "failed to count live slots")
	}
	if live >= cfg.MaxWorkers {
		return nil, errors.Wrapf(errors.ErrCapacityExceeded,
			"claim %s stage %d at capacity %d", claimID, stage, cfg.MaxWorkers)
	}

	s := &Slot{
		Token:      "SLT_" + uuid.NewString(),
		ClaimID:    claimID,
		Stage:      stage,
		WorkerID:   workerID,
		State:      StateReserved,
		TTL:        ttl,
		AcquiredAt: now,
		Deadline:   now.Add(ttl),
	}

	_, err = r.db.Exec(`
		INSERT INTO slots (token, claim_id, stage, worker_id, state, ttl_seconds, acquired_at, deadline)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		s.Token, s.ClaimID, s.Stage, s.WorkerID, s.State, int(ttl.Seconds()), s.AcquiredAt, s.Deadline)
	if err != nil {
		return nil, errors.Wrap(err, "failed to insert slot")
	}

	if err := r.appendEvent(s.ClaimID, s.Stage, s.WorkerID, EventClaimed, now); err != nil {
		return nil, err
	}

	return s, nil
}

// Heartbeat extends a slot's deadline by its ttl. Fails with ErrSlotExpired
// if the deadline has already passed; the worker must re-claim.
func (r *Registry) Heartbeat(token string) (*Slot, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	s, err := r.getSlot(token)
	if err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	if !s.Live(now) {
		return nil, errors.Wrapf(errors.ErrSlotExpired, "slot %s deadline %s", token, s.Deadline.Format(time.RFC3339))
	}

	s.State = StateAlive
	s.Deadline = now.Add(s.TTL)

	_, err = r.db.Exec(`
		UPDATE slots SET state = ?, deadline = ? WHERE token = ?`,
		s.State, s.Deadline, token)
	if err != nil {
		return nil, errors.Wrap(err, "failed to extend slot deadline")
	}

	return s, nil
}

// Release ends a reservation on normal completion.
func (r *Registry) Release(token string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	s, err := r.getSlot(token)
	if err != nil {
		return err
	}
	if s.State == StateReleased {
		return nil // already released, nothing to do
	}

	now := time.Now().UTC()
	_, err = r.db.Exec(`
		UPDATE slots SET state = ?, released_at = ? WHERE token = ?`,
		StateReleased, now, token)
	if err != nil {
		return errors.Wrap(err, "failed to release slot")
	}

	return r.appendEvent(s.ClaimID, s.Stage, s.WorkerID, EventReleased, now)
}

// ReleaseStage releases every live slot for a (claim, stage) pair. Called
// when a stage reaches a decision and its working set is reset.
func (r *Registry) ReleaseStage(claimID string, stage int) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := time.Now().UTC()
	_, err := r.db.Exec(`
		UPDATE slots SET state = ?, released_at = ?
		WHERE claim_id = ? AND stage = ? AND state IN ('reserved', 'alive')`,
		StateReleased, now, claimID, stage)
	if err != nil {
		return errors.Wrap(err, "failed to release stage slots")
	}
	return nil
}

// ListLive returns the live slots for a (claim, stage) pair. Deadlines are
// checked against the current clock, so a slot the monitor has not swept
// yet is still excluded once past its deadline.
func (r *Registry) ListLive(claimID string, stage int) ([]Slot, error) {
	now := time.Now().UTC()
	rows, err := r.db.Query(`
		SELECT token, claim_id, stage, worker_id, state, ttl_seconds, acquired_at, deadline, released_at
		FROM slots
		WHERE claim_id = ? AND stage = ?
		  AND state IN ('reserved', 'alive') AND deadline > ?
		ORDER BY acquired_at ASC`,
		claimID, stage, now)
	if err != nil {
		return nil, errors.Wrap(err, "failed to list live slots")
	}
	defer rows.Close()

	return scanSlots(rows)
}

// HeldWithinGrace reports whether the worker holds a live slot for the
// pair, or held one that expired within the grace window. Late-arriving
// evidence from a just-expired slot is still authorized.
func (r *Registry) HeldWithinGrace(claimID string, stage int, workerID string, grace time.Duration) (bool, error) {
	now := time.Now().UTC()
	var ok bool
	err := r.db.QueryRow(`
		SELECT EXISTS(
			SELECT 1 FROM slots
			WHERE claim_id = ? AND stage = ? AND worker_id = ?
			  AND state IN ('reserved', 'alive', 'expired')
			  AND deadline > ?
		)`, claimID, stage, workerID, now.Add(-grace)).Scan(&ok)
	if err != nil {
		return false, errors.Wrap(err, "failed to check slot grace")
	}
	return ok, nil
}

// SweepExpired transitions every past-deadline slot to expired, freeing its
// capacity, and appends expiry events to the slot event log. Returns the
// number of slots reclaimed.
func (r *Registry) SweepExpired(now time.Time) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	rows, err := r.db.Query(`
		SELECT token, claim_id, stage, worker_id, state, ttl_seconds, acquired_at, deadline, released_at
		FROM slots
		WHERE state IN ('reserved', 'alive') AND deadline <= ?`, now)
	if err != nil {
		return 0, errors.Wrap(err, "failed to find stale slots")
	}
	stale, err := scanSlots(rows)
	rows.Close()
	if err != nil {
		return 0, err
	}

	for _, s := range stale {
		if _, err := r.db.Exec(`UPDATE slots SET state = ? WHERE token = ?`, StateExpired, s.Token); err != nil {
			return 0, errors.Wrapf(err, "failed to expire slot %s", s.Token)
		}
		if err := r.appendEvent(s.ClaimID, s.Stage, s.WorkerID, EventExpired, now); err != nil {
			return 0, err
		}
	}

	return len(stale), nil
}

// Events returns the slot event log for a (claim, stage) pair in append order.
func (r *Registry) Events(claimID string, stage int) ([]Event, error) {
	rows, err := r.db.Query(`
		SELECT claim_id, stage, worker_id, kind, created_at
		FROM slot_events
		WHERE claim_id = ? AND stage = ?
		ORDER BY id ASC`, claimID, stage)
	if err != nil {
		return nil, errors.Wrap(err, "failed to list slot events")
	}
	defer rows.Close()

	var events []Event
	for rows.Next() {
		var e Event
		if err := rows.Scan(&e.ClaimID, &e.Stage, &e.WorkerID, &e.Kind, &e.CreatedAt); err != nil {
			return nil, errors.Wrap(err, "failed to scan slot event")
		}
		events = append(events, e)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.Wrap(err, "error iterating slot events")
	}
	return events, nil
}

// Lookup resolves a token to its reservation. Expired and released slots
// still resolve; liveness is the caller's concern.
func (r *Registry) Lookup(token string) (*Slot, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.getSlot(token)
}

func (r *Registry) getSlot(token string) (*Slot, error) {
	row := r.db.QueryRow(`
		SELECT token, claim_id, stage, worker_id, state, ttl_seconds, acquired_at, deadline, released_at
		FROM slots WHERE token = ?`, token)

	s, err := scanSlot(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, errors.NewNotFoundError("slot %s", token)
	}
	if err != nil {
		return nil, errors.Wrap(err, "failed to get slot")
	}
	return s, nil
}

func (r *Registry) appendEvent(claimID string, stage int, workerID string, kind EventKind, at time.Time) error {
	_, err := r.db.Exec(`
		INSERT INTO slot_events (claim_id, stage, worker_id, kind, created_at)
		VALUES (?, ?, ?, ?, ?)`,
		claimID, stage, workerID, kind, at)
	if err != nil {
		return errors.Wrap(err, "failed to append slot event")
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanSlot(row rowScanner) (*Slot, error) {
	var s Slot
	var ttlSeconds int
	var releasedAt sql.NullTime
	if err := row.Scan(&s.Token, &s.ClaimID, &s.Stage, &s.WorkerID, &s.State,
		&ttlSeconds, &s.AcquiredAt, &s.Deadline, &releasedAt); err != nil {
		return nil, err
	}
	s.TTL = time.Duration(ttlSeconds) * time.Second
	if releasedAt.Valid {
		s.ReleasedAt = &releasedAt.Time
	}
	return &s, nil
}

func scanSlots(rows *sql.Rows) ([]Slot, error) {
	var slots []Slot
	for rows.Next() {
		s, err := scanSlot(rows)
		if err != nil {
			return nil, errors.Wrap(err, "failed to scan slot")
		}
		slots = append(slots, *s)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.Wrap(err, "error iterating slots")
	}
	return slots, nil
}
