package evidence

import (
	"database/sql"
	"time"

	"github.com/veridict/veridict/errors"
)

// SlotAuthority answers whether a worker is entitled to submit evidence for
// a (claim, stage). Implemented by slot.Registry; kept as an interface here
// so the collector does not depend on the registry's internals.
type SlotAuthority interface {
	HeldWithinGrace(claimID string, stage int, workerID string, grace time.Duration) (bool, error)
}

// Collector records per-worker evidence. Submissions from different workers
// never block each other; each worker owns exactly one row per (claim,
// stage), overwritten on resubmission.
type Collector struct {
	db        *sql.DB
	authority SlotAuthority
	grace     time.Duration
}

// NewCollector creates an evidence collector. The grace duration tolerates
// late-arriving results from slots that expired moments before submission.
func NewCollector(db *sql.DB, authority SlotAuthority, grace time.Duration) *Collector {
	return &Collector{db: db, authority: authority, grace: grace}
}

// Submit records one worker's evidence. The worker must currently hold a
// slot for the (claim, stage) pair, or have held one that expired within
// the grace window; otherwise ErrUnauthorizedSubmission.
func (c *Collector) Submit(claimID string, stage int, workerID string, verdict Verdict, observations []string) error {
	if !IsValidVerdict(string(verdict)) {
		return errors.Newf("invalid verdict %q", verdict)
	}

	held, err := c.authority.HeldWithinGrace(claimID, stage, workerID, c.grace)
	if err != nil {
		return errors.Wrap(err, "failed to check slot authority")
	}
	if !held {
		return errors.Wrapf(errors.ErrUnauthorizedSubmission,
			"worker %s has no slot for claim %s stage %d", workerID, claimID, stage)
	}

	obs, err := marshalObservations(observations)
	if err != nil {
		return err
	}

	// Last write wins per worker; other workers' rows are untouched
	_, err = c.db.Exec(`
		INSERT INTO evidence (claim_id, stage, worker_id, verdict, observations, submitted_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(claim_id, stage, worker_id)
		DO UPDATE SET verdict = excluded.verdict,
		              observations = excluded.observations,
		              submitted_at = excluded.submitted_at`,
		claimID, stage, workerID, verdict,
		sql.NullString{String: obs, Valid: obs != ""},
		time.Now().UTC())
	if err != nil {
		return errors.Wrap(err, "failed to record evidence")
	}

	return nil
}

// Get returns all evidence for a (claim, stage), one entry per worker.
func (c *Collector) Get(claimID string, stage int) ([]Evidence, error) {
	rows, err := c.db.Query(`
		SELECT claim_id, stage, worker_id, verdict, observations, submitted_at
		FROM evidence
		WHERE claim_id = ? AND stage = ?
		ORDER BY worker_id ASC`,
		claimID, stage)
	if err != nil {
		return nil, errors.Wrap(err, "failed to get evidence")
	}
	defer rows.Close()

	var evs []Evidence
	for rows.Next() {
		var e Evidence
		var obs sql.NullString
		if err := rows.Scan(&e.ClaimID, &e.Stage, &e.WorkerID, &e.Verdict, &obs, &e.SubmittedAt); err != nil {
			return nil, errors.Wrap(err, "failed to scan evidence")
		}
		observations, err := unmarshalObservations(obs.String)
		if err != nil {
			return nil, err
		}
		e.Observations = observations
		evs = append(evs, e)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.Wrap(err, "error iterating evidence")
	}

	return evs, nil
}

// ResetStage removes the live working set for a (claim, stage) after the
// stage reaches a decision. The decision itself survives in the claim's
// outcome log.
func (c *Collector) ResetStage(claimID string, stage int) error {
	_, err := c.db.Exec(`DELETE FROM evidence WHERE claim_id = ? AND stage = ?`, claimID, stage)
	if err != nil {
		return errors.Wrap(err, "failed to reset stage evidence")
	}
	return nil
}
