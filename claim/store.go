package claim

import (
	"database/sql"
	"time"

	"github.com/veridict/veridict/errors"
)

// Store handles durable persistence of claims and their outcome logs.
// All writes are atomic per claim; concurrent writers are serialized through
// optimistic versioning rather than locks.
type Store struct {
	db *sql.DB
}

// NewStore creates a new claim store
func NewStore(db *sql.DB) *Store {
	return &Store{db: db}
}

const claimColumns = `id, payload, metadata, stage, status, retry_count, version,
	created_at, updated_at, stage_entered_at, stage_first_entered_at`

// Put inserts a new claim.
func (s *Store) Put(c *Claim) error {
	metadata, err := MarshalMetadata(c.Metadata)
	if err != nil {
		return err
	}

	query := `
		INSERT INTO claims (` + claimColumns + `)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	_, err = s.db.Exec(query,
		c.ID,
		c.Payload,
		sql.NullString{String: metadata, Valid: metadata != ""},
		c.Stage,
		c.Status,
		c.RetryCount,
		c.Version,
		c.CreatedAt,
		c.UpdatedAt,
		c.StageEnteredAt,
		c.StageFirstEnteredAt,
	)
	if err != nil {
		return wrapStoreErr(err, "failed to put claim")
	}

	return nil
}

// Get retrieves a claim by ID.
func (s *Store) Get(id string) (*Claim, error) {
	query := `SELECT ` + claimColumns + ` FROM claims WHERE id = ?`

	c, err := scanClaim(s.db.QueryRow(query, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, errors.NewNotFoundError("claim %s", id)
	}
	if err != nil {
		return nil, wrapStoreErr(err, "failed to get claim")
	}

	return c, nil
}

// Update writes back a modified claim using optimistic concurrency. The
// claim's Version must match the stored row; on success the version is
// bumped both in the database and on the passed claim. A mismatch returns
// ErrConflictingVersion and the caller should reload and retry.
func (s *Store) Update(c *Claim) error {
	metadata, err := MarshalMetadata(c.Metadata)
	if err != nil {
		return err
	}

	query := `
		UPDATE claims
		SET payload = ?,
		    metadata = ?,
		    stage = ?,
		    status = ?,
		    retry_count = ?,
		    version = version + 1,
		    updated_at = ?,
		    stage_entered_at = ?,
		    stage_first_entered_at = ?
		WHERE id = ? AND version = ?
	`

	result, err := s.db.Exec(query,
		c.Payload,
		sql.NullString{String: metadata, Valid: metadata != ""},
		c.Stage,
		c.Status,
		c.RetryCount,
		c.UpdatedAt,
		c.StageEnteredAt,
		c.StageFirstEnteredAt,
		c.ID,
		c.Version,
	)
	if err != nil {
		return wrapStoreErr(err, "failed to update claim")
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return wrapStoreErr(err, "failed to get rows affected")
	}
	if rows == 0 {
		// Distinguish a stale version from a missing claim
		var exists bool
		if err := s.db.QueryRow("SELECT EXISTS(SELECT 1 FROM claims WHERE id = ?)", c.ID).Scan(&exists); err != nil {
			return wrapStoreErr(err, "failed to check claim existence")
		}
		if !exists {
			return errors.NewNotFoundError("claim %s", c.ID)
		}
		return errors.Wrapf(errors.ErrConflictingVersion, "claim %s version %d", c.ID, c.Version)
	}

	c.Version++
	return nil
}

// UpdateStatus sets a claim's status without touching the rest of the row.
func (s *Store) UpdateStatus(id string, status Status) error {
	result, err := s.db.Exec(`
		UPDATE claims
		SET status = ?, version = version + 1, updated_at = ?
		WHERE id = ?`,
		status, time.Now().UTC(), id,
	)
	if err != nil {
		return wrapStoreErr(err, "failed to update claim status")
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return wrapStoreErr(err, "failed to get rows affected")
	}
	if rows == 0 {
		return errors.NewNotFoundError("claim %s", id)
	}
	return nil
}

// AppendStageOutcome appends one immutable record to the claim's audit
// trail. Outcome rows are never rewritten.
func (s *Store) AppendStageOutcome(id string, stage int, outcome Outcome) error {
	_, err := s.db.Exec(`
		INSERT INTO claim_outcomes (
			claim_id, stage, decision, tier, reason,
			responders, support, contradict, uncertain, created_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		id,
		stage,
		outcome.Decision,
		sql.NullString{String: outcome.Tier, Valid: outcome.Tier != ""},
		sql.NullString{String: outcome.Reason, Valid: outcome.Reason != ""},
		outcome.Responders,
		outcome.Support,
		outcome.Contradict,
		outcome.Uncertain,
		outcome.CreatedAt,
	)
	if err != nil {
		return wrapStoreErr(err, "failed to append stage outcome")
	}
	return nil
}

// GetOutcomes returns a claim's audit trail in append order.
func (s *Store) GetOutcomes(id string) ([]Outcome, error) {
	rows, err := s.db.Query(`
		SELECT stage, decision, tier, reason, responders, support, contradict, uncertain, created_at
		FROM claim_outcomes
		WHERE claim_id = ?
		ORDER BY id ASC`, id)
	if err != nil {
		return nil, wrapStoreErr(err, "failed to get outcomes")
	}
	defer rows.Close()

	var outcomes []Outcome
	for rows.Next() {
		var o Outcome
		var tier, reason sql.NullString
		if err := rows.Scan(&o.Stage, &o.Decision, &tier, &reason,
			&o.Responders, &o.Support, &o.Contradict, &o.Uncertain, &o.CreatedAt); err != nil {
			return nil, errors.Wrap(err, "failed to scan outcome")
		}
		o.Tier = tier.String
		o.Reason = reason.String
		outcomes = append(outcomes, o)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.Wrap(err, "error iterating outcomes")
	}

	return outcomes, nil
}

// ListActive returns claims still moving through the pipeline, oldest first.
// A non-positive limit returns all of them.
func (s *Store) ListActive(limit int) ([]*Claim, error) {
	if limit <= 0 {
		limit = -1
	}
	rows, err := s.db.Query(`
		SELECT `+claimColumns+`
		FROM claims
		WHERE status IN ('pending', 'in_review')
		ORDER BY created_at ASC
		LIMIT ?`, limit)
	if err != nil {
		return nil, wrapStoreErr(err, "failed to list active claims")
	}
	defer rows.Close()

	var claims []*Claim
	for rows.Next() {
		c, err := scanClaim(rows)
		if err != nil {
			return nil, errors.Wrap(err, "failed to scan claim")
		}
		claims = append(claims, c)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.Wrap(err, "error iterating active claims")
	}

	return claims, nil
}

// CountsByStatus returns claim counts keyed by status.
func (s *Store) CountsByStatus() (map[Status]int, error) {
	rows, err := s.db.Query(`SELECT status, COUNT(*) FROM claims GROUP BY status`)
	if err != nil {
		return nil, wrapStoreErr(err, "failed to count claims")
	}
	defer rows.Close()

	counts := make(map[Status]int)
	for rows.Next() {
		var status Status
		var n int
		if err := rows.Scan(&status, &n); err != nil {
			return nil, errors.Wrap(err, "failed to scan count")
		}
		counts[status] = n
	}
	if err := rows.Err(); err != nil {
		return nil, errors.Wrap(err, "error iterating counts")
	}
	return counts, nil
}

// CleanupTerminal removes terminal claims older than the given duration,
// together with their slots, slot events, and evidence, in one transaction
// so the audit trail never outlives its claim piecemeal.
func (s *Store) CleanupTerminal(olderThan time.Duration) (int, error) {
	cutoff := time.Now().UTC().Add(-olderThan)

	tx, err := s.db.Begin()
	if err != nil {
		return 0, wrapStoreErr(err, "failed to begin cleanup")
	}
	defer tx.Rollback()

	for _, q := range []string{
		`DELETE FROM evidence WHERE claim_id IN (SELECT id FROM claims WHERE status IN ('approved','rejected','deferred') AND updated_at < ?)`,
		`DELETE FROM slot_events WHERE claim_id IN (SELECT id FROM claims WHERE status IN ('approved','rejected','deferred') AND updated_at < ?)`,
		`DELETE FROM slots WHERE claim_id IN (SELECT id FROM claims WHERE status IN ('approved','rejected','deferred') AND updated_at < ?)`,
	} {
		if _, err := tx.Exec(q, cutoff); err != nil {
			return 0, wrapStoreErr(err, "failed to cleanup claim working set")
		}
	}

	result, err := tx.Exec(`
		DELETE FROM claims
		WHERE status IN ('approved','rejected','deferred') AND updated_at < ?`, cutoff)
	if err != nil {
		return 0, wrapStoreErr(err, "failed to cleanup claims")
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return 0, wrapStoreErr(err, "failed to get rows affected")
	}

	if err := tx.Commit(); err != nil {
		return 0, wrapStoreErr(err, "failed to commit cleanup")
	}

	return int(rows), nil
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanClaim(row rowScanner) (*Claim, error) {
	var c Claim
	var metadata sql.NullString
	if err := row.Scan(
		&c.ID,
		&c.Payload,
		&metadata,
		&c.Stage,
		&c.Status,
		&c.RetryCount,
		&c.Version,
		&c.CreatedAt,
		&c.UpdatedAt,
		&c.StageEnteredAt,
		&c.StageFirstEnteredAt,
	); err != nil {
		return nil, err
	}

	meta, err := UnmarshalMetadata(metadata.String)
	if err != nil {
		return nil, err
	}
	c.Metadata = meta

	return &c, nil
}

// wrapStoreErr tags driver-level failures as store unavailability so the
// pipeline can distinguish "retry next tick" from logic errors.
func wrapStoreErr(err error, msg string) error {
	return errors.Mark(errors.Wrap(err, msg), errors.ErrStoreUnavailable)
}
