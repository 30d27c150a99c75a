// Package claim defines the claim model and its durable store.
package claim

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"

	"github.com/veridict/veridict/errors"
)

// Status represents the current state of a claim in the pipeline
type Status string

const (
	StatusPending  Status = "pending"
	StatusInReview Status = "in_review"
	StatusApproved Status = "approved"
	StatusRejected Status = "rejected"
	StatusDeferred Status = "deferred"
)

// IsValidStatus returns true if the status string is a valid Status
func IsValidStatus(s string) bool {
	switch Status(s) {
	case StatusPending, StatusInReview, StatusApproved, StatusRejected, StatusDeferred:
		return true
	default:
		return false
	}
}

// Terminal reports whether the status ends the claim's journey through the
// pipeline. Deferred claims are terminal until an operator resubmits them.
func (s Status) Terminal() bool {
	switch s {
	case StatusApproved, StatusRejected, StatusDeferred:
		return true
	default:
		return false
	}
}

// Claim is a unit of work flowing through the pipeline. The payload is
// opaque to the core; only the metadata and stage/state fields are
// interpreted here.
//
// Status transitions are monotonic through the stage sequence. A claim never
// revisits an earlier stage; the only backward-looking transition is
// returned-for-revision, which resets the current stage's evidence only.
type Claim struct {
	ID                  string            `json:"id"`
	Payload             []byte            `json:"payload,omitempty"`
	Metadata            map[string]string `json:"metadata,omitempty"`
	Stage               int               `json:"stage"`
	Status              Status            `json:"status"`
	RetryCount          int               `json:"retry_count,omitempty"`
	Version             int64             `json:"version"`
	CreatedAt           time.Time         `json:"created_at"`
	UpdatedAt           time.Time         `json:"updated_at"`
	StageEnteredAt      time.Time         `json:"stage_entered_at"`
	StageFirstEnteredAt time.Time         `json:"stage_first_entered_at"`
}

// New creates a claim at stage 0 in pending status.
func New(payload []byte, metadata map[string]string) (*Claim, error) {
	if len(payload) == 0 {
		return nil, errors.Wrap(errors.ErrInvalidPayload, "payload cannot be empty")
	}

	now := time.Now().UTC()
	return &Claim{
		ID:                  "CLM_" + uuid.NewString(),
		Payload:             payload,
		Metadata:            metadata,
		Stage:               0,
		Status:              StatusPending,
		Version:             1,
		CreatedAt:           now,
		UpdatedAt:           now,
		StageEnteredAt:      now,
		StageFirstEnteredAt: now,
	}, nil
}

// BeginReview marks the claim as under evaluation.
func (c *Claim) BeginReview() {
	c.Status = StatusInReview
	c.UpdatedAt = time.Now().UTC()
}

// AdvanceStage moves the claim to the next stage, resetting both stage
// clocks and the retry count.
func (c *Claim) AdvanceStage(now time.Time) {
	c.Stage++
	c.RetryCount = 0
	c.StageEnteredAt = now
	c.StageFirstEnteredAt = now
	c.UpdatedAt = now
}

// RestartStageClock restarts the stage timer after a defer decision. The
// first-entry timestamp is preserved so total dwell time keeps accumulating.
func (c *Claim) RestartStageClock(now time.Time) {
	c.RetryCount++
	c.StageEnteredAt = now
	c.UpdatedAt = now
}

// ReenterStage resets the current stage for a fresh evaluation round with a
// fresh retry budget. Used for operator resubmission and returned-for-revision.
func (c *Claim) ReenterStage(now time.Time) {
	c.Status = StatusInReview
	c.RetryCount = 0
	c.StageEnteredAt = now
	c.StageFirstEnteredAt = now
	c.UpdatedAt = now
}

// Approve marks the claim approved.
func (c *Claim) Approve() {
	c.Status = StatusApproved
	c.UpdatedAt = time.Now().UTC()
}

// Reject marks the claim rejected.
func (c *Claim) Reject() {
	c.Status = StatusRejected
	c.UpdatedAt = time.Now().UTC()
}

// Defer parks the claim for operator attention.
func (c *Claim) Defer() {
	c.Status = StatusDeferred
	c.UpdatedAt = time.Now().UTC()
}

// StageElapsed returns time since the current evaluation round started.
func (c *Claim) StageElapsed(now time.Time) time.Duration {
	return now.Sub(c.StageEnteredAt)
}

// StageDwell returns total time spent in the current stage across all
// retries.
func (c *Claim) StageDwell(now time.Time) time.Duration {
	return now.Sub(c.StageFirstEnteredAt)
}

// Outcome is one immutable entry in a claim's audit trail, written on every
// stage transition. Replaying a claim's outcomes reproduces its terminal
// state.
type Outcome struct {
	Stage      int       `json:"stage"`
	Decision   string    `json:"decision"`
	Tier       string    `json:"tier,omitempty"`
	Reason     string    `json:"reason,omitempty"`
	Responders int       `json:"responders"`
	Support    int       `json:"support"`
	Contradict int       `json:"contradict"`
	Uncertain  int       `json:"uncertain"`
	CreatedAt  time.Time `json:"created_at"`
}

// MarshalMetadata converts claim metadata to a JSON string for storage
func MarshalMetadata(m map[string]string) (string, error) {
	if len(m) == 0 {
		return "", nil
	}
	data, err := json.Marshal(m)
	if err != nil {
		return "", errors.Wrap(err, "failed to marshal metadata")
	}
	return string(data), nil
}

// UnmarshalMetadata converts a stored JSON string back to claim metadata
func UnmarshalMetadata(data string) (map[string]string, error) {
	if data == "" {
		return nil, nil
	}
	var m map[string]string
	if err := json.Unmarshal([]byte(data), &m); err != nil {
		return nil, errors.Wrap(err, "failed to unmarshal metadata")
	}
	return m, nil
}
