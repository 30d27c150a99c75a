// Package slot tracks worker evaluation slots: time-bounded reservations
// binding one worker to one (claim, stage) pair.
package slot

import (
	"time"
)

// State represents the current state of a slot
type State string

const (
	StateReserved State = "reserved"
	StateAlive    State = "alive"
	StateExpired  State = "expired"
	StateReleased State = "released"
)

// Slot is a worker's reservation to evaluate one claim at one stage.
// A slot's deadline is always lastHeartbeat + ttl; liveness is computed
// from the deadline, never from whether the monitor has run.
type Slot struct {
	Token      string        `json:"token"`
	ClaimID    string        `json:"claim_id"`
	Stage      int           `json:"stage"`
	WorkerID   string        `json:"worker_id"`
	State      State         `json:"state"`
	TTL        time.Duration `json:"ttl"`
	AcquiredAt time.Time     `json:"acquired_at"`
	Deadline   time.Time     `json:"deadline"`
	ReleasedAt *time.Time    `json:"released_at,omitempty"`
}

// Live reports whether the slot is currently alive. A slot past its
// deadline is dead regardless of its stored state.
func (s *Slot) Live(now time.Time) bool {
	if s.State != StateReserved && s.State != StateAlive {
		return false
	}
	return s.Deadline.After(now)
}

// EventKind classifies entries in the slot event log.
type EventKind string

const (
	EventClaimed  EventKind = "claimed"
	EventExpired  EventKind = "expired"
	EventReleased EventKind = "released"
)

// Event is one entry in the slot event log. Expiry events let the pipeline
// distinguish "worker went away" from "worker never showed up".
type Event struct {
	ClaimID   string    `json:"claim_id"`
	Stage     int       `json:"stage"`
	WorkerID  string    `json:"worker_id"`
	Kind      EventKind `json:"kind"`
	CreatedAt time.Time `json:"created_at"`
}
