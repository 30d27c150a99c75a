// Package evidence accumulates per-worker evaluation results for a claim at
// a stage.
package evidence

import (
	"encoding/json"
	"time"

	"github.com/veridict/veridict/errors"
)

// Verdict is one worker's conclusion about a claim at a stage.
type Verdict string

const (
	VerdictSupport    Verdict = "support"
	VerdictContradict Verdict = "contradict"
	VerdictUncertain  Verdict = "uncertain"
)

// IsValidVerdict returns true if the verdict string is a valid Verdict
func IsValidVerdict(v string) bool {
	switch Verdict(v) {
	case VerdictSupport, VerdictContradict, VerdictUncertain:
		return true
	default:
		return false
	}
}

// Evidence is a single worker's submission for a (claim, stage). Immutable
// once recorded; a fresh submission from the same worker supersedes the
// previous one, never mutates it.
type Evidence struct {
	ClaimID      string    `json:"claim_id"`
	Stage        int       `json:"stage"`
	WorkerID     string    `json:"worker_id"`
	Verdict      Verdict   `json:"verdict"`
	Observations []string  `json:"observations,omitempty"`
	SubmittedAt  time.Time `json:"submitted_at"`
}

func marshalObservations(obs []string) (string, error) {
	if len(obs) == 0 {
		return "", nil
	}
	data, err := json.Marshal(obs)
	if err != nil {
		return "", errors.Wrap(err, "failed to marshal observations")
	}
	return string(data), nil
}

func unmarshalObservations(data string) ([]string, error) {
	if data == "" {
		return nil, nil
	}
	var obs []string
	if err := json.Unmarshal([]byte(data), &obs); err != nil {
		return nil, errors.Wrap(err, "failed to unmarshal observations")
	}
	return obs, nil
}
