// Package consensus converts accumulated evidence into stage decisions
// using an adaptive quorum policy.
//
// The tiered policy trades strict quorum rigor for liveness: the pipeline
// never blocks indefinitely on unavailable workers, while stronger consensus
// is preferred whenever achievable. Evaluation is a pure function over
// collected state; it reads no clocks and mutates nothing.
package consensus

import (
	"time"

	"github.com/veridict/veridict/am"
	"github.com/veridict/veridict/evidence"
)

// Decision is the outcome of one consensus evaluation.
type Decision string

const (
	DecisionAdvance Decision = "advance"
	DecisionReject  Decision = "reject"
	DecisionDefer   Decision = "defer_insufficient_responses"
	DecisionPending Decision = "pending"
)

// Tier records how much quorum backed a decision. Strictness is ordered:
// full > partial > incomplete.
type Tier string

const (
	TierFull       Tier = "full"
	TierPartial    Tier = "partial"
	TierIncomplete Tier = "incomplete"
)

// ReasonNoQuorum marks a rejection forced by exhausting the defer retry
// budget without ever reaching the absolute minimum responder count.
const ReasonNoQuorum = "no_quorum"

// Policy is one stage's quorum configuration. All thresholds come from
// stage config; the engine hardcodes no counts.
type Policy struct {
	Name            string
	TargetWorkers   int
	MinPartial      int
	PartialTimeout  time.Duration
	MinimumAbsolute int
	HardTimeout     time.Duration
	MaxDwellRetries int
}

// PolicyFromStage builds a Policy from stage configuration.
func PolicyFromStage(cfg am.StageConfig) Policy {
	return Policy{
		Name:            cfg.Name,
		TargetWorkers:   cfg.TargetWorkers,
		MinPartial:      cfg.MinPartial,
		PartialTimeout:  cfg.PartialTimeout(),
		MinimumAbsolute: cfg.MinimumAbsolute,
		HardTimeout:     cfg.HardTimeout(),
		MaxDwellRetries: cfg.MaxDwellRetries,
	}
}

// Tally counts distinct-worker verdicts.
type Tally struct {
	Support    int `json:"support"`
	Contradict int `json:"contradict"`
	Uncertain  int `json:"uncertain"`
}

// Result is a computed view over all evidence for a (claim, stage) at
// decision time. It is recomputed on demand; the one that triggers a
// transition is persisted in the claim's outcome log.
type Result struct {
	Decision   Decision      `json:"decision"`
	Tier       Tier          `json:"tier,omitempty"`
	Reason     string        `json:"reason,omitempty"`
	Responders int           `json:"responders"`
	Tally      Tally         `json:"tally"`
	Elapsed    time.Duration `json:"elapsed"`
}

// Evaluate computes the stage decision for the given evidence set, elapsed
// time since stage entry, and defer retries consumed so far.
//
// Tiers, in order of preference:
//  1. Full: responders reached the target; standard majority.
//  2. Partial: at least minPartial responded and the partial timeout
//     elapsed; each response counts for responded/target of a full vote.
//  3. Incomplete: at least minimumAbsolute responded and the hard timeout
//     elapsed; minimum-consensus over whatever exists.
//  4. Past the hard timeout with fewer than minimumAbsolute responders the
//     stage defers and its clock restarts, until the retry budget forces a
//     no_quorum rejection.
//  5. Otherwise the decision is pending and the caller re-invokes later.
//
// Evidence is commutative: the result depends only on the set of
// distinct-worker verdicts, never on submission order.
func Evaluate(p Policy, evs []evidence.Evidence, elapsed time.Duration, retries int) Result {
	tally := tallyByWorker(evs)
	responded := tally.Support + tally.Contradict + tally.Uncertain

	result := Result{
		Responders: responded,
		Tally:      tally,
		Elapsed:    elapsed,
	}

	switch {
	case responded >= p.TargetWorkers:
		result.Tier = TierFull
		result.Decision = majority(tally)

	case responded >= p.MinPartial && elapsed > p.PartialTimeout:
		result.Tier = TierPartial
		result.Decision = weightedMajority(tally, responded, p.TargetWorkers)

	case responded >= p.MinimumAbsolute && elapsed > p.HardTimeout:
		result.Tier = TierIncomplete
		result.Decision = majority(tally)

	case elapsed > p.HardTimeout:
		// Absolute minimum unmet at the hard timeout
		if retries >= p.MaxDwellRetries {
			result.Decision = DecisionReject
			result.Reason = ReasonNoQuorum
		} else {
			result.Decision = DecisionDefer
		}

	default:
		result.Decision = DecisionPending
	}

	return result
}

// tallyByWorker counts verdicts keeping only each worker's latest
// submission. The store already enforces one row per worker; deduplicating
// here keeps Evaluate correct for any input.
func tallyByWorker(evs []evidence.Evidence) Tally {
	latest := make(map[string]evidence.Evidence, len(evs))
	for _, e := range evs {
		prev, ok := latest[e.WorkerID]
		if !ok || e.SubmittedAt.After(prev.SubmittedAt) {
			latest[e.WorkerID] = e
		}
	}

	var t Tally
	for _, e := range latest {
		switch e.Verdict {
		case evidence.VerdictSupport:
			t.Support++
		case evidence.VerdictContradict:
			t.Contradict++
		case evidence.VerdictUncertain:
			t.Uncertain++
		}
	}
	return t
}

// majority applies the standard rule: advance iff support strictly exceeds
// contradict and uncertain does not exceed support. Ties break toward
// defer, never silently toward advance.
func majority(t Tally) Decision {
	if t.Support > t.Contradict && t.Uncertain <= t.Support {
		return DecisionAdvance
	}
	if t.Contradict > t.Support && t.Uncertain <= t.Contradict {
		return DecisionReject
	}
	return DecisionDefer
}

// weightedMajority applies the partial-tier rule where each response counts
// for responded/target of a full vote, under the same majority condition.
func weightedMajority(t Tally, responded, target int) Decision {
	w := float64(responded) / float64(target)
	support := float64(t.Support) * w
	contradict := float64(t.Contradict) * w
	uncertain := float64(t.Uncertain) * w

	if support > contradict && uncertain <= support {
		return DecisionAdvance
	}
	if contradict > support && uncertain <= contradict {
		return DecisionReject
	}
	return DecisionDefer
}
