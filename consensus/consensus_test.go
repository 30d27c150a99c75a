package consensus

import (
	"fmt"
	"math/rand"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/veridict/veridict/am"
	"github.com/veridict/veridict/evidence"
)

func reviewPolicy() Policy {
	return Policy{
		Name:            "review",
		TargetWorkers:   6,
		MinPartial:      4,
		PartialTimeout:  300 * time.Second,
		MinimumAbsolute: 2,
		HardTimeout:     900 * time.Second,
		MaxDwellRetries: 3,
	}
}

func verdicts(vs ...evidence.Verdict) []evidence.Evidence {
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	evs := make([]evidence.Evidence, len(vs))
	for i, v := range vs {
		evs[i] = evidence.Evidence{
			ClaimID:     "CLM_test",
			WorkerID:    fmt.Sprintf("worker-%d", i),
			Verdict:     v,
			SubmittedAt: base.Add(time.Duration(i) * time.Second),
		}
	}
	return evs
}

func TestEvaluateFullQuorum(t *testing.T) {
	p := reviewPolicy()

	// Six responders, four support, two contradict
	evs := verdicts(
		evidence.VerdictSupport, evidence.VerdictSupport,
		evidence.VerdictSupport, evidence.VerdictSupport,
		evidence.VerdictContradict, evidence.VerdictContradict,
	)

	res := Evaluate(p, evs, 10*time.Second, 0)
	assert.Equal(t, DecisionAdvance, res.Decision)
	assert.Equal(t, TierFull, res.Tier)
	assert.Equal(t, 6, res.Responders)
	assert.Equal(t, Tally{Support: 4, Contradict: 2}, res.Tally)
}

func TestEvaluateFullQuorumReject(t *testing.T) {
	p := reviewPolicy()

	evs := verdicts(
		evidence.VerdictContradict, evidence.VerdictContradict,
		evidence.VerdictContradict, evidence.VerdictContradict,
		evidence.VerdictSupport, evidence.VerdictSupport,
	)

	res := Evaluate(p, evs, 10*time.Second, 0)
	assert.Equal(t, DecisionReject, res.Decision)
	assert.Equal(t, TierFull, res.Tier)
}

func TestEvaluateTieDefers(t *testing.T) {
	p := reviewPolicy()

	evs := verdicts(
		evidence.VerdictSupport, evidence.VerdictSupport, evidence.VerdictSupport,
		evidence.VerdictContradict, evidence.VerdictContradict, evidence.VerdictContradict,
	)

	res := Evaluate(p, evs, 10*time.Second, 0)
	assert.Equal(t, DecisionDefer, res.Decision, "ties never silently advance")
	assert.Equal(t, TierFull, res.Tier)
}

func TestEvaluateUncertainBlocksAdvance(t *testing.T) {
	p := reviewPolicy()

	// Support leads contradict but uncertainty exceeds support
	evs := verdicts(
		evidence.VerdictSupport, evidence.VerdictSupport,
		evidence.VerdictContradict,
		evidence.VerdictUncertain, evidence.VerdictUncertain, evidence.VerdictUncertain,
	)

	res := Evaluate(p, evs, 10*time.Second, 0)
	assert.Equal(t, DecisionDefer, res.Decision)
}

func TestEvaluatePendingBelowPartialThreshold(t *testing.T) {
	p := reviewPolicy()

	// Three responders with minPartial 4: pending regardless of the
	// partial timeout having elapsed
	evs := verdicts(
		evidence.VerdictSupport, evidence.VerdictSupport, evidence.VerdictSupport,
	)

	res := Evaluate(p, evs, p.PartialTimeout+time.Minute, 0)
	assert.Equal(t, DecisionPending, res.Decision)
	assert.Empty(t, res.Tier)

	// A fourth responder unlocks the partial tier
	evs = append(evs, verdicts(evidence.VerdictSupport)[0])
	evs[3].WorkerID = "worker-3b"
	res = Evaluate(p, evs, p.PartialTimeout+time.Minute, 0)
	assert.Equal(t, DecisionAdvance, res.Decision)
	assert.Equal(t, TierPartial, res.Tier)
}

func TestEvaluatePartialWaitsForTimeout(t *testing.T) {
	p := reviewPolicy()

	evs := verdicts(
		evidence.VerdictSupport, evidence.VerdictSupport,
		evidence.VerdictSupport, evidence.VerdictSupport,
	)

	// Before the partial timeout the engine holds out for full quorum
	res := Evaluate(p, evs, p.PartialTimeout-time.Second, 0)
	assert.Equal(t, DecisionPending, res.Decision)

	res = Evaluate(p, evs, p.PartialTimeout+time.Second, 0)
	assert.Equal(t, DecisionAdvance, res.Decision)
	assert.Equal(t, TierPartial, res.Tier)
}

func TestEvaluateIncompleteAfterHardTimeout(t *testing.T) {
	p := reviewPolicy()

	evs := verdicts(evidence.VerdictSupport, evidence.VerdictSupport)

	res := Evaluate(p, evs, p.HardTimeout-time.Second, 0)
	assert.Equal(t, DecisionPending, res.Decision)

	res = Evaluate(p, evs, p.HardTimeout+time.Second, 0)
	assert.Equal(t, DecisionAdvance, res.Decision)
	assert.Equal(t, TierIncomplete, res.Tier)
}

func TestEvaluateNoQuorum(t *testing.T) {
	p := reviewPolicy()

	evs := verdicts(evidence.VerdictSupport)
	elapsed := p.HardTimeout + time.Second

	// Retry budget remaining: defer and let the stage clock restart
	res := Evaluate(p, evs, elapsed, p.MaxDwellRetries-1)
	assert.Equal(t, DecisionDefer, res.Decision)
	assert.Empty(t, res.Reason)

	// Budget exhausted: forced rejection with the no-quorum marker
	res = Evaluate(p, evs, elapsed, p.MaxDwellRetries)
	assert.Equal(t, DecisionReject, res.Decision)
	assert.Equal(t, ReasonNoQuorum, res.Reason)
}

func TestEvaluateNoEvidence(t *testing.T) {
	p := reviewPolicy()

	res := Evaluate(p, nil, time.Second, 0)
	assert.Equal(t, DecisionPending, res.Decision)
	assert.Zero(t, res.Responders)
}

// The tier reached for a fixed responder count never weakens as more
// workers respond: full is reachable whenever partial was, and so on down.
func TestQuorumTierMonotonicity(t *testing.T) {
	p := reviewPolicy()
	elapsed := p.HardTimeout + time.Second

	rank := map[Tier]int{TierIncomplete: 1, TierPartial: 2, TierFull: 3}

	prev := 0
	for n := p.MinimumAbsolute; n <= p.TargetWorkers; n++ {
		vs := make([]evidence.Verdict, n)
		for i := range vs {
			vs[i] = evidence.VerdictSupport
		}
		res := Evaluate(p, verdicts(vs...), elapsed, 0)
		require.NotEmpty(t, res.Tier, "responders=%d", n)
		assert.GreaterOrEqual(t, rank[res.Tier], prev, "tier weakened at responders=%d", n)
		prev = rank[res.Tier]
	}
}

// Evaluation is commutative over evidence: shuffling submission order
// never changes the result.
func TestEvaluateOrderIndependent(t *testing.T) {
	p := reviewPolicy()

	evs := verdicts(
		evidence.VerdictSupport, evidence.VerdictContradict,
		evidence.VerdictSupport, evidence.VerdictUncertain,
		evidence.VerdictSupport, evidence.VerdictSupport,
	)

	want := Evaluate(p, evs, 10*time.Second, 0)

	rng := rand.New(rand.NewSource(42))
	for i := 0; i < 20; i++ {
		shuffled := make([]evidence.Evidence, len(evs))
		copy(shuffled, evs)
		rng.Shuffle(len(shuffled), func(a, b int) {
			shuffled[a], shuffled[b] = shuffled[b], shuffled[a]
		})
		got := Evaluate(p, shuffled, 10*time.Second, 0)
		assert.Equal(t, want, got)
	}
}

// A worker resubmitting keeps one vote; only the latest verdict counts.
func TestEvaluateDeduplicatesWorkers(t *testing.T) {
	p := reviewPolicy()
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	evs := []evidence.Evidence{
		{WorkerID: "w1", Verdict: evidence.VerdictContradict, SubmittedAt: base},
		{WorkerID: "w1", Verdict: evidence.VerdictSupport, SubmittedAt: base.Add(time.Minute)},
		{WorkerID: "w2", Verdict: evidence.VerdictSupport, SubmittedAt: base},
	}

	res := Evaluate(p, evs, time.Second, 0)
	assert.Equal(t, 2, res.Responders)
	assert.Equal(t, Tally{Support: 2}, res.Tally)
}

func TestWeightedMajorityScalesUniformly(t *testing.T) {
	// The partial weight multiplies every bucket equally, so relative
	// comparisons match the unweighted rule
	tallies := []Tally{
		{Support: 3, Contradict: 1},
		{Contradict: 3, Support: 1},
		{Support: 2, Contradict: 2},
		{Support: 2, Uncertain: 3},
	}
	for _, tally := range tallies {
		n := tally.Support + tally.Contradict + tally.Uncertain
		assert.Equal(t, majority(tally), weightedMajority(tally, n, 6), "tally=%+v", tally)
	}
}

func TestPolicyFromStage(t *testing.T) {
	cfg := am.StageConfig{
		Name:                  "triage",
		TargetWorkers:         5,
		MinPartial:            3,
		PartialTimeoutSeconds: 120,
		MinimumAbsolute:       2,
		HardTimeoutSeconds:    600,
		MaxDwellRetries:       2,
	}

	p := PolicyFromStage(cfg)
	assert.Equal(t, "triage", p.Name)
	assert.Equal(t, 5, p.TargetWorkers)
	assert.Equal(t, 120*time.Second, p.PartialTimeout)
	assert.Equal(t, 600*time.Second, p.HardTimeout)
	assert.Equal(t, 2, p.MaxDwellRetries)
}
