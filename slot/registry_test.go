package slot

import (
	"database/sql"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/veridict/veridict/am"
	"github.com/veridict/veridict/errors"
	vtesting "github.com/veridict/veridict/internal/testing"
)

func testRegistry(t *testing.T, maxWorkers int) (*Registry, *sql.DB) {
	t.Helper()
	conn := vtesting.CreateTestDB(t)
	stages := []am.StageConfig{
		{
			Name:                  "triage",
			TargetWorkers:         maxWorkers,
			MinPartial:            2,
			PartialTimeoutSeconds: 60,
			MinimumAbsolute:       1,
			HardTimeoutSeconds:    120,
			MaxDwellRetries:       1,
			MaxDwellSeconds:       600,
			MaxWorkers:            maxWorkers,
			SlotTTLSeconds:        30,
		},
	}
	return NewRegistry(conn, stages), conn
}

// backdateDeadline pushes a slot's deadline into the past.
func backdateDeadline(t *testing.T, conn *sql.DB, token string, by time.Duration) {
	t.Helper()
	_, err := conn.Exec(`UPDATE slots SET deadline = ? WHERE token = ?`,
		time.Now().UTC().Add(-by), token)
	require.NoError(t, err)
}

func TestLookup(t *testing.T) {
	r, _ := testRegistry(t, 4)

	s, err := r.ClaimSlot("CLM_1", 0, "w1", 0)
	require.NoError(t, err)

	got, err := r.Lookup(s.Token)
	require.NoError(t, err)
	assert.Equal(t, "CLM_1", got.ClaimID)
	assert.Equal(t, "w1", got.WorkerID)

	// Released reservations still resolve; liveness is the caller's concern
	require.NoError(t, r.Release(s.Token))
	_, err = r.Lookup(s.Token)
	require.NoError(t, err)

	_, err = r.Lookup("slot_missing")
	assert.True(t, errors.IsNotFoundError(err))
}

func TestClaimSlot(t *testing.T) {
	r, _ := testRegistry(t, 4)

	s, err := r.ClaimSlot("CLM_1", 0, "w1", 0)
	require.NoError(t, err)
	assert.NotEmpty(t, s.Token)
	assert.Equal(t, StateReserved, s.State)
	assert.Equal(t, 30*time.Second, s.TTL, "zero ttl falls back to stage default")
	assert.True(t, s.Live(time.Now().UTC()))

	events, err := r.Events("CLM_1", 0)
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, EventClaimed, events[0].Kind)
}

func TestClaimSlotAlreadyHeld(t *testing.T) {
	r, _ := testRegistry(t, 4)

	_, err := r.ClaimSlot("CLM_1", 0, "w1", 0)
	require.NoError(t, err)

	_, err = r.ClaimSlot("CLM_1", 0, "w1", 0)
	assert.True(t, errors.Is(err, errors.ErrAlreadyHeld))

	// Same worker on a different claim is fine
	_, err = r.ClaimSlot("CLM_2", 0, "w1", 0)
	assert.NoError(t, err)
}

func TestClaimSlotCapacity(t *testing.T) {
	r, _ := testRegistry(t, 2)

	_, err := r.ClaimSlot("CLM_1", 0, "w1", 0)
	require.NoError(t, err)
	_, err = r.ClaimSlot("CLM_1", 0, "w2", 0)
	require.NoError(t, err)

	_, err = r.ClaimSlot("CLM_1", 0, "w3", 0)
	assert.True(t, errors.Is(err, errors.ErrCapacityExceeded))

	// Capacity is per (claim, stage)
	_, err = r.ClaimSlot("CLM_2", 0, "w3", 0)
	assert.NoError(t, err)
}

// Live slots never exceed the stage cap, no matter how many workers race.
func TestClaimSlotCapacityUnderContention(t *testing.T) {
	const capacity = 3
	r, _ := testRegistry(t, capacity)

	var wg sync.WaitGroup
	won := make(chan string, 16)
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			if _, err := r.ClaimSlot("CLM_race", 0, fmt.Sprintf("w%d", n), 0); err == nil {
				won <- fmt.Sprintf("w%d", n)
			}
		}(i)
	}
	wg.Wait()
	close(won)

	winners := 0
	for range won {
		winners++
	}
	assert.Equal(t, capacity, winners)

	live, err := r.ListLive("CLM_race", 0)
	require.NoError(t, err)
	assert.Len(t, live, capacity)
}

func TestHeartbeatExtendsDeadline(t *testing.T) {
	r, _ := testRegistry(t, 4)

	s, err := r.ClaimSlot("CLM_1", 0, "w1", 0)
	require.NoError(t, err)
	original := s.Deadline

	time.Sleep(10 * time.Millisecond)

	extended, err := r.Heartbeat(s.Token)
	require.NoError(t, err)
	assert.Equal(t, StateAlive, extended.State)
	assert.True(t, extended.Deadline.After(original))
}

func TestHeartbeatAfterExpiry(t *testing.T) {
	r, conn := testRegistry(t, 4)

	s, err := r.ClaimSlot("CLM_1", 0, "w1", 0)
	require.NoError(t, err)
	backdateDeadline(t, conn, s.Token, time.Second)

	// An expired slot cannot be revived, swept or not
	_, err = r.Heartbeat(s.Token)
	assert.True(t, errors.Is(err, errors.ErrSlotExpired))

	_, err = r.Heartbeat("SLT_missing")
	assert.True(t, errors.IsNotFoundError(err))
}

func TestExpiredSlotFreesCapacity(t *testing.T) {
	r, conn := testRegistry(t, 1)

	s, err := r.ClaimSlot("CLM_1", 0, "w1", 0)
	require.NoError(t, err)

	_, err = r.ClaimSlot("CLM_1", 0, "w2", 0)
	require.True(t, errors.Is(err, errors.ErrCapacityExceeded))

	// Capacity frees the moment the deadline passes; no sweep required
	backdateDeadline(t, conn, s.Token, time.Second)
	_, err = r.ClaimSlot("CLM_1", 0, "w2", 0)
	assert.NoError(t, err)
}

func TestRelease(t *testing.T) {
	r, _ := testRegistry(t, 1)

	s, err := r.ClaimSlot("CLM_1", 0, "w1", 0)
	require.NoError(t, err)

	require.NoError(t, r.Release(s.Token))
	// Releasing twice is a no-op
	require.NoError(t, r.Release(s.Token))

	live, err := r.ListLive("CLM_1", 0)
	require.NoError(t, err)
	assert.Empty(t, live)

	// Released capacity is claimable again
	_, err = r.ClaimSlot("CLM_1", 0, "w2", 0)
	assert.NoError(t, err)

	events, err := r.Events("CLM_1", 0)
	require.NoError(t, err)
	kinds := []EventKind{}
	for _, e := range events {
		kinds = append(kinds, e.Kind)
	}
	assert.Equal(t, []EventKind{EventClaimed, EventReleased, EventClaimed}, kinds)
}

func TestReleaseStage(t *testing.T) {
	r, _ := testRegistry(t, 4)

	for _, w := range []string{"w1", "w2", "w3"} {
		_, err := r.ClaimSlot("CLM_1", 0, w, 0)
		require.NoError(t, err)
	}

	require.NoError(t, r.ReleaseStage("CLM_1", 0))

	live, err := r.ListLive("CLM_1", 0)
	require.NoError(t, err)
	assert.Empty(t, live)
}

func TestSweepExpired(t *testing.T) {
	r, conn := testRegistry(t, 4)

	s1, err := r.ClaimSlot("CLM_1", 0, "w1", 0)
	require.NoError(t, err)
	_, err = r.ClaimSlot("CLM_1", 0, "w2", 0)
	require.NoError(t, err)

	backdateDeadline(t, conn, s1.Token, time.Second)

	reclaimed, err := r.SweepExpired(time.Now().UTC())
	require.NoError(t, err)
	assert.Equal(t, 1, reclaimed)

	// Sweeping again finds nothing
	reclaimed, err = r.SweepExpired(time.Now().UTC())
	require.NoError(t, err)
	assert.Zero(t, reclaimed)

	events, err := r.Events("CLM_1", 0)
	require.NoError(t, err)
	var expiries int
	for _, e := range events {
		if e.Kind == EventExpired {
			expiries++
			assert.Equal(t, "w1", e.WorkerID)
		}
	}
	assert.Equal(t, 1, expiries)
}

func TestHeldWithinGrace(t *testing.T) {
	r, conn := testRegistry(t, 4)

	s, err := r.ClaimSlot("CLM_1", 0, "w1", 0)
	require.NoError(t, err)

	held, err := r.HeldWithinGrace("CLM_1", 0, "w1", 30*time.Second)
	require.NoError(t, err)
	assert.True(t, held)

	held, err = r.HeldWithinGrace("CLM_1", 0, "w2", 30*time.Second)
	require.NoError(t, err)
	assert.False(t, held)

	// Expired 10s ago: inside a 30s grace window, outside a 5s one
	backdateDeadline(t, conn, s.Token, 10*time.Second)
	held, err = r.HeldWithinGrace("CLM_1", 0, "w1", 30*time.Second)
	require.NoError(t, err)
	assert.True(t, held)

	held, err = r.HeldWithinGrace("CLM_1", 0, "w1", 5*time.Second)
	require.NoError(t, err)
	assert.False(t, held)
}
