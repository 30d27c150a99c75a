package slot

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestMonitorSweep(t *testing.T) {
	r, conn := testRegistry(t, 4)
	m := NewMonitor(r, MonitorConfig{SweepInterval: time.Hour}, zap.NewNop().Sugar())

	s, err := r.ClaimSlot("CLM_1", 0, "w1", 0)
	require.NoError(t, err)
	backdateDeadline(t, conn, s.Token, time.Second)

	require.NoError(t, m.Sweep(time.Now().UTC()))

	stats := m.Stats()
	assert.Equal(t, int64(1), stats["sweeps"])
	assert.Equal(t, int64(1), stats["slots_reclaimed"])

	live, err := r.ListLive("CLM_1", 0)
	require.NoError(t, err)
	assert.Empty(t, live)
}

func TestMonitorStartStop(t *testing.T) {
	r, conn := testRegistry(t, 4)
	m := NewMonitor(r, MonitorConfig{SweepInterval: 10 * time.Millisecond}, zap.NewNop().Sugar())

	s, err := r.ClaimSlot("CLM_1", 0, "w1", 0)
	require.NoError(t, err)
	backdateDeadline(t, conn, s.Token, time.Second)

	m.Start()
	defer m.Stop()

	deadline := time.After(3 * time.Second)
	for {
		stats := m.Stats()
		if stats["slots_reclaimed"].(int64) >= 1 {
			break
		}
		select {
		case <-deadline:
			t.Fatal("monitor never reclaimed the stale slot")
		case <-time.After(10 * time.Millisecond):
		}
	}
}
