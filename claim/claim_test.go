package claim

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/veridict/veridict/errors"
)

func TestNew(t *testing.T) {
	c, err := New([]byte(`{"text":"water boils at 100C at sea level"}`), map[string]string{"source": "feed-7"})
	require.NoError(t, err)

	assert.True(t, strings.HasPrefix(c.ID, "CLM_"))
	assert.Equal(t, 0, c.Stage)
	assert.Equal(t, StatusPending, c.Status)
	assert.Equal(t, int64(1), c.Version)
	assert.Equal(t, c.CreatedAt, c.StageEnteredAt)
}

func TestNewRejectsEmptyPayload(t *testing.T) {
	_, err := New(nil, nil)
	assert.True(t, errors.Is(err, errors.ErrInvalidPayload))

	_, err = New([]byte{}, nil)
	assert.True(t, errors.Is(err, errors.ErrInvalidPayload))
}

func TestStatusTerminal(t *testing.T) {
	assert.False(t, StatusPending.Terminal())
	assert.False(t, StatusInReview.Terminal())
	assert.True(t, StatusApproved.Terminal())
	assert.True(t, StatusRejected.Terminal())
	assert.True(t, StatusDeferred.Terminal())
}

func TestAdvanceStageResetsClocks(t *testing.T) {
	c, err := New([]byte("x"), nil)
	require.NoError(t, err)

	c.RetryCount = 2
	entered := time.Now().UTC().Add(time.Minute)
	c.AdvanceStage(entered)

	assert.Equal(t, 1, c.Stage)
	assert.Zero(t, c.RetryCount)
	assert.Equal(t, entered, c.StageEnteredAt)
	assert.Equal(t, entered, c.StageFirstEnteredAt)
}

func TestRestartStageClockKeepsDwell(t *testing.T) {
	c, err := New([]byte("x"), nil)
	require.NoError(t, err)

	first := c.StageFirstEnteredAt
	restart := time.Now().UTC().Add(time.Minute)
	c.RestartStageClock(restart)

	assert.Equal(t, 1, c.RetryCount)
	assert.Equal(t, restart, c.StageEnteredAt)
	assert.Equal(t, first, c.StageFirstEnteredAt, "dwell accumulates across retries")

	later := restart.Add(30 * time.Second)
	assert.Equal(t, 30*time.Second, c.StageElapsed(later))
	assert.Greater(t, c.StageDwell(later), c.StageElapsed(later))
}

func TestReenterStage(t *testing.T) {
	c, err := New([]byte("x"), nil)
	require.NoError(t, err)

	c.Defer()
	c.RetryCount = 3

	now := time.Now().UTC().Add(time.Minute)
	c.ReenterStage(now)

	assert.Equal(t, StatusInReview, c.Status)
	assert.Zero(t, c.RetryCount)
	assert.Equal(t, now, c.StageEnteredAt)
	assert.Equal(t, now, c.StageFirstEnteredAt)
}

func TestMetadataRoundTrip(t *testing.T) {
	meta := map[string]string{"source": "feed-7", "priority": "high"}
	raw, err := MarshalMetadata(meta)
	require.NoError(t, err)

	got, err := UnmarshalMetadata(raw)
	require.NoError(t, err)
	assert.Equal(t, meta, got)

	got, err = UnmarshalMetadata("")
	require.NoError(t, err)
	assert.Nil(t, got)
}
