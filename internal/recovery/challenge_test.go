package recovery

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/xkilldash9x/waypoint/api/schemas"
	"github.com/xkilldash9x/waypoint/internal/mocks"
)

func TestIsChallenge(t *testing.T) {
	assert.True(t, IsChallenge(schemas.Observation{UIState: schemas.UIStateChallenge}))
	assert.True(t, IsChallenge(schemas.Observation{Title: "Just a moment..."}))
	assert.True(t, IsChallenge(schemas.Observation{Description: "A reCAPTCHA checkbox is shown"}))
	assert.False(t, IsChallenge(schemas.Observation{UIState: schemas.UIStateForm, Title: "Apply now"}))
}

type fakeClock struct{ t time.Time }

func (c *fakeClock) now() time.Time { return c.t }
func (c *fakeClock) sleep(_ context.Context, d time.Duration) error {
	c.t = c.t.Add(d)
	return nil
}

func newTestDetector(t *testing.T, obs Observer) (*ChallengeDetector, *fakeClock) {
	clock := &fakeClock{t: time.Unix(0, 0)}
	d := NewChallengeDetector(obs, testRecoveryConfig(), zaptest.NewLogger(t))
	d.now = clock.now
	d.sleep = clock.sleep
	return d, clock
}

func TestWaitForClearance_Clears(t *testing.T) {
	blocked := schemas.Observation{UIState: schemas.UIStateChallenge}
	seq := mocks.NewObservationSequence(blocked, blocked, schemas.Observation{UIState: schemas.UIStateLoaded})
	d, clock := newTestDetector(t, seq)

	ok, err := d.WaitForClearance(context.Background())
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, 3, seq.Calls())
	assert.Equal(t, 4*time.Second, clock.t.Sub(time.Unix(0, 0)))
}

func TestWaitForClearance_TimesOut(t *testing.T) {
	seq := mocks.NewObservationSequence(schemas.Observation{UIState: schemas.UIStateChallenge})
	d, clock := newTestDetector(t, seq)

	ok, err := d.WaitForClearance(context.Background())
	require.NoError(t, err)
	assert.False(t, ok)
	// Polls at 0, 2, 4, 6, 8 and 10 seconds; the poll at the timeout is the last.
	assert.Equal(t, 6, seq.Calls())
	assert.Equal(t, 10*time.Second, clock.t.Sub(time.Unix(0, 0)))
}

func TestWaitForClearance_ContextCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	d, _ := newTestDetector(t, mocks.NewObservationSequence(schemas.Observation{UIState: schemas.UIStateChallenge}))

	ok, err := d.WaitForClearance(ctx)
	assert.False(t, ok)
	assert.ErrorIs(t, err, context.Canceled)
}
