// internal/browser/motion_test.go
package browser

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMotion_PathEndsOnTarget(t *testing.T) {
	m := newMotion(42)
	target := point{640, 400}

	pts, pause := m.path(target)
	require.GreaterOrEqual(t, len(pts), 2)
	assert.Equal(t, target, pts[len(pts)-1])
	assert.Greater(t, pause, time.Duration(0))

	// The first sample sits at the start of the curve.
	assert.InDelta(t, 0, pts[0].X, 1e-9)
	assert.InDelta(t, 0, pts[0].Y, 1e-9)

	// Control points stay within the curvature bound, so the path never strays
	// far outside the bounding box of the move.
	dist := point{}.dist(target)
	for _, p := range pts {
		assert.LessOrEqual(t, p.X, target.X+curvature*dist)
		assert.GreaterOrEqual(t, p.Y, -curvature*dist)
	}
}

func TestMotion_RemembersPointer(t *testing.T) {
	m := newMotion(7)
	m.path(point{100, 100})

	pts, pause := m.path(point{100.5, 100.2})
	assert.Equal(t, []point{{100.5, 100.2}}, pts, "sub-pixel moves jump straight to the target")
	assert.Zero(t, pause)
}

func TestMotion_LongerMovesTakeLonger(t *testing.T) {
	m := newMotion(1)
	// Jitter is +/-15%, far below the gap between these distances.
	assert.Less(t, m.moveDuration(20), m.moveDuration(2000))
}

func TestMotion_KeyDelays(t *testing.T) {
	m := newMotion(3)
	delays := m.keyDelays([]rune("the quick fox"))
	require.Len(t, delays, 13)
	for _, d := range delays {
		assert.GreaterOrEqual(t, d, 35*time.Millisecond)
	}
	assert.Empty(t, m.keyDelays(nil))
}

func TestMotion_Tasks(t *testing.T) {
	m := newMotion(9)
	moves := m.moveTasks(300, 200)
	assert.NotEmpty(t, moves)
	assert.Len(t, m.typeTasks("héllo"), 10, "one pause and one key event per rune")
}

func TestChromeActuator_HumanizedClickIsOneBatch(t *testing.T) {
	runner := &recordingRunner{}
	a := newTestActuator(t, runner)
	a.viewport = Viewport{Width: 1280, Height: 800}
	a.motion = newMotion(5)

	require.NoError(t, a.Click(context.Background(), 50, 50))
	assert.Equal(t, 2, runner.calls, "viewport probe plus one batched move and click")

	require.NoError(t, a.Type(context.Background(), "hello"))
	assert.Equal(t, 3, runner.calls)
}
