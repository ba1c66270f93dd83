package camera

import (
	"io"
	"log/slog"
	"math"
	"testing"
	"time"

	"github.com/go-gl/mathgl/mgl64"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewJSONHandler(io.Discard, &slog.HandlerOptions{Level: slog.LevelWarn}))
}

var t0 = time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

func assertVec(t *testing.T, want, got mgl64.Vec3, delta float64) {
	t.Helper()
	for i := range want {
		assert.InDelta(t, want[i], got[i], delta, "component %d of %v", i, got)
	}
}

// tracking returns a camera that has finished flying to object.
func tracking(t *testing.T, object mgl64.Vec3) *Camera {
	t.Helper()
	c := New(Config{}, testLogger())
	require.True(t, c.Track(3, object, t0))
	c.Update(t0.Add(2*time.Second), object, true)
	require.Equal(t, ModeTracking, c.Mode())
	return c
}

func TestTrackRequiresSelection(t *testing.T) {
	c := New(Config{}, testLogger())

	assert.False(t, c.Track(-1, mgl64.Vec3{0.11, 0, 0}, t0))
	assert.False(t, c.Track(2, mgl64.Vec3{math.NaN(), 0, 0}, t0))
	assert.Equal(t, ModeGlobal, c.Mode())
	assert.Equal(t, -1, c.Tracked())
}

func TestArcTransition(t *testing.T) {
	c := New(Config{}, testLogger())
	object := mgl64.Vec3{0.107, 0, 0}

	require.True(t, c.Track(3, object, t0))
	assert.Equal(t, ModeTransitioning, c.Mode())
	assert.True(t, c.State().Arc, "90 degree turn takes the arc path")
	assert.False(t, c.InputEnabled())

	// Halfway through the rotate phase: 45 degrees round, distance unchanged.
	p := c.Update(t0.Add(560*time.Millisecond), object, true)
	s := math.Sqrt2 / 2
	assertVec(t, mgl64.Vec3{0.4 * s, 0, 0.4 * s}, p.Eye, 1e-9)

	// End of the rotate phase: on the final direction, still at 0.4.
	p = c.Update(t0.Add(1120*time.Millisecond), object, true)
	assertVec(t, mgl64.Vec3{0.4, 0, 0}, p.Eye, 1e-9)
	assertVec(t, object, p.Target, 1e-9)

	// Still transitioning just before the end.
	c.Update(t0.Add(1599*time.Millisecond), object, true)
	assert.Equal(t, ModeTransitioning, c.Mode())

	p = c.Update(t0.Add(1600*time.Millisecond), object, true)
	assert.Equal(t, ModeTracking, c.Mode())
	assertVec(t, mgl64.Vec3{0.137, 0, 0}, p.Eye, 1e-9)
	assertVec(t, object, p.Target, 1e-9)
	assert.True(t, c.InputEnabled())
}

func TestLinearTransition(t *testing.T) {
	c := New(Config{}, testLogger())
	object := mgl64.Vec3{0, 0, 0.107}

	require.True(t, c.Track(0, object, t0))
	assert.False(t, c.State().Arc)

	// Ease is 0.5 at the midpoint.
	p := c.Update(t0.Add(450*time.Millisecond), object, true)
	assertVec(t, mgl64.Vec3{0, 0, (0.4 + 0.137) / 2}, p.Eye, 1e-9)
	assertVec(t, mgl64.Vec3{0, 0, 0.107 / 2}, p.Target, 1e-9)

	c.Update(t0.Add(900*time.Millisecond), object, true)
	assert.Equal(t, ModeTracking, c.Mode())
}

func TestExitRestoresSavedPose(t *testing.T) {
	c := New(Config{}, testLogger())
	require.True(t, c.Rotate(0.3, 0.1, t0))
	require.True(t, c.Zoom(2, t0))
	before := c.Pose()
	controls := c.State().Controls

	c.Track(1, mgl64.Vec3{0.107, 0, 0}, t0)
	c.Update(t0.Add(2*time.Second), mgl64.Vec3{0.107, 0, 0}, true)
	// Switching objects while tracking keeps the original saved pose.
	c.Track(2, mgl64.Vec3{0, 0.107, 0}, t0.Add(3*time.Second))
	c.Update(t0.Add(3100*time.Millisecond), mgl64.Vec3{0, 0.107, 0}, true)

	c.Exit()

	assert.Equal(t, ModeGlobal, c.Mode())
	assert.Equal(t, before, c.Pose())
	assert.Equal(t, controls, c.State().Controls)
	assert.Equal(t, -1, c.Tracked())
	assert.Equal(t, mgl64.Vec3{}, c.State().Offset)
}

func TestTrackDuringTransitionReplacesAnimation(t *testing.T) {
	c := New(Config{}, testLogger())
	c.Track(1, mgl64.Vec3{0.107, 0, 0}, t0)
	mid := c.Update(t0.Add(400*time.Millisecond), mgl64.Vec3{0.107, 0, 0}, true)

	require.True(t, c.Track(2, mgl64.Vec3{0, 0, 0.107}, t0.Add(400*time.Millisecond)))

	assert.Equal(t, 2, c.Tracked())
	// The new flight starts from wherever the old one was.
	p := c.Update(t0.Add(400*time.Millisecond), mgl64.Vec3{0, 0, 0.107}, true)
	assertVec(t, mid.Eye, p.Eye, 1e-12)
}

func TestInputDisabledWhileTransitioning(t *testing.T) {
	c := New(Config{}, testLogger())
	c.Track(1, mgl64.Vec3{0.107, 0, 0}, t0)
	before := c.Pose()

	assert.False(t, c.Rotate(0.5, 0, t0))
	assert.False(t, c.Zoom(0.5, t0))
	assert.Equal(t, before, c.Pose())
}

// After a rotate input while tracking, follow stays at 0 for the grace
// window and then ramps linearly to the maximum.
func TestGraceWindowSuppressesFollow(t *testing.T) {
	object := mgl64.Vec3{0.107, 0, 0}
	c := tracking(t, object)
	assert.Equal(t, 1.0, c.Follow())

	input := t0.Add(3 * time.Second)
	require.True(t, c.Rotate(0.2, 0, input))

	tests := []struct {
		after time.Duration
		want  float64
	}{
		{0, 0},
		{500 * time.Millisecond, 0},
		{1499 * time.Millisecond, 0},
		{1500 * time.Millisecond, 0},
		{1875 * time.Millisecond, 0.25},
		{2250 * time.Millisecond, 0.5},
		{3000 * time.Millisecond, 1},
		{10 * time.Second, 1},
	}
	for _, tt := range tests {
		c.Update(input.Add(tt.after), object, true)
		assert.InDelta(t, tt.want, c.Follow(), 1e-9, "follow %v after input", tt.after)
	}
}

func TestGraceRefreshesOffset(t *testing.T) {
	object := mgl64.Vec3{0.107, 0, 0}
	c := tracking(t, object)

	input := t0.Add(3 * time.Second)
	c.Zoom(2, input)
	zoomed := c.Pose().Eye.Sub(c.Pose().Target)

	// The object moves; inside the grace window the camera does not chase it.
	moved := mgl64.Vec3{0.107, 0.001, 0}
	p := c.Update(input.Add(time.Second), moved, true)
	assertVec(t, object, p.Target, 1e-12)
	assertVec(t, zoomed, c.State().Offset, 1e-12)

	// Once follow is back the user's offset is kept while the target chases.
	p = c.Update(input.Add(5*time.Second), moved, true)
	assertVec(t, zoomed, p.Eye.Sub(p.Target), 1e-12)
	assert.Greater(t, p.Target.Y(), 0.0)
}

func TestTrackingBlendsTarget(t *testing.T) {
	object := mgl64.Vec3{0.107, 0, 0}
	c := tracking(t, object)
	offset := c.State().Offset

	moved := mgl64.Vec3{0.107, 0.01, 0}
	p := c.Update(t0.Add(3*time.Second), moved, true)

	// Blend 0.1 at full follow strength.
	assertVec(t, mgl64.Vec3{0.107, 0.001, 0}, p.Target, 1e-12)
	assertVec(t, p.Target.Add(offset), p.Eye, 1e-12)
}

func TestTrackingHoldsOnInvalidPosition(t *testing.T) {
	object := mgl64.Vec3{0.107, 0, 0}
	c := tracking(t, object)
	before := c.Pose()

	p := c.Update(t0.Add(3*time.Second), mgl64.Vec3{math.NaN(), 0, 0}, true)
	assert.Equal(t, before, p)

	p = c.Update(t0.Add(4*time.Second), mgl64.Vec3{math.Inf(1), 0, 0}, true)
	assert.Equal(t, before, p)

	p = c.Update(t0.Add(5*time.Second), mgl64.Vec3{}, false)
	assert.Equal(t, before, p)
	assert.True(t, p.Eye.Len() > 0)
}

func TestZoomClampsToControls(t *testing.T) {
	c := New(Config{}, testLogger())

	c.Zoom(100, t0)
	assert.InDelta(t, 5, c.Distance(), 1e-9)

	c.Zoom(0.0001, t0)
	assert.InDelta(t, 0.11, c.Distance(), 1e-9)

	assert.False(t, c.Zoom(-1, t0))
	assert.False(t, c.Zoom(math.NaN(), t0))
}

func TestRotateKeepsDistance(t *testing.T) {
	c := New(Config{}, testLogger())

	c.Rotate(1.2, 0.4, t0)
	assert.InDelta(t, 0.4, c.Distance(), 1e-12)
	assert.False(t, math.IsNaN(c.ViewMatrix()[0]))
}

func TestRotateRefusesPole(t *testing.T) {
	c := New(Config{}, testLogger())
	before := c.Pose()

	// A quarter turn of pitch from the equator lands on the pole.
	c.Rotate(0, math.Pi/2, t0)

	assertVec(t, before.Eye, c.Pose().Eye, 1e-12)
}

func TestEaseInOutCubic(t *testing.T) {
	assert.Equal(t, 0.0, easeInOutCubic(0))
	assert.Equal(t, 0.5, easeInOutCubic(0.5))
	assert.Equal(t, 1.0, easeInOutCubic(1))
	assert.Less(t, easeInOutCubic(0.25), 0.25)
	assert.Greater(t, easeInOutCubic(0.75), 0.75)
}

func TestModeString(t *testing.T) {
	assert.Equal(t, "global", ModeGlobal.String())
	assert.Equal(t, "transitioning_to_satellite", ModeTransitioning.String())
	assert.Equal(t, "tracking_satellite", ModeTracking.String())
}
