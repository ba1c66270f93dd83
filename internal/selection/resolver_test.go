package selection

import (
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/go-gl/mathgl/mgl64"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewJSONHandler(io.Discard, &slog.HandlerOptions{Level: slog.LevelWarn}))
}

// sliceSource is a Source backed by a slice; nil entries are unknown.
type sliceSource []*mgl64.Vec3

func (s sliceSource) Len() int { return len(s) }

func (s sliceSource) Position(i int) (mgl64.Vec3, bool) {
	if s[i] == nil {
		return mgl64.Vec3{}, false
	}
	return *s[i], true
}

func (s sliceSource) Scale() float64 { return 1 }

func at(x, y, z float64) *mgl64.Vec3 {
	return &mgl64.Vec3{x, y, z}
}

const (
	width  = 800
	height = 600
)

func viewFrom(eye mgl64.Vec3) View {
	return View{
		Eye:        eye,
		Matrix:     mgl64.LookAtV(eye, mgl64.Vec3{}, mgl64.Vec3{0, 1, 0}),
		Projection: mgl64.Perspective(mgl64.DegToRad(45), float64(width)/height, 0.001, 100),
		Width:      width,
		Height:     height,
	}
}

// pixelOffset returns the pointer coordinates of p as seen by view.
func pixelOffset(t *testing.T, view View, p mgl64.Vec3) (float64, float64) {
	t.Helper()
	win := mgl64.Project(p, view.Matrix, view.Projection, 0, 0, view.Width, view.Height)
	return win.X(), float64(view.Height) - win.Y()
}

func TestResolveGatedWhenFar(t *testing.T) {
	r := NewResolver(Config{}, testLogger())
	src := make(sliceSource, 10)
	src[5] = at(0, 0, 0.11)

	// Camera at distance 2, above the detailed-view threshold, pointer
	// directly over object 5.
	view := viewFrom(mgl64.Vec3{0, 0, 2})
	x, y := pixelOffset(t, view, *src[5])

	res := r.Resolve(view, x, y, src)

	assert.False(t, res.Hit())
	assert.Equal(t, -1, res.Index)
	assert.True(t, res.Gated)
	assert.Equal(t, MethodNone, res.Method)
}

func TestResolveRaycastHit(t *testing.T) {
	r := NewResolver(Config{}, testLogger())
	src := make(sliceSource, 10)
	src[3] = at(0.02, 0, 0.11)
	src[5] = at(0, 0, 0.11)

	view := viewFrom(mgl64.Vec3{0, 0, 0.3})
	res := r.Resolve(view, width/2, height/2, src)

	require.True(t, res.Hit())
	assert.Equal(t, 5, res.Index)
	assert.Equal(t, MethodRaycast, res.Method)
}

func TestResolveRaycastPicksNearest(t *testing.T) {
	r := NewResolver(Config{}, testLogger())
	src := sliceSource{at(0, 0, 0.11), at(0, 0, 0.15), nil}

	res := r.Resolve(viewFrom(mgl64.Vec3{0, 0, 0.3}), width/2, height/2, src)

	assert.Equal(t, 1, res.Index)
}

func TestResolveScreenFallback(t *testing.T) {
	r := NewResolver(Config{}, testLogger())
	src := sliceSource{at(0, 0, 0.11)}
	view := viewFrom(mgl64.Vec3{0, 0, 0.3})
	x, y := pixelOffset(t, view, *src[0])

	// One pixel is ~0.00026 units at this depth: 10 px misses the 0.0015
	// pick sphere but is inside the 12 px tolerance.
	res := r.Resolve(view, x+10, y, src)
	assert.Equal(t, 0, res.Index)
	assert.Equal(t, MethodScreen, res.Method)

	res = r.Resolve(view, x+20, y, src)
	assert.False(t, res.Hit())
	assert.False(t, res.Gated)
}

func TestResolveIgnoresOccluded(t *testing.T) {
	r := NewResolver(Config{}, testLogger())
	// Directly behind the body as seen from the camera.
	src := sliceSource{at(0, 0, -0.11)}

	res := r.Resolve(viewFrom(mgl64.Vec3{0, 0, 0.3}), width/2, height/2, src)

	assert.False(t, res.Hit())
}

func TestResolveIgnoresUnknown(t *testing.T) {
	r := NewResolver(Config{}, testLogger())
	src := make(sliceSource, 4)

	res := r.Resolve(viewFrom(mgl64.Vec3{0, 0, 0.3}), width/2, height/2, src)

	assert.False(t, res.Hit())
}

func TestRaySphere(t *testing.T) {
	tests := []struct {
		name   string
		origin mgl64.Vec3
		dir    mgl64.Vec3
		wantT  float64
		wantOK bool
	}{
		{"front", mgl64.Vec3{0, 0, 5}, mgl64.Vec3{0, 0, -1}, 4, true},
		{"inside", mgl64.Vec3{}, mgl64.Vec3{1, 0, 0}, 1, true},
		{"behind", mgl64.Vec3{0, 0, 5}, mgl64.Vec3{0, 0, 1}, 0, false},
		{"miss", mgl64.Vec3{0, 2, 5}, mgl64.Vec3{0, 0, -1}, 0, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := raySphere(tt.origin, tt.dir, mgl64.Vec3{}, 1)
			assert.Equal(t, tt.wantOK, ok)
			if ok {
				assert.InDelta(t, tt.wantT, got, 1e-9)
			}
		})
	}
}

func TestClickDetector(t *testing.T) {
	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	c := NewClickDetector(200 * time.Millisecond)

	assert.False(t, c.Release(base), "release without press")

	c.Press(base)
	assert.False(t, c.Dragging(base.Add(100*time.Millisecond)))
	assert.True(t, c.Release(base.Add(150*time.Millisecond)))

	c.Press(base)
	assert.True(t, c.Dragging(base.Add(200*time.Millisecond)))
	assert.False(t, c.Release(base.Add(200*time.Millisecond)))
	assert.False(t, c.Pressed())
}
