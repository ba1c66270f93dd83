package labels

import (
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/go-gl/mathgl/mgl64"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/star/orbitsync/internal/transform"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewJSONHandler(io.Discard, &slog.HandlerOptions{Level: slog.LevelWarn}))
}

var t0 = time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

type fakeHandle struct {
	index     int
	opacity   float64
	position  mgl64.Vec3
	destroyed bool
}

func (h *fakeHandle) SetOpacity(o float64)     { h.opacity = o }
func (h *fakeHandle) SetPosition(p mgl64.Vec3) { h.position = p }
func (h *fakeHandle) Destroy()                 { h.destroyed = true }

type fakeFactory struct {
	created []*fakeHandle
}

func (f *fakeFactory) Create(index int) Handle {
	h := &fakeHandle{index: index}
	f.created = append(f.created, h)
	return h
}

type sliceSource []*mgl64.Vec3

func (s sliceSource) Len() int { return len(s) }

func (s sliceSource) Position(i int) (mgl64.Vec3, bool) {
	if i < 0 || i >= len(s) || s[i] == nil {
		return mgl64.Vec3{}, false
	}
	return *s[i], true
}

func viewFrom(eye mgl64.Vec3) View {
	m := mgl64.Perspective(mgl64.DegToRad(45), 4.0/3, 0.0001, 100).
		Mul4(mgl64.LookAtV(eye, mgl64.Vec3{}, mgl64.Vec3{0, 1, 0}))
	return View{Eye: eye, Frustum: transform.FrustumFromMatrix(m)}
}

// line places n objects on the view axis in front of a camera at z=0.3,
// nearest first.
func line(n int) sliceSource {
	src := make(sliceSource, n)
	for i := range src {
		src[i] = &mgl64.Vec3{0, 0, 0.29 - 0.001*float64(i)}
	}
	return src
}

func newManager() (*Manager, *fakeFactory) {
	f := &fakeFactory{}
	return NewManager(Config{}, f, testLogger()), f
}

func TestFadeIn(t *testing.T) {
	m, f := newManager()

	m.Show(4, t0)
	require.Len(t, f.created, 1)
	h := f.created[0]
	assert.Equal(t, 0.0, h.opacity)

	m.Update(t0.Add(125*time.Millisecond), nil)
	phase, _ := m.Phase(4)
	assert.Equal(t, PhaseFadingIn, phase)
	assert.InDelta(t, 0.5, h.opacity, 1e-9)

	m.Update(t0.Add(250*time.Millisecond), nil)
	phase, _ = m.Phase(4)
	assert.Equal(t, PhaseVisible, phase)
	assert.Equal(t, 1.0, h.opacity)
}

func TestShowVisibleIsNoop(t *testing.T) {
	m, f := newManager()
	m.Show(1, t0)
	m.Update(t0.Add(time.Second), nil)

	for i := 0; i < 5; i++ {
		m.Show(1, t0.Add(time.Duration(i)*time.Second))
		m.Update(t0.Add(time.Duration(i)*time.Second+time.Millisecond), nil)
	}

	phase, ok := m.Phase(1)
	require.True(t, ok)
	assert.Equal(t, PhaseVisible, phase)
	assert.Len(t, f.created, 1)
	assert.Equal(t, 1.0, f.created[0].opacity)
	assert.False(t, f.created[0].destroyed)
}

func TestHideThenShowKeepsHandle(t *testing.T) {
	m, f := newManager()
	m.Show(2, t0)
	m.Update(t0.Add(300*time.Millisecond), nil)

	m.Hide(2, t0.Add(300*time.Millisecond))
	m.Update(t0.Add(400*time.Millisecond), nil)
	phase, _ := m.Phase(2)
	assert.Equal(t, PhaseFadingOut, phase)
	assert.InDelta(t, 0.6, f.created[0].opacity, 1e-9)

	m.Show(2, t0.Add(400*time.Millisecond))

	phase, _ = m.Phase(2)
	assert.Equal(t, PhaseFadingIn, phase)
	assert.Len(t, f.created, 1)
	assert.False(t, f.created[0].destroyed)

	// Fades back in from where it was.
	m.Update(t0.Add(450*time.Millisecond), nil)
	assert.InDelta(t, 0.8, f.created[0].opacity, 1e-9)
	m.Update(t0.Add(600*time.Millisecond), nil)
	phase, _ = m.Phase(2)
	assert.Equal(t, PhaseVisible, phase)
}

func TestHideDestroysAfterFade(t *testing.T) {
	m, f := newManager()
	m.Show(2, t0)
	m.Update(t0.Add(300*time.Millisecond), nil)

	m.Hide(2, t0.Add(time.Second))
	m.Update(t0.Add(1249*time.Millisecond), nil)
	assert.Equal(t, 1, m.Len())
	assert.False(t, f.created[0].destroyed)

	m.Update(t0.Add(1250*time.Millisecond), nil)
	assert.Equal(t, 0, m.Len())
	assert.True(t, f.created[0].destroyed)
	_, ok := m.Phase(2)
	assert.False(t, ok)
}

func TestHideTwiceDoesNotRestartFade(t *testing.T) {
	m, f := newManager()
	m.Show(2, t0)
	m.Update(t0.Add(300*time.Millisecond), nil)

	m.Hide(2, t0.Add(time.Second))
	m.Hide(2, t0.Add(1200*time.Millisecond))
	m.Update(t0.Add(1250*time.Millisecond), nil)

	assert.True(t, f.created[0].destroyed)
}

func TestUpdateMovesHandles(t *testing.T) {
	m, f := newManager()
	src := sliceSource{nil, &mgl64.Vec3{0.1, 0.02, 0}}
	m.Show(1, t0)

	m.Update(t0.Add(10*time.Millisecond), src)

	assert.Equal(t, mgl64.Vec3{0.1, 0.02, 0}, f.created[0].position)
}

func TestLimit(t *testing.T) {
	m, _ := newManager()
	tests := []struct {
		distance float64
		want     int
	}{
		{0.05, 50},
		{0.12, 50},
		{0.31, 100},
		{0.5, 150},
		{5, 150},
	}
	for _, tt := range tests {
		if got := m.Limit(tt.distance); got != tt.want {
			t.Errorf("Limit(%v) = %d, want %d", tt.distance, got, tt.want)
		}
	}
}

func TestCandidatesNearestK(t *testing.T) {
	m, _ := newManager()
	view := viewFrom(mgl64.Vec3{0, 0, 0.3})
	src := line(150)
	src = append(src, nil, &mgl64.Vec3{0.5, 0, 0}) // unknown, outside radius

	got := m.Candidates(view, src)

	k := m.Limit(0.3)
	require.Len(t, got, k)
	for i, idx := range got {
		assert.Equal(t, i, idx, "candidates are ordered nearest first")
	}
}

func TestCandidatesFrustum(t *testing.T) {
	m, _ := newManager()
	view := viewFrom(mgl64.Vec3{0, 0, 0.3})
	// Within the radius but behind the camera.
	src := sliceSource{&mgl64.Vec3{0, 0, 0.35}, &mgl64.Vec3{0, 0, 0.25}}

	assert.Equal(t, []int{1}, m.Candidates(view, src))
}

func TestRefreshSelectedExemptFromCap(t *testing.T) {
	m, _ := newManager()
	view := viewFrom(mgl64.Vec3{0, 0, 0.3})
	src := line(150)

	m.Refresh(t0, view, src, 140)

	assert.Equal(t, m.Limit(0.3)+1, m.Len())
	_, ok := m.Phase(140)
	assert.True(t, ok)
}

func TestRefreshDisabledKeepsSelected(t *testing.T) {
	m, _ := newManager()
	view := viewFrom(mgl64.Vec3{0, 0, 0.3})
	src := line(20)
	m.Refresh(t0, view, src, -1)
	m.Update(t0.Add(time.Second), src)
	require.Equal(t, 20, m.Len())

	m.SetEnabled(false)
	m.Refresh(t0.Add(time.Second), view, src, 7)

	for i := 0; i < 20; i++ {
		phase, ok := m.Phase(i)
		require.True(t, ok)
		if i == 7 {
			assert.Equal(t, PhaseVisible, phase)
		} else {
			assert.Equal(t, PhaseFadingOut, phase)
		}
	}

	m.Update(t0.Add(2*time.Second), src)
	assert.Equal(t, 1, m.Len())
}

func TestRefreshSelectedCutoff(t *testing.T) {
	m, _ := newManager()
	m.SetEnabled(false)
	src := sliceSource{&mgl64.Vec3{0, 0, 0.11}}

	m.Refresh(t0, viewFrom(mgl64.Vec3{0, 0, 3}), src, 0)
	assert.Equal(t, 0, m.Len())

	m.Refresh(t0, viewFrom(mgl64.Vec3{0, 0, 1.5}), src, 0)
	assert.Equal(t, 1, m.Len())
}

func TestClear(t *testing.T) {
	m, f := newManager()
	m.Show(1, t0)
	m.Show(2, t0)

	m.Clear()

	assert.Equal(t, 0, m.Len())
	for _, h := range f.created {
		assert.True(t, h.destroyed)
	}
}

func TestStatesOrdered(t *testing.T) {
	m, _ := newManager()
	m.Show(9, t0)
	m.Show(3, t0)

	states := m.States()

	require.Len(t, states, 2)
	assert.Equal(t, 3, states[0].Index)
	assert.Equal(t, "fading_in", states[0].Phase)
}
