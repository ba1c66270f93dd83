// Package labels manages object name labels: which objects get one, and
// the fade of each label in and out.
//
// A label is created FadingIn at opacity 0 and ramps to Visible. Removal
// marks it FadingOut; the handle is destroyed only when that fade ends, and
// a label asked back before then fades in again with the same handle.
package labels

import (
	"log/slog"
	"math"
	"sort"
	"time"

	"github.com/go-gl/mathgl/mgl64"

	"github.com/star/orbitsync/internal/metrics"
	"github.com/star/orbitsync/internal/transform"
)

// Phase is a label's lifecycle state.
type Phase int

const (
	PhaseFadingIn Phase = iota
	PhaseVisible
	PhaseFadingOut
)

func (p Phase) String() string {
	switch p {
	case PhaseFadingIn:
		return "fading_in"
	case PhaseVisible:
		return "visible"
	case PhaseFadingOut:
		return "fading_out"
	default:
		return "unknown"
	}
}

// Handle is the renderer's label object.
type Handle interface {
	SetOpacity(opacity float64)
	SetPosition(p mgl64.Vec3)
	Destroy()
}

// HandleFactory creates label handles for objects.
type HandleFactory interface {
	Create(index int) Handle
}

// Source provides object positions in scene space.
type Source interface {
	Len() int
	Position(i int) (mgl64.Vec3, bool)
}

// View is the camera as seen by label ranking.
type View struct {
	Eye     mgl64.Vec3
	Frustum transform.Frustum
}

// Config holds label tuning. Zero fields take the defaults.
type Config struct {
	FadeIn         time.Duration // default 250ms
	FadeOut        time.Duration // default 250ms
	MinCount       int           // K at NearDistance and closer (default 50)
	MaxCount       int           // K at FarDistance and beyond (default 150)
	NearDistance   float64       // default 0.12
	FarDistance    float64       // default 0.5
	RadiusFactor   float64       // visibility radius per unit of camera distance (default 0.6)
	FrustumMargin  float64       // frustum slack per unit of camera distance (default 0.1)
	SelectedCutoff float64       // selected label hides beyond this distance (default 2.0)
}

// DefaultConfig returns the default tuning.
func DefaultConfig() Config {
	return Config{
		FadeIn:         250 * time.Millisecond,
		FadeOut:        250 * time.Millisecond,
		MinCount:       50,
		MaxCount:       150,
		NearDistance:   0.12,
		FarDistance:    0.5,
		RadiusFactor:   0.6,
		FrustumMargin:  0.1,
		SelectedCutoff: 2.0,
	}
}

func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.FadeIn <= 0 {
		c.FadeIn = d.FadeIn
	}
	if c.FadeOut <= 0 {
		c.FadeOut = d.FadeOut
	}
	if c.MinCount <= 0 {
		c.MinCount = d.MinCount
	}
	if c.MaxCount < c.MinCount {
		c.MaxCount = max(d.MaxCount, c.MinCount)
	}
	if c.NearDistance <= 0 || c.FarDistance <= c.NearDistance {
		c.NearDistance, c.FarDistance = d.NearDistance, d.FarDistance
	}
	if c.RadiusFactor <= 0 {
		c.RadiusFactor = d.RadiusFactor
	}
	if c.FrustumMargin < 0 {
		c.FrustumMargin = d.FrustumMargin
	}
	if c.SelectedCutoff <= 0 {
		c.SelectedCutoff = d.SelectedCutoff
	}
	return c
}

type entry struct {
	index   int
	phase   Phase
	opacity float64
	from    float64 // opacity when the current fade started
	started time.Time
	handle  Handle
}

// EntryState is a read-only view of one label.
type EntryState struct {
	Index   int     `json:"index"`
	Phase   string  `json:"phase"`
	Opacity float64 `json:"opacity"`
}

// Manager owns every label. It is not safe for concurrent use.
type Manager struct {
	config  Config
	factory HandleFactory
	logger  *slog.Logger

	entries map[int]*entry
	enabled bool
}

// NewManager creates a manager with labels enabled.
func NewManager(config Config, factory HandleFactory, logger *slog.Logger) *Manager {
	return &Manager{
		config:  config.withDefaults(),
		factory: factory,
		logger:  logger,
		entries: make(map[int]*entry),
		enabled: true,
	}
}

// SetEnabled toggles ranked labels. The selected label ignores it.
func (m *Manager) SetEnabled(enabled bool) {
	m.enabled = enabled
}

// Enabled reports whether ranked labels are shown.
func (m *Manager) Enabled() bool {
	return m.enabled
}

// Show requests a label for index. Visible and FadingIn labels are left
// alone; a FadingOut label fades back in from its current opacity.
func (m *Manager) Show(index int, now time.Time) {
	e, ok := m.entries[index]
	if !ok {
		m.entries[index] = &entry{
			index:   index,
			phase:   PhaseFadingIn,
			started: now,
			handle:  m.factory.Create(index),
		}
		m.entries[index].handle.SetOpacity(0)
		return
	}
	if e.phase == PhaseFadingOut {
		e.phase = PhaseFadingIn
		e.from = e.opacity
		e.started = now
	}
}

// Hide starts fading out the label for index, if any.
func (m *Manager) Hide(index int, now time.Time) {
	e, ok := m.entries[index]
	if !ok || e.phase == PhaseFadingOut {
		return
	}
	e.phase = PhaseFadingOut
	e.from = e.opacity
	e.started = now
}

// Update advances every fade to now, moves handles to the objects' current
// positions and destroys labels whose fade-out has finished.
func (m *Manager) Update(now time.Time, src Source) {
	for index, e := range m.entries {
		switch e.phase {
		case PhaseFadingIn:
			e.opacity = math.Min(1, e.from+fraction(now.Sub(e.started), m.config.FadeIn))
			if e.opacity >= 1 {
				e.phase = PhaseVisible
			}
		case PhaseFadingOut:
			f := fraction(now.Sub(e.started), m.config.FadeOut)
			if f >= 1 {
				e.handle.Destroy()
				delete(m.entries, index)
				continue
			}
			e.opacity = e.from * (1 - f)
		}
		e.handle.SetOpacity(e.opacity)
		if src != nil {
			if p, ok := src.Position(index); ok {
				e.handle.SetPosition(p)
			}
		}
	}
	metrics.SetLabelsActive(len(m.entries))
}

// Refresh recomputes the wanted label set: the nearest K known objects
// inside the visibility radius and the view frustum (when labels are
// enabled), plus the selected object unless it is beyond the cutoff.
// Labels that are no longer wanted start fading out.
func (m *Manager) Refresh(now time.Time, view View, src Source, selected int) {
	wanted := make(map[int]bool)
	for _, i := range m.Candidates(view, src) {
		wanted[i] = true
	}
	if selected >= 0 {
		if p, ok := src.Position(selected); ok && p.Sub(view.Eye).Len() <= m.config.SelectedCutoff {
			wanted[selected] = true
		}
	}

	for i := range wanted {
		m.Show(i, now)
	}
	for i := range m.entries {
		if !wanted[i] {
			m.Hide(i, now)
		}
	}
}

// Candidates returns the ranked label indices for view, nearest first. It
// is empty when labels are disabled.
func (m *Manager) Candidates(view View, src Source) []int {
	if !m.enabled {
		return nil
	}
	dist := view.Eye.Len()
	radius := m.config.RadiusFactor * dist
	margin := m.config.FrustumMargin * dist

	type candidate struct {
		index int
		d     float64
	}
	var cands []candidate
	for i := 0; i < src.Len(); i++ {
		p, ok := src.Position(i)
		if !ok {
			continue
		}
		d := p.Sub(view.Eye).Len()
		if d > radius || !view.Frustum.Contains(p, margin) {
			continue
		}
		cands = append(cands, candidate{i, d})
	}
	sort.Slice(cands, func(a, b int) bool {
		if cands[a].d != cands[b].d {
			return cands[a].d < cands[b].d
		}
		return cands[a].index < cands[b].index
	})

	k := m.Limit(dist)
	if len(cands) > k {
		cands = cands[:k]
	}
	out := make([]int, len(cands))
	for i, c := range cands {
		out[i] = c.index
	}
	return out
}

// Limit returns K for a camera at distance from the body centre: MinCount
// up close, MaxCount far out, linear in between.
func (m *Manager) Limit(distance float64) int {
	c := m.config
	t := mgl64.Clamp((distance-c.NearDistance)/(c.FarDistance-c.NearDistance), 0, 1)
	return c.MinCount + int(math.Round(t*float64(c.MaxCount-c.MinCount)))
}

// Phase returns the phase of the label for index.
func (m *Manager) Phase(index int) (Phase, bool) {
	e, ok := m.entries[index]
	if !ok {
		return 0, false
	}
	return e.phase, true
}

// Len returns the number of live labels, including fading ones.
func (m *Manager) Len() int {
	return len(m.entries)
}

// Clear destroys every label immediately.
func (m *Manager) Clear() {
	for i, e := range m.entries {
		e.handle.Destroy()
		delete(m.entries, i)
	}
	metrics.SetLabelsActive(0)
}

// States returns every label ordered by index.
func (m *Manager) States() []EntryState {
	out := make([]EntryState, 0, len(m.entries))
	for _, e := range m.entries {
		out = append(out, EntryState{Index: e.index, Phase: e.phase.String(), Opacity: e.opacity})
	}
	sort.Slice(out, func(a, b int) bool { return out[a].Index < out[b].Index })
	return out
}

func fraction(elapsed, total time.Duration) float64 {
	if total <= 0 {
		return 1
	}
	return math.Max(0, float64(elapsed)/float64(total))
}
