// Package positions holds the per-object scene transforms written by chunk
// ingestion and read every frame by rendering, selection and labels.
package positions

import (
	"log/slog"

	"github.com/go-gl/mathgl/mgl64"

	"github.com/star/orbitsync/internal/propagation"
	"github.com/star/orbitsync/internal/transform"
)

// ScaleStep maps camera distances up to MaxDistance to an instance scale.
type ScaleStep struct {
	MaxDistance float64
	Scale       float64
}

// DefaultScaleTable is the instance scale by camera distance to the body
// centre, in scene units. Distances past the last step use FarScale.
var DefaultScaleTable = []ScaleStep{
	{MaxDistance: 0.12, Scale: 0.4},
	{MaxDistance: 0.15, Scale: 0.6},
	{MaxDistance: 0.2, Scale: 0.8},
	{MaxDistance: 0.3, Scale: 1.0},
}

// DefaultFarScale applies beyond the last step of DefaultScaleTable.
const DefaultFarScale = 1.4

// Config holds store configuration.
type Config struct {
	ScaleTable []ScaleStep // ascending MaxDistance
	FarScale   float64
}

func (c Config) withDefaults() Config {
	if len(c.ScaleTable) == 0 {
		c.ScaleTable = DefaultScaleTable
	}
	if c.FarScale <= 0 {
		c.FarScale = DefaultFarScale
	}
	return c
}

// Hint carries the per-object extras from the last accepted sample.
type Hint struct {
	InFrustum bool
	RangeKm   float64
	Geodetic  *propagation.Geodetic
}

// Store is a fixed-size set of object transforms: one scene position per
// index plus one uniform scale shared by every instance. The index domain is
// fixed at construction. Store is owned by the render loop and is not safe
// for concurrent use.
type Store struct {
	config Config
	logger *slog.Logger

	positions []mgl64.Vec3
	known     []bool
	hints     []Hint
	raw       []propagation.Sample // last accepted sample per object

	scale    float64
	sidereal float64
	frame    propagation.Frame
}

// New creates a store for n objects. Every position starts unknown.
func New(n int, config Config, logger *slog.Logger) *Store {
	config = config.withDefaults()
	return &Store{
		config:    config,
		logger:    logger,
		positions: make([]mgl64.Vec3, n),
		known:     make([]bool, n),
		hints:     make([]Hint, n),
		raw:       make([]propagation.Sample, n),
		scale:     ScaleFor(config.ScaleTable, config.FarScale, 0),
		frame:     propagation.FrameFixed,
	}
}

// Len returns the fixed object count.
func (s *Store) Len() int {
	return len(s.positions)
}

// Ingest writes the visible samples of chunk into the store in the current
// frame. Invisible samples and out-of-range indices leave the prior
// transform untouched. It returns how many transforms were written.
func (s *Store) Ingest(chunk propagation.Chunk) int {
	n := 0
	for _, sample := range chunk.Samples {
		if sample.Index < 0 || sample.Index >= len(s.positions) {
			s.logger.Warn("sample index out of range", "index", sample.Index, "count", len(s.positions))
			continue
		}
		if !sample.Visible {
			continue
		}
		pos, ok := SceneOf(sample, s.frame)
		if !ok {
			continue
		}
		s.positions[sample.Index] = pos
		s.known[sample.Index] = true
		s.hints[sample.Index] = Hint{InFrustum: sample.InFrustum, RangeKm: sample.RangeKm, Geodetic: sample.Geodetic}
		s.raw[sample.Index] = sample
		s.sidereal = sample.Sidereal
		n++
	}
	return n
}

// SetFrame switches the display frame and re-projects every known position
// from its last accepted sample.
func (s *Store) SetFrame(frame propagation.Frame) {
	if frame == s.frame {
		return
	}
	s.frame = frame
	for i, known := range s.known {
		if !known {
			continue
		}
		if pos, ok := SceneOf(s.raw[i], frame); ok {
			s.positions[i] = pos
		}
	}
}

// SceneOf converts a sample to scene space. In the fixed frame the sample's
// own sidereal angle is used; in the inertial frame no rotation is applied.
// It reports false for non-finite results.
func SceneOf(sample propagation.Sample, frame propagation.Frame) (mgl64.Vec3, bool) {
	in := transform.Inertial{X: sample.Position[0], Y: sample.Position[1], Z: sample.Position[2]}
	var fixed transform.Fixed
	if frame == propagation.FrameInertial {
		fixed = in.AsFixed()
	} else {
		fixed = transform.InertialToFixed(in, sample.Sidereal)
	}
	v := transform.FixedToScene(fixed)
	return v, transform.FiniteVec(v)
}

// Position returns the scene position of object i and whether it has ever
// been written.
func (s *Store) Position(i int) (mgl64.Vec3, bool) {
	if i < 0 || i >= len(s.positions) {
		return mgl64.Vec3{}, false
	}
	return s.positions[i], s.known[i]
}

// Fixed returns the fixed-frame position (km) of object i from its last
// accepted sample, whatever the display frame.
func (s *Store) Fixed(i int) (transform.Fixed, bool) {
	if !s.Known(i) {
		return transform.Fixed{}, false
	}
	r := s.raw[i]
	in := transform.Inertial{X: r.Position[0], Y: r.Position[1], Z: r.Position[2]}
	return transform.InertialToFixed(in, r.Sidereal), true
}

// Known reports whether object i has a position.
func (s *Store) Known(i int) bool {
	return i >= 0 && i < len(s.known) && s.known[i]
}

// Hint returns the extras from the last sample accepted for object i.
func (s *Store) Hint(i int) Hint {
	if i < 0 || i >= len(s.hints) {
		return Hint{}
	}
	return s.hints[i]
}

// Each calls fn for every object with a known position, in index order.
func (s *Store) Each(fn func(i int, p mgl64.Vec3)) {
	for i, p := range s.positions {
		if s.known[i] {
			fn(i, p)
		}
	}
}

// KnownCount returns how many objects have a position.
func (s *Store) KnownCount() int {
	n := 0
	for _, k := range s.known {
		if k {
			n++
		}
	}
	return n
}

// Scale returns the current uniform instance scale.
func (s *Store) Scale() float64 {
	return s.scale
}

// UpdateScale recomputes the instance scale for a camera at cameraDistance
// from the body centre and returns it.
func (s *Store) UpdateScale(cameraDistance float64) float64 {
	s.scale = ScaleFor(s.config.ScaleTable, s.config.FarScale, cameraDistance)
	return s.scale
}

// Sidereal returns the sidereal angle of the most recent accepted sample.
func (s *Store) Sidereal() float64 {
	return s.sidereal
}

// Frame returns the display frame.
func (s *Store) Frame() propagation.Frame {
	return s.frame
}

// BodyRotation is the rotation the renderer applies to the body mesh about
// the polar axis: zero in the fixed frame, the sidereal angle in the inertial
// frame.
func (s *Store) BodyRotation() float64 {
	if s.frame == propagation.FrameInertial {
		return s.sidereal
	}
	return 0
}

// Clear forgets every position while keeping the index domain.
func (s *Store) Clear() {
	clear(s.positions)
	clear(s.known)
	clear(s.hints)
	clear(s.raw)
	s.sidereal = 0
}

// ScaleFor returns the scale for distance from table, or far past its end.
func ScaleFor(table []ScaleStep, far, distance float64) float64 {
	for _, step := range table {
		if distance <= step.MaxDistance {
			return step.Scale
		}
	}
	return far
}
