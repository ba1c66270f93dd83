package pipeline

import (
	"log/slog"

	"github.com/go-gl/mathgl/mgl64"

	"github.com/star/orbitsync/internal/camera"
	"github.com/star/orbitsync/internal/labels"
	"github.com/star/orbitsync/internal/positions"
)

// Color is an RGB colour with components in [0, 1].
type Color struct {
	R float64 `json:"r"`
	G float64 `json:"g"`
	B float64 `json:"b"`
}

// DefaultHighlight is the selection colour until SetHighlightColor is called.
var DefaultHighlight = Color{R: 1, G: 0.8, B: 0.2}

// Indicator marks the selected object: its scene position and the point on
// the body surface directly below it.
type Indicator struct {
	Index    int        `json:"index"`
	Position mgl64.Vec3 `json:"position"`
	Ground   mgl64.Vec3 `json:"ground"`
}

// Frame is everything the renderer needs for one tick. Objects and slices
// are owned by the pipeline and valid only during Render.
type Frame struct {
	Number       uint64
	Camera       camera.Pose
	View         mgl64.Mat4
	Projection   mgl64.Mat4
	Objects      *positions.Store
	Scale        float64
	BodyRotation float64
	Selected     int
	Highlight    Color
	Indicator    *Indicator
	OrbitPath    []mgl64.Vec3
	Markers      []Marker
	Loading      float64
}

// Renderer draws frames and owns label handles.
type Renderer interface {
	labels.HandleFactory
	Render(f *Frame) error
}

// LogRenderer is a headless Renderer that logs a frame summary every
// Every frames.
type LogRenderer struct {
	Every  uint64
	Logger *slog.Logger
}

// NewLogRenderer creates a LogRenderer logging once per every frames.
func NewLogRenderer(every uint64, logger *slog.Logger) *LogRenderer {
	if every == 0 {
		every = 60
	}
	return &LogRenderer{Every: every, Logger: logger}
}

// Render logs a summary of f.
func (r *LogRenderer) Render(f *Frame) error {
	if f.Number%r.Every != 0 {
		return nil
	}
	known := 0
	if f.Objects != nil {
		known = f.Objects.KnownCount()
	}
	r.Logger.Info("frame",
		"frame", f.Number,
		"objects", known,
		"scale", f.Scale,
		"body_rotation", f.BodyRotation,
		"camera_distance", f.Camera.Eye.Len(),
		"selected", f.Selected,
		"orbit_points", len(f.OrbitPath),
		"markers", len(f.Markers),
		"loading", f.Loading,
	)
	return nil
}

// Create returns a label handle that records nothing.
func (r *LogRenderer) Create(index int) labels.Handle {
	r.Logger.Debug("label created", "index", index)
	return logHandle{index: index, logger: r.Logger}
}

type logHandle struct {
	index  int
	logger *slog.Logger
}

func (logHandle) SetOpacity(float64)     {}
func (logHandle) SetPosition(mgl64.Vec3) {}

func (h logHandle) Destroy() {
	h.logger.Debug("label destroyed", "index", h.index)
}
