// Package selection resolves pointer clicks to object indices.
//
// The primary method casts a ray from the camera through the pointer and
// intersects it with a small sphere around every known object. When nothing
// is hit, every known object is projected to the screen and the nearest one
// inside a pixel tolerance wins. Objects hidden behind the body are never
// picked by either method.
package selection

import (
	"log/slog"
	"math"
	"time"

	"github.com/go-gl/mathgl/mgl64"

	"github.com/star/orbitsync/internal/transform"
)

// Config holds resolver tuning. Zero fields take the defaults.
type Config struct {
	DetailedViewDistance float64       // camera distance below which clicks select (default 0.5)
	ClickThreshold       time.Duration // press/release gap below which a gesture is a click (default 200ms)
	ScreenTolerancePx    float64       // fallback acceptance radius (default 12)
	PickRadius           float64       // ray pick radius per unit of instance scale (default 0.0015)
}

// DefaultConfig returns the default tuning.
func DefaultConfig() Config {
	return Config{
		DetailedViewDistance: 0.5,
		ClickThreshold:       200 * time.Millisecond,
		ScreenTolerancePx:    12,
		PickRadius:           0.0015,
	}
}

func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.DetailedViewDistance <= 0 {
		c.DetailedViewDistance = d.DetailedViewDistance
	}
	if c.ClickThreshold <= 0 {
		c.ClickThreshold = d.ClickThreshold
	}
	if c.ScreenTolerancePx <= 0 {
		c.ScreenTolerancePx = d.ScreenTolerancePx
	}
	if c.PickRadius <= 0 {
		c.PickRadius = d.PickRadius
	}
	return c
}

// Source is the set of pickable objects.
type Source interface {
	Len() int
	Position(i int) (mgl64.Vec3, bool)
	Scale() float64
}

// View describes the camera used for picking. Pointer coordinates are in
// pixels with the origin at the top-left of a Width x Height viewport.
type View struct {
	Eye        mgl64.Vec3
	Matrix     mgl64.Mat4 // world to camera
	Projection mgl64.Mat4
	Width      int
	Height     int
}

// Distance returns the camera distance to the body centre.
func (v View) Distance() float64 {
	return v.Eye.Len()
}

// Method names how a selection was found.
type Method int

const (
	MethodNone Method = iota
	MethodRaycast
	MethodScreen
)

func (m Method) String() string {
	switch m {
	case MethodRaycast:
		return "raycast"
	case MethodScreen:
		return "screen"
	default:
		return "none"
	}
}

// Result is the outcome of resolving one click. Index is -1 when nothing
// was selected.
type Result struct {
	Index  int
	Method Method
	Gated  bool // the camera was too far for selection
}

// Hit reports whether an object was selected.
func (r Result) Hit() bool {
	return r.Index >= 0
}

var none = Result{Index: -1}

// Resolver maps pointer positions to objects.
type Resolver struct {
	config Config
	logger *slog.Logger
}

// NewResolver creates a resolver.
func NewResolver(config Config, logger *slog.Logger) *Resolver {
	return &Resolver{config: config.withDefaults(), logger: logger}
}

// Config returns the effective configuration.
func (r *Resolver) Config() Config {
	return r.config
}

// Detailed reports whether the camera is close enough for selection.
func (r *Resolver) Detailed(view View) bool {
	return view.Distance() < r.config.DetailedViewDistance
}

// Resolve returns the object under the pointer at (x, y).
func (r *Resolver) Resolve(view View, x, y float64, src Source) Result {
	if !r.Detailed(view) {
		res := none
		res.Gated = true
		return res
	}

	if i, ok := r.raycast(view, x, y, src); ok {
		return Result{Index: i, Method: MethodRaycast}
	}
	if i, ok := r.nearestOnScreen(view, x, y, src); ok {
		return Result{Index: i, Method: MethodScreen}
	}
	return none
}

func (r *Resolver) raycast(view View, x, y float64, src Source) (int, bool) {
	origin, dir, err := pointerRay(view, x, y)
	if err != nil {
		r.logger.Debug("pointer ray unavailable", "error", err)
		return 0, false
	}

	radius := r.config.PickRadius * src.Scale()
	best, bestT := -1, math.Inf(1)
	for i := 0; i < src.Len(); i++ {
		p, ok := src.Position(i)
		if !ok {
			continue
		}
		t, hit := raySphere(origin, dir, p, radius)
		if !hit || t >= bestT {
			continue
		}
		if occluded(origin, p) {
			continue
		}
		best, bestT = i, t
	}
	return best, best >= 0
}

func (r *Resolver) nearestOnScreen(view View, x, y float64, src Source) (int, bool) {
	clip := view.Projection.Mul4(view.Matrix)
	pointer := mgl64.Vec2{x, float64(view.Height) - y}

	best, bestD := -1, r.config.ScreenTolerancePx
	for i := 0; i < src.Len(); i++ {
		p, ok := src.Position(i)
		if !ok {
			continue
		}
		if clip.Mul4x1(p.Vec4(1)).W() <= 0 {
			continue // behind the camera
		}
		win := mgl64.Project(p, view.Matrix, view.Projection, 0, 0, view.Width, view.Height)
		d := win.Vec2().Sub(pointer).Len()
		if d >= bestD {
			continue
		}
		if occluded(view.Eye, p) {
			continue
		}
		best, bestD = i, d
	}
	return best, best >= 0
}

// pointerRay returns the world-space ray through pixel (x, y).
func pointerRay(view View, x, y float64) (origin, dir mgl64.Vec3, err error) {
	wy := float64(view.Height) - y
	near, err := mgl64.UnProject(mgl64.Vec3{x, wy, 0}, view.Matrix, view.Projection, 0, 0, view.Width, view.Height)
	if err != nil {
		return origin, dir, err
	}
	far, err := mgl64.UnProject(mgl64.Vec3{x, wy, 1}, view.Matrix, view.Projection, 0, 0, view.Width, view.Height)
	if err != nil {
		return origin, dir, err
	}
	return view.Eye, far.Sub(near).Normalize(), nil
}

// raySphere returns the nearest non-negative ray parameter at which the ray
// enters the sphere. dir must be unit length.
func raySphere(origin, dir, center mgl64.Vec3, radius float64) (float64, bool) {
	oc := origin.Sub(center)
	b := oc.Dot(dir)
	c := oc.Dot(oc) - radius*radius
	disc := b*b - c
	if disc < 0 {
		return 0, false
	}
	sq := math.Sqrt(disc)
	t := -b - sq
	if t < 0 {
		t = -b + sq
	}
	return t, t >= 0
}

// occluded reports whether the body sphere lies between eye and p.
func occluded(eye, p mgl64.Vec3) bool {
	d := p.Sub(eye)
	dist := d.Len()
	if dist == 0 {
		return false
	}
	t, hit := raySphere(eye, d.Mul(1/dist), mgl64.Vec3{}, transform.EarthRadiusScene)
	return hit && t < dist
}
