// Package camera implements the view state machine: a free orbit camera
// (Global), a timed flight to a selected object (TransitioningToSatellite)
// and a damped follow of that object (TrackingSatellite).
//
// Every method takes the current time; nothing reads the wall clock.
package camera

import (
	"log/slog"
	"math"
	"time"

	"github.com/go-gl/mathgl/mgl64"

	"github.com/star/orbitsync/internal/metrics"
	"github.com/star/orbitsync/internal/transform"
)

// Mode is the camera view state.
type Mode int

const (
	ModeGlobal Mode = iota
	ModeTransitioning
	ModeTracking
)

func (m Mode) String() string {
	switch m {
	case ModeGlobal:
		return "global"
	case ModeTransitioning:
		return "transitioning_to_satellite"
	case ModeTracking:
		return "tracking_satellite"
	default:
		return "unknown"
	}
}

// Pose is a camera position and look-at target in scene space.
type Pose struct {
	Eye    mgl64.Vec3 `json:"eye"`
	Target mgl64.Vec3 `json:"target"`
}

// Controls are the user-facing orbit control limits.
type Controls struct {
	MinDistance float64 `json:"min_distance"`
	MaxDistance float64 `json:"max_distance"`
}

// Config holds camera tuning. Zero fields take the defaults.
type Config struct {
	ArcThresholdDeg   float64       // direction change above which the arc path is used (default 20)
	ArcDuration       time.Duration // default 1.6s
	ArcRotateFraction float64       // share of the arc spent rotating (default 0.7)
	LinearDuration    time.Duration // default 0.9s
	TrackingOffset    float64       // radial eye offset from the object (default 0.03)
	TargetBlend       float64       // per-frame look-at blend while following (default 0.1)
	Grace             time.Duration // follow suppressed after user input (default 1.5s)
	FollowRamp        time.Duration // follow ramp after the grace window (default Grace)
	MaxFollow         float64       // default 1.0

	FovYDeg float64 // default 45
	Near    float64 // default 0.0001
	Far     float64 // default 100

	Initial          Pose     // default eye (0, 0, 0.4) looking at the origin
	GlobalControls   Controls // default 0.11..5 from the body centre
	TrackingControls Controls // default 0.002..0.5 from the object
}

// DefaultConfig returns the default tuning.
func DefaultConfig() Config {
	return Config{
		ArcThresholdDeg:   20,
		ArcDuration:       1600 * time.Millisecond,
		ArcRotateFraction: 0.7,
		LinearDuration:    900 * time.Millisecond,
		TrackingOffset:    0.03,
		TargetBlend:       0.1,
		Grace:             1500 * time.Millisecond,
		FollowRamp:        1500 * time.Millisecond,
		MaxFollow:         1.0,
		FovYDeg:           45,
		Near:              0.0001,
		Far:               100,
		Initial:           Pose{Eye: mgl64.Vec3{0, 0, 0.4}},
		GlobalControls:    Controls{MinDistance: 0.11, MaxDistance: 5},
		TrackingControls:  Controls{MinDistance: 0.002, MaxDistance: 0.5},
	}
}

func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.ArcThresholdDeg <= 0 {
		c.ArcThresholdDeg = d.ArcThresholdDeg
	}
	if c.ArcDuration <= 0 {
		c.ArcDuration = d.ArcDuration
	}
	if c.ArcRotateFraction <= 0 || c.ArcRotateFraction >= 1 {
		c.ArcRotateFraction = d.ArcRotateFraction
	}
	if c.LinearDuration <= 0 {
		c.LinearDuration = d.LinearDuration
	}
	if c.TrackingOffset <= 0 {
		c.TrackingOffset = d.TrackingOffset
	}
	if c.TargetBlend <= 0 || c.TargetBlend > 1 {
		c.TargetBlend = d.TargetBlend
	}
	if c.Grace <= 0 {
		c.Grace = d.Grace
	}
	if c.FollowRamp <= 0 {
		c.FollowRamp = c.Grace
	}
	if c.MaxFollow <= 0 || c.MaxFollow > 1 {
		c.MaxFollow = d.MaxFollow
	}
	if c.FovYDeg <= 0 {
		c.FovYDeg = d.FovYDeg
	}
	if c.Near <= 0 {
		c.Near = d.Near
	}
	if c.Far <= c.Near {
		c.Far = d.Far
	}
	if c.Initial.Eye.Len() == 0 {
		c.Initial = d.Initial
	}
	if c.GlobalControls.MaxDistance <= 0 {
		c.GlobalControls = d.GlobalControls
	}
	if c.TrackingControls.MaxDistance <= 0 {
		c.TrackingControls = d.TrackingControls
	}
	return c
}

// State is a read-only view of the camera.
type State struct {
	Mode     string     `json:"mode"`
	Pose     Pose       `json:"pose"`
	Controls Controls   `json:"controls"`
	Tracked  int        `json:"tracked"`
	Offset   mgl64.Vec3 `json:"offset"`
	Follow   float64    `json:"follow"`
	Progress float64    `json:"progress"`
	Arc      bool       `json:"arc"`
}

type saved struct {
	pose     Pose
	controls Controls
}

// Camera is owned by the render loop and is not safe for concurrent use.
type Camera struct {
	config Config
	logger *slog.Logger

	mode     Mode
	pose     Pose
	controls Controls
	saved    *saved

	trans   transition
	tracked int

	offset       mgl64.Vec3 // eye - target while tracking
	interacted   bool
	lastInput    time.Time
	follow       float64
	lastProgress float64
}

// New creates a camera in Global mode at the configured initial pose.
func New(config Config, logger *slog.Logger) *Camera {
	config = config.withDefaults()
	c := &Camera{
		config:   config,
		logger:   logger,
		mode:     ModeGlobal,
		pose:     config.Initial,
		controls: config.GlobalControls,
		tracked:  -1,
	}
	metrics.SetCameraMode(int(c.mode))
	return c
}

// Mode returns the current state.
func (c *Camera) Mode() Mode {
	return c.mode
}

// Pose returns the current pose.
func (c *Camera) Pose() Pose {
	return c.pose
}

// Tracked returns the tracked object index, or -1.
func (c *Camera) Tracked() int {
	return c.tracked
}

// Distance returns the camera distance to the body centre.
func (c *Camera) Distance() float64 {
	return c.pose.Eye.Len()
}

// InputEnabled reports whether user rotate/zoom input is accepted.
func (c *Camera) InputEnabled() bool {
	return c.mode != ModeTransitioning
}

// Follow returns the current automatic follow strength in [0, MaxFollow].
func (c *Camera) Follow() float64 {
	return c.follow
}

// Track starts a flight to the object at position. From Global the current
// pose and controls are saved for Exit; from the other modes any running
// animation is replaced. It returns false, changing nothing, when index is
// negative or position is not finite.
func (c *Camera) Track(index int, position mgl64.Vec3, now time.Time) bool {
	if index < 0 || !transform.FiniteVec(position) || position.Len() == 0 {
		return false
	}
	if c.mode == ModeGlobal {
		c.saved = &saved{pose: c.pose, controls: c.controls}
	}

	to := c.trackingPose(position)
	c.trans = newTransition(c.config, c.pose, to, now)
	c.tracked = index
	c.follow = 0
	c.lastProgress = 0
	c.setMode(ModeTransitioning)

	c.logger.Debug("camera transition started",
		"index", index,
		"arc", c.trans.arc,
		"duration", c.trans.duration,
	)
	return true
}

// Exit returns to Global, restoring the pose and controls saved on entry.
func (c *Camera) Exit() {
	if c.mode == ModeGlobal {
		return
	}
	if c.saved != nil {
		c.pose = c.saved.pose
		c.controls = c.saved.controls
	} else {
		c.controls = c.config.GlobalControls
	}
	c.saved = nil
	c.tracked = -1
	c.offset = mgl64.Vec3{}
	c.follow = 0
	c.interacted = false
	c.trans = transition{}
	c.setMode(ModeGlobal)
}

// Update advances the camera to now. position is the tracked object's
// latest scene position; ok is false when it is unknown. A non-finite or
// unknown position makes tracking hold its last valid pose.
func (c *Camera) Update(now time.Time, position mgl64.Vec3, ok bool) Pose {
	switch c.mode {
	case ModeTransitioning:
		p, done := c.trans.at(now)
		c.lastProgress = c.trans.progress(now)
		if done {
			c.pose = c.trans.to
			c.offset = c.pose.Eye.Sub(c.pose.Target)
			c.controls = c.config.TrackingControls
			c.interacted = false
			c.follow = c.config.MaxFollow
			c.setMode(ModeTracking)
			return c.pose
		}
		if transform.FiniteVec(p.Eye) && transform.FiniteVec(p.Target) {
			c.pose = p
		}
	case ModeTracking:
		c.track(now, position, ok)
	}
	return c.pose
}

func (c *Camera) track(now time.Time, position mgl64.Vec3, ok bool) {
	c.follow = c.followStrength(now)
	if c.follow == 0 {
		c.offset = c.pose.Eye.Sub(c.pose.Target)
	}
	if !ok || !transform.FiniteVec(position) {
		return
	}

	blend := c.config.TargetBlend * c.follow
	target := c.pose.Target.Add(position.Sub(c.pose.Target).Mul(blend))
	eye := target.Add(c.offset)
	if !transform.FiniteVec(target) || !transform.FiniteVec(eye) {
		return
	}
	c.pose = Pose{Eye: eye, Target: target}
}

// followStrength is zero for Grace after the last user input, then rises
// linearly to MaxFollow over FollowRamp.
func (c *Camera) followStrength(now time.Time) float64 {
	if !c.interacted {
		return c.config.MaxFollow
	}
	elapsed := now.Sub(c.lastInput) - c.config.Grace
	ramp := mgl64.Clamp(float64(elapsed)/float64(c.config.FollowRamp), 0, 1)
	return ramp * c.config.MaxFollow
}

// Rotate orbits the eye around the look-at target by yaw about the polar
// axis and pitch about the camera's right axis, both in radians. It returns
// false while input is disabled.
func (c *Camera) Rotate(yaw, pitch float64, now time.Time) bool {
	if !c.InputEnabled() {
		return false
	}
	v := c.pose.Eye.Sub(c.pose.Target)
	up := mgl64.Vec3{0, 1, 0}

	v = mgl64.QuatRotate(yaw, up).Rotate(v)
	right := up.Cross(v)
	if right.Len() > 1e-12 {
		rotated := mgl64.QuatRotate(pitch, right.Normalize()).Rotate(v)
		// Keep clear of the poles so the up vector stays defined.
		if angle := angleBetween(rotated, up); angle > 0.01 && angle < math.Pi-0.01 {
			v = rotated
		}
	}
	c.pose.Eye = c.pose.Target.Add(v)
	c.touch(now)
	return true
}

// Zoom scales the eye distance to the target by factor, within the current
// control limits. It returns false while input is disabled.
func (c *Camera) Zoom(factor float64, now time.Time) bool {
	if !c.InputEnabled() || factor <= 0 || !finite(factor) {
		return false
	}
	v := c.pose.Eye.Sub(c.pose.Target)
	d := v.Len()
	if d == 0 {
		return false
	}
	nd := mgl64.Clamp(d*factor, c.controls.MinDistance, c.controls.MaxDistance)
	c.pose.Eye = c.pose.Target.Add(v.Mul(nd / d))
	c.touch(now)
	return true
}

func (c *Camera) touch(now time.Time) {
	if c.mode != ModeTracking {
		return
	}
	c.interacted = true
	c.lastInput = now
	c.follow = 0
	c.offset = c.pose.Eye.Sub(c.pose.Target)
}

// ViewMatrix returns the world-to-camera matrix for the current pose.
func (c *Camera) ViewMatrix() mgl64.Mat4 {
	up := mgl64.Vec3{0, 1, 0}
	forward := c.pose.Target.Sub(c.pose.Eye)
	if forward.Cross(up).Len() < 1e-12*forward.Len() {
		up = mgl64.Vec3{0, 0, -1}
	}
	return mgl64.LookAtV(c.pose.Eye, c.pose.Target, up)
}

// Projection returns the perspective projection for a viewport aspect ratio.
func (c *Camera) Projection(aspect float64) mgl64.Mat4 {
	return mgl64.Perspective(mgl64.DegToRad(c.config.FovYDeg), aspect, c.config.Near, c.config.Far)
}

// State returns a copy of the camera state.
func (c *Camera) State() State {
	return State{
		Mode:     c.mode.String(),
		Pose:     c.pose,
		Controls: c.controls,
		Tracked:  c.tracked,
		Offset:   c.offset,
		Follow:   c.follow,
		Progress: c.lastProgress,
		Arc:      c.trans.arc,
	}
}

func (c *Camera) trackingPose(position mgl64.Vec3) Pose {
	dir := position.Normalize()
	return Pose{Eye: position.Add(dir.Mul(c.config.TrackingOffset)), Target: position}
}

func (c *Camera) setMode(m Mode) {
	if c.mode != m {
		c.logger.Debug("camera mode changed", "from", c.mode.String(), "to", m.String())
	}
	c.mode = m
	metrics.SetCameraMode(int(m))
}

func angleBetween(a, b mgl64.Vec3) float64 {
	la, lb := a.Len(), b.Len()
	if la == 0 || lb == 0 {
		return 0
	}
	return math.Acos(mgl64.Clamp(a.Dot(b)/(la*lb), -1, 1))
}

func finite(f float64) bool {
	return !math.IsNaN(f) && !math.IsInf(f, 0)
}
