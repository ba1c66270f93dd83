package pipeline

import (
	"time"

	"github.com/star/orbitsync/internal/camera"
	"github.com/star/orbitsync/internal/labels"
	"github.com/star/orbitsync/internal/positions"
	"github.com/star/orbitsync/internal/propagation"
	"github.com/star/orbitsync/internal/scheduler"
	"github.com/star/orbitsync/internal/selection"
)

// Config holds pipeline configuration. Component configs are passed through
// to their packages, which apply their own defaults.
type Config struct {
	Propagation propagation.Config
	Scheduler   scheduler.Config
	Positions   positions.Config
	Selection   selection.Config
	Camera      camera.Config
	Labels      labels.Config

	Width  int // viewport pixels (default 1280)
	Height int // default 720

	LabelRefresh time.Duration // label candidate recompute interval (default 250ms)
	StallTimeout time.Duration // outstanding request age that restarts the worker (default 5s)

	OrbitPoints    int                  // samples per orbit path (default 180)
	OrbitCacheSize int                  // cached orbit paths (default 64)
	OrbitMode      propagation.PathMode // default ground_track

	RotateSpeed float64 // radians per dragged pixel (default 0.005)
	ZoomStep    float64 // distance factor per wheel notch (default 1.1)

	Observer *ObserverConfig // look angles and next pass for the selection; nil disables

	PassHorizon         time.Duration // next-pass search window (default 24h)
	PassMinElevationDeg float64
	Frame    propagation.Frame
}

// ObserverConfig is a ground observer in geodetic coordinates.
type ObserverConfig struct {
	LatDeg float64
	LonDeg float64
	AltKm  float64
}

func (c Config) withDefaults() Config {
	if c.Width <= 0 {
		c.Width = 1280
	}
	if c.Height <= 0 {
		c.Height = 720
	}
	if c.LabelRefresh <= 0 {
		c.LabelRefresh = 250 * time.Millisecond
	}
	if c.StallTimeout <= 0 {
		c.StallTimeout = 5 * time.Second
	}
	if c.PassHorizon <= 0 {
		c.PassHorizon = 24 * time.Hour
	}
	if c.OrbitPoints < 2 {
		c.OrbitPoints = 180
	}
	if c.OrbitCacheSize <= 0 {
		c.OrbitCacheSize = 64
	}
	if c.OrbitMode != propagation.PathTrue {
		c.OrbitMode = propagation.PathGroundTrack
	}
	if c.RotateSpeed <= 0 {
		c.RotateSpeed = 0.005
	}
	if c.ZoomStep <= 1 {
		c.ZoomStep = 1.1
	}
	if c.Frame != propagation.FrameInertial {
		c.Frame = propagation.FrameFixed
	}
	return c
}
