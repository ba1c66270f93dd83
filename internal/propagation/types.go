package propagation

import (
	"errors"
	"time"
)

// DefaultChunkSize is the largest number of samples sent in one chunk.
const DefaultChunkSize = 200

var (
	// ErrRequestInFlight is returned when a request is issued while the
	// previous one has not completed.
	ErrRequestInFlight = errors.New("propagation request already in flight")

	// ErrNotInitialized is returned when propagation is requested before the
	// worker has been given element sets.
	ErrNotInitialized = errors.New("propagation worker not initialized")

	// ErrChannelClosed is returned once the worker has stopped.
	ErrChannelClosed = errors.New("propagation channel closed")
)

// Config holds worker configuration.
type Config struct {
	Workers   int // goroutines per chunk (default: runtime.NumCPU())
	ChunkSize int // samples per chunk, at most DefaultChunkSize
}

func (c Config) withDefaults() Config {
	if c.Workers < 1 {
		c.Workers = 1
	}
	if c.ChunkSize < 1 || c.ChunkSize > DefaultChunkSize {
		c.ChunkSize = DefaultChunkSize
	}
	return c
}

// Frame names the frame scene-space request fields are expressed in.
type Frame string

const (
	FrameFixed    Frame = "fixed"
	FrameInertial Frame = "inertial"
)

// Geodetic holds the optional sub-point fields of a sample.
type Geodetic struct {
	LatDeg   float64 `msgpack:"lat"`
	LonDeg   float64 `msgpack:"lon"`
	HeightKm float64 `msgpack:"height"`
}

// Sample is one object's propagated state at the requested time.
// Visible is false only when propagation failed; the position is then zero.
type Sample struct {
	Index     int        `msgpack:"index"`
	Position  [3]float64 `msgpack:"pos"` // inertial, km
	Sidereal  float64    `msgpack:"sidereal"`
	Visible   bool       `msgpack:"visible"`
	InFrustum bool       `msgpack:"inFrustum"`
	RangeKm   float64    `msgpack:"rangeKm"`
	Geodetic  *Geodetic  `msgpack:"geodetic,omitempty"`
}

// Request is a propagation request as issued by the render loop.
type Request struct {
	Date           time.Time
	FrustumPlanes  [][4]float64
	ReferencePoint *[3]float64 // scene space
	Frame          Frame
}
