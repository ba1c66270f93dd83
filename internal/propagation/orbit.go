package propagation

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/go-gl/mathgl/mgl64"
	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/star/orbitsync/internal/tle"
	"github.com/star/orbitsync/internal/transform"
)

// PathMode selects how an orbit path is rotated into the fixed frame.
type PathMode string

const (
	// PathGroundTrack freezes the sidereal angle at the first sample for
	// every point. This is not a true ground track; it closes the loop so
	// the orbit reads as one ellipse around the globe.
	PathGroundTrack PathMode = "ground_track"

	// PathTrue rotates each point by its own sidereal angle.
	PathTrue PathMode = "true"
)

const pathBucket = time.Minute

type pathKey struct {
	generation uint64
	index      int
	mode       PathMode
	frame      Frame
	bucket     int64
}

// OrbitSampler computes scene-space orbit lines for single objects, such as
// the current selection. Paths are cached per dataset generation, object,
// mode, frame and minute.
type OrbitSampler struct {
	points int
	cache  *lru.Cache[pathKey, []mgl64.Vec3]
	failed *lru.Cache[pathKey, error]
	logger *slog.Logger
}

// NewOrbitSampler creates a sampler producing points samples per revolution
// and caching up to size paths.
func NewOrbitSampler(size, points int, logger *slog.Logger) (*OrbitSampler, error) {
	if points < 2 {
		return nil, fmt.Errorf("orbit path needs at least 2 points, got %d", points)
	}
	cache, err := lru.New[pathKey, []mgl64.Vec3](size)
	if err != nil {
		return nil, fmt.Errorf("creating orbit path cache: %w", err)
	}
	failed, err := lru.New[pathKey, error](size)
	if err != nil {
		return nil, fmt.Errorf("creating orbit path cache: %w", err)
	}
	return &OrbitSampler{points: points, cache: cache, failed: failed, logger: logger}, nil
}

// Path returns one orbital period of scene positions for set, starting at
// the minute containing at. Points that fail to propagate are left out.
// Failures are cached like paths, so a broken set is retried once a minute.
func (s *OrbitSampler) Path(generation uint64, set tle.ElementSet, mode PathMode, frame Frame, at time.Time) ([]mgl64.Vec3, error) {
	start := at.UTC().Truncate(pathBucket)
	key := pathKey{generation: generation, index: set.Index, mode: mode, frame: frame, bucket: start.Unix()}
	if path, ok := s.cache.Get(key); ok {
		return path, nil
	}
	if err, ok := s.failed.Get(key); ok {
		return nil, err
	}

	path, err := s.sample(set, mode, frame, start)
	if err != nil {
		s.failed.Add(key, err)
		return nil, err
	}
	s.cache.Add(key, path)
	s.logger.Debug("orbit path sampled", "index", set.Index, "mode", mode, "points", len(path))
	return path, nil
}

func (s *OrbitSampler) sample(set tle.ElementSet, mode PathMode, frame Frame, start time.Time) ([]mgl64.Vec3, error) {

	period, err := set.Period()
	if err != nil {
		return nil, fmt.Errorf("orbit path for index %d: %w", set.Index, err)
	}
	prop, err := NewSGP4Propagator(set.Line1, set.Line2, set.NORADID)
	if err != nil {
		return nil, err
	}

	theta0 := transform.GMST(start)
	step := period / time.Duration(s.points-1)
	path := make([]mgl64.Vec3, 0, s.points)
	for i := 0; i < s.points; i++ {
		t := start.Add(time.Duration(i) * step)
		pos, err := prop.Propagate(t)
		if err != nil {
			continue
		}

		var fixed transform.Fixed
		switch {
		case frame == FrameInertial:
			fixed = pos.AsFixed()
		case mode == PathGroundTrack:
			fixed = transform.InertialToFixed(pos, theta0)
		default:
			fixed = transform.InertialToFixed(pos, transform.GMST(t))
		}
		path = append(path, transform.FixedToScene(fixed))
	}
	if len(path) == 0 {
		return nil, fmt.Errorf("orbit path for index %d: no point propagated", set.Index)
	}
	return path, nil
}
