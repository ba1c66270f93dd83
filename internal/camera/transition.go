package camera

import (
	"time"

	"github.com/go-gl/mathgl/mgl64"
)

// transition is a time-bounded flight between two poses. Large direction
// changes take the arc path: the eye direction slerps around the body at
// constant distance while the target blends toward the object, then the
// distance closes radially. Small changes interpolate linearly.
type transition struct {
	start    time.Time
	duration time.Duration
	arc      bool
	split    float64 // arc: fraction of duration spent rotating

	from, to Pose

	rot              mgl64.Quat
	fromDir          mgl64.Vec3
	fromDist, toDist float64
}

func newTransition(config Config, from, to Pose, now time.Time) transition {
	t := transition{start: now, from: from, to: to, split: config.ArcRotateFraction}

	fromDist, toDist := from.Eye.Len(), to.Eye.Len()
	angle := angleBetween(from.Eye, to.Eye)
	if fromDist > 0 && toDist > 0 && angle > mgl64.DegToRad(config.ArcThresholdDeg) {
		t.arc = true
		t.duration = config.ArcDuration
		t.fromDir = from.Eye.Normalize()
		t.rot = mgl64.QuatBetweenVectors(t.fromDir, to.Eye.Normalize())
		t.fromDist, t.toDist = fromDist, toDist
	} else {
		t.duration = config.LinearDuration
	}
	return t
}

func (t transition) progress(now time.Time) float64 {
	if t.duration <= 0 {
		return 1
	}
	return mgl64.Clamp(float64(now.Sub(t.start))/float64(t.duration), 0, 1)
}

// at returns the pose at now and whether the transition has finished.
func (t transition) at(now time.Time) (Pose, bool) {
	u := t.progress(now)
	if u >= 1 {
		return t.to, true
	}
	if !t.arc {
		e := easeInOutCubic(u)
		return Pose{
			Eye:    lerp(t.from.Eye, t.to.Eye, e),
			Target: lerp(t.from.Target, t.to.Target, e),
		}, false
	}

	ea := easeInOutCubic(mgl64.Clamp(u/t.split, 0, 1))
	eb := easeInOutCubic(mgl64.Clamp((u-t.split)/(1-t.split), 0, 1))

	dir := mgl64.QuatSlerp(mgl64.QuatIdent(), t.rot, ea).Rotate(t.fromDir)
	dist := t.fromDist + (t.toDist-t.fromDist)*eb
	return Pose{
		Eye:    dir.Mul(dist),
		Target: lerp(t.from.Target, t.to.Target, ea),
	}, false
}

func easeInOutCubic(t float64) float64 {
	if t < 0.5 {
		return 4 * t * t * t
	}
	f := -2*t + 2
	return 1 - f*f*f/2
}

func lerp(a, b mgl64.Vec3, t float64) mgl64.Vec3 {
	return a.Add(b.Sub(a).Mul(t))
}
