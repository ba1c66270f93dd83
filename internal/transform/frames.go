// Package transform converts positions between the three frames the
// renderer cares about:
//
//   - Inertial: propagator output (TEME), km.
//   - Fixed: co-rotates with the Earth (TEME → PEF ≈ ECEF), km.
//   - Scene: unit-scaled render space.
//
// Inertial→Fixed is a rotation about the polar axis by the sidereal angle.
// The angle always comes from the propagation sample so that positions and
// the rendered Earth use the same instant. Polar motion and the equation of
// the equinoxes are ignored (~50 m), which is invisible at scene scale.
package transform

import "math"

// Inertial is a position in the inertial (TEME) frame, km.
type Inertial struct {
	X, Y, Z float64
}

// Fixed is a position in the Earth-fixed frame, km.
type Fixed struct {
	X, Y, Z float64
}

// InertialToFixed rotates an inertial position by -theta about the polar axis.
//
//	fixed.x =  i.x*cosθ + i.y*sinθ
//	fixed.y = -i.x*sinθ + i.y*cosθ
//	fixed.z =  i.z
func InertialToFixed(p Inertial, theta float64) Fixed {
	sin, cos := math.Sincos(theta)
	return Fixed{
		X: p.X*cos + p.Y*sin,
		Y: -p.X*sin + p.Y*cos,
		Z: p.Z,
	}
}

// FixedToInertial is the inverse of InertialToFixed for the same theta.
func FixedToInertial(p Fixed, theta float64) Inertial {
	sin, cos := math.Sincos(theta)
	return Inertial{
		X: p.X*cos - p.Y*sin,
		Y: p.X*sin + p.Y*cos,
		Z: p.Z,
	}
}

// AsFixed reinterprets an inertial position as fixed without rotating it.
// Used when the scene is displayed in the inertial frame.
func (p Inertial) AsFixed() Fixed {
	return Fixed{X: p.X, Y: p.Y, Z: p.Z}
}

// Norm returns the distance from the Earth's centre in km.
func (p Fixed) Norm() float64 {
	return math.Sqrt(p.X*p.X + p.Y*p.Y + p.Z*p.Z)
}

// IsFinite reports whether every component is a finite number.
func (p Fixed) IsFinite() bool {
	return finite(p.X) && finite(p.Y) && finite(p.Z)
}

// IsFinite reports whether every component is a finite number.
func (p Inertial) IsFinite() bool {
	return finite(p.X) && finite(p.Y) && finite(p.Z)
}

func finite(f float64) bool {
	return !math.IsNaN(f) && !math.IsInf(f, 0)
}
