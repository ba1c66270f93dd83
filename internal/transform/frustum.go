package transform

import "github.com/go-gl/mathgl/mgl64"

// Frustum holds six inward-facing planes (a, b, c, d) with a*x+b*y+c*z+d >= 0
// inside. Order: left, right, bottom, top, near, far.
type Frustum [6]mgl64.Vec4

// FrustumFromMatrix extracts normalized planes from a view-projection matrix
// (Gribb/Hartmann).
func FrustumFromMatrix(m mgl64.Mat4) Frustum {
	r0, r1, r2, r3 := m.Row(0), m.Row(1), m.Row(2), m.Row(3)
	f := Frustum{
		r3.Add(r0),
		r3.Sub(r0),
		r3.Add(r1),
		r3.Sub(r1),
		r3.Add(r2),
		r3.Sub(r2),
	}
	for i, p := range f {
		n := p.Vec3().Len()
		if n > 0 {
			f[i] = p.Mul(1 / n)
		}
	}
	return f
}

// Contains reports whether p lies inside every plane, allowing margin scene
// units of slack outside each plane.
func (f Frustum) Contains(p mgl64.Vec3, margin float64) bool {
	for _, pl := range f {
		if pl.Vec3().Dot(p)+pl[3] < -margin {
			return false
		}
	}
	return true
}

// Planes returns the frustum as plain arrays for the wire protocol.
func (f Frustum) Planes() [][4]float64 {
	out := make([][4]float64, len(f))
	for i, p := range f {
		out[i] = [4]float64(p)
	}
	return out
}

// FrustumFromPlanes rebuilds a Frustum from wire arrays. It returns false
// unless exactly six planes are given.
func FrustumFromPlanes(planes [][4]float64) (Frustum, bool) {
	var f Frustum
	if len(planes) != len(f) {
		return f, false
	}
	for i, p := range planes {
		f[i] = mgl64.Vec4(p)
	}
	return f, true
}
