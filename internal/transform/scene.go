package transform

import (
	"math"

	"github.com/go-gl/mathgl/mgl64"
	"github.com/paulmach/orb"
)

const (
	// EarthRadiusKm is the mean radius of the spherical Earth model.
	EarthRadiusKm = 6371.0

	// EarthRadiusScene is the Earth radius in scene units.
	EarthRadiusScene = 0.1
)

// SceneAxes maps a fixed-frame vector to scene space:
//
//	scene[i] = Sign[i] * fixed[Perm[i]] * Scale
//
// The three fields are one set; changing any of them requires re-deriving the
// others and updating the fixed-point regression test.
type SceneAxes struct {
	Perm  [3]int
	Sign  [3]float64
	Scale float64
}

// SceneFrame is the mapping used by every Fixed→Scene conversion, for orbit
// positions and ground markers alike. Scene Y is up (fixed Z, the pole);
// the prime meridian lies on scene +X; fixed Y is negated onto scene Z so
// east longitudes appear counter-clockwise seen from the north pole.
var SceneFrame = SceneAxes{
	Perm:  [3]int{0, 2, 1},
	Sign:  [3]float64{1, 1, -1},
	Scale: EarthRadiusScene / EarthRadiusKm,
}

// ToScene converts a fixed-frame position (km) to scene space.
func (a SceneAxes) ToScene(p Fixed) mgl64.Vec3 {
	src := [3]float64{p.X, p.Y, p.Z}
	var out mgl64.Vec3
	for i := 0; i < 3; i++ {
		out[i] = a.Sign[i] * src[a.Perm[i]] * a.Scale
	}
	return out
}

// FromScene converts a scene-space position back to the fixed frame (km).
func (a SceneAxes) FromScene(v mgl64.Vec3) Fixed {
	var dst [3]float64
	for i := 0; i < 3; i++ {
		dst[a.Perm[i]] = v[i] / a.Sign[i] / a.Scale
	}
	return Fixed{X: dst[0], Y: dst[1], Z: dst[2]}
}

// FixedToScene converts with SceneFrame.
func FixedToScene(p Fixed) mgl64.Vec3 {
	return SceneFrame.ToScene(p)
}

// SceneToFixed converts with SceneFrame.
func SceneToFixed(v mgl64.Vec3) Fixed {
	return SceneFrame.FromScene(v)
}

// GeoToFixed converts geographic coordinates on the spherical Earth to the
// fixed frame: x = r·cosLat·cosLon, y = r·cosLat·sinLon, z = r·sinLat.
func GeoToFixed(latDeg, lonDeg, altKm float64) Fixed {
	r := EarthRadiusKm + altKm
	sinLat, cosLat := math.Sincos(mgl64.DegToRad(latDeg))
	sinLon, cosLon := math.Sincos(mgl64.DegToRad(lonDeg))
	return Fixed{
		X: r * cosLat * cosLon,
		Y: r * cosLat * sinLon,
		Z: r * sinLat,
	}
}

// GeoToScene places a geographic point in scene space.
func GeoToScene(latDeg, lonDeg, altKm float64) mgl64.Vec3 {
	return FixedToScene(GeoToFixed(latDeg, lonDeg, altKm))
}

// PointToScene places an orb.Point (lon, lat in degrees) in scene space.
func PointToScene(p orb.Point, altKm float64) mgl64.Vec3 {
	return GeoToScene(p.Lat(), p.Lon(), altKm)
}

// SurfacePoint returns the point on the Earth's surface directly below a
// scene-space position.
func SurfacePoint(v mgl64.Vec3) mgl64.Vec3 {
	l := v.Len()
	if l == 0 {
		return v
	}
	return v.Mul(EarthRadiusScene / l)
}

// FiniteVec reports whether every component of v is finite.
func FiniteVec(v mgl64.Vec3) bool {
	return finite(v[0]) && finite(v[1]) && finite(v[2])
}
