package transform

import (
	"math"

	"github.com/go-gl/mathgl/mgl64"
)

// WGS-84 ellipsoid parameters, km.
const (
	wgs84A  = 6378.137              // semi-major axis
	wgs84F  = 1.0 / 298.257223563   // flattening
	wgs84E2 = wgs84F * (2 - wgs84F) // first eccentricity squared
)

// Observer is a ground location used for look-angle display fields.
// The fixed-frame position is precomputed once.
type Observer struct {
	LatRad, LonRad, AltKm float64
	Position              Fixed
}

// LookAngles holds azimuth, elevation, and range from observer to object.
type LookAngles struct {
	AzimuthDeg   float64 // 0 = North, clockwise
	ElevationDeg float64 // 0 = horizon, 90 = zenith
	RangeKm      float64
}

// NewObserver creates an Observer from geodetic coordinates on the WGS-84
// ellipsoid (degrees, km above the ellipsoid).
func NewObserver(latDeg, lonDeg, altKm float64) Observer {
	lat := mgl64.DegToRad(latDeg)
	lon := mgl64.DegToRad(lonDeg)
	sinLat, cosLat := math.Sincos(lat)
	sinLon, cosLon := math.Sincos(lon)

	// Radius of curvature in the prime vertical.
	n := wgs84A / math.Sqrt(1-wgs84E2*sinLat*sinLat)

	return Observer{
		LatRad: lat,
		LonRad: lon,
		AltKm:  altKm,
		Position: Fixed{
			X: (n + altKm) * cosLat * cosLon,
			Y: (n + altKm) * cosLat * sinLon,
			Z: (n*(1-wgs84E2) + altKm) * sinLat,
		},
	}
}

// Geodetic holds a geodetic position (degrees, km above the ellipsoid).
type Geodetic struct {
	LatDeg, LonDeg, AltKm float64
}

// FixedToGeodetic converts a fixed-frame position using the iterative
// Bowring method. Converges in 2-3 iterations for Earth orbits.
func FixedToGeodetic(p Fixed) Geodetic {
	lon := math.Atan2(p.Y, p.X)
	r := math.Hypot(p.X, p.Y)
	lat := math.Atan2(p.Z, r*(1-wgs84E2))

	for i := 0; i < 5; i++ {
		sinLat := math.Sin(lat)
		n := wgs84A / math.Sqrt(1-wgs84E2*sinLat*sinLat)
		lat = math.Atan2(p.Z+wgs84E2*n*sinLat, r)
	}

	sinLat, cosLat := math.Sincos(lat)
	n := wgs84A / math.Sqrt(1-wgs84E2*sinLat*sinLat)

	var alt float64
	if math.Abs(cosLat) > 1e-10 {
		alt = r/cosLat - n
	} else {
		alt = math.Abs(p.Z)/math.Abs(sinLat) - n*(1-wgs84E2)
	}

	return Geodetic{
		LatDeg: mgl64.RadToDeg(lat),
		LonDeg: mgl64.RadToDeg(lon),
		AltKm:  alt,
	}
}

// Look computes azimuth, elevation, and range from the observer to a
// fixed-frame position, using the SEZ rotation (Vallado 4.4).
func (obs Observer) Look(p Fixed) LookAngles {
	rx := p.X - obs.Position.X
	ry := p.Y - obs.Position.Y
	rz := p.Z - obs.Position.Z

	sinLat, cosLat := math.Sincos(obs.LatRad)
	sinLon, cosLon := math.Sincos(obs.LonRad)

	south := sinLat*cosLon*rx + sinLat*sinLon*ry - cosLat*rz
	east := -sinLon*rx + cosLon*ry
	zenith := cosLat*cosLon*rx + cosLat*sinLon*ry + sinLat*rz

	rng := math.Sqrt(south*south + east*east + zenith*zenith)
	if rng == 0 {
		return LookAngles{ElevationDeg: 90}
	}

	// North is -South, so az = atan2(east, -south).
	az := math.Atan2(east, -south)
	if az < 0 {
		az += 2 * math.Pi
	}

	return LookAngles{
		AzimuthDeg:   mgl64.RadToDeg(az),
		ElevationDeg: mgl64.RadToDeg(math.Asin(zenith / rng)),
		RangeKm:      rng,
	}
}
