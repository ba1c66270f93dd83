package propagation

import (
	"fmt"
	"math"
	"strings"
	"time"

	satellite "github.com/joshuaferrara/go-satellite"
	"github.com/star/orbitsync/internal/transform"
)

// go-satellite's Propagate takes the Satellite by value, so SGP4 error codes
// never reach the caller. Failures are detected from the output instead:
// non-finite components or a position outside plausible orbit radii.

// SGP4Propagator wraps the go-satellite library for a single element set.
type SGP4Propagator struct {
	sat     satellite.Satellite
	noradID int
}

// NewSGP4Propagator creates an SGP4 propagator from element set lines.
// Returns an error if the lines cannot be parsed or the SGP4 model fails to initialize.
//
// Pre-validates the format before passing to the library, because go-satellite
// calls log.Fatal on malformed input (which would kill the process).
func NewSGP4Propagator(line1, line2 string, noradID int) (*SGP4Propagator, error) {
	if err := validateTLELines(line1, line2); err != nil {
		return nil, fmt.Errorf("invalid element set for NORAD %d: %w", noradID, err)
	}

	sat := satellite.TLEToSat(line1, line2, satellite.GravityWGS84)
	if sat.Error != 0 {
		return nil, fmt.Errorf("sgp4 init failed for NORAD %d: code=%d %s", noradID, sat.Error, sat.ErrorStr)
	}
	return &SGP4Propagator{sat: sat, noradID: noradID}, nil
}

// validateTLELines performs basic format validation on element set lines.
func validateTLELines(line1, line2 string) error {
	line1 = strings.TrimSpace(line1)
	line2 = strings.TrimSpace(line2)

	if len(line1) != 69 {
		return fmt.Errorf("line1 length %d, expected 69", len(line1))
	}
	if len(line2) != 69 {
		return fmt.Errorf("line2 length %d, expected 69", len(line2))
	}
	if line1[0] != '1' {
		return fmt.Errorf("line1 must start with '1', got '%c'", line1[0])
	}
	if line2[0] != '2' {
		return fmt.Errorf("line2 must start with '2', got '%c'", line2[0])
	}
	return nil
}

// Propagate computes the inertial (TEME) position in km at t.
//
// go-satellite only accepts whole seconds, so the state is evaluated at the
// second containing t and advanced by velocity × fraction. The first-order
// error is under 2 m for LEO.
func (p *SGP4Propagator) Propagate(t time.Time) (transform.Inertial, error) {
	t = t.UTC()
	whole := t.Truncate(time.Second)
	frac := t.Sub(whole).Seconds()

	pos, vel := satellite.Propagate(p.sat, whole.Year(), int(whole.Month()), whole.Day(), whole.Hour(), whole.Minute(), whole.Second())

	out := transform.Inertial{
		X: pos.X + vel.X*frac,
		Y: pos.Y + vel.Y*frac,
		Z: pos.Z + vel.Z*frac,
	}
	if !out.IsFinite() {
		return transform.Inertial{}, fmt.Errorf("sgp4 propagation failed for NORAD %d: output is NaN/Inf", p.noradID)
	}

	// Sanity check: position magnitude should be between ~6200km and ~50000km.
	mag := math.Sqrt(out.X*out.X + out.Y*out.Y + out.Z*out.Z)
	if mag < 6200.0 || mag > 50000.0 {
		return transform.Inertial{}, fmt.Errorf("sgp4 propagation failed for NORAD %d: unreasonable position magnitude %.1f km", p.noradID, mag)
	}
	return out, nil
}

// geodeticOf converts an inertial position to geodetic fields with
// go-satellite's spherical-Earth ECIToLLA.
func geodeticOf(p transform.Inertial, gmst float64) *Geodetic {
	alt, _, ll := satellite.ECIToLLA(satellite.Vector3{X: p.X, Y: p.Y, Z: p.Z}, gmst)
	deg := satellite.LatLongDeg(ll)
	lon := math.Mod(deg.Longitude+180, 360)
	if lon < 0 {
		lon += 360
	}
	return &Geodetic{
		LatDeg:   deg.Latitude,
		LonDeg:   lon - 180,
		HeightKm: alt,
	}
}
