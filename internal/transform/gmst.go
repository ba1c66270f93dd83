package transform

import (
	"time"

	"github.com/soniakeys/meeus/v3/julian"
	"github.com/soniakeys/meeus/v3/sidereal"
)

// JulianDate converts t to a UTC Julian Date.
func JulianDate(t time.Time) float64 {
	return julian.TimeToJD(t.UTC())
}

// GMST returns Greenwich mean sidereal time in radians, in [0, 2π). This is
// the sidereal angle θ of every Inertial→Fixed rotation (IAU 1982 model,
// UT1 taken as UTC).
func GMST(t time.Time) float64 {
	return sidereal.Mean(JulianDate(t)).Rad()
}
