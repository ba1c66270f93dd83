package passes

import (
	"context"
	"math"
	"testing"
	"time"

	"github.com/star/orbitsync/internal/tle"
	"github.com/star/orbitsync/internal/transform"
)

// Real ISS TLE (epoch Feb 2025, valid for testing pass geometry).
var issTLE = tle.ElementSet{
	NORADID: 25544,
	Name:    "ISS (ZARYA)",
	Line1:   "1 25544U 98067A   25045.18032407  .00016717  00000+0  30099-3 0  9993",
	Line2:   "2 25544  51.6412 193.5765 0003457 126.2851 233.8519 15.49874301495058",
	Epoch:   time.Date(2025, 2, 14, 4, 19, 40, 0, time.UTC),
}

// NYC observer.
var nycObserver = transform.NewObserver(40.7128, -74.006, 0.01)

func TestPredictISS(t *testing.T) {
	req := Request{
		Observer:        nycObserver,
		Sets:            []tle.ElementSet{issTLE},
		Start:           time.Date(2025, 2, 14, 12, 0, 0, 0, time.UTC),
		Horizon:         24 * time.Hour,
		MinElevationDeg: 0,
		MaxPasses:       10,
		Track:           true,
	}

	results := Predict(context.Background(), req)

	if len(results) != 1 {
		t.Fatalf("expected 1 satellite result, got %d", len(results))
	}

	sat := results[0]
	if sat.NORADID != 25544 {
		t.Errorf("NORAD ID = %d, want 25544", sat.NORADID)
	}
	if sat.Error != "" {
		t.Fatalf("unexpected error: %s", sat.Error)
	}

	// ISS in LEO should have multiple passes over 24h from NYC.
	if len(sat.Passes) == 0 {
		t.Fatal("expected at least 1 ISS pass over NYC in 24h")
	}

	for i, p := range sat.Passes {
		// Validate pass structure.
		if p.DurationSeconds < 10 {
			t.Errorf("pass %d: duration %.1fs too short", i, p.DurationSeconds)
		}
		if p.MaxElevationDeg <= 0 {
			t.Errorf("pass %d: max elevation %.2f should be positive", i, p.MaxElevationDeg)
		}
		if p.MaxElevationDeg > 90 {
			t.Errorf("pass %d: max elevation %.2f exceeds 90 degrees", i, p.MaxElevationDeg)
		}
		if p.AzimuthAtMaxDeg < 0 || p.AzimuthAtMaxDeg >= 360 {
			t.Errorf("pass %d: azimuth at max %.2f out of range", i, p.AzimuthAtMaxDeg)
		}
		if p.StartAzimuthDeg < 0 || p.StartAzimuthDeg >= 360 {
			t.Errorf("pass %d: start azimuth %.2f out of range", i, p.StartAzimuthDeg)
		}
		if p.EndAzimuthDeg < 0 || p.EndAzimuthDeg >= 360 {
			t.Errorf("pass %d: end azimuth %.2f out of range", i, p.EndAzimuthDeg)
		}
		if !p.Start.Before(p.Culmination) || !p.Culmination.Before(p.End) {
			t.Errorf("pass %d: time ordering violated: start=%v max=%v end=%v", i, p.Start, p.Culmination, p.End)
		}

		// Validate ground track.
		if len(p.Track) == 0 {
			t.Errorf("pass %d: expected ground track points, got none", i)
		}
		for j, gt := range p.Track {
			if gt.LatDeg < -90 || gt.LatDeg > 90 {
				t.Errorf("pass %d gt %d: latitude %.2f out of range", i, j, gt.LatDeg)
			}
			if gt.LonDeg < -180 || gt.LonDeg > 180 {
				t.Errorf("pass %d gt %d: longitude %.2f out of range", i, j, gt.LonDeg)
			}
			if gt.AltKm < 100 || gt.AltKm > 1000 {
				t.Errorf("pass %d gt %d: altitude %.0f km out of LEO range", i, j, gt.AltKm)
			}
			if gt.ElevationDeg < 0 || gt.ElevationDeg > 90 {
				t.Errorf("pass %d gt %d: elevation %.2f out of range (0-90)", i, j, gt.ElevationDeg)
			}
		}

		t.Logf("pass %d: start=%v maxEl=%.1f° az=%.1f° dur=%.0fs groundTrack=%d pts",
			i, p.Start.Format(time.RFC3339), p.MaxElevationDeg, p.AzimuthAtMaxDeg, p.DurationSeconds, len(p.Track))
	}
}

func TestPredictMinElevationFilter(t *testing.T) {
	// Predict with min_elevation=0 and min_elevation=45; the latter finds fewer passes.
	reqLow := Request{
		Observer:        nycObserver,
		Sets:            []tle.ElementSet{issTLE},
		Start:           time.Date(2025, 2, 14, 12, 0, 0, 0, time.UTC),
		Horizon:         48 * time.Hour,
		MinElevationDeg: 0,
		MaxPasses:       20,
	}
	reqHigh := Request{
		Observer:        nycObserver,
		Sets:            []tle.ElementSet{issTLE},
		Start:           time.Date(2025, 2, 14, 12, 0, 0, 0, time.UTC),
		Horizon:         48 * time.Hour,
		MinElevationDeg: 45,
		MaxPasses:       20,
	}

	resultsLow := Predict(context.Background(), reqLow)
	resultsHigh := Predict(context.Background(), reqHigh)

	nLow := len(resultsLow[0].Passes)
	nHigh := len(resultsHigh[0].Passes)

	if nLow == 0 {
		t.Fatal("expected passes with min_elevation=0")
	}
	if nHigh >= nLow {
		t.Errorf("min_elevation=45 passes (%d) should be fewer than min_elevation=0 passes (%d)", nHigh, nLow)
	}
}

func TestPredictCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel() // cancel immediately

	req := Request{
		Observer:        nycObserver,
		Sets:            []tle.ElementSet{issTLE},
		Start:           time.Now().UTC(),
		Horizon:         24 * time.Hour,
		MinElevationDeg: 0,
		MaxPasses:       10,
	}

	// Should not panic and should return quickly.
	results := Predict(ctx, req)
	if len(results) != 1 {
		t.Fatalf("expected 1 result, got %d", len(results))
	}
	if results[0].Error != "cancelled" {
		t.Errorf("error = %q, want cancelled", results[0].Error)
	}
}

func TestNextMatchesPredict(t *testing.T) {
	start := time.Date(2025, 2, 14, 12, 0, 0, 0, time.UTC)
	results := Predict(context.Background(), Request{
		Observer:  nycObserver,
		Sets:      []tle.ElementSet{issTLE},
		Start:     start,
		Horizon:   24 * time.Hour,
		MaxPasses: 1,
	})
	if len(results[0].Passes) == 0 {
		t.Fatal("expected an ISS pass over NYC in 24h")
	}
	want := results[0].Passes[0]

	got, err := Next(context.Background(), nycObserver, issTLE, start, 24*time.Hour, 0)
	if err != nil {
		t.Fatalf("Next: %v", err)
	}
	if got == nil {
		t.Fatal("Next returned no pass")
	}
	// Next may report an earlier rise when start falls inside a pass.
	if got.Start.After(want.Start) || !got.End.Equal(want.End) {
		t.Errorf("Next = %v..%v, want %v..%v", got.Start, got.End, want.Start, want.End)
	}
	if len(got.Track) != 0 {
		t.Errorf("Next sampled %d track points, want none", len(got.Track))
	}
}

func TestNextDuringPass(t *testing.T) {
	start := time.Date(2025, 2, 14, 12, 0, 0, 0, time.UTC)
	first, err := Next(context.Background(), nycObserver, issTLE, start, 24*time.Hour, 0)
	if err != nil || first == nil {
		t.Fatalf("Next: %v, %v", first, err)
	}

	// Asking mid-pass returns the same pass with its real rise time.
	mid := first.Start.Add(first.End.Sub(first.Start) / 2)
	got, err := Next(context.Background(), nycObserver, issTLE, mid, 24*time.Hour, 0)
	if err != nil || got == nil {
		t.Fatalf("Next mid-pass: %v, %v", got, err)
	}
	if d := got.Start.Sub(first.Start).Abs(); d > 2*time.Second {
		t.Errorf("mid-pass start = %v, want %v", got.Start, first.Start)
	}
	if got.Start.After(mid) || got.End.Before(mid) {
		t.Errorf("pass %v..%v does not contain %v", got.Start, got.End, mid)
	}
}

func TestNextInvalidSet(t *testing.T) {
	bad := tle.ElementSet{NORADID: 1, Line1: "1 00001U", Line2: "2 00001"}
	if _, err := Next(context.Background(), nycObserver, bad, time.Now(), time.Hour, 0); err == nil {
		t.Error("Next with malformed lines should fail")
	}
}

func TestPredictInvalidTLE(t *testing.T) {
	badEntry := tle.ElementSet{
		NORADID: 99999,
		Name:    "BAD SAT",
		Line1:   "1 99999U 00000A   25045.00000000  .00000000  00000+0  00000+0 0  0000",
		Line2:   "2 99999   0.0000   0.0000 0000000   0.0000   0.0000  0.00000000 0000",
	}

	req := Request{
		Observer:        nycObserver,
		Sets:            []tle.ElementSet{issTLE, badEntry},
		Start:           time.Date(2025, 2, 14, 12, 0, 0, 0, time.UTC),
		Horizon:         24 * time.Hour,
		MinElevationDeg: 0,
		MaxPasses:       10,
	}

	results := Predict(context.Background(), req)
	if len(results) != 2 {
		t.Fatalf("expected 2 results, got %d", len(results))
	}

	// ISS should succeed.
	if results[0].Error != "" {
		t.Errorf("ISS should succeed, got error: %s", results[0].Error)
	}
	// Bad satellite should report per-satellite error.
	if results[1].Error == "" {
		t.Error("bad TLE should report error")
	}
}

// Observer in Parrish, FL.
var parrishFLObserver = transform.NewObserver(27.5867, -82.4251, 0)

// haversineKm computes the great-circle distance (km) between two geodetic points.
func haversineKm(lat1, lon1, lat2, lon2 float64) float64 {
	const R = 6371.0
	φ1 := lat1 * math.Pi / 180
	φ2 := lat2 * math.Pi / 180
	Δφ := (lat2 - lat1) * math.Pi / 180
	Δλ := (lon2 - lon1) * math.Pi / 180
	a := math.Sin(Δφ/2)*math.Sin(Δφ/2) + math.Cos(φ1)*math.Cos(φ2)*math.Sin(Δλ/2)*math.Sin(Δλ/2)
	c := 2 * math.Atan2(math.Sqrt(a), math.Sqrt(1-a))
	return R * c
}

// maxGroundDistKm returns the maximum great-circle distance (km) between observer and
// sub-satellite point, given observed elevation (degrees) and satellite altitude (km).
// Uses the geometry: ρ = acos(R·cos(ε)/(R+h)) − ε.
func maxGroundDistKm(elevDeg, h float64) float64 {
	const R = 6371.0
	elevRad := elevDeg * math.Pi / 180
	arg := R * math.Cos(elevRad) / (R + h)
	if arg > 1 {
		arg = 1
	}
	rho := math.Acos(arg) - elevRad
	if rho < 0 {
		rho = 0
	}
	return R * rho
}

// TestGroundTrackPhysicalConsistency verifies that each ground-track point's
// geodetic lat/lon is physically consistent with its reported elevation angle.
// A satellite at elevation ε and altitude h can be at most ρ = acos(R·cos(ε)/(R+h))−ε
// radians (great-circle) from the observer, about 2200 km at the horizon for ISS.
func TestGroundTrackPhysicalConsistency(t *testing.T) {
	const obsLatDeg = 27.5867
	const obsLonDeg = -82.4251

	req := Request{
		Observer:        parrishFLObserver,
		Sets:            []tle.ElementSet{issTLE},
		Start:           time.Date(2025, 2, 14, 0, 0, 0, 0, time.UTC),
		Horizon:         24 * time.Hour,
		MinElevationDeg: 0,
		MaxPasses:       20,
		Track:           true,
	}

	results := Predict(context.Background(), req)
	if len(results) != 1 {
		t.Fatalf("expected 1 result, got %d", len(results))
	}
	sat := results[0]
	if sat.Error != "" {
		t.Fatalf("satellite error: %s", sat.Error)
	}
	if len(sat.Passes) == 0 {
		t.Fatal("no passes found over Parrish FL in 24h; check TLE epoch vs start time")
	}

	t.Logf("observer: %.4f°N, %.4f°W", obsLatDeg, -obsLonDeg)
	t.Logf("found %d passes", len(sat.Passes))

	for pi, p := range sat.Passes {
		t.Logf("pass %d: maxEl=%.1f° dur=%.0fs groundTrack=%d pts",
			pi, p.MaxElevationDeg, p.DurationSeconds, len(p.Track))

		for gi, gt := range p.Track {
			dist := haversineKm(obsLatDeg, obsLonDeg, gt.LatDeg, gt.LonDeg)
			maxPossible := maxGroundDistKm(gt.ElevationDeg, gt.AltKm)

			t.Logf("  gt[%d] t=%s el=%.1f° lat=%.4f lon=%.4f alt=%.0fkm dist=%.0fkm maxPossible=%.0fkm",
				gi, gt.Time.Format("15:04:05"),
				gt.ElevationDeg, gt.LatDeg, gt.LonDeg, gt.AltKm,
				dist, maxPossible)

			// A ground-track point at elevation el and altitude h cannot be more than
			// maxGroundDistKm(el, h) from the observer. Allow 50% slack for rounding.
			if maxPossible > 0 && dist > maxPossible*1.5 {
				t.Errorf("pass %d gt[%d]: dist %.0fkm exceeds max physical %.0fkm (el=%.1f° alt=%.0fkm)",
					pi, gi, dist, maxPossible, gt.ElevationDeg, gt.AltKm)
			}
		}
	}
}

func BenchmarkPredict100Sats24h(b *testing.B) {
	// Create 100 copies of ISS TLE with different NORAD IDs.
	entries := make([]tle.ElementSet, 100)
	for i := range entries {
		entries[i] = issTLE
		entries[i].NORADID = 25544 + i
		entries[i].Index = i
	}

	req := Request{
		Observer:        nycObserver,
		Sets:            entries,
		Start:           time.Date(2025, 2, 14, 12, 0, 0, 0, time.UTC),
		Horizon:         24 * time.Hour,
		MinElevationDeg: 10,
		MaxPasses:       10,
	}

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		Predict(context.Background(), req)
	}
}
