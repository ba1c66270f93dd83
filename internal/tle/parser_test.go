package tle

import (
	"strings"
	"testing"
	"time"
)

const (
	issLine1      = "1 25544U 98067A   24100.50000000  .00016717  00000-0  10270-3 0  9005"
	issLine2      = "2 25544  51.6400 100.0000 0001000   0.0000   0.0000 15.50000000    09"
	starlinkLine1 = "1 44713U 19074A   24100.50000000  .00001000  00000-0  10000-4 0  9995"
	starlinkLine2 = "2 44713  53.0000 200.0000 0001500  90.0000 270.0000 15.06000000    05"
)

// TestParseMixedForms verifies 3-line and bare 2-line sets parse with dense indices.
func TestParseMixedForms(t *testing.T) {
	input := strings.Join([]string{
		"ISS (ZARYA)",
		issLine1,
		issLine2,
		starlinkLine1,
		starlinkLine2,
	}, "\n")

	sets, err := Parse(strings.NewReader(input), testLogger)
	if err != nil {
		t.Fatalf("Parse failed: %v", err)
	}
	if len(sets) != 2 {
		t.Fatalf("got %d sets, want 2", len(sets))
	}
	for i, s := range sets {
		if s.Index != i {
			t.Errorf("sets[%d].Index = %d, want %d", i, s.Index, i)
		}
	}
	if sets[0].Name != "ISS (ZARYA)" || sets[0].NORADID != 25544 {
		t.Errorf("sets[0] = %+v", sets[0])
	}
	if sets[1].Name != "NORAD 44713" {
		t.Errorf("bare set name = %q, want %q", sets[1].Name, "NORAD 44713")
	}
	if sets[0].Line1 != issLine1 || sets[0].Line2 != issLine2 {
		t.Error("element set lines were not preserved byte-exact")
	}
}

// TestParseSkipsMalformed verifies that junk lines do not shift later indices.
func TestParseSkipsMalformed(t *testing.T) {
	input := strings.Join([]string{
		"garbage line",
		"ISS (ZARYA)",
		issLine1,
		issLine2,
		"1 ABCDEU 19074A   24100.50000000  .00001000  00000-0  10000-4 0  9995",
		starlinkLine2,
		"STARLINK-1007",
		starlinkLine1,
		starlinkLine2,
	}, "\n")

	sets, err := Parse(strings.NewReader(input), testLogger)
	if err != nil {
		t.Fatalf("Parse failed: %v", err)
	}
	if len(sets) != 2 {
		t.Fatalf("got %d sets, want 2", len(sets))
	}
	if sets[1].NORADID != 44713 || sets[1].Index != 1 {
		t.Errorf("sets[1] = %+v, want NORAD 44713 at index 1", sets[1])
	}
}

func TestParseEpoch(t *testing.T) {
	tests := []struct {
		in   string
		want time.Time
	}{
		{"24100.50000000", time.Date(2024, 4, 9, 12, 0, 0, 0, time.UTC)},
		{"98001.00000000", time.Date(1998, 1, 1, 0, 0, 0, 0, time.UTC)},
		{"57001.25000000", time.Date(1957, 1, 1, 6, 0, 0, 0, time.UTC)},
	}
	for _, tt := range tests {
		got, err := parseEpoch(tt.in)
		if err != nil {
			t.Fatalf("parseEpoch(%q) error: %v", tt.in, err)
		}
		if !got.Equal(tt.want) {
			t.Errorf("parseEpoch(%q) = %v, want %v", tt.in, got, tt.want)
		}
	}
}

func TestPeriod(t *testing.T) {
	s := ElementSet{Line1: issLine1, Line2: issLine2}
	p, err := s.Period()
	if err != nil {
		t.Fatalf("Period failed: %v", err)
	}
	// 1440 / 15.5 = 92.903 minutes.
	meanMotion := 15.5
	want := time.Duration(1440 / meanMotion * float64(time.Minute))
	if p != want {
		t.Errorf("Period = %v, want %v", p, want)
	}

	if _, err := (ElementSet{Line2: "2 25544"}).Period(); err == nil {
		t.Error("expected error for short line2")
	}
}

func TestStoreGeneration(t *testing.T) {
	store := NewStore()
	if store.Get() != nil {
		t.Fatal("new store should be empty")
	}
	if age := store.AgeSeconds(); age != -1 {
		t.Errorf("AgeSeconds on empty store = %v, want -1", age)
	}

	g1 := store.Set(NewDataset("a", time.Now(), nil))
	g2 := store.Set(NewDataset("b", time.Now(), nil))
	if g2 != g1+1 {
		t.Errorf("generations %d, %d are not consecutive", g1, g2)
	}
	if store.Get().Source != "b" || store.Get().Generation != g2 {
		t.Errorf("store holds %+v", store.Get())
	}
}

func TestCachePrune(t *testing.T) {
	cache := NewCache(t.TempDir(), 2)
	for i := 0; i < 4; i++ {
		if err := cache.Write([]byte{byte('a' + i)}, time.Unix(int64(1000+i), 0)); err != nil {
			t.Fatalf("Write %d: %v", i, err)
		}
	}

	files, err := cache.listFiles()
	if err != nil {
		t.Fatal(err)
	}
	if len(files) != 2 {
		t.Fatalf("got %d files after prune, want 2", len(files))
	}

	data, ts, err := cache.LoadLatest()
	if err != nil {
		t.Fatalf("LoadLatest: %v", err)
	}
	if string(data) != "d" || ts.Unix() != 1003 {
		t.Errorf("LoadLatest = %q @ %d, want \"d\" @ 1003", data, ts.Unix())
	}
}
