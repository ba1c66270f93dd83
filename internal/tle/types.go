package tle

import (
	"errors"
	"time"
)

// ErrNoDataset is returned when an operation needs a dataset and none is loaded.
var ErrNoDataset = errors.New("no element set dataset loaded")

// ElementSet is one tracked object's two-line element set.
// Index is dense in [0, N) and follows the order of the source file.
type ElementSet struct {
	Index   int
	NORADID int
	Name    string
	Epoch   time.Time
	Line1   string
	Line2   string
}

// EpochRange represents the minimum and maximum epoch times in a dataset.
type EpochRange struct {
	Min time.Time
	Max time.Time
}

// Dataset is a complete, immutable set of element sets from one source.
// Generation increases every time the Store is given a new dataset.
type Dataset struct {
	Source     string
	LoadedAt   time.Time
	Generation uint64
	EpochRange EpochRange
	Sets       []ElementSet
}

// Len returns the number of tracked objects.
func (d *Dataset) Len() int {
	if d == nil {
		return 0
	}
	return len(d.Sets)
}

// NewDataset builds a Dataset from parsed element sets, computing the epoch range.
func NewDataset(source string, loadedAt time.Time, sets []ElementSet) *Dataset {
	ds := &Dataset{
		Source:   source,
		LoadedAt: loadedAt,
		Sets:     sets,
	}
	if len(sets) == 0 {
		return ds
	}
	ds.EpochRange = EpochRange{Min: sets[0].Epoch, Max: sets[0].Epoch}
	for _, s := range sets[1:] {
		if s.Epoch.Before(ds.EpochRange.Min) {
			ds.EpochRange.Min = s.Epoch
		}
		if s.Epoch.After(ds.EpochRange.Max) {
			ds.EpochRange.Max = s.Epoch
		}
	}
	return ds
}
