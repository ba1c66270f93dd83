package tle

import (
	"sync/atomic"
	"time"
)

// Store provides thread-safe access to the current dataset.
type Store struct {
	dataset    atomic.Pointer[Dataset]
	generation atomic.Uint64
}

// NewStore creates a new empty Store.
func NewStore() *Store {
	return &Store{}
}

// Get returns the current dataset, or nil if none has been loaded.
func (s *Store) Get() *Dataset {
	return s.dataset.Load()
}

// Set atomically replaces the current dataset and stamps it with the next
// generation number, which it returns.
func (s *Store) Set(ds *Dataset) uint64 {
	gen := s.generation.Add(1)
	ds.Generation = gen
	s.dataset.Store(ds)
	return gen
}

// AgeSeconds returns the age of the current dataset in seconds.
// Returns -1 if no dataset is loaded.
func (s *Store) AgeSeconds() float64 {
	ds := s.dataset.Load()
	if ds == nil {
		return -1
	}
	return time.Since(ds.LoadedAt).Seconds()
}
