package stream

import (
	"sync"
)

// Reasons a stream slot is refused.
const (
	limitPerIP = "per_ip"
	limitTotal = "total"
)

// slots caps concurrent stream connections per client IP and in total.
type slots struct {
	mu       sync.Mutex
	byIP     map[string]int
	total    int
	maxPerIP int
	maxTotal int
}

func newSlots(maxPerIP, maxTotal int) *slots {
	return &slots{
		byIP:     make(map[string]int),
		maxPerIP: maxPerIP,
		maxTotal: maxTotal,
	}
}

// acquire takes a slot for ip. On success it returns a release func that
// is safe to call more than once; otherwise it returns the cap that was hit.
func (s *slots) acquire(ip string) (release func(), refused string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	switch {
	case s.total >= s.maxTotal:
		return nil, limitTotal
	case s.byIP[ip] >= s.maxPerIP:
		return nil, limitPerIP
	}
	s.byIP[ip]++
	s.total++
	return sync.OnceFunc(func() { s.release(ip) }), ""
}

func (s *slots) release(ip string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	n := s.byIP[ip]
	if n <= 0 {
		return
	}
	if n == 1 {
		delete(s.byIP, ip)
	} else {
		s.byIP[ip] = n - 1
	}
	s.total--
}

// held returns the slots held by ip.
func (s *slots) held(ip string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.byIP[ip]
}

func (s *slots) active() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.total
}
