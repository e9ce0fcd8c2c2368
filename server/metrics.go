package server

import (
	"sync"
	"time"
)

// ScriptStats aggregates requests that executed one script.
type ScriptStats struct {
	Count        uint64        `json:"count"`
	Errors       uint64        `json:"errors"`
	TotalLatency time.Duration `json:"total_latency_ns"`
}

// AverageLatency is TotalLatency / Count.
func (s ScriptStats) AverageLatency() time.Duration {
	if s.Count == 0 {
		return 0
	}
	return s.TotalLatency / time.Duration(s.Count)
}

// Stats counts requests per server.
type Stats struct {
	mu            sync.Mutex
	TotalRequests uint64                  `json:"total_requests"`
	TotalErrors   uint64                  `json:"total_errors"`
	TotalTimeouts uint64                  `json:"total_timeouts"`
	InFlight      uint64                  `json:"in_flight"`
	ByScript      map[string]*ScriptStats `json:"by_script"`
}

func NewStats() *Stats {
	return &Stats{
		ByScript: make(map[string]*ScriptStats),
	}
}

type outcome int

const (
	outcomeOK outcome = iota
	outcomeError
	outcomeTimeout
)

func (s *Stats) StartRequest(script string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.InFlight++
	s.TotalRequests++
	if _, ok := s.ByScript[script]; !ok {
		s.ByScript[script] = &ScriptStats{}
	}
}

func (s *Stats) EndRequest(script string, latency time.Duration, o outcome) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.InFlight > 0 {
		s.InFlight--
	}

	ss := s.ByScript[script]
	if ss == nil {
		ss = &ScriptStats{}
		s.ByScript[script] = ss
	}
	ss.Count++
	ss.TotalLatency += latency

	switch o {
	case outcomeTimeout:
		s.TotalTimeouts++
		s.TotalErrors++
		ss.Errors++
	case outcomeError:
		s.TotalErrors++
		ss.Errors++
	}
}

// Snapshot returns a copy safe to read without locking.
func (s *Stats) Snapshot() *Stats {
	s.mu.Lock()
	defer s.mu.Unlock()

	cp := &Stats{
		TotalRequests: s.TotalRequests,
		TotalErrors:   s.TotalErrors,
		TotalTimeouts: s.TotalTimeouts,
		InFlight:      s.InFlight,
		ByScript:      make(map[string]*ScriptStats, len(s.ByScript)),
	}
	for name, ss := range s.ByScript {
		ssCopy := *ss
		cp.ByScript[name] = &ssCopy
	}
	return cp
}
