// Package sysinfo samples process resource usage for the stats endpoint.
package sysinfo

import (
	"sync"
	"time"
)

// CPUSampler converts cumulative process CPU time into a utilization
// percentage over the interval since the previous sample.
type CPUSampler struct {
	read func() (time.Duration, bool)
	now  func() time.Time

	mu       sync.Mutex
	lastCPU  time.Duration
	lastWall time.Time
}

// NewCPUSampler returns a sampler for the current process.
func NewCPUSampler() *CPUSampler {
	return &CPUSampler{read: processCPUTime, now: time.Now}
}

// Percent returns CPU use as a percentage of one core, capped at 100. The
// first call only records a baseline and returns 0.
func (s *CPUSampler) Percent() float64 {
	cpu, ok := s.read()
	if !ok {
		return 0
	}
	wall := s.now()

	s.mu.Lock()
	defer s.mu.Unlock()

	prevCPU, prevWall := s.lastCPU, s.lastWall
	s.lastCPU, s.lastWall = cpu, wall

	elapsed := wall.Sub(prevWall)
	if prevWall.IsZero() || elapsed <= 0 {
		return 0
	}

	pct := float64(cpu-prevCPU) / float64(elapsed) * 100
	return min(max(pct, 0), 100)
}
