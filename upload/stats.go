package upload

import (
	"sync"
	"time"
)

// Stats aggregates the parts uploaded by one run of a Controller. Parts recorded by an earlier run
// and resumed from a checkpoint are not counted.
type Stats struct {
	mu       sync.Mutex
	parts    int64
	bytes    int64
	duration time.Duration
}

// Summary is a consistent snapshot of Stats.
type Summary struct {
	Parts      int64
	Bytes      int64
	Average    time.Duration
	Throughput int64
}

// NewStats ...
func NewStats() *Stats {
	return &Stats{}
}

// Record adds a part whose receipt was persisted.
func (s *Stats) Record(part PartSpec, took time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.parts++
	s.bytes += part.Length
	s.duration += took
}

// Average returns the mean upload time of the recorded parts.
func (s *Stats) Average() time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.average()
}

// FinishedCount returns the number of parts uploaded by this run.
func (s *Stats) FinishedCount() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.parts
}

// Summary ...
func (s *Stats) Summary() Summary {
	s.mu.Lock()
	defer s.mu.Unlock()
	return Summary{
		Parts:      s.parts,
		Bytes:      s.bytes,
		Average:    s.average(),
		Throughput: Throughput(s.bytes, s.duration),
	}
}

// Reset ...
func (s *Stats) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.parts = 0
	s.bytes = 0
	s.duration = 0
}

func (s *Stats) average() time.Duration {
	if s.parts == 0 {
		return 0
	}
	return s.duration / time.Duration(s.parts)
}

// Throughput returns the bytes per second of transferring n bytes in took, 0 when took is not positive.
func Throughput(n int64, took time.Duration) int64 {
	if took <= 0 {
		return 0
	}
	return int64(float64(n) / took.Seconds())
}
