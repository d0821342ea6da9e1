package storage

import (
	"sync"

	"github.com/yourusername/backtest-cache/internal/models"
)

// statsCounter tracks hits and misses for the lifetime of a backend instance.
type statsCounter struct {
	mu     sync.Mutex
	counts models.CacheStats
}

func (s *statsCounter) hit() {
	s.mu.Lock()
	s.counts.RecordHit()
	s.mu.Unlock()
}

func (s *statsCounter) miss() {
	s.mu.Lock()
	s.counts.RecordMiss()
	s.mu.Unlock()
}

func (s *statsCounter) reset() {
	s.mu.Lock()
	s.counts = models.CacheStats{}
	s.mu.Unlock()
}

// fill copies the request counters into stats.
func (s *statsCounter) fill(stats *models.CacheStats) {
	s.mu.Lock()
	stats.CacheHits = s.counts.CacheHits
	stats.CacheMisses = s.counts.CacheMisses
	stats.TotalRequests = s.counts.TotalRequests
	s.mu.Unlock()
}
