package models

import "math"

// CacheStats is a snapshot of cache counters.
type CacheStats struct {
	TotalRecords      int64 `json:"total_records"`
	TotalDataHashes   int64 `json:"total_data_hashes"`
	TotalConfigHashes int64 `json:"total_config_hashes"`
	CacheHits         int64 `json:"cache_hits"`
	CacheMisses       int64 `json:"cache_misses"`
	TotalRequests     int64 `json:"total_requests"`
}

// StatsSummary is the caller-facing view with rates as percentages.
type StatsSummary struct {
	TotalRecords      int64   `json:"total_records"`
	TotalDataHashes   int64   `json:"total_data_hashes"`
	TotalConfigHashes int64   `json:"total_config_hashes"`
	CacheHits         int64   `json:"cache_hits"`
	CacheMisses       int64   `json:"cache_misses"`
	TotalRequests     int64   `json:"total_requests"`
	HitRate           float64 `json:"hit_rate"`
	MissRate          float64 `json:"miss_rate"`
}

// HitRate is hits/requests, 0 before the first request.
func (s CacheStats) HitRate() float64 {
	if s.TotalRequests == 0 {
		return 0
	}
	return float64(s.CacheHits) / float64(s.TotalRequests)
}

// MissRate is misses/requests, 0 before the first request.
func (s CacheStats) MissRate() float64 {
	if s.TotalRequests == 0 {
		return 0
	}
	return float64(s.CacheMisses) / float64(s.TotalRequests)
}

// RecordHit counts a read hit. Not safe for concurrent use; backends serialize calls.
func (s *CacheStats) RecordHit() {
	s.CacheHits++
	s.TotalRequests++
}

// RecordMiss counts a read miss.
func (s *CacheStats) RecordMiss() {
	s.CacheMisses++
	s.TotalRequests++
}

// ToSummary rounds rates to percentages with two decimals.
func (s CacheStats) ToSummary() StatsSummary {
	return StatsSummary{
		TotalRecords:      s.TotalRecords,
		TotalDataHashes:   s.TotalDataHashes,
		TotalConfigHashes: s.TotalConfigHashes,
		CacheHits:         s.CacheHits,
		CacheMisses:       s.CacheMisses,
		TotalRequests:     s.TotalRequests,
		HitRate:           percent(s.HitRate()),
		MissRate:          percent(s.MissRate()),
	}
}

func percent(rate float64) float64 {
	return math.Round(rate*10000) / 100
}
