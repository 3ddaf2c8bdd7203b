package domain

import "time"

// EngineStats is the aggregate health snapshot the heartbeat logs and the
// health endpoint reports.
type EngineStats struct {
	DocumentCount   int
	QueryCount      uint64
	CacheHits       uint64
	CacheMisses     uint64
	CacheHitRate    float64
	CacheSize       int
	CacheCapacity   int
	SinceLastAccess time.Duration
}
