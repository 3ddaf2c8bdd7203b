package heartbeat

import (
	"context"
	"time"

	"github.com/kailas-cloud/recall/internal/domain"
)

// Index is the slice of the ingest layer the heartbeat drives: staleness
// detection and rebuilds.
type Index interface {
	Stale(ctx context.Context) (bool, error)
	Rebuild(ctx context.Context) (int, error)
}

// QueryEngine is the slice of the engine the heartbeat exercises.
type QueryEngine interface {
	Query(ctx context.Context, q domain.Query) (domain.Response, error)
	Stats(ctx context.Context) (domain.EngineStats, error)
	InvalidateCache()
}

// State is the lifecycle phase of a heartbeat.
type State string

const (
	StateIdle    State = "idle"
	StateRunning State = "running"
	StateStopped State = "stopped"
)

// Status is a point-in-time view of the heartbeat for the health endpoint.
type Status struct {
	State    State
	Ticks    uint64
	LastTick time.Time
}
