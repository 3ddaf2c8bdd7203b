// Package heartbeat runs the background maintenance loop: staleness
// check, rebuild, cache warming, and health logging on a fixed interval.
package heartbeat

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/kailas-cloud/recall/internal/domain"
	"github.com/kailas-cloud/recall/internal/metrics"
)

const (
	// MinInterval is the floor on the tick interval. Anything tighter
	// turns maintenance into load.
	MinInterval = 10 * time.Second

	// sleepSlice bounds how long Stop waits for the loop to notice.
	sleepSlice = 250 * time.Millisecond

	warmTopK    = 5
	warmAlpha   = 0.6
	tickTimeout = 30 * time.Second
)

// Config holds heartbeat settings.
type Config struct {
	Interval    time.Duration
	WarmQueries []string
	Logger      *zap.Logger
}

// Heartbeat is the background maintenance loop. Start and Stop are safe
// to call from any goroutine; double starts and stops are no-ops.
type Heartbeat struct {
	engine QueryEngine
	index  Index
	cfg    Config
	logger *zap.Logger

	mu       sync.Mutex
	state    State
	stopCh   chan struct{}
	doneCh   chan struct{}
	ticks    uint64
	lastTick time.Time
	warmIdx  int
}

// New creates a heartbeat. The interval must be at least MinInterval.
func New(engine QueryEngine, index Index, cfg Config) (*Heartbeat, error) {
	if cfg.Interval < MinInterval {
		return nil, fmt.Errorf("%w: heartbeat interval %s below minimum %s",
			domain.ErrInvalidArgument, cfg.Interval, MinInterval)
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	return &Heartbeat{
		engine: engine,
		index:  index,
		cfg:    cfg,
		logger: cfg.Logger,
		state:  StateIdle,
	}, nil
}

// Start launches the loop. Starting a running heartbeat logs and returns.
func (h *Heartbeat) Start() {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.state == StateRunning {
		h.logger.Warn("heartbeat already running")
		return
	}
	h.stopCh = make(chan struct{})
	h.doneCh = make(chan struct{})
	h.state = StateRunning
	go h.loop(h.stopCh, h.doneCh)
	h.logger.Info("heartbeat started", zap.Duration("interval", h.cfg.Interval))
}

// Stop signals the loop and waits up to timeout for it to finish. The
// heartbeat transitions to Stopped either way; a loop stuck mid-tick is
// abandoned, not joined.
func (h *Heartbeat) Stop(timeout time.Duration) {
	h.mu.Lock()
	if h.state != StateRunning {
		h.mu.Unlock()
		return
	}
	h.state = StateStopped
	stopCh, doneCh := h.stopCh, h.doneCh
	h.mu.Unlock()

	close(stopCh)
	select {
	case <-doneCh:
		h.logger.Info("heartbeat stopped")
	case <-time.After(timeout):
		h.logger.Warn("heartbeat stop timed out", zap.Duration("timeout", timeout))
	}
}

// Status reports the current lifecycle phase and tick counters.
func (h *Heartbeat) Status() Status {
	h.mu.Lock()
	defer h.mu.Unlock()
	return Status{State: h.state, Ticks: h.ticks, LastTick: h.lastTick}
}

// loop sleeps in short slices between ticks so Stop is prompt even with
// long intervals.
func (h *Heartbeat) loop(stopCh, doneCh chan struct{}) {
	defer close(doneCh)
	for {
		deadline := time.Now().Add(h.cfg.Interval)
		for time.Now().Before(deadline) {
			select {
			case <-stopCh:
				return
			case <-time.After(sleepSlice):
			}
		}
		select {
		case <-stopCh:
			return
		default:
		}
		h.tick()
	}
}

// tick runs one maintenance pass. Every step is best-effort: failures are
// logged and the loop keeps going.
func (h *Heartbeat) tick() {
	defer func() {
		if r := recover(); r != nil {
			h.logger.Error("heartbeat tick panicked", zap.Any("panic", r))
		}
	}()

	h.mu.Lock()
	h.ticks++
	h.lastTick = time.Now()
	h.mu.Unlock()
	metrics.HeartbeatTicksTotal.Inc()

	ctx, cancel := context.WithTimeout(context.Background(), tickTimeout)
	defer cancel()

	h.maybeRebuild(ctx)
	h.warm(ctx)
	h.logHealth(ctx)
}

func (h *Heartbeat) maybeRebuild(ctx context.Context) {
	stale, err := h.index.Stale(ctx)
	if err != nil {
		h.logger.Warn("staleness check failed", zap.Error(err))
		return
	}
	if !stale {
		return
	}

	n, err := h.index.Rebuild(ctx)
	if err != nil {
		metrics.HeartbeatRebuildsTotal.WithLabelValues("error").Inc()
		h.logger.Error("index rebuild failed", zap.Error(err))
		return
	}
	metrics.HeartbeatRebuildsTotal.WithLabelValues("success").Inc()
	h.engine.InvalidateCache()
	h.logger.Info("stale index rebuilt", zap.Int("documents", n))
}

// warm issues one configured query per tick, round-robin, so the hot
// paths stay cached between real requests.
func (h *Heartbeat) warm(ctx context.Context) {
	if len(h.cfg.WarmQueries) == 0 {
		return
	}

	h.mu.Lock()
	text := h.cfg.WarmQueries[h.warmIdx%len(h.cfg.WarmQueries)]
	h.warmIdx++
	h.mu.Unlock()

	_, err := h.engine.Query(ctx, domain.Query{
		Text:  text,
		Mode:  domain.ModeHybrid,
		TopK:  warmTopK,
		Alpha: warmAlpha,
	})
	if err != nil {
		h.logger.Warn("warm query failed", zap.String("query", text), zap.Error(err))
	}
}

func (h *Heartbeat) logHealth(ctx context.Context) {
	stats, err := h.engine.Stats(ctx)
	if err != nil {
		h.logger.Warn("health snapshot failed", zap.Error(err))
		return
	}
	h.logger.Info("heartbeat health",
		zap.Int("documents", stats.DocumentCount),
		zap.Uint64("queries", stats.QueryCount),
		zap.Float64("cache_hit_rate", stats.CacheHitRate),
		zap.Int("cache_size", stats.CacheSize),
		zap.Duration("since_last_access", stats.SinceLastAccess),
	)
}
