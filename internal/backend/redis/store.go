// Package redis implements the retrieval backend over Redis/Valkey 8+
// FT.SEARCH: HNSW KNN for vector queries, BM25 for keyword queries, and
// alpha-weighted RRF for hybrid. Documents live in hashes under a common
// key prefix; metadata fields listed in Config.FilterFields are indexed
// as TAG fields and usable in query filters.
package redis

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync/atomic"
	"time"

	"github.com/redis/rueidis"
	"go.uber.org/zap"

	"github.com/kailas-cloud/recall/internal/backend"
	"github.com/kailas-cloud/recall/internal/domain"
)

// Reserved hash field names; metadata keys must not collide with them.
const (
	fieldContent = "__content"
	fieldVector  = "__vector"
	scoreField   = "__vector_score"
)

// Compile-time check: Store implements backend.Backend.
var _ backend.Backend = (*Store)(nil)

// Config holds connection and index parameters.
type Config struct {
	Addrs     []string
	Username  string
	Password  string
	DB        int
	IndexName string
	KeyPrefix string
	VectorDim int
	// FilterFields are metadata keys indexed as TAG fields.
	FilterFields    []string
	HNSWM           int
	HNSWEFConstruct int
	Logger          *zap.Logger
}

// Store is a rueidis-backed retrieval backend.
type Store struct {
	client rueidis.Client
	cfg    Config
	logger *zap.Logger
	closed atomic.Bool
}

// NewStore connects to Redis/Valkey.
func NewStore(cfg Config) (*Store, error) {
	if len(cfg.Addrs) == 0 {
		return nil, fmt.Errorf("%w: addrs is required", domain.ErrInvalidArgument)
	}
	if cfg.IndexName == "" || cfg.KeyPrefix == "" {
		return nil, fmt.Errorf("%w: index name and key prefix are required", domain.ErrInvalidArgument)
	}
	if cfg.VectorDim <= 0 {
		return nil, fmt.Errorf("%w: vector dim must be positive", domain.ErrInvalidArgument)
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}

	client, err := rueidis.NewClient(rueidis.ClientOption{
		InitAddress:  cfg.Addrs,
		Username:     cfg.Username,
		Password:     cfg.Password,
		SelectDB:     cfg.DB,
		DisableCache: true,
		AlwaysRESP2:  true, // FT.SEARCH result parsing expects RESP2 array format
	})
	if err != nil {
		return nil, fmt.Errorf("create client: %w", err)
	}
	return &Store{client: client, cfg: cfg, logger: cfg.Logger}, nil
}

// NewStoreForTest wraps an existing client (e.g. a rueidis mock).
func NewStoreForTest(client rueidis.Client, cfg Config) *Store {
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	return &Store{client: client, cfg: cfg, logger: cfg.Logger}
}

// EnsureIndex creates the FT index if it does not exist yet.
func (s *Store) EnsureIndex(ctx context.Context) error {
	if err := s.guard(); err != nil {
		return err
	}

	args := []string{
		s.cfg.IndexName,
		"ON", "HASH",
		"PREFIX", "1", s.cfg.KeyPrefix,
		"SCHEMA",
		fieldContent, "TEXT",
	}
	for _, f := range s.cfg.FilterFields {
		args = append(args, f, "TAG")
	}

	m := s.cfg.HNSWM
	if m <= 0 {
		m = 32
	}
	ef := s.cfg.HNSWEFConstruct
	if ef <= 0 {
		ef = 400
	}
	args = append(args,
		fieldVector, "VECTOR", "HNSW", "10",
		"TYPE", "FLOAT32",
		"DIM", strconv.Itoa(s.cfg.VectorDim),
		"DISTANCE_METRIC", "COSINE",
		"M", strconv.Itoa(m),
		"EF_CONSTRUCTION", strconv.Itoa(ef),
	)

	cmd := s.client.B().Arbitrary("FT.CREATE").Args(args...).Build()
	if err := s.client.Do(ctx, cmd).Error(); err != nil {
		if isRedisErr(err, "index already exists") {
			return nil
		}
		return s.wrap("FT.CREATE", err)
	}
	return nil
}

// Health checks connectivity.
func (s *Store) Health(ctx context.Context) error {
	if err := s.guard(); err != nil {
		return err
	}
	cmd := s.client.B().Ping().Build()
	if err := s.client.Do(ctx, cmd).Error(); err != nil {
		return s.wrap("PING", err)
	}
	return nil
}

// WaitForReady polls Health until the store responds or timeout expires.
func (s *Store) WaitForReady(ctx context.Context, timeout time.Duration) error {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	ticker := time.NewTicker(100 * time.Millisecond)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return fmt.Errorf("waiting for backend: %w", domain.ErrTimeout)
		case <-ticker.C:
			if err := s.Health(ctx); err == nil {
				return nil
			}
		}
	}
}

// Close shuts down the client. Any later call fails with ErrBackendClosed.
func (s *Store) Close() error {
	if s.closed.Swap(true) {
		return nil
	}
	s.client.Close()
	return nil
}

func (s *Store) guard() error {
	if s.closed.Load() {
		return domain.ErrBackendClosed
	}
	return nil
}

// wrap classifies a command failure for the retry policy: deadline errors
// stay timeouts, everything else from the transport is treated as a
// transient backend failure.
func (s *Store) wrap(op string, err error) error {
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return fmt.Errorf("%s: %w: %v", op, domain.ErrTimeout, err)
	case errors.Is(err, context.Canceled):
		return fmt.Errorf("%s: %w", op, err)
	case isRedisErr(err, "unknown index name"):
		return fmt.Errorf("%s: index %q: %w", op, s.cfg.IndexName, domain.ErrNotFound)
	default:
		return fmt.Errorf("%s: %w: %v", op, domain.ErrBackendUnavailable, err)
	}
}

func (s *Store) key(id string) string {
	return s.cfg.KeyPrefix + id
}

func (s *Store) id(key string) string {
	return strings.TrimPrefix(key, s.cfg.KeyPrefix)
}

func isRedisErr(err error, substr string) bool {
	if err == nil {
		return false
	}
	return strings.Contains(strings.ToLower(err.Error()), substr)
}
