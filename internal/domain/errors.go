package domain

import "errors"

var (
	// ErrNotFound signals a missing resource.
	ErrNotFound = errors.New("not found")
	// ErrInvalidArgument signals a caller error.
	ErrInvalidArgument = errors.New("invalid argument")
	// ErrBackendUnavailable signals a transient backend connection failure.
	ErrBackendUnavailable = errors.New("backend unavailable")
	// ErrBackendClosed signals use of a backend after Close. A usage error,
	// fatal to the caller, never retried.
	ErrBackendClosed = errors.New("backend closed")
	// ErrTimeout signals a transient timeout talking to a collaborator.
	ErrTimeout = errors.New("timeout")
	// ErrEmbeddingProvider signals an embedding provider failure.
	ErrEmbeddingProvider = errors.New("embedding provider error")
	// ErrRerankUnavailable signals a reranking model failure. The query path
	// degrades on it instead of failing.
	ErrRerankUnavailable = errors.New("reranker unavailable")
)
