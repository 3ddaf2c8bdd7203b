// Package ingest builds the index from watched source directories and
// keeps the on-disk manifest that staleness detection runs against.
package ingest

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/kailas-cloud/recall/internal/backend"
	"github.com/kailas-cloud/recall/internal/domain"
)

const defaultEmbedBatch = 16

// sourceExtensions are the file types picked up from watched directories.
var sourceExtensions = map[string]bool{
	".txt":      true,
	".md":       true,
	".markdown": true,
}

// BatchEmbedder vectorizes document batches.
type BatchEmbedder interface {
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)
}

// Config holds ingester settings.
type Config struct {
	WatchDirs    []string
	ManifestPath string
	EmbedBatch   int
	Logger       *zap.Logger
}

// Ingester reads sources, embeds them, and writes them to the backend.
type Ingester struct {
	backend  backend.Backend
	embedder BatchEmbedder
	cfg      Config
	logger   *zap.Logger
}

// New creates an ingester.
func New(be backend.Backend, embedder BatchEmbedder, cfg Config) (*Ingester, error) {
	if len(cfg.WatchDirs) == 0 {
		return nil, fmt.Errorf("%w: at least one watch directory is required", domain.ErrInvalidArgument)
	}
	if cfg.ManifestPath == "" {
		return nil, fmt.Errorf("%w: manifest path is required", domain.ErrInvalidArgument)
	}
	if cfg.EmbedBatch <= 0 {
		cfg.EmbedBatch = defaultEmbedBatch
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	return &Ingester{backend: be, embedder: embedder, cfg: cfg, logger: cfg.Logger}, nil
}

// Stale reports whether any watched source is newer than the last build.
// A missing manifest means the index was never built: always stale.
func (i *Ingester) Stale(context.Context) (bool, error) {
	manifest, err := LoadManifest(i.cfg.ManifestPath)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return true, nil
		}
		return false, err
	}

	stale := false
	err = i.walkSources(func(_ string, info fs.FileInfo) error {
		if info.ModTime().After(manifest.BuiltAt) {
			stale = true
			return fs.SkipAll
		}
		return nil
	})
	if err != nil {
		return false, err
	}
	return stale, nil
}

// LastBuild returns the timestamp of the last completed build.
func (i *Ingester) LastBuild() (time.Time, error) {
	manifest, err := LoadManifest(i.cfg.ManifestPath)
	if err != nil {
		return time.Time{}, err
	}
	return manifest.BuiltAt, nil
}

// Rebuild re-reads every watched source, embeds, writes to the backend,
// and persists a fresh manifest. Returns the number of documents indexed.
func (i *Ingester) Rebuild(ctx context.Context) (int, error) {
	start := time.Now()

	var paths []string
	err := i.walkSources(func(path string, _ fs.FileInfo) error {
		paths = append(paths, path)
		return nil
	})
	if err != nil {
		return 0, err
	}
	sort.Strings(paths)

	indexed := 0
	for batchStart := 0; batchStart < len(paths); batchStart += i.cfg.EmbedBatch {
		batchEnd := min(batchStart+i.cfg.EmbedBatch, len(paths))

		docs, err := i.readBatch(paths[batchStart:batchEnd])
		if err != nil {
			return indexed, err
		}
		if len(docs) == 0 {
			continue
		}

		texts := make([]string, len(docs))
		for j, d := range docs {
			texts[j] = d.Content
		}
		vectors, err := i.embedder.EmbedBatch(ctx, texts)
		if err != nil {
			return indexed, fmt.Errorf("embed batch: %w", err)
		}
		for j := range docs {
			docs[j].Embedding = vectors[j]
		}

		if err := i.backend.AddDocuments(ctx, docs); err != nil {
			return indexed, fmt.Errorf("add documents: %w", err)
		}
		indexed += len(docs)
	}

	manifest := Manifest{BuiltAt: start, DocumentCount: indexed, SourceCount: len(paths)}
	if err := manifest.Save(i.cfg.ManifestPath); err != nil {
		return indexed, err
	}

	i.logger.Info("index rebuilt",
		zap.Int("documents", indexed),
		zap.Int("sources", len(paths)),
		zap.Duration("took", time.Since(start)),
	)
	return indexed, nil
}

func (i *Ingester) readBatch(paths []string) ([]backend.Document, error) {
	docs := make([]backend.Document, 0, len(paths))
	for _, path := range paths {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read source %s: %w", path, err)
		}
		content := strings.TrimSpace(string(data))
		if content == "" {
			continue
		}
		docs = append(docs, backend.Document{
			ID:      docID(path),
			Content: content,
			Metadata: map[string]string{
				"source": path,
				"ext":    strings.TrimPrefix(filepath.Ext(path), "."),
			},
		})
	}
	return docs, nil
}

func (i *Ingester) walkSources(fn func(path string, info fs.FileInfo) error) error {
	for _, dir := range i.cfg.WatchDirs {
		err := filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
			if err != nil {
				return err
			}
			if d.IsDir() || !sourceExtensions[strings.ToLower(filepath.Ext(path))] {
				return nil
			}
			info, err := d.Info()
			if err != nil {
				return err
			}
			return fn(path, info)
		})
		if err != nil && !errors.Is(err, fs.SkipAll) {
			return fmt.Errorf("walk %s: %w", dir, err)
		}
	}
	return nil
}

// docID derives a stable document id from a source path.
func docID(path string) string {
	id := strings.TrimPrefix(filepath.ToSlash(path), "/")
	return strings.ReplaceAll(id, "/", ":")
}
