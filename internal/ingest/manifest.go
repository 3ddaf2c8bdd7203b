package ingest

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"github.com/kailas-cloud/recall/internal/domain"
)

// Manifest is the on-disk record of the last index build. Its BuiltAt
// timestamp is what staleness detection compares source files against.
type Manifest struct {
	BuiltAt       time.Time `json:"built_at"`
	DocumentCount int       `json:"document_count"`
	SourceCount   int       `json:"source_count"`
}

// LoadManifest reads a manifest. A missing file maps to domain.ErrNotFound.
func LoadManifest(path string) (Manifest, error) {
	data, err := os.ReadFile(filepath.Clean(path))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return Manifest{}, fmt.Errorf("manifest %s: %w", path, domain.ErrNotFound)
		}
		return Manifest{}, fmt.Errorf("read manifest: %w", err)
	}

	var m Manifest
	if err := json.Unmarshal(data, &m); err != nil {
		return Manifest{}, fmt.Errorf("parse manifest: %w", err)
	}
	return m, nil
}

// Save writes the manifest atomically (temp file + rename).
func (m Manifest) Save(path string) error {
	data, err := json.MarshalIndent(m, "", "  ")
	if err != nil {
		return fmt.Errorf("encode manifest: %w", err)
	}

	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("write manifest: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return fmt.Errorf("replace manifest: %w", err)
	}
	return nil
}
