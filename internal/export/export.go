// Package export writes introspected structures as JSON documents or Parquet column
// inventories, to local files or to an object store.
package export

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/sqlcrew/sqlcrew/internal/introspect"
	"github.com/sqlcrew/sqlcrew/internal/observability"
	"github.com/sqlcrew/sqlcrew/internal/storage"
)

type Format string

const (
	FormatJSON    Format = "json"
	FormatParquet Format = "parquet"
)

func ParseFormat(raw string) (Format, error) {
	switch Format(strings.ToLower(strings.TrimSpace(raw))) {
	case "", FormatJSON:
		return FormatJSON, nil
	case FormatParquet:
		return FormatParquet, nil
	default:
		return "", fmt.Errorf("unsupported export format %q", raw)
	}
}

func (f Format) ContentType() string {
	if f == FormatParquet {
		return "application/vnd.apache.parquet"
	}
	return "application/json"
}

// Target names one destination. Exactly one of Path and ObjectKey is set.
type Target struct {
	Format    Format
	Path      string
	ObjectKey string
}

type Artifact struct {
	Format   Format `json:"format"`
	Location string `json:"location"`
	Size     int64  `json:"size"`
	ETag     string `json:"etag,omitempty"`
	Columns  int    `json:"columns"`
}

// Locator is implemented by stores that can render a key as a URI.
type Locator interface {
	Location(key string) (string, error)
}

type Exporter struct {
	store  storage.ObjectStore
	logger *slog.Logger
}

// New builds an exporter. store may be nil when only file targets are used.
func New(store storage.ObjectStore, logger *slog.Logger) *Exporter {
	if logger == nil {
		logger = observability.DiscardLogger()
	}
	return &Exporter{store: store, logger: logger}
}

func (e *Exporter) Export(ctx context.Context, structure introspect.Structure, target Target) (Artifact, error) {
	path := strings.TrimSpace(target.Path)
	key := strings.TrimSpace(target.ObjectKey)
	if (path == "") == (key == "") {
		return Artifact{}, fmt.Errorf("exactly one of path or object key is required")
	}
	format := target.Format
	if format == "" {
		format = FormatJSON
	}

	data, err := Encode(structure, format)
	if err != nil {
		return Artifact{}, err
	}
	artifact := Artifact{Format: format, Size: int64(len(data)), Columns: len(inventory(structure))}

	if path != "" {
		if dir := filepath.Dir(path); dir != "." {
			if err := os.MkdirAll(dir, 0o755); err != nil {
				return Artifact{}, fmt.Errorf("create export directory: %w", err)
			}
		}
		if err := os.WriteFile(path, data, 0o644); err != nil {
			return Artifact{}, fmt.Errorf("write export file: %w", err)
		}
		artifact.Location = path
	} else {
		if e.store == nil {
			return Artifact{}, fmt.Errorf("object store is not configured")
		}
		info, err := e.upload(ctx, key, data, format)
		if err != nil {
			return Artifact{}, err
		}
		artifact.Location = info.Key
		artifact.Size = info.Size
		artifact.ETag = info.ETag
		if locator, ok := e.store.(Locator); ok {
			if location, err := locator.Location(key); err == nil {
				artifact.Location = location
			}
		}
	}

	e.logger.Info("structure exported",
		"format", artifact.Format,
		"location", artifact.Location,
		"bytes", artifact.Size,
		"columns", artifact.Columns,
	)
	return artifact, nil
}

// upload writes data and reads the object back with Stat. An object whose
// stored size differs from the encoded payload is deleted.
func (e *Exporter) upload(ctx context.Context, key string, data []byte, format Format) (storage.ObjectInfo, error) {
	size := int64(len(data))
	if _, err := e.store.Put(ctx, key, bytes.NewReader(data), size, storage.PutOptions{ContentType: format.ContentType()}); err != nil {
		return storage.ObjectInfo{}, fmt.Errorf("upload export: %w", err)
	}
	info, err := e.store.Stat(ctx, key)
	if err != nil {
		return storage.ObjectInfo{}, fmt.Errorf("verify export upload: %w", err)
	}
	if info.Size != size {
		if err := e.store.Delete(ctx, key); err != nil {
			e.logger.Warn("failed to delete incomplete export", "key", key, "error", err)
		}
		return storage.ObjectInfo{}, fmt.Errorf("verify export upload: stored %d bytes, want %d", info.Size, size)
	}
	if info.Key == "" {
		info.Key = key
	}
	return info, nil
}

func Encode(structure introspect.Structure, format Format) ([]byte, error) {
	switch format {
	case FormatJSON:
		return EncodeJSON(structure)
	case FormatParquet:
		return EncodeParquet(structure)
	default:
		return nil, fmt.Errorf("unsupported export format %q", format)
	}
}

func EncodeJSON(structure introspect.Structure) ([]byte, error) {
	data, err := json.MarshalIndent(structure, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("encode structure json: %w", err)
	}
	return append(data, '\n'), nil
}
