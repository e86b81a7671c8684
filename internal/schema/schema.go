// Package schema supplies the table-schema text and database identifier a workflow
// controller is built with.
package schema

import (
	"context"
	"fmt"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/jellydator/ttlcache/v3"

	"github.com/sqlcrew/sqlcrew/internal/introspect"
	"github.com/sqlcrew/sqlcrew/internal/observability"
)

type Description struct {
	Text     string `json:"text"`
	Database string `json:"database"`
	// Structure is set when the text was generated from live metadata.
	Structure *introspect.Structure `json:"structure,omitempty"`
}

type Source interface {
	Describe(ctx context.Context) (Description, error)
}

// Static returns the same description on every call.
type Static struct {
	description Description
}

func NewStatic(text, database string) (*Static, error) {
	if strings.TrimSpace(text) == "" {
		return nil, fmt.Errorf("schema text is required")
	}
	if strings.TrimSpace(database) == "" {
		return nil, fmt.Errorf("database identifier is required")
	}
	return &Static{description: Description{Text: text, Database: database}}, nil
}

// LoadFile reads the schema text from path once.
func LoadFile(path, database string) (*Static, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read schema file %s: %w", path, err)
	}
	return NewStatic(string(raw), database)
}

func (s *Static) Describe(ctx context.Context) (Description, error) {
	if err := ctx.Err(); err != nil {
		return Description{}, err
	}
	return s.description, nil
}

type Exporter interface {
	DatabaseType() string
	ExportStructure(ctx context.Context, schemaFilter string) (introspect.Structure, error)
}

// Introspected renders live metadata on every call. Database defaults to the
// exporter's dialect name.
type Introspected struct {
	exporter     Exporter
	schemaFilter string
	database     string
}

func NewIntrospected(exporter Exporter, schemaFilter, database string) *Introspected {
	if strings.TrimSpace(database) == "" {
		database = exporter.DatabaseType()
	}
	return &Introspected{exporter: exporter, schemaFilter: schemaFilter, database: database}
}

func (s *Introspected) Describe(ctx context.Context) (Description, error) {
	structure, err := s.exporter.ExportStructure(ctx, s.schemaFilter)
	if err != nil {
		return Description{}, fmt.Errorf("export structure: %w", err)
	}
	text := introspect.Describe(structure)
	if strings.TrimSpace(text) == "" || tableCount(structure) == 0 {
		return Description{}, fmt.Errorf("no tables found for schema filter %q", s.schemaFilter)
	}
	return Description{Text: text, Database: s.database, Structure: &structure}, nil
}

func tableCount(s introspect.Structure) int {
	total := 0
	for _, schema := range s.Schemas {
		total += len(schema.Tables)
	}
	return total
}

const cacheKey = "description"

// Cached memoizes another source for ttl. Concurrent misses share one refresh.
type Cached struct {
	source Source
	ttl    time.Duration
	cache  *ttlcache.Cache[string, Description]
	mu     sync.Mutex
}

func NewCached(source Source, ttl time.Duration) *Cached {
	return &Cached{
		source: source,
		ttl:    ttl,
		cache: ttlcache.New(
			ttlcache.WithTTL[string, Description](ttl),
			ttlcache.WithDisableTouchOnHit[string, Description](),
		),
	}
}

func (c *Cached) Describe(ctx context.Context) (Description, error) {
	if item := c.cache.Get(cacheKey); item != nil {
		observability.ObserveSchemaCacheLookup(true)
		return item.Value(), nil
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if item := c.cache.Get(cacheKey); item != nil {
		observability.ObserveSchemaCacheLookup(true)
		return item.Value(), nil
	}
	observability.ObserveSchemaCacheLookup(false)

	description, err := c.source.Describe(ctx)
	if err != nil {
		return Description{}, err
	}
	c.cache.Set(cacheKey, description, c.ttl)
	return description, nil
}

// Invalidate drops the cached description so the next call refreshes it.
func (c *Cached) Invalidate() {
	c.cache.Delete(cacheKey)
}
