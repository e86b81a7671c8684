package schema

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/sqlcrew/sqlcrew/internal/introspect"
)

type countingSource struct {
	calls atomic.Int32
	err   error
}

func (s *countingSource) Describe(context.Context) (Description, error) {
	n := s.calls.Add(1)
	if s.err != nil {
		return Description{}, s.err
	}
	return Description{Text: fmt.Sprintf("CREATE TABLE t%d (id int)", n), Database: "postgresql"}, nil
}

type fakeExporter struct {
	structure introspect.Structure
	err       error
	filter    string
}

func (f *fakeExporter) DatabaseType() string { return introspect.DialectSQLite }

func (f *fakeExporter) ExportStructure(_ context.Context, filter string) (introspect.Structure, error) {
	f.filter = filter
	return f.structure, f.err
}

func TestNewStaticValidatesInput(t *testing.T) {
	if _, err := NewStatic(" ", "sales"); err == nil {
		t.Fatal("NewStatic() expected error for blank text")
	}
	if _, err := NewStatic("CREATE TABLE t (id int)", ""); err == nil {
		t.Fatal("NewStatic() expected error for blank database")
	}

	src, err := NewStatic("CREATE TABLE t (id int)", "sales")
	if err != nil {
		t.Fatalf("NewStatic() error = %v", err)
	}
	got, err := src.Describe(context.Background())
	if err != nil {
		t.Fatalf("Describe() error = %v", err)
	}
	if got.Text != "CREATE TABLE t (id int)" || got.Database != "sales" {
		t.Fatalf("Describe() = %+v", got)
	}
}

func TestStaticDescribeHonorsCancellation(t *testing.T) {
	src, err := NewStatic("CREATE TABLE t (id int)", "sales")
	if err != nil {
		t.Fatalf("NewStatic() error = %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := src.Describe(ctx); !errors.Is(err, context.Canceled) {
		t.Fatalf("Describe() error = %v, want context.Canceled", err)
	}
}

func TestLoadFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "schema.sql")
	if err := os.WriteFile(path, []byte("CREATE TABLE orders (id int);\n"), 0o600); err != nil {
		t.Fatalf("write schema file: %v", err)
	}
	src, err := LoadFile(path, "orders_db")
	if err != nil {
		t.Fatalf("LoadFile() error = %v", err)
	}
	got, err := src.Describe(context.Background())
	if err != nil {
		t.Fatalf("Describe() error = %v", err)
	}
	if got.Text != "CREATE TABLE orders (id int);\n" || got.Database != "orders_db" {
		t.Fatalf("Describe() = %+v", got)
	}

	if _, err := LoadFile(filepath.Join(t.TempDir(), "missing.sql"), "x"); err == nil {
		t.Fatal("LoadFile() expected error for missing file")
	}
}

func TestIntrospectedDescribe(t *testing.T) {
	exporter := &fakeExporter{structure: introspect.Structure{
		DatabaseType: introspect.DialectSQLite,
		Schemas: []introspect.SchemaStructure{{
			SchemaName: "main",
			Tables: []introspect.TableStructure{{
				TableName: "orders",
				TableType: "BASE TABLE",
				Columns:   []introspect.Column{{Name: "id", Type: "INTEGER", IsPrimaryKey: true}},
			}},
		}},
	}}
	src := NewIntrospected(exporter, "main", "")

	got, err := src.Describe(context.Background())
	if err != nil {
		t.Fatalf("Describe() error = %v", err)
	}
	if exporter.filter != "main" {
		t.Fatalf("filter = %q", exporter.filter)
	}
	if got.Database != introspect.DialectSQLite {
		t.Fatalf("Database = %q", got.Database)
	}
	if got.Text != introspect.Describe(exporter.structure) {
		t.Fatalf("Text = %q", got.Text)
	}
	if got.Structure == nil || got.Structure.Schemas[0].Tables[0].TableName != "orders" {
		t.Fatalf("Structure = %+v", got.Structure)
	}
}

func TestIntrospectedDescribeErrors(t *testing.T) {
	boom := errors.New("connection refused")
	if _, err := NewIntrospected(&fakeExporter{err: boom}, "", "crm").Describe(context.Background()); !errors.Is(err, boom) {
		t.Fatalf("Describe() error = %v, want %v", err, boom)
	}

	empty := &fakeExporter{structure: introspect.Structure{
		DatabaseType: introspect.DialectSQLite,
		Schemas:      []introspect.SchemaStructure{{SchemaName: "main"}},
	}}
	if _, err := NewIntrospected(empty, "main", "crm").Describe(context.Background()); err == nil {
		t.Fatal("Describe() expected error for schema without tables")
	}
}

func TestCachedServesFromCacheUntilExpiry(t *testing.T) {
	source := &countingSource{}
	cached := NewCached(source, 50*time.Millisecond)
	ctx := context.Background()
	hits := lookupCount(t, "hit")
	misses := lookupCount(t, "miss")

	first, err := cached.Describe(ctx)
	if err != nil {
		t.Fatalf("Describe() error = %v", err)
	}
	second, err := cached.Describe(ctx)
	if err != nil {
		t.Fatalf("Describe() error = %v", err)
	}
	if first != second || source.calls.Load() != 1 {
		t.Fatalf("calls = %d, first=%+v second=%+v", source.calls.Load(), first, second)
	}
	if got := lookupCount(t, "hit") - hits; got != 1 {
		t.Fatalf("hit delta = %v, want 1", got)
	}
	if got := lookupCount(t, "miss") - misses; got != 1 {
		t.Fatalf("miss delta = %v, want 1", got)
	}

	time.Sleep(120 * time.Millisecond)
	third, err := cached.Describe(ctx)
	if err != nil {
		t.Fatalf("Describe() error = %v", err)
	}
	if source.calls.Load() != 2 || third == first {
		t.Fatalf("calls = %d after expiry, third=%+v", source.calls.Load(), third)
	}
}

func TestCachedInvalidateAndErrors(t *testing.T) {
	source := &countingSource{}
	cached := NewCached(source, time.Hour)
	ctx := context.Background()

	if _, err := cached.Describe(ctx); err != nil {
		t.Fatalf("Describe() error = %v", err)
	}
	cached.Invalidate()
	if _, err := cached.Describe(ctx); err != nil {
		t.Fatalf("Describe() error = %v", err)
	}
	if source.calls.Load() != 2 {
		t.Fatalf("calls = %d, want 2", source.calls.Load())
	}

	boom := errors.New("boom")
	failing := NewCached(&countingSource{err: boom}, time.Hour)
	if _, err := failing.Describe(ctx); !errors.Is(err, boom) {
		t.Fatalf("Describe() error = %v, want %v", err, boom)
	}
}

func TestCachedConcurrentMissesRefreshOnce(t *testing.T) {
	source := &countingSource{}
	cached := NewCached(source, time.Hour)

	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := cached.Describe(context.Background()); err != nil {
				t.Errorf("Describe() error = %v", err)
			}
		}()
	}
	wg.Wait()
	if source.calls.Load() != 1 {
		t.Fatalf("calls = %d, want 1", source.calls.Load())
	}
}

func lookupCount(t *testing.T, result string) float64 {
	t.Helper()
	families, err := prometheus.DefaultGatherer.Gather()
	if err != nil {
		t.Fatalf("Gather() error = %v", err)
	}
	for _, family := range families {
		if family.GetName() != "sqlcrew_schema_cache_lookups_total" {
			continue
		}
		for _, metric := range family.GetMetric() {
			for _, label := range metric.GetLabel() {
				if label.GetName() == "result" && label.GetValue() == result {
					return metric.GetCounter().GetValue()
				}
			}
		}
	}
	return 0
}
