// Package factory creates storage sources by engine name.
package factory

import (
	"context"
	"fmt"

	"github.com/metaline/metaline/internal/storage"
)

// SourceFactory is a function that creates a storage source.
type SourceFactory func(ctx context.Context, path string, opts Options) (storage.Source, error)

// backendRegistry holds registered source factories. Engines register
// themselves from init so that build tags control availability.
var backendRegistry = make(map[string]SourceFactory)

// RegisterBackend registers a source factory under an engine name.
func RegisterBackend(name string, factory SourceFactory) {
	backendRegistry[name] = factory
}

// Options carries engine-specific settings beyond the database path.
type Options struct {
	// MySQL connection settings. DSN wins when set; otherwise the
	// discrete fields are used with sensible defaults.
	DSN      string
	Host     string
	Port     int
	User     string
	Password string

	// Database is the database name for server engines and embedded
	// dolt.
	Database string
}

// New creates a storage source for the given engine. For sqlite, path is
// the database file (or ":memory:"); for dolt, the database directory;
// for mysql, the connection is taken from opts and path is ignored.
func New(ctx context.Context, engine, path string) (storage.Source, error) {
	return NewWithOptions(ctx, engine, path, Options{})
}

// NewWithOptions creates a storage source with the specified options.
func NewWithOptions(ctx context.Context, engine, path string, opts Options) (storage.Source, error) {
	if engine == "" {
		engine = "sqlite"
	}
	if factory, ok := backendRegistry[engine]; ok {
		return factory(ctx, path, opts)
	}
	if engine == "dolt" {
		return nil, fmt.Errorf("dolt engine requires CGO (not available on this build)")
	}
	return nil, fmt.Errorf("unknown storage engine: %s (supported: sqlite, mysql, dolt)", engine)
}
