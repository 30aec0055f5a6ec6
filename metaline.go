// Package metaline provides the public API for embedding the metadata
// store in Go programs.
//
// Most programs open a store with OpenSQLite and call the Store methods
// directly. The internal packages are not importable; this package
// re-exports every type needed to call the store's operations and the
// sentinel errors its operations return.
package metaline

import (
	"context"
	"errors"

	"github.com/metaline/metaline/internal/metadata"
	"github.com/metaline/metaline/internal/storage"
	"github.com/metaline/metaline/internal/storage/factory"
	"github.com/metaline/metaline/internal/types"
)

// Core types for recording and querying pipeline metadata.
type (
	Store                = metadata.Store
	Source               = storage.Source
	Type                 = types.Type
	Artifact             = types.Artifact
	Execution            = types.Execution
	Context              = types.Context
	Event                = types.Event
	EventKind            = types.EventKind
	PathStep             = types.PathStep
	Attribution          = types.Attribution
	Association          = types.Association
	PropertyType         = types.PropertyType
	PropertyValue        = types.PropertyValue
	PutTypeOptions       = types.PutTypeOptions
	MigrationOptions     = types.MigrationOptions
	ArtifactAndEvent     = types.ArtifactAndEvent
	PutExecutionRequest  = types.PutExecutionRequest
	PutExecutionResponse = types.PutExecutionResponse
)

// Property type constants.
const (
	PropertyTypeInt    = types.PropertyTypeInt
	PropertyTypeDouble = types.PropertyTypeDouble
	PropertyTypeString = types.PropertyTypeString
)

// Event kind constants.
const (
	EventKindDeclaredOutput = types.EventKindDeclaredOutput
	EventKindDeclaredInput  = types.EventKindDeclaredInput
	EventKindInput          = types.EventKindInput
	EventKindOutput         = types.EventKindOutput
	EventKindInternalInput  = types.EventKindInternalInput
	EventKindInternalOutput = types.EventKindInternalOutput
)

// Sentinel errors returned by store operations; match with errors.Is.
var (
	ErrNotFound           = storage.ErrNotFound
	ErrAlreadyExists      = storage.ErrAlreadyExists
	ErrInvalidArgument    = storage.ErrInvalidArgument
	ErrVersionMismatch    = storage.ErrVersionMismatch
	ErrDowngradeCompleted = storage.ErrDowngradeCompleted
	ErrDataLoss           = storage.ErrDataLoss
	ErrCanceled           = storage.ErrCanceled
	ErrInternal           = storage.ErrInternal
)

// IntValue returns a property value holding an int64.
func IntValue(v int64) PropertyValue { return types.IntValue(v) }

// DoubleValue returns a property value holding a float64.
func DoubleValue(v float64) PropertyValue { return types.DoubleValue(v) }

// StringValue returns a property value holding a string.
func StringValue(v string) PropertyValue { return types.StringValue(v) }

// IndexStep returns an event path step addressing a list position.
func IndexStep(i int64) PathStep { return types.IndexStep(i) }

// KeyStep returns an event path step addressing a named field.
func KeyStep(k string) PathStep { return types.KeyStep(k) }

// Open connects to a database with the named engine (sqlite, mysql, or
// dolt) and reconciles the schema per opts: an empty database gets the
// full schema, an older one is upgraded unless opts disables that.
func Open(ctx context.Context, engine, path string, opts MigrationOptions) (*Store, error) {
	src, err := factory.New(ctx, engine, path)
	if err != nil {
		return nil, err
	}
	s, err := metadata.Open(ctx, src, opts)
	if err != nil {
		// A completed downgrade already closed the source.
		if !errors.Is(err, ErrDowngradeCompleted) {
			_ = src.Close()
		}
		return nil, err
	}
	return s, nil
}

// OpenSQLite opens a SQLite-backed store at path, creating the database
// and schema as needed. Pass ":memory:" for an in-memory store.
func OpenSQLite(ctx context.Context, path string) (*Store, error) {
	return Open(ctx, "sqlite", path, MigrationOptions{})
}
