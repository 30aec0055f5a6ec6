// Package types defines the core data structures of the metadata store:
// types, artifacts, executions, contexts, events, and the edges that tie
// them into lineage graphs.
package types

import (
	"encoding/json"
	"fmt"
)

// TypeKind discriminates the three kinds of node types sharing the Type table.
type TypeKind int

// Type kind constants. Zero is deliberately invalid so an unscanned or
// corrupted kind never aliases a real one.
const (
	TypeKindUnknown TypeKind = iota
	TypeKindArtifact
	TypeKindExecution
	TypeKindContext
)

// IsValid checks if the kind is one of the three node kinds.
func (k TypeKind) IsValid() bool {
	switch k {
	case TypeKindArtifact, TypeKindExecution, TypeKindContext:
		return true
	}
	return false
}

func (k TypeKind) String() string {
	switch k {
	case TypeKindArtifact:
		return "artifact"
	case TypeKindExecution:
		return "execution"
	case TypeKindContext:
		return "context"
	}
	return fmt.Sprintf("unknown(%d)", int(k))
}

// Type declares the property schema for one kind of node. A single struct
// serves artifact, execution, and context types; the kind is carried by the
// operation that stores or fetches it.
type Type struct {
	ID         int64                   `json:"id,omitempty"`
	Name       string                  `json:"name"`
	Properties map[string]PropertyType `json:"properties,omitempty"`
}

// Artifact is a persisted data object produced or consumed by pipeline steps.
// The URI locates the payload; it may be empty and is not unique.
type Artifact struct {
	ID               int64                    `json:"id,omitempty"`
	TypeID           int64                    `json:"type_id"`
	URI              string                   `json:"uri,omitempty"`
	Properties       map[string]PropertyValue `json:"properties,omitempty"`
	CustomProperties map[string]PropertyValue `json:"custom_properties,omitempty"`
}

// Execution is a recorded run of a pipeline step.
type Execution struct {
	ID               int64                    `json:"id,omitempty"`
	TypeID           int64                    `json:"type_id"`
	Properties       map[string]PropertyValue `json:"properties,omitempty"`
	CustomProperties map[string]PropertyValue `json:"custom_properties,omitempty"`
}

// Context groups artifacts and executions (an experiment, a pipeline run).
// Name is required and unique within the context's type.
type Context struct {
	ID               int64                    `json:"id,omitempty"`
	TypeID           int64                    `json:"type_id"`
	Name             string                   `json:"name"`
	Properties       map[string]PropertyValue `json:"properties,omitempty"`
	CustomProperties map[string]PropertyValue `json:"custom_properties,omitempty"`
}

// EventKind classifies how an execution touched an artifact.
type EventKind int

// Event kind constants. The stored codes are part of the schema; do not
// renumber.
const (
	EventKindUnknown EventKind = iota
	EventKindDeclaredOutput
	EventKindDeclaredInput
	EventKindInput
	EventKindOutput
	EventKindInternalInput
	EventKindInternalOutput
)

// IsValid checks if the kind is a known event kind (Unknown included).
func (k EventKind) IsValid() bool {
	return k >= EventKindUnknown && k <= EventKindInternalOutput
}

func (k EventKind) String() string {
	switch k {
	case EventKindUnknown:
		return "UNKNOWN"
	case EventKindDeclaredInput:
		return "DECLARED_INPUT"
	case EventKindInput:
		return "INPUT"
	case EventKindDeclaredOutput:
		return "DECLARED_OUTPUT"
	case EventKindOutput:
		return "OUTPUT"
	case EventKindInternalInput:
		return "INTERNAL_INPUT"
	case EventKindInternalOutput:
		return "INTERNAL_OUTPUT"
	}
	return fmt.Sprintf("unknown(%d)", int(k))
}

// Event is a timestamped edge from an execution to an artifact. A given
// (artifact, execution, kind) triple is stored at most once; re-inserting it
// is a no-op. A zero MillisecondsSinceEpoch means "unset" and is filled with
// the server clock at write time.
type Event struct {
	ArtifactID             int64      `json:"artifact_id"`
	ExecutionID            int64      `json:"execution_id"`
	Kind                   EventKind  `json:"kind"`
	MillisecondsSinceEpoch int64      `json:"milliseconds_since_epoch,omitempty"`
	Path                   []PathStep `json:"path,omitempty"`
}

// PathStep addresses one level inside an event's payload: either a list
// index or a struct key. Build steps with IndexStep or KeyStep.
type PathStep struct {
	isIndex bool
	index   int64
	key     string
}

// IndexStep returns a step addressing a list position.
func IndexStep(i int64) PathStep {
	return PathStep{isIndex: true, index: i}
}

// KeyStep returns a step addressing a named field.
func KeyStep(k string) PathStep {
	return PathStep{key: k}
}

// IsIndex reports whether the step is a list index (as opposed to a key).
func (s PathStep) IsIndex() bool { return s.isIndex }

// Index returns the list position; zero when the step is a key step.
func (s PathStep) Index() int64 { return s.index }

// Key returns the field name; empty when the step is an index step.
func (s PathStep) Key() string { return s.key }

func (s PathStep) String() string {
	if s.isIndex {
		return fmt.Sprintf("[%d]", s.index)
	}
	return "." + s.key
}

// pathStepJSON is the wire form of PathStep: exactly one field is present.
type pathStepJSON struct {
	Index *int64  `json:"index,omitempty"`
	Key   *string `json:"key,omitempty"`
}

// MarshalJSON emits the step as {"index":…} or {"key":…}.
func (s PathStep) MarshalJSON() ([]byte, error) {
	var out pathStepJSON
	if s.isIndex {
		out.Index = &s.index
	} else {
		out.Key = &s.key
	}
	return json.Marshal(out)
}

// UnmarshalJSON accepts the wire form produced by MarshalJSON.
func (s *PathStep) UnmarshalJSON(data []byte) error {
	var in pathStepJSON
	if err := json.Unmarshal(data, &in); err != nil {
		return err
	}
	switch {
	case in.Index != nil:
		*s = IndexStep(*in.Index)
	case in.Key != nil:
		*s = KeyStep(*in.Key)
	default:
		return fmt.Errorf("path step has neither index nor key")
	}
	return nil
}

// Attribution links an artifact into a context. The edge is unordered and
// idempotent: re-inserting an existing pair is a no-op.
type Attribution struct {
	ArtifactID int64 `json:"artifact_id"`
	ContextID  int64 `json:"context_id"`
}

// Association links an execution into a context, with the same idempotence
// as Attribution.
type Association struct {
	ExecutionID int64 `json:"execution_id"`
	ContextID   int64 `json:"context_id"`
}
