package types

// PutTypeOptions controls how an already-registered type is reconciled
// with the definition being put. The zero value requires the stored and
// requested property sets to match exactly.
type PutTypeOptions struct {
	// CanAddFields allows the request to carry properties the stored type
	// does not have; they are added to the stored type.
	CanAddFields bool

	// CanOmitFields allows the stored type to carry properties the request
	// does not mention; they stay stored and keep their declared kind.
	CanOmitFields bool

	// AllFieldsMatch pins the comparison to the full property set. The
	// registry always compares the full set, so the flag is accepted for
	// compatibility but changes nothing.
	AllFieldsMatch bool
}

// PutTypesRequest registers or evolves a batch of types in one shot.
// Options apply to every type in the batch.
type PutTypesRequest struct {
	ArtifactTypes  []Type
	ExecutionTypes []Type
	ContextTypes   []Type
	Options        PutTypeOptions
}

// PutTypesResponse carries the ids of the batch in the request's order,
// one slice per kind.
type PutTypesResponse struct {
	ArtifactTypeIDs  []int64
	ExecutionTypeIDs []int64
	ContextTypeIDs   []int64
}

// ArtifactAndEvent pairs an artifact with an optional event tying it to
// the execution of a PutExecutionRequest. Either half may be omitted: a
// nil Artifact records only the event (whose ArtifactID must then name an
// existing artifact), and a nil Event upserts the artifact without an
// edge.
type ArtifactAndEvent struct {
	Artifact *Artifact
	Event    *Event
}

// PutExecutionRequest upserts an execution together with its input and
// output artifacts and the events wiring them up, atomically.
type PutExecutionRequest struct {
	Execution          Execution
	ArtifactEventPairs []ArtifactAndEvent
	Contexts           []Context
}

// PutExecutionResponse reports the ids assigned by a PutExecution call.
// ArtifactIDs is index-aligned with the request's ArtifactEventPairs; a
// pair without an artifact yields the event's artifact id.
type PutExecutionResponse struct {
	ExecutionID int64
	ArtifactIDs []int64
	ContextIDs  []int64
}

// MigrationOptions controls schema version reconciliation when a store
// connects. The zero value upgrades older databases in place.
type MigrationOptions struct {
	// DisableUpgrade rejects databases with an older schema instead of
	// upgrading them.
	DisableUpgrade bool

	// DowngradeToVersion, when non-nil, migrates the database down to the
	// named version and aborts the connection. Zero is a valid target (the
	// legacy layout with no version table).
	DowngradeToVersion *int64
}
