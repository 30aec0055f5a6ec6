// Package query holds the per-engine SQL catalogs: every statement the
// metadata layer runs, the schema DDL, and the migration scripts keyed
// by version. The metadata layer never writes SQL of its own; it fills
// the templates published here.
package query

import "strings"

// SchemaVersion is the schema version this library writes and expects,
// the L of the open protocol. Databases stamped with an older version
// are upgraded stepwise through Migrations; newer ones are refused.
const SchemaVersion int64 = 6

// Migration carries the scripts that move a database across one version
// boundary. Upgrade moves v-1 to v, Downgrade moves v back to v-1. Each
// list runs in order inside a single transaction per step.
type Migration struct {
	Upgrade   []string
	Downgrade []string
}

// Catalog enumerates the SQL for one engine. Statements with a fixed
// shape are complete text with ? parameters; statements over an id set
// carry one %s hole to be filled with Placeholders(len(ids)).
type Catalog struct {
	// Schema lifecycle.
	CreateAllTables     []string
	DropAllTables       []string
	CheckTypeTable      string // probes for a legacy unversioned layout
	SelectSchemaVersion string
	InsertSchemaVersion string
	UpdateSchemaVersion string
	Migrations          map[int64]Migration

	// Type registry.
	InsertType           string
	SelectTypeByName     string
	SelectTypesByID      string // %s: id list; trailing ?: type_kind
	SelectTypesByKind    string
	InsertTypeProperty   string
	SelectTypeProperties string // %s: type_id list

	// Artifacts.
	InsertArtifact          string
	UpdateArtifact          string
	SelectArtifactsByID     string // %s: id list
	SelectArtifactsByTypeID string
	SelectArtifactsByURI    string
	SelectAllArtifacts      string

	// Executions.
	InsertExecution          string
	UpdateExecution          string
	SelectExecutionsByID     string // %s: id list
	SelectExecutionsByTypeID string
	SelectAllExecutions      string

	// Contexts.
	InsertContext                string
	UpdateContext                string
	SelectContextsByID           string // %s: id list
	SelectContextsByTypeID       string
	SelectContextByTypeIDAndName string
	SelectAllContexts            string

	// Node properties, one set per node table.
	InsertArtifactProperty   string
	UpdateArtifactProperty   string
	DeleteArtifactProperty   string
	SelectArtifactProperties string // %s: artifact_id list

	InsertExecutionProperty   string
	UpdateExecutionProperty   string
	DeleteExecutionProperty   string
	SelectExecutionProperties string // %s: execution_id list

	InsertContextProperty   string
	UpdateContextProperty   string
	DeleteContextProperty   string
	SelectContextProperties string // %s: context_id list

	// Event log. InsertEvent must be an insert-or-ignore on the
	// (artifact_id, execution_id, type) unique key.
	InsertEvent                string
	SelectEventsByArtifactIDs  string // %s: artifact_id list
	SelectEventsByExecutionIDs string // %s: execution_id list
	InsertEventPath            string
	SelectEventPaths           string // %s: event_id list

	// Attribution and association edges. Inserts are insert-or-ignore
	// on the unique pair.
	InsertAttribution           string
	InsertAssociation           string
	SelectContextsByArtifactID  string
	SelectContextsByExecutionID string
	SelectArtifactsByContextID  string
	SelectExecutionsByContextID string

	// Aggregates for reporting.
	CountTypes      string
	CountArtifacts  string
	CountExecutions string
	CountContexts   string
	CountEvents     string
}

// ForEngine returns the catalog for the named engine. Dolt speaks the
// MySQL dialect and shares its catalog.
func ForEngine(engine string) (*Catalog, bool) {
	switch engine {
	case "sqlite":
		return SQLite(), true
	case "mysql", "dolt":
		return MySQL(), true
	}
	return nil, false
}

// Placeholders returns n comma-separated ? markers for an IN clause.
func Placeholders(n int) string {
	if n <= 0 {
		return ""
	}
	placeholders := make([]string, n)
	for i := range placeholders {
		placeholders[i] = "?"
	}
	return strings.Join(placeholders, ",")
}
