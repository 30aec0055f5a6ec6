package metadata

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/metaline/metaline/internal/storage"
	"github.com/metaline/metaline/internal/storage/query"
	"github.com/metaline/metaline/internal/types"
)

// nodeDef describes one of the three node kinds to the shared
// instance-store code: which catalog statements read and write it and
// which extra columns its table carries. Artifacts add a uri column,
// contexts a name column with a per-type uniqueness rule, executions
// neither.
type nodeDef struct {
	kind    types.TypeKind
	hasURI  bool
	hasName bool

	insert       string
	update       string
	selectByID   string
	selectByType string
	selectAll    string

	props propertyStatements
}

func artifactDef(c *query.Catalog) nodeDef {
	return nodeDef{
		kind:         types.TypeKindArtifact,
		hasURI:       true,
		insert:       c.InsertArtifact,
		update:       c.UpdateArtifact,
		selectByID:   c.SelectArtifactsByID,
		selectByType: c.SelectArtifactsByTypeID,
		selectAll:    c.SelectAllArtifacts,
		props: propertyStatements{
			insert: c.InsertArtifactProperty,
			update: c.UpdateArtifactProperty,
			remove: c.DeleteArtifactProperty,
			sel:    c.SelectArtifactProperties,
		},
	}
}

func executionDef(c *query.Catalog) nodeDef {
	return nodeDef{
		kind:         types.TypeKindExecution,
		insert:       c.InsertExecution,
		update:       c.UpdateExecution,
		selectByID:   c.SelectExecutionsByID,
		selectByType: c.SelectExecutionsByTypeID,
		selectAll:    c.SelectAllExecutions,
		props: propertyStatements{
			insert: c.InsertExecutionProperty,
			update: c.UpdateExecutionProperty,
			remove: c.DeleteExecutionProperty,
			sel:    c.SelectExecutionProperties,
		},
	}
}

func contextDef(c *query.Catalog) nodeDef {
	return nodeDef{
		kind:         types.TypeKindContext,
		hasName:      true,
		insert:       c.InsertContext,
		update:       c.UpdateContext,
		selectByID:   c.SelectContextsByID,
		selectByType: c.SelectContextsByTypeID,
		selectAll:    c.SelectAllContexts,
		props: propertyStatements{
			insert: c.InsertContextProperty,
			update: c.UpdateContextProperty,
			remove: c.DeleteContextProperty,
			sel:    c.SelectContextProperties,
		},
	}
}

// node is the kind-neutral shape the shared code works on. Only the
// fields the kind's table carries are meaningful.
type node struct {
	id     int64
	typeID int64
	uri    string
	name   string
	props  map[string]types.PropertyValue
	custom map[string]types.PropertyValue
}

func artifactNode(a types.Artifact) node {
	return node{id: a.ID, typeID: a.TypeID, uri: a.URI, props: a.Properties, custom: a.CustomProperties}
}

func executionNode(e types.Execution) node {
	return node{id: e.ID, typeID: e.TypeID, props: e.Properties, custom: e.CustomProperties}
}

func contextNode(c types.Context) node {
	return node{id: c.ID, typeID: c.TypeID, name: c.Name, props: c.Properties, custom: c.CustomProperties}
}

func (n node) artifact() *types.Artifact {
	return &types.Artifact{ID: n.id, TypeID: n.typeID, URI: n.uri, Properties: n.props, CustomProperties: n.custom}
}

func (n node) execution() *types.Execution {
	return &types.Execution{ID: n.id, TypeID: n.typeID, Properties: n.props, CustomProperties: n.custom}
}

func (n node) context() *types.Context {
	return &types.Context{ID: n.id, TypeID: n.typeID, Name: n.name, Properties: n.props, CustomProperties: n.custom}
}

func artifactsFromNodes(nodes []node) []*types.Artifact {
	out := make([]*types.Artifact, len(nodes))
	for i, n := range nodes {
		out[i] = n.artifact()
	}
	return out
}

func executionsFromNodes(nodes []node) []*types.Execution {
	out := make([]*types.Execution, len(nodes))
	for i, n := range nodes {
		out[i] = n.execution()
	}
	return out
}

func contextsFromNodes(nodes []node) []*types.Context {
	out := make([]*types.Context, len(nodes))
	for i, n := range nodes {
		out[i] = n.context()
	}
	return out
}

// scanNodes reads node rows in the def's column shape, in select order.
func (d nodeDef) scanNodes(rows *sql.Rows) ([]node, error) {
	defer rows.Close()
	var out []node
	for rows.Next() {
		var n node
		var err error
		switch {
		case d.hasURI:
			var uri sql.NullString
			err = rows.Scan(&n.id, &n.typeID, &uri)
			n.uri = uri.String
		case d.hasName:
			err = rows.Scan(&n.id, &n.typeID, &n.name)
		default:
			err = rows.Scan(&n.id, &n.typeID)
		}
		if err != nil {
			return nil, fmt.Errorf("failed to scan %s row: %w", d.kind, err)
		}
		out = append(out, n)
	}
	return out, rows.Err()
}

// insertArgs assembles the insert statement's arguments for the def's
// column shape.
func (d nodeDef) insertArgs(typeID int64, n node) []any {
	switch {
	case d.hasURI:
		return []any{typeID, n.uri}
	case d.hasName:
		return []any{typeID, n.name}
	}
	return []any{typeID}
}

// updateArgs assembles the update statement's arguments; the id comes
// last to match the WHERE clause.
func (d nodeDef) updateArgs(typeID int64, n node) []any {
	switch {
	case d.hasURI:
		return []any{typeID, n.uri, n.id}
	case d.hasName:
		return []any{typeID, n.name, n.id}
	}
	return []any{typeID, n.id}
}

// validateAgainstType checks the declared property map against the type
// with the given id: the type must exist with the def's kind, every
// property name must be declared, and every value tag must match the
// declaration. Custom properties skip declaration checks but must carry
// a storable value.
func (s *Store) validateAgainstType(ctx context.Context, tx storage.Tx, d nodeDef, typeID int64, n node) error {
	if typeID == 0 {
		return fmt.Errorf("%w: %s has no type_id", storage.ErrInvalidArgument, d.kind)
	}
	t, err := s.typeByID(ctx, tx, d.kind, typeID)
	if err != nil {
		return err
	}
	if t == nil {
		return fmt.Errorf("%w: no %s type with id %d", storage.ErrInvalidArgument, d.kind, typeID)
	}
	for _, name := range sortedKeys(n.props) {
		declared, ok := t.Properties[name]
		if !ok {
			return fmt.Errorf("%w: property %q is not declared by type %q", storage.ErrInvalidArgument, name, t.Name)
		}
		if got := n.props[name].Type(); got != declared {
			return fmt.Errorf("%w: property %q of type %q wants %s, got %s", storage.ErrInvalidArgument, name, t.Name, declared, got)
		}
	}
	for _, name := range sortedKeys(n.custom) {
		if !n.custom[name].Type().IsValid() {
			return fmt.Errorf("%w: custom property %q carries no value", storage.ErrInvalidArgument, name)
		}
	}
	return nil
}

// upsertNodes writes the batch and returns ids in input order. Nodes
// without an id are inserted; nodes with one are updated in place.
func (s *Store) upsertNodes(ctx context.Context, tx storage.Tx, d nodeDef, nodes []node) ([]int64, error) {
	ids := make([]int64, len(nodes))
	for i, n := range nodes {
		id, err := s.upsertNode(ctx, tx, d, n)
		if err != nil {
			return nil, fmt.Errorf("%s %d: %w", d.kind, i, err)
		}
		ids[i] = id
	}
	return ids, nil
}

func (s *Store) upsertNode(ctx context.Context, tx storage.Tx, d nodeDef, n node) (int64, error) {
	if d.hasName && n.name == "" {
		return 0, fmt.Errorf("%w: %s name must not be empty", storage.ErrInvalidArgument, d.kind)
	}
	if n.id == 0 {
		return s.insertNode(ctx, tx, d, n)
	}
	return n.id, s.updateNode(ctx, tx, d, n)
}

// insertNode creates the row and writes its full property payload. A
// context whose (type_id, name) already exists is refused; the unique
// index backstops the same rule under concurrent inserts.
func (s *Store) insertNode(ctx context.Context, tx storage.Tx, d nodeDef, n node) (int64, error) {
	if err := s.validateAgainstType(ctx, tx, d, n.typeID, n); err != nil {
		return 0, err
	}
	if d.hasName {
		taken, err := s.contextNameTaken(ctx, tx, n.typeID, n.name)
		if err != nil {
			return 0, err
		}
		if taken {
			return 0, fmt.Errorf("%w: context named %q already exists for type %d", storage.ErrAlreadyExists, n.name, n.typeID)
		}
	}
	res, err := tx.Execute(ctx, d.insert, d.insertArgs(n.typeID, n)...)
	if err != nil {
		return 0, fmt.Errorf("failed to insert %s: %w", d.kind, err)
	}
	id := res.LastInsertID
	if err := writeProperties(ctx, tx, d.props, id, n.props, false, nil); err != nil {
		return 0, err
	}
	if err := writeProperties(ctx, tx, d.props, id, n.custom, true, nil); err != nil {
		return 0, err
	}
	return id, nil
}

// updateNode rewrites the row named by n.id. The row must exist, and a
// request that names a type may not change the stored one; omitting the
// type keeps it. Property sets are replaced by the payload.
func (s *Store) updateNode(ctx context.Context, tx storage.Tx, d nodeDef, n node) error {
	existing, err := s.nodesByID(ctx, tx, d, []int64{n.id})
	if err != nil {
		return err
	}
	if len(existing) == 0 {
		return fmt.Errorf("%w: no %s with id %d", storage.ErrInvalidArgument, d.kind, n.id)
	}
	stored := existing[0]

	typeID := n.typeID
	if typeID == 0 {
		typeID = stored.typeID
	} else if typeID != stored.typeID {
		return fmt.Errorf("%w: %s %d cannot change type from %d to %d", storage.ErrInvalidArgument, d.kind, n.id, stored.typeID, typeID)
	}
	if err := s.validateAgainstType(ctx, tx, d, typeID, n); err != nil {
		return err
	}

	if _, err := tx.Execute(ctx, d.update, d.updateArgs(typeID, n)...); err != nil {
		return fmt.Errorf("failed to update %s: %w", d.kind, err)
	}
	if err := writeProperties(ctx, tx, d.props, n.id, n.props, false, stored.props); err != nil {
		return err
	}
	return writeProperties(ctx, tx, d.props, n.id, n.custom, true, stored.custom)
}

// contextNameTaken probes for an existing context with the pair.
func (s *Store) contextNameTaken(ctx context.Context, tx storage.Tx, typeID int64, name string) (bool, error) {
	rows, err := tx.Query(ctx, s.c.SelectContextByTypeIDAndName, typeID, name)
	if err != nil {
		return false, fmt.Errorf("failed to select context by name: %w", err)
	}
	defer rows.Close()
	return rows.Next(), rows.Err()
}

// nodesByID returns the nodes that exist among ids, in id order, with
// their property maps attached. Missing ids are dropped.
func (s *Store) nodesByID(ctx context.Context, tx storage.Tx, d nodeDef, ids []int64) ([]node, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	rows, err := queryIn(ctx, tx, d.selectByID, uniqueIDs(ids))
	if err != nil {
		return nil, fmt.Errorf("failed to select %ss: %w", d.kind, err)
	}
	nodes, err := d.scanNodes(rows)
	if err != nil {
		return nil, err
	}
	return s.attachProperties(ctx, tx, d, nodes)
}

// nodesByType resolves the type name within the def's kind and returns
// its instances; an unknown type yields an empty result, not an error.
func (s *Store) nodesByType(ctx context.Context, tx storage.Tx, d nodeDef, typeName string) ([]node, error) {
	t, err := s.typeByName(ctx, tx, d.kind, typeName)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return s.joinedNodes(ctx, tx, d, d.selectByType, t.ID)
}

// allNodes returns every instance of the kind in insertion order.
func (s *Store) allNodes(ctx context.Context, tx storage.Tx, d nodeDef) ([]node, error) {
	rows, err := tx.Query(ctx, d.selectAll)
	if err != nil {
		return nil, fmt.Errorf("failed to select %ss: %w", d.kind, err)
	}
	nodes, err := d.scanNodes(rows)
	if err != nil {
		return nil, err
	}
	return s.attachProperties(ctx, tx, d, nodes)
}

// joinedNodes runs a single-parameter select and attaches properties.
func (s *Store) joinedNodes(ctx context.Context, tx storage.Tx, d nodeDef, stmt string, arg any) ([]node, error) {
	rows, err := tx.Query(ctx, stmt, arg)
	if err != nil {
		return nil, fmt.Errorf("failed to select %ss: %w", d.kind, err)
	}
	nodes, err := d.scanNodes(rows)
	if err != nil {
		return nil, err
	}
	return s.attachProperties(ctx, tx, d, nodes)
}

func (s *Store) attachProperties(ctx context.Context, tx storage.Tx, d nodeDef, nodes []node) ([]node, error) {
	if len(nodes) == 0 {
		return nodes, nil
	}
	ids := make([]int64, len(nodes))
	for i, n := range nodes {
		ids[i] = n.id
	}
	sets, err := loadProperties(ctx, tx, d.props.sel, ids)
	if err != nil {
		return nil, err
	}
	for i := range nodes {
		set := sets[nodes[i].id]
		nodes[i].props = set.declared
		nodes[i].custom = set.custom
	}
	return nodes, nil
}

// readNodes runs one read transaction around a node fetch.
func (s *Store) readNodes(ctx context.Context, fetch func(storage.Tx) ([]node, error)) ([]node, error) {
	if err := checkCtx(ctx); err != nil {
		return nil, err
	}
	var out []node
	err := storage.RunInTx(ctx, s.src, func(tx storage.Tx) error {
		var err error
		out, err = fetch(tx)
		return err
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// PutArtifacts inserts or updates a batch of artifacts and returns their
// ids in input order. Artifacts without an id are inserted; an id names
// an existing row to update in place.
func (s *Store) PutArtifacts(ctx context.Context, artifacts []*types.Artifact) ([]int64, error) {
	nodes := make([]node, len(artifacts))
	for i, a := range artifacts {
		if a == nil {
			return nil, fmt.Errorf("%w: artifact %d is nil", storage.ErrInvalidArgument, i)
		}
		nodes[i] = artifactNode(*a)
	}
	return s.putNodes(ctx, s.artifacts, nodes)
}

// PutExecutions inserts or updates a batch of executions; same contract
// as PutArtifacts.
func (s *Store) PutExecutions(ctx context.Context, executions []*types.Execution) ([]int64, error) {
	nodes := make([]node, len(executions))
	for i, e := range executions {
		if e == nil {
			return nil, fmt.Errorf("%w: execution %d is nil", storage.ErrInvalidArgument, i)
		}
		nodes[i] = executionNode(*e)
	}
	return s.putNodes(ctx, s.executions, nodes)
}

// PutContexts inserts or updates a batch of contexts. A new context
// whose (type_id, name) pair is already stored is refused with
// ErrAlreadyExists.
func (s *Store) PutContexts(ctx context.Context, contexts []*types.Context) ([]int64, error) {
	nodes := make([]node, len(contexts))
	for i, c := range contexts {
		if c == nil {
			return nil, fmt.Errorf("%w: context %d is nil", storage.ErrInvalidArgument, i)
		}
		nodes[i] = contextNode(*c)
	}
	return s.putNodes(ctx, s.contexts, nodes)
}

func (s *Store) putNodes(ctx context.Context, d nodeDef, nodes []node) ([]int64, error) {
	if err := checkCtx(ctx); err != nil {
		return nil, err
	}
	var ids []int64
	err := storage.RunInTx(ctx, s.src, func(tx storage.Tx) error {
		var err error
		ids, err = s.upsertNodes(ctx, tx, d, nodes)
		return err
	})
	if err != nil {
		return nil, err
	}
	return ids, nil
}

// GetArtifactsByID returns the artifacts that exist among ids; missing
// ids are dropped, not an error.
func (s *Store) GetArtifactsByID(ctx context.Context, ids []int64) ([]*types.Artifact, error) {
	nodes, err := s.readNodes(ctx, func(tx storage.Tx) ([]node, error) {
		return s.nodesByID(ctx, tx, s.artifacts, ids)
	})
	if err != nil {
		return nil, err
	}
	return artifactsFromNodes(nodes), nil
}

// GetExecutionsByID returns the executions that exist among ids.
func (s *Store) GetExecutionsByID(ctx context.Context, ids []int64) ([]*types.Execution, error) {
	nodes, err := s.readNodes(ctx, func(tx storage.Tx) ([]node, error) {
		return s.nodesByID(ctx, tx, s.executions, ids)
	})
	if err != nil {
		return nil, err
	}
	return executionsFromNodes(nodes), nil
}

// GetContextsByID returns the contexts that exist among ids.
func (s *Store) GetContextsByID(ctx context.Context, ids []int64) ([]*types.Context, error) {
	nodes, err := s.readNodes(ctx, func(tx storage.Tx) ([]node, error) {
		return s.nodesByID(ctx, tx, s.contexts, ids)
	})
	if err != nil {
		return nil, err
	}
	return contextsFromNodes(nodes), nil
}

// GetArtifactsByType returns every artifact of the named type; an
// unknown type name yields an empty result.
func (s *Store) GetArtifactsByType(ctx context.Context, typeName string) ([]*types.Artifact, error) {
	nodes, err := s.readNodes(ctx, func(tx storage.Tx) ([]node, error) {
		return s.nodesByType(ctx, tx, s.artifacts, typeName)
	})
	if err != nil {
		return nil, err
	}
	return artifactsFromNodes(nodes), nil
}

// GetExecutionsByType returns every execution of the named type.
func (s *Store) GetExecutionsByType(ctx context.Context, typeName string) ([]*types.Execution, error) {
	nodes, err := s.readNodes(ctx, func(tx storage.Tx) ([]node, error) {
		return s.nodesByType(ctx, tx, s.executions, typeName)
	})
	if err != nil {
		return nil, err
	}
	return executionsFromNodes(nodes), nil
}

// GetContextsByType returns every context of the named type.
func (s *Store) GetContextsByType(ctx context.Context, typeName string) ([]*types.Context, error) {
	nodes, err := s.readNodes(ctx, func(tx storage.Tx) ([]node, error) {
		return s.nodesByType(ctx, tx, s.contexts, typeName)
	})
	if err != nil {
		return nil, err
	}
	return contextsFromNodes(nodes), nil
}

// GetArtifactsByURI returns every artifact whose uri equals uri. The
// empty string is a valid query and matches artifacts stored without a
// uri.
func (s *Store) GetArtifactsByURI(ctx context.Context, uri string) ([]*types.Artifact, error) {
	nodes, err := s.readNodes(ctx, func(tx storage.Tx) ([]node, error) {
		return s.joinedNodes(ctx, tx, s.artifacts, s.c.SelectArtifactsByURI, uri)
	})
	if err != nil {
		return nil, err
	}
	return artifactsFromNodes(nodes), nil
}

// GetArtifacts returns every stored artifact in insertion order.
func (s *Store) GetArtifacts(ctx context.Context) ([]*types.Artifact, error) {
	nodes, err := s.readNodes(ctx, func(tx storage.Tx) ([]node, error) {
		return s.allNodes(ctx, tx, s.artifacts)
	})
	if err != nil {
		return nil, err
	}
	return artifactsFromNodes(nodes), nil
}

// GetExecutions returns every stored execution in insertion order.
func (s *Store) GetExecutions(ctx context.Context) ([]*types.Execution, error) {
	nodes, err := s.readNodes(ctx, func(tx storage.Tx) ([]node, error) {
		return s.allNodes(ctx, tx, s.executions)
	})
	if err != nil {
		return nil, err
	}
	return executionsFromNodes(nodes), nil
}

// GetContexts returns every stored context in insertion order.
func (s *Store) GetContexts(ctx context.Context) ([]*types.Context, error) {
	nodes, err := s.readNodes(ctx, func(tx storage.Tx) ([]node, error) {
		return s.allNodes(ctx, tx, s.contexts)
	})
	if err != nil {
		return nil, err
	}
	return contextsFromNodes(nodes), nil
}
