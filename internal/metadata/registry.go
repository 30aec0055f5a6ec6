package metadata

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sort"

	"github.com/metaline/metaline/internal/storage"
	"github.com/metaline/metaline/internal/types"
)

// putType registers a type or reconciles it with the stored definition
// of the same name and kind. An identical property set resolves to the
// stored id. The request may strictly add properties when CanAddFields
// is set (they are appended, id preserved) and may strictly omit stored
// properties when CanOmitFields is set (the stored set is kept intact).
// Changing the kind of any shared property name is refused outright:
// it would silently invalidate every stored instance of the type.
func (s *Store) putType(ctx context.Context, tx storage.Tx, kind types.TypeKind, t types.Type, opts types.PutTypeOptions) (int64, error) {
	if t.Name == "" {
		return 0, fmt.Errorf("%w: type name must not be empty", storage.ErrInvalidArgument)
	}
	for _, name := range sortedKeys(t.Properties) {
		if name == "" {
			return 0, fmt.Errorf("%w: type %q declares a property with an empty name", storage.ErrInvalidArgument, t.Name)
		}
		if pt := t.Properties[name]; !pt.IsValid() {
			return 0, fmt.Errorf("%w: property %q of type %q has unknown kind %d", storage.ErrInvalidArgument, name, t.Name, pt)
		}
	}

	stored, err := s.typeByName(ctx, tx, kind, t.Name)
	if err != nil && !errors.Is(err, storage.ErrNotFound) {
		return 0, err
	}
	if stored == nil {
		return s.insertType(ctx, tx, kind, t)
	}

	var added []string
	for name, pt := range t.Properties {
		storedPT, ok := stored.Properties[name]
		if !ok {
			added = append(added, name)
			continue
		}
		if storedPT != pt {
			return 0, fmt.Errorf("%w: type %q property %q is stored as %s, request wants %s",
				storage.ErrAlreadyExists, t.Name, name, storedPT, pt)
		}
	}
	var omitted []string
	for name := range stored.Properties {
		if _, ok := t.Properties[name]; !ok {
			omitted = append(omitted, name)
		}
	}
	if len(added) > 0 && !opts.CanAddFields {
		sort.Strings(added)
		return 0, fmt.Errorf("%w: type %q does not declare property %q and the request does not allow adding fields",
			storage.ErrAlreadyExists, t.Name, added[0])
	}
	if len(omitted) > 0 && !opts.CanOmitFields {
		sort.Strings(omitted)
		return 0, fmt.Errorf("%w: type %q declares property %q which the request omits without allowing omitted fields",
			storage.ErrAlreadyExists, t.Name, omitted[0])
	}

	sort.Strings(added)
	for _, name := range added {
		if _, err := tx.Execute(ctx, s.c.InsertTypeProperty, stored.ID, name, int64(t.Properties[name])); err != nil {
			return 0, fmt.Errorf("failed to add type property %q: %w", name, err)
		}
	}
	return stored.ID, nil
}

func (s *Store) insertType(ctx context.Context, tx storage.Tx, kind types.TypeKind, t types.Type) (int64, error) {
	res, err := tx.Execute(ctx, s.c.InsertType, t.Name, int64(kind))
	if err != nil {
		return 0, fmt.Errorf("failed to insert type: %w", err)
	}
	id := res.LastInsertID
	for _, name := range sortedKeys(t.Properties) {
		if _, err := tx.Execute(ctx, s.c.InsertTypeProperty, id, name, int64(t.Properties[name])); err != nil {
			return 0, fmt.Errorf("failed to insert type property %q: %w", name, err)
		}
	}
	return id, nil
}

// typeByName fetches one type with its properties, or ErrNotFound.
func (s *Store) typeByName(ctx context.Context, tx storage.Tx, kind types.TypeKind, name string) (*types.Type, error) {
	rows, err := tx.Query(ctx, s.c.SelectTypeByName, name, int64(kind))
	if err != nil {
		return nil, fmt.Errorf("failed to select type by name: %w", err)
	}
	ts, err := scanTypes(rows)
	if err != nil {
		return nil, err
	}
	if len(ts) == 0 {
		return nil, fmt.Errorf("%w: no %s type named %q", storage.ErrNotFound, kind, name)
	}
	if err := s.attachTypeProperties(ctx, tx, ts); err != nil {
		return nil, err
	}
	return ts[0], nil
}

// typeByID fetches one type with its properties; nil when absent.
func (s *Store) typeByID(ctx context.Context, tx storage.Tx, kind types.TypeKind, id int64) (*types.Type, error) {
	ts, err := s.typesByID(ctx, tx, kind, []int64{id})
	if err != nil {
		return nil, err
	}
	if len(ts) == 0 {
		return nil, nil
	}
	return ts[0], nil
}

// typesByID returns the subset of ids stored as types of the kind, in
// id order. Missing ids are dropped.
func (s *Store) typesByID(ctx context.Context, tx storage.Tx, kind types.TypeKind, ids []int64) ([]*types.Type, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	rows, err := queryIn(ctx, tx, s.c.SelectTypesByID, uniqueIDs(ids), int64(kind))
	if err != nil {
		return nil, fmt.Errorf("failed to select types by id: %w", err)
	}
	ts, err := scanTypes(rows)
	if err != nil {
		return nil, err
	}
	if err := s.attachTypeProperties(ctx, tx, ts); err != nil {
		return nil, err
	}
	return ts, nil
}

// typesByKind lists every type of the kind in registration order.
func (s *Store) typesByKind(ctx context.Context, tx storage.Tx, kind types.TypeKind) ([]*types.Type, error) {
	rows, err := tx.Query(ctx, s.c.SelectTypesByKind, int64(kind))
	if err != nil {
		return nil, fmt.Errorf("failed to select types: %w", err)
	}
	ts, err := scanTypes(rows)
	if err != nil {
		return nil, err
	}
	if err := s.attachTypeProperties(ctx, tx, ts); err != nil {
		return nil, err
	}
	return ts, nil
}

// scanTypes reads (id, name, type_kind) rows. The kind column is scanned
// and dropped; callers already scoped the query to one kind.
func scanTypes(rows *sql.Rows) ([]*types.Type, error) {
	defer rows.Close()
	var out []*types.Type
	for rows.Next() {
		var (
			t    types.Type
			kind int64
		)
		if err := rows.Scan(&t.ID, &t.Name, &kind); err != nil {
			return nil, fmt.Errorf("failed to scan type row: %w", err)
		}
		out = append(out, &t)
	}
	return out, rows.Err()
}

func (s *Store) attachTypeProperties(ctx context.Context, tx storage.Tx, ts []*types.Type) error {
	if len(ts) == 0 {
		return nil
	}
	ids := make([]int64, len(ts))
	byID := make(map[int64]*types.Type, len(ts))
	for i, t := range ts {
		ids[i] = t.ID
		byID[t.ID] = t
	}
	rows, err := queryIn(ctx, tx, s.c.SelectTypeProperties, ids)
	if err != nil {
		return fmt.Errorf("failed to select type properties: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var (
			typeID   int64
			name     string
			dataType int64
		)
		if err := rows.Scan(&typeID, &name, &dataType); err != nil {
			return fmt.Errorf("failed to scan type property row: %w", err)
		}
		t := byID[typeID]
		if t == nil {
			continue
		}
		if t.Properties == nil {
			t.Properties = make(map[string]types.PropertyType)
		}
		t.Properties[name] = types.PropertyType(dataType)
	}
	return rows.Err()
}

// PutArtifactType registers or evolves an artifact type and returns its
// id. See putType for the evolution rules.
func (s *Store) PutArtifactType(ctx context.Context, t types.Type, opts types.PutTypeOptions) (int64, error) {
	return s.putTypeOp(ctx, types.TypeKindArtifact, t, opts)
}

// PutExecutionType registers or evolves an execution type.
func (s *Store) PutExecutionType(ctx context.Context, t types.Type, opts types.PutTypeOptions) (int64, error) {
	return s.putTypeOp(ctx, types.TypeKindExecution, t, opts)
}

// PutContextType registers or evolves a context type.
func (s *Store) PutContextType(ctx context.Context, t types.Type, opts types.PutTypeOptions) (int64, error) {
	return s.putTypeOp(ctx, types.TypeKindContext, t, opts)
}

func (s *Store) putTypeOp(ctx context.Context, kind types.TypeKind, t types.Type, opts types.PutTypeOptions) (int64, error) {
	if err := checkCtx(ctx); err != nil {
		return 0, err
	}
	var id int64
	err := storage.RunInTx(ctx, s.src, func(tx storage.Tx) error {
		var err error
		id, err = s.putType(ctx, tx, kind, t, opts)
		return err
	})
	if err != nil {
		return 0, err
	}
	return id, nil
}

// PutTypes registers a batch of types across the three kinds in one
// transaction; Options apply to every entry. Duplicate entries within
// the batch resolve to the same id. The response id lists are aligned
// with the request lists.
func (s *Store) PutTypes(ctx context.Context, req types.PutTypesRequest) (types.PutTypesResponse, error) {
	if err := checkCtx(ctx); err != nil {
		return types.PutTypesResponse{}, err
	}
	var resp types.PutTypesResponse
	err := storage.RunInTx(ctx, s.src, func(tx storage.Tx) error {
		for _, t := range req.ArtifactTypes {
			id, err := s.putType(ctx, tx, types.TypeKindArtifact, t, req.Options)
			if err != nil {
				return err
			}
			resp.ArtifactTypeIDs = append(resp.ArtifactTypeIDs, id)
		}
		for _, t := range req.ExecutionTypes {
			id, err := s.putType(ctx, tx, types.TypeKindExecution, t, req.Options)
			if err != nil {
				return err
			}
			resp.ExecutionTypeIDs = append(resp.ExecutionTypeIDs, id)
		}
		for _, t := range req.ContextTypes {
			id, err := s.putType(ctx, tx, types.TypeKindContext, t, req.Options)
			if err != nil {
				return err
			}
			resp.ContextTypeIDs = append(resp.ContextTypeIDs, id)
		}
		return nil
	})
	if err != nil {
		return types.PutTypesResponse{}, err
	}
	return resp, nil
}

// GetArtifactType returns the artifact type with the given name, or
// ErrNotFound.
func (s *Store) GetArtifactType(ctx context.Context, name string) (*types.Type, error) {
	return s.getTypeOp(ctx, types.TypeKindArtifact, name)
}

// GetExecutionType returns the execution type with the given name.
func (s *Store) GetExecutionType(ctx context.Context, name string) (*types.Type, error) {
	return s.getTypeOp(ctx, types.TypeKindExecution, name)
}

// GetContextType returns the context type with the given name.
func (s *Store) GetContextType(ctx context.Context, name string) (*types.Type, error) {
	return s.getTypeOp(ctx, types.TypeKindContext, name)
}

func (s *Store) getTypeOp(ctx context.Context, kind types.TypeKind, name string) (*types.Type, error) {
	if err := checkCtx(ctx); err != nil {
		return nil, err
	}
	var t *types.Type
	err := storage.RunInTx(ctx, s.src, func(tx storage.Tx) error {
		var err error
		t, err = s.typeByName(ctx, tx, kind, name)
		return err
	})
	if err != nil {
		return nil, err
	}
	return t, nil
}

// GetArtifactTypes lists every artifact type in registration order; an
// empty registry is an empty list, not an error.
func (s *Store) GetArtifactTypes(ctx context.Context) ([]*types.Type, error) {
	return s.getTypesOp(ctx, types.TypeKindArtifact)
}

// GetExecutionTypes lists every execution type in registration order.
func (s *Store) GetExecutionTypes(ctx context.Context) ([]*types.Type, error) {
	return s.getTypesOp(ctx, types.TypeKindExecution)
}

// GetContextTypes lists every context type in registration order.
func (s *Store) GetContextTypes(ctx context.Context) ([]*types.Type, error) {
	return s.getTypesOp(ctx, types.TypeKindContext)
}

func (s *Store) getTypesOp(ctx context.Context, kind types.TypeKind) ([]*types.Type, error) {
	if err := checkCtx(ctx); err != nil {
		return nil, err
	}
	var ts []*types.Type
	err := storage.RunInTx(ctx, s.src, func(tx storage.Tx) error {
		var err error
		ts, err = s.typesByKind(ctx, tx, kind)
		return err
	})
	if err != nil {
		return nil, err
	}
	return ts, nil
}

// GetArtifactTypesByID returns the artifact types that exist among ids;
// missing ids are dropped, not an error.
func (s *Store) GetArtifactTypesByID(ctx context.Context, ids []int64) ([]*types.Type, error) {
	return s.getTypesByIDOp(ctx, types.TypeKindArtifact, ids)
}

// GetExecutionTypesByID returns the execution types that exist among ids.
func (s *Store) GetExecutionTypesByID(ctx context.Context, ids []int64) ([]*types.Type, error) {
	return s.getTypesByIDOp(ctx, types.TypeKindExecution, ids)
}

// GetContextTypesByID returns the context types that exist among ids.
func (s *Store) GetContextTypesByID(ctx context.Context, ids []int64) ([]*types.Type, error) {
	return s.getTypesByIDOp(ctx, types.TypeKindContext, ids)
}

func (s *Store) getTypesByIDOp(ctx context.Context, kind types.TypeKind, ids []int64) ([]*types.Type, error) {
	if err := checkCtx(ctx); err != nil {
		return nil, err
	}
	var ts []*types.Type
	err := storage.RunInTx(ctx, s.src, func(tx storage.Tx) error {
		var err error
		ts, err = s.typesByID(ctx, tx, kind, ids)
		return err
	})
	if err != nil {
		return nil, err
	}
	return ts, nil
}
