package metadata

import (
	"context"
	"database/sql"
	"fmt"
	"sort"

	"github.com/metaline/metaline/internal/storage"
	"github.com/metaline/metaline/internal/storage/query"
	"github.com/metaline/metaline/internal/types"
)

// queryIn fills a catalog template's %s hole with placeholders for ids
// and runs it. Extra arguments follow the id list in the template's
// parameter order. ids must not be empty; callers short-circuit the
// empty case before reaching the database.
func queryIn(ctx context.Context, tx storage.Tx, tmpl string, ids []int64, extra ...any) (*sql.Rows, error) {
	args := make([]any, 0, len(ids)+len(extra))
	for _, id := range ids {
		args = append(args, id)
	}
	args = append(args, extra...)
	return tx.Query(ctx, fmt.Sprintf(tmpl, query.Placeholders(len(ids))), args...)
}

// uniqueIDs drops duplicate ids, keeping first-seen order.
func uniqueIDs(ids []int64) []int64 {
	seen := make(map[int64]bool, len(ids))
	out := make([]int64, 0, len(ids))
	for _, id := range ids {
		if !seen[id] {
			seen[id] = true
			out = append(out, id)
		}
	}
	return out
}

// sortedKeys returns the map's keys in lexical order, so batched inserts
// hit the database in a stable order.
func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// propertyArgs splits a value across the three typed columns; the two
// that do not match the tag stay NULL.
func propertyArgs(v types.PropertyValue) (intV, doubleV, stringV any) {
	switch v.Type() {
	case types.PropertyTypeInt:
		return v.AsInt(), nil, nil
	case types.PropertyTypeDouble:
		return nil, v.AsDouble(), nil
	case types.PropertyTypeString:
		return nil, nil, v.AsString()
	}
	return nil, nil, nil
}

// decodeProperty rebuilds a value from the three typed columns; exactly
// one of them is expected to be set.
func decodeProperty(intV sql.NullInt64, doubleV sql.NullFloat64, stringV sql.NullString) (types.PropertyValue, error) {
	switch {
	case intV.Valid:
		return types.IntValue(intV.Int64), nil
	case doubleV.Valid:
		return types.DoubleValue(doubleV.Float64), nil
	case stringV.Valid:
		return types.StringValue(stringV.String), nil
	}
	return types.PropertyValue{}, fmt.Errorf("%w: property row has no value column set", storage.ErrInternal)
}

// propertyStatements names the statements of one node property table.
type propertyStatements struct {
	insert string
	update string
	remove string
	sel    string
}

// propertySet is the stored property rows of one node, split by the
// is_custom_property flag.
type propertySet struct {
	declared map[string]types.PropertyValue
	custom   map[string]types.PropertyValue
}

// loadProperties fetches the property rows for the given node ids using
// the table's select template.
func loadProperties(ctx context.Context, tx storage.Tx, tmpl string, ids []int64) (map[int64]propertySet, error) {
	out := make(map[int64]propertySet, len(ids))
	if len(ids) == 0 {
		return out, nil
	}
	rows, err := queryIn(ctx, tx, tmpl, ids)
	if err != nil {
		return nil, fmt.Errorf("failed to select properties: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var (
			nodeID  int64
			name    string
			custom  bool
			intV    sql.NullInt64
			doubleV sql.NullFloat64
			stringV sql.NullString
		)
		if err := rows.Scan(&nodeID, &name, &custom, &intV, &doubleV, &stringV); err != nil {
			return nil, fmt.Errorf("failed to scan property row: %w", err)
		}
		v, err := decodeProperty(intV, doubleV, stringV)
		if err != nil {
			return nil, err
		}
		set := out[nodeID]
		if custom {
			if set.custom == nil {
				set.custom = make(map[string]types.PropertyValue)
			}
			set.custom[name] = v
		} else {
			if set.declared == nil {
				set.declared = make(map[string]types.PropertyValue)
			}
			set.declared[name] = v
		}
		out[nodeID] = set
	}
	return out, rows.Err()
}

// writeProperties reconciles one node's stored property rows with the
// desired map: new names are inserted, changed values updated, and names
// absent from the payload deleted. The custom flag keeps declared and
// custom rows apart; the two sets are reconciled independently.
func writeProperties(ctx context.Context, tx storage.Tx, stmts propertyStatements, nodeID int64, desired map[string]types.PropertyValue, custom bool, stored map[string]types.PropertyValue) error {
	for _, name := range sortedKeys(desired) {
		v := desired[name]
		intV, doubleV, stringV := propertyArgs(v)
		old, ok := stored[name]
		switch {
		case !ok:
			if _, err := tx.Execute(ctx, stmts.insert, nodeID, name, custom, intV, doubleV, stringV); err != nil {
				return fmt.Errorf("failed to insert property %q: %w", name, err)
			}
		case old != v:
			if _, err := tx.Execute(ctx, stmts.update, intV, doubleV, stringV, nodeID, name, custom); err != nil {
				return fmt.Errorf("failed to update property %q: %w", name, err)
			}
		}
	}
	for name := range stored {
		if _, ok := desired[name]; !ok {
			if _, err := tx.Execute(ctx, stmts.remove, nodeID, name, custom); err != nil {
				return fmt.Errorf("failed to delete property %q: %w", name, err)
			}
		}
	}
	return nil
}
