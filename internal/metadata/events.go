package metadata

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/metaline/metaline/internal/storage"
	"github.com/metaline/metaline/internal/types"
)

// existingNodeIDs returns which of ids are stored nodes of the given
// shape. Properties are not loaded; only presence matters.
func (s *Store) existingNodeIDs(ctx context.Context, tx storage.Tx, d nodeDef, ids []int64) (map[int64]bool, error) {
	out := make(map[int64]bool, len(ids))
	if len(ids) == 0 {
		return out, nil
	}
	rows, err := queryIn(ctx, tx, d.selectByID, uniqueIDs(ids))
	if err != nil {
		return nil, fmt.Errorf("failed to select %ss: %w", d.kind, err)
	}
	ns, err := d.scanNodes(rows)
	if err != nil {
		return nil, err
	}
	for _, n := range ns {
		out[n.id] = true
	}
	return out, nil
}

// putEvents appends events to the log. Both endpoints of every event
// must already be stored, and the kind must name a concrete direction.
// An event whose (artifact, execution, kind) triple is already recorded
// is skipped whole, path included.
func (s *Store) putEvents(ctx context.Context, tx storage.Tx, events []types.Event) error {
	var artifactIDs, executionIDs []int64
	for i, e := range events {
		if e.Kind == types.EventKindUnknown || !e.Kind.IsValid() {
			return fmt.Errorf("%w: event %d has invalid kind %s", storage.ErrInvalidArgument, i, e.Kind)
		}
		artifactIDs = append(artifactIDs, e.ArtifactID)
		executionIDs = append(executionIDs, e.ExecutionID)
	}
	artifacts, err := s.existingNodeIDs(ctx, tx, s.artifacts, artifactIDs)
	if err != nil {
		return err
	}
	executions, err := s.existingNodeIDs(ctx, tx, s.executions, executionIDs)
	if err != nil {
		return err
	}
	now := time.Now().UnixMilli()
	for i, e := range events {
		if !artifacts[e.ArtifactID] {
			return fmt.Errorf("%w: event %d references artifact %d which does not exist", storage.ErrInvalidArgument, i, e.ArtifactID)
		}
		if !executions[e.ExecutionID] {
			return fmt.Errorf("%w: event %d references execution %d which does not exist", storage.ErrInvalidArgument, i, e.ExecutionID)
		}
		if err := s.insertEvent(ctx, tx, e, now); err != nil {
			return fmt.Errorf("event %d: %w", i, err)
		}
	}
	return nil
}

func (s *Store) insertEvent(ctx context.Context, tx storage.Tx, e types.Event, now int64) error {
	ts := e.MillisecondsSinceEpoch
	if ts == 0 {
		ts = now
	}
	res, err := tx.Execute(ctx, s.c.InsertEvent, e.ArtifactID, e.ExecutionID, int64(e.Kind), ts)
	if err != nil {
		return fmt.Errorf("failed to insert event: %w", err)
	}
	if res.RowsAffected == 0 {
		// The triple is already in the log; its path stands.
		return nil
	}
	for pos, step := range e.Path {
		var stepIndex, stepKey any
		if step.IsIndex() {
			stepIndex = step.Index()
		} else {
			stepKey = step.Key()
		}
		if _, err := tx.Execute(ctx, s.c.InsertEventPath, res.LastInsertID, int64(pos), step.IsIndex(), stepIndex, stepKey); err != nil {
			return fmt.Errorf("failed to insert event path step %d: %w", pos, err)
		}
	}
	return nil
}

// PutEvents records lineage events in one transaction. Every event must
// name a stored artifact and execution and carry a concrete kind; a
// zero timestamp is filled with the server clock. Re-recording an
// (artifact, execution, kind) triple is a no-op for that event.
func (s *Store) PutEvents(ctx context.Context, events []types.Event) error {
	if err := checkCtx(ctx); err != nil {
		return err
	}
	return storage.RunInTx(ctx, s.src, func(tx storage.Tx) error {
		return s.putEvents(ctx, tx, events)
	})
}

// GetEventsByArtifactIDs returns every event touching any of the
// artifacts, in log order, paths attached.
func (s *Store) GetEventsByArtifactIDs(ctx context.Context, artifactIDs []int64) ([]types.Event, error) {
	return s.eventsBy(ctx, s.c.SelectEventsByArtifactIDs, artifactIDs)
}

// GetEventsByExecutionIDs returns every event touching any of the
// executions, in log order, paths attached.
func (s *Store) GetEventsByExecutionIDs(ctx context.Context, executionIDs []int64) ([]types.Event, error) {
	return s.eventsBy(ctx, s.c.SelectEventsByExecutionIDs, executionIDs)
}

func (s *Store) eventsBy(ctx context.Context, tmpl string, ids []int64) ([]types.Event, error) {
	if err := checkCtx(ctx); err != nil {
		return nil, err
	}
	if len(ids) == 0 {
		return nil, nil
	}
	var events []types.Event
	err := storage.RunInTx(ctx, s.src, func(tx storage.Tx) error {
		rows, err := queryIn(ctx, tx, tmpl, uniqueIDs(ids))
		if err != nil {
			return fmt.Errorf("failed to select events: %w", err)
		}
		eventIDs, es, err := scanEvents(rows)
		if err != nil {
			return err
		}
		paths, err := s.loadEventPaths(ctx, tx, eventIDs)
		if err != nil {
			return err
		}
		for i := range es {
			es[i].Path = paths[eventIDs[i]]
		}
		events = es
		return nil
	})
	if err != nil {
		return nil, err
	}
	return events, nil
}

// scanEvents reads event rows, returning the row ids alongside so the
// caller can join in paths. The timestamp column tolerates NULL from
// rows written before it existed.
func scanEvents(rows *sql.Rows) ([]int64, []types.Event, error) {
	defer rows.Close()
	var (
		ids    []int64
		events []types.Event
	)
	for rows.Next() {
		var (
			id   int64
			kind int64
			ms   sql.NullInt64
			e    types.Event
		)
		if err := rows.Scan(&id, &e.ArtifactID, &e.ExecutionID, &kind, &ms); err != nil {
			return nil, nil, fmt.Errorf("failed to scan event row: %w", err)
		}
		e.Kind = types.EventKind(kind)
		e.MillisecondsSinceEpoch = ms.Int64
		ids = append(ids, id)
		events = append(events, e)
	}
	return ids, events, rows.Err()
}

func (s *Store) loadEventPaths(ctx context.Context, tx storage.Tx, eventIDs []int64) (map[int64][]types.PathStep, error) {
	if len(eventIDs) == 0 {
		return nil, nil
	}
	rows, err := queryIn(ctx, tx, s.c.SelectEventPaths, uniqueIDs(eventIDs))
	if err != nil {
		return nil, fmt.Errorf("failed to select event paths: %w", err)
	}
	defer rows.Close()
	paths := make(map[int64][]types.PathStep)
	for rows.Next() {
		var (
			eventID int64
			pos     int64
			isIndex bool
			index   sql.NullInt64
			key     sql.NullString
		)
		if err := rows.Scan(&eventID, &pos, &isIndex, &index, &key); err != nil {
			return nil, fmt.Errorf("failed to scan event path row: %w", err)
		}
		// Rows arrive ordered by step_position within each event.
		if isIndex {
			paths[eventID] = append(paths[eventID], types.IndexStep(index.Int64))
		} else {
			paths[eventID] = append(paths[eventID], types.KeyStep(key.String))
		}
	}
	return paths, rows.Err()
}
