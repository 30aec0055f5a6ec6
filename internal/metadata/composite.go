package metadata

import (
	"context"
	"fmt"

	"github.com/metaline/metaline/internal/storage"
	"github.com/metaline/metaline/internal/types"
)

// PutExecution atomically upserts an execution, its artifact/event
// pairs, and its contexts. Events in the request have their artifact
// and execution ids overridden with the just-resolved ids. Each context
// is associated with the execution and attributed every artifact from
// the pairs. Any failure rolls the whole request back.
func (s *Store) PutExecution(ctx context.Context, req types.PutExecutionRequest) (types.PutExecutionResponse, error) {
	if err := checkCtx(ctx); err != nil {
		return types.PutExecutionResponse{}, err
	}
	var resp types.PutExecutionResponse
	err := storage.RunInTx(ctx, s.src, func(tx storage.Tx) error {
		var err error
		resp, err = s.putExecution(ctx, tx, req)
		return err
	})
	if err != nil {
		return types.PutExecutionResponse{}, err
	}
	return resp, nil
}

func (s *Store) putExecution(ctx context.Context, tx storage.Tx, req types.PutExecutionRequest) (types.PutExecutionResponse, error) {
	var resp types.PutExecutionResponse

	executionID, err := s.upsertNode(ctx, tx, s.executions, executionNode(req.Execution))
	if err != nil {
		return resp, err
	}
	resp.ExecutionID = executionID

	for i, pair := range req.ArtifactEventPairs {
		if pair.Artifact == nil && pair.Event == nil {
			return resp, fmt.Errorf("%w: pair %d has neither artifact nor event", storage.ErrInvalidArgument, i)
		}
		var artifactID int64
		if pair.Artifact != nil {
			artifactID, err = s.upsertNode(ctx, tx, s.artifacts, artifactNode(*pair.Artifact))
			if err != nil {
				return resp, fmt.Errorf("pair %d: %w", i, err)
			}
		} else {
			artifactID = pair.Event.ArtifactID
		}
		if pair.Event != nil {
			e := *pair.Event
			e.ArtifactID = artifactID
			e.ExecutionID = executionID
			if err := s.putEvents(ctx, tx, []types.Event{e}); err != nil {
				return resp, fmt.Errorf("pair %d: %w", i, err)
			}
		}
		resp.ArtifactIDs = append(resp.ArtifactIDs, artifactID)
	}

	for i, c := range req.Contexts {
		contextID, err := s.upsertNode(ctx, tx, s.contexts, contextNode(c))
		if err != nil {
			return resp, fmt.Errorf("context %d: %w", i, err)
		}
		resp.ContextIDs = append(resp.ContextIDs, contextID)
		if _, err := tx.Execute(ctx, s.c.InsertAssociation, contextID, executionID); err != nil {
			return resp, fmt.Errorf("failed to insert association: %w", err)
		}
		for _, artifactID := range resp.ArtifactIDs {
			if artifactID == 0 {
				continue
			}
			if _, err := tx.Execute(ctx, s.c.InsertAttribution, contextID, artifactID); err != nil {
				return resp, fmt.Errorf("failed to insert attribution: %w", err)
			}
		}
	}
	return resp, nil
}
