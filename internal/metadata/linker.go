package metadata

import (
	"context"
	"fmt"

	"github.com/metaline/metaline/internal/storage"
	"github.com/metaline/metaline/internal/types"
)

// PutAttributionsAndAssociations links artifacts and executions into
// contexts in one transaction. Every endpoint must already be stored.
// Edges are idempotent: relinking an existing pair is a no-op.
func (s *Store) PutAttributionsAndAssociations(ctx context.Context, attributions []types.Attribution, associations []types.Association) error {
	if err := checkCtx(ctx); err != nil {
		return err
	}
	return storage.RunInTx(ctx, s.src, func(tx storage.Tx) error {
		return s.putEdges(ctx, tx, attributions, associations)
	})
}

func (s *Store) putEdges(ctx context.Context, tx storage.Tx, attributions []types.Attribution, associations []types.Association) error {
	var contextIDs, artifactIDs, executionIDs []int64
	for _, a := range attributions {
		contextIDs = append(contextIDs, a.ContextID)
		artifactIDs = append(artifactIDs, a.ArtifactID)
	}
	for _, a := range associations {
		contextIDs = append(contextIDs, a.ContextID)
		executionIDs = append(executionIDs, a.ExecutionID)
	}
	contexts, err := s.existingNodeIDs(ctx, tx, s.contexts, contextIDs)
	if err != nil {
		return err
	}
	artifacts, err := s.existingNodeIDs(ctx, tx, s.artifacts, artifactIDs)
	if err != nil {
		return err
	}
	executions, err := s.existingNodeIDs(ctx, tx, s.executions, executionIDs)
	if err != nil {
		return err
	}
	for i, a := range attributions {
		if !contexts[a.ContextID] {
			return fmt.Errorf("%w: attribution %d references context %d which does not exist", storage.ErrInvalidArgument, i, a.ContextID)
		}
		if !artifacts[a.ArtifactID] {
			return fmt.Errorf("%w: attribution %d references artifact %d which does not exist", storage.ErrInvalidArgument, i, a.ArtifactID)
		}
		if _, err := tx.Execute(ctx, s.c.InsertAttribution, a.ContextID, a.ArtifactID); err != nil {
			return fmt.Errorf("failed to insert attribution: %w", err)
		}
	}
	for i, a := range associations {
		if !contexts[a.ContextID] {
			return fmt.Errorf("%w: association %d references context %d which does not exist", storage.ErrInvalidArgument, i, a.ContextID)
		}
		if !executions[a.ExecutionID] {
			return fmt.Errorf("%w: association %d references execution %d which does not exist", storage.ErrInvalidArgument, i, a.ExecutionID)
		}
		if _, err := tx.Execute(ctx, s.c.InsertAssociation, a.ContextID, a.ExecutionID); err != nil {
			return fmt.Errorf("failed to insert association: %w", err)
		}
	}
	return nil
}

// GetContextsByArtifact returns the contexts the artifact is attributed
// to, in insertion order.
func (s *Store) GetContextsByArtifact(ctx context.Context, artifactID int64) ([]*types.Context, error) {
	nodes, err := s.readNodes(ctx, func(tx storage.Tx) ([]node, error) {
		return s.joinedNodes(ctx, tx, s.contexts, s.c.SelectContextsByArtifactID, artifactID)
	})
	if err != nil {
		return nil, err
	}
	return contextsFromNodes(nodes), nil
}

// GetContextsByExecution returns the contexts the execution is
// associated with, in insertion order.
func (s *Store) GetContextsByExecution(ctx context.Context, executionID int64) ([]*types.Context, error) {
	nodes, err := s.readNodes(ctx, func(tx storage.Tx) ([]node, error) {
		return s.joinedNodes(ctx, tx, s.contexts, s.c.SelectContextsByExecutionID, executionID)
	})
	if err != nil {
		return nil, err
	}
	return contextsFromNodes(nodes), nil
}

// GetArtifactsByContext returns the artifacts attributed to the context.
func (s *Store) GetArtifactsByContext(ctx context.Context, contextID int64) ([]*types.Artifact, error) {
	nodes, err := s.readNodes(ctx, func(tx storage.Tx) ([]node, error) {
		return s.joinedNodes(ctx, tx, s.artifacts, s.c.SelectArtifactsByContextID, contextID)
	})
	if err != nil {
		return nil, err
	}
	return artifactsFromNodes(nodes), nil
}

// GetExecutionsByContext returns the executions associated with the
// context.
func (s *Store) GetExecutionsByContext(ctx context.Context, contextID int64) ([]*types.Execution, error) {
	nodes, err := s.readNodes(ctx, func(tx storage.Tx) ([]node, error) {
		return s.joinedNodes(ctx, tx, s.executions, s.c.SelectExecutionsByContextID, contextID)
	})
	if err != nil {
		return nil, err
	}
	return executionsFromNodes(nodes), nil
}
