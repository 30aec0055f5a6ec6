package main

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/metaline/metaline/internal/timeparsing"
	"github.com/metaline/metaline/internal/types"
)

var (
	artifactsURI   string
	artifactsType  string
	artifactsSince string
	artifactsUntil string
	executionsType string
	contextsType   string
)

var artifactsCmd = &cobra.Command{
	Use:   "artifacts",
	Short: "List stored artifacts",
}

var artifactsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List stored artifacts",
	Long: `List artifacts, optionally restricted by type, URI, or event time.

--since and --until accept compact offsets (-7d, -6h), RFC3339
timestamps, dates, and natural language ("yesterday", "2 weeks ago").
They compare against each artifact's earliest event; artifacts with no
events are always shown.

Examples:
  metaline artifacts list --type model
  metaline artifacts list --uri s3://bucket/model/1
  metaline artifacts list --since -7d`,
	Run: func(cmd *cobra.Command, args []string) {
		if cmd.Flags().Changed("uri") && artifactsType != "" {
			fail(fmt.Errorf("--uri and --type cannot be combined"))
		}

		var artifacts []*types.Artifact
		var err error
		switch {
		case cmd.Flags().Changed("uri"):
			artifacts, err = store.GetArtifactsByURI(rootCtx, artifactsURI)
		case artifactsType != "":
			artifacts, err = store.GetArtifactsByType(rootCtx, artifactsType)
		default:
			artifacts, err = store.GetArtifacts(rootCtx)
		}
		if err != nil {
			fail(err)
		}

		artifacts, err = filterByEventTime(artifacts, artifactsSince, artifactsUntil)
		if err != nil {
			fail(err)
		}

		typeNames, err := artifactTypeNames(artifacts)
		if err != nil {
			fail(err)
		}

		render(artifacts, func() {
			fmt.Printf("artifacts (%d)\n", len(artifacts))
			if len(artifacts) == 0 {
				return
			}
			w := newTable()
			fmt.Fprintln(w, "  ID\tTYPE\tURI\tPROPERTIES\tCUSTOM")
			for _, a := range artifacts {
				fmt.Fprintf(w, "  %d\t%s\t%s\t%s\t%s\n",
					a.ID, typeNames[a.TypeID], orDash(a.URI),
					formatValues(a.Properties), formatValues(a.CustomProperties))
			}
			w.Flush()
		})
	},
}

var executionsCmd = &cobra.Command{
	Use:   "executions",
	Short: "List stored executions",
}

var executionsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List stored executions",
	Run: func(cmd *cobra.Command, args []string) {
		var executions []*types.Execution
		var err error
		if executionsType != "" {
			executions, err = store.GetExecutionsByType(rootCtx, executionsType)
		} else {
			executions, err = store.GetExecutions(rootCtx)
		}
		if err != nil {
			fail(err)
		}

		ids := make([]int64, 0, len(executions))
		for _, e := range executions {
			ids = append(ids, e.TypeID)
		}
		typeNames, err := typeNameIndex(store.GetExecutionTypesByID, ids)
		if err != nil {
			fail(err)
		}

		render(executions, func() {
			fmt.Printf("executions (%d)\n", len(executions))
			if len(executions) == 0 {
				return
			}
			w := newTable()
			fmt.Fprintln(w, "  ID\tTYPE\tPROPERTIES\tCUSTOM")
			for _, e := range executions {
				fmt.Fprintf(w, "  %d\t%s\t%s\t%s\n",
					e.ID, typeNames[e.TypeID],
					formatValues(e.Properties), formatValues(e.CustomProperties))
			}
			w.Flush()
		})
	},
}

var contextsCmd = &cobra.Command{
	Use:   "contexts",
	Short: "List stored contexts",
}

var contextsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List stored contexts",
	Run: func(cmd *cobra.Command, args []string) {
		var contexts []*types.Context
		var err error
		if contextsType != "" {
			contexts, err = store.GetContextsByType(rootCtx, contextsType)
		} else {
			contexts, err = store.GetContexts(rootCtx)
		}
		if err != nil {
			fail(err)
		}

		ids := make([]int64, 0, len(contexts))
		for _, c := range contexts {
			ids = append(ids, c.TypeID)
		}
		typeNames, err := typeNameIndex(store.GetContextTypesByID, ids)
		if err != nil {
			fail(err)
		}

		render(contexts, func() {
			fmt.Printf("contexts (%d)\n", len(contexts))
			if len(contexts) == 0 {
				return
			}
			w := newTable()
			fmt.Fprintln(w, "  ID\tTYPE\tNAME\tPROPERTIES\tCUSTOM")
			for _, c := range contexts {
				fmt.Fprintf(w, "  %d\t%s\t%s\t%s\t%s\n",
					c.ID, typeNames[c.TypeID], c.Name,
					formatValues(c.Properties), formatValues(c.CustomProperties))
			}
			w.Flush()
		})
	},
}

// filterByEventTime drops artifacts whose earliest event falls outside
// the --since/--until window. Artifacts with no events always pass: a
// registered artifact is visible even before any run touches it.
func filterByEventTime(artifacts []*types.Artifact, since, until string) ([]*types.Artifact, error) {
	if since == "" && until == "" {
		return artifacts, nil
	}
	now := time.Now()
	var sinceMs, untilMs int64
	if since != "" {
		t, err := timeparsing.ParseRelativeTime(since, now)
		if err != nil {
			return nil, fmt.Errorf("invalid --since: %w", err)
		}
		sinceMs = t.UnixMilli()
	}
	if until != "" {
		t, err := timeparsing.ParseRelativeTime(until, now)
		if err != nil {
			return nil, fmt.Errorf("invalid --until: %w", err)
		}
		untilMs = t.UnixMilli()
	}

	ids := make([]int64, 0, len(artifacts))
	for _, a := range artifacts {
		ids = append(ids, a.ID)
	}
	events, err := store.GetEventsByArtifactIDs(rootCtx, ids)
	if err != nil {
		return nil, err
	}
	earliest := make(map[int64]int64, len(artifacts))
	for _, ev := range events {
		ms, ok := earliest[ev.ArtifactID]
		if !ok || ev.MillisecondsSinceEpoch < ms {
			earliest[ev.ArtifactID] = ev.MillisecondsSinceEpoch
		}
	}

	kept := artifacts[:0]
	for _, a := range artifacts {
		ms, ok := earliest[a.ID]
		if !ok {
			kept = append(kept, a)
			continue
		}
		if since != "" && ms < sinceMs {
			continue
		}
		if until != "" && ms > untilMs {
			continue
		}
		kept = append(kept, a)
	}
	return kept, nil
}

// artifactTypeNames resolves the type names for a list of artifacts.
func artifactTypeNames(artifacts []*types.Artifact) (map[int64]string, error) {
	ids := make([]int64, 0, len(artifacts))
	for _, a := range artifacts {
		ids = append(ids, a.TypeID)
	}
	return typeNameIndex(store.GetArtifactTypesByID, ids)
}

// typeNameIndex fetches types by ID and indexes their names. Duplicate
// IDs are fine; the fetch deduplicates.
func typeNameIndex(fetch func(context.Context, []int64) ([]*types.Type, error), ids []int64) (map[int64]string, error) {
	if len(ids) == 0 {
		return map[int64]string{}, nil
	}
	seen := make(map[int64]bool, len(ids))
	distinct := make([]int64, 0, len(ids))
	for _, id := range ids {
		if !seen[id] {
			seen[id] = true
			distinct = append(distinct, id)
		}
	}
	list, err := fetch(rootCtx, distinct)
	if err != nil {
		return nil, err
	}
	names := make(map[int64]string, len(list))
	for _, t := range list {
		names[t.ID] = t.Name
	}
	return names, nil
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}

func init() {
	artifactsListCmd.Flags().StringVar(&artifactsURI, "uri", "", "Only artifacts with this exact URI")
	artifactsListCmd.Flags().StringVar(&artifactsType, "type", "", "Only artifacts of this type")
	artifactsListCmd.Flags().StringVar(&artifactsSince, "since", "", "Only artifacts whose earliest event is at or after this time")
	artifactsListCmd.Flags().StringVar(&artifactsUntil, "until", "", "Only artifacts whose earliest event is at or before this time")
	executionsListCmd.Flags().StringVar(&executionsType, "type", "", "Only executions of this type")
	contextsListCmd.Flags().StringVar(&contextsType, "type", "", "Only contexts of this type")

	artifactsCmd.AddCommand(artifactsListCmd)
	executionsCmd.AddCommand(executionsListCmd)
	contextsCmd.AddCommand(contextsListCmd)
	rootCmd.AddCommand(artifactsCmd)
	rootCmd.AddCommand(executionsCmd)
	rootCmd.AddCommand(contextsCmd)
}
