package main

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/metaline/metaline/internal/types"
)

// lineageReport is the JSON shape of the lineage command: one artifact,
// the events that touched it, and the contexts it is attributed to.
type lineageReport struct {
	Artifact *types.Artifact  `json:"artifact"`
	Events   []types.Event    `json:"events"`
	Contexts []*types.Context `json:"contexts"`
}

var lineageCmd = &cobra.Command{
	Use:   "lineage <artifact-id>",
	Short: "Show the lineage of one artifact",
	Long: `Show everything connected to an artifact: the input and output events
that link it to executions, and the contexts it is attributed to.

Example:
  metaline lineage 42`,
	Args: cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		id, err := strconv.ParseInt(args[0], 10, 64)
		if err != nil {
			fail(fmt.Errorf("invalid artifact id %q", args[0]))
		}

		found, err := store.GetArtifactsByID(rootCtx, []int64{id})
		if err != nil {
			fail(err)
		}
		if len(found) == 0 {
			fail(fmt.Errorf("no artifact with id %d", id))
		}
		artifact := found[0]

		events, err := store.GetEventsByArtifactIDs(rootCtx, []int64{id})
		if err != nil {
			fail(err)
		}
		contexts, err := store.GetContextsByArtifact(rootCtx, id)
		if err != nil {
			fail(err)
		}

		typeNames, err := artifactTypeNames(found)
		if err != nil {
			fail(err)
		}
		ctxIDs := make([]int64, 0, len(contexts))
		for _, c := range contexts {
			ctxIDs = append(ctxIDs, c.TypeID)
		}
		ctxTypeNames, err := typeNameIndex(store.GetContextTypesByID, ctxIDs)
		if err != nil {
			fail(err)
		}

		report := lineageReport{Artifact: artifact, Events: events, Contexts: contexts}
		render(report, func() {
			fmt.Printf("Artifact %d (%s)\n", artifact.ID, typeNames[artifact.TypeID])
			if artifact.URI != "" {
				fmt.Printf("URI: %s\n", artifact.URI)
			}
			if len(artifact.Properties) > 0 {
				fmt.Printf("Properties: %s\n", formatValues(artifact.Properties))
			}
			if len(artifact.CustomProperties) > 0 {
				fmt.Printf("Custom: %s\n", formatValues(artifact.CustomProperties))
			}

			fmt.Printf("\nevents (%d)\n", len(events))
			if len(events) > 0 {
				w := newTable()
				fmt.Fprintln(w, "  TIME\tKIND\tEXECUTION\tPATH")
				for _, ev := range events {
					fmt.Fprintf(w, "  %s\t%s\t%d\t%s\n",
						formatEventTime(ev.MillisecondsSinceEpoch), ev.Kind, ev.ExecutionID, formatPath(ev.Path))
				}
				w.Flush()
			}

			fmt.Printf("\ncontexts (%d)\n", len(contexts))
			if len(contexts) > 0 {
				w := newTable()
				fmt.Fprintln(w, "  ID\tTYPE\tNAME")
				for _, c := range contexts {
					fmt.Fprintf(w, "  %d\t%s\t%s\n", c.ID, ctxTypeNames[c.TypeID], c.Name)
				}
				w.Flush()
			}
		})
	},
}

// formatEventTime renders an event timestamp; zero means the producer
// recorded none.
func formatEventTime(ms int64) string {
	if ms == 0 {
		return "-"
	}
	return time.UnixMilli(ms).UTC().Format(time.RFC3339)
}

// formatPath renders an event path like [0].output or - when empty.
func formatPath(steps []types.PathStep) string {
	if len(steps) == 0 {
		return "-"
	}
	var b strings.Builder
	for _, s := range steps {
		b.WriteString(s.String())
	}
	return b.String()
}

func init() {
	rootCmd.AddCommand(lineageCmd)
}
