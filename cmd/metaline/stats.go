package main

import (
	"fmt"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
)

// statsReport is the JSON shape of the stats command.
type statsReport struct {
	Database   string `json:"database"`
	Engine     string `json:"engine"`
	Types      int64  `json:"types"`
	Artifacts  int64  `json:"artifacts"`
	Executions int64  `json:"executions"`
	Contexts   int64  `json:"contexts"`
	Events     int64  `json:"events"`
}

var statsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show record counts",
	Long:  `Count the stored types, artifacts, executions, contexts, and events.`,
	Run: func(cmd *cobra.Command, args []string) {
		report := statsReport{Database: store.URI(), Engine: store.Engine()}

		// One count per goroutine; each runs in its own read transaction.
		g, gctx := errgroup.WithContext(rootCtx)
		g.Go(func() error {
			var err error
			report.Types, err = store.CountTypes(gctx)
			return err
		})
		g.Go(func() error {
			var err error
			report.Artifacts, err = store.CountArtifacts(gctx)
			return err
		})
		g.Go(func() error {
			var err error
			report.Executions, err = store.CountExecutions(gctx)
			return err
		})
		g.Go(func() error {
			var err error
			report.Contexts, err = store.CountContexts(gctx)
			return err
		})
		g.Go(func() error {
			var err error
			report.Events, err = store.CountEvents(gctx)
			return err
		})
		if err := g.Wait(); err != nil {
			fail(err)
		}

		render(report, func() {
			fmt.Printf("Database:   %s (%s)\n", report.Database, report.Engine)
			fmt.Printf("Types:      %d\n", report.Types)
			fmt.Printf("Artifacts:  %d\n", report.Artifacts)
			fmt.Printf("Executions: %d\n", report.Executions)
			fmt.Printf("Contexts:   %d\n", report.Contexts)
			fmt.Printf("Events:     %d\n", report.Events)
		})
	},
}

func init() {
	rootCmd.AddCommand(statsCmd)
}
