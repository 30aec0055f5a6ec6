package main

import (
	"fmt"
	"runtime"

	"github.com/spf13/cobra"

	"github.com/metaline/metaline/internal/storage/query"
)

// Version and Build are set at link time:
//
//	go build -ldflags "-X main.Version=0.3.0 -X main.Build=$(git rev-parse --short HEAD)"
var (
	Version = "0.3.0"
	Build   = "dev"
)

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Show version information",
	Run: func(cmd *cobra.Command, args []string) {
		printVersion()
	},
}

func printVersion() {
	if jsonOutput || formatFlag == "json" {
		outputJSON(map[string]any{
			"version":        Version,
			"build":          Build,
			"schema_version": query.SchemaVersion,
			"go":             runtime.Version(),
		})
		return
	}
	fmt.Printf("metaline %s (build %s, schema v%d, %s)\n", Version, Build, query.SchemaVersion, runtime.Version())
}

func init() {
	rootCmd.AddCommand(versionCmd)
}
