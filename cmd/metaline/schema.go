package main

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/metaline/metaline/internal/metadata"
	"github.com/metaline/metaline/internal/storage"
	"github.com/metaline/metaline/internal/storage/query"
	"github.com/metaline/metaline/internal/types"
)

var (
	downgradeTo int64
	resetForce  bool
)

var schemaCmd = &cobra.Command{
	Use:   "schema",
	Short: "Manage the database schema",
	Long: `Create, inspect, migrate, or destroy the metaline schema.

Unlike the data commands, schema commands never migrate implicitly: a
status check against an old database reports the old version instead of
silently upgrading it.`,
}

var schemaInitCmd = &cobra.Command{
	Use:   "init",
	Short: "Create the schema in an empty database",
	Long: `Create the full schema at the current library version. Fails when any
metaline table already exists; use 'schema upgrade' to migrate an
existing database.`,
	Run: func(cmd *cobra.Command, args []string) {
		// SchemaVersion answers for both versioned and legacy layouts;
		// only ErrNotFound means there is nothing here yet.
		if _, err := store.SchemaVersion(rootCtx); err == nil {
			fail(fmt.Errorf("database already has a schema: use 'metaline schema upgrade' to migrate it"))
		} else if !errors.Is(err, storage.ErrNotFound) {
			fail(err)
		}
		if err := store.Init(rootCtx); err != nil {
			fail(err)
		}
		result := map[string]any{"status": "initialized", "schema_version": query.SchemaVersion}
		render(result, func() {
			fmt.Printf("Initialized schema at version %d in %s\n", query.SchemaVersion, store.URI())
		})
	},
}

var schemaStatusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show the stored schema version",
	Run: func(cmd *cobra.Command, args []string) {
		stored, err := store.SchemaVersion(rootCtx)
		if err != nil {
			if errors.Is(err, storage.ErrNotFound) {
				result := map[string]any{
					"schema_version":  nil,
					"library_version": query.SchemaVersion,
					"state":           "empty",
				}
				render(result, func() {
					fmt.Printf("Database:        %s\n", store.URI())
					fmt.Printf("Schema version:  none (run 'metaline schema init')\n")
					fmt.Printf("Library version: %d\n", query.SchemaVersion)
				})
				return
			}
			fail(err)
		}

		state := "current"
		switch {
		case stored < query.SchemaVersion:
			state = "older"
		case stored > query.SchemaVersion:
			state = "newer"
		}
		result := map[string]any{
			"schema_version":  stored,
			"library_version": query.SchemaVersion,
			"state":           state,
		}
		render(result, func() {
			fmt.Printf("Database:        %s\n", store.URI())
			fmt.Printf("Schema version:  %d\n", stored)
			fmt.Printf("Library version: %d\n", query.SchemaVersion)
			switch state {
			case "older":
				fmt.Println("Run 'metaline schema upgrade' to migrate.")
			case "newer":
				fmt.Println("Database is newer than this binary; upgrade metaline.")
			}
		})
	},
}

var schemaUpgradeCmd = &cobra.Command{
	Use:   "upgrade",
	Short: "Migrate the schema up to the library version",
	Long: `Migrate the database to the current library version, creating the
schema when the database is empty. Migrations run one version at a
time, each in its own transaction.`,
	Run: func(cmd *cobra.Command, args []string) {
		from, err := store.SchemaVersion(rootCtx)
		hadSchema := err == nil
		if err != nil && !errors.Is(err, storage.ErrNotFound) {
			fail(err)
		}

		upgraded, err := metadata.Open(rootCtx, source, types.MigrationOptions{})
		if err != nil {
			fail(err)
		}
		store = upgraded

		result := map[string]any{"status": "upgraded", "schema_version": query.SchemaVersion}
		if hadSchema {
			result["previous_version"] = from
		}
		render(result, func() {
			if !hadSchema {
				fmt.Printf("Initialized schema at version %d\n", query.SchemaVersion)
			} else if from == query.SchemaVersion {
				fmt.Printf("Schema already at version %d\n", query.SchemaVersion)
			} else {
				fmt.Printf("Upgraded schema from version %d to %d\n", from, query.SchemaVersion)
			}
		})
	},
}

var schemaDowngradeCmd = &cobra.Command{
	Use:   "downgrade",
	Short: "Migrate the schema down to an older version",
	Long: `Migrate the database down to the version given by --to, dropping the
data that newer versions added. Downgrading to 0 leaves an empty,
unversioned database.

Example:
  metaline schema downgrade --to 5`,
	Run: func(cmd *cobra.Command, args []string) {
		target := downgradeTo
		if target < 0 {
			fail(fmt.Errorf("invalid downgrade target %d: version must be >= 0", target))
		}
		_, err := metadata.Open(rootCtx, source, types.MigrationOptions{DowngradeToVersion: &target})
		if !errors.Is(err, storage.ErrDowngradeCompleted) {
			if err == nil {
				err = fmt.Errorf("downgrade did not run")
			}
			fail(err)
		}
		// Open closed the source after a completed downgrade.
		source = nil
		store = nil

		result := map[string]any{"status": "downgraded", "schema_version": target}
		render(result, func() {
			fmt.Printf("Downgraded schema to version %d\n", target)
		})
	},
}

var schemaResetCmd = &cobra.Command{
	Use:   "reset",
	Short: "Drop all tables and recreate the schema",
	Long: `Drop every metaline table and recreate the schema at the current
library version. All stored metadata is destroyed; requires --force.`,
	Run: func(cmd *cobra.Command, args []string) {
		if !resetForce {
			fail(fmt.Errorf("refusing to destroy all metadata: pass --force to confirm"))
		}
		if err := store.Reset(rootCtx); err != nil {
			fail(err)
		}
		result := map[string]any{"status": "reset", "schema_version": query.SchemaVersion}
		render(result, func() {
			fmt.Printf("Reset schema to version %d in %s\n", query.SchemaVersion, store.URI())
		})
	},
}

func init() {
	schemaDowngradeCmd.Flags().Int64Var(&downgradeTo, "to", 0, "Target schema version (0 empties the database)")
	_ = schemaDowngradeCmd.MarkFlagRequired("to")
	schemaResetCmd.Flags().BoolVar(&resetForce, "force", false, "Confirm destroying all stored metadata")

	schemaCmd.AddCommand(schemaInitCmd)
	schemaCmd.AddCommand(schemaStatusCmd)
	schemaCmd.AddCommand(schemaUpgradeCmd)
	schemaCmd.AddCommand(schemaDowngradeCmd)
	schemaCmd.AddCommand(schemaResetCmd)
	rootCmd.AddCommand(schemaCmd)
}
