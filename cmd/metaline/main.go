// Command metaline is the command-line interface to a metaline metadata
// store. It records and inspects the artifacts, executions, and contexts
// of ML pipeline runs backed by a SQLite, MySQL, or Dolt database.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/metaline/metaline/internal/config"
	"github.com/metaline/metaline/internal/metadata"
	"github.com/metaline/metaline/internal/storage"
	"github.com/metaline/metaline/internal/storage/factory"
	"github.com/metaline/metaline/internal/telemetry"
	"github.com/metaline/metaline/internal/types"
)

var (
	dbFlag      string
	engineFlag  string
	jsonOutput  bool
	formatFlag  string
	verboseFlag bool
	quietFlag   bool
	noUpgrade   bool
	showVersion bool

	// source and store are opened by PersistentPreRun for commands that
	// need a database and released by PersistentPostRun.
	source storage.Source
	store  *metadata.Store

	rootCtx    context.Context
	rootCancel context.CancelFunc
)

var rootCmd = &cobra.Command{
	Use:   "metaline",
	Short: "Metadata store for ML pipelines",
	Long: `Metaline records the artifacts, executions, and contexts of ML
pipeline runs, together with the events and groupings that connect them,
in a transactional SQL database.

The database location is resolved from --db, then METALINE_DB, then the
db key in the nearest .metaline/config.yaml, then .metaline/metadata.db.
The engine (sqlite, mysql, dolt) resolves the same way via --engine and
METALINE_ENGINE, defaulting to sqlite.

Examples:
  metaline schema init                    Create the schema in a fresh database
  metaline types list                     List registered types of every kind
  metaline artifacts list --type model    List artifacts of the model type
  metaline lineage 42                     Show events and contexts for artifact 42
  metaline stats                          Show record counts`,
	Run: func(cmd *cobra.Command, args []string) {
		if showVersion {
			printVersion()
			return
		}
		_ = cmd.Help()
	},
}

// The run hooks are installed in init rather than in the rootCmd
// literal: they call needsDatabase, which compares against rootCmd, and
// referencing it from the literal would be an initialization cycle.
func init() {
	rootCmd.PersistentPreRun = func(cmd *cobra.Command, args []string) {
		// Phase 1: a root context that ends on Ctrl-C or SIGTERM, so a
		// long query dies cleanly instead of mid-transaction.
		rootCtx, rootCancel = signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)

		// Phase 2: flag-to-config overrides. Flags win over environment
		// variables and config.yaml for the rest of the run.
		if cmd.Flags().Changed("json") {
			config.Set("json", jsonOutput)
		}
		jsonOutput = config.GetBool("json")
		if !cmd.Flags().Changed("format") {
			if f := config.GetString("format"); f != "" {
				formatFlag = f
			}
		}

		// Phase 3: telemetry. Disabled unless METALINE_OTEL_ENABLED=true,
		// and never fatal; the CLI works without an exporter.
		if err := telemetry.Init(rootCtx, "metaline", Version); err != nil {
			debugf("telemetry init failed: %v", err)
		}

		// Phase 4: the database. Version, help, and completion run
		// without one; schema commands get a bound store but manage the
		// schema themselves; everything else gets a migrated store.
		if !needsDatabase(cmd) {
			return
		}
		openSource()
		if isSchemaCommand(cmd) {
			bindStore()
			return
		}
		openStore()
	}
	rootCmd.PersistentPostRun = func(cmd *cobra.Command, args []string) {
		if store != nil {
			_ = store.Close()
			store = nil
			source = nil
		} else if source != nil {
			_ = source.Close()
			source = nil
		}
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		telemetry.Shutdown(shutdownCtx)
		cancel()
		if rootCancel != nil {
			rootCancel()
		}
	}
}

// needsDatabase reports whether the command touches the store at all.
func needsDatabase(cmd *cobra.Command) bool {
	if cmd == rootCmd {
		return false
	}
	switch cmd.Name() {
	case "version", "help", "completion", cobra.ShellCompRequestCmd, cobra.ShellCompNoDescRequestCmd:
		return false
	}
	// Subcommands of completion (bash, zsh, ...) run without a database.
	if cmd.Parent() != nil && cmd.Parent().Name() == "completion" {
		return false
	}
	return true
}

// isSchemaCommand reports whether the command belongs to the schema
// group. Those commands create, migrate, or destroy the schema, so the
// usual open-and-reconcile step must not run first.
func isSchemaCommand(cmd *cobra.Command) bool {
	return cmd.Parent() != nil && cmd.Parent().Name() == "schema"
}

// resolveDatabase picks the engine and database location for this run.
// Precedence for both: command-line flag, then METALINE_* environment,
// then the nearest .metaline/config.yaml, then (for the location only)
// .metaline/metadata.db next to that config.
func resolveDatabase() (engine, dsn string, err error) {
	engine = engineFlag
	if engine == "" {
		engine = config.GetString("engine")
	}
	if engine == "" {
		engine = "sqlite"
	}

	dsn = dbFlag
	if dsn == "" {
		dsn = config.GetString("db")
	}
	if dsn == "" {
		if dir, ferr := config.FindDir(); ferr == nil {
			dsn = config.DatabasePath(dir)
		}
	}
	if dsn == "" {
		return "", "", fmt.Errorf("no database configured: pass --db, set METALINE_DB, or run inside a workspace with a .metaline directory")
	}
	return engine, dsn, nil
}

// openSource resolves the database and opens a raw storage source,
// wrapped with telemetry when that is enabled.
func openSource() {
	engine, dsn, err := resolveDatabase()
	if err != nil {
		fail(err)
	}
	var src storage.Source
	if engine == "mysql" {
		src, err = factory.NewWithOptions(rootCtx, engine, "", factory.Options{DSN: dsn})
	} else {
		src, err = factory.New(rootCtx, engine, dsn)
	}
	if err != nil {
		fail(fmt.Errorf("failed to open %s database: %w", engine, err))
	}
	source = telemetry.WrapSource(src)
	debugf("opened %s database %s", engine, source.URI())
}

// bindStore binds a store to the open source without touching the
// schema. Schema commands use this so that, say, status never migrates.
func bindStore() {
	s, err := metadata.New(source)
	if err != nil {
		fail(err)
	}
	store = s
}

// openStore binds a store and reconciles the schema, creating it in an
// empty database and upgrading an older one unless --no-upgrade is set.
func openStore() {
	s, err := metadata.Open(rootCtx, source, types.MigrationOptions{DisableUpgrade: noUpgrade})
	if err != nil {
		fail(err)
	}
	store = s
}

// debugf prints progress to stderr under --verbose. It never writes to
// stdout, which stays reserved for command output.
func debugf(format string, args ...any) {
	if verboseFlag && !quietFlag {
		fmt.Fprintf(os.Stderr, "metaline: "+format+"\n", args...)
	}
}

func init() {
	if err := config.Initialize(); err != nil {
		fmt.Fprintf(os.Stderr, "Warning: %v\n", err)
	}

	rootCmd.PersistentFlags().StringVar(&dbFlag, "db", "", "Database location (file path, or DSN for mysql)")
	rootCmd.PersistentFlags().StringVar(&engineFlag, "engine", "", "Storage engine: sqlite, mysql, or dolt")
	rootCmd.PersistentFlags().BoolVar(&jsonOutput, "json", false, "Output in JSON format")
	rootCmd.PersistentFlags().StringVar(&formatFlag, "format", "table", "Output format: table, json, or yaml")
	rootCmd.PersistentFlags().BoolVarP(&verboseFlag, "verbose", "v", false, "Verbose output")
	rootCmd.PersistentFlags().BoolVarP(&quietFlag, "quiet", "q", false, "Suppress non-essential output")
	rootCmd.PersistentFlags().BoolVar(&noUpgrade, "no-upgrade", false, "Fail instead of upgrading an older schema")
	rootCmd.Flags().BoolVar(&showVersion, "version", false, "Show version information")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
