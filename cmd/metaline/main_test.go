package main

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/spf13/cobra"
)

// clearDatabaseEnv neutralizes METALINE_DB/METALINE_ENGINE for the
// test; an empty value reads as unset.
func clearDatabaseEnv(t *testing.T) {
	t.Helper()
	t.Setenv("METALINE_DB", "")
	t.Setenv("METALINE_ENGINE", "")
}

func TestResolveDatabaseFlagsWin(t *testing.T) {
	clearDatabaseEnv(t)
	origDB, origEngine := dbFlag, engineFlag
	defer func() { dbFlag, engineFlag = origDB, origEngine }()

	dbFlag = "/tmp/flags.db"
	engineFlag = "mysql"
	engine, dsn, err := resolveDatabase()
	if err != nil {
		t.Fatalf("resolveDatabase: %v", err)
	}
	if engine != "mysql" {
		t.Errorf("got engine %q, want \"mysql\"", engine)
	}
	if dsn != "/tmp/flags.db" {
		t.Errorf("got dsn %q, want \"/tmp/flags.db\"", dsn)
	}
}

func TestResolveDatabaseDefaultEngine(t *testing.T) {
	clearDatabaseEnv(t)
	origDB, origEngine := dbFlag, engineFlag
	defer func() { dbFlag, engineFlag = origDB, origEngine }()

	dbFlag = "/tmp/flags.db"
	engineFlag = ""
	engine, _, err := resolveDatabase()
	if err != nil {
		t.Fatalf("resolveDatabase: %v", err)
	}
	if engine != "sqlite" {
		t.Errorf("got engine %q, want \"sqlite\"", engine)
	}
}

func TestResolveDatabaseFromEnv(t *testing.T) {
	clearDatabaseEnv(t)
	t.Setenv("METALINE_DB", "/env/store.db")
	t.Setenv("METALINE_ENGINE", "dolt")
	origDB, origEngine := dbFlag, engineFlag
	defer func() { dbFlag, engineFlag = origDB, origEngine }()
	dbFlag, engineFlag = "", ""

	engine, dsn, err := resolveDatabase()
	if err != nil {
		t.Fatalf("resolveDatabase: %v", err)
	}
	if engine != "dolt" {
		t.Errorf("got engine %q, want \"dolt\"", engine)
	}
	if dsn != "/env/store.db" {
		t.Errorf("got dsn %q, want \"/env/store.db\"", dsn)
	}
}

func TestResolveDatabaseFromWorkspace(t *testing.T) {
	clearDatabaseEnv(t)
	origDB, origEngine := dbFlag, engineFlag
	defer func() { dbFlag, engineFlag = origDB, origEngine }()
	dbFlag, engineFlag = "", ""

	dir := t.TempDir()
	if err := os.Mkdir(filepath.Join(dir, ".metaline"), 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	t.Chdir(dir)

	_, dsn, err := resolveDatabase()
	if err != nil {
		t.Fatalf("resolveDatabase: %v", err)
	}
	want := filepath.Join(".metaline", "metadata.db")
	if !strings.HasSuffix(dsn, want) {
		t.Errorf("got dsn %q, want suffix %q", dsn, want)
	}
}

func TestResolveDatabaseNothingConfigured(t *testing.T) {
	clearDatabaseEnv(t)
	origDB, origEngine := dbFlag, engineFlag
	defer func() { dbFlag, engineFlag = origDB, origEngine }()
	dbFlag, engineFlag = "", ""

	t.Chdir(t.TempDir())

	_, _, err := resolveDatabase()
	if err == nil {
		t.Fatal("expected error with nothing configured")
	}
	if !strings.Contains(err.Error(), "no database configured") {
		t.Errorf("got %v, want a no-database-configured error", err)
	}
}

func TestNeedsDatabase(t *testing.T) {
	if needsDatabase(rootCmd) {
		t.Error("root command should not need a database")
	}
	if needsDatabase(versionCmd) {
		t.Error("version should not need a database")
	}
	if !needsDatabase(statsCmd) {
		t.Error("stats needs a database")
	}
	if !needsDatabase(schemaInitCmd) {
		t.Error("schema init needs a database")
	}

	completion := &cobra.Command{Use: "completion"}
	bash := &cobra.Command{Use: "bash"}
	completion.AddCommand(bash)
	if needsDatabase(bash) {
		t.Error("completion subcommands should not need a database")
	}
}

func TestIsSchemaCommand(t *testing.T) {
	for _, cmd := range []*cobra.Command{schemaInitCmd, schemaStatusCmd, schemaUpgradeCmd, schemaDowngradeCmd, schemaResetCmd} {
		if !isSchemaCommand(cmd) {
			t.Errorf("%s not classified as schema command", cmd.Name())
		}
	}
	if isSchemaCommand(statsCmd) {
		t.Error("stats misclassified as schema command")
	}
	if isSchemaCommand(typesListCmd) {
		t.Error("types list misclassified as schema command")
	}
}
