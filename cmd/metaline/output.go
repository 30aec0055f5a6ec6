package main

import (
	"encoding/json"
	"fmt"
	"os"
	"sort"
	"strings"
	"text/tabwriter"

	"gopkg.in/yaml.v3"

	"github.com/metaline/metaline/internal/types"
)

// render writes v in the format selected by --json/--format. The table
// format calls plain, which prints a human-readable layout to stdout.
func render(v any, plain func()) {
	switch {
	case jsonOutput || formatFlag == "json":
		outputJSON(v)
	case formatFlag == "yaml":
		outputYAML(v)
	default:
		plain()
	}
}

func outputJSON(v any) {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		fmt.Fprintf(os.Stderr, "Error encoding JSON: %v\n", err)
		os.Exit(1)
	}
}

// outputJSONError emits a machine-readable error to stderr and exits.
func outputJSONError(err error, exitCode int) {
	enc := json.NewEncoder(os.Stderr)
	enc.SetIndent("", "  ")
	_ = enc.Encode(map[string]string{"error": err.Error()})
	os.Exit(exitCode)
}

// outputYAML writes v as YAML. The value goes through its JSON form
// first so field names match the JSON output exactly.
func outputYAML(v any) {
	raw, err := json.Marshal(v)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error encoding YAML: %v\n", err)
		os.Exit(1)
	}
	var plain any
	if err := json.Unmarshal(raw, &plain); err != nil {
		fmt.Fprintf(os.Stderr, "Error encoding YAML: %v\n", err)
		os.Exit(1)
	}
	enc := yaml.NewEncoder(os.Stdout)
	enc.SetIndent(2)
	if err := enc.Encode(plain); err != nil {
		fmt.Fprintf(os.Stderr, "Error encoding YAML: %v\n", err)
		os.Exit(1)
	}
	_ = enc.Close()
}

// fail reports err in the selected output format and exits nonzero.
func fail(err error) {
	if jsonOutput || formatFlag == "json" {
		outputJSONError(err, 1)
	}
	fmt.Fprintf(os.Stderr, "Error: %v\n", err)
	os.Exit(1)
}

// newTable returns a writer that aligns tab-separated columns on stdout.
// Callers must Flush it when done.
func newTable() *tabwriter.Writer {
	return tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
}

// formatDeclared renders a type's property declarations as a compact
// single cell, keys sorted.
func formatDeclared(props map[string]types.PropertyType) string {
	if len(props) == 0 {
		return "-"
	}
	keys := make([]string, 0, len(props))
	for k := range props {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, fmt.Sprintf("%s:%s", k, props[k]))
	}
	return strings.Join(parts, ", ")
}

// declaredLines renders property declarations one per table row, keys
// sorted.
func declaredLines(props map[string]types.PropertyType) []string {
	keys := make([]string, 0, len(props))
	for k := range props {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	lines := make([]string, 0, len(keys))
	for _, k := range keys {
		lines = append(lines, fmt.Sprintf("  %s\t%s", k, props[k]))
	}
	return lines
}

// formatValues renders a property value map as a compact single cell,
// keys sorted.
func formatValues(props map[string]types.PropertyValue) string {
	if len(props) == 0 {
		return "-"
	}
	keys := make([]string, 0, len(props))
	for k := range props {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, fmt.Sprintf("%s=%s", k, props[k]))
	}
	return strings.Join(parts, ", ")
}
