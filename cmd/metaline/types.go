package main

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/metaline/metaline/internal/storage"
	"github.com/metaline/metaline/internal/types"
)

var (
	typesKind    string
	typeShowKind string
)

var typesCmd = &cobra.Command{
	Use:   "types",
	Short: "List registered types",
	Long: `List the registered types and their declared property schemas.

Examples:
  metaline types list                  List types of every kind
  metaline types list --kind artifact  List only artifact types`,
}

var typesListCmd = &cobra.Command{
	Use:   "list",
	Short: "List registered types",
	Run: func(cmd *cobra.Command, args []string) {
		kinds := []string{"artifact", "execution", "context"}
		if typesKind != "" {
			if !validKind(typesKind) {
				fail(fmt.Errorf("invalid kind %q (want artifact, execution, or context)", typesKind))
			}
			kinds = []string{typesKind}
		}

		result := map[string][]*types.Type{}
		for _, kind := range kinds {
			list, err := typesForKind(kind)
			if err != nil {
				fail(err)
			}
			result[kind+"_types"] = list
		}

		render(result, func() {
			for _, kind := range kinds {
				list := result[kind+"_types"]
				fmt.Printf("%s types (%d)\n", kind, len(list))
				if len(list) == 0 {
					continue
				}
				w := newTable()
				fmt.Fprintln(w, "  ID\tNAME\tPROPERTIES")
				for _, t := range list {
					fmt.Fprintf(w, "  %d\t%s\t%s\n", t.ID, t.Name, formatDeclared(t.Properties))
				}
				w.Flush()
			}
		})
	},
}

var typeShowCmd = &cobra.Command{
	Use:   "show <name>",
	Short: "Show one registered type",
	Long: `Show a registered type and its declared property schema.

Examples:
  metaline type show model
  metaline type show trainer --kind execution`,
	Args: cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		name := args[0]
		if !validKind(typeShowKind) {
			fail(fmt.Errorf("invalid kind %q (want artifact, execution, or context)", typeShowKind))
		}

		var t *types.Type
		var err error
		switch typeShowKind {
		case "artifact":
			t, err = store.GetArtifactType(rootCtx, name)
		case "execution":
			t, err = store.GetExecutionType(rootCtx, name)
		case "context":
			t, err = store.GetContextType(rootCtx, name)
		}
		if err != nil {
			if errors.Is(err, storage.ErrNotFound) {
				fail(fmt.Errorf("no %s type named %q", typeShowKind, name))
			}
			fail(err)
		}

		render(t, func() {
			fmt.Printf("Name: %s\n", t.Name)
			fmt.Printf("Kind: %s\n", typeShowKind)
			fmt.Printf("ID:   %d\n", t.ID)
			if len(t.Properties) == 0 {
				fmt.Println("Properties: none")
				return
			}
			fmt.Println("Properties:")
			w := newTable()
			for _, line := range declaredLines(t.Properties) {
				fmt.Fprintln(w, line)
			}
			w.Flush()
		})
	},
}

func validKind(kind string) bool {
	switch kind {
	case "artifact", "execution", "context":
		return true
	}
	return false
}

func typesForKind(kind string) ([]*types.Type, error) {
	switch kind {
	case "artifact":
		return store.GetArtifactTypes(rootCtx)
	case "execution":
		return store.GetExecutionTypes(rootCtx)
	case "context":
		return store.GetContextTypes(rootCtx)
	}
	return nil, fmt.Errorf("invalid kind %q", kind)
}

func init() {
	typesListCmd.Flags().StringVar(&typesKind, "kind", "", "Restrict to one kind: artifact, execution, or context")
	typeShowCmd.Flags().StringVar(&typeShowKind, "kind", "artifact", "Type kind: artifact, execution, or context")

	typesCmd.AddCommand(typesListCmd)
	rootCmd.AddCommand(typesCmd)

	typeCmd := &cobra.Command{Use: "type", Short: "Inspect one registered type"}
	typeCmd.AddCommand(typeShowCmd)
	rootCmd.AddCommand(typeCmd)
}
