package cli

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/gnemet/datatable"
	"github.com/spf13/cobra"
)

func NewValidateCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "validate <catalog> [catalog...]",
		Short: "Validate table catalogs",
		Long:  "Validate YAML or JSON table catalogs against the catalog schema and check that relations and accessors resolve.",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			out := cmd.OutOrStdout()
			allValid := true
			for _, path := range args {
				name := filepath.Base(path)
				if err := validateFile(path); err != nil {
					fmt.Fprintf(out, "❌ %s is invalid!\n   - %v\n", name, err)
					allValid = false
					continue
				}
				fmt.Fprintf(out, "✅ %s is valid.\n", name)
			}
			if !allValid {
				return fmt.Errorf("one or more catalogs are invalid")
			}
			return nil
		},
	}

	return cmd
}

func validateFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	cat, err := datatable.LoadCatalog(data)
	if err != nil {
		return err
	}
	_, err = cat.Definition(nil)
	return err
}
