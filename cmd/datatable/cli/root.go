package cli

import (
	"fmt"

	"github.com/spf13/cobra"
)

type VersionInfo struct {
	Version string
	Commit  string
}

func NewRootCommand(info VersionInfo) *cobra.Command {
	cmd := &cobra.Command{
		Use:           "datatable",
		Short:         "Server-rendered data tables over SQL databases",
		Long:          "Serves interactive tables with search, filters, sorting, selection and pagination, defined by YAML or JSON catalogs.",
		SilenceErrors: true,
		SilenceUsage:  true,
	}

	cmd.PersistentFlags().String("config", "config.yaml", "config file")
	cmd.PersistentFlags().String("log-level", "", "log level (debug, info, warn, error), overrides the config")

	cmd.Version = fmt.Sprintf("%s.%s", info.Version, info.Commit)

	return cmd
}
