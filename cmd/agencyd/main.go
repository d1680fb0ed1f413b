// Command agencyd is the agency server daemon. It opens the task store, starts the
// agent teams and the scheduled backups, and serves the REST API.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/GoCodeAlone/agency/internal/version"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var configPath string
	root := &cobra.Command{
		Use:           "agencyd",
		Short:         "agency server daemon",
		Version:       version.String("agencyd"),
		SilenceErrors: true,
		SilenceUsage:  true,
	}
	root.SetVersionTemplate("{{.Version}}\n")
	root.PersistentFlags().StringVarP(&configPath, "config", "c", os.Getenv("AGENCY_CONFIG"), "path to YAML config file")

	root.AddCommand(
		newServeCmd(&configPath),
		newBackupCmd(&configPath),
		newHashPasswordCmd(),
		&cobra.Command{
			Use:   "version",
			Short: "Print version information",
			Run: func(cmd *cobra.Command, _ []string) {
				fmt.Fprintln(cmd.OutOrStdout(), version.String("agencyd"))
			},
		},
	)
	return root
}
