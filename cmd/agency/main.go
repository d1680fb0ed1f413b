// Command agency is the command-line client for an agencyd server.
package main

import (
	"fmt"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/GoCodeAlone/agency/internal/version"
)

const defaultServer = "http://localhost:9090"

func main() {
	if err := newRootCmd().Execute(); err != nil {
		color.New(color.FgRed, color.Bold).Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var (
		serverURL string
		token     string
	)
	cli := &Client{HTTPClient: &http.Client{Timeout: 30 * time.Second}}

	root := &cobra.Command{
		Use:           "agency",
		Short:         "agency CLI client",
		Version:       version.String("agency"),
		SilenceErrors: true,
		SilenceUsage:  true,
		PersistentPreRun: func(*cobra.Command, []string) {
			cli.BaseURL = strings.TrimRight(serverURL, "/")
			cli.Token = token
		},
	}
	root.SetVersionTemplate("{{.Version}}\n")
	root.PersistentFlags().StringVar(&serverURL, "server", envOr("AGENCY_SERVER", defaultServer), "agency server URL (or $AGENCY_SERVER)")
	root.PersistentFlags().StringVar(&token, "token", os.Getenv("AGENCY_TOKEN"), "JWT auth token (or $AGENCY_TOKEN)")

	root.AddCommand(
		newLoginCmd(cli),
		newStatusCmd(cli),
		newAgentsCmd(cli),
		newTasksCmd(cli),
		newSendCmd(cli),
		newChatCmd(cli),
		newUpdatesCmd(cli),
		newUpgradeCmd(),
		&cobra.Command{
			Use:   "version",
			Short: "Print version information",
			Run: func(cmd *cobra.Command, _ []string) {
				fmt.Fprintln(cmd.OutOrStdout(), version.String("agency"))
			},
		},
	)
	return root
}

func envOr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}
