package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

// Version info set via ldflags at build time.
var (
	Version = "dev"
	Commit  = "none"
	Date    = "unknown"
)

// defaultConfigPath is used when --config is not given. A missing default
// file means defaults plus environment overrides.
const defaultConfigPath = "dropline.yaml"

func newRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "dropline",
		Short: "Dropline - outbound delivery-call orchestration",
		Long: "Dropline calls delivery recipients, records their spoken availability, " +
			"transcribes it, and keeps the results in a contact ledger.",
		SilenceUsage: true,
	}

	cmd.AddCommand(newVersionCmd())
	cmd.AddCommand(newServeCmd())
	cmd.AddCommand(newDispatchCmd())
	cmd.AddCommand(newRetryCmd())
	cmd.AddCommand(newAttemptsCmd())
	cmd.AddCommand(newContactsCmd())
	cmd.AddCommand(newDBCmd())
	cmd.AddCommand(newNumbersCmd())
	cmd.AddCommand(newDoctorCmd())
	return cmd
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "dropline %s (commit: %s, built: %s)\n", Version, Commit, Date)
		},
	}
}

func addConfigFlag(cmd *cobra.Command, configPath *string) {
	cmd.Flags().StringVarP(configPath, "config", "c", defaultConfigPath, "path to Dropline config file")
}

func execute(cmd *cobra.Command) int {
	if err := cmd.Execute(); err != nil {
		return 1
	}
	return 0
}

func main() {
	os.Exit(execute(newRootCmd()))
}
