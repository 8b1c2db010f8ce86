package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"text/tabwriter"

	"github.com/spf13/cobra"
	"github.com/zulandar/dropline/internal/retry"
)

func newRetryCmd() *cobra.Command {
	var (
		configPath string
		baseURL    string
		asJSON     bool
	)

	cmd := &cobra.Command{
		Use:   "retry",
		Short: "Call the missed-call list again",
		Long: `Runs one retry pass over the missed-call list. Each entry is matched to
its contact by mobile number; successes leave the list, failures stay.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runRetry(cmd, configPath, baseURL, asJSON)
		},
	}

	addConfigFlag(cmd, &configPath)
	cmd.Flags().StringVarP(&baseURL, "base-url", "b", "", "public base URL for callbacks (overrides server.public_base_url)")
	cmd.Flags().BoolVar(&asJSON, "json", false, "print the report as JSON")
	cmd.AddCommand(newRetryListCmd())
	return cmd
}

func runRetry(cmd *cobra.Command, configPath, baseURL string, asJSON bool) error {
	cfg, gormDB, err := connectFromConfig(cmd, configPath)
	if err != nil {
		return err
	}
	a, err := newApp(cfg, gormDB)
	if err != nil {
		return err
	}
	defer a.close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	report, passErr := a.campaign.RetryMissed(ctx, pickBaseURL(baseURL, cfg.Server.PublicBaseURL))
	if report.Status != "" {
		if err := printReport(cmd.OutOrStdout(), "Retry", report, asJSON); err != nil {
			return err
		}
	}
	return passErr
}

func newRetryListCmd() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:   "list",
		Short: "Show the missed-call list",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runRetryList(cmd, configPath)
		},
	}

	addConfigFlag(cmd, &configPath)
	return cmd
}

func runRetryList(cmd *cobra.Command, configPath string) error {
	out := cmd.OutOrStdout()
	_, gormDB, err := connectFromConfig(cmd, configPath)
	if err != nil {
		return err
	}
	defer closeDB(gormDB)

	entries, err := retry.NewStore(gormDB).Load(cmd.Context())
	if err != nil {
		return err
	}
	if len(entries) == 0 {
		fmt.Fprintln(out, "No missed calls.")
		return nil
	}

	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "NAME\tMOBILE\tREASON")
	for _, e := range entries {
		reason := e.Reason
		if reason == "" {
			reason = "-"
		}
		fmt.Fprintf(w, "%s\t%s\t%s\n", e.Name, e.MobileNumber, truncate(reason, 60))
	}
	w.Flush()
	fmt.Fprintf(out, "\n%d missed calls\n", len(entries))
	return nil
}
