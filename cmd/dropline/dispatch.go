package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"text/tabwriter"

	"github.com/spf13/cobra"
	"github.com/zulandar/dropline/internal/ledger"
)

func newDispatchCmd() *cobra.Command {
	var (
		configPath string
		baseURL    string
		asJSON     bool
		dryRun     bool
	)

	cmd := &cobra.Command{
		Use:   "dispatch",
		Short: "Call every contact that has not responded",
		Long: `Runs one dispatch pass: every contact with a blank response is called,
with a fixed delay between calls. Failed calls replace the missed-call list.
Interrupting the command stops the pass after the current call.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			if dryRun {
				return runDispatchDryRun(cmd, configPath)
			}
			return runDispatch(cmd, configPath, baseURL, asJSON)
		},
	}

	addConfigFlag(cmd, &configPath)
	cmd.Flags().StringVarP(&baseURL, "base-url", "b", "", "public base URL for callbacks (overrides server.public_base_url)")
	cmd.Flags().BoolVar(&asJSON, "json", false, "print the report as JSON")
	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "list the contacts that would be called without placing calls")
	return cmd
}

func runDispatchDryRun(cmd *cobra.Command, configPath string) error {
	out := cmd.OutOrStdout()
	_, gormDB, err := connectFromConfig(cmd, configPath)
	if err != nil {
		return err
	}
	defer closeDB(gormDB)

	eligible, err := ledger.New(gormDB).Eligible(cmd.Context())
	if err != nil {
		return err
	}
	if len(eligible) == 0 {
		fmt.Fprintln(out, "No contacts to call.")
		return nil
	}
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "ROW\tNAME\tMOBILE")
	for _, c := range eligible {
		fmt.Fprintf(w, "%d\t%s\t%s\n", c.Index, c.Name, c.MobileNumber)
	}
	w.Flush()
	fmt.Fprintf(out, "\n%d contacts would be called\n", len(eligible))
	return nil
}

func runDispatch(cmd *cobra.Command, configPath, baseURL string, asJSON bool) error {
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

	report, passErr := a.campaign.TriggerCalls(ctx, pickBaseURL(baseURL, cfg.Server.PublicBaseURL))
	if report.Status != "" {
		if err := printReport(cmd.OutOrStdout(), "Dispatch", report, asJSON); err != nil {
			return err
		}
	}
	return passErr
}

// pickBaseURL prefers the flag over the configured base URL.
func pickBaseURL(flag, configured string) string {
	if flag != "" {
		return flag
	}
	return configured
}
