package main

import (
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"
	"github.com/zulandar/dropline/internal/dispatch"
	"github.com/zulandar/dropline/internal/metrics"
	"github.com/zulandar/dropline/internal/models"
)

func newAttemptsCmd() *cobra.Command {
	var (
		configPath string
		passID     string
		lines      int
	)

	cmd := &cobra.Command{
		Use:   "attempts",
		Short: "Show the call attempt log",
		Long:  "Lists call placements recorded by dispatch and retry passes, newest first. Use --pass to show one pass in placement order.",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runAttempts(cmd, configPath, passID, lines)
		},
	}

	addConfigFlag(cmd, &configPath)
	cmd.Flags().StringVar(&passID, "pass", "", "show the attempts of one pass")
	cmd.Flags().IntVarP(&lines, "lines", "n", 50, "number of recent attempts to show")
	return cmd
}

func runAttempts(cmd *cobra.Command, configPath, passID string, lines int) error {
	out := cmd.OutOrStdout()
	_, gormDB, err := connectFromConfig(cmd, configPath)
	if err != nil {
		return err
	}
	defer closeDB(gormDB)

	attemptLog := dispatch.NewAttemptLog(gormDB)
	var attempts []models.CallAttempt
	if passID != "" {
		attempts, err = attemptLog.Pass(cmd.Context(), passID)
	} else {
		attempts, err = attemptLog.Recent(cmd.Context(), lines)
	}
	if err != nil {
		return err
	}
	if len(attempts) == 0 {
		fmt.Fprintln(out, "No call attempts found.")
		return nil
	}

	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "TIME\tPASS\tKIND\tROW\tMOBILE\tOUTCOME\tDETAIL")
	for _, a := range attempts {
		detail := a.CallSID
		if a.Outcome == metrics.OutcomeFailed {
			detail = a.Error
			if a.Unverified {
				detail = "unverified: " + detail
			}
		}
		if detail == "" {
			detail = "-"
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%d\t%s\t%s\t%s\n",
			a.CreatedAt.Format("2006-01-02 15:04:05"), shortID(a.PassID), a.Kind,
			a.ContactIndex, a.MobileNumber, a.Outcome, truncate(detail, 60))
	}
	w.Flush()
	return nil
}

// shortID returns the first 8 characters of an ID for compact display.
func shortID(id string) string {
	if len(id) <= 8 {
		return id
	}
	return id[:8]
}
