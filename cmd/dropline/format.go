package main

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/zulandar/dropline/internal/dispatch"
)

// printReport writes a pass report as a summary, or as indented JSON.
func printReport(out io.Writer, title string, r dispatch.Report, asJSON bool) error {
	if asJSON {
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		return enc.Encode(r)
	}

	if r.PassID != "" {
		fmt.Fprintf(out, "%s pass %s %s\n", title, r.PassID, r.Status)
	} else {
		fmt.Fprintf(out, "%s: nothing to do\n", title)
	}
	fmt.Fprintf(out, "  successful: %d\n", r.Successful)
	fmt.Fprintf(out, "  failed:     %d\n", r.Failed)
	if r.Skipped > 0 {
		fmt.Fprintf(out, "  skipped:    %d (number not in ledger)\n", r.Skipped)
	}
	if r.Answered > 0 {
		fmt.Fprintf(out, "  answered:   %d (dropped from missed list)\n", r.Answered)
	}
	for _, e := range r.Errors {
		fmt.Fprintf(out, "  row %d %s: %s\n", e.Row, e.Number, e.Message)
	}
	if unverified := r.Unverified(); len(unverified) > 0 {
		fmt.Fprintf(out, "\nUnverified numbers (verify them in the Twilio console): %s\n", strings.Join(unverified, ", "))
	}
	return nil
}

// truncate shortens s to n runes for table output.
func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	if n <= 3 {
		return string(r[:n])
	}
	return string(r[:n-3]) + "..."
}
