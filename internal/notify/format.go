package notify

import (
	"fmt"
	"strings"

	"github.com/zulandar/dropline/internal/dispatch"
)

// Color constants for event severity.
const (
	ColorSuccess = "#36a64f"
	ColorInfo    = "#2196f3"
	ColorWarning = "#ff9800"
	ColorError   = "#e53935"
)

// maxListed caps how many failed numbers are spelled out in a summary.
const maxListed = 10

func severityColor(severity string) string {
	switch severity {
	case "success":
		return ColorSuccess
	case "warning":
		return ColorWarning
	case "error":
		return ColorError
	default:
		return ColorInfo
	}
}

// passSeverity grades a pass by its failures.
func passSeverity(r dispatch.Report) string {
	switch {
	case r.Failed == 0:
		return "success"
	case r.Successful == 0:
		return "error"
	default:
		return "warning"
	}
}

// FormatPass builds the summary posted after a dispatch or retry pass.
// Unverified numbers get their own event so an operator can verify them.
func FormatPass(kind string, r dispatch.Report) OutboundMessage {
	title := fmt.Sprintf("%s pass completed: %d placed, %d failed", titleCase(kind), r.Successful, r.Failed)
	severity := passSeverity(r)

	summary := FormattedEvent{
		Title:    title,
		Severity: severity,
		Color:    severityColor(severity),
		Fields: []Field{
			{Name: "Placed", Value: fmt.Sprint(r.Successful), Short: true},
			{Name: "Failed", Value: fmt.Sprint(r.Failed), Short: true},
		},
	}
	if r.PassID != "" {
		summary.Fields = append(summary.Fields, Field{Name: "Pass", Value: r.PassID})
	}
	if r.Skipped > 0 {
		summary.Fields = append(summary.Fields, Field{Name: "Not in ledger", Value: fmt.Sprint(r.Skipped), Short: true})
	}
	if r.Failed > 0 {
		summary.Body = "Failed numbers were added to the missed-call queue.\n" + listErrors(r.Errors, false)
	}

	msg := OutboundMessage{Text: title, Events: []FormattedEvent{summary}}

	if unverified := r.Unverified(); len(unverified) > 0 {
		msg.Events = append(msg.Events, FormattedEvent{
			Title:    fmt.Sprintf("%d unverified numbers need manual review", len(unverified)),
			Body:     listErrors(r.Errors, true),
			Severity: "warning",
			Color:    ColorWarning,
		})
	}
	return msg
}

func listErrors(errs []dispatch.ErrorDetail, unverifiedOnly bool) string {
	var sb strings.Builder
	n := 0
	for _, e := range errs {
		if unverifiedOnly && !e.Unverified {
			continue
		}
		if n == maxListed {
			sb.WriteString("…\n")
			break
		}
		fmt.Fprintf(&sb, "• row %d %s: %s\n", e.Row, e.Number, e.Message)
		n++
	}
	return strings.TrimRight(sb.String(), "\n")
}

func titleCase(s string) string {
	if s == "" {
		return s
	}
	return strings.ToUpper(s[:1]) + s[1:]
}
