// Package dispatch places outbound calls to every eligible contact, one at a
// time with a fixed delay between placements.
package dispatch

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/zulandar/dropline/internal/metrics"
	"github.com/zulandar/dropline/internal/models"
	"github.com/zulandar/dropline/internal/provider"
)

// DefaultPacing is the delay between successive call placements.
const DefaultPacing = 2 * time.Second

// MissedEntry is the snapshot of a contact whose call failed.
type MissedEntry struct {
	Name         string `json:"name"`
	MobileNumber string `json:"mobile_number"`
}

// ErrorDetail describes one failed placement.
type ErrorDetail struct {
	Row        int    `json:"row"`
	Number     string `json:"number"`
	Message    string `json:"message"`
	Unverified bool   `json:"unverified,omitempty"`
}

// Report summarizes a dispatch or retry pass.
type Report struct {
	Status     string        `json:"status"`
	PassID     string        `json:"pass_id,omitempty"`
	Successful int           `json:"successful_calls"`
	Failed     int           `json:"failed_calls"`
	Missed     []MissedEntry `json:"missed"`
	Errors     []ErrorDetail `json:"errors"`
	// Skipped counts retry entries with no matching contact; Answered
	// counts entries dropped because the contact has since responded.
	Skipped  int `json:"skipped,omitempty"`
	Answered int `json:"answered,omitempty"`
}

// Report statuses. A stopped pass ended early; its counts cover the
// contacts reached before it stopped.
const (
	StatusCompleted = "completed"
	StatusStopped   = "stopped"
)

// NewReport returns an empty completed report.
func NewReport(passID string) Report {
	return Report{
		Status: StatusCompleted,
		PassID: passID,
		Missed: []MissedEntry{},
		Errors: []ErrorDetail{},
	}
}

// Unverified returns the numbers rejected as unverified destinations.
func (r Report) Unverified() []string {
	var out []string
	for _, e := range r.Errors {
		if e.Unverified {
			out = append(out, e.Number)
		}
	}
	return out
}

// AttemptRecorder persists call attempts. Failures are logged by the caller
// and never fail a pass.
type AttemptRecorder interface {
	RecordAttempt(ctx context.Context, a models.CallAttempt) error
}

// MetricsSink is the subset of metrics.Sink the dispatcher uses.
type MetricsSink interface {
	CallPlaced(kind, outcome string)
	PassCompleted(kind string, duration time.Duration, successful, failed int)
}

// Dispatcher places calls through a provider.Client.
type Dispatcher struct {
	client   provider.Client
	pacing   time.Duration
	attempts AttemptRecorder // optional
	metrics  MetricsSink     // optional
	sleep    func(ctx context.Context, d time.Duration) error
}

// New creates a Dispatcher. A nil client means provider credentials are not
// configured; every pass then fails with a ConfigurationError.
func New(client provider.Client, pacing time.Duration) *Dispatcher {
	if pacing < 0 {
		pacing = 0
	}
	return &Dispatcher{
		client: client,
		pacing: pacing,
		sleep:  sleepCtx,
	}
}

// WithAttempts attaches a call attempt log.
func (d *Dispatcher) WithAttempts(r AttemptRecorder) *Dispatcher {
	d.attempts = r
	return d
}

// WithMetrics attaches a metrics sink.
func (d *Dispatcher) WithMetrics(m MetricsSink) *Dispatcher {
	d.metrics = m
	return d
}

// WithSleep replaces the pacing wait. Used by tests.
func (d *Dispatcher) WithSleep(fn func(ctx context.Context, d time.Duration) error) *Dispatcher {
	d.sleep = fn
	return d
}

// NormalizeBaseURL turns a configured or requested callback base into an
// absolute URL without a trailing slash. A missing scheme means https.
func NormalizeBaseURL(raw string) (string, error) {
	base := strings.TrimSpace(raw)
	if base == "" {
		return "", &ConfigurationError{Field: "base_url", Msg: "webhook base URL is required"}
	}
	if !strings.Contains(base, "://") {
		base = "https://" + base
	}
	base = strings.TrimRight(base, "/")
	u, err := url.Parse(base)
	if err != nil || u.Host == "" {
		return "", &ConfigurationError{Field: "base_url", Msg: fmt.Sprintf("webhook base URL %q is not a valid URL", raw)}
	}
	return base, nil
}

// Pass is one sequence of paced call placements sharing a pass id.
type Pass struct {
	ID      string
	Kind    string
	BaseURL string

	d      *Dispatcher
	placed int
	start  time.Time
}

// Validate checks the callback base and credentials without placing calls.
// It returns the normalized base URL.
func (d *Dispatcher) Validate(baseURL string) (string, error) {
	base, err := NormalizeBaseURL(baseURL)
	if err != nil {
		return "", err
	}
	if d.client == nil {
		return "", &ConfigurationError{
			Field: "credentials",
			Msg:   "telephony credentials are not configured (TWILIO_ACCOUNT_SID, TWILIO_AUTH_TOKEN, TWILIO_PHONE_NUMBER)",
		}
	}
	return base, nil
}

// Begin validates the callback base and credentials and opens a pass.
func (d *Dispatcher) Begin(kind, baseURL string) (*Pass, error) {
	base, err := d.Validate(baseURL)
	if err != nil {
		return nil, err
	}
	return &Pass{
		ID:      uuid.NewString(),
		Kind:    kind,
		BaseURL: base,
		d:       d,
		start:   time.Now(),
	}, nil
}

// CallbackURL is the answer-phase URL for contact index.
func (p *Pass) CallbackURL(index int) string {
	return fmt.Sprintf("%s/voice/%d", p.BaseURL, index)
}

// Place calls one contact, waiting the pacing delay first unless this is
// the pass's first placement. The returned error is a
// *provider.CallPlacementError for provider failures, or the context error
// when the pass was canceled before placing.
func (p *Pass) Place(ctx context.Context, c models.Contact) error {
	if p.placed > 0 && p.d.pacing > 0 {
		if err := p.d.sleep(ctx, p.d.pacing); err != nil {
			return err
		}
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	p.placed++

	if !strings.HasPrefix(c.MobileNumber, "+") {
		log.Printf("dispatch: warning: %s (%s) is not in E.164 format (+<country><number>)", c.Name, c.MobileNumber)
	}

	attempt := models.CallAttempt{
		ID:           uuid.NewString(),
		PassID:       p.ID,
		Kind:         p.Kind,
		ContactIndex: c.Index,
		MobileNumber: c.MobileNumber,
	}

	sid, err := p.d.client.PlaceCall(ctx, c.MobileNumber, p.CallbackURL(c.Index))
	if err != nil {
		var pe *provider.CallPlacementError
		if !errors.As(err, &pe) {
			pe = provider.NewPlacementError(c.MobileNumber, 0, err.Error(), err)
		}
		if pe.Unverified {
			log.Printf("dispatch: %s (%s) is not verified for this trial account; verify it at %s", c.Name, c.MobileNumber, provider.VerifyURL)
		} else {
			log.Printf("dispatch: calling %s at %s: %v", c.Name, c.MobileNumber, err)
		}
		attempt.Outcome = metrics.OutcomeFailed
		attempt.Unverified = pe.Unverified
		attempt.Error = pe.Error()
		p.record(ctx, attempt)
		return pe
	}

	log.Printf("dispatch: calling %s at %s (call %s)", c.Name, c.MobileNumber, sid)
	attempt.Outcome = metrics.OutcomePlaced
	attempt.CallSID = sid
	p.record(ctx, attempt)
	return nil
}

func (p *Pass) record(ctx context.Context, a models.CallAttempt) {
	if p.d.metrics != nil {
		p.d.metrics.CallPlaced(p.Kind, a.Outcome)
	}
	if p.d.attempts == nil {
		return
	}
	if err := p.d.attempts.RecordAttempt(context.WithoutCancel(ctx), a); err != nil {
		log.Printf("dispatch: record attempt for %s: %v", a.MobileNumber, err)
	}
}

// Finish reports the pass duration to the metrics sink.
func (p *Pass) Finish(r Report) {
	if p.d.metrics != nil {
		p.d.metrics.PassCompleted(p.Kind, time.Since(p.start), r.Successful, r.Failed)
	}
}

// Fail adds a failed placement of c to the report.
func (r *Report) Fail(c models.Contact, err error) {
	r.Failed++
	r.Missed = append(r.Missed, MissedEntry{Name: c.Name, MobileNumber: c.MobileNumber})
	detail := ErrorDetail{Row: c.Index, Number: c.MobileNumber, Message: err.Error()}
	var pe *provider.CallPlacementError
	if errors.As(err, &pe) {
		detail.Unverified = pe.Unverified
	}
	r.Errors = append(r.Errors, detail)
}

// Dispatch calls every eligible contact in index order. Contacts with a
// non-blank response are skipped. Provider failures are counted in the
// report, not returned. A canceled context stops the pass early and returns
// the partial report with the context error.
func (d *Dispatcher) Dispatch(ctx context.Context, contacts []models.Contact, baseURL string) (Report, error) {
	pass, err := d.Begin(metrics.KindDispatch, baseURL)
	if err != nil {
		return Report{}, err
	}
	report := NewReport(pass.ID)
	defer func() { pass.Finish(report) }()

	for _, c := range contacts {
		if !c.Eligible() {
			continue
		}
		err := pass.Place(ctx, c)
		switch {
		case err == nil:
			report.Successful++
		case IsPlacementError(err):
			report.Fail(c, err)
		default:
			report.Status = StatusStopped
			return report, fmt.Errorf("dispatch: pass %s stopped: %w", pass.ID, err)
		}
	}
	return report, nil
}

// IsPlacementError reports whether err is a provider rejection rather than
// a stopped pass.
func IsPlacementError(err error) bool {
	var pe *provider.CallPlacementError
	return errors.As(err, &pe)
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
