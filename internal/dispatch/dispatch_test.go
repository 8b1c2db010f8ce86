package dispatch

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/zulandar/dropline/internal/models"
	"github.com/zulandar/dropline/internal/provider"
	"github.com/zulandar/dropline/internal/testutil"
)

type recordingSleep struct {
	mu    sync.Mutex
	waits []time.Duration
}

func (r *recordingSleep) sleep(_ context.Context, d time.Duration) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.waits = append(r.waits, d)
	return nil
}

type memAttempts struct {
	mu   sync.Mutex
	rows []models.CallAttempt
	err  error
}

func (m *memAttempts) RecordAttempt(_ context.Context, a models.CallAttempt) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.rows = append(m.rows, a)
	return m.err
}

type countingMetrics struct {
	calls  map[string]int
	passes int
}

func (c *countingMetrics) CallPlaced(kind, outcome string) {
	if c.calls == nil {
		c.calls = map[string]int{}
	}
	c.calls[kind+"/"+outcome]++
}

func (c *countingMetrics) PassCompleted(string, time.Duration, int, int) { c.passes++ }

func TestNormalizeBaseURL(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"abc.ngrok-free.app", "https://abc.ngrok-free.app"},
		{"https://abc.ngrok-free.app/", "https://abc.ngrok-free.app"},
		{"  http://localhost:5000//  ", "http://localhost:5000"},
		{"https://calls.example.com/hooks", "https://calls.example.com/hooks"},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := NormalizeBaseURL(tt.in)
			if err != nil {
				t.Fatalf("NormalizeBaseURL: %v", err)
			}
			if got != tt.want {
				t.Errorf("got %q, want %q", got, tt.want)
			}
		})
	}
}

func TestNormalizeBaseURL_Empty(t *testing.T) {
	for _, in := range []string{"", "   ", "https://"} {
		_, err := NormalizeBaseURL(in)
		var cfgErr *ConfigurationError
		if !errors.As(err, &cfgErr) {
			t.Fatalf("NormalizeBaseURL(%q) err = %v, want ConfigurationError", in, err)
		}
		if !cfgErr.MissingBaseURL() {
			t.Errorf("Field = %q, want base_url", cfgErr.Field)
		}
	}
}

func TestDispatch_NoCredentials(t *testing.T) {
	d := New(nil, 0)
	_, err := d.Dispatch(context.Background(), []models.Contact{{Name: "Ann", MobileNumber: "+1"}}, "x.example")
	var cfgErr *ConfigurationError
	if !errors.As(err, &cfgErr) {
		t.Fatalf("err = %v, want ConfigurationError", err)
	}
	if cfgErr.Field != "credentials" {
		t.Errorf("Field = %q, want credentials", cfgErr.Field)
	}
}

func TestDispatch_NoBaseURLBeforeCredentials(t *testing.T) {
	fake := &provider.Fake{}
	_, err := New(fake, 0).Dispatch(context.Background(), []models.Contact{{Name: "Ann", MobileNumber: "+1"}}, "")
	var cfgErr *ConfigurationError
	if !errors.As(err, &cfgErr) || !cfgErr.MissingBaseURL() {
		t.Fatalf("err = %v, want base_url ConfigurationError", err)
	}
	if len(fake.Placed()) != 0 {
		t.Error("calls placed despite configuration error")
	}
}

func TestDispatch_ThreeContactScenario(t *testing.T) {
	contacts := []models.Contact{
		{Index: 0, Name: "Ann", MobileNumber: "+15550000001", Response: "https://r/RE0"},
		{Index: 1, Name: "Bob", MobileNumber: "+15550000002"},
		{Index: 2, Name: "Cy", MobileNumber: "+15550000003"},
	}
	fake := &provider.Fake{Fail: map[string]error{
		"+15550000003": provider.NewPlacementError("+15550000003", 21211, "Invalid 'To' Phone Number", nil),
	}}
	sl := &recordingSleep{}
	log := &memAttempts{}
	m := &countingMetrics{}
	d := New(fake, 2*time.Second).WithSleep(sl.sleep).WithAttempts(log).WithMetrics(m)

	report, err := d.Dispatch(context.Background(), contacts, "abc.ngrok-free.app/")
	if err != nil {
		t.Fatalf("Dispatch: %v", err)
	}
	if report.Status != "completed" {
		t.Errorf("Status = %q", report.Status)
	}
	if report.Successful != 1 || report.Failed != 1 {
		t.Errorf("successful=%d failed=%d, want 1/1", report.Successful, report.Failed)
	}
	if len(report.Missed) != 1 || report.Missed[0] != (MissedEntry{Name: "Cy", MobileNumber: "+15550000003"}) {
		t.Errorf("Missed = %+v", report.Missed)
	}
	if len(report.Errors) != 1 || report.Errors[0].Row != 2 || report.Errors[0].Number != "+15550000003" {
		t.Errorf("Errors = %+v", report.Errors)
	}

	placed := fake.Placed()
	if len(placed) != 2 {
		t.Fatalf("placed = %+v, want 2 calls", placed)
	}
	if placed[0].CallbackURL != "https://abc.ngrok-free.app/voice/1" {
		t.Errorf("callback = %q", placed[0].CallbackURL)
	}
	if placed[1].CallbackURL != "https://abc.ngrok-free.app/voice/2" {
		t.Errorf("callback = %q", placed[1].CallbackURL)
	}
	if len(sl.waits) != 1 || sl.waits[0] != 2*time.Second {
		t.Errorf("waits = %v, want one 2s wait between placements", sl.waits)
	}
	if len(log.rows) != 2 || log.rows[0].Outcome != "placed" || log.rows[1].Outcome != "failed" {
		t.Errorf("attempts = %+v", log.rows)
	}
	if log.rows[0].PassID != report.PassID || log.rows[0].CallSID == "" {
		t.Errorf("attempt[0] = %+v", log.rows[0])
	}
	if m.calls["dispatch/placed"] != 1 || m.calls["dispatch/failed"] != 1 || m.passes != 1 {
		t.Errorf("metrics = %+v passes=%d", m.calls, m.passes)
	}
}

func TestDispatch_Idempotent(t *testing.T) {
	contacts := []models.Contact{
		{Index: 0, Name: "Ann", MobileNumber: "+1", Response: "https://r/RE0"},
		{Index: 1, Name: "Bob", MobileNumber: "+2", Response: "https://r/RE1"},
	}
	fake := &provider.Fake{}
	d := New(fake, 0)
	for i := 0; i < 3; i++ {
		report, err := d.Dispatch(context.Background(), contacts, "x.example")
		if err != nil {
			t.Fatalf("Dispatch: %v", err)
		}
		if report.Successful != 0 || report.Failed != 0 {
			t.Errorf("pass %d report = %+v", i, report)
		}
	}
	if len(fake.Placed()) != 0 {
		t.Errorf("answered contacts called: %+v", fake.Placed())
	}
}

func TestDispatch_OneAttemptPerEligibleContact(t *testing.T) {
	contacts := []models.Contact{
		{Index: 0, Name: "A", MobileNumber: "+1"},
		{Index: 1, Name: "B", MobileNumber: "+2", Response: " "},
		{Index: 2, Name: "C", MobileNumber: "+3", Response: "https://r"},
		{Index: 3, Name: "D", MobileNumber: "+4"},
	}
	fake := &provider.Fake{}
	if _, err := New(fake, 0).Dispatch(context.Background(), contacts, "x.example"); err != nil {
		t.Fatalf("Dispatch: %v", err)
	}
	seen := map[string]int{}
	for _, c := range fake.Placed() {
		seen[c.To]++
	}
	for _, n := range []string{"+1", "+2", "+4"} {
		if seen[n] != 1 {
			t.Errorf("calls to %s = %d, want 1", n, seen[n])
		}
	}
	if seen["+3"] != 0 {
		t.Error("contact with response was called")
	}
}

func TestDispatch_UnverifiedNumber(t *testing.T) {
	fake := &provider.Fake{Fail: map[string]error{
		"+15559999999": provider.NewPlacementError("+15559999999", provider.CodeUnverifiedNumber, "unverified", nil),
	}}
	report, err := New(fake, 0).Dispatch(context.Background(),
		[]models.Contact{{Index: 0, Name: "Ann", MobileNumber: "+15559999999"}}, "x.example")
	if err != nil {
		t.Fatalf("Dispatch: %v", err)
	}
	if report.Failed != 1 || len(report.Missed) != 1 {
		t.Errorf("report = %+v", report)
	}
	if !report.Errors[0].Unverified {
		t.Error("Unverified flag not set")
	}
	if got := report.Unverified(); len(got) != 1 || got[0] != "+15559999999" {
		t.Errorf("Unverified() = %q", got)
	}
}

func TestDispatch_PlainProviderErrorIsWrapped(t *testing.T) {
	fake := &provider.Fake{Fail: map[string]error{"+1": errors.New("boom")}}
	report, err := New(fake, 0).Dispatch(context.Background(),
		[]models.Contact{{Index: 0, Name: "Ann", MobileNumber: "+1"}}, "x.example")
	if err != nil {
		t.Fatalf("Dispatch: %v", err)
	}
	if report.Failed != 1 || report.Errors[0].Message == "" {
		t.Errorf("report = %+v", report)
	}
}

func TestDispatch_CanceledStopsPass(t *testing.T) {
	fake := &provider.Fake{}
	ctx, cancel := context.WithCancel(context.Background())
	d := New(fake, time.Second).WithSleep(func(ctx context.Context, _ time.Duration) error {
		cancel()
		return ctx.Err()
	})
	contacts := []models.Contact{
		{Index: 0, Name: "A", MobileNumber: "+1"},
		{Index: 1, Name: "B", MobileNumber: "+2"},
	}
	report, err := d.Dispatch(ctx, contacts, "x.example")
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("err = %v, want context.Canceled", err)
	}
	if report.Successful != 1 || len(fake.Placed()) != 1 {
		t.Errorf("report = %+v placed = %d", report, len(fake.Placed()))
	}
	if report.Status != StatusStopped {
		t.Errorf("Status = %q, want %q", report.Status, StatusStopped)
	}
}

func TestDispatch_AttemptLogFailureIsNotFatal(t *testing.T) {
	fake := &provider.Fake{}
	d := New(fake, 0).WithAttempts(&memAttempts{err: errors.New("disk full")})
	report, err := d.Dispatch(context.Background(), []models.Contact{{Name: "A", MobileNumber: "+1"}}, "x.example")
	if err != nil {
		t.Fatalf("Dispatch: %v", err)
	}
	if report.Successful != 1 {
		t.Errorf("Successful = %d", report.Successful)
	}
}

func TestAttemptLog(t *testing.T) {
	gdb := testutil.NewDB(t)
	l := NewAttemptLog(gdb)
	d := New(&provider.Fake{}, 0).WithAttempts(l)

	report, err := d.Dispatch(context.Background(), []models.Contact{
		{Index: 0, Name: "A", MobileNumber: "+1"},
		{Index: 1, Name: "B", MobileNumber: "+2"},
	}, "x.example")
	if err != nil {
		t.Fatalf("Dispatch: %v", err)
	}

	rows, err := l.Pass(context.Background(), report.PassID)
	if err != nil {
		t.Fatalf("Pass: %v", err)
	}
	if len(rows) != 2 || rows[0].Kind != "dispatch" {
		t.Errorf("rows = %+v", rows)
	}
	recent, err := l.Recent(context.Background(), 1)
	if err != nil {
		t.Fatalf("Recent: %v", err)
	}
	if len(recent) != 1 {
		t.Errorf("Recent(1) = %d rows", len(recent))
	}
}
