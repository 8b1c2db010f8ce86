package retry

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/zulandar/dropline/internal/dispatch"
	"github.com/zulandar/dropline/internal/ledger"
	"github.com/zulandar/dropline/internal/models"
	"github.com/zulandar/dropline/internal/provider"
	"github.com/zulandar/dropline/internal/testutil"
)

type fixture struct {
	store  *Store
	ledger *ledger.Store
	fake   *provider.Fake
	queue  *Queue
}

func newFixture(t *testing.T, contacts ...models.Contact) *fixture {
	t.Helper()
	gdb := testutil.NewDB(t)
	testutil.SeedContacts(t, gdb, contacts...)
	f := &fixture{
		store:  NewStore(gdb),
		ledger: ledger.New(gdb),
		fake:   &provider.Fake{Fail: map[string]error{}},
	}
	f.queue = NewQueue(f.store, f.ledger, dispatch.New(f.fake, 0))
	return f
}

func (f *fixture) seedMissed(t *testing.T, entries ...models.MissedCall) {
	t.Helper()
	if err := f.store.Replace(context.Background(), entries); err != nil {
		t.Fatalf("seed missed: %v", err)
	}
}

func numbers(entries []models.MissedCall) []string {
	out := make([]string, len(entries))
	for i, e := range entries {
		out[i] = e.MobileNumber
	}
	return out
}

func TestStore_ReplaceLoadClear(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	ok, err := f.store.Exists(ctx)
	if err != nil || ok {
		t.Fatalf("Exists on empty store = %v, %v", ok, err)
	}

	f.seedMissed(t, models.MissedCall{Name: "A", MobileNumber: "+1"}, models.MissedCall{Name: "B", MobileNumber: "+2"})
	f.seedMissed(t, models.MissedCall{Name: "C", MobileNumber: "+3", Reason: "busy"})

	got, err := f.store.Load(ctx)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if len(got) != 1 || got[0].MobileNumber != "+3" || got[0].Reason != "busy" {
		t.Errorf("Load after overwrite = %+v", got)
	}

	if err := f.store.Clear(ctx); err != nil {
		t.Fatalf("Clear: %v", err)
	}
	if ok, _ := f.store.Exists(ctx); ok {
		t.Error("Exists after Clear = true")
	}
}

func TestFromReport(t *testing.T) {
	r := dispatch.NewReport("p1")
	r.Fail(models.Contact{Index: 4, Name: "A", MobileNumber: "+1"}, errors.New("busy"))
	got := FromReport(r)
	if len(got) != 1 || got[0].Name != "A" || got[0].Reason != "busy" {
		t.Errorf("FromReport = %+v", got)
	}
}

func TestRetry_EmptyIsNoop(t *testing.T) {
	f := newFixture(t, models.Contact{Name: "A", MobileNumber: "+1"})
	report, err := f.queue.Retry(context.Background(), "")
	if err != nil {
		t.Fatalf("Retry: %v", err)
	}
	if report.Successful != 0 || report.Failed != 0 || len(f.fake.Placed()) != 0 {
		t.Errorf("report = %+v", report)
	}
}

func TestRetry_AllSucceedClearsStore(t *testing.T) {
	f := newFixture(t,
		models.Contact{Name: "A", MobileNumber: "+1"},
		models.Contact{Name: "B", MobileNumber: "+2"},
	)
	f.seedMissed(t, models.MissedCall{Name: "B", MobileNumber: "+2"})

	report, err := f.queue.Retry(context.Background(), "x.example")
	if err != nil {
		t.Fatalf("Retry: %v", err)
	}
	if report.Successful != 1 || report.Failed != 0 {
		t.Errorf("report = %+v", report)
	}
	placed := f.fake.Placed()
	if len(placed) != 1 || placed[0].CallbackURL != "https://x.example/voice/1" {
		t.Errorf("placed = %+v", placed)
	}
	if ok, _ := f.store.Exists(context.Background()); ok {
		t.Error("store not cleared after all retries succeeded")
	}
}

func TestRetry_KeepsExactlyTheFailures(t *testing.T) {
	f := newFixture(t,
		models.Contact{Name: "A", MobileNumber: "+1"},
		models.Contact{Name: "B", MobileNumber: "+2"},
		models.Contact{Name: "C", MobileNumber: "+3"},
	)
	f.fake.Fail["+3"] = errors.New("busy")
	f.seedMissed(t,
		models.MissedCall{Name: "A", MobileNumber: "+1"},
		models.MissedCall{Name: "C", MobileNumber: "+3"},
	)

	report, err := f.queue.Retry(context.Background(), "x.example")
	if err != nil {
		t.Fatalf("Retry: %v", err)
	}
	if report.Successful != 1 || report.Failed != 1 {
		t.Errorf("report = %+v", report)
	}
	got, _ := f.store.Load(context.Background())
	if nums := numbers(got); len(nums) != 1 || nums[0] != "+3" {
		t.Errorf("retained = %q, want [+3]", nums)
	}
	if got[0].Reason == "" {
		t.Error("failure reason not stored")
	}
}

func TestRetry_UnresolvedEntryKeptWithoutCall(t *testing.T) {
	f := newFixture(t, models.Contact{Name: "A", MobileNumber: "+1"})
	f.seedMissed(t, models.MissedCall{Name: "Gone", MobileNumber: "+9"})

	report, err := f.queue.Retry(context.Background(), "x.example")
	if err != nil {
		t.Fatalf("Retry: %v", err)
	}
	if len(f.fake.Placed()) != 0 {
		t.Errorf("calls placed: %+v", f.fake.Placed())
	}
	if report.Skipped != 1 {
		t.Errorf("Skipped = %d, want 1", report.Skipped)
	}
	got, _ := f.store.Load(context.Background())
	if nums := numbers(got); len(nums) != 1 || nums[0] != "+9" {
		t.Errorf("queue = %q, want unchanged [+9]", nums)
	}
}

func TestRetry_ResolvesByNumberNotIndex(t *testing.T) {
	f := newFixture(t,
		models.Contact{Name: "New first", MobileNumber: "+7"},
		models.Contact{Name: "B", MobileNumber: "+2"},
		models.Contact{Name: "B dup", MobileNumber: "+2"},
	)
	f.seedMissed(t, models.MissedCall{Name: "B", MobileNumber: "+2"})

	if _, err := f.queue.Retry(context.Background(), "x.example"); err != nil {
		t.Fatalf("Retry: %v", err)
	}
	placed := f.fake.Placed()
	if len(placed) != 1 || placed[0].CallbackURL != "https://x.example/voice/1" {
		t.Errorf("placed = %+v, want first match index 1", placed)
	}
}

func TestRetry_AnsweredContactDropped(t *testing.T) {
	f := newFixture(t, models.Contact{Name: "A", MobileNumber: "+1", Response: "https://r/RE1"})
	f.seedMissed(t, models.MissedCall{Name: "A", MobileNumber: "+1"})

	report, err := f.queue.Retry(context.Background(), "x.example")
	if err != nil {
		t.Fatalf("Retry: %v", err)
	}
	if report.Answered != 1 || len(f.fake.Placed()) != 0 {
		t.Errorf("report = %+v placed = %d", report, len(f.fake.Placed()))
	}
	if ok, _ := f.store.Exists(context.Background()); ok {
		t.Error("answered entry kept in queue")
	}
}

func TestRetry_ConfigurationErrorLeavesStore(t *testing.T) {
	f := newFixture(t, models.Contact{Name: "A", MobileNumber: "+1"})
	f.seedMissed(t, models.MissedCall{Name: "A", MobileNumber: "+1"})

	_, err := f.queue.Retry(context.Background(), "")
	var cfgErr *dispatch.ConfigurationError
	if !errors.As(err, &cfgErr) {
		t.Fatalf("err = %v, want ConfigurationError", err)
	}
	got, _ := f.store.Load(context.Background())
	if len(got) != 1 {
		t.Errorf("store changed: %+v", got)
	}
}

func TestRetry_CanceledKeepsUnattempted(t *testing.T) {
	gdb := testutil.NewDB(t)
	testutil.SeedContacts(t, gdb,
		models.Contact{Name: "A", MobileNumber: "+1"},
		models.Contact{Name: "B", MobileNumber: "+2"},
	)
	store := NewStore(gdb)
	fake := &provider.Fake{}
	ctx, cancel := context.WithCancel(context.Background())
	d := dispatch.New(fake, time.Second).WithSleep(func(ctx context.Context, _ time.Duration) error {
		cancel()
		return ctx.Err()
	})
	q := NewQueue(store, ledger.New(gdb), d)
	if err := store.Replace(context.Background(), []models.MissedCall{
		{Name: "A", MobileNumber: "+1"},
		{Name: "B", MobileNumber: "+2"},
	}); err != nil {
		t.Fatal(err)
	}

	_, err := q.Retry(ctx, "x.example")
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("err = %v, want context.Canceled", err)
	}
	got, _ := store.Load(context.Background())
	if nums := numbers(got); len(nums) != 1 || nums[0] != "+2" {
		t.Errorf("retained = %q, want [+2]", nums)
	}
}

type sizeRecorder struct{ last int }

func (s *sizeRecorder) MissedQueueSize(n int) { s.last = n }

func TestRetry_ReportsQueueSize(t *testing.T) {
	f := newFixture(t, models.Contact{Name: "A", MobileNumber: "+1"})
	f.fake.Fail["+1"] = errors.New("busy")
	f.seedMissed(t, models.MissedCall{Name: "A", MobileNumber: "+1"})
	sr := &sizeRecorder{last: -1}
	f.queue.WithMetrics(sr)

	if _, err := f.queue.Retry(context.Background(), "x.example"); err != nil {
		t.Fatalf("Retry: %v", err)
	}
	if sr.last != 1 {
		t.Errorf("queue size = %d, want 1", sr.last)
	}
}

func TestSchedule_InvalidExpression(t *testing.T) {
	if err := Schedule(context.Background(), "not cron", func(context.Context) {}); err == nil {
		t.Fatal("expected error for invalid expression")
	}
}

func TestSchedule_StopsOnCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- Schedule(ctx, "0 0 1 1 *", func(context.Context) {}) }()
	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Errorf("Schedule: %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Schedule did not return after cancel")
	}
}

func TestUntil(t *testing.T) {
	sched, err := cronParser.Parse("30 * * * *")
	if err != nil {
		t.Fatal(err)
	}
	now := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	if got := until(sched, now); got != 30*time.Minute {
		t.Errorf("until = %s, want 30m", got)
	}
}
