package webhook

import (
	"context"
	"errors"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/zulandar/dropline/internal/ledger"
	"github.com/zulandar/dropline/internal/models"
	"github.com/zulandar/dropline/internal/provider"
	"github.com/zulandar/dropline/internal/testutil"
	"github.com/zulandar/dropline/internal/transcribe"
)

type fakeTranscriber struct {
	mu    sync.Mutex
	calls []string
	out   transcribe.Outcome
}

func (f *fakeTranscriber) FetchAndTranscribe(_ context.Context, _ int, url string) transcribe.Outcome {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, url)
	return f.out
}

func (f *fakeTranscriber) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

var script = provider.ScriptOpts{Company: "Predelix", Voice: "alice", RecordMaxLength: 30}

func newMachine(t *testing.T, tr Transcriber, contacts ...models.Contact) (*Machine, *ledger.Store) {
	t.Helper()
	gdb := testutil.NewDB(t)
	testutil.SeedContacts(t, gdb, contacts...)
	store := ledger.New(gdb)
	return NewMachine(store, tr, script), store
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func TestAnswer(t *testing.T) {
	m, store := newMachine(t, &fakeTranscriber{},
		models.Contact{Name: "Ann", MobileNumber: "+1"},
		models.Contact{Name: "Bob", MobileNumber: "+2"},
	)
	doc, err := m.Answer(context.Background(), 1, "abc.ngrok-free.app/")
	if err != nil {
		t.Fatalf("Answer: %v", err)
	}
	if !strings.Contains(doc, `action="https://abc.ngrok-free.app/recording/1"`) {
		t.Errorf("script missing recording action:\n%s", doc)
	}
	if !strings.Contains(doc, "Predelix") {
		t.Errorf("script missing company:\n%s", doc)
	}
	c, _ := store.Get(context.Background(), 1)
	if c.State() != models.StatePending {
		t.Errorf("Answer changed state to %q", c.State())
	}
}

func TestAnswer_UnknownIndex(t *testing.T) {
	m, _ := newMachine(t, &fakeTranscriber{}, models.Contact{Name: "Ann", MobileNumber: "+1"})
	_, err := m.Answer(context.Background(), 5, "x.example")
	var unknown *ledger.UnknownContactError
	if !errors.As(err, &unknown) {
		t.Fatalf("err = %v, want UnknownContactError", err)
	}
}

func TestRecord_EmptyURL(t *testing.T) {
	tr := &fakeTranscriber{}
	m, store := newMachine(t, tr, models.Contact{Name: "Ann", MobileNumber: "+1"})
	var mirrored int32
	m.WithMirror(func(context.Context) error {
		atomic.AddInt32(&mirrored, 1)
		return nil
	})

	doc, err := m.Record(context.Background(), 0, ledger.Recording{URL: "", Duration: "0", SID: ""})
	if err != nil {
		t.Fatalf("Record: %v", err)
	}
	if !strings.Contains(doc, "Your response has been recorded") {
		t.Errorf("ack = %s", doc)
	}
	c, _ := store.Get(context.Background(), 0)
	if c.Response != "" || c.Transcription != ledger.NoRecordingURL {
		t.Errorf("contact = %+v", c)
	}
	if tr.count() != 0 {
		t.Error("pipeline invoked for empty URL")
	}
	if atomic.LoadInt32(&mirrored) == 0 {
		t.Error("output dataset not refreshed")
	}
}

func TestRecord_TranscribesAsynchronously(t *testing.T) {
	tr := &fakeTranscriber{out: transcribe.Outcome{Transcription: "after 5pm", Status: transcribe.StatusTranscribed}}
	m, store := newMachine(t, tr, models.Contact{Name: "Ann", MobileNumber: "+1"})
	pool := m.NewPoolFor(2, 4)
	pool.Start()
	defer pool.Stop(time.Second)

	rec := ledger.Recording{URL: "https://api.twilio.com/rec/RE1", Duration: "6", SID: "RE1"}
	if _, err := m.Record(context.Background(), 0, rec); err != nil {
		t.Fatalf("Record: %v", err)
	}

	waitFor(t, "transcription", func() bool {
		c, err := store.Get(context.Background(), 0)
		return err == nil && c.State() == models.StateTranscribed
	})
	c, _ := store.Get(context.Background(), 0)
	if c.Transcription != "after 5pm" || c.Response != rec.URL || c.RecordingSID != "RE1" {
		t.Errorf("contact = %+v", c)
	}
	if tr.count() != 1 || tr.calls[0] != rec.URL {
		t.Errorf("pipeline calls = %q", tr.calls)
	}
}

// gatedTranscriber blocks on the first recording until gate is closed and
// echoes the recording URL as the transcription.
type gatedTranscriber struct {
	first   string
	started chan struct{}
	gate    chan struct{}
}

func (g *gatedTranscriber) FetchAndTranscribe(_ context.Context, _ int, url string) transcribe.Outcome {
	if url == g.first {
		close(g.started)
		<-g.gate
	}
	return transcribe.Outcome{Transcription: "heard " + url, Status: transcribe.StatusTranscribed}
}

func TestRecord_NewRecordingWhileTranscribing(t *testing.T) {
	tr := &gatedTranscriber{first: "https://r/A", started: make(chan struct{}), gate: make(chan struct{})}
	m, store := newMachine(t, tr, models.Contact{Name: "Ann", MobileNumber: "+1"})
	pool := m.NewPoolFor(2, 4)
	pool.Start()
	defer pool.Stop(time.Second)

	if _, err := m.Record(context.Background(), 0, ledger.Recording{URL: "https://r/A", SID: "REA"}); err != nil {
		t.Fatalf("Record(A): %v", err)
	}
	<-tr.started
	if _, err := m.Record(context.Background(), 0, ledger.Recording{URL: "https://r/B", SID: "REB"}); err != nil {
		t.Fatalf("Record(B): %v", err)
	}
	close(tr.gate)

	waitFor(t, "transcription of the newer recording", func() bool {
		c, err := store.Get(context.Background(), 0)
		return err == nil && c.State() == models.StateTranscribed
	})
	c, _ := store.Get(context.Background(), 0)
	if c.Response != "https://r/B" || c.Transcription != "heard https://r/B" {
		t.Errorf("contact = %+v", c)
	}
	waitFor(t, "pool release", func() bool { return !pool.Busy(0) })
}

func TestRecord_SentinelIsTerminal(t *testing.T) {
	tr := &fakeTranscriber{out: transcribe.Outcome{Transcription: ledger.AudioDownloadFailed, Status: transcribe.StatusDownloadFailed}}
	m, store := newMachine(t, tr, models.Contact{Name: "Ann", MobileNumber: "+1"})
	pool := m.NewPoolFor(1, 1)
	pool.Start()
	defer pool.Stop(time.Second)

	if _, err := m.Record(context.Background(), 0, ledger.Recording{URL: "https://r/RE1"}); err != nil {
		t.Fatalf("Record: %v", err)
	}
	waitFor(t, "sentinel", func() bool {
		c, _ := store.Get(context.Background(), 0)
		return c != nil && c.Transcription == ledger.AudioDownloadFailed
	})
}

func TestRecord_AlreadyTranscribed(t *testing.T) {
	tr := &fakeTranscriber{}
	m, store := newMachine(t, tr, models.Contact{
		Name: "Ann", MobileNumber: "+1", Response: "https://r/RE1", Transcription: "morning",
	})
	doc, err := m.Record(context.Background(), 0, ledger.Recording{URL: "https://r/RE2"})
	if err != nil {
		t.Fatalf("Record: %v", err)
	}
	if !strings.Contains(doc, "<Say>") {
		t.Errorf("ack = %s", doc)
	}
	c, _ := store.Get(context.Background(), 0)
	if c.Response != "https://r/RE1" || c.Transcription != "morning" {
		t.Errorf("terminal contact mutated: %+v", c)
	}
}

func TestRecord_UnknownIndex(t *testing.T) {
	m, _ := newMachine(t, &fakeTranscriber{})
	_, err := m.Record(context.Background(), 3, ledger.Recording{URL: "https://r/RE1"})
	var unknown *ledger.UnknownContactError
	if !errors.As(err, &unknown) {
		t.Fatalf("err = %v, want UnknownContactError", err)
	}
}

func TestTranscribe_CanceledLeavesRecordingReceived(t *testing.T) {
	tr := &fakeTranscriber{out: transcribe.Outcome{Status: transcribe.StatusCanceled}}
	m, store := newMachine(t, tr, models.Contact{Name: "Ann", MobileNumber: "+1", Response: "https://r/RE1"})

	m.Transcribe(context.Background(), 0)
	c, _ := store.Get(context.Background(), 0)
	if c.State() != models.StateRecordingReceived {
		t.Errorf("State = %q, want recording_received", c.State())
	}
}

func TestRecover(t *testing.T) {
	tr := &fakeTranscriber{out: transcribe.Outcome{Transcription: "noon", Status: transcribe.StatusTranscribed}}
	m, store := newMachine(t, tr,
		models.Contact{Name: "Ann", MobileNumber: "+1"},
		models.Contact{Name: "Bob", MobileNumber: "+2", Response: "https://r/RE2"},
		models.Contact{Name: "Cy", MobileNumber: "+3", Response: "https://r/RE3", Transcription: "done"},
	)
	pool := m.NewPoolFor(1, 4)
	pool.Start()
	defer pool.Stop(time.Second)

	n, err := m.Recover(context.Background())
	if err != nil {
		t.Fatalf("Recover: %v", err)
	}
	if n != 1 {
		t.Errorf("queued = %d, want 1", n)
	}
	waitFor(t, "recovered transcription", func() bool {
		c, _ := store.Get(context.Background(), 1)
		return c != nil && c.Transcription == "noon"
	})
	if tr.count() != 1 {
		t.Errorf("pipeline calls = %d, want 1", tr.count())
	}
}

func TestRecover_NoPool(t *testing.T) {
	m, _ := newMachine(t, &fakeTranscriber{})
	if _, err := m.Recover(context.Background()); err == nil {
		t.Fatal("expected error without pool")
	}
}
