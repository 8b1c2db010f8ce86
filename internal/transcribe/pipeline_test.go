package transcribe

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/zulandar/dropline/internal/ledger"
)

type fakeDownloader struct {
	mu    sync.Mutex
	urls  []string
	files map[string][]byte
}

func (f *fakeDownloader) Download(_ context.Context, url string) ([]byte, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.urls = append(f.urls, url)
	if data, ok := f.files[url]; ok {
		return data, nil
	}
	return nil, errors.New("HTTP 404")
}

type fakeRecognizer struct {
	text  string
	err   error
	names []string
}

func (f *fakeRecognizer) Recognize(_ context.Context, _ []byte, name string) (string, error) {
	f.names = append(f.names, name)
	return f.text, f.err
}

func noSleep(context.Context, time.Duration) error { return nil }

func TestFetchAndTranscribe_EmptyURLNoNetwork(t *testing.T) {
	d := &fakeDownloader{}
	slept := false
	p := New(d, &fakeRecognizer{}, Options{GracePeriod: time.Hour}).
		WithSleep(func(context.Context, time.Duration) error { slept = true; return nil })

	out := p.FetchAndTranscribe(context.Background(), 0, "  ")
	if out.Transcription != ledger.NoRecordingURL || out.Status != StatusNoURL {
		t.Errorf("out = %+v", out)
	}
	if len(d.urls) != 0 {
		t.Errorf("download attempted: %q", d.urls)
	}
	if slept {
		t.Error("grace period waited for an empty URL")
	}
}

func TestFetchAndTranscribe_FormatOrderStopsAtFirstSuccess(t *testing.T) {
	d := &fakeDownloader{files: map[string][]byte{
		"https://r/RE1.mp3": []byte("mp3"),
		"https://r/RE1":     []byte("raw"),
	}}
	r := &fakeRecognizer{text: "after five please"}
	p := New(d, r, Options{}).WithSleep(noSleep)

	out := p.FetchAndTranscribe(context.Background(), 3, "https://r/RE1")
	want := []string{"https://r/RE1.wav", "https://r/RE1.mp3"}
	if len(d.urls) != len(want) {
		t.Fatalf("urls = %q, want %q", d.urls, want)
	}
	for i := range want {
		if d.urls[i] != want[i] {
			t.Errorf("urls[%d] = %q, want %q", i, d.urls[i], want[i])
		}
	}
	if out.Status != StatusTranscribed || out.Transcription != "after five please" {
		t.Errorf("out = %+v", out)
	}
	if out.Format != ".mp3" || out.Bytes != 3 {
		t.Errorf("format/bytes = %q/%d", out.Format, out.Bytes)
	}
	if len(r.names) != 1 || r.names[0] != "recording_3.mp3" {
		t.Errorf("recognizer names = %q", r.names)
	}
}

func TestFetchAndTranscribe_AllDownloadsFail(t *testing.T) {
	d := &fakeDownloader{}
	r := &fakeRecognizer{text: "unused"}
	p := New(d, r, Options{}).WithSleep(noSleep)

	out := p.FetchAndTranscribe(context.Background(), 0, "https://r/RE2")
	if out.Transcription != ledger.AudioDownloadFailed {
		t.Errorf("Transcription = %q, want %q", out.Transcription, ledger.AudioDownloadFailed)
	}
	want := []string{"https://r/RE2.wav", "https://r/RE2.mp3", "https://r/RE2"}
	if len(d.urls) != 3 {
		t.Fatalf("urls = %q, want %q", d.urls, want)
	}
	for i := range want {
		if d.urls[i] != want[i] {
			t.Errorf("urls[%d] = %q, want %q", i, d.urls[i], want[i])
		}
	}
	if len(r.names) != 0 {
		t.Error("recognizer called without audio")
	}
}

func TestFetchAndTranscribe_RecognitionFailedKeepsAudio(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "audio")
	d := &fakeDownloader{files: map[string][]byte{"https://r/RE3": []byte("raw")}}
	r := &fakeRecognizer{err: errors.New("unsupported format")}
	p := New(d, r, Options{AudioDir: dir}).WithSleep(noSleep)

	out := p.FetchAndTranscribe(context.Background(), 2, "https://r/RE3")
	if out.Transcription != ledger.SpeechRecognitionFailed || out.Status != StatusRecognitionFailed {
		t.Errorf("out = %+v", out)
	}
	data, err := os.ReadFile(filepath.Join(dir, "recording_2.audio"))
	if err != nil {
		t.Fatalf("audio not retained: %v", err)
	}
	if string(data) != "raw" {
		t.Errorf("audio = %q", data)
	}
}

func TestFetchAndTranscribe_BlankTextIsRecognitionFailure(t *testing.T) {
	d := &fakeDownloader{files: map[string][]byte{"https://r/RE4.wav": []byte("wav")}}
	p := New(d, &fakeRecognizer{text: "  "}, Options{}).WithSleep(noSleep)

	out := p.FetchAndTranscribe(context.Background(), 0, "https://r/RE4")
	if out.Transcription != ledger.SpeechRecognitionFailed {
		t.Errorf("Transcription = %q", out.Transcription)
	}
}

func TestFetchAndTranscribe_WaitsGracePeriod(t *testing.T) {
	var waited time.Duration
	d := &fakeDownloader{files: map[string][]byte{"https://r/RE5.wav": []byte("wav")}}
	p := New(d, &fakeRecognizer{text: "ok"}, Options{GracePeriod: 7 * time.Second}).
		WithSleep(func(_ context.Context, dur time.Duration) error {
			waited = dur
			return nil
		})

	p.FetchAndTranscribe(context.Background(), 0, "https://r/RE5")
	if waited != 7*time.Second {
		t.Errorf("waited = %s, want 7s", waited)
	}
}

func TestFetchAndTranscribe_CanceledDuringGrace(t *testing.T) {
	d := &fakeDownloader{}
	p := New(d, &fakeRecognizer{}, Options{GracePeriod: time.Hour})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	out := p.FetchAndTranscribe(ctx, 0, "https://r/RE6")
	if out.Status != StatusCanceled || out.Transcription != "" {
		t.Errorf("out = %+v", out)
	}
	if len(d.urls) != 0 {
		t.Error("download attempted after cancel")
	}
}

func TestAudioRetrievalError(t *testing.T) {
	err := &AudioRetrievalError{URL: "u", Attempts: []error{errors.New("a"), errors.New("b")}}
	if got := err.Error(); got != "transcribe: download u: a; b" {
		t.Errorf("Error() = %q", got)
	}
}
