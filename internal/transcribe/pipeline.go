// Package transcribe fetches a call recording from the telephony provider
// and turns it into text. Every failure becomes a sentinel transcription so
// the caller always has a value to store.
package transcribe

import (
	"context"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/zulandar/dropline/internal/ledger"
)

// Outcome statuses.
const (
	StatusTranscribed       = "transcribed"
	StatusNoURL             = "no_url"
	StatusDownloadFailed    = "download_failed"
	StatusRecognitionFailed = "recognition_failed"
	// StatusCanceled means the context ended before a result was produced.
	// The transcription is empty and must not be stored.
	StatusCanceled = "canceled"
)

// Outcome is the result of one FetchAndTranscribe call.
type Outcome struct {
	Transcription string
	Status        string
	Format        string // suffix that downloaded, "" when none or bare URL
	Bytes         int
}

// Downloader retrieves recording audio.
type Downloader interface {
	Download(ctx context.Context, url string) ([]byte, error)
}

// Recognizer converts audio to text. filename carries the container hint.
type Recognizer interface {
	Recognize(ctx context.Context, audio []byte, filename string) (string, error)
}

// AudioRetrievalError reports that no format of a recording could be
// downloaded.
type AudioRetrievalError struct {
	URL      string
	Attempts []error
}

func (e *AudioRetrievalError) Error() string {
	msgs := make([]string, len(e.Attempts))
	for i, err := range e.Attempts {
		msgs[i] = err.Error()
	}
	return fmt.Sprintf("transcribe: download %s: %s", e.URL, strings.Join(msgs, "; "))
}

// TranscriptionError reports a speech recognition failure.
type TranscriptionError struct {
	Err error
}

func (e *TranscriptionError) Error() string {
	return fmt.Sprintf("transcribe: recognize: %v", e.Err)
}

func (e *TranscriptionError) Unwrap() error { return e.Err }

// Options tune a Pipeline. Zero values take the defaults.
type Options struct {
	GracePeriod time.Duration
	Formats     []string
	// AudioDir, when set, keeps each downloaded recording on disk as
	// recording_<index><ext>.
	AudioDir string
}

// DefaultGracePeriod is how long the provider is given to finish writing a
// recording before the first download.
const DefaultGracePeriod = 7 * time.Second

// Pipeline downloads and transcribes recordings.
type Pipeline struct {
	downloader Downloader
	recognizer Recognizer
	grace      time.Duration
	formats    []string
	audioDir   string
	sleep      func(ctx context.Context, d time.Duration) error
}

// New creates a Pipeline. A nil Formats slice uses .wav, .mp3, then the bare
// URL.
func New(d Downloader, r Recognizer, opts Options) *Pipeline {
	formats := opts.Formats
	if formats == nil {
		formats = []string{".wav", ".mp3", ""}
	}
	grace := opts.GracePeriod
	if grace < 0 {
		grace = 0
	}
	return &Pipeline{
		downloader: d,
		recognizer: r,
		grace:      grace,
		formats:    formats,
		audioDir:   opts.AudioDir,
		sleep:      sleepCtx,
	}
}

// WithSleep replaces the grace-period wait. Used by tests.
func (p *Pipeline) WithSleep(fn func(ctx context.Context, d time.Duration) error) *Pipeline {
	p.sleep = fn
	return p
}

// FetchAndTranscribe resolves the recording for contact index into a
// transcription. It never returns an error: failures map to the ledger
// sentinels.
func (p *Pipeline) FetchAndTranscribe(ctx context.Context, index int, recordingURL string) Outcome {
	recordingURL = strings.TrimSpace(recordingURL)
	if recordingURL == "" {
		return Outcome{Transcription: ledger.NoRecordingURL, Status: StatusNoURL}
	}

	if p.grace > 0 {
		if err := p.sleep(ctx, p.grace); err != nil {
			return Outcome{Status: StatusCanceled}
		}
	}

	audio, format, err := p.download(ctx, recordingURL)
	if err != nil {
		if ctx.Err() != nil {
			return Outcome{Status: StatusCanceled}
		}
		log.Printf("transcribe: contact %d: %v", index, err)
		return Outcome{Transcription: ledger.AudioDownloadFailed, Status: StatusDownloadFailed}
	}
	p.keep(index, format, audio)

	out := Outcome{Format: format, Bytes: len(audio)}
	text, err := p.recognize(ctx, audio, filename(index, format))
	if err != nil {
		if ctx.Err() != nil {
			return Outcome{Status: StatusCanceled}
		}
		log.Printf("transcribe: contact %d: %v", index, err)
		out.Transcription = ledger.SpeechRecognitionFailed
		out.Status = StatusRecognitionFailed
		return out
	}
	out.Transcription = text
	out.Status = StatusTranscribed
	return out
}

// download tries each format suffix in order; the first success wins.
func (p *Pipeline) download(ctx context.Context, recordingURL string) ([]byte, string, error) {
	retrievalErr := &AudioRetrievalError{URL: recordingURL}
	for _, ext := range p.formats {
		audio, err := p.downloader.Download(ctx, recordingURL+ext)
		if err == nil {
			return audio, ext, nil
		}
		retrievalErr.Attempts = append(retrievalErr.Attempts, fmt.Errorf("%q: %w", ext, err))
		if ctx.Err() != nil {
			break
		}
	}
	return nil, "", retrievalErr
}

func (p *Pipeline) recognize(ctx context.Context, audio []byte, name string) (string, error) {
	text, err := p.recognizer.Recognize(ctx, audio, name)
	if err != nil {
		return "", &TranscriptionError{Err: err}
	}
	text = strings.TrimSpace(text)
	if text == "" {
		return "", &TranscriptionError{Err: fmt.Errorf("no speech recognized")}
	}
	return text, nil
}

// keep writes the audio to the configured directory. Failures are logged.
func (p *Pipeline) keep(index int, format string, audio []byte) {
	if p.audioDir == "" {
		return
	}
	if err := os.MkdirAll(p.audioDir, 0o755); err != nil {
		log.Printf("transcribe: audio dir %s: %v", p.audioDir, err)
		return
	}
	path := filepath.Join(p.audioDir, filename(index, format))
	if err := os.WriteFile(path, audio, 0o644); err != nil {
		log.Printf("transcribe: save %s: %v", path, err)
	}
}

func filename(index int, format string) string {
	if format == "" {
		format = ".audio"
	}
	return fmt.Sprintf("recording_%d%s", index, format)
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
