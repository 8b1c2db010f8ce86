// Package webhook handles the two telephony callbacks of a live call: the
// answer phase, which returns the voice script, and the recording phase,
// which stores the recording and schedules its transcription.
package webhook

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/zulandar/dropline/internal/dispatch"
	"github.com/zulandar/dropline/internal/ledger"
	"github.com/zulandar/dropline/internal/models"
	"github.com/zulandar/dropline/internal/provider"
	"github.com/zulandar/dropline/internal/transcribe"
)

// Ledger is the contact store the callbacks read and write.
type Ledger interface {
	Get(ctx context.Context, index int) (*models.Contact, error)
	RecordResponse(ctx context.Context, index int, rec ledger.Recording) error
	SetState(ctx context.Context, index int, u ledger.StateUpdate) error
	StoreTranscription(ctx context.Context, index int, response, text string) error
	AwaitingTranscription(ctx context.Context) ([]models.Contact, error)
}

// Transcriber turns a recording URL into a transcription outcome.
type Transcriber interface {
	FetchAndTranscribe(ctx context.Context, index int, recordingURL string) transcribe.Outcome
}

// Mirror refreshes the output dataset after a contact changes.
type Mirror func(ctx context.Context) error

// Metrics is the subset of metrics.Sink the callbacks report to.
type Metrics interface {
	RecordingReceived()
	TranscriptionCompleted(status string, duration time.Duration)
}

// Machine implements the answer and recording phases.
type Machine struct {
	ledger      Ledger
	transcriber Transcriber
	script      provider.ScriptOpts
	pool        *Pool
	mirror      Mirror  // optional
	metrics     Metrics // optional
}

// NewMachine creates a Machine. Call SetPool (or NewPoolFor) before the
// recording phase is used.
func NewMachine(l Ledger, t Transcriber, script provider.ScriptOpts) *Machine {
	return &Machine{ledger: l, transcriber: t, script: script}
}

// SetPool attaches the worker pool that runs transcription jobs.
func (m *Machine) SetPool(p *Pool) {
	m.pool = p
}

// NewPoolFor creates a pool whose jobs run m.Transcribe and attaches it.
func (m *Machine) NewPoolFor(workers, queueSize int) *Pool {
	p := NewPool(workers, queueSize, m.Transcribe)
	m.SetPool(p)
	return p
}

// WithMirror sets the output dataset refresh run after each stored
// transcription.
func (m *Machine) WithMirror(fn Mirror) *Machine {
	m.mirror = fn
	return m
}

// WithMetrics attaches a metrics sink.
func (m *Machine) WithMetrics(s Metrics) *Machine {
	m.metrics = s
	return m
}

// Answer returns the voice script for contact index. It never writes to the
// ledger.
func (m *Machine) Answer(ctx context.Context, index int, baseURL string) (string, error) {
	c, err := m.ledger.Get(ctx, index)
	if err != nil {
		return "", err
	}
	base, err := dispatch.NormalizeBaseURL(baseURL)
	if err != nil {
		return "", err
	}
	log.Printf("webhook: answer for contact %d (%s)", index, c.Name)
	return provider.AnswerScript(m.script, fmt.Sprintf("%s/recording/%d", base, index))
}

// Record stores the recording metadata for contact index and hands the
// transcription to the pool. It returns the closing script without waiting
// for transcription. An empty recording URL is resolved immediately with
// the no-recording sentinel.
func (m *Machine) Record(ctx context.Context, index int, rec ledger.Recording) (string, error) {
	log.Printf("webhook: recording for contact %d: url=%q duration=%q sid=%q", index, rec.URL, rec.Duration, rec.SID)

	err := m.ledger.RecordResponse(ctx, index, rec)
	switch {
	case errors.Is(err, ledger.ErrTerminal):
		log.Printf("webhook: contact %d already transcribed, ignoring recording %s", index, rec.SID)
		return provider.AckScript()
	case err != nil:
		return "", err
	}
	if m.metrics != nil {
		m.metrics.RecordingReceived()
	}

	if strings.TrimSpace(rec.URL) == "" {
		if err := m.ledger.SetState(ctx, index, ledger.Transcribed(ledger.NoRecordingURL)); err != nil {
			return "", err
		}
		if m.metrics != nil {
			m.metrics.TranscriptionCompleted(transcribe.StatusNoURL, 0)
		}
		m.refreshMirror(ctx)
		return provider.AckScript()
	}

	m.refreshMirror(ctx)
	if m.pool == nil {
		log.Printf("webhook: no transcription pool, contact %d left for recovery", index)
	} else if err := m.pool.Submit(ctx, index); err != nil {
		log.Printf("webhook: enqueue contact %d: %v (left for recovery)", index, err)
	}
	return provider.AckScript()
}

// Transcribe runs the pipeline for contact index and stores the result. It
// is the pool's job function.
func (m *Machine) Transcribe(ctx context.Context, index int) {
	c, err := m.ledger.Get(ctx, index)
	if err != nil {
		log.Printf("webhook: transcribe contact %d: %v", index, err)
		return
	}
	if c.State() != models.StateRecordingReceived {
		return
	}

	start := time.Now()
	out := m.transcriber.FetchAndTranscribe(ctx, index, c.Response)
	if out.Status == transcribe.StatusCanceled {
		log.Printf("webhook: transcription of contact %d canceled, left for recovery", index)
		return
	}

	err = m.ledger.StoreTranscription(context.WithoutCancel(ctx), index, c.Response, out.Transcription)
	switch {
	case errors.Is(err, ledger.ErrStale):
		log.Printf("webhook: contact %d has a newer recording, discarding transcription of %s", index, c.Response)
		return
	case err != nil:
		log.Printf("webhook: store transcription for contact %d: %v", index, err)
		return
	}
	if m.metrics != nil {
		m.metrics.TranscriptionCompleted(out.Status, time.Since(start))
	}
	log.Printf("webhook: contact %d transcribed (%s): %s", index, out.Status, out.Transcription)
	m.refreshMirror(context.WithoutCancel(ctx))
}

func (m *Machine) refreshMirror(ctx context.Context) {
	if m.mirror == nil {
		return
	}
	if err := m.mirror(ctx); err != nil {
		log.Printf("webhook: refresh output dataset: %v", err)
	}
}

// Recover queues a transcription job for every contact stuck in
// RecordingReceived and returns how many were queued.
func (m *Machine) Recover(ctx context.Context) (int, error) {
	if m.pool == nil {
		return 0, errors.New("webhook: recover: no transcription pool")
	}
	pending, err := m.ledger.AwaitingTranscription(ctx)
	if err != nil {
		return 0, fmt.Errorf("webhook: recover: %w", err)
	}
	queued := 0
	for _, c := range pending {
		if ctx.Err() != nil {
			break
		}
		if m.pool.Busy(c.Index) {
			continue
		}
		if err := m.pool.Submit(ctx, c.Index); err != nil {
			log.Printf("webhook: recover: enqueue contact %d: %v", c.Index, err)
			continue
		}
		queued++
	}
	if queued > 0 {
		log.Printf("webhook: recover: queued %d stalled transcriptions", queued)
	}
	return queued, nil
}

// RunRecovery sweeps for stalled transcriptions now and then every
// interval until ctx is done.
func (m *Machine) RunRecovery(ctx context.Context, interval time.Duration) {
	if _, err := m.Recover(ctx); err != nil {
		log.Printf("%v", err)
	}
	if interval <= 0 {
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := m.Recover(ctx); err != nil {
				log.Printf("%v", err)
			}
		}
	}
}
