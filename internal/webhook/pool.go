package webhook

import (
	"context"
	"errors"
	"log"
	"sync"
	"time"
)

// Pool errors.
var (
	ErrQueueFull   = errors.New("webhook: transcription queue full")
	ErrPoolStopped = errors.New("webhook: transcription pool stopped")
)

// DrainTimeout is the default time Stop waits for queued jobs to finish.
const DrainTimeout = 30 * time.Second

// JobFunc processes the transcription job for one contact.
type JobFunc func(ctx context.Context, index int)

// PoolMetrics is the subset of metrics.Sink the pool reports to.
type PoolMetrics interface {
	QueueDepthUpdate(n int)
	JobsInFlightIncr()
	JobsInFlightDecr()
	EnqueueRejected()
}

// Pool runs transcription jobs on a fixed number of workers fed by a
// bounded queue. A contact has at most one job queued or running at a time;
// a submit for a contact whose job is already running makes that job run
// once more when it finishes.
type Pool struct {
	workers        int
	enqueueTimeout time.Duration
	process        JobFunc
	metrics        PoolMetrics // optional

	jobs chan int

	// mu guards closed; Submit holds it shared while sending so Stop can
	// close jobs safely.
	mu     sync.RWMutex
	closed bool

	inflightMu sync.Mutex
	inflight   map[int]*jobState

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

type jobState struct {
	running bool
	again   bool // resubmitted while running
}

// NewPool creates a Pool. Call Start before Submit.
func NewPool(workers, queueSize int, process JobFunc) *Pool {
	if workers <= 0 {
		workers = 1
	}
	if queueSize < 0 {
		queueSize = 0
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Pool{
		workers:        workers,
		enqueueTimeout: 5 * time.Second,
		process:        process,
		jobs:           make(chan int, queueSize),
		inflight:       make(map[int]*jobState),
		ctx:            ctx,
		cancel:         cancel,
	}
}

// WithEnqueueTimeout sets how long Submit waits for queue space.
func (p *Pool) WithEnqueueTimeout(d time.Duration) *Pool {
	p.enqueueTimeout = d
	return p
}

// WithMetrics attaches a metrics sink.
func (p *Pool) WithMetrics(m PoolMetrics) *Pool {
	p.metrics = m
	return p
}

// Start launches the workers.
func (p *Pool) Start() {
	for i := 0; i < p.workers; i++ {
		p.wg.Add(1)
		go p.work()
	}
	log.Printf("webhook: transcription pool started (workers=%d, queue=%d)", p.workers, cap(p.jobs))
}

func (p *Pool) work() {
	defer p.wg.Done()
	for index := range p.jobs {
		p.updateDepth()
		p.run(index)
	}
}

func (p *Pool) run(index int) {
	if p.metrics != nil {
		p.metrics.JobsInFlightIncr()
		defer p.metrics.JobsInFlightDecr()
	}
	p.inflightMu.Lock()
	if st, ok := p.inflight[index]; ok {
		st.running = true
	}
	p.inflightMu.Unlock()

	for {
		p.runOnce(index)
		if !p.finish(index) {
			return
		}
	}
}

func (p *Pool) runOnce(index int) {
	defer func() {
		if r := recover(); r != nil {
			log.Printf("webhook: transcription job for contact %d panicked: %v", index, r)
		}
	}()
	p.process(p.ctx, index)
}

// finish releases index, or reports true when the job was resubmitted while
// it ran and must run again.
func (p *Pool) finish(index int) bool {
	p.inflightMu.Lock()
	defer p.inflightMu.Unlock()
	st, ok := p.inflight[index]
	if ok && st.again && p.ctx.Err() == nil {
		st.again = false
		return true
	}
	delete(p.inflight, index)
	return false
}

// Submit queues a job for contact index, waiting up to the enqueue timeout
// for space. A contact whose job is still queued is not queued again; one
// whose job is running gets a rerun. Both return nil.
func (p *Pool) Submit(ctx context.Context, index int) error {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.closed {
		return ErrPoolStopped
	}

	p.inflightMu.Lock()
	if st, busy := p.inflight[index]; busy {
		if st.running {
			st.again = true
		}
		p.inflightMu.Unlock()
		return nil
	}
	p.inflight[index] = &jobState{}
	p.inflightMu.Unlock()

	timer := time.NewTimer(p.enqueueTimeout)
	defer timer.Stop()
	select {
	case p.jobs <- index:
		p.updateDepth()
		return nil
	case <-timer.C:
	case <-ctx.Done():
	}
	p.release(index)
	if err := ctx.Err(); err != nil {
		return err
	}
	if p.metrics != nil {
		p.metrics.EnqueueRejected()
	}
	return ErrQueueFull
}

// Busy reports whether contact index has a job queued or running.
func (p *Pool) Busy(index int) bool {
	p.inflightMu.Lock()
	defer p.inflightMu.Unlock()
	_, ok := p.inflight[index]
	return ok
}

func (p *Pool) release(index int) {
	p.inflightMu.Lock()
	delete(p.inflight, index)
	p.inflightMu.Unlock()
}

func (p *Pool) updateDepth() {
	if p.metrics != nil {
		p.metrics.QueueDepthUpdate(len(p.jobs))
	}
}

// Stop refuses new jobs and lets the workers finish what is queued. If that
// takes longer than timeout, running jobs are canceled; their contacts stay
// in RecordingReceived and are picked up by the next recovery sweep.
func (p *Pool) Stop(timeout time.Duration) {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return
	}
	p.closed = true
	close(p.jobs)
	p.mu.Unlock()

	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		log.Printf("webhook: transcription pool drained")
	case <-time.After(timeout):
		log.Printf("webhook: drain timeout after %s, canceling running jobs", timeout)
		p.cancel()
		<-done
	}
	p.cancel()
}
