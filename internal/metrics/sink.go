// Package metrics records call and transcription activity.
package metrics

import "time"

// Sink records metrics. Methods are fire-and-forget: implementations must
// not block or return errors.
type Sink interface {
	// Call placement
	CallPlaced(kind, outcome string)
	PassCompleted(kind string, duration time.Duration, successful, failed int)
	MissedQueueSize(n int)

	// Recording callbacks and transcription workers
	RecordingReceived()
	TranscriptionCompleted(status string, duration time.Duration)
	QueueDepthUpdate(n int)
	JobsInFlightIncr()
	JobsInFlightDecr()
	EnqueueRejected()
}

// Pass kinds.
const (
	KindDispatch = "dispatch"
	KindRetry    = "retry"
)

// Placement outcomes.
const (
	OutcomePlaced = "placed"
	OutcomeFailed = "failed"
)
