package metrics

import "time"

// NoopSink discards everything. Used when metrics are disabled.
type NoopSink struct{}

// NewNoopSink returns a no-op metrics sink.
func NewNoopSink() *NoopSink {
	return &NoopSink{}
}

func (n *NoopSink) CallPlaced(kind, outcome string)                                           {}
func (n *NoopSink) PassCompleted(kind string, duration time.Duration, successful, failed int) {}
func (n *NoopSink) MissedQueueSize(count int)                                                 {}
func (n *NoopSink) RecordingReceived()                                                        {}
func (n *NoopSink) TranscriptionCompleted(status string, duration time.Duration)              {}
func (n *NoopSink) QueueDepthUpdate(depth int)                                                {}
func (n *NoopSink) JobsInFlightIncr()                                                         {}
func (n *NoopSink) JobsInFlightDecr()                                                         {}
func (n *NoopSink) EnqueueRejected()                                                          {}
