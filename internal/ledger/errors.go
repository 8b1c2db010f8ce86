package ledger

import (
	"errors"
	"fmt"
)

// ErrTerminal is returned by RecordResponse when the contact already holds a
// transcription. Transcribed is a terminal state.
var ErrTerminal = errors.New("ledger: contact already transcribed")

// ErrStale is returned by StoreTranscription when the contact's recording
// changed after the transcription job started.
var ErrStale = errors.New("ledger: recording changed during transcription")

// DatasetIOError reports that the contact store or a dataset file could not
// be read or written.
type DatasetIOError struct {
	Op   string
	Path string
	Err  error
}

func (e *DatasetIOError) Error() string {
	if e.Path != "" {
		return fmt.Sprintf("ledger: %s %s: %v", e.Op, e.Path, e.Err)
	}
	return fmt.Sprintf("ledger: %s: %v", e.Op, e.Err)
}

func (e *DatasetIOError) Unwrap() error { return e.Err }

// UnknownContactError reports a callback or lookup for an index that is not
// in the current ledger.
type UnknownContactError struct {
	Index int
}

func (e *UnknownContactError) Error() string {
	return fmt.Sprintf("ledger: unknown contact index %d", e.Index)
}
