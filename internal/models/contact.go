package models

import (
	"strings"
	"time"
)

// Contact states derived from the response and transcription columns.
const (
	StatePending           = "pending"
	StateRecordingReceived = "recording_received"
	StateTranscribed       = "transcribed"
)

// Contact is one row of the ledger: a person to call and what they said.
type Contact struct {
	Index             int       `gorm:"column:row_index;primaryKey;autoIncrement:false" json:"index"`
	Name              string    `gorm:"size:256;not null" json:"name"`
	MobileNumber      string    `gorm:"size:32;not null;index" json:"mobile_number"`
	Response          string    `gorm:"type:text" json:"response"`
	RecordingDuration string    `gorm:"size:16" json:"recording_duration"`
	RecordingSID      string    `gorm:"column:recording_sid;size:64" json:"recording_sid"`
	Transcription     string    `gorm:"type:text" json:"transcription"`
	CreatedAt         time.Time `json:"-"`
	UpdatedAt         time.Time `json:"-"`
}

// Eligible reports whether the contact may be called. A contact with any
// non-blank response is never called again.
func (c Contact) Eligible() bool {
	return strings.TrimSpace(c.Response) == ""
}

// State derives the contact's position in the call lifecycle.
func (c Contact) State() string {
	switch {
	case c.Eligible():
		return StatePending
	case strings.TrimSpace(c.Transcription) == "":
		return StateRecordingReceived
	default:
		return StateTranscribed
	}
}
