package models

import "time"

// CallAttempt records a single call placement made during a dispatch or
// retry pass.
type CallAttempt struct {
	ID           string `gorm:"primaryKey;size:36"`
	PassID       string `gorm:"size:36;index"`
	Kind         string `gorm:"size:16"` // "dispatch" or "retry"
	ContactIndex int    `gorm:"index"`
	MobileNumber string `gorm:"size:32"`
	CallSID      string `gorm:"column:call_sid;size:64"`
	Outcome      string `gorm:"size:16;index"` // "placed" or "failed"
	Unverified   bool   `gorm:"default:false"`
	Error        string `gorm:"type:text"`
	CreatedAt    time.Time
}
