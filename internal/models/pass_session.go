package models

import "time"

// PassSession tracks an active or finished dispatch/retry pass. The pass
// lock uses it to keep at most one pass writing to the ledger stores.
type PassSession struct {
	ID            uint      `gorm:"primaryKey;autoIncrement"`
	Kind          string    `gorm:"size:16;not null"` // "dispatch" or "retry"
	Holder        string    `gorm:"size:128;not null"`
	Status        string    `gorm:"size:16;default:active;index"` // active, completed, expired
	LastHeartbeat time.Time `gorm:"index"`
	CreatedAt     time.Time
	CompletedAt   *time.Time
}
