package models

import "time"

// MissedCall is a snapshot of a contact's input fields taken when a call
// attempt failed. It is deliberately not linked to the contact row: ledger
// indices may shift between imports, so retries match on MobileNumber.
type MissedCall struct {
	ID           uint      `gorm:"primaryKey;autoIncrement" json:"-"`
	Name         string    `gorm:"size:256" json:"name"`
	MobileNumber string    `gorm:"size:32;not null;index" json:"mobile_number"`
	Reason       string    `gorm:"type:text" json:"-"`
	CreatedAt    time.Time `json:"-"`
}
