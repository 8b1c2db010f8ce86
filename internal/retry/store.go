// Package retry re-attempts contacts whose call placement failed.
package retry

import (
	"context"
	"fmt"

	"github.com/zulandar/dropline/internal/dispatch"
	"github.com/zulandar/dropline/internal/models"
	"gorm.io/gorm"
)

// Store persists the missed-call list. An empty table means no list.
type Store struct {
	db *gorm.DB
}

// NewStore returns a Store backed by db.
func NewStore(db *gorm.DB) *Store {
	return &Store{db: db}
}

// Load returns the entries in the order they were written.
func (s *Store) Load(ctx context.Context) ([]models.MissedCall, error) {
	var out []models.MissedCall
	if err := s.db.WithContext(ctx).Order("id ASC").Find(&out).Error; err != nil {
		return nil, fmt.Errorf("retry: load missed calls: %w", err)
	}
	return out, nil
}

// Exists reports whether any missed-call entry is stored.
func (s *Store) Exists(ctx context.Context) (bool, error) {
	var n int64
	if err := s.db.WithContext(ctx).Model(&models.MissedCall{}).Count(&n).Error; err != nil {
		return false, fmt.Errorf("retry: count missed calls: %w", err)
	}
	return n > 0, nil
}

// Replace overwrites the list with entries in one transaction.
func (s *Store) Replace(ctx context.Context, entries []models.MissedCall) error {
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Session(&gorm.Session{AllowGlobalUpdate: true}).Delete(&models.MissedCall{}).Error; err != nil {
			return err
		}
		if len(entries) == 0 {
			return nil
		}
		rows := make([]models.MissedCall, len(entries))
		for i, e := range entries {
			rows[i] = models.MissedCall{Name: e.Name, MobileNumber: e.MobileNumber, Reason: e.Reason}
		}
		return tx.Create(&rows).Error
	})
	if err != nil {
		return fmt.Errorf("retry: replace missed calls: %w", err)
	}
	return nil
}

// Clear deletes the list.
func (s *Store) Clear(ctx context.Context) error {
	err := s.db.WithContext(ctx).
		Session(&gorm.Session{AllowGlobalUpdate: true}).
		Delete(&models.MissedCall{}).Error
	if err != nil {
		return fmt.Errorf("retry: clear missed calls: %w", err)
	}
	return nil
}

// FromReport builds missed-call entries for every failure in r.
func FromReport(r dispatch.Report) []models.MissedCall {
	out := make([]models.MissedCall, len(r.Missed))
	for i, m := range r.Missed {
		out[i] = models.MissedCall{Name: m.Name, MobileNumber: m.MobileNumber}
		if i < len(r.Errors) {
			out[i].Reason = r.Errors[i].Message
		}
	}
	return out
}
