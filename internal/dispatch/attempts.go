package dispatch

import (
	"context"
	"fmt"

	"github.com/zulandar/dropline/internal/models"
	"gorm.io/gorm"
)

// AttemptLog stores call attempts in the call_attempts table.
type AttemptLog struct {
	db *gorm.DB
}

// NewAttemptLog returns an AttemptLog backed by db.
func NewAttemptLog(db *gorm.DB) *AttemptLog {
	return &AttemptLog{db: db}
}

// RecordAttempt inserts one attempt row.
func (l *AttemptLog) RecordAttempt(ctx context.Context, a models.CallAttempt) error {
	if err := l.db.WithContext(ctx).Create(&a).Error; err != nil {
		return fmt.Errorf("dispatch: record attempt: %w", err)
	}
	return nil
}

// Pass returns the attempts of one pass in insertion order.
func (l *AttemptLog) Pass(ctx context.Context, passID string) ([]models.CallAttempt, error) {
	var out []models.CallAttempt
	err := l.db.WithContext(ctx).
		Where("pass_id = ?", passID).
		Order("created_at ASC").
		Find(&out).Error
	if err != nil {
		return nil, fmt.Errorf("dispatch: list attempts for pass %s: %w", passID, err)
	}
	return out, nil
}

// Recent returns the latest attempts, newest first.
func (l *AttemptLog) Recent(ctx context.Context, limit int) ([]models.CallAttempt, error) {
	if limit <= 0 {
		limit = 50
	}
	var out []models.CallAttempt
	err := l.db.WithContext(ctx).Order("created_at DESC").Limit(limit).Find(&out).Error
	if err != nil {
		return nil, fmt.Errorf("dispatch: list attempts: %w", err)
	}
	return out, nil
}
