// Package lock keeps at most one dispatch or retry pass running against the
// ledger, across processes sharing the database.
package lock

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/zulandar/dropline/internal/models"
	"gorm.io/gorm"
)

// DefaultHeartbeatTimeout is the duration after which a session's heartbeat
// is considered stale and the lock can be reclaimed.
const DefaultHeartbeatTimeout = 90 * time.Second

// Session statuses.
const (
	StatusActive    = "active"
	StatusCompleted = "completed"
	StatusExpired   = "expired"
)

// ErrPassActive is returned when another pass holds the lock.
var ErrPassActive = errors.New("lock: a dispatch or retry pass is already running")

// HeldError describes the session holding the lock. It matches
// ErrPassActive with errors.Is.
type HeldError struct {
	Session models.PassSession
}

func (e *HeldError) Error() string {
	return fmt.Sprintf("lock: %s pass held by %q (session %d, started %s)",
		e.Session.Kind, e.Session.Holder, e.Session.ID, e.Session.CreatedAt.Format(time.RFC3339))
}

func (e *HeldError) Is(target error) bool { return target == ErrPassActive }

// Acquire takes the pass lock for a pass of the given kind. Active sessions
// whose heartbeat is older than timeout are expired first.
func Acquire(db *gorm.DB, kind, holder string, timeout time.Duration) (*models.PassSession, error) {
	if timeout <= 0 {
		timeout = DefaultHeartbeatTimeout
	}

	var session *models.PassSession

	err := db.Transaction(func(tx *gorm.DB) error {
		now := time.Now()
		cutoff := now.Add(-timeout)

		if err := tx.Model(&models.PassSession{}).
			Where("status = ? AND last_heartbeat < ?", StatusActive, cutoff).
			Updates(map[string]interface{}{
				"status":       StatusExpired,
				"completed_at": now,
			}).Error; err != nil {
			return fmt.Errorf("expire stale sessions: %w", err)
		}

		var existing models.PassSession
		result := tx.Where("status = ?", StatusActive).First(&existing)
		if result.Error == nil {
			return &HeldError{Session: existing}
		}
		if !errors.Is(result.Error, gorm.ErrRecordNotFound) {
			return fmt.Errorf("check existing session: %w", result.Error)
		}

		session = &models.PassSession{
			Kind:          kind,
			Holder:        holder,
			Status:        StatusActive,
			LastHeartbeat: now,
		}
		if err := tx.Create(session).Error; err != nil {
			return fmt.Errorf("create session: %w", err)
		}
		return nil
	})
	if err != nil {
		var held *HeldError
		if errors.As(err, &held) {
			return nil, held
		}
		return nil, fmt.Errorf("lock: acquire: %w", err)
	}
	return session, nil
}

// Release marks the session as completed.
func Release(db *gorm.DB, sessionID uint) error {
	now := time.Now()
	result := db.Model(&models.PassSession{}).
		Where("id = ? AND status = ?", sessionID, StatusActive).
		Updates(map[string]interface{}{
			"status":       StatusCompleted,
			"completed_at": now,
		})
	if result.Error != nil {
		return fmt.Errorf("lock: release: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return fmt.Errorf("lock: release: session %d not found or not active", sessionID)
	}
	return nil
}

// Heartbeat refreshes the LastHeartbeat timestamp for an active session.
func Heartbeat(db *gorm.DB, sessionID uint) error {
	result := db.Model(&models.PassSession{}).
		Where("id = ? AND status = ?", sessionID, StatusActive).
		Update("last_heartbeat", time.Now())
	if result.Error != nil {
		return fmt.Errorf("lock: heartbeat: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return fmt.Errorf("lock: heartbeat: session %d not found or not active", sessionID)
	}
	return nil
}

// StartHeartbeat refreshes the session every interval until the returned
// stop function is called or ctx is done.
func StartHeartbeat(ctx context.Context, db *gorm.DB, sessionID uint, interval time.Duration) func() {
	done := make(chan struct{})
	stopped := make(chan struct{})
	go func() {
		defer close(stopped)
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-done:
				return
			case <-ctx.Done():
				return
			case <-ticker.C:
				if err := Heartbeat(db, sessionID); err != nil {
					log.Printf("lock: heartbeat: %v", err)
				}
			}
		}
	}()
	return func() {
		close(done)
		<-stopped
	}
}

// Active returns the session currently holding the lock, if any.
func Active(db *gorm.DB) (*models.PassSession, bool, error) {
	var s models.PassSession
	res := db.Where("status = ?", StatusActive).Order("id DESC").Limit(1).Find(&s)
	if res.Error != nil {
		return nil, false, fmt.Errorf("lock: active: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return nil, false, nil
	}
	return &s, true, nil
}
