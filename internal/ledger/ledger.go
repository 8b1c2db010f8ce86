// Package ledger owns the canonical contact record set and its call-state
// fields. Every mutation is a single-row UPDATE; the table is never reloaded
// and overwritten to apply one change.
package ledger

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/zulandar/dropline/internal/models"
	"gorm.io/gorm"
)

// Transcription sentinels written when the pipeline cannot produce text.
const (
	NoRecordingURL          = "[No recording URL]"
	AudioDownloadFailed     = "[Audio download failed]"
	SpeechRecognitionFailed = "[Speech recognition failed]"
)

// Recording is the provider metadata delivered by the recording callback.
type Recording struct {
	URL      string
	Duration string
	SID      string
}

// StateUpdate names the state columns to write. Nil fields are left alone.
type StateUpdate struct {
	Response          *string
	RecordingDuration *string
	RecordingSID      *string
	Transcription     *string
}

func (u StateUpdate) columns() map[string]interface{} {
	cols := map[string]interface{}{}
	if u.Response != nil {
		cols["response"] = *u.Response
	}
	if u.RecordingDuration != nil {
		cols["recording_duration"] = *u.RecordingDuration
	}
	if u.RecordingSID != nil {
		cols["recording_sid"] = *u.RecordingSID
	}
	if u.Transcription != nil {
		cols["transcription"] = *u.Transcription
	}
	return cols
}

// Transcribed returns an update that only writes the transcription column.
func Transcribed(text string) StateUpdate {
	return StateUpdate{Transcription: &text}
}

// Store is the gorm-backed contact ledger.
type Store struct {
	db *gorm.DB

	// exportMu serializes writes of the output CSV mirror.
	exportMu sync.Mutex
}

// New returns a Store backed by db.
func New(db *gorm.DB) *Store {
	return &Store{db: db}
}

// Load returns every contact in index order.
func (s *Store) Load(ctx context.Context) ([]models.Contact, error) {
	var contacts []models.Contact
	if err := s.db.WithContext(ctx).Order("row_index ASC").Find(&contacts).Error; err != nil {
		return nil, &DatasetIOError{Op: "load", Err: err}
	}
	return contacts, nil
}

// Save replaces the whole record set in one transaction. It is used when a
// new dataset is imported, never to apply a single state change.
func (s *Store) Save(ctx context.Context, contacts []models.Contact) error {
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Session(&gorm.Session{AllowGlobalUpdate: true}).Delete(&models.Contact{}).Error; err != nil {
			return err
		}
		if len(contacts) == 0 {
			return nil
		}
		rows := make([]models.Contact, len(contacts))
		for i, c := range contacts {
			c.Index = i
			rows[i] = c
		}
		return tx.CreateInBatches(rows, 200).Error
	})
	if err != nil {
		return &DatasetIOError{Op: "save", Err: err}
	}
	return nil
}

// Get returns the contact at index.
func (s *Store) Get(ctx context.Context, index int) (*models.Contact, error) {
	var c models.Contact
	err := s.db.WithContext(ctx).Where("row_index = ?", index).First(&c).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, &UnknownContactError{Index: index}
	}
	if err != nil {
		return nil, &DatasetIOError{Op: fmt.Sprintf("get %d", index), Err: err}
	}
	return &c, nil
}

// SetState writes the named state fields of one contact.
func (s *Store) SetState(ctx context.Context, index int, u StateUpdate) error {
	cols := u.columns()
	if len(cols) == 0 {
		return nil
	}
	res := s.db.WithContext(ctx).Model(&models.Contact{}).
		Where("row_index = ?", index).
		Updates(cols)
	if res.Error != nil {
		return &DatasetIOError{Op: fmt.Sprintf("set state %d", index), Err: res.Error}
	}
	if res.RowsAffected == 0 {
		return &UnknownContactError{Index: index}
	}
	return nil
}

// RecordResponse stores the recording metadata for a contact, moving it to
// RecordingReceived and clearing any previous transcription. A contact that
// is already transcribed is left untouched and ErrTerminal is returned.
func (s *Store) RecordResponse(ctx context.Context, index int, rec Recording) error {
	res := s.db.WithContext(ctx).Model(&models.Contact{}).
		Where("row_index = ?", index).
		Where("TRIM(response) = '' OR response IS NULL OR TRIM(transcription) = '' OR transcription IS NULL").
		Updates(map[string]interface{}{
			"response":           rec.URL,
			"recording_duration": rec.Duration,
			"recording_sid":      rec.SID,
			"transcription":      "",
		})
	if res.Error != nil {
		return &DatasetIOError{Op: fmt.Sprintf("record response %d", index), Err: res.Error}
	}
	if res.RowsAffected > 0 {
		return nil
	}
	if _, err := s.Get(ctx, index); err != nil {
		return err
	}
	return ErrTerminal
}

// StoreTranscription writes text as the transcription of the recording at
// response. It returns ErrStale when the contact now holds a different
// recording, so a slow job never overwrites a newer one.
func (s *Store) StoreTranscription(ctx context.Context, index int, response, text string) error {
	res := s.db.WithContext(ctx).Model(&models.Contact{}).
		Where("row_index = ? AND response = ?", index, response).
		Update("transcription", text)
	if res.Error != nil {
		return &DatasetIOError{Op: fmt.Sprintf("store transcription %d", index), Err: res.Error}
	}
	if res.RowsAffected > 0 {
		return nil
	}
	if _, err := s.Get(ctx, index); err != nil {
		return err
	}
	return ErrStale
}

// Eligible returns the contacts with a blank response, in index order.
func (s *Store) Eligible(ctx context.Context) ([]models.Contact, error) {
	all, err := s.Load(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]models.Contact, 0, len(all))
	for _, c := range all {
		if c.Eligible() {
			out = append(out, c)
		}
	}
	return out, nil
}

// FindByMobile returns the first contact, by index, whose mobile number
// matches number. ok is false when there is none.
func (s *Store) FindByMobile(ctx context.Context, number string) (c *models.Contact, ok bool, err error) {
	var found models.Contact
	res := s.db.WithContext(ctx).
		Where("mobile_number = ?", strings.TrimSpace(number)).
		Order("row_index ASC").
		Limit(1).
		Find(&found)
	if res.Error != nil {
		return nil, false, &DatasetIOError{Op: "find by mobile", Err: res.Error}
	}
	if res.RowsAffected == 0 {
		return nil, false, nil
	}
	return &found, true, nil
}

// AwaitingTranscription returns contacts with a recording but no
// transcription yet.
func (s *Store) AwaitingTranscription(ctx context.Context) ([]models.Contact, error) {
	all, err := s.Load(ctx)
	if err != nil {
		return nil, err
	}
	var out []models.Contact
	for _, c := range all {
		if c.State() == models.StateRecordingReceived {
			out = append(out, c)
		}
	}
	return out, nil
}
