package ledger

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/zulandar/dropline/internal/models"
)

// Columns of the output dataset, in file order.
var Columns = []string{
	"name",
	"mobile_number",
	"response",
	"recording_duration",
	"recording_sid",
	"transcription",
}

// RequiredColumns must be present in an imported dataset.
var RequiredColumns = []string{"name", "mobile_number"}

// ReadCSV parses a contact dataset with a header row. The state columns are
// optional and start empty when absent. Contacts are indexed by row order.
func ReadCSV(r io.Reader) ([]models.Contact, error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = -1
	cr.TrimLeadingSpace = true

	header, err := cr.Read()
	if errors.Is(err, io.EOF) {
		return nil, &DatasetIOError{Op: "read csv", Err: errors.New("dataset is empty")}
	}
	if err != nil {
		return nil, &DatasetIOError{Op: "read csv", Err: err}
	}

	pos := make(map[string]int, len(header))
	for i, h := range header {
		h = strings.ToLower(strings.TrimSpace(strings.TrimPrefix(h, "\ufeff")))
		if _, dup := pos[h]; !dup {
			pos[h] = i
		}
	}
	var missing []string
	for _, col := range RequiredColumns {
		if _, ok := pos[col]; !ok {
			missing = append(missing, col)
		}
	}
	if len(missing) > 0 {
		return nil, &DatasetIOError{
			Op:  "read csv",
			Err: fmt.Errorf("missing required columns: %s", strings.Join(missing, ", ")),
		}
	}

	field := func(rec []string, col string) string {
		i, ok := pos[col]
		if !ok || i >= len(rec) {
			return ""
		}
		return strings.TrimSpace(rec[i])
	}

	var contacts []models.Contact
	for line := 2; ; line++ {
		rec, err := cr.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, &DatasetIOError{Op: fmt.Sprintf("read csv line %d", line), Err: err}
		}
		if isBlankRecord(rec) {
			continue
		}
		contacts = append(contacts, models.Contact{
			Index:             len(contacts),
			Name:              field(rec, "name"),
			MobileNumber:      field(rec, "mobile_number"),
			Response:          field(rec, "response"),
			RecordingDuration: field(rec, "recording_duration"),
			RecordingSID:      field(rec, "recording_sid"),
			Transcription:     field(rec, "transcription"),
		})
	}
	return contacts, nil
}

func isBlankRecord(rec []string) bool {
	for _, f := range rec {
		if strings.TrimSpace(f) != "" {
			return false
		}
	}
	return true
}

// WriteCSV writes contacts as the output dataset, header first.
func WriteCSV(w io.Writer, contacts []models.Contact) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(Columns); err != nil {
		return err
	}
	for _, c := range contacts {
		rec := []string{
			c.Name,
			c.MobileNumber,
			c.Response,
			c.RecordingDuration,
			c.RecordingSID,
			c.Transcription,
		}
		if err := cw.Write(rec); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}

// ReadFile reads the dataset at path.
func ReadFile(path string) ([]models.Contact, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, &DatasetIOError{Op: "open", Path: path, Err: err}
	}
	defer f.Close()
	return ReadCSV(f)
}

// ExportCSV writes the current ledger to path. The file is replaced
// atomically so readers never observe a partial dataset.
func (s *Store) ExportCSV(ctx context.Context, path string) error {
	s.exportMu.Lock()
	defer s.exportMu.Unlock()

	contacts, err := s.Load(ctx)
	if err != nil {
		return err
	}

	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, "."+filepath.Base(path)+".*.tmp")
	if err != nil {
		return &DatasetIOError{Op: "export", Path: path, Err: err}
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	if err := WriteCSV(tmp, contacts); err != nil {
		tmp.Close()
		return &DatasetIOError{Op: "export", Path: path, Err: err}
	}
	if err := tmp.Close(); err != nil {
		return &DatasetIOError{Op: "export", Path: path, Err: err}
	}
	if err := os.Rename(tmpName, path); err != nil {
		return &DatasetIOError{Op: "export", Path: path, Err: err}
	}
	return nil
}
