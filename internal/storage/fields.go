package storage

// fields.go contains SQLiteStore methods for the persisted form fields.
// The API mirrors a browser's localStorage: string keys, string values.

import (
	"database/sql"
	"errors"
	"log"
	"time"

	wssherrors "github.com/pseudocoder/wssh/internal/errors"
)

// Field is one persisted form field.
type Field struct {
	Name      string
	Value     string
	UpdatedAt time.Time
}

// SetItem stores value under name, replacing any previous value.
func (s *SQLiteStore) SetItem(name, value string) error {
	if name == "" {
		return wssherrors.New(wssherrors.CodeStorageSaveFailed, "field name cannot be empty")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	const query = `
		INSERT OR REPLACE INTO form_fields (name, value, updated_at)
		VALUES (?, ?, ?)
	`

	_, err := s.db.Exec(query, name, value, time.Now().Format(time.RFC3339Nano))
	if err != nil {
		return wssherrors.Wrap(wssherrors.CodeStorageSaveFailed, "save field "+name, err)
	}

	log.Printf("storage: saved field %s", name)
	return nil
}

// GetItem returns the value stored under name. ok is false if nothing is
// stored, which is not an error.
func (s *SQLiteStore) GetItem(name string) (value string, ok bool, err error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	err = s.db.QueryRow("SELECT value FROM form_fields WHERE name = ?", name).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, wssherrors.Wrap(wssherrors.CodeStorageQueryFailed, "get field "+name, err)
	}
	return value, true, nil
}

// RemoveItem deletes the value stored under name. Removing a missing field
// is not an error.
func (s *SQLiteStore) RemoveItem(name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, err := s.db.Exec("DELETE FROM form_fields WHERE name = ?", name); err != nil {
		return wssherrors.Wrap(wssherrors.CodeStorageSaveFailed, "remove field "+name, err)
	}
	return nil
}

// Fields returns every persisted field ordered by name.
func (s *SQLiteStore) Fields() ([]Field, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.Query("SELECT name, value, updated_at FROM form_fields ORDER BY name")
	if err != nil {
		return nil, wssherrors.Wrap(wssherrors.CodeStorageQueryFailed, "list fields", err)
	}
	defer rows.Close()

	fields := make([]Field, 0)
	for rows.Next() {
		var (
			f         Field
			updatedAt string
		)
		if err := rows.Scan(&f.Name, &f.Value, &updatedAt); err != nil {
			return nil, wssherrors.Wrap(wssherrors.CodeStorageQueryFailed, "scan field", err)
		}
		t, err := time.Parse(time.RFC3339Nano, updatedAt)
		if err != nil {
			return nil, wssherrors.Wrap(wssherrors.CodeStorageQueryFailed, "parse updated_at", err)
		}
		f.UpdatedAt = t
		fields = append(fields, f)
	}
	if err := rows.Err(); err != nil {
		return nil, wssherrors.Wrap(wssherrors.CodeStorageQueryFailed, "iterate field rows", err)
	}
	return fields, nil
}
