package storage

import (
	"database/sql"
	"errors"
	"fmt"
	"path/filepath"
	"sync"
	"testing"
	"time"

	wssherrors "github.com/pseudocoder/wssh/internal/errors"
)

func newTestStore(t *testing.T) *SQLiteStore {
	t.Helper()
	store, err := NewSQLiteStore(":memory:")
	if err != nil {
		t.Fatalf("NewSQLiteStore failed: %v", err)
	}
	t.Cleanup(func() { store.Close() })
	return store
}

// tableExists reports whether a table with the given name exists.
func tableExists(s *SQLiteStore, name string) (bool, error) {
	var table string
	err := s.db.QueryRow(
		"SELECT name FROM sqlite_master WHERE type = 'table' AND name = ?",
		name,
	).Scan(&table)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("check table %s: %w", name, err)
	}
	return table == name, nil
}

// TestNewSQLiteStore verifies that a fresh database is fully migrated.
func TestNewSQLiteStore(t *testing.T) {
	store := newTestStore(t)

	version, err := store.SchemaVersion()
	if err != nil {
		t.Fatalf("SchemaVersion failed: %v", err)
	}
	if version != currentSchemaVersion {
		t.Errorf("schema version = %d, want %d", version, currentSchemaVersion)
	}

	for _, table := range []string{"form_fields", "sessions"} {
		ok, err := tableExists(store, table)
		if err != nil {
			t.Fatalf("tableExists(%s) failed: %v", table, err)
		}
		if !ok {
			t.Errorf("table %s missing", table)
		}
	}
}

// TestReopenKeepsData verifies persistence across process restarts and that
// migrations are not re-applied.
func TestReopenKeepsData(t *testing.T) {
	path := filepath.Join(t.TempDir(), "wssh.db")

	store, err := NewSQLiteStore(path)
	if err != nil {
		t.Fatalf("NewSQLiteStore failed: %v", err)
	}
	if err := store.SetItem("hostname", "10.0.0.1"); err != nil {
		t.Fatalf("SetItem failed: %v", err)
	}
	store.Close()

	store, err = NewSQLiteStore(path)
	if err != nil {
		t.Fatalf("reopen failed: %v", err)
	}
	defer store.Close()

	got, ok, err := store.GetItem("hostname")
	if err != nil || !ok || got != "10.0.0.1" {
		t.Errorf("GetItem = (%q, %v, %v), want 10.0.0.1", got, ok, err)
	}

	var rows int
	if err := store.db.QueryRow("SELECT COUNT(*) FROM schema_version").Scan(&rows); err != nil {
		t.Fatalf("count migrations: %v", err)
	}
	if rows != currentSchemaVersion {
		t.Errorf("schema_version has %d rows, want %d", rows, currentSchemaVersion)
	}
}

func TestNewSQLiteStore_BadPath(t *testing.T) {
	path := filepath.Join(t.TempDir(), "missing", "dir", "wssh.db")
	_, err := NewSQLiteStore(path)
	if !wssherrors.IsCode(err, wssherrors.CodeStorageOpenFailed) {
		t.Errorf("error = %v, want storage.open_failed", err)
	}
}

func TestItems(t *testing.T) {
	store := newTestStore(t)

	if _, ok, err := store.GetItem("username"); err != nil || ok {
		t.Fatalf("GetItem on empty store = (ok=%v, err=%v), want missing", ok, err)
	}

	if err := store.SetItem("username", "alice"); err != nil {
		t.Fatalf("SetItem failed: %v", err)
	}
	if err := store.SetItem("username", "bob"); err != nil {
		t.Fatalf("SetItem overwrite failed: %v", err)
	}
	if err := store.SetItem("port", "2222"); err != nil {
		t.Fatalf("SetItem failed: %v", err)
	}

	got, ok, err := store.GetItem("username")
	if err != nil || !ok || got != "bob" {
		t.Errorf("GetItem = (%q, %v, %v), want bob", got, ok, err)
	}

	fields, err := store.Fields()
	if err != nil {
		t.Fatalf("Fields failed: %v", err)
	}
	if len(fields) != 2 || fields[0].Name != "port" || fields[1].Name != "username" {
		t.Fatalf("Fields = %+v, want port and username", fields)
	}
	if fields[1].UpdatedAt.IsZero() {
		t.Error("UpdatedAt not set")
	}

	if err := store.RemoveItem("username"); err != nil {
		t.Fatalf("RemoveItem failed: %v", err)
	}
	if err := store.RemoveItem("username"); err != nil {
		t.Fatalf("RemoveItem of missing field failed: %v", err)
	}
	if _, ok, _ := store.GetItem("username"); ok {
		t.Error("username still present after RemoveItem")
	}
}

func TestSetItem_EmptyName(t *testing.T) {
	store := newTestStore(t)
	if err := store.SetItem("", "x"); !wssherrors.IsCode(err, wssherrors.CodeStorageSaveFailed) {
		t.Errorf("SetItem(\"\") error = %v, want storage.save_failed", err)
	}
}

func TestItems_Concurrent(t *testing.T) {
	store := newTestStore(t)

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			if err := store.SetItem(fmt.Sprintf("k%d", i), "v"); err != nil {
				t.Errorf("SetItem failed: %v", err)
			}
			if _, _, err := store.GetItem("k0"); err != nil {
				t.Errorf("GetItem failed: %v", err)
			}
		}(i)
	}
	wg.Wait()

	fields, err := store.Fields()
	if err != nil {
		t.Fatalf("Fields failed: %v", err)
	}
	if len(fields) != 10 {
		t.Errorf("got %d fields, want 10", len(fields))
	}
}

func TestSessions(t *testing.T) {
	store := newTestStore(t)
	start := time.Now().Truncate(time.Millisecond)

	s := &Session{
		ID:        "b-1",
		Title:     "alice@10.0.0.1:22",
		Endpoint:  "ws://127.0.0.1:8888/ws",
		StartedAt: start,
	}
	if err := store.SaveSession(s); err != nil {
		t.Fatalf("SaveSession failed: %v", err)
	}

	got, err := store.GetSession("b-1")
	if err != nil {
		t.Fatalf("GetSession failed: %v", err)
	}
	if got == nil || !got.Open() || got.Title != s.Title || !got.StartedAt.Equal(start) {
		t.Fatalf("GetSession = %+v", got)
	}

	end := start.Add(time.Minute)
	if err := store.EndSession("b-1", "SSH channel closed", end); err != nil {
		t.Fatalf("EndSession failed: %v", err)
	}
	got, _ = store.GetSession("b-1")
	if got.Open() || !got.EndedAt.Equal(end) || got.Reason != "SSH channel closed" {
		t.Errorf("after EndSession = %+v", got)
	}

	missing, err := store.GetSession("nope")
	if err != nil || missing != nil {
		t.Errorf("GetSession(missing) = (%v, %v), want nil, nil", missing, err)
	}

	if err := store.SaveSession(nil); err == nil {
		t.Error("SaveSession(nil) should fail")
	}
}

func TestSessions_Retention(t *testing.T) {
	store := newTestStore(t)
	base := time.Now().Add(-time.Hour)

	for i := 0; i < maxSessions+5; i++ {
		err := store.SaveSession(&Session{
			ID:        fmt.Sprintf("b-%02d", i),
			Title:     "t",
			Endpoint:  "ws://h/ws",
			StartedAt: base.Add(time.Duration(i) * time.Second),
		})
		if err != nil {
			t.Fatalf("SaveSession %d failed: %v", i, err)
		}
	}

	sessions, err := store.ListSessions(0)
	if err != nil {
		t.Fatalf("ListSessions failed: %v", err)
	}
	if len(sessions) != maxSessions {
		t.Fatalf("kept %d sessions, want %d", len(sessions), maxSessions)
	}
	if sessions[0].ID != fmt.Sprintf("b-%02d", maxSessions+4) {
		t.Errorf("newest session = %s", sessions[0].ID)
	}
	if old, _ := store.GetSession("b-00"); old != nil {
		t.Error("oldest session should have been pruned")
	}

	limited, err := store.ListSessions(3)
	if err != nil || len(limited) != 3 {
		t.Errorf("ListSessions(3) = %d sessions, err %v", len(limited), err)
	}
}
