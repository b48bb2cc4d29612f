package store

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/mattn/go-sqlite3"
)

func TestOpen_CreatesNewDatabase(t *testing.T) {
	path := filepath.Join(t.TempDir(), "test.db")

	s, err := Open(path)
	if err != nil {
		t.Fatalf("Open() failed: %v", err)
	}
	defer s.Close()

	if _, err := os.Stat(path); os.IsNotExist(err) {
		t.Error("database file was not created")
	}
}

func TestOpen_PersistsAcrossReopen(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "test.db")

	s1, err := Open(path)
	if err != nil {
		t.Fatalf("first Open() failed: %v", err)
	}
	if _, err := s1.Set(ctx, "status::p1", []byte(`{"a":1}`), 0); err != nil {
		t.Fatalf("Set() failed: %v", err)
	}
	s1.Close()

	s2, err := Open(path)
	if err != nil {
		t.Fatalf("second Open() failed: %v", err)
	}
	defer s2.Close()

	v, err := s2.Get(ctx, "status::p1")
	if err != nil {
		t.Fatalf("Get() after reopen failed: %v", err)
	}
	if string(v.Data) != `{"a":1}` || v.Version != 1 {
		t.Errorf("Get() = %q v%d, want {\"a\":1} v1", v.Data, v.Version)
	}
}

func TestOpen_Idempotent(t *testing.T) {
	path := filepath.Join(t.TempDir(), "test.db")

	for i := 0; i < 3; i++ {
		s, err := Open(path)
		if err != nil {
			t.Fatalf("Open() iteration %d failed: %v", i, err)
		}
		s.Close()
	}

	s, err := Open(path)
	if err != nil {
		t.Fatalf("final Open() failed: %v", err)
	}
	defer s.Close()

	var name string
	err = s.db.QueryRow("SELECT name FROM sqlite_master WHERE type='table' AND name='kv'").Scan(&name)
	if err != nil {
		t.Errorf("kv table not found after idempotent opens: %v", err)
	}
}

func TestOpen_Pragmas(t *testing.T) {
	s, err := Open(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("Open() failed: %v", err)
	}
	defer s.Close()

	tests := []struct {
		name     string
		expected string
	}{
		{"journal_mode", "wal"},
		{"synchronous", "1"}, // NORMAL
		{"busy_timeout", "5000"},
		{"user_version", fmt.Sprint(currentSchemaVersion)},
	}
	for _, tt := range tests {
		if err := s.verifyPragma(tt.name, tt.expected); err != nil {
			t.Error(err)
		}
	}
}

func TestOpen_RejectsNewerSchema(t *testing.T) {
	path := filepath.Join(t.TempDir(), "test.db")
	s, err := Open(path)
	if err != nil {
		t.Fatalf("Open() failed: %v", err)
	}
	if _, err := s.db.Exec(fmt.Sprintf("PRAGMA user_version = %d", currentSchemaVersion+1)); err != nil {
		t.Fatalf("bump user_version: %v", err)
	}
	s.Close()

	if _, err := Open(path); err == nil {
		t.Fatal("Open() accepted a database from a newer schema")
	}
}

func TestSet_KeysAreCaseSensitive(t *testing.T) {
	ctx := context.Background()
	s, err := Open(":memory:")
	if err != nil {
		t.Fatalf("Open() failed: %v", err)
	}
	defer s.Close()

	// Keys differing only in case are distinct.
	if _, err := s.Set(ctx, "status::A", []byte("1"), 0); err != nil {
		t.Fatal(err)
	}
	if _, err := s.Set(ctx, "status::a", []byte("2"), 0); err != nil {
		t.Fatalf("lower-case key collided with upper-case key: %v", err)
	}
}

func TestDSN(t *testing.T) {
	tests := []struct {
		path, want string
	}{
		{"attend.db", "attend.db?_txlock=immediate&_busy_timeout=5000"},
		{":memory:", ":memory:?_txlock=immediate&_busy_timeout=5000"},
		{"file:attend.db?cache=shared", "file:attend.db?cache=shared&_txlock=immediate&_busy_timeout=5000"},
	}
	for _, tt := range tests {
		if got := dsn(tt.path); got != tt.want {
			t.Errorf("dsn(%q) = %q, want %q", tt.path, got, tt.want)
		}
	}
}

func TestBusyConflict(t *testing.T) {
	busy := sqlite3.Error{Code: sqlite3.ErrBusy}
	if err := busyConflict(busy); !errors.Is(err, ErrVersionConflict) {
		t.Errorf("busy error not reported as a conflict: %v", err)
	}
	locked := sqlite3.Error{Code: sqlite3.ErrLocked}
	if err := busyConflict(fmt.Errorf("commit: %w", locked)); !errors.Is(err, ErrVersionConflict) {
		t.Errorf("locked error not reported as a conflict: %v", err)
	}
	full := sqlite3.Error{Code: sqlite3.ErrFull}
	if err := busyConflict(full); errors.Is(err, ErrVersionConflict) {
		t.Errorf("disk full reported as a conflict: %v", err)
	}
}

// Two processes sharing one file race a compare-and-set on the same version:
// exactly one wins and every loser sees a version conflict.
func TestSet_ConcurrentWritersOnOneFile(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "shared.db")

	var handles []*SQLite
	for i := 0; i < 2; i++ {
		s, err := Open(path)
		if err != nil {
			t.Fatalf("Open() failed: %v", err)
		}
		defer s.Close()
		handles = append(handles, s)
	}
	if _, err := handles[0].Set(ctx, "auditlog::global", []byte("[]"), 0); err != nil {
		t.Fatal(err)
	}

	const writers = 8
	errs := make([]error, writers)
	var wg sync.WaitGroup
	for i := 0; i < writers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = handles[i%2].Set(ctx, "auditlog::global", []byte(fmt.Sprint(i)), 1)
		}(i)
	}
	wg.Wait()

	wins := 0
	for i, err := range errs {
		switch {
		case err == nil:
			wins++
		case !errors.Is(err, ErrVersionConflict):
			t.Errorf("writer %d: got %v, want a version conflict", i, err)
		}
	}
	if wins != 1 {
		t.Errorf("%d writers won, want exactly 1", wins)
	}

	v, err := handles[1].Get(ctx, "auditlog::global")
	if err != nil {
		t.Fatal(err)
	}
	if v.Version != 2 {
		t.Errorf("version = %d, want 2", v.Version)
	}
}

func TestHealth(t *testing.T) {
	ctx := context.Background()
	s, err := Open(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("Open() failed: %v", err)
	}

	if err := s.Health(ctx); err != nil {
		t.Errorf("Health() on open store = %v, want nil", err)
	}
	s.Close()
	if err := s.Health(ctx); err == nil {
		t.Error("Health() on closed store = nil, want error")
	}
}
