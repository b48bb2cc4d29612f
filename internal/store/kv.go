package store

import (
	"context"
	"errors"
	"time"
)

// AnyVersion disables the version check in Set.
const AnyVersion int64 = -1

var (
	// ErrNotFound is returned by Get for keys that do not exist.
	ErrNotFound = errors.New("store: key not found")

	// ErrVersionConflict is returned by Set when the stored version does not
	// match the expected one.
	ErrVersionConflict = errors.New("store: version conflict")
)

// Value is a versioned byte payload.
// Version starts at 1 for a newly created key and grows by one per write.
type Value struct {
	Data      []byte
	Version   int64
	UpdatedAt time.Time
}

// KV is the durable key-value abstraction the engines persist through.
// Any byte-oriented store can satisfy it.
//
// Set semantics for expect:
//   - AnyVersion: write unconditionally
//   - 0: the key must not exist yet
//   - n > 0: the stored version must equal n
//
// On success Set returns the new version.
type KV interface {
	Get(ctx context.Context, key string) (Value, error)
	Set(ctx context.Context, key string, data []byte, expect int64) (int64, error)
	Delete(ctx context.Context, key string) error
	// Keys lists keys starting with prefix in ascending order.
	Keys(ctx context.Context, prefix string) ([]string, error)
	Close() error
}

// Key layout shared by every backend.
const (
	StatusKeyPrefix = "status::"
	DraftKeyPrefix  = "draft::"
	AuditLogKey     = "auditlog::global"
)

// StatusKey is where the attendance record of a subject is kept.
func StatusKey(subjectID string) string {
	return StatusKeyPrefix + subjectID
}

// DraftKey is where the draft of a form slot is kept.
func DraftKey(slot string) string {
	return DraftKeyPrefix + slot
}

// checkVersion applies the Set expectation rules to the current version
// (0 when the key is absent).
func checkVersion(current, expect int64) error {
	if expect == AnyVersion || expect == current {
		return nil
	}
	return ErrVersionConflict
}
