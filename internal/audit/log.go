package audit

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/roach88/attend/internal/events"
	"github.com/roach88/attend/internal/store"
)

// Capacity is the maximum number of entries kept, in memory and at rest.
const Capacity = 1000

// maxPersistAttempts bounds the reload-and-merge loop when another process
// keeps winning the snapshot write.
const maxPersistAttempts = 5

var (
	// ErrPersistenceFailure marks an entry that was appended in memory but
	// could not be written to the store. The log retries on the next write.
	ErrPersistenceFailure = errors.New("audit persistence failure")

	// ErrInvalidEntry is returned for inputs missing required fields.
	ErrInvalidEntry = errors.New("invalid audit entry")
)

// IsPersistenceFailure reports whether err is an audit durability failure.
func IsPersistenceFailure(err error) bool {
	return errors.Is(err, ErrPersistenceFailure)
}

// Clock supplies entry timestamps.
type Clock interface {
	Now() time.Time
}

// IDGenerator supplies entry ids.
type IDGenerator interface {
	Generate() string
}

type systemClock struct{}

func (systemClock) Now() time.Time { return time.Now().UTC() }

type uuidV7 struct{}

func (uuidV7) Generate() string { return uuid.Must(uuid.NewV7()).String() }

// Log is the bounded, append-only audit trail.
//
// One mutex guards the append point, so entries keep insertion order even
// when records for different subjects arrive concurrently. The whole
// snapshot is written to store.AuditLogKey after every append, with
// compare-and-set on the stored version. When another process sharing the
// store wrote first, the log reloads, merges both sides by id and retries.
type Log struct {
	mu       sync.Mutex
	kv       store.KV
	entries  []Entry // oldest first
	version  int64   // stored snapshot version the entries were merged with
	capacity int
	pending  bool

	clock  Clock
	ids    IDGenerator
	bus    events.Publisher
	logger *slog.Logger
}

// Option configures a Log.
type Option func(*Log)

func WithClock(c Clock) Option { return func(l *Log) { l.clock = c } }

func WithIDGenerator(g IDGenerator) Option { return func(l *Log) { l.ids = g } }

func WithEvents(p events.Publisher) Option {
	return func(l *Log) {
		if p != nil {
			l.bus = p
		}
	}
}

func WithLogger(logger *slog.Logger) Option { return func(l *Log) { l.logger = logger } }

// WithCapacity overrides Capacity. Used by tests and small deployments.
func WithCapacity(n int) Option {
	return func(l *Log) {
		if n > 0 {
			l.capacity = n
		}
	}
}

// New creates an empty log writing through kv.
func New(kv store.KV, opts ...Option) *Log {
	l := &Log{
		kv:       kv,
		entries:  []Entry{},
		capacity: Capacity,
		clock:    systemClock{},
		ids:      uuidV7{},
		bus:      events.Discard,
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Open creates a log and loads the snapshot persisted at store.AuditLogKey.
// A missing snapshot yields an empty log.
func Open(ctx context.Context, kv store.KV, opts ...Option) (*Log, error) {
	l := New(kv, opts...)

	v, err := kv.Get(ctx, store.AuditLogKey)
	if errors.Is(err, store.ErrNotFound) {
		return l, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load audit log: %w", err)
	}

	var entries []Entry
	if err := json.Unmarshal(v.Data, &entries); err != nil {
		return nil, fmt.Errorf("decode audit log: %w", err)
	}
	if len(entries) > l.capacity {
		entries = entries[len(entries)-l.capacity:]
	}
	l.entries = append(l.entries, entries...)
	l.version = v.Version
	return l, nil
}

// Record appends an entry built from in, evicting the oldest entries beyond
// capacity, and persists the snapshot.
//
// A store failure does not undo the append: the entry is returned together
// with an error wrapping ErrPersistenceFailure, and the snapshot is retried
// on the next Record or Flush.
func (l *Log) Record(ctx context.Context, in Input) (Entry, error) {
	if err := in.validate(); err != nil {
		return Entry{}, fmt.Errorf("%w: %v", ErrInvalidEntry, err)
	}

	l.mu.Lock()
	e := Entry{
		ID:          l.ids.Generate(),
		Timestamp:   l.nextTimestamp(),
		ActorID:     in.Actor.ID,
		ActorName:   in.Actor.Name,
		Action:      in.Action,
		Module:      in.Module,
		Severity:    in.Severity,
		SubjectID:   in.SubjectID,
		SubjectName: in.SubjectName,
		Details:     cloneDetails(in.Details),
	}
	l.entries = append(l.entries, e)
	if over := len(l.entries) - l.capacity; over > 0 {
		l.entries = append(make([]Entry, 0, l.capacity), l.entries[over:]...)
	}
	err := l.persistLocked(ctx)
	l.mu.Unlock()

	l.bus.Publish(events.Event{Kind: events.AuditAppended, SubjectID: e.SubjectID, Payload: e})
	if err != nil {
		l.logger.Warn("audit snapshot not persisted; will retry",
			"entry", e.ID, "action", e.Action, "error", err)
		l.bus.Publish(events.Event{Kind: events.AuditPersistFailed, SubjectID: e.SubjectID, Payload: e, Err: err})
		return e, err
	}
	return e, nil
}

// nextTimestamp keeps timestamps non-decreasing in insertion order even if
// the clock steps backwards.
func (l *Log) nextTimestamp() time.Time {
	now := l.clock.Now().UTC()
	if n := len(l.entries); n > 0 && now.Before(l.entries[n-1].Timestamp) {
		return l.entries[n-1].Timestamp
	}
	return now
}

func (l *Log) persistLocked(ctx context.Context) error {
	var lastErr error
	for attempt := 0; attempt < maxPersistAttempts; attempt++ {
		data, err := json.Marshal(l.entries)
		if err != nil {
			l.pending = true
			return fmt.Errorf("%w: encode snapshot: %w", ErrPersistenceFailure, err)
		}
		version, err := l.kv.Set(ctx, store.AuditLogKey, data, l.version)
		if err == nil {
			l.version = version
			l.pending = false
			return nil
		}
		if !errors.Is(err, store.ErrVersionConflict) {
			l.pending = true
			return fmt.Errorf("%w: %w", ErrPersistenceFailure, err)
		}
		lastErr = err
		if err := l.mergeStoredLocked(ctx); err != nil {
			l.pending = true
			return fmt.Errorf("%w: %w", ErrPersistenceFailure, err)
		}
	}
	l.pending = true
	return fmt.Errorf("%w: gave up after %d attempts: %w", ErrPersistenceFailure, maxPersistAttempts, lastErr)
}

// mergeStoredLocked folds the stored snapshot into the in-memory entries.
// Entries are matched by id and ordered by timestamp, stored entries first
// on ties, then trimmed to capacity from the oldest end.
func (l *Log) mergeStoredLocked(ctx context.Context) error {
	v, err := l.kv.Get(ctx, store.AuditLogKey)
	if errors.Is(err, store.ErrNotFound) {
		l.version = 0
		return nil
	}
	if err != nil {
		return fmt.Errorf("reload audit log: %w", err)
	}
	var stored []Entry
	if err := json.Unmarshal(v.Data, &stored); err != nil {
		return fmt.Errorf("decode audit log: %w", err)
	}

	seen := make(map[string]bool, len(stored))
	merged := make([]Entry, 0, len(stored)+len(l.entries))
	for _, e := range stored {
		seen[e.ID] = true
		merged = append(merged, e)
	}
	for _, e := range l.entries {
		if !seen[e.ID] {
			merged = append(merged, e)
		}
	}
	sort.SliceStable(merged, func(i, j int) bool {
		return merged[i].Timestamp.Before(merged[j].Timestamp)
	})
	if over := len(merged) - l.capacity; over > 0 {
		merged = merged[over:]
	}
	l.entries = merged
	l.version = v.Version
	return nil
}

// Flush retries a pending snapshot write. It is a no-op when nothing is
// pending.
func (l *Log) Flush(ctx context.Context) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if !l.pending {
		return nil
	}
	return l.persistLocked(ctx)
}

// Pending reports whether the in-memory log is ahead of the store.
func (l *Log) Pending() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.pending
}

// Len returns the number of retained entries.
func (l *Log) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.entries)
}

// Entries returns a copy of the retained entries, oldest first.
func (l *Log) Entries() []Entry {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]Entry, len(l.entries))
	copy(out, l.entries)
	return out
}
