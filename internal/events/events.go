// Package events is the notification hook collaborators use to react to
// committed transitions, audit appends and draft saves.
//
// Delivery is synchronous and in subscription order. Handlers run after the
// core has finished its own work, so a slow or panicking handler can delay
// the caller but can never undo a commit.
package events

import (
	"fmt"
	"log/slog"
	"sync"
	"time"
)

// Kind identifies what happened.
type Kind string

const (
	SubjectAdmitted     Kind = "subject.admitted"
	TransitionCommitted Kind = "transition.committed"
	TransitionRejected  Kind = "transition.rejected"
	AuditAppended       Kind = "audit.appended"
	AuditPersistFailed  Kind = "audit.persist_failed"
	DraftSaved          Kind = "draft.saved"
	DraftSaveFailed     Kind = "draft.save_failed"
	DraftCleared        Kind = "draft.cleared"
)

// Event is a single notification. Payload holds the domain value that
// changed (a record, an audit entry, a draft) and Err is set for failures.
type Event struct {
	Kind      Kind
	At        time.Time
	SubjectID string
	Slot      string
	Payload   any
	Err       error
}

// Handler receives events.
type Handler func(Event)

// Publisher is what the engines depend on.
type Publisher interface {
	Publish(Event)
}

// Discard drops every event.
var Discard Publisher = discard{}

type discard struct{}

func (discard) Publish(Event) {}

// Bus fans events out to subscribers.
type Bus struct {
	mu     sync.RWMutex
	nextID int
	subs   []subscription
	logger *slog.Logger
}

type subscription struct {
	id    int
	kinds map[Kind]bool
	fn    Handler
}

var _ Publisher = (*Bus)(nil)

// NewBus creates a bus. A nil logger uses slog.Default().
func NewBus(logger *slog.Logger) *Bus {
	if logger == nil {
		logger = slog.Default()
	}
	return &Bus{logger: logger}
}

// Subscribe registers h for the given kinds, or for every kind when none are
// given. The returned function removes the subscription and is safe to call
// more than once.
func (b *Bus) Subscribe(h Handler, kinds ...Kind) (cancel func()) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.nextID++
	sub := subscription{id: b.nextID, fn: h}
	if len(kinds) > 0 {
		sub.kinds = make(map[Kind]bool, len(kinds))
		for _, k := range kinds {
			sub.kinds[k] = true
		}
	}
	b.subs = append(b.subs, sub)

	id := sub.id
	return func() { b.unsubscribe(id) }
}

func (b *Bus) unsubscribe(id int) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for i, s := range b.subs {
		if s.id == id {
			b.subs = append(b.subs[:i:i], b.subs[i+1:]...)
			return
		}
	}
}

// Publish delivers e to every matching subscriber. A nil Bus drops events.
func (b *Bus) Publish(e Event) {
	if b == nil {
		return
	}
	if e.At.IsZero() {
		e.At = time.Now().UTC()
	}

	b.mu.RLock()
	subs := make([]subscription, len(b.subs))
	copy(subs, b.subs)
	b.mu.RUnlock()

	for _, s := range subs {
		if s.kinds != nil && !s.kinds[e.Kind] {
			continue
		}
		b.deliver(s, e)
	}
}

func (b *Bus) deliver(s subscription, e Event) {
	defer func() {
		if r := recover(); r != nil {
			b.logger.Error("event handler panicked",
				"kind", string(e.Kind),
				"subscription", s.id,
				"panic", fmt.Sprint(r))
		}
	}()
	s.fn(e)
}

// Len reports the number of active subscriptions.
func (b *Bus) Len() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs)
}
