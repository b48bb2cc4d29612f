// Package draft keeps in-progress form data safe between edits.
//
// A draft lives at store.DraftKey(slot) as a flat JSON object holding the
// payload fields plus savedAt and schemaVersion. Saving replaces the slot
// wholesale; loading rejects drafts written under another schema version
// rather than guessing at their shape.
package draft

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/roach88/attend/internal/events"
	"github.com/roach88/attend/internal/store"
)

// SchemaVersion is stamped on every saved draft.
const SchemaVersion = "1.0"

// Reserved field names added by Save.
const (
	FieldSavedAt       = "savedAt"
	FieldSchemaVersion = "schemaVersion"
)

// SavedAtLayout is the ISO-8601 form of savedAt, millisecond precision.
const SavedAtLayout = "2006-01-02T15:04:05.000Z07:00"

var (
	// ErrNotFound means the slot holds no draft. It is a normal result.
	ErrNotFound = errors.New("draft not found")

	// ErrIncompatibleSchema is returned by Load for drafts written under a
	// different schema version.
	ErrIncompatibleSchema = errors.New("draft schema version is incompatible")

	// ErrReservedField is returned by Save when the payload uses a field
	// name the store adds itself.
	ErrReservedField = errors.New("payload uses a reserved field name")

	// ErrInvalidSlot is returned for blank slot names.
	ErrInvalidSlot = errors.New("draft slot is required")
)

// Payload is the form data being drafted. Values should be JSON-shaped
// (strings, float64, bool, nil, []any, map[string]any); Load returns them
// in that form.
type Payload map[string]any

// Draft is a loaded draft.
type Draft struct {
	Slot          string    `json:"slot"`
	Payload       Payload   `json:"payload"`
	SavedAt       time.Time `json:"savedAt"`
	SchemaVersion string    `json:"schemaVersion"`
}

// Ack reports the outcome of Save. Saved is false when the payload had
// nothing worth keeping.
type Ack struct {
	Saved   bool      `json:"saved"`
	SavedAt time.Time `json:"savedAt,omitempty"`
}

// Clock supplies savedAt stamps.
type Clock interface {
	Now() time.Time
}

type systemClock struct{}

func (systemClock) Now() time.Time { return time.Now().UTC() }

// Drafts saves, loads and clears drafts.
type Drafts struct {
	kv     store.KV
	clock  Clock
	bus    events.Publisher
	logger *slog.Logger

	mu        sync.Mutex // guards lastSaved and locks
	lastSaved map[string]time.Time
	locks     map[string]*sync.Mutex
}

// Option configures Drafts.
type Option func(*Drafts)

func WithClock(c Clock) Option { return func(d *Drafts) { d.clock = c } }

func WithEvents(p events.Publisher) Option {
	return func(d *Drafts) {
		if p != nil {
			d.bus = p
		}
	}
}

func WithLogger(logger *slog.Logger) Option { return func(d *Drafts) { d.logger = logger } }

func New(kv store.KV, opts ...Option) *Drafts {
	d := &Drafts{
		kv:        kv,
		clock:     systemClock{},
		bus:       events.Discard,
		logger:    slog.Default(),
		lastSaved: make(map[string]time.Time),
		locks:     make(map[string]*sync.Mutex),
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Save stores p in slot, replacing any previous draft.
//
// Payloads with no meaningful field are not written and return
// Ack{Saved: false}. savedAt never moves backwards for a slot, even when
// the clock does.
func (d *Drafts) Save(ctx context.Context, slot string, p Payload) (Ack, error) {
	if strings.TrimSpace(slot) == "" {
		return Ack{}, ErrInvalidSlot
	}
	for _, f := range []string{FieldSavedAt, FieldSchemaVersion} {
		if _, ok := p[f]; ok {
			return Ack{}, fmt.Errorf("%w: %q", ErrReservedField, f)
		}
	}
	if !Meaningful(p) {
		return Ack{Saved: false}, nil
	}

	lock := d.slotLock(slot)
	lock.Lock()
	defer lock.Unlock()

	savedAt, err := d.nextSavedAt(ctx, slot)
	if err != nil {
		return Ack{}, d.saveFailed(slot, err)
	}

	doc := make(map[string]any, len(p)+2)
	for k, v := range p {
		doc[k] = v
	}
	doc[FieldSavedAt] = savedAt.Format(SavedAtLayout)
	doc[FieldSchemaVersion] = SchemaVersion

	data, err := json.Marshal(doc)
	if err != nil {
		return Ack{}, d.saveFailed(slot, fmt.Errorf("encode draft: %w", err))
	}
	if _, err := d.kv.Set(ctx, store.DraftKey(slot), data, store.AnyVersion); err != nil {
		return Ack{}, d.saveFailed(slot, err)
	}

	d.mu.Lock()
	d.lastSaved[slot] = savedAt
	d.mu.Unlock()

	ack := Ack{Saved: true, SavedAt: savedAt}
	d.bus.Publish(events.Event{Kind: events.DraftSaved, Slot: slot, Payload: ack})
	return ack, nil
}

// slotLock serialises saves within one slot while leaving other slots free.
func (d *Drafts) slotLock(slot string) *sync.Mutex {
	d.mu.Lock()
	defer d.mu.Unlock()
	l, ok := d.locks[slot]
	if !ok {
		l = &sync.Mutex{}
		d.locks[slot] = l
	}
	return l
}

func (d *Drafts) saveFailed(slot string, err error) error {
	err = fmt.Errorf("save draft %s: %w", slot, err)
	d.logger.Warn("draft not saved", "slot", slot, "error", err)
	d.bus.Publish(events.Event{Kind: events.DraftSaveFailed, Slot: slot, Err: err})
	return err
}

// nextSavedAt returns now, clamped to the last savedAt known for the slot.
// The previous stamp comes from memory, or from the stored draft after a
// restart. Must be called with the slot lock held.
func (d *Drafts) nextSavedAt(ctx context.Context, slot string) (time.Time, error) {
	now := d.clock.Now().UTC().Truncate(time.Millisecond)

	d.mu.Lock()
	prev, ok := d.lastSaved[slot]
	d.mu.Unlock()
	if !ok {
		stored, err := d.load(ctx, slot)
		switch {
		case err == nil:
			prev = stored.SavedAt
		case errors.Is(err, ErrNotFound), errors.Is(err, ErrIncompatibleSchema):
		default:
			return time.Time{}, err
		}
	}
	if now.Before(prev) {
		return prev, nil
	}
	return now, nil
}

// Load returns the draft in slot, ErrNotFound when there is none, or
// ErrIncompatibleSchema when it was written under another schema version.
func (d *Drafts) Load(ctx context.Context, slot string) (Draft, error) {
	if strings.TrimSpace(slot) == "" {
		return Draft{}, ErrInvalidSlot
	}
	return d.load(ctx, slot)
}

func (d *Drafts) load(ctx context.Context, slot string) (Draft, error) {
	v, err := d.kv.Get(ctx, store.DraftKey(slot))
	if errors.Is(err, store.ErrNotFound) {
		return Draft{}, ErrNotFound
	}
	if err != nil {
		return Draft{}, fmt.Errorf("load draft %s: %w", slot, err)
	}

	var doc map[string]any
	if err := json.Unmarshal(v.Data, &doc); err != nil {
		return Draft{}, fmt.Errorf("load draft %s: %w: %v", slot, ErrIncompatibleSchema, err)
	}

	version, _ := doc[FieldSchemaVersion].(string)
	if version != SchemaVersion {
		return Draft{}, fmt.Errorf("load draft %s: %w: found %q, want %q",
			slot, ErrIncompatibleSchema, version, SchemaVersion)
	}
	rawSavedAt, _ := doc[FieldSavedAt].(string)
	savedAt, err := time.Parse(SavedAtLayout, rawSavedAt)
	if err != nil {
		return Draft{}, fmt.Errorf("load draft %s: %w: bad savedAt %q", slot, ErrIncompatibleSchema, rawSavedAt)
	}

	delete(doc, FieldSchemaVersion)
	delete(doc, FieldSavedAt)
	return Draft{
		Slot:          slot,
		Payload:       Payload(doc),
		SavedAt:       savedAt.UTC(),
		SchemaVersion: version,
	}, nil
}

// Clear removes the draft in slot. Clearing an empty slot succeeds.
func (d *Drafts) Clear(ctx context.Context, slot string) error {
	if strings.TrimSpace(slot) == "" {
		return ErrInvalidSlot
	}
	if err := d.kv.Delete(ctx, store.DraftKey(slot)); err != nil {
		return fmt.Errorf("clear draft %s: %w", slot, err)
	}
	d.bus.Publish(events.Event{Kind: events.DraftCleared, Slot: slot})
	return nil
}

// Slots lists the slots that currently hold a draft.
func (d *Drafts) Slots(ctx context.Context) ([]string, error) {
	keys, err := d.kv.Keys(ctx, store.DraftKeyPrefix)
	if err != nil {
		return nil, fmt.Errorf("list drafts: %w", err)
	}
	slots := make([]string, len(keys))
	for i, k := range keys {
		slots[i] = strings.TrimPrefix(k, store.DraftKeyPrefix)
	}
	return slots, nil
}
