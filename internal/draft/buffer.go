package draft

import (
	"strings"
	"sync"
	"time"
)

// Buffer is an in-memory Source for edits that arrive one request at a time,
// such as over HTTP. An Autosaver flushes it on schedule.
type Buffer struct {
	mu       sync.Mutex
	payload  Payload
	gen      uint64
	snapGen  uint64
	savedGen uint64
	savedAt  time.Time
}

var _ Source = (*Buffer)(nil)

func NewBuffer() *Buffer {
	return &Buffer{}
}

// Update replaces the buffered payload and marks it dirty.
func (b *Buffer) Update(p Payload) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.payload = copyPayload(p)
	b.gen++
}

func (b *Buffer) Snapshot() (Payload, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.snapGen = b.gen
	return copyPayload(b.payload), b.gen != b.savedGen
}

// MarkSaved clears the dirty flag only up to the last snapshot, so an
// Update racing with a save stays dirty.
func (b *Buffer) MarkSaved(at time.Time) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.savedGen = b.snapGen
	b.savedAt = at
}

// State reports whether unsaved edits exist and when the last save landed.
func (b *Buffer) State() (dirty bool, savedAt time.Time) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.gen != b.savedGen, b.savedAt
}

// Buffer returns the Buffer autosaved under slot, enabling autosave with
// interval on first use. Concurrent first calls for one slot share a Buffer.
func (a *Autosaver) Buffer(slot string, interval time.Duration) (*Buffer, error) {
	if strings.TrimSpace(slot) == "" {
		return nil, ErrInvalidSlot
	}
	if interval <= 0 {
		interval = DefaultInterval
	}

	a.mu.Lock()
	defer a.mu.Unlock()
	if s, ok := a.slots[slot]; ok {
		if b, ok := s.source.(*Buffer); ok {
			return b, nil
		}
	}
	b := NewBuffer()
	a.enableLocked(slot, b, nil, interval)
	return b, nil
}

func copyPayload(p Payload) Payload {
	if p == nil {
		return nil
	}
	out := make(Payload, len(p))
	for k, v := range p {
		out[k] = v
	}
	return out
}
