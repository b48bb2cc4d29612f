package draft

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/robfig/cron/v3"
)

// DefaultInterval is how often an enabled slot is autosaved.
const DefaultInterval = 30 * time.Second

// Source is the form being edited.
type Source interface {
	// Snapshot returns the current payload and whether it has changes that
	// have not been saved yet.
	Snapshot() (Payload, bool)
	// MarkSaved is called after a successful autosave.
	MarkSaved(at time.Time)
}

// EnableOptions tunes one slot's autosave.
type EnableOptions struct {
	// Interval between ticks; zero means DefaultInterval. cron schedules
	// at whole-second resolution, so shorter intervals become one second.
	Interval time.Duration
	// Enabled is checked on every tick; nil means always enabled.
	Enabled func() bool
}

// Outcome describes what a tick did.
type Outcome string

const (
	OutcomeSaved    Outcome = "saved"
	OutcomeFailed   Outcome = "failed"
	OutcomeDisabled Outcome = "skipped-disabled"
	OutcomeClean    Outcome = "skipped-clean"
	OutcomeEmpty    Outcome = "skipped-empty"
	OutcomeInFlight Outcome = "skipped-in-flight"
)

// ErrSlotNotEnabled is returned by Tick for slots without autosave.
var ErrSlotNotEnabled = errors.New("autosave is not enabled for slot")

// Autosaver runs periodic saves for every enabled slot on one cron
// scheduler. Slots are independent: disabling one leaves the rest running.
type Autosaver struct {
	drafts      *Drafts
	cron        *cron.Cron
	logger      *slog.Logger
	tickTimeout time.Duration

	mu    sync.Mutex
	slots map[string]*autosaveSlot
}

type autosaveSlot struct {
	name     string
	source   Source
	enabled  func() bool
	interval time.Duration
	entry    cron.EntryID
	saving   sync.Mutex // held for the whole of one save
	removed  atomic.Bool
}

// AutosaveOption configures an Autosaver.
type AutosaveOption func(*Autosaver)

func WithAutosaveLogger(logger *slog.Logger) AutosaveOption {
	return func(a *Autosaver) { a.logger = logger }
}

// WithTickTimeout bounds each scheduled save.
func WithTickTimeout(d time.Duration) AutosaveOption {
	return func(a *Autosaver) { a.tickTimeout = d }
}

// NewAutosaver creates an autosaver. Call Start to begin ticking.
func NewAutosaver(d *Drafts, opts ...AutosaveOption) *Autosaver {
	a := &Autosaver{
		drafts:      d,
		logger:      slog.Default(),
		tickTimeout: 10 * time.Second,
		slots:       make(map[string]*autosaveSlot),
	}
	for _, opt := range opts {
		opt(a)
	}
	cronLog := cron.PrintfLogger(slog.NewLogLogger(a.logger.Handler(), slog.LevelWarn))
	a.cron = cron.New(cron.WithChain(cron.Recover(cronLog)))
	return a
}

// Enable starts autosaving slot from src, replacing any previous schedule
// for the slot.
func (a *Autosaver) Enable(slot string, src Source, opts EnableOptions) error {
	if slot == "" {
		return ErrInvalidSlot
	}
	if src == nil {
		return fmt.Errorf("enable autosave %s: source is required", slot)
	}
	interval := opts.Interval
	if interval <= 0 {
		interval = DefaultInterval
	}

	a.mu.Lock()
	defer a.mu.Unlock()
	a.enableLocked(slot, src, opts.Enabled, interval)
	return nil
}

// enableLocked installs a schedule for slot. Must be called with a.mu held.
func (a *Autosaver) enableLocked(slot string, src Source, enabled func() bool, interval time.Duration) *autosaveSlot {
	s := &autosaveSlot{
		name:     slot,
		source:   src,
		enabled:  enabled,
		interval: interval,
	}
	if old, ok := a.slots[slot]; ok {
		old.removed.Store(true)
		a.cron.Remove(old.entry)
	}
	s.entry = a.cron.Schedule(cron.Every(interval), cron.FuncJob(func() {
		ctx, cancel := context.WithTimeout(context.Background(), a.tickTimeout)
		defer cancel()
		a.run(ctx, s)
	}))
	a.slots[slot] = s

	a.logger.Debug("autosave enabled", "slot", slot, "interval", interval)
	return s
}

// Disable stops autosaving slot. No tick starts for the slot after Disable
// returns; a save already in flight is allowed to finish.
func (a *Autosaver) Disable(slot string) {
	a.disable(slot)
}

func (a *Autosaver) disable(slot string) *autosaveSlot {
	a.mu.Lock()
	defer a.mu.Unlock()

	s, ok := a.slots[slot]
	if !ok {
		return nil
	}
	s.removed.Store(true)
	a.cron.Remove(s.entry)
	delete(a.slots, slot)
	a.logger.Debug("autosave disabled", "slot", slot)
	return s
}

// Clear disables autosave for slot, waits for a save in flight to land and
// then discards the stored draft, so no buffered edit can bring it back.
func (a *Autosaver) Clear(ctx context.Context, slot string) error {
	if s := a.disable(slot); s != nil {
		s.saving.Lock() // wait out a save in flight
		s.saving.Unlock()
	}
	return a.drafts.Clear(ctx, slot)
}

// Enabled lists the slots with autosave on.
func (a *Autosaver) Enabled() []string {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := make([]string, 0, len(a.slots))
	for name := range a.slots {
		out = append(out, name)
	}
	return out
}

// Tick runs one autosave attempt for slot immediately. It follows the same
// rules as a scheduled tick.
func (a *Autosaver) Tick(ctx context.Context, slot string) (Outcome, error) {
	a.mu.Lock()
	s, ok := a.slots[slot]
	a.mu.Unlock()
	if !ok {
		return "", fmt.Errorf("%w: %s", ErrSlotNotEnabled, slot)
	}
	return a.run(ctx, s)
}

func (a *Autosaver) run(ctx context.Context, s *autosaveSlot) (Outcome, error) {
	if !s.saving.TryLock() {
		return OutcomeInFlight, nil
	}
	defer s.saving.Unlock()

	// Checked under the save lock so Clear never races a save that has
	// not started yet.
	if s.removed.Load() {
		return OutcomeDisabled, nil
	}
	if s.enabled != nil && !s.enabled() {
		return OutcomeDisabled, nil
	}

	payload, dirty := s.source.Snapshot()
	if !dirty {
		return OutcomeClean, nil
	}

	ack, err := a.drafts.Save(ctx, s.name, payload)
	if err != nil {
		// The source stays dirty so the next tick retries.
		return OutcomeFailed, err
	}
	if !ack.Saved {
		return OutcomeEmpty, nil
	}
	s.source.MarkSaved(ack.SavedAt)
	return OutcomeSaved, nil
}

// Start begins scheduled ticks.
func (a *Autosaver) Start() {
	a.cron.Start()
	a.logger.Info("autosave scheduler started")
}

// Stop halts the scheduler and waits for running saves until ctx is done.
func (a *Autosaver) Stop(ctx context.Context) error {
	done := a.cron.Stop()
	select {
	case <-done.Done():
		a.logger.Info("autosave scheduler stopped")
		return nil
	case <-ctx.Done():
		return fmt.Errorf("stop autosave: %w", ctx.Err())
	}
}
