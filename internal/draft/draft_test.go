package draft

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"

	"github.com/roach88/attend/internal/events"
	"github.com/roach88/attend/internal/store"
	"github.com/roach88/attend/internal/store/mocks"
	"github.com/roach88/attend/internal/testutil"
)

func newTestDrafts(t *testing.T, kv store.KV, opts ...Option) (*Drafts, *testutil.FixedClock) {
	t.Helper()
	clock := testutil.NewFixedClock(time.Time{}, time.Second)
	return New(kv, append([]Option{WithClock(clock)}, opts...)...), clock
}

func TestSaveLoad_RoundTrip(t *testing.T) {
	ctx := context.Background()
	d, _ := newTestDrafts(t, store.NewMemory())

	payload := Payload{
		"complaint":  "headache, 3 days",
		"bloodPress": "12/8",
		"temp":       37.5,
		"allergies":  []any{"dipyrone"},
		"vitals":     map[string]any{"spo2": 98.0},
		"notes":      "",
		"urgent":     false,
	}
	ack, err := d.Save(ctx, "initial-listening:p1", payload)
	require.NoError(t, err)
	assert.True(t, ack.Saved)
	assert.Equal(t, testutil.DefaultEpoch, ack.SavedAt)

	got, err := d.Load(ctx, "initial-listening:p1")
	require.NoError(t, err)
	assert.Equal(t, payload, got.Payload)
	assert.Equal(t, SchemaVersion, got.SchemaVersion)
	assert.Equal(t, ack.SavedAt, got.SavedAt)
	assert.Equal(t, "initial-listening:p1", got.Slot)
}

func TestSave_StoredShape(t *testing.T) {
	ctx := context.Background()
	kv := store.NewMemory()
	d, _ := newTestDrafts(t, kv)

	_, err := d.Save(ctx, "triage", Payload{"notes": "x"})
	require.NoError(t, err)

	v, err := kv.Get(ctx, "draft::triage")
	require.NoError(t, err)
	assert.JSONEq(t, `{"notes":"x","savedAt":"2026-01-15T09:00:00.000Z","schemaVersion":"1.0"}`, string(v.Data))
}

func TestSave_EmptyPayloadNotPersisted(t *testing.T) {
	ctx := context.Background()
	d, _ := newTestDrafts(t, store.NewMemory())

	for _, p := range []Payload{
		nil,
		{},
		{"notes": "", "temp": nil, "urgent": false},
		{"tags": []any{}, "vitals": map[string]any{"spo2": nil}},
		{"notes": "   \t\n"},
	} {
		ack, err := d.Save(ctx, "triage", p)
		require.NoError(t, err)
		assert.False(t, ack.Saved)
	}

	_, err := d.Load(ctx, "triage")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestSave_EmptyPayloadKeepsExistingDraft(t *testing.T) {
	ctx := context.Background()
	d, _ := newTestDrafts(t, store.NewMemory())

	_, err := d.Save(ctx, "triage", Payload{"notes": "keep me"})
	require.NoError(t, err)
	_, err = d.Save(ctx, "triage", Payload{"notes": ""})
	require.NoError(t, err)

	got, err := d.Load(ctx, "triage")
	require.NoError(t, err)
	assert.Equal(t, "keep me", got.Payload["notes"])
}

func TestSave_ReplacesWholeDraft(t *testing.T) {
	ctx := context.Background()
	d, _ := newTestDrafts(t, store.NewMemory())

	_, err := d.Save(ctx, "triage", Payload{"a": "1", "b": "2"})
	require.NoError(t, err)
	_, err = d.Save(ctx, "triage", Payload{"c": "3"})
	require.NoError(t, err)

	got, err := d.Load(ctx, "triage")
	require.NoError(t, err)
	assert.Equal(t, Payload{"c": "3"}, got.Payload)
}

func TestSave_RejectsReservedFieldsAndBlankSlot(t *testing.T) {
	ctx := context.Background()
	d, _ := newTestDrafts(t, store.NewMemory())

	_, err := d.Save(ctx, "triage", Payload{"savedAt": "yesterday", "notes": "x"})
	assert.ErrorIs(t, err, ErrReservedField)
	_, err = d.Save(ctx, "triage", Payload{"schemaVersion": "2.0"})
	assert.ErrorIs(t, err, ErrReservedField)
	_, err = d.Save(ctx, " ", Payload{"notes": "x"})
	assert.ErrorIs(t, err, ErrInvalidSlot)
	_, err = d.Load(ctx, "")
	assert.ErrorIs(t, err, ErrInvalidSlot)
}

func TestSave_SavedAtNeverDecreases(t *testing.T) {
	ctx := context.Background()
	kv := store.NewMemory()
	d, clock := newTestDrafts(t, kv)

	first, err := d.Save(ctx, "triage", Payload{"notes": "a"})
	require.NoError(t, err)

	clock.Set(first.SavedAt.Add(-time.Hour))
	second, err := d.Save(ctx, "triage", Payload{"notes": "b"})
	require.NoError(t, err)
	assert.Equal(t, first.SavedAt, second.SavedAt)

	// A fresh instance picks the previous stamp up from the store.
	restarted, _ := newTestDrafts(t, kv)
	restartedClock := testutil.NewFixedClock(first.SavedAt.Add(-24*time.Hour), 0)
	restarted.clock = restartedClock
	third, err := restarted.Save(ctx, "triage", Payload{"notes": "c"})
	require.NoError(t, err)
	assert.Equal(t, first.SavedAt, third.SavedAt)

	// Other slots are unaffected.
	other, err := restarted.Save(ctx, "vaccination", Payload{"lot": "L-1"})
	require.NoError(t, err)
	assert.True(t, other.SavedAt.Before(first.SavedAt))
}

func TestLoad_IncompatibleSchema(t *testing.T) {
	ctx := context.Background()
	kv := store.NewMemory()
	d, _ := newTestDrafts(t, kv)

	cases := map[string]string{
		"old version":   `{"notes":"x","savedAt":"2026-01-15T09:00:00.000Z","schemaVersion":"0.9"}`,
		"no version":    `{"notes":"x","savedAt":"2026-01-15T09:00:00.000Z"}`,
		"bad savedAt":   `{"notes":"x","savedAt":"yesterday","schemaVersion":"1.0"}`,
		"not an object": `["notes"]`,
	}
	for name, raw := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := kv.Set(ctx, store.DraftKey("legacy"), []byte(raw), store.AnyVersion)
			require.NoError(t, err)
			_, err = d.Load(ctx, "legacy")
			assert.ErrorIs(t, err, ErrIncompatibleSchema)
		})
	}
}

func TestSave_OverwritesIncompatibleDraft(t *testing.T) {
	ctx := context.Background()
	kv := store.NewMemory()
	d, _ := newTestDrafts(t, kv)

	_, err := kv.Set(ctx, store.DraftKey("legacy"), []byte(`{"schemaVersion":"0.1"}`), store.AnyVersion)
	require.NoError(t, err)

	ack, err := d.Save(ctx, "legacy", Payload{"notes": "new"})
	require.NoError(t, err)
	assert.True(t, ack.Saved)

	got, err := d.Load(ctx, "legacy")
	require.NoError(t, err)
	assert.Equal(t, "new", got.Payload["notes"])
}

func TestClear(t *testing.T) {
	ctx := context.Background()
	bus := events.NewBus(nil)
	var kinds []events.Kind
	bus.Subscribe(func(e events.Event) { kinds = append(kinds, e.Kind) })
	d, _ := newTestDrafts(t, store.NewMemory(), WithEvents(bus))

	_, err := d.Save(ctx, "triage", Payload{"notes": "x"})
	require.NoError(t, err)
	require.NoError(t, d.Clear(ctx, "triage"))
	require.NoError(t, d.Clear(ctx, "triage"))

	_, err = d.Load(ctx, "triage")
	assert.ErrorIs(t, err, ErrNotFound)
	assert.Equal(t, []events.Kind{events.DraftSaved, events.DraftCleared, events.DraftCleared}, kinds)
}

func TestSlots(t *testing.T) {
	ctx := context.Background()
	d, _ := newTestDrafts(t, store.NewMemory())
	for _, s := range []string{"vaccination:p2", "attendance:p1"} {
		_, err := d.Save(ctx, s, Payload{"x": "y"})
		require.NoError(t, err)
	}
	slots, err := d.Slots(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"attendance:p1", "vaccination:p2"}, slots)
}

func TestSave_StoreFailurePublishes(t *testing.T) {
	ctx := context.Background()
	ctrl := gomock.NewController(t)
	kv := mocks.NewMockKV(ctrl)

	bus := events.NewBus(nil)
	var failed []events.Event
	bus.Subscribe(func(e events.Event) { failed = append(failed, e) }, events.DraftSaveFailed)
	d, _ := newTestDrafts(t, kv, WithEvents(bus))

	kv.EXPECT().Get(gomock.Any(), "draft::triage").Return(store.Value{}, store.ErrNotFound)
	kv.EXPECT().Set(gomock.Any(), "draft::triage", gomock.Any(), store.AnyVersion).
		Return(int64(0), errors.New("quota exceeded"))

	ack, err := d.Save(ctx, "triage", Payload{"notes": "x"})
	require.Error(t, err)
	assert.False(t, ack.Saved)
	require.Len(t, failed, 1)
	assert.Equal(t, "triage", failed[0].Slot)
	assert.ErrorContains(t, failed[0].Err, "quota exceeded")
}

func TestMeaningful(t *testing.T) {
	tests := []struct {
		name string
		p    Payload
		want bool
	}{
		{"nil payload", nil, false},
		{"blank string", Payload{"a": " "}, false},
		{"text", Payload{"a": "x"}, true},
		{"zero number", Payload{"a": 0.0}, true},
		{"int", Payload{"a": 3}, true},
		{"false", Payload{"a": false}, false},
		{"true", Payload{"a": true}, true},
		{"empty list", Payload{"a": []any{}}, false},
		{"list of blanks", Payload{"a": []any{"", nil}}, false},
		{"list with value", Payload{"a": []any{"", "x"}}, true},
		{"string slice", Payload{"a": []string{"", "x"}}, true},
		{"empty string slice", Payload{"a": []string{}}, false},
		{"nested object", Payload{"a": map[string]any{"b": map[string]any{"c": "x"}}}, true},
		{"nested blanks", Payload{"a": map[string]any{"b": map[string]any{"c": ""}}}, false},
		{"nil pointer", Payload{"a": (*string)(nil)}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Meaningful(tt.p))
		})
	}
}
