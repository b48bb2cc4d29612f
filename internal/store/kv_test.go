package store

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// backends returns every KV implementation that runs without external
// services.
func backends(t *testing.T) map[string]KV {
	t.Helper()

	sq, err := Open(filepath.Join(t.TempDir(), "kv.db"))
	require.NoError(t, err)
	t.Cleanup(func() { sq.Close() })

	mem, err := Open(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { mem.Close() })

	return map[string]KV{
		"sqlite":        sq,
		"sqlite-memory": mem,
		"memory":        NewMemory(),
	}
}

func TestKV_GetMissing(t *testing.T) {
	for name, kv := range backends(t) {
		t.Run(name, func(t *testing.T) {
			_, err := kv.Get(context.Background(), "status::nobody")
			assert.ErrorIs(t, err, ErrNotFound)
		})
	}
}

func TestKV_SetGetRoundTrip(t *testing.T) {
	ctx := context.Background()
	for name, kv := range backends(t) {
		t.Run(name, func(t *testing.T) {
			v, err := kv.Set(ctx, "draft::triage", []byte(`{"notes":"x"}`), 0)
			require.NoError(t, err)
			assert.Equal(t, int64(1), v)

			got, err := kv.Get(ctx, "draft::triage")
			require.NoError(t, err)
			assert.Equal(t, `{"notes":"x"}`, string(got.Data))
			assert.Equal(t, int64(1), got.Version)
			assert.False(t, got.UpdatedAt.IsZero())
		})
	}
}

func TestKV_VersionChecks(t *testing.T) {
	ctx := context.Background()
	for name, kv := range backends(t) {
		t.Run(name, func(t *testing.T) {
			_, err := kv.Set(ctx, "k", []byte("a"), 0)
			require.NoError(t, err)

			// Create-only write on an existing key.
			_, err = kv.Set(ctx, "k", []byte("b"), 0)
			assert.ErrorIs(t, err, ErrVersionConflict)

			// Stale version.
			_, err = kv.Set(ctx, "k", []byte("b"), 7)
			assert.ErrorIs(t, err, ErrVersionConflict)

			v, err := kv.Set(ctx, "k", []byte("b"), 1)
			require.NoError(t, err)
			assert.Equal(t, int64(2), v)

			v, err = kv.Set(ctx, "k", []byte("c"), AnyVersion)
			require.NoError(t, err)
			assert.Equal(t, int64(3), v)

			got, err := kv.Get(ctx, "k")
			require.NoError(t, err)
			assert.Equal(t, "c", string(got.Data))
		})
	}
}

func TestKV_ConflictLeavesValueUntouched(t *testing.T) {
	ctx := context.Background()
	for name, kv := range backends(t) {
		t.Run(name, func(t *testing.T) {
			_, err := kv.Set(ctx, "k", []byte("original"), 0)
			require.NoError(t, err)
			_, err = kv.Set(ctx, "k", []byte("lost"), 5)
			require.Error(t, err)

			got, err := kv.Get(ctx, "k")
			require.NoError(t, err)
			assert.Equal(t, "original", string(got.Data))
			assert.Equal(t, int64(1), got.Version)
		})
	}
}

func TestKV_DeleteAndKeys(t *testing.T) {
	ctx := context.Background()
	for name, kv := range backends(t) {
		t.Run(name, func(t *testing.T) {
			for _, k := range []string{"status::b", "status::a", "draft::x", "auditlog::global"} {
				_, err := kv.Set(ctx, k, []byte("{}"), AnyVersion)
				require.NoError(t, err)
			}

			keys, err := kv.Keys(ctx, StatusKeyPrefix)
			require.NoError(t, err)
			assert.Equal(t, []string{"status::a", "status::b"}, keys)

			require.NoError(t, kv.Delete(ctx, "status::a"))
			require.NoError(t, kv.Delete(ctx, "status::missing"))

			keys, err = kv.Keys(ctx, StatusKeyPrefix)
			require.NoError(t, err)
			assert.Equal(t, []string{"status::b"}, keys)

			keys, err = kv.Keys(ctx, "nothing::")
			require.NoError(t, err)
			assert.Empty(t, keys)
		})
	}
}

func TestKV_ConcurrentCreateOnlyOneWins(t *testing.T) {
	ctx := context.Background()
	for name, kv := range backends(t) {
		t.Run(name, func(t *testing.T) {
			const writers = 8
			var (
				wg        sync.WaitGroup
				mu        sync.Mutex
				wins      int
				conflicts int
			)
			for i := 0; i < writers; i++ {
				wg.Add(1)
				go func() {
					defer wg.Done()
					_, err := kv.Set(ctx, "status::p1", []byte("{}"), 0)
					mu.Lock()
					defer mu.Unlock()
					switch {
					case err == nil:
						wins++
					case errors.Is(err, ErrVersionConflict):
						conflicts++
					default:
						t.Errorf("unexpected error: %v", err)
					}
				}()
			}
			wg.Wait()
			assert.Equal(t, 1, wins)
			assert.Equal(t, writers-1, conflicts)
		})
	}
}

func TestMemory_CopiesData(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()
	data := []byte("abc")
	_, err := m.Set(ctx, "k", data, AnyVersion)
	require.NoError(t, err)
	data[0] = 'z'

	got, err := m.Get(ctx, "k")
	require.NoError(t, err)
	assert.Equal(t, "abc", string(got.Data))

	got.Data[1] = 'z'
	again, err := m.Get(ctx, "k")
	require.NoError(t, err)
	assert.Equal(t, "abc", string(again.Data))
}

func TestKeyHelpers(t *testing.T) {
	assert.Equal(t, "status::P-1", StatusKey("P-1"))
	assert.Equal(t, "draft::triage", DraftKey("triage"))
}

func TestEscapeGlob(t *testing.T) {
	assert.Equal(t, `status::`, escapeGlob("status::"))
	assert.Equal(t, `a\*b\?\[c\]\\`, escapeGlob(`a*b?[c]\`))
}
