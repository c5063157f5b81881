// ABOUTME: Tests for the preference registry and serialized handle mutation
// ABOUTME: Covers lazy creation, failed edits, disposal and lost-update freedom

package prefs

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/2389/orchat-gateway/internal/store"
)

func newTestRegistry(t *testing.T) (*Registry, *store.MockStore) {
	t.Helper()
	s := store.NewMockStore()
	return NewRegistry(s, nil), s
}

func TestRegistry_Get_CreatesDefaultRecord(t *testing.T) {
	r, s := newTestRegistry(t)
	ctx := context.Background()

	h, err := r.Get(ctx, "u1")
	require.NoError(t, err)

	pref := h.Read()
	assert.Equal(t, "u1", pref.UserID)
	assert.Nil(t, pref.DefaultContext)
	assert.Nil(t, pref.DefaultModel)
	assert.Empty(t, pref.AvailableModels)

	// Default record was persisted
	persisted, err := s.GetPreference(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, "u1", persisted.UserID)
}

func TestRegistry_Get_LoadsExistingRecord(t *testing.T) {
	r, s := newTestRegistry(t)
	ctx := context.Background()

	existing := store.NewUserPreference("u1")
	existing.AddModel("m-pro")
	require.NoError(t, s.SavePreference(ctx, existing))

	h, err := r.Get(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, []string{"m-pro"}, h.Read().AvailableModels)
}

func TestRegistry_Get_SameHandle(t *testing.T) {
	r, _ := newTestRegistry(t)
	ctx := context.Background()

	h1, err := r.Get(ctx, "u1")
	require.NoError(t, err)
	h2, err := r.Get(ctx, "u1")
	require.NoError(t, err)
	other, err := r.Get(ctx, "u2")
	require.NoError(t, err)

	assert.Same(t, h1, h2)
	assert.NotSame(t, h1, other)
	assert.Equal(t, 2, r.Len())
}

func TestRegistry_Get_ConcurrentFirstAccess(t *testing.T) {
	r, s := newTestRegistry(t)
	ctx := context.Background()

	const n = 50
	handles := make([]*Handle, n)
	var wg sync.WaitGroup
	wg.Add(n)
	for i := 0; i < n; i++ {
		go func(i int) {
			defer wg.Done()
			h, err := r.Get(ctx, "u1")
			assert.NoError(t, err)
			handles[i] = h
		}(i)
	}
	wg.Wait()

	for _, h := range handles {
		assert.Same(t, handles[0], h)
	}
	assert.Equal(t, 1, s.SavePreferenceCalls, "default record is created once")
}

func TestRegistry_Get_EmptyUser(t *testing.T) {
	r, _ := newTestRegistry(t)

	_, err := r.Get(context.Background(), "")
	assert.Error(t, err)
}

func TestRegistry_Get_StoreFailure(t *testing.T) {
	r, s := newTestRegistry(t)
	s.SavePreferenceErr = errors.New("disk full")

	_, err := r.Get(context.Background(), "u1")
	require.Error(t, err)
	assert.Equal(t, 0, r.Len(), "failed load must not register a handle")

	s.SavePreferenceErr = nil
	_, err = r.Get(context.Background(), "u1")
	assert.NoError(t, err)
}

func TestHandle_Mutate_VisibleAndPersisted(t *testing.T) {
	r, s := newTestRegistry(t)
	ctx := context.Background()

	h, err := r.Get(ctx, "u1")
	require.NoError(t, err)

	err = h.Mutate(ctx, func(p *store.UserPreference) error {
		model := "m-pro"
		p.DefaultModel = &model
		return nil
	})
	require.NoError(t, err)

	// Visible through another lookup of the same user without reload
	h2, err := r.Get(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, "m-pro", h2.Read().DefaultModelID())

	persisted, err := s.GetPreference(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, "m-pro", persisted.DefaultModelID())
}

func TestHandle_Mutate_EditErrorLeavesRecord(t *testing.T) {
	r, _ := newTestRegistry(t)
	ctx := context.Background()

	h, err := r.Get(ctx, "u1")
	require.NoError(t, err)

	boom := errors.New("boom")
	err = h.Mutate(ctx, func(p *store.UserPreference) error {
		p.AddModel("m-pro")
		return boom
	})
	assert.ErrorIs(t, err, boom)
	assert.Empty(t, h.Read().AvailableModels, "a failed edit must not partially apply")
}

func TestHandle_Mutate_SaveErrorLeavesRecord(t *testing.T) {
	r, s := newTestRegistry(t)
	ctx := context.Background()

	h, err := r.Get(ctx, "u1")
	require.NoError(t, err)

	s.SavePreferenceErr = errors.New("disk full")
	err = h.Mutate(ctx, func(p *store.UserPreference) error {
		p.AddModel("m-pro")
		return nil
	})
	require.Error(t, err)
	assert.Empty(t, h.Read().AvailableModels)

	s.SavePreferenceErr = nil
	persisted, err := s.GetPreference(ctx, "u1")
	require.NoError(t, err)
	assert.Empty(t, persisted.AvailableModels)
}

func TestHandle_Read_ReturnsCopy(t *testing.T) {
	r, _ := newTestRegistry(t)

	h, err := r.Get(context.Background(), "u1")
	require.NoError(t, err)

	snapshot := h.Read()
	snapshot.AddModel("sneaky")
	assert.Empty(t, h.Read().AvailableModels)
}

func TestHandle_Mutate_CannotChangeUserID(t *testing.T) {
	r, _ := newTestRegistry(t)
	ctx := context.Background()

	h, err := r.Get(ctx, "u1")
	require.NoError(t, err)

	require.NoError(t, h.Mutate(ctx, func(p *store.UserPreference) error {
		p.UserID = "u2"
		return nil
	}))
	assert.Equal(t, "u1", h.UserID())
}

// Concurrent grants and revokes on distinct models commute, so the result must
// equal the sequential result. A lost update would drop a model.
func TestHandle_Mutate_NoLostUpdates(t *testing.T) {
	ctx := context.Background()

	type op struct {
		model string
		allow bool
	}
	var ops []op
	for i := 0; i < 40; i++ {
		ops = append(ops, op{model: fmt.Sprintf("m-%02d", i), allow: true})
	}
	for i := 0; i < 40; i += 3 {
		ops = append(ops, op{model: fmt.Sprintf("m-%02d", i), allow: false})
	}

	apply := func(h *Handle, o op) error {
		return h.Mutate(ctx, func(p *store.UserPreference) error {
			if o.allow {
				p.AddModel(o.model)
			} else {
				p.RemoveModel(o.model)
			}
			return nil
		})
	}

	// Sequential reference
	seqReg, _ := newTestRegistry(t)
	seq, err := seqReg.Get(ctx, "u1")
	require.NoError(t, err)
	for _, o := range ops {
		require.NoError(t, apply(seq, o))
	}

	// Concurrent grants first, then concurrent revokes so every interleaving is consistent
	conReg, conStore := newTestRegistry(t)
	con, err := conReg.Get(ctx, "u1")
	require.NoError(t, err)

	run := func(batch []op) {
		var wg sync.WaitGroup
		for _, o := range batch {
			wg.Add(1)
			go func(o op) {
				defer wg.Done()
				assert.NoError(t, apply(con, o))
			}(o)
		}
		wg.Wait()
	}
	run(ops[:40])
	run(ops[40:])

	want := seq.Read().AvailableModels
	got := con.Read().AvailableModels
	sort.Strings(want)
	sort.Strings(got)
	assert.Equal(t, want, got)

	persisted, err := conStore.GetPreference(ctx, "u1")
	require.NoError(t, err)
	assert.ElementsMatch(t, want, persisted.AvailableModels, "last persisted write holds every update")
}

func TestRegistry_Dispose(t *testing.T) {
	r, _ := newTestRegistry(t)
	ctx := context.Background()

	h, err := r.Get(ctx, "u1")
	require.NoError(t, err)
	require.NoError(t, h.Mutate(ctx, func(p *store.UserPreference) error {
		p.AddModel("m-pro")
		return nil
	}))

	r.Dispose("u1")
	assert.Equal(t, 0, r.Len())
	assert.ErrorIs(t, h.Mutate(ctx, func(*store.UserPreference) error { return nil }), ErrDisposed)

	// Persisted data survives and a fresh handle is loaded
	fresh, err := r.Get(ctx, "u1")
	require.NoError(t, err)
	assert.NotSame(t, h, fresh)
	assert.Equal(t, []string{"m-pro"}, fresh.Read().AvailableModels)

	// Disposing an unknown user is harmless
	r.Dispose("nobody")
}

func TestRegistry_DisposeAll(t *testing.T) {
	r, _ := newTestRegistry(t)
	ctx := context.Background()

	for _, u := range []string{"u1", "u2", "u3"} {
		_, err := r.Get(ctx, u)
		require.NoError(t, err)
	}
	require.Equal(t, 3, r.Len())

	r.DisposeAll()
	assert.Equal(t, 0, r.Len())
}
