// ABOUTME: Registry of live per-user preference handles, one per user id per process
// ABOUTME: Every mutation goes through the handle's lock and is persisted before it becomes visible

package prefs

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"golang.org/x/sync/singleflight"

	"github.com/2389/orchat-gateway/internal/store"
)

// ErrDisposed is returned by Mutate on a handle that was dropped from its registry.
var ErrDisposed = errors.New("preference handle disposed")

// Registry hands out the single live Handle for each user id.
type Registry struct {
	store  store.PreferenceStore
	logger *slog.Logger

	mu      sync.Mutex
	handles map[string]*Handle
	loads   singleflight.Group
}

// NewRegistry creates an empty registry backed by s.
func NewRegistry(s store.PreferenceStore, logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	return &Registry{
		store:   s,
		logger:  logger.With("component", "prefs"),
		handles: make(map[string]*Handle),
	}
}

// Get returns the live handle for userID, loading the persisted record or creating
// and persisting a default one on first access. Concurrent first calls for the same
// user share one load; other users are never blocked by it.
func (r *Registry) Get(ctx context.Context, userID string) (*Handle, error) {
	if userID == "" {
		return nil, errors.New("user id is required")
	}

	if h := r.lookup(userID); h != nil {
		return h, nil
	}

	v, err, _ := r.loads.Do(userID, func() (any, error) {
		if h := r.lookup(userID); h != nil {
			return h, nil
		}

		pref, err := r.load(ctx, userID)
		if err != nil {
			return nil, err
		}

		r.mu.Lock()
		defer r.mu.Unlock()
		if h, ok := r.handles[userID]; ok {
			return h, nil
		}
		h := &Handle{registry: r, pref: pref}
		r.handles[userID] = h
		return h, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*Handle), nil
}

func (r *Registry) lookup(userID string) *Handle {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.handles[userID]
}

// load reads the persisted record or creates the default one.
func (r *Registry) load(ctx context.Context, userID string) (*store.UserPreference, error) {
	pref, err := r.store.GetPreference(ctx, userID)
	if err == nil {
		return pref, nil
	}
	if !errors.Is(err, store.ErrNotFound) {
		return nil, fmt.Errorf("loading preference for %s: %w", userID, err)
	}

	pref = store.NewUserPreference(userID)
	if err := r.store.SavePreference(ctx, pref); err != nil {
		return nil, fmt.Errorf("creating preference for %s: %w", userID, err)
	}
	r.logger.Debug("created preference record", "user_id", userID)
	return pref, nil
}

// Dispose drops the live handle for userID. Persisted data is untouched; the next
// Get loads a fresh handle.
func (r *Registry) Dispose(userID string) {
	r.mu.Lock()
	h, ok := r.handles[userID]
	delete(r.handles, userID)
	r.mu.Unlock()

	if ok {
		h.dispose()
	}
}

// DisposeAll drops every live handle. Used at shutdown.
func (r *Registry) DisposeAll() {
	r.mu.Lock()
	handles := r.handles
	r.handles = make(map[string]*Handle)
	r.mu.Unlock()

	for _, h := range handles {
		h.dispose()
	}
	r.logger.Debug("disposed preference handles", "count", len(handles))
}

// Len returns the number of live handles.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.handles)
}

// Handle is the single live representative of one user's preference record.
type Handle struct {
	registry *Registry

	mu       sync.Mutex
	pref     *store.UserPreference
	disposed bool
}

// UserID returns the user this handle belongs to.
func (h *Handle) UserID() string {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.pref.UserID
}

// Read returns a snapshot of the current record. The snapshot is a copy.
func (h *Handle) Read() *store.UserPreference {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.pref.Clone()
}

// Mutate applies fn to a copy of the record, persists the copy and only then makes
// it current. Calls on the same handle are serialized. If fn or the write fails
// the record is left exactly as it was.
func (h *Handle) Mutate(ctx context.Context, fn func(p *store.UserPreference) error) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.disposed {
		return ErrDisposed
	}

	next := h.pref.Clone()
	if err := fn(next); err != nil {
		return err
	}
	next.UserID = h.pref.UserID

	if err := h.registry.store.SavePreference(ctx, next); err != nil {
		return fmt.Errorf("saving preference for %s: %w", next.UserID, err)
	}

	h.pref = next
	return nil
}

func (h *Handle) dispose() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.disposed = true
}
