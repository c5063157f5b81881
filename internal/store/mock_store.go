// ABOUTME: Mock Store implementation for testing
// ABOUTME: Allows tests to run without SQLite

package store

import (
	"context"
	"slices"
	"sort"
	"sync"
	"time"
)

// MockStore is an in-memory Store implementation for testing.
type MockStore struct {
	mu          sync.RWMutex
	contexts    map[string]*ChatContext    // keyed by context ID
	preferences map[string]*UserPreference // keyed by user ID
	roles       map[string][]RoleName      // keyed by user ID
	audit       []AuditEntry

	// Hooks let tests inject storage failures.
	UpdateContextErr  error
	DeleteContextErr  error
	SavePreferenceErr error

	// SavePreferenceCalls counts SavePreference invocations.
	SavePreferenceCalls int
}

// NewMockStore creates a new MockStore.
func NewMockStore() *MockStore {
	return &MockStore{
		contexts:    make(map[string]*ChatContext),
		preferences: make(map[string]*UserPreference),
		roles:       make(map[string][]RoleName),
	}
}

// CreateContext stores a new context, rejecting duplicate ids.
func (m *MockStore) CreateContext(ctx context.Context, c *ChatContext) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.contexts[c.ID]; exists {
		return ErrDuplicateContext
	}

	if c.CreatedAt.IsZero() {
		c.CreatedAt = time.Now().UTC()
	}
	if c.UpdatedAt.IsZero() {
		c.UpdatedAt = c.CreatedAt
	}

	stored := c.Clone()
	if stored.Messages == nil {
		stored.Messages = []ContextMessage{}
	}
	m.contexts[c.ID] = stored
	return nil
}

// GetContext retrieves a copy of a context by ID.
func (m *MockStore) GetContext(ctx context.Context, id string) (*ChatContext, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	c, ok := m.contexts[id]
	if !ok {
		return nil, ErrNotFound
	}
	return c.Clone(), nil
}

// UpdateContext replaces messages and model of a stored context.
func (m *MockStore) UpdateContext(ctx context.Context, id string, messages []ContextMessage, model string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.UpdateContextErr != nil {
		return m.UpdateContextErr
	}

	c, ok := m.contexts[id]
	if !ok {
		return ErrNotFound
	}
	c.Messages = slices.Clone(messages)
	c.Model = model
	c.UpdatedAt = time.Now().UTC()
	return nil
}

// DeleteContext removes a context.
func (m *MockStore) DeleteContext(ctx context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.DeleteContextErr != nil {
		return m.DeleteContextErr
	}
	if _, ok := m.contexts[id]; !ok {
		return ErrNotFound
	}
	delete(m.contexts, id)
	return nil
}

// ListContextsByOwner returns copies of owner's contexts sorted by creation time then id.
func (m *MockStore) ListContextsByOwner(ctx context.Context, owner string) ([]*ChatContext, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	result := []*ChatContext{}
	for _, c := range m.contexts {
		if c.Owner == owner {
			result = append(result, c.Clone())
		}
	}

	sort.Slice(result, func(i, j int) bool {
		if !result[i].CreatedAt.Equal(result[j].CreatedAt) {
			return result[i].CreatedAt.Before(result[j].CreatedAt)
		}
		return result[i].ID < result[j].ID
	})
	return result, nil
}

// GetPreference retrieves a copy of a user's preference record.
func (m *MockStore) GetPreference(ctx context.Context, userID string) (*UserPreference, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	p, ok := m.preferences[userID]
	if !ok {
		return nil, ErrNotFound
	}
	return p.Clone(), nil
}

// SavePreference replaces a user's preference record.
func (m *MockStore) SavePreference(ctx context.Context, pref *UserPreference) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.SavePreferenceCalls++
	if m.SavePreferenceErr != nil {
		return m.SavePreferenceErr
	}

	pref.UpdatedAt = time.Now().UTC()
	m.preferences[pref.UserID] = pref.Clone()
	return nil
}

// AddRole adds a role to a user.
func (m *MockStore) AddRole(ctx context.Context, userID string, role RoleName) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !slices.Contains(m.roles[userID], role) {
		m.roles[userID] = append(m.roles[userID], role)
	}
	return nil
}

// RemoveRole removes a role from a user.
func (m *MockStore) RemoveRole(ctx context.Context, userID string, role RoleName) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.roles[userID] = slices.DeleteFunc(m.roles[userID], func(r RoleName) bool { return r == role })
	return nil
}

// HasRole checks if a user has a role.
func (m *MockStore) HasRole(ctx context.Context, userID string, role RoleName) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	return slices.Contains(m.roles[userID], role), nil
}

// ListRoles returns a user's roles sorted by name.
func (m *MockStore) ListRoles(ctx context.Context, userID string) ([]RoleName, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	roles := slices.Clone(m.roles[userID])
	if roles == nil {
		roles = []RoleName{}
	}
	slices.Sort(roles)
	return roles, nil
}

// AppendAuditLog records an audit entry.
func (m *MockStore) AppendAuditLog(ctx context.Context, e *AuditEntry) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	prepareAuditEntry(e)
	m.audit = append(m.audit, *e)
	return nil
}

// ListAuditLog returns matching audit entries, newest first.
func (m *MockStore) ListAuditLog(ctx context.Context, f AuditFilter) ([]AuditEntry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	entries := []AuditEntry{}
	for i := len(m.audit) - 1; i >= 0; i-- {
		e := m.audit[i]
		if f.ActorUserID != nil && e.ActorUserID != *f.ActorUserID {
			continue
		}
		if f.Action != nil && e.Action != *f.Action {
			continue
		}
		if f.TargetType != nil && e.TargetType != *f.TargetType {
			continue
		}
		if f.TargetID != nil && e.TargetID != *f.TargetID {
			continue
		}
		entries = append(entries, e)
		if len(entries) >= normalizeAuditLimit(f.Limit) {
			break
		}
	}
	return entries, nil
}

// Close is a no-op for the mock.
func (m *MockStore) Close() error {
	return nil
}

// Compile-time interface checks.
var (
	_ Store = (*MockStore)(nil)
	_ Store = (*SQLiteStore)(nil)
)
