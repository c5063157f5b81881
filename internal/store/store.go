// ABOUTME: Store interfaces and data types for orchat-gateway persistence
// ABOUTME: Defines ChatContext, UserPreference and the interfaces the services depend on

package store

import (
	"context"
	"errors"
	"slices"
	"time"
)

// ErrNotFound is returned when a requested entity does not exist
var ErrNotFound = errors.New("not found")

// ErrDuplicateContext is returned when trying to create a context whose id is already taken
var ErrDuplicateContext = errors.New("context already exists")

// Role is the author of a message inside a chat context
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Valid reports whether r is one of the known message roles.
func (r Role) Valid() bool {
	switch r {
	case RoleSystem, RoleUser, RoleAssistant:
		return true
	}
	return false
}

// ContextMessage is one entry of a conversation transcript
type ContextMessage struct {
	Role    Role   `json:"role"`
	Content string `json:"content"`
}

// ChatContext is a persisted, owned conversation transcript bound to one model.
// ID and Owner never change after creation; Messages keep conversation order.
type ChatContext struct {
	ID        string
	Owner     string
	Model     string
	Messages  []ContextMessage
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Clone returns a deep copy so callers can append without touching shared state.
func (c *ChatContext) Clone() *ChatContext {
	if c == nil {
		return nil
	}
	out := *c
	out.Messages = slices.Clone(c.Messages)
	return &out
}

// UserPreference holds the mutable per-user defaults and model entitlements.
// DefaultContext is a weak reference: the context may no longer exist.
type UserPreference struct {
	UserID          string
	DefaultContext  *string
	DefaultModel    *string
	AvailableModels []string
	UpdatedAt       time.Time
}

// NewUserPreference returns the default-initialized record for a user.
func NewUserPreference(userID string) *UserPreference {
	return &UserPreference{
		UserID:          userID,
		AvailableModels: []string{},
	}
}

// Clone returns a deep copy of the preference record.
func (p *UserPreference) Clone() *UserPreference {
	if p == nil {
		return nil
	}
	out := *p
	if p.DefaultContext != nil {
		v := *p.DefaultContext
		out.DefaultContext = &v
	}
	if p.DefaultModel != nil {
		v := *p.DefaultModel
		out.DefaultModel = &v
	}
	out.AvailableModels = slices.Clone(p.AvailableModels)
	if out.AvailableModels == nil {
		out.AvailableModels = []string{}
	}
	return &out
}

// HasModel reports whether model was explicitly granted to the user.
func (p *UserPreference) HasModel(model string) bool {
	return slices.Contains(p.AvailableModels, model)
}

// AddModel grants model. Granting twice leaves a single entry.
func (p *UserPreference) AddModel(model string) {
	if !p.HasModel(model) {
		p.AvailableModels = append(p.AvailableModels, model)
	}
}

// RemoveModel revokes model. Revoking an absent model is a no-op.
func (p *UserPreference) RemoveModel(model string) {
	p.AvailableModels = slices.DeleteFunc(p.AvailableModels, func(m string) bool { return m == model })
}

// DefaultContextID returns the default context id, or "" when unset.
func (p *UserPreference) DefaultContextID() string {
	if p.DefaultContext == nil {
		return ""
	}
	return *p.DefaultContext
}

// DefaultModelID returns the default model id, or "" when unset.
func (p *UserPreference) DefaultModelID() string {
	if p.DefaultModel == nil {
		return ""
	}
	return *p.DefaultModel
}

// ContextStore defines persistence for chat contexts
type ContextStore interface {
	CreateContext(ctx context.Context, c *ChatContext) error
	GetContext(ctx context.Context, id string) (*ChatContext, error)
	UpdateContext(ctx context.Context, id string, messages []ContextMessage, model string) error
	DeleteContext(ctx context.Context, id string) error
	ListContextsByOwner(ctx context.Context, owner string) ([]*ChatContext, error)
}

// PreferenceStore defines persistence for per-user preference records.
// SavePreference replaces the whole record atomically.
type PreferenceStore interface {
	GetPreference(ctx context.Context, userID string) (*UserPreference, error)
	SavePreference(ctx context.Context, pref *UserPreference) error
}

// RoleStore defines role assignments used to gate administrative commands
type RoleStore interface {
	AddRole(ctx context.Context, userID string, role RoleName) error
	RemoveRole(ctx context.Context, userID string, role RoleName) error
	HasRole(ctx context.Context, userID string, role RoleName) (bool, error)
	ListRoles(ctx context.Context, userID string) ([]RoleName, error)
}

// AuditStore defines the append-only audit log
type AuditStore interface {
	AppendAuditLog(ctx context.Context, e *AuditEntry) error
	ListAuditLog(ctx context.Context, f AuditFilter) ([]AuditEntry, error)
}

// Store is everything the gateway persists
type Store interface {
	ContextStore
	PreferenceStore
	RoleStore
	AuditStore

	// Close releases any resources held by the store
	Close() error
}
