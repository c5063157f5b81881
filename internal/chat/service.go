// ABOUTME: Chat service: the entry points behind every user command
// ABOUTME: Each call takes the caller's preference handle first, then resolves contexts and checks model access

package chat

import (
	"context"
	"errors"
	"log/slog"
	"slices"
	"strings"

	"github.com/2389/orchat-gateway/internal/access"
	"github.com/2389/orchat-gateway/internal/apperr"
	"github.com/2389/orchat-gateway/internal/llm"
	"github.com/2389/orchat-gateway/internal/prefs"
	"github.com/2389/orchat-gateway/internal/resolve"
	"github.com/2389/orchat-gateway/internal/store"
)

// Store is what the service needs from persistence besides preferences.
type Store interface {
	store.ContextStore
	store.RoleStore
	store.AuditStore
}

// Catalog is the model catalog view the service needs.
type Catalog interface {
	access.ModelCatalog
	Models() []string
	Default() string
}

// Service implements the chat, model and context commands.
type Service struct {
	store    Store
	prefs    *prefs.Registry
	resolver *resolve.Resolver
	policy   *access.Policy
	catalog  Catalog
	executor llm.Executor
	logger   *slog.Logger
}

// New creates a Service.
func New(s Store, registry *prefs.Registry, catalog Catalog, executor llm.Executor, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		store:    s,
		prefs:    registry,
		resolver: resolve.New(s, logger),
		policy:   access.NewPolicy(catalog, logger),
		catalog:  catalog,
		executor: executor,
		logger:   logger.With("component", "chat"),
	}
}

// SendRequest is one chat turn.
type SendRequest struct {
	UserID string
	Text   string
	// ContextID selects a stored context. Empty means the user's default context,
	// or a temporary one when there is none.
	ContextID string
	// Model overrides the model for this turn only.
	Model string
}

// Turn is the outcome of a successful chat turn.
type Turn struct {
	ContextID string // empty for a temporary context
	Model     string
	Messages  []store.ContextMessage
}

// Temporary reports whether the turn was not persisted to any context.
func (t *Turn) Temporary() bool {
	return t.ContextID == ""
}

// Send runs one chat turn. The user message and the reply are persisted together
// after the model answered; a failed call leaves the stored context untouched.
func (s *Service) Send(ctx context.Context, req SendRequest) (*Turn, error) {
	if req.UserID == "" {
		return nil, apperr.New(apperr.InvalidArgument, "user id is required")
	}
	if strings.TrimSpace(req.Text) == "" {
		return nil, apperr.New(apperr.InvalidArgument, "message is empty")
	}

	h, err := s.prefs.Get(ctx, req.UserID)
	if err != nil {
		return nil, err
	}

	chatCtx, err := s.turnContext(ctx, h, req.ContextID)
	if err != nil {
		return nil, err
	}

	pref := h.Read()
	model := s.turnModel(req.Model, chatCtx, pref)
	if err := s.policy.Authorize(pref, model); err != nil {
		s.logger.Debug("turn rejected", "user_id", req.UserID, "model", model, "kind", apperr.KindOf(err))
		return nil, err
	}

	var messages []store.ContextMessage
	if chatCtx != nil {
		messages = slices.Clone(chatCtx.Messages)
	}
	messages = append(messages, store.ContextMessage{Role: store.RoleUser, Content: req.Text})

	reply, err := s.executor.Complete(ctx, model, messages)
	if err != nil {
		s.logger.Warn("external call failed", "user_id", req.UserID, "model", model, "error", err)
		return nil, apperr.Wrap(apperr.ExternalCallFailed, model, err)
	}
	reply.Role = store.RoleAssistant
	messages = append(messages, reply)

	turn := &Turn{Model: model, Messages: messages}
	if chatCtx == nil {
		return turn, nil
	}

	// The stored model only changes through context creation.
	if err := s.store.UpdateContext(ctx, chatCtx.ID, messages, chatCtx.Model); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, apperr.New(apperr.NotFound, chatCtx.ID)
		}
		return nil, err
	}
	turn.ContextID = chatCtx.ID

	s.logger.Debug("turn saved", "context_id", chatCtx.ID, "model", model, "messages", len(messages))
	return turn, nil
}

// turnContext picks the context for a turn. An explicit id must exist and be
// owned by the caller. A default id that no longer exists, or now belongs to
// someone else, is cleared and the turn continues without a context.
func (s *Service) turnContext(ctx context.Context, h *prefs.Handle, explicitID string) (*store.ChatContext, error) {
	userID := h.UserID()

	if explicitID != "" {
		res, err := s.resolver.Resolve(ctx, explicitID, resolve.Options{RequireOwner: userID, OnMissing: resolve.Fail})
		if err != nil {
			return nil, err
		}
		if !res.OK() {
			return nil, res.Err(explicitID)
		}
		return res.Context, nil
	}

	defaultID := h.Read().DefaultContextID()
	if defaultID == "" {
		return nil, nil
	}

	res, err := s.resolver.Resolve(ctx, defaultID, resolve.Options{RequireOwner: userID, OnMissing: resolve.PassThroughNull})
	if err != nil {
		return nil, err
	}
	switch res.Outcome {
	case resolve.Found:
		return res.Context, nil
	case resolve.Absent, resolve.WrongOwner:
		// A deleted default whose id was reused by another user is just as stale.
		s.logger.Warn("default context no longer usable, clearing",
			"user_id", userID, "context_id", defaultID, "outcome", res.Outcome)
		if err := s.clearDefaultContext(ctx, h, defaultID); err != nil {
			return nil, err
		}
		return nil, nil
	default:
		return nil, res.Err(defaultID)
	}
}

// turnModel applies the precedence explicit, context, user default, catalog default.
func (s *Service) turnModel(explicit string, chatCtx *store.ChatContext, pref *store.UserPreference) string {
	if explicit != "" {
		return explicit
	}
	if chatCtx != nil && chatCtx.Model != "" {
		return chatCtx.Model
	}
	if m := pref.DefaultModelID(); m != "" {
		return m
	}
	return s.catalog.Default()
}

// clearDefaultContext unsets the default context if it still points at id.
func (s *Service) clearDefaultContext(ctx context.Context, h *prefs.Handle, id string) error {
	return h.Mutate(ctx, func(p *store.UserPreference) error {
		if p.DefaultContextID() == id {
			p.DefaultContext = nil
		}
		return nil
	})
}

// Preference returns a snapshot of the caller's preference record.
func (s *Service) Preference(ctx context.Context, userID string) (*store.UserPreference, error) {
	if userID == "" {
		return nil, apperr.New(apperr.InvalidArgument, "user id is required")
	}
	h, err := s.prefs.Get(ctx, userID)
	if err != nil {
		return nil, err
	}
	return h.Read(), nil
}

// Close drops every live preference handle.
func (s *Service) Close() {
	s.prefs.DisposeAll()
}

func (s *Service) audit(ctx context.Context, e *store.AuditEntry) {
	if err := s.store.AppendAuditLog(ctx, e); err != nil {
		s.logger.Warn("failed to append audit entry", "action", e.Action, "target_id", e.TargetID, "error", err)
	}
}
