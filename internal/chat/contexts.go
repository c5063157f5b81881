// ABOUTME: Context commands: create, show, select, remove and list
// ABOUTME: Every command except create enforces ownership through the resolver

package chat

import (
	"context"
	"errors"
	"strings"

	"github.com/2389/orchat-gateway/internal/apperr"
	"github.com/2389/orchat-gateway/internal/resolve"
	"github.com/2389/orchat-gateway/internal/store"
)

// CreateContextRequest creates a named context.
type CreateContextRequest struct {
	UserID string
	ID     string
	// Model defaults to the user's default model, then the catalog default.
	Model string
	// Select makes the new context the user's default.
	Select bool
}

// CreateContext creates an empty context owned by the caller. The id must not be
// in use by anyone.
func (s *Service) CreateContext(ctx context.Context, req CreateContextRequest) (*store.ChatContext, error) {
	if req.UserID == "" {
		return nil, apperr.New(apperr.InvalidArgument, "user id is required")
	}
	if strings.TrimSpace(req.ID) == "" {
		return nil, apperr.New(apperr.InvalidArgument, "context id is required")
	}

	res, err := s.resolver.Resolve(ctx, req.ID, resolve.Options{OnMissing: resolve.PassThroughNull})
	if err != nil {
		return nil, err
	}
	if res.Outcome == resolve.Found {
		return nil, apperr.New(apperr.AlreadyExists, req.ID)
	}

	h, err := s.prefs.Get(ctx, req.UserID)
	if err != nil {
		return nil, err
	}
	pref := h.Read()

	model := req.Model
	if model == "" {
		model = pref.DefaultModelID()
	}
	if model == "" {
		model = s.catalog.Default()
	}
	if err := s.policy.Authorize(pref, model); err != nil {
		return nil, err
	}

	c := &store.ChatContext{
		ID:       req.ID,
		Owner:    req.UserID,
		Model:    model,
		Messages: []store.ContextMessage{},
	}
	if err := s.store.CreateContext(ctx, c); err != nil {
		if errors.Is(err, store.ErrDuplicateContext) {
			return nil, apperr.New(apperr.AlreadyExists, req.ID)
		}
		return nil, err
	}

	if req.Select {
		id := c.ID
		err := h.Mutate(ctx, func(p *store.UserPreference) error {
			p.DefaultContext = &id
			return nil
		})
		if err != nil {
			// The context exists now; failing here would make a retry report AlreadyExists.
			s.logger.Warn("created context but could not select it",
				"context_id", c.ID, "owner", req.UserID, "error", err)
		}
	}

	s.audit(ctx, &store.AuditEntry{
		ActorUserID: req.UserID,
		Action:      store.AuditCreateContext,
		TargetType:  "context",
		TargetID:    c.ID,
		Detail:      map[string]any{"model": model, "selected": req.Select},
	})
	s.logger.Info("created context", "context_id", c.ID, "owner", c.Owner, "model", model, "selected", req.Select)
	return c, nil
}

// ShowContext returns the caller's context with its full history.
func (s *Service) ShowContext(ctx context.Context, userID, id string) (*store.ChatContext, error) {
	return s.ownedContext(ctx, userID, id)
}

// SelectContext makes one of the caller's contexts their default.
func (s *Service) SelectContext(ctx context.Context, userID, id string) error {
	if _, err := s.ownedContext(ctx, userID, id); err != nil {
		return err
	}

	h, err := s.prefs.Get(ctx, userID)
	if err != nil {
		return err
	}
	return h.Mutate(ctx, func(p *store.UserPreference) error {
		p.DefaultContext = &id
		return nil
	})
}

// RemoveContext deletes one of the caller's contexts and clears it as their
// default context if it was selected.
func (s *Service) RemoveContext(ctx context.Context, userID, id string) error {
	c, err := s.ownedContext(ctx, userID, id)
	if err != nil {
		return err
	}

	if err := s.store.DeleteContext(ctx, id); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return apperr.New(apperr.NotFound, id)
		}
		return err
	}

	// A failed clear leaves a dangling default, which Send tolerates.
	h, err := s.prefs.Get(ctx, userID)
	if err != nil {
		return err
	}
	if h.Read().DefaultContextID() == id {
		if err := s.clearDefaultContext(ctx, h, id); err != nil {
			return err
		}
	}

	s.audit(ctx, &store.AuditEntry{
		ActorUserID: userID,
		Action:      store.AuditRemoveContext,
		TargetType:  "context",
		TargetID:    id,
		Detail:      map[string]any{"model": c.Model, "messages": len(c.Messages)},
	})
	s.logger.Info("removed context", "context_id", id, "owner", userID)
	return nil
}

// ContextList is the caller's contexts plus their current default.
type ContextList struct {
	Default  string
	Contexts []*store.ChatContext
}

// ListContexts returns the caller's contexts.
func (s *Service) ListContexts(ctx context.Context, userID string) (*ContextList, error) {
	pref, err := s.Preference(ctx, userID)
	if err != nil {
		return nil, err
	}

	contexts, err := s.store.ListContextsByOwner(ctx, userID)
	if err != nil {
		return nil, err
	}
	return &ContextList{Default: pref.DefaultContextID(), Contexts: contexts}, nil
}

func (s *Service) ownedContext(ctx context.Context, userID, id string) (*store.ChatContext, error) {
	if userID == "" {
		return nil, apperr.New(apperr.InvalidArgument, "user id is required")
	}
	if id == "" {
		return nil, apperr.New(apperr.InvalidArgument, "context id is required")
	}

	res, err := s.resolver.Resolve(ctx, id, resolve.Options{RequireOwner: userID, OnMissing: resolve.Fail})
	if err != nil {
		return nil, err
	}
	if !res.OK() {
		return nil, res.Err(id)
	}
	return res.Context, nil
}
