// ABOUTME: Model commands: list with annotations, select a default, grant or revoke access
// ABOUTME: Granting requires the admin role and is recorded in the audit log

package chat

import (
	"context"
	"slices"
	"strings"

	"github.com/2389/orchat-gateway/internal/apperr"
	"github.com/2389/orchat-gateway/internal/store"
)

// ModelFilter narrows ListModels. Zero value lists everything.
type ModelFilter struct {
	Substring   string
	AllowedOnly bool
	// Public keeps only public (true) or only non-public (false) models.
	Public *bool
}

// ModelInfo is one catalog model annotated for the caller.
type ModelInfo struct {
	ID             string `json:"id"`
	Public         bool   `json:"public"`
	CatalogDefault bool   `json:"catalog_default"`
	UserDefault    bool   `json:"user_default"`
	Allowed        bool   `json:"allowed"`
}

// ListModels returns the catalog models matching f, sorted by id.
func (s *Service) ListModels(ctx context.Context, userID string, f ModelFilter) ([]ModelInfo, error) {
	pref, err := s.Preference(ctx, userID)
	if err != nil {
		return nil, err
	}

	userDefault := pref.DefaultModelID()
	catalogDefault := s.catalog.Default()

	out := []ModelInfo{}
	for _, m := range s.catalog.Models() {
		info := ModelInfo{
			ID:             m,
			Public:         s.catalog.IsPublic(m),
			CatalogDefault: m == catalogDefault,
			UserDefault:    m == userDefault,
			Allowed:        s.policy.IsAuthorized(pref, m),
		}
		if f.Substring != "" && !strings.Contains(m, f.Substring) {
			continue
		}
		if f.AllowedOnly && !info.Allowed {
			continue
		}
		if f.Public != nil && info.Public != *f.Public {
			continue
		}
		out = append(out, info)
	}

	slices.SortFunc(out, func(a, b ModelInfo) int { return strings.Compare(a.ID, b.ID) })
	return out, nil
}

// SelectModel sets the caller's default model. The model must be known and
// usable by the caller at the moment the record is written.
func (s *Service) SelectModel(ctx context.Context, userID, model string) error {
	if userID == "" {
		return apperr.New(apperr.InvalidArgument, "user id is required")
	}
	if err := s.policy.CheckModel(model); err != nil {
		return err
	}

	h, err := s.prefs.Get(ctx, userID)
	if err != nil {
		return err
	}

	err = h.Mutate(ctx, func(p *store.UserPreference) error {
		if err := s.policy.Authorize(p, model); err != nil {
			return err
		}
		p.DefaultModel = &model
		return nil
	})
	if err != nil {
		return err
	}

	s.logger.Info("selected default model", "user_id", userID, "model", model)
	return nil
}

// AuthorizeModel grants (allow) or revokes a model for targetUserID. The actor
// must hold the admin role.
func (s *Service) AuthorizeModel(ctx context.Context, actorID, targetUserID, model string, allow bool) error {
	if targetUserID == "" {
		return apperr.New(apperr.InvalidArgument, "target user id is required")
	}

	isAdmin, err := s.store.HasRole(ctx, actorID, store.RoleAdmin)
	if err != nil {
		return err
	}
	if !isAdmin {
		s.logger.Debug("authorize denied", "actor_user_id", actorID, "target_user_id", targetUserID, "model", model)
		return apperr.New(apperr.PermissionDenied, actorID)
	}

	h, err := s.prefs.Get(ctx, targetUserID)
	if err != nil {
		return err
	}
	if err := s.policy.Grant(ctx, h, model, allow); err != nil {
		return err
	}

	action := store.AuditGrantModel
	if !allow {
		action = store.AuditRevokeModel
	}
	s.audit(ctx, &store.AuditEntry{
		ActorUserID: actorID,
		Action:      action,
		TargetType:  "user",
		TargetID:    targetUserID,
		Detail:      map[string]any{"model": model},
	})
	return nil
}
