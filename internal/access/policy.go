// ABOUTME: Model authorization: public models plus a per-user allow-list
// ABOUTME: Grants and revokes go through the preference handle's serialized Mutate

package access

import (
	"context"
	"log/slog"

	"github.com/2389/orchat-gateway/internal/apperr"
	"github.com/2389/orchat-gateway/internal/prefs"
	"github.com/2389/orchat-gateway/internal/store"
)

// ModelCatalog is the read-only view of the model catalog the policy needs.
type ModelCatalog interface {
	IsKnown(model string) bool
	IsPublic(model string) bool
}

// Policy decides which models a user may use.
type Policy struct {
	catalog ModelCatalog
	logger  *slog.Logger
}

// NewPolicy creates a Policy over catalog.
func NewPolicy(catalog ModelCatalog, logger *slog.Logger) *Policy {
	if logger == nil {
		logger = slog.Default()
	}
	return &Policy{
		catalog: catalog,
		logger:  logger.With("component", "access"),
	}
}

// CheckModel fails with UnknownModel when model is not in the catalog.
func (p *Policy) CheckModel(model string) error {
	if !p.catalog.IsKnown(model) {
		return apperr.New(apperr.UnknownModel, model)
	}
	return nil
}

// IsAuthorized is true iff model is public or explicitly granted to the user.
func (p *Policy) IsAuthorized(pref *store.UserPreference, model string) bool {
	if p.catalog.IsPublic(model) {
		return true
	}
	return pref != nil && pref.HasModel(model)
}

// Authorize checks the model is known and then that the user may use it.
func (p *Policy) Authorize(pref *store.UserPreference, model string) error {
	if err := p.CheckModel(model); err != nil {
		return err
	}
	if !p.IsAuthorized(pref, model) {
		return apperr.New(apperr.Unauthorized, model)
	}
	return nil
}

// Grant adds (allow) or removes model from the user's allow-list. Adding twice
// and removing an absent model are both no-ops. Unknown models are rejected.
func (p *Policy) Grant(ctx context.Context, h *prefs.Handle, model string, allow bool) error {
	if err := p.CheckModel(model); err != nil {
		return err
	}

	err := h.Mutate(ctx, func(pref *store.UserPreference) error {
		if allow {
			pref.AddModel(model)
		} else {
			pref.RemoveModel(model)
		}
		return nil
	})
	if err != nil {
		return err
	}

	p.logger.Info("updated model grant", "user_id", h.UserID(), "model", model, "allow", allow)
	return nil
}
