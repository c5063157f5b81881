// ABOUTME: Resolves a context id plus caller identity into a tagged outcome
// ABOUTME: Absence and ownership mismatch are ordinary outcomes, only storage failures are errors

package resolve

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/2389/orchat-gateway/internal/apperr"
	"github.com/2389/orchat-gateway/internal/store"
)

// OnMissing selects what happens when the id does not exist.
type OnMissing int

const (
	// Fail reports NotFound.
	Fail OnMissing = iota
	// Create makes a new empty context owned by Options.RequireOwner.
	Create
	// PassThroughNull reports success with no context.
	PassThroughNull
)

func (m OnMissing) String() string {
	switch m {
	case Fail:
		return "fail"
	case Create:
		return "create"
	case PassThroughNull:
		return "pass_through_null"
	default:
		return fmt.Sprintf("on_missing(%d)", int(m))
	}
}

// Options controls a single resolution.
type Options struct {
	// RequireOwner, when non-empty, must equal the context's owner.
	RequireOwner string
	OnMissing    OnMissing
	// Model is the initial model of a context made by Create.
	Model string
}

// Outcome tags a Result.
type Outcome int

const (
	Found Outcome = iota
	Absent
	NotFound
	WrongOwner
	Unreachable
)

func (o Outcome) String() string {
	switch o {
	case Found:
		return "found"
	case Absent:
		return "absent"
	case NotFound:
		return "not_found"
	case WrongOwner:
		return "wrong_owner"
	case Unreachable:
		return "unreachable"
	default:
		return fmt.Sprintf("outcome(%d)", int(o))
	}
}

// Result is exactly one of the outcomes. Context is set only for Found.
type Result struct {
	Outcome Outcome
	Context *store.ChatContext
	// Created is true when Found came from OnMissing Create.
	Created bool
}

// OK reports whether the outcome is a success (Found or Absent).
func (r Result) OK() bool {
	return r.Outcome == Found || r.Outcome == Absent
}

// Err converts a failed outcome into the matching typed failure for id.
// Successful outcomes return nil.
func (r Result) Err(id string) error {
	switch r.Outcome {
	case Found, Absent:
		return nil
	case NotFound:
		return apperr.New(apperr.NotFound, id)
	case WrongOwner:
		return apperr.New(apperr.WrongOwner, id)
	case Unreachable:
		return apperr.New(apperr.Unreachable, id)
	default:
		return apperr.New(apperr.Internal, id)
	}
}

// Resolver looks contexts up in a ContextStore.
type Resolver struct {
	store  store.ContextStore
	logger *slog.Logger
}

// New creates a Resolver.
func New(s store.ContextStore, logger *slog.Logger) *Resolver {
	if logger == nil {
		logger = slog.Default()
	}
	return &Resolver{
		store:  s,
		logger: logger.With("component", "resolve"),
	}
}

// Resolve decides the outcome for id. Existence is checked before ownership.
// The returned error is non-nil only when the store itself failed.
func (r *Resolver) Resolve(ctx context.Context, id string, opts Options) (Result, error) {
	c, err := r.store.GetContext(ctx, id)
	switch {
	case err == nil:
		return r.checkOwner(c, opts), nil
	case !errors.Is(err, store.ErrNotFound):
		return Result{}, fmt.Errorf("getting context %s: %w", id, err)
	}

	switch opts.OnMissing {
	case Fail:
		return Result{Outcome: NotFound}, nil
	case PassThroughNull:
		return Result{Outcome: Absent}, nil
	case Create:
		return r.create(ctx, id, opts)
	default:
		r.logger.Error("unknown on-missing mode", "mode", opts.OnMissing, "context_id", id)
		return Result{Outcome: Unreachable}, nil
	}
}

func (r *Resolver) checkOwner(c *store.ChatContext, opts Options) Result {
	if opts.RequireOwner != "" && c.Owner != opts.RequireOwner {
		return Result{Outcome: WrongOwner}
	}
	return Result{Outcome: Found, Context: c}
}

func (r *Resolver) create(ctx context.Context, id string, opts Options) (Result, error) {
	if opts.RequireOwner == "" {
		r.logger.Error("create requested without an owner", "context_id", id)
		return Result{Outcome: Unreachable}, nil
	}

	c := &store.ChatContext{
		ID:       id,
		Owner:    opts.RequireOwner,
		Model:    opts.Model,
		Messages: []store.ContextMessage{},
	}
	err := r.store.CreateContext(ctx, c)
	if err == nil {
		r.logger.Info("created context", "context_id", id, "owner", c.Owner, "model", c.Model)
		return Result{Outcome: Found, Context: c, Created: true}, nil
	}
	if !errors.Is(err, store.ErrDuplicateContext) {
		return Result{}, fmt.Errorf("creating context %s: %w", id, err)
	}

	// Lost a creation race; use whatever won.
	existing, err := r.store.GetContext(ctx, id)
	if err != nil {
		return Result{}, fmt.Errorf("getting context %s after create race: %w", id, err)
	}
	return r.checkOwner(existing, opts), nil
}
