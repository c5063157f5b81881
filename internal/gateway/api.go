// ABOUTME: HTTP API handlers for chat turns, model selection and context management.
// ABOUTME: Translates JSON requests into chat.Service calls and apperr kinds into status codes.

package gateway

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"

	"github.com/2389/orchat-gateway/internal/apperr"
	"github.com/2389/orchat-gateway/internal/auth"
	"github.com/2389/orchat-gateway/internal/chat"
	"github.com/2389/orchat-gateway/internal/store"
)

// maxBodyBytes bounds JSON request bodies.
const maxBodyBytes = 1 << 20

// IdempotencyKeyHeader lets clients retry POST /api/chat without appending a turn twice.
const IdempotencyKeyHeader = "Idempotency-Key"

// RequestIDHeader carries the per-request correlation id.
const RequestIDHeader = "X-Request-ID"

// ChatRequest is the JSON request body for POST /api/chat.
type ChatRequest struct {
	Text      string `json:"text"`
	ContextID string `json:"context_id,omitempty"`
	Model     string `json:"model,omitempty"`
}

// ChatResponse is the JSON response for POST /api/chat.
type ChatResponse struct {
	ContextID    string               `json:"context_id,omitempty"`
	Temporary    bool                 `json:"temporary"`
	Model        string               `json:"model"`
	Reply        store.ContextMessage `json:"reply"`
	MessageCount int                  `json:"message_count"`
}

// SelectModelRequest is the JSON request body for PUT /api/me/model.
type SelectModelRequest struct {
	Model string `json:"model"`
}

// SelectContextRequest is the JSON request body for PUT /api/me/context.
type SelectContextRequest struct {
	ID string `json:"id"`
}

// AuthorizeModelRequest is the JSON request body for POST /api/models/authorize.
// Allow defaults to true.
type AuthorizeModelRequest struct {
	UserID string `json:"user_id"`
	Model  string `json:"model"`
	Allow  *bool  `json:"allow,omitempty"`
}

// CreateContextRequest is the JSON request body for POST /api/contexts.
type CreateContextRequest struct {
	ID     string `json:"id"`
	Model  string `json:"model,omitempty"`
	Select bool   `json:"select,omitempty"`
}

// PreferenceResponse is the JSON response for GET /api/me.
type PreferenceResponse struct {
	UserID          string   `json:"user_id"`
	Admin           bool     `json:"admin"`
	DefaultContext  string   `json:"default_context,omitempty"`
	DefaultModel    string   `json:"default_model,omitempty"`
	AvailableModels []string `json:"available_models"`
}

// ContextSummary is one entry of GET /api/contexts.
type ContextSummary struct {
	ID           string    `json:"id"`
	Model        string    `json:"model"`
	MessageCount int       `json:"message_count"`
	Default      bool      `json:"default"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// ContextListResponse is the JSON response for GET /api/contexts.
type ContextListResponse struct {
	Default  string           `json:"default,omitempty"`
	Contexts []ContextSummary `json:"contexts"`
}

// ContextResponse is the JSON response for GET and POST on contexts.
type ContextResponse struct {
	ID        string                 `json:"id"`
	Owner     string                 `json:"owner"`
	Model     string                 `json:"model"`
	Messages  []store.ContextMessage `json:"messages"`
	CreatedAt time.Time              `json:"created_at"`
	UpdatedAt time.Time              `json:"updated_at"`
}

func toContextResponse(c *store.ChatContext) ContextResponse {
	messages := c.Messages
	if messages == nil {
		messages = []store.ContextMessage{}
	}
	return ContextResponse{
		ID:        c.ID,
		Owner:     c.Owner,
		Model:     c.Model,
		Messages:  messages,
		CreatedAt: c.CreatedAt,
		UpdatedAt: c.UpdatedAt,
	}
}

func (g *Gateway) handleChat(w http.ResponseWriter, r *http.Request) {
	userID := auth.UserID(r.Context())

	var req ChatRequest
	if !g.decodeJSON(w, r, &req) {
		return
	}

	key := r.Header.Get(IdempotencyKeyHeader)
	if key != "" && !g.guard.Claim(userID, key) {
		g.logger.Info("duplicate chat request", "user_id", userID, "idempotency_key", key)
		g.sendJSONError(w, http.StatusConflict, "duplicate request", "duplicate_request")
		return
	}

	turn, err := g.chat.Send(r.Context(), chat.SendRequest{
		UserID:    userID,
		Text:      req.Text,
		ContextID: req.ContextID,
		Model:     req.Model,
	})
	if err != nil {
		// A failed turn saved nothing, so the same key may be retried.
		if key != "" {
			g.guard.Release(userID, key)
		}
		g.sendError(w, r, err)
		return
	}

	g.writeJSON(w, http.StatusOK, ChatResponse{
		ContextID:    turn.ContextID,
		Temporary:    turn.Temporary(),
		Model:        turn.Model,
		Reply:        turn.Messages[len(turn.Messages)-1],
		MessageCount: len(turn.Messages),
	})
}

func (g *Gateway) handleListModels(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter := chat.ModelFilter{Substring: q.Get("filter")}

	if v := q.Get("allowed"); v != "" {
		allowed, err := strconv.ParseBool(v)
		if err != nil {
			g.sendError(w, r, apperr.New(apperr.InvalidArgument, "allowed must be a boolean"))
			return
		}
		filter.AllowedOnly = allowed
	}
	if v := q.Get("public"); v != "" {
		public, err := strconv.ParseBool(v)
		if err != nil {
			g.sendError(w, r, apperr.New(apperr.InvalidArgument, "public must be a boolean"))
			return
		}
		filter.Public = &public
	}

	models, err := g.chat.ListModels(r.Context(), auth.UserID(r.Context()), filter)
	if err != nil {
		g.sendError(w, r, err)
		return
	}
	g.writeJSON(w, http.StatusOK, models)
}

func (g *Gateway) handleSelectModel(w http.ResponseWriter, r *http.Request) {
	var req SelectModelRequest
	if !g.decodeJSON(w, r, &req) {
		return
	}
	if req.Model == "" {
		g.sendError(w, r, apperr.New(apperr.InvalidArgument, "model is required"))
		return
	}

	if err := g.chat.SelectModel(r.Context(), auth.UserID(r.Context()), req.Model); err != nil {
		g.sendError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (g *Gateway) handleAuthorizeModel(w http.ResponseWriter, r *http.Request) {
	var req AuthorizeModelRequest
	if !g.decodeJSON(w, r, &req) {
		return
	}
	allow := true
	if req.Allow != nil {
		allow = *req.Allow
	}

	if err := g.chat.AuthorizeModel(r.Context(), auth.UserID(r.Context()), req.UserID, req.Model, allow); err != nil {
		g.sendError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (g *Gateway) handleMe(w http.ResponseWriter, r *http.Request) {
	authCtx := auth.FromContext(r.Context())

	pref, err := g.chat.Preference(r.Context(), authCtx.UserID)
	if err != nil {
		g.sendError(w, r, err)
		return
	}

	available := pref.AvailableModels
	if available == nil {
		available = []string{}
	}
	g.writeJSON(w, http.StatusOK, PreferenceResponse{
		UserID:          pref.UserID,
		Admin:           authCtx.IsAdmin(),
		DefaultContext:  pref.DefaultContextID(),
		DefaultModel:    pref.DefaultModelID(),
		AvailableModels: available,
	})
}

func (g *Gateway) handleSelectContext(w http.ResponseWriter, r *http.Request) {
	var req SelectContextRequest
	if !g.decodeJSON(w, r, &req) {
		return
	}

	if err := g.chat.SelectContext(r.Context(), auth.UserID(r.Context()), req.ID); err != nil {
		g.sendError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (g *Gateway) handleListContexts(w http.ResponseWriter, r *http.Request) {
	list, err := g.chat.ListContexts(r.Context(), auth.UserID(r.Context()))
	if err != nil {
		g.sendError(w, r, err)
		return
	}

	resp := ContextListResponse{
		Default:  list.Default,
		Contexts: make([]ContextSummary, 0, len(list.Contexts)),
	}
	for _, c := range list.Contexts {
		resp.Contexts = append(resp.Contexts, ContextSummary{
			ID:           c.ID,
			Model:        c.Model,
			MessageCount: len(c.Messages),
			Default:      c.ID == list.Default,
			UpdatedAt:    c.UpdatedAt,
		})
	}
	g.writeJSON(w, http.StatusOK, resp)
}

func (g *Gateway) handleCreateContext(w http.ResponseWriter, r *http.Request) {
	var req CreateContextRequest
	if !g.decodeJSON(w, r, &req) {
		return
	}

	c, err := g.chat.CreateContext(r.Context(), chat.CreateContextRequest{
		UserID: auth.UserID(r.Context()),
		ID:     req.ID,
		Model:  req.Model,
		Select: req.Select,
	})
	if err != nil {
		g.sendError(w, r, err)
		return
	}
	g.writeJSON(w, http.StatusCreated, toContextResponse(c))
}

func (g *Gateway) handleShowContext(w http.ResponseWriter, r *http.Request) {
	c, err := g.chat.ShowContext(r.Context(), auth.UserID(r.Context()), r.PathValue("id"))
	if err != nil {
		g.sendError(w, r, err)
		return
	}
	g.writeJSON(w, http.StatusOK, toContextResponse(c))
}

func (g *Gateway) handleRemoveContext(w http.ResponseWriter, r *http.Request) {
	if err := g.chat.RemoveContext(r.Context(), auth.UserID(r.Context()), r.PathValue("id")); err != nil {
		g.sendError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// statusForKind maps an error kind to the HTTP status returned to clients.
func statusForKind(k apperr.Kind) int {
	switch k {
	case apperr.NotFound:
		return http.StatusNotFound
	case apperr.WrongOwner, apperr.Unauthorized, apperr.PermissionDenied:
		return http.StatusForbidden
	case apperr.AlreadyExists:
		return http.StatusConflict
	case apperr.UnknownModel, apperr.InvalidArgument:
		return http.StatusBadRequest
	case apperr.ExternalCallFailed:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

// sendError writes err as a JSON error. Internal causes are logged, never returned.
func (g *Gateway) sendError(w http.ResponseWriter, r *http.Request, err error) {
	kind := apperr.KindOf(err)
	status := statusForKind(kind)
	if status == http.StatusInternalServerError {
		g.logger.Error("request failed",
			"method", r.Method,
			"path", r.URL.Path,
			"request_id", w.Header().Get(RequestIDHeader),
			"error", err,
		)
	}
	g.sendJSONError(w, status, apperr.Message(err), kind.String())
}

// sendJSONError writes a JSON error response.
func (g *Gateway) sendJSONError(w http.ResponseWriter, status int, message, kind string) {
	g.writeJSON(w, status, map[string]string{"error": message, "kind": kind})
}

func (g *Gateway) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		g.logger.Debug("writing response", "error", err)
	}
}

// decodeJSON parses the request body into v, writing a 400 on failure.
func (g *Gateway) decodeJSON(w http.ResponseWriter, r *http.Request, v any) bool {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err := dec.Decode(v); err != nil {
		msg := "invalid JSON body"
		if errors.Is(err, io.EOF) {
			msg = "request body is required"
		}
		g.sendJSONError(w, http.StatusBadRequest, msg, apperr.InvalidArgument.String())
		return false
	}
	return true
}

// requestIDMiddleware echoes the caller's X-Request-ID or assigns a new one.
func requestIDMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get(RequestIDHeader)
		if id == "" {
			id = uuid.NewString()
		}
		w.Header().Set(RequestIDHeader, id)
		next.ServeHTTP(w, r)
	})
}
