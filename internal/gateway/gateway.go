// ABOUTME: Gateway wires the store, model catalog, chat service and HTTP server together.
// ABOUTME: Owns the server lifecycle: listening, graceful shutdown and resource cleanup.

package gateway

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/2389/orchat-gateway/internal/auth"
	"github.com/2389/orchat-gateway/internal/catalog"
	"github.com/2389/orchat-gateway/internal/chat"
	"github.com/2389/orchat-gateway/internal/config"
	"github.com/2389/orchat-gateway/internal/idempotency"
	"github.com/2389/orchat-gateway/internal/llm"
	"github.com/2389/orchat-gateway/internal/prefs"
	"github.com/2389/orchat-gateway/internal/store"
)

// Gateway is the orchat server: it owns every long-lived component.
type Gateway struct {
	config     *config.Config
	store      store.Store
	catalog    *catalog.Catalog
	chat       *chat.Service
	guard      *idempotency.Guard
	httpServer *http.Server
	logger     *slog.Logger
	serverID   string
}

// Deps are the components New builds from configuration. Tests pass their own.
type Deps struct {
	Store    store.Store
	Catalog  *catalog.Catalog
	Executor llm.Executor
}

// initStore opens the SQLite database, creating its parent directory if needed.
func initStore(cfg *config.Config) (store.Store, error) {
	if cfg.Database.Path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(cfg.Database.Path), 0o750); err != nil {
			return nil, fmt.Errorf("creating database directory: %w", err)
		}
	}
	s, err := store.NewSQLiteStore(cfg.Database.Path)
	if err != nil {
		return nil, fmt.Errorf("creating store: %w", err)
	}
	return s, nil
}

// New creates a gateway from configuration.
func New(cfg *config.Config, logger *slog.Logger) (*Gateway, error) {
	cat, err := catalog.Load(cfg.Models.CatalogFile, catalog.Options{
		Public:  cfg.Models.Public,
		Default: cfg.Models.Default,
	})
	if err != nil {
		return nil, fmt.Errorf("loading model catalog: %w", err)
	}

	s, err := initStore(cfg)
	if err != nil {
		return nil, err
	}

	executor := llm.NewOpenRouter(llm.Config{
		APIKey:   cfg.OpenRouter.APIKey,
		BaseURL:  cfg.OpenRouter.BaseURL,
		RankURL:  cfg.OpenRouter.RankURL,
		RankName: cfg.OpenRouter.RankName,
		Timeout:  cfg.OpenRouter.Timeout,
	}, logger)

	gw, err := NewWithDeps(cfg, Deps{Store: s, Catalog: cat, Executor: executor}, logger)
	if err != nil {
		_ = s.Close()
		return nil, err
	}
	return gw, nil
}

// NewWithDeps creates a gateway around already constructed components.
// The gateway takes ownership of deps.Store and closes it on Shutdown.
func NewWithDeps(cfg *config.Config, deps Deps, logger *slog.Logger) (*Gateway, error) {
	if logger == nil {
		logger = slog.Default()
	}

	verifier, err := auth.NewJWTVerifier([]byte(cfg.Auth.JWTSecret))
	if err != nil {
		return nil, fmt.Errorf("creating JWT verifier: %w", err)
	}

	registry := prefs.NewRegistry(deps.Store, logger)

	gw := &Gateway{
		config:   cfg,
		store:    deps.Store,
		catalog:  deps.Catalog,
		chat:     chat.New(deps.Store, registry, deps.Catalog, deps.Executor, logger),
		guard:    idempotency.New(idempotency.DefaultTTL, idempotency.DefaultMaxKeys),
		logger:   logger,
		serverID: generateServerID(),
	}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /health", gw.handleHealth)
	gw.registerAPIRoutes(mux, auth.HTTPAuthMiddleware(deps.Store, verifier, logger))

	gw.httpServer = &http.Server{
		Addr:              cfg.Server.HTTPAddr,
		Handler:           requestIDMiddleware(mux),
		ReadHeaderTimeout: 10 * time.Second,
	}

	logger.Info("gateway configured",
		"server_id", gw.serverID,
		"models", len(deps.Catalog.Models()),
		"default_model", deps.Catalog.Default(),
	)
	return gw, nil
}

// registerAPIRoutes mounts the authenticated JSON API.
func (g *Gateway) registerAPIRoutes(mux *http.ServeMux, authMiddleware func(http.Handler) http.Handler) {
	routes := map[string]http.HandlerFunc{
		"POST /api/chat":             g.handleChat,
		"GET /api/models":            g.handleListModels,
		"POST /api/models/authorize": g.handleAuthorizeModel,
		"GET /api/me":                g.handleMe,
		"PUT /api/me/model":          g.handleSelectModel,
		"PUT /api/me/context":        g.handleSelectContext,
		"GET /api/contexts":          g.handleListContexts,
		"POST /api/contexts":         g.handleCreateContext,
		"GET /api/contexts/{id}":     g.handleShowContext,
		"DELETE /api/contexts/{id}":  g.handleRemoveContext,
	}
	for pattern, h := range routes {
		mux.Handle(pattern, authMiddleware(h))
	}
}

// Handler returns the root HTTP handler, including unauthenticated routes.
func (g *Gateway) Handler() http.Handler {
	return g.httpServer.Handler
}

// startServer serves HTTP in a goroutine, returning an error channel.
func (g *Gateway) startServer(ln net.Listener) chan error {
	errCh := make(chan error, 1)
	go func() {
		g.logger.Info("HTTP server listening", "addr", ln.Addr().String())
		if err := g.httpServer.Serve(ln); err != nil && err != http.ErrServerClosed {
			errCh <- fmt.Errorf("HTTP server: %w", err)
		}
	}()
	return errCh
}

// waitForShutdownSignal waits for context cancellation or server error.
func (g *Gateway) waitForShutdownSignal(ctx context.Context, errCh chan error) error {
	select {
	case <-ctx.Done():
		g.logger.Info("context canceled, initiating shutdown")
		return nil
	case err := <-errCh:
		g.logger.Error("server error", "error", err)
		return err
	}
}

// Run serves HTTP and blocks until the context is canceled.
// Returns nil on graceful shutdown, or an error if the server fails.
func (g *Gateway) Run(ctx context.Context) error {
	g.logger.Info("starting gateway", "http_addr", g.config.Server.HTTPAddr)

	ln, err := net.Listen("tcp", g.config.Server.HTTPAddr)
	if err != nil {
		_ = g.gracefulShutdown()
		return fmt.Errorf("listening on HTTP address: %w", err)
	}

	errCh := g.startServer(ln)
	serverErr := g.waitForShutdownSignal(ctx, errCh)

	shutdownErr := g.gracefulShutdown()

	if serverErr != nil {
		return serverErr
	}
	return shutdownErr
}

// gracefulShutdown uses a fresh context since the caller's is already canceled.
func (g *Gateway) gracefulShutdown() error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return g.Shutdown(ctx)
}

// appendCloseError appends an error with label if err is non-nil.
func appendCloseError(errs []error, label string, err error) []error {
	if err != nil {
		return append(errs, fmt.Errorf("%s: %w", label, err))
	}
	return errs
}

// Shutdown stops the HTTP server, drops cached preference handles and closes the store.
func (g *Gateway) Shutdown(ctx context.Context) error {
	g.logger.Info("shutting down gateway")

	var errs []error
	errs = appendCloseError(errs, "HTTP shutdown", g.httpServer.Shutdown(ctx))

	g.guard.Close()
	g.chat.Close()

	errs = appendCloseError(errs, "store close", g.store.Close())

	if len(errs) > 0 {
		return fmt.Errorf("shutdown errors: %v", errs)
	}
	return nil
}

// handleHealth returns 200 OK if the server is alive.
func (g *Gateway) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("OK"))
}

// generateServerID creates a unique identifier for this gateway instance.
func generateServerID() string {
	return fmt.Sprintf("orchat-gateway-%d", time.Now().UnixNano()%1000000)
}
