// Package gateway orchestrates the orchat-gateway server components.
//
// # Overview
//
// The gateway package is the central coordinator of the server. It owns the
// data store, the model catalog, the chat service and the HTTP server, and
// releases all of them on shutdown.
//
// # Gateway Struct
//
//	type Gateway struct {
//	    config     *config.Config
//	    store      store.Store
//	    catalog    *catalog.Catalog
//	    chat       *chat.Service
//	    guard      *idempotency.Guard
//	    httpServer *http.Server
//	    // ...
//	}
//
// New builds every component from configuration. NewWithDeps accepts a
// prebuilt store, catalog and executor, which is how tests run the full
// handler chain without a database or a provider.
//
// # HTTP API
//
// GET /health is unauthenticated. Every /api route requires a bearer token:
//
//	POST   /api/chat              one chat turn (Idempotency-Key supported)
//	GET    /api/models            catalog, filterable by ?filter= ?allowed= ?public=
//	POST   /api/models/authorize  grant or revoke a model (admin only)
//	GET    /api/me                caller's preferences
//	PUT    /api/me/model          select default model
//	PUT    /api/me/context        select default context
//	GET    /api/contexts          list caller's contexts
//	POST   /api/contexts          create a context
//	GET    /api/contexts/{id}     show a context
//	DELETE /api/contexts/{id}     remove a context
//
// Failures are JSON bodies of the form {"error": "...", "kind": "..."} where
// kind is the stable apperr kind name. Internal causes are logged and never
// returned to clients.
//
// # Lifecycle
//
//	gw, err := gateway.New(cfg, logger)
//	if err != nil { ... }
//	err = gw.Run(ctx) // blocks until ctx is canceled
//
// Run shuts down with a fresh five second timeout once ctx is canceled.
package gateway
