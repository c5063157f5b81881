// Package prefs keeps the live per-user preference records.
//
// # Overview
//
// Every user id maps to exactly one Handle per process. Callers never hold a
// bare *store.UserPreference they could write back later; they read snapshots
// and change the record through Handle.Mutate:
//
//	h, err := registry.Get(ctx, userID)
//	snapshot := h.Read()
//	err = h.Mutate(ctx, func(p *store.UserPreference) error {
//	    p.AddModel("openai/gpt-4o")
//	    return nil
//	})
//
// # Concurrency
//
// Mutate holds the handle's lock across the edit and the write, so two
// commands for the same user cannot lose each other's update. Users never
// share a lock, and the first load of a user is de-duplicated with
// singleflight without holding the registry lock during I/O.
//
// # Atomicity
//
// The edit is applied to a copy. The copy replaces the in-memory record only
// after the store accepted it, so a failed write leaves both the store and
// the handle unchanged.
package prefs
