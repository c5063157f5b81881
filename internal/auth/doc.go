// Package auth identifies API callers for orchat-gateway.
//
// Callers present an HS256 JWT whose "sub" claim is their opaque user id.
// Tokens are signed with the configured auth.jwt_secret and minted by the
// "orchat-gateway token" command:
//
//	verifier, err := auth.NewJWTVerifier([]byte(cfg.Auth.JWTSecret))
//	token, err := verifier.Generate("alice", 24*time.Hour)
//
// HTTPAuthMiddleware verifies the bearer token, loads the user's roles and
// stores an AuthContext in the request context. Handlers read it back with
// FromContext or UserID. The user id is never interpreted beyond equality.
package auth
