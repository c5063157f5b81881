// ABOUTME: Role assignments and store methods for administrative authority
// ABOUTME: The admin role gates commands that change other users' model grants

package store

import (
	"context"
	"fmt"
	"time"
)

// RoleName represents a role that can be assigned to a user
type RoleName string

const (
	RoleAdmin RoleName = "admin"
)

// ValidRoleNames lists all valid role names
var ValidRoleNames = []RoleName{
	RoleAdmin,
}

// AddRole adds a role to a user. Adding an existing role succeeds silently.
func (s *SQLiteStore) AddRole(ctx context.Context, userID string, role RoleName) error {
	query := `
		INSERT OR IGNORE INTO roles (user_id, role, created_at)
		VALUES (?, ?, ?)
	`

	_, err := s.db.ExecContext(ctx, query,
		userID,
		role,
		time.Now().UTC().Format(time.RFC3339),
	)
	if err != nil {
		return fmt.Errorf("adding role: %w", err)
	}

	s.logger.Debug("added role", "user_id", userID, "role", role)
	return nil
}

// RemoveRole removes a role from a user. Removing a missing role succeeds silently.
func (s *SQLiteStore) RemoveRole(ctx context.Context, userID string, role RoleName) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM roles WHERE user_id = ? AND role = ?`, userID, role)
	if err != nil {
		return fmt.Errorf("removing role: %w", err)
	}

	s.logger.Debug("removed role", "user_id", userID, "role", role)
	return nil
}

// HasRole checks if a user has a specific role. Unknown users simply have no roles.
func (s *SQLiteStore) HasRole(ctx context.Context, userID string, role RoleName) (bool, error) {
	var count int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM roles WHERE user_id = ? AND role = ?`,
		userID, role,
	).Scan(&count)
	if err != nil {
		return false, fmt.Errorf("checking role: %w", err)
	}

	return count > 0, nil
}

// ListRoles returns all roles assigned to a user, never nil.
func (s *SQLiteStore) ListRoles(ctx context.Context, userID string) ([]RoleName, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT role FROM roles WHERE user_id = ? ORDER BY role`,
		userID,
	)
	if err != nil {
		return nil, fmt.Errorf("listing roles: %w", err)
	}
	defer rows.Close()

	roles := []RoleName{}
	for rows.Next() {
		var role string
		if err := rows.Scan(&role); err != nil {
			return nil, fmt.Errorf("scanning role: %w", err)
		}
		roles = append(roles, RoleName(role))
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating roles: %w", err)
	}

	return roles, nil
}
