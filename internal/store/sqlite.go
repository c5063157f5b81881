// ABOUTME: SQLite implementation of the Store interface using modernc.org/sqlite
// ABOUTME: Persists chat contexts and user preferences with automatic schema creation

package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"
)

// SQLiteStore implements the Store interface using SQLite
type SQLiteStore struct {
	db     *sql.DB
	logger *slog.Logger
}

// NewSQLiteStore creates a new SQLite store at the given path.
// The schema is automatically created if it doesn't exist.
// Parent directories are created if needed.
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	logger := slog.Default().With("component", "store")

	if path != ":memory:" {
		dir := filepath.Dir(path)
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("creating database directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	// A single connection keeps :memory: databases shared and serializes writers.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enabling WAL mode: %w", err)
	}

	if _, err := db.Exec("PRAGMA busy_timeout=5000"); err != nil {
		db.Close()
		return nil, fmt.Errorf("setting busy timeout: %w", err)
	}

	s := &SQLiteStore{
		db:     db,
		logger: logger,
	}

	if err := s.createSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("creating schema: %w", err)
	}

	logger.Info("SQLite store initialized", "path", path)
	return s, nil
}

// createSchema creates the database tables if they don't exist
func (s *SQLiteStore) createSchema() error {
	schema := `
		CREATE TABLE IF NOT EXISTS contexts (
			id            TEXT PRIMARY KEY,
			owner         TEXT NOT NULL,
			model         TEXT NOT NULL,
			messages_json TEXT NOT NULL DEFAULT '[]',
			created_at    TEXT NOT NULL,
			updated_at    TEXT NOT NULL
		);

		CREATE INDEX IF NOT EXISTS idx_contexts_owner ON contexts(owner);

		CREATE TABLE IF NOT EXISTS user_preferences (
			user_id               TEXT PRIMARY KEY,
			default_context       TEXT,
			default_model         TEXT,
			available_models_json TEXT NOT NULL DEFAULT '[]',
			updated_at            TEXT NOT NULL
		);

		CREATE TABLE IF NOT EXISTS roles (
			user_id    TEXT NOT NULL,
			role       TEXT NOT NULL,
			created_at TEXT NOT NULL,

			PRIMARY KEY (user_id, role),
			CHECK (role IN ('admin'))
		);

		CREATE TABLE IF NOT EXISTS audit_log (
			audit_id      TEXT PRIMARY KEY,
			actor_user_id TEXT NOT NULL,
			action        TEXT NOT NULL,
			target_type   TEXT NOT NULL,
			target_id     TEXT NOT NULL,
			ts            TEXT NOT NULL,
			detail_json   TEXT,

			CHECK (action IN (
				'grant_model',
				'revoke_model',
				'create_context',
				'remove_context',
				'grant_role',
				'revoke_role'
			))
		);

		CREATE INDEX IF NOT EXISTS idx_audit_ts ON audit_log(ts DESC);
		CREATE INDEX IF NOT EXISTS idx_audit_actor ON audit_log(actor_user_id);
		CREATE INDEX IF NOT EXISTS idx_audit_target ON audit_log(target_type, target_id);
	`

	_, err := s.db.Exec(schema)
	return err
}

// Close closes the database connection
func (s *SQLiteStore) Close() error {
	s.logger.Info("closing SQLite store")
	return s.db.Close()
}

// isConstraintViolation checks if the error is a SQLite UNIQUE/PRIMARY KEY constraint violation
func isConstraintViolation(err error) bool {
	if err == nil {
		return false
	}
	errStr := err.Error()
	return strings.Contains(errStr, "UNIQUE constraint failed") ||
		strings.Contains(errStr, "constraint failed")
}

// nullString returns nil for a nil pointer, otherwise the string value
func nullString(s *string) any {
	if s == nil {
		return nil
	}
	return *s
}

// CreateContext inserts a new context.
// Returns ErrDuplicateContext if the id is already taken.
func (s *SQLiteStore) CreateContext(ctx context.Context, c *ChatContext) error {
	messages := c.Messages
	if messages == nil {
		messages = []ContextMessage{}
	}
	messagesJSON, err := json.Marshal(messages)
	if err != nil {
		return fmt.Errorf("marshaling messages: %w", err)
	}

	now := time.Now().UTC()
	if c.CreatedAt.IsZero() {
		c.CreatedAt = now
	}
	if c.UpdatedAt.IsZero() {
		c.UpdatedAt = c.CreatedAt
	}

	query := `
		INSERT INTO contexts (id, owner, model, messages_json, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?)
	`

	_, err = s.db.ExecContext(ctx, query,
		c.ID,
		c.Owner,
		c.Model,
		string(messagesJSON),
		c.CreatedAt.UTC().Format(time.RFC3339),
		c.UpdatedAt.UTC().Format(time.RFC3339),
	)
	if err != nil {
		if isConstraintViolation(err) {
			return ErrDuplicateContext
		}
		return fmt.Errorf("inserting context: %w", err)
	}

	s.logger.Debug("created context", "id", c.ID, "owner", c.Owner, "model", c.Model)
	return nil
}

// scanContext scans a contexts row into a ChatContext.
func scanContext(scanner interface{ Scan(dest ...any) error }) (*ChatContext, error) {
	var c ChatContext
	var messagesJSON, createdAtStr, updatedAtStr string

	if err := scanner.Scan(&c.ID, &c.Owner, &c.Model, &messagesJSON, &createdAtStr, &updatedAtStr); err != nil {
		return nil, err
	}

	if err := json.Unmarshal([]byte(messagesJSON), &c.Messages); err != nil {
		return nil, fmt.Errorf("unmarshaling messages of context %q: %w", c.ID, err)
	}
	if c.Messages == nil {
		c.Messages = []ContextMessage{}
	}

	var err error
	c.CreatedAt, err = time.Parse(time.RFC3339, createdAtStr)
	if err != nil {
		return nil, fmt.Errorf("parsing created_at: %w", err)
	}
	c.UpdatedAt, err = time.Parse(time.RFC3339, updatedAtStr)
	if err != nil {
		return nil, fmt.Errorf("parsing updated_at: %w", err)
	}

	return &c, nil
}

// GetContext retrieves a context by id.
// Returns ErrNotFound if the context doesn't exist.
func (s *SQLiteStore) GetContext(ctx context.Context, id string) (*ChatContext, error) {
	query := `
		SELECT id, owner, model, messages_json, created_at, updated_at
		FROM contexts
		WHERE id = ?
	`

	c, err := scanContext(s.db.QueryRowContext(ctx, query, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("querying context: %w", err)
	}
	return c, nil
}

// UpdateContext replaces the messages and model of a context. ID and owner are preserved.
// Returns ErrNotFound if the context doesn't exist.
func (s *SQLiteStore) UpdateContext(ctx context.Context, id string, messages []ContextMessage, model string) error {
	if messages == nil {
		messages = []ContextMessage{}
	}
	messagesJSON, err := json.Marshal(messages)
	if err != nil {
		return fmt.Errorf("marshaling messages: %w", err)
	}

	query := `
		UPDATE contexts
		SET messages_json = ?, model = ?, updated_at = ?
		WHERE id = ?
	`

	result, err := s.db.ExecContext(ctx, query,
		string(messagesJSON),
		model,
		time.Now().UTC().Format(time.RFC3339),
		id,
	)
	if err != nil {
		return fmt.Errorf("updating context: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("getting rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return ErrNotFound
	}

	s.logger.Debug("updated context", "id", id, "messages", len(messages))
	return nil
}

// DeleteContext removes a context.
// Returns ErrNotFound if the context doesn't exist.
func (s *SQLiteStore) DeleteContext(ctx context.Context, id string) error {
	result, err := s.db.ExecContext(ctx, `DELETE FROM contexts WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("deleting context: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("getting rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return ErrNotFound
	}

	s.logger.Debug("deleted context", "id", id)
	return nil
}

// ListContextsByOwner returns every context owned by owner, oldest first.
func (s *SQLiteStore) ListContextsByOwner(ctx context.Context, owner string) ([]*ChatContext, error) {
	query := `
		SELECT id, owner, model, messages_json, created_at, updated_at
		FROM contexts
		WHERE owner = ?
		ORDER BY created_at ASC, id ASC
	`

	rows, err := s.db.QueryContext(ctx, query, owner)
	if err != nil {
		return nil, fmt.Errorf("querying contexts: %w", err)
	}
	defer rows.Close()

	contexts := []*ChatContext{}
	for rows.Next() {
		c, err := scanContext(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning context row: %w", err)
		}
		contexts = append(contexts, c)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating context rows: %w", err)
	}

	return contexts, nil
}

// GetPreference retrieves the preference record of a user.
// Returns ErrNotFound if the user has no record yet.
func (s *SQLiteStore) GetPreference(ctx context.Context, userID string) (*UserPreference, error) {
	query := `
		SELECT user_id, default_context, default_model, available_models_json, updated_at
		FROM user_preferences
		WHERE user_id = ?
	`

	var pref UserPreference
	var defaultContext, defaultModel sql.NullString
	var modelsJSON, updatedAtStr string

	err := s.db.QueryRowContext(ctx, query, userID).Scan(
		&pref.UserID,
		&defaultContext,
		&defaultModel,
		&modelsJSON,
		&updatedAtStr,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("querying preference: %w", err)
	}

	if defaultContext.Valid {
		pref.DefaultContext = &defaultContext.String
	}
	if defaultModel.Valid {
		pref.DefaultModel = &defaultModel.String
	}
	if err := json.Unmarshal([]byte(modelsJSON), &pref.AvailableModels); err != nil {
		return nil, fmt.Errorf("unmarshaling available models: %w", err)
	}
	if pref.AvailableModels == nil {
		pref.AvailableModels = []string{}
	}
	pref.UpdatedAt, err = time.Parse(time.RFC3339, updatedAtStr)
	if err != nil {
		return nil, fmt.Errorf("parsing updated_at: %w", err)
	}

	return &pref, nil
}

// SavePreference inserts or replaces the whole preference record in one statement.
func (s *SQLiteStore) SavePreference(ctx context.Context, pref *UserPreference) error {
	models := pref.AvailableModels
	if models == nil {
		models = []string{}
	}
	modelsJSON, err := json.Marshal(models)
	if err != nil {
		return fmt.Errorf("marshaling available models: %w", err)
	}

	pref.UpdatedAt = time.Now().UTC()

	query := `
		INSERT INTO user_preferences (user_id, default_context, default_model, available_models_json, updated_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(user_id) DO UPDATE SET
			default_context = excluded.default_context,
			default_model = excluded.default_model,
			available_models_json = excluded.available_models_json,
			updated_at = excluded.updated_at
	`

	_, err = s.db.ExecContext(ctx, query,
		pref.UserID,
		nullString(pref.DefaultContext),
		nullString(pref.DefaultModel),
		string(modelsJSON),
		pref.UpdatedAt.Format(time.RFC3339),
	)
	if err != nil {
		return fmt.Errorf("saving preference: %w", err)
	}

	s.logger.Debug("saved preference", "user_id", pref.UserID, "available_models", len(models))
	return nil
}
