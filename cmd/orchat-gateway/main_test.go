// ABOUTME: Tests for the CLI helpers: flag parsing, config rendering, tokens, roles and audit output
// ABOUTME: Uses the mock store so nothing touches a real database

package main

import (
	"bufio"
	"bytes"
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/fatih/color"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/2389/orchat-gateway/internal/auth"
	"github.com/2389/orchat-gateway/internal/config"
	"github.com/2389/orchat-gateway/internal/store"
)

func TestParseFlags(t *testing.T) {
	tests := []struct {
		name    string
		args    []string
		want    map[string]string
		wantErr string
	}{
		{"separate value", []string{"--user", "alice"}, map[string]string{"user": "alice"}, ""},
		{"inline value", []string{"--user=alice", "--ttl=1h"}, map[string]string{"user": "alice", "ttl": "1h"}, ""},
		{"switch", []string{"--user", "alice", "--revoke"}, map[string]string{"user": "alice", "revoke": "true"}, ""},
		{"missing value", []string{"--user"}, nil, "--user requires a value"},
		{"unknown flag", []string{"--nope"}, nil, "unknown flag: --nope"},
		{"positional", []string{"alice"}, nil, "unexpected argument: alice"},
		{"switch with value", []string{"--revoke=yes"}, nil, "--revoke does not take a value"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := parseFlags(tt.args, []string{"user", "ttl"}, []string{"revoke"})
			if tt.wantErr != "" {
				assert.EqualError(t, err, tt.wantErr)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestRenderConfig_LoadsBack(t *testing.T) {
	t.Setenv("OPENROUTER_API_KEY", "sk-or-test")

	secret, err := randomSecret()
	require.NoError(t, err)

	path := filepath.Join(t.TempDir(), "gateway.yaml")
	content := renderConfig(initAnswers{
		HTTPAddr:    "localhost:9090",
		DBPath:      "/tmp/orchat/gateway.db",
		JWTSecret:   secret,
		APIKey:      "${OPENROUTER_API_KEY}",
		RankName:    "orchat",
		CatalogFile: "/etc/orchat/models.toml",
		LogLevel:    "debug",
		LogFormat:   "json",
	})
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))

	cfg, err := config.Load(path)
	require.NoError(t, err)
	assert.Equal(t, "localhost:9090", cfg.Server.HTTPAddr)
	assert.Equal(t, "/tmp/orchat/gateway.db", cfg.Database.Path)
	assert.Equal(t, secret, cfg.Auth.JWTSecret)
	assert.Equal(t, "sk-or-test", cfg.OpenRouter.APIKey)
	assert.Equal(t, "orchat", cfg.OpenRouter.RankName)
	assert.Empty(t, cfg.OpenRouter.RankURL)
	assert.Equal(t, 60*time.Second, cfg.OpenRouter.Timeout)
	assert.Equal(t, "/etc/orchat/models.toml", cfg.Models.CatalogFile)
	assert.Equal(t, "debug", cfg.Logging.Level)
}

func TestPrompt(t *testing.T) {
	reader := bufio.NewReader(strings.NewReader("custom\n\nlast"))

	assert.Equal(t, "custom", prompt(reader, "q1", "default"))
	assert.Equal(t, "default", prompt(reader, "q2", "default"), "empty line keeps default")
	assert.Equal(t, "last", prompt(reader, "q3", "default"), "unterminated final line is used")
	assert.Equal(t, "default", prompt(reader, "q4", "default"), "EOF keeps default")

	assert.True(t, isYes("Y"))
	assert.False(t, isYes("no"))
}

func TestIssueToken(t *testing.T) {
	secret := []byte("test-secret-key-for-jwt-signing!")

	token, expiresAt, err := issueToken(secret, "alice", time.Hour)
	require.NoError(t, err)
	assert.WithinDuration(t, time.Now().Add(time.Hour), expiresAt, time.Minute)

	verifier, err := auth.NewJWTVerifier(secret)
	require.NoError(t, err)
	userID, err := verifier.Verify(token)
	require.NoError(t, err)
	assert.Equal(t, "alice", userID)

	_, _, err = issueToken(secret, "", time.Hour)
	assert.Error(t, err)

	_, _, err = issueToken([]byte("short"), "alice", time.Hour)
	assert.ErrorIs(t, err, auth.ErrWeakSecret)
}

func TestSetAdmin_GrantAndRevoke(t *testing.T) {
	ctx := context.Background()
	s := store.NewMockStore()

	require.NoError(t, setAdmin(ctx, s, "alice", false))
	isAdmin, err := s.HasRole(ctx, "alice", store.RoleAdmin)
	require.NoError(t, err)
	assert.True(t, isAdmin)

	require.NoError(t, setAdmin(ctx, s, "alice", true))
	isAdmin, err = s.HasRole(ctx, "alice", store.RoleAdmin)
	require.NoError(t, err)
	assert.False(t, isAdmin)

	entries, err := s.ListAuditLog(ctx, store.AuditFilter{})
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, store.AuditRevokeRole, entries[0].Action)
	assert.Equal(t, store.AuditGrantRole, entries[1].Action)
	assert.Equal(t, cliActor, entries[1].ActorUserID)
	assert.Equal(t, "alice", entries[1].TargetID)
}

func TestPrintAudit(t *testing.T) {
	ctx := context.Background()
	s := store.NewMockStore()

	var buf bytes.Buffer
	require.NoError(t, printAudit(ctx, &buf, s, store.AuditFilter{}))
	assert.Equal(t, "no audit entries\n", buf.String())

	require.NoError(t, setAdmin(ctx, s, "alice", false))
	require.NoError(t, setAdmin(ctx, s, "bob", false))

	target := "bob"
	buf.Reset()
	require.NoError(t, printAudit(ctx, &buf, s, store.AuditFilter{TargetID: &target}))

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	require.Len(t, lines, 2)
	assert.Contains(t, lines[0], "ACTION")
	assert.Contains(t, lines[1], "grant_role")
	assert.Contains(t, lines[1], "user:bob")
	assert.NotContains(t, buf.String(), "alice")
}

func TestColorHandler(t *testing.T) {
	color.NoColor = true
	t.Cleanup(func() { color.NoColor = false })

	var buf bytes.Buffer
	logger := slog.New(newColorHandler(&buf, slog.LevelInfo))

	logger.Debug("hidden")
	logger.With("component", "chat").WithGroup("turn").Info("saved", "model", "m-free")

	out := buf.String()
	assert.NotContains(t, out, "hidden")
	assert.Contains(t, out, "INF saved")
	assert.Contains(t, out, " component=chat")
	assert.Contains(t, out, " turn.model=m-free")
}

func TestParseLevel(t *testing.T) {
	assert.Equal(t, slog.LevelDebug, parseLevel("debug"))
	assert.Equal(t, slog.LevelWarn, parseLevel("warn"))
	assert.Equal(t, slog.LevelError, parseLevel("error"))
	assert.Equal(t, slog.LevelInfo, parseLevel(""))
}
