// ABOUTME: Administrative subcommands that work directly on the database
// ABOUTME: token issues API tokens, grant-admin manages roles, audit prints the audit log

package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"strconv"
	"text/tabwriter"
	"time"

	"github.com/fatih/color"

	"github.com/2389/orchat-gateway/internal/auth"
	"github.com/2389/orchat-gateway/internal/config"
	"github.com/2389/orchat-gateway/internal/store"
)

// cliActor is the audit actor for changes made from the command line.
const cliActor = "cli"

const defaultTokenTTL = 24 * time.Hour

type adminStore interface {
	store.RoleStore
	store.AuditStore
}

func runToken(args []string) error {
	flags, err := parseFlags(args, []string{"user", "ttl"}, nil)
	if err != nil {
		return err
	}

	ttl := defaultTokenTTL
	if raw, ok := flags["ttl"]; ok {
		ttl, err = time.ParseDuration(raw)
		if err != nil {
			return fmt.Errorf("invalid --ttl: %w", err)
		}
		if ttl <= 0 {
			return fmt.Errorf("--ttl must be positive")
		}
	}

	cfg, err := config.Load(config.DefaultPath())
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	token, expiresAt, err := issueToken([]byte(cfg.Auth.JWTSecret), flags["user"], ttl)
	if err != nil {
		return err
	}

	fmt.Println(token)
	color.New(color.FgHiBlack).Fprintf(os.Stderr, "expires %s\n", expiresAt.Format(time.RFC3339))
	return nil
}

func issueToken(secret []byte, userID string, ttl time.Duration) (string, time.Time, error) {
	if userID == "" {
		return "", time.Time{}, fmt.Errorf("--user is required")
	}

	verifier, err := auth.NewJWTVerifier(secret)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("creating JWT verifier: %w", err)
	}

	expiresAt := time.Now().Add(ttl).UTC()
	token, err := verifier.Generate(userID, ttl)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("generating token: %w", err)
	}
	return token, expiresAt, nil
}

// openStore loads the config and opens the database it points at.
func openStore() (*store.SQLiteStore, error) {
	cfg, err := config.Load(config.DefaultPath())
	if err != nil {
		return nil, fmt.Errorf("loading config: %w", err)
	}

	s, err := store.NewSQLiteStore(cfg.Database.Path)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}
	return s, nil
}

func runGrantAdmin(ctx context.Context, args []string) error {
	flags, err := parseFlags(args, []string{"user"}, []string{"revoke"})
	if err != nil {
		return err
	}
	if flags["user"] == "" {
		return fmt.Errorf("--user is required")
	}

	s, err := openStore()
	if err != nil {
		return err
	}
	defer s.Close()

	revoke := flags["revoke"] == "true"
	if err := setAdmin(ctx, s, flags["user"], revoke); err != nil {
		return err
	}

	green := color.New(color.FgGreen)
	if revoke {
		green.Printf("  ✓ Revoked admin from %s\n", flags["user"])
	} else {
		green.Printf("  ✓ Granted admin to %s\n", flags["user"])
	}
	return nil
}

// setAdmin grants or revokes the admin role and records the change.
func setAdmin(ctx context.Context, s adminStore, userID string, revoke bool) error {
	action := store.AuditGrantRole
	if revoke {
		action = store.AuditRevokeRole
		if err := s.RemoveRole(ctx, userID, store.RoleAdmin); err != nil {
			return fmt.Errorf("revoking admin role: %w", err)
		}
	} else if err := s.AddRole(ctx, userID, store.RoleAdmin); err != nil {
		return fmt.Errorf("granting admin role: %w", err)
	}

	// The role change already happened; a failed audit write is reported but not fatal.
	if err := s.AppendAuditLog(ctx, &store.AuditEntry{
		ActorUserID: cliActor,
		Action:      action,
		TargetType:  "user",
		TargetID:    userID,
		Detail:      map[string]any{"role": string(store.RoleAdmin)},
	}); err != nil {
		color.New(color.FgYellow).Fprintf(os.Stderr, "  ! audit log: %v\n", err)
	}
	return nil
}

func runAudit(ctx context.Context, args []string) error {
	flags, err := parseFlags(args, []string{"actor", "target", "action", "limit"}, nil)
	if err != nil {
		return err
	}

	var filter store.AuditFilter
	if v, ok := flags["actor"]; ok {
		filter.ActorUserID = &v
	}
	if v, ok := flags["target"]; ok {
		filter.TargetID = &v
	}
	if v, ok := flags["action"]; ok {
		action := store.AuditAction(v)
		filter.Action = &action
	}
	if v, ok := flags["limit"]; ok {
		filter.Limit, err = strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("invalid --limit: %w", err)
		}
	}

	s, err := openStore()
	if err != nil {
		return err
	}
	defer s.Close()

	return printAudit(ctx, os.Stdout, s, filter)
}

// printAudit writes matching audit entries as an aligned table.
func printAudit(ctx context.Context, w io.Writer, s store.AuditStore, filter store.AuditFilter) error {
	entries, err := s.ListAuditLog(ctx, filter)
	if err != nil {
		return fmt.Errorf("listing audit log: %w", err)
	}

	if len(entries) == 0 {
		fmt.Fprintln(w, "no audit entries")
		return nil
	}

	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "TIME\tACTOR\tACTION\tTARGET\tDETAIL")
	for _, e := range entries {
		detail := ""
		if len(e.Detail) > 0 {
			detail = fmt.Sprint(e.Detail)
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s:%s\t%s\n",
			e.Timestamp.Local().Format("2006-01-02 15:04:05"),
			e.ActorUserID, e.Action, e.TargetType, e.TargetID, detail)
	}
	return tw.Flush()
}
