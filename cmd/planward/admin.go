package main

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"flag"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/planward/planward/internal/audit"
	"github.com/planward/planward/internal/auth"
	"github.com/planward/planward/internal/sweep"
)

// Operator subcommands that talk to the database directly, bypassing the
// HTTP surface. Useful when the service itself is down or an account is
// locked out.
func runAdmin(args []string) int {
	if len(args) == 0 {
		printAdminUsage()
		return 2
	}

	switch args[0] {
	case "reset-password":
		return runResetPassword(args[1:])
	case "repair-plans":
		return runRepairPlans(args[1:])
	default:
		fmt.Fprintf(os.Stderr, "Unknown admin command: %s\n", args[0])
		printAdminUsage()
		return 2
	}
}

func printAdminUsage() {
	fmt.Fprintln(os.Stderr, "Usage:")
	fmt.Fprintln(os.Stderr, "  planward admin reset-password --email user@example.com [--password <new>] [--db-dsn <dsn>]")
	fmt.Fprintln(os.Stderr, "  planward admin repair-plans [--db-dsn <dsn>]")
	fmt.Fprintln(os.Stderr, "")
	fmt.Fprintln(os.Stderr, "reset-password sets a user's password; omit --password to have one")
	fmt.Fprintln(os.Stderr, "generated and printed. repair-plans archives surplus active plans in")
	fmt.Fprintln(os.Stderr, "every organization so that at most one remains. Both read the Postgres")
	fmt.Fprintln(os.Stderr, "DSN from --db-dsn or PW_DB_DSN.")
}

func adminPool(ctx context.Context, dbDSN string) (*pgxpool.Pool, error) {
	dsn := strings.TrimSpace(dbDSN)
	if dsn == "" {
		dsn = strings.TrimSpace(os.Getenv("PW_DB_DSN"))
	}
	if dsn == "" {
		return nil, errors.New("--db-dsn is required (or set PW_DB_DSN)")
	}
	return pgxpool.New(ctx, dsn)
}

func runResetPassword(args []string) int {
	fs := flag.NewFlagSet("reset-password", flag.ContinueOnError)
	fs.SetOutput(os.Stderr)

	var email string
	var password string
	var dbDSN string

	fs.StringVar(&email, "email", "", "User email")
	fs.StringVar(&password, "password", "", "New password (if empty, generates one)")
	fs.StringVar(&dbDSN, "db-dsn", "", "Postgres DSN (defaults to PW_DB_DSN)")

	if err := fs.Parse(args); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return 0
		}
		return 2
	}

	email = strings.TrimSpace(email)
	if email == "" {
		fmt.Fprintln(os.Stderr, "--email is required")
		return 2
	}

	generated := false
	if password == "" {
		pw, err := generatePassword(24)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Failed to generate password: %v\n", err)
			return 1
		}
		password = pw
		generated = true
	}

	if len(password) < 8 {
		fmt.Fprintln(os.Stderr, "Password must be at least 8 characters")
		return 2
	}

	passwordHash, err := auth.HashPassword(password)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to hash password: %v\n", err)
		return 1
	}

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	pool, err := adminPool(ctx, dbDSN)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to connect to database: %v\n", err)
		return 1
	}
	defer pool.Close()

	tag, err := pool.Exec(ctx, `UPDATE users SET password_hash = $2, updated_at = NOW() WHERE email = $1`, email, passwordHash)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to update password: %v\n", err)
		return 1
	}
	if tag.RowsAffected() == 0 {
		fmt.Fprintf(os.Stderr, "No user found with email %q\n", email)
		return 1
	}

	fmt.Fprintln(os.Stdout, "Password updated.")
	if generated {
		fmt.Fprintln(os.Stdout, password)
	}

	return 0
}

// runRepairPlans runs the same pass as the scheduled repair sweep, once,
// and reports what it touched. Repairs are audited like any other.
func runRepairPlans(args []string) int {
	fs := flag.NewFlagSet("repair-plans", flag.ContinueOnError)
	fs.SetOutput(os.Stderr)

	var dbDSN string
	fs.StringVar(&dbDSN, "db-dsn", "", "Postgres DSN (defaults to PW_DB_DSN)")

	if err := fs.Parse(args); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return 0
		}
		return 2
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	pool, err := adminPool(ctx, dbDSN)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to connect to database: %v\n", err)
		return 1
	}
	defer pool.Close()

	before := countDoubleActiveOrgs(ctx, pool)
	if err := sweep.RunRepairSweep(ctx, pool, audit.NewWriter(pool)); err != nil {
		fmt.Fprintf(os.Stderr, "Repair sweep failed: %v\n", err)
		return 1
	}

	if before == 0 {
		fmt.Fprintln(os.Stdout, "All organizations healthy; nothing to repair.")
	} else {
		fmt.Fprintf(os.Stdout, "Repaired %d organization(s).\n", before)
	}
	return 0
}

func countDoubleActiveOrgs(ctx context.Context, pool *pgxpool.Pool) int {
	var n int
	err := pool.QueryRow(ctx, `
		SELECT COUNT(*) FROM (
			SELECT org_id FROM plans WHERE status = 'active'
			GROUP BY org_id HAVING COUNT(*) > 1
		) corrupted`).Scan(&n)
	if err != nil {
		return 0
	}
	return n
}

func generatePassword(bytesLen int) (string, error) {
	if bytesLen < 8 {
		bytesLen = 8
	}

	b := make([]byte, bytesLen)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}

	// URL-safe, printable, without padding.
	return base64.RawURLEncoding.EncodeToString(b), nil
}
