// Package main provides a CLI tool to encrypt stored Twitch credentials.
//
// Rows in the credentials table with encryption_version=0 (plaintext) are
// rewritten as version 1 (AES-256-GCM), the format the bot writes once
// ENCRYPTION_KEY is configured.
//
// Usage:
//
//	migrate-tokens [--dry-run] [--role bot|streamer]
//
// Environment Variables:
//
//	DB_DSN: Database connection string (required)
//	ENCRYPTION_KEY: Base64-encoded 32-byte encryption key (required)
package main

import (
	"context"
	"database/sql"
	"flag"
	"fmt"
	"log/slog"
	"os"

	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/joho/godotenv"

	"github.com/onnwee/matchpoll/backend/crypto"
	"github.com/onnwee/matchpoll/backend/db"
)

// credentialRow is a plaintext credentials row awaiting encryption.
type credentialRow struct {
	AccountID    string
	Role         string
	AccessToken  string
	RefreshToken string
}

func main() {
	dryRun := flag.Bool("dry-run", false, "Show what would be migrated without making changes")
	role := flag.String("role", "", "Migrate credentials for one role only (default: all roles)")
	flag.Parse()

	_ = godotenv.Load("backend/.env")
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo})))

	if *role != "" {
		if _, err := db.ParseRole(*role); err != nil {
			slog.Error("invalid --role", slog.Any("err", err))
			os.Exit(2)
		}
	}
	dsn := os.Getenv("DB_DSN")
	if dsn == "" {
		slog.Error("DB_DSN environment variable is required")
		os.Exit(1)
	}
	encryptionKey := os.Getenv("ENCRYPTION_KEY")
	if encryptionKey == "" {
		slog.Error("ENCRYPTION_KEY environment variable is required for migration")
		os.Exit(1)
	}
	encryptor, err := crypto.NewAESEncryptor(encryptionKey)
	if err != nil {
		slog.Error("failed to initialize encryptor", slog.Any("err", err))
		os.Exit(1)
	}

	database, err := db.Connect(dsn)
	if err != nil {
		slog.Error("failed to connect to database", slog.Any("err", err))
		os.Exit(1)
	}
	defer func() { _ = database.Close() }()

	ctx := context.Background()
	if err := migrateCredentials(ctx, database, encryptor, *dryRun, *role); err != nil {
		slog.Error("migration failed", slog.Any("err", err))
		os.Exit(1)
	}
	if err := reportStatus(ctx, database); err != nil {
		slog.Warn("status report failed", slog.Any("err", err))
	}
	slog.Info("migration completed successfully")
}

// migrateCredentials encrypts every plaintext credential row, optionally
// limited to one role.
func migrateCredentials(ctx context.Context, database *sql.DB, encryptor crypto.Encryptor, dryRun bool, roleFilter string) error {
	query := `SELECT account_id, role, access_token, refresh_token FROM credentials WHERE encryption_version = 0`
	var args []any
	if roleFilter != "" {
		query += " AND role = $1"
		args = append(args, roleFilter)
	}
	query += " ORDER BY role, account_id"

	rows, err := database.QueryContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("query plaintext credentials: %w", err)
	}
	var pending []credentialRow
	for rows.Next() {
		var r credentialRow
		if err := rows.Scan(&r.AccountID, &r.Role, &r.AccessToken, &r.RefreshToken); err != nil {
			_ = rows.Close()
			return fmt.Errorf("scan credential row: %w", err)
		}
		pending = append(pending, r)
	}
	if err := rows.Err(); err != nil {
		_ = rows.Close()
		return fmt.Errorf("iterate credential rows: %w", err)
	}
	_ = rows.Close()

	if len(pending) == 0 {
		slog.Info("no plaintext credentials found to migrate")
		return nil
	}
	slog.Info("found plaintext credentials to migrate", slog.Int("count", len(pending)), slog.Bool("dry_run", dryRun))

	migrated, failed := 0, 0
	for i, r := range pending {
		logger := slog.With(slog.String("role", r.Role), slog.String("account_id", r.AccountID), slog.Int("index", i+1), slog.Int("total", len(pending)))
		if dryRun {
			logger.Info("would migrate credential (dry-run)")
			migrated++
			continue
		}
		if err := encryptRow(ctx, database, encryptor, r); err != nil {
			logger.Error("failed to migrate credential", slog.Any("err", err))
			failed++
			continue
		}
		logger.Info("migrated credential")
		migrated++
	}
	slog.Info("migration summary", slog.Int("total", len(pending)), slog.Int("migrated", migrated), slog.Int("errors", failed), slog.Bool("dry_run", dryRun))
	if failed > 0 {
		return fmt.Errorf("migration completed with %d errors", failed)
	}
	return nil
}

// encryptRow seals one row's tokens. The update only matches a row that is
// still plaintext, so a concurrent writer wins.
func encryptRow(ctx context.Context, database *sql.DB, encryptor crypto.Encryptor, r credentialRow) error {
	access, err := crypto.EncryptString(encryptor, r.AccessToken)
	if err != nil {
		return fmt.Errorf("encrypt access token: %w", err)
	}
	refresh, err := crypto.EncryptString(encryptor, r.RefreshToken)
	if err != nil {
		return fmt.Errorf("encrypt refresh token: %w", err)
	}
	res, err := database.ExecContext(ctx,
		`UPDATE credentials SET access_token=$1, refresh_token=$2, encryption_version=1, updated_at=NOW()
		 WHERE account_id=$3 AND role=$4 AND encryption_version=0`,
		access, refresh, r.AccountID, r.Role)
	if err != nil {
		return fmt.Errorf("update credential: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if n != 1 {
		return fmt.Errorf("expected 1 row updated, got %d (credential may have been modified concurrently)", n)
	}
	return nil
}

// reportStatus logs how many credentials exist per encryption version.
func reportStatus(ctx context.Context, database *sql.DB) error {
	rows, err := database.QueryContext(ctx, `SELECT encryption_version, COUNT(*) FROM credentials GROUP BY encryption_version ORDER BY encryption_version`)
	if err != nil {
		return fmt.Errorf("query status: %w", err)
	}
	defer func() { _ = rows.Close() }()
	for rows.Next() {
		var version, count int
		if err := rows.Scan(&version, &count); err != nil {
			return fmt.Errorf("scan status row: %w", err)
		}
		desc := "plaintext"
		if version == 1 {
			desc = "encrypted (AES-256-GCM)"
		}
		slog.Info("credential encryption status", slog.Int("encryption_version", version), slog.String("description", desc), slog.Int("count", count))
	}
	return rows.Err()
}
