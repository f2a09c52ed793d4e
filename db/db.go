// Package db provides the bot's Postgres connection, schema migration and the
// linked-accounts table: one osu! account per chat identity.
package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib" // pgx postgres driver registered as 'pgx'

	"github.com/otr-discord-bot/linkbridge/protocol"
)

// LinkedAccount is one row of linked_accounts.
type LinkedAccount struct {
	ChatID      string
	OsuID       int64
	OsuUsername string
	LinkedAt    time.Time
}

// Connect opens a Postgres connection pool for dsn.
func Connect(dsn string) (*sql.DB, error) {
	if dsn == "" {
		return nil, errors.New("empty database dsn")
	}
	return sql.Open("pgx", dsn)
}

// Migrate applies the embedded schema idempotently. It is the fallback for
// databases that cannot run versioned migrations.
func Migrate(ctx context.Context, db *sql.DB) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS linked_accounts (
			chat_id TEXT PRIMARY KEY,
			osu_id BIGINT NOT NULL,
			osu_username TEXT NOT NULL,
			linked_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		)`,
		`CREATE INDEX IF NOT EXISTS idx_linked_accounts_osu_id ON linked_accounts(osu_id)`,
	}
	for i, s := range stmts {
		if _, err := db.ExecContext(ctx, s); err != nil {
			return fmt.Errorf("postgres migrate step %d failed: %w", i, err)
		}
	}
	return nil
}

// UpsertLink records that chatID owns the osu! account in res, replacing any
// previous link for chatID, and returns the stored row.
func UpsertLink(ctx context.Context, dbx *sql.DB, chatID string, res protocol.LinkResult) (*LinkedAccount, error) {
	q := `INSERT INTO linked_accounts(chat_id, osu_id, osu_username, linked_at)
		  VALUES($1,$2,$3,NOW())
		  ON CONFLICT(chat_id) DO UPDATE SET
		    osu_id=EXCLUDED.osu_id,
		    osu_username=EXCLUDED.osu_username,
		    linked_at=NOW()
		  RETURNING chat_id, osu_id, osu_username, linked_at`
	var acc LinkedAccount
	err := dbx.QueryRowContext(ctx, q, chatID, res.OsuID, res.Username).
		Scan(&acc.ChatID, &acc.OsuID, &acc.OsuUsername, &acc.LinkedAt)
	if err != nil {
		return nil, fmt.Errorf("upsert linked account: %w", err)
	}
	return &acc, nil
}

// GetLink returns the account linked to chatID, or nil if there is none.
func GetLink(ctx context.Context, dbx *sql.DB, chatID string) (*LinkedAccount, error) {
	var acc LinkedAccount
	err := dbx.QueryRowContext(ctx,
		`SELECT chat_id, osu_id, osu_username, linked_at FROM linked_accounts WHERE chat_id = $1`, chatID).
		Scan(&acc.ChatID, &acc.OsuID, &acc.OsuUsername, &acc.LinkedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get linked account: %w", err)
	}
	return &acc, nil
}

// Accounts adapts a *sql.DB to the link flow's account store.
type Accounts struct{ DB *sql.DB }

func (a *Accounts) SaveLink(ctx context.Context, chatID string, res protocol.LinkResult) error {
	_, err := UpsertLink(ctx, a.DB, chatID, res)
	return err
}

// GetLink returns the account linked to chatID, or nil if there is none.
func (a *Accounts) GetLink(ctx context.Context, chatID string) (*LinkedAccount, error) {
	return GetLink(ctx, a.DB, chatID)
}
