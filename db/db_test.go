package db_test

import (
	"context"
	"testing"

	"github.com/otr-discord-bot/linkbridge/db"
	"github.com/otr-discord-bot/linkbridge/protocol"
	"github.com/otr-discord-bot/linkbridge/testutil"
)

func TestConnectEmptyDSN(t *testing.T) {
	if _, err := db.Connect(""); err == nil {
		t.Fatal("Connect(\"\") should fail")
	}
}

func TestUpsertLink(t *testing.T) {
	database := testutil.SetupTestDB(t)
	ctx := context.Background()
	chatID := "twitch:test-upsert-link"
	t.Cleanup(func() {
		_, _ = database.Exec(`DELETE FROM linked_accounts WHERE chat_id = $1`, chatID)
	})

	if got, err := db.GetLink(ctx, database, chatID); err != nil || got != nil {
		t.Fatalf("GetLink() before insert = %+v, %v; want nil, nil", got, err)
	}

	first, err := db.UpsertLink(ctx, database, chatID, protocol.LinkResult{OsuID: 1, Username: "first"})
	if err != nil {
		t.Fatalf("UpsertLink() error = %v", err)
	}
	if first.OsuID != 1 || first.OsuUsername != "first" {
		t.Errorf("UpsertLink() = %+v", first)
	}

	// relinking replaces the previous account
	acc := &db.Accounts{DB: database}
	if err := acc.SaveLink(ctx, chatID, protocol.LinkResult{OsuID: 2, Username: "second"}); err != nil {
		t.Fatalf("SaveLink() error = %v", err)
	}
	got, err := acc.GetLink(ctx, chatID)
	if err != nil {
		t.Fatalf("Accounts.GetLink() error = %v", err)
	}
	if got == nil || got.OsuID != 2 || got.OsuUsername != "second" {
		t.Errorf("GetLink() = %+v, want osu id 2", got)
	}
	if got.LinkedAt.Before(first.LinkedAt) {
		t.Errorf("linked_at went backwards: %v < %v", got.LinkedAt, first.LinkedAt)
	}
}
