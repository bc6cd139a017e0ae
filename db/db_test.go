package db_test

import (
	"context"
	"testing"
	"time"

	"github.com/onnwee/yuka/db"
	"github.com/onnwee/yuka/testutil"
)

// 32 bytes: "0123456789abcdef0123456789abcdef"
const testKey = "MDEyMzQ1Njc4OWFiY2RlZjAxMjM0NTY3ODlhYmNkZWY="

func TestTokenStoreRoundTrip(t *testing.T) {
	database := testutil.SetupTestDB(t)
	ctx := context.Background()

	store, err := db.NewTokenStore(database, testKey)
	if err != nil {
		t.Fatalf("NewTokenStore: %v", err)
	}
	want := db.Token{Access: "acc", Refresh: "ref", Expiry: time.Now().Add(time.Hour).UTC().Truncate(time.Second), Scope: "chat:read chat:edit"}
	if err := store.Upsert(ctx, "twitch", want); err != nil {
		t.Fatalf("Upsert: %v", err)
	}

	var raw string
	if err := database.QueryRowContext(ctx, `SELECT access_token FROM oauth_tokens WHERE provider='twitch'`).Scan(&raw); err != nil {
		t.Fatalf("raw select: %v", err)
	}
	if raw == "acc" {
		t.Error("access token stored in plaintext despite sealer")
	}

	got, err := store.Get(ctx, "twitch")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got.Access != want.Access || got.Refresh != want.Refresh || got.Scope != want.Scope || !got.Expiry.Equal(want.Expiry) {
		t.Errorf("Get = %+v, want %+v", got, want)
	}

	plain := &db.TokenStore{DB: database}
	if _, err := plain.Get(ctx, "twitch"); err == nil {
		t.Error("expected error reading sealed token without a sealer")
	}
}

func TestTokenStoreMissingProvider(t *testing.T) {
	database := testutil.SetupTestDB(t)
	got, err := (&db.TokenStore{DB: database}).Get(context.Background(), "nobody")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got.Access != "" {
		t.Errorf("expected zero token, got %+v", got)
	}
}

func TestSealPlaintext(t *testing.T) {
	database := testutil.SetupTestDB(t)
	ctx := context.Background()

	plain := &db.TokenStore{DB: database}
	if err := plain.Upsert(ctx, "twitch", db.Token{Access: "acc", Refresh: "ref"}); err != nil {
		t.Fatalf("Upsert: %v", err)
	}
	if _, err := plain.SealPlaintext(ctx, false); err == nil {
		t.Fatal("expected error without sealer")
	}

	sealed, err := db.NewTokenStore(database, testKey)
	if err != nil {
		t.Fatalf("NewTokenStore: %v", err)
	}
	providers, err := sealed.SealPlaintext(ctx, true)
	if err != nil || len(providers) != 1 || providers[0] != "twitch" {
		t.Fatalf("dry run = %v, %v", providers, err)
	}
	if _, err := plain.Get(ctx, "twitch"); err != nil {
		t.Fatalf("dry run must not seal: %v", err)
	}

	if _, err := sealed.SealPlaintext(ctx, false); err != nil {
		t.Fatalf("SealPlaintext: %v", err)
	}
	got, err := sealed.Get(ctx, "twitch")
	if err != nil || got.Access != "acc" || got.Refresh != "ref" {
		t.Fatalf("Get after seal = %+v, %v", got, err)
	}
	left, err := sealed.SealPlaintext(ctx, true)
	if err != nil || len(left) != 0 {
		t.Errorf("plaintext rows left = %v, %v", left, err)
	}
}
