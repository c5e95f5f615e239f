package quota

import (
	"database/sql"
	"testing"
	"time"

	_ "modernc.org/sqlite"
)

func openTestQuotaDB(t *testing.T) *sql.DB {
	t.Helper()
	db, err := sql.Open("sqlite", ":memory:")
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

func TestSaveAndLoadKeysForUser(t *testing.T) {
	db := openTestQuotaDB(t)
	store, err := NewSQLiteStore(db)
	if err != nil {
		t.Fatalf("new store: %v", err)
	}

	k := Key{
		ID:                  "key-1",
		UserID:              "u1",
		Provider:            "anthropic",
		Priority:            1,
		Active:              true,
		EncryptedSecret:     []byte("ciphertext"),
		MonthlyQuota:        1000,
		TokensUsedThisMonth: 10,
		UsageMonth:          "2026-03",
		RateLimitPerMinute:  5,
		CreatedAt:           time.Unix(0, 0).UTC(),
	}
	if err := store.SaveKey(k); err != nil {
		t.Fatalf("save key: %v", err)
	}

	loaded, err := store.LoadKeysForUser("u1")
	if err != nil {
		t.Fatalf("load keys: %v", err)
	}
	if len(loaded) != 1 || loaded[0].ID != "key-1" || string(loaded[0].EncryptedSecret) != "ciphertext" {
		t.Fatalf("unexpected loaded keys: %+v", loaded)
	}
	if !loaded[0].Active {
		t.Fatal("expected active to round-trip true")
	}
}

func TestSaveUserUpsert(t *testing.T) {
	db := openTestQuotaDB(t)
	store, err := NewSQLiteStore(db)
	if err != nil {
		t.Fatalf("new store: %v", err)
	}
	u := User{ID: "u1", TotalMonthlyQuota: 500, FreeTier: FreeTierConfig{Enabled: true, FreeTokensPerMonth: 1000}}
	if err := store.SaveUser(u); err != nil {
		t.Fatalf("save user: %v", err)
	}
	u.TotalMonthlyQuota = 999
	if err := store.SaveUser(u); err != nil {
		t.Fatalf("re-save user: %v", err)
	}

	var quota int64
	if err := db.QueryRow(`SELECT total_monthly_quota FROM users WHERE id = ?`, "u1").Scan(&quota); err != nil {
		t.Fatalf("query user: %v", err)
	}
	if quota != 999 {
		t.Fatalf("expected upsert to update quota to 999, got %d", quota)
	}
}
