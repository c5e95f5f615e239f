package quota

import (
	"database/sql"
	"fmt"

	_ "modernc.org/sqlite"
)

// SQLiteStore persists encrypted keys and user quota state (spec §4.8).
// Neither Vault nor Book loads from it, and a key's AllowedModels,
// TaskTypes and Languages are not stored.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore opens (or creates) the keys/users tables on db.
func NewSQLiteStore(db *sql.DB) (*SQLiteStore, error) {
	store := &SQLiteStore{db: db}
	if err := store.initSchema(); err != nil {
		return nil, fmt.Errorf("quota: init schema: %w", err)
	}
	return store, nil
}

func (s *SQLiteStore) initSchema() error {
	const schema = `
	CREATE TABLE IF NOT EXISTS keys (
		id TEXT PRIMARY KEY,
		user_id TEXT NOT NULL,
		provider TEXT NOT NULL,
		priority INTEGER NOT NULL,
		active INTEGER NOT NULL,
		encrypted_secret BLOB NOT NULL,
		monthly_quota INTEGER NOT NULL,
		tokens_used_this_month INTEGER NOT NULL,
		usage_month TEXT NOT NULL,
		rate_limit_per_minute INTEGER NOT NULL,
		created_at TIMESTAMP NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_keys_user ON keys(user_id);

	CREATE TABLE IF NOT EXISTS users (
		id TEXT PRIMARY KEY,
		total_monthly_quota INTEGER NOT NULL,
		tokens_used_this_month INTEGER NOT NULL,
		usage_month TEXT NOT NULL,
		free_tier_enabled INTEGER NOT NULL,
		free_tokens_per_month INTEGER NOT NULL,
		free_tokens_used INTEGER NOT NULL,
		free_month TEXT NOT NULL
	);
	`
	_, err := s.db.Exec(schema)
	return err
}

// SaveKey upserts a key's persisted row, including its encrypted
// secret blob — never plaintext (P7).
func (s *SQLiteStore) SaveKey(k Key) error {
	_, err := s.db.Exec(
		`INSERT INTO keys (id, user_id, provider, priority, active, encrypted_secret, monthly_quota, tokens_used_this_month, usage_month, rate_limit_per_minute, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(id) DO UPDATE SET
		   active=excluded.active, priority=excluded.priority, monthly_quota=excluded.monthly_quota,
		   tokens_used_this_month=excluded.tokens_used_this_month, usage_month=excluded.usage_month,
		   rate_limit_per_minute=excluded.rate_limit_per_minute`,
		k.ID, k.UserID, k.Provider, k.Priority, boolToInt(k.Active), k.EncryptedSecret,
		k.MonthlyQuota, k.TokensUsedThisMonth, k.UsageMonth, k.RateLimitPerMinute, k.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("quota: save key: %w", err)
	}
	return nil
}

// LoadKeysForUser returns every persisted key row for userID,
// including the encrypted blob.
func (s *SQLiteStore) LoadKeysForUser(userID string) ([]Key, error) {
	rows, err := s.db.Query(
		`SELECT id, user_id, provider, priority, active, encrypted_secret, monthly_quota, tokens_used_this_month, usage_month, rate_limit_per_minute, created_at
		 FROM keys WHERE user_id = ?`, userID)
	if err != nil {
		return nil, fmt.Errorf("quota: query keys: %w", err)
	}
	defer rows.Close()

	var out []Key
	for rows.Next() {
		var k Key
		var active int
		if err := rows.Scan(&k.ID, &k.UserID, &k.Provider, &k.Priority, &active, &k.EncryptedSecret,
			&k.MonthlyQuota, &k.TokensUsedThisMonth, &k.UsageMonth, &k.RateLimitPerMinute, &k.CreatedAt); err != nil {
			return nil, fmt.Errorf("quota: scan key: %w", err)
		}
		k.Active = active != 0
		out = append(out, k)
	}
	return out, rows.Err()
}

// SaveUser upserts a user's persisted quota/free-tier state.
func (s *SQLiteStore) SaveUser(u User) error {
	_, err := s.db.Exec(
		`INSERT INTO users (id, total_monthly_quota, tokens_used_this_month, usage_month, free_tier_enabled, free_tokens_per_month, free_tokens_used, free_month)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(id) DO UPDATE SET
		   total_monthly_quota=excluded.total_monthly_quota, tokens_used_this_month=excluded.tokens_used_this_month,
		   usage_month=excluded.usage_month, free_tier_enabled=excluded.free_tier_enabled,
		   free_tokens_per_month=excluded.free_tokens_per_month, free_tokens_used=excluded.free_tokens_used,
		   free_month=excluded.free_month`,
		u.ID, u.TotalMonthlyQuota, u.TokensUsedThisMonth, u.UsageMonth,
		boolToInt(u.FreeTier.Enabled), u.FreeTier.FreeTokensPerMonth, u.FreeTier.FreeTokensUsed, u.FreeTier.FreeMonth,
	)
	if err != nil {
		return fmt.Errorf("quota: save user: %w", err)
	}
	return nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
