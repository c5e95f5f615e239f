// Package quota implements per-user API key storage (encrypted at
// rest), key selection, free-tier accounting, and quota/rate-limit
// enforcement (spec §4.8).
package quota

import "time"

// Strategy picks among several quota-eligible keys.
type Strategy string

const (
	StrategyPriority   Strategy = "priority"
	StrategyRoundRobin Strategy = "round_robin"
	StrategyLeastUsed  Strategy = "least_used"
	StrategyRandom     Strategy = "random"
)

// Key is one stored API credential. EncryptedSecret is the only field
// holding key material; Export must omit it (P7).
type Key struct {
	ID              string
	UserID          string
	Provider        string
	Priority        int
	Active          bool
	AllowedModels   []string // empty means any model
	TaskTypes       []string // empty means "generic" only
	Languages       []string // empty means any language

	EncryptedSecret []byte

	MonthlyQuota        int64 // 0 = unlimited
	TokensUsedThisMonth int64
	UsageMonth          string // clock.MonthKey of the last reset

	RateLimitPerMinute int // 0 = unlimited
	RateLimitMinute    int64
	RequestsThisMinute int

	CreatedAt time.Time
}

// User is the account a set of keys and a free-tier allowance belong to.
type User struct {
	ID       string
	FreeTier FreeTierConfig

	TotalMonthlyQuota   int64 // 0 = unlimited
	TokensUsedThisMonth int64
	UsageMonth          string

	RoundRobinCursor int
}

// FreeTierConfig configures a user's shared-quota allowance.
type FreeTierConfig struct {
	Enabled          bool
	FreeTokensPerMonth int64
	FreeTaskTypes      []string
	FreeTokensUsed     int64
	FreeMonth          string
}

// SelectOptions narrows SelectKey's candidate set.
type SelectOptions struct {
	Provider string
	Model    string
	Strategy Strategy
	TaskType string
	Language string
}

// FreeTierResult is CheckFreeTier's answer.
type FreeTierResult struct {
	Allowed   bool
	Remaining int64
	Reason    string
}

// QuotaResult is CheckQuota/CheckUserQuota's answer.
type QuotaResult struct {
	Allowed   bool
	Remaining int64
	ResetAt   time.Time
}

// RateLimitResult is CheckRateLimit's answer.
type RateLimitResult struct {
	Allowed      bool
	RetryAfter   int // seconds
}

// UsageEvent is what RecordUsage ingests.
type UsageEvent struct {
	KeyID            string
	UserID           string
	Model            string
	InputTokens      int64
	OutputTokens     int64
	Timestamp        time.Time
}

// usageHistoryEntry is one rolling 30-day usage record kept per key.
type usageHistoryEntry struct {
	Timestamp time.Time
	Tokens    int64
}

const usageHistoryWindow = 30 * 24 * time.Hour

// genericTaskType is the fallback free-tier/task-type bucket.
const genericTaskType = "generic"
