package quota

import (
	"fmt"
	"math/rand"
	"sort"
	"sync"
	"time"

	"github.com/swarmcore/swarm/internal/clock"
	"github.com/swarmcore/swarm/internal/events"
	"github.com/swarmcore/swarm/internal/swarmerr"
)

// Book tracks users, free-tier allowances, and per-key quota/rate-limit
// state, and selects keys for a task (spec §4.8).
type Book struct {
	mu    sync.Mutex
	users map[string]*User
	usage map[string][]usageHistoryEntry // keyID -> rolling 30-day history

	vault *Vault
	clk   clock.Clock
	ids   clock.IDGen
	bus   *events.Bus
}

// NewBook creates a Book backed by vault for key storage.
func NewBook(vault *Vault, clk clock.Clock, ids clock.IDGen, bus *events.Bus) *Book {
	return &Book{
		users: make(map[string]*User),
		usage: make(map[string][]usageHistoryEntry),
		vault: vault,
		clk:   clk,
		ids:   ids,
		bus:   bus,
	}
}

// AddUser registers a user with the book.
func (b *Book) AddUser(u User) *User {
	b.mu.Lock()
	defer b.mu.Unlock()
	cp := u
	b.users[cp.ID] = &cp
	out := cp
	return &out
}

func (b *Book) getUserLocked(userID string) (*User, error) {
	u, ok := b.users[userID]
	if !ok {
		return nil, fmt.Errorf("quota: user %s: %w", userID, swarmerr.ErrUserNotFound)
	}
	return u, nil
}

// CheckFreeTier evaluates userID's shared allowance for taskType
// (spec §4.8 Free tier).
func (b *Book) CheckFreeTier(userID, taskType string, estimatedTokens int64) (FreeTierResult, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	u, err := b.getUserLocked(userID)
	if err != nil {
		return FreeTierResult{}, err
	}
	if !u.FreeTier.Enabled {
		return FreeTierResult{Allowed: false, Reason: "free tier disabled"}, nil
	}

	month := clock.MonthKey(b.clk.Now())
	if u.FreeTier.FreeMonth != month {
		u.FreeTier.FreeMonth = month
		u.FreeTier.FreeTokensUsed = 0
	}

	if !taskTypeAllowed(taskType, u.FreeTier.FreeTaskTypes) {
		return FreeTierResult{Allowed: false, Reason: fmt.Sprintf("task type %q not covered by free tier", taskType)}, nil
	}

	remaining := u.FreeTier.FreeTokensPerMonth - u.FreeTier.FreeTokensUsed
	if remaining <= 0 {
		return FreeTierResult{Allowed: false, Remaining: 0, Reason: "free tier exhausted"}, nil
	}
	if estimatedTokens > remaining {
		return FreeTierResult{Allowed: false, Remaining: remaining, Reason: "estimated tokens exceed remaining free tier"}, nil
	}
	return FreeTierResult{Allowed: true, Remaining: remaining}, nil
}

func taskTypeAllowed(taskType string, allowed []string) bool {
	if len(allowed) == 0 {
		return taskType == genericTaskType
	}
	for _, t := range allowed {
		if t == taskType {
			return true
		}
	}
	return false
}

// SelectKeyForTask tries the free tier first, falling back to a
// personal key (spec §4.8 Task-aware selection).
func (b *Book) SelectKeyForTask(userID, taskType string, opts SelectOptions) (*Key, bool, error) {
	free, err := b.CheckFreeTier(userID, taskType, 0)
	if err != nil {
		return nil, false, err
	}
	if free.Allowed {
		return nil, true, nil
	}
	opts.Strategy = StrategyPriority
	opts.TaskType = taskType
	key, err := b.SelectKey(userID, opts)
	if err != nil {
		return nil, false, err
	}
	return key, false, nil
}

// SelectKey applies the candidate pipeline in spec §4.8 Key selection.
func (b *Book) SelectKey(userID string, opts SelectOptions) (*Key, error) {
	b.mu.Lock()
	u, err := b.getUserLocked(userID)
	b.mu.Unlock()
	if err != nil {
		return nil, err
	}

	candidates := b.vault.keysForUser(userID)
	var active []*Key
	for _, k := range candidates {
		if k.Active {
			active = append(active, k)
		}
	}
	sort.SliceStable(active, func(i, j int) bool { return active[i].Priority < active[j].Priority })

	filtered := active[:0:0]
	for _, k := range active {
		if opts.Provider != "" && k.Provider != opts.Provider {
			continue
		}
		if opts.Model != "" && len(k.AllowedModels) > 0 && !contains(k.AllowedModels, opts.Model) {
			continue
		}
		filtered = append(filtered, k)
	}

	if opts.TaskType != "" {
		byTaskType := filterByTaskType(filtered, opts.TaskType)
		if len(byTaskType) > 0 {
			filtered = byTaskType
		} else {
			filtered = filterByTaskType(filtered, genericTaskType)
		}
	}
	if opts.Language != "" {
		byLang := filterByLanguage(filtered, opts.Language)
		if len(byLang) > 0 {
			filtered = byLang
		}
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	var eligible []*Key
	for _, k := range filtered {
		qr, _ := b.checkQuotaLocked(k)
		if !qr.Allowed {
			continue
		}
		rl := b.checkRateLimitLocked(k, false)
		if !rl.Allowed {
			continue
		}
		eligible = append(eligible, k)
	}
	if len(eligible) == 0 {
		return nil, fmt.Errorf("quota: user %s: %w", userID, swarmerr.ErrNoKeyAvailable)
	}

	strategy := opts.Strategy
	if strategy == "" {
		strategy = StrategyPriority
	}

	switch strategy {
	case StrategyRoundRobin:
		idx := u.RoundRobinCursor % len(eligible)
		u.RoundRobinCursor++
		return exportKey(eligible[idx]), nil
	case StrategyLeastUsed:
		least := eligible[0]
		for _, k := range eligible[1:] {
			if k.TokensUsedThisMonth < least.TokensUsedThisMonth {
				least = k
			}
		}
		return exportKey(least), nil
	case StrategyRandom:
		return exportKey(eligible[rand.Intn(len(eligible))]), nil
	default: // StrategyPriority
		return exportKey(eligible[0]), nil
	}
}

func contains(list []string, v string) bool {
	for _, x := range list {
		if x == v {
			return true
		}
	}
	return false
}

func filterByTaskType(keys []*Key, taskType string) []*Key {
	var out []*Key
	for _, k := range keys {
		if len(k.TaskTypes) == 0 {
			if taskType == genericTaskType {
				out = append(out, k)
			}
			continue
		}
		if contains(k.TaskTypes, taskType) {
			out = append(out, k)
		}
	}
	return out
}

func filterByLanguage(keys []*Key, language string) []*Key {
	var out []*Key
	for _, k := range keys {
		if len(k.Languages) == 0 || contains(k.Languages, language) {
			out = append(out, k)
		}
	}
	return out
}

// CheckQuota evaluates a key's monthly quota (spec §4.8 Quota).
func (b *Book) CheckQuota(keyID string) (QuotaResult, error) {
	k, ok := b.vault.get(keyID)
	if !ok {
		return QuotaResult{}, fmt.Errorf("quota: key %s: %w", keyID, swarmerr.ErrKeyNotFound)
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.checkQuotaLocked(k)
}

func (b *Book) checkQuotaLocked(k *Key) (QuotaResult, error) {
	month := clock.MonthKey(b.clk.Now())
	if k.UsageMonth != month {
		k.UsageMonth = month
		k.TokensUsedThisMonth = 0
	}
	resetAt := nextMonthStart(b.clk.Now())
	if k.MonthlyQuota == 0 {
		return QuotaResult{Allowed: true, Remaining: -1, ResetAt: resetAt}, nil
	}
	remaining := k.MonthlyQuota - k.TokensUsedThisMonth
	return QuotaResult{Allowed: remaining > 0, Remaining: remaining, ResetAt: resetAt}, nil
}

// CheckUserQuota evaluates a user's total monthly quota.
func (b *Book) CheckUserQuota(userID string) (QuotaResult, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	u, err := b.getUserLocked(userID)
	if err != nil {
		return QuotaResult{}, err
	}
	month := clock.MonthKey(b.clk.Now())
	if u.UsageMonth != month {
		u.UsageMonth = month
		u.TokensUsedThisMonth = 0
	}
	resetAt := nextMonthStart(b.clk.Now())
	if u.TotalMonthlyQuota == 0 {
		return QuotaResult{Allowed: true, Remaining: -1, ResetAt: resetAt}, nil
	}
	remaining := u.TotalMonthlyQuota - u.TokensUsedThisMonth
	return QuotaResult{Allowed: remaining > 0, Remaining: remaining, ResetAt: resetAt}, nil
}

// CheckRateLimit evaluates a key's per-minute request bucket (spec
// §4.8 Rate limit, P9).
func (b *Book) CheckRateLimit(keyID string) (RateLimitResult, error) {
	k, ok := b.vault.get(keyID)
	if !ok {
		return RateLimitResult{}, fmt.Errorf("quota: key %s: %w", keyID, swarmerr.ErrKeyNotFound)
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.checkRateLimitLocked(k, true), nil
}

// checkRateLimitLocked evaluates (and, if increment, consumes) one
// request against k's per-minute bucket.
func (b *Book) checkRateLimitLocked(k *Key, increment bool) RateLimitResult {
	now := b.clk.Now()
	minute := now.Unix() / 60
	if k.RateLimitMinute != minute {
		k.RateLimitMinute = minute
		k.RequestsThisMinute = 0
	}
	if k.RateLimitPerMinute == 0 {
		if increment {
			k.RequestsThisMinute++
		}
		return RateLimitResult{Allowed: true}
	}
	if k.RequestsThisMinute >= k.RateLimitPerMinute {
		return RateLimitResult{Allowed: false, RetryAfter: int(60 - now.Unix()%60)}
	}
	if increment {
		k.RequestsThisMinute++
	}
	return RateLimitResult{Allowed: true}
}

// RecordUsage applies a usage event to key/user month buckets and the
// rolling 30-day history (spec §4.8 Usage recording).
func (b *Book) RecordUsage(ev UsageEvent) error {
	k, ok := b.vault.get(ev.KeyID)
	if !ok {
		return fmt.Errorf("quota: key %s: %w", ev.KeyID, swarmerr.ErrKeyNotFound)
	}
	total := ev.InputTokens + ev.OutputTokens

	b.mu.Lock()
	defer b.mu.Unlock()

	month := clock.MonthKey(b.clk.Now())
	if k.UsageMonth != month {
		k.UsageMonth = month
		k.TokensUsedThisMonth = 0
	}
	k.TokensUsedThisMonth += total

	if u, ok := b.users[ev.UserID]; ok {
		if u.UsageMonth != month {
			u.UsageMonth = month
			u.TokensUsedThisMonth = 0
		}
		u.TokensUsedThisMonth += total
		if u.FreeTier.Enabled && u.FreeTier.FreeMonth == month {
			// Free-tier consumption is recorded explicitly via
			// CheckFreeTier callers; RecordUsage only tracks paid
			// key usage here to avoid double counting (P8).
		}
	}

	history := append(b.usage[ev.KeyID], usageHistoryEntry{Timestamp: ev.Timestamp, Tokens: total})
	cutoff := ev.Timestamp.Add(-usageHistoryWindow)
	trimmed := history[:0]
	for _, h := range history {
		if h.Timestamp.After(cutoff) {
			trimmed = append(trimmed, h)
		}
	}
	b.usage[ev.KeyID] = trimmed

	if b.bus != nil {
		b.bus.Publish(events.NewEvent(b.ids, b.clk, events.KeyUsage, "quota.Book", ev.KeyID, events.PriorityNormal, map[string]interface{}{
			"key_id": ev.KeyID,
			"tokens": total,
		}))
	}
	if k.MonthlyQuota > 0 && k.TokensUsedThisMonth >= k.MonthlyQuota {
		if b.bus != nil {
			b.bus.Publish(events.NewEvent(b.ids, b.clk, events.QuotaExceeded, "quota.Book", ev.KeyID, events.PriorityHigh, map[string]interface{}{
				"key_id": ev.KeyID,
			}))
		}
	}
	return nil
}

// RecordFreeTierUsage consumes tokens from a user's free-tier
// allowance, keeping FreeTokensUsed monotonic within a month (P8).
func (b *Book) RecordFreeTierUsage(userID string, tokens int64) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	u, err := b.getUserLocked(userID)
	if err != nil {
		return err
	}
	month := clock.MonthKey(b.clk.Now())
	if u.FreeTier.FreeMonth != month {
		u.FreeTier.FreeMonth = month
		u.FreeTier.FreeTokensUsed = 0
	}
	u.FreeTier.FreeTokensUsed += tokens
	return nil
}

func nextMonthStart(now time.Time) time.Time {
	firstOfMonth := time.Date(now.Year(), now.Month(), 1, 0, 0, 0, 0, now.Location())
	return firstOfMonth.AddDate(0, 1, 0)
}
