// Package clock centralizes time and ID generation so tests can inject
// a fake clock instead of depending on time.Now() scattered across
// components (needed for month-rollover and rate-limit-minute tests).
package clock

import (
	"sync"
	"time"

	"github.com/google/uuid"
)

// Clock is the monotonic time source used by every component that
// needs "now" — never call time.Now() directly outside this package.
type Clock interface {
	Now() time.Time
}

// IDGen issues unique identifiers.
type IDGen interface {
	NewID() string
}

// System is the real wall-clock implementation.
type System struct{}

func (System) Now() time.Time { return time.Now() }

// UUIDGen issues RFC 4122 UUIDs via google/uuid.
type UUIDGen struct{}

func (UUIDGen) NewID() string { return uuid.New().String() }

// Fake is a settable clock for deterministic tests.
type Fake struct {
	mu  sync.Mutex
	now time.Time
}

// NewFake creates a Fake clock starting at t.
func NewFake(t time.Time) *Fake {
	return &Fake{now: t}
}

func (f *Fake) Now() time.Time {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.now
}

// Advance moves the fake clock forward by d.
func (f *Fake) Advance(d time.Duration) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.now = f.now.Add(d)
}

// Set pins the fake clock to t.
func (f *Fake) Set(t time.Time) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.now = t
}

// SeqIDGen issues deterministic, incrementing IDs for tests
// ("prefix-1", "prefix-2", ...).
type SeqIDGen struct {
	mu     sync.Mutex
	prefix string
	n      int
}

// NewSeqIDGen creates a deterministic ID generator.
func NewSeqIDGen(prefix string) *SeqIDGen {
	return &SeqIDGen{prefix: prefix}
}

func (s *SeqIDGen) NewID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.n++
	return s.prefix + "-" + itoa(s.n)
}

func itoa(n int) string {
	if n == 0 {
		return "0"
	}
	neg := n < 0
	if neg {
		n = -n
	}
	var buf [20]byte
	i := len(buf)
	for n > 0 {
		i--
		buf[i] = byte('0' + n%10)
		n /= 10
	}
	if neg {
		i--
		buf[i] = '-'
	}
	return string(buf[i:])
}

// MonthKey returns the YYYY-MM bucket for t, used by quota rollover logic.
func MonthKey(t time.Time) string {
	return t.Format("2006-01")
}
