package session

import (
	"fmt"
	"sync"

	"github.com/swarmcore/swarm/internal/clock"
	"github.com/swarmcore/swarm/internal/events"
	"github.com/swarmcore/swarm/internal/swarmerr"
)

// Store manages the set of live sessions and enforces the lifecycle
// state machine (spec §4.1). One mutex per store instance serializes
// session-level mutations (spec §5).
type Store struct {
	mu                    sync.RWMutex
	sessions              map[string]*Session
	maxConcurrentSessions int

	clk  clock.Clock
	ids  clock.IDGen
	bus  *events.Bus
}

// NewStore creates a session store with the given concurrency cap.
// maxConcurrentSessions <= 0 means unlimited.
func NewStore(clk clock.Clock, ids clock.IDGen, bus *events.Bus, maxConcurrentSessions int) *Store {
	return &Store{
		sessions:              make(map[string]*Session),
		maxConcurrentSessions: maxConcurrentSessions,
		clk:                   clk,
		ids:                   ids,
		bus:                   bus,
	}
}

// Create makes a new session in StatusInitializing.
func (s *Store) Create(task, name string) (*Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.maxConcurrentSessions > 0 && s.countActiveLocked() >= s.maxConcurrentSessions {
		return nil, fmt.Errorf("store: %w", swarmerr.ErrSessionLimitExceeded)
	}

	now := s.clk.Now()
	if name == "" {
		short := s.ids.NewID()
		if len(short) > 8 {
			short = short[:8]
		}
		name = "session-" + short
	}
	sess := &Session{
		ID:           s.ids.NewID(),
		Name:         name,
		OriginalTask: task,
		Status:       StatusInitializing,
		ArtifactIDs:  []string{},
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	s.sessions[sess.ID] = sess
	s.publishLocked(sess)
	return sess, nil
}

func (s *Store) countActiveLocked() int {
	n := 0
	for _, sess := range s.sessions {
		if !sess.Status.IsTerminal() {
			n++
		}
	}
	return n
}

// Get returns a session by id.
func (s *Store) Get(id string) (*Session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	sess, ok := s.sessions[id]
	if !ok {
		return nil, fmt.Errorf("store: session %s: %w", id, swarmerr.ErrSessionNotFound)
	}
	cp := *sess
	return &cp, nil
}

// List returns a snapshot of every session.
func (s *Store) List() []*Session {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*Session, 0, len(s.sessions))
	for _, sess := range s.sessions {
		cp := *sess
		out = append(out, &cp)
	}
	return out
}

// Update applies patch to session id's mutable fields.
func (s *Store) Update(id string, patch Patch) (*Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	sess, ok := s.sessions[id]
	if !ok {
		return nil, fmt.Errorf("store: session %s: %w", id, swarmerr.ErrSessionNotFound)
	}
	if patch.Name != nil {
		sess.Name = *patch.Name
	}
	if patch.ArtifactIDs != nil {
		sess.ArtifactIDs = patch.ArtifactIDs
	}
	sess.UpdatedAt = s.clk.Now()
	s.publishLocked(sess)

	cp := *sess
	return &cp, nil
}

// UpdateMetrics applies mutate to session id's Metrics, used by the
// Orchestrator to record final counters/cost/tokens at Synthesis.
func (s *Store) UpdateMetrics(id string, mutate func(*Metrics)) (*Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	sess, ok := s.sessions[id]
	if !ok {
		return nil, fmt.Errorf("store: session %s: %w", id, swarmerr.ErrSessionNotFound)
	}
	mutate(&sess.Metrics)
	sess.UpdatedAt = s.clk.Now()
	s.publishLocked(sess)

	cp := *sess
	return &cp, nil
}

// Delete removes a session. Only admissible from Initializing or a
// terminal state, per spec §3 Session lifecycle.
func (s *Store) Delete(id string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	sess, ok := s.sessions[id]
	if !ok {
		return false, nil
	}
	if sess.Status != StatusInitializing && !sess.Status.IsTerminal() {
		return false, fmt.Errorf("store: delete session %s: %w", id, swarmerr.ErrSessionInvalidState)
	}
	delete(s.sessions, id)
	return true, nil
}

// Transition moves session id to target status if (current, target) is
// a legal edge in the transition graph (spec §4.1, invariant I1/P6).
// On failure the store is left unchanged.
func (s *Store) Transition(id string, target Status) (*Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	sess, ok := s.sessions[id]
	if !ok {
		return nil, fmt.Errorf("store: session %s: %w", id, swarmerr.ErrSessionNotFound)
	}
	if !CanTransition(sess.Status, target) {
		return nil, fmt.Errorf("store: %s -> %s: %w", sess.Status, target, swarmerr.ErrSessionInvalidState)
	}

	now := s.clk.Now()
	sess.Status = target
	sess.UpdatedAt = now

	if target == StatusPlanning && sess.Metrics.StartTime == nil {
		sess.Metrics.StartTime = &now
	}
	if target.IsTerminal() {
		sess.Metrics.EndTime = &now
		if sess.Metrics.StartTime != nil {
			sess.Metrics.Duration = now.Sub(*sess.Metrics.StartTime)
		}
	}

	s.publishLocked(sess)

	cp := *sess
	return &cp, nil
}

func (s *Store) publishLocked(sess *Session) {
	if s.bus == nil {
		return
	}
	s.bus.Publish(events.NewEvent(s.ids, s.clk, events.SessionUpdated, "session.Store", sess.ID, events.PriorityNormal, map[string]interface{}{
		"status": string(sess.Status),
	}))
}
