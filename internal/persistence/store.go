package persistence

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"
	"sync"

	"github.com/swarmcore/swarm/internal/clock"
	"github.com/swarmcore/swarm/internal/swarmerr"
)

const sessionsDir = ".swarm-sessions"

var unsafeIDChar = regexp.MustCompile(`[^A-Za-z0-9_-]`)

// sanitiseID replaces every character outside [A-Za-z0-9_-] with '_'.
// This also suffices as the store's path-traversal defence: a
// sanitised id can never escape workspace/.swarm-sessions/.
func sanitiseID(id string) string {
	return unsafeIDChar.ReplaceAllString(id, "_")
}

// Store persists one JSON snapshot file per session under
// {workspace}/.swarm-sessions/{sanitised id}.json.
type Store struct {
	mu        sync.Mutex
	workspace string
	clk       clock.Clock
}

// New creates a Store rooted at workspace. Initialize must be called
// before Save/Load are used.
func New(workspace string, clk clock.Clock) *Store {
	return &Store{workspace: workspace, clk: clk}
}

// Initialize ensures {workspace}/.swarm-sessions/ exists.
func (s *Store) Initialize() error {
	return os.MkdirAll(s.dir(), 0o755)
}

func (s *Store) dir() string {
	return filepath.Join(s.workspace, sessionsDir)
}

func (s *Store) pathFor(sessionID string) string {
	return filepath.Join(s.dir(), sanitiseID(sessionID)+".json")
}

// Save writes snap to {sanitised session id}.json, stamping SavedAt
// and Version.
func (s *Store) Save(snap Snapshot) error {
	if snap.Session == nil {
		return fmt.Errorf("persistence: save requires a session: %w", swarmerr.ErrValidationError)
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	snap.Version = SnapshotVersion
	snap.SavedAt = s.clk.Now()

	data, err := json.MarshalIndent(snap, "", "  ")
	if err != nil {
		return fmt.Errorf("persistence: marshal snapshot: %w", err)
	}
	if err := os.MkdirAll(s.dir(), 0o755); err != nil {
		return fmt.Errorf("persistence: ensure session dir: %w", err)
	}
	return os.WriteFile(s.pathFor(snap.Session.ID), data, 0o644)
}

// Load reads and decodes the snapshot for sessionID.
func (s *Store) Load(sessionID string) (*Snapshot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.loadFileLocked(s.pathFor(sessionID))
}

func (s *Store) loadFileLocked(path string) (*Snapshot, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, swarmerr.ErrSessionNotFound
		}
		return nil, fmt.Errorf("persistence: read snapshot: %w", err)
	}
	var snap Snapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return nil, fmt.Errorf("persistence: decode snapshot: %w", err)
	}
	return &snap, nil
}

// Exists reports whether a snapshot file is present for sessionID.
func (s *Store) Exists(sessionID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, err := os.Stat(s.pathFor(sessionID))
	return err == nil
}

// List returns every persisted session's id, most recently saved first.
func (s *Store) List() ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	entries, err := os.ReadDir(s.dir())
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("persistence: list session dir: %w", err)
	}

	type stamped struct {
		id      string
		savedAt int64
	}
	var ids []stamped
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".json") {
			continue
		}
		snap, err := s.loadFileLocked(filepath.Join(s.dir(), e.Name()))
		if err != nil {
			continue
		}
		id := e.Name()[:len(e.Name())-len(".json")]
		if snap.Session != nil {
			id = snap.Session.ID
		}
		ids = append(ids, stamped{id: id, savedAt: snap.SavedAt.UnixNano()})
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i].savedAt > ids[j].savedAt })

	out := make([]string, len(ids))
	for i, s := range ids {
		out[i] = s.id
	}
	return out, nil
}

// Delete removes the snapshot file for sessionID, if any.
func (s *Store) Delete(sessionID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	err := os.Remove(s.pathFor(sessionID))
	if err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("persistence: delete snapshot: %w", err)
	}
	return nil
}

// Export returns the raw JSON bytes of sessionID's snapshot, suitable
// for handing to an external caller or another workspace's Import.
func (s *Store) Export(sessionID string) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	data, err := os.ReadFile(s.pathFor(sessionID))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, swarmerr.ErrSessionNotFound
		}
		return nil, fmt.Errorf("persistence: export snapshot: %w", err)
	}
	return data, nil
}

// Import decodes data as a Snapshot and writes it into this store. If
// a snapshot with the same session id already exists, the imported
// session id is suffixed with "-imported-{ts}" to avoid collision.
func (s *Store) Import(data []byte) (*Snapshot, error) {
	var snap Snapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return nil, fmt.Errorf("persistence: decode import: %w", err)
	}
	if snap.Session == nil {
		return nil, fmt.Errorf("persistence: import requires a session: %w", swarmerr.ErrValidationError)
	}

	s.mu.Lock()
	_, err := os.Stat(s.pathFor(snap.Session.ID))
	collision := err == nil
	s.mu.Unlock()

	if collision {
		ts := s.clk.Now().UnixMilli()
		snap.Session.ID = fmt.Sprintf("%s-imported-%d", snap.Session.ID, ts)
	}
	if err := s.Save(snap); err != nil {
		return nil, err
	}
	return &snap, nil
}

// Cleanup keeps only the maxSessions most recently saved snapshots,
// deleting the rest, and returns the ids it deleted.
func (s *Store) Cleanup(maxSessions int) ([]string, error) {
	if maxSessions <= 0 {
		return nil, nil
	}
	ids, err := s.List()
	if err != nil {
		return nil, err
	}
	if len(ids) <= maxSessions {
		return nil, nil
	}
	var deleted []string
	for _, id := range ids[maxSessions:] {
		if err := s.Delete(id); err != nil {
			return deleted, err
		}
		deleted = append(deleted, id)
	}
	return deleted, nil
}
