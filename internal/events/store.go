package events

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	_ "modernc.org/sqlite"
)

// SQLiteStore implements EventStore on top of the pure-Go modernc sqlite
// driver so a subscriber can reconnect and replay anything it missed.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore opens (or creates) the events table on db.
func NewSQLiteStore(db *sql.DB) (*SQLiteStore, error) {
	store := &SQLiteStore{db: db}
	if err := store.initSchema(); err != nil {
		return nil, fmt.Errorf("init events schema: %w", err)
	}
	return store, nil
}

func (s *SQLiteStore) initSchema() error {
	const schema = `
	CREATE TABLE IF NOT EXISTS events (
		id TEXT PRIMARY KEY,
		type TEXT NOT NULL,
		source TEXT NOT NULL,
		target TEXT NOT NULL,
		priority INTEGER NOT NULL,
		payload TEXT NOT NULL,
		created_at TIMESTAMP NOT NULL,
		delivered_at TIMESTAMP
	);
	CREATE INDEX IF NOT EXISTS idx_events_target ON events(target, delivered_at);
	CREATE INDEX IF NOT EXISTS idx_events_type ON events(type);
	`
	_, err := s.db.Exec(schema)
	return err
}

// Save persists event, not yet delivered to anyone.
func (s *SQLiteStore) Save(event *Event) error {
	payloadJSON, err := json.Marshal(event.Payload)
	if err != nil {
		return fmt.Errorf("marshal payload: %w", err)
	}

	_, err = s.db.Exec(
		`INSERT INTO events (id, type, source, target, priority, payload, created_at, delivered_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, NULL)`,
		event.ID, event.Type, event.Source, event.Target, event.Priority, string(payloadJSON), event.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert event: %w", err)
	}
	return nil
}

// GetPending returns undelivered events visible to target, in priority
// then arrival order, optionally filtered to types.
func (s *SQLiteStore) GetPending(target string, types []EventType) ([]*Event, error) {
	query := `SELECT id, type, source, target, priority, payload, created_at
		FROM events WHERE delivered_at IS NULL AND (target = ? OR target = 'all')`
	args := []interface{}{target}

	if len(types) > 0 {
		placeholders := ""
		for i, t := range types {
			if i > 0 {
				placeholders += ", "
			}
			placeholders += "?"
			args = append(args, string(t))
		}
		query += fmt.Sprintf(" AND type IN (%s)", placeholders)
	}
	query += " ORDER BY priority ASC, created_at ASC"

	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("query pending events: %w", err)
	}
	defer rows.Close()

	var result []*Event
	for rows.Next() {
		var e Event
		var payloadJSON string
		if err := rows.Scan(&e.ID, &e.Type, &e.Source, &e.Target, &e.Priority, &payloadJSON, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan event row: %w", err)
		}
		if err := json.Unmarshal([]byte(payloadJSON), &e.Payload); err != nil {
			return nil, fmt.Errorf("unmarshal payload: %w", err)
		}
		result = append(result, &e)
	}
	return result, rows.Err()
}

// MarkDelivered stamps eventID so it is no longer returned by GetPending.
func (s *SQLiteStore) MarkDelivered(eventID string) error {
	res, err := s.db.Exec(`UPDATE events SET delivered_at = ? WHERE id = ?`, time.Now(), eventID)
	if err != nil {
		return fmt.Errorf("mark delivered: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("event not found: %s", eventID)
	}
	return nil
}

// Cleanup removes delivered events older than olderThan.
func (s *SQLiteStore) Cleanup(olderThan time.Duration) error {
	_, err := s.db.Exec(`DELETE FROM events WHERE delivered_at IS NOT NULL AND created_at < ?`, time.Now().Add(-olderThan))
	if err != nil {
		return fmt.Errorf("cleanup old events: %w", err)
	}
	return nil
}
