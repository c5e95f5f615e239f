package costledger

import (
	"database/sql"
	"fmt"

	_ "modernc.org/sqlite"
)

// SQLiteStore persists UsageRecords on top of the pure-Go modernc
// sqlite driver, so a session's cost history survives a process
// restart and can be replayed back into a Ledger.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore opens (or creates) the usage_records table on db.
func NewSQLiteStore(db *sql.DB) (*SQLiteStore, error) {
	store := &SQLiteStore{db: db}
	if err := store.initSchema(); err != nil {
		return nil, fmt.Errorf("costledger: init schema: %w", err)
	}
	return store, nil
}

func (s *SQLiteStore) initSchema() error {
	const schema = `
	CREATE TABLE IF NOT EXISTS usage_records (
		id TEXT PRIMARY KEY,
		session_id TEXT NOT NULL,
		agent_id TEXT NOT NULL,
		role TEXT NOT NULL,
		task_id TEXT NOT NULL,
		request_type TEXT NOT NULL,
		model TEXT NOT NULL,
		input_tokens INTEGER NOT NULL,
		output_tokens INTEGER NOT NULL,
		cost REAL NOT NULL,
		created_at TIMESTAMP NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_usage_records_session ON usage_records(session_id);
	`
	_, err := s.db.Exec(schema)
	return err
}

// Append persists one priced usage record.
func (s *SQLiteStore) Append(rec UsageRecord) error {
	_, err := s.db.Exec(
		`INSERT INTO usage_records (id, session_id, agent_id, role, task_id, request_type, model, input_tokens, output_tokens, cost, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		rec.ID, rec.SessionID, rec.AgentID, rec.Role, rec.TaskID, rec.RequestType,
		rec.Usage.Model, rec.Usage.InputTokens, rec.Usage.OutputTokens, rec.Cost, rec.Timestamp,
	)
	if err != nil {
		return fmt.Errorf("costledger: insert usage record: %w", err)
	}
	return nil
}

// LoadSession returns every usage record persisted for sessionID, in
// recording order, so a Ledger can rebuild its in-memory aggregates
// after a restart.
func (s *SQLiteStore) LoadSession(sessionID string) ([]UsageRecord, error) {
	rows, err := s.db.Query(
		`SELECT id, session_id, agent_id, role, task_id, request_type, model, input_tokens, output_tokens, cost, created_at
		 FROM usage_records WHERE session_id = ? ORDER BY created_at ASC`, sessionID)
	if err != nil {
		return nil, fmt.Errorf("costledger: query session usage: %w", err)
	}
	defer rows.Close()

	var out []UsageRecord
	for rows.Next() {
		var rec UsageRecord
		if err := rows.Scan(&rec.ID, &rec.SessionID, &rec.AgentID, &rec.Role, &rec.TaskID, &rec.RequestType,
			&rec.Usage.Model, &rec.Usage.InputTokens, &rec.Usage.OutputTokens, &rec.Cost, &rec.Timestamp); err != nil {
			return nil, fmt.Errorf("costledger: scan usage record: %w", err)
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

// Replay loads sessionID's persisted usage records into ledger's
// in-memory aggregates, for use right after process restart.
func (l *Ledger) Replay(store *SQLiteStore, sessionID string) error {
	records, err := store.LoadSession(sessionID)
	if err != nil {
		return err
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	for _, rec := range records {
		l.records[sessionID] = append(l.records[sessionID], rec)
		sum, ok := l.summary[sessionID]
		if !ok {
			sum = newCostSummary()
			l.summary[sessionID] = sum
		}
		sum.TotalCost += rec.Cost
		sum.ByModel[rec.Usage.Model] += rec.Cost
		if rec.AgentID != "" {
			sum.ByAgent[rec.AgentID] += rec.Cost
		}
		if rec.RequestType != "" {
			sum.ByRequestType[rec.RequestType] += rec.Cost
		}
	}
	return nil
}
