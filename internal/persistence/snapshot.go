// Package persistence implements session JSON persistence (spec §6
// Persistence): saving, loading, importing, and exporting a single
// session's full derived state as one file per session.
package persistence

import (
	"time"

	"github.com/swarmcore/swarm/internal/agentpool"
	"github.com/swarmcore/swarm/internal/costledger"
	"github.com/swarmcore/swarm/internal/mailbox"
	"github.com/swarmcore/swarm/internal/session"
	"github.com/swarmcore/swarm/internal/tasks"
)

// SnapshotVersion is written into every persisted snapshot. Bumping it
// is a signal to callers that Load may need a migration, though no
// migration path exists yet.
const SnapshotVersion = "1.0.0"

// Snapshot is the on-disk shape of one session's persisted state.
type Snapshot struct {
	Version      string                `json:"version"`
	SavedAt      time.Time             `json:"saved_at"`
	Session      *session.Session      `json:"session"`
	Tasks        []*tasks.Task         `json:"tasks"`
	Agents       []*agentpool.AgentInstance `json:"agents"`
	Messages     []*mailbox.Message    `json:"messages"`
	CostSummary  *costledger.CostSummary   `json:"cost_summary,omitempty"`
	UsageRecords []costledger.UsageRecord  `json:"usage_records,omitempty"`
}
