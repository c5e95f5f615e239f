package costledger

import (
	"sync"

	"github.com/swarmcore/swarm/internal/clock"
	"github.com/swarmcore/swarm/internal/events"
)

// Ledger prices and aggregates token usage across sessions.
type Ledger struct {
	mu       sync.Mutex
	pricing  map[string]Pricing
	records  map[string][]UsageRecord // sessionID -> records
	summary  map[string]*CostSummary  // sessionID -> aggregate

	clk clock.Clock
	ids clock.IDGen
	bus *events.Bus
}

// New creates a Ledger seeded with pricing (modelID -> Pricing).
// Unknown model ids fall back to DefaultPricing.
func New(pricing map[string]Pricing, clk clock.Clock, ids clock.IDGen, bus *events.Bus) *Ledger {
	return &Ledger{
		pricing: pricing,
		records: make(map[string][]UsageRecord),
		summary: make(map[string]*CostSummary),
		clk:     clk,
		ids:     ids,
		bus:     bus,
	}
}

func (l *Ledger) pricingFor(model string) Pricing {
	if p, ok := l.pricing[model]; ok {
		return p
	}
	return DefaultPricing
}

// CalculateCost prices a single usage event.
func (l *Ledger) CalculateCost(usage Usage) float64 {
	p := l.pricingFor(usage.Model)
	return float64(usage.InputTokens)/1e6*p.InputCostPer1M + float64(usage.OutputTokens)/1e6*p.OutputCostPer1M
}

// RecordUsage appends a priced UsageRecord and updates the session's
// aggregated CostSummary (spec §4.9).
func (l *Ledger) RecordUsage(sessionID string, usage Usage, requestType, agentID, role, taskID string) UsageRecord {
	l.mu.Lock()
	defer l.mu.Unlock()

	cost := l.CalculateCost(usage)
	rec := UsageRecord{
		ID:          l.ids.NewID(),
		SessionID:   sessionID,
		AgentID:     agentID,
		Role:        role,
		TaskID:      taskID,
		RequestType: requestType,
		Usage:       usage,
		Cost:        cost,
		Timestamp:   l.clk.Now(),
	}
	l.records[sessionID] = append(l.records[sessionID], rec)

	sum, ok := l.summary[sessionID]
	if !ok {
		sum = newCostSummary()
		l.summary[sessionID] = sum
	}
	sum.TotalCost += cost
	sum.ByModel[usage.Model] += cost
	if agentID != "" {
		sum.ByAgent[agentID] += cost
	}
	if requestType != "" {
		sum.ByRequestType[requestType] += cost
	}

	if l.bus != nil {
		l.bus.Publish(events.NewEvent(l.ids, l.clk, events.CostUpdate, "costledger.Ledger", sessionID, events.PriorityNormal, map[string]interface{}{
			"session_id": sessionID,
			"cost":       cost,
		}))
	}
	return rec
}

// Summary returns a snapshot of sessionID's aggregated cost.
func (l *Ledger) Summary(sessionID string) CostSummary {
	l.mu.Lock()
	defer l.mu.Unlock()
	sum, ok := l.summary[sessionID]
	if !ok {
		return *newCostSummary()
	}
	cp := CostSummary{
		TotalCost:     sum.TotalCost,
		ByModel:       cloneMap(sum.ByModel),
		ByAgent:       cloneMap(sum.ByAgent),
		ByRequestType: cloneMap(sum.ByRequestType),
	}
	return cp
}

// Records returns a snapshot of every usage record for sessionID.
func (l *Ledger) Records(sessionID string) []UsageRecord {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]UsageRecord, len(l.records[sessionID]))
	copy(out, l.records[sessionID])
	return out
}

func cloneMap(m map[string]float64) map[string]float64 {
	out := make(map[string]float64, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}
