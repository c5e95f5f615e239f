// Package costledger prices token usage against a per-model pricing
// table and aggregates it per session (spec §4.9).
package costledger

import "time"

// Pricing is one model's cost per million tokens.
type Pricing struct {
	InputCostPer1M  float64
	OutputCostPer1M float64
}

// DefaultPricing is used for any modelID not present in the ledger's
// table (spec §4.9).
var DefaultPricing = Pricing{InputCostPer1M: 3.00, OutputCostPer1M: 15.00}

// Usage is one model call's token counts.
type Usage struct {
	Model        string
	InputTokens  int64
	OutputTokens int64
}

// UsageRecord is one priced usage event (spec §3). CostSummary is
// derived by aggregation over these; it is never primary.
type UsageRecord struct {
	ID          string
	SessionID   string
	AgentID     string
	Role        string
	TaskID      string
	RequestType string
	Usage       Usage
	Cost        float64
	Timestamp   time.Time
}

// CostSummary is the aggregated view of a session's spend.
type CostSummary struct {
	TotalCost       float64
	ByModel         map[string]float64
	ByAgent         map[string]float64
	ByRequestType   map[string]float64
}

func newCostSummary() *CostSummary {
	return &CostSummary{
		ByModel:       make(map[string]float64),
		ByAgent:       make(map[string]float64),
		ByRequestType: make(map[string]float64),
	}
}
