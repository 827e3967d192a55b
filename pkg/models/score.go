package models

import "time"

// Factor names keyed into OpportunityScore.Factors.
const (
	FactorSearchVolume      = "search_volume"
	FactorCTRGap            = "ctr_gap"
	FactorPositionPotential = "position_potential"
	FactorCompetition       = "competition"
	FactorRevenueImpact     = "revenue_impact"
)

// OpportunityScore is the 0-100 score for one node with its per-factor
// breakdown. Factor values are normalized to [0, 1] before weighting.
type OpportunityScore struct {
	NodeID     string             `json:"node_id"`
	Score      int                `json:"score"`
	Factors    map[string]float64 `json:"factors"`
	Confidence float64            `json:"confidence"`
	ComputedAt time.Time          `json:"computed_at"`
}
