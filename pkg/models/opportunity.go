package models

import "time"

// Priority buckets for persisted opportunities, derived from combined value.
const (
	PriorityCritical = "critical"
	PriorityHigh     = "high"
	PriorityMedium   = "medium"
	PriorityLow      = "low"
)

// Opportunity is the persisted, ranked record for one node. Upserted keyed
// by node ID on every job run; last write wins, no history.
type Opportunity struct {
	NodeID           string             `json:"node_id"`
	ProjectID        string             `json:"project_id"`
	Score            int                `json:"score"`
	RevenuePotential float64            `json:"revenue_potential"` // annual revenue lift
	CombinedValue    float64            `json:"combined_value"`    // ranking key, 0-100
	Priority         string             `json:"priority"`
	Factors          map[string]float64 `json:"factors,omitempty"`
	Confidence       float64            `json:"confidence"`
	ComputedAt       time.Time          `json:"computed_at"`
}

// PriorityForValue buckets a combined value into a priority label.
func PriorityForValue(combined float64) string {
	switch {
	case combined >= 75:
		return PriorityCritical
	case combined >= 50:
		return PriorityHigh
	case combined >= 25:
		return PriorityMedium
	default:
		return PriorityLow
	}
}
