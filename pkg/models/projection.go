package models

import "time"

// Timeframe scales projection confidence by how quickly results are
// expected.
type Timeframe string

const (
	TimeframeConservative Timeframe = "conservative"
	TimeframeModerate     Timeframe = "moderate"
	TimeframeAggressive   Timeframe = "aggressive"
)

// ImprovementMethod classifies the kind of optimization work a position
// jump typically requires.
type ImprovementMethod string

const (
	MethodOrganic   ImprovementMethod = "organic"
	MethodContent   ImprovementMethod = "content"
	MethodMixed     ImprovementMethod = "mixed"
	MethodTechnical ImprovementMethod = "technical"
)

// ProjectionAssumptions is the fully resolved assumption set a projection
// was computed under. Recorded on the result so projections are auditable.
type ProjectionAssumptions struct {
	TargetPosition            int       `json:"target_position"`
	ConversionRateImprovement float64   `json:"conversion_rate_improvement"`
	CompetitionFactor         float64   `json:"competition_factor"`
	SeasonalityFactor         float64   `json:"seasonality_factor"`
	Timeframe                 Timeframe `json:"timeframe"`
}

// PartialAssumptions carries optional caller overrides. Nil fields fall
// back to metric-derived defaults.
type PartialAssumptions struct {
	ConversionRateImprovement *float64   `json:"conversion_rate_improvement,omitempty"`
	CompetitionFactor         *float64   `json:"competition_factor,omitempty"`
	SeasonalityFactor         *float64   `json:"seasonality_factor,omitempty"`
	Timeframe                 *Timeframe `json:"timeframe,omitempty"`
}

// RevenueLift is the projected delta between current and target-position
// performance.
type RevenueLift struct {
	AdditionalClicks       float64 `json:"additional_clicks"`
	AdditionalSessions     float64 `json:"additional_sessions"`
	AdditionalTransactions float64 `json:"additional_transactions"`
	MonthlyRevenueLift     float64 `json:"monthly_revenue_lift"`
	AnnualRevenueLift      float64 `json:"annual_revenue_lift"`
	PercentageIncrease     float64 `json:"percentage_increase"`
	ReturnOnInvestment     float64 `json:"return_on_investment"` // percent of estimated cost
}

// RevenueProjection is the full projection result for one node at a target
// search position.
type RevenueProjection struct {
	NodeID            string                `json:"node_id"`
	Current           NodeMetrics           `json:"current"`
	Projected         NodeMetrics           `json:"projected"`
	Lift              RevenueLift           `json:"lift"`
	Confidence        float64               `json:"confidence"`
	TimeToImpactWeeks int                   `json:"time_to_impact_weeks"`
	Method            ImprovementMethod     `json:"method,omitempty"`
	Assumptions       ProjectionAssumptions `json:"assumptions"`
	CalculatedAt      time.Time             `json:"calculated_at"`
}
