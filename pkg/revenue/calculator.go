package revenue

import (
	"time"

	"github.com/rankwell/opportunity-engine/pkg/models"
	"github.com/rankwell/opportunity-engine/pkg/scoring"
)

// Thresholds below which a node is treated as having no usable data. Such
// nodes get a zero-valued, zero-confidence projection instead of an error.
const (
	minImpressions = 10
	minSessions    = 5
)

// Conversion-rate improvement headroom assumed for nodes by current
// conversion rate. Very low rates are assumed to have the most room.
const (
	crHeadroomVeryLow = 0.50 // conversion rate < 0.5%
	crHeadroomLow     = 0.30 // < 1%
	crHeadroomMid     = 0.15 // < 2%
	crHeadroomBase    = 0.05
)

// sessionFallbackRatio is used for the sessions-per-click ratio when the
// node has impressions but no recorded clicks.
const sessionFallbackRatio = 0.9

// Stepped optimization cost model keyed by position improvement distance.
// Heuristic constants; preserved as-is, not re-derived.
const (
	costHuge   = 5000 // improvement > 15 positions
	costLarge  = 3000 // > 10
	costMedium = 1500 // > 5
	costSmall  = 1000 // > 3
	costBase   = 500
)

// Config holds the immutable calculator configuration.
type Config struct {
	DefaultTimeframe   models.Timeframe
	DefaultSeasonality float64
}

// DefaultConfig returns the production defaults.
func DefaultConfig() Config {
	return Config{
		DefaultTimeframe:   models.TimeframeModerate,
		DefaultSeasonality: 1.0,
	}
}

// Calculator projects node performance at a target search position. Project
// is pure given its inputs; default assumptions derive from the node itself
// so identical inputs always produce identical projections.
type Calculator struct {
	config Config
}

// NewCalculator creates a calculator.
func NewCalculator(config Config) *Calculator {
	if config.DefaultTimeframe == "" {
		config.DefaultTimeframe = models.TimeframeModerate
	}
	if config.DefaultSeasonality == 0 {
		config.DefaultSeasonality = 1.0
	}
	return &Calculator{config: config}
}

// Project computes the revenue projection for one node at targetPosition.
// Partial assumption overrides are optional; nil fields fall back to
// metric-derived defaults. Never fails: insufficient data yields a zero
// projection.
func (c *Calculator) Project(node models.NodeMetrics, targetPosition int, partial *models.PartialAssumptions) models.RevenueProjection {
	node.Derive()

	if node.Impressions <= minImpressions && node.Sessions <= minSessions {
		return c.noDataProjection(node, targetPosition)
	}

	assumptions := c.resolveAssumptions(node, targetPosition, partial)

	projected := projectMetrics(node, assumptions)
	lift := computeLift(node, projected, assumptions)

	improvement := node.Position - float64(targetPosition)

	return models.RevenueProjection{
		NodeID:            node.NodeID,
		Current:           node,
		Projected:         projected,
		Lift:              lift,
		Confidence:        projectionConfidence(node, improvement, assumptions.Timeframe),
		TimeToImpactWeeks: timeToImpactWeeks(improvement),
		Method:            improvementMethod(improvement),
		Assumptions:       assumptions,
		CalculatedAt:      time.Now(),
	}
}

// resolveAssumptions merges explicit overrides over metric-derived defaults.
func (c *Calculator) resolveAssumptions(node models.NodeMetrics, targetPosition int, partial *models.PartialAssumptions) models.ProjectionAssumptions {
	a := models.ProjectionAssumptions{
		TargetPosition:            targetPosition,
		ConversionRateImprovement: conversionHeadroom(node.ConversionRate),
		CompetitionFactor:         scoring.CompetitionFactor(node.CTR, scoring.ExpectedCTR(node.Position)),
		SeasonalityFactor:         c.config.DefaultSeasonality,
		Timeframe:                 c.config.DefaultTimeframe,
	}

	if partial == nil {
		return a
	}
	if partial.ConversionRateImprovement != nil {
		a.ConversionRateImprovement = *partial.ConversionRateImprovement
	}
	if partial.CompetitionFactor != nil {
		a.CompetitionFactor = *partial.CompetitionFactor
	}
	if partial.SeasonalityFactor != nil {
		a.SeasonalityFactor = *partial.SeasonalityFactor
	}
	if partial.Timeframe != nil {
		a.Timeframe = *partial.Timeframe
	}
	return a
}

// conversionHeadroom assumes larger improvement room for nodes converting
// poorly today.
func conversionHeadroom(conversionRate float64) float64 {
	switch {
	case conversionRate < 0.005:
		return crHeadroomVeryLow
	case conversionRate < 0.01:
		return crHeadroomLow
	case conversionRate < 0.02:
		return crHeadroomMid
	default:
		return crHeadroomBase
	}
}

// projectMetrics builds the projected metrics window at the target
// position. Average order value is held constant: the model does not assume
// price changes.
func projectMetrics(node models.NodeMetrics, a models.ProjectionAssumptions) models.NodeMetrics {
	projectedCTR := scoring.ExpectedCTR(float64(a.TargetPosition)) * a.CompetitionFactor
	projectedClicks := float64(node.Impressions) * projectedCTR

	sessionRatio := sessionFallbackRatio
	if node.Clicks > 0 {
		sessionRatio = float64(node.Sessions) / float64(node.Clicks)
	}
	projectedSessions := projectedClicks * sessionRatio

	projectedCR := node.ConversionRate * (1 + a.ConversionRateImprovement)
	projectedTransactions := projectedSessions * projectedCR
	projectedRevenue := projectedTransactions * node.AverageOrderValue

	return models.NodeMetrics{
		NodeID:            node.NodeID,
		ProjectID:         node.ProjectID,
		Depth:             node.Depth,
		Position:          float64(a.TargetPosition),
		Impressions:       node.Impressions,
		Clicks:            int(projectedClicks),
		Sessions:          int(projectedSessions),
		Transactions:      int(projectedTransactions),
		Revenue:           projectedRevenue,
		CTR:               projectedCTR,
		ConversionRate:    projectedCR,
		AverageOrderValue: node.AverageOrderValue,
	}
}

func computeLift(current, projected models.NodeMetrics, a models.ProjectionAssumptions) models.RevenueLift {
	monthly := (projected.Revenue - current.Revenue) * a.SeasonalityFactor
	annual := monthly * 12

	pctIncrease := 0.0
	if current.Revenue > 0 {
		pctIncrease = (projected.Revenue - current.Revenue) / current.Revenue * 100
	} else if projected.Revenue > 0 {
		pctIncrease = 100
	}

	cost := estimatedCost(current.Position, a.TargetPosition)
	roi := 0.0
	if cost > 0 {
		roi = annual / cost * 100
	}

	return models.RevenueLift{
		AdditionalClicks:       float64(projected.Clicks - current.Clicks),
		AdditionalSessions:     float64(projected.Sessions - current.Sessions),
		AdditionalTransactions: float64(projected.Transactions - current.Transactions),
		MonthlyRevenueLift:     monthly,
		AnnualRevenueLift:      annual,
		PercentageIncrease:     pctIncrease,
		ReturnOnInvestment:     roi,
	}
}

// estimatedCost steps the assumed optimization spend by how far the node
// has to climb. Nodes already in the top 3 cost double: squeezing more out
// of a top position is harder than fixing a poor one.
func estimatedCost(currentPosition float64, targetPosition int) float64 {
	improvement := currentPosition - float64(targetPosition)

	var cost float64
	switch {
	case improvement > 15:
		cost = costHuge
	case improvement > 10:
		cost = costLarge
	case improvement > 5:
		cost = costMedium
	case improvement > 3:
		cost = costSmall
	default:
		cost = costBase
	}

	if currentPosition <= 3 {
		cost *= 2
	}
	return cost
}

// projectionConfidence discounts 1.0 by position jump size, sample size and
// timeframe aggressiveness, clamped to [0.1, 1.0].
func projectionConfidence(node models.NodeMetrics, improvement float64, timeframe models.Timeframe) float64 {
	confidence := 1.0

	switch {
	case improvement > 15:
		confidence *= 0.5
	case improvement > 10:
		confidence *= 0.7
	case improvement > 5:
		confidence *= 0.85
	}

	confidence = scoring.DiscountForSamples(confidence, node.Impressions, node.Transactions)

	switch timeframe {
	case models.TimeframeAggressive:
		confidence *= 0.7
	case models.TimeframeConservative:
		confidence *= 1.1
	}

	return scoring.ClampConfidence(confidence)
}

// timeToImpactWeeks estimates how long the projected position change takes.
func timeToImpactWeeks(improvement float64) int {
	switch {
	case improvement <= 0:
		return 0
	case improvement <= 3:
		return 2
	case improvement <= 7:
		return 4
	case improvement <= 15:
		return 8
	default:
		return 12
	}
}

// improvementMethod classifies the work a jump of this size typically
// needs. Metadata only; not used in projection arithmetic.
func improvementMethod(improvement float64) models.ImprovementMethod {
	switch {
	case improvement <= 3:
		return models.MethodOrganic
	case improvement <= 7:
		return models.MethodContent
	case improvement <= 15:
		return models.MethodMixed
	default:
		return models.MethodTechnical
	}
}

// noDataProjection is the zero-valued, zero-confidence result for nodes
// without enough traffic to project from.
func (c *Calculator) noDataProjection(node models.NodeMetrics, targetPosition int) models.RevenueProjection {
	projected := node
	projected.Position = float64(targetPosition)

	return models.RevenueProjection{
		NodeID:    node.NodeID,
		Current:   node,
		Projected: projected,
		Assumptions: models.ProjectionAssumptions{
			TargetPosition:    targetPosition,
			SeasonalityFactor: c.config.DefaultSeasonality,
			Timeframe:         c.config.DefaultTimeframe,
		},
		CalculatedAt: time.Now(),
	}
}
