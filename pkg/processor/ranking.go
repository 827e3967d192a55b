package processor

import (
	"time"

	"github.com/rankwell/opportunity-engine/pkg/models"
)

// liftCap is the annual revenue lift at which the revenue side of the
// combined value saturates.
const liftCap = 100_000.0

// Combined value weighting between score and projected revenue lift.
const (
	scoreWeight = 0.4
	liftWeight  = 0.6
)

// combinedValue blends the 0-100 score and the projected annual lift into
// one 0-100 ranking key, discounted by the mean of the two confidences.
func combinedValue(score int, scoreConfidence, annualLift, liftConfidence float64) float64 {
	scoreFrac := float64(score) / 100
	liftFrac := annualLift / liftCap
	if liftFrac > 1 {
		liftFrac = 1
	}
	if liftFrac < 0 {
		liftFrac = 0
	}
	confidence := (scoreConfidence + liftConfidence) / 2
	return (scoreWeight*scoreFrac + liftWeight*liftFrac) * confidence * 100
}

// buildOpportunity assembles the persisted record for one node. Either
// input may be nil for single-sided job types; the missing side contributes
// zero and inherits the other side's confidence so the confidence mean does
// not punish the job type choice.
func buildOpportunity(projectID string, node models.NodeMetrics, score *models.OpportunityScore, proj *models.RevenueProjection) *models.Opportunity {
	opp := &models.Opportunity{
		NodeID:     node.NodeID,
		ProjectID:  projectID,
		ComputedAt: time.Now(),
	}

	var scoreConf, liftConf float64
	var annualLift float64

	if score != nil {
		opp.Score = score.Score
		opp.Factors = score.Factors
		scoreConf = score.Confidence
	}
	if proj != nil {
		annualLift = proj.Lift.AnnualRevenueLift
		opp.RevenuePotential = annualLift
		liftConf = proj.Confidence
	}

	switch {
	case score == nil && proj != nil:
		scoreConf = liftConf
	case proj == nil && score != nil:
		liftConf = scoreConf
	}

	opp.Confidence = (scoreConf + liftConf) / 2
	opp.CombinedValue = combinedValue(opp.Score, scoreConf, annualLift, liftConf)
	opp.Priority = models.PriorityForValue(opp.CombinedValue)

	return opp
}
