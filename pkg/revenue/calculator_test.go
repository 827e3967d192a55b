package revenue

import (
	"math"
	"testing"

	"github.com/rankwell/opportunity-engine/pkg/models"
)

func testNode() models.NodeMetrics {
	return models.NodeMetrics{
		NodeID:       "node-1",
		ProjectID:    "p1",
		Position:     8,
		Impressions:  10000,
		Clicks:       150,
		Sessions:     140,
		Transactions: 7,
		Revenue:      700,
	}
}

func TestProjectBasics(t *testing.T) {
	calc := NewCalculator(DefaultConfig())
	node := testNode()

	proj := calc.Project(node, 3, nil)

	if proj.NodeID != "node-1" {
		t.Errorf("node id = %q, want node-1", proj.NodeID)
	}
	if proj.Projected.Position != 3 {
		t.Errorf("projected position = %v, want 3", proj.Projected.Position)
	}
	if proj.Assumptions.TargetPosition != 3 {
		t.Errorf("assumptions target = %d, want 3", proj.Assumptions.TargetPosition)
	}
	if proj.Projected.Revenue <= node.Revenue {
		t.Errorf("projected revenue %v should exceed current %v when climbing from 8 to 3",
			proj.Projected.Revenue, node.Revenue)
	}
	if proj.Lift.AnnualRevenueLift != proj.Lift.MonthlyRevenueLift*12 {
		t.Errorf("annual lift %v != monthly %v * 12", proj.Lift.AnnualRevenueLift, proj.Lift.MonthlyRevenueLift)
	}
	if proj.Lift.PercentageIncrease <= 0 {
		t.Errorf("percentage increase = %v, want > 0", proj.Lift.PercentageIncrease)
	}

	// A 5-position climb is content-level work landing in roughly a month.
	if proj.TimeToImpactWeeks != 4 {
		t.Errorf("time to impact = %d weeks, want 4", proj.TimeToImpactWeeks)
	}
	if proj.Method != models.MethodContent {
		t.Errorf("method = %q, want %q", proj.Method, models.MethodContent)
	}
}

func TestProjectMetricDerivedAssumptions(t *testing.T) {
	calc := NewCalculator(DefaultConfig())
	node := testNode()

	proj := calc.Project(node, 3, nil)
	a := proj.Assumptions

	// CR = 7/140 = 5%: well-converting node gets only the base headroom.
	if !almostEqual(a.ConversionRateImprovement, 0.05) {
		t.Errorf("cr improvement = %v, want 0.05", a.ConversionRateImprovement)
	}
	// CTR 0.015 vs expected 0.023 at position 8 is mild underperformance.
	if !almostEqual(a.CompetitionFactor, 0.85) {
		t.Errorf("competition factor = %v, want 0.85", a.CompetitionFactor)
	}
	if a.SeasonalityFactor != 1.0 {
		t.Errorf("seasonality = %v, want 1.0", a.SeasonalityFactor)
	}
	if a.Timeframe != models.TimeframeModerate {
		t.Errorf("timeframe = %q, want moderate", a.Timeframe)
	}
}

func TestProjectAssumptionOverrides(t *testing.T) {
	calc := NewCalculator(DefaultConfig())
	node := testNode()

	seasonality := 2.0
	timeframe := models.TimeframeAggressive
	proj := calc.Project(node, 3, &models.PartialAssumptions{
		SeasonalityFactor: &seasonality,
		Timeframe:         &timeframe,
	})

	if proj.Assumptions.SeasonalityFactor != 2.0 {
		t.Errorf("seasonality override ignored: %v", proj.Assumptions.SeasonalityFactor)
	}
	if proj.Assumptions.Timeframe != models.TimeframeAggressive {
		t.Errorf("timeframe override ignored: %q", proj.Assumptions.Timeframe)
	}

	// Doubled seasonality doubles the lift against the default run.
	base := calc.Project(node, 3, nil)
	if !almostEqual(proj.Lift.MonthlyRevenueLift, 2*base.Lift.MonthlyRevenueLift) {
		t.Errorf("monthly lift = %v, want %v", proj.Lift.MonthlyRevenueLift, 2*base.Lift.MonthlyRevenueLift)
	}

	// Aggressive timeframes are less trustworthy than moderate ones.
	if proj.Confidence >= base.Confidence {
		t.Errorf("aggressive confidence %v should be below moderate %v", proj.Confidence, base.Confidence)
	}
}

func TestProjectConfidence(t *testing.T) {
	calc := NewCalculator(DefaultConfig())

	// Transactions 7 (< 20) discounts by 0.75; no position-jump discount
	// for a 5-place climb; moderate timeframe leaves it alone.
	proj := calc.Project(testNode(), 3, nil)
	if !almostEqual(proj.Confidence, 0.75) {
		t.Errorf("confidence = %v, want 0.75", proj.Confidence)
	}

	// A 19-position leap with a thin sample stacks every discount:
	// 0.5 for the jump, 0.5 for impressions, 0.5 for transactions.
	thin := models.NodeMetrics{
		NodeID:       "thin",
		Position:     20,
		Impressions:  60,
		Clicks:       2,
		Sessions:     30,
		Revenue:      50,
		Transactions: 1,
	}
	leap := calc.Project(thin, 1, nil)
	if !almostEqual(leap.Confidence, 0.125) {
		t.Errorf("confidence = %v, want 0.125", leap.Confidence)
	}

	// Adding an aggressive timeframe pushes it below the clamp floor.
	timeframe := models.TimeframeAggressive
	floor := calc.Project(thin, 1, &models.PartialAssumptions{Timeframe: &timeframe})
	if floor.Confidence != 0.1 {
		t.Errorf("confidence = %v, want clamp floor 0.1", floor.Confidence)
	}

	for _, p := range []models.RevenueProjection{proj, leap} {
		if p.Confidence < 0.1 || p.Confidence > 1.0 {
			t.Errorf("confidence %v outside [0.1, 1.0]", p.Confidence)
		}
	}
}

func TestProjectNoDataNode(t *testing.T) {
	calc := NewCalculator(DefaultConfig())

	node := models.NodeMetrics{NodeID: "empty", Position: 12, Impressions: 5, Sessions: 2}
	proj := calc.Project(node, 3, nil)

	if proj.Lift.MonthlyRevenueLift != 0 || proj.Lift.AnnualRevenueLift != 0 {
		t.Errorf("no-data node produced lift: %+v", proj.Lift)
	}
	if proj.Confidence != 0 {
		t.Errorf("confidence = %v, want 0", proj.Confidence)
	}
	if proj.Projected.Position != 3 {
		t.Errorf("projected position = %v, want 3", proj.Projected.Position)
	}
}

func TestProjectPercentageIncreaseFromZeroRevenue(t *testing.T) {
	calc := NewCalculator(DefaultConfig())

	node := models.NodeMetrics{
		NodeID:       "fresh",
		Position:     9,
		Impressions:  5000,
		Clicks:       60,
		Sessions:     55,
		Transactions: 0,
		Revenue:      0,
	}
	proj := calc.Project(node, 2, nil)

	// Zero current revenue with zero conversions projects zero revenue too,
	// so the increase stays zero.
	if proj.Lift.PercentageIncrease != 0 {
		t.Errorf("percentage increase = %v, want 0", proj.Lift.PercentageIncrease)
	}
}

func TestProjectROIUsesSteppedCost(t *testing.T) {
	calc := NewCalculator(DefaultConfig())
	node := testNode() // position 8, target 3: improvement 5, cost tier 1000

	proj := calc.Project(node, 3, nil)

	wantROI := proj.Lift.AnnualRevenueLift / 1000 * 100
	if !almostEqual(proj.Lift.ReturnOnInvestment, wantROI) {
		t.Errorf("roi = %v, want %v", proj.Lift.ReturnOnInvestment, wantROI)
	}
}

func TestProjectTopThreeCostsDouble(t *testing.T) {
	a := testNode()
	a.Position = 3

	b := testNode()
	b.Position = 4

	// Same improvement tier (≤ 3 positions), but squeezing a top-3 node
	// costs double, halving the ROI per lift dollar.
	calc := NewCalculator(DefaultConfig())
	top := calc.Project(a, 2, nil)
	mid := calc.Project(b, 3, nil)

	topCost := top.Lift.AnnualRevenueLift / top.Lift.ReturnOnInvestment * 100
	midCost := mid.Lift.AnnualRevenueLift / mid.Lift.ReturnOnInvestment * 100
	if !almostEqual(topCost, 2*midCost) {
		t.Errorf("top-3 cost %v, want double %v", topCost, midCost)
	}
}

func TestProjectIsPure(t *testing.T) {
	calc := NewCalculator(DefaultConfig())
	node := testNode()

	a := calc.Project(node, 3, nil)
	b := calc.Project(node, 3, nil)

	if a.Lift != b.Lift || a.Confidence != b.Confidence {
		t.Errorf("identical input produced different projections")
	}
}

func almostEqual(a, b float64) bool {
	return math.Abs(a-b) <= 1e-9
}
