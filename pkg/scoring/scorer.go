package scoring

import (
	"fmt"
	"math"
	"time"

	"github.com/rankwell/opportunity-engine/pkg/models"
)

// Weights are the factor weights of the opportunity score. They must sum to
// 1.0; the exact values are tuned heuristics and should not be re-derived.
type Weights struct {
	SearchVolume      float64
	CTRGap            float64
	PositionPotential float64
	Competition       float64
	RevenueImpact     float64
}

// DefaultWeights returns the production weight set.
func DefaultWeights() Weights {
	return Weights{
		SearchVolume:      0.25,
		CTRGap:            0.30,
		PositionPotential: 0.20,
		Competition:       0.10,
		RevenueImpact:     0.15,
	}
}

// Sum returns the total of all weights.
func (w Weights) Sum() float64 {
	return w.SearchVolume + w.CTRGap + w.PositionPotential + w.Competition + w.RevenueImpact
}

// Config holds the immutable scoring configuration. Batch-relative
// normalization bounds (MaxImpressions, MaxRevenue) are injected per run so
// the scorer itself stays pure and stateless.
type Config struct {
	Weights        Weights
	MaxImpressions float64 // log-normalization ceiling for search volume
	MaxRevenue     float64 // revenue-impact normalization ceiling (max revenue in batch)
}

// DefaultConfig returns a config with production weights and a fixed
// search-volume ceiling. MaxRevenue is expected to be set per batch.
func DefaultConfig() Config {
	return Config{
		Weights:        DefaultWeights(),
		MaxImpressions: 1_000_000,
		MaxRevenue:     100_000,
	}
}

// Validate checks the weight invariant.
func (c Config) Validate() error {
	if diff := math.Abs(c.Weights.Sum() - 1.0); diff > 1e-9 {
		return fmt.Errorf("scoring weights must sum to 1.0, got %v", c.Weights.Sum())
	}
	if c.MaxImpressions <= 0 {
		return fmt.Errorf("max impressions must be positive, got %v", c.MaxImpressions)
	}
	return nil
}

// Scorer computes 0-100 opportunity scores. Score is a pure function of its
// input: no I/O, no side effects, safe for unbounded concurrent use.
type Scorer struct {
	config Config
}

// NewScorer creates a scorer, rejecting invalid weight sets up front.
func NewScorer(config Config) (*Scorer, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}
	return &Scorer{config: config}, nil
}

// Score computes the opportunity score for one node.
func (s *Scorer) Score(node models.NodeMetrics) models.OpportunityScore {
	node.Derive()

	score := models.OpportunityScore{
		NodeID:     node.NodeID,
		Factors:    map[string]float64{},
		ComputedAt: time.Now(),
	}

	// Nodes with no traffic at all score zero with zero confidence rather
	// than erroring out.
	if !node.HasTrafficData() {
		score.Factors[models.FactorSearchVolume] = 0
		score.Factors[models.FactorCTRGap] = 0
		score.Factors[models.FactorPositionPotential] = 0
		score.Factors[models.FactorCompetition] = 0
		score.Factors[models.FactorRevenueImpact] = 0
		return score
	}

	w := s.config.Weights
	factors := map[string]float64{
		models.FactorSearchVolume:      s.searchVolumeFactor(node),
		models.FactorCTRGap:            ctrGapFactor(node),
		models.FactorPositionPotential: positionPotentialFactor(node.Position),
		models.FactorCompetition:       CompetitionFactor(node.CTR, ExpectedCTR(node.Position)),
		models.FactorRevenueImpact:     s.revenueImpactFactor(node),
	}

	weighted := w.SearchVolume*factors[models.FactorSearchVolume] +
		w.CTRGap*factors[models.FactorCTRGap] +
		w.PositionPotential*factors[models.FactorPositionPotential] +
		w.Competition*factors[models.FactorCompetition] +
		w.RevenueImpact*factors[models.FactorRevenueImpact]

	score.Factors = factors
	score.Score = clampScore(int(math.Round(100 * weighted)))
	score.Confidence = SampleConfidence(node.Impressions, node.Transactions)
	return score
}

// searchVolumeFactor normalizes impressions logarithmically so high-traffic
// nodes do not dominate linearly.
func (s *Scorer) searchVolumeFactor(node models.NodeMetrics) float64 {
	if node.Impressions <= 0 {
		return 0
	}
	f := math.Log1p(float64(node.Impressions)) / math.Log1p(s.config.MaxImpressions)
	return clampUnit(f)
}

// ctrGapFactor measures how far the observed CTR falls below what the
// node's position should earn.
func ctrGapFactor(node models.NodeMetrics) float64 {
	expected := ExpectedCTR(node.Position)
	if expected <= 0 {
		return 0
	}
	gap := (expected - node.CTR) / expected
	return clampUnit(gap)
}

// positionPotentialFactor rewards positions with realistic headroom to
// climb. Positions past 20 are treated as having no near-term potential.
func positionPotentialFactor(position float64) float64 {
	if position < 1 || position > 20 {
		return 0
	}
	return (20 - position) / 20
}

func (s *Scorer) revenueImpactFactor(node models.NodeMetrics) float64 {
	if s.config.MaxRevenue <= 0 {
		return 0
	}
	return clampUnit(node.Revenue / s.config.MaxRevenue)
}

func clampUnit(f float64) float64 {
	if f < 0 {
		return 0
	}
	if f > 1 {
		return 1
	}
	return f
}

func clampScore(s int) int {
	if s < 0 {
		return 0
	}
	if s > 100 {
		return 100
	}
	return s
}
