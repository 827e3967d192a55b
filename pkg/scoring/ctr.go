package scoring

import "math"

// expectedCTRByRank is the industry-standard organic click-through curve for
// positions 1-10. Positions beyond 10 decay exponentially from the rank-10
// value.
var expectedCTRByRank = map[int]float64{
	1:  0.285,
	2:  0.157,
	3:  0.094,
	4:  0.064,
	5:  0.049,
	6:  0.037,
	7:  0.029,
	8:  0.023,
	9:  0.019,
	10: 0.016,
}

const (
	ctrDecayBase = 0.016
	ctrDecayRate = 0.2
)

// ExpectedCTR returns the expected organic click-through rate at a search
// position. Positions below 1 are invalid and return 0.
func ExpectedCTR(position float64) float64 {
	if position < 1 {
		return 0
	}
	rank := int(math.Round(position))
	if rank < 1 {
		rank = 1
	}
	if rank <= 10 {
		return expectedCTRByRank[rank]
	}
	return ctrDecayBase * math.Exp(-ctrDecayRate*(position-10))
}

// CompetitionFactor buckets the observed/expected CTR ratio into a discount
// factor. A node earning far fewer clicks than its position warrants is
// assumed to face strong SERP competition.
func CompetitionFactor(actualCTR, expectedCTR float64) float64 {
	if expectedCTR <= 0 {
		return 1.0
	}
	ratio := actualCTR / expectedCTR
	switch {
	case ratio < 0.3:
		return 0.5
	case ratio < 0.6:
		return 0.7
	case ratio < 0.9:
		return 0.85
	default:
		return 1.0
	}
}
