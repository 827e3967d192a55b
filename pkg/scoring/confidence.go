package scoring

// Sample size thresholds shared by the scorer and the revenue calculator.
// Small windows discount confidence multiplicatively.
const (
	LowImpressions  = 100
	FairImpressions = 1000
	LowTransactions = 5
	FairTransactions = 20

	MinConfidence = 0.1
	MaxConfidence = 1.0
)

// SampleConfidence discounts a starting confidence of 1.0 by the sample
// size of the observation window, clamped to [MinConfidence, MaxConfidence].
func SampleConfidence(impressions, transactions int) float64 {
	return ClampConfidence(DiscountForSamples(1.0, impressions, transactions))
}

// DiscountForSamples applies the shared sample-size discounts to an
// existing confidence value without clamping.
func DiscountForSamples(confidence float64, impressions, transactions int) float64 {
	switch {
	case impressions < LowImpressions:
		confidence *= 0.5
	case impressions < FairImpressions:
		confidence *= 0.75
	}
	switch {
	case transactions < LowTransactions:
		confidence *= 0.5
	case transactions < FairTransactions:
		confidence *= 0.75
	}
	return confidence
}

// ClampConfidence bounds a confidence value to [MinConfidence, MaxConfidence].
func ClampConfidence(c float64) float64 {
	if c < MinConfidence {
		return MinConfidence
	}
	if c > MaxConfidence {
		return MaxConfidence
	}
	return c
}
