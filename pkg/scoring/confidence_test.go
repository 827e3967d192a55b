package scoring

import "testing"

func TestSampleConfidence(t *testing.T) {
	tests := []struct {
		name         string
		impressions  int
		transactions int
		want         float64
	}{
		{"large sample", 5000, 50, 1.0},
		{"fair impressions", 500, 50, 0.75},
		{"low impressions", 50, 50, 0.5},
		{"fair transactions", 5000, 10, 0.75},
		{"low transactions", 5000, 2, 0.5},
		{"both low", 50, 2, 0.25},
		{"both fair", 500, 10, 0.5625},
		{"floor clamp", 10, 0, 0.25},
	}

	for _, tt := range tests {
		if got := SampleConfidence(tt.impressions, tt.transactions); !almostEqual(got, tt.want, 1e-9) {
			t.Errorf("%s: SampleConfidence(%d, %d) = %v, want %v",
				tt.name, tt.impressions, tt.transactions, got, tt.want)
		}
	}
}

func TestDiscountForSamplesDoesNotClamp(t *testing.T) {
	// The raw discount can fall below the clamp floor; clamping is the
	// caller's decision.
	got := DiscountForSamples(0.2, 10, 0)
	if !almostEqual(got, 0.05, 1e-9) {
		t.Errorf("DiscountForSamples(0.2, 10, 0) = %v, want 0.05", got)
	}
}

func TestClampConfidence(t *testing.T) {
	tests := []struct {
		in   float64
		want float64
	}{
		{0.05, 0.1},
		{0.0, 0.1},
		{0.5, 0.5},
		{1.0, 1.0},
		{1.3, 1.0},
	}

	for _, tt := range tests {
		if got := ClampConfidence(tt.in); got != tt.want {
			t.Errorf("ClampConfidence(%v) = %v, want %v", tt.in, got, tt.want)
		}
	}
}
