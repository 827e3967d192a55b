package models

import "testing"

func TestDerive(t *testing.T) {
	m := NodeMetrics{
		Position:     4,
		Impressions:  1000,
		Clicks:       50,
		Sessions:     40,
		Transactions: 4,
		Revenue:      200,
	}
	m.Derive()

	if m.CTR != 0.05 {
		t.Errorf("CTR = %v, want 0.05", m.CTR)
	}
	if m.ConversionRate != 0.1 {
		t.Errorf("conversion rate = %v, want 0.1", m.ConversionRate)
	}
	if m.AverageOrderValue != 50 {
		t.Errorf("aov = %v, want 50", m.AverageOrderValue)
	}
	if m.Position != 4 {
		t.Errorf("position changed to %v", m.Position)
	}
}

func TestDeriveZeroDenominators(t *testing.T) {
	m := NodeMetrics{}
	m.Derive()

	if m.CTR != 0 || m.ConversionRate != 0 || m.AverageOrderValue != 0 {
		t.Errorf("zero counters should derive zeros, got %+v", m)
	}
}

func TestDeriveMissingPosition(t *testing.T) {
	for _, pos := range []float64{0, -3} {
		m := NodeMetrics{Position: pos}
		m.Derive()
		if m.Position != DefaultPosition {
			t.Errorf("position %v derived to %v, want %d", pos, m.Position, DefaultPosition)
		}
	}
}

func TestHasTrafficData(t *testing.T) {
	cases := []struct {
		name string
		m    NodeMetrics
		want bool
	}{
		{"none", NodeMetrics{Revenue: 100, Transactions: 2}, false},
		{"impressions only", NodeMetrics{Impressions: 1}, true},
		{"clicks only", NodeMetrics{Clicks: 1}, true},
		{"sessions only", NodeMetrics{Sessions: 1}, true},
	}
	for _, c := range cases {
		if got := c.m.HasTrafficData(); got != c.want {
			t.Errorf("%s: HasTrafficData() = %v, want %v", c.name, got, c.want)
		}
	}
}
