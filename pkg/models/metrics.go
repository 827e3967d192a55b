package models

// DefaultPosition is assumed for nodes with no recorded search position.
// Treated as effectively unranked.
const DefaultPosition = 20

// NodeMetrics is the aggregated observation window for one content node:
// search visibility plus on-site commerce outcomes. CTR, ConversionRate and
// AverageOrderValue are derived, not stored.
type NodeMetrics struct {
	NodeID       string  `json:"node_id"`
	ProjectID    string  `json:"project_id"`
	Depth        int     `json:"depth"` // hierarchy depth, 0 = root
	Position     float64 `json:"position"`
	Impressions  int     `json:"impressions"`
	Clicks       int     `json:"clicks"`
	Sessions     int     `json:"sessions"`
	Revenue      float64 `json:"revenue"`
	Transactions int     `json:"transactions"`

	// Derived fields, populated by Derive.
	CTR               float64 `json:"ctr"`
	ConversionRate    float64 `json:"conversion_rate"`
	AverageOrderValue float64 `json:"average_order_value"`
}

// Derive fills the computed fields from the raw counters. Zero denominators
// yield zero rather than NaN, and a missing position falls back to
// DefaultPosition.
func (m *NodeMetrics) Derive() {
	if m.Position <= 0 {
		m.Position = DefaultPosition
	}
	m.CTR = safeRatio(float64(m.Clicks), float64(m.Impressions))
	m.ConversionRate = safeRatio(float64(m.Transactions), float64(m.Sessions))
	m.AverageOrderValue = safeRatio(m.Revenue, float64(m.Transactions))
}

// HasTrafficData reports whether the node has any observed search or site
// traffic at all.
func (m *NodeMetrics) HasTrafficData() bool {
	return m.Impressions > 0 || m.Clicks > 0 || m.Sessions > 0
}

func safeRatio(num, den float64) float64 {
	if den == 0 {
		return 0
	}
	return num / den
}
