package analysis

// Action enum for the investment recommendation.
type Action string

const (
	ActionBuy  Action = "buy"
	ActionHold Action = "hold"
	ActionSell Action = "sell"
)

// Severity enum for risk items.
type Severity string

const (
	SeverityLow      Severity = "low"
	SeverityMedium   Severity = "medium"
	SeverityHigh     Severity = "high"
	SeverityCritical Severity = "critical"
)

// Likelihood enum for risk items.
type Likelihood string

const (
	LikelihoodLow    Likelihood = "low"
	LikelihoodMedium Likelihood = "medium"
	LikelihoodHigh   Likelihood = "high"
)

// DocumentMetadata describes the analyzed document. Everything except Source
// may be unknown to the model.
type DocumentMetadata struct {
	Company *string `json:"company"`
	Quarter *string `json:"quarter"`
	Year    *int    `json:"year"`
	Source  *string `json:"source"`
	Pages   *int    `json:"pages"`
}

// Recommendation is the headline call. Confidence is an integer percentage.
type Recommendation struct {
	Action     Action `json:"action"`
	Rationale  string `json:"rationale"`
	Confidence int    `json:"confidence"`
}

// RiskItem is a single identified risk factor.
type RiskItem struct {
	Name       string     `json:"name"`
	Severity   Severity   `json:"severity"`
	Impact     string     `json:"impact"`
	Likelihood Likelihood `json:"likelihood"`
	Mitigation string     `json:"mitigation"`
}

// MarketInsight is a single evidence-backed observation.
type MarketInsight struct {
	Topic    string `json:"topic"`
	Insight  string `json:"insight"`
	Evidence string `json:"evidence"`
}

// KeyMetrics carries headline numbers when the document states them.
type KeyMetrics struct {
	RevenueYoY     *float64 `json:"revenue_yoy"`
	GrossMargin    *float64 `json:"gross_margin"`
	EBITDAMargin   *float64 `json:"ebitda_margin"`
	GuidanceChange *string  `json:"guidance_change"`
}

// Result is the canonical structured output of one analysis. Risks, insights
// and quotes may be empty but are never nil after validation.
type Result struct {
	Metadata       DocumentMetadata `json:"metadata"`
	Recommendation Recommendation   `json:"recommendation"`
	Risks          []RiskItem       `json:"risks"`
	Insights       []MarketInsight  `json:"insights"`
	KeyMetrics     *KeyMetrics      `json:"key_metrics,omitempty"`
	Quotes         []string         `json:"quotes"`
	Limitations    string           `json:"limitations"`
}

// MetadataHints is what the pipeline already knows about the document before
// the model sees it (source name, page count from extraction).
type MetadataHints struct {
	Company *string `json:"company"`
	Quarter *string `json:"quarter"`
	Year    *int    `json:"year"`
	Source  string  `json:"source"`
	Pages   *int    `json:"pages"`
}
