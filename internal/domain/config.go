package domain

// ThresholdsVersion identifies the current tuning constants
const ThresholdsVersion = 1

// Thresholds holds every tunable constant of the pipeline in one
// versioned place.
type Thresholds struct {
	Version int `json:"version"`

	// Parser
	HTMLMethodWeight float64 `json:"htmlMethodWeight"`
	TextMethodWeight float64 `json:"textMethodWeight"`
	TotalTolerance   float64 `json:"totalTolerance"`  // relative
	MismatchPenalty  float64 `json:"mismatchPenalty"` // multiplier on mismatch

	// Symbol resolver
	SymbolDirectConfidence float64 `json:"symbolDirectConfidence"`

	// Duplicate detector
	QuantityEpsilon      float64 `json:"quantityEpsilon"`
	PriceEpsilon         float64 `json:"priceEpsilon"`
	Level2Confidence     float64 `json:"level2Confidence"`
	FuzzyReviewThreshold float64 `json:"fuzzyReviewThreshold"`

	// Review queue
	HighPriorityDuplicate float64 `json:"highPriorityDuplicate"`
	LowParsingConfidence  float64 `json:"lowParsingConfidence"`
}

// DefaultThresholds returns the baseline tuning
func DefaultThresholds() Thresholds {
	return Thresholds{
		Version:                ThresholdsVersion,
		HTMLMethodWeight:       1.0,
		TextMethodWeight:       0.85,
		TotalTolerance:         0.01,
		MismatchPenalty:        0.8,
		SymbolDirectConfidence: 0.7,
		QuantityEpsilon:        0.0001,
		PriceEpsilon:           0.01,
		Level2Confidence:       0.85,
		FuzzyReviewThreshold:   0.5,
		HighPriorityDuplicate:  0.7,
		LowParsingConfidence:   0.5,
	}
}

// DuplicateGate controls whether duplicate advice can override auto-insert
type DuplicateGate string

const (
	// DuplicateGateAdvisory routes on autoInsertEnabled alone
	DuplicateGateAdvisory DuplicateGate = "advisory"
	// DuplicateGateReview forces review/reject recommendations into the queue
	DuplicateGateReview DuplicateGate = "review"
	// DuplicateGateStrict behaves like review and skips certain duplicates
	DuplicateGateStrict DuplicateGate = "strict"
)

// Valid reports whether g is a known gate
func (g DuplicateGate) Valid() bool {
	return g == DuplicateGateAdvisory || g == DuplicateGateReview || g == DuplicateGateStrict
}

// SourceConfig is the per-source routing configuration
type SourceConfig struct {
	Source                   string        `json:"source"`
	DuplicateGate            DuplicateGate `json:"duplicateGate"`
	DefaultCurrency          string        `json:"defaultCurrency"`
	DefaultPortfolio         string        `json:"defaultPortfolio"`
	Thresholds               Thresholds    `json:"thresholds"`
	DuplicateTimeWindowHours float64       `json:"duplicateTimeWindowHours"`
	AutoInsertEnabled        bool          `json:"autoInsertEnabled"`
	AllowPortfolioCreate     bool          `json:"allowPortfolioCreate"`
}
