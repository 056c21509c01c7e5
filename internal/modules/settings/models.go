package settings

import (
	"fmt"
	"strings"

	"github.com/Rhymond/go-money"
	"github.com/aristath/tradeinbox/internal/domain"
)

// SourceOverrides are the stored per-source settings. Nil fields fall back
// to the environment defaults.
type SourceOverrides struct {
	AutoInsertEnabled        *bool                 `json:"autoInsertEnabled,omitempty"`
	AllowPortfolioCreate     *bool                 `json:"allowPortfolioCreate,omitempty"`
	DuplicateTimeWindowHours *float64              `json:"duplicateTimeWindowHours,omitempty"`
	DuplicateGate            *domain.DuplicateGate `json:"duplicateGate,omitempty"`
	DefaultCurrency          *string               `json:"defaultCurrency,omitempty"`
	DefaultPortfolio         *string               `json:"defaultPortfolio,omitempty"`
	Thresholds               *domain.Thresholds    `json:"thresholds,omitempty"`
}

// SettingDescriptions documents every override for the API and CLI
var SettingDescriptions = map[string]string{
	"autoInsertEnabled":        "Create transactions without review for this source",
	"allowPortfolioCreate":     "Create a portfolio when the account label matches none",
	"duplicateTimeWindowHours": "Symmetric window of the fuzzy duplicate check, in hours",
	"duplicateGate":            "advisory: duplicates never block auto-insert; review: duplicates go to the queue; strict: review, and exact repeats are skipped",
	"defaultCurrency":          "ISO 4217 currency used when the email names none",
	"defaultPortfolio":         "Portfolio used when the email has no account label",
	"thresholds":               "Confidence tuning constants (versioned)",
}

// Validate rejects overrides that would break routing
func (o SourceOverrides) Validate() error {
	var problems []string
	if o.DuplicateTimeWindowHours != nil && *o.DuplicateTimeWindowHours <= 0 {
		problems = append(problems, "duplicateTimeWindowHours must be positive")
	}
	if o.DuplicateGate != nil && !o.DuplicateGate.Valid() {
		problems = append(problems, fmt.Sprintf("unknown duplicateGate %q", *o.DuplicateGate))
	}
	if o.DefaultCurrency != nil && money.GetCurrency(strings.ToUpper(*o.DefaultCurrency)) == nil {
		problems = append(problems, fmt.Sprintf("unknown currency %q", *o.DefaultCurrency))
	}
	if o.DefaultPortfolio != nil && strings.TrimSpace(*o.DefaultPortfolio) == "" {
		problems = append(problems, "defaultPortfolio must not be blank")
	}
	if o.Thresholds != nil {
		if o.Thresholds.Version != domain.ThresholdsVersion {
			problems = append(problems, fmt.Sprintf("thresholds version %d is not %d", o.Thresholds.Version, domain.ThresholdsVersion))
		}
		for name, v := range map[string]float64{
			"symbolDirectConfidence": o.Thresholds.SymbolDirectConfidence,
			"level2Confidence":       o.Thresholds.Level2Confidence,
			"fuzzyReviewThreshold":   o.Thresholds.FuzzyReviewThreshold,
			"highPriorityDuplicate":  o.Thresholds.HighPriorityDuplicate,
			"lowParsingConfidence":   o.Thresholds.LowParsingConfidence,
		} {
			if v < 0 || v > 1 {
				problems = append(problems, name+" must be within [0,1]")
			}
		}
	}

	if len(problems) > 0 {
		return domain.NewPipelineError(domain.KindValidation, "", strings.Join(problems, "; "), nil)
	}
	return nil
}

// Merge returns o with every non-nil field of patch applied
func (o SourceOverrides) Merge(patch SourceOverrides) SourceOverrides {
	if patch.AutoInsertEnabled != nil {
		o.AutoInsertEnabled = patch.AutoInsertEnabled
	}
	if patch.AllowPortfolioCreate != nil {
		o.AllowPortfolioCreate = patch.AllowPortfolioCreate
	}
	if patch.DuplicateTimeWindowHours != nil {
		o.DuplicateTimeWindowHours = patch.DuplicateTimeWindowHours
	}
	if patch.DuplicateGate != nil {
		o.DuplicateGate = patch.DuplicateGate
	}
	if patch.DefaultCurrency != nil {
		o.DefaultCurrency = patch.DefaultCurrency
	}
	if patch.DefaultPortfolio != nil {
		o.DefaultPortfolio = patch.DefaultPortfolio
	}
	if patch.Thresholds != nil {
		o.Thresholds = patch.Thresholds
	}
	return o
}

// Apply layers o over base
func (o SourceOverrides) Apply(base domain.SourceConfig) domain.SourceConfig {
	cfg := base
	if o.AutoInsertEnabled != nil {
		cfg.AutoInsertEnabled = *o.AutoInsertEnabled
	}
	if o.AllowPortfolioCreate != nil {
		cfg.AllowPortfolioCreate = *o.AllowPortfolioCreate
	}
	if o.DuplicateTimeWindowHours != nil {
		cfg.DuplicateTimeWindowHours = *o.DuplicateTimeWindowHours
	}
	if o.DuplicateGate != nil {
		cfg.DuplicateGate = *o.DuplicateGate
	}
	if o.DefaultCurrency != nil {
		cfg.DefaultCurrency = strings.ToUpper(*o.DefaultCurrency)
	}
	if o.DefaultPortfolio != nil {
		cfg.DefaultPortfolio = strings.TrimSpace(*o.DefaultPortfolio)
	}
	if o.Thresholds != nil {
		cfg.Thresholds = *o.Thresholds
	}
	return cfg
}

// NormalizeSource turns a sender domain or explicit source into the
// settings key
func NormalizeSource(source string) string {
	s := strings.ToLower(strings.TrimSpace(source))
	if s == "" {
		return "default"
	}
	return s
}
