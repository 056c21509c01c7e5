// Package duplicates scores how likely an email repeats an earlier import.
//
// Three independent checks run for every candidate:
//
//	Level 1  exact email: message id or content hash already processed
//	Level 2  order or confirmation id already on a transaction or another email
//	Level 3  fuzzy match on symbol, type, quantity, price and date
//
// Results are combined by maximum confidence. The output is advice only.
package duplicates

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/aristath/tradeinbox/internal/domain"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
)

// DefaultWindow is the symmetric time window of the fuzzy check
const DefaultWindow = 24 * time.Hour

// Request is one detection input
type Request struct {
	Candidate      domain.EmailCandidate
	Identification domain.EmailIdentification
	PortfolioID    string
	Config         domain.SourceConfig
}

// Detector runs the three duplicate checks
type Detector struct {
	identifications domain.IdentificationStore
	transactions    domain.TransactionStore
	log             zerolog.Logger
}

// NewDetector creates a duplicate detector
func NewDetector(identifications domain.IdentificationStore, transactions domain.TransactionStore, log zerolog.Logger) *Detector {
	return &Detector{
		identifications: identifications,
		transactions:    transactions,
		log:             log.With().Str("service", "duplicate_detector").Logger(),
	}
}

// finding is the outcome of one level
type finding struct {
	level          int
	confidence     float64
	recommendation domain.Recommendation
	reasons        []string
	matched        []string
}

// Detect runs every level. A level that fails is skipped and reported in
// the returned error, a non-fatal DuplicateDetectionError; the result then
// reflects only the levels that ran, so a total failure reads as "not a
// duplicate".
func (d *Detector) Detect(ctx context.Context, req Request) (domain.DuplicateDetectionResult, error) {
	th := req.Config.Thresholds
	if th.Version == 0 {
		th = domain.DefaultThresholds()
	}

	var findings []finding
	var errs []error

	checks := []func(context.Context, Request, domain.Thresholds) (*finding, error){
		d.exactEmail,
		d.externalIDs,
		d.fuzzyDetails,
	}
	for i, check := range checks {
		f, err := check(ctx, req, th)
		if err != nil {
			d.log.Warn().
				Err(err).
				Int("level", i+1).
				Str("message_id", req.Identification.MessageID).
				Msg("Duplicate check failed, treating level as no match")
			errs = append(errs, fmt.Errorf("level %d: %w", i+1, err))
			continue
		}
		if f != nil {
			findings = append(findings, *f)
		}
	}

	result := combine(findings)
	if len(errs) > 0 {
		return result, domain.NewPipelineError(domain.KindDuplicateDetection, "",
			"duplicate detection incomplete", errors.Join(errs...)).WithStage("duplicates")
	}
	return result, nil
}

func (d *Detector) exactEmail(ctx context.Context, req Request, th domain.Thresholds) (*finding, error) {
	ident := req.Identification
	if ident.MessageID == "" && ident.ContentHash == "" {
		return nil, nil
	}

	rec, err := d.identifications.FindByMessageIDOrHash(ctx, ident.MessageID, ident.ContentHash)
	if err != nil || rec == nil {
		return nil, err
	}

	key := "content hash"
	if rec.MessageID == ident.MessageID {
		key = "message id"
	}
	f := &finding{
		level:          1,
		confidence:     1.0,
		recommendation: domain.RecommendationReject,
		reasons:        []string{fmt.Sprintf("Email already processed (same %s, status %s)", key, rec.Status)},
	}
	if rec.TransactionID != "" {
		f.matched = append(f.matched, rec.TransactionID)
	}
	return f, nil
}

func (d *Detector) externalIDs(ctx context.Context, req Request, th domain.Thresholds) (*finding, error) {
	ids := req.Candidate.ExternalIDs()
	if len(ids) == 0 {
		return nil, nil
	}

	txs, err := d.transactions.FindByExternalIDs(ctx, ids)
	if err != nil {
		return nil, err
	}
	others, err := d.identifications.FindByReferences(ctx, ids, req.Identification.MessageID)
	if err != nil {
		return nil, err
	}
	if len(txs) == 0 && len(others) == 0 {
		return nil, nil
	}

	f := &finding{
		level:          2,
		confidence:     th.Level2Confidence,
		recommendation: domain.RecommendationReview,
	}
	for _, t := range txs {
		f.reasons = append(f.reasons, fmt.Sprintf("Order id %s matches transaction %s", t.ExternalID, t.ID))
		f.matched = append(f.matched, t.ID)
	}
	for _, rec := range others {
		shared := intersect(ids, rec.References)
		f.reasons = append(f.reasons, fmt.Sprintf("Order id %s seen on email %s (%s)", strings.Join(shared, ", "), rec.MessageID, rec.Status))
		if rec.TransactionID != "" {
			f.matched = append(f.matched, rec.TransactionID)
		}
	}
	return f, nil
}

func (d *Detector) fuzzyDetails(ctx context.Context, req Request, th domain.Thresholds) (*finding, error) {
	c := req.Candidate
	if c.Symbol == "" || c.TransactionDate.IsZero() {
		return nil, nil
	}

	window := DefaultWindow
	if req.Config.DuplicateTimeWindowHours > 0 {
		window = time.Duration(req.Config.DuplicateTimeWindowHours * float64(time.Hour))
	}

	txs, err := d.transactions.ListTransactions(ctx, req.PortfolioID, c.TransactionDate.Add(-window), c.TransactionDate.Add(window))
	if err != nil {
		return nil, err
	}

	var f *finding
	for _, t := range txs {
		score, ok := fuzzyScore(c, t, window, th)
		if !ok {
			continue
		}
		if f == nil {
			f = &finding{level: 3}
		}
		f.confidence = math.Max(f.confidence, score)
		f.matched = append(f.matched, t.ID)
		f.reasons = append(f.reasons, fmt.Sprintf("Similar %s %s %s @ %s on %s (transaction %s, score %.2f)",
			t.Type, t.Quantity.String(), t.Symbol, t.Price.String(), t.Date.Format("2006-01-02"), t.ID, score))
	}
	if f == nil {
		return nil, nil
	}

	f.recommendation = domain.RecommendationAccept
	if f.confidence >= th.FuzzyReviewThreshold {
		f.recommendation = domain.RecommendationReview
	}
	return f, nil
}

// fuzzyScore rates how closely t matches c. Equal symbol and type are
// required; quantity, price and date must fall within their tolerances.
func fuzzyScore(c domain.EmailCandidate, t domain.Transaction, window time.Duration, th domain.Thresholds) (float64, bool) {
	if !strings.EqualFold(c.Symbol, t.Symbol) || c.TransactionType != t.Type {
		return 0, false
	}

	qtyTight, ok := tightness(c.Quantity, t.Quantity, th.QuantityEpsilon)
	if !ok {
		return 0, false
	}
	priceTight, ok := tightness(c.Price, t.Price, th.PriceEpsilon)
	if !ok {
		return 0, false
	}

	dt := c.TransactionDate.Sub(t.Date)
	if dt < 0 {
		dt = -dt
	}
	if dt > window {
		return 0, false
	}
	timeTight := 1 - float64(dt)/float64(window)

	score := 0.3 + 0.2*qtyTight + 0.2*priceTight + 0.1*timeTight
	return math.Min(score, 0.8), true
}

// tightness is 1 for equal values falling linearly to 0 at epsilon
func tightness(a, b decimal.Decimal, epsilon float64) (float64, bool) {
	diff, _ := a.Sub(b).Abs().Float64()
	if diff > epsilon {
		return 0, false
	}
	if epsilon <= 0 {
		return 1, true
	}
	return 1 - diff/epsilon, true
}

// combine keeps the strongest level's confidence and recommendation and
// concatenates reasons in level order
func combine(findings []finding) domain.DuplicateDetectionResult {
	result := domain.NotDuplicate()
	if len(findings) == 0 {
		return result
	}

	var strongest *finding
	var matched []string
	for i := range findings {
		f := &findings[i]
		result.Reasons = append(result.Reasons, f.reasons...)
		matched = append(matched, f.matched...)
		if strongest == nil || f.confidence > strongest.confidence {
			strongest = f
		}
	}

	result.Confidence = strongest.confidence
	result.Recommendation = strongest.recommendation
	result.MatchLevel = strongest.level
	result.MatchedTransactionIDs = domain.NormalizeIDSet(matched)
	result.IsDuplicate = result.Recommendation != domain.RecommendationAccept
	return result
}

func intersect(a, b []string) []string {
	set := make(map[string]bool, len(b))
	for _, s := range b {
		set[s] = true
	}
	var out []string
	for _, s := range a {
		if set[s] {
			out = append(out, s)
		}
	}
	return out
}
