// Package symbols normalizes candidate tickers, consulting the AI lookup
// only when the parsed symbol is not trustworthy on its own.
package symbols

import (
	"context"
	"errors"
	"fmt"
	"math"
	"regexp"
	"strings"
	"time"

	"github.com/aristath/tradeinbox/internal/domain"
	"github.com/patrickmn/go-cache"
	"github.com/rs/zerolog"
	"gonum.org/v1/gonum/stat"
)

// DefaultTimeout bounds one AI lookup
const DefaultTimeout = 30 * time.Second

const maxContextRunes = 300

var tickerPattern = regexp.MustCompile(`^[A-Z]{1,5}([.-][A-Z]{1,3})?$`)

// IsSimpleTicker reports whether s looks like a plain exchange ticker
func IsSimpleTicker(s string) bool {
	return tickerPattern.MatchString(s)
}

// Result is the outcome of resolving one candidate
type Result struct {
	Candidate      domain.EmailCandidate `json:"candidate"`
	Error          *domain.PipelineError `json:"error,omitempty"`
	Source         domain.SymbolSource   `json:"source"`
	OriginalSymbol string                `json:"originalSymbol"`
	Confidence     float64               `json:"confidence"`
}

// Resolver settles the symbol of a candidate
type Resolver struct {
	lookup  domain.SymbolLookup
	memo    *cache.Cache
	timeout time.Duration
	log     zerolog.Logger
}

// NewResolver creates a resolver. lookup may be nil, in which case every
// untrusted symbol falls back to its raw value.
func NewResolver(lookup domain.SymbolLookup, timeout time.Duration, log zerolog.Logger) *Resolver {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &Resolver{
		lookup:  lookup,
		memo:    cache.New(time.Hour, 10*time.Minute),
		timeout: timeout,
		log:     log.With().Str("service", "symbol_resolver").Logger(),
	}
}

// Resolve returns a copy of c with its symbol settled. It never fails:
// lookup problems are reported on Result.Error as a non-fatal
// SymbolResolutionError and the raw symbol is kept.
func (r *Resolver) Resolve(ctx context.Context, c domain.EmailCandidate, th domain.Thresholds) Result {
	candidate := c.Clone()
	res := Result{
		OriginalSymbol: c.Symbol,
		Confidence:     c.Confidence,
	}

	if IsSimpleTicker(candidate.Symbol) && candidate.Confidence >= th.SymbolDirectConfidence {
		res.Source = domain.SymbolSourceDirect
		res.Candidate = candidate
		return res
	}

	resp, err := r.ask(ctx, candidate)
	if err != nil {
		r.log.Warn().
			Err(err).
			Str("symbol", candidate.Symbol).
			Msg("Symbol lookup failed, keeping raw symbol")
		res.Source = domain.SymbolSourceAIFallback
		res.Candidate = candidate
		res.Error = domain.NewPipelineError(domain.KindSymbolResolution, "",
			fmt.Sprintf("could not verify symbol %s, using raw value", candidate.Symbol), err).WithStage("symbol")
		return res
	}

	combined := combineConfidence(candidate.Confidence, resp.Confidence)
	candidate.Symbol = resp.NormalizedSymbol
	if resp.AssetType != "" {
		candidate.AssetType = resp.AssetType
	}
	candidate.Confidence = combined

	r.log.Debug().
		Str("from", c.Symbol).
		Str("to", candidate.Symbol).
		Float64("confidence", combined).
		Msg("Symbol normalized by AI lookup")

	res.Source = domain.SymbolSourceAIEnhanced
	res.Confidence = combined
	res.Candidate = candidate
	return res
}

var errNoAnswer = errors.New("lookup returned no symbol")

// ask queries the lookup under the resolver timeout. A lookup that ignores
// cancellation is abandoned when the timeout fires.
func (r *Resolver) ask(ctx context.Context, c domain.EmailCandidate) (*domain.SymbolLookupResponse, error) {
	if r.lookup == nil {
		return nil, errors.New("no symbol lookup configured")
	}

	key := strings.ToUpper(c.Symbol) + "|" + c.AssetType
	if v, ok := r.memo.Get(key); ok {
		resp := v.(domain.SymbolLookupResponse)
		return &resp, nil
	}

	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	type answer struct {
		resp *domain.SymbolLookupResponse
		err  error
	}
	done := make(chan answer, 1)
	req := domain.SymbolLookupRequest{
		SymbolCandidate: c.Symbol,
		ContextSnippet:  domain.TruncateRunes(c.RawContentExcerpt, maxContextRunes),
		AssetTypeHint:   c.AssetType,
	}
	go func() {
		resp, err := r.lookup.Lookup(ctx, req)
		done <- answer{resp, err}
	}()

	var a answer
	select {
	case a = <-done:
	case <-ctx.Done():
		return nil, fmt.Errorf("symbol lookup: %w", ctx.Err())
	}
	if a.err != nil {
		return nil, a.err
	}
	if a.resp == nil || strings.TrimSpace(a.resp.NormalizedSymbol) == "" {
		return nil, errNoAnswer
	}

	resp := *a.resp
	resp.NormalizedSymbol = strings.ToUpper(strings.TrimSpace(resp.NormalizedSymbol))
	resp.Confidence = clamp01(resp.Confidence)
	r.memo.SetDefault(key, resp)
	return &resp, nil
}

// combineConfidence averages local and AI confidence but never exceeds the
// AI's own figure
func combineConfidence(local, ai float64) float64 {
	mean := stat.Mean([]float64{clamp01(local), clamp01(ai)}, nil)
	return math.Min(clamp01(ai), mean)
}

func clamp01(v float64) float64 {
	if math.IsNaN(v) {
		return 0
	}
	return math.Max(0, math.Min(1, v))
}

// BatchStats summarizes a batch resolution
type BatchStats struct {
	BySource       map[domain.SymbolSource]int `json:"bySource"`
	Total          int                         `json:"total"`
	MeanConfidence float64                     `json:"meanConfidence"`
}

// ResolveBatch resolves each candidate independently
func (r *Resolver) ResolveBatch(ctx context.Context, candidates []domain.EmailCandidate, th domain.Thresholds) ([]Result, BatchStats) {
	results := make([]Result, 0, len(candidates))
	for _, c := range candidates {
		results = append(results, r.Resolve(ctx, c, th))
	}
	return results, Summarize(results)
}

// Summarize aggregates counts by source and the mean resolved confidence
func Summarize(results []Result) BatchStats {
	stats := BatchStats{
		BySource: map[domain.SymbolSource]int{
			domain.SymbolSourceDirect:     0,
			domain.SymbolSourceAIEnhanced: 0,
			domain.SymbolSourceAIFallback: 0,
		},
		Total: len(results),
	}
	if len(results) == 0 {
		return stats
	}

	confidences := make([]float64, 0, len(results))
	for _, res := range results {
		stats.BySource[res.Source]++
		confidences = append(confidences, res.Confidence)
	}
	stats.MeanConfidence = stat.Mean(confidences, nil)
	return stats
}
