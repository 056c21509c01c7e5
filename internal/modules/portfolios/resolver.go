package portfolios

import (
	"context"
	"fmt"
	"strings"
	"unicode"

	"github.com/aristath/tradeinbox/internal/domain"
	"github.com/aristath/tradeinbox/internal/events"
	"github.com/rs/zerolog"
)

// Match strategies, in the order they are tried
const (
	MatchExact     = "exact"
	MatchSubstring = "substring"
	MatchWord      = "word"
	MatchCreated   = "created"
)

// Resolution is the portfolio chosen for an account label
type Resolution struct {
	PortfolioID   string `json:"portfolioId"`
	PortfolioName string `json:"portfolioName"`
	MatchType     string `json:"matchType"`
	Created       bool   `json:"created"`
}

// Resolver maps free-text account labels to portfolios
type Resolver struct {
	store  domain.PortfolioStore
	events *events.Bus
	log    zerolog.Logger
}

// NewResolver creates a portfolio resolver. bus may be nil.
func NewResolver(store domain.PortfolioStore, bus *events.Bus, log zerolog.Logger) *Resolver {
	return &Resolver{
		store:  store,
		events: bus,
		log:    log.With().Str("service", "portfolio_resolver").Logger(),
	}
}

// Resolve finds the portfolio for label: exact normalized name, then a
// substring match in either direction, then a shared whole word. Without a
// match the portfolio is created when cfg allows it; otherwise a fatal
// PortfolioResolutionError is returned.
func (r *Resolver) Resolve(ctx context.Context, label string, cfg domain.SourceConfig) (*Resolution, error) {
	display := strings.Join(strings.Fields(label), " ")
	if display == "" {
		display = strings.TrimSpace(cfg.DefaultPortfolio)
		if display == "" {
			display = "Default"
		}
	}
	want := Normalize(display)

	portfolios, err := r.store.ListPortfolios(ctx)
	if err != nil {
		return nil, domain.NewPipelineError(domain.KindPortfolioResolution, "", "failed to list portfolios", err)
	}

	if p, how := match(want, portfolios); p != nil {
		return &Resolution{PortfolioID: p.ID, PortfolioName: p.Name, MatchType: how}, nil
	}

	if !cfg.AllowPortfolioCreate {
		return nil, domain.NewPipelineError(domain.KindPortfolioResolution, "",
			fmt.Sprintf("no portfolio matches account %q and creation is disabled", display), nil)
	}

	currency := cfg.DefaultCurrency
	if currency == "" {
		currency = "USD"
	}
	p, err := r.store.CreatePortfolio(ctx, display, currency)
	if err != nil {
		return nil, domain.NewPipelineError(domain.KindPortfolioResolution, "",
			fmt.Sprintf("failed to create portfolio %q", display), err)
	}

	r.log.Info().
		Str("label", label).
		Str("portfolio_id", p.ID).
		Msg("Created portfolio for unmatched account label")

	r.events.EmitTyped("portfolios", &events.PortfolioCreatedData{
		PortfolioID: p.ID,
		Name:        p.Name,
		Currency:    p.Currency,
	})

	return &Resolution{PortfolioID: p.ID, PortfolioName: p.Name, MatchType: MatchCreated, Created: true}, nil
}

// Normalize upper-cases, trims and collapses inner whitespace
func Normalize(label string) string {
	return strings.ToUpper(strings.Join(strings.Fields(label), " "))
}

func match(want string, portfolios []domain.Portfolio) (*domain.Portfolio, string) {
	for i := range portfolios {
		if Normalize(portfolios[i].Name) == want {
			return &portfolios[i], MatchExact
		}
	}

	// Closest length wins among substring matches
	var best *domain.Portfolio
	bestDiff := -1
	for i := range portfolios {
		name := Normalize(portfolios[i].Name)
		if name == "" || !(strings.Contains(name, want) || strings.Contains(want, name)) {
			continue
		}
		diff := len(name) - len(want)
		if diff < 0 {
			diff = -diff
		}
		if bestDiff < 0 || diff < bestDiff {
			best, bestDiff = &portfolios[i], diff
		}
	}
	if best != nil {
		return best, MatchSubstring
	}

	labelWords := words(want)
	if len(labelWords) == 0 {
		return nil, ""
	}
	bestShared := 0
	for i := range portfolios {
		nameWords := make(map[string]bool)
		for _, w := range words(Normalize(portfolios[i].Name)) {
			nameWords[w] = true
		}
		shared := 0
		for _, w := range labelWords {
			if nameWords[w] {
				shared++
			}
		}
		if shared > bestShared {
			best, bestShared = &portfolios[i], shared
		}
	}
	if best != nil {
		return best, MatchWord
	}
	return nil, ""
}

// words splits s on anything but letters and digits, keeping words with at
// least two letters
func words(s string) []string {
	var out []string
	for _, w := range strings.FieldsFunc(s, func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	}) {
		letters := 0
		for _, r := range w {
			if unicode.IsLetter(r) {
				letters++
			}
		}
		if letters >= 2 {
			out = append(out, w)
		}
	}
	return out
}
