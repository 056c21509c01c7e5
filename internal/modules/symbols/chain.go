package symbols

import (
	"context"
	"errors"
	"strings"

	"github.com/aristath/tradeinbox/internal/domain"
)

// Chain asks each lookup in order and returns the first answer with a
// symbol. A lookup that errors does not stop the chain; the errors are
// returned together only when nothing answered.
type Chain []domain.SymbolLookup

// NewChain drops nil lookups. It returns nil when none are left, so the
// resolver sees "no lookup configured".
func NewChain(lookups ...domain.SymbolLookup) domain.SymbolLookup {
	var chain Chain
	for _, l := range lookups {
		if l != nil {
			chain = append(chain, l)
		}
	}
	switch len(chain) {
	case 0:
		return nil
	case 1:
		return chain[0]
	default:
		return chain
	}
}

// Lookup implements domain.SymbolLookup
func (c Chain) Lookup(ctx context.Context, req domain.SymbolLookupRequest) (*domain.SymbolLookupResponse, error) {
	var errs []error
	for _, l := range c {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		resp, err := l.Lookup(ctx, req)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		if resp != nil && strings.TrimSpace(resp.NormalizedSymbol) != "" {
			return resp, nil
		}
	}
	return nil, errors.Join(errs...)
}
