package portfolios

import (
	"context"
	"errors"
	"testing"

	"github.com/aristath/tradeinbox/internal/database"
	"github.com/aristath/tradeinbox/internal/domain"
	"github.com/aristath/tradeinbox/internal/events"
	testingpkg "github.com/aristath/tradeinbox/internal/testing"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupResolver(t *testing.T, names ...string) (*Resolver, *Repository, *events.Bus) {
	t.Helper()
	repo := NewRepository(testingpkg.NewMemoryDB(t, database.NameLedger), zerolog.Nop())
	for _, n := range names {
		_, err := repo.CreatePortfolio(context.Background(), n, "CAD")
		require.NoError(t, err)
	}
	bus := events.NewBus(zerolog.Nop())
	return NewResolver(repo, bus, zerolog.Nop()), repo, bus
}

func sourceConfig(allowCreate bool) domain.SourceConfig {
	return domain.SourceConfig{
		DefaultCurrency:      "CAD",
		DefaultPortfolio:     "Default",
		AllowPortfolioCreate: allowCreate,
	}
}

func TestNormalize(t *testing.T) {
	assert.Equal(t, "RRSP JOINT", Normalize("  rrsp   joint "))
	assert.Equal(t, "", Normalize("   "))
}

func TestResolve_ExactMatch(t *testing.T) {
	r, _, _ := setupResolver(t, "TFSA", "TFSA Joint")

	res, err := r.Resolve(context.Background(), " tfsa ", sourceConfig(false))
	require.NoError(t, err)
	assert.Equal(t, "TFSA", res.PortfolioName)
	assert.Equal(t, MatchExact, res.MatchType)
	assert.False(t, res.Created)
}

func TestResolve_SubstringEitherDirection(t *testing.T) {
	r, _, _ := setupResolver(t, "RRSP", "Personal Margin Account")

	res, err := r.Resolve(context.Background(), "RRSP — joint", sourceConfig(false))
	require.NoError(t, err)
	assert.Equal(t, "RRSP", res.PortfolioName)
	assert.Equal(t, MatchSubstring, res.MatchType)

	res, err = r.Resolve(context.Background(), "margin", sourceConfig(false))
	require.NoError(t, err)
	assert.Equal(t, "Personal Margin Account", res.PortfolioName)
	assert.Equal(t, MatchSubstring, res.MatchType)
}

func TestResolve_WordFallback(t *testing.T) {
	r, _, _ := setupResolver(t, "Margin Account", "Crypto")

	res, err := r.Resolve(context.Background(), "Joint Margin", sourceConfig(false))
	require.NoError(t, err)
	assert.Equal(t, "Margin Account", res.PortfolioName)
	assert.Equal(t, MatchWord, res.MatchType)
}

func TestResolve_CreatesWhenAllowed(t *testing.T) {
	r, repo, bus := setupResolver(t, "TFSA")

	var created []*events.Event
	bus.Subscribe(events.PortfolioCreated, func(e *events.Event) { created = append(created, e) })

	res, err := r.Resolve(context.Background(), "  Kids   RESP ", sourceConfig(true))
	require.NoError(t, err)
	assert.True(t, res.Created)
	assert.Equal(t, MatchCreated, res.MatchType)
	assert.Equal(t, "Kids RESP", res.PortfolioName)

	p, err := repo.GetPortfolio(context.Background(), res.PortfolioID)
	require.NoError(t, err)
	assert.Equal(t, "CAD", p.Currency)
	require.Len(t, created, 1)
	assert.Equal(t, res.PortfolioID, created[0].Data["portfolio_id"])

	// The same label now resolves to the created portfolio
	again, err := r.Resolve(context.Background(), "kids resp", sourceConfig(true))
	require.NoError(t, err)
	assert.Equal(t, res.PortfolioID, again.PortfolioID)
	assert.False(t, again.Created)
}

func TestResolve_CreationDisallowedIsFatal(t *testing.T) {
	r, _, _ := setupResolver(t, "TFSA")

	_, err := r.Resolve(context.Background(), "Offshore", sourceConfig(false))
	require.Error(t, err)

	var pe *domain.PipelineError
	require.True(t, errors.As(err, &pe))
	assert.Equal(t, domain.KindPortfolioResolution, pe.Kind)
	assert.True(t, pe.Fatal())
}

func TestResolve_EmptyLabelUsesDefault(t *testing.T) {
	r, _, _ := setupResolver(t, "Default", "TFSA")

	res, err := r.Resolve(context.Background(), "   ", sourceConfig(false))
	require.NoError(t, err)
	assert.Equal(t, "Default", res.PortfolioName)
}

func TestRepository_CreateIsIdempotentByName(t *testing.T) {
	repo := NewRepository(testingpkg.NewMemoryDB(t, database.NameLedger), zerolog.Nop())
	ctx := context.Background()

	first, err := repo.CreatePortfolio(ctx, "TFSA", "cad")
	require.NoError(t, err)
	assert.Equal(t, "CAD", first.Currency)

	second, err := repo.CreatePortfolio(ctx, "TFSA", "USD")
	require.NoError(t, err)
	assert.Equal(t, first.ID, second.ID)

	list, err := repo.ListPortfolios(ctx)
	require.NoError(t, err)
	assert.Len(t, list, 1)

	missing, err := repo.FindPortfolio(ctx, "nope")
	require.NoError(t, err)
	assert.Nil(t, missing)

	_, err = repo.GetPortfolio(ctx, "nope")
	assert.ErrorIs(t, err, domain.ErrNotFound)
}
