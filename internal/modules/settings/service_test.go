package settings

import (
	"context"
	"testing"
	"time"

	"github.com/aristath/tradeinbox/internal/database"
	"github.com/aristath/tradeinbox/internal/domain"
	"github.com/aristath/tradeinbox/internal/events"
	testingpkg "github.com/aristath/tradeinbox/internal/testing"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func defaults() domain.SourceConfig {
	return domain.SourceConfig{
		AutoInsertEnabled:        false,
		AllowPortfolioCreate:     true,
		DuplicateTimeWindowHours: 24,
		DuplicateGate:            domain.DuplicateGateAdvisory,
		DefaultCurrency:          "USD",
		DefaultPortfolio:         "Default",
	}
}

func setupService(t *testing.T, bus *events.Bus) (*Service, *Repository) {
	t.Helper()
	repo := NewRepository(testingpkg.NewMemoryDB(t, database.NameInbox), zerolog.Nop())
	return NewService(repo, defaults(), bus, zerolog.Nop()), repo
}

func TestRepository_SetGetDelete(t *testing.T) {
	_, repo := setupService(t, nil)
	ctx := context.Background()

	o, err := repo.Get(ctx, "questrade.com")
	require.NoError(t, err)
	assert.Nil(t, o)

	require.NoError(t, repo.Set(ctx, "questrade.com", SourceOverrides{AutoInsertEnabled: boolPtr(true)}))
	require.NoError(t, repo.Set(ctx, "questrade.com", SourceOverrides{DefaultCurrency: stringPtr("CAD")}))

	o, err = repo.Get(ctx, "questrade.com")
	require.NoError(t, err)
	require.NotNil(t, o)
	assert.Nil(t, o.AutoInsertEnabled, "Set replaces the whole row")
	assert.Equal(t, "CAD", *o.DefaultCurrency)

	all, err := repo.GetAll(ctx)
	require.NoError(t, err)
	assert.Len(t, all, 1)

	require.NoError(t, repo.Delete(ctx, "questrade.com"))
	require.NoError(t, repo.Delete(ctx, "questrade.com"))
	o, err = repo.Get(ctx, "questrade.com")
	require.NoError(t, err)
	assert.Nil(t, o)
}

func TestService_DefaultsWithoutOverrides(t *testing.T) {
	svc, _ := setupService(t, nil)

	cfg, err := svc.GetSourceConfig(context.Background(), "WealthSimple.com")
	require.NoError(t, err)
	assert.Equal(t, "wealthsimple.com", cfg.Source)
	assert.False(t, cfg.AutoInsertEnabled)
	assert.Equal(t, domain.ThresholdsVersion, cfg.Thresholds.Version)
}

func TestService_UpdateMergesAndInvalidates(t *testing.T) {
	bus := events.NewBus(zerolog.Nop())
	received := make(chan *events.Event, 4)
	bus.Subscribe(events.SourceSettingsSet, func(e *events.Event) { received <- e })

	svc, _ := setupService(t, bus)
	ctx := context.Background()

	// prime the cache
	_, err := svc.GetSourceConfig(ctx, "wealthsimple.com")
	require.NoError(t, err)

	cfg, err := svc.Update(ctx, "wealthsimple.com", SourceOverrides{AutoInsertEnabled: boolPtr(true)})
	require.NoError(t, err)
	assert.True(t, cfg.AutoInsertEnabled)

	cfg, err = svc.Update(ctx, "WEALTHSIMPLE.COM", SourceOverrides{DuplicateGate: gatePtr(domain.DuplicateGateStrict)})
	require.NoError(t, err)
	assert.True(t, cfg.AutoInsertEnabled, "earlier override survives a partial update")
	assert.Equal(t, domain.DuplicateGateStrict, cfg.DuplicateGate)

	cfg, err = svc.GetSourceConfig(ctx, "wealthsimple.com")
	require.NoError(t, err)
	assert.Equal(t, domain.DuplicateGateStrict, cfg.DuplicateGate)

	select {
	case e := <-received:
		assert.Equal(t, "wealthsimple.com", e.Data["source"])
	case <-time.After(time.Second):
		t.Fatal("SourceSettingsSet not emitted")
	}

	list, err := svc.List(ctx)
	require.NoError(t, err)
	assert.Contains(t, list, "wealthsimple.com")

	require.NoError(t, svc.Reset(ctx, "wealthsimple.com"))
	cfg, err = svc.GetSourceConfig(ctx, "wealthsimple.com")
	require.NoError(t, err)
	assert.False(t, cfg.AutoInsertEnabled)
}

func TestService_UpdateRejectsInvalid(t *testing.T) {
	svc, repo := setupService(t, nil)
	ctx := context.Background()

	_, err := svc.Update(ctx, "x.com", SourceOverrides{DuplicateGate: gatePtr("never")})
	require.Error(t, err)

	o, err := repo.Get(ctx, "x.com")
	require.NoError(t, err)
	assert.Nil(t, o)
}
