package di

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/aristath/tradeinbox/internal/config"
	"github.com/aristath/tradeinbox/internal/domain"
	"github.com/aristath/tradeinbox/internal/scheduler"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	return &config.Config{
		DataDir:              t.TempDir(),
		Port:                 8010,
		BatchWorkers:         1,
		DefaultCurrency:      "USD",
		DefaultPortfolio:     "Default",
		DuplicateWindowHours: 24,
		DuplicateGate:        domain.DuplicateGateAdvisory,
		ReviewRetentionDays:  90,
		BackupRetentionDays:  30,
		SpoolEnabled:         true,
	}
}

func TestInitializeDatabases(t *testing.T) {
	cfg := testConfig(t)

	container, err := InitializeDatabases(cfg, zerolog.Nop())
	require.NoError(t, err)
	defer container.Close()

	require.Len(t, container.Databases(), 3)
	for _, file := range []string{"ledger.db", "inbox.db", "client_data.db"} {
		_, err := os.Stat(filepath.Join(cfg.DataDir, file))
		assert.NoError(t, err, file)
	}

	var n int
	require.NoError(t, container.LedgerDB.Conn().QueryRow(`SELECT COUNT(*) FROM portfolios`).Scan(&n))
	require.NoError(t, container.InboxDB.Conn().QueryRow(`SELECT COUNT(*) FROM review_queue`).Scan(&n))
}

func TestInitializeRepositories_RequiresDatabases(t *testing.T) {
	assert.Error(t, InitializeRepositories(&Container{}, zerolog.Nop()))
}

func TestWire(t *testing.T) {
	cfg := testConfig(t)

	container, err := Wire(context.Background(), cfg, zerolog.Nop())
	require.NoError(t, err)
	defer container.Close()

	assert.NotNil(t, container.Orchestrator)
	assert.NotNil(t, container.ReviewQueue)
	assert.NotNil(t, container.SettingsService)
	assert.NotNil(t, container.Spool)
	assert.NotNil(t, container.Maintenance)
	assert.Nil(t, container.BackupService, "R2 is not configured")

	assert.Equal(t, []string{
		"ingest:spool",
		"maintenance:cache-cleanup",
		"maintenance:health",
		"maintenance:review-cleanup",
		"maintenance:review-recovery",
		"maintenance:vacuum",
	}, container.WorkRegistry.IDs())

	// Source defaults come from the config
	sc, err := container.SettingsService.GetSourceConfig(context.Background(), "broker.example")
	require.NoError(t, err)
	assert.Equal(t, "USD", sc.DefaultCurrency)

	sched := scheduler.New(zerolog.Nop())
	require.NoError(t, RegisterJobs(container, sched, zerolog.Nop()))
}

func TestWire_SpoolDisabled(t *testing.T) {
	cfg := testConfig(t)
	cfg.SpoolEnabled = false

	container, err := Wire(context.Background(), cfg, zerolog.Nop())
	require.NoError(t, err)
	defer container.Close()

	assert.Nil(t, container.Spool)
	assert.False(t, container.WorkRegistry.Has("ingest:spool"))
}

func TestWire_HealthWorkRuns(t *testing.T) {
	cfg := testConfig(t)

	container, err := Wire(context.Background(), cfg, zerolog.Nop())
	require.NoError(t, err)
	defer container.Close()

	for _, id := range []string{"maintenance:review-cleanup", "maintenance:review-recovery", "maintenance:cache-cleanup", "maintenance:vacuum"} {
		assert.NoError(t, container.WorkProcessor.ExecuteNow(context.Background(), id, ""), id)
	}
}
