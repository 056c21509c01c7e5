package reliability

import (
	"context"
	"fmt"
	"time"

	"github.com/aristath/tradeinbox/internal/database"
	"github.com/rs/zerolog"
	"github.com/shirou/gopsutil/v3/disk"
)

// Disk space thresholds in bytes
const (
	CriticalFreeBytes = 500 << 20
	LowFreeBytes      = 5 << 30
)

// DatabaseMaintenance runs the integrity, WAL and disk checks
type DatabaseMaintenance struct {
	databases []*database.DB
	dataDir   string
	usage     func(path string) (*disk.UsageStat, error)
	log       zerolog.Logger
}

// NewDatabaseMaintenance creates the maintenance runner for databases
// stored under dataDir
func NewDatabaseMaintenance(databases []*database.DB, dataDir string, log zerolog.Logger) *DatabaseMaintenance {
	return &DatabaseMaintenance{
		databases: databases,
		dataDir:   dataDir,
		usage:     disk.Usage,
		log:       log.With().Str("job", "database_maintenance").Logger(),
	}
}

// Run checks integrity of every database, truncates WAL files and verifies
// free disk space. A failed integrity check or critically low disk space
// is returned; everything else is logged.
func (m *DatabaseMaintenance) Run(ctx context.Context) error {
	start := time.Now()

	for _, db := range m.databases {
		if err := db.HealthCheck(ctx); err != nil {
			m.log.Error().Err(err).Str("database", db.Name()).Msg("Database integrity check failed")
			return err
		}
	}

	for _, db := range m.databases {
		if err := db.WALCheckpoint("TRUNCATE"); err != nil {
			m.log.Warn().Err(err).Str("database", db.Name()).Msg("WAL checkpoint failed")
		}
	}

	if err := m.checkDiskSpace(); err != nil {
		return err
	}

	m.logStats()
	m.log.Info().Dur("duration", time.Since(start)).Msg("Database maintenance completed")
	return nil
}

// Vacuum reclaims free pages. The ledger is append-mostly and skipped.
func (m *DatabaseMaintenance) Vacuum(ctx context.Context) error {
	for _, db := range m.databases {
		if db.Name() == database.NameLedger {
			continue
		}
		before, _ := db.GetStats()
		if _, err := db.Conn().ExecContext(ctx, "VACUUM"); err != nil {
			return fmt.Errorf("vacuum of %s failed: %w", db.Name(), err)
		}
		after, _ := db.GetStats()
		if before != nil && after != nil {
			m.log.Info().
				Str("database", db.Name()).
				Int64("pages_before", before.PageCount).
				Int64("pages_after", after.PageCount).
				Msg("Vacuum completed")
		}
	}
	return nil
}

func (m *DatabaseMaintenance) checkDiskSpace() error {
	usage, err := m.usage(m.dataDir)
	if err != nil {
		m.log.Warn().Err(err).Str("path", m.dataDir).Msg("Disk usage unavailable")
		return nil
	}

	freeMB := float64(usage.Free) / (1 << 20)
	switch {
	case usage.Free < CriticalFreeBytes:
		m.log.Error().Float64("free_mb", freeMB).Msg("Insufficient disk space")
		return fmt.Errorf("only %.0f MB free under %s", freeMB, m.dataDir)
	case usage.Free < LowFreeBytes:
		m.log.Warn().Float64("free_mb", freeMB).Msg("Disk space running low")
	default:
		m.log.Debug().Float64("free_mb", freeMB).Msg("Disk space check")
	}
	return nil
}

func (m *DatabaseMaintenance) logStats() {
	for _, db := range m.databases {
		stats, err := db.GetStats()
		if err != nil {
			m.log.Warn().Err(err).Str("database", db.Name()).Msg("Failed to read database stats")
			continue
		}
		m.log.Info().
			Str("database", db.Name()).
			Int64("size_bytes", stats.SizeBytes).
			Int64("wal_size_bytes", stats.WALSizeBytes).
			Int64("freelist_count", stats.FreelistCount).
			Msg("Database metrics")
	}
}
