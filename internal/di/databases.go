package di

import (
	"fmt"
	"path/filepath"

	"github.com/aristath/tradeinbox/internal/config"
	"github.com/aristath/tradeinbox/internal/database"
	"github.com/rs/zerolog"
)

// InitializeDatabases opens the three databases and applies their schemas
func InitializeDatabases(cfg *config.Config, log zerolog.Logger) (*Container, error) {
	container := &Container{}

	specs := []struct {
		name    string
		file    string
		profile database.DatabaseProfile
		target  **database.DB
	}{
		{database.NameLedger, "ledger.db", database.ProfileLedger, &container.LedgerDB},
		{database.NameInbox, "inbox.db", database.ProfileStandard, &container.InboxDB},
		{database.NameClientData, "client_data.db", database.ProfileCache, &container.ClientDataDB},
	}

	for _, spec := range specs {
		db, err := database.New(database.Config{
			Path:    filepath.Join(cfg.DataDir, spec.file),
			Profile: spec.profile,
			Name:    spec.name,
		})
		if err != nil {
			_ = container.Close()
			return nil, fmt.Errorf("failed to initialize %s database: %w", spec.name, err)
		}
		*spec.target = db

		if err := db.Migrate(); err != nil {
			_ = container.Close()
			return nil, fmt.Errorf("failed to migrate %s database: %w", spec.name, err)
		}
	}

	log.Info().Str("data_dir", cfg.DataDir).Msg("Databases initialized")
	return container, nil
}
