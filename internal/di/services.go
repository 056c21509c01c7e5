package di

import (
	"context"
	"fmt"

	"github.com/aristath/tradeinbox/internal/clientdata"
	"github.com/aristath/tradeinbox/internal/clients/gemini"
	"github.com/aristath/tradeinbox/internal/clients/openfigi"
	"github.com/aristath/tradeinbox/internal/config"
	"github.com/aristath/tradeinbox/internal/domain"
	"github.com/aristath/tradeinbox/internal/events"
	"github.com/aristath/tradeinbox/internal/modules/duplicates"
	"github.com/aristath/tradeinbox/internal/modules/ingest"
	"github.com/aristath/tradeinbox/internal/modules/parsing"
	"github.com/aristath/tradeinbox/internal/modules/portfolios"
	"github.com/aristath/tradeinbox/internal/modules/review"
	"github.com/aristath/tradeinbox/internal/modules/settings"
	"github.com/aristath/tradeinbox/internal/modules/symbols"
	"github.com/aristath/tradeinbox/internal/modules/transactions"
	"github.com/aristath/tradeinbox/internal/reliability"
	"github.com/aristath/tradeinbox/internal/spool"
	"github.com/rs/zerolog"
)

// InitializeRepositories creates every repository over the open databases
func InitializeRepositories(container *Container, log zerolog.Logger) error {
	if container.LedgerDB == nil || container.InboxDB == nil || container.ClientDataDB == nil {
		return fmt.Errorf("databases must be initialized before repositories")
	}

	container.TransactionRepo = transactions.NewRepository(container.LedgerDB.Conn(), log)
	container.ProcessedEmailRepo = transactions.NewProcessedEmailRepository(container.LedgerDB.Conn(), log)
	container.PortfolioRepo = portfolios.NewRepository(container.LedgerDB.Conn(), log)
	container.ReviewRepo = review.NewRepository(container.InboxDB.Conn(), log)
	container.SettingsRepo = settings.NewRepository(container.InboxDB.Conn(), log)
	container.ClientDataRepo = clientdata.NewRepository(container.ClientDataDB.Conn())

	log.Debug().Msg("Repositories initialized")
	return nil
}

// InitializeServices builds the pipeline and the services around it
func InitializeServices(ctx context.Context, container *Container, cfg *config.Config, log zerolog.Logger) error {
	container.EventBus = events.NewBus(log)
	bus := container.EventBus

	container.SettingsService = settings.NewService(container.SettingsRepo, cfg.SourceDefaults(), bus, log)
	container.TransactionService = transactions.NewService(container.TransactionRepo, bus, log)

	// Identifier mapping runs before the AI lookup. With neither
	// configured, symbols fall back to their extracted value.
	var identifiers, ai domain.SymbolLookup
	if cfg.OpenFIGIEnabled {
		identifiers = openfigi.NewClient(cfg.OpenFIGIAPIKey, container.ClientDataRepo, log)
	}
	if cfg.GeminiAPIKey != "" {
		client, err := gemini.NewClient(ctx, cfg.GeminiAPIKey, cfg.GeminiModel, container.ClientDataRepo, log)
		if err != nil {
			return fmt.Errorf("failed to create gemini client: %w", err)
		}
		ai = client
	} else {
		log.Warn().Msg("GEMINI_API_KEY not set, AI symbol lookup disabled")
	}
	lookup := symbols.NewChain(identifiers, ai)

	container.Parser = parsing.NewParser(log)
	container.SymbolResolver = symbols.NewResolver(lookup, cfg.AILookupTimeout, log)
	container.PortfolioResolver = portfolios.NewResolver(container.PortfolioRepo, bus, log)
	container.DuplicateDetector = duplicates.NewDetector(container.ProcessedEmailRepo, container.TransactionRepo, log)
	container.ReviewQueue = review.NewQueue(
		container.ReviewRepo,
		container.TransactionService,
		container.ProcessedEmailRepo,
		bus,
		log,
	)

	container.Orchestrator = ingest.NewOrchestrator(ingest.Deps{
		Parser:          container.Parser,
		Symbols:         container.SymbolResolver,
		Portfolios:      container.PortfolioResolver,
		Duplicates:      container.DuplicateDetector,
		Creator:         container.TransactionService,
		Queue:           container.ReviewQueue,
		Identifications: container.ProcessedEmailRepo,
		Sources:         container.SettingsService,
		Events:          bus,

		DuplicateTimeout: cfg.AILookupTimeout,
	}, log)

	if cfg.SpoolEnabled {
		sp, err := spool.New(cfg.SpoolDir(), container.Orchestrator, bus, log)
		if err != nil {
			return err
		}
		container.Spool = sp
	}

	container.Maintenance = reliability.NewDatabaseMaintenance(container.Databases(), cfg.DataDir, log)

	if cfg.R2.Enabled() {
		client, err := reliability.NewR2Client(ctx, reliability.R2Config{
			AccountID:       cfg.R2.AccountID,
			AccessKeyID:     cfg.R2.AccessKeyID,
			SecretAccessKey: cfg.R2.SecretAccessKey,
			Bucket:          cfg.R2.Bucket,
			Endpoint:        cfg.R2.Endpoint,
		}, log)
		if err != nil {
			return fmt.Errorf("failed to create R2 client: %w", err)
		}
		snapshots := make([]reliability.Snapshotter, 0, 3)
		for _, db := range container.Databases() {
			snapshots = append(snapshots, db)
		}
		container.BackupService = reliability.NewBackupService(client, snapshots, cfg.DataDir, bus, log)
	}

	log.Debug().Msg("Services initialized")
	return nil
}
