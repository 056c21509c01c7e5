// Package di wires the application's databases, services and background
// work into a single Container.
package di

import (
	"github.com/aristath/tradeinbox/internal/clientdata"
	"github.com/aristath/tradeinbox/internal/database"
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
	"github.com/aristath/tradeinbox/internal/work"
)

// Container holds every long-lived dependency. It is the single source of
// truth for service instances and is handed to the server and the CLI.
type Container struct {
	// Databases
	LedgerDB     *database.DB // portfolios, assets, transactions, processed emails
	InboxDB      *database.DB // review queue, source settings
	ClientDataDB *database.DB // AI lookup cache

	EventBus *events.Bus

	// Repositories
	TransactionRepo    *transactions.Repository
	ProcessedEmailRepo *transactions.ProcessedEmailRepository
	PortfolioRepo      *portfolios.Repository
	ReviewRepo         *review.Repository
	SettingsRepo       *settings.Repository
	ClientDataRepo     *clientdata.Repository

	// Services
	SettingsService    *settings.Service
	TransactionService *transactions.Service
	Parser             *parsing.Parser
	SymbolResolver     *symbols.Resolver
	PortfolioResolver  *portfolios.Resolver
	DuplicateDetector  *duplicates.Detector
	ReviewQueue        *review.Queue
	Orchestrator       *ingest.Orchestrator
	Spool              *spool.Spool // nil when the spool is disabled

	// Reliability
	Maintenance   *reliability.DatabaseMaintenance
	BackupService *reliability.BackupService // nil when R2 is not configured

	// Background work
	WorkRegistry   *work.Registry
	WorkCompletion *work.CompletionTracker
	WorkProcessor  *work.Processor
}

// Databases returns the open databases in a fixed order
func (c *Container) Databases() []*database.DB {
	var dbs []*database.DB
	for _, db := range []*database.DB{c.LedgerDB, c.InboxDB, c.ClientDataDB} {
		if db != nil {
			dbs = append(dbs, db)
		}
	}
	return dbs
}

// Close closes every open database
func (c *Container) Close() error {
	var firstErr error
	for _, db := range c.Databases() {
		if err := db.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}
