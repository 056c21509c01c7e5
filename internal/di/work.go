package di

import (
	"github.com/aristath/tradeinbox/internal/clientdata"
	"github.com/aristath/tradeinbox/internal/config"
	"github.com/aristath/tradeinbox/internal/work"
	"github.com/rs/zerolog"
)

// InitializeWork registers the background work types and creates the
// processor. The processor is not started here.
func InitializeWork(container *Container, cfg *config.Config, log zerolog.Logger) {
	container.WorkRegistry = work.NewRegistry()
	container.WorkCompletion = work.NewCompletionTracker()
	container.WorkProcessor = work.NewProcessor(
		container.WorkRegistry,
		container.WorkCompletion,
		container.EventBus,
		log,
	)

	if container.Spool != nil {
		work.RegisterIngestWorkTypes(container.WorkRegistry, container.Spool)
	}

	deps := &work.MaintenanceDeps{
		Review:              container.ReviewQueue,
		ReviewRetentionDays: cfg.ReviewRetentionDays,
		Cache:               clientdata.NewCleanupJob(container.ClientDataRepo, log),
		Databases:           container.Maintenance,
		BackupRetentionDays: cfg.BackupRetentionDays,
	}
	// Assigned only when set: a typed nil would register the backup work
	if container.BackupService != nil {
		deps.Backup = container.BackupService
	}
	work.RegisterMaintenanceWorkTypes(container.WorkRegistry, deps)

	work.RegisterTriggers(container.EventBus, container.WorkProcessor)

	log.Info().Strs("work_types", container.WorkRegistry.IDs()).Msg("Work types registered")
}
