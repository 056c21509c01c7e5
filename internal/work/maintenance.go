package work

import (
	"context"
	"fmt"
	"time"

	"github.com/aristath/tradeinbox/internal/modules/review"
	"github.com/aristath/tradeinbox/internal/reliability"
)

// ReviewMaintainer removes resolved review items past retention and repairs
// interrupted approvals
type ReviewMaintainer interface {
	CleanupOldItems(ctx context.Context, days int) (int64, error)
	RecoverStalledApprovals(ctx context.Context, olderThan time.Duration) (int, error)
}

// CacheCleaner removes expired lookup cache rows
type CacheCleaner interface {
	Run() (int64, error)
}

// DatabaseMaintainer checks and compacts the databases
type DatabaseMaintainer interface {
	Run(ctx context.Context) error
	Vacuum(ctx context.Context) error
}

// BackupRunner uploads and rotates off-site backups
type BackupRunner interface {
	CreateAndUploadBackup(ctx context.Context) (*reliability.BackupInfo, error)
	RotateOldBackups(ctx context.Context, retentionDays int) (int, error)
}

// MaintenanceDeps contains all dependencies for maintenance work types.
// A nil Backup leaves the backup work types unregistered.
type MaintenanceDeps struct {
	Review              ReviewMaintainer
	ReviewRetentionDays int
	Cache               CacheCleaner
	Databases           DatabaseMaintainer
	Backup              BackupRunner
	BackupRetentionDays int
}

func global() []string {
	return []string{""}
}

// RegisterMaintenanceWorkTypes registers all maintenance work types with the registry
func RegisterMaintenanceWorkTypes(registry *Registry, deps *MaintenanceDeps) {
	registry.Register(&WorkType{
		ID:           "maintenance:health",
		Priority:     PriorityMedium,
		Interval:     24 * time.Hour,
		FindSubjects: global,
		Execute: func(ctx context.Context, _ string) error {
			if err := deps.Databases.Run(ctx); err != nil {
				return fmt.Errorf("failed to run health checks: %w", err)
			}
			return nil
		},
	})

	registry.Register(&WorkType{
		ID:           "maintenance:vacuum",
		DependsOn:    []string{"maintenance:health"},
		Priority:     PriorityLow,
		Interval:     7 * 24 * time.Hour,
		FindSubjects: global,
		Execute: func(ctx context.Context, _ string) error {
			if err := deps.Databases.Vacuum(ctx); err != nil {
				return fmt.Errorf("failed to vacuum databases: %w", err)
			}
			return nil
		},
	})

	registry.Register(&WorkType{
		ID:           "maintenance:review-cleanup",
		Priority:     PriorityLow,
		Interval:     24 * time.Hour,
		FindSubjects: global,
		Execute: func(ctx context.Context, _ string) error {
			if _, err := deps.Review.CleanupOldItems(ctx, deps.ReviewRetentionDays); err != nil {
				return fmt.Errorf("failed to clean up review queue: %w", err)
			}
			return nil
		},
	})

	registry.Register(&WorkType{
		ID:           "maintenance:review-recovery",
		Priority:     PriorityMedium,
		Interval:     time.Hour,
		FindSubjects: global,
		Execute: func(ctx context.Context, _ string) error {
			if _, err := deps.Review.RecoverStalledApprovals(ctx, review.StalledApprovalAge); err != nil {
				return fmt.Errorf("failed to recover stalled approvals: %w", err)
			}
			return nil
		},
	})

	registry.Register(&WorkType{
		ID:           "maintenance:cache-cleanup",
		Priority:     PriorityLow,
		Interval:     24 * time.Hour,
		FindSubjects: global,
		Execute: func(ctx context.Context, _ string) error {
			if _, err := deps.Cache.Run(); err != nil {
				return fmt.Errorf("failed to clean up lookup cache: %w", err)
			}
			return nil
		},
	})

	if deps.Backup == nil {
		return
	}

	registry.Register(&WorkType{
		ID:           "maintenance:backup",
		DependsOn:    []string{"maintenance:health"},
		Priority:     PriorityLow,
		Interval:     24 * time.Hour,
		FindSubjects: global,
		Execute: func(ctx context.Context, _ string) error {
			if _, err := deps.Backup.CreateAndUploadBackup(ctx); err != nil {
				return fmt.Errorf("failed to upload backup: %w", err)
			}
			return nil
		},
	})

	registry.Register(&WorkType{
		ID:           "maintenance:backup-rotation",
		DependsOn:    []string{"maintenance:backup"},
		Priority:     PriorityLow,
		Interval:     24 * time.Hour,
		FindSubjects: global,
		Execute: func(ctx context.Context, _ string) error {
			if _, err := deps.Backup.RotateOldBackups(ctx, deps.BackupRetentionDays); err != nil {
				return fmt.Errorf("failed to rotate backups: %w", err)
			}
			return nil
		},
	})
}
