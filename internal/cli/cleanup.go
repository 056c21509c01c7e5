package cli

import (
	"context"
	"fmt"
	"io"

	"github.com/alecthomas/kong"
	"github.com/aristath/tradeinbox/internal/clientdata"
	"github.com/aristath/tradeinbox/internal/di"
	"github.com/rs/zerolog"
)

type CleanupCmd struct {
	Days   int  `help:"Delete decided review items older than this many days (0 uses REVIEW_RETENTION_DAYS)." default:"0"`
	Vacuum bool `help:"Also vacuum the databases."`
	Yes    bool `help:"Do not ask for confirmation." short:"y"`
}

func (cmd *CleanupCmd) Run(ctx *kong.Context, globals *Globals) error {
	runCtx := context.Background()
	container, cfg, err := globals.open(runCtx)
	if err != nil {
		return err
	}
	defer container.Close()

	days := cmd.Days
	if days == 0 {
		days = cfg.ReviewRetentionDays
	}
	return cmd.run(runCtx, container, days, ctx.Stdout)
}

func (cmd *CleanupCmd) run(ctx context.Context, c *di.Container, days int, w io.Writer) error {
	ok, err := confirm(cmd.Yes, fmt.Sprintf("Delete approved and rejected review items older than %d days?", days))
	if err != nil {
		return err
	}
	if !ok {
		printInfof(w, "cleanup cancelled")
		return nil
	}

	deleted, err := c.ReviewQueue.CleanupOldItems(ctx, days)
	if err != nil {
		return fmt.Errorf("failed to clean up review queue: %w", err)
	}
	printSuccess(w, fmt.Sprintf("removed %d review items", deleted))

	expired, err := clientdata.NewCleanupJob(c.ClientDataRepo, zerolog.Nop()).Run()
	if err != nil {
		return fmt.Errorf("failed to clean up lookup cache: %w", err)
	}
	printSuccess(w, fmt.Sprintf("removed %d expired lookup cache entries", expired))

	if cmd.Vacuum && c.Maintenance != nil {
		if err := c.Maintenance.Vacuum(ctx); err != nil {
			return fmt.Errorf("failed to vacuum databases: %w", err)
		}
		printSuccess(w, "databases vacuumed")
	}
	return nil
}
