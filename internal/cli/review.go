package cli

import (
	"context"
	"fmt"
	"io"

	"github.com/alecthomas/kong"
	"github.com/aristath/tradeinbox/internal/di"
	"github.com/aristath/tradeinbox/internal/domain"
	"github.com/aristath/tradeinbox/internal/modules/review"
	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"
)

type ReviewCmd struct {
	List    ReviewListCmd    `cmd:"" default:"withargs" help:"List review items."`
	Show    ReviewShowCmd    `cmd:"" help:"Show one review item."`
	Approve ReviewApproveCmd `cmd:"" help:"Approve an item and create its transaction."`
	Reject  ReviewRejectCmd  `cmd:"" help:"Reject an item."`
	Stats   ReviewStatsCmd   `cmd:"" help:"Count items by status and priority."`
}

// withContainer opens a container for the duration of fn
func withContainer(globals *Globals, fn func(ctx context.Context, c *di.Container) error) error {
	ctx := context.Background()
	container, _, err := globals.open(ctx)
	if err != nil {
		return err
	}
	defer container.Close()
	return fn(ctx, container)
}

type ReviewListCmd struct {
	Status   string `help:"Filter by status: pending, approved, rejected or all." default:"pending"`
	Priority string `help:"Filter by priority: low, medium or high."`
	Limit    int    `help:"Maximum items to list." default:"50"`
}

func (cmd *ReviewListCmd) Run(ctx *kong.Context, globals *Globals) error {
	return withContainer(globals, func(runCtx context.Context, c *di.Container) error {
		return cmd.run(runCtx, c.ReviewQueue, ctx.Stdout)
	})
}

func (cmd *ReviewListCmd) run(ctx context.Context, q *review.Queue, w io.Writer) error {
	status := domain.ReviewStatus(cmd.Status)
	if cmd.Status == "all" {
		status = ""
	}
	items, err := q.GetQueueItems(ctx, domain.ReviewFilter{
		Status:   status,
		Priority: domain.ReviewPriority(cmd.Priority),
		Limit:    cmd.Limit,
	})
	if err != nil {
		return err
	}
	if len(items) == 0 {
		printInfof(w, "no review items")
		return nil
	}

	_, _ = fmt.Fprintln(w, itemTable(items))
	return nil
}

func itemTable(items []domain.ReviewQueueItem) string {
	t := table.New().
		Border(lipgloss.NormalBorder()).
		Headers("ID", "STATUS", "PRIORITY", "SYMBOL", "TYPE", "QUANTITY", "CREATED", "REASON")
	for _, item := range items {
		c := item.Candidate
		t.Row(
			item.ID,
			string(item.Status),
			string(item.Priority),
			c.Symbol,
			string(c.TransactionType),
			c.Quantity.String(),
			item.CreatedAt.Local().Format("2006-01-02 15:04"),
			item.Reason,
		)
	}
	return t.String()
}

type ReviewShowCmd struct {
	ID string `arg:"" help:"Review item ID."`
}

func (cmd *ReviewShowCmd) Run(ctx *kong.Context, globals *Globals) error {
	return withContainer(globals, func(runCtx context.Context, c *di.Container) error {
		item, err := c.ReviewQueue.GetQueueItem(runCtx, cmd.ID)
		if err != nil {
			return err
		}
		renderItem(ctx.Stdout, item)
		return nil
	})
}

func renderItem(w io.Writer, item *domain.ReviewQueueItem) {
	printInfof(w, "%s %s", pathStyle.Render(item.ID), item.Reason)
	printField(w, "status", item.Status)
	printField(w, "priority", item.Priority)
	printField(w, "portfolio", item.PortfolioID)
	printField(w, "subject", item.Identification.Subject)
	renderCandidate(w, item.Candidate)
	if item.TransactionID != "" {
		printField(w, "transaction", item.TransactionID)
	}
	if item.ReviewedBy != "" {
		printField(w, "reviewed by", item.ReviewedBy)
	}
}

// DecisionFlags are shared by approve and reject
type DecisionFlags struct {
	ID       string `arg:"" help:"Review item ID."`
	Reviewer string `help:"Name recorded as the reviewer." env:"USER" default:"cli"`
	Notes    string `help:"Review notes."`
	Yes      bool   `help:"Do not ask for confirmation." short:"y"`
}

type ReviewApproveCmd struct {
	DecisionFlags
}

func (cmd *ReviewApproveCmd) Run(ctx *kong.Context, globals *Globals) error {
	return withContainer(globals, func(runCtx context.Context, c *di.Container) error {
		return cmd.run(runCtx, c.ReviewQueue, ctx.Stdout)
	})
}

func (cmd *ReviewApproveCmd) run(ctx context.Context, q *review.Queue, w io.Writer) error {
	item, err := q.GetQueueItem(ctx, cmd.ID)
	if err != nil {
		return err
	}
	renderItem(w, item)

	ok, err := confirm(cmd.Yes, "Approve and create this transaction?")
	if err != nil {
		return err
	}
	if !ok {
		printInfof(w, "approval cancelled")
		return nil
	}

	approved, err := q.ApproveQueueItem(ctx, cmd.ID, review.Decision{Reviewer: cmd.Reviewer, Notes: cmd.Notes})
	if err != nil {
		return err
	}
	printSuccess(w, fmt.Sprintf("approved %s, created transaction %s", approved.ID, approved.TransactionID))
	return nil
}

type ReviewRejectCmd struct {
	DecisionFlags
}

func (cmd *ReviewRejectCmd) Run(ctx *kong.Context, globals *Globals) error {
	return withContainer(globals, func(runCtx context.Context, c *di.Container) error {
		return cmd.run(runCtx, c.ReviewQueue, ctx.Stdout)
	})
}

func (cmd *ReviewRejectCmd) run(ctx context.Context, q *review.Queue, w io.Writer) error {
	item, err := q.GetQueueItem(ctx, cmd.ID)
	if err != nil {
		return err
	}
	renderItem(w, item)

	ok, err := confirm(cmd.Yes, "Reject this item?")
	if err != nil {
		return err
	}
	if !ok {
		printInfof(w, "rejection cancelled")
		return nil
	}

	rejected, err := q.RejectQueueItem(ctx, cmd.ID, review.Decision{Reviewer: cmd.Reviewer, Notes: cmd.Notes})
	if err != nil {
		return err
	}
	printSuccess(w, fmt.Sprintf("rejected %s", rejected.ID))
	return nil
}

type ReviewStatsCmd struct{}

func (cmd *ReviewStatsCmd) Run(ctx *kong.Context, globals *Globals) error {
	return withContainer(globals, func(runCtx context.Context, c *di.Container) error {
		return cmd.run(runCtx, c.ReviewQueue, ctx.Stdout)
	})
}

func (cmd *ReviewStatsCmd) run(ctx context.Context, q *review.Queue, w io.Writer) error {
	stats, err := q.GetQueueStatistics(ctx)
	if err != nil {
		return err
	}
	printInfof(w, "%d items, %d pending", stats.Total, stats.Pending)
	for _, s := range []domain.ReviewStatus{domain.ReviewStatusPending, domain.ReviewStatusApproved, domain.ReviewStatusRejected} {
		printField(w, string(s), stats.ByStatus[s])
	}
	for _, p := range []domain.ReviewPriority{domain.ReviewPriorityHigh, domain.ReviewPriorityMedium, domain.ReviewPriorityLow} {
		printField(w, string(p), stats.ByPriority[p])
	}
	return nil
}
