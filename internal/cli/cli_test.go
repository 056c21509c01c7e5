package cli

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/aristath/tradeinbox/internal/config"
	"github.com/aristath/tradeinbox/internal/di"
	"github.com/aristath/tradeinbox/internal/domain"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const fillMessage = "From: Wealthsimple <notifications@wealthsimple.com>\r\n" +
	"To: me@example.com\r\n" +
	"Subject: Your order has been filled\r\n" +
	"Message-ID: <cli-1@wealthsimple.com>\r\n" +
	"Date: Fri, 01 Mar 2024 15:33:00 +0000\r\n" +
	"MIME-Version: 1.0\r\n" +
	"Content-Type: text/html; charset=utf-8\r\n" +
	"\r\n" +
	"<html><body><h1>Your order has been filled</h1><table>\r\n" +
	"<tr><td>Account</td><td>TFSA</td></tr>\r\n" +
	"<tr><td>Symbol</td><td>AAPL</td></tr>\r\n" +
	"<tr><td>Type</td><td>Market buy</td></tr>\r\n" +
	"<tr><td>Shares</td><td>10</td></tr>\r\n" +
	"<tr><td>Average price</td><td>$150.25 USD</td></tr>\r\n" +
	"<tr><td>Total cost</td><td>$1502.50 USD</td></tr>\r\n" +
	"<tr><td>Time</td><td>March 1, 2024 10:32 AM</td></tr>\r\n" +
	"<tr><td>Order ID</td><td>WS-CLI-1</td></tr>\r\n" +
	"</table></body></html>\r\n"

func newContainer(t *testing.T) *di.Container {
	t.Helper()
	cfg := &config.Config{
		DataDir:              t.TempDir(),
		BatchWorkers:         1,
		AllowPortfolioCreate: true,
		DefaultCurrency:      "USD",
		DefaultPortfolio:     "Default",
		DuplicateWindowHours: 24,
		DuplicateGate:        domain.DuplicateGateAdvisory,
		ReviewRetentionDays:  90,
	}
	c, err := di.Wire(context.Background(), cfg, zerolog.Nop())
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.Close() })
	return c
}

func writeMessage(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	return path
}

func pendingItems(t *testing.T, c *di.Container) []domain.ReviewQueueItem {
	t.Helper()
	items, err := c.ReviewQueue.GetQueueItems(context.Background(), domain.ReviewFilter{Status: domain.ReviewStatusPending})
	require.NoError(t, err)
	return items
}

func TestProcess_QueuesThenApprove(t *testing.T) {
	c := newContainer(t)
	ctx := context.Background()
	path := writeMessage(t, "fill.eml", fillMessage)

	var out bytes.Buffer
	cmd := &ProcessCmd{Files: []string{path}, Workers: 1}
	require.NoError(t, cmd.run(ctx, c, &out))
	assert.Contains(t, out.String(), "queued for review")
	assert.Contains(t, out.String(), "AAPL")

	items := pendingItems(t, c)
	require.Len(t, items, 1)

	out.Reset()
	list := &ReviewListCmd{Status: "pending", Limit: 10}
	require.NoError(t, list.run(ctx, c.ReviewQueue, &out))
	assert.Contains(t, out.String(), items[0].ID)

	out.Reset()
	approve := &ReviewApproveCmd{DecisionFlags{ID: items[0].ID, Reviewer: "tester", Yes: true}}
	require.NoError(t, approve.run(ctx, c.ReviewQueue, &out))
	assert.Contains(t, out.String(), "created transaction")
	assert.Empty(t, pendingItems(t, c))

	out.Reset()
	stats := &ReviewStatsCmd{}
	require.NoError(t, stats.run(ctx, c.ReviewQueue, &out))
	assert.Contains(t, out.String(), "1 items, 0 pending")

	// Without a gate the same email goes back to review as a likely duplicate
	out.Reset()
	require.NoError(t, cmd.run(ctx, c, &out))
	assert.Contains(t, out.String(), "queued for review")
	assert.Len(t, pendingItems(t, c), 1)
}

func TestProcess_DryRunStoresNothing(t *testing.T) {
	c := newContainer(t)
	path := writeMessage(t, "fill.eml", fillMessage)

	var out bytes.Buffer
	cmd := &ProcessCmd{Files: []string{path}, DryRun: true}
	require.NoError(t, cmd.run(context.Background(), c, &out))
	assert.Contains(t, out.String(), "parsed with")
	assert.Empty(t, pendingItems(t, c))
}

func TestProcess_ReportsFailures(t *testing.T) {
	c := newContainer(t)
	good := writeMessage(t, "fill.eml", fillMessage)
	junk := writeMessage(t, "junk.eml", "garbage without headers")

	var out bytes.Buffer
	cmd := &ProcessCmd{Files: []string{good, junk}, Workers: 1}
	err := cmd.run(context.Background(), c, &out)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "1 of 2 emails failed")
	assert.Contains(t, out.String(), "junk.eml")
}

func TestProcess_JSONOutput(t *testing.T) {
	c := newContainer(t)
	path := writeMessage(t, "fill.eml", fillMessage)

	var out bytes.Buffer
	cmd := &ProcessCmd{Files: []string{path}, JSON: true}
	require.NoError(t, cmd.run(context.Background(), c, &out))
	assert.True(t, strings.HasPrefix(strings.TrimSpace(out.String()), "{"))
	assert.Contains(t, out.String(), `"queued": 1`)
}

func TestReviewReject(t *testing.T) {
	c := newContainer(t)
	ctx := context.Background()
	path := writeMessage(t, "fill.eml", fillMessage)
	require.NoError(t, (&ProcessCmd{Files: []string{path}}).run(ctx, c, &bytes.Buffer{}))

	items := pendingItems(t, c)
	require.Len(t, items, 1)

	var out bytes.Buffer
	reject := &ReviewRejectCmd{DecisionFlags{ID: items[0].ID, Reviewer: "tester", Notes: "not mine", Yes: true}}
	require.NoError(t, reject.run(ctx, c.ReviewQueue, &out))
	assert.Contains(t, out.String(), "rejected "+items[0].ID)

	// Deciding twice is a conflict
	assert.Error(t, reject.run(ctx, c.ReviewQueue, &out))
}

func TestReviewList_Empty(t *testing.T) {
	c := newContainer(t)

	var out bytes.Buffer
	require.NoError(t, (&ReviewListCmd{Status: "all"}).run(context.Background(), c.ReviewQueue, &out))
	assert.Contains(t, out.String(), "no review items")

	assert.Error(t, (&ReviewListCmd{Status: "archived"}).run(context.Background(), c.ReviewQueue, &out))
}

func TestCleanup(t *testing.T) {
	c := newContainer(t)

	var out bytes.Buffer
	cmd := &CleanupCmd{Vacuum: true, Yes: true}
	require.NoError(t, cmd.run(context.Background(), c, 30, &out))
	assert.Contains(t, out.String(), "removed 0 review items")
	assert.Contains(t, out.String(), "databases vacuumed")
}

func TestConfirm_YesSkipsPrompt(t *testing.T) {
	ok, err := confirm(true, "anything")
	require.NoError(t, err)
	assert.True(t, ok)
}
