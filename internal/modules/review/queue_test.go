package review

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/aristath/tradeinbox/internal/database"
	"github.com/aristath/tradeinbox/internal/domain"
	"github.com/aristath/tradeinbox/internal/events"
	"github.com/aristath/tradeinbox/internal/modules/transactions"
	testingpkg "github.com/aristath/tradeinbox/internal/testing"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupQueue(t *testing.T) (*Queue, *testingpkg.MockTransactionCreator) {
	t.Helper()
	creator := testingpkg.NewMockTransactionCreator()
	return NewQueue(setupRepo(t), creator, nil, nil, zerolog.Nop()), creator
}

func addRequest(messageID string) AddRequest {
	return AddRequest{
		Candidate:          candidate(),
		Identification:     domain.EmailIdentification{MessageID: messageID, ContentHash: "hash-" + messageID},
		DuplicateResult:    domain.NotDuplicate(),
		PortfolioID:        "p1",
		Source:             "wealthsimple.com",
		AutoInsertDisabled: true,
	}
}

func TestPriority(t *testing.T) {
	th := domain.DefaultThresholds()
	review := func(conf float64) domain.DuplicateDetectionResult {
		return domain.DuplicateDetectionResult{Recommendation: domain.RecommendationReview, Confidence: conf}
	}
	withConfidence := func(conf float64) domain.EmailCandidate {
		c := candidate()
		c.Confidence = conf
		return c
	}

	tests := []struct {
		name     string
		dup      domain.DuplicateDetectionResult
		c        domain.EmailCandidate
		expected domain.ReviewPriority
	}{
		{"review at threshold", review(0.7), withConfidence(0.9), domain.ReviewPriorityHigh},
		{"review level 2", review(0.85), withConfidence(0.2), domain.ReviewPriorityHigh},
		{"exact email reject", domain.DuplicateDetectionResult{Recommendation: domain.RecommendationReject, Confidence: 1}, withConfidence(0.9), domain.ReviewPriorityLow},
		{"reject with weak parse", domain.DuplicateDetectionResult{Recommendation: domain.RecommendationReject, Confidence: 1}, withConfidence(0.3), domain.ReviewPriorityMedium},
		{"zero result", domain.DuplicateDetectionResult{}, withConfidence(0.9), domain.ReviewPriorityLow},
		{"weak review, weak parse", review(0.6), withConfidence(0.3), domain.ReviewPriorityMedium},
		{"no duplicate, weak parse", domain.NotDuplicate(), withConfidence(0.2), domain.ReviewPriorityMedium},
		{"no duplicate, good parse", domain.NotDuplicate(), withConfidence(0.5), domain.ReviewPriorityLow},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, Priority(tt.dup, tt.c, th))
		})
	}
}

func TestReason(t *testing.T) {
	th := domain.DefaultThresholds()

	req := addRequest("<m>")
	assert.Equal(t, "Auto-insert disabled for source wealthsimple.com", Reason(req, th))

	req.Candidate.Confidence = 0.2
	req.DuplicateResult = domain.DuplicateDetectionResult{Recommendation: domain.RecommendationReview, Confidence: 0.85, MatchLevel: 2}
	req.Triggers = []string{"Duplicate gate forced review"}
	assert.Equal(t,
		"Potential duplicate (level 2, confidence 0.85); Low parsing confidence (0.20); Auto-insert disabled for source wealthsimple.com; Duplicate gate forced review",
		Reason(req, th))

	assert.Equal(t, "Manual review requested", Reason(AddRequest{Candidate: candidate()}, th))

	req = addRequest("<m>")
	req.DuplicateResult = domain.DuplicateDetectionResult{Recommendation: domain.RecommendationReject, Confidence: 1, MatchLevel: 1}
	assert.Equal(t, "Potential duplicate (level 1, confidence 1.00); Auto-insert disabled for source wealthsimple.com", Reason(req, th))
}

func TestAddToQueue(t *testing.T) {
	bus := events.NewBus(zerolog.Nop())
	received := make(chan *events.Event, 1)
	bus.Subscribe(events.ReviewItemQueued, func(e *events.Event) { received <- e })

	q := NewQueue(setupRepo(t), testingpkg.NewMockTransactionCreator(), nil, bus, zerolog.Nop())

	req := addRequest("<d@mail>")
	req.Candidate.Confidence = 0.2
	req.AutoInsertDisabled = false
	item, err := q.AddToQueue(context.Background(), req)
	require.NoError(t, err)

	assert.NotEmpty(t, item.ID)
	assert.Equal(t, domain.ReviewStatusPending, item.Status)
	assert.Equal(t, domain.ReviewPriorityMedium, item.Priority)
	assert.Contains(t, item.Reason, "Low parsing confidence")
	assert.Equal(t, 1, item.Version)

	stored, err := q.GetQueueItem(context.Background(), item.ID)
	require.NoError(t, err)
	assert.Equal(t, item.Reason, stored.Reason)

	select {
	case e := <-received:
		assert.Equal(t, item.ID, e.Data["item_id"])
	case <-time.After(time.Second):
		t.Fatal("ReviewItemQueued not emitted")
	}
}

func TestAddToQueue_StoreFailureIsQueueWriteError(t *testing.T) {
	db := testingpkg.NewMemoryDB(t, database.NameInbox)
	q := NewQueue(NewRepository(db, zerolog.Nop()), testingpkg.NewMockTransactionCreator(), nil, nil, zerolog.Nop())
	_, err := db.Exec("DROP TABLE review_queue")
	require.NoError(t, err)

	_, err = q.AddToQueue(context.Background(), addRequest("<m>"))
	var pe *domain.PipelineError
	require.True(t, errors.As(err, &pe))
	assert.Equal(t, domain.KindQueueWrite, pe.Kind)
}

func TestApproveQueueItem(t *testing.T) {
	q, creator := setupQueue(t)
	ctx := context.Background()
	item, err := q.AddToQueue(ctx, addRequest("<a@mail>"))
	require.NoError(t, err)

	approved, err := q.ApproveQueueItem(ctx, item.ID, Decision{Reviewer: "alice", Notes: "looks right"})
	require.NoError(t, err)

	assert.Equal(t, domain.ReviewStatusApproved, approved.Status)
	assert.Equal(t, "alice", approved.ReviewedBy)
	assert.Equal(t, "looks right", approved.ReviewNotes)
	assert.NotNil(t, approved.ReviewedAt)
	assert.Equal(t, "tx-a@mail", approved.TransactionID)

	reqs := creator.Requests()
	require.Len(t, reqs, 1)
	assert.Equal(t, item.ID, reqs[0].ReviewItemID)
	assert.Equal(t, "p1", reqs[0].PortfolioID)

	stored, err := q.GetQueueItem(ctx, item.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.ReviewStatusApproved, stored.Status)
	assert.Equal(t, "tx-a@mail", stored.TransactionID)
	assert.Equal(t, 3, stored.Version)
}

func TestTerminalItemsRejectEveryTransition(t *testing.T) {
	for _, terminal := range []domain.ReviewStatus{domain.ReviewStatusApproved, domain.ReviewStatusRejected} {
		t.Run(string(terminal), func(t *testing.T) {
			q, creator := setupQueue(t)
			ctx := context.Background()
			item, err := q.AddToQueue(ctx, addRequest("<t@mail>"))
			require.NoError(t, err)

			if terminal == domain.ReviewStatusApproved {
				_, err = q.ApproveQueueItem(ctx, item.ID, Decision{Reviewer: "alice"})
			} else {
				_, err = q.RejectQueueItem(ctx, item.ID, Decision{Reviewer: "alice"})
			}
			require.NoError(t, err)

			before, err := q.GetQueueItem(ctx, item.ID)
			require.NoError(t, err)
			createdBefore := len(creator.Requests())

			_, err = q.ApproveQueueItem(ctx, item.ID, Decision{Reviewer: "bob"})
			assert.ErrorIs(t, err, domain.ErrConflict)
			_, err = q.RejectQueueItem(ctx, item.ID, Decision{Reviewer: "bob"})
			assert.ErrorIs(t, err, domain.ErrConflict)
			edited := candidate()
			edited.Symbol = "MSFT"
			_, err = q.UpdateQueueItem(ctx, item.ID, Edit{Candidate: edited, Editor: "bob"})
			assert.ErrorIs(t, err, domain.ErrConflict)

			var conflict *domain.ConflictError
			require.True(t, errors.As(err, &conflict))
			assert.Equal(t, terminal, conflict.CurrentStatus)

			after, err := q.GetQueueItem(ctx, item.ID)
			require.NoError(t, err)
			assert.Equal(t, before, after)
			assert.Len(t, creator.Requests(), createdBefore)
		})
	}
}

func TestUpdateThenApproveUsesLatestCandidate(t *testing.T) {
	inbox := testingpkg.NewMemoryDB(t, database.NameInbox)
	ledger := testingpkg.NewMemoryDB(t, database.NameLedger)
	_, err := ledger.Exec(`INSERT INTO portfolios (id, name, currency, created_at) VALUES ('p1', 'TFSA', 'USD', 0)`)
	require.NoError(t, err)

	txRepo := transactions.NewRepository(ledger, zerolog.Nop())
	txService := transactions.NewService(txRepo, nil, zerolog.Nop())
	processed := transactions.NewProcessedEmailRepository(ledger, zerolog.Nop())
	q := NewQueue(NewRepository(inbox, zerolog.Nop()), txService, processed, nil, zerolog.Nop())
	ctx := context.Background()

	item, err := q.AddToQueue(ctx, addRequest("<edit@mail>"))
	require.NoError(t, err)

	first := candidate()
	first.Quantity = decimal.NewFromInt(50)
	_, err = q.UpdateQueueItem(ctx, item.ID, Edit{Candidate: first, Editor: "alice"})
	require.NoError(t, err)

	last := candidate()
	last.Symbol = "MSFT"
	last.Quantity = decimal.NewFromInt(40)
	last.Price = decimal.RequireFromString("401.10")
	last.TotalAmount = decimal.RequireFromString("16044")
	updated, err := q.UpdateQueueItem(ctx, item.ID, Edit{Candidate: last, Editor: "bob", Notes: "fixed symbol", ExpectedVersion: 2})
	require.NoError(t, err)
	assert.Equal(t, domain.ReviewStatusPending, updated.Status)
	assert.Equal(t, "bob", updated.LastModifiedBy)
	assert.Equal(t, 3, updated.Version)

	approved, err := q.ApproveQueueItem(ctx, item.ID, Decision{Reviewer: "carol"})
	require.NoError(t, err)

	tx, err := txRepo.GetTransaction(ctx, approved.TransactionID)
	require.NoError(t, err)
	assert.Equal(t, "MSFT", tx.Symbol)
	assert.Equal(t, "40", tx.Quantity.String())
	assert.Equal(t, "401.1", tx.Price.String())
	assert.Equal(t, "16044", tx.TotalAmount.String())
	assert.Equal(t, "<edit@mail>", tx.SourceMessageID)

	rec, err := processed.FindByMessageIDOrHash(ctx, "<edit@mail>", "")
	require.NoError(t, err)
	require.NotNil(t, rec)
	assert.Equal(t, domain.ProcessedStatusImported, rec.Status)
	assert.Equal(t, item.ID, rec.ReviewItemID)
}

func TestUpdateQueueItem_Validation(t *testing.T) {
	q, _ := setupQueue(t)
	ctx := context.Background()
	item, err := q.AddToQueue(ctx, addRequest("<v@mail>"))
	require.NoError(t, err)

	bad := candidate()
	bad.Symbol = ""
	_, err = q.UpdateQueueItem(ctx, item.ID, Edit{Candidate: bad, Editor: "alice"})
	var pe *domain.PipelineError
	require.True(t, errors.As(err, &pe))
	assert.Equal(t, domain.KindValidation, pe.Kind)

	_, err = q.UpdateQueueItem(ctx, item.ID, Edit{Candidate: candidate(), Editor: "alice", ExpectedVersion: 7})
	assert.ErrorIs(t, err, domain.ErrConflict)

	_, err = q.UpdateQueueItem(ctx, "missing", Edit{Candidate: candidate()})
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestApproveQueueItem_CreationFailureReleasesItem(t *testing.T) {
	q, creator := setupQueue(t)
	ctx := context.Background()
	item, err := q.AddToQueue(ctx, addRequest("<f@mail>"))
	require.NoError(t, err)

	creator.SetError(errors.New("ledger locked"))
	_, err = q.ApproveQueueItem(ctx, item.ID, Decision{Reviewer: "alice"})
	var pe *domain.PipelineError
	require.True(t, errors.As(err, &pe))
	assert.Equal(t, domain.KindTransactionCreation, pe.Kind)

	stored, err := q.GetQueueItem(ctx, item.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.ReviewStatusPending, stored.Status)
	assert.Empty(t, stored.ReviewedBy)
	assert.Nil(t, stored.ReviewedAt)

	creator.SetError(nil)
	approved, err := q.ApproveQueueItem(ctx, item.ID, Decision{Reviewer: "alice"})
	require.NoError(t, err)
	assert.Equal(t, domain.ReviewStatusApproved, approved.Status)
}

func TestApproveQueueItem_ConcurrentReviewers(t *testing.T) {
	q, creator := setupQueue(t)
	ctx := context.Background()
	item, err := q.AddToQueue(ctx, addRequest("<race@mail>"))
	require.NoError(t, err)

	const reviewers = 6
	var wg sync.WaitGroup
	var mu sync.Mutex
	var wins, conflicts int
	for i := 0; i < reviewers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := q.ApproveQueueItem(ctx, item.ID, Decision{Reviewer: "r"})
			mu.Lock()
			defer mu.Unlock()
			if err == nil {
				wins++
			} else if errors.Is(err, domain.ErrConflict) {
				conflicts++
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, wins)
	assert.Equal(t, reviewers-1, conflicts)
	assert.Len(t, creator.Requests(), 1)
}

func TestRejectQueueItem_RecordsEmail(t *testing.T) {
	ledger := testingpkg.NewMemoryDB(t, database.NameLedger)
	processed := transactions.NewProcessedEmailRepository(ledger, zerolog.Nop())
	creator := testingpkg.NewMockTransactionCreator()
	q := NewQueue(setupRepo(t), creator, processed, nil, zerolog.Nop())
	ctx := context.Background()

	item, err := q.AddToQueue(ctx, addRequest("<rej@mail>"))
	require.NoError(t, err)

	rejected, err := q.RejectQueueItem(ctx, item.ID, Decision{Reviewer: "alice", Notes: "duplicate of last week"})
	require.NoError(t, err)
	assert.Equal(t, domain.ReviewStatusRejected, rejected.Status)
	assert.Empty(t, rejected.TransactionID)
	assert.Empty(t, creator.Requests())

	rec, err := processed.FindByMessageIDOrHash(ctx, "<rej@mail>", "")
	require.NoError(t, err)
	require.NotNil(t, rec)
	assert.Equal(t, domain.ProcessedStatusRejected, rec.Status)
	assert.Equal(t, item.ID, rec.ReviewItemID)
	assert.Equal(t, []string{"WS-123456789"}, rec.References)
}

// stallApproval leaves item approved without a transaction, as an
// interrupted ApproveQueueItem would
func stallApproval(t *testing.T, repo *Repository, item *domain.ReviewQueueItem, at time.Time) {
	t.Helper()
	item.Status = domain.ReviewStatusApproved
	item.ReviewedBy = "alice"
	item.ReviewedAt = &at
	item.UpdatedAt = at
	require.NoError(t, repo.UpdateReviewQueueItem(context.Background(), item, domain.ReviewStatusPending, item.Version))
}

func TestRecoverStalledApprovals(t *testing.T) {
	repo := setupRepo(t)
	ledger := testingpkg.NewMemoryDB(t, database.NameLedger)
	processed := transactions.NewProcessedEmailRepository(ledger, zerolog.Nop())
	creator := testingpkg.NewMockTransactionCreator()
	q := NewQueue(repo, creator, processed, nil, zerolog.Nop())
	ctx := context.Background()
	old := time.Now().UTC().Add(-time.Hour).Truncate(time.Second)

	lost, err := q.AddToQueue(ctx, addRequest("<lost@mail>"))
	require.NoError(t, err)
	stallApproval(t, repo, lost, old)

	imported, err := q.AddToQueue(ctx, addRequest("<imported@mail>"))
	require.NoError(t, err)
	stallApproval(t, repo, imported, old)
	require.NoError(t, processed.Record(ctx, domain.ProcessedEmail{
		MessageID:     "<imported@mail>",
		ContentHash:   "hash-<imported@mail>",
		Status:        domain.ProcessedStatusImported,
		TransactionID: "tx-imported",
	}))

	recent, err := q.AddToQueue(ctx, addRequest("<recent@mail>"))
	require.NoError(t, err)
	stallApproval(t, repo, recent, time.Now().UTC().Truncate(time.Second))

	n, err := q.RecoverStalledApprovals(ctx, StalledApprovalAge)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	stored, err := q.GetQueueItem(ctx, lost.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.ReviewStatusPending, stored.Status)
	assert.Empty(t, stored.ReviewedBy)
	assert.Nil(t, stored.ReviewedAt)

	stored, err = q.GetQueueItem(ctx, imported.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.ReviewStatusApproved, stored.Status)
	assert.Equal(t, "tx-imported", stored.TransactionID)

	stored, err = q.GetQueueItem(ctx, recent.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.ReviewStatusApproved, stored.Status, "inside the grace period")

	// The re-pended item can be approved normally
	approved, err := q.ApproveQueueItem(ctx, lost.ID, Decision{Reviewer: "bob"})
	require.NoError(t, err)
	assert.Equal(t, "tx-lost@mail", approved.TransactionID)
	assert.Len(t, creator.Requests(), 1)

	n, err = q.RecoverStalledApprovals(ctx, StalledApprovalAge)
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestCleanupOldItems(t *testing.T) {
	q, _ := setupQueue(t)
	ctx := context.Background()
	longAgo := time.Now().Add(-40 * 24 * time.Hour)

	q.now = func() time.Time { return longAgo }
	oldPending, err := q.AddToQueue(ctx, addRequest("<p@mail>"))
	require.NoError(t, err)
	oldApproved, err := q.AddToQueue(ctx, addRequest("<a@mail>"))
	require.NoError(t, err)
	_, err = q.ApproveQueueItem(ctx, oldApproved.ID, Decision{Reviewer: "alice"})
	require.NoError(t, err)

	q.now = time.Now
	recentRejected, err := q.AddToQueue(ctx, addRequest("<r@mail>"))
	require.NoError(t, err)
	_, err = q.RejectQueueItem(ctx, recentRejected.ID, Decision{Reviewer: "alice"})
	require.NoError(t, err)

	deleted, err := q.CleanupOldItems(ctx, 30)
	require.NoError(t, err)
	assert.Equal(t, int64(1), deleted)

	stats, err := q.GetQueueStatistics(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, stats.Total)
	assert.Equal(t, 1, stats.Pending)

	_, err = q.GetQueueItem(ctx, oldPending.ID)
	assert.NoError(t, err)

	_, err = q.CleanupOldItems(ctx, -1)
	assert.Error(t, err)
}

func TestGetQueueItems_Filters(t *testing.T) {
	q, _ := setupQueue(t)
	ctx := context.Background()

	high := addRequest("<h@mail>")
	high.DuplicateResult = domain.DuplicateDetectionResult{Recommendation: domain.RecommendationReview, Confidence: 0.85, MatchLevel: 2}
	_, err := q.AddToQueue(ctx, high)
	require.NoError(t, err)
	_, err = q.AddToQueue(ctx, addRequest("<l@mail>"))
	require.NoError(t, err)

	items, err := q.GetQueueItems(ctx, domain.ReviewFilter{Priority: domain.ReviewPriorityHigh})
	require.NoError(t, err)
	require.Len(t, items, 1)
	assert.Contains(t, items[0].Reason, "Potential duplicate")

	items, err = q.GetQueueItems(ctx, domain.ReviewFilter{Status: domain.ReviewStatusPending})
	require.NoError(t, err)
	assert.Len(t, items, 2)

	_, err = q.GetQueueItems(ctx, domain.ReviewFilter{Status: "archived"})
	assert.Error(t, err)
}
