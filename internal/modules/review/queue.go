package review

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/aristath/tradeinbox/internal/domain"
	"github.com/aristath/tradeinbox/internal/events"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// AddRequest is the input of AddToQueue
type AddRequest struct {
	Candidate       domain.EmailCandidate
	Identification  domain.EmailIdentification
	DuplicateResult domain.DuplicateDetectionResult
	PortfolioID     string
	Source          string
	Thresholds      domain.Thresholds
	// AutoInsertDisabled adds the "auto-insert disabled" trigger to the reason
	AutoInsertDisabled bool
	// Triggers are extra reasons supplied by the router
	Triggers []string
}

// Decision is a reviewer's approve or reject call
type Decision struct {
	Reviewer string `json:"reviewer"`
	Notes    string `json:"notes"`
}

// Edit replaces the candidate of a pending item.
// ExpectedVersion, when non-zero, must match the stored version.
type Edit struct {
	Candidate       domain.EmailCandidate `json:"candidate"`
	PortfolioID     string                `json:"portfolioId,omitempty"`
	Editor          string                `json:"editor"`
	Notes           string                `json:"notes"`
	ExpectedVersion int                   `json:"expectedVersion,omitempty"`
}

// Queue implements the review state machine:
//
//	pending --approve--> approved
//	pending --reject---> rejected
//	pending --update---> pending
//
// approved and rejected are terminal. Every transition is a compare-and-set
// on (status, version), so concurrent reviewers cannot both win.
type Queue struct {
	store           domain.ReviewStore
	creator         domain.TransactionCreator
	identifications domain.IdentificationStore
	events          *events.Bus
	now             func() time.Time
	log             zerolog.Logger
}

// NewQueue creates the review queue service. identifications and bus may be nil.
func NewQueue(store domain.ReviewStore, creator domain.TransactionCreator, identifications domain.IdentificationStore, bus *events.Bus, log zerolog.Logger) *Queue {
	return &Queue{
		store:           store,
		creator:         creator,
		identifications: identifications,
		events:          bus,
		now:             time.Now,
		log:             log.With().Str("service", "review_queue").Logger(),
	}
}

// Priority ranks a queued candidate. Only a confident "review" duplicate is
// high; weak parsing is medium.
func Priority(dup domain.DuplicateDetectionResult, c domain.EmailCandidate, th domain.Thresholds) domain.ReviewPriority {
	if dup.Recommendation == domain.RecommendationReview && dup.Confidence >= th.HighPriorityDuplicate {
		return domain.ReviewPriorityHigh
	}
	if c.Confidence < th.LowParsingConfidence {
		return domain.ReviewPriorityMedium
	}
	return domain.ReviewPriorityLow
}

// Reason summarizes why a candidate was queued
func Reason(req AddRequest, th domain.Thresholds) string {
	var parts []string
	dup := req.DuplicateResult
	if dup.Flagged() {
		parts = append(parts, fmt.Sprintf("Potential duplicate (level %d, confidence %.2f)", dup.MatchLevel, dup.Confidence))
	}
	if req.Candidate.Confidence < th.LowParsingConfidence {
		parts = append(parts, fmt.Sprintf("Low parsing confidence (%.2f)", req.Candidate.Confidence))
	}
	if req.AutoInsertDisabled {
		source := req.Source
		if source == "" {
			source = "unknown"
		}
		parts = append(parts, "Auto-insert disabled for source "+source)
	}
	parts = append(parts, req.Triggers...)

	if len(parts) == 0 {
		return "Manual review requested"
	}
	return strings.Join(parts, "; ")
}

// AddToQueue creates a pending item. Storage failures are QueueWriteErrors.
func (q *Queue) AddToQueue(ctx context.Context, req AddRequest) (*domain.ReviewQueueItem, error) {
	th := req.Thresholds
	if th.Version == 0 {
		th = domain.DefaultThresholds()
	}
	if req.PortfolioID == "" {
		return nil, domain.NewPipelineError(domain.KindQueueWrite, "", "portfolio is required", nil)
	}

	now := q.now().UTC().Truncate(time.Second)
	item := &domain.ReviewQueueItem{
		ID:              uuid.New().String(),
		PortfolioID:     req.PortfolioID,
		Status:          domain.ReviewStatusPending,
		Priority:        Priority(req.DuplicateResult, req.Candidate, th),
		Reason:          Reason(req, th),
		Candidate:       req.Candidate.Clone(),
		Identification:  req.Identification,
		DuplicateResult: req.DuplicateResult,
		Version:         1,
		CreatedAt:       now,
		UpdatedAt:       now,
	}

	if err := q.store.CreateReviewQueueItem(ctx, item); err != nil {
		return nil, domain.NewPipelineError(domain.KindQueueWrite, "", "failed to queue candidate for review", err)
	}

	q.emit(events.ReviewItemQueued, item, "")
	return item, nil
}

// GetQueueItem returns one item
func (q *Queue) GetQueueItem(ctx context.Context, id string) (*domain.ReviewQueueItem, error) {
	return q.store.GetReviewQueueItem(ctx, id)
}

// GetQueueItems returns items matching the filter
func (q *Queue) GetQueueItems(ctx context.Context, filter domain.ReviewFilter) ([]domain.ReviewQueueItem, error) {
	if filter.Status != "" && !filter.Status.Valid() {
		return nil, domain.NewPipelineError(domain.KindValidation, "", "unknown status "+string(filter.Status), nil)
	}
	if filter.Priority != "" && !filter.Priority.Valid() {
		return nil, domain.NewPipelineError(domain.KindValidation, "", "unknown priority "+string(filter.Priority), nil)
	}
	return q.store.ListReviewQueueItems(ctx, filter)
}

// GetQueueStatistics counts items by status and priority
func (q *Queue) GetQueueStatistics(ctx context.Context) (domain.QueueStatistics, error) {
	return q.store.CountReviewQueueItems(ctx)
}

// ApproveQueueItem moves a pending item to approved and creates its
// transaction from the current candidate. The item is claimed first; if
// creation fails the claim is released and the item is pending again.
func (q *Queue) ApproveQueueItem(ctx context.Context, id string, d Decision) (*domain.ReviewQueueItem, error) {
	item, err := q.pending(ctx, id)
	if err != nil {
		return nil, err
	}
	original := *item

	now := q.now().UTC().Truncate(time.Second)
	item.Status = domain.ReviewStatusApproved
	item.ReviewedBy = d.Reviewer
	item.ReviewNotes = d.Notes
	item.ReviewedAt = &now
	item.UpdatedAt = now
	if err := q.store.UpdateReviewQueueItem(ctx, item, domain.ReviewStatusPending, original.Version); err != nil {
		return nil, err
	}

	// A crash from here until the transaction id is stored leaves the item
	// approved without a transaction; RecoverStalledApprovals repairs it.
	tx, err := q.creator.CreateFromCandidate(ctx, domain.CreateTransactionRequest{
		PortfolioID:    item.PortfolioID,
		Candidate:      item.Candidate,
		Identification: item.Identification,
		Notes:          d.Notes,
		ReviewItemID:   item.ID,
	})
	if err != nil {
		q.release(ctx, item, original)
		return nil, domain.AsPipelineError(err, domain.KindTransactionCreation, "failed to create transaction for review item")
	}

	item.TransactionID = tx.ID
	item.UpdatedAt = q.now().UTC().Truncate(time.Second)
	if err := q.store.UpdateReviewQueueItem(ctx, item, domain.ReviewStatusApproved, item.Version); err != nil {
		// The transaction exists and the ledger links it to this item
		q.log.Error().
			Err(err).
			Str("item_id", item.ID).
			Str("transaction_id", tx.ID).
			Msg("Failed to record transaction on approved review item")
	}

	q.log.Info().
		Str("item_id", item.ID).
		Str("transaction_id", tx.ID).
		Str("reviewer", d.Reviewer).
		Msg("Review item approved")
	q.emit(events.ReviewItemApproved, item, d.Reviewer)
	return item, nil
}

// release puts a claimed item back to pending after a failed approval
func (q *Queue) release(ctx context.Context, claimed *domain.ReviewQueueItem, original domain.ReviewQueueItem) {
	restored := original
	restored.UpdatedAt = q.now().UTC().Truncate(time.Second)
	if err := q.store.UpdateReviewQueueItem(ctx, &restored, domain.ReviewStatusApproved, claimed.Version); err != nil {
		q.log.Error().
			Err(err).
			Str("item_id", claimed.ID).
			Msg("Failed to release review item after transaction failure")
	}
}

// RejectQueueItem moves a pending item to rejected. No transaction is created.
func (q *Queue) RejectQueueItem(ctx context.Context, id string, d Decision) (*domain.ReviewQueueItem, error) {
	item, err := q.pending(ctx, id)
	if err != nil {
		return nil, err
	}

	now := q.now().UTC().Truncate(time.Second)
	version := item.Version
	item.Status = domain.ReviewStatusRejected
	item.ReviewedBy = d.Reviewer
	item.ReviewNotes = d.Notes
	item.ReviewedAt = &now
	item.UpdatedAt = now
	if err := q.store.UpdateReviewQueueItem(ctx, item, domain.ReviewStatusPending, version); err != nil {
		return nil, err
	}

	if q.identifications != nil {
		rec := domain.NewProcessedEmail(item.Identification, item.Candidate.ExternalIDs(), domain.ProcessedStatusRejected)
		rec.ReviewItemID = item.ID
		if err := q.identifications.Record(ctx, rec); err != nil {
			q.log.Warn().Err(err).Str("item_id", item.ID).Msg("Failed to record rejected email")
		}
	}

	q.log.Info().
		Str("item_id", item.ID).
		Str("reviewer", d.Reviewer).
		Msg("Review item rejected")
	q.emit(events.ReviewItemRejected, item, d.Reviewer)
	return item, nil
}

// UpdateQueueItem replaces the candidate of a pending item. The item stays
// pending; approval later uses the latest candidate.
func (q *Queue) UpdateQueueItem(ctx context.Context, id string, e Edit) (*domain.ReviewQueueItem, error) {
	if err := e.Candidate.Validate(); err != nil {
		return nil, err
	}

	item, err := q.pending(ctx, id)
	if err != nil {
		return nil, err
	}
	if e.ExpectedVersion != 0 && e.ExpectedVersion != item.Version {
		return nil, &domain.ConflictError{ItemID: id, CurrentStatus: item.Status}
	}

	version := item.Version
	item.Candidate = e.Candidate.Clone()
	if e.PortfolioID != "" {
		item.PortfolioID = e.PortfolioID
	}
	item.LastModifiedBy = e.Editor
	if e.Notes != "" {
		item.ReviewNotes = e.Notes
	}
	item.UpdatedAt = q.now().UTC().Truncate(time.Second)
	if err := q.store.UpdateReviewQueueItem(ctx, item, domain.ReviewStatusPending, version); err != nil {
		return nil, err
	}

	q.log.Info().
		Str("item_id", item.ID).
		Str("editor", e.Editor).
		Int("version", item.Version).
		Msg("Review item updated")
	q.emit(events.ReviewItemUpdated, item, e.Editor)
	return item, nil
}

// CleanupOldItems deletes terminal items reviewed more than days ago
func (q *Queue) CleanupOldItems(ctx context.Context, days int) (int64, error) {
	if days < 0 {
		return 0, domain.NewPipelineError(domain.KindValidation, "", "days must not be negative", nil)
	}

	cutoff := q.now().UTC().Add(-time.Duration(days) * 24 * time.Hour)
	deleted, err := q.store.DeleteTerminalBefore(ctx, cutoff)
	if err != nil {
		return 0, err
	}

	if deleted > 0 {
		q.log.Info().Int64("deleted", deleted).Int("days", days).Msg("Old review items cleaned up")
		q.events.EmitTyped("review", &events.ReviewCleanupData{Deleted: deleted, RetentionDays: days})
	}
	return deleted, nil
}

// StalledApprovalAge is how long an approved item may lack its transaction
// before RecoverStalledApprovals looks at it
const StalledApprovalAge = 15 * time.Minute

// RecoverStalledApprovals repairs items left approved without a transaction
// id, which happens when the process dies between the approval claim and
// transaction creation. An item whose email the ledger already imported gets
// that transaction id; any other item goes back to pending.
func (q *Queue) RecoverStalledApprovals(ctx context.Context, olderThan time.Duration) (int, error) {
	items, err := q.store.ListReviewQueueItems(ctx, domain.ReviewFilter{Status: domain.ReviewStatusApproved})
	if err != nil {
		return 0, err
	}

	cutoff := q.now().UTC().Add(-olderThan)
	recovered := 0
	for i := range items {
		item := &items[i]
		if item.TransactionID != "" || item.UpdatedAt.After(cutoff) {
			continue
		}

		txID, err := q.importedTransaction(ctx, item)
		if err != nil {
			return recovered, err
		}

		expectedVersion := item.Version
		item.UpdatedAt = q.now().UTC().Truncate(time.Second)
		if txID != "" {
			item.TransactionID = txID
		} else {
			item.Status = domain.ReviewStatusPending
			item.ReviewedBy = ""
			item.ReviewedAt = nil
		}
		if err := q.store.UpdateReviewQueueItem(ctx, item, domain.ReviewStatusApproved, expectedVersion); err != nil {
			if IsConflict(err) {
				continue
			}
			return recovered, err
		}

		q.log.Warn().
			Str("item_id", item.ID).
			Str("status", string(item.Status)).
			Str("transaction_id", txID).
			Msg("Recovered stalled review approval")
		recovered++
	}
	return recovered, nil
}

// importedTransaction returns the ledger transaction recorded for the item's
// email, or "" when there is none
func (q *Queue) importedTransaction(ctx context.Context, item *domain.ReviewQueueItem) (string, error) {
	if q.identifications == nil {
		return "", nil
	}
	rec, err := q.identifications.FindByMessageIDOrHash(ctx, item.Identification.MessageID, item.Identification.ContentHash)
	if err != nil {
		return "", err
	}
	if rec == nil || rec.Status != domain.ProcessedStatusImported {
		return "", nil
	}
	return rec.TransactionID, nil
}

// pending loads an item and fails with a ConflictError unless it is pending
func (q *Queue) pending(ctx context.Context, id string) (*domain.ReviewQueueItem, error) {
	item, err := q.store.GetReviewQueueItem(ctx, id)
	if err != nil {
		return nil, err
	}
	if item.Status != domain.ReviewStatusPending {
		return nil, &domain.ConflictError{ItemID: id, CurrentStatus: item.Status}
	}
	return item, nil
}

func (q *Queue) emit(t events.EventType, item *domain.ReviewQueueItem, actor string) {
	q.events.EmitTyped("review", &events.ReviewItemData{
		Type:     t,
		ItemID:   item.ID,
		Status:   string(item.Status),
		Priority: string(item.Priority),
		Symbol:   item.Candidate.Symbol,
		Actor:    actor,
		Reason:   item.Reason,
		Version:  item.Version,
	})
}

// IsConflict reports whether err is a review state conflict
func IsConflict(err error) bool {
	return errors.Is(err, domain.ErrConflict)
}
