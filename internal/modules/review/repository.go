// Package review holds candidates that were not auto-inserted until a
// reviewer approves, rejects or edits them.
package review

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/aristath/tradeinbox/internal/domain"
	"github.com/rs/zerolog"
	"github.com/vmihailenco/msgpack/v5"
)

// itemColumns is the column list used by every review_queue SELECT.
// Order must match scanItem.
const itemColumns = `id, portfolio_id, status, priority, reason, message_id, candidate, identification,
	duplicate_result, reviewed_by, review_notes, last_modified_by, transaction_id, version,
	created_at, updated_at, reviewed_at`

// Repository stores review queue items in inbox.db.
// Candidate, identification and duplicate result are msgpack blobs.
type Repository struct {
	inboxDB *sql.DB
	log     zerolog.Logger
}

// NewRepository creates a new review queue repository
func NewRepository(inboxDB *sql.DB, log zerolog.Logger) *Repository {
	return &Repository{
		inboxDB: inboxDB,
		log:     log.With().Str("repo", "review_queue").Logger(),
	}
}

// CreateReviewQueueItem inserts a new item. ID, timestamps and version are
// expected to be set by the caller.
func (r *Repository) CreateReviewQueueItem(ctx context.Context, item *domain.ReviewQueueItem) error {
	blobs, err := encodeBlobs(item)
	if err != nil {
		return err
	}

	_, err = r.inboxDB.ExecContext(ctx, `
		INSERT INTO review_queue (`+itemColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		item.ID,
		item.PortfolioID,
		string(item.Status),
		string(item.Priority),
		item.Reason,
		item.Identification.MessageID,
		blobs.candidate,
		blobs.identification,
		blobs.duplicate,
		nullString(item.ReviewedBy),
		nullString(item.ReviewNotes),
		nullString(item.LastModifiedBy),
		nullString(item.TransactionID),
		item.Version,
		item.CreatedAt.Unix(),
		item.UpdatedAt.Unix(),
		nullTime(item.ReviewedAt),
	)
	if err != nil {
		return fmt.Errorf("failed to insert review item: %w", err)
	}

	r.log.Info().
		Str("item_id", item.ID).
		Str("priority", string(item.Priority)).
		Str("symbol", item.Candidate.Symbol).
		Msg("Review item created")
	return nil
}

// GetReviewQueueItem returns the item or an error wrapping ErrNotFound
func (r *Repository) GetReviewQueueItem(ctx context.Context, id string) (*domain.ReviewQueueItem, error) {
	row := r.inboxDB.QueryRowContext(ctx, "SELECT "+itemColumns+" FROM review_queue WHERE id = ?", id)
	item, err := scanItem(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("review item %s: %w", id, domain.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get review item: %w", err)
	}
	return item, nil
}

// UpdateReviewQueueItem writes every mutable field of item if the stored row
// still has expectedStatus and expectedVersion. On success the version is
// bumped and item.Version updated. A lost race returns a *ConflictError.
func (r *Repository) UpdateReviewQueueItem(ctx context.Context, item *domain.ReviewQueueItem, expectedStatus domain.ReviewStatus, expectedVersion int) error {
	blobs, err := encodeBlobs(item)
	if err != nil {
		return err
	}

	res, err := r.inboxDB.ExecContext(ctx, `
		UPDATE review_queue SET
			portfolio_id = ?, status = ?, priority = ?, reason = ?,
			candidate = ?, identification = ?, duplicate_result = ?,
			reviewed_by = ?, review_notes = ?, last_modified_by = ?, transaction_id = ?,
			version = version + 1, updated_at = ?, reviewed_at = ?
		WHERE id = ? AND status = ? AND version = ?
	`,
		item.PortfolioID,
		string(item.Status),
		string(item.Priority),
		item.Reason,
		blobs.candidate,
		blobs.identification,
		blobs.duplicate,
		nullString(item.ReviewedBy),
		nullString(item.ReviewNotes),
		nullString(item.LastModifiedBy),
		nullString(item.TransactionID),
		item.UpdatedAt.Unix(),
		nullTime(item.ReviewedAt),
		item.ID,
		string(expectedStatus),
		expectedVersion,
	)
	if err != nil {
		return fmt.Errorf("failed to update review item: %w", err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if affected == 0 {
		current, err := r.GetReviewQueueItem(ctx, item.ID)
		if err != nil {
			return err
		}
		return &domain.ConflictError{ItemID: item.ID, CurrentStatus: current.Status}
	}

	item.Version = expectedVersion + 1
	return nil
}

// ListReviewQueueItems returns items matching filter, highest priority
// first, oldest first within a priority
func (r *Repository) ListReviewQueueItems(ctx context.Context, filter domain.ReviewFilter) ([]domain.ReviewQueueItem, error) {
	var where []string
	var args []interface{}
	if filter.Status != "" {
		where = append(where, "status = ?")
		args = append(args, string(filter.Status))
	}
	if filter.Priority != "" {
		where = append(where, "priority = ?")
		args = append(args, string(filter.Priority))
	}

	query := "SELECT " + itemColumns + " FROM review_queue"
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += ` ORDER BY CASE priority WHEN 'high' THEN 0 WHEN 'medium' THEN 1 ELSE 2 END, created_at ASC, id ASC`
	if filter.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, filter.Limit)
	}

	rows, err := r.inboxDB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list review items: %w", err)
	}
	defer rows.Close()

	items := make([]domain.ReviewQueueItem, 0)
	for rows.Next() {
		item, err := scanItem(rows)
		if err != nil {
			r.log.Warn().Err(err).Msg("Failed to scan review item row")
			continue
		}
		items = append(items, *item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating review items: %w", err)
	}
	return items, nil
}

// CountReviewQueueItems counts items by status and by priority
func (r *Repository) CountReviewQueueItems(ctx context.Context) (domain.QueueStatistics, error) {
	stats := domain.QueueStatistics{
		ByStatus:   map[domain.ReviewStatus]int{},
		ByPriority: map[domain.ReviewPriority]int{},
	}

	rows, err := r.inboxDB.QueryContext(ctx, "SELECT status, priority, COUNT(*) FROM review_queue GROUP BY status, priority")
	if err != nil {
		return stats, fmt.Errorf("failed to count review items: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var status, priority string
		var n int
		if err := rows.Scan(&status, &priority, &n); err != nil {
			return stats, fmt.Errorf("failed to scan review count: %w", err)
		}
		stats.ByStatus[domain.ReviewStatus(status)] += n
		stats.ByPriority[domain.ReviewPriority(priority)] += n
		stats.Total += n
	}
	if err := rows.Err(); err != nil {
		return stats, fmt.Errorf("error iterating review counts: %w", err)
	}

	stats.Pending = stats.ByStatus[domain.ReviewStatusPending]
	return stats, nil
}

// DeleteTerminalBefore removes approved and rejected items reviewed before
// cutoff. Pending items are never touched.
func (r *Repository) DeleteTerminalBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := r.inboxDB.ExecContext(ctx, `
		DELETE FROM review_queue
		WHERE status IN (?, ?) AND COALESCE(reviewed_at, updated_at) < ?
	`, string(domain.ReviewStatusApproved), string(domain.ReviewStatusRejected), cutoff.Unix())
	if err != nil {
		return 0, fmt.Errorf("failed to delete old review items: %w", err)
	}
	return res.RowsAffected()
}

type itemBlobs struct {
	candidate      []byte
	identification []byte
	duplicate      []byte
}

func encodeBlobs(item *domain.ReviewQueueItem) (itemBlobs, error) {
	var b itemBlobs
	var err error
	if b.candidate, err = msgpack.Marshal(&item.Candidate); err != nil {
		return b, fmt.Errorf("failed to encode candidate: %w", err)
	}
	if b.identification, err = msgpack.Marshal(&item.Identification); err != nil {
		return b, fmt.Errorf("failed to encode identification: %w", err)
	}
	if b.duplicate, err = msgpack.Marshal(&item.DuplicateResult); err != nil {
		return b, fmt.Errorf("failed to encode duplicate result: %w", err)
	}
	return b, nil
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanItem(row rowScanner) (*domain.ReviewQueueItem, error) {
	var item domain.ReviewQueueItem
	var status, priority, messageID string
	var candidate, identification, duplicate []byte
	var reviewedBy, reviewNotes, lastModifiedBy, transactionID sql.NullString
	var createdAt, updatedAt int64
	var reviewedAt sql.NullInt64

	err := row.Scan(
		&item.ID,
		&item.PortfolioID,
		&status,
		&priority,
		&item.Reason,
		&messageID,
		&candidate,
		&identification,
		&duplicate,
		&reviewedBy,
		&reviewNotes,
		&lastModifiedBy,
		&transactionID,
		&item.Version,
		&createdAt,
		&updatedAt,
		&reviewedAt,
	)
	if err != nil {
		return nil, err
	}

	if err := msgpack.Unmarshal(candidate, &item.Candidate); err != nil {
		return nil, fmt.Errorf("failed to decode candidate of %s: %w", item.ID, err)
	}
	if err := msgpack.Unmarshal(identification, &item.Identification); err != nil {
		return nil, fmt.Errorf("failed to decode identification of %s: %w", item.ID, err)
	}
	if err := msgpack.Unmarshal(duplicate, &item.DuplicateResult); err != nil {
		return nil, fmt.Errorf("failed to decode duplicate result of %s: %w", item.ID, err)
	}

	item.Status = domain.ReviewStatus(status)
	item.Priority = domain.ReviewPriority(priority)
	item.ReviewedBy = reviewedBy.String
	item.ReviewNotes = reviewNotes.String
	item.LastModifiedBy = lastModifiedBy.String
	item.TransactionID = transactionID.String
	item.CreatedAt = time.Unix(createdAt, 0).UTC()
	item.UpdatedAt = time.Unix(updatedAt, 0).UTC()
	if reviewedAt.Valid {
		t := time.Unix(reviewedAt.Int64, 0).UTC()
		item.ReviewedAt = &t
	}
	return &item, nil
}

func nullString(s string) interface{} {
	if s == "" {
		return nil
	}
	return s
}

func nullTime(t *time.Time) interface{} {
	if t == nil {
		return nil
	}
	return t.Unix()
}
