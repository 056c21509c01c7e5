package transactions

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/aristath/tradeinbox/internal/database"
	"github.com/aristath/tradeinbox/internal/domain"
	"github.com/rs/zerolog"
)

const processedColumns = `message_id, content_hash, transaction_hash, from_email, subject, status,
	transaction_id, review_item_id, processed_at`

// ProcessedEmailRepository is the processed-email ledger in ledger.db. It
// backs Level 1 and Level 2 duplicate checks.
type ProcessedEmailRepository struct {
	ledgerDB *sql.DB
	now      func() time.Time
	log      zerolog.Logger
}

// NewProcessedEmailRepository creates a new processed-email repository
func NewProcessedEmailRepository(ledgerDB *sql.DB, log zerolog.Logger) *ProcessedEmailRepository {
	return &ProcessedEmailRepository{
		ledgerDB: ledgerDB,
		now:      time.Now,
		log:      log.With().Str("repo", "processed_email").Logger(),
	}
}

// FindByMessageIDOrHash returns the record matching either key, preferring
// a message id match, or nil when neither is known.
func (r *ProcessedEmailRepository) FindByMessageIDOrHash(ctx context.Context, messageID, contentHash string) (*domain.ProcessedEmail, error) {
	row := r.ledgerDB.QueryRowContext(ctx, `
		SELECT `+processedColumns+` FROM processed_emails
		WHERE message_id = ? OR content_hash = ?
		ORDER BY (message_id = ?) DESC, processed_at ASC
		LIMIT 1
	`, messageID, contentHash, messageID)

	rec, err := scanProcessed(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	refs, err := r.references(ctx, []string{rec.MessageID})
	if err != nil {
		return nil, err
	}
	rec.References = refs[rec.MessageID]
	return rec, nil
}

// FindByReferences returns records of other emails sharing any of refs
func (r *ProcessedEmailRepository) FindByReferences(ctx context.Context, refs []string, excludeMessageID string) ([]domain.ProcessedEmail, error) {
	refs = domain.NormalizeIDSet(refs)
	if len(refs) == 0 {
		return nil, nil
	}

	args := make([]interface{}, 0, len(refs)+1)
	for _, ref := range refs {
		args = append(args, ref)
	}
	args = append(args, excludeMessageID)

	rows, err := r.ledgerDB.QueryContext(ctx, `
		SELECT `+prefixed("p.", processedColumns)+`
		FROM processed_emails p
		WHERE p.message_id IN (
			SELECT message_id FROM email_references WHERE reference IN (`+placeholders(len(refs))+`)
		) AND p.message_id != ?
		ORDER BY p.processed_at
	`, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query processed emails by reference: %w", err)
	}

	var out []domain.ProcessedEmail
	for rows.Next() {
		rec, err := scanProcessed(rows)
		if err != nil {
			rows.Close()
			return nil, err
		}
		out = append(out, *rec)
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return nil, fmt.Errorf("error iterating processed emails: %w", err)
	}
	rows.Close()

	if len(out) == 0 {
		return nil, nil
	}

	ids := make([]string, len(out))
	for i := range out {
		ids[i] = out[i].MessageID
	}
	byMessage, err := r.references(ctx, ids)
	if err != nil {
		return nil, err
	}
	for i := range out {
		out[i].References = byMessage[out[i].MessageID]
	}
	return out, nil
}

// Record upserts rec. An imported record keeps its status and transaction.
func (r *ProcessedEmailRepository) Record(ctx context.Context, rec domain.ProcessedEmail) error {
	if rec.MessageID == "" {
		return errors.New("processed email requires a message id")
	}
	if rec.ProcessedAt.IsZero() {
		rec.ProcessedAt = r.now().UTC()
	}

	err := database.WithTransactionContext(ctx, r.ledgerDB, func(tx *sql.Tx) error {
		return recordProcessed(ctx, tx, rec)
	})
	if err != nil {
		return fmt.Errorf("failed to record processed email %s: %w", rec.MessageID, err)
	}

	r.log.Debug().
		Str("message_id", rec.MessageID).
		Str("status", string(rec.Status)).
		Msg("Recorded processed email")
	return nil
}

// List returns the most recent records, newest first
func (r *ProcessedEmailRepository) List(ctx context.Context, limit int) ([]domain.ProcessedEmail, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := r.ledgerDB.QueryContext(ctx,
		"SELECT "+processedColumns+" FROM processed_emails ORDER BY processed_at DESC LIMIT ?", limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list processed emails: %w", err)
	}
	defer rows.Close()

	var out []domain.ProcessedEmail
	for rows.Next() {
		rec, err := scanProcessed(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *rec)
	}
	return out, rows.Err()
}

func (r *ProcessedEmailRepository) references(ctx context.Context, messageIDs []string) (map[string][]string, error) {
	args := make([]interface{}, len(messageIDs))
	for i, id := range messageIDs {
		args[i] = id
	}
	rows, err := r.ledgerDB.QueryContext(ctx, `
		SELECT message_id, reference FROM email_references
		WHERE message_id IN (`+placeholders(len(messageIDs))+`)
		ORDER BY reference
	`, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to load email references: %w", err)
	}
	defer rows.Close()

	out := make(map[string][]string)
	for rows.Next() {
		var id, ref string
		if err := rows.Scan(&id, &ref); err != nil {
			return nil, fmt.Errorf("failed to scan email reference: %w", err)
		}
		out[id] = append(out[id], ref)
	}
	return out, rows.Err()
}

// recordProcessed upserts rec inside tx
func recordProcessed(ctx context.Context, tx *sql.Tx, rec domain.ProcessedEmail) error {
	_, err := tx.ExecContext(ctx, `
		INSERT INTO processed_emails (`+processedColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(message_id) DO UPDATE SET
			content_hash = excluded.content_hash,
			transaction_hash = COALESCE(excluded.transaction_hash, processed_emails.transaction_hash),
			status = CASE WHEN processed_emails.status = 'imported' THEN processed_emails.status ELSE excluded.status END,
			transaction_id = COALESCE(processed_emails.transaction_id, excluded.transaction_id),
			review_item_id = COALESCE(excluded.review_item_id, processed_emails.review_item_id),
			processed_at = excluded.processed_at
	`,
		rec.MessageID, rec.ContentHash, nullString(rec.TransactionHash), nullString(rec.FromEmail),
		nullString(rec.Subject), string(rec.Status), nullString(rec.TransactionID),
		nullString(rec.ReviewItemID), rec.ProcessedAt.Unix(),
	)
	if err != nil {
		return fmt.Errorf("failed to upsert processed email: %w", err)
	}

	for _, ref := range domain.NormalizeIDSet(rec.References) {
		if _, err := tx.ExecContext(ctx,
			`INSERT OR IGNORE INTO email_references (message_id, reference) VALUES (?, ?)`,
			rec.MessageID, ref,
		); err != nil {
			return fmt.Errorf("failed to insert email reference: %w", err)
		}
	}
	return nil
}

func scanProcessed(row rowScanner) (*domain.ProcessedEmail, error) {
	var rec domain.ProcessedEmail
	var status string
	var txHash, from, subject, txID, reviewID sql.NullString
	var processedAt int64

	err := row.Scan(&rec.MessageID, &rec.ContentHash, &txHash, &from, &subject, &status,
		&txID, &reviewID, &processedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("failed to scan processed email: %w", err)
	}

	rec.Status = domain.ProcessedStatus(status)
	rec.TransactionHash = txHash.String
	rec.FromEmail = from.String
	rec.Subject = subject.String
	rec.TransactionID = txID.String
	rec.ReviewItemID = reviewID.String
	rec.ProcessedAt = time.Unix(processedAt, 0).UTC()
	return &rec, nil
}

func placeholders(n int) string {
	return strings.TrimSuffix(strings.Repeat("?,", n), ",")
}

// prefixed qualifies every column in a comma separated list
func prefixed(prefix, columns string) string {
	parts := strings.Split(columns, ",")
	for i, p := range parts {
		parts[i] = prefix + strings.TrimSpace(p)
	}
	return strings.Join(parts, ", ")
}
