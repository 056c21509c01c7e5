// Package transactions owns the ledger: assets, transactions and the
// processed-email records that make transaction creation idempotent.
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
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
)

// transactionColumns is the column list used by every transaction SELECT.
// Order must match scanTransaction.
const transactionColumns = `id, portfolio_id, asset_id, symbol, type, quantity, price, total_amount, fees,
	date, currency, notes, external_id, source_message_id, created_at`

// Repository handles transaction and asset rows in ledger.db
type Repository struct {
	ledgerDB *sql.DB
	now      func() time.Time
	log      zerolog.Logger
}

// NewRepository creates a new transaction repository
func NewRepository(ledgerDB *sql.DB, log zerolog.Logger) *Repository {
	return &Repository{
		ledgerDB: ledgerDB,
		now:      time.Now,
		log:      log.With().Str("repo", "transaction").Logger(),
	}
}

// CreateFromEmail inserts the transaction for one email. The processed-email
// check, the insert and the processed-email record share one SQL
// transaction, so a message id or content hash can never produce two
// transactions. A repeat returns an error wrapping ErrAlreadyImported.
func (r *Repository) CreateFromEmail(ctx context.Context, req domain.CreateTransactionRequest) (*domain.Transaction, error) {
	c := req.Candidate
	ident := req.Identification
	now := r.now().UTC().Truncate(time.Second)

	t := &domain.Transaction{
		ID:              uuid.New().String(),
		PortfolioID:     req.PortfolioID,
		Symbol:          strings.ToUpper(strings.TrimSpace(c.Symbol)),
		Type:            c.TransactionType,
		Quantity:        c.Quantity,
		Price:           c.Price,
		TotalAmount:     c.TotalAmount,
		Fees:            c.Fees,
		Date:            c.TransactionDate.UTC().Truncate(time.Second),
		Currency:        strings.ToUpper(c.Currency),
		Notes:           req.Notes,
		SourceMessageID: ident.MessageID,
		CreatedAt:       now,
	}
	if len(c.OrderIDs) > 0 {
		t.ExternalID = c.OrderIDs[0]
	} else if len(c.ConfirmationNumbers) > 0 {
		t.ExternalID = c.ConfirmationNumbers[0]
	}

	err := database.WithTransactionContext(ctx, r.ledgerDB, func(tx *sql.Tx) error {
		var existing string
		err := tx.QueryRowContext(ctx, `
			SELECT transaction_id FROM processed_emails
			WHERE (message_id = ? OR content_hash = ?) AND transaction_id IS NOT NULL
			LIMIT 1
		`, ident.MessageID, ident.ContentHash).Scan(&existing)
		switch {
		case err == nil:
			return fmt.Errorf("%w: message %s is transaction %s", domain.ErrAlreadyImported, ident.MessageID, existing)
		case !errors.Is(err, sql.ErrNoRows):
			return fmt.Errorf("failed to check processed emails: %w", err)
		}

		asset, err := getOrCreateAsset(ctx, tx, t.Symbol, assetTypeOf(c), now)
		if err != nil {
			return err
		}
		t.AssetID = asset.ID

		_, err = tx.ExecContext(ctx, `
			INSERT INTO transactions (`+transactionColumns+`)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		`,
			t.ID, t.PortfolioID, t.AssetID, t.Symbol, string(t.Type),
			t.Quantity.String(), t.Price.String(), t.TotalAmount.String(), t.Fees.String(),
			t.Date.Unix(), t.Currency, nullString(t.Notes), nullString(t.ExternalID),
			nullString(t.SourceMessageID), now.Unix(),
		)
		if err != nil {
			return fmt.Errorf("failed to insert transaction: %w", err)
		}

		rec := domain.NewProcessedEmail(ident, c.ExternalIDs(), domain.ProcessedStatusImported)
		rec.TransactionID = t.ID
		rec.ReviewItemID = req.ReviewItemID
		rec.ProcessedAt = now
		return recordProcessed(ctx, tx, rec)
	})
	if err != nil {
		if errors.Is(err, domain.ErrAlreadyImported) {
			return nil, err
		}
		return nil, fmt.Errorf("failed to create transaction: %w", err)
	}

	r.log.Info().
		Str("transaction_id", t.ID).
		Str("symbol", t.Symbol).
		Str("type", string(t.Type)).
		Str("quantity", t.Quantity.String()).
		Str("message_id", ident.MessageID).
		Msg("Transaction created")

	return t, nil
}

// GetOrCreateAsset returns the asset for symbol, creating it when missing
func (r *Repository) GetOrCreateAsset(ctx context.Context, symbol, assetType string) (*domain.Asset, error) {
	var asset *domain.Asset
	err := database.WithTransactionContext(ctx, r.ledgerDB, func(tx *sql.Tx) error {
		var err error
		asset, err = getOrCreateAsset(ctx, tx, strings.ToUpper(strings.TrimSpace(symbol)), assetType, r.now().UTC())
		return err
	})
	return asset, err
}

func getOrCreateAsset(ctx context.Context, tx *sql.Tx, symbol, assetType string, now time.Time) (*domain.Asset, error) {
	if symbol == "" {
		return nil, errors.New("asset symbol is required")
	}
	if assetType == "" {
		assetType = "stock"
	}

	_, err := tx.ExecContext(ctx, `
		INSERT INTO assets (id, symbol, asset_type, created_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(symbol) DO NOTHING
	`, uuid.New().String(), symbol, assetType, now.Unix())
	if err != nil {
		return nil, fmt.Errorf("failed to create asset %s: %w", symbol, err)
	}

	var a domain.Asset
	var createdAt int64
	err = tx.QueryRowContext(ctx, `SELECT id, symbol, asset_type, created_at FROM assets WHERE symbol = ?`, symbol).
		Scan(&a.ID, &a.Symbol, &a.AssetType, &createdAt)
	if err != nil {
		return nil, fmt.Errorf("failed to load asset %s: %w", symbol, err)
	}
	a.CreatedAt = time.Unix(createdAt, 0).UTC()
	return &a, nil
}

func assetTypeOf(c domain.EmailCandidate) string {
	if c.AssetType != "" {
		return c.AssetType
	}
	return "stock"
}

// GetTransaction returns one transaction or ErrNotFound
func (r *Repository) GetTransaction(ctx context.Context, id string) (*domain.Transaction, error) {
	row := r.ledgerDB.QueryRowContext(ctx, "SELECT "+transactionColumns+" FROM transactions WHERE id = ?", id)
	return scanTransaction(row)
}

// ListTransactions returns transactions dated within [from, to], newest
// first. An empty portfolioID matches every portfolio.
func (r *Repository) ListTransactions(ctx context.Context, portfolioID string, from, to time.Time) ([]domain.Transaction, error) {
	query := "SELECT " + transactionColumns + " FROM transactions WHERE date >= ? AND date <= ?"
	args := []interface{}{from.Unix(), to.Unix()}
	if portfolioID != "" {
		query += " AND portfolio_id = ?"
		args = append(args, portfolioID)
	}
	query += " ORDER BY date DESC"

	return r.query(ctx, query, args...)
}

// FindByExternalIDs returns transactions whose external id is in ids
func (r *Repository) FindByExternalIDs(ctx context.Context, ids []string) ([]domain.Transaction, error) {
	ids = domain.NormalizeIDSet(ids)
	if len(ids) == 0 {
		return nil, nil
	}

	args := make([]interface{}, len(ids))
	for i, id := range ids {
		args[i] = id
	}
	return r.query(ctx, "SELECT "+transactionColumns+" FROM transactions WHERE external_id IN ("+placeholders(len(ids))+")", args...)
}

func (r *Repository) query(ctx context.Context, query string, args ...interface{}) ([]domain.Transaction, error) {
	rows, err := r.ledgerDB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query transactions: %w", err)
	}
	defer rows.Close()

	var out []domain.Transaction
	for rows.Next() {
		t, err := scanTransaction(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating transactions: %w", err)
	}
	return out, nil
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanTransaction(row rowScanner) (*domain.Transaction, error) {
	var t domain.Transaction
	var txType, quantity, price, total, fees string
	var date, createdAt int64
	var notes, externalID, sourceMessageID sql.NullString

	err := row.Scan(&t.ID, &t.PortfolioID, &t.AssetID, &t.Symbol, &txType, &quantity, &price, &total, &fees,
		&date, &t.Currency, &notes, &externalID, &sourceMessageID, &createdAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.ErrNotFound
		}
		return nil, fmt.Errorf("failed to scan transaction: %w", err)
	}

	t.Type = domain.TransactionType(txType)
	for _, f := range []struct {
		dst *decimal.Decimal
		src string
	}{{&t.Quantity, quantity}, {&t.Price, price}, {&t.TotalAmount, total}, {&t.Fees, fees}} {
		d, err := decimal.NewFromString(f.src)
		if err != nil {
			return nil, fmt.Errorf("invalid decimal %q in transaction %s: %w", f.src, t.ID, err)
		}
		*f.dst = d
	}
	t.Date = time.Unix(date, 0).UTC()
	t.CreatedAt = time.Unix(createdAt, 0).UTC()
	t.Notes = notes.String
	t.ExternalID = externalID.String
	t.SourceMessageID = sourceMessageID.String
	return &t, nil
}

func nullString(s string) interface{} {
	if s == "" {
		return nil
	}
	return s
}
