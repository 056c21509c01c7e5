// Package portfolios maps broker account labels onto ledger portfolios.
package portfolios

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/aristath/tradeinbox/internal/domain"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// Repository handles portfolio rows in ledger.db
type Repository struct {
	db  *sql.DB
	now func() time.Time
	log zerolog.Logger
}

// NewRepository creates a new portfolio repository
func NewRepository(db *sql.DB, log zerolog.Logger) *Repository {
	return &Repository{
		db:  db,
		now: time.Now,
		log: log.With().Str("repository", "portfolio").Logger(),
	}
}

// ListPortfolios returns every portfolio ordered by name
func (r *Repository) ListPortfolios(ctx context.Context) ([]domain.Portfolio, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT id, name, currency, created_at FROM portfolios ORDER BY name`)
	if err != nil {
		return nil, fmt.Errorf("failed to list portfolios: %w", err)
	}
	defer rows.Close()

	var portfolios []domain.Portfolio
	for rows.Next() {
		p, err := scanPortfolio(rows)
		if err != nil {
			return nil, err
		}
		portfolios = append(portfolios, *p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating portfolios: %w", err)
	}
	return portfolios, nil
}

// FindPortfolio returns the portfolio with exactly this name, or nil
func (r *Repository) FindPortfolio(ctx context.Context, name string) (*domain.Portfolio, error) {
	row := r.db.QueryRowContext(ctx, `SELECT id, name, currency, created_at FROM portfolios WHERE name = ?`, name)
	p, err := scanPortfolio(row)
	if errors.Is(err, domain.ErrNotFound) {
		return nil, nil
	}
	return p, err
}

// GetPortfolio returns the portfolio with id, or ErrNotFound
func (r *Repository) GetPortfolio(ctx context.Context, id string) (*domain.Portfolio, error) {
	row := r.db.QueryRowContext(ctx, `SELECT id, name, currency, created_at FROM portfolios WHERE id = ?`, id)
	return scanPortfolio(row)
}

// CreatePortfolio inserts a portfolio. When another writer created the same
// name first, that portfolio is returned instead.
func (r *Repository) CreatePortfolio(ctx context.Context, name, currency string) (*domain.Portfolio, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, errors.New("portfolio name is required")
	}

	p := &domain.Portfolio{
		ID:        uuid.New().String(),
		Name:      name,
		Currency:  strings.ToUpper(currency),
		CreatedAt: r.now().UTC().Truncate(time.Second),
	}

	_, err := r.db.ExecContext(ctx, `
		INSERT INTO portfolios (id, name, currency, created_at)
		VALUES (?, ?, ?, ?)
	`, p.ID, p.Name, p.Currency, p.CreatedAt.Unix())
	if err != nil {
		if existing, findErr := r.FindPortfolio(ctx, name); findErr == nil && existing != nil {
			return existing, nil
		}
		return nil, fmt.Errorf("failed to create portfolio %s: %w", name, err)
	}

	r.log.Info().
		Str("portfolio_id", p.ID).
		Str("name", p.Name).
		Str("currency", p.Currency).
		Msg("Created portfolio")

	return p, nil
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanPortfolio(row rowScanner) (*domain.Portfolio, error) {
	var p domain.Portfolio
	var createdAt int64
	if err := row.Scan(&p.ID, &p.Name, &p.Currency, &createdAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.ErrNotFound
		}
		return nil, fmt.Errorf("failed to scan portfolio: %w", err)
	}
	p.CreatedAt = time.Unix(createdAt, 0).UTC()
	return &p, nil
}
