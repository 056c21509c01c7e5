package transactions

import (
	"context"
	"errors"
	"time"

	"github.com/aristath/tradeinbox/internal/domain"
	"github.com/aristath/tradeinbox/internal/events"
	"github.com/rs/zerolog"
)

// Service creates ledger transactions from accepted candidates
type Service struct {
	repo   *Repository
	events *events.Bus
	log    zerolog.Logger
}

// NewService creates a transaction service. bus may be nil.
func NewService(repo *Repository, bus *events.Bus, log zerolog.Logger) *Service {
	return &Service{
		repo:   repo,
		events: bus,
		log:    log.With().Str("service", "transactions").Logger(),
	}
}

// CreateFromCandidate validates the candidate and writes it behind the
// final duplicate gate
func (s *Service) CreateFromCandidate(ctx context.Context, req domain.CreateTransactionRequest) (*domain.Transaction, error) {
	if req.PortfolioID == "" {
		return nil, domain.NewPipelineError(domain.KindValidation, "", "portfolio is required", nil)
	}
	if req.Identification.MessageID == "" {
		return nil, domain.NewPipelineError(domain.KindValidation, "", "message id is required", nil)
	}
	if err := req.Candidate.Validate(); err != nil {
		return nil, err
	}

	t, err := s.repo.CreateFromEmail(ctx, req)
	if err != nil {
		if errors.Is(err, domain.ErrAlreadyImported) {
			s.log.Info().
				Str("message_id", req.Identification.MessageID).
				Msg("Email already imported, transaction not created")
		}
		return nil, err
	}

	s.events.EmitTyped("transactions", &events.TransactionCreatedData{
		TransactionID: t.ID,
		PortfolioID:   t.PortfolioID,
		Symbol:        t.Symbol,
		Type:          string(t.Type),
		Quantity:      t.Quantity.String(),
		Price:         t.Price.String(),
		MessageID:     t.SourceMessageID,
	})
	return t, nil
}

// Get returns one transaction
func (s *Service) Get(ctx context.Context, id string) (*domain.Transaction, error) {
	return s.repo.GetTransaction(ctx, id)
}

// List returns transactions dated within [from, to]. A zero to means now.
func (s *Service) List(ctx context.Context, portfolioID string, from, to time.Time) ([]domain.Transaction, error) {
	if to.IsZero() {
		to = time.Now()
	}
	if from.After(to) {
		return nil, domain.NewPipelineError(domain.KindValidation, "", "from must not be after to", nil)
	}
	return s.repo.ListTransactions(ctx, portfolioID, from, to)
}
