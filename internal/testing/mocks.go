package testing

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/aristath/tradeinbox/internal/domain"
)

// MockSymbolLookup is a deterministic SymbolLookup for tests
type MockSymbolLookup struct {
	mu      sync.RWMutex
	answers map[string]*domain.SymbolLookupResponse
	err     error
	delay   time.Duration
	calls   []domain.SymbolLookupRequest
}

// NewMockSymbolLookup creates a lookup that knows no symbols
func NewMockSymbolLookup() *MockSymbolLookup {
	return &MockSymbolLookup{answers: make(map[string]*domain.SymbolLookupResponse)}
}

// SetAnswer sets the response returned for a symbol candidate
func (m *MockSymbolLookup) SetAnswer(candidate string, resp *domain.SymbolLookupResponse) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.answers[strings.ToUpper(candidate)] = resp
}

// SetError sets the error to return
func (m *MockSymbolLookup) SetError(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.err = err
}

// SetDelay makes every lookup block for d or until ctx is done
func (m *MockSymbolLookup) SetDelay(d time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.delay = d
}

// Calls returns the requests received so far
func (m *MockSymbolLookup) Calls() []domain.SymbolLookupRequest {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]domain.SymbolLookupRequest(nil), m.calls...)
}

// Lookup returns the configured answer. Unknown symbols yield nil.
func (m *MockSymbolLookup) Lookup(ctx context.Context, req domain.SymbolLookupRequest) (*domain.SymbolLookupResponse, error) {
	m.mu.Lock()
	m.calls = append(m.calls, req)
	delay, err := m.delay, m.err
	answer := m.answers[strings.ToUpper(req.SymbolCandidate)]
	m.mu.Unlock()

	if delay > 0 {
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if err != nil {
		return nil, err
	}
	if answer == nil {
		return nil, nil
	}
	cp := *answer
	return &cp, nil
}

// StaticSourceConfig serves one SourceConfig for every source
type StaticSourceConfig struct {
	mu     sync.RWMutex
	config domain.SourceConfig
	err    error
}

// NewStaticSourceConfig creates a provider returning cfg
func NewStaticSourceConfig(cfg domain.SourceConfig) *StaticSourceConfig {
	return &StaticSourceConfig{config: cfg}
}

// Update replaces the served configuration
func (s *StaticSourceConfig) Update(fn func(cfg *domain.SourceConfig)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	fn(&s.config)
}

// SetError sets the error to return
func (s *StaticSourceConfig) SetError(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.err = err
}

// GetSourceConfig returns the configuration with Source set to source
func (s *StaticSourceConfig) GetSourceConfig(ctx context.Context, source string) (domain.SourceConfig, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.err != nil {
		return domain.SourceConfig{}, s.err
	}
	cfg := s.config
	cfg.Source = source
	return cfg, nil
}

// FailingIdentificationStore fails every call
type FailingIdentificationStore struct {
	Err error
}

func (f *FailingIdentificationStore) FindByMessageIDOrHash(ctx context.Context, messageID, contentHash string) (*domain.ProcessedEmail, error) {
	return nil, f.Err
}

func (f *FailingIdentificationStore) FindByReferences(ctx context.Context, refs []string, excludeMessageID string) ([]domain.ProcessedEmail, error) {
	return nil, f.Err
}

func (f *FailingIdentificationStore) Record(ctx context.Context, rec domain.ProcessedEmail) error {
	return f.Err
}

// MockTransactionCreator records creation requests and can be told to fail
type MockTransactionCreator struct {
	mu       sync.Mutex
	requests []domain.CreateTransactionRequest
	err      error
}

// NewMockTransactionCreator creates a creator that succeeds
func NewMockTransactionCreator() *MockTransactionCreator {
	return &MockTransactionCreator{}
}

// SetError sets the error to return
func (m *MockTransactionCreator) SetError(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.err = err
}

// Requests returns the requests received so far
func (m *MockTransactionCreator) Requests() []domain.CreateTransactionRequest {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]domain.CreateTransactionRequest(nil), m.requests...)
}

// CreateFromCandidate records req and returns a transaction built from it
func (m *MockTransactionCreator) CreateFromCandidate(ctx context.Context, req domain.CreateTransactionRequest) (*domain.Transaction, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return nil, m.err
	}
	m.requests = append(m.requests, req)

	c := req.Candidate
	tx := &domain.Transaction{
		ID:              "tx-" + strings.TrimPrefix(strings.TrimSuffix(req.Identification.MessageID, ">"), "<"),
		PortfolioID:     req.PortfolioID,
		Symbol:          c.Symbol,
		Type:            c.TransactionType,
		Quantity:        c.Quantity,
		Price:           c.Price,
		TotalAmount:     c.TotalAmount,
		Fees:            c.Fees,
		Date:            c.TransactionDate,
		Currency:        c.Currency,
		Notes:           req.Notes,
		SourceMessageID: req.Identification.MessageID,
	}
	if len(c.OrderIDs) > 0 {
		tx.ExternalID = c.OrderIDs[0]
	}
	return tx, nil
}
