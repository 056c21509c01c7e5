package domain

import (
	"context"
	"time"
)

// SymbolLookup is the narrow AI symbol lookup contract.
// Implementations must honor ctx cancellation.
type SymbolLookup interface {
	Lookup(ctx context.Context, req SymbolLookupRequest) (*SymbolLookupResponse, error)
}

// TransactionStore reads the transaction ledger
type TransactionStore interface {
	// ListTransactions returns transactions dated within [from, to].
	// An empty portfolioID matches every portfolio.
	ListTransactions(ctx context.Context, portfolioID string, from, to time.Time) ([]Transaction, error)

	// FindByExternalIDs returns transactions whose external id is in ids
	FindByExternalIDs(ctx context.Context, ids []string) ([]Transaction, error)
}

// TransactionCreator writes a transaction for an email behind the final
// duplicate gate. It returns ErrAlreadyImported when the message id or
// content hash already produced a transaction.
type TransactionCreator interface {
	CreateFromCandidate(ctx context.Context, req CreateTransactionRequest) (*Transaction, error)
}

// CreateTransactionRequest carries everything needed to create a ledger entry
type CreateTransactionRequest struct {
	PortfolioID    string
	Candidate      EmailCandidate
	Identification EmailIdentification
	Notes          string
	ReviewItemID   string
}

// AssetStore resolves instruments
type AssetStore interface {
	GetOrCreateAsset(ctx context.Context, symbol, assetType string) (*Asset, error)
}

// PortfolioStore is the portfolio persistence contract
type PortfolioStore interface {
	ListPortfolios(ctx context.Context) ([]Portfolio, error)
	// FindPortfolio returns the portfolio with exactly this name, or nil
	FindPortfolio(ctx context.Context, name string) (*Portfolio, error)
	CreatePortfolio(ctx context.Context, name, currency string) (*Portfolio, error)
}

// ReviewStore persists review queue items
type ReviewStore interface {
	CreateReviewQueueItem(ctx context.Context, item *ReviewQueueItem) error
	// GetReviewQueueItem returns ErrNotFound for unknown ids
	GetReviewQueueItem(ctx context.Context, id string) (*ReviewQueueItem, error)
	// UpdateReviewQueueItem writes item only if the stored row still has
	// expectedStatus and expectedVersion, bumping the version. It returns
	// ErrConflict when the guard fails and ErrNotFound for unknown ids.
	UpdateReviewQueueItem(ctx context.Context, item *ReviewQueueItem, expectedStatus ReviewStatus, expectedVersion int) error
	ListReviewQueueItems(ctx context.Context, filter ReviewFilter) ([]ReviewQueueItem, error)
	CountReviewQueueItems(ctx context.Context) (QueueStatistics, error)
	// DeleteTerminalBefore removes approved/rejected items reviewed before cutoff
	DeleteTerminalBefore(ctx context.Context, cutoff time.Time) (int64, error)
}

// IdentificationStore is the processed-email ledger used by duplicate detection
type IdentificationStore interface {
	// FindByMessageIDOrHash returns the record matching either key, or nil
	FindByMessageIDOrHash(ctx context.Context, messageID, contentHash string) (*ProcessedEmail, error)
	// FindByReferences returns records of other emails sharing any reference
	FindByReferences(ctx context.Context, refs []string, excludeMessageID string) ([]ProcessedEmail, error)
	// Record upserts a record; an imported record is never downgraded
	Record(ctx context.Context, rec ProcessedEmail) error
}

// SourceConfigProvider resolves per-source routing configuration
type SourceConfigProvider interface {
	GetSourceConfig(ctx context.Context, source string) (SourceConfig, error)
}
