// Package domain provides core domain models and types.
package domain

import (
	"sort"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// TransactionType is the kind of ledger event a confirmation describes
type TransactionType string

const (
	TransactionTypeBuy            TransactionType = "buy"
	TransactionTypeSell           TransactionType = "sell"
	TransactionTypeDividend       TransactionType = "dividend"
	TransactionTypeSplit          TransactionType = "split"
	TransactionTypeOptionExpired  TransactionType = "option_expired"
	TransactionTypeOptionAssigned TransactionType = "option_assigned"
	TransactionTypeTransferIn     TransactionType = "transfer_in"
	TransactionTypeTransferOut    TransactionType = "transfer_out"
)

// Valid reports whether t is a known transaction type
func (t TransactionType) Valid() bool {
	switch t {
	case TransactionTypeBuy, TransactionTypeSell, TransactionTypeDividend, TransactionTypeSplit,
		TransactionTypeOptionExpired, TransactionTypeOptionAssigned,
		TransactionTypeTransferIn, TransactionTypeTransferOut:
		return true
	}
	return false
}

// AllowsZeroQuantity reports whether a zero quantity is legal for this type.
// Dividends and option expiries carry no share movement.
func (t TransactionType) AllowsZeroQuantity() bool {
	return t == TransactionTypeDividend || t == TransactionTypeOptionExpired
}

// ParseMethod records which body the candidate was extracted from
type ParseMethod string

const (
	ParseMethodHTML ParseMethod = "HTML"
	ParseMethodText ParseMethod = "TEXT"
)

// MaxExcerptRunes bounds EmailCandidate.RawContentExcerpt
const MaxExcerptRunes = 500

// RawEmail is an inbound message as delivered by a mailbox or the spool
type RawEmail struct {
	ReceivedAt  time.Time `json:"receivedAt"`
	MessageID   string    `json:"messageId"`
	Subject     string    `json:"subject"`
	FromAddress string    `json:"fromAddress"`
	HTMLBody    string    `json:"htmlBody,omitempty"`
	TextBody    string    `json:"textBody,omitempty"`
	Source      string    `json:"source,omitempty"` // Optional source key override
}

// EmailCandidate is trade data extracted from one confirmation email
type EmailCandidate struct {
	TransactionDate     time.Time       `json:"transactionDate" msgpack:"transaction_date"`
	Quantity            decimal.Decimal `json:"quantity" msgpack:"quantity"`
	Price               decimal.Decimal `json:"price" msgpack:"price"`
	TotalAmount         decimal.Decimal `json:"totalAmount" msgpack:"total_amount"`
	Fees                decimal.Decimal `json:"fees" msgpack:"fees"`
	Symbol              string          `json:"symbol" msgpack:"symbol"`
	TransactionType     TransactionType `json:"transactionType" msgpack:"transaction_type"`
	AccountTypeLabel    string          `json:"accountTypeLabel" msgpack:"account_type_label"`
	Currency            string          `json:"currency" msgpack:"currency"`
	ParseMethod         ParseMethod     `json:"parseMethod" msgpack:"parse_method"`
	RawContentExcerpt   string          `json:"rawContentExcerpt" msgpack:"raw_content_excerpt"`
	Broker              string          `json:"broker,omitempty" msgpack:"broker"`
	AssetType           string          `json:"assetType,omitempty" msgpack:"asset_type"`
	OrderIDs            []string        `json:"orderIds" msgpack:"order_ids"`
	ConfirmationNumbers []string        `json:"confirmationNumbers" msgpack:"confirmation_numbers"`
	Confidence          float64         `json:"confidence" msgpack:"confidence"`
}

// Clone returns a deep copy so downstream stages can adjust fields without
// touching the parser's output.
func (c EmailCandidate) Clone() EmailCandidate {
	c.OrderIDs = append([]string(nil), c.OrderIDs...)
	c.ConfirmationNumbers = append([]string(nil), c.ConfirmationNumbers...)
	return c
}

// ExternalIDs returns order ids followed by confirmation numbers
func (c EmailCandidate) ExternalIDs() []string {
	ids := make([]string, 0, len(c.OrderIDs)+len(c.ConfirmationNumbers))
	ids = append(ids, c.OrderIDs...)
	ids = append(ids, c.ConfirmationNumbers...)
	return NormalizeIDSet(ids)
}

// Validate checks the candidate invariants that must hold before it can
// become a transaction.
func (c EmailCandidate) Validate() error {
	var problems []string

	if strings.TrimSpace(c.Symbol) == "" {
		problems = append(problems, "symbol is required")
	}
	if !c.TransactionType.Valid() {
		problems = append(problems, "unknown transaction type "+string(c.TransactionType))
	}
	if c.Quantity.IsNegative() {
		problems = append(problems, "quantity must not be negative")
	} else if c.Quantity.IsZero() && !c.TransactionType.AllowsZeroQuantity() {
		problems = append(problems, "quantity must be positive")
	}
	if c.Price.IsNegative() {
		problems = append(problems, "price must not be negative")
	}
	if c.Fees.IsNegative() {
		problems = append(problems, "fees must not be negative")
	}
	if c.Confidence < 0 || c.Confidence > 1 {
		problems = append(problems, "confidence must be within [0,1]")
	}
	if len(c.Currency) != 3 {
		problems = append(problems, "currency must be an ISO 4217 code")
	}
	if c.TransactionDate.IsZero() {
		problems = append(problems, "transaction date is required")
	}

	if len(problems) > 0 {
		return NewPipelineError(KindValidation, "", strings.Join(problems, "; "), nil)
	}
	return nil
}

// NormalizeIDSet trims, drops empties, de-duplicates and sorts ids
func NormalizeIDSet(ids []string) []string {
	seen := make(map[string]struct{}, len(ids))
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		id = strings.TrimSpace(id)
		if id == "" {
			continue
		}
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}

// TruncateRunes cuts s to at most n runes
func TruncateRunes(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}

// EmailIdentification fingerprints one email for duplicate detection
type EmailIdentification struct {
	Timestamp       time.Time `json:"timestamp" msgpack:"timestamp"`
	MessageID       string    `json:"messageId" msgpack:"message_id"`
	ContentHash     string    `json:"contentHash" msgpack:"content_hash"`
	TransactionHash string    `json:"transactionHash" msgpack:"transaction_hash"`
	FromEmail       string    `json:"fromEmail" msgpack:"from_email"`
	Subject         string    `json:"subject" msgpack:"subject"`
}

// Recommendation is the duplicate detector's advice to the router
type Recommendation string

const (
	RecommendationAccept Recommendation = "accept"
	RecommendationReview Recommendation = "review"
	RecommendationReject Recommendation = "reject"
)

// DuplicateDetectionResult is advisory output of the duplicate detector
type DuplicateDetectionResult struct {
	Recommendation        Recommendation `json:"recommendation" msgpack:"recommendation"`
	Reasons               []string       `json:"reasons" msgpack:"reasons"`
	MatchedTransactionIDs []string       `json:"matchedTransactionIds" msgpack:"matched_transaction_ids"`
	Confidence            float64        `json:"confidence" msgpack:"confidence"`
	MatchLevel            int            `json:"matchLevel" msgpack:"match_level"`
	IsDuplicate           bool           `json:"isDuplicate" msgpack:"is_duplicate"`
}

// Flagged reports whether the detector advised against a plain insert.
// A zero result is not flagged.
func (r DuplicateDetectionResult) Flagged() bool {
	return r.Recommendation == RecommendationReview || r.Recommendation == RecommendationReject
}

// NotDuplicate is the fail-open result
func NotDuplicate() DuplicateDetectionResult {
	return DuplicateDetectionResult{
		Recommendation:        RecommendationAccept,
		Reasons:               []string{},
		MatchedTransactionIDs: []string{},
	}
}

// ReviewStatus is the review item state
type ReviewStatus string

const (
	ReviewStatusPending  ReviewStatus = "pending"
	ReviewStatusApproved ReviewStatus = "approved"
	ReviewStatusRejected ReviewStatus = "rejected"
)

// Terminal reports whether no further transitions are allowed
func (s ReviewStatus) Terminal() bool {
	return s == ReviewStatusApproved || s == ReviewStatusRejected
}

// Valid reports whether s is a known status
func (s ReviewStatus) Valid() bool {
	return s == ReviewStatusPending || s.Terminal()
}

// ReviewPriority orders the review queue
type ReviewPriority string

const (
	ReviewPriorityLow    ReviewPriority = "low"
	ReviewPriorityMedium ReviewPriority = "medium"
	ReviewPriorityHigh   ReviewPriority = "high"
)

// Valid reports whether p is a known priority
func (p ReviewPriority) Valid() bool {
	return p == ReviewPriorityLow || p == ReviewPriorityMedium || p == ReviewPriorityHigh
}

// ReviewQueueItem is a candidate waiting for a human decision
type ReviewQueueItem struct {
	CreatedAt       time.Time                `json:"createdAt"`
	UpdatedAt       time.Time                `json:"updatedAt"`
	ReviewedAt      *time.Time               `json:"reviewedAt,omitempty"`
	ID              string                   `json:"id"`
	PortfolioID     string                   `json:"portfolioId"`
	Status          ReviewStatus             `json:"status"`
	Priority        ReviewPriority           `json:"priority"`
	Reason          string                   `json:"reason"`
	ReviewedBy      string                   `json:"reviewedBy,omitempty"`
	ReviewNotes     string                   `json:"reviewNotes,omitempty"`
	LastModifiedBy  string                   `json:"lastModifiedBy,omitempty"`
	TransactionID   string                   `json:"transactionId,omitempty"`
	Candidate       EmailCandidate           `json:"candidate"`
	Identification  EmailIdentification      `json:"identification"`
	DuplicateResult DuplicateDetectionResult `json:"duplicateResult"`
	Version         int                      `json:"version"`
}

// ReviewFilter narrows GetQueueItems; empty fields match everything
type ReviewFilter struct {
	Status   ReviewStatus
	Priority ReviewPriority
	Limit    int
}

// QueueStatistics aggregates the review queue
type QueueStatistics struct {
	ByStatus   map[ReviewStatus]int   `json:"byStatus"`
	ByPriority map[ReviewPriority]int `json:"byPriority"`
	Total      int                    `json:"total"`
	Pending    int                    `json:"pending"`
}

// Transaction is a ledger entry in a portfolio
type Transaction struct {
	Date            time.Time       `json:"date"`
	CreatedAt       time.Time       `json:"createdAt"`
	Quantity        decimal.Decimal `json:"quantity"`
	Price           decimal.Decimal `json:"price"`
	TotalAmount     decimal.Decimal `json:"totalAmount"`
	Fees            decimal.Decimal `json:"fees"`
	ID              string          `json:"id"`
	PortfolioID     string          `json:"portfolioId"`
	AssetID         string          `json:"assetId"`
	Symbol          string          `json:"symbol"`
	Type            TransactionType `json:"type"`
	Currency        string          `json:"currency"`
	Notes           string          `json:"notes,omitempty"`
	ExternalID      string          `json:"externalId,omitempty"`
	SourceMessageID string          `json:"sourceMessageId,omitempty"`
}

// Portfolio groups transactions for one account
type Portfolio struct {
	CreatedAt time.Time `json:"createdAt"`
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	Currency  string    `json:"currency"`
}

// Asset is a tradable instrument referenced by transactions
type Asset struct {
	CreatedAt time.Time `json:"createdAt"`
	ID        string    `json:"id"`
	Symbol    string    `json:"symbol"`
	AssetType string    `json:"assetType"`
}

// ProcessedStatus records what happened to an email
type ProcessedStatus string

const (
	ProcessedStatusImported ProcessedStatus = "imported"
	ProcessedStatusQueued   ProcessedStatus = "queued"
	ProcessedStatusRejected ProcessedStatus = "rejected"
	ProcessedStatusSkipped  ProcessedStatus = "skipped"
)

// ProcessedEmail is the persisted identification of a routed email
type ProcessedEmail struct {
	ProcessedAt     time.Time       `json:"processedAt"`
	MessageID       string          `json:"messageId"`
	ContentHash     string          `json:"contentHash"`
	TransactionHash string          `json:"transactionHash"`
	FromEmail       string          `json:"fromEmail"`
	Subject         string          `json:"subject"`
	Status          ProcessedStatus `json:"status"`
	TransactionID   string          `json:"transactionId,omitempty"`
	ReviewItemID    string          `json:"reviewItemId,omitempty"`
	References      []string        `json:"references"`
}

// NewProcessedEmail builds the ledger record for an identification
func NewProcessedEmail(ident EmailIdentification, refs []string, status ProcessedStatus) ProcessedEmail {
	return ProcessedEmail{
		MessageID:       ident.MessageID,
		ContentHash:     ident.ContentHash,
		TransactionHash: ident.TransactionHash,
		FromEmail:       ident.FromEmail,
		Subject:         ident.Subject,
		Status:          status,
		References:      NormalizeIDSet(refs),
	}
}

// SymbolSource records how a symbol was settled
type SymbolSource string

const (
	SymbolSourceDirect     SymbolSource = "direct"
	SymbolSourceAIEnhanced SymbolSource = "ai-enhanced"
	SymbolSourceAIFallback SymbolSource = "ai-fallback"
)

// SymbolLookupRequest is sent to the AI symbol lookup
type SymbolLookupRequest struct {
	SymbolCandidate string `json:"symbolCandidate"`
	ContextSnippet  string `json:"contextSnippet"`
	AssetTypeHint   string `json:"assetTypeHint,omitempty"`
}

// SymbolLookupResponse is the AI symbol lookup answer
type SymbolLookupResponse struct {
	NormalizedSymbol string  `json:"normalizedSymbol"`
	AssetType        string  `json:"assetType"`
	Confidence       float64 `json:"confidence"`
}
