package domain

import (
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func validCandidate() EmailCandidate {
	return EmailCandidate{
		Symbol:          "AAPL",
		TransactionType: TransactionTypeBuy,
		Quantity:        decimal.NewFromInt(10),
		Price:           decimal.RequireFromString("150.25"),
		TotalAmount:     decimal.RequireFromString("1502.50"),
		Currency:        "USD",
		TransactionDate: time.Date(2024, 3, 1, 14, 30, 0, 0, time.UTC),
		Confidence:      0.9,
		ParseMethod:     ParseMethodHTML,
	}
}

func TestEmailCandidate_Validate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(c *EmailCandidate)
		wantErr string
	}{
		{name: "valid buy", mutate: func(c *EmailCandidate) {}},
		{
			name:    "missing symbol",
			mutate:  func(c *EmailCandidate) { c.Symbol = "  " },
			wantErr: "symbol is required",
		},
		{
			name:    "unknown type",
			mutate:  func(c *EmailCandidate) { c.TransactionType = "swap" },
			wantErr: "unknown transaction type",
		},
		{
			name:    "zero quantity buy",
			mutate:  func(c *EmailCandidate) { c.Quantity = decimal.Zero },
			wantErr: "quantity must be positive",
		},
		{
			name: "zero quantity dividend allowed",
			mutate: func(c *EmailCandidate) {
				c.TransactionType = TransactionTypeDividend
				c.Quantity = decimal.Zero
			},
		},
		{
			name: "zero quantity option expiry allowed",
			mutate: func(c *EmailCandidate) {
				c.TransactionType = TransactionTypeOptionExpired
				c.Quantity = decimal.Zero
			},
		},
		{
			name:    "negative price",
			mutate:  func(c *EmailCandidate) { c.Price = decimal.NewFromInt(-1) },
			wantErr: "price must not be negative",
		},
		{
			name:    "confidence out of range",
			mutate:  func(c *EmailCandidate) { c.Confidence = 1.2 },
			wantErr: "confidence must be within [0,1]",
		},
		{
			name:    "bad currency",
			mutate:  func(c *EmailCandidate) { c.Currency = "DOLLARS" },
			wantErr: "currency must be an ISO 4217 code",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := validCandidate()
			tt.mutate(&c)
			err := c.Validate()
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)

			var pe *PipelineError
			require.True(t, errors.As(err, &pe))
			assert.Equal(t, KindValidation, pe.Kind)
		})
	}
}

func TestEmailCandidate_CloneIsIndependent(t *testing.T) {
	c := validCandidate()
	c.OrderIDs = []string{"WS-123456"}

	clone := c.Clone()
	clone.OrderIDs[0] = "changed"
	clone.Symbol = "MSFT"

	assert.Equal(t, "WS-123456", c.OrderIDs[0])
	assert.Equal(t, "AAPL", c.Symbol)
}

func TestEmailCandidate_ExternalIDs(t *testing.T) {
	c := EmailCandidate{
		OrderIDs:            []string{"WS-2", "WS-1", "WS-2"},
		ConfirmationNumbers: []string{" C-9 ", ""},
	}
	assert.Equal(t, []string{"C-9", "WS-1", "WS-2"}, c.ExternalIDs())
}

func TestTruncateRunes(t *testing.T) {
	assert.Equal(t, "héll", TruncateRunes("héllo", 4))
	assert.Equal(t, "abc", TruncateRunes("abc", 10))
}

func TestReviewStatus(t *testing.T) {
	assert.False(t, ReviewStatusPending.Terminal())
	assert.True(t, ReviewStatusApproved.Terminal())
	assert.True(t, ReviewStatusRejected.Terminal())
	assert.True(t, ReviewStatusPending.Valid())
	assert.False(t, ReviewStatus("archived").Valid())
}

func TestNotDuplicate(t *testing.T) {
	r := NotDuplicate()
	assert.False(t, r.IsDuplicate)
	assert.Equal(t, RecommendationAccept, r.Recommendation)
	assert.Equal(t, 0.0, r.Confidence)
	assert.NotNil(t, r.Reasons)
	assert.Empty(t, r.Reasons)
}
