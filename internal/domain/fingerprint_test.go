package domain

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestContentHash_NormalizesWhitespaceAndSender(t *testing.T) {
	a := ContentHash("Notifications@Wealthsimple.com", "Order filled", "You bought\n 10 shares")
	b := ContentHash("notifications@wealthsimple.com ", "Order filled", "You   bought 10\tshares")
	assert.Equal(t, a, b)

	c := ContentHash("notifications@wealthsimple.com", "Order filled", "You bought 11 shares")
	assert.NotEqual(t, a, c)
}

func TestTransactionHash_DependsOnEconomicFields(t *testing.T) {
	c := validCandidate()
	h1 := TransactionHash(c)

	c.Confidence = 0.1
	c.RawContentExcerpt = "different"
	assert.Equal(t, h1, TransactionHash(c))

	c.Symbol = "MSFT"
	assert.NotEqual(t, h1, TransactionHash(c))
}

func TestIdentify(t *testing.T) {
	received := time.Date(2024, 3, 1, 15, 0, 0, 0, time.UTC)
	raw := RawEmail{
		MessageID:   "<abc@mail>",
		Subject:     "Trade confirmation",
		FromAddress: "Broker@Example.com",
		TextBody:    "Symbol: AAPL",
		ReceivedAt:  received,
	}
	c := validCandidate()

	ident := Identify(raw, &c)
	assert.Equal(t, "<abc@mail>", ident.MessageID)
	assert.Equal(t, "broker@example.com", ident.FromEmail)
	assert.Equal(t, received, ident.Timestamp)
	assert.Len(t, ident.ContentHash, 64)
	assert.Equal(t, TransactionHash(c), ident.TransactionHash)

	withoutCandidate := Identify(raw, nil)
	assert.Empty(t, withoutCandidate.TransactionHash)
}

func TestIdentify_SynthesizesMessageID(t *testing.T) {
	raw := RawEmail{Subject: "s", FromAddress: "f@x", HTMLBody: "<p>hi</p>"}

	first := Identify(raw, nil)
	second := Identify(raw, nil)

	assert.True(t, strings.HasSuffix(first.MessageID, "@generated.tradeinbox>"))
	assert.Equal(t, first.MessageID, second.MessageID)
	assert.False(t, first.Timestamp.IsZero())
}
