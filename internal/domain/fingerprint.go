package domain

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"
	"time"
)

// ContentHash fingerprints the sender, subject and whitespace-normalized body
func ContentHash(from, subject, body string) string {
	var b strings.Builder
	b.WriteString(strings.ToLower(strings.TrimSpace(from)))
	b.WriteByte('\n')
	b.WriteString(strings.TrimSpace(subject))
	b.WriteByte('\n')
	b.WriteString(strings.Join(strings.Fields(body), " "))
	return hashHex(b.String())
}

// TransactionHash fingerprints the economic content of a candidate
func TransactionHash(c EmailCandidate) string {
	parts := []string{
		strings.ToUpper(c.Symbol),
		string(c.TransactionType),
		c.Quantity.String(),
		c.Price.String(),
		c.TransactionDate.UTC().Format("2006-01-02"),
	}
	return hashHex(strings.Join(parts, "|"))
}

// SyntheticMessageID derives a stable message id for emails without one
func SyntheticMessageID(contentHash string) string {
	if len(contentHash) > 32 {
		contentHash = contentHash[:32]
	}
	return "<" + contentHash + "@generated.tradeinbox>"
}

// Identify builds the identification for a parsed email. A nil candidate
// leaves TransactionHash empty.
func Identify(raw RawEmail, c *EmailCandidate) EmailIdentification {
	body := raw.TextBody
	if strings.TrimSpace(body) == "" {
		body = raw.HTMLBody
	}
	contentHash := ContentHash(raw.FromAddress, raw.Subject, body)

	messageID := strings.TrimSpace(raw.MessageID)
	if messageID == "" {
		messageID = SyntheticMessageID(contentHash)
	}

	ts := raw.ReceivedAt
	if ts.IsZero() {
		ts = time.Now()
	}

	ident := EmailIdentification{
		MessageID:   messageID,
		ContentHash: contentHash,
		FromEmail:   strings.ToLower(strings.TrimSpace(raw.FromAddress)),
		Subject:     raw.Subject,
		Timestamp:   ts,
	}
	if c != nil {
		ident.TransactionHash = TransactionHash(*c)
	}
	return ident
}

func hashHex(s string) string {
	sum := sha256.Sum256([]byte(s))
	return hex.EncodeToString(sum[:])
}
