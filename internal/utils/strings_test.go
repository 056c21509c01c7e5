package utils

import (
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseCSV(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		expected []string
	}{
		{
			name:     "empty string",
			input:    "",
			expected: nil,
		},
		{
			name:     "single value",
			input:    "brokerage.example.com",
			expected: []string{"brokerage.example.com"},
		},
		{
			name:     "varied spacing",
			input:    "ledger,  inbox , client_data",
			expected: []string{"ledger", "inbox", "client_data"},
		},
		{
			name:     "trailing comma",
			input:    "ledger,",
			expected: []string{"ledger"},
		},
		{
			name:     "only spaces",
			input:    "   ",
			expected: nil,
		},
		{
			name:     "multiple commas",
			input:    ",,ledger,,inbox,,",
			expected: []string{"ledger", "inbox"},
		},
		{
			name:     "internal spaces preserved",
			input:    "Joint Account, Roth IRA",
			expected: []string{"Joint Account", "Roth IRA"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, ParseCSV(tt.input))
		})
	}
}

func TestSenderDomain(t *testing.T) {
	tests := []struct {
		input    string
		expected string
	}{
		{"notifications@Wealthsimple.com", "wealthsimple.com"},
		{"Wealthsimple <no-reply@wealthsimple.com>", "wealthsimple.com"},
		{"  trade@broker.example.org ", "broker.example.org"},
		{"no-at-sign", ""},
		{"broken@", ""},
		{"", ""},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			assert.Equal(t, tt.expected, SenderDomain(tt.input))
		})
	}
}

func TestStageTimer(t *testing.T) {
	timer := NewStageTimer("process_email", zerolog.Nop())

	time.Sleep(2 * time.Millisecond)
	timer.Mark("parse")
	timer.Mark("symbols")

	stages := timer.Stages()
	require.Len(t, stages, 2)
	assert.Equal(t, "parse", stages[0].Stage)
	assert.Equal(t, "symbols", stages[1].Stage)
	assert.GreaterOrEqual(t, stages[0].Duration, 2*time.Millisecond)
	assert.GreaterOrEqual(t, timer.Stop(), stages[0].Duration)
}
