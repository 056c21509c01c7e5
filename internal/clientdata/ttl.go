package clientdata

import "time"

// TTL constants for cached external answers.
// These are added to the current time when storing to calculate expires_at.
const (
	// TTLSymbolLookup keeps AI symbol answers for a week; tickers rarely change
	TTLSymbolLookup = 7 * 24 * time.Hour

	// TTLIdentifierMapping keeps ISIN/CUSIP to ticker mappings for a month
	TTLIdentifierMapping = 30 * 24 * time.Hour
)
