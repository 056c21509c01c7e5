package parsing

import (
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/Rhymond/go-money"
	"github.com/aristath/tradeinbox/internal/domain"
	"github.com/shopspring/decimal"
)

// Field names one extractable value of a confirmation
type Field string

const (
	FieldSymbol       Field = "symbol"
	FieldType         Field = "transactionType"
	FieldQuantity     Field = "quantity"
	FieldPrice        Field = "price"
	FieldTotal        Field = "totalAmount"
	FieldFees         Field = "fees"
	FieldAccount      Field = "accountTypeLabel"
	FieldDate         Field = "transactionDate"
	FieldCurrency     Field = "currency"
	FieldOrderID      Field = "orderId"
	FieldConfirmation Field = "confirmationNumber"
)

// coreFields are expected from every trade confirmation
var coreFields = []Field{
	FieldSymbol, FieldType, FieldQuantity, FieldPrice,
	FieldTotal, FieldAccount, FieldDate, FieldCurrency,
}

// cashEventFields are expected when no shares change hands
var cashEventFields = []Field{
	FieldSymbol, FieldType, FieldTotal, FieldAccount, FieldDate, FieldCurrency,
}

// expectedFields returns the fields a complete confirmation of type t carries
func expectedFields(t domain.TransactionType) []Field {
	if t == domain.TransactionTypeDividend {
		return cashEventFields
	}
	return coreFields
}

// labelAliases maps normalized labels found in emails to fields
var labelAliases = map[string]Field{
	"account":             FieldAccount,
	"account type":        FieldAccount,
	"account name":        FieldAccount,
	"symbol":              FieldSymbol,
	"ticker":              FieldSymbol,
	"stock":               FieldSymbol,
	"security":            FieldSymbol,
	"security symbol":     FieldSymbol,
	"type":                FieldType,
	"order type":          FieldType,
	"action":              FieldType,
	"transaction":         FieldType,
	"transaction type":    FieldType,
	"side":                FieldType,
	"shares":              FieldQuantity,
	"quantity":            FieldQuantity,
	"qty":                 FieldQuantity,
	"filled quantity":     FieldQuantity,
	"number of shares":    FieldQuantity,
	"units":               FieldQuantity,
	"price":               FieldPrice,
	"average price":       FieldPrice,
	"avg price":           FieldPrice,
	"fill price":          FieldPrice,
	"filled price":        FieldPrice,
	"price per share":     FieldPrice,
	"execution price":     FieldPrice,
	"total":               FieldTotal,
	"total cost":          FieldTotal,
	"total value":         FieldTotal,
	"total amount":        FieldTotal,
	"estimated total":     FieldTotal,
	"net amount":          FieldTotal,
	"amount":              FieldTotal,
	"fees":                FieldFees,
	"fee":                 FieldFees,
	"commission":          FieldFees,
	"commissions":         FieldFees,
	"date":                FieldDate,
	"time":                FieldDate,
	"filled":              FieldDate,
	"filled at":           FieldDate,
	"filled on":           FieldDate,
	"trade date":          FieldDate,
	"execution date":      FieldDate,
	"date filled":         FieldDate,
	"currency":            FieldCurrency,
	"order id":            FieldOrderID,
	"order #":             FieldOrderID,
	"order number":        FieldOrderID,
	"order no":            FieldOrderID,
	"confirmation":        FieldConfirmation,
	"confirmation #":      FieldConfirmation,
	"confirmation number": FieldConfirmation,
	"reference":           FieldConfirmation,
	"reference number":    FieldConfirmation,
}

var labelNoise = regexp.MustCompile(`[\s:：]+$`)

// resolveLabel maps a raw label such as "Average price:" to its field
func resolveLabel(label string) (Field, bool) {
	l := strings.ToLower(strings.TrimSpace(label))
	l = labelNoise.ReplaceAllString(l, "")
	l = strings.Join(strings.Fields(l), " ")
	l = strings.TrimSuffix(l, ".")
	f, ok := labelAliases[l]
	return f, ok
}

var (
	parenSymbol    = regexp.MustCompile(`\(([A-Za-z0-9.\-]{1,12})\)`)
	exchangePrefix = regexp.MustCompile(`^[A-Za-z]{2,8}:\s*`)
	numberPattern  = regexp.MustCompile(`\(?-?\d[\d,.]*\)?|\(?-?\.\d+\)?`)
	currencyCode   = regexp.MustCompile(`\b([A-Z]{3})\b`)
)

// parseSymbol cleans a ticker value: "Apple Inc. (AAPL)" -> "AAPL",
// "NASDAQ:AAPL" -> "AAPL", "$shop." -> "SHOP"
func parseSymbol(s string) string {
	s = strings.TrimSpace(s)
	if m := parenSymbol.FindStringSubmatch(s); m != nil {
		s = m[1]
	}
	s = exchangePrefix.ReplaceAllString(s, "")
	s = strings.TrimPrefix(s, "$")
	s = strings.TrimRight(s, ".,;:!")
	return strings.ToUpper(strings.Join(strings.Fields(s), " "))
}

// parseTransactionType maps free text like "Market buy" to a type
func parseTransactionType(s string) (domain.TransactionType, bool) {
	l := strings.ToLower(s)
	switch {
	case strings.Contains(l, "expir"):
		return domain.TransactionTypeOptionExpired, true
	case strings.Contains(l, "assign"):
		return domain.TransactionTypeOptionAssigned, true
	case strings.Contains(l, "dividend"), strings.Contains(l, "distribution"):
		return domain.TransactionTypeDividend, true
	case strings.Contains(l, "split"):
		return domain.TransactionTypeSplit, true
	case strings.Contains(l, "transfer in"), strings.Contains(l, "transferred in"):
		return domain.TransactionTypeTransferIn, true
	case strings.Contains(l, "transfer out"), strings.Contains(l, "transferred out"):
		return domain.TransactionTypeTransferOut, true
	case strings.Contains(l, "sell"), strings.Contains(l, "sold"):
		return domain.TransactionTypeSell, true
	case strings.Contains(l, "buy"), strings.Contains(l, "bought"), strings.Contains(l, "purchase"):
		return domain.TransactionTypeBuy, true
	}
	return "", false
}

// parseNumber extracts the first number in s. Parentheses mean negative.
// A lone comma followed by other than three digits is a decimal comma.
func parseNumber(s string) (decimal.Decimal, error) {
	raw := numberPattern.FindString(s)
	if raw == "" {
		return decimal.Zero, fmt.Errorf("no number in %q", s)
	}

	negative := strings.HasPrefix(raw, "(") && strings.HasSuffix(raw, ")")
	raw = strings.Trim(raw, "()")
	if strings.HasPrefix(raw, "-") {
		negative = true
		raw = raw[1:]
	}
	raw = strings.TrimRight(raw, ".,")

	lastDot := strings.LastIndex(raw, ".")
	lastComma := strings.LastIndex(raw, ",")
	switch {
	case lastDot >= 0 && lastComma >= 0:
		if lastComma > lastDot {
			raw = strings.ReplaceAll(raw, ".", "")
			raw = strings.Replace(raw, ",", ".", 1)
		} else {
			raw = strings.ReplaceAll(raw, ",", "")
		}
	case lastComma >= 0:
		if strings.Count(raw, ",") == 1 && len(raw)-lastComma-1 != 3 {
			raw = strings.Replace(raw, ",", ".", 1)
		} else {
			raw = strings.ReplaceAll(raw, ",", "")
		}
	}

	d, err := decimal.NewFromString(raw)
	if err != nil {
		return decimal.Zero, fmt.Errorf("invalid number %q: %w", s, err)
	}
	if negative {
		d = d.Neg()
	}
	return d, nil
}

var currencySymbols = []struct {
	symbol string
	code   string
}{
	{"US$", "USD"},
	{"USD$", "USD"},
	{"CA$", "CAD"},
	{"CAD$", "CAD"},
	{"C$", "CAD"},
	{"€", "EUR"},
	{"£", "GBP"},
	{"¥", "JPY"},
}

// detectCurrency finds an ISO code or unambiguous currency symbol in s
func detectCurrency(s string) string {
	for _, m := range currencyCode.FindAllStringSubmatch(s, -1) {
		if validCurrency(m[1]) {
			return m[1]
		}
	}
	for _, cs := range currencySymbols {
		if strings.Contains(s, cs.symbol) {
			return cs.code
		}
	}
	return ""
}

// validCurrency reports whether code is a known ISO 4217 currency
func validCurrency(code string) bool {
	return len(code) == 3 && money.GetCurrency(strings.ToUpper(code)) != nil
}

// parseAmount reads a monetary value and any currency it names
func parseAmount(s string) (decimal.Decimal, string, error) {
	d, err := parseNumber(s)
	if err != nil {
		return decimal.Zero, "", err
	}
	return d, detectCurrency(s), nil
}

var (
	dateNoise  = regexp.MustCompile(`(?i)\s+(?:at|@)\s+`)
	tzSuffix   = regexp.MustCompile(`\s*\(?\b(?:[A-Z]{2,4}|UTC[+-]?\d{0,4}|GMT[+-]?\d{0,4})\)?$`)
	ordinalDay = regexp.MustCompile(`(\d{1,2})(?:st|nd|rd|th)\b`)
)

var dateLayouts = []string{
	time.RFC3339,
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
	"2006-01-02 15:04",
	"2006-01-02",
	"January 2, 2006 3:04 PM",
	"January 2, 2006 3:04PM",
	"January 2, 2006 15:04",
	"January 2, 2006",
	"Jan 2, 2006 3:04 PM",
	"Jan 2, 2006 3:04PM",
	"Jan 2, 2006 15:04",
	"Jan 2, 2006",
	"Monday, January 2, 2006 3:04 PM",
	"Monday, January 2, 2006",
	"Mon, Jan 2, 2006",
	"2 January 2006",
	"02 Jan 2006",
	"2 Jan 2006 15:04",
	"01/02/2006 3:04 PM",
	"01/02/2006 15:04",
	"01/02/2006",
	"1/2/2006",
}

// parseDate reads the many date renderings brokers use. Timezone
// abbreviations are dropped and the result is UTC.
func parseDate(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	s = dateNoise.ReplaceAllString(s, " ")
	s = ordinalDay.ReplaceAllString(s, "$1")
	s = strings.Join(strings.Fields(s), " ")

	candidates := []string{s}
	if stripped := strings.TrimSpace(tzSuffix.ReplaceAllString(s, "")); stripped != s {
		candidates = append(candidates, stripped)
	}

	for _, c := range candidates {
		for _, layout := range dateLayouts {
			if t, err := time.Parse(layout, c); err == nil {
				return t.UTC(), nil
			}
		}
	}
	return time.Time{}, fmt.Errorf("unrecognized date %q", s)
}
