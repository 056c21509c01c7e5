// Package parsing extracts trade candidates from broker confirmation emails.
package parsing

import (
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/aristath/tradeinbox/internal/domain"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
)

// Options tune one parse
type Options struct {
	DefaultCurrency string
	Thresholds      domain.Thresholds
}

// ParseResult is the outcome of parsing one email
type ParseResult struct {
	Data           *domain.EmailCandidate     `json:"data,omitempty"`
	Error          *domain.PipelineError      `json:"error,omitempty"`
	Identification domain.EmailIdentification `json:"identification"`
	Template       string                     `json:"template,omitempty"`
	Broker         string                     `json:"broker,omitempty"`
	Warnings       []string                   `json:"warnings"`
	Success        bool                       `json:"success"`
}

// Parser runs emails through an ordered list of templates
type Parser struct {
	templates []Template
	now       func() time.Time
	log       zerolog.Logger
}

// NewParser creates a parser. Without templates the built-in set is used.
func NewParser(log zerolog.Logger, templates ...Template) *Parser {
	if len(templates) == 0 {
		templates = DefaultTemplates()
	}
	return &Parser{
		templates: templates,
		now:       time.Now,
		log:       log.With().Str("service", "email_parser").Logger(),
	}
}

// Templates returns the templates in match order
func (p *Parser) Templates() []Template {
	return p.templates
}

// Parse extracts a candidate from raw. It never panics on malformed input;
// failures are reported on the result.
func (p *Parser) Parse(raw domain.RawEmail, opts Options) *ParseResult {
	if opts.Thresholds.Version == 0 {
		opts.Thresholds = domain.DefaultThresholds()
	}
	if opts.DefaultCurrency == "" {
		opts.DefaultCurrency = "USD"
	}

	result := &ParseResult{Warnings: []string{}}
	email := NewEmail(raw)

	if email.Empty() {
		result.Identification = domain.Identify(raw, nil)
		result.Error = domain.NewPipelineError(domain.KindParse, domain.CodeUnrecognizedFormat, "email has no readable body", nil)
		return result
	}

	var matched, firstMatch Template
	var extraction *Extraction
	for _, t := range p.templates {
		if !t.Matches(email) {
			continue
		}
		if firstMatch == nil {
			firstMatch = t
		}
		x := t.Extract(email)
		if x.Has(FieldSymbol) {
			matched, extraction = t, x
			break
		}
	}

	switch {
	case firstMatch == nil:
		result.Identification = domain.Identify(raw, nil)
		result.Error = domain.NewPipelineError(domain.KindParse, domain.CodeUnrecognizedFormat, "no broker template matched the email", nil)
		return result
	case matched == nil:
		result.Identification = domain.Identify(raw, nil)
		result.Template = firstMatch.Name()
		result.Error = domain.NewPipelineError(domain.KindParse, domain.CodeFieldExtractionFailed,
			fmt.Sprintf("template %s matched but no symbol could be extracted", firstMatch.Name()), nil)
		return result
	}

	result.Template = matched.Name()
	result.Broker = matched.Broker()

	b := &candidateBuilder{email: email, template: matched, x: extraction, opts: opts, now: p.now}
	candidate, err := b.build()
	result.Warnings = append(result.Warnings, b.warnings...)
	if err != nil {
		result.Identification = domain.Identify(raw, nil)
		result.Error = err
		return result
	}

	result.Success = true
	result.Data = candidate
	result.Identification = domain.Identify(raw, candidate)

	p.log.Debug().
		Str("template", matched.Name()).
		Str("symbol", candidate.Symbol).
		Float64("confidence", candidate.Confidence).
		Int("warnings", len(result.Warnings)).
		Msg("Parsed confirmation email")

	return result
}

// candidateBuilder turns raw captured strings into a typed candidate
type candidateBuilder struct {
	email    *Email
	template Template
	x        *Extraction
	opts     Options
	now      func() time.Time
	present  map[Field]bool
	notes    map[Field]string
	warnings []string
	currency string
}

func (b *candidateBuilder) warn(format string, args ...interface{}) {
	b.warnings = append(b.warnings, fmt.Sprintf(format, args...))
}

func (b *candidateBuilder) build() (*domain.EmailCandidate, *domain.PipelineError) {
	b.present = make(map[Field]bool)
	b.notes = make(map[Field]string)

	c := &domain.EmailCandidate{
		ParseMethod: b.template.Method(),
		Broker:      b.template.Broker(),
		Fees:        decimal.Zero,
	}

	c.Symbol = parseSymbol(b.x.Values[FieldSymbol])
	if c.Symbol == "" {
		return nil, domain.NewPipelineError(domain.KindParse, domain.CodeFieldExtractionFailed, "symbol is empty", nil)
	}
	b.present[FieldSymbol] = true

	if v, ok := b.x.Values[FieldType]; ok {
		if t, ok := parseTransactionType(v); ok {
			c.TransactionType = t
			b.present[FieldType] = true
		} else {
			b.warn("Unrecognized transaction type %q", v)
		}
	}
	if c.TransactionType == "" {
		t, ok := parseTransactionType(b.email.Raw().Subject)
		if !ok {
			return nil, domain.NewPipelineError(domain.KindParse, domain.CodeFieldExtractionFailed, "transaction type could not be determined", nil)
		}
		c.TransactionType = t
		b.notes[FieldType] = "inferred from subject"
	}

	b.readCurrency()

	c.Quantity = b.number(FieldQuantity)
	c.Price = b.amount(FieldPrice)
	c.TotalAmount = b.amount(FieldTotal)
	c.Fees = b.amount(FieldFees)
	b.fillDerived(c)

	c.AccountTypeLabel = strings.TrimSpace(b.x.Values[FieldAccount])
	if c.AccountTypeLabel != "" {
		b.present[FieldAccount] = true
	} else {
		b.notes[FieldAccount] = "using default portfolio"
	}

	c.TransactionDate = b.date()

	c.Currency = b.currency
	if c.Currency == "" {
		c.Currency = strings.ToUpper(b.opts.DefaultCurrency)
		b.notes[FieldCurrency] = "using default " + c.Currency
	}

	if c.TransactionType == domain.TransactionTypeOptionExpired || c.TransactionType == domain.TransactionTypeOptionAssigned {
		c.AssetType = "option"
	}

	expected := expectedFields(c.TransactionType)
	found := 0
	for _, f := range expected {
		if b.present[f] {
			found++
			continue
		}
		if note, ok := b.notes[f]; ok {
			b.warn("Missing field: %s (%s)", f, note)
		} else {
			b.warn("Missing field: %s", f)
		}
	}

	weight := b.opts.Thresholds.TextMethodWeight
	if c.ParseMethod == domain.ParseMethodHTML {
		weight = b.opts.Thresholds.HTMLMethodWeight
	}
	confidence := weight * float64(found) / float64(len(expected))

	if msg, ok := b.crossCheck(c); !ok {
		confidence *= b.opts.Thresholds.MismatchPenalty
		b.warn("%s", msg)
	}
	c.Confidence = roundConfidence(confidence)

	orderIDs, confirmations := extractIdentifiers(b.email.SearchText())
	c.OrderIDs = domain.NormalizeIDSet(append(b.x.OrderIDs, orderIDs...))
	c.ConfirmationNumbers = withoutIDs(domain.NormalizeIDSet(append(b.x.ConfirmationNumbers, confirmations...)), c.OrderIDs)

	c.RawContentExcerpt = domain.TruncateRunes(strings.Join(strings.Fields(b.email.Text()), " "), domain.MaxExcerptRunes)

	return c, nil
}

func (b *candidateBuilder) readCurrency() {
	v, ok := b.x.Values[FieldCurrency]
	if !ok {
		return
	}
	code := strings.ToUpper(strings.TrimSpace(v))
	if !validCurrency(code) {
		code = detectCurrency(strings.ToUpper(v))
	}
	if code == "" {
		b.warn("Unrecognized currency %q", v)
		return
	}
	b.currency = code
	b.present[FieldCurrency] = true
}

// number parses a share count; sells are sometimes rendered negative
func (b *candidateBuilder) number(f Field) decimal.Decimal {
	v, ok := b.x.Values[f]
	if !ok {
		return decimal.Zero
	}
	d, err := parseNumber(v)
	if err != nil {
		b.warn("Could not parse %s %q", f, v)
		return decimal.Zero
	}
	b.present[f] = true
	return d.Abs()
}

// amount parses a money value, picking up its currency when none is known yet
func (b *candidateBuilder) amount(f Field) decimal.Decimal {
	v, ok := b.x.Values[f]
	if !ok {
		return decimal.Zero
	}
	d, cur, err := parseAmount(v)
	if err != nil {
		b.warn("Could not parse %s %q", f, v)
		return decimal.Zero
	}
	if cur != "" && b.currency == "" {
		b.currency = cur
		b.present[FieldCurrency] = true
	}
	b.present[f] = true
	return d.Abs()
}

// fillDerived computes a missing total or price from the other two values
func (b *candidateBuilder) fillDerived(c *domain.EmailCandidate) {
	hasQty, hasPrice, hasTotal := b.present[FieldQuantity], b.present[FieldPrice], b.present[FieldTotal]

	switch {
	case !hasTotal && hasQty && hasPrice:
		total := c.Quantity.Mul(c.Price)
		switch c.TransactionType {
		case domain.TransactionTypeBuy:
			total = total.Add(c.Fees)
		case domain.TransactionTypeSell:
			total = total.Sub(c.Fees)
		}
		c.TotalAmount = total
		b.notes[FieldTotal] = "computed from quantity × price"
	case !hasPrice && hasQty && hasTotal && c.Quantity.IsPositive():
		c.Price = c.TotalAmount.DivRound(c.Quantity, 6)
		b.notes[FieldPrice] = "derived from total / quantity"
	}
}

func (b *candidateBuilder) date() time.Time {
	if v, ok := b.x.Values[FieldDate]; ok {
		if t, err := parseDate(v); err == nil {
			b.present[FieldDate] = true
			return t
		}
		b.warn("Could not parse transactionDate %q", v)
	}

	if received := b.email.Raw().ReceivedAt; !received.IsZero() {
		b.notes[FieldDate] = "using email timestamp"
		return received.UTC()
	}
	b.notes[FieldDate] = "using processing time"
	return b.now().UTC()
}

// crossCheck verifies total ≈ quantity × price ± fees within the relative
// tolerance. It only runs when all three values were read from the email.
func (b *candidateBuilder) crossCheck(c *domain.EmailCandidate) (string, bool) {
	if !b.present[FieldQuantity] || !b.present[FieldPrice] || !b.present[FieldTotal] {
		return "", true
	}
	if !c.Quantity.IsPositive() || !c.Price.IsPositive() {
		return "", true
	}

	gross := c.Quantity.Mul(c.Price)
	tolerance := gross.Mul(decimal.NewFromFloat(b.opts.Thresholds.TotalTolerance))

	for _, expected := range []decimal.Decimal{gross, gross.Add(c.Fees), gross.Sub(c.Fees)} {
		if c.TotalAmount.Sub(expected).Abs().LessThanOrEqual(tolerance) {
			return "", true
		}
	}

	return fmt.Sprintf("Total amount %s does not match quantity × price %s (fees %s)",
		c.TotalAmount.String(), gross.String(), c.Fees.String()), false
}

func withoutIDs(ids, exclude []string) []string {
	if len(exclude) == 0 {
		return ids
	}
	skip := make(map[string]struct{}, len(exclude))
	for _, id := range exclude {
		skip[id] = struct{}{}
	}
	out := ids[:0]
	for _, id := range ids {
		if _, ok := skip[id]; !ok {
			out = append(out, id)
		}
	}
	return out
}

func roundConfidence(c float64) float64 {
	c = math.Max(0, math.Min(1, c))
	return math.Round(c*10000) / 10000
}
