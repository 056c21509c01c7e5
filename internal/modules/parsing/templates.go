package parsing

import (
	"regexp"
	"strings"

	"github.com/aristath/tradeinbox/internal/domain"
)

// Template recognizes one broker's confirmation layout and extracts raw
// field values from it. Templates are tried in order; adding a broker
// means adding a Template.
type Template interface {
	Name() string
	Broker() string
	Method() domain.ParseMethod
	// Matches checks the structural signature without extracting
	Matches(e *Email) bool
	Extract(e *Email) *Extraction
}

// Extraction holds raw string values captured by a template
type Extraction struct {
	Values              map[Field]string
	OrderIDs            []string
	ConfirmationNumbers []string
}

func newExtraction() *Extraction {
	return &Extraction{Values: make(map[Field]string)}
}

// Set records v for f unless f already has a value. Identifier fields
// accumulate instead.
func (x *Extraction) Set(f Field, v string) {
	v = strings.TrimSpace(v)
	if v == "" {
		return
	}
	switch f {
	case FieldOrderID:
		x.OrderIDs = append(x.OrderIDs, v)
		return
	case FieldConfirmation:
		x.ConfirmationNumbers = append(x.ConfirmationNumbers, v)
		return
	}
	if _, exists := x.Values[f]; !exists {
		x.Values[f] = v
	}
}

// Has reports whether f was captured
func (x *Extraction) Has(f Field) bool {
	_, ok := x.Values[f]
	return ok
}

// DefaultTemplates returns the built-in templates in preference order:
// broker-specific HTML, broker-specific text, then generic layouts.
func DefaultTemplates() []Template {
	wealthsimple := func(e *Email) bool { return e.Mentions("wealthsimple") }
	questrade := func(e *Email) bool { return e.Mentions("questrade") }
	anySource := func(e *Email) bool { return true }

	return []Template{
		&htmlTableTemplate{name: "wealthsimple-html", broker: "wealthsimple", signature: wealthsimple, minLabels: 2},
		&labeledTextTemplate{name: "wealthsimple-text", broker: "wealthsimple", signature: wealthsimple, minLabels: 1, narratives: wealthsimpleNarratives},
		&htmlTableTemplate{name: "questrade-html", broker: "questrade", signature: questrade, minLabels: 2},
		&labeledTextTemplate{name: "questrade-text", broker: "questrade", signature: questrade, minLabels: 1, narratives: questradeNarratives},
		&htmlTableTemplate{name: "generic-html", broker: "", signature: anySource, minLabels: 3, requireSymbol: true},
		&labeledTextTemplate{name: "generic-text", broker: "", signature: anySource, minLabels: 3, requireSymbol: true, narratives: genericNarratives},
	}
}

// htmlTableTemplate reads label/value pairs out of HTML table cells
type htmlTableTemplate struct {
	signature     func(e *Email) bool
	name          string
	broker        string
	minLabels     int
	requireSymbol bool
}

func (t *htmlTableTemplate) Name() string               { return t.name }
func (t *htmlTableTemplate) Broker() string             { return t.broker }
func (t *htmlTableTemplate) Method() domain.ParseMethod { return domain.ParseMethodHTML }

func (t *htmlTableTemplate) Matches(e *Email) bool {
	if !e.HasHTML() || len(e.Rows()) == 0 || !t.signature(e) {
		return false
	}
	x := t.Extract(e)
	return labelCount(x) >= t.minLabels && (!t.requireSymbol || x.Has(FieldSymbol))
}

func (t *htmlTableTemplate) Extract(e *Email) *Extraction {
	x := newExtraction()
	rows := e.Rows()

	for i := 0; i < len(rows); i++ {
		row := rows[i]

		// Header row followed by a value row of the same width
		if row.Header && i+1 < len(rows) && !rows[i+1].Header && len(rows[i+1].Cells) == len(row.Cells) && len(row.Cells) > 1 {
			if headerLabels(row) > 0 {
				for j, label := range row.Cells {
					if f, ok := resolveLabel(label); ok {
						x.Set(f, rows[i+1].Cells[j])
					}
				}
				i++
				continue
			}
		}

		switch {
		case len(row.Cells) >= 2:
			if f, ok := resolveLabel(row.Cells[0]); ok {
				x.Set(f, firstNonEmpty(row.Cells[1:]))
			}
		case len(row.Cells) == 1:
			if label, value, ok := splitLabeled(row.Cells[0]); ok {
				if f, ok := resolveLabel(label); ok {
					x.Set(f, value)
				}
			}
		}
	}
	return x
}

func headerLabels(row Row) int {
	n := 0
	for _, c := range row.Cells {
		if _, ok := resolveLabel(c); ok {
			n++
		}
	}
	return n
}

// narrative captures fields from a sentence such as
// "You bought 10 shares of AAPL at $150.25".
type narrative struct {
	re     *regexp.Regexp
	groups []Field          // capture group i+1 feeds groups[i]
	fixed  map[Field]string // values implied by the sentence itself
}

// amountRe captures the number and an optional trailing upper-case ISO code
const amountRe = `(?:[A-Z]{0,3}\$|€|£)?\s*([\d,]+(?:\.\d+)?)(?-i:[ \t]*([A-Z]{3})\b)?`

var (
	narrativeTrade = narrative{
		re:     regexp.MustCompile(`(?i)\byou\s+(bought|sold|purchased)\s+([\d,]+(?:\.\d+)?)\s+shares?\s+of\s+([A-Za-z0-9.\-]+)(?:\s+(?:at|@)\s+(?:an?\s+average\s+price\s+of\s+)?` + amountRe + `)?`),
		groups: []Field{FieldType, FieldQuantity, FieldSymbol, FieldPrice, FieldCurrency},
	}
	narrativeDividend = narrative{
		re:     regexp.MustCompile(`(?i)\b(?:you\s+)?(?:received|earned|got)\s+(?:a\s+)?dividend\s+(?:payment\s+)?of\s+` + amountRe + `\s*(?:[A-Z]{3}\s+)?(?:from|for|on)\s+([A-Za-z0-9.\-]+)`),
		groups: []Field{FieldTotal, FieldCurrency, FieldSymbol},
		fixed:  map[Field]string{FieldType: "dividend"},
	}
	narrativeTicket = narrative{
		re:     regexp.MustCompile(`(?i)\b(bought|sold)\s+([\d,]+(?:\.\d+)?)\s+([A-Za-z][A-Za-z0-9.\-]{0,9})\s+@\s+` + amountRe),
		groups: []Field{FieldType, FieldQuantity, FieldSymbol, FieldPrice, FieldCurrency},
	}
	narrativeExpiry = narrative{
		re:     regexp.MustCompile(`(?i)\byour\s+option\s+([A-Za-z0-9.\-]+)\s+(?:has\s+)?expired\b`),
		groups: []Field{FieldSymbol},
		fixed:  map[Field]string{FieldType: "option_expired", FieldQuantity: "0", FieldPrice: "0", FieldTotal: "0"},
	}
)

var (
	wealthsimpleNarratives = []narrative{narrativeTrade, narrativeDividend, narrativeExpiry}
	questradeNarratives    = []narrative{narrativeTicket, narrativeTrade, narrativeDividend}
	genericNarratives      = []narrative{narrativeTrade, narrativeTicket, narrativeDividend, narrativeExpiry}
)

// labeledTextTemplate reads "Label: value" lines and broker sentences
type labeledTextTemplate struct {
	signature     func(e *Email) bool
	name          string
	broker        string
	narratives    []narrative
	minLabels     int
	requireSymbol bool
}

func (t *labeledTextTemplate) Name() string               { return t.name }
func (t *labeledTextTemplate) Broker() string             { return t.broker }
func (t *labeledTextTemplate) Method() domain.ParseMethod { return domain.ParseMethodText }

func (t *labeledTextTemplate) Matches(e *Email) bool {
	if e.Text() == "" || !t.signature(e) {
		return false
	}
	x, narrated := t.extract(e)
	if t.requireSymbol && !x.Has(FieldSymbol) {
		return false
	}
	return narrated || labelCount(x) >= t.minLabels
}

func (t *labeledTextTemplate) Extract(e *Email) *Extraction {
	x, _ := t.extract(e)
	return x
}

func (t *labeledTextTemplate) extract(e *Email) (*Extraction, bool) {
	x := newExtraction()

	for _, line := range strings.Split(e.Text(), "\n") {
		label, value, ok := splitLabeled(line)
		if !ok {
			continue
		}
		if f, ok := resolveLabel(label); ok {
			x.Set(f, value)
		}
	}

	narrated := false
	for _, n := range t.narratives {
		m := n.re.FindStringSubmatch(e.Text())
		if m == nil {
			continue
		}
		narrated = true
		for i, f := range n.groups {
			if i+1 < len(m) {
				x.Set(f, m[i+1])
			}
		}
		for f, v := range n.fixed {
			x.Set(f, v)
		}
	}

	return x, narrated
}

var labeledLine = regexp.MustCompile(`^\s*[-*•]?\s*([A-Za-z][A-Za-z0-9 #/&().'-]{0,40}?)\s*[:：]\s*(.+?)\s*$`)

// splitLabeled splits "Label: value"
func splitLabeled(line string) (string, string, bool) {
	m := labeledLine.FindStringSubmatch(line)
	if m == nil {
		return "", "", false
	}
	return m[1], m[2], true
}

// labelCount counts distinct captured fields, identifiers included
func labelCount(x *Extraction) int {
	n := len(x.Values)
	if len(x.OrderIDs) > 0 {
		n++
	}
	if len(x.ConfirmationNumbers) > 0 {
		n++
	}
	return n
}

func firstNonEmpty(values []string) string {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}
