package parsing

import (
	"strings"

	"github.com/aristath/tradeinbox/internal/domain"
	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"
)

// Email is the normalized form of a raw email that templates match against
type Email struct {
	raw      domain.RawEmail
	text     string // plain text body, or text rendered from HTML
	htmlText string // text rendered from HTML, empty without HTML
	lower    string // lower-cased sender, subject and text for signature checks
	rows     []Row  // table rows found in the HTML body
	hasHTML  bool
}

// Row is one HTML table row as cell texts. Header marks rows made only of <th>.
type Row struct {
	Cells  []string
	Header bool
}

// NewEmail normalizes raw for template matching
func NewEmail(raw domain.RawEmail) *Email {
	v := &Email{raw: raw}

	if strings.TrimSpace(raw.HTMLBody) != "" {
		if doc, err := html.Parse(strings.NewReader(raw.HTMLBody)); err == nil {
			v.hasHTML = true
			v.rows = tableRows(doc)
			v.htmlText = renderText(doc)
		}
	}

	v.text = normalizeText(raw.TextBody)
	if v.text == "" {
		v.text = v.htmlText
	}

	v.lower = strings.ToLower(raw.FromAddress + "\n" + raw.Subject + "\n" + v.SearchText())
	return v
}

// Raw returns the email as received
func (v *Email) Raw() domain.RawEmail { return v.raw }

// Text returns the plain text body, rendered from HTML when absent
func (v *Email) Text() string { return v.text }

// SearchText returns every textual rendering of the email, for identifier scans
func (v *Email) SearchText() string {
	if v.htmlText == "" || v.htmlText == v.text {
		return v.text
	}
	return v.text + "\n" + v.htmlText
}

// Rows returns the HTML table rows in document order
func (v *Email) Rows() []Row { return v.rows }

// HasHTML reports whether the email carried a parseable HTML body
func (v *Email) HasHTML() bool { return v.hasHTML }

// Empty reports whether there is nothing to extract from
func (v *Email) Empty() bool {
	return v.text == "" && len(v.rows) == 0
}

// Mentions reports whether the sender, subject or body contain word (lower case)
func (v *Email) Mentions(word string) bool {
	return strings.Contains(v.lower, word)
}

// tableRows collects every <tr> in document order
func tableRows(doc *html.Node) []Row {
	var rows []Row
	var walk func(n *html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.ElementNode && n.DataAtom == atom.Tr {
			if row, ok := readRow(n); ok {
				rows = append(rows, row)
			}
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(doc)
	return rows
}

func readRow(tr *html.Node) (Row, bool) {
	row := Row{Header: true}
	for c := tr.FirstChild; c != nil; c = c.NextSibling {
		if c.Type != html.ElementNode {
			continue
		}
		switch c.DataAtom {
		case atom.Td:
			row.Header = false
		case atom.Th:
		default:
			continue
		}
		row.Cells = append(row.Cells, nodeText(c))
	}
	return row, len(row.Cells) > 0
}

// nodeText returns the whitespace-collapsed text under n
func nodeText(n *html.Node) string {
	var b strings.Builder
	var walk func(n *html.Node)
	walk = func(n *html.Node) {
		switch n.Type {
		case html.TextNode:
			b.WriteString(n.Data)
			b.WriteByte(' ')
		case html.ElementNode:
			if n.DataAtom == atom.Script || n.DataAtom == atom.Style {
				return
			}
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(n)
	return strings.Join(strings.Fields(b.String()), " ")
}

var blockElements = map[atom.Atom]bool{
	atom.P: true, atom.Div: true, atom.Br: true, atom.Li: true, atom.Ul: true, atom.Ol: true,
	atom.Table: true, atom.Tbody: true, atom.Thead: true, atom.H1: true, atom.H2: true,
	atom.H3: true, atom.H4: true, atom.H5: true, atom.H6: true, atom.Section: true,
	atom.Article: true, atom.Header: true, atom.Footer: true, atom.Hr: true,
}

// renderText flattens HTML into lines. Table rows become "cell: cell"
// lines so labeled-text extraction also works on HTML-only emails.
func renderText(doc *html.Node) string {
	var b strings.Builder
	var walk func(n *html.Node)
	walk = func(n *html.Node) {
		switch n.Type {
		case html.TextNode:
			b.WriteString(n.Data)
			return
		case html.ElementNode:
			switch {
			case n.DataAtom == atom.Script || n.DataAtom == atom.Style || n.DataAtom == atom.Head:
				return
			case n.DataAtom == atom.Tr:
				if row, ok := readRow(n); ok {
					b.WriteByte('\n')
					b.WriteString(strings.Join(row.Cells, ": "))
					b.WriteByte('\n')
				}
				return
			case blockElements[n.DataAtom]:
				b.WriteByte('\n')
				defer b.WriteByte('\n')
			}
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(doc)
	return normalizeText(b.String())
}

// normalizeText collapses runs of whitespace inside lines and drops blank lines
func normalizeText(s string) string {
	s = strings.ReplaceAll(s, "\r\n", "\n")
	lines := strings.Split(s, "\n")
	out := lines[:0]
	for _, l := range lines {
		l = strings.Join(strings.Fields(l), " ")
		if l != "" {
			out = append(out, l)
		}
	}
	return strings.Join(out, "\n")
}
