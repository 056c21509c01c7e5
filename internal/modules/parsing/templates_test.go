package parsing

import (
	"testing"

	"github.com/aristath/tradeinbox/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHTMLTable_HeaderRowLayout(t *testing.T) {
	e := NewEmail(domain.RawEmail{
		FromAddress: "trades@broker.example",
		HTMLBody: `<table>
			<tr><th>Symbol</th><th>Quantity</th><th>Price</th><th>Date</th></tr>
			<tr><td>TSLA</td><td>3</td><td>$200.00 USD</td><td>2024-01-15</td></tr>
		</table>`,
	})

	tmpl := &htmlTableTemplate{name: "generic-html", signature: func(*Email) bool { return true }, minLabels: 3, requireSymbol: true}
	require.True(t, tmpl.Matches(e))

	x := tmpl.Extract(e)
	assert.Equal(t, "TSLA", x.Values[FieldSymbol])
	assert.Equal(t, "3", x.Values[FieldQuantity])
	assert.Equal(t, "$200.00 USD", x.Values[FieldPrice])
	assert.Equal(t, "2024-01-15", x.Values[FieldDate])
}

func TestHTMLTable_SingleCellRows(t *testing.T) {
	e := NewEmail(domain.RawEmail{
		HTMLBody: `<table><tr><td>Symbol: <b>VOO</b></td></tr><tr><td>Shares: 4</td></tr><tr><td>Price: 410.10</td></tr></table>`,
	})

	tmpl := &htmlTableTemplate{name: "t", signature: func(*Email) bool { return true }, minLabels: 3}
	x := tmpl.Extract(e)
	assert.Equal(t, "VOO", x.Values[FieldSymbol])
	assert.Equal(t, "4", x.Values[FieldQuantity])
	assert.Equal(t, "410.10", x.Values[FieldPrice])
}

func TestExtraction_SetKeepsFirstValue(t *testing.T) {
	x := newExtraction()
	x.Set(FieldSymbol, "AAPL")
	x.Set(FieldSymbol, "MSFT")
	x.Set(FieldPrice, "   ")
	x.Set(FieldOrderID, "A1")
	x.Set(FieldOrderID, "B2")

	assert.Equal(t, "AAPL", x.Values[FieldSymbol])
	assert.False(t, x.Has(FieldPrice))
	assert.Equal(t, []string{"A1", "B2"}, x.OrderIDs)
	assert.Equal(t, 2, labelCount(x))
}

func TestEmail_RendersTablesAsLabeledLines(t *testing.T) {
	e := NewEmail(domain.RawEmail{
		HTMLBody: `<html><head><title>x</title><script>var a = 1;</script></head>
			<body><p>Order filled</p><table><tr><td>Symbol</td><td>AAPL</td></tr></table></body></html>`,
	})

	assert.True(t, e.HasHTML())
	assert.Equal(t, "Order filled\nSymbol: AAPL", e.Text())
	assert.False(t, e.Empty())
}

func TestEmail_PrefersPlainText(t *testing.T) {
	e := NewEmail(domain.RawEmail{
		TextBody: "Plain   body\r\n\r\nsecond line",
		HTMLBody: `<p>Order ID: WS-5550001</p>`,
	})
	assert.Equal(t, "Plain body\nsecond line", e.Text())
	assert.Contains(t, e.SearchText(), "WS-5550001")
}

func TestDefaultTemplates_Order(t *testing.T) {
	var names []string
	for _, tmpl := range DefaultTemplates() {
		names = append(names, tmpl.Name())
	}
	assert.Equal(t, []string{
		"wealthsimple-html", "wealthsimple-text",
		"questrade-html", "questrade-text",
		"generic-html", "generic-text",
	}, names)
}
