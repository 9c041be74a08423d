// Package content renders the daily market summary from a fixed template catalogue.
package content

import (
	"bytes"
	"fmt"
	"html"
	"strings"
	"text/template"
	"time"

	"github.com/dustin/go-humanize"

	"castbot/internal/market"
)

// Version identifies the template catalogue. Bump it when templates change.
const Version = "v3"

var catalogue = []string{
	`<b>📊 Daily {{coin .Data.Coin}} Update</b>

Price: <b>{{usd .Data.Price}}</b>
24h change: {{.Data.Change24h}} {{trend .Data.Change24h}}
Market cap: {{cap .Data.MarketCap}}

<i>{{.Date}}</i>`,

	`<b>{{coin .Data.Coin}} market summary</b> {{trend .Data.Change24h}}

• Price: {{usd .Data.Price}}
• Change (24h): {{.Data.Change24h}}
• Market cap: {{cap .Data.MarketCap}}

Stay informed. <i>{{.Date}}</i>`,

	`Good morning! ☀️

{{coin .Data.Coin}} is trading at <b>{{usd .Data.Price}}</b>, {{if up .Data.Change24h}}up{{else}}down{{end}} {{abs .Data.Change24h}} over the last 24 hours.
Total market cap stands at {{cap .Data.MarketCap}}.

<i>{{.Date}}</i>`,

	`<b>Market pulse</b> · {{.Date}}

{{coin .Data.Coin}}: {{usd .Data.Price}} ({{.Data.Change24h}})
Cap: {{cap .Data.MarketCap}}
{{if .Data.Fallback}}
<i>Live data was unavailable; figures are estimates.</i>{{end}}`,
}

var funcs = template.FuncMap{
	"coin": func(s string) string {
		switch strings.ToLower(s) {
		case "bitcoin":
			return "Bitcoin"
		case "ethereum":
			return "Ethereum"
		}
		return html.EscapeString(s)
	},
	"usd": func(v float64) string { return "$" + humanize.CommafWithDigits(v, 2) },
	"cap": FormatCap,
	"up":  func(change string) bool { return !strings.HasPrefix(change, "-") },
	"abs": func(change string) string { return strings.TrimLeft(change, "+-") },
	"trend": func(change string) string {
		if strings.HasPrefix(change, "-") {
			return "📉"
		}
		return "📈"
	},
}

type view struct {
	Data market.Data
	Date string
}

// Generator renders summaries. It holds no mutable state and is safe for concurrent use.
type Generator struct {
	tmpls []*template.Template
}

func NewGenerator() (*Generator, error) {
	g := &Generator{tmpls: make([]*template.Template, 0, len(catalogue))}
	for i, src := range catalogue {
		t, err := template.New(fmt.Sprintf("%s-%d", Version, i)).Funcs(funcs).Parse(src)
		if err != nil {
			return nil, fmt.Errorf("content: template %d: %w", i, err)
		}
		g.tmpls = append(g.tmpls, t)
	}
	return g, nil
}

// Len reports the catalogue size.
func (g *Generator) Len() int { return len(g.tmpls) }

// Compose renders the template selected by the hour bucket of at.
func (g *Generator) Compose(d market.Data, at time.Time) (string, error) {
	if len(g.tmpls) == 0 {
		return "", fmt.Errorf("content: empty catalogue")
	}
	var buf bytes.Buffer
	v := view{Data: d, Date: at.UTC().Format("Mon, 02 Jan 2006")}
	if err := g.tmpls[Index(at, len(g.tmpls))].Execute(&buf, v); err != nil {
		return "", fmt.Errorf("content: render: %w", err)
	}
	return strings.TrimSpace(buf.String()), nil
}

// Index selects a catalogue entry from the hour bucket of t: hours since the
// Unix epoch modulo n. Two calls within the same hour pick the same entry.
func Index(t time.Time, n int) int {
	if n <= 0 {
		return 0
	}
	h := t.Unix() / 3600
	idx := int(h % int64(n))
	if idx < 0 {
		idx += n
	}
	return idx
}

// FormatCap renders a market cap compactly, e.g. "$1.28T" or "$845.1B".
func FormatCap(v float64) string {
	switch {
	case v >= 1e12:
		return "$" + humanize.CommafWithDigits(v/1e12, 2) + "T"
	case v >= 1e9:
		return "$" + humanize.CommafWithDigits(v/1e9, 1) + "B"
	case v >= 1e6:
		return "$" + humanize.CommafWithDigits(v/1e6, 1) + "M"
	}
	return "$" + humanize.CommafWithDigits(v, 0)
}
