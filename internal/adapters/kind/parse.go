package kind

import (
	"io"
	"strings"
	"time"

	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"
)

// Table layouts: the live sub page has nine or more columns with the market
// as an image alt in the first cell; the compact layout is
// name, market, stage, listing date, lead manager.
const fullLayoutCells = 9

func parseCompanyTable(r io.Reader, today time.Time) ([]map[string]any, error) {
	doc, err := html.Parse(r)
	if err != nil {
		return nil, err
	}
	var items []map[string]any
	for _, tr := range findAll(doc, atom.Tr) {
		var cells []*html.Node
		for c := tr.FirstChild; c != nil; c = c.NextSibling {
			if c.Type == html.ElementNode && c.DataAtom == atom.Td {
				cells = append(cells, c)
			}
		}
		if len(cells) < 5 {
			continue
		}
		text := make([]string, len(cells))
		for i, c := range cells {
			text[i] = cellText(c)
		}

		var corpName, market, stage, listingDate, leadManager string
		if len(cells) >= fullLayoutCells {
			corpName = text[0]
			market = imageAlt(cells[0])
			listingDate = text[7]
			leadManager = text[8]
			stage = deriveStage(listingDate, today)
		} else {
			corpName = text[0]
			market = text[1]
			listingDate = text[3]
			leadManager = text[4]
			stage = text[2]
			if stage == "" {
				stage = deriveStage(listingDate, today)
			}
		}
		if corpName == "" {
			continue
		}
		items = append(items, map[string]any{
			"corp_name":    corpName,
			"market":       market,
			"stage":        stage,
			"listing_date": listingDate,
			"lead_manager": leadManager,
		})
	}
	return items, nil
}

// deriveStage maps a listing date to offering, prelisting or listed.
func deriveStage(listingDate string, today time.Time) string {
	cleaned := strings.ReplaceAll(strings.TrimSpace(listingDate), "-", "")
	if len(cleaned) != 8 {
		return "offering"
	}
	target, err := time.Parse("20060102", cleaned)
	if err != nil {
		return "offering"
	}
	y, m, d := today.Date()
	if !target.Before(time.Date(y, m, d, 0, 0, 0, 0, time.UTC)) {
		return "prelisting"
	}
	return "listed"
}

func findAll(n *html.Node, a atom.Atom) []*html.Node {
	var out []*html.Node
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.ElementNode && n.DataAtom == a {
			out = append(out, n)
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(n)
	return out
}

func cellText(n *html.Node) string {
	var b strings.Builder
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		switch {
		case n.Type == html.TextNode:
			b.WriteString(n.Data)
		case n.Type == html.ElementNode && n.DataAtom == atom.Br:
			b.WriteByte(' ')
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(n)
	return strings.TrimSpace(strings.ReplaceAll(b.String(), "\u00a0", " "))
}

func imageAlt(n *html.Node) string {
	for _, img := range findAll(n, atom.Img) {
		for _, a := range img.Attr {
			if a.Key == "alt" && a.Val != "" {
				return strings.TrimSpace(a.Val)
			}
		}
	}
	return ""
}
