package erp

import (
	"fmt"
	"strings"

	"golang.org/x/net/html"
)

// Table is one HTML table flattened to trimmed cell text.
type Table struct {
	Headers []string
	Rows    [][]string
}

// ParseTables extracts every table from an HTML document. Headers come from
// th cells (or the first row when the table has no th).
func ParseTables(content string) ([]Table, error) {
	doc, err := html.Parse(strings.NewReader(content))
	if err != nil {
		return nil, fmt.Errorf("failed to parse page: %w", err)
	}

	var tables []Table
	var walk func(n *html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.ElementNode && n.Data == "table" {
			tables = append(tables, parseTable(n))
			return
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(doc)
	return tables, nil
}

// MainTable picks the grid out of a page: the table with the most rows.
func MainTable(tables []Table) (Table, bool) {
	best := -1
	for i, t := range tables {
		if best < 0 || len(t.Rows) > len(tables[best].Rows) {
			best = i
		}
	}
	if best < 0 {
		return Table{}, false
	}
	return tables[best], true
}

// ColumnIndex finds a header by name, case-insensitively, trying each
// candidate in order. Returns -1 when none match.
func (t Table) ColumnIndex(names ...string) int {
	for _, name := range names {
		for i, h := range t.Headers {
			if strings.EqualFold(h, name) {
				return i
			}
		}
	}
	return -1
}

// Cell returns the cell at row i, column idx. Out-of-range lookups return
// empty, so ColumnIndex results can be fed in without checking for -1.
func (t Table) Cell(i, idx int) string {
	if i < 0 || i >= len(t.Rows) {
		return ""
	}
	row := t.Rows[i]
	if idx < 0 || idx >= len(row) {
		return ""
	}
	return row[idx]
}

func parseTable(table *html.Node) Table {
	var t Table
	var rows []*html.Node
	var collectRows func(n *html.Node)
	collectRows = func(n *html.Node) {
		if n.Type == html.ElementNode && n.Data == "tr" {
			rows = append(rows, n)
			return
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			collectRows(c)
		}
	}
	collectRows(table)

	for _, tr := range rows {
		cells, hasHeader := rowCells(tr)
		if len(cells) == 0 {
			continue
		}
		if t.Headers == nil && (hasHeader || len(t.Rows) == 0 && len(rows) > 1) {
			t.Headers = cells
			continue
		}
		t.Rows = append(t.Rows, cells)
	}
	return t
}

func rowCells(tr *html.Node) (cells []string, hasHeader bool) {
	for c := tr.FirstChild; c != nil; c = c.NextSibling {
		if c.Type != html.ElementNode {
			continue
		}
		switch c.Data {
		case "th":
			hasHeader = true
			cells = append(cells, nodeText(c))
		case "td":
			cells = append(cells, nodeText(c))
		}
	}
	return cells, hasHeader
}

func nodeText(n *html.Node) string {
	var b strings.Builder
	var walk func(n *html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.TextNode {
			b.WriteString(n.Data)
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(n)
	return strings.Join(strings.Fields(b.String()), " ")
}
