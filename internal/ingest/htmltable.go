package ingest

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"neurolab/internal/dataset"
)

// HTMLTableAdapter extracts one <table> element into a TableSource.
// Scraped reference tables are a common secondary data source; anything
// fancier than a plain header-plus-rows table belongs upstream.
type HTMLTableAdapter struct {
	// Columns declares the expected columns and their types, matched to
	// the table header by normalized name. Required.
	Columns []dataset.ColumnSpec

	// Selector picks the table element. Empty means "table" (the first
	// table in the document).
	Selector string

	// NullTokens are cell renderings mapped to absent cells. Nil means
	// DefaultNullTokens.
	NullTokens []string
}

// ReadFile opens path and delegates to Read.
func (a HTMLTableAdapter) ReadFile(path string) (dataset.TableSource, error) {
	f, err := os.Open(path)
	if err != nil {
		return dataset.TableSource{}, fmt.Errorf("ingest: open %s: %w", path, err)
	}
	defer f.Close()
	src, err := a.Read(f)
	if err != nil {
		return dataset.TableSource{}, fmt.Errorf("ingest: %s: %w", path, err)
	}
	return src, nil
}

// Read parses the document and extracts the first table matched by the
// selector. The header row comes from <th> cells (falling back to the
// first row); data rows are <td> cells in DOM order.
func (a HTMLTableAdapter) Read(r io.Reader) (dataset.TableSource, error) {
	if len(a.Columns) == 0 {
		return dataset.TableSource{}, fmt.Errorf("ingest: html adapter has no declared columns")
	}
	doc, err := goquery.NewDocumentFromReader(r)
	if err != nil {
		return dataset.TableSource{}, fmt.Errorf("ingest: parse html: %w", err)
	}
	sel := a.Selector
	if sel == "" {
		sel = "table"
	}
	table := doc.Find(sel).First()
	if table.Length() == 0 {
		return dataset.TableSource{}, fmt.Errorf("ingest: no table matches selector %q", sel)
	}

	var header []string
	table.Find("tr").First().Find("th").Each(func(_ int, cell *goquery.Selection) {
		header = append(header, strings.TrimSpace(cell.Text()))
	})
	headerInFirstRow := len(header) == 0
	if headerInFirstRow {
		table.Find("tr").First().Find("td").Each(func(_ int, cell *goquery.Selection) {
			header = append(header, strings.TrimSpace(cell.Text()))
		})
	}
	if len(header) == 0 {
		return dataset.TableSource{}, fmt.Errorf("ingest: table has no header row")
	}

	colIx := make([]int, len(a.Columns))
	srcIx := make(map[string]int, len(header))
	for i, h := range header {
		srcIx[NormalizeHeader(h)] = i
	}
	for i, spec := range a.Columns {
		colIx[i] = -1
		if si, ok := srcIx[NormalizeHeader(spec.Name)]; ok {
			colIx[i] = si
		}
	}

	nulls := nullSet(a.NullTokens)
	var rows [][]any
	table.Find("tr").Each(func(ri int, tr *goquery.Selection) {
		if ri == 0 {
			// Header row, whichever form it took.
			return
		}
		var cells []string
		tr.Find("td").Each(func(_ int, td *goquery.Selection) {
			cells = append(cells, strings.TrimSpace(td.Text()))
		})
		if len(cells) == 0 {
			return
		}
		row := make([]any, len(a.Columns))
		for i, si := range colIx {
			if si < 0 || si >= len(cells) {
				continue
			}
			if _, null := nulls[cells[si]]; null {
				continue
			}
			row[i] = cells[si]
		}
		rows = append(rows, row)
	})

	return dataset.TableSource{Columns: append([]dataset.ColumnSpec(nil), a.Columns...), Rows: rows}, nil
}
