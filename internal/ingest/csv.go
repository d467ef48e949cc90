// Package ingest adapts external tabular formats onto the
// dataset.TableSource boundary. The analytical core never parses files;
// these adapters own delimiters, headers, character sets and null-token
// conventions and hand over a plain table.
package ingest

import (
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"strings"

	"golang.org/x/text/encoding"
	"golang.org/x/text/encoding/charmap"
	"golang.org/x/text/transform"

	"neurolab/internal/dataset"
)

// DefaultNullTokens are the cell renderings treated as absent values when
// an adapter is given no explicit set. The empty string is always absent.
var DefaultNullTokens = []string{"", "NA", "NaN", "null"}

// CSVAdapter reads delimiter-separated text into a TableSource.
//
// Column types come from Columns, matched by normalized header name (or by
// position when the file has no header). Source columns absent from
// Columns are dropped; declared columns absent from the source surface
// later as schema violations, not here.
type CSVAdapter struct {
	// Columns declares the expected columns and their types. Required.
	Columns []dataset.ColumnSpec

	// Comma is the field delimiter. Zero means ','.
	Comma rune

	// NoHeader treats the first record as data and matches Columns by
	// position instead of by header name.
	NoHeader bool

	// Charset names the source encoding: "utf-8" (default), "latin-1",
	// "iso-8859-1" or "windows-1252". A leading UTF-8 BOM is always
	// stripped.
	Charset string

	// NullTokens are cell renderings mapped to absent cells. Nil means
	// DefaultNullTokens; matching is exact after trimming.
	NullTokens []string

	// LazyQuotes is passed through to the csv reader for files with
	// unescaped quotes in the wild.
	LazyQuotes bool
}

// ReadFile opens path and delegates to Read.
func (a CSVAdapter) ReadFile(path string) (dataset.TableSource, error) {
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

// Read consumes r fully and returns the table. Cells are strings (or nil
// for null tokens); type coercion belongs to the cleaning stage, which
// reports per-cell failures instead of aborting ingestion.
func (a CSVAdapter) Read(r io.Reader) (dataset.TableSource, error) {
	if len(a.Columns) == 0 {
		return dataset.TableSource{}, fmt.Errorf("ingest: csv adapter has no declared columns")
	}
	dec, err := decoderFor(a.Charset)
	if err != nil {
		return dataset.TableSource{}, err
	}
	if dec != nil {
		r = transform.NewReader(r, dec)
	}

	cr := csv.NewReader(r)
	cr.Comma = a.Comma
	if cr.Comma == 0 {
		cr.Comma = ','
	}
	cr.LazyQuotes = a.LazyQuotes
	cr.FieldsPerRecord = -1
	cr.ReuseRecord = true

	// colIx[i] is the source field index feeding declared column i, or -1.
	colIx := make([]int, len(a.Columns))
	line := 0
	if a.NoHeader {
		for i := range colIx {
			colIx[i] = i
		}
	} else {
		hdr, err := cr.Read()
		if err == io.EOF {
			return dataset.TableSource{}, fmt.Errorf("ingest: empty csv input")
		}
		if err != nil {
			return dataset.TableSource{}, fmt.Errorf("ingest: read header: %w", err)
		}
		line++
		srcIx := make(map[string]int, len(hdr))
		for i, h := range hdr {
			if i == 0 {
				h = strings.TrimPrefix(h, "\uFEFF")
			}
			srcIx[NormalizeHeader(h)] = i
		}
		for i, spec := range a.Columns {
			colIx[i] = -1
			if si, ok := srcIx[NormalizeHeader(spec.Name)]; ok {
				colIx[i] = si
			}
		}
	}

	nulls := nullSet(a.NullTokens)
	var rows [][]any
	for {
		rec, err := cr.Read()
		if err == io.EOF {
			break
		}
		line++
		if err != nil {
			return dataset.TableSource{}, fmt.Errorf("ingest: line %d: %w", line, err)
		}
		row := make([]any, len(a.Columns))
		for i, si := range colIx {
			if si < 0 || si >= len(rec) {
				continue
			}
			v := strings.TrimSpace(rec[si])
			if _, null := nulls[v]; null {
				continue
			}
			row[i] = v
		}
		rows = append(rows, row)
	}

	return dataset.TableSource{Columns: append([]dataset.ColumnSpec(nil), a.Columns...), Rows: rows}, nil
}

// NormalizeHeader maps a source header onto the declared column naming
// convention: trimmed, lowercased, spaces collapsed to underscores.
func NormalizeHeader(h string) string {
	return strings.ReplaceAll(strings.ToLower(strings.TrimSpace(h)), " ", "_")
}

func decoderFor(charset string) (transform.Transformer, error) {
	var enc *encoding.Decoder
	switch strings.ToLower(strings.TrimSpace(charset)) {
	case "", "utf8", "utf-8":
		return nil, nil
	case "latin1", "latin-1", "iso-8859-1":
		enc = charmap.ISO8859_1.NewDecoder()
	case "windows-1252", "cp1252":
		enc = charmap.Windows1252.NewDecoder()
	default:
		return nil, fmt.Errorf("ingest: unsupported charset %q", charset)
	}
	return enc, nil
}

func nullSet(tokens []string) map[string]struct{} {
	if tokens == nil {
		tokens = DefaultNullTokens
	}
	set := make(map[string]struct{}, len(tokens))
	for _, t := range tokens {
		set[t] = struct{}{}
	}
	return set
}
