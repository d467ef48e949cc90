package dataset

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Canonical encoding separators. Cells within a column are separated by the
// unit separator, columns by the record separator, so empty columns and
// empty datasets stay unambiguous.
const (
	cellSep = "\x1f"
	colSep  = "\x1e"
)

// fingerprint hashes the full dataset content. Invalid cells contribute the
// literal "null" so validity flips change the hash even when the stored
// value does not.
func fingerprint(ds *Dataset) string {
	h := sha256.New()
	var b strings.Builder
	var scratch [64]byte
	for i, c := range ds.cols {
		if i > 0 {
			b.WriteString(colSep)
		}
		b.WriteString(c.Name)
		b.WriteByte('=')
		b.WriteString(string(c.Type))
		for j, v := range c.Values {
			b.WriteString(cellSep)
			if !c.Valid[j] {
				b.WriteString("null")
				continue
			}
			appendCanonicalValue(&b, v, &scratch)
		}
		h.Write([]byte(b.String()))
		b.Reset()
	}
	return hex.EncodeToString(h.Sum(nil))
}

// appendCanonicalValue renders a cell into its canonical hash form. The
// renderings must never change between releases: fingerprints are persisted
// in run records and compared across processes.
func appendCanonicalValue(b *strings.Builder, v any, scratch *[64]byte) {
	switch t := v.(type) {
	case nil:
		b.WriteString("null")

	case string:
		b.WriteString(t)

	case bool:
		if t {
			b.WriteString("true")
		} else {
			b.WriteString("false")
		}

	case int64:
		b.Write(strconv.AppendInt(scratch[:0], t, 10))

	case float64:
		b.WriteString(strconv.FormatFloat(t, 'g', -1, 64))

	case time.Time:
		tt := t
		if !tt.IsZero() {
			tt = tt.UTC()
		}
		b.WriteString(tt.Format(time.RFC3339Nano))

	default:
		// Cells are normalized at construction; anything else is a raw
		// source value awaiting validation. Render it stably.
		b.WriteString(fmt.Sprintf("%v", t))
	}
}
