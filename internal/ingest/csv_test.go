package ingest

import (
	"strings"
	"testing"

	"neurolab/internal/dataset"
)

func specs() []dataset.ColumnSpec {
	return []dataset.ColumnSpec{
		{Name: "subject_id", Type: dataset.Int},
		{Name: "reaction_ms", Type: dataset.Float},
		{Name: "condition", Type: dataset.String},
	}
}

func TestCSVRead_HeaderMatchingAndNulls(t *testing.T) {
	t.Parallel()

	in := "Subject ID,Reaction MS,condition\n1,310.5,control\n2,NA,treatment\n3,,control\n"
	src, err := CSVAdapter{Columns: specs()}.Read(strings.NewReader(in))
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	if len(src.Rows) != 3 {
		t.Fatalf("got %d rows, want 3", len(src.Rows))
	}
	if src.Rows[0][0] != "1" || src.Rows[0][1] != "310.5" || src.Rows[0][2] != "control" {
		t.Fatalf("row 0 = %v", src.Rows[0])
	}
	// "NA" and the empty string are null tokens by default.
	if src.Rows[1][1] != nil {
		t.Fatalf("NA cell survived: %v", src.Rows[1][1])
	}
	if src.Rows[2][1] != nil {
		t.Fatalf("empty cell survived: %v", src.Rows[2][1])
	}

	if _, err := dataset.FromSource(src); err != nil {
		t.Fatalf("FromSource: %v", err)
	}
}

func TestCSVRead_BOMAndMissingColumn(t *testing.T) {
	t.Parallel()

	in := "\uFEFFsubject_id,condition\n1,control\n"
	src, err := CSVAdapter{Columns: specs()}.Read(strings.NewReader(in))
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	if src.Rows[0][0] != "1" {
		t.Fatalf("BOM broke the first header: row = %v", src.Rows[0])
	}
	// reaction_ms is absent from the source: every cell nil, the schema
	// validator decides whether that is fatal.
	if src.Rows[0][1] != nil {
		t.Fatalf("absent column produced value %v", src.Rows[0][1])
	}
}

func TestCSVRead_NoHeaderAndDelimiter(t *testing.T) {
	t.Parallel()

	in := "1;310.5;control\n2;295.0;treatment\n"
	src, err := CSVAdapter{Columns: specs(), NoHeader: true, Comma: ';'}.Read(strings.NewReader(in))
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	if len(src.Rows) != 2 || src.Rows[1][2] != "treatment" {
		t.Fatalf("rows = %v", src.Rows)
	}
}

func TestCSVRead_CustomNullTokens(t *testing.T) {
	t.Parallel()

	in := "subject_id,reaction_ms,condition\n1,-999,control\n"
	a := CSVAdapter{Columns: specs(), NullTokens: []string{"", "-999"}}
	src, err := a.Read(strings.NewReader(in))
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	if src.Rows[0][1] != nil {
		t.Fatalf("custom null token kept: %v", src.Rows[0][1])
	}
}

func TestCSVRead_Latin1(t *testing.T) {
	t.Parallel()

	// "Müller" in Latin-1: 0xFC for ü.
	in := "subject_id,reaction_ms,condition\n1,300,M\xfcller\n"
	a := CSVAdapter{Columns: specs(), Charset: "latin-1"}
	src, err := a.Read(strings.NewReader(in))
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	if src.Rows[0][2] != "Müller" {
		t.Fatalf("got %q, want %q", src.Rows[0][2], "Müller")
	}
}

func TestCSVRead_Errors(t *testing.T) {
	t.Parallel()

	if _, err := (CSVAdapter{}).Read(strings.NewReader("a,b\n")); err == nil {
		t.Fatal("adapter without columns accepted input")
	}
	if _, err := (CSVAdapter{Columns: specs()}).Read(strings.NewReader("")); err == nil {
		t.Fatal("empty input accepted")
	}
	if _, err := (CSVAdapter{Columns: specs(), Charset: "ebcdic"}).Read(strings.NewReader("x")); err == nil {
		t.Fatal("unknown charset accepted")
	}
}

func TestNormalizeHeader(t *testing.T) {
	t.Parallel()

	cases := map[string]string{
		" Subject ID ": "subject_id",
		"REACTION MS":  "reaction_ms",
		"condition":    "condition",
	}
	for in, want := range cases {
		if got := NormalizeHeader(in); got != want {
			t.Errorf("NormalizeHeader(%q) = %q, want %q", in, got, want)
		}
	}
}
