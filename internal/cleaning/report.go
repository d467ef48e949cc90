package cleaning

import "encoding/json"

// Entry records one action a stage took on one column.
type Entry struct {
	Stage        string `json:"stage"`
	Column       string `json:"column"`
	Action       string `json:"action"`
	AffectedRows int    `json:"affected_rows"`
}

// Report is the append-only transformation log of one pipeline run. Entry
// order is the order actions were taken; identical input and config always
// produce an identical report.
type Report struct {
	Entries []Entry `json:"entries"`
}

func (r *Report) append(entries ...Entry) {
	r.Entries = append(r.Entries, entries...)
}

// Canonical returns a stable byte serialization of the report, used for
// reproducibility comparisons and for embedding in run records.
func (r *Report) Canonical() []byte {
	b, err := json.Marshal(r)
	if err != nil {
		// Report contains only plain structs; marshal cannot fail.
		panic("cleaning: report marshal: " + err.Error())
	}
	return b
}
