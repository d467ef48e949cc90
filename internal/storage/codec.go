package storage

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"time"

	"neurolab/internal/dataset"
	"neurolab/internal/pipeline"
	"neurolab/internal/schema"
)

// Run, schema and dataset documents share one JSON codec across the
// backends: the file store writes these bytes to disk, the SQL backends
// keep them in a document column next to the indexed metadata.

// Cell kind tags. JSON alone cannot tell an int64 cell from a float64
// cell after a round trip, and the dataset fingerprint hashes exactly
// that distinction, so every cell carries its stored kind.
const (
	kindInt    = "i"
	kindFloat  = "f"
	kindString = "s"
	kindBool   = "b"
	kindTime   = "t"
)

type datasetDoc struct {
	Columns []columnDoc `json:"columns"`
}

type columnDoc struct {
	Name   string   `json:"name"`
	Type   string   `json:"type"`
	Values []any    `json:"values"`
	Valid  []bool   `json:"valid"`
	Kinds  []string `json:"kinds"`
}

// EncodeDataset serializes ds so DecodeDataset restores a dataset with
// the same fingerprint: cell kinds, invalid cells and raw uncoerced
// source values all survive the round trip.
func EncodeDataset(ds *dataset.Dataset) ([]byte, error) {
	doc := datasetDoc{Columns: make([]columnDoc, 0, ds.NumCols())}
	for _, col := range ds.Cols() {
		cd := columnDoc{
			Name:   col.Name,
			Type:   string(col.Type),
			Values: make([]any, len(col.Values)),
			Valid:  col.Valid,
			Kinds:  make([]string, len(col.Values)),
		}
		for i, v := range col.Values {
			if !col.Valid[i] {
				continue
			}
			switch t := v.(type) {
			case int64:
				cd.Values[i], cd.Kinds[i] = t, kindInt
			case float64:
				cd.Values[i], cd.Kinds[i] = encodeFloat(t), kindFloat
			case string:
				cd.Values[i], cd.Kinds[i] = t, kindString
			case bool:
				cd.Values[i], cd.Kinds[i] = t, kindBool
			case time.Time:
				cd.Values[i], cd.Kinds[i] = t.Format(time.RFC3339Nano), kindTime
			default:
				return nil, fmt.Errorf("storage: column %q row %d: unencodable cell %T", col.Name, i, v)
			}
		}
		doc.Columns = append(doc.Columns, cd)
	}
	return json.Marshal(doc)
}

// DecodeDataset is the inverse of EncodeDataset.
func DecodeDataset(data []byte) (*dataset.Dataset, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	var doc datasetDoc
	if err := dec.Decode(&doc); err != nil {
		return nil, fmt.Errorf("storage: decode dataset: %w", err)
	}
	cols := make([]dataset.Column, 0, len(doc.Columns))
	for _, cd := range doc.Columns {
		if len(cd.Values) != len(cd.Valid) || len(cd.Values) != len(cd.Kinds) {
			return nil, fmt.Errorf("storage: column %q: values/valid/kinds lengths disagree", cd.Name)
		}
		col := dataset.Column{
			Name:   cd.Name,
			Type:   dataset.Type(cd.Type),
			Values: make([]any, len(cd.Values)),
			Valid:  cd.Valid,
		}
		for i, raw := range cd.Values {
			if !cd.Valid[i] {
				continue
			}
			v, err := decodeCell(raw, cd.Kinds[i])
			if err != nil {
				return nil, fmt.Errorf("storage: column %q row %d: %w", cd.Name, i, err)
			}
			col.Values[i] = v
		}
		cols = append(cols, col)
	}
	return dataset.New(cols)
}

func decodeCell(raw any, kind string) (any, error) {
	switch kind {
	case kindInt:
		n, ok := raw.(json.Number)
		if !ok {
			return nil, fmt.Errorf("int cell holds %T", raw)
		}
		v, err := strconv.ParseInt(n.String(), 10, 64)
		if err != nil {
			return nil, err
		}
		return v, nil
	case kindFloat:
		return decodeFloat(raw)
	case kindString:
		s, ok := raw.(string)
		if !ok {
			return nil, fmt.Errorf("string cell holds %T", raw)
		}
		return s, nil
	case kindBool:
		b, ok := raw.(bool)
		if !ok {
			return nil, fmt.Errorf("bool cell holds %T", raw)
		}
		return b, nil
	case kindTime:
		s, ok := raw.(string)
		if !ok {
			return nil, fmt.Errorf("time cell holds %T", raw)
		}
		ts, err := time.Parse(time.RFC3339Nano, s)
		if err != nil {
			return nil, err
		}
		return ts, nil
	}
	return nil, fmt.Errorf("unknown cell kind %q", kind)
}

// encodeFloat keeps finite floats as JSON numbers. Non-finite values are
// not representable in JSON and travel as their strconv renderings.
func encodeFloat(f float64) any {
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return strconv.FormatFloat(f, 'g', -1, 64)
	}
	return f
}

func decodeFloat(raw any) (float64, error) {
	switch t := raw.(type) {
	case json.Number:
		return strconv.ParseFloat(t.String(), 64)
	case string:
		switch t {
		case "NaN":
			return math.NaN(), nil
		case "+Inf":
			return math.Inf(1), nil
		case "-Inf":
			return math.Inf(-1), nil
		}
	}
	return 0, fmt.Errorf("float cell holds %v (%T)", raw, raw)
}

// EncodeSchema and DecodeSchema: schema documents are plain JSON.

func EncodeSchema(sc *schema.Schema) ([]byte, error) {
	return json.Marshal(sc)
}

func DecodeSchema(data []byte) (*schema.Schema, error) {
	var sc schema.Schema
	if err := json.Unmarshal(data, &sc); err != nil {
		return nil, fmt.Errorf("storage: decode schema: %w", err)
	}
	return &sc, nil
}

// EncodeRun and DecodeRun: run records are plain JSON. Plugin payloads
// are checked for serializability before they ever reach a run record,
// so marshalling here does not fail in practice.

func EncodeRun(run *pipeline.Run) ([]byte, error) {
	return json.Marshal(run)
}

func DecodeRun(data []byte) (*pipeline.Run, error) {
	var run pipeline.Run
	if err := json.Unmarshal(data, &run); err != nil {
		return nil, fmt.Errorf("storage: decode run: %w", err)
	}
	return &run, nil
}

// Summarize projects the listing fields of a run.
func Summarize(run *pipeline.Run) RunSummary {
	return RunSummary{
		RunID:         run.RunID,
		DatasetName:   run.DatasetName,
		SchemaName:    run.SchemaName,
		OverallStatus: string(run.OverallStatus),
		StartedAt:     run.StartedAt,
		FinishedAt:    run.FinishedAt,
	}
}
