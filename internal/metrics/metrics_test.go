package metrics

import (
	"errors"
	"testing"
)

// recordingBackend captures calls so tests can assert pass-through.
type recordingBackend struct {
	counters   int
	histograms int
	flushed    int
	closed     int
	flushErr   error
}

func (r *recordingBackend) IncCounter(name string, delta float64, labels Labels) { r.counters++ }
func (r *recordingBackend) ObserveHistogram(name string, value float64, labels Labels) {
	r.histograms++
}
func (r *recordingBackend) Flush() error { r.flushed++; return r.flushErr }
func (r *recordingBackend) Close() error { r.closed++; return nil }

// These tests swap the package-global backend, so they must not run in
// parallel with each other.

func TestSetBackend_RoutesCalls(t *testing.T) {
	rec := &recordingBackend{}
	SetBackend(rec)
	defer SetBackend(nil)

	IncCounter("runs_total", 1, Labels{"status": "success"})
	IncCounter("runs_total", 1, nil)
	ObserveHistogram("stage_duration_seconds", 0.25, Labels{"stage": "cleaning"})

	if rec.counters != 2 {
		t.Fatalf("counters = %d, want 2", rec.counters)
	}
	if rec.histograms != 1 {
		t.Fatalf("histograms = %d, want 1", rec.histograms)
	}
}

func TestFlush_PropagatesBackendError(t *testing.T) {
	wantErr := errors.New("submit failed")
	rec := &recordingBackend{flushErr: wantErr}
	SetBackend(rec)
	defer SetBackend(nil)

	if err := Flush(); !errors.Is(err, wantErr) {
		t.Fatalf("Flush() = %v, want %v", err, wantErr)
	}
	if rec.flushed != 1 {
		t.Fatalf("flushed = %d, want 1", rec.flushed)
	}
}

func TestDefaultBackend_IsSilentNoop(t *testing.T) {
	SetBackend(nil)

	// Must not panic and must not block.
	IncCounter("runs_total", 1, nil)
	ObserveHistogram("stage_duration_seconds", 1.5, nil)
	if err := Flush(); err != nil {
		t.Fatalf("Flush() on noop backend = %v, want nil", err)
	}
	if err := Close(); err != nil {
		t.Fatalf("Close() on noop backend = %v, want nil", err)
	}
}

func TestClose_ShutsDownAndRestoresNoop(t *testing.T) {
	rec := &recordingBackend{}
	SetBackend(rec)

	if err := Close(); err != nil {
		t.Fatalf("Close() = %v", err)
	}
	if rec.closed != 1 {
		t.Fatalf("closed = %d, want 1", rec.closed)
	}

	// Backend is detached: further samples must not reach it.
	IncCounter("runs_total", 1, nil)
	if rec.counters != 0 {
		t.Fatalf("counters after Close = %d, want 0", rec.counters)
	}
}
