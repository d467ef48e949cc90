// Package metrics is a tiny instrumentation facade.
//
// Pipeline code records counters and histogram samples through the
// package-level functions and never sees a concrete metrics vendor. A
// process wires a real backend (e.g. internal/metrics/datadog) at startup
// with SetBackend; until then every call is a no-op, so library code and
// tests need no metrics setup at all.
package metrics

import "sync"

// Labels are free-form key/value pairs attached to a metric sample.
type Labels map[string]string

// Backend receives metric samples. Implementations must be safe for
// concurrent use; Flush submits buffered data and Close releases the
// backend after a final flush.
type Backend interface {
	IncCounter(name string, delta float64, labels Labels)
	ObserveHistogram(name string, value float64, labels Labels)
	Flush() error
	Close() error
}

// nopBackend drops everything. It is the default.
type nopBackend struct{}

func (nopBackend) IncCounter(string, float64, Labels)       {}
func (nopBackend) ObserveHistogram(string, float64, Labels) {}
func (nopBackend) Flush() error                             { return nil }
func (nopBackend) Close() error                             { return nil }

var (
	mu      sync.RWMutex
	current Backend = nopBackend{}
)

// SetBackend installs b as the process-wide backend. Passing nil restores
// the no-op default. Safe to call concurrently with metric recording.
func SetBackend(b Backend) {
	if b == nil {
		b = nopBackend{}
	}
	mu.Lock()
	current = b
	mu.Unlock()
}

func backend() Backend {
	mu.RLock()
	defer mu.RUnlock()
	return current
}

// IncCounter adds delta to the named counter.
func IncCounter(name string, delta float64, labels Labels) {
	backend().IncCounter(name, delta, labels)
}

// ObserveHistogram records one sample of the named histogram.
func ObserveHistogram(name string, value float64, labels Labels) {
	backend().ObserveHistogram(name, value, labels)
}

// Flush submits buffered metrics on the active backend.
func Flush() error {
	return backend().Flush()
}

// Close flushes and shuts down the active backend, then restores the
// no-op default so later calls stay safe.
func Close() error {
	b := backend()
	SetBackend(nil)
	if _, ok := b.(nopBackend); ok {
		return nil
	}
	return b.Close()
}
