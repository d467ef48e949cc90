package plugin

import (
	"context"
	"fmt"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"neurolab/internal/dataset"
)

// The executor hands plugins the dataset itself, restricted to the
// read-only view.
var _ DatasetView = (*dataset.Dataset)(nil)

func testView(t *testing.T) *dataset.Dataset {
	t.Helper()
	ds, err := dataset.New([]dataset.Column{{
		Name:   "score",
		Type:   dataset.Float,
		Values: []any{1.0, 2.0, 3.0},
		Valid:  []bool{true, true, true},
	}})
	if err != nil {
		t.Fatalf("dataset.New: %v", err)
	}
	return ds
}

func testView2(t *testing.T) *dataset.Dataset {
	t.Helper()
	ds, err := dataset.New([]dataset.Column{{
		Name:   "score",
		Type:   dataset.Float,
		Values: []any{4.0, 5.0},
		Valid:  []bool{true, true},
	}})
	if err != nil {
		t.Fatalf("dataset.New: %v", err)
	}
	return ds
}

func okContract() Contract {
	return Contract{Kind: "object", Fields: map[string]Contract{"ok": {Kind: "bool"}}}
}

func okPayload() map[string]any {
	return map[string]any{"ok": true}
}

func TestNewExecutor_Validation(t *testing.T) {
	t.Parallel()

	if _, err := NewExecutor(nil, time.Second, nil); err == nil {
		t.Fatalf("NewExecutor(nil registry) = nil error, want error")
	}
	if _, err := NewExecutor(NewRegistry(), 0, nil); err == nil {
		t.Fatalf("NewExecutor(zero timeout) = nil error, want error")
	}
	if _, err := NewExecutor(NewRegistry(), -time.Second, nil); err == nil {
		t.Fatalf("NewExecutor(negative timeout) = nil error, want error")
	}
	if _, err := NewExecutor(NewRegistry(), time.Second, nil); err != nil {
		t.Fatalf("NewExecutor(valid) = %v, want nil", err)
	}
}

func TestRun_SuccessInRequestOrder(t *testing.T) {
	t.Parallel()

	reg := NewRegistry()
	rowcount := Descriptor{
		Name:    "rowcount",
		Version: "1.0.0",
		OutputContract: Contract{
			Kind:   "object",
			Fields: map[string]Contract{"rows": {Kind: "number"}},
		},
	}
	err := reg.Register(rowcount, Func(func(ctx context.Context, view DatasetView, cfg map[string]any) (any, error) {
		return map[string]any{"rows": float64(view.NumRows())}, nil
	}))
	if err != nil {
		t.Fatalf("Register: %v", err)
	}
	if err := reg.Register(descriptor("echo", "1.0.0"), nopPlugin); err != nil {
		t.Fatalf("Register: %v", err)
	}

	ex, err := NewExecutor(reg, time.Second, nil)
	if err != nil {
		t.Fatalf("NewExecutor: %v", err)
	}

	results := ex.Run(context.Background(), testView(t), []Request{
		{Name: "echo", Version: "1.0.0"},
		{Name: "rowcount", Version: "1.0.0"},
	})
	if len(results) != 2 {
		t.Fatalf("len(results) = %d, want 2", len(results))
	}
	if results[0].PluginName != "echo" || results[1].PluginName != "rowcount" {
		t.Fatalf("results out of request order: %q, %q", results[0].PluginName, results[1].PluginName)
	}
	for _, res := range results {
		if res.Status != StatusSuccess {
			t.Fatalf("%s status = %q (%s), want success", res.PluginName, res.Status, res.ErrorDetail)
		}
	}

	payload, ok := results[1].Payload.(map[string]any)
	if !ok || payload["rows"] != 3.0 {
		t.Fatalf("rowcount payload = %#v, want rows=3", results[1].Payload)
	}
}

func TestRun_UnknownPluginFails(t *testing.T) {
	t.Parallel()

	ex, err := NewExecutor(NewRegistry(), time.Second, nil)
	if err != nil {
		t.Fatalf("NewExecutor: %v", err)
	}

	results := ex.Run(context.Background(), testView(t), []Request{{Name: "ghost"}})
	if results[0].Status != StatusFailed {
		t.Fatalf("status = %q, want failed", results[0].Status)
	}
	if !strings.Contains(results[0].ErrorDetail, "unknown plugin") {
		t.Fatalf("detail = %q, want unknown plugin", results[0].ErrorDetail)
	}
}

// A failing plugin is contained: its sibling in the same batch still
// succeeds and the batch itself returns normally.
func TestRun_FailureIsolatedFromSiblings(t *testing.T) {
	t.Parallel()

	reg := NewRegistry()
	err := reg.Register(descriptor("broken", "1.0.0"), Func(func(ctx context.Context, view DatasetView, cfg map[string]any) (any, error) {
		return nil, fmt.Errorf("numerical blowup")
	}))
	if err != nil {
		t.Fatalf("Register: %v", err)
	}
	if err := reg.Register(descriptor("healthy", "1.0.0"), nopPlugin); err != nil {
		t.Fatalf("Register: %v", err)
	}

	ex, err := NewExecutor(reg, time.Second, nil)
	if err != nil {
		t.Fatalf("NewExecutor: %v", err)
	}

	results := ex.Run(context.Background(), testView(t), []Request{
		{Name: "broken", Version: "1.0.0"},
		{Name: "healthy", Version: "1.0.0"},
	})

	if results[0].Status != StatusFailed {
		t.Fatalf("broken status = %q, want failed", results[0].Status)
	}
	if !strings.Contains(results[0].ErrorDetail, "numerical blowup") {
		t.Fatalf("broken detail = %q, want wrapped plugin error", results[0].ErrorDetail)
	}
	if results[1].Status != StatusSuccess {
		t.Fatalf("healthy status = %q (%s), want success", results[1].Status, results[1].ErrorDetail)
	}
}

func TestRun_PanicContained(t *testing.T) {
	t.Parallel()

	reg := NewRegistry()
	err := reg.Register(descriptor("panicky", "1.0.0"), Func(func(ctx context.Context, view DatasetView, cfg map[string]any) (any, error) {
		panic("index out of range")
	}))
	if err != nil {
		t.Fatalf("Register: %v", err)
	}

	ex, err := NewExecutor(reg, time.Second, nil)
	if err != nil {
		t.Fatalf("NewExecutor: %v", err)
	}

	results := ex.Run(context.Background(), testView(t), []Request{{Name: "panicky", Version: "1.0.0"}})
	if results[0].Status != StatusFailed {
		t.Fatalf("status = %q, want failed", results[0].Status)
	}
	if !strings.Contains(results[0].ErrorDetail, "panic: index out of range") {
		t.Fatalf("detail = %q, want recovered panic", results[0].ErrorDetail)
	}
}

// A plugin that ignores its context cannot stall the run: the executor
// reports timed_out within a tight margin of the configured budget.
func TestRun_TimeoutBudgetEnforced(t *testing.T) {
	t.Parallel()

	reg := NewRegistry()
	err := reg.Register(descriptor("sleeper", "1.0.0"), Func(func(ctx context.Context, view DatasetView, cfg map[string]any) (any, error) {
		time.Sleep(2 * time.Second) // deliberately ignores ctx
		return okPayload(), nil
	}))
	if err != nil {
		t.Fatalf("Register: %v", err)
	}

	ex, err := NewExecutor(reg, time.Minute, nil)
	if err != nil {
		t.Fatalf("NewExecutor: %v", err)
	}

	const budget = 80 * time.Millisecond
	start := time.Now()
	results := ex.Run(context.Background(), testView(t), []Request{
		{Name: "sleeper", Version: "1.0.0", Timeout: budget},
	})
	elapsed := time.Since(start)

	if results[0].Status != StatusTimedOut {
		t.Fatalf("status = %q, want timed_out", results[0].Status)
	}
	if !strings.Contains(results[0].ErrorDetail, "budget") {
		t.Fatalf("detail = %q, want budget message", results[0].ErrorDetail)
	}
	if elapsed < budget {
		t.Fatalf("returned after %s, before the %s budget", elapsed, budget)
	}
	if overshoot := elapsed - budget; overshoot > 50*time.Millisecond {
		t.Fatalf("budget overshoot = %s, want <= 50ms", overshoot)
	}
}

func TestRun_DefaultTimeoutApplies(t *testing.T) {
	t.Parallel()

	reg := NewRegistry()
	err := reg.Register(descriptor("sleeper", "1.0.0"), Func(func(ctx context.Context, view DatasetView, cfg map[string]any) (any, error) {
		select {
		case <-time.After(2 * time.Second):
			return okPayload(), nil
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}))
	if err != nil {
		t.Fatalf("Register: %v", err)
	}

	ex, err := NewExecutor(reg, 50*time.Millisecond, nil)
	if err != nil {
		t.Fatalf("NewExecutor: %v", err)
	}

	// No per-request timeout: the executor default must apply.
	results := ex.Run(context.Background(), testView(t), []Request{{Name: "sleeper", Version: "1.0.0"}})
	if results[0].Status != StatusTimedOut {
		t.Fatalf("status = %q, want timed_out", results[0].Status)
	}
}

// Concurrent requests for the same plugin version and dataset collapse
// onto one in-flight execution; a different version of the same plugin
// executes separately.
func TestRun_DeduplicatesInFlightExecutions(t *testing.T) {
	t.Parallel()

	var executions atomic.Int32
	release := make(chan struct{})
	counting := Func(func(ctx context.Context, view DatasetView, cfg map[string]any) (any, error) {
		executions.Add(1)
		<-release
		return okPayload(), nil
	})

	reg := NewRegistry()
	if err := reg.Register(descriptor("counting", "1.0.0"), counting); err != nil {
		t.Fatalf("Register: %v", err)
	}
	if err := reg.Register(descriptor("counting", "1.1.0"), counting); err != nil {
		t.Fatalf("Register: %v", err)
	}

	ex, err := NewExecutor(reg, time.Second, nil)
	if err != nil {
		t.Fatalf("NewExecutor: %v", err)
	}

	time.AfterFunc(50*time.Millisecond, func() { close(release) })

	results := ex.Run(context.Background(), testView(t), []Request{
		{Name: "counting", Version: "1.0.0"},
		{Name: "counting", Version: "1.0.0"},
		{Name: "counting", Version: "1.1.0"},
	})

	if got := executions.Load(); got != 2 {
		t.Fatalf("executions = %d, want 2 (two for 1.0.0 shared, one for 1.1.0)", got)
	}
	for i, res := range results {
		if res.Status != StatusSuccess {
			t.Fatalf("results[%d] status = %q (%s), want success", i, res.Status, res.ErrorDetail)
		}
	}
	if results[0].Duration != results[1].Duration {
		t.Fatalf("deduplicated requests should share one execution; durations %s vs %s",
			results[0].Duration, results[1].Duration)
	}
}

// A different dataset breaks the dedup key even for the same plugin
// version.
func TestRun_DedupKeyedByFingerprint(t *testing.T) {
	t.Parallel()

	var executions atomic.Int32
	reg := NewRegistry()
	err := reg.Register(descriptor("counting", "1.0.0"), Func(func(ctx context.Context, view DatasetView, cfg map[string]any) (any, error) {
		executions.Add(1)
		return okPayload(), nil
	}))
	if err != nil {
		t.Fatalf("Register: %v", err)
	}

	ex, err := NewExecutor(reg, time.Second, nil)
	if err != nil {
		t.Fatalf("NewExecutor: %v", err)
	}

	req := []Request{{Name: "counting", Version: "1.0.0"}}
	ex.Run(context.Background(), testView(t), req)
	ex.Run(context.Background(), testView2(t), req)

	if got := executions.Load(); got != 2 {
		t.Fatalf("executions = %d, want 2 for distinct datasets", got)
	}
}

func TestRun_InputContractEnforcedBeforeExecution(t *testing.T) {
	t.Parallel()

	var executions atomic.Int32
	desc := descriptor("threshold", "1.0.0")
	desc.InputContract = Contract{
		Kind:   "object",
		Fields: map[string]Contract{"threshold": {Kind: "number"}},
	}

	reg := NewRegistry()
	err := reg.Register(desc, Func(func(ctx context.Context, view DatasetView, cfg map[string]any) (any, error) {
		executions.Add(1)
		return okPayload(), nil
	}))
	if err != nil {
		t.Fatalf("Register: %v", err)
	}

	ex, err := NewExecutor(reg, time.Second, nil)
	if err != nil {
		t.Fatalf("NewExecutor: %v", err)
	}

	results := ex.Run(context.Background(), testView(t), []Request{
		{Name: "threshold", Version: "1.0.0"}, // missing required config key
	})
	if results[0].Status != StatusFailed {
		t.Fatalf("status = %q, want failed", results[0].Status)
	}
	if !strings.Contains(results[0].ErrorDetail, "input contract violation") {
		t.Fatalf("detail = %q, want input contract violation", results[0].ErrorDetail)
	}
	if executions.Load() != 0 {
		t.Fatalf("plugin executed despite config violation")
	}

	results = ex.Run(context.Background(), testView(t), []Request{
		{Name: "threshold", Version: "1.0.0", Config: map[string]any{"threshold": 2.5}},
	})
	if results[0].Status != StatusSuccess {
		t.Fatalf("status = %q (%s), want success", results[0].Status, results[0].ErrorDetail)
	}
}

func TestRun_OutputContractViolation(t *testing.T) {
	t.Parallel()

	reg := NewRegistry()
	err := reg.Register(descriptor("liar", "1.0.0"), Func(func(ctx context.Context, view DatasetView, cfg map[string]any) (any, error) {
		return map[string]any{"wrong": 1.0}, nil // promised {"ok": bool}
	}))
	if err != nil {
		t.Fatalf("Register: %v", err)
	}

	ex, err := NewExecutor(reg, time.Second, nil)
	if err != nil {
		t.Fatalf("NewExecutor: %v", err)
	}

	results := ex.Run(context.Background(), testView(t), []Request{{Name: "liar", Version: "1.0.0"}})
	if results[0].Status != StatusFailed {
		t.Fatalf("status = %q, want failed", results[0].Status)
	}
	if !strings.Contains(results[0].ErrorDetail, "output contract violation") {
		t.Fatalf("detail = %q, want output contract violation", results[0].ErrorDetail)
	}
	if results[0].Payload != nil {
		t.Fatalf("violating payload leaked into result: %#v", results[0].Payload)
	}
}

func TestRun_UnserializablePayloadRejected(t *testing.T) {
	t.Parallel()

	reg := NewRegistry()
	err := reg.Register(descriptor("chans", "1.0.0"), Func(func(ctx context.Context, view DatasetView, cfg map[string]any) (any, error) {
		// Conforms passes (extras are allowed) but JSON marshaling cannot.
		return map[string]any{"ok": true, "stream": make(chan int)}, nil
	}))
	if err != nil {
		t.Fatalf("Register: %v", err)
	}

	ex, err := NewExecutor(reg, time.Second, nil)
	if err != nil {
		t.Fatalf("NewExecutor: %v", err)
	}

	results := ex.Run(context.Background(), testView(t), []Request{{Name: "chans", Version: "1.0.0"}})
	if results[0].Status != StatusFailed {
		t.Fatalf("status = %q, want failed", results[0].Status)
	}
	if !strings.Contains(results[0].ErrorDetail, "not JSON-serializable") {
		t.Fatalf("detail = %q, want serialization failure", results[0].ErrorDetail)
	}
}

// Cancelling the run context fails in-flight plugins as cancelled, not
// timed out.
func TestRun_CancellationMarksFailed(t *testing.T) {
	t.Parallel()

	reg := NewRegistry()
	err := reg.Register(descriptor("patient", "1.0.0"), Func(func(ctx context.Context, view DatasetView, cfg map[string]any) (any, error) {
		<-ctx.Done()
		return nil, ctx.Err()
	}))
	if err != nil {
		t.Fatalf("Register: %v", err)
	}

	ex, err := NewExecutor(reg, time.Minute, nil)
	if err != nil {
		t.Fatalf("NewExecutor: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	time.AfterFunc(20*time.Millisecond, cancel)

	results := ex.Run(ctx, testView(t), []Request{{Name: "patient", Version: "1.0.0"}})
	if results[0].Status != StatusFailed {
		t.Fatalf("status = %q, want failed", results[0].Status)
	}
	if !strings.Contains(results[0].ErrorDetail, "cancelled") {
		t.Fatalf("detail = %q, want cancellation message", results[0].ErrorDetail)
	}
}

func TestRun_LatestVersionResolution(t *testing.T) {
	t.Parallel()

	reg := NewRegistry()
	for _, v := range []string{"1.0.0", "2.0.0"} {
		if err := reg.Register(descriptor("versioned", v), nopPlugin); err != nil {
			t.Fatalf("Register(%s): %v", v, err)
		}
	}

	ex, err := NewExecutor(reg, time.Second, nil)
	if err != nil {
		t.Fatalf("NewExecutor: %v", err)
	}

	results := ex.Run(context.Background(), testView(t), []Request{{Name: "versioned"}})
	if results[0].PluginVersion != "2.0.0" {
		t.Fatalf("resolved version = %q, want 2.0.0", results[0].PluginVersion)
	}
	if results[0].Status != StatusSuccess {
		t.Fatalf("status = %q, want success", results[0].Status)
	}
}
