package plugin

import (
	"context"
	"errors"
	"fmt"
	"time"

	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"

	"neurolab/internal/metrics"
)

// Logger is the minimal logging dependency. *log.Logger satisfies it.
type Logger interface {
	Printf(format string, v ...any)
}

// Status of one plugin execution.
type Status string

const (
	StatusSuccess  Status = "success"
	StatusFailed   Status = "failed"
	StatusTimedOut Status = "timed_out"
)

// Request asks for one plugin execution.
type Request struct {
	Name    string         `json:"name"`
	Version string         `json:"version,omitempty"` // empty or "latest" resolves highest
	Config  map[string]any `json:"config,omitempty"`
	// Timeout overrides the executor default for this request. Zero means
	// use the default; there is no "no timeout".
	Timeout time.Duration `json:"timeout,omitempty"`
}

// Result is the contained outcome of one plugin execution. Failures never
// propagate as errors: a failed, timed-out, or contract-violating plugin
// yields a Result and nothing else.
type Result struct {
	PluginName    string        `json:"plugin_name"`
	PluginVersion string        `json:"plugin_version"`
	Status        Status        `json:"status"`
	Payload       any           `json:"payload,omitempty"`
	ErrorDetail   string        `json:"error_detail,omitempty"`
	Duration      time.Duration `json:"duration"`
}

// Executor runs registered plugins against a cleaned dataset.
//
// Guarantees:
//   - every execution runs under a bounded time budget (per-request or the
//     required default), reported as timed_out when exceeded
//   - at most one in-flight execution per (plugin version, dataset
//     fingerprint); concurrent requests for the pair share that execution
//     and its result, regardless of config
//   - plugin panics, errors, and contract violations are contained in the
//     Result; sibling executions and the caller are unaffected
//   - plugins see the dataset through the read-only view only
type Executor struct {
	registry       *Registry
	defaultTimeout time.Duration
	workers        int
	logger         Logger

	sf singleflight.Group
}

// NewExecutor builds an executor. defaultTimeout must be positive: a
// plugin is never allowed to wait forever.
func NewExecutor(reg *Registry, defaultTimeout time.Duration, logger Logger) (*Executor, error) {
	if reg == nil {
		return nil, fmt.Errorf("plugin: executor needs a registry")
	}
	if defaultTimeout <= 0 {
		return nil, fmt.Errorf("plugin: a positive default timeout is required")
	}
	return &Executor{
		registry:       reg,
		defaultTimeout: defaultTimeout,
		workers:        4,
		logger:         logger,
	}, nil
}

// SetWorkers bounds how many plugins run in parallel (minimum 1).
func (ex *Executor) SetWorkers(n int) {
	if n >= 1 {
		ex.workers = n
	}
}

// Run executes every request with bounded parallelism and returns results
// in request order. It never returns an error: per-plugin failures live in
// the results, and a cancelled ctx marks the remaining executions failed.
func (ex *Executor) Run(ctx context.Context, view DatasetView, reqs []Request) []Result {
	results := make([]Result, len(reqs))
	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(ex.workers)
	for i, req := range reqs {
		g.Go(func() error {
			results[i] = ex.runOne(ctx, view, req)
			return nil
		})
	}
	// Workers never return errors; Wait is a pure join.
	_ = g.Wait()
	return results
}

func (ex *Executor) runOne(ctx context.Context, view DatasetView, req Request) Result {
	desc, impl, err := ex.registry.Resolve(req.Name, req.Version)
	if err != nil {
		res := Result{
			PluginName:    req.Name,
			PluginVersion: req.Version,
			Status:        StatusFailed,
			ErrorDetail:   err.Error(),
		}
		ex.finish(res)
		return res
	}

	timeout := req.Timeout
	if timeout <= 0 {
		timeout = ex.defaultTimeout
	}

	key := desc.Name + "@" + desc.Version + "|" + view.Fingerprint()
	v, _, _ := ex.sf.Do(key, func() (any, error) {
		return ex.execute(ctx, desc, impl, view, req.Config, timeout), nil
	})
	res := v.(Result)
	ex.finish(res)
	return res
}

// execute runs exactly one plugin invocation; singleflight collapses
// concurrent callers onto it.
func (ex *Executor) execute(ctx context.Context, desc Descriptor, impl Plugin, view DatasetView, cfg map[string]any, timeout time.Duration) Result {
	res := Result{
		PluginName:    desc.Name,
		PluginVersion: desc.Version,
	}

	if cfg == nil {
		cfg = map[string]any{}
	}
	if !desc.InputContract.Empty() {
		if err := desc.InputContract.Conforms(map[string]any(cfg)); err != nil {
			res.Status = StatusFailed
			res.ErrorDetail = "input contract violation: " + err.Error()
			return res
		}
	}

	start := time.Now()
	payload, err := ex.invoke(ctx, impl, view, cfg, timeout)
	res.Duration = time.Since(start)

	switch {
	case errors.Is(err, context.DeadlineExceeded):
		res.Status = StatusTimedOut
		res.ErrorDetail = fmt.Sprintf("execution exceeded %s budget", timeout)
	case errors.Is(err, context.Canceled):
		res.Status = StatusFailed
		res.ErrorDetail = "execution cancelled"
	case err != nil:
		res.Status = StatusFailed
		res.ErrorDetail = "execution error: " + err.Error()
	default:
		if cerr := desc.OutputContract.Conforms(payload); cerr != nil {
			res.Status = StatusFailed
			res.ErrorDetail = "output contract violation: " + cerr.Error()
			return res
		}
		if serr := checkSerializable(payload); serr != nil {
			res.Status = StatusFailed
			res.ErrorDetail = "output contract violation: " + serr.Error()
			return res
		}
		res.Status = StatusSuccess
		res.Payload = payload
	}
	return res
}

// invoke runs the plugin in its own goroutine and waits for completion or
// the time budget. A plugin that ignores ctx keeps its goroutine until it
// returns; the execution is abandoned, not killed.
func (ex *Executor) invoke(ctx context.Context, impl Plugin, view DatasetView, cfg map[string]any, timeout time.Duration) (any, error) {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	type outcome struct {
		payload any
		err     error
	}
	done := make(chan outcome, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- outcome{err: fmt.Errorf("panic: %v", r)}
			}
		}()
		p, err := impl.Execute(ctx, view, cfg)
		done <- outcome{payload: p, err: err}
	}()

	select {
	case out := <-done:
		return out.payload, out.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (ex *Executor) finish(res Result) {
	metrics.IncCounter("plugin_executions_total", 1, metrics.Labels{
		"plugin": res.PluginName,
		"status": string(res.Status),
	})
	metrics.ObserveHistogram("plugin_execution_seconds", res.Duration.Seconds(), metrics.Labels{
		"plugin": res.PluginName,
	})
	if ex.logger != nil {
		ex.logger.Printf("stage=plugin name=%s version=%s status=%s duration=%s",
			res.PluginName, res.PluginVersion, res.Status, res.Duration)
	}
}
