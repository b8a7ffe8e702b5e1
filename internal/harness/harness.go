package harness

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"strings"

	"github.com/roach88/catalog/internal/compiler"
	"github.com/roach88/catalog/internal/engine"
	"github.com/roach88/catalog/internal/query"
	"github.com/roach88/catalog/internal/record"
	"github.com/roach88/catalog/internal/registry"
	"github.com/roach88/catalog/internal/resolver"
	"github.com/roach88/catalog/internal/store"
)

// Harness is the test execution engine for one scenario.
// It drives the real sync and query engines over a throwaway store.
type Harness struct {
	store    *store.Store
	registry *registry.Registry
	resolver *resolver.Static
	sync     *engine.Engine
	query    *query.Engine
	logger   *slog.Logger
}

// Option configures Run.
type Option func(*options)

type options struct {
	logger *slog.Logger
}

// WithLogger routes engine logs to l. Default: discarded.
func WithLogger(l *slog.Logger) Option {
	return func(o *options) {
		o.logger = l
	}
}

// Run executes a test scenario and returns the result.
//
// Each scenario runs in a fresh in-memory database for isolation. The
// engine runs a single lane with sequential edge ids, so seq values, edge
// ids and hashes are identical across runs.
//
// Execution flow:
//  1. Load the registry and seed the resolver
//  2. Apply each step as one batch and check its report
//  3. Run the queries against the final state
//  4. Evaluate assertions and capture the final state
//
// A returned error means the scenario could not run at all; failed
// expectations are reported through Result.Pass and Result.Errors.
func Run(scenario *Scenario, opts ...Option) (*Result, error) {
	o := options{logger: slog.New(slog.NewTextHandler(io.Discard, nil))}
	for _, opt := range opts {
		opt(&o)
	}

	reg, err := compiler.LoadRegistry(scenario.Registry)
	if err != nil {
		return nil, fmt.Errorf("failed to load registry: %w", err)
	}

	st, err := store.Open(":memory:")
	if err != nil {
		return nil, fmt.Errorf("failed to create in-memory store: %w", err)
	}
	defer st.Close()

	res := resolver.NewStatic()
	if err := res.Load(scenario.Fixtures); err != nil {
		return nil, fmt.Errorf("failed to load fixtures: %w", err)
	}

	ctx := context.Background()
	eng, err := engine.New(ctx, st, reg, res,
		engine.WithLogger(o.logger),
		engine.WithLanes(1),
		engine.WithIDGenerator(engine.NewSequenceGenerator("edge")),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create engine: %w", err)
	}

	h := &Harness{
		store:    st,
		registry: reg,
		resolver: res,
		sync:     eng,
		query:    query.New(st, reg, query.WithLogger(o.logger)),
		logger:   o.logger,
	}

	result := NewResult()
	for i, step := range scenario.Steps {
		if err := h.executeStep(ctx, i, step, result); err != nil {
			return nil, err
		}
	}

	h.executeQueries(ctx, scenario.Queries, result)

	for _, msg := range EvaluateAssertions(ctx, st, scenario.Assertions) {
		result.AddError(msg)
	}

	if err := h.captureState(ctx, result); err != nil {
		return nil, err
	}
	return result, nil
}

// executeStep updates the resolver, processes the step's batch and checks
// the expected report counters.
func (h *Harness) executeStep(ctx context.Context, index int, step Step, result *Result) error {
	if err := h.resolver.Load(step.Fixtures); err != nil {
		return fmt.Errorf("step %d: failed to load fixtures: %w", index, err)
	}
	for _, key := range step.Remove {
		h.resolver.Delete(key.Type, key.ID)
	}

	events := make([]record.Event, len(step.Events))
	for i, ev := range step.Events {
		data, err := record.Normalize(ev.Data)
		if err != nil {
			return fmt.Errorf("step %d: event %d: %w", index, i, err)
		}
		events[i] = record.Event{Name: ev.Name, Data: data}
	}

	report := h.sync.ProcessBatch(ctx, events)
	result.Steps = append(result.Steps, report)

	for _, name := range sortedKeys(step.Expect) {
		want := step.Expect[name]
		if got := reportCounter(report, name); got != want {
			result.AddError(fmt.Sprintf("step %d: %s = %d, expected %d%s",
				index, name, got, want, formatReportErrors(report)))
		}
	}

	h.logger.Info("step completed",
		"step", index,
		"events", len(events),
		"processed", report.Processed,
		"failed", report.Failed,
	)
	return nil
}

// executeQueries runs every query and compares it with its expectation.
func (h *Harness) executeQueries(ctx context.Context, cases []QueryCase, result *Result) {
	for _, qc := range cases {
		outcome := QueryOutcome{Name: qc.Name}
		res, err := h.query.QueryRaw(ctx, qc.Request)
		if err != nil {
			outcome.Error = err.Error()
		} else {
			outcome.Result = &res
		}
		result.Queries = append(result.Queries, outcome)

		if qc.Expect == nil {
			continue
		}
		for _, msg := range checkQuery(qc, outcome) {
			result.AddError(msg)
		}
	}
}

// checkQuery compares one query outcome with its expectation.
func checkQuery(qc QueryCase, outcome QueryOutcome) []string {
	exp := qc.Expect
	if exp.Error != "" {
		if outcome.Error == "" {
			return []string{fmt.Sprintf("query %s: expected error containing %q, got none", qc.Name, exp.Error)}
		}
		if !strings.Contains(outcome.Error, exp.Error) {
			return []string{fmt.Sprintf("query %s: error %q does not contain %q", qc.Name, outcome.Error, exp.Error)}
		}
		return nil
	}
	if outcome.Error != "" {
		return []string{fmt.Sprintf("query %s: unexpected error: %s", qc.Name, outcome.Error)}
	}

	var msgs []string
	if exp.Count != nil && outcome.Result.Count != *exp.Count {
		msgs = append(msgs, fmt.Sprintf("query %s: count = %d, expected %d", qc.Name, outcome.Result.Count, *exp.Count))
	}
	if exp.Rows != nil {
		if err := matchJSON("rows", exp.Rows, outcome.Result.Rows); err != nil {
			msgs = append(msgs, fmt.Sprintf("query %s: %v", qc.Name, err))
		}
	}
	return msgs
}

// captureState copies the final snapshots and edges into result.
func (h *Harness) captureState(ctx context.Context, result *Result) error {
	for _, ent := range h.registry.Entities() {
		snaps, err := h.store.ListSnapshots(ctx, ent.Name)
		if err != nil {
			return fmt.Errorf("failed to capture state: %w", err)
		}
		result.Snapshots = append(result.Snapshots, snaps...)
	}
	edges, err := h.store.ListEdges(ctx)
	if err != nil {
		return fmt.Errorf("failed to capture state: %w", err)
	}
	result.Edges = edges
	return nil
}

func reportCounter(r engine.BatchReport, name string) int {
	switch name {
	case "processed":
		return r.Processed
	case "ignored":
		return r.Ignored
	case "failed":
		return r.Failed
	case "snapshots":
		return r.Snapshots
	case "edges":
		return r.Edges
	case "edges_removed":
		return r.EdgesRemoved
	case "deleted":
		return r.Deleted
	case "dangling":
		return r.Dangling
	default:
		return -1
	}
}

func formatReportErrors(r engine.BatchReport) string {
	if len(r.Errors) == 0 {
		return ""
	}
	msgs := make([]string, len(r.Errors))
	for i, err := range r.Errors {
		msgs[i] = err.Error()
	}
	return " (errors: " + strings.Join(msgs, "; ") + ")"
}
