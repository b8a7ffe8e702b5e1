package engine

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/roach88/catalog/internal/record"
	"github.com/roach88/catalog/internal/registry"
	"github.com/roach88/catalog/internal/resolver"
	"github.com/roach88/catalog/internal/store"
)

// DefaultResolveTimeout bounds a single resolver call.
const DefaultResolveTimeout = 5 * time.Second

// Engine applies domain events to the snapshot and edge store.
//
// Thread-safety model:
//   - Enqueue(), ProcessBatch(), ProcessEvent(): safe from any goroutine
//   - Run(): must be called from exactly one goroutine
//
// Concurrent batches are safe: snapshot writes are serialized per key and
// edge writes are idempotent. Per-entity ordering is only guaranteed
// within a batch and between batches submitted in order through Run.
//
// Ordering is per lane, and a lane is chosen by the key the event names.
// A stub followed from another event's lane is not ordered against the
// events for its own key: with more than one lane, product.deleted{p1}
// may run before variant.created{v1, product: p1} expands p1, and the
// resolved p1 is stored again. Batches that delete an entity and touch it
// through stubs elsewhere should use one lane or split the batch.
type Engine struct {
	store          *store.Store
	registry       *registry.Registry
	resolver       resolver.Resolver
	clock          *Clock
	queue          *batchQueue
	ids            IDGenerator
	locks          *keyedMutex
	logger         *slog.Logger
	resolveTimeout time.Duration
	maxDepth       int
	lanes          int
}

// EngineOption allows configuration of engine parameters.
type EngineOption func(*Engine)

// WithResolveTimeout bounds each resolver call. A timeout is a resolution
// failure for that entity, never a batch failure.
//
// Default: 5s (DefaultResolveTimeout)
func WithResolveTimeout(d time.Duration) EngineOption {
	return func(e *Engine) {
		e.resolveTimeout = d
	}
}

// WithMaxDepth sets how many levels of embedded stubs are resolved.
// 0 resolves only the entity named by the event.
//
// Default: 2 (DefaultMaxDepth)
func WithMaxDepth(depth int) EngineOption {
	return func(e *Engine) {
		e.maxDepth = depth
	}
}

// WithLanes sets the number of lanes a batch is split into.
// Use WithLanes(1) for fully sequential, deterministic processing.
//
// Default: 4 (DefaultLanes)
func WithLanes(n int) EngineOption {
	return func(e *Engine) {
		e.lanes = n
	}
}

// WithLogger sets the logger. Default: slog.Default().
func WithLogger(l *slog.Logger) EngineOption {
	return func(e *Engine) {
		e.logger = l
	}
}

// WithIDGenerator sets the edge id generator. Default: UUIDv7Generator.
func WithIDGenerator(g IDGenerator) EngineOption {
	return func(e *Engine) {
		e.ids = g
	}
}

// WithClock sets the logical clock instead of resuming from the store.
func WithClock(c *Clock) EngineOption {
	return func(e *Engine) {
		e.clock = c
	}
}

// New creates an Engine writing to s, classifying events with reg and
// fetching entity state from r.
//
// Unless WithClock is given, the clock resumes from the highest seq in the
// store so writes after a restart keep increasing.
func New(ctx context.Context, s *store.Store, reg *registry.Registry, r resolver.Resolver, opts ...EngineOption) (*Engine, error) {
	e := &Engine{
		store:          s,
		registry:       reg,
		resolver:       r,
		queue:          newBatchQueue(),
		ids:            UUIDv7Generator{},
		locks:          newKeyedMutex(),
		logger:         slog.Default(),
		resolveTimeout: DefaultResolveTimeout,
		maxDepth:       DefaultMaxDepth,
		lanes:          DefaultLanes,
	}

	for _, opt := range opts {
		opt(e)
	}

	if e.lanes < 1 {
		e.lanes = 1
	}
	if e.maxDepth < 0 {
		e.maxDepth = 0
	}
	if e.clock == nil {
		seq, err := s.MaxSeq(ctx)
		if err != nil {
			return nil, fmt.Errorf("resume clock: %w", err)
		}
		e.clock = NewClockAt(seq)
	}
	return e, nil
}

// Clock returns the engine's logical clock.
func (e *Engine) Clock() *Clock {
	return e.clock
}

// Enqueue submits a batch for processing by the Run loop.
// Returns false if the engine has been stopped.
func (e *Engine) Enqueue(batch []record.Event) bool {
	return e.queue.Enqueue(batch)
}

// QueueLen returns the number of batches waiting for Run.
func (e *Engine) QueueLen() int {
	return e.queue.Len()
}

// Run drains the batch queue until ctx is cancelled or Stop is called.
//
// Batches are processed one at a time in submission order. Failures inside
// a batch are logged and reported, and processing continues with the next
// batch; event sources are fire-and-forget and never see sync errors.
func (e *Engine) Run(ctx context.Context) error {
	e.logger.Info("engine starting", "lanes", e.lanes, "max_depth", e.maxDepth)

	for {
		if batch, ok := e.queue.TryDequeue(); ok {
			report := e.ProcessBatch(ctx, batch)
			e.logReport(len(batch), report)
			continue
		}

		select {
		case <-ctx.Done():
			e.logger.Info("engine stopping: context cancelled")
			e.queue.Close()
			return ctx.Err()

		case <-e.queue.Wait():
			// The signal channel closes with the queue, so this fires
			// immediately once stopped.
			if e.queue.Len() == 0 && e.queue.Closed() {
				e.logger.Info("engine stopping: queue closed")
				return nil
			}
		}
	}
}

// Stop closes the queue. Run returns once queued batches are drained.
func (e *Engine) Stop() {
	e.queue.Close()
}

// ProcessBatch applies events and returns a summary.
//
// Events are classified, split into lanes by entity key and the lanes run
// in parallel (at most Lanes at a time). Each lane applies its events in
// arrival order. Nothing in a batch is fatal: unknown events are ignored
// and failures are recorded in the report.
func (e *Engine) ProcessBatch(ctx context.Context, events []record.Event) BatchReport {
	report, _ := e.processBatch(ctx, events)
	return report
}

// ProcessEvent applies a single event and returns the error that made it
// fail, if any. Unknown events return an UNKNOWN_EVENT SyncError.
// Non-fatal problems (such as an unresolvable stub) are logged only.
func (e *Engine) ProcessEvent(ctx context.Context, ev record.Event) error {
	if _, ok := e.registry.Classify(ev.Name); !ok {
		return newUnknownEventError(ev.Name)
	}
	_, errs := e.processBatch(ctx, []record.Event{ev})
	for _, ie := range errs {
		if ie.fatal {
			return ie.err
		}
	}
	return nil
}

func (e *Engine) processBatch(ctx context.Context, events []record.Event) (BatchReport, []indexedError) {
	var (
		base BatchReport
		work []routed
	)
	for i, ev := range events {
		b, ok := e.registry.Classify(ev.Name)
		if !ok {
			base.Ignored++
			eventsTotal.WithLabelValues(actionLabel(ev.Name), outcomeIgnored).Inc()
			e.logger.Debug("ignoring unknown event", "event", ev.Name)
			continue
		}
		work = append(work, routed{index: i, event: ev, binding: b})
	}

	lanes := partition(work, e.lanes)
	reports := make([]laneReport, len(lanes))

	var g errgroup.Group
	g.SetLimit(e.lanes)
	for i, lane := range lanes {
		if len(lane) == 0 {
			continue
		}
		i, lane := i, lane
		g.Go(func() error {
			e.runLane(ctx, lane, &reports[i])
			return nil
		})
	}
	_ = g.Wait() // lanes never return errors

	return mergeReports(base, reports)
}

// runLane applies a lane's events sequentially.
func (e *Engine) runLane(ctx context.Context, lane []routed, rep *laneReport) {
	for _, r := range lane {
		if err := ctx.Err(); err != nil {
			rep.Failed++
			rep.add(r.index, fmt.Errorf("event %s not applied: %w", r.event.Name, err), true)
			eventsTotal.WithLabelValues(string(r.binding.Action), outcomeFailed).Inc()
			continue
		}
		e.apply(ctx, r, rep)
	}
}

func (e *Engine) logReport(events int, r BatchReport) {
	level := slog.LevelInfo
	if r.Failed > 0 {
		level = slog.LevelWarn
	}
	e.logger.Log(context.Background(), level, "batch processed",
		"events", events,
		"processed", r.Processed,
		"ignored", r.Ignored,
		"failed", r.Failed,
		"snapshots", r.Snapshots,
		"edges", r.Edges,
		"deleted", r.Deleted,
		"errors", len(r.Errors),
	)
}

// actionLabel returns the action suffix of an unbound event name for metrics.
func actionLabel(name string) string {
	if a, ok := record.ParseAction(name); ok {
		return string(a)
	}
	return "unknown"
}
