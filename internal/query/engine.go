// Package query reconstructs nested object trees from the snapshot and
// edge tables.
//
// A query is answered inside one read transaction in three steps: count the
// root candidates, read one page of them, then walk the selection tree one
// level at a time. Each level is a single batched read of the children of
// every parent on the previous level, so the number of SQL statements
// depends on the depth of the selection, not on the number of rows.
package query

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/roach88/catalog/internal/queryir"
	"github.com/roach88/catalog/internal/querysql"
	"github.com/roach88/catalog/internal/record"
	"github.com/roach88/catalog/internal/registry"
	"github.com/roach88/catalog/internal/store"
)

const (
	// DefaultTake is the page size when a request leaves Take at zero.
	DefaultTake = 20

	// MaxTake caps the page size.
	MaxTake = 1000

	// childBatchSize bounds the parent ids bound into one children read.
	childBatchSize = 500
)

// Result is one page of root rows plus the unpaginated root count.
type Result struct {
	Rows  []map[string]any `json:"rows"`
	Count int              `json:"count"`
}

// Engine answers graph queries. It never writes to the store.
type Engine struct {
	store    *store.Store
	registry *registry.Registry
	compiler *querysql.Compiler
	logger   *slog.Logger
}

// Option configures an Engine.
type Option func(*Engine)

// WithLogger sets the logger. Default: slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(e *Engine) {
		e.logger = l
	}
}

// New creates a query Engine over s, validating requests against reg.
func New(s *store.Store, reg *registry.Registry, opts ...Option) *Engine {
	e := &Engine{
		store:    s,
		registry: reg,
		compiler: querysql.NewCompiler(s.Dialect()),
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// QueryRaw parses and runs a request in its wire form.
func (e *Engine) QueryRaw(ctx context.Context, raw queryir.RawRequest) (Result, error) {
	req, err := raw.Parse()
	if err != nil {
		return Result{}, err
	}
	return e.Query(ctx, req)
}

// Query validates and runs req. Shape problems are returned as
// *queryir.QueryShapeError before anything is read.
func (e *Engine) Query(ctx context.Context, req queryir.Request) (Result, error) {
	if err := queryir.Validate(&req, e.registry); err != nil {
		return Result{}, err
	}
	root, _ := e.registry.Entity(req.Select.Entity)

	start := time.Now()
	where := queryir.Conjoin(req.Where, req.Select.Filters, e.liveFilter(root, req.WithDeleted))
	take := pageSize(req.Take)

	var (
		res  Result
		rows int
	)
	err := e.store.ReadTx(ctx, func(r *store.Reader) error {
		sql, args, err := e.compiler.CompileCount(root.Name, where)
		if err != nil {
			return err
		}
		if res.Count, err = r.Count(ctx, sql, args...); err != nil {
			return err
		}

		sql, args, err = e.compiler.CompileRoots(root.Name, where, req.Skip, take)
		if err != nil {
			return err
		}
		snaps, err := r.Snapshots(ctx, sql, args...)
		if err != nil {
			return err
		}

		nodes := make([]node, len(snaps))
		res.Rows = make([]map[string]any, len(snaps))
		for i, snap := range snaps {
			nodes[i] = newNode(snap, req.Select.Fields)
			res.Rows[i] = nodes[i].row
		}
		rows = len(nodes)

		n, err := e.expand(ctx, r, &req.Select, nodes, req.WithDeleted)
		rows += n
		return err
	})
	if err != nil {
		return Result{}, fmt.Errorf("query %s: %w", root.Name, err)
	}

	queryDuration.WithLabelValues(root.Name).Observe(time.Since(start).Seconds())
	rowsReturned.Add(float64(rows))
	e.logger.Debug("query executed",
		"entity_type", root.Name,
		"count", res.Count,
		"rows", len(res.Rows),
		"total_rows", rows,
		"duration", time.Since(start),
	)
	return res, nil
}

// node is one assembled row and the snapshot id it came from.
type node struct {
	id  string
	row map[string]any
}

func newNode(snap record.Snapshot, fields []string) node {
	row := map[string]any(snap.Data.Select(fields))
	row["id"] = snap.ID
	return node{id: snap.ID, row: row}
}

// expand fills every relation of sel on the given parent rows, then
// recurses into the children. Returns the number of child rows assembled.
func (e *Engine) expand(ctx context.Context, r *store.Reader, sel *queryir.Selection, parents []node, withDeleted bool) (int, error) {
	if len(sel.Relations) == 0 || len(parents) == 0 {
		return 0, nil
	}

	// A parent id may occur several times on one level (a price set shared
	// by two variants); each occurrence gets its own copy of the children.
	byID := make(map[string][]node, len(parents))
	var ids []string
	for _, p := range parents {
		if _, ok := byID[p.id]; !ok {
			ids = append(ids, p.id)
		}
		byID[p.id] = append(byID[p.id], p)
	}

	names := make([]string, 0, len(sel.Relations))
	for name := range sel.Relations {
		names = append(names, name)
	}
	sort.Strings(names)

	total := 0
	for _, name := range names {
		child := sel.Relations[name]
		childEnt, ok := e.registry.Entity(child.Entity)
		if !ok {
			return total, fmt.Errorf("relation %s: unknown entity %q", name, child.Entity)
		}
		filter := queryir.Conjoin(child.Filters, e.liveFilter(childEnt, withDeleted))

		for _, p := range parents {
			p.row[name] = []map[string]any{}
		}

		var next []node
		for start := 0; start < len(ids); start += childBatchSize {
			chunk := ids[start:min(start+childBatchSize, len(ids))]
			sql, args, err := e.compiler.CompileChildren(sel.Entity, chunk, childEnt.Name, filter)
			if err != nil {
				return total, fmt.Errorf("relation %s: %w", name, err)
			}
			children, err := r.Children(ctx, sql, args...)
			if err != nil {
				return total, fmt.Errorf("relation %s: %w", name, err)
			}
			for _, c := range children {
				for _, p := range byID[c.ParentID] {
					n := newNode(c.Snapshot, child.Fields)
					p.row[name] = append(p.row[name].([]map[string]any), n.row)
					next = append(next, n)
				}
			}
		}
		total += len(next)

		n, err := e.expand(ctx, r, child, next, withDeleted)
		total += n
		if err != nil {
			return total, err
		}
	}
	return total, nil
}

// liveFilter hides soft-deleted snapshots unless withDeleted is set.
func (e *Engine) liveFilter(ent *registry.Entity, withDeleted bool) queryir.Predicate {
	if withDeleted || !ent.SoftDelete {
		return nil
	}
	return queryir.IsNull{Field: "deleted_at", Null: true}
}

// pageSize applies the default and the cap to a requested take.
func pageSize(take int) int {
	switch {
	case take <= 0:
		return DefaultTake
	case take > MaxTake:
		return MaxTake
	default:
		return take
	}
}
