package engine

import "github.com/roach88/catalog/internal/record"

// DefaultMaxDepth bounds how far embedded stubs are followed from the
// entity an event names.
const DefaultMaxDepth = 2

// expansion tracks the entities touched while applying one event.
//
// Relation graphs may contain cycles (a category's parent is a category,
// a variant embeds its product which embeds its variants). Two bounds keep
// stub expansion finite:
//   - visited: each (type, id) is resolved at most once per event
//   - maxDepth: stubs deeper than maxDepth are linked if already stored,
//     never resolved
//
// An expansion is owned by the lane applying the event and is not shared.
type expansion struct {
	maxDepth int
	visited  map[record.Key]visit
}

// visit is the outcome of resolving a requested key.
type visit struct {
	stored record.Key // key the snapshot was stored under
	ok     bool       // false if resolution or the write failed
}

func newExpansion(maxDepth int) *expansion {
	return &expansion{
		maxDepth: maxDepth,
		visited:  make(map[record.Key]visit),
	}
}

// seen returns the recorded outcome for a requested key.
func (x *expansion) seen(k record.Key) (visit, bool) {
	v, ok := x.visited[k]
	return v, ok
}

// mark records that requested has been handled.
func (x *expansion) mark(requested record.Key, v visit) {
	x.visited[requested] = v
}

// canResolve reports whether an entity at depth may be resolved.
// The event's own entity is depth 0.
func (x *expansion) canResolve(depth int) bool {
	return depth <= x.maxDepth
}

// Len returns the number of distinct keys handled.
func (x *expansion) Len() int {
	return len(x.visited)
}
