package engine

import (
	"hash/fnv"

	"github.com/roach88/catalog/internal/record"
	"github.com/roach88/catalog/internal/registry"
)

// DefaultLanes is the default number of lanes a batch is split into.
const DefaultLanes = 4

// routed is an event paired with its registry binding and batch position.
type routed struct {
	index   int
	event   record.Event
	binding registry.Binding
}

// laneKey returns the routing key of an event.
//
// Entity events route by (type, payload id) so every event for one entity
// lands in one lane and keeps its arrival order. Link events route by link
// name: attach and detach payloads may carry different ids for the same
// edge, so all events of a link kind share a lane.
func laneKey(ev record.Event, b registry.Binding) string {
	if b.Kind == registry.BindingLink {
		return b.Link.Name
	}
	return record.Key{Type: b.Entity.Name, ID: ev.PayloadID()}.String()
}

// laneFor maps a routing key to a lane index with FNV-32a.
func laneFor(key string, lanes int) int {
	if lanes <= 1 {
		return 0
	}
	h := fnv.New32a()
	h.Write([]byte(key))
	return int(h.Sum32() % uint32(lanes))
}

// partition splits events into lanes, preserving arrival order within each lane.
func partition(events []routed, lanes int) [][]routed {
	if lanes < 1 {
		lanes = 1
	}
	out := make([][]routed, lanes)
	for _, r := range events {
		i := laneFor(laneKey(r.event, r.binding), lanes)
		out[i] = append(out[i], r)
	}
	return out
}
