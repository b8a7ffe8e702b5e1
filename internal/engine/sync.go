package engine

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/roach88/catalog/internal/record"
	"github.com/roach88/catalog/internal/registry"
	"github.com/roach88/catalog/internal/resolver"
	"github.com/roach88/catalog/internal/store"
)

// errSkipped marks an entity that already failed earlier in the same event.
var errSkipped = errors.New("engine: entity skipped earlier in this event")

// step carries the state of one event through its handlers.
type step struct {
	index int
	event record.Event
	rep   *laneReport
	x     *expansion
}

// warn records a non-fatal failure.
func (st *step) warn(err error) {
	st.rep.add(st.index, err, false)
}

// apply routes an event to its handler and records the outcome.
func (e *Engine) apply(ctx context.Context, r routed, rep *laneReport) {
	st := &step{
		index: r.index,
		event: r.event,
		rep:   rep,
		x:     newExpansion(e.maxDepth),
	}

	var err error
	switch r.binding.Action {
	case record.ActionCreated, record.ActionUpdated:
		err = e.upsertEntity(ctx, st, r.binding.Entity)
	case record.ActionDeleted:
		err = e.deleteEntity(ctx, st, r.binding.Entity)
	case record.ActionAttached:
		err = e.attach(ctx, st, r.binding.Link)
	case record.ActionDetached:
		err = e.detach(ctx, st, r.binding.Link)
	default:
		err = newInvalidEventError(r.event.Name, fmt.Sprintf("unsupported action %q", r.binding.Action))
	}

	action := string(r.binding.Action)
	if err != nil {
		rep.Failed++
		rep.add(r.index, err, true)
		eventsTotal.WithLabelValues(action, outcomeFailed).Inc()
		e.logger.Warn("event failed",
			"event", r.event.Name,
			"entity_type", r.binding.Type(),
			"entity_id", r.event.PayloadID(),
			"error", err,
		)
		return
	}

	rep.Processed++
	eventsTotal.WithLabelValues(action, outcomeProcessed).Inc()
	e.logger.Debug("event applied",
		"event", r.event.Name,
		"entity_type", r.binding.Type(),
		"entity_id", r.event.PayloadID(),
		"touched", st.x.Len(),
	)
}

// upsertEntity handles created and updated events.
//
// Stubs are followed from both the resolved record and the event payload,
// so relations the payload implies are linked even when the resolver
// omits them.
func (e *Engine) upsertEntity(ctx context.Context, st *step, ent *registry.Entity) error {
	id := st.event.PayloadID()
	if id == "" {
		return newInvalidEventError(st.event.Name, "payload has no id")
	}
	_, err := e.syncEntity(ctx, st, ent, id, 0, st.event.Data)
	return err
}

// syncEntity resolves and stores one entity, then follows its stubs.
// It returns the key the snapshot was stored under, which is the
// resolver's id rather than the requested one.
func (e *Engine) syncEntity(ctx context.Context, st *step, ent *registry.Entity, id string, depth int, extra record.Data) (record.Key, error) {
	requested := record.Key{Type: ent.Name, ID: id}
	if v, ok := st.x.seen(requested); ok {
		if !v.ok {
			return record.Key{}, errSkipped
		}
		return v.stored, nil
	}

	key, data, err := e.resolveAndStore(ctx, st, ent, id)
	st.x.mark(requested, visit{stored: key, ok: err == nil})
	if err != nil {
		return record.Key{}, err
	}
	if key != requested {
		st.x.mark(key, visit{stored: key, ok: true})
	}

	sources := []record.Data{data}
	if extra != nil {
		sources = append(sources, extra)
	}
	e.expand(ctx, st, ent, key, depth, sources)
	return key, nil
}

// resolveAndStore fetches the current record and upserts it.
//
// The requested key is locked for the resolve and the stored key for the
// write, so two lanes never interleave writes to one snapshot.
func (e *Engine) resolveAndStore(ctx context.Context, st *step, ent *registry.Entity, id string) (record.Key, record.Data, error) {
	requested := record.Key{Type: ent.Name, ID: id}
	unlock := e.locks.Lock(requested)

	data, err := e.resolve(ctx, resolver.Query{
		Entity: ent.Name,
		Alias:  ent.Alias,
		ID:     id,
		Fields: e.resolveFields(ent),
	})
	if err != nil {
		unlock()
		return record.Key{}, nil, newResolutionError(st.event.Name, ent.Name, id, err)
	}

	storedID := data.ID()
	if storedID == "" {
		unlock()
		return record.Key{}, nil, newResolutionError(st.event.Name, ent.Name, id, errors.New("resolved record has no id"))
	}

	key := record.Key{Type: ent.Name, ID: storedID}
	if key != requested {
		unlock()
		unlock = e.locks.Lock(key)
		e.logger.Debug("resolver assigned a different id",
			"event", st.event.Name,
			"entity_type", ent.Name,
			"requested_id", id,
			"entity_id", storedID,
		)
	}
	defer unlock()

	result, err := e.store.UpsertSnapshot(ctx, record.Snapshot{
		ID:   storedID,
		Type: ent.Name,
		Data: data,
		Seq:  e.clock.Next(),
	})
	if err != nil {
		return record.Key{}, nil, newStoreError(st.event.Name, ent.Name, storedID, err)
	}
	if result != store.Unchanged {
		st.rep.Snapshots++
	}

	e.logger.Debug("snapshot stored",
		"event", st.event.Name,
		"entity_type", ent.Name,
		"entity_id", storedID,
		"result", result.String(),
		"soft_deleted", ent.IsDeleted(data),
	)
	return key, data, nil
}

// expand follows the stubs embedded under each declared relation ref and
// links them to self.
func (e *Engine) expand(ctx context.Context, st *step, ent *registry.Entity, self record.Key, depth int, sources []record.Data) {
	for _, exp := range e.registry.Expansions(ent.Name) {
		other, ok := e.registry.Entity(exp.Other)
		if !ok {
			continue
		}

		seen := make(map[string]bool)
		for _, src := range sources {
			for _, stub := range src.Stubs(exp.Ref) {
				sid := stub.ID()
				if seen[sid] {
					continue
				}
				seen[sid] = true

				otherKey, ok := e.stubKey(ctx, st, other, sid, depth+1)
				if !ok {
					continue
				}

				parent, child := self, otherKey
				if !exp.SelfIsParent {
					parent, child = otherKey, self
				}
				if err := e.link(ctx, st, parent, child); err != nil {
					st.warn(err)
				}
			}
		}
	}
}

// stubKey returns the stored key for a stub, resolving it when depth allows.
// Beyond the depth bound a stub is only linked if its snapshot already exists.
func (e *Engine) stubKey(ctx context.Context, st *step, ent *registry.Entity, id string, depth int) (record.Key, bool) {
	requested := record.Key{Type: ent.Name, ID: id}

	if st.x.canResolve(depth) {
		key, err := e.syncEntity(ctx, st, ent, id, depth, nil)
		if err != nil {
			if !errors.Is(err, errSkipped) {
				st.warn(err)
				e.logger.Warn("stub skipped",
					"event", st.event.Name,
					"entity_type", ent.Name,
					"entity_id", id,
					"error", err,
				)
			}
			return record.Key{}, false
		}
		return key, true
	}

	if v, ok := st.x.seen(requested); ok {
		return v.stored, v.ok
	}
	exists, err := e.store.Exists(ctx, requested)
	if err != nil {
		st.warn(newStoreError(st.event.Name, ent.Name, id, err))
		return record.Key{}, false
	}
	if !exists {
		e.logger.Debug("stub beyond max depth not stored",
			"event", st.event.Name,
			"entity_type", ent.Name,
			"entity_id", id,
			"depth", depth,
		)
	}
	return requested, exists
}

// link writes the edge parent -> child if both snapshots exist.
func (e *Engine) link(ctx context.Context, st *step, parent, child record.Key) error {
	edge := record.Edge{
		ID:         e.ids.Generate(),
		ParentID:   parent.ID,
		ParentType: parent.Type,
		ChildID:    child.ID,
		ChildType:  child.Type,
		Seq:        e.clock.Next(),
	}

	inserted, err := e.store.WriteEdge(ctx, edge)
	if errors.Is(err, store.ErrDanglingEdge) {
		st.rep.Dangling++
		e.logger.Warn("dangling edge refused",
			"event", st.event.Name,
			"parent", parent.String(),
			"child", child.String(),
		)
		return newDanglingEdgeError(st.event.Name, parent.String(), child.String())
	}
	if err != nil {
		return newStoreError(st.event.Name, parent.Type, parent.ID, err)
	}

	if inserted {
		st.rep.Edges++
		edgesWritten.Inc()
		e.logger.Debug("edge written",
			"event", st.event.Name,
			"parent", parent.String(),
			"child", child.String(),
		)
	}
	return nil
}

// deleteEntity removes the snapshot named by the payload id and its edges.
func (e *Engine) deleteEntity(ctx context.Context, st *step, ent *registry.Entity) error {
	id := st.event.PayloadID()
	if id == "" {
		return newInvalidEventError(st.event.Name, "payload has no id")
	}

	key := record.Key{Type: ent.Name, ID: id}
	unlock := e.locks.Lock(key)
	defer unlock()

	res, err := e.store.DeleteSnapshot(ctx, key)
	if err != nil {
		return newStoreError(st.event.Name, ent.Name, id, err)
	}
	if res.Found {
		st.rep.Deleted++
	}
	st.rep.EdgesRemoved += res.Edges

	e.logger.Debug("snapshot deleted",
		"event", st.event.Name,
		"entity_type", ent.Name,
		"entity_id", id,
		"found", res.Found,
		"edges", res.Edges,
	)
	return nil
}

// attach handles attached events.
//
// A payload that names a link id is resolved, and the link record is
// stored as a snapshot of the link type under the resolver's id, wired
// parent -> link -> child. The direct parent -> child edge of the link's
// relation is written either way; queries traverse that edge. A payload
// without an id is itself the link record and gets only the direct edge.
func (e *Engine) attach(ctx context.Context, st *step, lnk *registry.Link) error {
	rec := st.event.Data
	id := st.event.PayloadID()
	if id != "" {
		data, err := e.resolve(ctx, resolver.Query{Entity: lnk.Name, Alias: lnk.Alias, ID: id})
		if err != nil {
			return newResolutionError(st.event.Name, lnk.Name, id, err)
		}
		if data.ID() == "" {
			return newResolutionError(st.event.Name, lnk.Name, id, errors.New("resolved record has no id"))
		}
		rec = data
	}

	parentID, childID := lnk.Parent.IDFrom(rec), lnk.Child.IDFrom(rec)
	if parentID == "" || childID == "" {
		return newInvalidEventError(st.event.Name, "link record has no parent or child id")
	}

	parent, err := e.endpointKey(ctx, st, lnk.Parent, parentID, rec)
	if err != nil {
		return err
	}
	child, err := e.endpointKey(ctx, st, lnk.Child, childID, rec)
	if err != nil {
		return err
	}
	// Refuses the event before anything is stored when an endpoint is missing.
	if err := e.link(ctx, st, parent, child); err != nil {
		return err
	}
	if id == "" {
		return nil
	}

	self, err := e.storeLink(ctx, st, lnk, rec)
	if err != nil {
		return err
	}
	if err := e.link(ctx, st, parent, self); err != nil {
		return err
	}
	return e.link(ctx, st, self, child)
}

// storeLink upserts a resolved link record.
func (e *Engine) storeLink(ctx context.Context, st *step, lnk *registry.Link, rec record.Data) (record.Key, error) {
	key := record.Key{Type: lnk.Name, ID: rec.ID()}
	unlock := e.locks.Lock(key)
	defer unlock()

	result, err := e.store.UpsertSnapshot(ctx, record.Snapshot{
		ID:   key.ID,
		Type: key.Type,
		Data: rec,
		Seq:  e.clock.Next(),
	})
	if err != nil {
		return record.Key{}, newStoreError(st.event.Name, key.Type, key.ID, err)
	}
	if result != store.Unchanged {
		st.rep.Snapshots++
	}

	e.logger.Debug("link record stored",
		"event", st.event.Name,
		"entity_type", key.Type,
		"entity_id", key.ID,
		"result", result.String(),
	)
	return key, nil
}

// endpointKey returns the stored key of a link endpoint. An endpoint whose
// stub is embedded in the link record is synced first.
func (e *Engine) endpointKey(ctx context.Context, st *step, ep registry.Endpoint, id string, rec record.Data) (record.Key, error) {
	key := record.Key{Type: ep.Entity, ID: id}
	if ep.Ref == "" || len(rec.Stubs(ep.Ref)) == 0 || !st.x.canResolve(1) {
		return key, nil
	}
	ent, ok := e.registry.Entity(ep.Entity)
	if !ok {
		return key, nil
	}
	return e.syncEntity(ctx, st, ent, id, 1, nil)
}

// detach handles detached events. The link record is not resolved: it
// usually no longer exists at the source.
//
// The stored link snapshots joining the two endpoints are deleted with
// their edges; a payload id narrows that to one record and may stand in
// for the endpoint ids. The direct edge goes once no link snapshot joins
// the pair any more.
func (e *Engine) detach(ctx context.Context, st *step, lnk *registry.Link) error {
	rec := st.event.Data
	id := st.event.PayloadID()
	parentID, childID := lnk.Parent.IDFrom(rec), lnk.Child.IDFrom(rec)
	if (parentID == "" || childID == "") && id != "" {
		snap, err := e.store.ReadSnapshot(ctx, record.Key{Type: lnk.Name, ID: id})
		switch {
		case err == nil:
			parentID, childID = lnk.Parent.IDFrom(snap.Data), lnk.Child.IDFrom(snap.Data)
		case !errors.Is(err, store.ErrNotFound):
			return newStoreError(st.event.Name, lnk.Name, id, err)
		}
	}
	if parentID == "" || childID == "" {
		return newInvalidEventError(st.event.Name, "payload has no parent or child id")
	}

	parent := record.Key{Type: lnk.Parent.Entity, ID: parentID}
	child := record.Key{Type: lnk.Child.Entity, ID: childID}

	records, err := e.linkRecords(ctx, lnk, parent, child)
	if err != nil {
		return newStoreError(st.event.Name, parent.Type, parent.ID, err)
	}
	remaining := 0
	for _, key := range records {
		if id != "" && key.ID != id {
			remaining++
			continue
		}
		if err := e.dropLink(ctx, st, key); err != nil {
			return err
		}
	}

	removed := false
	if remaining == 0 {
		removed, err = e.store.DeleteEdge(ctx, parent, child)
		if err != nil {
			return newStoreError(st.event.Name, parent.Type, parent.ID, err)
		}
		if removed {
			st.rep.EdgesRemoved++
		}
	}

	e.logger.Debug("edge detached",
		"event", st.event.Name,
		"parent", parent.String(),
		"child", child.String(),
		"removed", removed,
		"link_records", len(records),
	)
	return nil
}

// linkRecords returns the keys of the link snapshots wired between parent
// and child, in edge order.
func (e *Engine) linkRecords(ctx context.Context, lnk *registry.Link, parent, child record.Key) ([]record.Key, error) {
	fromParent, err := e.store.EdgesOf(ctx, parent)
	if err != nil {
		return nil, err
	}
	var keys []record.Key
	for _, edge := range fromParent {
		if edge.Parent() != parent || edge.ChildType != lnk.Name {
			continue
		}
		self := edge.Child()
		out, err := e.store.EdgesOf(ctx, self)
		if err != nil {
			return nil, err
		}
		for _, o := range out {
			if o.Parent() == self && o.Child() == child {
				keys = append(keys, self)
				break
			}
		}
	}
	return keys, nil
}

// dropLink deletes a link snapshot and its edges.
func (e *Engine) dropLink(ctx context.Context, st *step, key record.Key) error {
	unlock := e.locks.Lock(key)
	defer unlock()

	res, err := e.store.DeleteSnapshot(ctx, key)
	if err != nil {
		return newStoreError(st.event.Name, key.Type, key.ID, err)
	}
	if res.Found {
		st.rep.Deleted++
	}
	st.rep.EdgesRemoved += res.Edges
	return nil
}

// resolve calls the resolver under the resolve timeout.
//
// The call runs in its own goroutine so a resolver that ignores its
// context still cannot hold up the lane past the deadline.
func (e *Engine) resolve(ctx context.Context, q resolver.Query) (record.Data, error) {
	ctx, cancel := context.WithTimeout(ctx, e.resolveTimeout)
	defer cancel()

	type result struct {
		data record.Data
		err  error
	}
	done := make(chan result, 1)
	start := time.Now()
	go func() {
		data, err := e.resolver.Resolve(ctx, q)
		done <- result{data, err}
	}()

	select {
	case r := <-done:
		resolveDuration.Observe(time.Since(start).Seconds())
		if r.err != nil {
			return nil, r.err
		}
		if r.data == nil {
			return nil, resolver.ErrNotFound
		}
		return r.data, nil
	case <-ctx.Done():
		resolveDuration.Observe(time.Since(start).Seconds())
		return nil, fmt.Errorf("resolve %s:%s: %w", q.Entity, q.ID, ctx.Err())
	}
}

// resolveFields narrows resolution to declared fields plus the relation
// refs needed to follow stubs. Entities without declared fields get
// everything.
func (e *Engine) resolveFields(ent *registry.Entity) []string {
	if len(ent.Fields) == 0 {
		return nil
	}
	fields := append([]string(nil), ent.Fields...)
	have := make(map[string]bool, len(fields))
	for _, f := range fields {
		have[f] = true
	}
	for _, exp := range e.registry.Expansions(ent.Name) {
		if !have[exp.Ref] {
			have[exp.Ref] = true
			fields = append(fields, exp.Ref)
		}
	}
	if ent.SoftDelete && !have["deleted_at"] {
		fields = append(fields, "deleted_at")
	}
	return fields
}
