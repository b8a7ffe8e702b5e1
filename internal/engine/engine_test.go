package engine

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/catalog/internal/record"
	"github.com/roach88/catalog/internal/registry"
	"github.com/roach88/catalog/internal/resolver"
	"github.com/roach88/catalog/internal/store"
)

func setupTestStore(t *testing.T) *store.Store {
	t.Helper()
	dir := t.TempDir()
	s, err := store.Open(dir + "/test.db")
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func testRegistry(t *testing.T) *registry.Registry {
	t.Helper()
	reg := registry.New()
	require.NoError(t, reg.AddEntity(registry.Entity{
		Name:       "Product",
		Alias:      "product",
		SoftDelete: true,
		Listeners:  []string{"product.created", "product.updated", "product.deleted"},
		Children:   []registry.Relation{{Child: "ProductVariant", ChildRef: "variants"}},
	}))
	require.NoError(t, reg.AddEntity(registry.Entity{
		Name:      "ProductVariant",
		Alias:     "variant",
		Listeners: []string{"variant.created", "variant.updated", "variant.deleted"},
		Parents:   []registry.Relation{{Parent: "Product", ParentRef: "product", Name: "variants"}},
	}))
	require.NoError(t, reg.AddEntity(registry.Entity{
		Name:      "PriceSet",
		Alias:     "price_set",
		Listeners: []string{"price_set.created", "price_set.updated", "price_set.deleted"},
	}))
	require.NoError(t, reg.AddLink(registry.Link{
		Name:      "LinkProductVariantPriceSet",
		Alias:     "product_variant_price_set",
		Parent:    registry.Endpoint{Entity: "ProductVariant", Key: "variant_id", Ref: "variant", As: "price_sets"},
		Child:     registry.Endpoint{Entity: "PriceSet", Key: "price_set_id"},
		Listeners: []string{"LinkProductVariantPriceSet.attached", "LinkProductVariantPriceSet.detached"},
	}))
	return reg
}

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func setupEngine(t *testing.T, r resolver.Resolver, opts ...EngineOption) (*Engine, *store.Store) {
	t.Helper()
	s := setupTestStore(t)
	opts = append([]EngineOption{
		WithLogger(quietLogger()),
		WithIDGenerator(NewSequenceGenerator("edge")),
		WithLanes(1),
	}, opts...)
	e, err := New(context.Background(), s, testRegistry(t), r, opts...)
	require.NoError(t, err)
	return e, s
}

func mustSet(t *testing.T, r *resolver.Static, entity, id string, data map[string]any) {
	t.Helper()
	require.NoError(t, r.Set(entity, id, data))
}

func ev(name string, data record.Data) record.Event {
	return record.Event{Name: name, Data: data}
}

func countSnapshots(t *testing.T, s *store.Store, typ string) int {
	t.Helper()
	n, err := s.CountSnapshots(context.Background(), typ)
	require.NoError(t, err)
	return n
}

func edges(t *testing.T, s *store.Store) []record.Edge {
	t.Helper()
	out, err := s.ListEdges(context.Background())
	require.NoError(t, err)
	return out
}

func edgePairs(t *testing.T, s *store.Store) []string {
	t.Helper()
	var out []string
	for _, e := range edges(t, s) {
		out = append(out, fmt.Sprintf("%s->%s", e.Parent(), e.Child()))
	}
	return out
}

// scenarioA applies product.created{p1} then variant.created{v1, product:{p1}}.
func scenarioA(t *testing.T) (*Engine, *store.Store, *resolver.Static) {
	t.Helper()
	r := resolver.NewStatic()
	mustSet(t, r, "Product", "p1", map[string]any{"title": "Shirt"})
	mustSet(t, r, "ProductVariant", "v1", map[string]any{"title": "Shirt / S"})

	e, s := setupEngine(t, r)
	report := e.ProcessBatch(context.Background(), []record.Event{
		ev("product.created", record.Data{"id": "p1"}),
		ev("variant.created", record.Data{"id": "v1", "product": map[string]any{"id": "p1"}}),
	})
	require.Empty(t, report.Errors)
	require.Equal(t, 2, report.Processed)
	return e, s, r
}

func TestEngine_New_ResumesClock(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()
	_, err := s.UpsertSnapshot(ctx, record.Snapshot{ID: "p1", Type: "Product", Data: record.Data{"id": "p1"}, Seq: 41})
	require.NoError(t, err)

	e, err := New(ctx, s, testRegistry(t), resolver.NewStatic(), WithLogger(quietLogger()))
	require.NoError(t, err)
	assert.Equal(t, int64(41), e.Clock().Current())
	assert.Equal(t, DefaultLanes, e.lanes)
	assert.Equal(t, DefaultMaxDepth, e.maxDepth)
	assert.Equal(t, DefaultResolveTimeout, e.resolveTimeout)

	e, err = New(ctx, s, testRegistry(t), resolver.NewStatic(), WithClock(NewClockAt(7)), WithLanes(0))
	require.NoError(t, err)
	assert.Equal(t, int64(7), e.Clock().Current())
	assert.Equal(t, 1, e.lanes, "lanes are clamped to at least one")
}

func TestScenarioA_CreateProductThenVariant(t *testing.T) {
	_, s, _ := scenarioA(t)

	assert.Equal(t, 1, countSnapshots(t, s, "Product"))
	assert.Equal(t, 1, countSnapshots(t, s, "ProductVariant"))
	assert.Equal(t, []string{"Product:p1->ProductVariant:v1"}, edgePairs(t, s))
}

func TestScenarioB_UpdateReresolves(t *testing.T) {
	e, s, r := scenarioA(t)
	mustSet(t, r, "Product", "p1", map[string]any{"title": "New Title"})

	report := e.ProcessBatch(context.Background(), []record.Event{
		ev("product.updated", record.Data{"id": "p1"}),
	})
	require.Empty(t, report.Errors)
	assert.Equal(t, 1, report.Snapshots)

	snap, err := s.ReadSnapshot(context.Background(), record.Key{Type: "Product", ID: "p1"})
	require.NoError(t, err)
	assert.Equal(t, "New Title", snap.Data["title"])
	assert.Equal(t, 1, countSnapshots(t, s, "Product"))
	assert.Len(t, edges(t, s), 1, "edge survives an update")
}

func TestScenarioC_DeleteCascadesEdges(t *testing.T) {
	e, s, _ := scenarioA(t)

	report := e.ProcessBatch(context.Background(), []record.Event{
		ev("product.deleted", record.Data{"id": "p1"}),
	})
	require.Empty(t, report.Errors)
	assert.Equal(t, 1, report.Deleted)
	assert.Equal(t, 1, report.EdgesRemoved)

	assert.Equal(t, 0, countSnapshots(t, s, "Product"))
	assert.Equal(t, 1, countSnapshots(t, s, "ProductVariant"))
	assert.Empty(t, edges(t, s))
}

func TestCreatedThenDeleted_LeavesNothing(t *testing.T) {
	r := resolver.NewStatic()
	mustSet(t, r, "Product", "p1", map[string]any{"title": "Shirt"})
	mustSet(t, r, "ProductVariant", "v1", map[string]any{"product": map[string]any{"id": "p1"}})

	for _, lanes := range []int{1, 4} {
		t.Run(fmt.Sprintf("lanes=%d", lanes), func(t *testing.T) {
			e, s := setupEngine(t, r, WithLanes(lanes))
			report := e.ProcessBatch(context.Background(), []record.Event{
				ev("product.created", record.Data{"id": "p1"}),
				ev("variant.created", record.Data{"id": "v1"}),
				ev("variant.deleted", record.Data{"id": "v1"}),
			})
			require.Empty(t, report.Errors)

			exists, err := s.Exists(context.Background(), record.Key{Type: "ProductVariant", ID: "v1"})
			require.NoError(t, err)
			assert.False(t, exists)
			assert.Empty(t, edges(t, s))
			assert.Equal(t, 1, countSnapshots(t, s, "Product"))
		})
	}
}

func TestIdempotence_SameEventTwice(t *testing.T) {
	r := resolver.NewStatic()
	mustSet(t, r, "Product", "p1", map[string]any{"title": "Old"})
	e, s := setupEngine(t, r)
	ctx := context.Background()

	created := ev("product.created", record.Data{"id": "p1"})
	first := e.ProcessBatch(ctx, []record.Event{created})
	assert.Equal(t, 1, first.Snapshots)

	mustSet(t, r, "Product", "p1", map[string]any{"title": "Latest"})
	second := e.ProcessBatch(ctx, []record.Event{created})
	assert.Equal(t, 1, second.Snapshots)

	third := e.ProcessBatch(ctx, []record.Event{created})
	assert.Equal(t, 0, third.Snapshots, "identical resolution changes nothing")

	assert.Equal(t, 1, countSnapshots(t, s, "Product"))
	snap, err := s.ReadSnapshot(ctx, record.Key{Type: "Product", ID: "p1"})
	require.NoError(t, err)
	assert.Equal(t, "Latest", snap.Data["title"])
}

func TestResolverAuthoritativeID(t *testing.T) {
	r := resolver.NewStatic()
	mustSet(t, r, "Product", "x", map[string]any{"id": "y", "title": "Renamed"})
	e, s := setupEngine(t, r)
	ctx := context.Background()

	require.NoError(t, e.ProcessEvent(ctx, ev("product.created", record.Data{"id": "x"})))

	_, err := s.ReadSnapshot(ctx, record.Key{Type: "Product", ID: "x"})
	assert.ErrorIs(t, err, store.ErrNotFound, "payload id is not the snapshot id")

	snap, err := s.ReadSnapshot(ctx, record.Key{Type: "Product", ID: "y"})
	require.NoError(t, err)
	assert.Equal(t, "Renamed", snap.Data["title"])
}

func TestResolutionFailure_SkipsEntityAndContinues(t *testing.T) {
	r := resolver.NewStatic()
	mustSet(t, r, "Product", "p2", map[string]any{"title": "Kept"})
	e, s := setupEngine(t, r)

	report := e.ProcessBatch(context.Background(), []record.Event{
		ev("product.created", record.Data{"id": "missing"}),
		ev("product.created", record.Data{"id": "p2"}),
	})

	assert.Equal(t, 1, report.Processed)
	assert.Equal(t, 1, report.Failed)
	require.Len(t, report.Errors, 1)
	assert.True(t, IsResolutionFailure(report.Errors[0]))
	assert.ErrorIs(t, report.Errors[0], resolver.ErrNotFound)
	assert.Equal(t, 1, countSnapshots(t, s, "Product"))
}

func TestResolveTimeout_IsResolutionFailure(t *testing.T) {
	block := make(chan struct{})
	t.Cleanup(func() { close(block) })

	// Ignores its context; the engine must still give up at the deadline.
	slow := resolver.Func(func(ctx context.Context, q resolver.Query) (record.Data, error) {
		<-block
		return record.Data{"id": q.ID}, nil
	})
	e, s := setupEngine(t, slow, WithResolveTimeout(20*time.Millisecond))

	start := time.Now()
	err := e.ProcessEvent(context.Background(), ev("product.created", record.Data{"id": "p1"}))
	require.Error(t, err)
	assert.Less(t, time.Since(start), 2*time.Second)
	assert.True(t, IsResolutionFailure(err))
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Equal(t, 0, countSnapshots(t, s, ""))
}

func TestUnknownEvent_Ignored(t *testing.T) {
	e, s := setupEngine(t, resolver.NewStatic())

	report := e.ProcessBatch(context.Background(), []record.Event{
		ev("order.created", record.Data{"id": "o1"}),
		ev("product.exploded", record.Data{"id": "p1"}),
	})
	assert.Equal(t, 2, report.Ignored)
	assert.Equal(t, 0, report.Processed)
	assert.Empty(t, report.Errors)
	assert.Equal(t, 0, countSnapshots(t, s, ""))

	err := e.ProcessEvent(context.Background(), ev("order.created", record.Data{"id": "o1"}))
	assert.True(t, IsUnknownEvent(err))
}

func TestInvalidEvent_NoID(t *testing.T) {
	e, _ := setupEngine(t, resolver.NewStatic())

	err := e.ProcessEvent(context.Background(), ev("product.created", record.Data{"title": "no id"}))
	var se *SyncError
	require.ErrorAs(t, err, &se)
	assert.Equal(t, ErrCodeInvalidEvent, se.Code)
}

func TestStubResolutionFailure_IsNotFatal(t *testing.T) {
	r := resolver.NewStatic()
	mustSet(t, r, "ProductVariant", "v1", map[string]any{"product": map[string]any{"id": "gone"}})
	e, s := setupEngine(t, r)

	report := e.ProcessBatch(context.Background(), []record.Event{
		ev("variant.created", record.Data{"id": "v1"}),
	})
	assert.Equal(t, 1, report.Processed)
	assert.Equal(t, 0, report.Failed)
	require.Len(t, report.Errors, 1)
	assert.True(t, IsResolutionFailure(report.Errors[0]))

	assert.Equal(t, 1, countSnapshots(t, s, "ProductVariant"))
	assert.Empty(t, edges(t, s), "no edge to an unresolved parent")
}

func TestEmbeddedChildren_ResolvedAndLinked(t *testing.T) {
	r := resolver.NewStatic()
	mustSet(t, r, "Product", "p1", map[string]any{
		"title":    "Shirt",
		"variants": []any{map[string]any{"id": "v1"}, map[string]any{"id": "v2"}},
	})
	mustSet(t, r, "ProductVariant", "v1", map[string]any{"product": map[string]any{"id": "p1"}})
	mustSet(t, r, "ProductVariant", "v2", map[string]any{"product": map[string]any{"id": "p1"}})
	e, s := setupEngine(t, r)

	report := e.ProcessBatch(context.Background(), []record.Event{
		ev("product.created", record.Data{"id": "p1"}),
	})
	require.Empty(t, report.Errors)
	assert.Equal(t, 3, report.Snapshots)
	assert.Equal(t, 2, report.Edges)
	assert.ElementsMatch(t, []string{
		"Product:p1->ProductVariant:v1",
		"Product:p1->ProductVariant:v2",
	}, edgePairs(t, s))
}

func TestMaxDepthZero_LinksOnlyStoredStubs(t *testing.T) {
	r := resolver.NewStatic()
	mustSet(t, r, "Product", "p1", map[string]any{"title": "Shirt"})
	mustSet(t, r, "ProductVariant", "v1", map[string]any{"product": map[string]any{"id": "p1"}})
	mustSet(t, r, "ProductVariant", "v2", map[string]any{"product": map[string]any{"id": "p2"}})
	e, s := setupEngine(t, r, WithMaxDepth(0))

	report := e.ProcessBatch(context.Background(), []record.Event{
		ev("product.created", record.Data{"id": "p1"}),
		ev("variant.created", record.Data{"id": "v1"}),
		ev("variant.created", record.Data{"id": "v2"}),
	})
	require.Empty(t, report.Errors, "unstored stubs beyond the bound are skipped silently")
	assert.Equal(t, 3, report.Snapshots)
	assert.Equal(t, []string{"Product:p1->ProductVariant:v1"}, edgePairs(t, s))
}

func TestSelfReferencingStubs_Terminate(t *testing.T) {
	reg := registry.New()
	require.NoError(t, reg.AddEntity(registry.Entity{
		Name:      "Category",
		Alias:     "category",
		Listeners: []string{"category.created"},
		Parents:   []registry.Relation{{Parent: "Category", ParentRef: "parent", Name: "children"}},
		Children:  []registry.Relation{{Child: "Category", ChildRef: "children"}},
	}))

	r := resolver.NewStatic()
	mustSet(t, r, "Category", "a", map[string]any{"children": []any{map[string]any{"id": "b"}}})
	mustSet(t, r, "Category", "b", map[string]any{
		"parent":   map[string]any{"id": "a"},
		"children": []any{map[string]any{"id": "a"}},
	})

	s := setupTestStore(t)
	e, err := New(context.Background(), s, reg, r,
		WithLogger(quietLogger()), WithIDGenerator(NewSequenceGenerator("edge")), WithLanes(1))
	require.NoError(t, err)

	report := e.ProcessBatch(context.Background(), []record.Event{
		ev("category.created", record.Data{"id": "a"}),
	})
	require.Empty(t, report.Errors)
	assert.Equal(t, 2, countSnapshots(t, s, "Category"))
	assert.ElementsMatch(t, []string{
		"Category:a->Category:b",
		"Category:b->Category:a",
	}, edgePairs(t, s))
}

func TestLinkAttachDetach(t *testing.T) {
	r := resolver.NewStatic()
	mustSet(t, r, "ProductVariant", "v1", map[string]any{"title": "S"})
	mustSet(t, r, "PriceSet", "ps1", map[string]any{"currency": "usd"})
	mustSet(t, r, "LinkProductVariantPriceSet", "l1", map[string]any{"variant_id": "v1", "price_set_id": "ps1"})
	e, s := setupEngine(t, r)
	ctx := context.Background()

	report := e.ProcessBatch(ctx, []record.Event{
		ev("variant.created", record.Data{"id": "v1"}),
		ev("price_set.created", record.Data{"id": "ps1"}),
		ev("LinkProductVariantPriceSet.attached", record.Data{"id": "l1"}),
	})
	require.Empty(t, report.Errors)
	assert.Equal(t, 3, report.Snapshots)
	assert.Equal(t, 3, report.Edges)
	assert.Equal(t, 1, countSnapshots(t, s, "LinkProductVariantPriceSet"))
	assert.Equal(t, []string{
		"ProductVariant:v1->PriceSet:ps1",
		"ProductVariant:v1->LinkProductVariantPriceSet:l1",
		"LinkProductVariantPriceSet:l1->PriceSet:ps1",
	}, edgePairs(t, s))

	snap, err := s.ReadSnapshot(ctx, record.Key{Type: "LinkProductVariantPriceSet", ID: "l1"})
	require.NoError(t, err)
	assert.Equal(t, "ps1", snap.Data["price_set_id"])

	// Re-attaching is a no-op.
	report = e.ProcessBatch(ctx, []record.Event{
		ev("LinkProductVariantPriceSet.attached", record.Data{"id": "l1"}),
	})
	assert.Equal(t, 0, report.Snapshots)
	assert.Equal(t, 0, report.Edges)
	assert.Len(t, edges(t, s), 3)

	report = e.ProcessBatch(ctx, []record.Event{
		ev("LinkProductVariantPriceSet.detached", record.Data{"variant_id": "v1", "price_set_id": "ps1"}),
	})
	require.Empty(t, report.Errors)
	assert.Equal(t, 1, report.Deleted)
	assert.Equal(t, 3, report.EdgesRemoved)
	assert.Empty(t, edges(t, s))
	assert.Equal(t, 0, countSnapshots(t, s, "LinkProductVariantPriceSet"))
	assert.Equal(t, 1, countSnapshots(t, s, "PriceSet"), "detach keeps both endpoints")
	assert.Equal(t, 1, countSnapshots(t, s, "ProductVariant"))
}

func TestLinkRecord_FullTopology(t *testing.T) {
	r := resolver.NewStatic()
	mustSet(t, r, "Product", "p1", map[string]any{"variants": []any{map[string]any{"id": "v1"}}})
	mustSet(t, r, "ProductVariant", "v1", map[string]any{})
	mustSet(t, r, "PriceSet", "ps1", map[string]any{})
	mustSet(t, r, "LinkProductVariantPriceSet", "link_id_1", map[string]any{"variant_id": "v1", "price_set_id": "ps1"})
	e, s := setupEngine(t, r)

	report := e.ProcessBatch(context.Background(), []record.Event{
		ev("product.created", record.Data{"id": "p1"}),
		ev("price_set.created", record.Data{"id": "ps1"}),
		ev("LinkProductVariantPriceSet.attached", record.Data{"id": "link_id_1"}),
	})
	require.Empty(t, report.Errors)
	assert.Equal(t, 1, countSnapshots(t, s, "LinkProductVariantPriceSet"))
	assert.ElementsMatch(t, []string{
		"Product:p1->ProductVariant:v1",
		"ProductVariant:v1->PriceSet:ps1",
		"ProductVariant:v1->LinkProductVariantPriceSet:link_id_1",
		"LinkProductVariantPriceSet:link_id_1->PriceSet:ps1",
	}, edgePairs(t, s))
}

func TestLinkAttach_ResolverAssignsLinkID(t *testing.T) {
	r := resolver.NewStatic()
	mustSet(t, r, "ProductVariant", "v1", map[string]any{})
	mustSet(t, r, "PriceSet", "ps1", map[string]any{})
	mustSet(t, r, "LinkProductVariantPriceSet", "l1", map[string]any{"id": "link_01", "variant_id": "v1", "price_set_id": "ps1"})
	e, s := setupEngine(t, r)
	ctx := context.Background()

	report := e.ProcessBatch(ctx, []record.Event{
		ev("variant.created", record.Data{"id": "v1"}),
		ev("price_set.created", record.Data{"id": "ps1"}),
		ev("LinkProductVariantPriceSet.attached", record.Data{"id": "l1"}),
	})
	require.Empty(t, report.Errors)

	ok, err := s.Exists(ctx, record.Key{Type: "LinkProductVariantPriceSet", ID: "link_01"})
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, 1, countSnapshots(t, s, "LinkProductVariantPriceSet"))
}

func TestLinkDetach_ByLinkID(t *testing.T) {
	r := resolver.NewStatic()
	mustSet(t, r, "ProductVariant", "v1", map[string]any{})
	mustSet(t, r, "PriceSet", "ps1", map[string]any{})
	mustSet(t, r, "LinkProductVariantPriceSet", "l1", map[string]any{"variant_id": "v1", "price_set_id": "ps1"})
	mustSet(t, r, "LinkProductVariantPriceSet", "l2", map[string]any{"variant_id": "v1", "price_set_id": "ps1"})
	e, s := setupEngine(t, r)
	ctx := context.Background()

	e.ProcessBatch(ctx, []record.Event{
		ev("variant.created", record.Data{"id": "v1"}),
		ev("price_set.created", record.Data{"id": "ps1"}),
		ev("LinkProductVariantPriceSet.attached", record.Data{"id": "l1"}),
		ev("LinkProductVariantPriceSet.attached", record.Data{"id": "l2"}),
	})
	require.Equal(t, 2, countSnapshots(t, s, "LinkProductVariantPriceSet"))
	require.Len(t, edges(t, s), 5)

	// The id alone locates the endpoints; the direct edge stays while l2
	// still joins the pair.
	report := e.ProcessBatch(ctx, []record.Event{
		ev("LinkProductVariantPriceSet.detached", record.Data{"id": "l1"}),
	})
	require.Empty(t, report.Errors)
	assert.Equal(t, 1, report.Deleted)
	assert.Equal(t, 2, report.EdgesRemoved)
	assert.ElementsMatch(t, []string{
		"ProductVariant:v1->PriceSet:ps1",
		"ProductVariant:v1->LinkProductVariantPriceSet:l2",
		"LinkProductVariantPriceSet:l2->PriceSet:ps1",
	}, edgePairs(t, s))

	report = e.ProcessBatch(ctx, []record.Event{
		ev("LinkProductVariantPriceSet.detached", record.Data{"id": "l2", "variant_id": "v1", "price_set_id": "ps1"}),
	})
	require.Empty(t, report.Errors)
	assert.Equal(t, 3, report.EdgesRemoved)
	assert.Empty(t, edges(t, s))
	assert.Equal(t, 0, countSnapshots(t, s, "LinkProductVariantPriceSet"))
}

func TestLinkDetach_UnknownLinkIDWithoutEndpoints(t *testing.T) {
	e, _ := setupEngine(t, resolver.NewStatic())

	err := e.ProcessEvent(context.Background(), ev("LinkProductVariantPriceSet.detached", record.Data{"id": "nope"}))
	var se *SyncError
	require.ErrorAs(t, err, &se)
	assert.Equal(t, ErrCodeInvalidEvent, se.Code)
}

func TestLinkAttach_DanglingStoresNoLinkRecord(t *testing.T) {
	r := resolver.NewStatic()
	mustSet(t, r, "ProductVariant", "v1", map[string]any{})
	mustSet(t, r, "LinkProductVariantPriceSet", "l1", map[string]any{"variant_id": "v1", "price_set_id": "ps9"})
	e, s := setupEngine(t, r)
	ctx := context.Background()

	require.NoError(t, e.ProcessEvent(ctx, ev("variant.created", record.Data{"id": "v1"})))
	report := e.ProcessBatch(ctx, []record.Event{
		ev("LinkProductVariantPriceSet.attached", record.Data{"id": "l1"}),
	})
	assert.Equal(t, 1, report.Failed)
	assert.Equal(t, 1, report.Dangling)
	assert.Equal(t, 0, countSnapshots(t, s, "LinkProductVariantPriceSet"))
	assert.Empty(t, edges(t, s))
}

func TestLinkAttach_EmbeddedEndpointIsSynced(t *testing.T) {
	r := resolver.NewStatic()
	mustSet(t, r, "ProductVariant", "v1", map[string]any{"title": "S"})
	mustSet(t, r, "PriceSet", "ps1", map[string]any{})
	e, s := setupEngine(t, r)
	ctx := context.Background()

	require.NoError(t, e.ProcessEvent(ctx, ev("price_set.created", record.Data{"id": "ps1"})))

	// No link id: the payload itself is the link record.
	err := e.ProcessEvent(ctx, ev("LinkProductVariantPriceSet.attached", record.Data{
		"variant":      map[string]any{"id": "v1"},
		"price_set_id": "ps1",
	}))
	require.NoError(t, err)
	assert.Equal(t, 1, countSnapshots(t, s, "ProductVariant"))
	assert.Equal(t, []string{"ProductVariant:v1->PriceSet:ps1"}, edgePairs(t, s))
}

func TestDanglingEdgeAttempt(t *testing.T) {
	r := resolver.NewStatic()
	mustSet(t, r, "ProductVariant", "v1", map[string]any{})
	e, s := setupEngine(t, r)
	ctx := context.Background()

	require.NoError(t, e.ProcessEvent(ctx, ev("variant.created", record.Data{"id": "v1"})))

	report := e.ProcessBatch(ctx, []record.Event{
		ev("LinkProductVariantPriceSet.attached", record.Data{"variant_id": "v1", "price_set_id": "nope"}),
	})
	assert.Equal(t, 1, report.Failed)
	assert.Equal(t, 1, report.Dangling)
	require.Len(t, report.Errors, 1)
	assert.True(t, IsDanglingEdge(report.Errors[0]))
	assert.Empty(t, edges(t, s))
}

func TestCascadeInvariant(t *testing.T) {
	r := resolver.NewStatic()
	mustSet(t, r, "Product", "p1", map[string]any{"variants": []any{map[string]any{"id": "v1"}, map[string]any{"id": "v2"}}})
	mustSet(t, r, "ProductVariant", "v1", map[string]any{})
	mustSet(t, r, "ProductVariant", "v2", map[string]any{})
	mustSet(t, r, "PriceSet", "ps1", map[string]any{})
	e, s := setupEngine(t, r, WithLanes(4))
	ctx := context.Background()

	// Link events share a lane with each other but not with entity events,
	// so endpoints are created in an earlier batch.
	e.ProcessBatch(ctx, []record.Event{
		ev("product.created", record.Data{"id": "p1"}),
		ev("price_set.created", record.Data{"id": "ps1"}),
	})
	e.ProcessBatch(ctx, []record.Event{
		ev("LinkProductVariantPriceSet.attached", record.Data{"variant_id": "v1", "price_set_id": "ps1"}),
		ev("LinkProductVariantPriceSet.attached", record.Data{"variant_id": "v2", "price_set_id": "ps1"}),
	})
	require.Len(t, edges(t, s), 4)

	e.ProcessBatch(ctx, []record.Event{
		ev("variant.deleted", record.Data{"id": "v1"}),
		ev("price_set.deleted", record.Data{"id": "ps1"}),
	})

	for _, edge := range edges(t, s) {
		for _, k := range []record.Key{edge.Parent(), edge.Child()} {
			ok, err := s.Exists(ctx, k)
			require.NoError(t, err)
			assert.True(t, ok, "edge %s has a dead endpoint %s", edge, k)
		}
	}
	assert.Equal(t, []string{"Product:p1->ProductVariant:v2"}, edgePairs(t, s))
}

func TestSingleLane_DeleteAfterStubExpansionSticks(t *testing.T) {
	r := resolver.NewStatic()
	mustSet(t, r, "Product", "p1", map[string]any{"title": "Shirt"})
	mustSet(t, r, "ProductVariant", "v1", map[string]any{"product": map[string]any{"id": "p1"}})
	e, s := setupEngine(t, r, WithLanes(1))

	report := e.ProcessBatch(context.Background(), []record.Event{
		ev("product.created", record.Data{"id": "p1"}),
		ev("variant.created", record.Data{"id": "v1", "product": map[string]any{"id": "p1"}}),
		ev("product.deleted", record.Data{"id": "p1"}),
	})
	require.Empty(t, report.Errors)
	assert.Equal(t, 0, countSnapshots(t, s, "Product"))
	assert.Equal(t, 1, countSnapshots(t, s, "ProductVariant"))
	assert.Empty(t, edges(t, s))
}

func TestLanes_MatchSequentialResult(t *testing.T) {
	r := resolver.NewStatic()
	var batch []record.Event
	for i := 0; i < 20; i++ {
		pid := fmt.Sprintf("p%d", i)
		vid := fmt.Sprintf("v%d", i)
		mustSet(t, r, "Product", pid, map[string]any{"title": pid})
		mustSet(t, r, "ProductVariant", vid, map[string]any{"product": map[string]any{"id": pid}})
		batch = append(batch,
			ev("product.created", record.Data{"id": pid}),
			ev("variant.created", record.Data{"id": vid}),
		)
	}

	seq, sSeq := setupEngine(t, r, WithLanes(1))
	par, sPar := setupEngine(t, r, WithLanes(4))

	rs := seq.ProcessBatch(context.Background(), batch)
	rp := par.ProcessBatch(context.Background(), batch)

	assert.Empty(t, rs.Errors)
	assert.Empty(t, rp.Errors)
	assert.Equal(t, rs.Processed, rp.Processed)
	assert.Equal(t, countSnapshots(t, sSeq, ""), countSnapshots(t, sPar, ""))
	assert.ElementsMatch(t, edgePairs(t, sSeq), edgePairs(t, sPar))
	assert.Equal(t, 0, par.locks.Len(), "all key locks released")
}

func TestProcessBatch_CancelledContext(t *testing.T) {
	r := resolver.NewStatic()
	mustSet(t, r, "Product", "p1", map[string]any{})
	e, s := setupEngine(t, r)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	report := e.ProcessBatch(ctx, []record.Event{ev("product.created", record.Data{"id": "p1"})})
	assert.Equal(t, 1, report.Failed)
	require.Len(t, report.Errors, 1)
	assert.True(t, errors.Is(report.Errors[0], context.Canceled))
	assert.Equal(t, 0, countSnapshots(t, s, ""))
}

func TestEngine_RunDrainsQueue(t *testing.T) {
	r := resolver.NewStatic()
	mustSet(t, r, "Product", "p1", map[string]any{})
	mustSet(t, r, "Product", "p2", map[string]any{})
	e, s := setupEngine(t, r)

	require.True(t, e.Enqueue([]record.Event{ev("product.created", record.Data{"id": "p1"})}))
	require.True(t, e.Enqueue([]record.Event{ev("product.created", record.Data{"id": "p2"})}))
	assert.Equal(t, 2, e.QueueLen())

	done := make(chan error, 1)
	go func() { done <- e.Run(context.Background()) }()

	require.Eventually(t, func() bool {
		n, err := s.CountSnapshots(context.Background(), "Product")
		return err == nil && n == 2 && e.QueueLen() == 0
	}, 2*time.Second, 10*time.Millisecond)

	e.Stop()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after Stop")
	}
	assert.False(t, e.Enqueue(nil), "enqueue after stop fails")
}

func TestEngine_RunStopsOnCancel(t *testing.T) {
	e, _ := setupEngine(t, resolver.NewStatic())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- e.Run(ctx) }()

	cancel()
	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after cancel")
	}
}

func TestBatchReport_JSON(t *testing.T) {
	r := BatchReport{Processed: 1, Failed: 1, Errors: []error{newUnknownEventError("x.created")}}
	raw, err := r.MarshalJSON()
	require.NoError(t, err)
	assert.Contains(t, string(raw), `"processed":1`)
	assert.Contains(t, string(raw), `"errors":["UNKNOWN_EVENT: event is not bound in the registry [event=x.created]"]`)
}
