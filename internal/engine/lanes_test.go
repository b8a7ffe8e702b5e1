package engine

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/catalog/internal/record"
	"github.com/roach88/catalog/internal/registry"
)

func TestLaneFor_StableAndInRange(t *testing.T) {
	for i := 0; i < 100; i++ {
		key := fmt.Sprintf("Product:p%d", i)
		lane := laneFor(key, 4)
		assert.GreaterOrEqual(t, lane, 0)
		assert.Less(t, lane, 4)
		assert.Equal(t, lane, laneFor(key, 4), "same key, same lane")
	}
	assert.Equal(t, 0, laneFor("anything", 1))
	assert.Equal(t, 0, laneFor("anything", 0))
}

func TestPartition_KeepsPerEntityOrder(t *testing.T) {
	reg := testRegistry(t)
	bind := func(name string) registry.Binding {
		b, ok := reg.Classify(name)
		require.True(t, ok)
		return b
	}

	var events []routed
	for i := 0; i < 30; i++ {
		id := fmt.Sprintf("p%d", i%5)
		name := "product.updated"
		if i%3 == 0 {
			name = "product.created"
		}
		events = append(events, routed{index: i, event: record.Event{Name: name, Data: record.Data{"id": id}}, binding: bind(name)})
	}

	lanes := partition(events, 4)
	require.Len(t, lanes, 4)

	total := 0
	owner := make(map[string]int)
	for li, lane := range lanes {
		last := -1
		for _, r := range lane {
			assert.Greater(t, r.index, last, "arrival order kept within a lane")
			last = r.index

			id := r.event.PayloadID()
			if prev, ok := owner[id]; ok {
				assert.Equal(t, prev, li, "all events for %s in one lane", id)
			}
			owner[id] = li
			total++
		}
	}
	assert.Equal(t, len(events), total)
}

func TestLaneKey_LinksShareALane(t *testing.T) {
	reg := testRegistry(t)
	b, ok := reg.Classify("LinkProductVariantPriceSet.attached")
	require.True(t, ok)

	k1 := laneKey(record.Event{Data: record.Data{"id": "l1"}}, b)
	k2 := laneKey(record.Event{Data: record.Data{"variant_id": "v1"}}, b)
	assert.Equal(t, k1, k2)
	assert.Equal(t, "LinkProductVariantPriceSet", k1)

	b, _ = reg.Classify("product.created")
	assert.Equal(t, "Product:p1", laneKey(record.Event{Data: record.Data{"id": "p1"}}, b))
}
