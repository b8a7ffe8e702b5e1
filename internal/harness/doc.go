// Package harness runs conformance scenarios against the real sync and
// query engines.
//
// A scenario seeds a static resolver with fixtures, applies batches of
// events in order, then checks batch reports, query answers and the final
// store contents.
//
// # Scenario Format
//
// Scenarios are defined in YAML files with the following structure:
//
//	name: scenario_name
//	description: "What this scenario validates"
//	registry: ../registry            # CUE declarations, relative to this file
//	fixtures:
//	  Product:
//	    p1: { title: Shirt }
//	steps:
//	  - events:
//	      - name: product.created
//	        data: { id: p1 }
//	    expect: { processed: 1, failed: 0 }
//	  - fixtures:                    # resolver changes before this batch
//	      Product:
//	        p1: { title: New Title }
//	    remove:
//	      - { type: ProductVariant, id: v9 }
//	    events:
//	      - name: product.updated
//	        data: { id: p1 }
//	queries:
//	  - name: products
//	    select: { Product: { variants: true } }
//	    take: 10
//	    expect:
//	      count: 1
//	      rows: [{ id: p1, title: New Title, variants: [] }]
//	assertions:
//	  - type: snapshot
//	    entity: Product
//	    id: p1
//	    expect: { title: New Title }
//	  - type: edge_count
//	    count: 0
//
// # Assertion Types
//
//   - snapshot_count: number of snapshots of one entity type, or of all
//   - snapshot: a snapshot exists and its data contains the expected subset
//   - snapshot_absent: no snapshot is stored under the key
//   - edge_count: number of edges, optionally narrowed to a parent or child
//   - edge_exists / edge_absent: a specific parent -> child edge
//
// # Deterministic Testing
//
// Every scenario runs in a fresh in-memory SQLite database with a single
// lane and sequential edge ids ("edge-1", "edge-2", ...). The logical clock
// starts at zero, so seq values and content hashes are identical across
// runs, and RunWithGolden can compare the whole final state byte for byte.
package harness
