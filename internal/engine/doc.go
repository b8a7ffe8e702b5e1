// Package engine implements the catalog sync engine.
//
// The engine turns domain events (product.created, variant.deleted,
// LinkProductVariantPriceSet.attached, ...) into denormalized entity
// snapshots and parent -> child edges in the store.
//
// Event Processing Flow:
//  1. Classify the event name with the schema registry; unknown names are ignored
//  2. created/updated: resolve the entity through the remote resolver and
//     upsert it under the resolver's id
//  3. Follow stubs embedded under declared relation refs, resolving them
//     up to MaxDepth, and link each to the entity
//  4. deleted: remove the snapshot and every edge touching it
//  5. attached: write the edge between the link's endpoints and, when the
//     payload names a link record, store that record under its own type
//     wired parent -> link -> child
//  6. detached: delete the matching link records with their edges, then
//     the endpoint edge once no link record joins the pair
//
// Concurrency:
// A batch is split into lanes by FNV-32a hash of the entity key. Each lane
// is sequential, so events for one entity apply in arrival order; lanes run
// in parallel. Snapshot writes hold a per-key mutex, and edge writes are
// idempotent.
//
// Failure policy:
// Nothing is fatal to a batch. A resolution failure skips the entity and
// its edges; an edge whose endpoint is missing is refused. Both are logged,
// counted in catalog_sync_events_total and listed in BatchReport.Errors.
//
// All writes are stamped with the logical Clock; wall-clock time is never
// used for ordering.
package engine
