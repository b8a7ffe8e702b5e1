// Package resolver fetches the canonical representation of an entity from
// the system that owns it.
//
// The sync engine never trusts event payloads for entity content: every
// created, updated or attached event is followed by a Resolve call, and the
// returned record (including its id) is what gets stored.
package resolver

import (
	"context"
	"errors"

	"github.com/roach88/catalog/internal/record"
)

// ErrNotFound is returned when the remote system has no record for the query.
var ErrNotFound = errors.New("resolver: entity not found")

// Query identifies the record to resolve.
type Query struct {
	// Entity is the registry type name (e.g. "ProductVariant").
	Entity string `json:"entity"`

	// Alias is the key the remote system knows the entity by (e.g. "variant").
	Alias string `json:"alias"`

	// ID is the identifier taken from the event payload or an embedded stub.
	ID string `json:"id"`

	// Fields optionally narrows the returned record. Empty means all fields.
	Fields []string `json:"fields,omitempty"`
}

// Resolver returns the current full record for a query.
//
// Implementations must honor ctx cancellation and deadlines, and return an
// error wrapping ErrNotFound when the record does not exist.
type Resolver interface {
	Resolve(ctx context.Context, q Query) (record.Data, error)
}

// Func adapts a plain function to the Resolver interface.
type Func func(ctx context.Context, q Query) (record.Data, error)

// Resolve calls f(ctx, q).
func (f Func) Resolve(ctx context.Context, q Query) (record.Data, error) {
	return f(ctx, q)
}
