package harness

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"reflect"

	"github.com/roach88/catalog/internal/record"
	"github.com/roach88/catalog/internal/store"
)

// AssertionError is returned when an assertion fails.
type AssertionError struct {
	Type     string // Assertion type for categorization
	Expected string // Human-readable expected outcome
	Actual   string // Human-readable actual outcome
}

// Error implements the error interface.
func (e *AssertionError) Error() string {
	return fmt.Sprintf("Assertion failed: %s\n  Expected: %s\n  Actual: %s", e.Type, e.Expected, e.Actual)
}

// EvaluateAssertions runs every assertion against the store and returns
// one message per failure, in assertion order.
func EvaluateAssertions(ctx context.Context, st *store.Store, assertions []Assertion) []string {
	var msgs []string
	for i, a := range assertions {
		if err := evaluateAssertion(ctx, st, a); err != nil {
			msgs = append(msgs, fmt.Sprintf("assertions[%d]: %v", i, err))
		}
	}
	return msgs
}

func evaluateAssertion(ctx context.Context, st *store.Store, a Assertion) error {
	switch a.Type {
	case AssertSnapshotCount:
		return assertSnapshotCount(ctx, st, a)
	case AssertSnapshot:
		return assertSnapshot(ctx, st, a)
	case AssertSnapshotAbsent:
		return assertSnapshotAbsent(ctx, st, a)
	case AssertEdgeCount:
		return assertEdgeCount(ctx, st, a)
	case AssertEdgeExists:
		return assertEdge(ctx, st, a, true)
	case AssertEdgeAbsent:
		return assertEdge(ctx, st, a, false)
	default:
		return fmt.Errorf("unknown assertion type %q", a.Type)
	}
}

// assertSnapshotCount counts the snapshots of one type, or all of them.
func assertSnapshotCount(ctx context.Context, st *store.Store, a Assertion) error {
	n, err := st.CountSnapshots(ctx, a.Entity)
	if err != nil {
		return err
	}
	if n != *a.Count {
		what := "snapshots"
		if a.Entity != "" {
			what = a.Entity + " snapshots"
		}
		return &AssertionError{
			Type:     AssertSnapshotCount,
			Expected: fmt.Sprintf("%d %s", *a.Count, what),
			Actual:   fmt.Sprintf("%d %s", n, what),
		}
	}
	return nil
}

// assertSnapshot checks a snapshot exists and its data contains Expect.
func assertSnapshot(ctx context.Context, st *store.Store, a Assertion) error {
	key := record.Key{Type: a.Entity, ID: a.ID}
	snap, err := st.ReadSnapshot(ctx, key)
	if errors.Is(err, store.ErrNotFound) {
		return &AssertionError{
			Type:     AssertSnapshot,
			Expected: fmt.Sprintf("snapshot %s", key),
			Actual:   "not found",
		}
	}
	if err != nil {
		return err
	}
	if a.Expect == nil {
		return nil
	}
	if err := matchJSON("data", a.Expect, snap.Data); err != nil {
		return &AssertionError{
			Type:     AssertSnapshot,
			Expected: fmt.Sprintf("snapshot %s data to contain %s", key, describe(a.Expect)),
			Actual:   err.Error(),
		}
	}
	return nil
}

// assertSnapshotAbsent checks no snapshot is stored under the key.
func assertSnapshotAbsent(ctx context.Context, st *store.Store, a Assertion) error {
	key := record.Key{Type: a.Entity, ID: a.ID}
	ok, err := st.Exists(ctx, key)
	if err != nil {
		return err
	}
	if ok {
		return &AssertionError{
			Type:     AssertSnapshotAbsent,
			Expected: fmt.Sprintf("no snapshot %s", key),
			Actual:   "snapshot present",
		}
	}
	return nil
}

// assertEdgeCount counts every edge, or the edges of the named endpoints.
func assertEdgeCount(ctx context.Context, st *store.Store, a Assertion) error {
	edges, err := edgesFor(ctx, st, a.Parent, a.Child)
	if err != nil {
		return err
	}
	if len(edges) != *a.Count {
		return &AssertionError{
			Type:     AssertEdgeCount,
			Expected: fmt.Sprintf("%d edges", *a.Count),
			Actual:   fmt.Sprintf("%d edges: %s", len(edges), describeEdges(edges)),
		}
	}
	return nil
}

// assertEdge checks the edge Parent -> Child is (or is not) stored.
func assertEdge(ctx context.Context, st *store.Store, a Assertion, want bool) error {
	edges, err := edgesFor(ctx, st, a.Parent, a.Child)
	if err != nil {
		return err
	}
	edge := a.Parent.String() + " -> " + a.Child.String()
	switch {
	case want && len(edges) == 0:
		return &AssertionError{Type: AssertEdgeExists, Expected: "edge " + edge, Actual: "not found"}
	case !want && len(edges) > 0:
		return &AssertionError{Type: AssertEdgeAbsent, Expected: "no edge " + edge, Actual: "edge present"}
	}
	return nil
}

// edgesFor lists the edges matching the given endpoints; nil matches any.
func edgesFor(ctx context.Context, st *store.Store, parent, child *record.Key) ([]record.Edge, error) {
	var (
		edges []record.Edge
		err   error
	)
	switch {
	case parent != nil:
		edges, err = st.EdgesOf(ctx, *parent)
	case child != nil:
		edges, err = st.EdgesOf(ctx, *child)
	default:
		edges, err = st.ListEdges(ctx)
	}
	if err != nil {
		return nil, err
	}

	out := edges[:0]
	for _, e := range edges {
		if parent != nil && e.Parent() != *parent {
			continue
		}
		if child != nil && e.Child() != *child {
			continue
		}
		out = append(out, e)
	}
	return out, nil
}

func describeEdges(edges []record.Edge) string {
	if len(edges) == 0 {
		return "none"
	}
	var buf bytes.Buffer
	for i, e := range edges {
		if i > 0 {
			buf.WriteString(", ")
		}
		buf.WriteString(e.String())
	}
	return buf.String()
}

// matchJSON compares expected against actual with subset semantics for
// objects and exact length and order for arrays. Both sides go through
// the canonical encoding first, so YAML ints match stored json.Numbers.
func matchJSON(path string, expected, actual any) error {
	exp, err := canonicalValue(expected)
	if err != nil {
		return fmt.Errorf("%s: expected value: %w", path, err)
	}
	act, err := canonicalValue(actual)
	if err != nil {
		return fmt.Errorf("%s: actual value: %w", path, err)
	}
	return matchSubset(path, exp, act)
}

func matchSubset(path string, exp, act any) error {
	switch e := exp.(type) {
	case map[string]any:
		a, ok := act.(map[string]any)
		if !ok {
			return fmt.Errorf("%s = %s, expected an object", path, describe(act))
		}
		for _, k := range sortedKeys(e) {
			av, ok := a[k]
			if !ok {
				return fmt.Errorf("%s.%s is missing", path, k)
			}
			if err := matchSubset(path+"."+k, e[k], av); err != nil {
				return err
			}
		}
		return nil
	case []any:
		a, ok := act.([]any)
		if !ok {
			return fmt.Errorf("%s = %s, expected an array", path, describe(act))
		}
		if len(a) != len(e) {
			return fmt.Errorf("%s has %d elements, expected %d", path, len(a), len(e))
		}
		for i := range e {
			if err := matchSubset(fmt.Sprintf("%s[%d]", path, i), e[i], a[i]); err != nil {
				return err
			}
		}
		return nil
	default:
		if !reflect.DeepEqual(exp, act) {
			return fmt.Errorf("%s = %s, expected %s", path, describe(act), describe(exp))
		}
		return nil
	}
}

// canonicalValue round-trips v through the canonical encoding, keeping
// numbers as json.Number.
func canonicalValue(v any) (any, error) {
	raw, err := record.MarshalCanonical(v)
	if err != nil {
		return nil, err
	}
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var out any
	if err := dec.Decode(&out); err != nil {
		return nil, err
	}
	return out, nil
}

func describe(v any) string {
	raw, err := record.MarshalCanonical(v)
	if err != nil {
		return fmt.Sprintf("%v", v)
	}
	return string(raw)
}
