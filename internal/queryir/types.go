package queryir

// Predicate represents a filter condition on one level of a query.
//
// This is a sealed interface - only types in this package implement it.
// The marker method pattern prevents external implementations and enables
// exhaustive type switches in backend compilers.
//
// Predicate types:
//   - Compare: field <op> value
//   - In: field matches one of a list of values
//   - Like: field matches a LIKE pattern
//   - IsNull: field is (or is not) null or missing
//   - And: all predicates must be true
type Predicate interface {
	predicateNode() // Marker method - seals interface to this package
}

// Op is a comparison operator.
type Op string

const (
	OpEq  Op = "eq"
	OpNe  Op = "ne"
	OpGt  Op = "gt"
	OpGte Op = "gte"
	OpLt  Op = "lt"
	OpLte Op = "lte"
)

// Valid reports whether op is a known operator.
func (op Op) Valid() bool {
	switch op {
	case OpEq, OpNe, OpGt, OpGte, OpLt, OpLte:
		return true
	}
	return false
}

// Compare represents a field-versus-literal comparison.
//
// Semantics:
//
//	<field> <op> <value>
//
// A missing field never compares true, including for OpNe. Use IsNull to
// select rows where a field is absent.
type Compare struct {
	Field string // Field path in the snapshot data (e.g. "sku", "metadata.color")
	Op    Op     // Comparison operator
	Value any    // string, bool, int64 or float64
}

func (Compare) predicateNode() {}

// In matches rows whose field equals any of Values.
// An empty Values list matches nothing.
type In struct {
	Field  string
	Values []any
}

func (In) predicateNode() {}

// Like matches a string field against a LIKE pattern (% and _ wildcards).
// Matching is ASCII case-insensitive on every backend.
type Like struct {
	Field   string
	Pattern string
}

func (Like) predicateNode() {}

// IsNull matches rows where the field is null or missing (Null true), or
// present and not null (Null false).
type IsNull struct {
	Field string
	Null  bool
}

func (IsNull) predicateNode() {}

// And represents a conjunction of predicates.
//
// Semantics:
//
//	<pred1> AND <pred2> AND ... AND <predN>
//
// An empty And is vacuously true.
type And struct {
	Predicates []Predicate
}

func (And) predicateNode() {}

// Selection is one node of a selection tree.
//
// The root node names the entity type being queried; children are reached
// through relation names declared on the parent type. Entity is filled in
// for child nodes by Validate.
type Selection struct {
	Entity string

	// Fields lists top-level fields to return. Empty returns every field.
	// "id" is always returned.
	Fields []string

	// Relations maps relation names to the sub-tree expanded beneath each
	// row of this node.
	Relations map[string]*Selection

	// Filters restricts this node's rows. On the root it is combined with
	// Request.Where.
	Filters Predicate
}

// Request is a validated-or-not query over the graph.
type Request struct {
	Select Selection

	// Where filters root rows before pagination.
	Where Predicate

	// Skip and Take paginate root rows. Take 0 means the default page size.
	Skip int
	Take int

	// WithDeleted includes soft-deleted snapshots at every level.
	WithDeleted bool
}

// Conjoin combines predicates with And, dropping nils and flattening nested
// Ands. Returns nil when nothing remains and the predicate itself when only
// one does.
func Conjoin(preds ...Predicate) Predicate {
	var out []Predicate
	for _, p := range preds {
		switch v := p.(type) {
		case nil:
		case And:
			if c := Conjoin(v.Predicates...); c != nil {
				if a, ok := c.(And); ok {
					out = append(out, a.Predicates...)
				} else {
					out = append(out, c)
				}
			}
		default:
			out = append(out, p)
		}
	}
	switch len(out) {
	case 0:
		return nil
	case 1:
		return out[0]
	default:
		return And{Predicates: out}
	}
}
