// Package queryir provides the typed representation of graph queries.
//
// A query names a root entity type, the fields to return, the relations to
// expand beneath it and the predicates that filter each level:
//
//	Request{
//	  Select: Selection{
//	    Entity: "Product",
//	    Fields: []string{"title"},
//	    Relations: map[string]*Selection{
//	      "variants": {Filters: Compare{Field: "sku", Op: OpEq, Value: "A"}},
//	    },
//	  },
//	  Where: Like{Field: "title", Pattern: "Shirt%"},
//	  Take:  10,
//	}
//
// ARCHITECTURE:
//
// Clients send the loose JSON/YAML form (nested maps keyed by relation
// name, "$fields" and "$where" directives). ParseRequest turns it into the
// typed tree, Validate checks it against the schema registry, and the
// querysql package compiles each level to parameterized SQL:
//
//	[JSON/YAML map] → ParseRequest → [Request] → Validate → [querysql] → [store]
//
// Nothing downstream of Validate ever sees an undeclared relation or an
// entity type the registry does not know. Those are QueryShapeErrors and
// reach the caller synchronously. A declared relation with no matching
// rows is not an error; it yields an empty list.
//
// PREDICATES:
//
// Predicate is sealed: only Compare, In, Like, IsNull and And implement it,
// so compilers can switch exhaustively. Field names address the snapshot's
// JSON data and may be dotted paths into nested objects ("metadata.color").
// There is no OR; a disjunction over one field is expressed with In.
//
// Values are scalars only (string, bool, int64, float64). Parsing turns
// JSON numbers into int64 when integral and float64 otherwise.
package queryir
