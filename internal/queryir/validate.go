package queryir

import (
	"regexp"
	"sort"
	"strings"

	"github.com/roach88/catalog/internal/registry"
)

var identPattern = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

// Validate checks a request against the schema registry and resolves it in
// place: the root entity is canonicalized from an alias to its type name
// and every child Selection gets its Entity from the relation it hangs off.
//
// Validation rules:
//  1. The root entity is a declared type (by name or resolver alias)
//  2. Every relation is declared on its parent type
//  3. A child Selection that names an entity names the relation's child
//  4. Field names are identifiers; predicate fields may be dotted paths
//  5. Entities that declare fields only allow those (plus "id")
//  6. Predicate operators and values are well formed
//  7. Skip and Take are not negative
//
// Returns the first problem as a *QueryShapeError, or nil.
func Validate(req *Request, reg *registry.Registry) error {
	v := &validator{reg: reg}
	v.validateRequest(req)
	if v.err != nil {
		return v.err
	}
	return nil
}

// validator stops at the first problem found during traversal.
type validator struct {
	reg *registry.Registry
	err *QueryShapeError
}

func (v *validator) fail(path, format string, args ...any) {
	if v.err == nil {
		v.err = shapeErrorf(path, format, args...)
	}
}

func (v *validator) failed() bool {
	return v.err != nil
}

func (v *validator) validateRequest(req *Request) {
	if req.Skip < 0 {
		v.fail("skip", "must not be negative, got %d", req.Skip)
		return
	}
	if req.Take < 0 {
		v.fail("take", "must not be negative, got %d", req.Take)
		return
	}

	name := req.Select.Entity
	path := "select." + name
	if name == "" {
		v.fail("select", "missing root entity")
		return
	}
	ent, ok := v.reg.Entity(name)
	if !ok {
		ent, ok = v.reg.EntityByAlias(name)
	}
	if !ok {
		v.fail(path, "unknown entity type %q", name)
		return
	}
	req.Select.Entity = ent.Name

	v.validatePredicate("where", req.Where, ent)
	if v.failed() {
		return
	}
	v.validateNode(path, &req.Select, ent)
}

func (v *validator) validateNode(path string, sel *Selection, ent *registry.Entity) {
	for _, f := range sel.Fields {
		if !identPattern.MatchString(f) {
			v.fail(path+".$fields", "invalid field name %q", f)
			return
		}
		if !ent.HasField(f) {
			v.fail(path+".$fields", "field %q is not declared on %s", f, ent.Name)
			return
		}
	}

	v.validatePredicate(path+".$where", sel.Filters, ent)
	if v.failed() {
		return
	}

	names := make([]string, 0, len(sel.Relations))
	for name := range sel.Relations {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		rpath := path + "." + name
		rel, ok := v.reg.ChildRelation(ent.Name, name)
		if !ok {
			v.fail(rpath, "relation %q is not declared on %s", name, ent.Name)
			return
		}

		child := sel.Relations[name]
		if child == nil {
			child = &Selection{}
			sel.Relations[name] = child
		}
		if child.Entity != "" && child.Entity != rel.Child {
			named, ok := v.reg.EntityByAlias(child.Entity)
			if !ok || named.Name != rel.Child {
				v.fail(rpath, "relation %q yields %s, not %s", name, rel.Child, child.Entity)
				return
			}
		}

		childEnt, ok := v.reg.Entity(rel.Child)
		if !ok {
			v.fail(rpath, "relation %q points at unknown entity %q", name, rel.Child)
			return
		}
		child.Entity = childEnt.Name

		v.validateNode(rpath, child, childEnt)
		if v.failed() {
			return
		}
	}
}

// validatePredicate recursively validates a predicate against ent.
func (v *validator) validatePredicate(path string, p Predicate, ent *registry.Entity) {
	switch pred := p.(type) {
	case nil:
	case Compare:
		if !pred.Op.Valid() {
			v.fail(path, "unknown operator %q", pred.Op)
			return
		}
		v.validateField(path, pred.Field, ent)
		v.validateValue(path, pred.Field, pred.Value)
	case In:
		v.validateField(path, pred.Field, ent)
		for _, val := range pred.Values {
			v.validateValue(path, pred.Field, val)
		}
	case Like:
		v.validateField(path, pred.Field, ent)
	case IsNull:
		v.validateField(path, pred.Field, ent)
	case And:
		for _, sub := range pred.Predicates {
			v.validatePredicate(path, sub, ent)
		}
	default:
		v.fail(path, "unsupported predicate type %T", p)
	}
}

func (v *validator) validateField(path, field string, ent *registry.Entity) {
	if field == "" {
		v.fail(path, "empty field name")
		return
	}
	segments := strings.Split(field, ".")
	for _, seg := range segments {
		if !identPattern.MatchString(seg) {
			v.fail(path, "invalid field path %q", field)
			return
		}
	}
	if !ent.HasField(segments[0]) {
		v.fail(path, "field %q is not declared on %s", segments[0], ent.Name)
	}
}

func (v *validator) validateValue(path, field string, val any) {
	switch val.(type) {
	case string, bool, int64, float64:
	default:
		v.fail(path, "field %q: unsupported value type %T", field, val)
	}
}
