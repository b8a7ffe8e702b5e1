package compiler

import (
	"fmt"

	"cuelang.org/go/cue"

	"github.com/roach88/catalog/internal/registry"
)

// CompileEntity parses a CUE value into an entity declaration.
//
// The CUE value should be the entity struct itself, e.g.:
//
//	ctx := cuecontext.New()
//	v := ctx.CompileString(`entity: Product: { alias: "product", ... }`)
//	ent, err := CompileEntity(v.LookupPath(cue.ParsePath("entity.Product")))
//
// Relation endpoints are not checked here; see Validate.
func CompileEntity(v cue.Value) (*registry.Entity, error) {
	if err := v.Err(); err != nil {
		return nil, formatCUEError(err)
	}

	ent := &registry.Entity{Name: selectorName(v)}

	var err error
	if ent.Alias, err = optionalString(v, "alias"); err != nil {
		return nil, err
	}
	if ent.Fields, err = stringList(v, "fields"); err != nil {
		return nil, err
	}
	if ent.Listeners, err = stringList(v, "listeners"); err != nil {
		return nil, err
	}

	sdVal := v.LookupPath(cue.ParsePath("soft_delete"))
	if sdVal.Exists() {
		sd, err := sdVal.Bool()
		if err != nil {
			return nil, &CompileError{
				Field:   "soft_delete",
				Message: "soft_delete must be a bool",
				Pos:     sdVal.Pos(),
			}
		}
		ent.SoftDelete = sd
	}

	parents, err := parseRelations(v, "parents")
	if err != nil {
		return nil, err
	}
	for _, p := range parents {
		ent.Parents = append(ent.Parents, registry.Relation{
			Name:      p.As,
			Parent:    p.Entity,
			Child:     ent.Name,
			ParentRef: p.Ref,
		})
	}

	children, err := parseRelations(v, "children")
	if err != nil {
		return nil, err
	}
	for _, c := range children {
		ent.Children = append(ent.Children, registry.Relation{
			Name:     c.As,
			Parent:   ent.Name,
			Child:    c.Entity,
			ChildRef: c.Ref,
		})
	}

	return ent, nil
}

// parseRelations reads a list of {entity, ref, as} structs.
func parseRelations(v cue.Value, field string) ([]registry.Endpoint, error) {
	listVal := v.LookupPath(cue.ParsePath(field))
	if !listVal.Exists() {
		return nil, nil
	}

	iter, err := listVal.List()
	if err != nil {
		return nil, formatCUEError(err)
	}

	var out []registry.Endpoint
	for i := 0; iter.Next(); i++ {
		ep, err := parseEndpoint(iter.Value(), fmt.Sprintf("%s[%d]", field, i))
		if err != nil {
			return nil, err
		}
		if ep.Ref == "" {
			return nil, &CompileError{
				Field:   fmt.Sprintf("%s[%d].ref", field, i),
				Message: "ref is required",
				Pos:     iter.Value().Pos(),
			}
		}
		out = append(out, ep)
	}
	return out, nil
}

// parseEndpoint reads {entity, key, ref, as}. Only entity is required.
func parseEndpoint(v cue.Value, path string) (registry.Endpoint, error) {
	var ep registry.Endpoint

	entVal := v.LookupPath(cue.ParsePath("entity"))
	if !entVal.Exists() {
		return ep, &CompileError{
			Field:   path + ".entity",
			Message: "entity is required",
			Pos:     v.Pos(),
		}
	}
	name, err := entVal.String()
	if err != nil {
		return ep, formatCUEError(err)
	}
	ep.Entity = name

	if ep.Key, err = optionalString(v, "key"); err != nil {
		return ep, err
	}
	if ep.Ref, err = optionalString(v, "ref"); err != nil {
		return ep, err
	}
	if ep.As, err = optionalString(v, "as"); err != nil {
		return ep, err
	}
	return ep, nil
}

// selectorName returns the last path label, e.g. "Product" for entity.Product.
func selectorName(v cue.Value) string {
	labels := v.Path().Selectors()
	if len(labels) == 0 {
		return ""
	}
	return unquote(labels[len(labels)-1].String())
}

func unquote(s string) string {
	if len(s) >= 2 && s[0] == '"' && s[len(s)-1] == '"' {
		return s[1 : len(s)-1]
	}
	return s
}

func optionalString(v cue.Value, field string) (string, error) {
	fv := v.LookupPath(cue.ParsePath(field))
	if !fv.Exists() {
		return "", nil
	}
	s, err := fv.String()
	if err != nil {
		return "", &CompileError{
			Field:   field,
			Message: fmt.Sprintf("%s must be a string", field),
			Pos:     fv.Pos(),
		}
	}
	return s, nil
}

func stringList(v cue.Value, field string) ([]string, error) {
	fv := v.LookupPath(cue.ParsePath(field))
	if !fv.Exists() {
		return nil, nil
	}
	iter, err := fv.List()
	if err != nil {
		return nil, &CompileError{
			Field:   field,
			Message: fmt.Sprintf("%s must be a list of strings", field),
			Pos:     fv.Pos(),
		}
	}
	var out []string
	for i := 0; iter.Next(); i++ {
		s, err := iter.Value().String()
		if err != nil {
			return nil, &CompileError{
				Field:   fmt.Sprintf("%s[%d]", field, i),
				Message: "must be a string",
				Pos:     iter.Value().Pos(),
			}
		}
		out = append(out, s)
	}
	return out, nil
}
