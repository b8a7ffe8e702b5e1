package compiler

import (
	"fmt"

	"cuelang.org/go/cue"

	"github.com/roach88/catalog/internal/registry"
)

// Schema is the set of declarations compiled from CUE, before they are
// loaded into a registry.
type Schema struct {
	Entities []registry.Entity
	Links    []registry.Link
}

// Compile reads every entity and link declaration under the top-level
// "entity" and "link" structs of v.
func Compile(v cue.Value) (*Schema, error) {
	if err := v.Err(); err != nil {
		return nil, formatCUEError(err)
	}

	schema := &Schema{}

	if entVal := v.LookupPath(cue.ParsePath("entity")); entVal.Exists() {
		iter, err := entVal.Fields()
		if err != nil {
			return nil, formatCUEError(err)
		}
		for iter.Next() {
			ent, err := CompileEntity(iter.Value())
			if err != nil {
				return nil, fmt.Errorf("entity %s: %w", iter.Label(), err)
			}
			schema.Entities = append(schema.Entities, *ent)
		}
	}

	if linkVal := v.LookupPath(cue.ParsePath("link")); linkVal.Exists() {
		iter, err := linkVal.Fields()
		if err != nil {
			return nil, formatCUEError(err)
		}
		for iter.Next() {
			lnk, err := CompileLink(iter.Value())
			if err != nil {
				return nil, fmt.Errorf("link %s: %w", iter.Label(), err)
			}
			schema.Links = append(schema.Links, *lnk)
		}
	}

	return schema, nil
}

// Registry loads the schema into a runtime registry.
// Run Validate first; Registry only reports the errors the registry itself detects.
func (s *Schema) Registry() (*registry.Registry, error) {
	reg := registry.New()
	for _, ent := range s.Entities {
		if err := reg.AddEntity(ent); err != nil {
			return nil, err
		}
	}
	for _, lnk := range s.Links {
		if err := reg.AddLink(lnk); err != nil {
			return nil, err
		}
	}
	return reg, nil
}
