package compiler

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/roach88/catalog/internal/record"
)

// Validation error codes (E200-E299)
const (
	ErrUnknownEndpoint      = "E201" // relation or link endpoint names an undeclared entity
	ErrDuplicateListener    = "E202" // event name bound by more than one declaration
	ErrDuplicateRelation    = "E203" // two relations share a name on the same parent
	ErrMissingAlias         = "E204" // entity or link has no resolver alias
	ErrInvalidIdentifier    = "E205" // field, ref, key or relation name is not an identifier
	ErrInvalidListener      = "E206" // listener has no valid action suffix
	ErrMissingEndpointKey   = "E207" // link endpoint has neither key nor ref
	ErrDuplicateDeclaration = "E208" // entity/link name or alias declared twice
	ErrAmbiguousRelation    = "E209" // one parent/child pair reached under two relation names
)

// ValidationError represents a schema validation error.
type ValidationError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
	Code    string `json:"code"`
	Line    int    `json:"line,omitempty"`
}

// Error implements the error interface.
func (e ValidationError) Error() string {
	if e.Line > 0 {
		return fmt.Sprintf("[%s] line %d: %s: %s", e.Code, e.Line, e.Field, e.Message)
	}
	return fmt.Sprintf("[%s] %s: %s", e.Code, e.Field, e.Message)
}

// identifierPattern matches payload keys usable as JSON paths and relation names.
var identifierPattern = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)

// Validate checks a compiled schema for consistency.
// Returns all errors found (does not fail-fast).
func Validate(s *Schema) []ValidationError {
	var errs []ValidationError

	declared := make(map[string]bool)
	aliases := make(map[string]string)
	listeners := make(map[string]string)
	relNames := make(map[string]relationView) // "Parent.name" -> first declaration
	relPairs := make(map[string]pairView)     // "Parent->Child" -> first relation name

	checkDecl := func(path, name, alias string) {
		if declared[name] {
			errs = append(errs, ValidationError{
				Field:   path,
				Message: fmt.Sprintf("%q declared more than once", name),
				Code:    ErrDuplicateDeclaration,
			})
		}
		declared[name] = true

		// E204: alias is required
		if strings.TrimSpace(alias) == "" {
			errs = append(errs, ValidationError{
				Field:   path + ".alias",
				Message: "alias is required and must be non-empty",
				Code:    ErrMissingAlias,
			})
			return
		}
		if other, ok := aliases[alias]; ok {
			errs = append(errs, ValidationError{
				Field:   path + ".alias",
				Message: fmt.Sprintf("alias %q already used by %s", alias, other),
				Code:    ErrDuplicateDeclaration,
			})
		}
		aliases[alias] = name
	}

	checkListeners := func(path, owner string, names []string, allowed []record.Action) {
		for i, name := range names {
			field := fmt.Sprintf("%s.listeners[%d]", path, i)
			action, ok := record.ParseAction(name)
			if !ok || !actionAllowed(allowed, action) {
				errs = append(errs, ValidationError{
					Field:   field,
					Message: fmt.Sprintf("listener %q must end in one of %v", name, allowed),
					Code:    ErrInvalidListener,
				})
				continue
			}
			if other, ok := listeners[name]; ok {
				errs = append(errs, ValidationError{
					Field:   field,
					Message: fmt.Sprintf("event %q is already bound to %s", name, other),
					Code:    ErrDuplicateListener,
				})
				continue
			}
			listeners[name] = owner
		}
	}

	checkIdent := func(field, value string) {
		if value != "" && !identifierPattern.MatchString(value) {
			errs = append(errs, ValidationError{
				Field:   field,
				Message: fmt.Sprintf("%q is not a valid identifier", value),
				Code:    ErrInvalidIdentifier,
			})
		}
	}

	// A relation may be declared from both ends; only a name reused for a
	// different child (or by a link) is a conflict.
	checkRelName := func(field, parent, name string, view relationView) {
		checkIdent(field, name)
		key := parent + "." + name
		if other, ok := relNames[key]; ok {
			if other.child != view.child || other.link != view.link || view.link != "" {
				errs = append(errs, ValidationError{
					Field:   field,
					Message: fmt.Sprintf("relation %q on %s already declared by %s", name, parent, other.field),
					Code:    ErrDuplicateRelation,
				})
			}
			return
		}
		view.field = field
		relNames[key] = view

		// E209: edges carry no relation name
		pair := parent + "->" + view.child
		if other, ok := relPairs[pair]; ok && other.name != name {
			errs = append(errs, ValidationError{
				Field:   field,
				Message: fmt.Sprintf("%s already reaches %s as %q (%s); relation %q would share its edges", parent, view.child, other.name, other.field, name),
				Code:    ErrAmbiguousRelation,
			})
			return
		}
		relPairs[pair] = pairView{name: name, field: field}
	}

	for _, ent := range s.Entities {
		path := fmt.Sprintf("entity.%s", ent.Name)
		checkDecl(path, ent.Name, ent.Alias)
		checkListeners(path, ent.Name, ent.Listeners, record.EntityActions)

		for j, f := range ent.Fields {
			checkIdent(fmt.Sprintf("%s.fields[%d]", path, j), f)
		}

		for j, rel := range ent.Parents {
			field := fmt.Sprintf("%s.parents[%d]", path, j)
			errs = append(errs, checkEndpoint(field, rel.Parent, s)...)
			checkIdent(field+".ref", rel.ParentRef)
			name := rel.Name
			if name == "" {
				name = ent.Alias
			}
			if name != "" {
				checkRelName(field+".as", rel.Parent, name, relationView{child: ent.Name})
			}
		}

		for j, rel := range ent.Children {
			field := fmt.Sprintf("%s.children[%d]", path, j)
			errs = append(errs, checkEndpoint(field, rel.Child, s)...)
			checkIdent(field+".ref", rel.ChildRef)
			name := rel.Name
			if name == "" {
				name = rel.ChildRef
			}
			checkRelName(field+".as", ent.Name, name, relationView{child: rel.Child})
		}
	}

	for _, lnk := range s.Links {
		path := fmt.Sprintf("link.%s", lnk.Name)
		checkDecl(path, lnk.Name, lnk.Alias)
		checkListeners(path, lnk.Name, lnk.Listeners, record.LinkActions)

		for _, side := range []struct {
			field string
			ep    endpointView
		}{
			{path + ".parent", endpointView{lnk.Parent.Entity, lnk.Parent.Key, lnk.Parent.Ref}},
			{path + ".child", endpointView{lnk.Child.Entity, lnk.Child.Key, lnk.Child.Ref}},
		} {
			errs = append(errs, checkEndpoint(side.field, side.ep.entity, s)...)
			checkIdent(side.field+".key", side.ep.key)
			checkIdent(side.field+".ref", side.ep.ref)
			// E207: the endpoint id must be readable from the link record
			if side.ep.key == "" && side.ep.ref == "" {
				errs = append(errs, ValidationError{
					Field:   side.field,
					Message: "endpoint needs a key or a ref",
					Code:    ErrMissingEndpointKey,
				})
			}
		}

		name := lnk.Parent.As
		if name == "" {
			name = lnk.Alias
		}
		if name != "" {
			checkRelName(path+".parent.as", lnk.Parent.Entity, name, relationView{child: lnk.Child.Entity, link: lnk.Name})
		}
	}

	return errs
}

type relationView struct {
	child, link, field string
}

type pairView struct {
	name, field string
}

type endpointView struct {
	entity, key, ref string
}

// checkEndpoint reports E201 when entity is not declared in s.
func checkEndpoint(field, entity string, s *Schema) []ValidationError {
	for _, ent := range s.Entities {
		if ent.Name == entity {
			return nil
		}
	}
	return []ValidationError{{
		Field:   field + ".entity",
		Message: fmt.Sprintf("unknown entity %q", entity),
		Code:    ErrUnknownEndpoint,
	}}
}

func actionAllowed(allowed []record.Action, a record.Action) bool {
	for _, x := range allowed {
		if x == a {
			return true
		}
	}
	return false
}
