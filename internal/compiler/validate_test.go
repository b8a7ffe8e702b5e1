package compiler

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/catalog/internal/registry"
)

func codes(errs []ValidationError) []string {
	out := make([]string, 0, len(errs))
	for _, e := range errs {
		out = append(out, e.Code)
	}
	return out
}

func TestValidateValid(t *testing.T) {
	schema := &Schema{
		Entities: []registry.Entity{
			{
				Name:      "Product",
				Alias:     "product",
				Listeners: []string{"product.created"},
				Children:  []registry.Relation{{Child: "ProductVariant", ChildRef: "variants"}},
			},
			{
				Name:      "ProductVariant",
				Alias:     "variant",
				Fields:    []string{"title", "sku"},
				Listeners: []string{"variant.created"},
				Parents:   []registry.Relation{{Parent: "Product", ParentRef: "product", Name: "variants"}},
			},
		},
	}
	assert.Empty(t, Validate(schema), "a relation declared from both ends is one relation")
}

func TestValidateErrors(t *testing.T) {
	tests := []struct {
		name   string
		schema *Schema
		code   string
		field  string
	}{
		{
			name: "unknown parent entity",
			schema: &Schema{Entities: []registry.Entity{{
				Name: "V", Alias: "v",
				Parents: []registry.Relation{{Parent: "Nope", ParentRef: "nope"}},
			}}},
			code:  ErrUnknownEndpoint,
			field: "entity.V.parents[0].entity",
		},
		{
			name: "duplicate listener across declarations",
			schema: &Schema{Entities: []registry.Entity{
				{Name: "A", Alias: "a", Listeners: []string{"a.created"}},
				{Name: "B", Alias: "b", Listeners: []string{"a.created"}},
			}},
			code:  ErrDuplicateListener,
			field: "entity.B.listeners[0]",
		},
		{
			name: "duplicate relation name on parent",
			schema: &Schema{Entities: []registry.Entity{
				{Name: "P", Alias: "p"},
				{Name: "A", Alias: "a", Parents: []registry.Relation{{Parent: "P", ParentRef: "p", Name: "items"}}},
				{Name: "B", Alias: "b", Parents: []registry.Relation{{Parent: "P", ParentRef: "p", Name: "items"}}},
			}},
			code:  ErrDuplicateRelation,
			field: "entity.B.parents[0].as",
		},
		{
			name: "second relation name for one pair",
			schema: &Schema{
				Entities: []registry.Entity{
					{Name: "Product", Alias: "product", Children: []registry.Relation{{Child: "ProductVariant", ChildRef: "variants"}}},
					{Name: "ProductVariant", Alias: "variant"},
				},
				Links: []registry.Link{{
					Name: "LinkFeatured", Alias: "featured_link",
					Parent: registry.Endpoint{Entity: "Product", Key: "product_id", As: "featured"},
					Child:  registry.Endpoint{Entity: "ProductVariant", Key: "variant_id"},
				}},
			},
			code:  ErrAmbiguousRelation,
			field: "link.LinkFeatured.parent.as",
		},
		{
			name:   "missing alias",
			schema: &Schema{Entities: []registry.Entity{{Name: "A"}}},
			code:   ErrMissingAlias,
			field:  "entity.A.alias",
		},
		{
			name:   "invalid field identifier",
			schema: &Schema{Entities: []registry.Entity{{Name: "A", Alias: "a", Fields: []string{"bad-field"}}}},
			code:   ErrInvalidIdentifier,
			field:  "entity.A.fields[0]",
		},
		{
			name:   "entity listener with link action",
			schema: &Schema{Entities: []registry.Entity{{Name: "A", Alias: "a", Listeners: []string{"a.attached"}}}},
			code:   ErrInvalidListener,
			field:  "entity.A.listeners[0]",
		},
		{
			name: "link endpoint without key or ref",
			schema: &Schema{
				Entities: []registry.Entity{{Name: "A", Alias: "a"}, {Name: "B", Alias: "b"}},
				Links: []registry.Link{{
					Name: "L", Alias: "l",
					Parent: registry.Endpoint{Entity: "A", Key: "a_id"},
					Child:  registry.Endpoint{Entity: "B"},
				}},
			},
			code:  ErrMissingEndpointKey,
			field: "link.L.child",
		},
		{
			name: "alias reused",
			schema: &Schema{Entities: []registry.Entity{
				{Name: "A", Alias: "same"},
				{Name: "B", Alias: "same"},
			}},
			code:  ErrDuplicateDeclaration,
			field: "entity.B.alias",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			errs := Validate(tt.schema)
			require.Len(t, errs, 1, "errors: %v", errs)
			assert.Equal(t, tt.code, errs[0].Code)
			assert.Equal(t, tt.field, errs[0].Field)
		})
	}
}

func TestValidateCollectsAllErrors(t *testing.T) {
	schema := &Schema{
		Entities: []registry.Entity{
			{Name: "A", Fields: []string{"ok", "not ok"}, Listeners: []string{"a.exploded"}},
		},
		Links: []registry.Link{{
			Name:   "L",
			Parent: registry.Endpoint{Entity: "Missing", Key: "m_id"},
			Child:  registry.Endpoint{Entity: "A", Key: "a_id"},
		}},
	}

	got := codes(Validate(schema))
	assert.ElementsMatch(t, []string{
		ErrMissingAlias,      // A
		ErrInvalidListener,   // a.exploded
		ErrInvalidIdentifier, // "not ok"
		ErrMissingAlias,      // L
		ErrUnknownEndpoint,   // Missing
	}, got)
}

func TestValidationErrorFormat(t *testing.T) {
	err := ValidationError{Field: "entity.A.alias", Message: "alias is required", Code: ErrMissingAlias}
	assert.Equal(t, "[E204] entity.A.alias: alias is required", err.Error())

	err.Line = 3
	assert.Equal(t, "[E204] line 3: entity.A.alias: alias is required", err.Error())
}
