package queryir

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValidate_ResolvesEntities(t *testing.T) {
	reg := testRegistry(t)
	req := Request{
		Select: Selection{
			Entity: "product",
			Relations: map[string]*Selection{
				"variants": {
					Relations: map[string]*Selection{
						"price_sets": {
							Relations: map[string]*Selection{"money_amounts": nil},
						},
					},
				},
			},
		},
	}

	require.NoError(t, Validate(&req, reg))

	assert.Equal(t, "Product", req.Select.Entity, "alias canonicalized")
	variants := req.Select.Relations["variants"]
	assert.Equal(t, "ProductVariant", variants.Entity)
	priceSets := variants.Relations["price_sets"]
	assert.Equal(t, "PriceSet", priceSets.Entity, "link relation")
	require.NotNil(t, priceSets.Relations["money_amounts"], "nil child replaced")
	assert.Equal(t, "MoneyAmount", priceSets.Relations["money_amounts"].Entity)
}

func TestValidate_ChildEntityByNameOrAlias(t *testing.T) {
	reg := testRegistry(t)

	for _, name := range []string{"ProductVariant", "variant"} {
		req := Request{Select: Selection{
			Entity:    "Product",
			Relations: map[string]*Selection{"variants": {Entity: name}},
		}}
		require.NoError(t, Validate(&req, reg), name)
		assert.Equal(t, "ProductVariant", req.Select.Relations["variants"].Entity)
	}
}

func TestValidate_ShapeErrors(t *testing.T) {
	tests := []struct {
		name string
		req  Request
		path string
	}{
		{
			name: "unknown root",
			req:  Request{Select: Selection{Entity: "Order"}},
			path: "select.Order",
		},
		{
			name: "missing root",
			req:  Request{},
			path: "select",
		},
		{
			name: "undeclared relation",
			req: Request{Select: Selection{
				Entity:    "Product",
				Relations: map[string]*Selection{"colors": {}},
			}},
			path: "select.Product.colors",
		},
		{
			name: "relation declared only from the child side",
			req: Request{Select: Selection{
				Entity:    "ProductVariant",
				Relations: map[string]*Selection{"product": {}},
			}},
			path: "select.ProductVariant.product",
		},
		{
			name: "child entity mismatch",
			req: Request{Select: Selection{
				Entity:    "Product",
				Relations: map[string]*Selection{"variants": {Entity: "PriceSet"}},
			}},
			path: "select.Product.variants",
		},
		{
			name: "undeclared field",
			req: Request{Select: Selection{
				Entity: "MoneyAmount",
				Fields: []string{"amount", "note"},
			}},
			path: "select.MoneyAmount.$fields",
		},
		{
			name: "invalid field name",
			req: Request{Select: Selection{
				Entity: "Product",
				Fields: []string{"title; DROP"},
			}},
			path: "select.Product.$fields",
		},
		{
			name: "dotted selected field",
			req: Request{Select: Selection{
				Entity: "Product",
				Fields: []string{"metadata.color"},
			}},
			path: "select.Product.$fields",
		},
		{
			name: "undeclared filter field",
			req: Request{Select: Selection{
				Entity:  "MoneyAmount",
				Filters: Compare{Field: "note", Op: OpEq, Value: "x"},
			}},
			path: "select.MoneyAmount.$where",
		},
		{
			name: "invalid where path",
			req: Request{
				Select: Selection{Entity: "Product"},
				Where:  Like{Field: "meta..x", Pattern: "%"},
			},
			path: "where",
		},
		{
			name: "unknown operator",
			req: Request{
				Select: Selection{Entity: "Product"},
				Where:  Compare{Field: "rank", Op: "between", Value: int64(1)},
			},
			path: "where",
		},
		{
			name: "unsupported value",
			req: Request{
				Select: Selection{Entity: "Product"},
				Where:  And{Predicates: []Predicate{In{Field: "rank", Values: []any{[]int{1}}}}},
			},
			path: "where",
		},
		{
			name: "negative skip",
			req:  Request{Select: Selection{Entity: "Product"}, Skip: -1},
			path: "skip",
		},
		{
			name: "negative take",
			req:  Request{Select: Selection{Entity: "Product"}, Take: -5},
			path: "take",
		},
	}

	reg := testRegistry(t)
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := Validate(&tt.req, reg)
			require.Error(t, err)
			var qe *QueryShapeError
			require.ErrorAs(t, err, &qe)
			assert.Equal(t, tt.path, qe.Path)
			assert.Contains(t, err.Error(), "query shape")
		})
	}
}

func TestValidate_DottedFilterOnOpenEntity(t *testing.T) {
	req := Request{
		Select: Selection{Entity: "Product"},
		Where: And{Predicates: []Predicate{
			Compare{Field: "metadata.color", Op: OpEq, Value: "red"},
			IsNull{Field: "deleted_at", Null: true},
		}},
	}
	assert.NoError(t, Validate(&req, testRegistry(t)))
}

func TestValidate_IDAlwaysAllowed(t *testing.T) {
	req := Request{Select: Selection{
		Entity:  "MoneyAmount",
		Fields:  []string{"id", "amount"},
		Filters: In{Field: "id", Values: []any{"ma_1"}},
	}}
	assert.NoError(t, Validate(&req, testRegistry(t)))
}

func TestQueryShapeError_Format(t *testing.T) {
	err := &QueryShapeError{Path: "select.Product.colors", Message: "relation \"colors\" is not declared on Product"}
	assert.Equal(t, `query shape: select.Product.colors: relation "colors" is not declared on Product`, err.Error())

	err = &QueryShapeError{Message: "bad"}
	assert.Equal(t, "query shape: bad", err.Error())
}
