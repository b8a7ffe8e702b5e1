package queryir

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/roach88/catalog/internal/registry"
)

func testRegistry(t *testing.T) *registry.Registry {
	t.Helper()
	r := registry.New()
	require.NoError(t, r.AddEntity(registry.Entity{
		Name:       "Product",
		Alias:      "product",
		SoftDelete: true,
		Listeners:  []string{"product.created", "product.updated", "product.deleted"},
		Children:   []registry.Relation{{Child: "ProductVariant", ChildRef: "variants"}},
	}))
	require.NoError(t, r.AddEntity(registry.Entity{
		Name:      "ProductVariant",
		Alias:     "variant",
		Listeners: []string{"variant.created", "variant.updated", "variant.deleted"},
		Parents:   []registry.Relation{{Parent: "Product", ParentRef: "product", Name: "variants"}},
	}))
	require.NoError(t, r.AddEntity(registry.Entity{
		Name:      "PriceSet",
		Alias:     "price_set",
		Listeners: []string{"price_set.created", "price_set.updated", "price_set.deleted"},
		Children:  []registry.Relation{{Child: "MoneyAmount", ChildRef: "money_amounts"}},
	}))
	require.NoError(t, r.AddEntity(registry.Entity{
		Name:      "MoneyAmount",
		Alias:     "money_amount",
		Fields:    []string{"amount", "currency_code"},
		Listeners: []string{"money_amount.created", "money_amount.updated", "money_amount.deleted"},
	}))
	require.NoError(t, r.AddLink(registry.Link{
		Name:      "LinkProductVariantPriceSet",
		Alias:     "product_variant_price_set",
		Parent:    registry.Endpoint{Entity: "ProductVariant", Key: "variant_id", As: "price_sets"},
		Child:     registry.Endpoint{Entity: "PriceSet", Key: "price_set_id"},
		Listeners: []string{"LinkProductVariantPriceSet.attached", "LinkProductVariantPriceSet.detached"},
	}))
	return r
}
