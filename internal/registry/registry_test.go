package registry

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/catalog/internal/record"
)

func catalogRegistry(t *testing.T) *Registry {
	t.Helper()
	r := New()
	require.NoError(t, r.AddEntity(Entity{
		Name:       "Product",
		Alias:      "product",
		SoftDelete: true,
		Listeners:  []string{"product.created", "product.updated", "product.deleted"},
		Children:   []Relation{{Child: "ProductVariant", ChildRef: "variants"}},
	}))
	require.NoError(t, r.AddEntity(Entity{
		Name:      "ProductVariant",
		Alias:     "variant",
		Listeners: []string{"variant.created", "variant.updated", "variant.deleted"},
		Parents:   []Relation{{Parent: "Product", ParentRef: "product", Name: "variants"}},
	}))
	require.NoError(t, r.AddEntity(Entity{
		Name:      "PriceSet",
		Alias:     "price_set",
		Listeners: []string{"price_set.created", "price_set.updated", "price_set.deleted"},
		Children:  []Relation{{Child: "MoneyAmount", ChildRef: "money_amounts"}},
	}))
	require.NoError(t, r.AddEntity(Entity{
		Name:      "MoneyAmount",
		Alias:     "money_amount",
		Fields:    []string{"amount", "currency_code"},
		Listeners: []string{"money_amount.created", "money_amount.updated", "money_amount.deleted"},
	}))
	require.NoError(t, r.AddLink(Link{
		Name:      "LinkProductVariantPriceSet",
		Alias:     "product_variant_price_set",
		Parent:    Endpoint{Entity: "ProductVariant", Key: "variant_id", As: "price_sets"},
		Child:     Endpoint{Entity: "PriceSet", Key: "price_set_id"},
		Listeners: []string{"LinkProductVariantPriceSet.attached", "LinkProductVariantPriceSet.detached"},
	}))
	return r
}

func TestClassify(t *testing.T) {
	r := catalogRegistry(t)

	b, ok := r.Classify("variant.updated")
	require.True(t, ok)
	assert.Equal(t, BindingEntity, b.Kind)
	assert.Equal(t, record.ActionUpdated, b.Action)
	assert.Equal(t, "ProductVariant", b.Type())
	assert.Equal(t, "variant", b.Alias())

	b, ok = r.Classify("LinkProductVariantPriceSet.detached")
	require.True(t, ok)
	assert.Equal(t, BindingLink, b.Kind)
	assert.Equal(t, record.ActionDetached, b.Action)
	assert.Equal(t, "product_variant_price_set", b.Alias())

	_, ok = r.Classify("order.created")
	assert.False(t, ok)
}

func TestRelationNames(t *testing.T) {
	r := catalogRegistry(t)

	rel, ok := r.ChildRelation("Product", "variants")
	require.True(t, ok)
	assert.Equal(t, "ProductVariant", rel.Child)
	assert.Equal(t, "variants", rel.ChildRef, "declared on Product")
	assert.Equal(t, "product", rel.ParentRef, "declared on ProductVariant")

	rel, ok = r.ChildRelation("ProductVariant", "price_sets")
	require.True(t, ok)
	assert.Equal(t, "PriceSet", rel.Child)
	assert.Equal(t, "LinkProductVariantPriceSet", rel.Link)
	assert.Empty(t, rel.ChildRef)

	// Children without "as" are named after their ref.
	rel, ok = r.ChildRelation("PriceSet", "money_amounts")
	require.True(t, ok)
	assert.Equal(t, "MoneyAmount", rel.Child)
	assert.Empty(t, rel.ParentRef)

	_, ok = r.ChildRelation("Product", "price_sets")
	assert.False(t, ok)
}

func TestRelationsBothDirections(t *testing.T) {
	r := catalogRegistry(t)

	rels := r.Relations("ProductVariant")
	require.Len(t, rels, 2)
	names := []string{rels[0].Name, rels[1].Name}
	assert.ElementsMatch(t, []string{"price_sets", "variants"}, names)

	assert.Len(t, r.ParentsOf("PriceSet"), 1)
	assert.Len(t, r.ChildrenOf("Product"), 1)
	assert.True(t, r.HasChildren("PriceSet"))
	assert.False(t, r.HasChildren("MoneyAmount"))
	assert.Len(t, r.AllRelations(), 3)
}

func TestExpansions(t *testing.T) {
	r := catalogRegistry(t)

	exp := r.Expansions("ProductVariant")
	require.Len(t, exp, 1, "link relations carry no refs")
	assert.Equal(t, "product", exp[0].Ref)
	assert.Equal(t, "Product", exp[0].Other)
	assert.False(t, exp[0].SelfIsParent)

	exp = r.Expansions("Product")
	require.Len(t, exp, 1)
	assert.Equal(t, "variants", exp[0].Ref)
	assert.Equal(t, "ProductVariant", exp[0].Other)
	assert.True(t, exp[0].SelfIsParent)

	assert.Nil(t, r.Expansions("Nope"))
}

func TestSelfRelationExpandsBothWays(t *testing.T) {
	r := New()
	require.NoError(t, r.AddEntity(Entity{
		Name:     "Category",
		Alias:    "category",
		Parents:  []Relation{{Parent: "Category", ParentRef: "parent_category", Name: "category_children"}},
		Children: []Relation{{Child: "Category", ChildRef: "category_children"}},
	}))

	require.Len(t, r.AllRelations(), 1, "both declarations merge")
	exp := r.Expansions("Category")
	require.Len(t, exp, 2)
	assert.Equal(t, "category_children", exp[0].Ref)
	assert.Equal(t, "parent_category", exp[1].Ref)
}

func TestDuplicateRelationName(t *testing.T) {
	r := catalogRegistry(t)

	err := r.AddEntity(Entity{
		Name:    "Image",
		Alias:   "image",
		Parents: []Relation{{Parent: "Product", ParentRef: "product", Name: "variants"}},
	})
	assert.ErrorIs(t, err, ErrDuplicateRelation)
	_, ok := r.Entity("Image")
	assert.False(t, ok)
}

func TestAmbiguousRelation(t *testing.T) {
	r := catalogRegistry(t)

	err := r.AddLink(Link{
		Name:      "LinkFeatured",
		Alias:     "featured_link",
		Parent:    Endpoint{Entity: "Product", Key: "product_id", As: "featured"},
		Child:     Endpoint{Entity: "ProductVariant", Key: "variant_id"},
		Listeners: []string{"LinkFeatured.attached", "LinkFeatured.detached"},
	})
	assert.ErrorIs(t, err, ErrAmbiguousRelation)
	_, ok := r.Link("LinkFeatured")
	assert.False(t, ok)
	_, ok = r.Classify("LinkFeatured.detached")
	assert.False(t, ok)

	err = New().AddEntity(Entity{
		Name:     "Category",
		Alias:    "category",
		Parents:  []Relation{{Parent: "Category", ParentRef: "parent", Name: "children"}},
		Children: []Relation{{Child: "Category", ChildRef: "subcategories"}},
	})
	assert.ErrorIs(t, err, ErrAmbiguousRelation)
}

func TestAddErrors(t *testing.T) {
	r := catalogRegistry(t)

	err := r.AddEntity(Entity{Name: "Product", Alias: "p2"})
	assert.ErrorIs(t, err, ErrDuplicateEntity)

	err = r.AddEntity(Entity{Name: "Other", Alias: "product"})
	assert.ErrorIs(t, err, ErrDuplicateAlias)

	err = r.AddEntity(Entity{Name: "Other", Alias: "other", Listeners: []string{"product.created"}})
	assert.ErrorIs(t, err, ErrDuplicateListener)

	err = r.AddEntity(Entity{Name: "Other2", Alias: "other2", Listeners: []string{"other.attached"}})
	assert.ErrorIs(t, err, ErrInvalidListener)

	err = r.AddLink(Link{Name: "L", Listeners: []string{"L.created"}})
	assert.ErrorIs(t, err, ErrInvalidListener)

	err = r.AddLink(Link{Name: "LinkProductVariantPriceSet"})
	assert.ErrorIs(t, err, ErrDuplicateLink)

	_, ok := r.Entity("Other")
	assert.False(t, ok, "failed AddEntity must not register")
}

func TestEntityFieldsAndSoftDelete(t *testing.T) {
	r := catalogRegistry(t)

	money, ok := r.EntityByAlias("money_amount")
	require.True(t, ok)
	assert.True(t, money.HasField("id"))
	assert.True(t, money.HasField("amount"))
	assert.False(t, money.HasField("title"))

	product, _ := r.Entity("Product")
	assert.True(t, product.HasField("anything"))
	assert.True(t, product.IsDeleted(record.Data{"deleted_at": "2024-01-01"}))
	assert.False(t, product.IsDeleted(record.Data{"deleted_at": nil}))
	assert.False(t, money.IsDeleted(record.Data{"deleted_at": "2024-01-01"}))
}

func TestEndpointIDFrom(t *testing.T) {
	ep := Endpoint{Entity: "ProductVariant", Key: "variant_id", Ref: "variant"}

	assert.Equal(t, "v1", ep.IDFrom(record.Data{"variant_id": "v1"}))
	assert.Equal(t, "v2", ep.IDFrom(record.Data{"variant": map[string]any{"id": "v2"}}))
	assert.Equal(t, "", ep.IDFrom(record.Data{}))
}

func TestDeclarationOrder(t *testing.T) {
	r := catalogRegistry(t)

	var names []string
	for _, e := range r.Entities() {
		names = append(names, e.Name)
	}
	assert.Equal(t, []string{"Product", "ProductVariant", "PriceSet", "MoneyAmount"}, names)
	assert.Len(t, r.Links(), 1)
	assert.Contains(t, r.Events(), "price_set.deleted")
}
