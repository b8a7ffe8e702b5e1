package compiler

import (
	"cuelang.org/go/cue"

	"github.com/roach88/catalog/internal/registry"
)

// CompileLink parses a CUE value into a link declaration.
//
//	v := ctx.CompileString(`link: LinkProductVariantPriceSet: { ... }`)
//	lnk, err := CompileLink(v.LookupPath(cue.ParsePath("link.LinkProductVariantPriceSet")))
func CompileLink(v cue.Value) (*registry.Link, error) {
	if err := v.Err(); err != nil {
		return nil, formatCUEError(err)
	}

	lnk := &registry.Link{Name: selectorName(v)}

	var err error
	if lnk.Alias, err = optionalString(v, "alias"); err != nil {
		return nil, err
	}
	if lnk.Listeners, err = stringList(v, "listeners"); err != nil {
		return nil, err
	}

	for _, side := range []struct {
		field string
		dst   *registry.Endpoint
	}{
		{"parent", &lnk.Parent},
		{"child", &lnk.Child},
	} {
		sv := v.LookupPath(cue.ParsePath(side.field))
		if !sv.Exists() {
			return nil, &CompileError{
				Field:   side.field,
				Message: side.field + " endpoint is required",
				Pos:     v.Pos(),
			}
		}
		ep, err := parseEndpoint(sv, side.field)
		if err != nil {
			return nil, err
		}
		*side.dst = ep
	}

	return lnk, nil
}
