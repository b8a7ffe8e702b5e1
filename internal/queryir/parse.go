package queryir

import (
	"encoding/json"
	"math"
	"sort"
	"strings"
)

// RawRequest is the loose wire form of a query, as decoded from a JSON
// request body or a YAML scenario file.
//
//	{
//	  "select": {"Product": {"$fields": ["title"], "variants": true}},
//	  "where":  {"status": "published", "title": {"$like": "Shirt%"}},
//	  "skip": 0, "take": 10
//	}
type RawRequest struct {
	Select      map[string]any `json:"select" yaml:"select"`
	Where       map[string]any `json:"where,omitempty" yaml:"where,omitempty"`
	Skip        int            `json:"skip,omitempty" yaml:"skip,omitempty"`
	Take        int            `json:"take,omitempty" yaml:"take,omitempty"`
	WithDeleted bool           `json:"with_deleted,omitempty" yaml:"with_deleted,omitempty"`
}

// Parse converts the raw form to a Request. The result still has to be
// checked with Validate.
func (r RawRequest) Parse() (Request, error) {
	sel, err := ParseSelect(r.Select)
	if err != nil {
		return Request{}, err
	}
	where, err := parseWhere("where", r.Where)
	if err != nil {
		return Request{}, err
	}
	return Request{
		Select:      sel,
		Where:       where,
		Skip:        r.Skip,
		Take:        r.Take,
		WithDeleted: r.WithDeleted,
	}, nil
}

// ParseSelect parses the loose selection form:
//
//	{Product: {variants: true, $fields: [title], $where: {status: published}}}
//
// The single top-level key names the root entity (type name or resolver
// alias). Nested keys name relations; true expands a relation with all
// fields, false leaves it out.
func ParseSelect(m map[string]any) (Selection, error) {
	if len(m) != 1 {
		return Selection{}, shapeErrorf("select", "must name exactly one root entity, got %d", len(m))
	}
	var root string
	for k := range m {
		root = k
	}
	node, err := parseNode("select."+root, m[root])
	if err != nil {
		return Selection{}, err
	}
	node.Entity = root
	return *node, nil
}

func parseNode(path string, v any) (*Selection, error) {
	sel := &Selection{}
	switch val := v.(type) {
	case bool:
		if !val {
			return nil, shapeErrorf(path, "root selection cannot be false")
		}
		return sel, nil
	case map[string]any:
		for _, key := range sortedKeys(val) {
			child := val[key]
			switch {
			case key == "$fields":
				fields, err := stringSlice(path+".$fields", child)
				if err != nil {
					return nil, err
				}
				sel.Fields = fields
			case key == "$where":
				m, ok := child.(map[string]any)
				if !ok {
					return nil, shapeErrorf(path+".$where", "must be an object, got %T", child)
				}
				pred, err := parseWhere(path+".$where", m)
				if err != nil {
					return nil, err
				}
				sel.Filters = pred
			case strings.HasPrefix(key, "$"):
				return nil, shapeErrorf(path+"."+key, "unknown directive")
			default:
				if b, ok := child.(bool); ok && !b {
					continue
				}
				node, err := parseNode(path+"."+key, child)
				if err != nil {
					return nil, err
				}
				if sel.Relations == nil {
					sel.Relations = make(map[string]*Selection)
				}
				sel.Relations[key] = node
			}
		}
		return sel, nil
	default:
		return nil, shapeErrorf(path, "selection must be true or an object, got %T", v)
	}
}

// ParseWhere parses a flat predicate map.
//
//	{field: value}                      equality
//	{field: null}                       field is null or missing
//	{field: [v1, v2]}                   field in list
//	{field: {"$gt": 1, "$lte": 9}}      operators, combined with AND
//	{"$and": [{...}, {...}]}            explicit conjunction
//
// Operators: $eq $ne $gt $gte $lt $lte $in $like $null. Keys are combined
// with AND in sorted order, so the result is deterministic.
func ParseWhere(m map[string]any) (Predicate, error) {
	return parseWhere("where", m)
}

func parseWhere(path string, m map[string]any) (Predicate, error) {
	var preds []Predicate
	for _, field := range sortedKeys(m) {
		v := m[field]
		fpath := path + "." + field

		if field == "$and" {
			items, ok := v.([]any)
			if !ok {
				return nil, shapeErrorf(fpath, "must be a list of objects")
			}
			for i, item := range items {
				sub, ok := item.(map[string]any)
				if !ok {
					return nil, shapeErrorf(fpath, "item %d must be an object", i)
				}
				p, err := parseWhere(fpath, sub)
				if err != nil {
					return nil, err
				}
				preds = append(preds, p)
			}
			continue
		}
		if strings.HasPrefix(field, "$") {
			return nil, shapeErrorf(fpath, "unknown operator at field position")
		}

		switch val := v.(type) {
		case nil:
			preds = append(preds, IsNull{Field: field, Null: true})
		case []any:
			values, err := scalars(fpath, val)
			if err != nil {
				return nil, err
			}
			preds = append(preds, In{Field: field, Values: values})
		case map[string]any:
			ops, err := parseOperators(fpath, field, val)
			if err != nil {
				return nil, err
			}
			preds = append(preds, ops...)
		default:
			s, err := scalar(fpath, val)
			if err != nil {
				return nil, err
			}
			preds = append(preds, Compare{Field: field, Op: OpEq, Value: s})
		}
	}
	return Conjoin(preds...), nil
}

func parseOperators(path, field string, ops map[string]any) ([]Predicate, error) {
	if len(ops) == 0 {
		return nil, shapeErrorf(path, "empty operator object")
	}
	var preds []Predicate
	for _, key := range sortedKeys(ops) {
		v := ops[key]
		opath := path + "." + key
		switch key {
		case "$eq", "$ne", "$gt", "$gte", "$lt", "$lte":
			if v == nil {
				if key == "$eq" || key == "$ne" {
					preds = append(preds, IsNull{Field: field, Null: key == "$eq"})
					continue
				}
				return nil, shapeErrorf(opath, "cannot compare with null")
			}
			s, err := scalar(opath, v)
			if err != nil {
				return nil, err
			}
			preds = append(preds, Compare{Field: field, Op: Op(key[1:]), Value: s})
		case "$in":
			items, ok := v.([]any)
			if !ok {
				return nil, shapeErrorf(opath, "must be a list")
			}
			values, err := scalars(opath, items)
			if err != nil {
				return nil, err
			}
			preds = append(preds, In{Field: field, Values: values})
		case "$like":
			pattern, ok := v.(string)
			if !ok {
				return nil, shapeErrorf(opath, "pattern must be a string, got %T", v)
			}
			preds = append(preds, Like{Field: field, Pattern: pattern})
		case "$null":
			null, ok := v.(bool)
			if !ok {
				return nil, shapeErrorf(opath, "must be a boolean")
			}
			preds = append(preds, IsNull{Field: field, Null: null})
		default:
			return nil, shapeErrorf(opath, "unknown operator")
		}
	}
	return preds, nil
}

func scalars(path string, items []any) ([]any, error) {
	out := make([]any, 0, len(items))
	for _, item := range items {
		s, err := scalar(path, item)
		if err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, nil
}

// scalar normalizes a decoded JSON or YAML value to string, bool, int64
// or float64.
func scalar(path string, v any) (any, error) {
	switch val := v.(type) {
	case string, bool, int64:
		return val, nil
	case int:
		return int64(val), nil
	case int32:
		return int64(val), nil
	case float64:
		if val == math.Trunc(val) && math.Abs(val) < 1<<53 {
			return int64(val), nil
		}
		return val, nil
	case json.Number:
		if n, err := val.Int64(); err == nil {
			return n, nil
		}
		f, err := val.Float64()
		if err != nil {
			return nil, shapeErrorf(path, "invalid number %q", val.String())
		}
		return f, nil
	default:
		return nil, shapeErrorf(path, "value must be a string, number or boolean, got %T", v)
	}
}

func stringSlice(path string, v any) ([]string, error) {
	switch val := v.(type) {
	case []string:
		return val, nil
	case []any:
		out := make([]string, 0, len(val))
		for _, item := range val {
			s, ok := item.(string)
			if !ok {
				return nil, shapeErrorf(path, "field names must be strings, got %T", item)
			}
			out = append(out, s)
		}
		return out, nil
	default:
		return nil, shapeErrorf(path, "must be a list of field names")
	}
}

func sortedKeys(m map[string]any) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
