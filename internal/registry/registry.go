// Package registry holds the schema registry: which events affect which
// entity types, and which parent -> child relations exist between them.
//
// The registry is plain data, built once at startup (usually by the
// compiler package from CUE declarations) and read concurrently afterwards.
package registry

import (
	"fmt"
	"sort"

	"github.com/roach88/catalog/internal/record"
)

// Relation is a declared parent -> child edge kind.
//
// A relation may be declared from either side (or both, in which case the
// declarations are merged). The refs say where related stubs are embedded
// in resolved records.
type Relation struct {
	// Name is the relation name seen from the parent side (e.g. "variants").
	// Selection trees expand children through this name.
	Name string

	// Parent is the parent entity type (e.g. "Product").
	Parent string

	// Child is the child entity type (e.g. "ProductVariant").
	Child string

	// ChildRef is the key in a parent record holding child stubs (e.g. "variants").
	ChildRef string

	// ParentRef is the key in a child record holding parent stubs (e.g. "product").
	ParentRef string

	// Link names the link declaration maintaining this relation through
	// attached/detached events. Empty for entity-declared relations.
	Link string
}

// Expansion is a stub key to follow when an entity record is resolved.
type Expansion struct {
	Relation Relation

	// Ref is the key in the resolved record holding the stubs.
	Ref string

	// Other is the entity type of the stubs.
	Other string

	// SelfIsParent reports whether the resolved entity is the parent end.
	SelfIsParent bool
}

// Entity describes one entity type.
type Entity struct {
	// Name is the entity type tag stored on snapshots (e.g. "Product").
	Name string

	// Alias is the key the remote resolver knows this entity by (e.g. "product").
	Alias string

	// Fields optionally restricts selectable and filterable fields.
	// Empty means any field is allowed.
	Fields []string

	// SoftDelete marks entities whose records carry deleted_at; such
	// snapshots are kept but hidden from queries unless explicitly requested.
	SoftDelete bool

	// Listeners are the event names that affect this entity.
	Listeners []string

	// Parents are relations where this entity is the child.
	Parents []Relation

	// Children are relations declared here where this entity is the parent.
	Children []Relation
}

// HasField reports whether field may be selected or filtered on.
func (e *Entity) HasField(field string) bool {
	if len(e.Fields) == 0 || field == "id" {
		return true
	}
	for _, f := range e.Fields {
		if f == field {
			return true
		}
	}
	return false
}

// IsDeleted reports whether a record is soft deleted.
func (e *Entity) IsDeleted(d record.Data) bool {
	if !e.SoftDelete {
		return false
	}
	v, ok := d["deleted_at"]
	return ok && v != nil
}

// Endpoint is one side of a link.
type Endpoint struct {
	Entity string
	// Key is the flat id key in the link payload (e.g. "variant_id").
	Key string
	// Ref is the stub key in the link payload (e.g. "variant").
	Ref string
	// As names the relation from the parent side; only meaningful on Parent.
	As string
}

// IDFrom extracts the endpoint id from a link payload, preferring Key over Ref stubs.
func (ep Endpoint) IDFrom(d record.Data) string {
	if ep.Key != "" {
		if id := (record.Data{"id": d[ep.Key]}).ID(); id != "" {
			return id
		}
	}
	if ep.Ref != "" {
		if stubs := d.Stubs(ep.Ref); len(stubs) > 0 {
			return stubs[0].ID()
		}
	}
	return ""
}

// Link is a relation kind whose lifecycle is driven by attached/detached events.
type Link struct {
	Name      string
	Alias     string
	Parent    Endpoint
	Child     Endpoint
	Listeners []string
}

// Relation returns the edge kind the link maintains.
func (l *Link) Relation() Relation {
	name := l.Parent.As
	if name == "" {
		name = l.Alias
	}
	return Relation{
		Name:   name,
		Parent: l.Parent.Entity,
		Child:  l.Child.Entity,
		Link:   l.Name,
	}
}

// BindingKind distinguishes entity events from link events.
type BindingKind int

const (
	// BindingEntity events create, update or delete an entity snapshot.
	BindingEntity BindingKind = iota + 1
	// BindingLink events attach or detach an edge.
	BindingLink
)

// Binding is the classification of one event name.
type Binding struct {
	Event  string
	Action record.Action
	Kind   BindingKind
	Entity *Entity
	Link   *Link
}

// Type returns the affected entity type (or link name).
func (b Binding) Type() string {
	if b.Kind == BindingLink {
		return b.Link.Name
	}
	return b.Entity.Name
}

// Alias returns the resolver key of the affected entity or link.
func (b Binding) Alias() string {
	if b.Kind == BindingLink {
		return b.Link.Alias
	}
	return b.Entity.Alias
}

// Registry holds all declarations and the derived lookup indexes.
type Registry struct {
	entities  map[string]*Entity
	aliases   map[string]*Entity
	links     map[string]*Link
	bindings  map[string]Binding
	byParent  map[string][]Relation
	byChild   map[string][]Relation
	order     []string
	linkOrder []string
}

// New creates an empty Registry.
func New() *Registry {
	return &Registry{
		entities: make(map[string]*Entity),
		aliases:  make(map[string]*Entity),
		links:    make(map[string]*Link),
		bindings: make(map[string]Binding),
		byParent: make(map[string][]Relation),
		byChild:  make(map[string][]Relation),
	}
}

// AddEntity registers an entity and its listeners and relations.
//
// Relations are normalized: the declaring side is filled in, a parent
// declaration without a name is named after this entity's alias, and a
// child declaration without a name is named after its ref.
func (r *Registry) AddEntity(e Entity) error {
	if _, exists := r.entities[e.Name]; exists {
		return fmt.Errorf("%w: %s", ErrDuplicateEntity, e.Name)
	}
	if e.Alias != "" {
		if other, exists := r.aliases[e.Alias]; exists {
			return fmt.Errorf("%w: %q used by %s and %s", ErrDuplicateAlias, e.Alias, other.Name, e.Name)
		}
	}

	ent := e
	ent.Parents = make([]Relation, len(e.Parents))
	for i, rel := range e.Parents {
		rel.Child = e.Name
		if rel.Name == "" {
			rel.Name = e.Alias
		}
		ent.Parents[i] = rel
	}
	ent.Children = make([]Relation, len(e.Children))
	for i, rel := range e.Children {
		rel.Parent = e.Name
		if rel.Name == "" {
			rel.Name = rel.ChildRef
		}
		ent.Children[i] = rel
	}

	bindings, err := r.prepareBindings(e.Listeners, record.EntityActions, Binding{Kind: BindingEntity, Entity: &ent})
	if err != nil {
		return err
	}
	rels := append(append([]Relation{}, ent.Parents...), ent.Children...)
	for i, rel := range rels {
		if err := r.checkRelation(rel, rels[:i]...); err != nil {
			return err
		}
	}
	for name, b := range bindings {
		r.bindings[name] = b
	}

	r.entities[ent.Name] = &ent
	if ent.Alias != "" {
		r.aliases[ent.Alias] = &ent
	}
	r.order = append(r.order, ent.Name)

	for _, rel := range ent.Parents {
		r.index(rel)
	}
	for _, rel := range ent.Children {
		r.index(rel)
	}
	return nil
}

// AddLink registers a link declaration and its listeners.
func (r *Registry) AddLink(l Link) error {
	if _, exists := r.links[l.Name]; exists {
		return fmt.Errorf("%w: %s", ErrDuplicateLink, l.Name)
	}

	lnk := l
	bindings, err := r.prepareBindings(l.Listeners, record.LinkActions, Binding{Kind: BindingLink, Link: &lnk})
	if err != nil {
		return err
	}
	if err := r.checkRelation(lnk.Relation()); err != nil {
		return err
	}
	for name, b := range bindings {
		r.bindings[name] = b
	}

	r.links[lnk.Name] = &lnk
	r.linkOrder = append(r.linkOrder, lnk.Name)
	r.index(lnk.Relation())
	return nil
}

// prepareBindings checks every listener's action suffix and uniqueness
// before anything is registered.
func (r *Registry) prepareBindings(events []string, allowed []record.Action, proto Binding) (map[string]Binding, error) {
	out := make(map[string]Binding, len(events))
	for _, event := range events {
		action, ok := record.ParseAction(event)
		if !ok || !containsAction(allowed, action) {
			return nil, fmt.Errorf("%w: %q (allowed actions: %v)", ErrInvalidListener, event, allowed)
		}
		if existing, exists := r.bindings[event]; exists {
			return nil, fmt.Errorf("%w: %q already bound to %s", ErrDuplicateListener, event, existing.Type())
		}
		if _, exists := out[event]; exists {
			return nil, fmt.Errorf("%w: %q listed twice", ErrDuplicateListener, event)
		}
		b := proto
		b.Event = event
		b.Action = action
		out[event] = b
	}
	return out, nil
}

// checkRelation rejects a relation whose name is already used on the same
// parent for a different child or a different link, and a second name for
// a parent/child pair that is already related. pending holds relations of
// the same declaration that are not indexed yet.
func (r *Registry) checkRelation(rel Relation, pending ...Relation) error {
	for _, existing := range append(append([]Relation{}, r.byParent[rel.Parent]...), pending...) {
		if existing.Parent != rel.Parent {
			continue
		}
		switch {
		case existing.Name == rel.Name && (existing.Child != rel.Child || existing.Link != rel.Link):
			return fmt.Errorf("%w: %s.%s", ErrDuplicateRelation, rel.Parent, rel.Name)
		case existing.Name != rel.Name && existing.Child == rel.Child:
			// Edges carry no relation name.
			return fmt.Errorf("%w: %s.%s and %s.%s both reach %s",
				ErrAmbiguousRelation, rel.Parent, existing.Name, rel.Parent, rel.Name, rel.Child)
		}
	}
	return nil
}

// index adds a relation to the parent and child lookups. A relation with
// the same parent, child and name is merged into the existing entry.
func (r *Registry) index(rel Relation) {
	for i, existing := range r.byParent[rel.Parent] {
		if existing.Name != rel.Name || existing.Child != rel.Child {
			continue
		}
		merged := mergeRelation(existing, rel)
		r.byParent[rel.Parent][i] = merged
		for j, c := range r.byChild[rel.Child] {
			if c.Parent == rel.Parent && c.Name == rel.Name {
				r.byChild[rel.Child][j] = merged
			}
		}
		return
	}
	r.byParent[rel.Parent] = append(r.byParent[rel.Parent], rel)
	r.byChild[rel.Child] = append(r.byChild[rel.Child], rel)
}

func mergeRelation(a, b Relation) Relation {
	if a.ChildRef == "" {
		a.ChildRef = b.ChildRef
	}
	if a.ParentRef == "" {
		a.ParentRef = b.ParentRef
	}
	if a.Link == "" {
		a.Link = b.Link
	}
	return a
}

// Classify maps an event name to the entity or link it affects.
// Returns false for unknown events.
func (r *Registry) Classify(event string) (Binding, bool) {
	b, ok := r.bindings[event]
	return b, ok
}

// Entity returns the entity with the given type name.
func (r *Registry) Entity(name string) (*Entity, bool) {
	e, ok := r.entities[name]
	return e, ok
}

// EntityByAlias returns the entity with the given resolver alias.
func (r *Registry) EntityByAlias(alias string) (*Entity, bool) {
	e, ok := r.aliases[alias]
	return e, ok
}

// Link returns the link with the given name.
func (r *Registry) Link(name string) (*Link, bool) {
	l, ok := r.links[name]
	return l, ok
}

// Entities returns all entities in declaration order.
func (r *Registry) Entities() []*Entity {
	out := make([]*Entity, 0, len(r.order))
	for _, name := range r.order {
		out = append(out, r.entities[name])
	}
	return out
}

// Links returns all links in declaration order.
func (r *Registry) Links() []*Link {
	out := make([]*Link, 0, len(r.linkOrder))
	for _, name := range r.linkOrder {
		out = append(out, r.links[name])
	}
	return out
}

// Events returns every bound event name, sorted.
func (r *Registry) Events() []string {
	out := make([]string, 0, len(r.bindings))
	for name := range r.bindings {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

// ChildrenOf returns all relations where parentType is the parent.
func (r *Registry) ChildrenOf(parentType string) []Relation {
	return r.byParent[parentType]
}

// ParentsOf returns all relations where childType is the child.
func (r *Registry) ParentsOf(childType string) []Relation {
	return r.byChild[childType]
}

// Relations returns every indexed relation touching entity, in either direction.
func (r *Registry) Relations(entity string) []Relation {
	out := make([]Relation, 0, len(r.byParent[entity])+len(r.byChild[entity]))
	out = append(out, r.byParent[entity]...)
	for _, rel := range r.byChild[entity] {
		if rel.Parent == entity {
			continue
		}
		out = append(out, rel)
	}
	return out
}

// HasChildren reports whether parentType has any declared child relation.
func (r *Registry) HasChildren(parentType string) bool {
	return len(r.byParent[parentType]) > 0
}

// ChildRelation resolves a selection relation name on a parent type.
func (r *Registry) ChildRelation(parentType, name string) (Relation, bool) {
	for _, rel := range r.byParent[parentType] {
		if rel.Name == name {
			return rel, true
		}
	}
	return Relation{}, false
}

// Expansions returns the stub keys to follow when a record of entity is
// resolved: child stubs under ChildRef and parent stubs under ParentRef.
// Link relations carry no refs and never appear here.
func (r *Registry) Expansions(entity string) []Expansion {
	var out []Expansion
	for _, rel := range r.byParent[entity] {
		if rel.ChildRef != "" {
			out = append(out, Expansion{Relation: rel, Ref: rel.ChildRef, Other: rel.Child, SelfIsParent: true})
		}
	}
	for _, rel := range r.byChild[entity] {
		if rel.ParentRef != "" {
			out = append(out, Expansion{Relation: rel, Ref: rel.ParentRef, Other: rel.Parent})
		}
	}
	return out
}

// AllRelations returns every indexed relation, ordered by parent then name.
func (r *Registry) AllRelations() []Relation {
	var out []Relation
	for _, rels := range r.byParent {
		out = append(out, rels...)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Parent != out[j].Parent {
			return out[i].Parent < out[j].Parent
		}
		if out[i].Name != out[j].Name {
			return out[i].Name < out[j].Name
		}
		return out[i].Child < out[j].Child
	})
	return out
}

func containsAction(actions []record.Action, a record.Action) bool {
	for _, x := range actions {
		if x == a {
			return true
		}
	}
	return false
}
