package record

import (
	"fmt"
	"strings"
)

// Action is the lifecycle verb carried in the suffix of an event name.
type Action string

const (
	ActionCreated  Action = "created"
	ActionUpdated  Action = "updated"
	ActionDeleted  Action = "deleted"
	ActionAttached Action = "attached"
	ActionDetached Action = "detached"
)

// EntityActions are the actions valid for entity listeners.
var EntityActions = []Action{ActionCreated, ActionUpdated, ActionDeleted}

// LinkActions are the actions valid for link listeners.
var LinkActions = []Action{ActionAttached, ActionDetached}

// ParseAction extracts the action from an event name such as "variant.created".
// Returns false if the name has no recognized suffix.
func ParseAction(name string) (Action, bool) {
	idx := strings.LastIndexByte(name, '.')
	if idx < 0 || idx == len(name)-1 {
		return "", false
	}
	a := Action(name[idx+1:])
	switch a {
	case ActionCreated, ActionUpdated, ActionDeleted, ActionAttached, ActionDetached:
		return a, true
	default:
		return "", false
	}
}

// Resolves reports whether events with this action fetch the canonical
// entity state from the remote resolver before writing.
func (a Action) Resolves() bool {
	return a == ActionCreated || a == ActionUpdated || a == ActionAttached
}

// Event is a named domain change notification.
//
// Data carries at least the changed entity's identifier and optionally
// stubs of related entities already known to the emitter.
type Event struct {
	Name string `json:"name" yaml:"name"`
	Data Data   `json:"data" yaml:"data"`
}

// PayloadID returns the identifier carried in the event payload.
func (e Event) PayloadID() string {
	return e.Data.ID()
}

// Key identifies one snapshot.
type Key struct {
	Type string `json:"type"`
	ID   string `json:"id"`
}

// String renders the key as "Type:id".
func (k Key) String() string {
	return fmt.Sprintf("%s:%s", k.Type, k.ID)
}

// Snapshot is the last known projection of one domain entity.
type Snapshot struct {
	ID   string `json:"id"`
	Type string `json:"type"`
	Data Data   `json:"data"`

	// Seq is the logical clock value of the last write.
	Seq int64 `json:"seq"`

	// Hash is the content hash of the canonical Data encoding.
	Hash string `json:"hash,omitempty"`
}

// Key returns the snapshot's identity.
func (s Snapshot) Key() Key {
	return Key{Type: s.Type, ID: s.ID}
}

// Edge is a directed parent -> child link between two snapshots.
// ID is system generated and plays no part in identity; the endpoint tuple is unique.
type Edge struct {
	ID         string `json:"id"`
	ParentID   string `json:"parent_id"`
	ParentType string `json:"parent_type"`
	ChildID    string `json:"child_id"`
	ChildType  string `json:"child_type"`

	// Seq is the logical clock value at creation; children are read back in this order.
	Seq int64 `json:"seq"`
}

// Parent returns the parent endpoint key.
func (e Edge) Parent() Key {
	return Key{Type: e.ParentType, ID: e.ParentID}
}

// Child returns the child endpoint key.
func (e Edge) Child() Key {
	return Key{Type: e.ChildType, ID: e.ChildID}
}

// String renders the edge as "Parent:p1 -> Child:c1".
func (e Edge) String() string {
	return e.Parent().String() + " -> " + e.Child().String()
}
