package registry

import "errors"

var (
	// ErrDuplicateEntity is returned when an entity name is declared twice.
	ErrDuplicateEntity = errors.New("registry: duplicate entity")

	// ErrDuplicateAlias is returned when two declarations share a resolver alias.
	ErrDuplicateAlias = errors.New("registry: duplicate alias")

	// ErrDuplicateLink is returned when a link name is declared twice.
	ErrDuplicateLink = errors.New("registry: duplicate link")

	// ErrDuplicateListener is returned when an event name is bound twice.
	ErrDuplicateListener = errors.New("registry: event already bound")

	// ErrDuplicateRelation is returned when a relation name is reused on a
	// parent for a different child.
	ErrDuplicateRelation = errors.New("registry: duplicate relation")

	// ErrAmbiguousRelation is returned when a parent reaches the same child
	// type through two differently named relations.
	ErrAmbiguousRelation = errors.New("registry: ambiguous relation")

	// ErrInvalidListener is returned when an event name has no valid action suffix
	// for the kind of declaration it is attached to.
	ErrInvalidListener = errors.New("registry: invalid listener")
)
