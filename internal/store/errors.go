package store

import "errors"

var (
	// ErrNotFound is returned when a snapshot doesn't exist.
	ErrNotFound = errors.New("store: snapshot not found")

	// ErrDanglingEdge is returned when an edge is written while one of its
	// endpoints has no snapshot.
	ErrDanglingEdge = errors.New("store: edge endpoint missing")
)
