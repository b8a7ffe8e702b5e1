package queryir

import (
	"errors"
	"fmt"
)

// QueryShapeError reports a request that does not fit the schema registry:
// an unknown entity type, an undeclared relation, a malformed predicate.
//
// Path locates the offending node in the request (e.g.
// "select.Product.variants.colors").
type QueryShapeError struct {
	Path    string
	Message string
}

func (e *QueryShapeError) Error() string {
	if e.Path == "" {
		return "query shape: " + e.Message
	}
	return fmt.Sprintf("query shape: %s: %s", e.Path, e.Message)
}

func shapeErrorf(path, format string, args ...any) *QueryShapeError {
	return &QueryShapeError{Path: path, Message: fmt.Sprintf(format, args...)}
}

// IsQueryShapeError reports whether err is or wraps a QueryShapeError.
func IsQueryShapeError(err error) bool {
	var qe *QueryShapeError
	return errors.As(err, &qe)
}
