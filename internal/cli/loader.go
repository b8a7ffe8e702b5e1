package cli

import (
	"errors"
	"fmt"
	"strings"

	"cuelang.org/go/cue/token"

	"github.com/roach88/catalog/internal/compiler"
	"github.com/roach88/catalog/internal/registry"
)

// Error code constants - unified across all CLI commands.
const (
	ErrCodeGeneric       = "E001" // Generic/unknown error
	ErrCodeCompileFailed = "E002" // Declaration did not compile
	ErrCodeNoFiles       = "E003" // No CUE files found
	ErrCodeLoadFailed    = "E004" // CUE load failed
	ErrCodeNotFound      = "E005" // Path or entity not found
	ErrCodeBuildFailed   = "E006" // CUE build failed
	ErrCodeWriteFailed   = "E007" // File write error
	ErrCodeInvalidInput  = "E008" // Events, request or fixture file unreadable
	ErrCodeStore         = "E009" // Database could not be opened or read

	ErrCodeQueryShape = "E301" // Query does not fit the registry
	ErrCodeSyncFailed = "E401" // One or more events failed to sync
	ErrCodeTestFailed = "E_TEST_FAILED"
)

// LoadError represents an error that occurred while loading a registry
// directory. Message already carries the source location when there is
// one; Pos is kept for structured output.
type LoadError struct {
	Code    string
	Message string
	Pos     token.Pos // CUE position if available
}

func (e *LoadError) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Line returns the 1-based source line, or 0 when unknown.
func (e *LoadError) Line() int {
	if e.Pos.IsValid() {
		return e.Pos.Line()
	}
	return 0
}

// LoadRegistry loads, compiles and validates the declarations in dir.
// Every failure is a *LoadError; validation failures carry the code of
// the first validation error and list all of them in the message.
func LoadRegistry(dir string) (*registry.Registry, error) {
	_, schema, err := loadSchema(dir)
	if err != nil {
		return nil, err
	}

	if verrs := compiler.Validate(schema); len(verrs) > 0 {
		msgs := make([]string, len(verrs))
		for i, ve := range verrs {
			msgs[i] = ve.Error()
		}
		return nil, &LoadError{
			Code:    verrs[0].Code,
			Message: "invalid registry: " + strings.Join(msgs, "; "),
		}
	}

	reg, err := schema.Registry()
	if err != nil {
		return nil, &LoadError{Code: ErrCodeGeneric, Message: err.Error()}
	}
	return reg, nil
}

// loadSchema loads and compiles dir without validating it.
func loadSchema(dir string) (*compiler.Source, *compiler.Schema, error) {
	src, err := compiler.LoadDir(dir)
	if err != nil {
		return nil, nil, newLoadError(err)
	}
	schema, err := compiler.Compile(src.Value)
	if err != nil {
		return src, nil, newLoadError(err)
	}
	return src, schema, nil
}

func newLoadError(err error) *LoadError {
	le := &LoadError{Code: loadErrorCode(err), Message: err.Error()}
	var ce *compiler.CompileError
	if errors.As(err, &ce) {
		le.Pos = ce.Pos
	}
	return le
}

func loadErrorCode(err error) string {
	var ce *compiler.CompileError
	switch {
	case errors.Is(err, compiler.ErrDirNotFound):
		return ErrCodeNotFound
	case errors.Is(err, compiler.ErrNoCUEFiles):
		return ErrCodeNoFiles
	case errors.Is(err, compiler.ErrLoadFailed):
		return ErrCodeLoadFailed
	case errors.Is(err, compiler.ErrBuildFailed):
		return ErrCodeBuildFailed
	case errors.As(err, &ce):
		return ErrCodeCompileFailed
	default:
		return ErrCodeGeneric
	}
}
