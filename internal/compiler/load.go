package compiler

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	"cuelang.org/go/cue/load"

	"github.com/roach88/catalog/internal/registry"
)

// Load failures. Errors returned by LoadDir wrap exactly one of these.
var (
	ErrDirNotFound = errors.New("registry directory not found")
	ErrNoCUEFiles  = errors.New("no CUE files found")
	ErrLoadFailed  = errors.New("loading CUE files")
	ErrBuildFailed = errors.New("building CUE value")
)

// Source is a registry directory loaded into a single CUE value.
type Source struct {
	Dir   string
	Files []string
	Value cue.Value
}

// LoadDir loads every .cue file of dir as one CUE instance.
func LoadDir(dir string) (*Source, error) {
	info, err := os.Stat(dir)
	if err != nil {
		return nil, fmt.Errorf("%w: %s", ErrDirNotFound, dir)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("%w: not a directory: %s", ErrDirNotFound, dir)
	}

	files, err := FindCUEFiles(dir)
	if err != nil {
		return nil, fmt.Errorf("%w: scanning %s: %v", ErrLoadFailed, dir, err)
	}
	if len(files) == 0 {
		return nil, fmt.Errorf("%w in %s", ErrNoCUEFiles, dir)
	}

	instances := load.Instances([]string{"."}, &load.Config{Dir: dir})
	if len(instances) == 0 {
		return nil, fmt.Errorf("%w: no instances in %s", ErrLoadFailed, dir)
	}
	if err := instances[0].Err; err != nil {
		return nil, fmt.Errorf("%w: %v", ErrLoadFailed, err)
	}

	value := cuecontext.New().BuildInstance(instances[0])
	if err := value.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrBuildFailed, formatCUEError(err))
	}

	return &Source{Dir: dir, Files: files, Value: value}, nil
}

// FindCUEFiles returns the .cue files directly inside dir, sorted.
// Subdirectories are not part of the instance and are skipped.
func FindCUEFiles(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}
	var files []string
	for _, e := range entries {
		if e.Type().IsRegular() && filepath.Ext(e.Name()) == ".cue" {
			files = append(files, filepath.Join(dir, e.Name()))
		}
	}
	sort.Strings(files)
	return files, nil
}

// LoadRegistry loads, compiles and validates the declarations in dir.
// Validation errors are joined into the returned error.
func LoadRegistry(dir string) (*registry.Registry, error) {
	src, err := LoadDir(dir)
	if err != nil {
		return nil, err
	}
	schema, err := Compile(src.Value)
	if err != nil {
		return nil, err
	}
	if verrs := Validate(schema); len(verrs) > 0 {
		errs := make([]error, len(verrs))
		for i, ve := range verrs {
			errs[i] = ve
		}
		return nil, fmt.Errorf("invalid registry %s: %w", dir, errors.Join(errs...))
	}
	return schema.Registry()
}
