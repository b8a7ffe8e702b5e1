package resolver

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"sort"
	"sync"

	"gopkg.in/yaml.v3"

	"github.com/roach88/catalog/internal/record"
)

// Fixtures maps entity type -> requested id -> record.
//
// The record's own "id" may differ from the key it is stored under; the
// resolver then answers with a different identity than the one requested.
type Fixtures map[string]map[string]map[string]any

// fixtureFile is the on-disk YAML layout read by LoadFixtures.
type fixtureFile struct {
	Records Fixtures `yaml:"records"`
}

// Static is an in-memory Resolver backed by fixtures.
// Safe for concurrent use.
type Static struct {
	mu      sync.RWMutex
	records map[string]map[string]record.Data
}

// NewStatic creates an empty Static resolver.
func NewStatic() *Static {
	return &Static{records: make(map[string]map[string]record.Data)}
}

// Set stores the record returned for (entity, id). A record without an
// "id" field gets id filled in.
func (s *Static) Set(entity, id string, data map[string]any) error {
	d, err := record.Normalize(data)
	if err != nil {
		return fmt.Errorf("fixture %s:%s: %w", entity, id, err)
	}
	if d.ID() == "" {
		d["id"] = id
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.records[entity] == nil {
		s.records[entity] = make(map[string]record.Data)
	}
	s.records[entity][id] = d
	return nil
}

// Delete removes the record for (entity, id); later resolves return ErrNotFound.
func (s *Static) Delete(entity, id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.records[entity], id)
}

// Load stores every record of f.
func (s *Static) Load(f Fixtures) error {
	entities := make([]string, 0, len(f))
	for entity := range f {
		entities = append(entities, entity)
	}
	sort.Strings(entities)

	for _, entity := range entities {
		for id, data := range f[entity] {
			if err := s.Set(entity, id, data); err != nil {
				return err
			}
		}
	}
	return nil
}

// LoadFixtures reads a YAML fixture file:
//
//	records:
//	  Product:
//	    prod_1: { id: prod_1, title: Shirt }
func (s *Static) LoadFixtures(path string) error {
	raw, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read fixtures: %w", err)
	}

	var file fixtureFile
	dec := yaml.NewDecoder(bytes.NewReader(raw))
	dec.KnownFields(true)
	if err := dec.Decode(&file); err != nil {
		return fmt.Errorf("parse fixtures %s: %w", path, err)
	}

	return s.Load(file.Records)
}

// Len returns the number of stored records.
func (s *Static) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	n := 0
	for _, byID := range s.records {
		n += len(byID)
	}
	return n
}

// Resolve returns a copy of the stored record, narrowed to q.Fields.
// Records are looked up by entity type, then by alias.
func (s *Static) Resolve(ctx context.Context, q Query) (record.Data, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.RLock()
	d, ok := s.records[q.Entity][q.ID]
	if !ok && q.Alias != "" {
		d, ok = s.records[q.Alias][q.ID]
	}
	s.mu.RUnlock()

	if !ok {
		return nil, fmt.Errorf("%w: %s:%s", ErrNotFound, q.Entity, q.ID)
	}

	out, err := record.Normalize(d)
	if err != nil {
		return nil, err
	}
	if len(q.Fields) > 0 {
		out = out.Select(q.Fields)
	}
	return out, nil
}
