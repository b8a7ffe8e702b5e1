package harness

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"gopkg.in/yaml.v3"

	"github.com/roach88/catalog/internal/queryir"
	"github.com/roach88/catalog/internal/record"
	"github.com/roach88/catalog/internal/resolver"
)

// Scenario defines a conformance test scenario.
// A scenario seeds the resolver, feeds event batches to the sync engine,
// then checks the resulting store and the answers of graph queries.
type Scenario struct {
	// Name uniquely identifies this scenario. Golden files are named after it.
	Name string `yaml:"name"`

	// Description explains what this scenario validates.
	Description string `yaml:"description"`

	// Registry is the directory of CUE declarations to load.
	// Relative paths are resolved against the scenario file.
	Registry string `yaml:"registry"`

	// Fixtures seed the static resolver before the first step.
	Fixtures resolver.Fixtures `yaml:"fixtures,omitempty"`

	// Steps are applied in order; each one is a single batch.
	Steps []Step `yaml:"steps"`

	// Queries run against the final state.
	Queries []QueryCase `yaml:"queries,omitempty"`

	// Assertions validate the final state.
	// Supported types: snapshot_count, snapshot, snapshot_absent,
	// edge_count, edge_exists, edge_absent.
	Assertions []Assertion `yaml:"assertions,omitempty"`
}

// Step changes what the resolver answers, then processes one event batch.
type Step struct {
	// Fixtures are set (or replaced) before the batch runs.
	Fixtures resolver.Fixtures `yaml:"fixtures,omitempty"`

	// Remove makes the resolver forget these records before the batch runs.
	Remove []record.Key `yaml:"remove,omitempty"`

	// Events is the batch handed to the sync engine.
	Events []record.Event `yaml:"events"`

	// Expect checks counters of the batch report, keyed by their JSON
	// names (processed, failed, edges, ...). Unlisted counters are not checked.
	Expect map[string]int `yaml:"expect,omitempty"`
}

// QueryCase is a graph query and its expected answer.
type QueryCase struct {
	Name    string             `yaml:"name"`
	Request queryir.RawRequest `yaml:",inline"`
	Expect  *QueryExpect       `yaml:"expect,omitempty"`
}

// QueryExpect is the expected query result.
//
// Rows use subset semantics: every key listed must be present and equal,
// unlisted keys are ignored. Lists (the rows themselves and nested
// relations) must match in length and order.
type QueryExpect struct {
	Count *int             `yaml:"count,omitempty"`
	Rows  []map[string]any `yaml:"rows,omitempty"`
	Error string           `yaml:"error,omitempty"`
}

// Assertion validates the final store state.
type Assertion struct {
	// Type selects the check; see the Assert* constants.
	Type string `yaml:"type"`

	// Entity and ID name a snapshot (snapshot, snapshot_absent).
	// snapshot_count counts Entity, or every snapshot when Entity is empty.
	Entity string `yaml:"entity,omitempty"`
	ID     string `yaml:"id,omitempty"`

	// Expect is a subset of the snapshot data (snapshot).
	Expect map[string]any `yaml:"expect,omitempty"`

	// Parent and Child name an edge (edge_exists, edge_absent) or narrow
	// edge_count to the edges of one endpoint.
	Parent *record.Key `yaml:"parent,omitempty"`
	Child  *record.Key `yaml:"child,omitempty"`

	// Count is the expected number (snapshot_count, edge_count).
	Count *int `yaml:"count,omitempty"`
}

// Assertion type constants.
const (
	AssertSnapshotCount  = "snapshot_count"
	AssertSnapshot       = "snapshot"
	AssertSnapshotAbsent = "snapshot_absent"
	AssertEdgeCount      = "edge_count"
	AssertEdgeExists     = "edge_exists"
	AssertEdgeAbsent     = "edge_absent"
)

// reportCounters are the BatchReport fields a step may expect.
var reportCounters = map[string]bool{
	"processed":     true,
	"ignored":       true,
	"failed":        true,
	"snapshots":     true,
	"edges":         true,
	"edges_removed": true,
	"deleted":       true,
	"dangling":      true,
}

// LoadScenario reads and parses a scenario YAML file.
// Returns an error if the file doesn't exist, is malformed,
// contains unknown fields (typos), or is missing required fields.
// The registry path is resolved relative to the scenario file.
func LoadScenario(path string) (*Scenario, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read scenario file: %w", err)
	}

	// Strict field validation catches typos like "assertion:" vs "assertions:"
	var scenario Scenario
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true)
	if err := decoder.Decode(&scenario); err != nil {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}

	if scenario.Registry != "" && !filepath.IsAbs(scenario.Registry) {
		scenario.Registry = filepath.Join(filepath.Dir(path), scenario.Registry)
	}

	if err := validateScenario(&scenario); err != nil {
		return nil, fmt.Errorf("invalid scenario %s: %w", path, err)
	}

	return &scenario, nil
}

// validateScenario checks that required fields are present and valid.
func validateScenario(s *Scenario) error {
	if s.Name == "" {
		return fmt.Errorf("name is required")
	}

	if s.Description == "" {
		return fmt.Errorf("description is required")
	}

	if s.Registry == "" {
		return fmt.Errorf("registry is required")
	}

	if len(s.Steps) == 0 {
		return fmt.Errorf("steps list is required and must be non-empty")
	}

	if len(s.Assertions) == 0 && len(s.Queries) == 0 {
		return fmt.Errorf("at least one assertion or query is required")
	}

	for i, step := range s.Steps {
		if len(step.Events) == 0 {
			return fmt.Errorf("steps[%d]: events list is required", i)
		}
		for j, ev := range step.Events {
			if ev.Name == "" {
				return fmt.Errorf("steps[%d].events[%d]: name is required", i, j)
			}
		}
		for j, key := range step.Remove {
			if key.Type == "" || key.ID == "" {
				return fmt.Errorf("steps[%d].remove[%d]: type and id are required", i, j)
			}
		}
		for _, name := range sortedKeys(step.Expect) {
			if !reportCounters[name] {
				return fmt.Errorf("steps[%d].expect: unknown counter %q", i, name)
			}
		}
	}

	seen := make(map[string]bool)
	for i, q := range s.Queries {
		if q.Name == "" {
			return fmt.Errorf("queries[%d]: name is required", i)
		}
		if seen[q.Name] {
			return fmt.Errorf("queries[%d]: duplicate name %q", i, q.Name)
		}
		seen[q.Name] = true
		if len(q.Request.Select) == 0 {
			return fmt.Errorf("queries[%d]: select is required", i)
		}
	}

	for i := range s.Assertions {
		if err := validateAssertion(i, &s.Assertions[i]); err != nil {
			return err
		}
	}

	return nil
}

// validateAssertion validates a single assertion based on its type.
func validateAssertion(index int, a *Assertion) error {
	if a.Type == "" {
		return fmt.Errorf("assertions[%d]: type is required", index)
	}

	switch a.Type {
	case AssertSnapshotCount:
		if a.Count == nil || *a.Count < 0 {
			return fmt.Errorf("assertions[%d]: non-negative count is required for snapshot_count", index)
		}
	case AssertSnapshot, AssertSnapshotAbsent:
		if a.Entity == "" || a.ID == "" {
			return fmt.Errorf("assertions[%d]: entity and id are required for %s", index, a.Type)
		}
	case AssertEdgeCount:
		if a.Count == nil || *a.Count < 0 {
			return fmt.Errorf("assertions[%d]: non-negative count is required for edge_count", index)
		}
	case AssertEdgeExists, AssertEdgeAbsent:
		if a.Parent == nil || a.Child == nil {
			return fmt.Errorf("assertions[%d]: parent and child are required for %s", index, a.Type)
		}
	default:
		return fmt.Errorf("assertions[%d]: unknown assertion type %q", index, a.Type)
	}

	return nil
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
