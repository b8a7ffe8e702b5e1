package harness

import (
	"bytes"
	"encoding/json"
	"testing"

	"github.com/sebdah/goldie/v2"

	"github.com/roach88/catalog/internal/record"
)

// StateSnapshot captures everything a scenario produced: step reports,
// query answers and the final store contents.
type StateSnapshot struct {
	ScenarioName string
	Result       *Result
}

// toCanonicalMap converts a StateSnapshot to a map[string]any for canonical
// JSON serialization. Typed values go through their JSON encoding first,
// since record.MarshalCanonical only handles the JSON value set.
func (s *StateSnapshot) toCanonicalMap() (map[string]any, error) {
	steps, err := plainJSON(s.Result.Steps)
	if err != nil {
		return nil, err
	}
	snapshots, err := plainJSON(s.Result.Snapshots)
	if err != nil {
		return nil, err
	}
	edges, err := plainJSON(s.Result.Edges)
	if err != nil {
		return nil, err
	}

	result := map[string]any{
		"scenario_name": s.ScenarioName,
		"steps":         steps,
		"snapshots":     snapshots,
		"edges":         edges,
	}
	if len(s.Result.Queries) > 0 {
		queries, err := plainJSON(s.Result.Queries)
		if err != nil {
			return nil, err
		}
		result["queries"] = queries
	}
	return result, nil
}

// Render returns the indented canonical JSON form of the snapshot. Equal
// scenario runs render byte-identical output.
func (s *StateSnapshot) Render() ([]byte, error) {
	m, err := s.toCanonicalMap()
	if err != nil {
		return nil, err
	}
	raw, err := record.MarshalCanonical(m)
	if err != nil {
		return nil, err
	}
	var buf bytes.Buffer
	if err := json.Indent(&buf, raw, "", "  "); err != nil {
		return nil, err
	}
	buf.WriteByte('\n')
	return buf.Bytes(), nil
}

// RunWithGolden executes a scenario and compares its state snapshot
// against a golden file stored in testdata/golden/{scenario.Name}.golden.
//
// To regenerate golden files, run:
//
//	go test ./internal/harness -update
//
// Returns error if scenario execution fails.
// Test failure (via goldie) occurs if the output doesn't match the golden file.
func RunWithGolden(t *testing.T, scenario *Scenario) (*Result, error) {
	t.Helper()

	result, err := Run(scenario)
	if err != nil {
		return nil, err
	}
	return result, AssertGolden(t, scenario.Name, result)
}

// AssertGolden compares an already computed result against a golden file
// without re-running the scenario.
func AssertGolden(t *testing.T, scenarioName string, result *Result) error {
	t.Helper()

	snapshot := StateSnapshot{ScenarioName: scenarioName, Result: result}
	out, err := snapshot.Render()
	if err != nil {
		return err
	}

	g := goldie.New(t,
		goldie.WithFixtureDir("testdata/golden"),
		goldie.WithNameSuffix(".golden"),
	)
	g.Assert(t, scenarioName, out)
	return nil
}

// plainJSON converts v to the plain JSON value set through encoding/json.
func plainJSON(v any) (any, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var out any
	if err := dec.Decode(&out); err != nil {
		return nil, err
	}
	return out, nil
}
