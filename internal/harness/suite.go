package harness

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

// ScenarioNotFoundError is returned when a scenario path doesn't exist.
type ScenarioNotFoundError struct {
	Path string
}

// Error implements the error interface.
func (e *ScenarioNotFoundError) Error() string {
	return fmt.Sprintf("scenario path %q does not exist", e.Path)
}

// FindScenarios expands paths into scenario files. A directory contributes
// its *.yaml and *.yml files (not recursively), sorted; a file is taken as is.
func FindScenarios(paths []string) ([]string, error) {
	var out []string
	for _, p := range paths {
		info, err := os.Stat(p)
		if os.IsNotExist(err) {
			return nil, &ScenarioNotFoundError{Path: p}
		}
		if err != nil {
			return nil, err
		}
		if !info.IsDir() {
			out = append(out, p)
			continue
		}

		entries, err := os.ReadDir(p)
		if err != nil {
			return nil, err
		}
		var found []string
		for _, e := range entries {
			ext := strings.ToLower(filepath.Ext(e.Name()))
			if !e.IsDir() && (ext == ".yaml" || ext == ".yml") {
				found = append(found, filepath.Join(p, e.Name()))
			}
		}
		sort.Strings(found)
		out = append(out, found...)
	}
	return out, nil
}

// SuiteResult summarizes a run over several scenario files.
type SuiteResult struct {
	Total    int               `json:"total"`
	Passed   int               `json:"passed"`
	Failed   int               `json:"failed"`
	Failures []ScenarioFailure `json:"failures,omitempty"`
}

// ScenarioFailure represents one scenario that failed to load, run or pass.
type ScenarioFailure struct {
	Name         string   `json:"name,omitempty"`
	ScenarioPath string   `json:"scenario_path"`
	Errors       []string `json:"errors"`
}

// RunSuite loads and runs every scenario file. onResult, when non-nil, is
// called after each scenario that ran, in file order.
func RunSuite(files []string, onResult func(path string, s *Scenario, r *Result), opts ...Option) *SuiteResult {
	suite := &SuiteResult{}

	for _, path := range files {
		suite.Total++

		scenario, err := LoadScenario(path)
		if err != nil {
			suite.fail(path, "", fmt.Sprintf("failed to load scenario: %v", err))
			continue
		}

		result, err := Run(scenario, opts...)
		if err != nil {
			suite.fail(path, scenario.Name, fmt.Sprintf("scenario execution failed: %v", err))
			continue
		}
		if onResult != nil {
			onResult(path, scenario, result)
		}

		if !result.Pass {
			suite.fail(path, scenario.Name, result.Errors...)
			continue
		}
		suite.Passed++
	}

	return suite
}

func (s *SuiteResult) fail(path, name string, errs ...string) {
	s.Failed++
	s.Failures = append(s.Failures, ScenarioFailure{Name: name, ScenarioPath: path, Errors: errs})
}
