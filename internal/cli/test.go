package cli

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"github.com/roach88/catalog/internal/harness"
)

// TestOptions holds flags for the test command.
type TestOptions struct {
	*RootOptions
	Update bool   // regenerate golden files
	Filter string // scenario filter (glob pattern)
}

// ScenarioResult holds the result of a single scenario execution.
type ScenarioResult struct {
	Name   string   `json:"name"`
	Path   string   `json:"path"`
	Pass   bool     `json:"pass"`
	Errors []string `json:"errors,omitempty"`
}

// TestResult holds the overall test result.
type TestResult struct {
	Scenarios []ScenarioResult `json:"scenarios"`
	Passed    int              `json:"passed"`
	Failed    int              `json:"failed"`
	Total     int              `json:"total"`
}

// NewTestCommand creates the test command.
func NewTestCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &TestOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "test <scenario-file|dir>...",
		Short: "Run conformance scenarios",
		Long: `Run YAML conformance scenarios against an in-memory catalog.

Each scenario names its registry directory, seeds a static resolver,
applies batches of events and checks batch reports, query answers and
the final store contents. When golden/<scenario>.golden exists next to a
scenario file, the rendered final state must match it byte for byte.

Exit codes:
  0 - All scenarios passed
  1 - One or more scenarios failed
  2 - Command error (invalid paths, etc.)

Examples:
  catalog test ./scenarios
  catalog test ./scenarios --filter "scenario_d_*"
  catalog test ./scenarios --update
  catalog test ./scenarios/create.yaml --format json`,
		Args:          cobra.MinimumNArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runTests(opts, args, cmd)
		},
	}

	cmd.Flags().BoolVar(&opts.Update, "update", false, "regenerate golden files")
	cmd.Flags().StringVar(&opts.Filter, "filter", "", "filter scenarios by glob pattern")

	return cmd
}

func runTests(opts *TestOptions, paths []string, cmd *cobra.Command) error {
	w := cmd.OutOrStdout()

	files, err := harness.FindScenarios(paths)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to find scenarios", err)
	}
	files, err = filterScenarios(files, opts.Filter)
	if err != nil {
		return WrapExitError(ExitCommandError, "invalid filter pattern", err)
	}

	if len(files) == 0 {
		if opts.Format == "json" {
			return outputTestJSON(cmd, TestResult{Scenarios: []ScenarioResult{}})
		}
		fmt.Fprintln(w, "No scenarios found.")
		return nil
	}

	var runOpts []harness.Option
	if opts.Verbose {
		runOpts = append(runOpts, harness.WithLogger(opts.Logger()))
	}

	ran := make(map[string]ScenarioResult, len(files))
	suite := harness.RunSuite(files, func(path string, s *harness.Scenario, r *harness.Result) {
		checkGolden(opts, path, s, r)
		ran[path] = ScenarioResult{Name: s.Name, Path: path, Pass: r.Pass, Errors: r.Errors}
	}, runOpts...)

	// Scenarios that failed to load or run never reach the callback.
	for _, f := range suite.Failures {
		if _, ok := ran[f.ScenarioPath]; !ok {
			name := f.Name
			if name == "" {
				name = filepath.Base(f.ScenarioPath)
			}
			ran[f.ScenarioPath] = ScenarioResult{Name: name, Path: f.ScenarioPath, Errors: f.Errors}
		}
	}

	result := TestResult{
		Scenarios: make([]ScenarioResult, 0, len(files)),
		Passed:    suite.Passed,
		Failed:    suite.Failed,
		Total:     suite.Total,
	}
	for _, path := range files {
		sr := ran[path]
		result.Scenarios = append(result.Scenarios, sr)
		if opts.Format != "json" {
			printScenario(cmd, opts, sr)
		}
	}

	if opts.Format == "json" {
		return outputTestJSON(cmd, result)
	}
	return outputTestText(cmd, result)
}

// filterScenarios keeps the files whose base name, without extension,
// matches the glob pattern.
func filterScenarios(files []string, pattern string) ([]string, error) {
	if pattern == "" {
		return files, nil
	}
	var out []string
	for _, path := range files {
		base := filepath.Base(path)
		matched, err := filepath.Match(pattern, strings.TrimSuffix(base, filepath.Ext(base)))
		if err != nil {
			return nil, err
		}
		if matched {
			out = append(out, path)
		}
	}
	return out, nil
}

// checkGolden updates or compares the golden file of a scenario that ran.
// Mismatches and I/O failures are recorded on r as scenario failures.
func checkGolden(opts *TestOptions, path string, s *harness.Scenario, r *harness.Result) {
	snapshot := harness.StateSnapshot{ScenarioName: s.Name, Result: r}
	goldenPath := goldenFilePath(path)

	if opts.Update {
		if err := updateGoldenFile(&snapshot, goldenPath); err != nil {
			r.AddError(fmt.Sprintf("failed to update golden file: %v", err))
		}
		return
	}

	if _, err := os.Stat(goldenPath); os.IsNotExist(err) {
		return
	}
	match, err := compareWithGolden(&snapshot, goldenPath)
	if err != nil {
		r.AddError(fmt.Sprintf("golden comparison failed: %v", err))
		return
	}
	if !match {
		r.AddError(fmt.Sprintf("state does not match golden file %s (run with --update to regenerate)", goldenPath))
	}
}

// goldenFilePath returns the path to the golden file for a scenario.
func goldenFilePath(scenarioFile string) string {
	dir := filepath.Dir(scenarioFile)
	base := filepath.Base(scenarioFile)
	name := strings.TrimSuffix(base, filepath.Ext(base))
	return filepath.Join(dir, "golden", name+".golden")
}

// updateGoldenFile writes the rendered state as the golden file.
func updateGoldenFile(snapshot *harness.StateSnapshot, goldenPath string) error {
	if err := os.MkdirAll(filepath.Dir(goldenPath), 0o755); err != nil {
		return fmt.Errorf("failed to create golden directory: %w", err)
	}
	data, err := snapshot.Render()
	if err != nil {
		return fmt.Errorf("failed to render state: %w", err)
	}
	if err := os.WriteFile(goldenPath, data, 0o644); err != nil {
		return fmt.Errorf("failed to write golden file: %w", err)
	}
	return nil
}

// compareWithGolden compares the rendered state against the golden file.
func compareWithGolden(snapshot *harness.StateSnapshot, goldenPath string) (bool, error) {
	golden, err := os.ReadFile(goldenPath)
	if err != nil {
		return false, fmt.Errorf("failed to read golden file: %w", err)
	}
	current, err := snapshot.Render()
	if err != nil {
		return false, fmt.Errorf("failed to render state: %w", err)
	}
	return bytes.Equal(golden, current), nil
}

func printScenario(cmd *cobra.Command, opts *TestOptions, sr ScenarioResult) {
	w := cmd.OutOrStdout()
	if sr.Pass {
		if opts.Update {
			fmt.Fprintf(w, "✓ %s (golden updated)\n", sr.Name)
			return
		}
		fmt.Fprintf(w, "✓ %s\n", sr.Name)
		return
	}
	fmt.Fprintf(w, "✗ %s\n", sr.Name)
	for _, e := range sr.Errors {
		fmt.Fprintf(w, "  %s\n", e)
	}
}

// outputTestJSON outputs the test result as JSON.
func outputTestJSON(cmd *cobra.Command, result TestResult) error {
	formatter := &OutputFormatter{Format: "json", Writer: cmd.OutOrStdout()}

	if result.Failed > 0 {
		msg := fmt.Sprintf("%d scenario(s) failed", result.Failed)
		if err := formatter.Failure(ErrCodeTestFailed, msg, result); err != nil {
			return err
		}
		return NewExitError(ExitFailure, msg)
	}
	return formatter.Success(result)
}

// outputTestText outputs the test summary as text.
func outputTestText(cmd *cobra.Command, result TestResult) error {
	w := cmd.OutOrStdout()

	fmt.Fprintln(w)
	fmt.Fprintf(w, "Test Summary: %d passed, %d failed, %d total\n", result.Passed, result.Failed, result.Total)

	if result.Failed > 0 {
		return NewExitError(ExitFailure, fmt.Sprintf("%d scenario(s) failed", result.Failed))
	}

	fmt.Fprintln(w, "✓ All scenarios passed")
	return nil
}
