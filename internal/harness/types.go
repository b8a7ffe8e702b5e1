package harness

import (
	"github.com/roach88/catalog/internal/engine"
	"github.com/roach88/catalog/internal/query"
	"github.com/roach88/catalog/internal/record"
)

// QueryOutcome is what one scenario query returned.
type QueryOutcome struct {
	Name   string        `json:"name"`
	Result *query.Result `json:"result,omitempty"`
	Error  string        `json:"error,omitempty"`
}

// Result is the outcome of a test scenario execution.
type Result struct {
	// Pass indicates overall test success.
	// True if every step expectation, query and assertion matched.
	Pass bool `json:"pass"`

	// Steps holds the batch report of every step, in order.
	Steps []engine.BatchReport `json:"steps"`

	// Queries holds the answer of every scenario query, in order.
	Queries []QueryOutcome `json:"queries,omitempty"`

	// Snapshots and Edges are the final store contents: snapshots grouped
	// by type in registry order then by id, edges in creation order.
	Snapshots []record.Snapshot `json:"snapshots"`
	Edges     []record.Edge     `json:"edges"`

	// Errors contains failure messages.
	// Empty if Pass is true.
	Errors []string `json:"errors,omitempty"`
}

// NewResult creates a new passing result.
// Used as the starting point for test execution.
func NewResult() *Result {
	return &Result{
		Pass:      true,
		Steps:     []engine.BatchReport{},
		Snapshots: []record.Snapshot{},
		Edges:     []record.Edge{},
		Errors:    []string{},
	}
}

// AddError adds a validation error and marks the result as failed.
func (r *Result) AddError(err string) {
	r.Errors = append(r.Errors, err)
	r.Pass = false
}
