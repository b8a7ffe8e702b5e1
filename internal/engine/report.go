package engine

import (
	"encoding/json"
	"sort"
)

// BatchReport summarizes what ProcessBatch did.
type BatchReport struct {
	Processed    int `json:"processed"`     // events applied (possibly with skipped stubs)
	Ignored      int `json:"ignored"`       // unknown event names
	Failed       int `json:"failed"`        // events whose own entity or edge was skipped
	Snapshots    int `json:"snapshots"`     // snapshots inserted or changed
	Edges        int `json:"edges"`         // edges inserted
	EdgesRemoved int `json:"edges_removed"` // edges removed by detach or cascade
	Deleted      int `json:"deleted"`       // snapshots removed
	Dangling     int `json:"dangling"`      // edges refused for a missing endpoint

	// Errors lists every failure in event order, including non-fatal ones
	// such as unresolvable stubs.
	Errors []error `json:"-"`
}

// MarshalJSON renders Errors as strings.
func (r BatchReport) MarshalJSON() ([]byte, error) {
	type counts BatchReport
	msgs := make([]string, 0, len(r.Errors))
	for _, err := range r.Errors {
		msgs = append(msgs, err.Error())
	}
	return json.Marshal(struct {
		counts
		Errors []string `json:"errors"`
	}{counts(r), msgs})
}

// indexedError is an error tagged with the batch position of its event.
type indexedError struct {
	index int
	err   error
	fatal bool
}

// laneReport accumulates one lane's results.
type laneReport struct {
	BatchReport
	errs []indexedError
}

func (l *laneReport) add(index int, err error, fatal bool) {
	l.errs = append(l.errs, indexedError{index: index, err: err, fatal: fatal})
}

// mergeReports combines lane reports; errors are ordered by event position.
func mergeReports(base BatchReport, lanes []laneReport) (BatchReport, []indexedError) {
	var errs []indexedError
	for _, l := range lanes {
		base.Processed += l.Processed
		base.Ignored += l.Ignored
		base.Failed += l.Failed
		base.Snapshots += l.Snapshots
		base.Edges += l.Edges
		base.EdgesRemoved += l.EdgesRemoved
		base.Deleted += l.Deleted
		base.Dangling += l.Dangling
		errs = append(errs, l.errs...)
	}
	sort.SliceStable(errs, func(i, j int) bool { return errs[i].index < errs[j].index })
	for _, ie := range errs {
		base.Errors = append(base.Errors, ie.err)
	}
	return base, errs
}
