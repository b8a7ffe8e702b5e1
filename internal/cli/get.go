package cli

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/roach88/catalog/internal/record"
	"github.com/roach88/catalog/internal/store"
)

// GetOptions holds flags for the get command.
type GetOptions struct {
	*RootOptions
	StoreFlags
}

// GetResult is one snapshot with the edges touching it.
type GetResult struct {
	Snapshot record.Snapshot `json:"snapshot"`
	Parents  []record.Edge   `json:"parents"`  // edges where the snapshot is the child
	Children []record.Edge   `json:"children"` // edges where the snapshot is the parent
}

// NewGetCommand creates the get command.
func NewGetCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &GetOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "get <type> <id>",
		Short: "Inspect one stored snapshot and its edges",
		Long: `Print the stored snapshot of one entity together with every edge that
touches it, in creation order.

Examples:
  catalog get --db ./catalog.db Product prod_1
  catalog get --db ./catalog.db ProductVariant var_1 --format json`,
		Args:          cobra.ExactArgs(2),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runGet(opts, record.Key{Type: args[0], ID: args[1]}, cmd)
		},
	}

	opts.StoreFlags.register(cmd)

	return cmd
}

func runGet(opts *GetOptions, key record.Key, cmd *cobra.Command) error {
	formatter := newFormatter(opts.RootOptions, cmd)
	ctx := commandContext(cmd)

	st, err := opts.StoreFlags.Open()
	if err != nil {
		return formatter.fail(ExitCommandError, ErrCodeStore, "failed to open database", err)
	}
	defer st.Close()

	snap, err := st.ReadSnapshot(ctx, key)
	if errors.Is(err, store.ErrNotFound) {
		return formatter.fail(ExitFailure, ErrCodeNotFound, fmt.Sprintf("no snapshot for %s", key), nil)
	}
	if err != nil {
		return formatter.fail(ExitCommandError, ErrCodeStore, "failed to read snapshot", err)
	}

	edges, err := st.EdgesOf(ctx, key)
	if err != nil {
		return formatter.fail(ExitCommandError, ErrCodeStore, "failed to read edges", err)
	}

	result := GetResult{Snapshot: snap, Parents: []record.Edge{}, Children: []record.Edge{}}
	for _, e := range edges {
		if e.Parent() == key {
			result.Children = append(result.Children, e)
		} else {
			result.Parents = append(result.Parents, e)
		}
	}

	if formatter.JSON() {
		return formatter.Success(result)
	}
	return outputGetText(formatter, result)
}

func outputGetText(formatter *OutputFormatter, result GetResult) error {
	w := formatter.Writer
	snap := result.Snapshot

	fmt.Fprintf(w, "%s (seq %d)\n", snap.Key(), snap.Seq)
	if formatter.Verbose {
		fmt.Fprintf(w, "hash: %s\n", snap.Hash)
	}

	data, err := renderJSON(snap.Data)
	if err != nil {
		return err
	}
	if _, err := w.Write(data); err != nil {
		return err
	}

	fmt.Fprintf(w, "\nParents (%d):\n", len(result.Parents))
	for _, e := range result.Parents {
		fmt.Fprintf(w, "  [%d] %s\n", e.Seq, e.Parent())
	}
	fmt.Fprintf(w, "Children (%d):\n", len(result.Children))
	for _, e := range result.Children {
		fmt.Fprintf(w, "  [%d] %s\n", e.Seq, e.Child())
	}
	return nil
}
