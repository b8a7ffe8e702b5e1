package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/roach88/catalog/internal/engine"
	"github.com/roach88/catalog/internal/record"
)

// SyncOptions holds flags for the sync command.
type SyncOptions struct {
	*RootOptions
	StoreFlags
	ResolverFlags
	EngineFlags
	Registry string
}

// eventsDoc is the object form of an events file.
type eventsDoc struct {
	Events []record.Event `yaml:"events"`
}

// NewSyncCommand creates the sync command.
func NewSyncCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &SyncOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "sync <events-file>",
		Short: "Apply a batch of change events",
		Long: `Apply a batch of change events to the catalog database.

The events file is YAML or JSON: either a list of events or an object
with an "events" list. Use "-" to read from stdin.

  - name: product.created
    data: { id: prod_1 }

Every affected entity is fetched from the resolver before it is written.
Unknown event names are ignored; failures are reported per event and do
not stop the batch.

Exit codes:
  0 - Every event applied
  1 - One or more events failed
  2 - Command error (registry, database or events file)

Examples:
  catalog sync --db ./catalog.db --registry ./registry --fixtures fixtures.yaml events.yaml
  catalog sync --postgres "$DSN" --registry ./registry --resolver-url http://remote/resolve -`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSync(opts, args[0], cmd)
		},
	}

	opts.StoreFlags.register(cmd)
	opts.ResolverFlags.register(cmd)
	opts.EngineFlags.register(cmd)
	registerRegistryFlag(cmd, &opts.Registry)

	return cmd
}

func runSync(opts *SyncOptions, eventsPath string, cmd *cobra.Command) error {
	formatter := newFormatter(opts.RootOptions, cmd)
	logger := opts.Logger()
	ctx := commandContext(cmd)

	if opts.Registry == "" {
		return formatter.fail(ExitCommandError, ErrCodeGeneric, "--registry is required", nil)
	}
	reg, err := LoadRegistry(opts.Registry)
	if err != nil {
		return failLoad(formatter, err)
	}

	events, err := readEvents(cmd, eventsPath)
	if err != nil {
		return formatter.fail(ExitCommandError, ErrCodeInvalidInput, "failed to read events", err)
	}
	formatter.VerboseLog("Read %d event(s) from %s", len(events), eventsPath)

	res, err := opts.ResolverFlags.Build(logger)
	if err != nil {
		return formatter.fail(ExitCommandError, ErrCodeInvalidInput, "failed to configure resolver", err)
	}

	st, err := opts.StoreFlags.Open()
	if err != nil {
		return formatter.fail(ExitCommandError, ErrCodeStore, "failed to open database", err)
	}
	defer func() {
		if closeErr := st.Close(); closeErr != nil {
			logger.Error("error closing database", "error", closeErr)
		}
	}()

	eng, err := engine.New(ctx, st, reg, res, opts.EngineFlags.options(logger, opts.ResolverFlags.Timeout)...)
	if err != nil {
		return formatter.fail(ExitCommandError, ErrCodeStore, "failed to start engine", err)
	}

	report := eng.ProcessBatch(ctx, events)
	return outputSyncReport(formatter, len(events), report)
}

func outputSyncReport(formatter *OutputFormatter, total int, report engine.BatchReport) error {
	var exitErr error
	if report.Failed > 0 {
		exitErr = NewExitError(ExitFailure, fmt.Sprintf("%d of %d event(s) failed", report.Failed, total))
	}

	if formatter.JSON() {
		if exitErr != nil {
			if err := formatter.Failure(ErrCodeSyncFailed, exitErr.Error(), report); err != nil {
				return err
			}
			return exitErr
		}
		return formatter.Success(report)
	}

	w := formatter.Writer
	mark := "✓"
	if exitErr != nil {
		mark = "✗"
	}
	fmt.Fprintf(w, "%s Synced %d event(s): %d processed, %d ignored, %d failed\n",
		mark, total, report.Processed, report.Ignored, report.Failed)
	fmt.Fprintf(w, "  snapshots written: %d, deleted: %d\n", report.Snapshots, report.Deleted)
	fmt.Fprintf(w, "  edges written: %d, removed: %d, dangling: %d\n", report.Edges, report.EdgesRemoved, report.Dangling)
	if len(report.Errors) > 0 {
		fmt.Fprintln(w, "Errors:")
		for _, err := range report.Errors {
			fmt.Fprintf(w, "  %v\n", err)
		}
	}
	return exitErr
}

// readEvents decodes an events file (YAML or JSON) and normalizes every
// payload to the JSON value set.
func readEvents(cmd *cobra.Command, path string) ([]record.Event, error) {
	raw, err := readInput(cmd, path)
	if err != nil {
		return nil, err
	}

	var doc yaml.Node
	if err := yaml.Unmarshal(raw, &doc); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	if len(doc.Content) == 0 {
		return nil, fmt.Errorf("%s: no events", path)
	}

	var events []record.Event
	root := doc.Content[0]
	switch root.Kind {
	case yaml.SequenceNode:
		err = root.Decode(&events)
	case yaml.MappingNode:
		var file eventsDoc
		err = root.Decode(&file)
		events = file.Events
	default:
		err = errors.New("expected a list of events or an object with an events list")
	}
	if err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	if len(events) == 0 {
		return nil, fmt.Errorf("%s: no events", path)
	}

	for i, ev := range events {
		if ev.Name == "" {
			return nil, fmt.Errorf("events[%d]: name is required", i)
		}
		data, err := record.Normalize(ev.Data)
		if err != nil {
			return nil, fmt.Errorf("events[%d]: %w", i, err)
		}
		events[i].Data = data
	}
	return events, nil
}

// readInput reads a file, or stdin when path is "-".
func readInput(cmd *cobra.Command, path string) ([]byte, error) {
	if path == "-" {
		return io.ReadAll(cmd.InOrStdin())
	}
	return os.ReadFile(path)
}

// failLoad reports a registry load failure as a command error.
func failLoad(formatter *OutputFormatter, err error) error {
	var loadErr *LoadError
	if errors.As(err, &loadErr) {
		return formatter.fail(ExitCommandError, loadErr.Code, "failed to load registry", loadErr)
	}
	return formatter.fail(ExitCommandError, ErrCodeGeneric, "failed to load registry", err)
}

func commandContext(cmd *cobra.Command) context.Context {
	if ctx := cmd.Context(); ctx != nil {
		return ctx
	}
	return context.Background()
}
