package cli

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/roach88/catalog/internal/query"
	"github.com/roach88/catalog/internal/queryir"
	"github.com/roach88/catalog/internal/record"
)

// QueryOptions holds flags for the query command.
type QueryOptions struct {
	*RootOptions
	StoreFlags
	Registry string
}

// NewQueryCommand creates the query command.
func NewQueryCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &QueryOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "query <request-file>",
		Short: "Read nested object trees",
		Long: `Run a selection query against the catalog database.

The request file is YAML or JSON ("-" reads stdin):

  select: { Product: { $fields: [title], variants: true } }
  where:  { title: { $like: "Shirt%" } }
  skip: 0
  take: 10

Exit codes:
  0 - Query answered
  2 - Invalid request, registry or database

Examples:
  catalog query --db ./catalog.db --registry ./registry request.yaml
  echo '{"select":{"Product":true}}' | catalog query --db ./catalog.db --registry ./registry -`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runQuery(opts, args[0], cmd)
		},
	}

	opts.StoreFlags.register(cmd)
	registerRegistryFlag(cmd, &opts.Registry)

	return cmd
}

func runQuery(opts *QueryOptions, requestPath string, cmd *cobra.Command) error {
	formatter := newFormatter(opts.RootOptions, cmd)
	logger := opts.Logger()

	if opts.Registry == "" {
		return formatter.fail(ExitCommandError, ErrCodeGeneric, "--registry is required", nil)
	}
	reg, err := LoadRegistry(opts.Registry)
	if err != nil {
		return failLoad(formatter, err)
	}

	req, err := readRequest(cmd, requestPath)
	if err != nil {
		return formatter.fail(ExitCommandError, ErrCodeInvalidInput, "failed to read request", err)
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

	result, err := query.New(st, reg, query.WithLogger(logger)).QueryRaw(commandContext(cmd), req)
	if err != nil {
		var shapeErr *queryir.QueryShapeError
		if errors.As(err, &shapeErr) {
			_ = formatter.Error(ErrCodeQueryShape, shapeErr.Message, map[string]string{"path": shapeErr.Path})
			return WrapExitError(ExitCommandError, ErrCodeQueryShape, err)
		}
		return formatter.fail(ExitCommandError, ErrCodeStore, "query failed", err)
	}

	if formatter.JSON() {
		return formatter.Success(result)
	}

	out, err := renderJSON(result.Rows)
	if err != nil {
		return err
	}
	w := formatter.Writer
	fmt.Fprintf(w, "%d of %d row(s)\n", len(result.Rows), result.Count)
	_, err = w.Write(out)
	return err
}

// readRequest decodes a YAML or JSON query request. Unknown top-level
// keys are rejected.
func readRequest(cmd *cobra.Command, path string) (queryir.RawRequest, error) {
	var req queryir.RawRequest
	raw, err := readInput(cmd, path)
	if err != nil {
		return req, err
	}
	dec := yaml.NewDecoder(bytes.NewReader(raw))
	dec.KnownFields(true)
	if err := dec.Decode(&req); err != nil {
		return req, fmt.Errorf("parse %s: %w", path, err)
	}
	if len(req.Select) == 0 {
		return req, fmt.Errorf("%s: select is required", path)
	}
	return req, nil
}

// renderJSON renders v as indented canonical JSON, so map keys come out
// in a stable order.
func renderJSON(v any) ([]byte, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	var plain any
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	if err := dec.Decode(&plain); err != nil {
		return nil, err
	}
	canonical, err := record.MarshalCanonical(plain)
	if err != nil {
		return nil, err
	}
	var buf bytes.Buffer
	if err := json.Indent(&buf, canonical, "", "  "); err != nil {
		return nil, err
	}
	buf.WriteByte('\n')
	return buf.Bytes(), nil
}
