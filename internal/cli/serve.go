package cli

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/roach88/catalog/internal/engine"
	"github.com/roach88/catalog/internal/query"
	"github.com/roach88/catalog/internal/server"
)

// ServeOptions holds flags for the serve command.
type ServeOptions struct {
	*RootOptions
	StoreFlags
	ResolverFlags
	EngineFlags
	Registry     string
	Addr         string
	MaxBodyBytes int64
}

// NewServeCommand creates the serve command.
func NewServeCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &ServeOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the sync engine behind the HTTP API",
		Long: `Start the sync engine and the HTTP API.

  POST /events               enqueue a batch of change events (202)
  POST /query                answer a selection query
  GET  /entities/{type}/{id} read one snapshot
  GET  /healthz, /metrics

Batches are applied in submission order by a single engine loop. On
SIGINT or SIGTERM the server stops taking events, drains the listener and
the engine exits.

Examples:
  catalog serve --db ./catalog.db --registry ./registry --resolver-url http://remote/resolve
  CATALOG_POSTGRES_DSN=postgres://... catalog serve --registry ./registry --fixtures fixtures.yaml`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(opts, cmd)
		},
	}

	opts.StoreFlags.register(cmd)
	opts.ResolverFlags.register(cmd)
	opts.EngineFlags.register(cmd)
	registerRegistryFlag(cmd, &opts.Registry)
	cmd.Flags().StringVar(&opts.Addr, "addr", envString(EnvAddr, DefaultAddr), "listen address (env "+EnvAddr+")")
	cmd.Flags().Int64Var(&opts.MaxBodyBytes, "max-body-bytes", server.DefaultMaxBodyBytes, "request body limit")

	return cmd
}

func runServe(opts *ServeOptions, cmd *cobra.Command) error {
	logger := opts.Logger()

	if opts.Registry == "" {
		return NewExitError(ExitCommandError, "--registry is required")
	}
	logger.Info("loading registry", "dir", opts.Registry)
	reg, err := LoadRegistry(opts.Registry)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to load registry", err)
	}

	res, err := opts.ResolverFlags.Build(logger)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to configure resolver", err)
	}

	st, err := opts.StoreFlags.Open()
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to open database", err)
	}
	defer func() {
		if closeErr := st.Close(); closeErr != nil {
			logger.Error("error closing database", "error", closeErr)
		}
	}()
	logger.Info("database ready", "dialect", st.Dialect())

	ctx, stop := signal.NotifyContext(commandContext(cmd), os.Interrupt, syscall.SIGTERM)
	defer stop()

	eng, err := engine.New(ctx, st, reg, res, opts.EngineFlags.options(logger, opts.ResolverFlags.Timeout)...)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to start engine", err)
	}
	srv := server.New(st, eng, query.New(st, reg, query.WithLogger(logger)),
		server.WithLogger(logger),
		server.WithMaxBodyBytes(opts.MaxBodyBytes),
	)

	fmt.Fprintf(cmd.OutOrStdout(), "Serving on %s. Press Ctrl-C to stop.\n", opts.Addr)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return eng.Run(gctx)
	})
	g.Go(func() error {
		return srv.ListenAndServe(gctx, opts.Addr)
	})

	err = g.Wait()
	if err != nil && !errors.Is(err, context.Canceled) && !errors.Is(err, context.DeadlineExceeded) {
		return WrapExitError(ExitFailure, "server error", err)
	}

	logger.Info("stopped gracefully")
	return nil
}
