package cli

import (
	"errors"
	"log/slog"
	"os"
	"strconv"
	"time"

	"github.com/spf13/cobra"

	"github.com/roach88/catalog/internal/engine"
	"github.com/roach88/catalog/internal/resolver"
	"github.com/roach88/catalog/internal/store"
)

// Environment variables backing the command flags. A flag given on the
// command line always wins.
const (
	EnvDB             = "CATALOG_DB"
	EnvPostgresDSN    = "CATALOG_POSTGRES_DSN"
	EnvRegistry       = "CATALOG_REGISTRY"
	EnvResolverURL    = "CATALOG_RESOLVER_URL"
	EnvResolveTimeout = "CATALOG_RESOLVE_TIMEOUT"
	EnvLanes          = "CATALOG_LANES"
	EnvAddr           = "CATALOG_ADDR"
)

// DefaultAddr is the listen address of the serve command.
const DefaultAddr = ":8080"

// StoreFlags select the database.
type StoreFlags struct {
	Database string // SQLite file path
	Postgres string // PostgreSQL DSN; takes precedence over Database
}

func (f *StoreFlags) register(cmd *cobra.Command) {
	cmd.Flags().StringVar(&f.Database, "db", envString(EnvDB, ""), "path to SQLite database (env "+EnvDB+")")
	cmd.Flags().StringVar(&f.Postgres, "postgres", envString(EnvPostgresDSN, ""), "PostgreSQL DSN (env "+EnvPostgresDSN+")")
}

// Open opens the configured store.
func (f *StoreFlags) Open() (*store.Store, error) {
	switch {
	case f.Postgres != "":
		return store.OpenPostgres(f.Postgres)
	case f.Database != "":
		return store.Open(f.Database)
	default:
		return nil, errors.New("--db or --postgres is required")
	}
}

// ResolverFlags select the remote resolver.
type ResolverFlags struct {
	URL     string
	Fixture string
	Timeout time.Duration
}

func (f *ResolverFlags) register(cmd *cobra.Command) {
	cmd.Flags().StringVar(&f.URL, "resolver-url", envString(EnvResolverURL, ""), "remote resolver endpoint (env "+EnvResolverURL+")")
	cmd.Flags().StringVar(&f.Fixture, "fixtures", "", "YAML fixture file served by a static resolver")
	cmd.Flags().DurationVar(&f.Timeout, "resolve-timeout", envDuration(EnvResolveTimeout, engine.DefaultResolveTimeout), "per-call resolver timeout (env "+EnvResolveTimeout+")")
}

// Build returns the configured resolver. Exactly one of --resolver-url
// and --fixtures must be set.
func (f *ResolverFlags) Build(logger *slog.Logger) (resolver.Resolver, error) {
	switch {
	case f.URL != "" && f.Fixture != "":
		return nil, errors.New("--resolver-url and --fixtures are mutually exclusive")
	case f.Fixture != "":
		static := resolver.NewStatic()
		if err := static.LoadFixtures(f.Fixture); err != nil {
			return nil, err
		}
		logger.Debug("static resolver loaded", "path", f.Fixture, "records", static.Len())
		return static, nil
	case f.URL != "":
		return resolver.NewHTTP(f.URL, resolver.WithHTTPLogger(logger)), nil
	default:
		return nil, errors.New("--resolver-url or --fixtures is required")
	}
}

// EngineFlags tune the sync engine.
type EngineFlags struct {
	Lanes    int
	MaxDepth int
}

func (f *EngineFlags) register(cmd *cobra.Command) {
	cmd.Flags().IntVar(&f.Lanes, "lanes", envInt(EnvLanes, engine.DefaultLanes), "parallel lanes per batch (env "+EnvLanes+")")
	cmd.Flags().IntVar(&f.MaxDepth, "max-depth", engine.DefaultMaxDepth, "stub expansion depth")
}

func (f *EngineFlags) options(logger *slog.Logger, timeout time.Duration) []engine.EngineOption {
	return []engine.EngineOption{
		engine.WithLogger(logger),
		engine.WithLanes(f.Lanes),
		engine.WithMaxDepth(f.MaxDepth),
		engine.WithResolveTimeout(timeout),
	}
}

func registerRegistryFlag(cmd *cobra.Command, dst *string) {
	cmd.Flags().StringVar(dst, "registry", envString(EnvRegistry, ""), "registry directory of CUE declarations (env "+EnvRegistry+")")
}

func envString(key, def string) string {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		return v
	}
	return def
}

// envInt and envDuration ignore values that do not parse.
func envInt(key string, def int) int {
	if n, err := strconv.Atoi(os.Getenv(key)); err == nil {
		return n
	}
	return def
}

func envDuration(key string, def time.Duration) time.Duration {
	if d, err := time.ParseDuration(os.Getenv(key)); err == nil {
		return d
	}
	return def
}
