package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"ipopipe/internal/adapters/dart"
	"ipopipe/internal/adapters/kind"
	"ipopipe/internal/adapters/krx"
	"ipopipe/internal/adapters/postgres"
	"ipopipe/internal/adapters/sqlite"
	"ipopipe/internal/config"
	"ipopipe/internal/logging"
	"ipopipe/internal/ports"
	"ipopipe/internal/quality"
	"ipopipe/internal/services/pipeline"
	"ipopipe/internal/services/refresh"
	"ipopipe/internal/workers/krxfetch"
)

type flags struct {
	envFiles   []string
	store      string
	sqlitePath string
	logLevel   string
	logFormat  string
	format     string
}

// store is what every command needs from a persistence adapter.
type store interface {
	ports.Store
	MigrationVersion(ctx context.Context) (int64, error)
}

type app struct {
	flags  flags
	cfg    config.Config
	logger zerolog.Logger
	stderr io.Writer
}

func newApp() *app {
	return &app{logger: logging.Nop(), stderr: os.Stderr}
}

func (a *app) execute(ctx context.Context, args []string) error {
	root := a.rootCommand()
	root.SetArgs(args)
	return root.ExecuteContext(ctx)
}

func (a *app) rootCommand() *cobra.Command {
	root := &cobra.Command{
		Use:   "ipopipe",
		Short: "IPO pipeline: KIND, DART and KRX ingestion behind a quality gate",
		Long: `ipopipe collects IPO listings from KIND, disclosures from DART and market
datasets from KRX, checks them against the data quality rule catalog and
publishes the reconciled pipeline only when no blocking issue is found.`,
		PersistentPreRunE: a.setup,
		SilenceUsage:      true,
		SilenceErrors:     true,
	}
	pf := root.PersistentFlags()
	pf.StringSliceVar(&a.flags.envFiles, "env-file", []string{".env"}, "dotenv files to load before reading the environment")
	pf.StringVar(&a.flags.store, "store", "", "store driver: postgres or sqlite (overrides STORE_DRIVER)")
	pf.StringVar(&a.flags.sqlitePath, "sqlite-path", "", "sqlite database file (overrides SQLITE_PATH)")
	pf.StringVar(&a.flags.logLevel, "log-level", "", "log level: trace, debug, info, warn, error")
	pf.StringVar(&a.flags.logFormat, "log-format", "", "log format: auto, console, json")
	pf.StringVarP(&a.flags.format, "format", "o", "json", "output format: json or yaml")

	root.AddCommand(
		a.serveCommand(),
		a.runCommand(),
		a.refreshCommand(),
		a.aggregateCommand(),
		a.rulesCommand(),
		a.datasetCommand(),
		a.migrateCommand(),
	)
	return root
}

func (a *app) setup(cmd *cobra.Command, _ []string) error {
	cfg, err := config.Load(a.flags.envFiles...)
	if err != nil && !errors.Is(err, config.ErrMissingDatabaseURL) {
		return err
	}
	if a.flags.store != "" {
		switch a.flags.store {
		case "postgres", "sqlite":
			cfg.StoreDriver = a.flags.store
		default:
			return fmt.Errorf("unknown store driver %q", a.flags.store)
		}
	}
	if a.flags.sqlitePath != "" {
		cfg.SQLitePath = a.flags.sqlitePath
	}
	if a.flags.logLevel != "" {
		cfg.LogLevel = a.flags.logLevel
	}
	if a.flags.logFormat != "" {
		cfg.LogFormat = a.flags.logFormat
	}
	a.cfg = cfg
	a.logger = logging.New(logging.Config{Level: cfg.LogLevel, Format: cfg.LogFormat, Output: a.stderr})
	cmd.SetContext(logging.WithLogger(cmd.Context(), a.logger))
	return nil
}

func (a *app) openStore(ctx context.Context) (store, error) {
	switch a.cfg.StoreDriver {
	case "sqlite":
		db, err := sqlite.Open(ctx, a.cfg.SQLitePath)
		if err != nil {
			return nil, fmt.Errorf("open sqlite %s: %w", a.cfg.SQLitePath, err)
		}
		return db, nil
	default:
		if a.cfg.DatabaseURL == "" {
			return nil, config.ErrMissingDatabaseURL
		}
		db, err := postgres.Connect(ctx, a.cfg.DatabaseURL)
		if err != nil {
			return nil, fmt.Errorf("db connect: %w", err)
		}
		if _, err := db.Migrate(ctx); err != nil {
			db.Close()
			return nil, err
		}
		return db, nil
	}
}

func newEngine() (*quality.Engine, error) {
	return quality.NewEngine(quality.DefaultCatalog())
}

func (a *app) pipeline(st ports.Store) (*pipeline.Service, error) {
	engine, err := newEngine()
	if err != nil {
		return nil, err
	}
	return pipeline.NewService(st, engine), nil
}

// refreshService wires the live connectors. Sources without an API key are
// left nil so they report missing_key.
func (a *app) refreshService(st ports.Store, pipe *pipeline.Service) (*refresh.Service, error) {
	kindClient, err := kind.NewClient(a.cfg.KINDBaseURL, a.cfg.HTTPTimeout)
	if err != nil {
		return nil, err
	}
	deps := refresh.Deps{
		Kind:     kindClient,
		KRXPaths: a.cfg.KRXPaths,
		Pipeline: pipe,
		Store:    st,
		Location: a.cfg.Timezone,
	}
	httpClient := &http.Client{Timeout: a.cfg.HTTPTimeout}
	if a.cfg.DartAPIKey != "" {
		deps.Dart = dart.NewClient(a.cfg.DartBaseURL, a.cfg.DartAPIKey, httpClient)
	}
	if a.cfg.KRXAPIKey != "" {
		client := krx.NewOpenAPIClient(a.cfg.KRXOpenAPIURL, a.cfg.KRXAPIKey,
			krx.WithHTTPClient(httpClient), krx.WithRate(a.cfg.KRXRatePerSec))
		deps.KRX = krxfetch.New(client)
	}
	return refresh.NewService(deps), nil
}
