package main

import (
	"database/sql"
	"fmt"
	"io"
	"net/http"
	"os"

	"github.com/charmbracelet/log"
	"github.com/desertthunder/wsx/internal/cache"
	"github.com/desertthunder/wsx/internal/repositories"
	"github.com/desertthunder/wsx/internal/resolver"
	"github.com/desertthunder/wsx/internal/services"
	"github.com/desertthunder/wsx/internal/shared"
	"github.com/desertthunder/wsx/internal/tasks"
	"github.com/goccy/go-json"
	"github.com/urfave/cli/v3"
)

// Runner holds all dependencies for CLI commands and provides methods for each command action.
type Runner struct {
	config     *shared.Config
	configPath string
	plexTVURL  string
	httpClient *http.Client
	logger     *log.Logger
	output     io.Writer
}

// RunnerOpts contains configuration options for creating a Runner.
type RunnerOpts struct {
	Config     *shared.Config // used as-is; skips loading ConfigPath
	ConfigPath string
	PlexTVURL  string // empty uses https://plex.tv
	HTTPClient *http.Client
	Logger     *log.Logger
	Output     io.Writer
}

// NewRunner creates a new Runner with the provided configuration
func NewRunner(opts RunnerOpts) *Runner {
	if opts.Logger == nil {
		opts.Logger = shared.NewLogger(nil)
	}
	if opts.Output == nil {
		opts.Output = os.Stdout
	}
	if opts.HTTPClient == nil {
		opts.HTTPClient = http.DefaultClient
	}

	return &Runner{
		config:     opts.Config,
		configPath: opts.ConfigPath,
		plexTVURL:  opts.PlexTVURL,
		httpClient: opts.HTTPClient,
		logger:     opts.Logger,
		output:     opts.Output,
	}
}

func (r *Runner) register() []*cli.Command {
	commands := []*cli.Command{}
	for _, fn := range [](func(*Runner) *cli.Command){
		exportCommand, importCommand, usersCommand, runsCommand, cacheCommand, setupCommand, apiCommand, tuiCommand,
	} {
		commands = append(commands, fn(r))
	}

	return commands
}

// SetLogger replaces the logger used by every command.
func (r *Runner) SetLogger(l *log.Logger) {
	r.logger = l
}

// loadConfig resolves the configuration once per invocation: an explicit Config wins,
// then the --config file, then the embedded defaults.
func (r *Runner) loadConfig(cmd *cli.Command) error {
	if r.config != nil {
		return r.configureLogger(cmd)
	}

	if path := cmd.String("config"); path != "" {
		r.configPath = path
	}

	r.config = shared.DefaultConfig()
	if _, err := os.Stat(r.configPath); err == nil {
		config, err := shared.LoadConfig(r.configPath)
		if err != nil {
			return fmt.Errorf("%w: %v", shared.ErrInvalidConfig, err)
		}
		r.config = config
	} else {
		r.logger.Debug("config file not found, using defaults", "path", r.configPath)
	}

	return r.configureLogger(cmd)
}

func (r *Runner) configureLogger(cmd *cli.Command) error {
	debug := r.config.Sync.Debug || cmd.Bool("debug")
	if r.config.Log.File == "" {
		if debug {
			shared.SetLogLevel(r.logger, log.DebugLevel)
		}
		return nil
	}

	logger, err := shared.NewConfiguredLogger(r.config.Log, debug)
	if err != nil {
		return fmt.Errorf("failed to configure logging: %w", err)
	}
	r.logger = logger
	return nil
}

func (r *Runner) transport() *services.Transport {
	return services.NewTransport(services.TransportOpts{
		Client:            r.httpClient,
		RequestsPerSecond: r.config.Sync.RequestsPerSecond,
		Logger:            r.logger,
	})
}

// openStore opens the durable cache, or an in-memory one when no directory is configured.
func (r *Runner) openStore() (cache.Store, error) {
	if r.config.Cache.Dir == "" {
		return cache.NewMemoryStore(), nil
	}
	store, err := cache.OpenBadger(r.config.Cache.Dir, r.logger)
	if err != nil {
		return nil, fmt.Errorf("failed to open cache at %s: %w", r.config.Cache.Dir, err)
	}
	return store, nil
}

// openLedger opens the run ledger. A ledger that cannot be opened is logged and skipped;
// it never blocks a run.
func (r *Runner) openLedger() (*tasks.Ledger, func()) {
	if r.config.Database.Path == "" {
		return nil, func() {}
	}
	db, err := shared.OpenLedger(r.config.Database)
	if err != nil {
		r.logger.Warn("run ledger unavailable", "path", r.config.Database.Path, "error", err)
		return nil, func() {}
	}
	return newLedger(db), func() { db.Close() }
}

func newLedger(db *sql.DB) *tasks.Ledger {
	return &tasks.Ledger{
		Runs:     repositories.NewRunRepository(db),
		Outcomes: repositories.NewUserOutcomeRepository(db),
	}
}

// newEngine wires a [tasks.WatchEngine] against server.
func (r *Runner) newEngine(server shared.ServerConfig, transport *services.Transport, store cache.Store) *tasks.WatchEngine {
	sync := r.config.Sync

	directory := services.NewPlexTV(r.plexTVURL, server.Token, transport, r.logger)
	connect := func(token string) services.CatalogServer {
		return services.NewPlexServer(server.URL, token, transport, r.logger)
	}
	provider := services.NewMetadataClient(r.config.Metadata.URL, server.Token, transport, r.logger)

	return tasks.NewWatchEngine(directory, connect, resolver.New(provider, store, r.logger), store, tasks.Options{
		ServerURL:    server.URL,
		Users:        sync.Users,
		Sections:     sync.Sections,
		Workers:      sync.Workers,
		UseCache:     sync.UseCache,
		DryRun:       sync.DryRun,
		SnapshotPath: sync.Snapshot,
		Logger:       r.logger,
	})
}

func (r *Runner) writeJSON(data any, pretty bool) error {
	var output []byte
	var err error

	if pretty {
		output, err = json.MarshalIndent(data, "", "  ")
	} else {
		output, err = json.Marshal(data)
	}

	if err != nil {
		return fmt.Errorf("failed to marshal JSON: %w", err)
	}

	if _, err := r.output.Write(output); err != nil {
		return fmt.Errorf("failed to write output: %w", err)
	}

	if _, err := r.output.Write([]byte("\n")); err != nil {
		return fmt.Errorf("failed to write newline: %w", err)
	}

	return nil
}

func (r *Runner) writePlain(format string, args ...any) error {
	text := fmt.Sprintf(format, args...)
	if _, err := r.output.Write([]byte(text)); err != nil {
		return fmt.Errorf("failed to write output: %w", err)
	}
	return nil
}

func (r *Runner) writePlainHeader(title string) {
	r.writePlain("═══════════════════════════════════════\n")
	r.writePlain("%v\n", title)
	r.writePlain("═══════════════════════════════════════\n")
}
