package tasks

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/charmbracelet/log"
	"github.com/desertthunder/wsx/internal/cache"
	"github.com/desertthunder/wsx/internal/models"
	"github.com/desertthunder/wsx/internal/services"
	"github.com/desertthunder/wsx/internal/shared"
)

// SyncEngine defines the two batch operations between a Plex server and a snapshot.
type SyncEngine interface {
	// Export captures the watch state of the owner and every allowed user.
	Export(ctx context.Context, progress chan<- ProgressUpdate) (models.Snapshot, *RunReport, error)

	// Import applies snapshot to the owner and every allowed user.
	Import(ctx context.Context, snapshot models.Snapshot, progress chan<- ProgressUpdate) (*RunReport, error)
}

// Connector opens a session against the engine's server for one token.
type Connector func(token string) services.CatalogServer

// Ledger persists runs and per-user outcomes. Either repository may be nil.
type Ledger struct {
	Runs     models.Repository[*models.RunJob]
	Outcomes models.Repository[*models.UserOutcome]
}

// Options configures a [WatchEngine].
type Options struct {
	ServerURL    string
	Users        []string // allow-list of usernames, emails or titles; empty allows all
	Sections     []string // section titles walked by exports; empty walks all
	Workers      int
	UseCache     bool // walk the whole library up front instead of looking items up one by one
	DryRun       bool
	SnapshotPath string // recorded in the ledger only
	Logger       *log.Logger
}

// WatchEngine implements [SyncEngine] against one Plex server.
type WatchEngine struct {
	directory   services.AccountDirectory
	connect     Connector
	resolver    IdentityResolver
	store       cache.Store
	ledger      *Ledger
	lastRun     *models.RunJob
	coordinator *Coordinator
	allowed     shared.AllowList
	opts        Options
	logger      *log.Logger
}

// NewWatchEngine creates an engine. resolver is only needed for exports.
func NewWatchEngine(directory services.AccountDirectory, connect Connector, resolver IdentityResolver, store cache.Store, opts Options) *WatchEngine {
	logger := opts.Logger
	if logger == nil {
		logger = shared.NewLogger(io.Discard)
	}
	return &WatchEngine{
		directory:   directory,
		connect:     connect,
		resolver:    resolver,
		store:       store,
		coordinator: NewCoordinator(opts.Workers, logger),
		allowed:     shared.NewAllowList(opts.Users),
		opts:        opts,
		logger:      logger,
	}
}

// WithLedger records every run in l.
func (e *WatchEngine) WithLedger(l *Ledger) *WatchEngine {
	e.ledger = l
	return e
}

// LastRun returns the record of the most recent Export or Import, saved to the ledger or not.
func (e *WatchEngine) LastRun() *models.RunJob { return e.lastRun }

// Users returns a job for the owner and for every allowed user, with their tokens on the
// server. A user the server has no token for gets an empty token and is skipped when run.
//
// Failing to reach plex.tv or the server is fatal; it is the only error that aborts a run.
func (e *WatchEngine) Users(ctx context.Context) ([]UserJob, services.CatalogServer, error) {
	if e.directory == nil || e.connect == nil {
		return nil, nil, fmt.Errorf("%w: account directory not initialized", shared.ErrServiceUnavailable)
	}

	owner, err := e.directory.Owner(ctx)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to fetch account owner: %w", err)
	}

	ownerSrv := e.connect(owner.Token)
	identity, err := ownerSrv.Identity(ctx)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to reach server %s: %w", e.opts.ServerURL, err)
	}

	users, err := e.directory.Users(ctx)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to list users: %w", err)
	}

	tokens, err := e.directory.ServerTokens(ctx, identity.MachineIdentifier)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to fetch user tokens: %w", err)
	}

	var jobs []UserJob
	if e.allowed.Allows(owner.Username, owner.Email, owner.Title) {
		jobs = append(jobs, UserJob{Account: *owner, Token: owner.Token})
	}
	for _, u := range users {
		if !e.allowed.Allows(u.Username, u.Email, u.Title) {
			continue
		}
		if u.Name() == "" {
			e.logger.Warn("skipping user with empty username", "id", u.ID)
			continue
		}
		jobs = append(jobs, UserJob{Account: u, Token: tokens[u.ID]})
	}

	e.logger.Info("users to process", "total", len(jobs), "server", identity.FriendlyName)
	return jobs, ownerSrv, nil
}

// Export captures the watch state of every allowed user.
func (e *WatchEngine) Export(ctx context.Context, progress chan<- ProgressUpdate) (models.Snapshot, *RunReport, error) {
	if e.resolver == nil {
		return nil, nil, fmt.Errorf("%w: identity resolver not initialized", shared.ErrServiceUnavailable)
	}

	run := e.begin(models.RunExport)

	sendProgress(progress, fetchUsersUpdate())
	jobs, ownerSrv, err := e.Users(ctx)
	if err != nil {
		e.finish(run, nil, err)
		return nil, nil, err
	}
	sendProgress(progress, foundUsersUpdate(len(jobs)))

	if err := cache.ResetExport(e.store, e.opts.ServerURL); err != nil {
		e.logger.Warn("failed to reset export cache", "error", err)
	}

	aggregator := NewAggregator(e.resolver, e.store, AggregatorOpts{
		Server:   e.opts.ServerURL,
		Sections: e.opts.Sections,
		Logger:   e.logger,
	})

	if e.opts.UseCache {
		sendProgress(progress, warmCacheUpdate(e.opts.ServerURL))
		n, err := aggregator.Warm(ctx, ownerSrv)
		if err != nil {
			e.logger.Warn("cache warm-up failed, resolving items as they are seen", "error", err)
		} else {
			e.logger.Info("cache built", "items", n)
		}
	}

	report := e.coordinator.Run(ctx, jobs, ExportUser, progress, func(ctx context.Context, job UserJob) (UserResult, error) {
		srv := e.connect(job.Token)
		if _, err := srv.Identity(ctx); err != nil {
			return UserResult{}, err
		}

		history, counts, err := aggregator.Export(ctx, srv, job.Username())
		if err != nil {
			return UserResult{Counts: counts}, err
		}
		return UserResult{Counts: counts, History: history}, nil
	})

	snapshot := make(models.Snapshot, len(report.Results))
	for _, res := range report.Results {
		if res.History != nil {
			snapshot[res.Username] = res.History
		}
	}

	e.finish(run, report, nil)
	sendProgress(progress, finishedUpdate(report))
	return snapshot, report, nil
}

// Import applies snapshot to every allowed user. Users absent from snapshot are skipped.
func (e *WatchEngine) Import(ctx context.Context, snapshot models.Snapshot, progress chan<- ProgressUpdate) (*RunReport, error) {
	run := e.begin(models.RunImport)

	sendProgress(progress, fetchUsersUpdate())
	jobs, ownerSrv, err := e.Users(ctx)
	if err != nil {
		e.finish(run, nil, err)
		return nil, err
	}
	sendProgress(progress, foundUsersUpdate(len(jobs)))

	catalog := cache.NewCatalog(e.store, e.opts.ServerURL, e.logger)
	if e.opts.UseCache {
		sendProgress(progress, warmCacheUpdate(e.opts.ServerURL))
		if err := catalog.Warm(ctx, ownerSrv); err != nil {
			e.logger.Warn("cache warm-up failed, searching items as they are seen", "error", err)
		}
	}

	applier := NewApplier(catalog, ApplierOpts{DryRun: e.opts.DryRun, Logger: e.logger})

	report := e.coordinator.Run(ctx, jobs, ImportUser, progress, func(ctx context.Context, job UserJob) (UserResult, error) {
		history, ok := snapshot[job.Username()]
		if !ok || history == nil {
			return UserResult{}, shared.ErrMissingSnapshot
		}

		srv := e.connect(job.Token)
		if _, err := srv.Identity(ctx); err != nil {
			return UserResult{}, err
		}

		res, err := applier.Apply(ctx, srv, history)
		if res == nil {
			return UserResult{}, err
		}
		return UserResult{Counts: res.Counts, Message: fmt.Sprintf("%d mutations", res.Mutations)}, err
	})

	e.finish(run, report, nil)
	sendProgress(progress, finishedUpdate(report))
	return report, nil
}

func (e *WatchEngine) begin(kind string) *models.RunJob {
	run := models.NewRunJob(0, kind, e.opts.ServerURL, e.opts.SnapshotPath)
	run.Start()
	e.lastRun = run
	if e.ledger == nil || e.ledger.Runs == nil {
		return run
	}
	if err := e.ledger.Runs.Create(run); err != nil {
		e.logger.Warn("failed to record run", "error", err)
	}
	return run
}

func (e *WatchEngine) finish(run *models.RunJob, report *RunReport, err error) {
	if report == nil {
		report = &RunReport{}
	}
	run.SetUsersTotal(len(report.Results))
	run.Finish(report.Succeeded, report.Skipped, report.Failed, err)

	// an ID means begin saved the run
	if run.ID() == "" || e.ledger == nil || e.ledger.Runs == nil {
		return
	}
	if uerr := e.ledger.Runs.Update(run); uerr != nil {
		e.logger.Warn("failed to update run", "run", run.ID(), "error", uerr)
	}

	if e.ledger.Outcomes == nil {
		return
	}
	var errs []error
	for _, res := range report.Results {
		outcome := models.NewUserOutcome(run.ID(), res.Username, res.Outcome, res.Counts, res.Message)
		errs = append(errs, e.ledger.Outcomes.Create(outcome))
	}
	if err := errors.Join(errs...); err != nil {
		e.logger.Warn("failed to record user outcomes", "run", run.ID(), "error", err)
	}
}
