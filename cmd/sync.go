package main

import (
	"context"
	"fmt"
	"sync"

	"github.com/desertthunder/wsx/internal/formatter"
	"github.com/desertthunder/wsx/internal/models"
	"github.com/desertthunder/wsx/internal/shared"
	"github.com/desertthunder/wsx/internal/tasks"
	"github.com/urfave/cli/v3"
)

// applyOverrides copies the flags set on cmd over the loaded configuration.
// server is the [source] or [destination] table the command targets.
func (r *Runner) applyOverrides(cmd *cli.Command, server *shared.ServerConfig) {
	if cmd.IsSet("server") {
		server.URL = cmd.String("server")
	}
	if cmd.IsSet("token") {
		server.Token = cmd.String("token")
	}

	sc := &r.config.Sync
	if cmd.IsSet("snapshot") {
		sc.Snapshot = cmd.String("snapshot")
	}
	if cmd.IsSet("user") {
		sc.Users = cmd.StringSlice("user")
	}
	if cmd.IsSet("section") {
		sc.Sections = cmd.StringSlice("section")
	}
	if cmd.IsSet("workers") {
		sc.Workers = cmd.Int("workers")
	}
	if cmd.IsSet("use-cache") {
		sc.UseCache = cmd.Bool("use-cache")
	}
	if cmd.IsSet("dry-run") {
		sc.DryRun = cmd.Bool("dry-run")
	}
}

// Export captures watch state from the source server and writes the snapshot.
func (r *Runner) Export(ctx context.Context, cmd *cli.Command) error {
	r.applyOverrides(cmd, &r.config.Source)
	if err := r.config.Validate(false); err != nil {
		return err
	}

	r.logger.Info("starting export", "server", r.config.Source.URL, "snapshot", r.config.Sync.Snapshot)
	r.writePlain("Exporting watch history from %s\n\n", r.config.Source.URL)

	report, run, err := r.runExport(ctx, r.printProgress)
	if err != nil {
		return err
	}
	return r.finishRun(run, report, cmd.String("format"))
}

// Import applies the snapshot to the destination server.
func (r *Runner) Import(ctx context.Context, cmd *cli.Command) error {
	r.applyOverrides(cmd, &r.config.Destination)
	if err := r.config.Validate(true); err != nil {
		return err
	}

	r.logger.Info("starting import", "server", r.config.Destination.URL, "snapshot", r.config.Sync.Snapshot, "dry_run", r.config.Sync.DryRun)
	if r.config.Sync.DryRun {
		r.writePlain("Dry run: no changes will be sent to %s\n", r.config.Destination.URL)
	}
	r.writePlain("Importing %s into %s\n\n", r.config.Sync.Snapshot, r.config.Destination.URL)

	report, run, err := r.runImport(ctx, r.printProgress)
	if err != nil {
		return err
	}
	return r.finishRun(run, report, cmd.String("format"))
}

// progressSink consumes engine updates until the channel is closed.
type progressSink func(<-chan tasks.ProgressUpdate)

// runExport runs an export and saves the snapshot. The snapshot is written even when some
// users were skipped; only a fatal error leaves the previous snapshot in place.
func (r *Runner) runExport(ctx context.Context, sink progressSink) (*tasks.RunReport, *models.RunJob, error) {
	store, err := r.openStore()
	if err != nil {
		return nil, nil, err
	}
	defer store.Close()

	ledger, closeLedger := r.openLedger()
	defer closeLedger()

	engine := r.newEngine(r.config.Source, r.transport(), store).WithLedger(ledger)

	var snapshot models.Snapshot
	report, err := withProgress(sink, func(progress chan<- tasks.ProgressUpdate) (*tasks.RunReport, error) {
		s, report, err := engine.Export(ctx, progress)
		snapshot = s
		return report, err
	})
	if err != nil {
		return nil, engine.LastRun(), fmt.Errorf("export failed: %w", err)
	}

	if err := formatter.SaveSnapshot(r.config.Sync.Snapshot, snapshot); err != nil {
		return report, engine.LastRun(), err
	}
	r.logger.Info("snapshot written", "path", r.config.Sync.Snapshot, "users", len(snapshot))
	return report, engine.LastRun(), nil
}

func (r *Runner) runImport(ctx context.Context, sink progressSink) (*tasks.RunReport, *models.RunJob, error) {
	snapshot, err := formatter.LoadSnapshot(r.config.Sync.Snapshot, r.logger)
	if err != nil {
		return nil, nil, err
	}
	r.logger.Info("snapshot loaded", "path", r.config.Sync.Snapshot, "users", len(snapshot))

	store, err := r.openStore()
	if err != nil {
		return nil, nil, err
	}
	defer store.Close()

	ledger, closeLedger := r.openLedger()
	defer closeLedger()

	engine := r.newEngine(r.config.Destination, r.transport(), store).WithLedger(ledger)

	report, err := withProgress(sink, func(progress chan<- tasks.ProgressUpdate) (*tasks.RunReport, error) {
		return engine.Import(ctx, snapshot, progress)
	})
	if err != nil {
		return nil, engine.LastRun(), fmt.Errorf("import failed: %w", err)
	}
	return report, engine.LastRun(), nil
}

// withProgress runs fn with a progress channel drained by sink, and waits for sink to
// finish before returning.
func withProgress(sink progressSink, fn func(chan<- tasks.ProgressUpdate) (*tasks.RunReport, error)) (*tasks.RunReport, error) {
	if sink == nil {
		return fn(nil)
	}

	progress := make(chan tasks.ProgressUpdate, 64)
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		sink(progress)
	}()

	report, err := fn(progress)
	close(progress)
	wg.Wait()
	return report, err
}

func (r *Runner) printProgress(progress <-chan tasks.ProgressUpdate) {
	for update := range progress {
		switch update.Phase {
		case tasks.FetchUsers, tasks.WarmCache:
			r.writePlain("📥 %s\n", update.Message)
		case tasks.UserDone:
			r.writePlain("   %s\n", update.Message)
		case tasks.Finished:
			r.writePlain("\n%s\n", update.Message)
		}
	}
}

// finishRun prints the report and maps a partial run onto [errPartialRun].
func (r *Runner) finishRun(run *models.RunJob, report *tasks.RunReport, format string) error {
	data, err := formatter.FormatReport(reportOf(run, report), format)
	if err != nil {
		return err
	}

	r.writePlain("\n")
	r.writePlainHeader("Summary")
	if _, err := r.output.Write(data); err != nil {
		return fmt.Errorf("failed to write report: %w", err)
	}

	if report.Partial() {
		return errPartialRun
	}
	return nil
}

// reportOf pairs run with the per-user results of report.
func reportOf(run *models.RunJob, report *tasks.RunReport) formatter.Report {
	runID := ""
	if run != nil {
		runID = run.ID()
	}
	outcomes := make([]*models.UserOutcome, 0, len(report.Results))
	for _, res := range report.Results {
		outcomes = append(outcomes, models.NewUserOutcome(runID, res.Username, res.Outcome, res.Counts, res.Message))
	}
	return formatter.Report{Run: run, Outcomes: outcomes}
}
