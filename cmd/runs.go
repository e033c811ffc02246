package main

import (
	"context"
	"database/sql"
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/desertthunder/wsx/internal/formatter"
	"github.com/desertthunder/wsx/internal/repositories"
	"github.com/desertthunder/wsx/internal/shared"
	"github.com/urfave/cli/v3"
)

// openDatabase opens the run ledger for the runs subcommands, which cannot work without it.
func (r *Runner) openDatabase() (*sql.DB, error) {
	if r.config.Database.Path == "" {
		return nil, fmt.Errorf("%w: database.path", shared.ErrMissingConfig)
	}
	db, err := shared.OpenLedger(r.config.Database)
	if err != nil {
		return nil, fmt.Errorf("failed to open run ledger: %w", err)
	}
	return db, nil
}

// RunsList prints recent runs, newest first.
func (r *Runner) RunsList(ctx context.Context, cmd *cli.Command) error {
	db, err := r.openDatabase()
	if err != nil {
		return err
	}
	defer db.Close()

	runs, err := repositories.NewRunRepository(db).List(map[string]any{
		"kind":   cmd.String("kind"),
		"status": cmd.String("status"),
		"limit":  cmd.Int("limit"),
	})
	if err != nil {
		return fmt.Errorf("failed to list runs: %w", err)
	}

	if len(runs) == 0 {
		r.writePlain("No runs recorded\n")
		return nil
	}

	tw := tabwriter.NewWriter(r.output, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "#\tID\tKIND\tSTATUS\tUSERS\tSTARTED\tSERVER")
	for _, run := range runs {
		started := "-"
		if t := run.StartedAt(); t != nil {
			started = t.Local().Format(time.DateTime)
		}
		fmt.Fprintf(tw, "%d\t%s\t%s\t%s\t%d/%d\t%s\t%s\n",
			run.Sequence(), run.ID(), run.Kind(), run.Status(),
			run.UsersSucceeded(), run.UsersTotal(), started, run.ServerURL())
	}
	return tw.Flush()
}

// RunsShow prints one run with its per-user outcomes.
func (r *Runner) RunsShow(ctx context.Context, cmd *cli.Command) error {
	id := cmd.StringArg("id")
	if id == "" {
		return fmt.Errorf("%w: id", shared.ErrMissingArgument)
	}

	db, err := r.openDatabase()
	if err != nil {
		return err
	}
	defer db.Close()

	run, err := repositories.NewRunRepository(db).Get(id)
	if err != nil {
		return err
	}
	outcomes, err := repositories.NewUserOutcomeRepository(db).List(map[string]any{"run_id": id})
	if err != nil {
		return fmt.Errorf("failed to list outcomes: %w", err)
	}

	data, err := formatter.FormatReport(formatter.Report{Run: run, Outcomes: outcomes}, cmd.String("format"))
	if err != nil {
		return err
	}
	_, err = r.output.Write(data)
	return err
}

// RunsDelete removes a run from the ledger.
func (r *Runner) RunsDelete(ctx context.Context, cmd *cli.Command) error {
	id := cmd.StringArg("id")
	if id == "" {
		return fmt.Errorf("%w: id", shared.ErrMissingArgument)
	}

	db, err := r.openDatabase()
	if err != nil {
		return err
	}
	defer db.Close()

	if err := repositories.NewRunRepository(db).Delete(id); err != nil {
		return err
	}

	r.logger.Info("run deleted", "id", id)
	r.writePlain("✓ Run %s deleted\n", id)
	return nil
}
