package main

import (
	"context"
	"fmt"
	"strings"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/desertthunder/wsx/internal/shared"
	"github.com/desertthunder/wsx/internal/tasks"
	"github.com/desertthunder/wsx/internal/ui"
	"github.com/urfave/cli/v3"
)

// TUI runs an export or import behind the interactive progress view.
func (r *Runner) TUI(ctx context.Context, cmd *cli.Command) error {
	operation := strings.ToLower(cmd.StringArg("operation"))
	if operation == "" {
		operation = "export"
	}

	var (
		title, summary string
		run            ui.RunFunc
	)
	switch operation {
	case "export":
		if err := r.config.Validate(false); err != nil {
			return err
		}
		title = "Export"
		summary = fmt.Sprintf("%s → %s", r.config.Source.URL, r.config.Sync.Snapshot)
		run = func(ctx context.Context, progress chan<- tasks.ProgressUpdate) (*tasks.RunReport, error) {
			report, _, err := r.runExport(ctx, forward(progress))
			return report, err
		}
	case "import":
		if cmd.IsSet("dry-run") {
			r.config.Sync.DryRun = cmd.Bool("dry-run")
		}
		if err := r.config.Validate(true); err != nil {
			return err
		}
		title = "Import"
		summary = fmt.Sprintf("%s → %s", r.config.Sync.Snapshot, r.config.Destination.URL)
		if r.config.Sync.DryRun {
			summary += " (dry run)"
		}
		run = func(ctx context.Context, progress chan<- tasks.ProgressUpdate) (*tasks.RunReport, error) {
			report, _, err := r.runImport(ctx, forward(progress))
			return report, err
		}
	default:
		return fmt.Errorf("%w: operation must be export or import, got %q", shared.ErrInvalidArgument, operation)
	}

	// Redirect logs to file to avoid interfering with TUI rendering
	fileLogger, err := shared.NewFileLogger("./tmp/wsx-tui.log")
	if err != nil {
		return fmt.Errorf("failed to create file logger: %w", err)
	}
	r.SetLogger(fileLogger)

	model := ui.NewModel(ctx, title, summary, run)
	if _, err := tea.NewProgram(model, tea.WithContext(ctx)).Run(); err != nil {
		return fmt.Errorf("error running TUI: %w", err)
	}

	report, err := model.Result()
	switch {
	case err != nil:
		return err
	case report != nil && report.Partial():
		return errPartialRun
	}
	return nil
}

// forward relays engine updates into the channel the view reads from.
func forward(out chan<- tasks.ProgressUpdate) progressSink {
	return func(in <-chan tasks.ProgressUpdate) {
		for u := range in {
			out <- u
		}
	}
}
