package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"

	"github.com/desertthunder/wsx/internal/shared"
	"github.com/urfave/cli/v3"
)

// Exit codes.
const (
	exitOK      = 0
	exitFatal   = 1
	exitPartial = 2
)

// errPartialRun marks a run that finished with skipped or failed users.
var errPartialRun = errors.New("run finished with skipped or failed users")

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	os.Exit(run(ctx, os.Args, NewRunner(RunnerOpts{ConfigPath: "config.toml"})))
}

func run(ctx context.Context, args []string, runner *Runner) int {
	app := newApp(runner)
	err := app.Run(ctx, args)
	return exitCode(err, runner)
}

func newApp(runner *Runner) *cli.Command {
	return &cli.Command{
		Name:    "wsx",
		Usage:   "Carry Plex watch history from one server to another",
		Version: "0.1.0",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "config",
				Aliases: []string{"c"},
				Usage:   "Path to configuration file",
				Value:   "config.toml",
				Sources: cli.EnvVars("WSX_CONFIG"),
			},
			&cli.BoolFlag{
				Name:  "debug",
				Usage: "Enable debug logging",
			},
		},
		Before: func(ctx context.Context, cmd *cli.Command) (context.Context, error) {
			return ctx, runner.loadConfig(cmd)
		},
		Commands: runner.register(),
		Writer:   runner.output,
	}
}

func exitCode(err error, runner *Runner) int {
	switch {
	case err == nil:
		return exitOK
	case errors.Is(err, errPartialRun):
		runner.logger.Warn(err.Error())
		return exitPartial
	case errors.Is(err, context.Canceled):
		runner.logger.Error("interrupted")
		return exitFatal
	case errors.Is(err, shared.ErrMissingConfig), errors.Is(err, shared.ErrInvalidConfig):
		runner.logger.Error("configuration error", "error", err)
		return exitFatal
	default:
		runner.logger.Error("application error", "error", err)
		return exitFatal
	}
}
