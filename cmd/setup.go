package main

import (
	"context"
	"fmt"

	"github.com/desertthunder/wsx/internal/shared"
	"github.com/urfave/cli/v3"
)

// SetupConfig writes the config.toml template to the --config path.
func (r *Runner) SetupConfig(ctx context.Context, cmd *cli.Command) error {
	path := r.configPath
	if path == "" {
		path = "config.toml"
	}

	if err := shared.CreateConfigFile(path); err != nil {
		return err
	}

	r.logger.Info("config file created", "path", path)
	r.writePlain("✓ Configuration written to %s\n", path)
	r.writePlain("\nNext steps:\n")
	r.writePlain("1. Set source.url, source.token, destination.url and destination.token\n")
	r.writePlain("2. Run 'wsx users' to check the source server and its users\n")
	return nil
}

// SetupDatabase initializes the run ledger and runs migrations.
func (r *Runner) SetupDatabase(ctx context.Context, cmd *cli.Command) error {
	path := r.config.Database.Path
	if path == "" {
		return fmt.Errorf("%w: database.path", shared.ErrMissingConfig)
	}

	r.logger.Info("initializing database", "path", path)

	db, err := shared.OpenLedger(r.config.Database)
	if err != nil {
		return fmt.Errorf("failed to create database: %w", err)
	}
	defer db.Close()

	version, _, err := shared.MigrationVersion(db)
	if err != nil {
		return fmt.Errorf("failed to read migration version: %w", err)
	}

	r.logger.Infof("setup complete for database: %v", path)
	r.writePlain("✓ Run ledger ready at %s (schema version %d)\n", path, version)
	return nil
}
