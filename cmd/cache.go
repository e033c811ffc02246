package main

import (
	"context"
	"fmt"

	"github.com/desertthunder/wsx/internal/cache"
	"github.com/desertthunder/wsx/internal/services"
	"github.com/urfave/cli/v3"
)

// CacheWarm walks a server's libraries once and stores its GUID to rating key index.
//
// Run it against the destination before an import with a durable cache configured.
func (r *Runner) CacheWarm(ctx context.Context, cmd *cli.Command) error {
	server, err := r.target(cmd)
	if err != nil {
		return err
	}
	if r.config.Cache.Dir == "" {
		r.logger.Warn("cache.dir is empty; the warmed cache is discarded on exit")
	}

	store, err := r.openStore()
	if err != nil {
		return err
	}
	defer store.Close()

	srv := services.NewPlexServer(server.URL, server.Token, r.transport(), r.logger)
	identity, err := srv.Identity(ctx)
	if err != nil {
		return fmt.Errorf("failed to reach server %s: %w", server.URL, err)
	}

	r.logger.Info("warming cache", "server", identity.FriendlyName)
	r.writePlain("Building cache for %s...\n", identity.FriendlyName)

	if err := cache.NewCatalog(store, server.URL, r.logger).Warm(ctx, srv); err != nil {
		return fmt.Errorf("cache warm-up failed: %w", err)
	}

	r.writePlain("✓ Cache built for %s\n", server.URL)
	return nil
}

// CacheClear drops the cached entries of a server.
func (r *Runner) CacheClear(ctx context.Context, cmd *cli.Command) error {
	server, err := r.target(cmd)
	if err != nil {
		return err
	}

	store, err := r.openStore()
	if err != nil {
		return err
	}
	defer store.Close()

	global := cmd.Bool("all")
	if err := cache.ClearServer(store, server.URL, global); err != nil {
		return err
	}

	r.logger.Info("cache cleared", "server", server.URL, "all", global)
	r.writePlain("✓ Cache cleared for %s\n", server.URL)
	return nil
}
