package main

import (
	"context"
	"fmt"
	"os"

	"github.com/desertthunder/wsx/internal/services"
	"github.com/desertthunder/wsx/internal/shared"
	"github.com/goccy/go-json"
	"github.com/urfave/cli/v3"
)

// APIGet makes a direct GET request to the server
func (r *Runner) APIGet(ctx context.Context, cmd *cli.Command) error {
	path := cmd.StringArg("path")
	if path == "" {
		return fmt.Errorf("%w: path", shared.ErrMissingArgument)
	}

	server, err := r.target(cmd)
	if err != nil {
		return err
	}

	r.logger.Info("GET request", "server", server.URL, "path", path)

	resp, err := services.NewAPIService(server.URL, server.Token, r.transport()).Get(ctx, path)
	if resp == nil {
		return fmt.Errorf("%w: %v", shared.ErrAPIRequest, err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("%w: status %d, body: %s", shared.ErrAPIRequest, resp.StatusCode, string(resp.Body))
	}

	if resp.IsJSON {
		return r.writeJSON(resp.JSONData, cmd.Bool("pretty"))
	}

	r.output.Write(resp.Body)
	r.output.Write([]byte("\n"))
	return nil
}

type apiDump struct {
	Server   any              `json:"server,omitempty"`
	Sections any              `json:"sections,omitempty"`
	Errors   []map[string]any `json:"errors,omitempty"`
}

// APIDump fetches the server identity and library sections into one document.
func (r *Runner) APIDump(ctx context.Context, cmd *cli.Command) error {
	server, err := r.target(cmd)
	if err != nil {
		return err
	}

	r.logger.Info("dumping API state", "server", server.URL)
	r.writePlain("Fetching server state...\n\n")

	api := services.NewAPIService(server.URL, server.Token, r.transport())
	dump := apiDump{}

	fetch := func(label, path string) any {
		r.writePlain("📊 Fetching %s...\n", label)
		resp, err := api.Get(ctx, path)
		if err != nil {
			dump.Errors = append(dump.Errors, map[string]any{"endpoint": path, "error": err.Error()})
			r.logger.Warn("failed to fetch "+label, "error", err)
			return nil
		}
		return resp.JSONData
	}

	dump.Server = fetch("server identity", "/")
	dump.Sections = fetch("library sections", "/library/sections")
	r.writePlain("\n")

	if cmd.Bool("save") {
		data, err := json.MarshalIndent(dump, "", "  ")
		if err != nil {
			return fmt.Errorf("failed to marshal dump: %w", err)
		}
		if err := os.WriteFile("api_dump.json", data, 0o644); err != nil {
			return fmt.Errorf("failed to save dump: %w", err)
		}
		r.writePlain("✓ Dump saved to api_dump.json\n")
		return nil
	}

	return r.writeJSON(dump, true)
}
