package main

import (
	"context"
	"fmt"
	"text/tabwriter"

	"github.com/desertthunder/wsx/internal/shared"
	"github.com/urfave/cli/v3"
)

// userRow is the JSON shape printed by `wsx users --json`.
type userRow struct {
	ID       int64  `json:"id"`
	Username string `json:"username"`
	Email    string `json:"email,omitempty"`
	Title    string `json:"title,omitempty"`
	Owner    bool   `json:"owner"`
	HasToken bool   `json:"has_token"`
}

// target returns the server table a command addresses, with --server and --token applied.
func (r *Runner) target(cmd *cli.Command) (*shared.ServerConfig, error) {
	server := &r.config.Source
	name := "source"
	if cmd.Bool("destination") {
		server, name = &r.config.Destination, "destination"
	}
	if cmd.IsSet("server") {
		server.URL = cmd.String("server")
	}
	if cmd.IsSet("token") {
		server.Token = cmd.String("token")
	}

	if server.URL == "" || server.Token == "" {
		return nil, fmt.Errorf("%w: %s.url and %s.token", shared.ErrMissingConfig, name, name)
	}
	return server, nil
}

// Users lists the owner and every allowed user, with whether the server issued them a token.
func (r *Runner) Users(ctx context.Context, cmd *cli.Command) error {
	server, err := r.target(cmd)
	if err != nil {
		return err
	}

	store, err := r.openStore()
	if err != nil {
		return err
	}
	defer store.Close()

	engine := r.newEngine(*server, r.transport(), store)
	jobs, _, err := engine.Users(ctx)
	if err != nil {
		return err
	}

	rows := make([]userRow, 0, len(jobs))
	for _, job := range jobs {
		rows = append(rows, userRow{
			ID:       job.Account.ID,
			Username: job.Username(),
			Email:    job.Account.Email,
			Title:    job.Account.Title,
			Owner:    job.Token == server.Token,
			HasToken: job.Token != "",
		})
	}

	if cmd.Bool("json") {
		return r.writeJSON(rows, true)
	}

	tw := tabwriter.NewWriter(r.output, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tUSERNAME\tEMAIL\tTITLE\tACCESS")
	for _, row := range rows {
		access := "shared"
		switch {
		case row.Owner:
			access = "owner"
		case !row.HasToken:
			access = "no libraries"
		}
		fmt.Fprintf(tw, "%d\t%s\t%s\t%s\t%s\n", row.ID, row.Username, row.Email, row.Title, access)
	}
	return tw.Flush()
}
