package services

import (
	"cmp"
	"context"
	"fmt"
	"net/http"
	"net/url"
	"slices"
	"strings"

	"github.com/charmbracelet/log"
	"github.com/goccy/go-json"
)

const defaultPlexTVURL = "https://plex.tv"

// PlexTV implements [AccountDirectory] against plex.tv with the owner's token.
type PlexTV struct {
	baseURL   string
	token     string
	transport *Transport
	logger    *log.Logger
}

// NewPlexTV creates a plex.tv client. An empty baseURL uses https://plex.tv.
func NewPlexTV(baseURL, token string, transport *Transport, logger *log.Logger) *PlexTV {
	if baseURL == "" {
		baseURL = defaultPlexTVURL
	}
	if transport == nil {
		transport = NewTransport(TransportOpts{Logger: logger})
	}
	if logger == nil {
		logger = transport.logger
	}
	return &PlexTV{baseURL: strings.TrimRight(baseURL, "/"), token: token, transport: transport, logger: logger}
}

type homeUsersResponse struct {
	Users []Account `json:"users"`
}

type sharedServer struct {
	ID          int64  `json:"id"`
	UserID      int64  `json:"userID"`
	Username    string `json:"username"`
	Email       string `json:"email"`
	AccessToken string `json:"accessToken"`
}

type sharedServersResponse struct {
	MediaContainer struct {
		SharedServer []sharedServer `json:"SharedServer"`
	} `json:"MediaContainer"`
}

// Owner returns the account that owns the token, including its auth token.
func (p *PlexTV) Owner(ctx context.Context) (*Account, error) {
	var owner Account
	if err := p.get(ctx, "/api/v2/user", &owner); err != nil {
		return nil, fmt.Errorf("failed to fetch owner: %w", err)
	}
	if owner.Token == "" {
		owner.Token = p.token
	}
	owner.Owner = true
	return &owner, nil
}

// Users merges friends and home users, de-duplicated by id and sorted by name.
func (p *PlexTV) Users(ctx context.Context) ([]Account, error) {
	var friends []Account
	if err := p.get(ctx, "/api/v2/friends", &friends); err != nil {
		return nil, fmt.Errorf("failed to fetch friends: %w", err)
	}

	var home homeUsersResponse
	if err := p.get(ctx, "/api/v2/home/users", &home); err != nil {
		p.logger.Warn("could not list home users", "error", err)
	}

	seen := make(map[int64]struct{}, len(friends)+len(home.Users))
	users := make([]Account, 0, len(friends)+len(home.Users))
	for _, a := range append(friends, home.Users...) {
		if _, ok := seen[a.ID]; ok {
			continue
		}
		seen[a.ID] = struct{}{}
		a.Token = ""
		users = append(users, a)
	}

	slices.SortFunc(users, func(a, b Account) int {
		return cmp.Compare(strings.ToLower(a.Name()), strings.ToLower(b.Name()))
	})
	return users, nil
}

// ServerTokens returns each shared user's access token for the server with machineID.
func (p *PlexTV) ServerTokens(ctx context.Context, machineID string) (map[int64]string, error) {
	var resp sharedServersResponse
	if err := p.get(ctx, "/api/servers/"+url.PathEscape(machineID)+"/shared_servers", &resp); err != nil {
		return nil, fmt.Errorf("failed to fetch shared servers: %w", err)
	}

	tokens := make(map[int64]string, len(resp.MediaContainer.SharedServer))
	for _, s := range resp.MediaContainer.SharedServer {
		if s.AccessToken != "" {
			tokens[s.UserID] = s.AccessToken
		}
	}
	return tokens, nil
}

func (p *PlexTV) get(ctx context.Context, path string, result any) error {
	resp, err := p.transport.Do(ctx, Request{
		Method:     http.MethodGet,
		URL:        p.baseURL + path,
		Token:      p.token,
		Idempotent: true,
	})
	if err != nil {
		return err
	}
	if err := json.Unmarshal(resp.Body, result); err != nil {
		return fmt.Errorf("failed to decode %s: %w", path, err)
	}
	return nil
}
