// API service for making raw requests against a Plex endpoint
package services

import (
	"context"
	"net/http"
	"strings"

	"github.com/goccy/go-json"
)

// APIService performs raw authenticated requests for debugging (`wsx api`).
type APIService struct {
	baseURL   string
	token     string
	transport *Transport
}

// NewAPIService creates an API service rooted at baseURL.
func NewAPIService(baseURL, token string, transport *Transport) *APIService {
	if baseURL == "" {
		baseURL = "http://127.0.0.1:32400"
	}
	if transport == nil {
		transport = NewTransport(TransportOpts{})
	}
	return &APIService{baseURL: strings.TrimRight(baseURL, "/"), token: token, transport: transport}
}

// APIResponse represents a raw API response with status and body.
type APIResponse struct {
	StatusCode int
	Headers    http.Header
	Body       []byte
	IsJSON     bool
	JSONData   any
}

// Get performs a GET request to path. Non-2xx responses are returned alongside the error
// so callers can still print the body.
func (a *APIService) Get(ctx context.Context, path string) (*APIResponse, error) {
	return a.do(ctx, http.MethodGet, path, nil)
}

// Post performs a POST request with the given JSON data.
func (a *APIService) Post(ctx context.Context, path string, data []byte) (*APIResponse, error) {
	return a.do(ctx, http.MethodPost, path, data)
}

func (a *APIService) do(ctx context.Context, method, path string, body []byte) (*APIResponse, error) {
	if !strings.HasPrefix(path, "/") {
		path = "/" + path
	}

	resp, err := a.transport.Do(ctx, Request{
		Method:     method,
		URL:        a.baseURL + path,
		Token:      a.token,
		Body:       body,
		Idempotent: method == http.MethodGet,
	})
	if resp == nil {
		return nil, err
	}

	apiResp := &APIResponse{
		StatusCode: resp.StatusCode,
		Headers:    resp.Header,
		Body:       resp.Body,
	}

	var jsonData any
	if json.Unmarshal(resp.Body, &jsonData) == nil {
		apiResp.IsJSON = true
		apiResp.JSONData = jsonData
	}

	return apiResp, err
}
