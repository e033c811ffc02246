package services

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/charmbracelet/log"
	"github.com/desertthunder/wsx/internal/models"
	"github.com/desertthunder/wsx/internal/shared"
	"github.com/goccy/go-json"
	"github.com/sony/gobreaker/v2"
)

const defaultMetadataURL = "https://metadata.provider.plex.tv"

// MetadataClient implements [MetadataProvider] against the Plex metadata provider.
//
// Calls go through a circuit breaker so a provider outage fails fast with
// [shared.ErrCircuitOpen] instead of spending the full retry budget on every item.
type MetadataClient struct {
	baseURL   string
	token     string
	transport *Transport
	breaker   *gobreaker.CircuitBreaker[*MetadataItem]
	logger    *log.Logger
}

// NewMetadataClient creates a provider client. An empty baseURL uses the public provider.
func NewMetadataClient(baseURL, token string, transport *Transport, logger *log.Logger) *MetadataClient {
	if baseURL == "" {
		baseURL = defaultMetadataURL
	}
	if transport == nil {
		transport = NewTransport(TransportOpts{Logger: logger})
	}
	if logger == nil {
		logger = transport.logger
	}

	breaker := gobreaker.NewCircuitBreaker[*MetadataItem](gobreaker.Settings{
		Name:        "metadata-provider",
		MaxRequests: 3,
		Interval:    time.Minute,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
		IsSuccessful: func(err error) bool {
			// A miss is a valid answer, not a provider failure.
			return err == nil || errors.Is(err, shared.ErrNotFound)
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Warn("circuit breaker state change", "name", name, "from", from.String(), "to", to.String())
		},
	})

	return &MetadataClient{
		baseURL:   strings.TrimRight(baseURL, "/"),
		token:     token,
		transport: transport,
		breaker:   breaker,
		logger:    logger,
	}
}

type matchRequest struct {
	Type            int    `json:"type"`
	ExcludeElements string `json:"excludeElements"`
	GUID            string `json:"guid"`
}

type metadataResponse struct {
	MediaContainer struct {
		Metadata []MetadataItem `json:"Metadata"`
	} `json:"MediaContainer"`
}

// Match posts a legacy agent GUID to the matches endpoint. The guid is sent with the
// "?lang=en" suffix the provider expects. No match is [shared.ErrNotFound].
func (m *MetadataClient) Match(ctx context.Context, kind models.MediaKind, legacyGUID string) (*MetadataItem, error) {
	guid := legacyGUID
	if !strings.Contains(guid, "?") {
		guid += "?lang=en"
	}

	body, err := json.Marshal(matchRequest{Type: kind.SearchType(), ExcludeElements: "Media", GUID: guid})
	if err != nil {
		return nil, fmt.Errorf("failed to encode match request: %w", err)
	}

	return m.execute(ctx, Request{
		Method: http.MethodPost,
		URL:    m.baseURL + "/library/metadata/matches",
		Token:  m.token,
		Body:   body,
		// Matching is a lookup despite the POST.
		Idempotent: true,
	})
}

// Metadata fetches an item with its children. episodeOrder is passed through when set.
func (m *MetadataClient) Metadata(ctx context.Context, ratingKey string, episodeOrder string) (*MetadataItem, error) {
	query := url.Values{}
	query.Set("includeChildren", "1")
	if episodeOrder != "" {
		query.Set("episodeOrder", episodeOrder)
	}

	return m.execute(ctx, Request{
		Method:     http.MethodGet,
		URL:        m.baseURL + "/library/metadata/" + url.PathEscape(ratingKey) + "?" + query.Encode(),
		Token:      m.token,
		Idempotent: true,
	})
}

func (m *MetadataClient) execute(ctx context.Context, req Request) (*MetadataItem, error) {
	item, err := m.breaker.Execute(func() (*MetadataItem, error) {
		resp, err := m.transport.Do(ctx, req)
		if err != nil {
			return nil, err
		}

		var mr metadataResponse
		if err := json.Unmarshal(resp.Body, &mr); err != nil {
			return nil, fmt.Errorf("%w: failed to decode metadata: %v", shared.ErrNotFound, err)
		}
		if len(mr.MediaContainer.Metadata) == 0 {
			return nil, fmt.Errorf("%w: no metadata for %s", shared.ErrNotFound, redact(req.URL))
		}
		return &mr.MediaContainer.Metadata[0], nil
	})

	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return nil, fmt.Errorf("%w: %v", shared.ErrCircuitOpen, err)
	}
	return item, err
}
