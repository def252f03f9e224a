package hub

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/sony/gobreaker/v2"

	"github.com/MrSnakeDoc/hubcache/internal/domain"
	"github.com/MrSnakeDoc/hubcache/internal/logger"
	"github.com/MrSnakeDoc/hubcache/internal/utils"
	"github.com/MrSnakeDoc/hubcache/internal/version"
)

const (
	DefaultURL     = "https://api.storyscript.io/graphql"
	DefaultTimeout = 10 * time.Second

	// maxResponseSize caps the catalog response body.
	maxResponseSize = 64 << 20
)

// catalogQuery selects the latest tag of every service.
const catalogQuery = `query {
  allServiceTags(condition: {tag: "latest"}) {
    nodes {
      service {
        name
        alias
        owner { username }
        topics
        description
        isCertified
        public
      }
      serviceUuid
      state
      configuration
      readme
    }
  }
}`

// Options configures a Client.
type Options struct {
	URL     string
	Timeout time.Duration

	// FailureThreshold is the number of consecutive failed fetches that
	// opens the breaker.
	FailureThreshold uint32
	// OpenTimeout is how long the breaker stays open before probing again.
	OpenTimeout time.Duration

	HTTPClient *http.Client
}

// Client fetches the service catalog from the hub GraphQL API.
type Client struct {
	url     string
	http    *http.Client
	breaker *gobreaker.CircuitBreaker[[]domain.ServicePayload]
	logger  logger.Logger
}

// New creates a hub client.
func New(opts Options, log logger.Logger) *Client {
	if opts.URL == "" {
		opts.URL = DefaultURL
	}
	if opts.Timeout <= 0 {
		opts.Timeout = DefaultTimeout
	}
	if opts.FailureThreshold == 0 {
		opts.FailureThreshold = 3
	}
	if opts.OpenTimeout <= 0 {
		opts.OpenTimeout = 30 * time.Second
	}
	httpClient := opts.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: opts.Timeout}
	}

	threshold := opts.FailureThreshold
	breaker := gobreaker.NewCircuitBreaker[[]domain.ServicePayload](gobreaker.Settings{
		Name:        "hub",
		MaxRequests: 1,
		Timeout:     opts.OpenTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= threshold
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			log.Warn("hub circuit breaker state changed",
				logger.String("breaker", name),
				logger.String("from", from.String()),
				logger.String("to", to.String()))
		},
	})

	return &Client{
		url:     opts.URL,
		http:    httpClient,
		breaker: breaker,
		logger:  log,
	}
}

// BreakerState returns the state of the circuit breaker guarding the hub.
func (c *Client) BreakerState() string {
	return c.breaker.State().String()
}

// FetchAll returns every service in the catalog. Each payload keeps the
// exact bytes of its GraphQL node.
func (c *Client) FetchAll(ctx context.Context) ([]domain.ServicePayload, error) {
	payloads, err := c.breaker.Execute(func() ([]domain.ServicePayload, error) {
		return c.fetch(ctx)
	})
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return nil, fmt.Errorf("hub unavailable: %w", err)
	}
	return payloads, err
}

type graphQLRequest struct {
	Query string `json:"query"`
}

type graphQLError struct {
	Message string `json:"message"`
}

type catalogResponse struct {
	Data struct {
		AllServiceTags struct {
			Nodes []json.RawMessage `json:"nodes"`
		} `json:"allServiceTags"`
	} `json:"data"`
	Errors []graphQLError `json:"errors"`
}

func (c *Client) fetch(ctx context.Context) ([]domain.ServicePayload, error) {
	body, err := json.Marshal(graphQLRequest{Query: catalogQuery})
	if err != nil {
		return nil, fmt.Errorf("failed to encode query: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", version.UserAgent())

	start := time.Now()
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("hub request failed: %w", err)
	}
	defer utils.Close(resp.Body)

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("hub returned %s: %s", resp.Status, strings.TrimSpace(string(snippet)))
	}

	var decoded catalogResponse
	if err := json.NewDecoder(io.LimitReader(resp.Body, maxResponseSize)).Decode(&decoded); err != nil {
		return nil, fmt.Errorf("failed to decode hub response: %w", err)
	}
	if len(decoded.Errors) > 0 {
		msgs := make([]string, 0, len(decoded.Errors))
		for _, e := range decoded.Errors {
			msgs = append(msgs, e.Message)
		}
		return nil, fmt.Errorf("hub query failed: %s", strings.Join(msgs, "; "))
	}

	nodes := decoded.Data.AllServiceTags.Nodes
	payloads := make([]domain.ServicePayload, 0, len(nodes))
	for i, node := range nodes {
		p, err := domain.ParsePayload(node)
		if err != nil {
			return nil, fmt.Errorf("node %d: %w", i, err)
		}
		payloads = append(payloads, p)
	}

	c.logger.Debug("fetched hub catalog",
		logger.Int("count", len(payloads)),
		logger.Duration("elapsed", time.Since(start)))

	return payloads, nil
}
