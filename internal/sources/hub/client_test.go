package hub

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/sony/gobreaker/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/MrSnakeDoc/hubcache/internal/logger"
)

const catalogBody = `{
  "data": {
    "allServiceTags": {
      "nodes": [
        {
          "service": {
            "name": "widget",
            "alias": "w",
            "owner": {"username": "acme"},
            "topics": ["a", "b"],
            "description": "A widget",
            "isCertified": true,
            "public": true
          },
          "serviceUuid": "4f8c1c4e-2a47-4b6a-9f57-0c8a3b6d8e21",
          "state": "STABLE",
          "configuration": {"x": 1},
          "readme": "# widget",
          "pullUrl": "registry/widget"
        }
      ]
    }
  }
}`

func newTestClient(t *testing.T, handler http.HandlerFunc) (*Client, *atomic.Int32) {
	t.Helper()

	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		handler(w, r)
	}))
	t.Cleanup(srv.Close)

	c := New(Options{
		URL:              srv.URL,
		Timeout:          time.Second,
		FailureThreshold: 2,
		OpenTimeout:      time.Minute,
	}, logger.Nop())
	return c, &hits
}

func TestFetchAll(t *testing.T) {
	c, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))

		var req graphQLRequest
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Contains(t, req.Query, `allServiceTags(condition: {tag: "latest"})`)

		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(catalogBody))
	})

	payloads, err := c.FetchAll(context.Background())
	require.NoError(t, err)
	require.Len(t, payloads, 1)

	p := payloads[0]
	assert.Equal(t, "4f8c1c4e-2a47-4b6a-9f57-0c8a3b6d8e21", p.ServiceUUID)
	assert.Equal(t, "widget", p.Service.Name)
	assert.Equal(t, "w", p.Service.Alias)
	assert.Equal(t, "acme", p.Service.Owner.Username)
	assert.Equal(t, []string{"a", "b"}, p.Service.Topics)
	assert.True(t, p.Service.IsCertified)
	assert.JSONEq(t, `{"x":1}`, string(p.Configuration))

	raw, err := json.Marshal(p)
	require.NoError(t, err)
	assert.Contains(t, string(raw), `"pullUrl"`, "unmodelled fields are kept in the raw payload")
}

func TestFetchAllFailures(t *testing.T) {
	tests := []struct {
		name    string
		status  int
		body    string
		wantErr string
	}{
		{"server error", http.StatusInternalServerError, "boom", "hub returned 500"},
		{"bad json", http.StatusOK, "{", "failed to decode hub response"},
		{"graphql errors", http.StatusOK, `{"errors":[{"message":"syntax"},{"message":"auth"}]}`, "hub query failed: syntax; auth"},
		{"bad node", http.StatusOK, `{"data":{"allServiceTags":{"nodes":[{"service":"nope"}]}}}`, "node 0"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c, _ := newTestClient(t, func(w http.ResponseWriter, _ *http.Request) {
				w.WriteHeader(tt.status)
				_, _ = w.Write([]byte(tt.body))
			})

			_, err := c.FetchAll(context.Background())
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestFetchAllEmptyCatalog(t *testing.T) {
	c, _ := newTestClient(t, func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`{"data":{"allServiceTags":{"nodes":[]}}}`))
	})

	payloads, err := c.FetchAll(context.Background())
	require.NoError(t, err)
	assert.Empty(t, payloads)
}

func TestBreakerOpensAfterConsecutiveFailures(t *testing.T) {
	c, hits := newTestClient(t, func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	})

	for range 2 {
		_, err := c.FetchAll(context.Background())
		require.Error(t, err)
	}
	assert.Equal(t, "open", c.BreakerState())

	_, err := c.FetchAll(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, gobreaker.ErrOpenState)
	assert.Equal(t, int32(2), hits.Load(), "an open breaker does not reach the hub")
}

func TestFetchAllHonoursContext(t *testing.T) {
	c, _ := newTestClient(t, func(w http.ResponseWriter, _ *http.Request) {
		time.Sleep(200 * time.Millisecond)
		_, _ = w.Write([]byte(catalogBody))
	})

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	_, err := c.FetchAll(ctx)
	require.Error(t, err)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}
