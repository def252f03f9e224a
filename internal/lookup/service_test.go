package lookup

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/MrSnakeDoc/hubcache/internal/domain"
	"github.com/MrSnakeDoc/hubcache/internal/domain/domaintest"
	"github.com/MrSnakeDoc/hubcache/internal/index"
	"github.com/MrSnakeDoc/hubcache/internal/logger"
	"github.com/MrSnakeDoc/hubcache/internal/metrics"
	"github.com/MrSnakeDoc/hubcache/internal/refresh"
	"github.com/MrSnakeDoc/hubcache/internal/store/sqlite"
	"github.com/MrSnakeDoc/hubcache/internal/wrapper"
)

type countingSource struct {
	mu       sync.Mutex
	payloads []domain.ServicePayload
	err      error
	calls    atomic.Int32
}

func (s *countingSource) FetchAll(context.Context) ([]domain.ServicePayload, error) {
	s.calls.Add(1)
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.payloads, s.err
}

func (s *countingSource) set(payloads []domain.ServicePayload, err error) {
	s.mu.Lock()
	s.payloads, s.err = payloads, err
	s.mu.Unlock()
}

type harness struct {
	source   *countingSource
	store    *sqlite.Store
	cache    *index.ResultCache[*Result]
	pipeline *refresh.Pipeline
	wrapper  *wrapper.Wrapper
	registry *prometheus.Registry
	service  *Service
}

type harnessOpts struct {
	minInterval time.Duration
	withWrapper bool
}

func newHarness(t *testing.T, opts harnessOpts) *harness {
	t.Helper()

	ctx := context.Background()
	store, err := sqlite.Open(ctx, t.TempDir(), logger.Nop())
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	cache, err := index.NewResultCache[*Result](time.Minute, 64)
	require.NoError(t, err)
	t.Cleanup(cache.Close)

	h := &harness{
		source:   &countingSource{},
		store:    store,
		cache:    cache,
		registry: prometheus.NewRegistry(),
	}
	m := metrics.New(h.registry)

	pipelineOpts := refresh.Options{Metrics: m}
	serviceOpts := Options{Metrics: m}
	if opts.withWrapper {
		h.wrapper = wrapper.New()
		pipelineOpts.Reloader = h.wrapper
		serviceOpts.Adapter = h.wrapper
	}

	h.pipeline = refresh.NewPipeline(
		refresh.NewGate(opts.minInterval, time.Second),
		h.source, store, cache, logger.Nop(), pipelineOpts,
	)
	h.service = NewService(store, h.pipeline, cache, logger.Nop(), serviceOpts)
	return h
}

func widget() domain.ServicePayload {
	return domaintest.Payload("acme", "widget", "w")
}

func TestGetForcesRefreshOnEmptyStore(t *testing.T) {
	h := newHarness(t, harnessOpts{minInterval: time.Hour})
	h.source.set([]domain.ServicePayload{widget()}, nil)
	ctx := context.Background()

	byAlias, err := h.service.Get(ctx, "w", "", "", false)
	require.NoError(t, err)
	require.NotNil(t, byAlias)
	require.NotNil(t, byAlias.Record)
	assert.Equal(t, "widget", byAlias.Record.Name)
	assert.Equal(t, "acme", byAlias.Record.Owner)
	assert.Equal(t, int32(1), h.source.calls.Load())

	byName, err := h.service.Get(ctx, "", "acme", "widget", false)
	require.NoError(t, err)
	require.NotNil(t, byName)
	assert.Equal(t, byAlias.Record.UUID, byName.Record.UUID)
	assert.Equal(t, int32(1), h.source.calls.Load(), "a store hit never refreshes")
}

func TestGetNonexistentForcesExactlyOneFetch(t *testing.T) {
	h := newHarness(t, harnessOpts{})
	h.source.set([]domain.ServicePayload{widget()}, nil)

	res, err := h.service.Get(context.Background(), "nonexistent", "", "", false)
	require.NoError(t, err)
	assert.Nil(t, res)
	assert.Equal(t, int32(1), h.source.calls.Load())

	// The miss is memoized.
	res, err = h.service.Get(context.Background(), "nonexistent", "", "", false)
	require.NoError(t, err)
	assert.Nil(t, res)
	assert.Equal(t, int32(1), h.source.calls.Load())
}

func TestGetQualifiedAliasResolvesAsOwnerAndName(t *testing.T) {
	h := newHarness(t, harnessOpts{minInterval: time.Hour})
	h.source.set([]domain.ServicePayload{widget()}, nil)
	ctx := context.Background()

	_, err := h.pipeline.Refresh(ctx)
	require.NoError(t, err)

	res, err := h.service.Get(ctx, "acme/widget", "", "", false)
	require.NoError(t, err)
	require.NotNil(t, res)
	assert.Equal(t, "widget", res.Record.Name)
	assert.Equal(t, int32(1), h.source.calls.Load())
}

func TestGetRoundTripsStructuredFields(t *testing.T) {
	h := newHarness(t, harnessOpts{minInterval: time.Hour})
	p := widget()
	p.Service.Topics = []string{"a", "b"}
	p.Configuration = json.RawMessage(`{"x":1}`)
	h.source.set([]domain.ServicePayload{p}, nil)

	res, err := h.service.Get(context.Background(), "w", "", "", false)
	require.NoError(t, err)
	require.NotNil(t, res)

	assert.Equal(t, []string{"a", "b"}, res.Record.Topics)
	assert.Equal(t, map[string]any{"x": float64(1)}, res.Record.Configuration)
	assert.Equal(t, domain.StateBeta, res.Record.State)
}

func TestCachedMissIsDroppedByRefresh(t *testing.T) {
	h := newHarness(t, harnessOpts{})
	ctx := context.Background()

	res, err := h.service.Get(ctx, "w", "", "", false)
	require.NoError(t, err)
	require.Nil(t, res)

	h.source.set([]domain.ServicePayload{widget()}, nil)
	ran, err := h.pipeline.Refresh(ctx)
	require.NoError(t, err)
	require.True(t, ran)

	res, err = h.service.Get(ctx, "w", "", "", false)
	require.NoError(t, err)
	require.NotNil(t, res, "stale cached miss must not survive a refresh")
	assert.Equal(t, "widget", res.Record.Name)
}

func TestGetPropagatesTransportFailure(t *testing.T) {
	h := newHarness(t, harnessOpts{})
	h.source.set(nil, errors.New("connection reset"))

	res, err := h.service.Get(context.Background(), "w", "", "", false)
	require.Error(t, err)
	assert.Nil(t, res)
	assert.ErrorIs(t, err, domain.ErrTransportFailure)

	// Errors are not memoized.
	h.source.set([]domain.ServicePayload{widget()}, nil)
	res, err = h.service.Get(context.Background(), "w", "", "", false)
	require.NoError(t, err)
	assert.NotNil(t, res)
}

func TestGetRejectsMissingIdentity(t *testing.T) {
	h := newHarness(t, harnessOpts{})

	tests := []struct {
		name              string
		alias, owner, svc string
	}{
		{"nothing", "", "", ""},
		{"owner only", "", "acme", ""},
		{"name only", "", "", "widget"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := h.service.Get(context.Background(), tt.alias, tt.owner, tt.svc, false)
			assert.ErrorIs(t, err, ErrInvalidIdentity)
		})
	}
	assert.Equal(t, int32(0), h.source.calls.Load())
}

func TestGetWrapsOnRequest(t *testing.T) {
	h := newHarness(t, harnessOpts{minInterval: time.Hour})
	p := widget()
	p.Configuration = json.RawMessage(`{"actions":{"ping":{"help":"Ping"}}}`)
	h.source.set([]domain.ServicePayload{p}, nil)
	ctx := context.Background()

	plain, err := h.service.Get(ctx, "w", "", "", false)
	require.NoError(t, err)
	require.NotNil(t, plain.Record)
	assert.Nil(t, plain.Wrapped)

	wrapped, err := h.service.Get(ctx, "w", "", "", true)
	require.NoError(t, err)
	require.NotNil(t, wrapped.Wrapped)
	assert.Nil(t, wrapped.Record)
	assert.Equal(t, "widget", wrapped.Wrapped.Name)
	require.Len(t, wrapped.Wrapped.Actions, 1)
	assert.Equal(t, "ping", wrapped.Wrapped.Actions[0].Name)
	assert.Same(t, wrapped.Wrapped, wrapped.Value())
}

func TestGetWithAdapterAnswersFromWrapper(t *testing.T) {
	h := newHarness(t, harnessOpts{minInterval: time.Hour, withWrapper: true})
	h.source.set([]domain.ServicePayload{widget()}, nil)
	ctx := context.Background()

	_, err := h.pipeline.Refresh(ctx)
	require.NoError(t, err)
	require.Equal(t, 1, h.wrapper.Len())

	res, err := h.service.Get(ctx, "w", "", "", false)
	require.NoError(t, err)
	require.NotNil(t, res.Wrapped)

	expected := `
# HELP hubcache_lookup_total Lookups by the source that answered them
# TYPE hubcache_lookup_total counter
hubcache_lookup_total{source="wrapper"} 1
`
	assert.NoError(t, testutil.GatherAndCompare(h.registry, strings.NewReader(expected), "hubcache_lookup_total"))
}

func TestGetWithAdapterWrapsStoreResults(t *testing.T) {
	h := newHarness(t, harnessOpts{minInterval: time.Hour, withWrapper: true})
	ctx := context.Background()

	// Commit directly so the wrapper never sees the snapshot.
	require.NoError(t, h.store.ReplaceAll(ctx, []domain.ServicePayload{widget()}))

	res, err := h.service.Get(ctx, "", "acme", "widget", false)
	require.NoError(t, err)
	require.NotNil(t, res)
	require.NotNil(t, res.Wrapped, "a configured adapter wraps every result")
	assert.Equal(t, int32(0), h.source.calls.Load())
}

func TestListNames(t *testing.T) {
	h := newHarness(t, harnessOpts{})
	ctx := context.Background()
	h.source.set([]domain.ServicePayload{
		domaintest.Payload("acme", "widget", "w"),
		domaintest.Payload("acme", "gadget", ""),
	}, nil)

	_, err := h.pipeline.Refresh(ctx)
	require.NoError(t, err)

	names, err := h.service.ListNames(ctx)
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"w", "acme/widget", "acme/gadget"}, names)

	// Memoized until the next refresh.
	require.NoError(t, h.store.ReplaceAll(ctx, nil))
	names, err = h.service.ListNames(ctx)
	require.NoError(t, err)
	assert.Len(t, names, 3)

	h.source.set([]domain.ServicePayload{domaintest.Payload("other", "thing", "t")}, nil)
	_, err = h.pipeline.Refresh(ctx)
	require.NoError(t, err)

	names, err = h.service.ListNames(ctx)
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"t", "other/thing"}, names)
}

func TestConcurrentMissesShareOneRefresh(t *testing.T) {
	h := newHarness(t, harnessOpts{minInterval: time.Hour})
	h.source.set([]domain.ServicePayload{widget()}, nil)

	var wg sync.WaitGroup
	for range 8 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			res, err := h.service.Get(context.Background(), "w", "", "", false)
			assert.NoError(t, err)
			assert.NotNil(t, res)
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(1), h.source.calls.Load())
}
