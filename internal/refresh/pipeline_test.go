package refresh

import (
	"context"
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
	"github.com/MrSnakeDoc/hubcache/internal/logger"
	"github.com/MrSnakeDoc/hubcache/internal/metrics"
)

// recorder collects the order in which collaborators are called.
type recorder struct {
	mu    sync.Mutex
	steps []string
}

func (r *recorder) add(step string) {
	r.mu.Lock()
	r.steps = append(r.steps, step)
	r.mu.Unlock()
}

func (r *recorder) all() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.steps...)
}

type fakeSource struct {
	rec      *recorder
	payloads []domain.ServicePayload
	err      error
	delay    time.Duration
	calls    atomic.Int32
}

func (s *fakeSource) FetchAll(ctx context.Context) ([]domain.ServicePayload, error) {
	s.calls.Add(1)
	s.rec.add("fetch")
	if s.delay > 0 {
		time.Sleep(s.delay)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return s.payloads, s.err
}

type fakeStore struct {
	rec  *recorder
	err  error
	mu   sync.Mutex
	data []domain.ServicePayload
}

func (s *fakeStore) ReplaceAll(_ context.Context, payloads []domain.ServicePayload) error {
	s.rec.add("replace")
	if s.err != nil {
		return s.err
	}
	s.mu.Lock()
	s.data = payloads
	s.mu.Unlock()
	return nil
}

type fakeInvalidator struct {
	rec   *recorder
	calls atomic.Int32
}

func (i *fakeInvalidator) InvalidateAll() {
	i.calls.Add(1)
	i.rec.add("invalidate")
}

type fakeReloader struct {
	rec  *recorder
	err  error
	seen []domain.ServicePayload
}

func (r *fakeReloader) Reload(payloads []domain.ServicePayload) error {
	r.rec.add("reload")
	r.seen = payloads
	return r.err
}

type fakeMirror struct {
	rec *recorder
	err error
}

func (m *fakeMirror) SaveSnapshot(context.Context, []domain.ServicePayload, time.Time) error {
	m.rec.add("mirror")
	return m.err
}

type fixture struct {
	rec         *recorder
	source      *fakeSource
	store       *fakeStore
	invalidator *fakeInvalidator
	reloader    *fakeReloader
	mirror      *fakeMirror
	registry    *prometheus.Registry
	pipeline    *Pipeline
}

func newFixture(t *testing.T, minInterval time.Duration) *fixture {
	t.Helper()

	rec := &recorder{}
	f := &fixture{
		rec: rec,
		source: &fakeSource{rec: rec, payloads: []domain.ServicePayload{
			domaintest.Payload("acme", "widget", "w"),
		}},
		store:       &fakeStore{rec: rec},
		invalidator: &fakeInvalidator{rec: rec},
		reloader:    &fakeReloader{rec: rec},
		mirror:      &fakeMirror{rec: rec},
		registry:    prometheus.NewRegistry(),
	}
	f.pipeline = NewPipeline(
		NewGate(minInterval, 5*time.Second),
		f.source,
		f.store,
		f.invalidator,
		logger.Nop(),
		Options{
			Reloader: f.reloader,
			Mirror:   f.mirror,
			Metrics:  metrics.New(f.registry),
		},
	)
	return f
}

func TestRefreshRunsStepsInOrder(t *testing.T) {
	f := newFixture(t, time.Hour)

	ran, err := f.pipeline.Refresh(context.Background())
	require.NoError(t, err)
	assert.True(t, ran)

	assert.Equal(t, []string{"fetch", "reload", "replace", "invalidate", "mirror"}, f.rec.all())
	assert.Len(t, f.store.data, 1)
	assert.Equal(t, f.source.payloads, f.reloader.seen)
	assert.Equal(t, PhaseRefreshed, f.pipeline.Gate().Phase())
}

func TestRefreshTwiceWithinIntervalFetchesOnce(t *testing.T) {
	f := newFixture(t, time.Hour)

	ran, err := f.pipeline.Refresh(context.Background())
	require.NoError(t, err)
	require.True(t, ran)

	ran, err = f.pipeline.Refresh(context.Background())
	require.NoError(t, err)
	assert.False(t, ran)

	assert.Equal(t, int32(1), f.source.calls.Load())
	assert.Equal(t, int32(1), f.invalidator.calls.Load())

	expected := `
# HELP hubcache_refresh_total Refresh attempts by outcome
# TYPE hubcache_refresh_total counter
hubcache_refresh_total{outcome="executed"} 1
hubcache_refresh_total{outcome="skipped"} 1
`
	assert.NoError(t, testutil.GatherAndCompare(f.registry, strings.NewReader(expected), "hubcache_refresh_total"))
}

func TestRefreshTransportFailureReleasesGate(t *testing.T) {
	f := newFixture(t, time.Hour)
	f.source.err = errors.New("connection refused")

	ran, err := f.pipeline.Refresh(context.Background())
	require.Error(t, err)
	assert.True(t, ran)
	assert.ErrorIs(t, err, domain.ErrTransportFailure)

	assert.Equal(t, []string{"fetch"}, f.rec.all())
	assert.Equal(t, PhaseRefreshed, f.pipeline.Gate().Phase())
	_, ok := f.pipeline.Gate().LastRefresh()
	assert.False(t, ok)

	// A failed refresh does not count toward the interval.
	f.source.err = nil
	ran, err = f.pipeline.Refresh(context.Background())
	require.NoError(t, err)
	assert.True(t, ran)
	assert.Equal(t, int32(2), f.source.calls.Load())
}

func TestRefreshStoreFailureSkipsInvalidation(t *testing.T) {
	f := newFixture(t, time.Hour)
	f.store.err = errors.Join(domain.ErrStoreFailure, errors.New("UNIQUE constraint failed"))

	_, err := f.pipeline.Refresh(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrStoreFailure)

	assert.Equal(t, []string{"fetch", "reload", "replace"}, f.rec.all())
	assert.Equal(t, int32(0), f.invalidator.calls.Load())
	assert.Equal(t, PhaseRefreshed, f.pipeline.Gate().Phase())
}

func TestRefreshSideEffectFailuresDoNotFailCommit(t *testing.T) {
	f := newFixture(t, time.Hour)
	f.reloader.err = errors.New("bad action")
	f.mirror.err = errors.New("redis down")

	ran, err := f.pipeline.Refresh(context.Background())
	require.NoError(t, err)
	assert.True(t, ran)
	assert.Len(t, f.store.data, 1)
	assert.Equal(t, int32(1), f.invalidator.calls.Load())
}

func TestRefreshWithoutOptionalCollaborators(t *testing.T) {
	rec := &recorder{}
	source := &fakeSource{rec: rec}
	store := &fakeStore{rec: rec}
	inv := &fakeInvalidator{rec: rec}

	p := NewPipeline(NewGate(time.Hour, time.Second), source, store, inv, logger.Nop(), Options{})

	ran, err := p.Refresh(context.Background())
	require.NoError(t, err)
	assert.True(t, ran)
	assert.Equal(t, []string{"fetch", "replace", "invalidate"}, rec.all())
}

func TestRefreshCancelledBeforeAdmission(t *testing.T) {
	f := newFixture(t, time.Hour)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	ran, err := f.pipeline.Refresh(ctx)
	assert.ErrorIs(t, err, context.Canceled)
	assert.False(t, ran)
	assert.Equal(t, int32(0), f.source.calls.Load())
	assert.Equal(t, PhaseIdle, f.pipeline.Gate().Phase())
}

func TestRefreshNotCancellableOnceAdmitted(t *testing.T) {
	f := newFixture(t, time.Hour)
	f.source.delay = 30 * time.Millisecond

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(5 * time.Millisecond)
		cancel()
	}()

	ran, err := f.pipeline.Refresh(ctx)
	require.NoError(t, err)
	assert.True(t, ran)
	assert.Len(t, f.store.data, 1)
}

func TestConcurrentRefreshesFetchOnce(t *testing.T) {
	f := newFixture(t, time.Hour)
	f.source.delay = 50 * time.Millisecond

	const callers = 16
	var (
		wg       sync.WaitGroup
		executed atomic.Int32
	)
	for range callers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			ran, err := f.pipeline.Refresh(context.Background())
			assert.NoError(t, err)
			if ran {
				executed.Add(1)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(1), executed.Load())
	assert.Equal(t, int32(1), f.source.calls.Load())
}
