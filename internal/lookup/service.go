package lookup

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/MrSnakeDoc/hubcache/internal/domain"
	"github.com/MrSnakeDoc/hubcache/internal/index"
	"github.com/MrSnakeDoc/hubcache/internal/logger"
	"github.com/MrSnakeDoc/hubcache/internal/metrics"
	"github.com/MrSnakeDoc/hubcache/internal/wrapper"
)

// ErrInvalidIdentity is returned when neither an alias nor an owner and
// name pair is given.
var ErrInvalidIdentity = errors.New("alias or owner and name required")

// Store is the read side of the local catalog.
type Store interface {
	SelectByAlias(ctx context.Context, alias string) (*domain.StoredService, error)
	SelectByOwnerAndName(ctx context.Context, owner, name string) (*domain.StoredService, error)
	Names(ctx context.Context) ([]string, error)
}

// Refresher triggers a resynchronization with the remote catalog.
type Refresher interface {
	Refresh(ctx context.Context) (bool, error)
}

// Adapter serves typed service views ahead of the store.
type Adapter interface {
	Get(id domain.Identity) (*wrapper.ServiceData, bool)
}

// Result is a found service. Exactly one of Record and Wrapped is set.
type Result struct {
	Record  *domain.ServiceRecord
	Wrapped *wrapper.ServiceData
}

// Value returns whichever representation is set.
func (r *Result) Value() any {
	if r.Wrapped != nil {
		return r.Wrapped
	}
	return r.Record
}

// Service answers lookups from the local store, falling back to a forced
// refresh when a service is not found locally.
type Service struct {
	store     Store
	refresher Refresher
	adapter   Adapter
	cache     *index.ResultCache[*Result]
	metrics   *metrics.Metrics
	logger    logger.Logger

	// retryMu serializes the miss path so concurrent misses trigger at most
	// one forced refresh between them.
	retryMu sync.Mutex
}

// Options holds the optional collaborators of a Service.
type Options struct {
	// Adapter, when set, is asked first and makes every result wrapped.
	Adapter Adapter
	Metrics *metrics.Metrics
}

// NewService creates a lookup service. cache must be the one the refresh
// pipeline invalidates.
func NewService(
	store Store,
	refresher Refresher,
	cache *index.ResultCache[*Result],
	log logger.Logger,
	opts Options,
) *Service {
	return &Service{
		store:     store,
		refresher: refresher,
		adapter:   opts.Adapter,
		cache:     cache,
		metrics:   opts.Metrics,
		logger:    log,
	}
}

// ListNames returns every alias and every owner/name of the stored services.
func (s *Service) ListNames(ctx context.Context) ([]string, error) {
	if names, ok := s.cache.Names(); ok {
		return names, nil
	}

	gen := s.cache.Generation()
	names, err := s.store.Names(ctx)
	if err != nil {
		return nil, err
	}
	s.cache.SetNamesAt(gen, names)

	return names, nil
}

// Get looks up a service. A nil result with a nil error means the service
// does not exist, even after a forced refresh. Only refresh and store
// failures are returned as errors.
func (s *Service) Get(ctx context.Context, alias, owner, name string, wrap bool) (*Result, error) {
	id := domain.ResolveIdentity(alias, owner, name)
	if !id.Valid() {
		return nil, ErrInvalidIdentity
	}

	key := index.LookupKey{Alias: alias, Owner: owner, Name: name, Wrap: wrap}
	if res, ok := s.cache.Lookup(key); ok {
		s.metrics.ObserveLookup(metrics.SourceCache)
		return res, nil
	}

	r, err := s.resolve(ctx, id, wrap)
	if err != nil {
		return nil, err
	}
	s.metrics.ObserveLookup(r.source)
	s.cache.SetLookupAt(r.gen, key, r.result)

	return r.result, nil
}

// resolution is the outcome of one uncached lookup. gen is the cache
// generation observed before the store read that produced result.
type resolution struct {
	result *Result
	source string
	gen    uint64
}

func (s *Service) resolve(ctx context.Context, id domain.Identity, wrap bool) (resolution, error) {
	r := resolution{gen: s.cache.Generation(), source: metrics.SourceStore}

	if s.adapter != nil {
		if data, ok := s.adapter.Get(id); ok {
			r.result, r.source = &Result{Wrapped: data}, metrics.SourceWrapper
			return r, nil
		}
	}

	stored, err := s.query(ctx, id)
	if err != nil {
		return r, err
	}
	if stored == nil {
		if stored, err = s.retryMiss(ctx, id, &r); err != nil {
			return r, err
		}
	}
	if stored == nil {
		r.source = metrics.SourceMiss
		return r, nil
	}

	if r.result, err = s.build(stored, wrap); err != nil {
		return r, err
	}
	return r, nil
}

// retryMiss handles a local miss: query again under the retry lock, then force
// one refresh and query a last time.
func (s *Service) retryMiss(ctx context.Context, id domain.Identity, r *resolution) (*domain.StoredService, error) {
	s.retryMu.Lock()
	defer s.retryMu.Unlock()

	r.gen = s.cache.Generation()
	stored, err := s.query(ctx, id)
	if err != nil || stored != nil {
		return stored, err
	}

	s.logger.Info("service not found locally, forcing refresh",
		logger.String("service", id.String()))

	ran, err := s.refresher.Refresh(ctx)
	if err != nil {
		return nil, fmt.Errorf("forced refresh for %s: %w", id, err)
	}
	if !ran {
		s.logger.Debug("forced refresh skipped by gate",
			logger.String("service", id.String()))
	}

	r.gen = s.cache.Generation()
	r.source = metrics.SourceForcedRefresh
	return s.query(ctx, id)
}

func (s *Service) query(ctx context.Context, id domain.Identity) (*domain.StoredService, error) {
	if id.ByAlias() {
		return s.store.SelectByAlias(ctx, id.Alias)
	}
	return s.store.SelectByOwnerAndName(ctx, id.Owner, id.Name)
}

func (s *Service) build(stored *domain.StoredService, wrap bool) (*Result, error) {
	if wrap || s.adapter != nil {
		data, err := wrapper.FromRaw([]byte(stored.RawData))
		if err != nil {
			return nil, fmt.Errorf("%w: %w", domain.ErrStoreFailure, err)
		}
		return &Result{Wrapped: data}, nil
	}

	rec, err := stored.Decode()
	if err != nil {
		return nil, fmt.Errorf("%w: %w", domain.ErrStoreFailure, err)
	}
	return &Result{Record: rec}, nil
}
