package refresh

import (
	"context"
	"fmt"
	"time"

	"github.com/MrSnakeDoc/hubcache/internal/domain"
	"github.com/MrSnakeDoc/hubcache/internal/logger"
	"github.com/MrSnakeDoc/hubcache/internal/metrics"
)

// Source fetches the full current catalog.
type Source interface {
	FetchAll(ctx context.Context) ([]domain.ServicePayload, error)
}

// Store replaces the local dataset in one transaction.
type Store interface {
	ReplaceAll(ctx context.Context, payloads []domain.ServicePayload) error
}

// Reloader rebuilds derived state from a freshly fetched snapshot before it
// is committed.
type Reloader interface {
	Reload(payloads []domain.ServicePayload) error
}

// Invalidator drops memoized lookup results.
type Invalidator interface {
	InvalidateAll()
}

// Mirror receives a best-effort copy of every committed snapshot.
type Mirror interface {
	SaveSnapshot(ctx context.Context, payloads []domain.ServicePayload, refreshedAt time.Time) error
}

// Options holds the optional collaborators of a Pipeline.
type Options struct {
	Reloader Reloader
	Mirror   Mirror
	Metrics  *metrics.Metrics
}

// Pipeline runs one full resynchronization: fetch, transactional replace,
// cache invalidation. Every run goes through the Gate.
type Pipeline struct {
	gate        *Gate
	source      Source
	store       Store
	invalidator Invalidator
	reloader    Reloader
	mirror      Mirror
	metrics     *metrics.Metrics
	logger      logger.Logger
}

// NewPipeline wires a pipeline around gate.
func NewPipeline(
	gate *Gate,
	source Source,
	store Store,
	invalidator Invalidator,
	log logger.Logger,
	opts Options,
) *Pipeline {
	gate.OnOverride(func() {
		log.Warn("previous refresh never finished, overriding it",
			logger.Duration("stale_after", gate.staleAfter))
		opts.Metrics.ObserveGateOverride()
	})
	return &Pipeline{
		gate:        gate,
		source:      source,
		store:       store,
		invalidator: invalidator,
		reloader:    opts.Reloader,
		mirror:      opts.Mirror,
		metrics:     opts.Metrics,
		logger:      log,
	}
}

// Gate returns the admission gate shared by every caller of the pipeline.
func (p *Pipeline) Gate() *Gate {
	return p.gate
}

// NextDue reports when the gate will next admit a refresh.
func (p *Pipeline) NextDue() (time.Time, bool) {
	return p.gate.NextDue()
}

// Refresh resynchronizes the local store if the gate admits it. It reports
// whether a refresh ran. A skipped refresh touches neither the network nor
// the store.
//
// ctx only bounds the wait for admission. Once admitted the refresh runs to
// completion even if ctx is cancelled.
func (p *Pipeline) Refresh(ctx context.Context) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	if !p.gate.TryAcquire() {
		p.logger.Debug("refresh skipped", logger.String("phase", p.gate.Phase().String()))
		p.metrics.ObserveRefresh(metrics.OutcomeSkipped, 0)
		return false, nil
	}

	start := time.Now()
	success := false
	defer func() {
		p.gate.Release(success)
		outcome := metrics.OutcomeFailed
		if success {
			outcome = metrics.OutcomeExecuted
		}
		p.metrics.ObserveRefresh(outcome, time.Since(start))
	}()

	n, err := p.run(context.WithoutCancel(ctx))
	if err != nil {
		p.logger.Error("catalog refresh failed",
			logger.Duration("elapsed", time.Since(start)),
			logger.Error(err))
		return true, err
	}
	success = true

	p.logger.Info("catalog refreshed",
		logger.Int("count", n),
		logger.Duration("elapsed", time.Since(start)))

	return true, nil
}

func (p *Pipeline) run(ctx context.Context) (int, error) {
	payloads, err := p.source.FetchAll(ctx)
	if err != nil {
		return 0, fmt.Errorf("%w: %w", domain.ErrTransportFailure, err)
	}

	if p.reloader != nil {
		if err := p.reloader.Reload(payloads); err != nil {
			p.logger.Warn("service wrapper rejected snapshot",
				logger.Int("count", len(payloads)),
				logger.Error(err))
		}
	}

	if err := p.store.ReplaceAll(ctx, payloads); err != nil {
		return 0, err
	}

	p.invalidator.InvalidateAll()
	p.metrics.SetRecords(len(payloads))

	if p.mirror != nil {
		if err := p.mirror.SaveSnapshot(ctx, payloads, time.Now()); err != nil {
			p.logger.Warn("failed to mirror snapshot",
				logger.Error(err))
		}
	}

	return len(payloads), nil
}
