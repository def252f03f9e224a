package scheduler

import (
	"context"
	"fmt"
	"time"

	"github.com/MrSnakeDoc/hubcache/internal/domain"
	"github.com/MrSnakeDoc/hubcache/internal/logger"
)

// SnapshotSource is where a previously committed snapshot is read back from.
type SnapshotSource interface {
	LoadSnapshot(ctx context.Context) ([]domain.ServicePayload, time.Time, error)
}

// LocalStore is the part of the local catalog the syncer writes to.
type LocalStore interface {
	Count(ctx context.Context) (int64, error)
	ReplaceAll(ctx context.Context, payloads []domain.ServicePayload) error
}

// Reloader rebuilds derived state from a snapshot.
type Reloader interface {
	Reload(payloads []domain.ServicePayload) error
}

// Invalidator drops memoized lookup results.
type Invalidator interface {
	InvalidateAll()
}

// MirrorSyncer seeds an empty local store from the redis snapshot mirror on
// startup. It never touches the refresh gate, so the first scheduled refresh
// still runs.
type MirrorSyncer struct {
	mirror      SnapshotSource
	store       LocalStore
	reloader    Reloader
	invalidator Invalidator
	logger      logger.Logger
}

// NewMirrorSyncer creates a new mirror syncer. reloader may be nil.
func NewMirrorSyncer(
	mirror SnapshotSource,
	store LocalStore,
	reloader Reloader,
	invalidator Invalidator,
	log logger.Logger,
) *MirrorSyncer {
	return &MirrorSyncer{
		mirror:      mirror,
		store:       store,
		reloader:    reloader,
		invalidator: invalidator,
		logger:      log,
	}
}

// Sync copies the mirrored snapshot into the local store if the store is
// empty. It reports whether anything was copied.
func (ms *MirrorSyncer) Sync(ctx context.Context) (bool, error) {
	count, err := ms.store.Count(ctx)
	if err != nil {
		return false, err
	}
	if count > 0 {
		ms.logger.Debug("local store already populated, skipping mirror sync",
			logger.Int("count", int(count)))
		return false, nil
	}

	payloads, refreshedAt, err := ms.mirror.LoadSnapshot(ctx)
	if err != nil {
		return false, fmt.Errorf("failed to load mirrored snapshot: %w", err)
	}
	if len(payloads) == 0 {
		ms.logger.Info("no snapshot found in mirror")
		return false, nil
	}

	if ms.reloader != nil {
		if err := ms.reloader.Reload(payloads); err != nil {
			ms.logger.Warn("service wrapper rejected mirrored snapshot",
				logger.Error(err))
		}
	}

	if err := ms.store.ReplaceAll(ctx, payloads); err != nil {
		return false, err
	}
	ms.invalidator.InvalidateAll()

	ms.logger.Info("seeded local store from mirror",
		logger.Int("count", len(payloads)),
		logger.Time("refreshed_at", refreshedAt))

	return true, nil
}
