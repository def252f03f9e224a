package scheduler

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/MrSnakeDoc/hubcache/internal/logger"
)

// Refresher runs one gated catalog refresh.
type Refresher interface {
	Refresh(ctx context.Context) (bool, error)
}

// dueReporter is implemented by refreshers that know when their next
// refresh will be admitted.
type dueReporter interface {
	NextDue() (time.Time, bool)
}

// AutoRefresher invokes the refresh pipeline periodically and on manual trigger.
type AutoRefresher struct {
	refresher     Refresher
	logger        logger.Logger
	interval      time.Duration
	stopCh        chan struct{}
	stopOnce      sync.Once
	started       atomic.Bool
	done          chan struct{}
	manualTrigger <-chan struct{}
}

// NewAutoRefresher creates a new auto refresher. A non-positive interval
// disables the periodic refresh; manual triggers are still served.
func NewAutoRefresher(
	refresher Refresher,
	log logger.Logger,
	interval time.Duration,
	manualTrigger <-chan struct{},
) *AutoRefresher {
	return &AutoRefresher{
		refresher:     refresher,
		logger:        log,
		interval:      interval,
		stopCh:        make(chan struct{}),
		done:          make(chan struct{}),
		manualTrigger: manualTrigger,
	}
}

// Start refreshes once (when periodic refresh is enabled) and then serves
// the periodic schedule and manual triggers in the background. Failures
// are logged.
//
// The next periodic run is armed after each run, for the moment the gate
// admits a refresh again, so no run lands inside the minimum interval
// measured from the end of the previous refresh.
func (ar *AutoRefresher) Start(ctx context.Context) {
	var (
		timer *time.Timer
		due   <-chan time.Time
	)
	if ar.interval > 0 {
		ar.RunOnce(ctx, "startup")
		timer = time.NewTimer(ar.nextWait())
		due = timer.C
	}

	ar.started.Store(true)
	go func() {
		defer close(ar.done)
		if timer != nil {
			defer timer.Stop()
		}
		for {
			select {
			case <-due:
				ar.RunOnce(ctx, "interval")
				timer.Reset(ar.nextWait())
			case <-ar.manualTrigger:
				ar.logger.Info("manual refresh triggered")
				ar.RunOnce(ctx, "manual")
				if timer != nil {
					timer.Reset(ar.nextWait())
				}
			case <-ar.stopCh:
				return
			case <-ctx.Done():
				return
			}
		}
	}()
}

// nextWait is the delay before the next periodic run: until the refresher's
// next admission when it reports one in the future, the full interval
// otherwise (no success yet, or the next admission is already past).
func (ar *AutoRefresher) nextWait() time.Duration {
	if dr, ok := ar.refresher.(dueReporter); ok {
		if next, ok := dr.NextDue(); ok {
			if wait := time.Until(next); wait > 0 && wait <= ar.interval {
				return wait
			}
		}
	}
	return ar.interval
}

// RunOnce runs a single refresh and logs its outcome.
func (ar *AutoRefresher) RunOnce(ctx context.Context, reason string) {
	ran, err := ar.refresher.Refresh(ctx)
	switch {
	case err != nil:
		ar.logger.Error("failed to refresh catalog",
			logger.String("reason", reason),
			logger.Error(err))
	case !ran:
		ar.logger.Debug("catalog refresh skipped",
			logger.String("reason", reason))
	}
}

// Stop stops the background loop and waits for an in-flight refresh to end.
func (ar *AutoRefresher) Stop() {
	ar.stopOnce.Do(func() { close(ar.stopCh) })
	if ar.started.Load() {
		<-ar.done
	}
}
