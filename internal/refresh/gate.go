package refresh

import (
	"fmt"
	"sync"
	"time"
)

// DefaultMinInterval is the minimum spacing between two successful refreshes.
const DefaultMinInterval = 60 * time.Second

// DefaultStaleAfter bounds how long TryAcquire waits on an in-flight refresh
// before it assumes that refresh was abandoned.
const DefaultStaleAfter = 2500 * time.Millisecond

// Phase is the lifecycle position of the shared refresh state.
type Phase int

const (
	PhaseIdle Phase = iota
	PhaseRefreshing
	PhaseRefreshed
)

func (p Phase) String() string {
	switch p {
	case PhaseIdle:
		return "idle"
	case PhaseRefreshing:
		return "refreshing"
	case PhaseRefreshed:
		return "refreshed"
	default:
		return fmt.Sprintf("phase(%d)", int(p))
	}
}

// Gate decides whether a refresh may run now. It admits at most one refresh
// at a time and no more than one successful refresh per minimum interval.
//
// A caller that finds a refresh in flight waits up to staleAfter for it to
// finish. If it does not, the in-flight refresh is considered abandoned and
// the caller is admitted anyway. The abandoned refresh may still complete
// later, so two refreshes can overlap in that case.
type Gate struct {
	minInterval time.Duration
	staleAfter  time.Duration
	now         func() time.Time

	// admit serializes whole admission decisions, bounded wait included.
	admit sync.Mutex

	mu          sync.Mutex
	phase       Phase
	lastRefresh time.Time
	released    chan struct{}

	onOverride func()
}

// NewGate returns an idle gate. A negative minInterval or a non-positive
// staleAfter falls back to its default. A zero minInterval admits a refresh
// whenever none is in flight.
func NewGate(minInterval, staleAfter time.Duration) *Gate {
	if minInterval < 0 {
		minInterval = DefaultMinInterval
	}
	if staleAfter <= 0 {
		staleAfter = DefaultStaleAfter
	}
	return &Gate{
		minInterval: minInterval,
		staleAfter:  staleAfter,
		now:         time.Now,
	}
}

// OnOverride registers a hook called each time a stale refresh is overridden.
func (g *Gate) OnOverride(fn func()) {
	g.mu.Lock()
	g.onOverride = fn
	g.mu.Unlock()
}

// TryAcquire reports whether the caller must run a refresh. A true result
// moves the gate into PhaseRefreshing and obliges the caller to Release.
func (g *Gate) TryAcquire() bool {
	g.admit.Lock()
	defer g.admit.Unlock()

	g.mu.Lock()
	if g.phase != PhaseRefreshing {
		due := g.lastRefresh.IsZero() || g.now().Sub(g.lastRefresh) >= g.minInterval
		if due {
			g.enterRefreshingLocked()
		}
		g.mu.Unlock()
		return due
	}
	wait := g.released
	g.mu.Unlock()

	timer := time.NewTimer(g.staleAfter)
	defer timer.Stop()

	select {
	case <-wait:
		return false
	case <-timer.C:
	}

	g.mu.Lock()
	if g.phase != PhaseRefreshing {
		g.mu.Unlock()
		return false
	}
	g.enterRefreshingLocked()
	hook := g.onOverride
	g.mu.Unlock()

	if hook != nil {
		hook()
	}
	return true
}

func (g *Gate) enterRefreshingLocked() {
	if g.released != nil {
		close(g.released)
	}
	g.phase = PhaseRefreshing
	g.released = make(chan struct{})
}

// Release leaves PhaseRefreshing. The refresh timestamp moves only on success,
// so a failed refresh can be retried immediately.
func (g *Gate) Release(success bool) {
	g.mu.Lock()
	defer g.mu.Unlock()

	g.phase = PhaseRefreshed
	if success {
		g.lastRefresh = g.now()
	}
	if g.released != nil {
		close(g.released)
		g.released = nil
	}
}

// Phase returns the current phase.
func (g *Gate) Phase() Phase {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.phase
}

// LastRefresh returns when the last successful refresh finished, and false
// if none has yet.
func (g *Gate) LastRefresh() (time.Time, bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.lastRefresh, !g.lastRefresh.IsZero()
}

// NextDue returns the earliest time a refresh will be admitted again, and
// false if no refresh has succeeded yet.
func (g *Gate) NextDue() (time.Time, bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.lastRefresh.IsZero() {
		return time.Time{}, false
	}
	return g.lastRefresh.Add(g.minInterval), true
}

// MinInterval returns the configured minimum refresh interval.
func (g *Gate) MinInterval() time.Duration {
	return g.minInterval
}
