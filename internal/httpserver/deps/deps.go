package deps

import (
	"context"
	"net/http"
	"time"

	"github.com/MrSnakeDoc/hubcache/internal/logger"
	"github.com/MrSnakeDoc/hubcache/internal/lookup"
	"github.com/MrSnakeDoc/hubcache/internal/refresh"
)

// Lookup serves catalog queries.
type Lookup interface {
	ListNames(ctx context.Context) ([]string, error)
	Get(ctx context.Context, alias, owner, name string, wrap bool) (*lookup.Result, error)
}

// RefreshStatus exposes the state of the refresh gate.
type RefreshStatus interface {
	Phase() refresh.Phase
	LastRefresh() (time.Time, bool)
	MinInterval() time.Duration
}

// RecordCounter counts the services in the local store.
type RecordCounter interface {
	Count(ctx context.Context) (int64, error)
}

// MirrorStatus reports on the redis snapshot mirror.
type MirrorStatus interface {
	Ping(ctx context.Context) error
	SnapshotSize(ctx context.Context) (int, error)
}

// SourceStatus reports on the remote catalog source.
type SourceStatus interface {
	BreakerState() string
}

type Deps struct {
	Logger    logger.Logger
	StartTime time.Time
	Version   string
	Commit    string
	BuildDate string
	GoVersion string
	TimeNow   func() time.Time // for testing, defaults to time.Now

	AllowedHosts []string // Host headers allowed on admin routes
	AllowedCIDRS []string // IPs allowed on admin and probe routes
	TrustProxy   bool     // true if running behind a trusted reverse proxy (e.g., cloudflared)

	RateLimitBurst     int // lookup burst per client IP
	RateLimitPerMinute int // lookup refill per client IP

	Lookup         Lookup
	Refresh        RefreshStatus
	Store          RecordCounter
	StorePath      string
	Mirror         MirrorStatus  // nil when the mirror is disabled
	Source         SourceStatus  // nil when the source has no breaker
	SourceName     string        // "hub" or "file"
	ReloadTrigger  chan struct{} // Channel to trigger manual refresh
	MetricsHandler http.Handler  // nil disables /metrics
}

// Now returns the current time using TimeNow when set.
func (d Deps) Now() time.Time {
	if d.TimeNow != nil {
		return d.TimeNow()
	}
	return time.Now()
}
