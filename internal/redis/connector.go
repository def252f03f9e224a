package redis

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/MrSnakeDoc/hubcache/internal/logger"
	"github.com/MrSnakeDoc/hubcache/internal/utils"
)

// ConnectOptions defines how the snapshot mirror connects to redis.
type ConnectOptions struct {
	Addr           string        // Redis address (ex: "localhost:6379")
	User           string        // Optional username
	Password       string        // Optional password
	RedisDB        int           // Redis DB number
	DialTimeout    time.Duration // Redis dial timeout
	ReadTimeout    time.Duration // Redis read timeout
	WriteTimeout   time.Duration // Redis write timeout
	PoolSize       int           // Redis connection pool size
	ConnectTimeout time.Duration // Total time allowed for connection attempts (ex: 30s)
	RetryInterval  time.Duration // Wait after the first failed attempt, doubled on each retry
	MaxWait        time.Duration // Cap on the wait between attempts (ex: 10s)
	PingTimeout    time.Duration // Timeout of each ping attempt (ex: 2s)
	WarnThreshold  int           // Failed attempts logged at debug before switching to warn
}

// Validate reports every invalid setting at once.
func (o ConnectOptions) Validate() error {
	var errs []error
	if o.Addr == "" {
		errs = append(errs, errors.New("address is required"))
	}
	for _, d := range []struct {
		name  string
		value time.Duration
	}{
		{"ConnectTimeout", o.ConnectTimeout},
		{"RetryInterval", o.RetryInterval},
		{"MaxWait", o.MaxWait},
		{"PingTimeout", o.PingTimeout},
	} {
		if d.value <= 0 {
			errs = append(errs, fmt.Errorf("%s must be > 0, got %v", d.name, d.value))
		}
	}
	if o.WarnThreshold < 0 {
		errs = append(errs, fmt.Errorf("WarnThreshold must be >= 0, got %d", o.WarnThreshold))
	}

	if err := errors.Join(errs...); err != nil {
		return fmt.Errorf("invalid redis options: %w", err)
	}
	return nil
}

// backoff returns the wait after the given failed attempt (1-based).
func (o ConnectOptions) backoff(attempt int) time.Duration {
	wait := o.RetryInterval
	for i := 1; i < attempt && wait < o.MaxWait; i++ {
		wait *= 2
	}
	return min(wait, o.MaxWait)
}

func (o ConnectOptions) clientOptions() *redis.Options {
	return &redis.Options{
		Addr:         o.Addr,
		Username:     o.User,
		Password:     o.Password,
		DB:           o.RedisDB,
		DialTimeout:  o.DialTimeout,
		ReadTimeout:  o.ReadTimeout,
		WriteTimeout: o.WriteTimeout,
		PoolSize:     o.PoolSize,
	}
}

// New returns a client for the snapshot mirror once redis answers a ping.
// Failed pings are retried with capped exponential backoff until
// ConnectTimeout elapses or ctx is done; the client is closed on failure.
func New(ctx context.Context, opts ConnectOptions, log logger.Logger) (*redis.Client, error) {
	if err := opts.Validate(); err != nil {
		return nil, err
	}

	ctx, cancel := context.WithTimeout(ctx, opts.ConnectTimeout)
	defer cancel()

	client := redis.NewClient(opts.clientOptions())
	log = log.With(logger.String("addr", opts.Addr))
	log.Info("connecting to snapshot mirror", logger.Duration("timeout", opts.ConnectTimeout))

	start := time.Now()
	for attempt := 1; ; attempt++ {
		pingCtx, pingCancel := context.WithTimeout(ctx, opts.PingTimeout)
		err := client.Ping(pingCtx).Err()
		pingCancel()

		if err == nil {
			log.Info("snapshot mirror connected",
				logger.Int("attempts", attempt),
				logger.Duration("elapsed", time.Since(start)))
			return client, nil
		}

		wait := opts.backoff(attempt)
		logFn := log.Debug
		if attempt > opts.WarnThreshold {
			logFn = log.Warn
		}
		logFn("snapshot mirror not reachable yet",
			logger.Int("attempt", attempt),
			logger.Duration("next_retry_in", wait),
			logger.Error(err))

		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			utils.Close(client)
			return nil, fmt.Errorf("redis unavailable at %s after %d attempts in %v: %w",
				opts.Addr, attempt, time.Since(start).Round(time.Millisecond), err)
		case <-timer.C:
		}
	}
}
