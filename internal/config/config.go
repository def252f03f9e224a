package config

import (
	"errors"
	"fmt"
	"io/fs"
	"log"
	"os"
	"path/filepath"
	"runtime"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"

	"github.com/MrSnakeDoc/hubcache/internal/redis"
)

type Config struct {
	ListenPort      string        // ex: ":8080"
	ShutdownTimeout time.Duration // ex: 5s

	LogLevel  string // "debug" | "info" | "warn" | "error"
	PrettyLog bool   // true => zap dev (color), false => zap prod (JSON)

	// Catalog
	DBPath            string        // directory holding hub.db
	AutoRefresh       bool          // refresh periodically in the background
	ServiceWrapper    bool          // serve typed ServiceData results
	RefreshInterval   time.Duration // minimum spacing between refreshes, also the auto refresh period
	StaleRefreshAfter time.Duration // how long to wait on an in-flight refresh before overriding it
	CacheTTL          time.Duration // lifetime of memoized lookups
	CacheCapacity     int           // max memoized lookups
	HubURL            string        // GraphQL endpoint of the hub
	HubTimeout        time.Duration // per request timeout against the hub
	SnapshotFile      string        // optional, replaces the hub with a local snapshot file

	// Lookup rate limit (per client IP)
	RateLimitBurst     int
	RateLimitPerMinute int

	// Redis snapshot mirror (optional, empty address = disabled)
	RedisAddr             string        // ex: "localhost:6379"
	RedisUser             string        // optional
	RedisPassword         string        // optional
	RedisPasswordRequired bool          // true => require password, false => allow empty password
	RedisDB               int           // Redis DB number
	RedisDT               time.Duration // Redis dial timeout (ex: 5s)
	RedisRT               time.Duration // Redis read timeout (ex: 3s)
	RedisWT               time.Duration // Redis write timeout (ex: 3s)
	RedisMaxWait          time.Duration // max wait between retries (ex: 10s)
	RedisPingTimeout      time.Duration // timeout for each ping attempt (ex: 5s)
	RedisPoolSize         int           // Redis connection pool size
	RedisConnectTimeout   time.Duration // Total time to retry connecting (ex: 30s)
	RedisRetryInterval    time.Duration // Initial wait between retries (ex: 2s, grows exponentially)
	RedisWarnThreshold    int           // warn after this many attempts

	AllowedHosts []string // optional, restrict admin routes to specific Host headers
	AllowedCIDRS []string // optional, restrict admin routes to specific IPs (e.g. "1.2.3.4, 10.0.0.0/8")
	TrustProxy   bool     // true => trust X-Forwarded-For headers (e.g. cloudflared)
}

// Load reads the configuration from the environment, after merging the
// dotenv file. Variables already set in the environment win.
func Load() (*Config, error) {
	if err := loadDotEnv(); err != nil {
		return nil, err
	}

	cfg := &Config{
		// Server settings
		ListenPort:      getenv("HUBCACHE_LISTEN_PORT", ":8080"),
		ShutdownTimeout: mustDuration("HUBCACHE_SHUTDOWN_TIMEOUT", 5*time.Second),

		// Logging
		LogLevel:  getenv("HUBCACHE_LOG_LEVEL", "info"),
		PrettyLog: mustBool("HUBCACHE_PRETTY_LOG", true),

		// Catalog
		DBPath:            getenv("HUBCACHE_DB_PATH", defaultDataDir(runtime.GOOS, os.Getenv)),
		AutoRefresh:       mustBool("HUBCACHE_AUTO_REFRESH", true),
		ServiceWrapper:    mustBool("HUBCACHE_SERVICE_WRAPPER", false),
		RefreshInterval:   mustSeconds("HUBCACHE_REFRESH_INTERVAL", 60),
		StaleRefreshAfter: mustDuration("HUBCACHE_STALE_REFRESH_AFTER", 2500*time.Millisecond),
		CacheTTL:          mustDuration("HUBCACHE_CACHE_TTL", 60*time.Second),
		CacheCapacity:     getenvInt("HUBCACHE_CACHE_CAPACITY", 128),
		HubURL:            getenv("HUBCACHE_HUB_URL", "https://api.storyscript.io/graphql"),
		HubTimeout:        mustDuration("HUBCACHE_HUB_TIMEOUT", 10*time.Second),
		SnapshotFile:      getenv("HUBCACHE_SNAPSHOT_FILE", ""),

		RateLimitBurst:     getenvInt("HUBCACHE_RATE_LIMIT_BURST", 60),
		RateLimitPerMinute: getenvInt("HUBCACHE_RATE_LIMIT_PER_MINUTE", 120),

		// Redis settings
		RedisAddr:             getenv("HUBCACHE_REDIS_ADDR", ""),
		RedisUser:             getenv("HUBCACHE_REDIS_USERNAME", ""),
		RedisPasswordRequired: mustBool("HUBCACHE_REDIS_PASSWORD_REQUIRED", false),
		RedisPassword:         getenv("HUBCACHE_REDIS_PASSWORD", ""),
		RedisDB:               getenvInt("HUBCACHE_REDIS_DB", 0),
		RedisDT:               mustDuration("REDIS_DIAL_TIMEOUT", 5*time.Second),
		RedisRT:               mustDuration("REDIS_READ_TIMEOUT", 3*time.Second),
		RedisWT:               mustDuration("REDIS_WRITE_TIMEOUT", 3*time.Second),
		RedisMaxWait:          mustDuration("REDIS_MAX_WAIT", 10*time.Second),
		RedisPingTimeout:      mustDuration("REDIS_PING_TIMEOUT", 5*time.Second),
		RedisPoolSize:         getenvInt("REDIS_POOL_SIZE", 10),
		RedisConnectTimeout:   mustDuration("REDIS_CONNECT_TIMEOUT", 30*time.Second),
		RedisRetryInterval:    mustDuration("REDIS_RETRY_INTERVAL", 2*time.Second),
		RedisWarnThreshold:    getenvInt("REDIS_WARN_THRESHOLD", 3),

		// Access restrictions
		AllowedHosts: splitAndTrim(getenv("HUBCACHE_ALLOWED_HOSTS", "")),
		AllowedCIDRS: parseAllowedIPs(getenv("HUBCACHE_ALLOWED_CIDRS", "")),
		TrustProxy:   mustBool("HUBCACHE_TRUST_PROXY", false),
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	// Log config only in debug mode with redacted sensitive fields
	if cfg.LogLevel == "debug" {
		cfgCopy := *cfg
		cfgCopy.RedisPassword = "***REDACTED***"
		if cfg.RedisUser != "" {
			cfgCopy.RedisUser = "***REDACTED***"
		}
		log.Printf("[DEBUG] cfg: %+v\n", cfgCopy)
	}

	return cfg, nil
}

// loadDotEnv merges HUBCACHE_ENV_FILE when set, ./.env otherwise.
// Only the explicitly named file is required to exist.
func loadDotEnv() error {
	if path := os.Getenv("HUBCACHE_ENV_FILE"); path != "" {
		if err := godotenv.Load(path); err != nil {
			return fmt.Errorf("failed to load env file %s: %w", path, err)
		}
		return nil
	}
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("failed to load .env: %w", err)
	}
	return nil
}

// Validate rejects combinations the process cannot start with.
func (c *Config) Validate() error {
	if c.DBPath == "" {
		return fmt.Errorf("HUBCACHE_DB_PATH is empty and no user data directory could be found")
	}
	if c.RefreshInterval < 0 {
		return fmt.Errorf("HUBCACHE_REFRESH_INTERVAL must not be negative")
	}
	if c.RedisAddr != "" && c.RedisPasswordRequired && c.RedisPassword == "" {
		return fmt.Errorf("HUBCACHE_REDIS_PASSWORD is required when HUBCACHE_REDIS_PASSWORD_REQUIRED=true")
	}
	return nil
}

// MirrorEnabled reports whether a redis snapshot mirror is configured.
func (c *Config) MirrorEnabled() bool {
	return c.RedisAddr != ""
}

// RedisOptions maps the redis settings onto the connector options.
func (c *Config) RedisOptions() redis.ConnectOptions {
	return redis.ConnectOptions{
		Addr:           c.RedisAddr,
		User:           c.RedisUser,
		Password:       c.RedisPassword,
		RedisDB:        c.RedisDB,
		DialTimeout:    c.RedisDT,
		ReadTimeout:    c.RedisRT,
		WriteTimeout:   c.RedisWT,
		PoolSize:       c.RedisPoolSize,
		ConnectTimeout: c.RedisConnectTimeout,
		RetryInterval:  c.RedisRetryInterval,
		MaxWait:        c.RedisMaxWait,
		PingTimeout:    c.RedisPingTimeout,
		WarnThreshold:  c.RedisWarnThreshold,
	}
}

// defaultDataDir returns the per-user data directory for the catalog:
// %APPDATA%\hubcache on Windows, $XDG_DATA_HOME/hubcache when set, and
// ~/.hubcache otherwise.
func defaultDataDir(goos string, env func(string) string) string {
	if goos == "windows" {
		if appData := env("APPDATA"); appData != "" {
			return filepath.Join(appData, "hubcache")
		}
	}
	if xdg := env("XDG_DATA_HOME"); xdg != "" {
		return filepath.Join(xdg, "hubcache")
	}
	home := env("HOME")
	if home == "" {
		home = env("USERPROFILE")
	}
	if home == "" {
		return ""
	}
	return filepath.Join(home, ".hubcache")
}

// helpers
func getenv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func getenvInt(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return def
}

// mustSeconds reads a whole number of seconds.
func mustSeconds(key string, def int) time.Duration {
	return time.Duration(getenvInt(key, def)) * time.Second
}

func mustBool(key string, def bool) bool {
	if v := os.Getenv(key); v != "" {
		b, err := strconv.ParseBool(v)
		if err == nil {
			return b
		}
	}
	return def
}

func mustDuration(key string, def time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return def
}

func parseAllowedIPs(allowed string) []string {
	if allowed == "" {
		return nil
	}
	ips := make([]string, 0, 4)
	for _, ip := range splitAndTrim(allowed) {
		if ip != "" {
			ips = append(ips, ip)
		}
	}
	return ips
}

func splitAndTrim(s string) []string {
	if s == "" {
		return nil
	}
	raw := strings.Split(s, ",")
	parts := make([]string, 0, len(raw))
	for _, part := range raw {
		trimmed := strings.TrimSpace(part)
		// Remove surrounding quotes if present
		trimmed = strings.Trim(trimmed, `"'`)
		if trimmed != "" {
			parts = append(parts, trimmed)
		}
	}
	return parts
}
