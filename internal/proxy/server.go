package proxy

import (
	"context"
	"net/http"
	"os"
	"strconv"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"adtrim/fetch"
	"adtrim/markup"
)

const defaultIndexHTML = `<!DOCTYPE html>
<html><body>
<h1>adtrim</h1>
<form action="/view" method="get">
<h3>Open a listing page without ads</h3>
URL: <input name="url" size="60"><br>
<label><input type="checkbox" name="expand" value="1"> expand descriptions</label><br>
<button type="submit">View</button>
</form>
</body></html>`

const (
	defaultSitesDir     = "config/sites"
	defaultUpstream     = "https://www.kleinanzeigen.de"
	defaultFetchTimeout = 8 * time.Second
	defaultCacheTTL     = 2 * time.Minute
)

// Config describes server wiring and runtime behaviour.
type Config struct {
	IndexHTML string
	// Upstream is the marketplace origin relative URLs resolve against.
	Upstream     string
	SitesDir     string
	SettleDelay  time.Duration
	FetchTimeout time.Duration
	CacheTTL     time.Duration
	// DetailCacheDir enables the on-disk cache of listing detail pages.
	DetailCacheDir string
	DetailCacheMB  int
	// TrustedProxies are peers (addresses or CIDRs) whose X-Forwarded-For and
	// client key headers identify the client.
	TrustedProxies []string
	Logger         *zap.Logger
	Clock          func() time.Time
}

// DefaultConfig populates configuration from environment variables.
func DefaultConfig() Config {
	cfg := Config{
		IndexHTML:    defaultIndexHTML,
		Clock:        time.Now,
		SitesDir:     strings.TrimSpace(os.Getenv("ADTRIM_SITES_DIR")),
		Upstream:     strings.TrimSpace(os.Getenv("ADTRIM_UPSTREAM")),
		// served pages are already settled; only wait when asked to
		SettleDelay:  -1,
		FetchTimeout: defaultFetchTimeout,
		CacheTTL:     defaultCacheTTL,

		DetailCacheDir: strings.TrimSpace(os.Getenv("ADTRIM_CACHE_DIR")),
	}
	if cfg.SitesDir == "" {
		cfg.SitesDir = defaultSitesDir
	}
	if cfg.Upstream == "" {
		cfg.Upstream = defaultUpstream
	}
	if raw := strings.TrimSpace(os.Getenv("ADTRIM_SETTLE_MS")); raw != "" {
		if ms, err := strconv.Atoi(raw); err == nil {
			cfg.SettleDelay = time.Duration(ms) * time.Millisecond
			if ms == 0 {
				cfg.SettleDelay = -1
			}
		}
	}
	if mb, err := strconv.Atoi(strings.TrimSpace(os.Getenv("ADTRIM_CACHE_MB"))); err == nil && mb > 0 {
		cfg.DetailCacheMB = mb
	}
	if raw := strings.TrimSpace(os.Getenv("ADTRIM_TRUSTED_PROXIES")); raw != "" {
		cfg.TrustedProxies = strings.Split(raw, ",")
	}
	if raw := strings.TrimSpace(os.Getenv("ADTRIM_FETCH_TIMEOUT")); raw != "" {
		if d, err := time.ParseDuration(raw); err == nil && d > 0 {
			cfg.FetchTimeout = d
		}
	}
	return cfg
}

// NewLogger builds the process logger. level is a zap level name; anything
// unparsable falls back to info.
func NewLogger(level string) (*zap.Logger, error) {
	lvl := zapcore.InfoLevel
	if raw := strings.TrimSpace(level); raw != "" {
		if err := lvl.UnmarshalText([]byte(raw)); err != nil {
			lvl = zapcore.InfoLevel
		}
	}
	zc := zap.NewProductionConfig()
	zc.Level = zap.NewAtomicLevelAt(lvl)
	zc.EncoderConfig.TimeKey = "ts"
	zc.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	return zc.Build()
}

// Server exposes the HTTP handlers implementing the proxy behaviour.
type Server struct {
	cfg        Config
	mux        *http.ServeMux
	handler    http.Handler
	logger     *zap.Logger
	renderer   *markup.Renderer
	cookieJars *cookieJarStore
	cache      *pageCache
	details    *fetch.DiskCache
	sites      *siteConfigStore
	trusted    trustedProxies
	clock      func() time.Time

	mu        sync.Mutex
	browsers  map[string]*fetch.BrowserFetcher
	stopWatch context.CancelFunc
}

// New wires a new proxy server with the provided configuration.
func New(cfg Config) *Server {
	if cfg.IndexHTML == "" {
		cfg.IndexHTML = defaultIndexHTML
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	if cfg.Clock == nil {
		cfg.Clock = time.Now
	}
	if cfg.Upstream == "" {
		cfg.Upstream = defaultUpstream
	}
	if cfg.FetchTimeout <= 0 {
		cfg.FetchTimeout = defaultFetchTimeout
	}
	if cfg.CacheTTL == 0 {
		cfg.CacheTTL = defaultCacheTTL
	}
	if cfg.SettleDelay == 0 {
		cfg.SettleDelay = -1
	}
	s := &Server{
		cfg:        cfg,
		mux:        http.NewServeMux(),
		logger:     cfg.Logger,
		renderer:   markup.MustRenderer(),
		cookieJars: newCookieJarStore(),
		cache:      newPageCache(cfg.Clock, cfg.CacheTTL),
		sites:      newSiteConfigStore(cfg.SitesDir, cfg.Logger),
		trusted:    parseTrustedProxies(cfg.TrustedProxies),
		clock:      cfg.Clock,
		browsers:   make(map[string]*fetch.BrowserFetcher),
	}
	if cfg.DetailCacheDir != "" {
		dc, err := fetch.NewDiskCache(fetch.DiskCacheOptions{
			Dir:    cfg.DetailCacheDir,
			MaxMB:  cfg.DetailCacheMB,
			Clock:  cfg.Clock,
			Logger: cfg.Logger,
		})
		if err != nil {
			s.logger.Warn("detail cache disabled", zap.Error(err))
		}
		s.details = dc
	}
	s.registerRoutes()
	s.handler = withLogging(s.logger, s.mux)
	return s
}

// WatchSites reloads per-host configs when files in the sites directory
// change, until ctx ends or Close is called.
func (s *Server) WatchSites(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	s.stopWatch = cancel
	return s.sites.Watch(ctx)
}

// Close releases the headless browser and the config watcher.
func (s *Server) Close() {
	if s.stopWatch != nil {
		s.stopWatch()
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for host, b := range s.browsers {
		b.Close()
		delete(s.browsers, host)
	}
}

// ServeHTTP implements http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.handler.ServeHTTP(w, r)
}

func (s *Server) registerRoutes() {
	s.mux.HandleFunc("/", s.handleRoot)
	s.mux.HandleFunc("/view", s.handleView)
	s.mux.HandleFunc("/ping", s.handlePing)
}
