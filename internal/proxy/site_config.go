package proxy

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"
)

const (
	modeHTTP    = "http"
	modeBrowser = "browser"
)

// SiteConfig tunes how one upstream host is fetched. It is read from
// <sites dir>/<host>.yaml.
type SiteConfig struct {
	Mode    string            `yaml:"mode"`
	Headers map[string]string `yaml:"headers,omitempty"`
	// WaitSelector is used in browser mode before the markup is read.
	WaitSelector string `yaml:"wait_selector,omitempty"`
}

func (c *SiteConfig) header() http.Header {
	h := http.Header{}
	if c == nil {
		return h
	}
	for k, v := range c.Headers {
		h.Set(k, v)
	}
	return h
}

type siteConfigStore struct {
	dir    string
	logger *zap.Logger
	mu     sync.RWMutex
	cache  map[string]*SiteConfig
}

func newSiteConfigStore(dir string, logger *zap.Logger) *siteConfigStore {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &siteConfigStore{
		dir:    dir,
		logger: logger,
		cache:  make(map[string]*SiteConfig),
	}
}

// Find returns the config of the most specific matching host suffix, or nil.
func (s *siteConfigStore) Find(target string) *SiteConfig {
	u, err := url.Parse(target)
	if err != nil || u.Host == "" {
		return nil
	}
	host := u.Hostname()
	s.mu.RLock()
	if cfg, ok := s.cache[host]; ok {
		s.mu.RUnlock()
		return cfg
	}
	s.mu.RUnlock()

	labels := strings.Split(host, ".")
	for i := 0; i < len(labels); i++ {
		candidate := strings.Join(labels[i:], ".")
		if cfg := s.load(candidate); cfg != nil {
			s.mu.Lock()
			s.cache[host] = cfg
			s.mu.Unlock()
			return cfg
		}
	}
	s.mu.Lock()
	s.cache[host] = nil
	s.mu.Unlock()
	return nil
}

func (s *siteConfigStore) load(host string) *SiteConfig {
	if s.dir == "" {
		return nil
	}
	for _, ext := range []string{".yaml", ".yml"} {
		data, err := os.ReadFile(filepath.Join(s.dir, host+ext))
		if err != nil {
			continue
		}
		var cfg SiteConfig
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			s.logger.Warn("invalid site config", zap.String("host", host), zap.Error(err))
			return nil
		}
		cfg.Mode = strings.TrimSpace(strings.ToLower(cfg.Mode))
		if cfg.Mode == "" {
			cfg.Mode = modeHTTP
		}
		return &cfg
	}
	return nil
}

// Invalidate forgets every cached lookup.
func (s *siteConfigStore) Invalidate() {
	s.mu.Lock()
	s.cache = make(map[string]*SiteConfig)
	s.mu.Unlock()
}

// Watch invalidates the cache whenever the sites directory changes. It
// blocks until ctx ends.
func (s *siteConfigStore) Watch(ctx context.Context) error {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("watch sites: %w", err)
	}
	defer w.Close()
	if err := w.Add(s.dir); err != nil {
		return fmt.Errorf("watch sites %s: %w", s.dir, err)
	}
	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-w.Events:
			if !ok {
				return nil
			}
			if ev.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Remove|fsnotify.Rename) == 0 {
				continue
			}
			s.Invalidate()
			s.logger.Info("site configs reloaded", zap.String("file", ev.Name), zap.String("op", ev.Op.String()))
		case err, ok := <-w.Errors:
			if !ok {
				return nil
			}
			s.logger.Warn("site config watch error", zap.Error(err))
		}
	}
}
