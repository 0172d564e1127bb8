package proxy

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/net/html"

	"adtrim/dom"
	"adtrim/fetch"
	"adtrim/gallery"
	"adtrim/pipeline"
)

const galleryWait = 2 * time.Second

func (s *Server) handleRoot(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/" {
		http.NotFound(w, r)
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.Header().Set("Content-Length", strconv.Itoa(len(s.cfg.IndexHTML)))
	io.WriteString(w, s.cfg.IndexHTML)
}

func (s *Server) handlePing(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	io.WriteString(w, "pong\n")
}

// handleView fetches a marketplace page, runs the pipeline over it and
// serves the result. Query parameters replay user interactions before the
// page is serialised.
func (s *Server) handleView(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	raw := strings.TrimSpace(q.Get("url"))
	if raw == "" {
		http.Error(w, "missing url", http.StatusBadRequest)
		return
	}
	target := resolveTarget(s.cfg.Upstream, raw)
	scope := s.cacheScope(r)
	log := s.logger.With(zap.String("target", target), zap.String("id", w.Header().Get(requestIDHeader)))
	ctx := r.Context()

	page, err := s.loadPage(ctx, r, scope, target)
	if err != nil {
		log.Error("upstream fetch failed", zap.Error(err))
		http.Error(w, err.Error(), http.StatusBadGateway)
		return
	}
	doc, err := dom.ParseString(page.Body)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadGateway)
		return
	}

	res, err := pipeline.Run(ctx, doc, page.URL, pipeline.Deps{
		Fetcher:     fetch.Cached(s.httpFetcher(r, s.sites.Find(page.URL)), s.details, scope),
		Renderer:    s.renderer,
		Logger:      log,
		SettleDelay: s.cfg.SettleDelay,
	})
	if err != nil {
		log.Error("pipeline failed", zap.Error(err))
		http.Error(w, err.Error(), http.StatusBadGateway)
		return
	}
	defer res.Stop()

	if err := replay(ctx, doc, res, q); err != nil {
		log.Warn("interaction replay incomplete", zap.Error(err))
	}
	doc.Do(func(tx *dom.Tx) {
		rewriteLinks(tx.Root(), page.URL, serverBase(r))
	})

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.Header().Set("X-Adtrim-Page", res.Page.String())
	w.Header().Set("X-Adtrim-Cards", strconv.Itoa(res.Stats.Enriched)+"/"+strconv.Itoa(res.Stats.Cards))
	if err := doc.Render(w); err != nil {
		log.Warn("render failed", zap.Error(err))
	}
}

// loadPage serves target from the page cache of the client scope, fetching
// it on a miss.
func (s *Server) loadPage(ctx context.Context, r *http.Request, scope, target string) (*fetch.Page, error) {
	key := scope + " " + target
	if page, ok := s.cache.Get(key); ok {
		return page, nil
	}
	cfg := s.sites.Find(target)
	var f fetch.Fetcher = s.httpFetcher(r, cfg)
	if cfg != nil && cfg.Mode == modeBrowser {
		f = s.browserFetcher(target, cfg).WithJar(s.clientJar(r))
	}
	page, err := f.Fetch(ctx, target)
	if err != nil {
		return nil, err
	}
	if n := s.cache.Purge(); n > 0 {
		s.logger.Debug("expired pages purged", zap.Int("count", n))
	}
	s.cache.Store(key, page)
	return page, nil
}

func (s *Server) clientJar(r *http.Request) http.CookieJar {
	return s.cookieJars.Get(deriveClientKey(r, s.trusted))
}

// cacheScope separates cached pages per client session and per requested
// user agent and language, since upstream markup depends on all three.
func (s *Server) cacheScope(r *http.Request) string {
	q := r.URL.Query()
	return cacheScope(deriveClientKey(r, s.trusted) + "|" + q.Get("ua") + "|" + q.Get("lang"))
}

func (s *Server) httpFetcher(r *http.Request, cfg *SiteConfig) *fetch.HTTPFetcher {
	hdr := headersFromQuery(r)
	for k, vs := range cfg.header() {
		hdr[k] = vs
	}
	return fetch.NewHTTP(fetch.HTTPOptions{
		Timeout: s.cfg.FetchTimeout,
		Jar:     s.clientJar(r),
		Header:  hdr,
		Logger:  s.logger,
	})
}

func (s *Server) browserFetcher(target string, cfg *SiteConfig) *fetch.BrowserFetcher {
	host := target
	if u, err := url.Parse(target); err == nil {
		host = u.Hostname()
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if b, ok := s.browsers[host]; ok {
		return b
	}
	b := fetch.NewBrowser(fetch.BrowserOptions{
		WaitSelector: cfg.WaitSelector,
		Header:       cfg.header(),
		Logger:       s.logger,
	})
	s.browsers[host] = b
	return b
}

// replay dispatches the interactions requested by the query: expand=1
// opens every description, gallery=n clicks the image of card n (1-based),
// nav=next,prev steps through the gallery and scroll=px reports a scroll
// offset.
func replay(ctx context.Context, doc *dom.Document, res *pipeline.Result, q url.Values) error {
	if q.Get("expand") == "1" {
		doc.Do(func(tx *dom.Tx) {
			for _, btn := range dom.QueryAll(tx.Root(), "#fa-ad-load-desc-btn") {
				tx.Dispatch(btn, &dom.Event{Type: dom.EventClick})
			}
		})
	}
	if res.UI != nil {
		if px, ok := intParam(q, "scroll"); ok {
			res.UI.OnScroll(px)
		}
	}
	n, ok := intParam(q, "gallery")
	if !ok || res.Gallery == nil {
		return nil
	}
	var img *html.Node
	doc.Do(func(tx *dom.Tx) {
		var bound []*html.Node
		for _, c := range dom.QueryAll(tx.Root(), "article .aditem-image") {
			if tx.HasListener(c, dom.EventClick) {
				bound = append(bound, c)
			}
		}
		if n >= 1 && n <= len(bound) {
			img = bound[n-1]
		}
	})
	if img == nil {
		return fmt.Errorf("gallery: no enriched card %d", n)
	}
	before := res.Gallery.Opened()
	doc.Click(img)
	if err := waitFor(ctx, galleryWait, func() bool { return res.Gallery.Opened() > before }); err != nil {
		return fmt.Errorf("gallery: %w", err)
	}
	for _, step := range parseNav(q.Get("nav")) {
		res.Gallery.Navigate(step)
	}
	return nil
}

func parseNav(raw string) []string {
	var keys []string
	for _, part := range strings.Split(raw, ",") {
		switch strings.ToLower(strings.TrimSpace(part)) {
		case "next", "right":
			keys = append(keys, gallery.KeyArrowRight)
		case "prev", "left":
			keys = append(keys, gallery.KeyArrowLeft)
		}
	}
	return keys
}

func waitFor(ctx context.Context, limit time.Duration, cond func() bool) error {
	ctx, cancel := context.WithTimeout(ctx, limit)
	defer cancel()
	ticker := time.NewTicker(5 * time.Millisecond)
	defer ticker.Stop()
	for !cond() {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
	return nil
}

func headersFromQuery(r *http.Request) http.Header {
	hdr := http.Header{}
	if ua := firstNonEmpty(r.URL.Query().Get("ua"), r.UserAgent()); ua != "" {
		hdr.Set("User-Agent", ua)
	}
	if lang := firstNonEmpty(r.URL.Query().Get("lang"), r.Header.Get("Accept-Language")); lang != "" {
		hdr.Set("Accept-Language", lang)
	}
	return hdr
}

func serverBase(r *http.Request) string {
	scheme := "http"
	if r.TLS != nil || strings.EqualFold(r.Header.Get("X-Forwarded-Proto"), "https") {
		scheme = "https"
	}
	return scheme + "://" + r.Host
}
