package proxy

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"adtrim/fetch"
)

const upstreamResults = `<html><body>
<div class="site-base--left-banner">banner</div>
<div class="site-base"><div id="site-content">
<ul id="srchrslt-adtable">
  <li><article data-href="/s-anzeige/one/1"><div class="aditem-image"><a href="/s-anzeige/one/1"></a></div>
    <a class="ellipsis" href="/s-anzeige/one/1">One</a><p class="aditem-main--middle--description">short</p></article></li>
  <li><div>sponsored</div></li>
</ul></div></div>
</body></html>`

const upstreamDetail = `<html><body>
<div id="viewad-user-actions"><a id="viewad-lnk-watchlist" data-action="add"></a></div>
<p id="viewad-description-text">long text</p>
<div class="galleryimage-large"><div class="galleryimage-element current" id="g0"></div><div class="galleryimage-element" id="g1"></div>
<button class="galleryimage--navigation--prev"></button><button class="galleryimage--navigation--next"></button></div>
</body></html>`

type upstream struct {
	*httptest.Server
	resultHits atomic.Int32
	detailHits atomic.Int32
	lastTag    atomic.Value
}

func newUpstream(t *testing.T) *upstream {
	t.Helper()
	u := &upstream{}
	u.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		u.lastTag.Store(r.Header.Get("X-Site-Tag"))
		switch {
		case strings.HasPrefix(r.URL.Path, "/s-anzeige/"):
			u.detailHits.Add(1)
			detail := upstreamDetail
			if r.UserAgent() == "alice" {
				detail = strings.Replace(detail, `data-action="add"`, `data-action="remove"`, 1)
			}
			io.WriteString(w, detail)
		case r.URL.Path == "/s-fahrraeder/c217":
			u.resultHits.Add(1)
			io.WriteString(w, upstreamResults)
		default:
			http.NotFound(w, r)
		}
	}))
	t.Cleanup(u.Close)
	return u
}

func newTestServer(t *testing.T, up *upstream) *Server {
	t.Helper()
	s := New(Config{Upstream: up.URL, SitesDir: t.TempDir()})
	t.Cleanup(s.Close)
	return s
}

func get(t *testing.T, h http.Handler, target string) *httptest.ResponseRecorder {
	t.Helper()
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, target, nil))
	return rec
}

func TestPingAndIndex(t *testing.T) {
	t.Parallel()
	s := newTestServer(t, newUpstream(t))

	rec := get(t, s, "/ping")
	assert.Equal(t, "pong\n", rec.Body.String())
	assert.NotEmpty(t, rec.Header().Get(requestIDHeader))

	rec = get(t, s, "/")
	assert.Contains(t, rec.Body.String(), `action="/view"`)
	assert.Equal(t, http.StatusNotFound, get(t, s, "/nope").Code)
	assert.Equal(t, http.StatusBadRequest, get(t, s, "/view").Code)
}

func TestViewRewritesPage(t *testing.T) {
	t.Parallel()
	up := newUpstream(t)
	s := newTestServer(t, up)

	rec := get(t, s, "/view?url=/s-fahrraeder/c217")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	body := rec.Body.String()
	assert.Equal(t, "search-results", rec.Header().Get("X-Adtrim-Page"))
	assert.Equal(t, "1/1", rec.Header().Get("X-Adtrim-Cards"))
	assert.NotContains(t, body, "site-base--left-banner")
	assert.NotContains(t, body, "sponsored")
	assert.Contains(t, body, `id="fa-ad-load-desc-btn"`)
	assert.Contains(t, body, `href="http://example.com/view?url=`)
	assert.NotContains(t, body, "long text")

	get(t, s, "/view?url=/s-fahrraeder/c217")
	assert.Equal(t, int32(1), up.resultHits.Load(), "second view served from cache")
}

func TestViewReplaysInteractions(t *testing.T) {
	t.Parallel()
	s := newTestServer(t, newUpstream(t))

	rec := get(t, s, "/view?url=/s-fahrraeder/c217&expand=1&gallery=1&nav=next&scroll=1500")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	body := rec.Body.String()
	assert.Contains(t, body, "long text")
	assert.Regexp(t, `<dialog id="fa-dialog"[^>]*open=""`, body)
	assert.Contains(t, body, `class="galleryimage-element current" id="g1"`)
	assert.Contains(t, body, "opacity: 1; visibility: visible;")
}

func TestViewCachesDetailPagesOnDisk(t *testing.T) {
	t.Parallel()
	up := newUpstream(t)
	s := New(Config{Upstream: up.URL, SitesDir: t.TempDir(), DetailCacheDir: t.TempDir()})
	defer s.Close()

	for i := 0; i < 2; i++ {
		rec := get(t, s, "/view?url=/s-fahrraeder/c217")
		require.Equal(t, http.StatusOK, rec.Code)
		assert.Equal(t, "1/1", rec.Header().Get("X-Adtrim-Cards"))
	}
	assert.Equal(t, int32(1), up.detailHits.Load())
}

func TestViewUpstreamFailure(t *testing.T) {
	t.Parallel()
	s := newTestServer(t, newUpstream(t))
	assert.Equal(t, http.StatusBadGateway, get(t, s, "/view?url=/s-missing/c1").Code)
}

func TestSiteConfigHeadersAreSent(t *testing.T) {
	t.Parallel()
	up := newUpstream(t)
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "127.0.0.1.yaml"), []byte("mode: http\nheaders:\n  X-Site-Tag: yes-please\n"), 0o644))
	s := New(Config{Upstream: up.URL, SitesDir: dir})
	defer s.Close()

	require.Equal(t, http.StatusOK, get(t, s, "/view?url=/s-fahrraeder/c217").Code)
	assert.Equal(t, "yes-please", up.lastTag.Load())
}

func TestSiteConfigWatchInvalidates(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	store := newSiteConfigStore(dir, nil)
	require.Nil(t, store.Find("https://shop.example.com/x"))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- store.Watch(ctx) }()
	defer func() {
		cancel()
		require.NoError(t, <-done)
	}()

	require.Eventually(t, func() bool {
		_ = os.WriteFile(filepath.Join(dir, "example.com.yml"), []byte("mode: BROWSER\n"), 0o644)
		cfg := store.Find("https://shop.example.com/x")
		return cfg != nil && cfg.Mode == modeBrowser
	}, 2*time.Second, 20*time.Millisecond)
}

func TestPageCacheExpires(t *testing.T) {
	t.Parallel()
	now := time.Unix(1000, 0)
	c := newPageCache(func() time.Time { return now }, time.Minute)
	c.Store("u", nil)
	_, ok := c.Get("u")
	require.False(t, ok)

	c.Store("u", &fetch.Page{URL: "u", Body: "x"})
	got, ok := c.Get("u")
	require.True(t, ok)
	assert.Equal(t, "x", got.Body)

	now = now.Add(2 * time.Minute)
	_, ok = c.Get("u")
	assert.False(t, ok)
	assert.Equal(t, 0, c.Purge())
}

func TestViewPurgesExpiredPages(t *testing.T) {
	t.Parallel()
	var now atomic.Int64
	now.Store(time.Unix(1000, 0).UnixNano())
	up := newUpstream(t)
	s := New(Config{
		Upstream: up.URL,
		SitesDir: t.TempDir(),
		CacheTTL: time.Minute,
		Clock:    func() time.Time { return time.Unix(0, now.Load()) },
	})
	defer s.Close()

	require.Equal(t, http.StatusOK, get(t, s, "/view?url=/s-fahrraeder/c217").Code)
	require.Len(t, s.cache.data, 1)

	now.Add(int64(2 * time.Minute))
	require.Equal(t, http.StatusOK, get(t, s, "/view?url=/s-fahrraeder/c217&lang=de").Code)
	assert.Len(t, s.cache.data, 1, "expired page of the first scope purged")
	assert.Equal(t, int32(2), up.resultHits.Load())
}

func TestDeriveClientKey(t *testing.T) {
	t.Parallel()
	trusted := parseTrustedProxies([]string{"10.1.0.0/16", "192.0.2.9", "bogus"})
	cases := []struct {
		name   string
		remote string
		header map[string]string
		want   string
	}{
		{"peer", "192.0.2.1:1234", map[string]string{"User-Agent": "ua"}, "192.0.2.1|ua"},
		{"untrusted key header", "192.0.2.1:1234", map[string]string{clientKeyHeader: "abc", "User-Agent": "ua"}, "192.0.2.1|ua"},
		{"untrusted forwarded", "192.0.2.1:1234", map[string]string{"X-Forwarded-For": "10.0.0.1", "User-Agent": "ua"}, "192.0.2.1|ua"},
		{"trusted key header", "10.1.2.3:80", map[string]string{clientKeyHeader: "abc"}, "abc"},
		{"trusted forwarded", "192.0.2.9:80", map[string]string{"X-Forwarded-For": "10.0.0.1, 10.0.0.2", "User-Agent": "ua"}, "10.0.0.1|ua"},
	}
	for _, tc := range cases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			r := httptest.NewRequest(http.MethodGet, "/", nil)
			r.RemoteAddr = tc.remote
			for k, v := range tc.header {
				r.Header.Set(k, v)
			}
			assert.Equal(t, tc.want, deriveClientKey(r, trusted))
		})
	}
}

func TestSpoofedClientKeyCannotReachAnotherJar(t *testing.T) {
	t.Parallel()
	s := New(Config{SitesDir: t.TempDir()})
	defer s.Close()

	victim := httptest.NewRequest(http.MethodGet, "/", nil)
	victim.RemoteAddr = "198.51.100.7:4000"
	victim.Header.Set("User-Agent", "victim")
	jar := s.clientJar(victim)

	attacker := httptest.NewRequest(http.MethodGet, "/", nil)
	attacker.RemoteAddr = "203.0.113.5:5000"
	attacker.Header.Set(clientKeyHeader, deriveClientKey(victim, nil))
	attacker.Header.Set("X-Forwarded-For", "198.51.100.7")
	attacker.Header.Set("User-Agent", "victim")
	assert.NotSame(t, jar, s.clientJar(attacker))
	assert.Same(t, jar, s.clientJar(victim))
}

func TestViewKeepsClientsApart(t *testing.T) {
	t.Parallel()
	up := newUpstream(t)
	s := New(Config{Upstream: up.URL, SitesDir: t.TempDir(), DetailCacheDir: t.TempDir()})
	defer s.Close()

	view := func(ua string) string {
		r := httptest.NewRequest(http.MethodGet, "/view?url=/s-fahrraeder/c217", nil)
		r.Header.Set("User-Agent", ua)
		rec := httptest.NewRecorder()
		s.ServeHTTP(rec, r)
		require.Equal(t, http.StatusOK, rec.Code)
		return rec.Body.String()
	}
	assert.Contains(t, view("alice"), `id="fa-liked"`)
	assert.NotContains(t, view("bob"), `id="fa-liked"`)
	assert.Contains(t, view("alice"), `id="fa-liked"`)
	assert.Equal(t, int32(2), up.resultHits.Load(), "one page fetch per client")
	assert.Equal(t, int32(2), up.detailHits.Load(), "one detail fetch per client")
}

func TestParseNav(t *testing.T) {
	t.Parallel()
	assert.Equal(t, []string{"ArrowRight", "ArrowLeft", "ArrowRight"}, parseNav("next, prev,bogus,right"))
	assert.Empty(t, parseNav(""))
}
