package fetch

import (
	"context"
	"fmt"
	"math"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/chromedp/cdproto/cdp"
	"github.com/chromedp/cdproto/emulation"
	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/chromedp"
	"go.uber.org/zap"
)

// BrowserOptions tune how long a headless fetch waits for the page to settle.
type BrowserOptions struct {
	Timeout time.Duration
	// WaitSelector, when set, must become visible before the markup is read.
	WaitSelector string
	// IdleFor waits until no network request has been in flight for this long.
	IdleFor time.Duration
	Header  http.Header
	Jar     http.CookieJar
	Logger  *zap.Logger
}

// BrowserFetcher renders pages in headless Chrome and returns the resulting
// markup. Used for hosts whose listings are assembled client side.
type BrowserFetcher struct {
	allocator context.Context
	cancel    context.CancelFunc
	opts      BrowserOptions
	logger    *zap.Logger
}

func NewBrowser(opts BrowserOptions) *BrowserFetcher {
	if opts.Timeout <= 0 {
		opts.Timeout = 25 * time.Second
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	flags := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.Flag("headless", true),
		chromedp.Flag("disable-gpu", true),
		chromedp.Flag("mute-audio", true),
		chromedp.Flag("no-first-run", true),
		chromedp.Flag("no-default-browser-check", true),
		chromedp.Flag("disable-background-networking", true),
		chromedp.Flag("disable-sync", true),
		chromedp.Flag("disable-extensions", true),
	)
	alloc, cancel := chromedp.NewExecAllocator(context.Background(), flags...)
	return &BrowserFetcher{allocator: alloc, cancel: cancel, opts: opts, logger: opts.Logger}
}

// WithJar returns a fetcher that shares b's browser allocator but syncs
// cookies with jar. Closing the copy leaves the allocator running.
func (b *BrowserFetcher) WithJar(jar http.CookieJar) *BrowserFetcher {
	opts := b.opts
	opts.Jar = jar
	return &BrowserFetcher{allocator: b.allocator, opts: opts, logger: b.logger}
}

// Close shuts the browser down.
func (b *BrowserFetcher) Close() {
	if b.cancel != nil {
		b.cancel()
	}
}

func (b *BrowserFetcher) Fetch(ctx context.Context, target string) (*Page, error) {
	if strings.TrimSpace(target) == "" {
		return nil, fmt.Errorf("browser fetch: empty target url")
	}
	taskCtx, cancelTab := chromedp.NewContext(b.allocator)
	defer cancelTab()

	// bind the tab to the caller's cancellation
	taskCtx, cancel := context.WithCancel(taskCtx)
	defer cancel()
	go func() {
		select {
		case <-ctx.Done():
			cancel()
		case <-taskCtx.Done():
		}
	}()
	taskCtx, cancelTimeout := context.WithTimeout(taskCtx, b.opts.Timeout)
	defer cancelTimeout()

	var (
		mu         sync.Mutex
		inflight   int
		lastActive = time.Now()
		mainID     network.RequestID
		status     int
		header     = http.Header{}
	)
	chromedp.ListenTarget(taskCtx, func(ev interface{}) {
		mu.Lock()
		defer mu.Unlock()
		switch e := ev.(type) {
		case *network.EventRequestWillBeSent:
			inflight++
			lastActive = time.Now()
			if e.Type == network.ResourceTypeDocument && mainID == "" {
				mainID = e.RequestID
			}
		case *network.EventLoadingFinished, *network.EventLoadingFailed:
			if inflight > 0 {
				inflight--
			}
			lastActive = time.Now()
		case *network.EventResponseReceived:
			if e.RequestID != mainID {
				return
			}
			status = int(e.Response.Status)
			for k, v := range e.Response.Headers {
				header.Add(k, fmt.Sprint(v))
			}
		}
	})

	reqHeader := cloneHeader(b.opts.Header)
	actions := []chromedp.Action{network.Enable()}
	if ua := reqHeader.Get("User-Agent"); ua != "" {
		actions = append(actions, chromedp.ActionFunc(func(ctx context.Context) error {
			return emulation.SetUserAgentOverride(ua).Do(ctx)
		}))
		reqHeader.Del("User-Agent")
	}
	if len(reqHeader) > 0 {
		extra := network.Headers{}
		for k, vs := range reqHeader {
			if len(vs) > 0 {
				extra[http.CanonicalHeaderKey(k)] = strings.Join(vs, ", ")
			}
		}
		actions = append(actions, chromedp.ActionFunc(func(ctx context.Context) error {
			return network.SetExtraHTTPHeaders(extra).Do(ctx)
		}))
	}
	if params := cookieParams(b.opts.Jar, target); len(params) > 0 {
		actions = append(actions, chromedp.ActionFunc(func(ctx context.Context) error {
			return network.SetCookies(params).Do(ctx)
		}))
	}

	actions = append(actions,
		chromedp.Navigate(target),
		chromedp.WaitReady("body", chromedp.ByQuery),
	)
	if sel := strings.TrimSpace(b.opts.WaitSelector); sel != "" {
		actions = append(actions, chromedp.WaitVisible(sel, chromedp.ByQuery))
	}
	if b.opts.IdleFor > 0 {
		actions = append(actions, chromedp.ActionFunc(func(ctx context.Context) error {
			ticker := time.NewTicker(50 * time.Millisecond)
			defer ticker.Stop()
			for {
				mu.Lock()
				idle := inflight == 0 && time.Since(lastActive) >= b.opts.IdleFor
				mu.Unlock()
				if idle {
					return nil
				}
				select {
				case <-ctx.Done():
					return ctx.Err()
				case <-ticker.C:
				}
			}
		}))
	}

	var finalURL, markup string
	var cookies []*network.Cookie
	actions = append(actions,
		chromedp.Location(&finalURL),
		chromedp.OuterHTML("html", &markup, chromedp.ByQuery),
		chromedp.ActionFunc(func(ctx context.Context) error {
			var err error
			cookies, err = network.GetCookies().WithURLs([]string{target}).Do(ctx)
			return err
		}),
	)

	start := time.Now()
	if err := chromedp.Run(taskCtx, actions...); err != nil {
		return nil, fmt.Errorf("browser fetch %s: %w", target, err)
	}
	if finalURL == "" {
		finalURL = target
	}
	b.storeCookies(finalURL, cookies)

	mu.Lock()
	defer mu.Unlock()
	if status != 0 && (status < 200 || status > 299) {
		return nil, fmt.Errorf("browser fetch %s: %w: %d", target, ErrStatus, status)
	}
	b.logger.Debug("rendered",
		zap.String("url", finalURL),
		zap.Int("status", status),
		zap.Int("bytes", len(markup)),
		zap.Duration("took", time.Since(start)))
	return &Page{URL: finalURL, Status: status, Header: header, Body: markup}, nil
}

func (b *BrowserFetcher) storeCookies(rawURL string, cookies []*network.Cookie) {
	if b.opts.Jar == nil || len(cookies) == 0 {
		return
	}
	u, err := url.Parse(rawURL)
	if err != nil {
		return
	}
	out := make([]*http.Cookie, 0, len(cookies))
	for _, c := range cookies {
		if hc := cookieFromNetwork(c); hc != nil {
			out = append(out, hc)
		}
	}
	b.opts.Jar.SetCookies(u, out)
}

func cookieParams(jar http.CookieJar, rawURL string) []*network.CookieParam {
	if jar == nil {
		return nil
	}
	u, err := url.Parse(rawURL)
	if err != nil {
		return nil
	}
	var params []*network.CookieParam
	for _, c := range jar.Cookies(u) {
		p := &network.CookieParam{
			Name:     c.Name,
			Value:    c.Value,
			Domain:   c.Domain,
			Path:     c.Path,
			Secure:   c.Secure,
			HTTPOnly: c.HttpOnly,
		}
		if p.Domain == "" {
			p.Domain = u.Hostname()
		}
		if p.Path == "" {
			p.Path = "/"
		}
		if !c.Expires.IsZero() {
			exp := cdp.TimeSinceEpoch(c.Expires.UTC())
			p.Expires = &exp
		}
		params = append(params, p)
	}
	return params
}

func cookieFromNetwork(c *network.Cookie) *http.Cookie {
	if c == nil {
		return nil
	}
	hc := &http.Cookie{
		Name:     c.Name,
		Value:    c.Value,
		Path:     c.Path,
		Domain:   c.Domain,
		Secure:   c.Secure,
		HttpOnly: c.HTTPOnly,
	}
	if !c.Session && c.Expires > 0 {
		sec, frac := math.Modf(c.Expires)
		hc.Expires = time.Unix(int64(sec), int64(frac*1e9)).UTC()
	}
	switch c.SameSite {
	case network.CookieSameSiteLax:
		hc.SameSite = http.SameSiteLaxMode
	case network.CookieSameSiteStrict:
		hc.SameSite = http.SameSiteStrictMode
	case network.CookieSameSiteNone:
		hc.SameSite = http.SameSiteNoneMode
	}
	return hc
}
