package fetch

import (
	"bytes"
	"compress/flate"
	"compress/gzip"
	"compress/zlib"
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"
)

const defaultTimeout = 8 * time.Second

// HTTPFetcher fetches pages with net/http, decoding gzip and deflate bodies
// itself so that Accept-Encoding can be forwarded verbatim.
type HTTPFetcher struct {
	client *http.Client
	header http.Header
	logger *zap.Logger
}

type HTTPOptions struct {
	Timeout time.Duration
	// Jar carries the client's upstream session. Optional.
	Jar http.CookieJar
	// Header is added to every request.
	Header http.Header
	// Transport overrides http.DefaultTransport, mostly for tests.
	Transport http.RoundTripper
	Logger    *zap.Logger
}

func NewHTTP(opts HTTPOptions) *HTTPFetcher {
	if opts.Timeout <= 0 {
		opts.Timeout = defaultTimeout
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	return &HTTPFetcher{
		client: &http.Client{Timeout: opts.Timeout, Jar: opts.Jar, Transport: opts.Transport},
		header: cloneHeader(opts.Header),
		logger: opts.Logger,
	}
}

// WithJar returns a copy of f that uses jar for cookies.
func (f *HTTPFetcher) WithJar(jar http.CookieJar) *HTTPFetcher {
	c := *f.client
	c.Jar = jar
	return &HTTPFetcher{client: &c, header: f.header, logger: f.logger}
}

func (f *HTTPFetcher) Fetch(ctx context.Context, target string) (*Page, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return nil, fmt.Errorf("fetch %s: %w", target, err)
	}
	req.Header.Set("Accept", "text/html,*/*;q=0.8")
	for k, vals := range f.header {
		if strings.EqualFold(k, "accept") {
			continue
		}
		for _, v := range vals {
			req.Header.Add(k, v)
		}
	}

	start := time.Now()
	resp, err := f.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch %s: %w", target, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, fmt.Errorf("fetch %s: %w: %d", target, ErrStatus, resp.StatusCode)
	}
	body, err := readBody(resp)
	if err != nil {
		return nil, fmt.Errorf("fetch %s: read body: %w", target, err)
	}
	f.logger.Debug("fetched",
		zap.String("url", target),
		zap.Int("status", resp.StatusCode),
		zap.Int("bytes", len(body)),
		zap.Duration("took", time.Since(start)))

	final := target
	if resp.Request != nil && resp.Request.URL != nil {
		final = resp.Request.URL.String()
	}
	return &Page{URL: final, Status: resp.StatusCode, Header: resp.Header.Clone(), Body: string(body)}, nil
}

func readBody(resp *http.Response) ([]byte, error) {
	rc := io.ReadCloser(resp.Body)
	switch strings.ToLower(strings.TrimSpace(resp.Header.Get("Content-Encoding"))) {
	case "gzip":
		gr, err := gzip.NewReader(resp.Body)
		if err != nil {
			return nil, err
		}
		defer gr.Close()
		rc = gr
	case "deflate":
		raw, err := io.ReadAll(resp.Body)
		if err != nil {
			return nil, err
		}
		// servers disagree on whether deflate carries the zlib wrapper
		if zr, err := zlib.NewReader(bytes.NewReader(raw)); err == nil {
			defer zr.Close()
			return io.ReadAll(zr)
		}
		fr := flate.NewReader(bytes.NewReader(raw))
		defer fr.Close()
		return io.ReadAll(fr)
	}
	return io.ReadAll(rc)
}
