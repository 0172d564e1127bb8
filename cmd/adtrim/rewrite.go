package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"sort"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"adtrim/dom"
	"adtrim/fetch"
	"adtrim/markup"
	"adtrim/pipeline"
)

var (
	rewriteOut      string
	rewritePageURL  string
	rewriteBrowser  bool
	rewriteSettle   time.Duration
	rewriteTimeout  time.Duration
	rewriteComputed string
	rewriteCacheDir string
)

var rewriteCmd = &cobra.Command{
	Use:   "rewrite <url|file>",
	Short: "Run the pipeline over one page and write the result",
	Long: `rewrite fetches a page (or reads a saved copy), removes its ads, restyles
it and enriches its listing cards, then writes the HTML.

When reading a file, --url tells which page it was saved from; the page type
and detail links are derived from it.`,
	Args: cobra.ExactArgs(1),
	RunE: runRewrite,
}

func init() {
	f := rewriteCmd.Flags()
	f.StringVarP(&rewriteOut, "out", "o", "-", "output file, - for stdout")
	f.StringVar(&rewritePageURL, "url", "", "original URL of a page read from a file")
	f.BoolVar(&rewriteBrowser, "browser", false, "load the page with headless Chrome")
	f.DurationVar(&rewriteSettle, "settle", 0, "wait after enrichment before writing")
	f.DurationVar(&rewriteTimeout, "timeout", 2*time.Minute, "overall deadline")
	f.StringVar(&rewriteCacheDir, "cache-dir", os.Getenv("ADTRIM_CACHE_DIR"), "directory caching detail pages between runs")
	f.StringVar(&rewriteComputed, "computed", "", "print the computed style of elements matching this selector instead of the page")
}

func runRewrite(cmd *cobra.Command, args []string) error {
	ctx, cancel := context.WithTimeout(cmd.Context(), rewriteTimeout)
	defer cancel()

	direct := fetch.NewHTTP(fetch.HTTPOptions{Logger: logger})
	var cache *fetch.DiskCache
	if rewriteCacheDir != "" {
		c, err := fetch.NewDiskCache(fetch.DiskCacheOptions{Dir: rewriteCacheDir, Logger: logger})
		if err != nil {
			return err
		}
		cache = c
	}
	details := fetch.Cached(direct, cache, "")
	body, pageURL, err := loadSource(ctx, args[0], direct)
	if err != nil {
		return err
	}
	doc, err := dom.ParseString(body)
	if err != nil {
		return fmt.Errorf("parse %s: %w", args[0], err)
	}

	settle := rewriteSettle
	if settle <= 0 {
		settle = -1
	}
	res, err := pipeline.Run(ctx, doc, pageURL, pipeline.Deps{
		Fetcher:     details,
		Renderer:    markup.MustRenderer(),
		Logger:      logger,
		SettleDelay: settle,
	})
	if err != nil {
		return fmt.Errorf("pipeline: %w", err)
	}
	defer res.Stop()
	logger.Info("page processed",
		zap.String("url", pageURL),
		zap.Stringer("page", res.Page),
		zap.Int("cards", res.Stats.Cards),
		zap.Int("enriched", res.Stats.Enriched),
		zap.Int("failed", res.Stats.Failed))

	out, closeOut, err := openOut(rewriteOut)
	if err != nil {
		return err
	}
	defer closeOut()

	if rewriteComputed != "" {
		printComputed(out, doc, rewriteComputed)
		return nil
	}
	return doc.Render(out)
}

func loadSource(ctx context.Context, src string, f fetch.Fetcher) (body, pageURL string, err error) {
	if strings.HasPrefix(src, "http://") || strings.HasPrefix(src, "https://") {
		if rewriteBrowser {
			b := fetch.NewBrowser(fetch.BrowserOptions{Logger: logger})
			defer b.Close()
			f = b
		}
		page, err := f.Fetch(ctx, src)
		if err != nil {
			return "", "", fmt.Errorf("fetch %s: %w", src, err)
		}
		return page.Body, page.URL, nil
	}
	data, err := os.ReadFile(src)
	if err != nil {
		return "", "", fmt.Errorf("read %s: %w", src, err)
	}
	if rewritePageURL == "" {
		return "", "", fmt.Errorf("reading %s: --url is required for files", src)
	}
	return string(data), rewritePageURL, nil
}

func openOut(path string) (io.Writer, func(), error) {
	if path == "" || path == "-" {
		return os.Stdout, func() {}, nil
	}
	f, err := os.Create(path)
	if err != nil {
		return nil, nil, fmt.Errorf("create %s: %w", path, err)
	}
	return f, func() { f.Close() }, nil
}

func printComputed(w io.Writer, doc *dom.Document, selector string) {
	doc.Do(func(tx *dom.Tx) {
		ss := dom.CollectStylesheet(tx.Root())
		for _, n := range dom.QueryAll(tx.Root(), selector) {
			props := dom.ComputedStyle(n, ss)
			keys := make([]string, 0, len(props))
			for k := range props {
				keys = append(keys, k)
			}
			sort.Strings(keys)
			var b strings.Builder
			for _, k := range keys {
				fmt.Fprintf(&b, " %s=%s", k, props[k])
			}
			fmt.Fprintf(w, "node=%s id=%q classes=%v%s\n", n.Data, dom.GetAttr(n, "id"), strings.Fields(dom.GetAttr(n, "class")), b.String())
		}
	})
}
