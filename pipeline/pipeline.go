// Package pipeline wires the page components together for one document.
package pipeline

import (
	"context"
	"fmt"
	"net/url"
	"sync"
	"time"

	"go.uber.org/zap"

	"adtrim/adblock"
	"adtrim/dom"
	"adtrim/fetch"
	"adtrim/gallery"
	"adtrim/layout"
	"adtrim/listing"
	"adtrim/markup"
	"adtrim/ui"
)

const (
	DefaultSettleDelay = 2 * time.Second
	mailboxSize        = 8
)

// Deps are the collaborators of a run.
type Deps struct {
	Fetcher  fetch.Fetcher
	Renderer *markup.Renderer
	Logger   *zap.Logger
	// SettleDelay keeps the loader up after enrichment. Negative disables it.
	SettleDelay time.Duration
	RetryDelay  time.Duration
}

// Result is the live state of a processed page. Stop must be called once
// the page is no longer needed.
type Result struct {
	Page    PageType
	Blocker *adblock.Blocker
	Gallery *gallery.Gallery
	UI      *ui.UI
	Stats   listing.Stats

	stopOnce sync.Once
	stops    []func()
}

// Stop ends the ad watch and the gallery loop. Safe to call more than once.
func (r *Result) Stop() {
	r.stopOnce.Do(func() {
		for i := len(r.stops) - 1; i >= 0; i-- {
			r.stops[i]()
		}
	})
}

// Run processes doc as the page at pageURL: loader up, ads removed, layout
// adjusted, cards enriched, loader down. Background tasks keep running
// until ctx ends or Result.Stop is called.
func Run(ctx context.Context, doc *dom.Document, pageURL string, deps Deps) (*Result, error) {
	u, err := url.Parse(pageURL)
	if err != nil {
		return nil, fmt.Errorf("pipeline: page url: %w", err)
	}
	if deps.Renderer == nil {
		if deps.Renderer, err = markup.NewRenderer(); err != nil {
			return nil, err
		}
	}
	if deps.Logger == nil {
		deps.Logger = zap.NewNop()
	}
	if deps.SettleDelay == 0 {
		deps.SettleDelay = DefaultSettleDelay
	}

	page := Classify(u.Path)
	log := deps.Logger.With(zap.String("page", page.String()), zap.String("url", pageURL))
	res := &Result{Page: page}
	if page == PageUnknown {
		log.Debug("page not handled")
		return res, nil
	}
	plan := PlanFor(page)

	ok := false
	defer func() {
		if !ok {
			res.Stop()
		}
	}()

	res.UI = ui.New(doc, ui.Options{Renderer: deps.Renderer, Logger: deps.Logger})
	if err := res.UI.MountLoader(); err != nil {
		return nil, err
	}
	res.UI.ToggleLoading()
	res.UI.ToggleScrollBlocking()

	res.Blocker = adblock.New(doc, adblock.Config{
		Registry:   plan.Registry,
		RetryDelay: deps.RetryDelay,
		Logger:     deps.Logger,
	})
	if err := res.Blocker.RemoveAds(ctx); err != nil {
		return nil, err
	}
	res.stops = append(res.stops, res.Blocker.Watch(ctx))

	adj := layout.New(doc, layout.Config{Ready: res.Blocker.IsCompleted, Logger: deps.Logger})
	if err := adj.Adjust(plan.Styles); err != nil {
		return nil, err
	}

	if plan.Enrich {
		if err := res.enrich(ctx, doc, pageURL, plan, deps); err != nil {
			return nil, err
		}
	}

	if deps.SettleDelay > 0 {
		select {
		case <-ctx.Done():
			return nil, fmt.Errorf("pipeline: settle: %w", ctx.Err())
		case <-time.After(deps.SettleDelay):
		}
	}
	res.UI.ToggleLoading()
	res.UI.ToggleScrollBlocking()

	ok = true
	log.Info("page processed",
		zap.Int("ad_passes", res.Blocker.Passes()),
		zap.Int("cards", res.Stats.Cards),
		zap.Int("enriched", res.Stats.Enriched))
	return res, nil
}

func (r *Result) enrich(ctx context.Context, doc *dom.Document, pageURL string, plan Plan, deps Deps) error {
	if deps.Fetcher == nil {
		return fmt.Errorf("pipeline: enrichment needs a fetcher")
	}
	mailbox := make(chan listing.ClickGallery, mailboxSize)

	r.Gallery = gallery.New(doc, gallery.Options{Renderer: deps.Renderer, Logger: deps.Logger})
	if err := r.Gallery.Mount(); err != nil {
		return err
	}
	gctx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	go func() {
		defer close(done)
		r.Gallery.Run(gctx, mailbox)
	}()
	r.stops = append(r.stops, func() {
		cancel()
		<-done
	})

	engine, err := listing.New(doc, listing.Options{
		Fetcher:  deps.Fetcher,
		Renderer: deps.Renderer,
		Events:   mailbox,
		BaseURL:  pageURL,
		Logger:   deps.Logger,
	})
	if err != nil {
		return err
	}
	if err := engine.Process(ctx, plan.Containers...); err != nil {
		return err
	}
	r.Stats = engine.Stats()
	return nil
}
