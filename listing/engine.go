// Package listing enriches result cards with data from their detail pages.
package listing

import (
	"context"
	"fmt"
	"net/url"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/net/html"
	"golang.org/x/sync/errgroup"

	"adtrim/dom"
	"adtrim/fetch"
	"adtrim/markup"
)

// DefaultContainers are the result tables whose children are cards.
const DefaultContainers = "#srchrslt-adtable, #srchrslt-adtable-altads"

const (
	cardTag       = "ARTICLE"
	accentColor   = "#b5e941"
	descTargetSel = ".aditem-main--middle--description"
)

// ClickGallery is published when a card's image is clicked.
type ClickGallery struct {
	Fragments *DetailFragmentSet
	Article   *html.Node
	Event     *dom.Event
}

// Stats counts the outcome of the last Process call.
type Stats struct {
	Cards    int
	Enriched int
	Failed   int
	Liked    int
}

type Options struct {
	Fetcher  fetch.Fetcher
	Renderer *markup.Renderer
	// Events receives gallery clicks. Sends never block; a full channel
	// drops the click.
	Events chan<- ClickGallery
	// BaseURL resolves relative data-href links.
	BaseURL string
	Logger  *zap.Logger
}

// Engine styles and enriches listing cards.
type Engine struct {
	doc      *dom.Document
	fetcher  fetch.Fetcher
	renderer *markup.Renderer
	events   chan<- ClickGallery
	base     *url.URL
	logger   *zap.Logger

	mu    sync.Mutex
	stats Stats
}

// card is one genuine listing discovered in a result table.
type card struct {
	item    *html.Node
	article *html.Node
	link    string
}

func New(doc *dom.Document, opts Options) (*Engine, error) {
	if opts.Fetcher == nil {
		return nil, fmt.Errorf("listing: fetcher is required")
	}
	if opts.Renderer == nil {
		r, err := markup.NewRenderer()
		if err != nil {
			return nil, err
		}
		opts.Renderer = r
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	e := &Engine{
		doc:      doc,
		fetcher:  opts.Fetcher,
		renderer: opts.Renderer,
		events:   opts.Events,
		logger:   opts.Logger,
	}
	if opts.BaseURL != "" {
		base, err := url.Parse(opts.BaseURL)
		if err != nil {
			return nil, fmt.Errorf("listing: base url: %w", err)
		}
		e.base = base
	}
	return e, nil
}

// Stats returns a snapshot of the last run.
func (e *Engine) Stats() Stats {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.stats
}

// Process styles every card under the given containers and enriches all of
// them concurrently. It returns once every card has been enriched or has
// failed; per-card failures are logged, not returned.
func (e *Engine) Process(ctx context.Context, containers ...string) error {
	if len(containers) == 0 {
		containers = []string{DefaultContainers}
	}
	var cards []card
	e.doc.Do(func(tx *dom.Tx) {
		cards = e.discover(tx.Root(), containers)
		for _, c := range cards {
			addStylings(c.item)
		}
	})

	e.mu.Lock()
	e.stats = Stats{Cards: len(cards)}
	e.mu.Unlock()
	if len(cards) == 0 {
		return nil
	}

	start := time.Now()
	var g errgroup.Group
	for _, c := range cards {
		c := c
		g.Go(func() error {
			e.enrich(ctx, c)
			return nil
		})
	}
	_ = g.Wait()

	st := e.Stats()
	e.logger.Debug("cards processed",
		zap.Int("cards", st.Cards),
		zap.Int("enriched", st.Enriched),
		zap.Int("failed", st.Failed),
		zap.Duration("took", time.Since(start)))
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("process listings: %w", err)
	}
	return nil
}

func (e *Engine) discover(root *html.Node, containers []string) []card {
	var out []card
	seen := map[*html.Node]bool{}
	for _, sel := range containers {
		for _, table := range dom.QueryAll(root, sel) {
			for _, item := range dom.ElementChildren(table) {
				first := dom.FirstElementChild(item)
				if dom.TagName(first) != cardTag || seen[item] {
					continue
				}
				seen[item] = true
				out = append(out, card{
					item:    item,
					article: first,
					link:    e.resolve(dom.GetAttr(first, "data-href")),
				})
			}
		}
	}
	return out
}

func (e *Engine) resolve(href string) string {
	if href == "" || e.base == nil {
		return href
	}
	ref, err := url.Parse(href)
	if err != nil {
		return href
	}
	return e.base.ResolveReference(ref).String()
}

func addStylings(item *html.Node) {
	dom.CSS(item, dom.StyleMap{
		"marginBottom": "2rem",
		"boxShadow":    "3px 3px 5px 0px rgb(0, 0, 0, 0.04)",
		"position":     "relative",
	})
	dom.CSS(dom.QueryFirst(item, ".ellipsis"), dom.StyleMap{
		"fontSize":   "1.3rem",
		"fontWeight": "500",
	})
	if a := dom.QueryFirst(item, ".aditem-image > a"); a != nil {
		dom.CSS(a, dom.StyleMap{"position": "relative"})
		dom.SetAttr(a, "href", "javascript:void(0)")
	}
}

func (e *Engine) enrich(ctx context.Context, c card) {
	log := e.logger.With(zap.String("link", c.link))
	if c.link == "" {
		log.Warn("card without detail link")
		e.count(func(s *Stats) { s.Failed++ })
		return
	}
	page, err := e.fetcher.Fetch(ctx, c.link)
	if err != nil {
		log.Error("could not fetch ad", zap.Error(err))
		e.count(func(s *Stats) { s.Failed++ })
		return
	}
	set, err := ParseDetail(page.Body)
	if err != nil {
		log.Error("could not parse ad", zap.Error(err))
		e.count(func(s *Stats) { s.Failed++ })
		return
	}
	frags, err := e.renderFragments(set)
	if err != nil {
		log.Error("could not render card fragments", zap.Error(err))
		e.count(func(s *Stats) { s.Failed++ })
		return
	}

	e.doc.Do(func(tx *dom.Tx) {
		e.patch(tx, c, set, frags)
	})
	e.count(func(s *Stats) {
		s.Enriched++
		if set.Liked() {
			s.Liked++
		}
	})
	log.Debug("card enriched", zap.Bool("liked", set.Liked()), zap.Int("images", set.ImageCount))
}

func (e *Engine) count(fn func(*Stats)) {
	e.mu.Lock()
	fn(&e.stats)
	e.mu.Unlock()
}

type cardFragments struct {
	loader      *html.Node
	button      *html.Node
	placeholder *html.Node
	heart       *html.Node
}

// renderFragments builds every node a patch inserts so that the patch itself
// cannot fail halfway.
func (e *Engine) renderFragments(set *DetailFragmentSet) (cardFragments, error) {
	var f cardFragments
	var err error
	if f.loader, err = e.renderer.Element(markup.ImageLoader, nil); err != nil {
		return f, err
	}
	dom.CSS(f.loader, dom.StyleMap{"display": "none"})
	if f.button, err = e.renderer.Element(markup.DescButton, markup.DescButtonText); err != nil {
		return f, err
	}
	if f.placeholder, err = e.renderer.Element(markup.DescPlaceholder, markup.DescButtonBusyText); err != nil {
		return f, err
	}
	if set.Liked() {
		if f.heart, err = e.renderer.Element(markup.Liked, nil); err != nil {
			return f, err
		}
	}
	return f, nil
}

func (e *Engine) patch(tx *dom.Tx, c card, set *DetailFragmentSet, f cardFragments) {
	if a := dom.QueryFirst(c.item, ".aditem-image > a"); a != nil {
		dom.InsertAdjacent(a, dom.BeforeEnd, f.loader)
	}

	dom.InsertAdjacent(c.article, dom.BeforeEnd, f.button)
	tx.On(f.button, dom.EventClick, e.descriptionListener(c.article, set, f.placeholder))

	if f.heart != nil {
		dom.InsertAdjacent(dom.QueryFirst(c.item, ".ellipsis"), dom.AfterBegin, f.heart)
		dom.CSS(c.item, dom.StyleMap{"borderColor": accentColor, "borderWidth": "2px"})
	}

	if img := dom.QueryFirst(c.article, ".aditem-image"); img != nil {
		article := c.article
		tx.On(img, dom.EventClick, func(_ *dom.Tx, ev *dom.Event) {
			e.publish(ClickGallery{Fragments: set, Article: article, Event: ev})
		})
	}
}

// descriptionListener swaps the placeholder and then the full description
// into the card on first activation and hides the control for good. The
// placeholder stays when the description cannot be parsed.
func (e *Engine) descriptionListener(article *html.Node, set *DetailFragmentSet, placeholder *html.Node) dom.Listener {
	done := false
	return func(tx *dom.Tx, ev *dom.Event) {
		ev.PreventDefault()
		ev.StopImmediatePropagation()
		if done {
			return
		}
		done = true
		wrapper := ev.CurrentTarget
		if btn := dom.QueryFirst(wrapper, "#fa-ad-load-desc-btn"); btn != nil {
			dom.SetText(btn, markup.DescButtonBusyText)
		}
		if target := dom.QueryFirst(article, descTargetSel); target != nil {
			tx.Empty(target)
			dom.InsertAdjacent(target, dom.AfterBegin, placeholder)
			tx.SetAttrs(placeholder, map[string]string{"data-fa-desc": "pending"})
			nodes, err := dom.ParseFragment(set.DescriptionHTML)
			if err != nil {
				e.logger.Warn("could not insert description", zap.Error(err))
			} else {
				dom.InsertAdjacent(placeholder, dom.BeforeBegin, nodes...)
				_ = tx.Remove(placeholder)
			}
		}
		tx.SetAttrs(wrapper, map[string]string{"data-fa-loaded": "true"})
		dom.CSS(wrapper, dom.StyleMap{"display": "none"})
	}
}

func (e *Engine) publish(msg ClickGallery) {
	if e.events == nil {
		return
	}
	select {
	case e.events <- msg:
	default:
		e.logger.Warn("gallery mailbox full, click dropped")
	}
}
