// Package gallery implements the modal image viewer opened from listing
// cards.
package gallery

import (
	"context"
	"fmt"
	"sync"

	"go.uber.org/zap"
	"golang.org/x/net/html"

	"adtrim/dom"
	"adtrim/listing"
	"adtrim/markup"
)

// Direction moves the current image.
type Direction int

const (
	Next Direction = iota
	Prev
)

const (
	KeyArrowLeft  = "ArrowLeft"
	KeyArrowRight = "ArrowRight"
)

const (
	dialogSel  = "#fa-dialog"
	boxSel     = "#fa-gallery"
	imageSel   = ".galleryimage-element"
	prevSel    = ".galleryimage--navigation--prev"
	nextSel    = ".galleryimage--navigation--next"
	closeSel   = "#fa-gallery-close-btn"
	loaderSel  = "#fa-image-loading"
	currentCls = "current"
)

var stripSelectors = []string{
	`[data-liberty-position-name="vip-gallery-carrousel"]`,
	".galleryimage--info",
}

type Options struct {
	Renderer *markup.Renderer
	Logger   *zap.Logger
}

// Gallery owns the shared dialog inserted at the top of <body>.
type Gallery struct {
	doc      *dom.Document
	renderer *markup.Renderer
	logger   *zap.Logger

	mu      sync.Mutex
	dialog  *html.Node
	opened  int
	focused bool
}

func New(doc *dom.Document, opts Options) *Gallery {
	if opts.Renderer == nil {
		opts.Renderer = markup.MustRenderer()
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	return &Gallery{doc: doc, renderer: opts.Renderer, logger: opts.Logger}
}

// Mount inserts the dialog and binds keyboard navigation. Mounting twice is a
// no-op.
func (g *Gallery) Mount() error {
	var err error
	g.doc.Do(func(tx *dom.Tx) { err = g.mount(tx) })
	return err
}

func (g *Gallery) mount(tx *dom.Tx) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.dialog != nil {
		return nil
	}
	body := tx.Body()
	if body == nil {
		return fmt.Errorf("mount gallery: document has no body")
	}
	dialog, err := g.renderer.Element(markup.GalleryDialog, nil)
	if err != nil {
		return fmt.Errorf("mount gallery: %w", err)
	}
	tx.On(dialog, dom.EventKeyUp, func(tx *dom.Tx, ev *dom.Event) {
		g.navigate(tx, ev.Key)
	})
	tx.On(dialog, dom.EventFocus, func(*dom.Tx, *dom.Event) {
		g.mu.Lock()
		g.focused = true
		g.mu.Unlock()
	})
	dom.InsertAdjacent(body, dom.AfterBegin, dialog)
	g.dialog = dialog
	return nil
}

// Open fills the dialog from a card's fragments and shows it.
func (g *Gallery) Open(set *listing.DetailFragmentSet, article *html.Node) error {
	var err error
	g.doc.Do(func(tx *dom.Tx) { err = g.open(tx, set, article) })
	return err
}

func (g *Gallery) open(tx *dom.Tx, set *listing.DetailFragmentSet, article *html.Node) error {
	if set == nil {
		return fmt.Errorf("open gallery: no fragments")
	}
	if err := g.mount(tx); err != nil {
		return err
	}
	toggleLoading(article, true)
	defer toggleLoading(article, false)

	box := dom.QueryFirst(g.dialog, boxSel)
	if box == nil {
		return fmt.Errorf("open gallery: %s missing", boxSel)
	}
	tx.Empty(box)
	if set.GalleryHTML != "" {
		if err := dom.InsertHTML(box, dom.AfterBegin, set.GalleryHTML); err != nil {
			return fmt.Errorf("open gallery: %w", err)
		}
	}
	if err := g.prepare(tx, box); err != nil {
		return err
	}
	g.registerEvents(tx, box)

	tx.SetAttrs(g.dialog, map[string]string{"open": ""})
	tx.Dispatch(g.dialog, &dom.Event{Type: dom.EventFocus})

	g.mu.Lock()
	g.opened++
	g.mu.Unlock()
	g.logger.Debug("gallery opened", zap.Int("images", set.ImageCount))
	return nil
}

func (g *Gallery) prepare(tx *dom.Tx, box *html.Node) error {
	for _, img := range dom.QueryAll(box, "#viewad-image") {
		tx.SetAttrs(img, map[string]string{"loading": "eager"})
	}
	for _, sel := range stripSelectors {
		for _, n := range dom.QueryAll(box, sel) {
			if err := tx.Remove(n); err != nil {
				g.logger.Warn("could not strip gallery element", zap.String("selector", sel), zap.Error(err))
			}
		}
	}
	closeForm, err := g.renderer.Element(markup.GalleryClose, nil)
	if err != nil {
		return fmt.Errorf("open gallery: %w", err)
	}
	dom.InsertAdjacent(box, dom.AfterBegin, closeForm)
	tx.On(dom.QueryFirst(closeForm, closeSel), dom.EventClick, func(tx *dom.Tx, ev *dom.Event) {
		ev.PreventDefault()
		g.close(tx)
	})
	return nil
}

// registerEvents binds the prev/next controls. Galleries without both
// controls are left unbound.
func (g *Gallery) registerEvents(tx *dom.Tx, box *html.Node) {
	prev := dom.QueryFirst(box, prevSel)
	next := dom.QueryFirst(box, nextSel)
	if prev == nil || next == nil {
		return
	}
	bind := func(n *html.Node, d Direction) {
		tx.On(n, dom.EventClick, func(_ *dom.Tx, ev *dom.Event) {
			ev.PreventDefault()
			ev.StopImmediatePropagation()
			changeImage(box, d)
		})
	}
	bind(prev, Prev)
	bind(next, Next)
}

// ChangeImage moves the current marker one image in direction, wrapping at
// both ends.
func (g *Gallery) ChangeImage(d Direction) {
	g.doc.Do(func(*dom.Tx) {
		if box := g.box(); box != nil {
			changeImage(box, d)
		}
	})
}

func changeImage(box *html.Node, d Direction) {
	nodes := dom.QueryAll(box, imageSel)
	n := len(nodes)
	if n == 0 {
		return
	}
	cur := indexOfCurrent(nodes)
	if cur >= 0 {
		dom.RemoveClass(nodes[cur], currentCls)
	}
	var idx int
	if d == Next {
		idx = (cur + 1) % n
	} else {
		idx = ((cur-1)%n + n) % n
	}
	dom.AddClass(nodes[idx], currentCls)
}

func indexOfCurrent(nodes []*html.Node) int {
	for i, n := range nodes {
		if dom.HasClass(n, currentCls) {
			return i
		}
	}
	return -1
}

// CurrentIndex returns the index of the current image, or -1.
func (g *Gallery) CurrentIndex() int {
	idx := -1
	g.doc.Do(func(*dom.Tx) {
		if box := g.box(); box != nil {
			idx = indexOfCurrent(dom.QueryAll(box, imageSel))
		}
	})
	return idx
}

// Navigate delivers a key press to the dialog.
func (g *Gallery) Navigate(key string) {
	g.mu.Lock()
	dialog := g.dialog
	g.mu.Unlock()
	if dialog == nil {
		return
	}
	g.doc.Dispatch(dialog, &dom.Event{Type: dom.EventKeyUp, Key: key})
}

func (g *Gallery) navigate(tx *dom.Tx, key string) {
	var sel string
	switch key {
	case KeyArrowLeft:
		sel = prevSel
	case KeyArrowRight:
		sel = nextSel
	default:
		return
	}
	if ctrl := dom.QueryFirst(g.dialog, sel); ctrl != nil {
		tx.Dispatch(ctrl, &dom.Event{Type: dom.EventClick})
	}
}

// IsOpen reports whether the dialog is showing.
func (g *Gallery) IsOpen() bool {
	open := false
	g.doc.Do(func(*dom.Tx) {
		if g.dialog != nil {
			_, open = dom.LookupAttr(g.dialog, "open")
		}
	})
	return open
}

// Focused reports whether the dialog holds keyboard focus.
func (g *Gallery) Focused() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.focused
}

// Opened counts how often the dialog was populated.
func (g *Gallery) Opened() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.opened
}

func (g *Gallery) close(tx *dom.Tx) {
	dom.RemoveAttr(g.dialog, "open")
	tx.SetAttrs(g.dialog, map[string]string{"data-fa-closed": "true"})
	g.mu.Lock()
	g.focused = false
	g.mu.Unlock()
}

func (g *Gallery) box() *html.Node {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.dialog == nil {
		return nil
	}
	return dom.QueryFirst(g.dialog, boxSel)
}

func toggleLoading(article *html.Node, loading bool) {
	display := "none"
	if loading {
		display = "flex"
	}
	dom.CSS(dom.QueryFirst(article, loaderSel), dom.StyleMap{"display": display})
}

// Run opens the gallery for every click received until ctx ends or clicks
// is closed.
func (g *Gallery) Run(ctx context.Context, clicks <-chan listing.ClickGallery) {
	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-clicks:
			if !ok {
				return
			}
			if err := g.Open(msg.Fragments, msg.Article); err != nil {
				g.logger.Warn("could not open gallery", zap.Error(err))
			}
		}
	}
}
