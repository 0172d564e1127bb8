// Package ui holds the page-level toggles: loading overlay, scroll lock and
// the scroll-to-top affordance.
package ui

import (
	"fmt"
	"sync"

	"go.uber.org/zap"
	"golang.org/x/net/html"

	"adtrim/dom"
	"adtrim/markup"
)

// ScrollTopThreshold is the scroll offset from which the scroll-to-top
// control is shown.
const ScrollTopThreshold = 1000

const (
	loaderSel    = "#fa-loading"
	scrollTopSel = "#fa-scrolltop"
)

type Options struct {
	Renderer *markup.Renderer
	// LoadingText overrides the overlay message.
	LoadingText string
	Logger      *zap.Logger
}

// UI tracks the toggle flags of one document.
type UI struct {
	doc         *dom.Document
	renderer    *markup.Renderer
	loadingText string
	logger      *zap.Logger

	mu             sync.Mutex
	loading        bool
	scrollBlocked  bool
	scrollTopShown bool
	scrollTop      int
}

func New(doc *dom.Document, opts Options) *UI {
	if opts.Renderer == nil {
		opts.Renderer = markup.MustRenderer()
	}
	if opts.LoadingText == "" {
		opts.LoadingText = markup.LoadingText
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	return &UI{doc: doc, renderer: opts.Renderer, loadingText: opts.LoadingText, logger: opts.Logger}
}

// MountLoader inserts the page loader overlay and the scroll-to-top control
// at the top of <body>. The overlay starts hidden.
func (u *UI) MountLoader() error {
	loader, err := u.renderer.Element(markup.PageLoader, u.loadingText)
	if err != nil {
		return fmt.Errorf("mount loader: %w", err)
	}
	scrollTop, err := u.renderer.Element(markup.ScrollTop, nil)
	if err != nil {
		return fmt.Errorf("mount loader: %w", err)
	}
	dom.CSS(loader, dom.StyleMap{"display": "none"})

	u.doc.Do(func(tx *dom.Tx) {
		body := tx.Body()
		if body == nil {
			err = fmt.Errorf("mount loader: document has no body")
			return
		}
		if dom.QueryFirst(body, loaderSel) == nil {
			dom.InsertAdjacent(body, dom.AfterBegin, loader)
		}
		if dom.QueryFirst(body, scrollTopSel) == nil {
			dom.InsertAdjacent(body, dom.BeforeEnd, scrollTop)
			tx.On(scrollTop, dom.EventClick, func(tx *dom.Tx, ev *dom.Event) {
				ev.PreventDefault()
				u.scrollToTop(tx, ev.CurrentTarget)
			})
		}
	})
	return err
}

// ToggleLoading flips the overlay between shown and hidden.
func (u *UI) ToggleLoading() {
	u.mu.Lock()
	u.loading = !u.loading
	display := "none"
	if u.loading {
		display = "flex"
	}
	u.mu.Unlock()
	u.doc.Do(func(tx *dom.Tx) {
		dom.CSS(dom.QueryFirst(tx.Root(), loaderSel), dom.StyleMap{"display": display})
	})
}

// ToggleScrollBlocking flips body scrolling between locked and free.
func (u *UI) ToggleScrollBlocking() {
	u.mu.Lock()
	u.scrollBlocked = !u.scrollBlocked
	overflow := "auto"
	if u.scrollBlocked {
		overflow = "hidden"
	}
	u.mu.Unlock()
	u.doc.Do(func(tx *dom.Tx) {
		dom.CSS(tx.Body(), dom.StyleMap{"overflowY": overflow})
	})
}

// OnScroll updates the scroll-to-top control for a new scroll offset. Only
// threshold crossings touch the document.
func (u *UI) OnScroll(top int) {
	u.mu.Lock()
	u.scrollTop = top
	var style dom.StyleMap
	switch {
	case top >= ScrollTopThreshold && !u.scrollTopShown:
		u.scrollTopShown = true
		style = dom.StyleMap{"opacity": "1", "visibility": "visible"}
	case top < ScrollTopThreshold && u.scrollTopShown:
		u.scrollTopShown = false
		style = dom.StyleMap{"opacity": "0", "visibility": "hidden"}
	}
	u.mu.Unlock()
	if style == nil {
		return
	}
	u.doc.Do(func(tx *dom.Tx) {
		dom.CSS(dom.QueryFirst(tx.Root(), scrollTopSel), style)
	})
}

// ScrollTopClicked clicks the scroll-to-top control.
func (u *UI) ScrollTopClicked() {
	u.doc.Do(func(tx *dom.Tx) {
		if n := dom.QueryFirst(tx.Root(), scrollTopSel); n != nil {
			tx.Dispatch(n, &dom.Event{Type: dom.EventClick})
		}
	})
}

// scrollToTop records a smooth scroll request and resets the tracked offset.
func (u *UI) scrollToTop(tx *dom.Tx, n *html.Node) {
	u.mu.Lock()
	u.scrollTop = 0
	shown := u.scrollTopShown
	u.scrollTopShown = false
	u.mu.Unlock()
	tx.SetAttrs(n, map[string]string{"data-fa-scroll": "smooth"})
	if shown {
		dom.CSS(n, dom.StyleMap{"opacity": "0", "visibility": "hidden"})
	}
}

func (u *UI) Loading() bool {
	u.mu.Lock()
	defer u.mu.Unlock()
	return u.loading
}

func (u *UI) ScrollBlocked() bool {
	u.mu.Lock()
	defer u.mu.Unlock()
	return u.scrollBlocked
}

// ScrollTop returns the last reported scroll offset.
func (u *UI) ScrollTop() int {
	u.mu.Lock()
	defer u.mu.Unlock()
	return u.scrollTop
}
