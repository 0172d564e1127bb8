package adblock

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/net/html"

	"adtrim/dom"
)

const defaultSkipTag = "ARTICLE"

// Config wires a Blocker.
type Config struct {
	// Scope restricts queries and the mutation watch to the subtree matched by
	// this selector. Empty means the whole document.
	Scope string
	// SkipTag is the tag of genuine listings kept by RemoveAllExceptTag.
	SkipTag string
	// Registry builds a fresh rule set for every RemoveAds call.
	Registry func() Registry
	// RetryDelay separates passes that leave rules pending.
	RetryDelay time.Duration
	Logger     *zap.Logger
}

// Blocker removes advertisement nodes from a document.
type Blocker struct {
	doc        *dom.Document
	scope      string
	skipTag    string
	registry   func() Registry
	retryDelay time.Duration
	logger     *zap.Logger

	// attempt runs one rule; replaced in tests.
	attempt func(tx *dom.Tx, root *html.Node, r Rule) bool

	mu          sync.Mutex
	completed   map[string]bool
	order       []string
	isCompleted bool
	passes      int
}

// New creates a Blocker for doc.
func New(doc *dom.Document, cfg Config) *Blocker {
	if cfg.SkipTag == "" {
		cfg.SkipTag = defaultSkipTag
	}
	if cfg.Registry == nil {
		cfg.Registry = SearchResultsRegistry
	}
	if cfg.RetryDelay <= 0 {
		cfg.RetryDelay = 50 * time.Millisecond
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	b := &Blocker{
		doc:        doc,
		scope:      cfg.Scope,
		skipTag:    cfg.SkipTag,
		registry:   cfg.Registry,
		retryDelay: cfg.RetryDelay,
		logger:     cfg.Logger,
		completed:  map[string]bool{},
	}
	b.attempt = b.removeAd
	return b
}

// IsCompleted reports whether the last RemoveAds call finished.
func (b *Blocker) IsCompleted() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.isCompleted
}

// Completed reports the completion flag of one rule from the current run.
func (b *Blocker) Completed(name string) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.completed[name]
}

// Pending lists rules of the current run that are not yet completed.
func (b *Blocker) Pending() []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	var out []string
	for _, name := range b.order {
		if !b.completed[name] {
			out = append(out, name)
		}
	}
	return out
}

// Passes reports how many passes the last RemoveAds call needed.
func (b *Blocker) Passes() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.passes
}

// RemoveAds passes over a fresh registry until every rule reports completion.
// Only ctx cancellation ends it early.
func (b *Blocker) RemoveAds(ctx context.Context) error {
	reg := b.registry()

	b.mu.Lock()
	b.completed = make(map[string]bool, len(reg))
	b.order = b.order[:0]
	for _, r := range reg {
		b.completed[r.Name] = false
		b.order = append(b.order, r.Name)
	}
	b.isCompleted = false
	b.passes = 0
	b.mu.Unlock()

	for {
		if err := ctx.Err(); err != nil {
			return fmt.Errorf("remove ads: %w", err)
		}
		b.doc.Do(func(tx *dom.Tx) {
			root := b.scopeRoot(tx)
			for _, r := range reg {
				if b.Completed(r.Name) {
					continue
				}
				// missing scope: nothing can be waited on
				ok := root == nil || b.attempt(tx, root, r)
				if ok {
					b.mu.Lock()
					b.completed[r.Name] = true
					b.mu.Unlock()
				}
			}
		})
		b.mu.Lock()
		b.passes++
		b.mu.Unlock()
		if len(b.Pending()) == 0 {
			break
		}
		select {
		case <-ctx.Done():
			return fmt.Errorf("remove ads: %w", ctx.Err())
		case <-time.After(b.retryDelay):
		}
	}

	b.mu.Lock()
	b.isCompleted = true
	b.mu.Unlock()
	b.logger.Debug("ads removed", zap.Int("rules", len(reg)), zap.Int("passes", b.Passes()))
	return nil
}

func (b *Blocker) scopeRoot(tx *dom.Tx) *html.Node {
	if b.scope == "" {
		return tx.Root()
	}
	return dom.QueryFirst(tx.Root(), b.scope)
}

func (b *Blocker) removeAd(tx *dom.Tx, root *html.Node, r Rule) bool {
	if err := dom.ValidSelector(r.Selector); err != nil {
		// retrying cannot fix a selector
		b.logger.Warn("invalid ad selector", zap.String("rule", r.Name), zap.Error(err))
		return true
	}
	switch s := r.Strategy.(type) {
	case RemoveAllExceptTag:
		tag := s.Tag
		if tag == "" {
			tag = b.skipTag
		}
		return b.all(tx, root, r.Selector, tag)
	case RemoveOne:
		return b.once(tx, root, r.Selector)
	case RemoveAnyMatching:
		return b.any(tx, root, r.Selector)
	default:
		b.logger.Warn("unknown removal strategy", zap.String("rule", r.Name))
		return true
	}
}

func (b *Blocker) all(tx *dom.Tx, root *html.Node, selector, keepTag string) bool {
	containers := dom.Query(root, selector)
	if containers.Empty() {
		return true
	}
	for _, c := range containers.Nodes() {
		for _, child := range dom.ElementChildren(c) {
			if dom.TagName(dom.FirstElementChild(child)) == keepTag {
				continue
			}
			if err := tx.Remove(child); err != nil {
				b.logger.Warn("could not delete ads", zap.String("selector", selector), zap.Error(err))
			}
		}
	}
	return true
}

func (b *Blocker) once(tx *dom.Tx, root *html.Node, selector string) bool {
	node := dom.Query(root, selector).First()
	if node == nil {
		return true
	}
	if err := tx.Remove(node); err != nil {
		b.logger.Warn("could not delete ad", zap.String("selector", selector), zap.Error(err))
	}
	return true
}

func (b *Blocker) any(tx *dom.Tx, root *html.Node, selector string) bool {
	for _, n := range dom.Query(root, selector).Nodes() {
		if err := tx.Remove(n); err != nil {
			b.logger.Warn("could not delete ads", zap.String("selector", selector), zap.Error(err))
		}
	}
	return true
}
