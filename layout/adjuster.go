// Package layout applies static restyling tables to a page once its ads are
// gone.
package layout

import (
	"errors"

	"go.uber.org/zap"

	"adtrim/dom"
)

// ErrAdsPending is returned by Adjust while ad removal has not completed.
var ErrAdsPending = errors.New("layout: ad removal not completed")

// StyleRule styles the nodes matched by Selector. Without ApplyToAll only the
// first match is styled.
type StyleRule struct {
	Selector   string
	ApplyToAll bool
	Style      dom.StyleMap
}

// Table is an ordered list of style rules for one page type.
type Table []StyleRule

type Config struct {
	// Ready gates Adjust. Typically Blocker.IsCompleted.
	Ready  func() bool
	Logger *zap.Logger
}

type Adjuster struct {
	doc    *dom.Document
	ready  func() bool
	logger *zap.Logger
}

func New(doc *dom.Document, cfg Config) *Adjuster {
	if cfg.Ready == nil {
		cfg.Ready = func() bool { return true }
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	return &Adjuster{doc: doc, ready: cfg.Ready, logger: cfg.Logger}
}

// Adjust applies every rule of t in order. Rules resolving to nothing are
// skipped.
func (a *Adjuster) Adjust(t Table) error {
	if !a.ready() {
		return ErrAdsPending
	}
	styled := 0
	a.doc.Do(func(tx *dom.Tx) {
		for _, r := range t {
			sel := dom.Query(tx.Root(), r.Selector)
			if sel.Empty() {
				if err := dom.ValidSelector(r.Selector); err != nil {
					a.logger.Warn("invalid layout selector", zap.String("selector", r.Selector), zap.Error(err))
					continue
				}
				a.logger.Debug("layout target missing", zap.String("selector", r.Selector))
				continue
			}
			if r.ApplyToAll {
				dom.CSSAll(sel.Nodes(), r.Style)
				styled += sel.Len()
				continue
			}
			dom.CSS(sel.First(), r.Style)
			styled++
		}
	})
	a.logger.Debug("layout adjusted", zap.Int("rules", len(t)), zap.Int("nodes", styled))
	return nil
}
