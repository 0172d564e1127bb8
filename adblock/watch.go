package adblock

import (
	"context"

	"go.uber.org/zap"
	"golang.org/x/net/html"

	"adtrim/dom"
)

// Watch removes any element that gains one of attrs (MarkerAttrs when none
// are given) for as long as ctx lives. The returned stop function cancels the
// watch and waits for it to exit.
func (b *Blocker) Watch(ctx context.Context, attrs ...string) (stop func()) {
	if len(attrs) == 0 {
		attrs = MarkerAttrs
	}
	obs := b.doc.Observe(attrs...)
	ctx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})

	go func() {
		defer close(done)
		defer obs.Disconnect()
		for {
			select {
			case <-ctx.Done():
				return
			case batch := <-obs.C():
				b.doc.Do(func(tx *dom.Tx) {
					scope := b.scopeRoot(tx)
					for _, m := range batch {
						if scope == nil || !contains(scope, m.Target) {
							continue
						}
						if err := tx.Remove(m.Target); err != nil {
							continue
						}
						b.logger.Info("removed node with attribute", zap.String("attribute", m.Name))
					}
				})
			}
		}
	}()

	return func() {
		cancel()
		<-done
	}
}

func contains(ancestor, n *html.Node) bool {
	for cur := n; cur != nil; cur = cur.Parent {
		if cur == ancestor {
			return true
		}
	}
	return false
}
