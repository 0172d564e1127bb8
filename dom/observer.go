package dom

import (
	"sync"

	"golang.org/x/net/html"
)

// AttrMutation records one attribute write made through Tx.SetAttrs.
type AttrMutation struct {
	Target *html.Node
	Name   string
}

// Observer receives attribute mutation batches filtered by attribute name.
type Observer struct {
	filter map[string]struct{}
	ch     chan []AttrMutation
	done   chan struct{}
	once   sync.Once
	d      *Document
}

// Observe subscribes to attribute mutations. An empty filter matches every
// attribute.
func (d *Document) Observe(attrs ...string) *Observer {
	o := &Observer{
		filter: make(map[string]struct{}, len(attrs)),
		ch:     make(chan []AttrMutation, 16),
		done:   make(chan struct{}),
		d:      d,
	}
	for _, a := range attrs {
		o.filter[a] = struct{}{}
	}
	d.obsMu.Lock()
	d.observers[o] = struct{}{}
	d.obsMu.Unlock()
	return o
}

// C returns the channel mutation batches arrive on.
func (o *Observer) C() <-chan []AttrMutation { return o.ch }

// Disconnect stops delivery. It is safe to call more than once.
func (o *Observer) Disconnect() {
	o.once.Do(func() {
		o.d.obsMu.Lock()
		delete(o.d.observers, o)
		o.d.obsMu.Unlock()
		close(o.done)
	})
}

func (o *Observer) accepts(name string) bool {
	if len(o.filter) == 0 {
		return true
	}
	_, ok := o.filter[name]
	return ok
}

func (d *Document) deliver(records []AttrMutation) {
	if len(records) == 0 {
		return
	}
	d.obsMu.RLock()
	targets := make([]*Observer, 0, len(d.observers))
	for o := range d.observers {
		targets = append(targets, o)
	}
	d.obsMu.RUnlock()

	for _, o := range targets {
		var batch []AttrMutation
		for _, r := range records {
			if o.accepts(r.Name) {
				batch = append(batch, r)
			}
		}
		if len(batch) == 0 {
			continue
		}
		select {
		case o.ch <- batch:
		case <-o.done:
		}
	}
}
