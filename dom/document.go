package dom

import (
	"bytes"
	"fmt"
	"io"
	"strings"
	"sync"

	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"
)

// Document is a parsed page shared by every pipeline stage.
// All access to the tree goes through Do, which serialises mutations the
// same way a browser's single event loop does. Attribute mutation records
// collected during a Do call are delivered to observers after the lock is
// released.
type Document struct {
	mu        sync.Mutex
	root      *html.Node
	listeners map[*html.Node]map[string][]Listener

	obsMu     sync.RWMutex
	observers map[*Observer]struct{}
}

// NewDocument wraps an already parsed tree.
func NewDocument(root *html.Node) *Document {
	return &Document{
		root:      root,
		listeners: make(map[*html.Node]map[string][]Listener),
		observers: make(map[*Observer]struct{}),
	}
}

// Parse reads markup into a Document.
func Parse(r io.Reader) (*Document, error) {
	root, err := html.Parse(r)
	if err != nil {
		return nil, fmt.Errorf("parse document: %w", err)
	}
	return NewDocument(root), nil
}

// ParseString is Parse for in-memory markup.
func ParseString(markup string) (*Document, error) {
	return Parse(strings.NewReader(markup))
}

// Do runs fn with exclusive access to the tree.
func (d *Document) Do(fn func(tx *Tx)) {
	d.mu.Lock()
	tx := &Tx{d: d}
	fn(tx)
	records := tx.records
	tx.d = nil
	d.mu.Unlock()
	d.deliver(records)
}

// Dispatch fires an event at target and bubbles it up through the ancestors.
func (d *Document) Dispatch(target *html.Node, ev *Event) {
	d.Do(func(tx *Tx) { tx.Dispatch(target, ev) })
}

// Click is shorthand for dispatching a click event.
func (d *Document) Click(target *html.Node) {
	d.Dispatch(target, &Event{Type: EventClick})
}

// Render serialises the whole document.
func (d *Document) Render(w io.Writer) error {
	var err error
	d.Do(func(tx *Tx) { err = html.Render(w, tx.Root()) })
	return err
}

// String renders the document, returning an empty string on failure.
func (d *Document) String() string {
	var buf bytes.Buffer
	if err := d.Render(&buf); err != nil {
		return ""
	}
	return buf.String()
}

// Tx is the locked view of a Document handed to Do callbacks and listeners.
// It must not be retained after the callback returns.
type Tx struct {
	d       *Document
	records []AttrMutation
}

// Root returns the document node.
func (tx *Tx) Root() *html.Node { return tx.d.root }

// Body returns the <body> element, or nil.
func (tx *Tx) Body() *html.Node { return findElement(tx.d.root, atom.Body) }

// SetAttrs sets attributes on n and records a mutation for each key.
func (tx *Tx) SetAttrs(n *html.Node, attrs map[string]string) {
	if n == nil || n.Type != html.ElementNode {
		return
	}
	for _, k := range sortedKeys(attrs) {
		SetAttr(n, k, attrs[k])
		tx.records = append(tx.records, AttrMutation{Target: n, Name: k})
	}
}

// On registers a listener for events of the given type on n.
func (tx *Tx) On(n *html.Node, typ string, l Listener) {
	if n == nil || l == nil {
		return
	}
	byType := tx.d.listeners[n]
	if byType == nil {
		byType = make(map[string][]Listener)
		tx.d.listeners[n] = byType
	}
	byType[typ] = append(byType[typ], l)
}

// Remove detaches n and drops the listeners bound inside its subtree.
func (tx *Tx) Remove(n *html.Node) error {
	if err := Remove(n); err != nil {
		return err
	}
	tx.forget(n)
	return nil
}

// Empty removes every child of n and drops their listeners.
func (tx *Tx) Empty(n *html.Node) {
	for n.FirstChild != nil {
		c := n.FirstChild
		n.RemoveChild(c)
		tx.forget(c)
	}
}

func (tx *Tx) forget(n *html.Node) {
	if len(tx.d.listeners) == 0 {
		return
	}
	delete(tx.d.listeners, n)
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		tx.forget(c)
	}
}

// HasListener reports whether n has a listener for typ.
func (tx *Tx) HasListener(n *html.Node, typ string) bool {
	return len(tx.d.listeners[n][typ]) > 0
}

// Dispatch delivers ev to target and its ancestors until propagation stops.
func (tx *Tx) Dispatch(target *html.Node, ev *Event) {
	if target == nil || ev == nil {
		return
	}
	ev.Target = target
	for cur := target; cur != nil; cur = cur.Parent {
		ev.CurrentTarget = cur
		// copy: listeners may register more listeners while running
		ls := append([]Listener(nil), tx.d.listeners[cur][ev.Type]...)
		for _, l := range ls {
			l(tx, ev)
			if ev.immediateStopped {
				return
			}
		}
		if ev.stopped {
			return
		}
	}
}

func findElement(n *html.Node, a atom.Atom) *html.Node {
	if n == nil {
		return nil
	}
	if n.Type == html.ElementNode && n.DataAtom == a {
		return n
	}
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		if found := findElement(c, a); found != nil {
			return found
		}
	}
	return nil
}
