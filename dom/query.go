package dom

import (
	"sync"

	"github.com/andybalholm/cascadia"
	"golang.org/x/net/html"
)

// Selection is the result of a selector lookup: zero, one or many elements.
type Selection struct {
	nodes []*html.Node
}

// Len reports how many elements matched.
func (s Selection) Len() int { return len(s.nodes) }

// Empty reports whether nothing matched.
func (s Selection) Empty() bool { return len(s.nodes) == 0 }

// Single returns the element when exactly one matched.
func (s Selection) Single() (*html.Node, bool) {
	if len(s.nodes) != 1 {
		return nil, false
	}
	return s.nodes[0], true
}

// First returns the first match or nil.
func (s Selection) First() *html.Node {
	if len(s.nodes) == 0 {
		return nil
	}
	return s.nodes[0]
}

// Nodes returns every match in document order.
func (s Selection) Nodes() []*html.Node { return s.nodes }

var selectorCache sync.Map // string -> cascadia.SelectorGroup

func compile(selector string) (cascadia.SelectorGroup, error) {
	if v, ok := selectorCache.Load(selector); ok {
		return v.(cascadia.SelectorGroup), nil
	}
	group, err := cascadia.ParseGroup(selector)
	if err != nil {
		return nil, err
	}
	selectorCache.Store(selector, group)
	return group, nil
}

// Query resolves selector against the descendants of root.
// An unparsable selector resolves to nothing.
func Query(root *html.Node, selector string) Selection {
	if root == nil {
		return Selection{}
	}
	group, err := compile(selector)
	if err != nil {
		return Selection{}
	}
	return Selection{nodes: cascadia.QueryAll(root, group)}
}

// QueryFirst returns the first descendant of root matching selector.
func QueryFirst(root *html.Node, selector string) *html.Node {
	if root == nil {
		return nil
	}
	group, err := compile(selector)
	if err != nil {
		return nil
	}
	return cascadia.Query(root, group)
}

// ValidSelector reports whether selector parses.
func ValidSelector(selector string) error {
	_, err := compile(selector)
	return err
}

// QueryAll always returns the matches as a slice, even for a single match.
func QueryAll(root *html.Node, selector string) []*html.Node {
	return Query(root, selector).Nodes()
}
