package dom

import (
	"bytes"
	"errors"
	"sort"
	"strings"

	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"
)

// ErrDetached is returned when removing a node that has no parent.
var ErrDetached = errors.New("node is detached")

// Position names an insertAdjacent slot.
type Position int

const (
	BeforeBegin Position = iota
	AfterBegin
	BeforeEnd
	AfterEnd
)

// GetAttr returns the value of attribute name, matched case-insensitively.
func GetAttr(n *html.Node, name string) string {
	v, _ := LookupAttr(n, name)
	return v
}

// LookupAttr reports whether the attribute exists and its value.
func LookupAttr(n *html.Node, name string) (string, bool) {
	if n == nil {
		return "", false
	}
	for _, a := range n.Attr {
		if strings.EqualFold(a.Key, name) {
			return a.Val, true
		}
	}
	return "", false
}

// SetAttr sets or replaces one attribute without recording a mutation.
func SetAttr(n *html.Node, key, val string) {
	for i := range n.Attr {
		if strings.EqualFold(n.Attr[i].Key, key) {
			n.Attr[i].Val = val
			return
		}
	}
	n.Attr = append(n.Attr, html.Attribute{Key: key, Val: val})
}

// RemoveAttr deletes an attribute if present.
func RemoveAttr(n *html.Node, key string) {
	out := n.Attr[:0]
	for _, a := range n.Attr {
		if !strings.EqualFold(a.Key, key) {
			out = append(out, a)
		}
	}
	n.Attr = out
}

// Remove detaches n from its parent.
func Remove(n *html.Node) error {
	if n == nil || n.Parent == nil {
		return ErrDetached
	}
	n.Parent.RemoveChild(n)
	return nil
}

// TagName returns the upper-case tag name, as Element.tagName does.
func TagName(n *html.Node) string {
	if n == nil || n.Type != html.ElementNode {
		return ""
	}
	return strings.ToUpper(n.Data)
}

// FirstElementChild skips text and comment nodes.
func FirstElementChild(n *html.Node) *html.Node {
	if n == nil {
		return nil
	}
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		if c.Type == html.ElementNode {
			return c
		}
	}
	return nil
}

// ElementChildren returns the element children of n.
func ElementChildren(n *html.Node) []*html.Node {
	if n == nil {
		return nil
	}
	var out []*html.Node
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		if c.Type == html.ElementNode {
			out = append(out, c)
		}
	}
	return out
}

func HasClass(n *html.Node, class string) bool {
	for _, c := range strings.Fields(GetAttr(n, "class")) {
		if c == class {
			return true
		}
	}
	return false
}

func AddClass(n *html.Node, class string) {
	if HasClass(n, class) {
		return
	}
	cur := strings.TrimSpace(GetAttr(n, "class"))
	if cur == "" {
		SetAttr(n, "class", class)
		return
	}
	SetAttr(n, "class", cur+" "+class)
}

func RemoveClass(n *html.Node, class string) {
	fields := strings.Fields(GetAttr(n, "class"))
	out := fields[:0]
	for _, c := range fields {
		if c != class {
			out = append(out, c)
		}
	}
	SetAttr(n, "class", strings.Join(out, " "))
}

// Empty removes every child of n.
func Empty(n *html.Node) {
	for n.FirstChild != nil {
		n.RemoveChild(n.FirstChild)
	}
}

// ParseFragment parses markup in a <body> context.
func ParseFragment(markup string) ([]*html.Node, error) {
	ctx := &html.Node{Type: html.ElementNode, Data: "body", DataAtom: atom.Body}
	return html.ParseFragment(strings.NewReader(strings.TrimSpace(markup)), ctx)
}

// ParseElement returns the first element of the parsed markup, like a
// <template>'s content.firstChild after trimming.
func ParseElement(markup string) (*html.Node, error) {
	nodes, err := ParseFragment(markup)
	if err != nil {
		return nil, err
	}
	for _, n := range nodes {
		if n.Type == html.ElementNode {
			return n, nil
		}
	}
	return nil, errors.New("fragment has no element")
}

// InsertAdjacent places nodes relative to n. Nodes must be detached.
func InsertAdjacent(n *html.Node, pos Position, nodes ...*html.Node) {
	if n == nil {
		return
	}
	switch pos {
	case BeforeBegin:
		if n.Parent == nil {
			return
		}
		for _, c := range nodes {
			n.Parent.InsertBefore(c, n)
		}
	case AfterBegin:
		first := n.FirstChild
		for _, c := range nodes {
			n.InsertBefore(c, first)
		}
	case BeforeEnd:
		for _, c := range nodes {
			n.AppendChild(c)
		}
	case AfterEnd:
		if n.Parent == nil {
			return
		}
		next := n.NextSibling
		for _, c := range nodes {
			n.Parent.InsertBefore(c, next)
		}
	}
}

// InsertHTML parses markup and inserts the result relative to n.
func InsertHTML(n *html.Node, pos Position, markup string) error {
	nodes, err := ParseFragment(markup)
	if err != nil {
		return err
	}
	InsertAdjacent(n, pos, nodes...)
	return nil
}

// OuterHTML renders n including itself.
func OuterHTML(n *html.Node) string {
	if n == nil {
		return ""
	}
	var buf bytes.Buffer
	if err := html.Render(&buf, n); err != nil {
		return ""
	}
	return buf.String()
}

// InnerHTML renders the children of n.
func InnerHTML(n *html.Node) string {
	if n == nil {
		return ""
	}
	var buf bytes.Buffer
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		if err := html.Render(&buf, c); err != nil {
			return ""
		}
	}
	return buf.String()
}

// TextContent concatenates the text nodes below n.
func TextContent(n *html.Node) string {
	var b strings.Builder
	var walk func(*html.Node)
	walk = func(c *html.Node) {
		if c.Type == html.TextNode {
			b.WriteString(c.Data)
		}
		for cc := c.FirstChild; cc != nil; cc = cc.NextSibling {
			walk(cc)
		}
	}
	if n != nil {
		walk(n)
	}
	return b.String()
}

// SetText replaces the children of n with one text node.
func SetText(n *html.Node, text string) {
	Empty(n)
	n.AppendChild(&html.Node{Type: html.TextNode, Data: text})
}

func sortedKeys(m map[string]string) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
