package dom

import (
	"strings"

	"github.com/andybalholm/cascadia"
	cssast "github.com/aymerick/douceur/css"
	"github.com/aymerick/douceur/parser"
	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"
)

type propState struct {
	val       string
	spec      cascadia.Specificity
	order     int
	important bool
}

type cssRule struct {
	selector     cascadia.Sel
	specificity  cascadia.Specificity
	declarations []inlineDecl
	order        int
}

// Stylesheet is the set of rules collected from a page's <style> elements.
type Stylesheet struct {
	rules []cssRule
}

// Len reports the number of selector rules.
func (s *Stylesheet) Len() int {
	if s == nil {
		return 0
	}
	return len(s.rules)
}

// CollectStylesheet parses every <style> element below root. External
// stylesheets are not fetched.
func CollectStylesheet(root *html.Node) *Stylesheet {
	ss := &Stylesheet{}
	order := 0
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.ElementNode && n.DataAtom == atom.Style {
			if n.FirstChild != nil && n.FirstChild.Type == html.TextNode {
				var rs []cssRule
				rs, order = parseCSSText(n.FirstChild.Data, order)
				ss.rules = append(ss.rules, rs...)
			}
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	if root != nil {
		walk(root)
	}
	return ss
}

// ParseStylesheet parses raw CSS text.
func ParseStylesheet(text string) *Stylesheet {
	rules, _ := parseCSSText(text, 0)
	return &Stylesheet{rules: rules}
}

func parseCSSText(txt string, startOrder int) ([]cssRule, int) {
	trimmed := strings.TrimSpace(txt)
	if trimmed == "" {
		return nil, startOrder
	}
	sheet, err := parser.Parse(trimmed)
	if err != nil {
		return nil, startOrder
	}
	order := startOrder
	var rules []cssRule
	var walk func([]*cssast.Rule)
	walk = func(list []*cssast.Rule) {
		for _, rule := range list {
			if rule == nil {
				continue
			}
			switch rule.Kind {
			case cssast.AtRule:
				if rule.EmbedsRules() {
					walk(rule.Rules)
				}
			case cssast.QualifiedRule:
				var decls []inlineDecl
				for _, d := range rule.Declarations {
					if d == nil {
						continue
					}
					prop := strings.ToLower(strings.TrimSpace(d.Property))
					val := strings.TrimSpace(d.Value)
					if prop == "" || val == "" {
						continue
					}
					decls = append(decls, inlineDecl{property: prop, value: val, important: d.Important})
				}
				if len(decls) == 0 || len(rule.Selectors) == 0 {
					continue
				}
				group, err := cascadia.ParseGroup(strings.Join(rule.Selectors, ","))
				if err != nil {
					continue
				}
				for _, sel := range group {
					if sel == nil || sel.PseudoElement() != "" {
						continue
					}
					rules = append(rules, cssRule{selector: sel, specificity: sel.Specificity(), declarations: decls, order: order})
					order++
				}
			}
		}
	}
	walk(sheet.Rules)
	return rules, order
}

// ComputedStyle resolves the cascade for n: matching stylesheet rules by
// specificity and source order, then the inline style, honouring !important.
func ComputedStyle(n *html.Node, ss *Stylesheet) map[string]string {
	if n == nil || n.Type != html.ElementNode {
		return nil
	}
	props := map[string]propState{}
	if ss != nil {
		for _, rule := range ss.rules {
			if rule.selector == nil || !rule.selector.Match(n) {
				continue
			}
			for _, d := range rule.declarations {
				applyDeclaration(props, d, rule.specificity, rule.order)
			}
		}
	}
	for i, d := range parseInline(GetAttr(n, "style")) {
		applyDeclaration(props, d, cascadia.Specificity{1 << 12, 0, 0}, (1<<30)+i)
	}
	out := make(map[string]string, len(props))
	for k, st := range props {
		out[k] = st.val
	}
	return out
}

func applyDeclaration(store map[string]propState, d inlineDecl, spec cascadia.Specificity, order int) {
	entry := propState{val: d.value, spec: spec, order: order, important: d.important}
	prev, ok := store[d.property]
	if !ok {
		store[d.property] = entry
		return
	}
	if prev.important && !d.important {
		return
	}
	if d.important && !prev.important {
		store[d.property] = entry
		return
	}
	if prev.spec.Less(spec) {
		store[d.property] = entry
		return
	}
	if spec.Less(prev.spec) {
		return
	}
	if order >= prev.order {
		store[d.property] = entry
	}
}
