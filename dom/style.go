package dom

import (
	"sort"
	"strings"
	"unicode"

	"github.com/aymerick/douceur/parser"
	"golang.org/x/net/html"
)

// StyleMap maps CSS property names to values. Keys may be camelCase
// (marginBottom) or kebab-case (margin-bottom). An empty value removes the
// property, like assigning "" to element.style.
type StyleMap map[string]string

type inlineDecl struct {
	property  string
	value     string
	important bool
}

// CSS merges styles into the inline style attribute of n. Existing
// declarations keep their position; new ones are appended in key order so the
// result is stable across repeated applications.
func CSS(n *html.Node, styles StyleMap) {
	if n == nil || n.Type != html.ElementNode || len(styles) == 0 {
		return
	}
	decls := parseInline(GetAttr(n, "style"))

	keys := make([]string, 0, len(styles))
	for k := range styles {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	for _, k := range keys {
		prop := KebabCase(k)
		val := strings.TrimSpace(styles[k])
		idx := -1
		for i, d := range decls {
			if d.property == prop {
				idx = i
				break
			}
		}
		switch {
		case val == "" && idx >= 0:
			decls = append(decls[:idx], decls[idx+1:]...)
		case val == "":
		case idx >= 0:
			decls[idx].value = val
			decls[idx].important = false
		default:
			decls = append(decls, inlineDecl{property: prop, value: val})
		}
	}

	if len(decls) == 0 {
		RemoveAttr(n, "style")
		return
	}
	SetAttr(n, "style", formatInline(decls))
}

// CSSAll applies styles to every node.
func CSSAll(nodes []*html.Node, styles StyleMap) {
	for _, n := range nodes {
		CSS(n, styles)
	}
}

// InlineStyle returns the parsed inline style of n keyed by kebab-case
// property.
func InlineStyle(n *html.Node) map[string]string {
	out := map[string]string{}
	for _, d := range parseInline(GetAttr(n, "style")) {
		out[d.property] = d.value
	}
	return out
}

// KebabCase converts marginBottom to margin-bottom. Already kebab-cased names
// pass through.
func KebabCase(prop string) string {
	prop = strings.TrimSpace(prop)
	var b strings.Builder
	for i, r := range prop {
		if unicode.IsUpper(r) {
			if i > 0 {
				b.WriteByte('-')
			}
			b.WriteRune(unicode.ToLower(r))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

func parseInline(style string) []inlineDecl {
	style = strings.TrimSpace(style)
	if style == "" {
		return nil
	}
	// the parser drops the value of an unterminated last declaration
	if !strings.HasSuffix(style, ";") {
		style += ";"
	}
	var out []inlineDecl
	if list, err := parser.ParseDeclarations(style); err == nil {
		for _, d := range list {
			if d == nil {
				continue
			}
			prop := strings.ToLower(strings.TrimSpace(d.Property))
			val := strings.TrimSpace(d.Value)
			if prop == "" || val == "" {
				continue
			}
			out = upsertDecl(out, inlineDecl{property: prop, value: val, important: d.Important})
		}
		return out
	}
	for _, part := range strings.Split(style, ";") {
		kv := strings.SplitN(part, ":", 2)
		if len(kv) != 2 {
			continue
		}
		prop := strings.ToLower(strings.TrimSpace(kv[0]))
		val := strings.TrimSpace(kv[1])
		important := false
		if strings.HasSuffix(strings.ToLower(val), "!important") {
			important = true
			val = strings.TrimSpace(val[:len(val)-len("!important")])
		}
		if prop == "" || val == "" {
			continue
		}
		out = upsertDecl(out, inlineDecl{property: prop, value: val, important: important})
	}
	return out
}

func upsertDecl(list []inlineDecl, d inlineDecl) []inlineDecl {
	for i := range list {
		if list[i].property == d.property {
			list[i] = d
			return list
		}
	}
	return append(list, d)
}

func formatInline(decls []inlineDecl) string {
	parts := make([]string, 0, len(decls))
	for _, d := range decls {
		v := d.value
		if d.important {
			v += " !important"
		}
		parts = append(parts, d.property+": "+v)
	}
	return strings.Join(parts, "; ") + ";"
}
