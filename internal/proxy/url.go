package proxy

import (
	neturl "net/url"
	"strings"

	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"

	"adtrim/dom"
	"adtrim/pipeline"
)

// urlDecode converts percent-encoded sequences like %2f into their byte values.
func urlDecode(url string) string {
	b := make([]byte, 0, len(url))
	for i := 0; i < len(url); i++ {
		c := url[i]
		if c == '%' && i+2 < len(url) {
			hi := fromHex(url[i+1])
			lo := fromHex(url[i+2])
			b = append(b, hi<<4|lo)
			i += 2
		} else {
			b = append(b, c)
		}
	}
	return string(b)
}

func fromHex(c byte) byte {
	switch {
	case c >= '0' && c <= '9':
		return c - '0'
	case c >= 'A' && c <= 'F':
		return c - 'A' + 10
	case c >= 'a' && c <= 'f':
		return c - 'a' + 10
	}
	return 0
}

// buildURL builds a new URL based on the current url, action, and get params.
func buildURL(base, action, get string) string {
	decodedBase := urlDecode(urlDecode(base))
	decodedAction := ""
	if action != "" {
		decodedAction = urlDecode(action)
	}

	if parsedBase, err := neturl.Parse(decodedBase); err == nil && parsedBase.Scheme != "" {
		finalURL := parsedBase
		if decodedAction != "" {
			if ref, err := neturl.Parse(decodedAction); err == nil {
				if ref.IsAbs() {
					finalURL = ref
				} else {
					finalURL = parsedBase.ResolveReference(ref)
				}
			}
		}
		if get != "" {
			if finalURL.RawQuery != "" {
				finalURL.RawQuery += "&" + get
			} else {
				finalURL.RawQuery = get
			}
		}
		return finalURL.String()
	}

	newURL := decodedBase
	if decodedAction != "" {
		switch {
		case strings.Contains(decodedAction, "://"):
			newURL = decodedAction
		case strings.HasPrefix(decodedAction, "/"):
			hostPrefix := decodedBase
			if idx := strings.Index(decodedBase, "//"); idx != -1 {
				hostStart := idx + 2
				if slash := strings.Index(decodedBase[hostStart:], "/"); slash != -1 {
					hostPrefix = decodedBase[:hostStart+slash]
				}
			}
			newURL = strings.TrimRight(hostPrefix, "/") + decodedAction
		default:
			basePrefix := decodedBase
			if strings.HasSuffix(basePrefix, "/") {
				basePrefix = strings.TrimRight(basePrefix, "/")
			}
			if last := strings.LastIndex(basePrefix, "/"); last != -1 {
				basePrefix = basePrefix[:last]
			}
			newURL = strings.TrimRight(basePrefix, "/") + "/" + decodedAction
		}
	}

	if get != "" {
		if strings.Contains(newURL, "?") {
			newURL += "&" + get
		} else {
			newURL += "?" + get
		}
	}

	return newURL
}

// resolveTarget turns the url parameter of /view into an absolute upstream
// URL. Paths resolve against upstream; bare hosts get https.
func resolveTarget(upstream, raw string) string {
	s := strings.TrimSpace(raw)
	lower := strings.ToLower(s)
	if strings.HasPrefix(lower, "http%3a") || strings.HasPrefix(lower, "https%3a") {
		s = urlDecode(s)
		lower = strings.ToLower(s)
	}
	switch {
	case strings.HasPrefix(lower, "http://") || strings.HasPrefix(lower, "https://"):
		return s
	case strings.HasPrefix(s, "/"):
		return buildURL(upstream, s, "")
	case strings.Contains(strings.SplitN(s, "/", 2)[0], "."):
		return "https://" + s
	default:
		return buildURL(upstream, "/"+s, "")
	}
}

var linkAttrs = []string{"href", "src", "action"}

// rewriteLinks makes every link in the tree absolute against pageURL and
// routes same-host marketplace pages back through /view.
func rewriteLinks(root *html.Node, pageURL, server string) {
	base, err := neturl.Parse(pageURL)
	if err != nil {
		return
	}
	var walk func(n *html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.ElementNode {
			for _, name := range linkAttrs {
				if v, ok := dom.LookupAttr(n, name); ok {
					if nv, changed := rewriteLink(base, n.DataAtom, name, v, server); changed {
						dom.SetAttr(n, name, nv)
					}
				}
			}
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(root)
}

func rewriteLink(base *neturl.URL, tag atom.Atom, attr, v, server string) (string, bool) {
	v = strings.TrimSpace(v)
	lower := strings.ToLower(v)
	if v == "" || strings.HasPrefix(v, "#") {
		return "", false
	}
	for _, scheme := range []string{"javascript:", "data:", "mailto:", "tel:"} {
		if strings.HasPrefix(lower, scheme) {
			return "", false
		}
	}
	ref, err := neturl.Parse(v)
	if err != nil {
		return "", false
	}
	abs := base.ResolveReference(ref)
	if attr == "href" && tag == atom.A && server != "" &&
		strings.EqualFold(abs.Host, base.Host) && pipeline.Classify(abs.Path) != pipeline.PageUnknown {
		return server + "/view?url=" + neturl.QueryEscape(abs.String()), true
	}
	out := abs.String()
	return out, out != v
}
