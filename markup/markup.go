// Package markup renders the small fixed fragments the pipeline injects into
// pages: spinners, the heart badge, the description button and the gallery
// chrome.
package markup

import (
	"bytes"
	"fmt"
	"html/template"
	"strings"

	"golang.org/x/net/html"

	"adtrim/dom"
)

const (
	ImageLoader     = "image-loader"
	PageLoader      = "page-loader"
	Heart           = "heart"
	Liked           = "liked"
	DescButton      = "desc-button"
	DescPlaceholder = "desc-placeholder"
	GalleryDialog   = "gallery-dialog"
	GalleryClose    = "gallery-close"
	ScrollTop       = "scroll-top"
)

const logoPath = `M 101.15 154.229 C 83.59 154.229 75 141.974 73.256 139.442 C 68.073 144.543 60.249 154.229 46.156 154.229 C 29.881 154.229 16.161 141.929 16.161 121.987 L 16.161 55.488 C 16.161 35.501 29.903 23.247 46.155 23.247 C 62.408 23.247 76.149 36.262 76.149 55.185 C 79.36 54.046 82.743 53.467 86.15 53.472 C 102.894 53.472 116.144 67.199 116.144 83.698 C 116.144 88.323 115.27 92.437 113.359 96.378 C 123.977 101.135 131.143 111.84 131.143 124.003 C 131.143 140.67 117.686 154.229 101.15 154.229 Z M 80.508 132.135 C 84.821 139.687 92.081 144.153 101.15 144.153 C 112.174 144.153 121.147 135.111 121.147 124.003 C 121.147 115.215 115.54 107.568 107.473 104.877 L 80.507 132.139 L 80.507 132.135 L 80.508 132.135 Z M 46.159 33.322 C 36.207 33.322 26.161 40.176 26.161 55.488 L 26.161 121.988 C 26.161 137.299 36.203 144.153 46.159 144.153 C 54.059 144.153 58.427 140.135 65.471 133.036 L 68.591 129.892 C 66.981 125.059 66.151 119.695 66.151 113.923 L 66.151 55.483 C 66.151 40.172 56.111 33.317 46.154 33.317 L 46.159 33.322 Z M 76.153 66.238 L 76.153 113.928 C 76.153 116.628 76.378 119.197 76.806 121.616 L 98.539 99.716 C 104.853 93.356 106.147 88.713 106.147 83.702 C 106.147 72.997 97.61 63.552 86.149 63.552 C 82.584 63.552 79.173 64.476 76.153 66.243 L 76.153 66.238 Z`

const sources = `
{{define "logo"}}<svg xmlns="http://www.w3.org/2000/svg" viewBox="12.698 21.898 120.779 135.497" width="120.779px" height="135.497px" id="{{.}}"><path fill="#1D4B00" d="{{logo}}"></path></svg>{{end}}
{{define "image-loader"}}<div id="fa-image-loading">{{template "logo" "fa-image-loading-image"}}</div>{{end}}
{{define "page-loader"}}<div id="fa-loading"><div>{{template "logo" "fa-loading-image"}}</div><p id="fa-loading-text">{{.}}</p></div>{{end}}
{{define "heart"}}<svg xmlns="http://www.w3.org/2000/svg" width="16" height="16" fill="none"><path fill="#326916" fill-rule="evenodd" d="M8.73 14.23a1 1 0 0 1-1.46 0L2.14 8.78a4.02 4.02 0 0 1 0-5.62 3.85 3.85 0 0 1 5.86.4 3.85 3.85 0 0 1 5.86-.4 4.02 4.02 0 0 1 0 5.62l-5.13 5.45Z" clip-rule="evenodd"></path></svg>{{end}}
{{define "liked"}}<div id="fa-liked">{{template "heart"}}</div>{{end}}
{{define "desc-button"}}<div id="fa-ad-load-desc-wrapper"><button id="fa-ad-load-desc-btn">{{.}}</button></div>{{end}}
{{define "desc-placeholder"}}<span class="fa-desc-loading">{{.}}</span>{{end}}
{{define "gallery-dialog"}}<dialog id="fa-dialog" tabindex="-1"><div id="fa-gallery"></div></dialog>{{end}}
{{define "gallery-close"}}<form method="dialog"><button class="mfp-close" id="fa-gallery-close-btn"></button></form>{{end}}
{{define "scroll-top"}}<div id="fa-scrolltop" style="opacity: 0; visibility: hidden;">&#8593;</div>{{end}}
`

// Default UI strings, taken from the marketplace's own language.
const (
	LoadingText        = "Einen Moment Geduld, ich räum das mal auf..."
	DescButtonText     = "Gesamte Beschreibung abrufen"
	DescButtonBusyText = "Beschreibung wird geladen..."
)

// Renderer executes the fragment templates.
type Renderer struct {
	tmpl *template.Template
}

// NewRenderer parses the built-in templates.
func NewRenderer() (*Renderer, error) {
	t, err := template.New("markup").Funcs(template.FuncMap{
		"logo": func() string { return logoPath },
	}).Parse(sources)
	if err != nil {
		return nil, fmt.Errorf("parse markup templates: %w", err)
	}
	return &Renderer{tmpl: t}, nil
}

// MustRenderer panics if the built-in templates do not parse.
func MustRenderer() *Renderer {
	r, err := NewRenderer()
	if err != nil {
		panic(err)
	}
	return r
}

// Render returns the markup for the named fragment.
func (r *Renderer) Render(name string, data any) (string, error) {
	var buf bytes.Buffer
	if err := r.tmpl.ExecuteTemplate(&buf, name, data); err != nil {
		return "", fmt.Errorf("render %s: %w", name, err)
	}
	return strings.TrimSpace(buf.String()), nil
}

// Element renders the fragment and returns its first element, detached.
func (r *Renderer) Element(name string, data any) (*html.Node, error) {
	s, err := r.Render(name, data)
	if err != nil {
		return nil, err
	}
	n, err := dom.ParseElement(s)
	if err != nil {
		return nil, fmt.Errorf("element %s: %w", name, err)
	}
	return n, nil
}
