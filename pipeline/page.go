package pipeline

import (
	"strings"

	"adtrim/adblock"
	"adtrim/layout"
	"adtrim/listing"
)

// PageType is the kind of marketplace page, derived from the URL path.
type PageType int

const (
	PageUnknown PageType = iota
	PageSearchResults
	PageProfile
	PageAdItem
	PageStartPage
)

func (p PageType) String() string {
	switch p {
	case PageSearchResults:
		return "search-results"
	case PageProfile:
		return "profile"
	case PageAdItem:
		return "ad-item"
	case PageStartPage:
		return "start-page"
	default:
		return "unknown"
	}
}

// Classify maps a URL path to its page type.
func Classify(path string) PageType {
	switch {
	case path == "" || path == "/":
		return PageStartPage
	case strings.Contains(path, "s-bestandsliste") || strings.Contains(path, "/pro/"):
		return PageProfile
	case strings.Contains(path, "s-anzeige"):
		return PageAdItem
	case strings.Contains(path, "s-"):
		return PageSearchResults
	default:
		return PageUnknown
	}
}

// Plan is everything the pipeline varies by page type.
type Plan struct {
	Registry   func() adblock.Registry
	Styles     layout.Table
	Containers []string
	// Enrich runs listing enrichment and mounts the gallery.
	Enrich bool
}

// PlanFor returns the plan of a page type. Unknown pages get a zero Plan.
func PlanFor(p PageType) Plan {
	switch p {
	case PageSearchResults:
		return Plan{
			Registry:   adblock.SearchResultsRegistry,
			Styles:     layout.SearchResults,
			Containers: []string{listing.DefaultContainers},
			Enrich:     true,
		}
	case PageProfile:
		return Plan{
			Registry:   adblock.ProfileRegistry,
			Styles:     layout.Profile,
			Containers: []string{listing.DefaultContainers},
			Enrich:     true,
		}
	case PageAdItem:
		return Plan{Registry: adblock.AdItemRegistry, Styles: layout.AdItem}
	case PageStartPage:
		return Plan{Registry: adblock.StartPageRegistry, Styles: layout.StartPage}
	default:
		return Plan{}
	}
}
