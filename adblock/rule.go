package adblock

// Strategy selects how a rule removes its matches. The concrete types below
// are the only implementations.
type Strategy interface {
	strategyName() string
}

// RemoveAllExceptTag removes every element child of the matched container
// whose first element child is not Tag. An empty Tag falls back to the
// blocker's skip tag.
type RemoveAllExceptTag struct {
	Tag string
}

// RemoveOne removes the single matched node.
type RemoveOne struct{}

// RemoveAnyMatching removes every matched node.
type RemoveAnyMatching struct{}

func (RemoveAllExceptTag) strategyName() string { return "all-except-tag" }
func (RemoveOne) strategyName() string          { return "one" }
func (RemoveAnyMatching) strategyName() string  { return "any" }

// Rule names one advertisement region.
type Rule struct {
	Name     string
	Selector string
	Strategy Strategy
}

// Registry is an ordered set of rules for one page type.
type Registry []Rule

// MarkerAttrs are the attributes the ad network stamps on injected slots.
var MarkerAttrs = []string{
	"data-liberty-position-name",
	"data-liberty-is-viewable",
}

var bannerRules = Registry{
	{Name: "leftbaseAds", Selector: ".site-base--left-banner", Strategy: RemoveOne{}},
	{Name: "rightbaseAds", Selector: ".site-base--right-banner", Strategy: RemoveOne{}},
	{Name: "bannerAds", Selector: "#brws_banner-supersize", Strategy: RemoveOne{}},
}

var listRules = Registry{
	{Name: "tableAds", Selector: "#srchrslt-adtable", Strategy: RemoveAllExceptTag{}},
	{Name: "altTableAds", Selector: "#srchrslt-adtable-altads", Strategy: RemoveAllExceptTag{}},
}

var resultRules = Registry{
	{Name: "topAds", Selector: "#srp_adsense-top", Strategy: RemoveOne{}},
	{Name: "middleAds", Selector: "#srps-middle", Strategy: RemoveOne{}},
	{Name: "footerAds", Selector: "#btf-billboard", Strategy: RemoveOne{}},
	{Name: "leftBottomAds", Selector: "#srp-skyscraper-btf", Strategy: RemoveOne{}},
}

var anyRule = Rule{Name: "any", Selector: "[data-liberty-position-name]", Strategy: RemoveAnyMatching{}}

func concat(parts ...Registry) Registry {
	var out Registry
	for _, p := range parts {
		out = append(out, p...)
	}
	return out
}

// SearchResultsRegistry covers result list pages.
func SearchResultsRegistry() Registry {
	return concat(listRules, bannerRules, resultRules, Registry{anyRule})
}

// ProfileRegistry covers a seller's listing page, which shares the result
// table markup.
func ProfileRegistry() Registry {
	return concat(listRules, bannerRules, resultRules, Registry{anyRule})
}

// AdItemRegistry covers a single ad's detail page.
func AdItemRegistry() Registry {
	return concat(bannerRules, Registry{anyRule})
}

// StartPageRegistry covers the landing page.
func StartPageRegistry() Registry {
	return concat(bannerRules, Registry{
		{Name: "footerAds", Selector: "#btf-billboard", Strategy: RemoveOne{}},
		anyRule,
	})
}
