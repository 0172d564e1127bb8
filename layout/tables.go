package layout

import "adtrim/dom"

const shadow = "3px 3px 5px 0px rgb(0, 0, 0, 0.04)"

const border = "1px solid #dddbd5"

// shared tail of the result list tables
var resultCards = Table{
	{Selector: "#srchrslt-content", Style: dom.StyleMap{"width": "100%"}},
	{Selector: ".imagebox.srpimagebox", ApplyToAll: true, Style: dom.StyleMap{"width": "250px", "height": "200px"}},
	{Selector: ".aditem-image", ApplyToAll: true, Style: dom.StyleMap{"flexBasis": "250px"}},
	{Selector: ".aditem-main--top", ApplyToAll: true, Style: dom.StyleMap{"fontWeight": "500"}},
	{
		Selector:   ".aditem-main--middle--price-shipping--price, .aditem-main--middle--price-shipping--old-price",
		ApplyToAll: true,
		Style:      dom.StyleMap{"fontSize": "20px"},
	},
}

var siteFrame = Table{
	{Selector: ".site-base", Style: dom.StyleMap{"display": "flex", "justifyContent": "center"}},
	{Selector: ".site-base--content", Style: dom.StyleMap{"width": "100%"}},
	{Selector: "#site-content", Style: dom.StyleMap{"width": "100%", "padding": "3rem"}},
}

func join(parts ...Table) Table {
	var out Table
	for _, p := range parts {
		out = append(out, p...)
	}
	return out
}

// SearchResults restyles result list pages.
var SearchResults = join(
	Table{{Selector: "#site-header", Style: dom.StyleMap{"position": "sticky", "top": "-92px", "zIndex": "100"}}},
	siteFrame,
	Table{
		{Selector: ".srp-header", Style: dom.StyleMap{"marginBottom": "2rem", "boxShadow": shadow, "border": border}},
		{Selector: ".browsebox", Style: dom.StyleMap{"border": border, "boxShadow": shadow}},
		{Selector: ".l-splitpage-flex", ApplyToAll: true, Style: dom.StyleMap{"justifyContent": "space-between", "gap": "2rem"}},
	},
	resultCards,
)

// Profile restyles a seller's listing page.
var Profile = join(
	Table{{Selector: "#site-header", Style: dom.StyleMap{"position": "sticky", "top": "-84px", "zIndex": "100"}}},
	siteFrame,
	Table{
		{Selector: ".srp-header", Style: dom.StyleMap{"marginBottom": "2rem"}},
		{Selector: ".browsebox", Style: dom.StyleMap{"border": border, "boxShadow": shadow}},
		{Selector: ".l-splitpage-flex", Style: dom.StyleMap{"justifyContent": "space-between", "gap": "2rem"}},
		{Selector: ".l-container-row.l-splitpage-content", Style: dom.StyleMap{"width": "80%"}},
		{Selector: ".l-splitpage-navigation", Style: dom.StyleMap{"width": "20%"}},
		{Selector: ".a-vertical-padded.l-container", Style: dom.StyleMap{"paddingTop": "0"}},
	},
	resultCards,
)

// AdItem restyles a single ad's detail page.
var AdItem = join(
	siteFrame,
	Table{{Selector: ".galleryimage-large.l-container-row.j-gallery-image", Style: dom.StyleMap{"width": "100%"}}},
)

// StartPage restyles the landing page.
var StartPage = Table{
	{Selector: ".grid.bg-backgroundSubdued", Style: dom.StyleMap{"gridTemplate": "none"}},
}
