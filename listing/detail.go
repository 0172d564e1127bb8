package listing

import (
	"errors"
	"fmt"
	"strings"

	"github.com/PuerkitoBio/goquery"
)

// ErrFragmentMissing is returned when a detail page lacks the description.
var ErrFragmentMissing = errors.New("detail fragment missing")

const (
	descriptionSel = "#viewad-description-text"
	watchlistSel   = "#viewad-user-actions #viewad-lnk-watchlist"
	gallerySel     = ".galleryimage-large"
	imageSel       = ".galleryimage-element"
)

// DetailFragmentSet is the part of a fetched detail page a card needs.
type DetailFragmentSet struct {
	// DescriptionHTML is the outer markup of the description element.
	DescriptionHTML string
	// WatchlistAction is the data-action of the watchlist control, "" when
	// the control is absent.
	WatchlistAction string
	// GalleryHTML is the outer markup of the large gallery, "" when absent.
	GalleryHTML string
	ImageCount  int
}

// Liked reports whether the ad is already on the watchlist. Anything other
// than an "add" action means it is.
func (f *DetailFragmentSet) Liked() bool {
	return f.WatchlistAction != "add"
}

// ParseDetail extracts the fragment set from a detail page. Pages without a
// description yield ErrFragmentMissing so callers never patch half a card.
func ParseDetail(markup string) (*DetailFragmentSet, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(markup))
	if err != nil {
		return nil, fmt.Errorf("parse detail: %w", err)
	}
	desc := doc.Find(descriptionSel).First()
	if desc.Length() == 0 {
		return nil, fmt.Errorf("parse detail: %s: %w", descriptionSel, ErrFragmentMissing)
	}
	descHTML, err := goquery.OuterHtml(desc)
	if err != nil {
		return nil, fmt.Errorf("parse detail: description: %w", err)
	}

	set := &DetailFragmentSet{DescriptionHTML: descHTML}
	set.WatchlistAction, _ = doc.Find(watchlistSel).First().Attr("data-action")

	if g := doc.Find(gallerySel).First(); g.Length() > 0 {
		set.GalleryHTML, err = goquery.OuterHtml(g)
		if err != nil {
			return nil, fmt.Errorf("parse detail: gallery: %w", err)
		}
		set.ImageCount = g.Find(imageSel).Length()
	}
	return set, nil
}
