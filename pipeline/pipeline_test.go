package pipeline

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
	"golang.org/x/net/html"

	"adtrim/dom"
	"adtrim/fetch"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func TestClassify(t *testing.T) {
	t.Parallel()
	cases := []struct {
		path string
		want PageType
	}{
		{"/", PageStartPage},
		{"", PageStartPage},
		{"/s-fahrraeder/c217", PageSearchResults},
		{"/s-bestandsliste.html", PageProfile},
		{"/pro/shop-name", PageProfile},
		{"/s-anzeige/rennrad/123-217-1", PageAdItem},
		{"/m-meine-anzeigen.html", PageUnknown},
	}
	for _, tc := range cases {
		tc := tc
		t.Run(tc.path, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tc.want, Classify(tc.path))
		})
	}
}

const resultsFixture = `<html><head></head><body>
<div class="site-base--left-banner">banner</div>
<div class="site-base"><div class="site-base--content"><div id="site-content">
<div id="srp_adsense-top">ad</div>
<div class="l-splitpage-flex"><div id="srchrslt-content">
<ul id="srchrslt-adtable">
  <li id="c1"><article data-href="/s-anzeige/one/1"><div class="aditem-image"><a href="/s-anzeige/one/1"></a></div>
    <a class="ellipsis">One</a><p class="aditem-main--middle--description">short</p></article></li>
  <li id="promo"><div data-liberty-position-name="inline">promo</div></li>
  <li id="c2"><article data-href="/s-anzeige/two/2"><div class="aditem-image"><a href="/s-anzeige/two/2"></a></div>
    <a class="ellipsis">Two</a><p class="aditem-main--middle--description">short</p></article></li>
</ul></div></div>
</div></div></div>
</body></html>`

func detailServer(t *testing.T) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprintf(w, `<html><body>
<div id="viewad-user-actions"><a id="viewad-lnk-watchlist" data-action="add"></a></div>
<p id="viewad-description-text">long text for %s</p>
<div class="galleryimage-large"><div class="galleryimage-element current"></div><div class="galleryimage-element"></div>
<button class="galleryimage--navigation--prev"></button><button class="galleryimage--navigation--next"></button></div>
</body></html>`, r.URL.Path)
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestRunSearchResults(t *testing.T) {
	srv := detailServer(t)
	doc, err := dom.ParseString(resultsFixture)
	require.NoError(t, err)

	res, err := Run(context.Background(), doc, srv.URL+"/s-fahrraeder/c217", Deps{
		Fetcher:     fetch.NewHTTP(fetch.HTTPOptions{}),
		SettleDelay: -1,
		RetryDelay:  time.Millisecond,
	})
	require.NoError(t, err)
	defer res.Stop()

	assert.Equal(t, PageSearchResults, res.Page)
	assert.True(t, res.Blocker.IsCompleted())
	assert.Equal(t, 2, res.Stats.Enriched)
	assert.False(t, res.UI.Loading())
	assert.False(t, res.UI.ScrollBlocked())

	var img *html.Node
	doc.Do(func(tx *dom.Tx) {
		root := tx.Root()
		assert.Nil(t, dom.QueryFirst(root, ".site-base--left-banner"))
		assert.Nil(t, dom.QueryFirst(root, "#promo"))
		assert.Equal(t, "display: flex; justify-content: center;", dom.GetAttr(dom.QueryFirst(root, ".site-base"), "style"))
		assert.Equal(t, 2, dom.Query(root, "#fa-ad-load-desc-btn").Len())
		assert.Equal(t, "display: none;", dom.GetAttr(dom.QueryFirst(root, "#fa-loading"), "style"))
		assert.Equal(t, "overflow-y: auto;", dom.GetAttr(tx.Body(), "style"))
		img = dom.QueryFirst(root, "#c2 .aditem-image")
	})

	doc.Click(img)
	require.Eventually(t, res.Gallery.IsOpen, time.Second, 5*time.Millisecond)
	res.Gallery.Navigate("ArrowRight")
	assert.Equal(t, 1, res.Gallery.CurrentIndex())
}

func TestRunKeepsWatchingForLateAds(t *testing.T) {
	doc, err := dom.ParseString(`<html><body><div id="slot">x</div></body></html>`)
	require.NoError(t, err)
	res, err := Run(context.Background(), doc, "https://example.com/s-anzeige/x/1", Deps{SettleDelay: -1})
	require.NoError(t, err)
	defer res.Stop()
	assert.Nil(t, res.Gallery)

	doc.Do(func(tx *dom.Tx) {
		tx.SetAttrs(dom.QueryFirst(tx.Root(), "#slot"), map[string]string{"data-liberty-position-name": "late"})
	})
	require.Eventually(t, func() bool {
		gone := false
		doc.Do(func(tx *dom.Tx) { gone = dom.QueryFirst(tx.Root(), "#slot") == nil })
		return gone
	}, time.Second, 5*time.Millisecond)
}

func TestRunUnknownPageIsNoop(t *testing.T) {
	t.Parallel()
	doc, err := dom.ParseString(`<html><body><p>x</p></body></html>`)
	require.NoError(t, err)
	before := doc.String()
	res, err := Run(context.Background(), doc, "https://example.com/m-nachrichten.html", Deps{})
	require.NoError(t, err)
	res.Stop()
	assert.Equal(t, PageUnknown, res.Page)
	assert.Equal(t, before, doc.String())
}

func TestRunRequiresFetcherForListings(t *testing.T) {
	t.Parallel()
	doc, err := dom.ParseString(resultsFixture)
	require.NoError(t, err)
	_, err = Run(context.Background(), doc, "https://example.com/s-auto/c216", Deps{SettleDelay: -1})
	require.Error(t, err)
}

func TestRunHonoursCancelledSettle(t *testing.T) {
	t.Parallel()
	doc, err := dom.ParseString(`<html><body></body></html>`)
	require.NoError(t, err)
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	_, err = Run(ctx, doc, "https://example.com/", Deps{SettleDelay: time.Minute})
	require.ErrorIs(t, err, context.DeadlineExceeded)
}
