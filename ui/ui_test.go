package ui

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"adtrim/dom"
)

func mounted(t *testing.T) (*dom.Document, *UI) {
	t.Helper()
	doc, err := dom.ParseString(`<html><body><main>content</main></body></html>`)
	require.NoError(t, err)
	u := New(doc, Options{})
	require.NoError(t, u.MountLoader())
	return doc, u
}

func attr(doc *dom.Document, sel, name string) string {
	var v string
	doc.Do(func(tx *dom.Tx) { v = dom.GetAttr(dom.QueryFirst(tx.Root(), sel), name) })
	return v
}

func TestMountLoader(t *testing.T) {
	t.Parallel()
	doc, u := mounted(t)
	require.NoError(t, u.MountLoader())
	doc.Do(func(tx *dom.Tx) {
		assert.Equal(t, "fa-loading", dom.GetAttr(dom.FirstElementChild(tx.Body()), "id"))
		assert.Equal(t, 1, dom.Query(tx.Root(), "#fa-loading").Len())
		assert.Equal(t, 1, dom.Query(tx.Root(), "#fa-scrolltop").Len())
		assert.Contains(t, dom.TextContent(dom.QueryFirst(tx.Root(), "#fa-loading-text")), "Einen Moment")
	})
}

func TestToggleLoadingPairsRestoreState(t *testing.T) {
	t.Parallel()
	doc, u := mounted(t)
	before := attr(doc, "#fa-loading", "style")

	u.ToggleLoading()
	assert.True(t, u.Loading())
	assert.Equal(t, "display: flex;", attr(doc, "#fa-loading", "style"))

	u.ToggleLoading()
	assert.False(t, u.Loading())
	assert.Equal(t, before, attr(doc, "#fa-loading", "style"))
}

func TestToggleScrollBlocking(t *testing.T) {
	t.Parallel()
	doc, u := mounted(t)
	u.ToggleScrollBlocking()
	assert.True(t, u.ScrollBlocked())
	assert.Equal(t, "overflow-y: hidden;", attr(doc, "body", "style"))
	u.ToggleScrollBlocking()
	assert.Equal(t, "overflow-y: auto;", attr(doc, "body", "style"))
}

func TestScrollTopThreshold(t *testing.T) {
	t.Parallel()
	cases := []struct {
		name    string
		offsets []int
		want    string
	}{
		{"below", []int{10, 999}, "opacity: 0; visibility: hidden;"},
		{"crossed", []int{10, 1000}, "opacity: 1; visibility: visible;"},
		{"back", []int{1500, 200}, "opacity: 0; visibility: hidden;"},
	}
	for _, tc := range cases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			doc, u := mounted(t)
			for _, off := range tc.offsets {
				u.OnScroll(off)
			}
			assert.Equal(t, tc.want, attr(doc, "#fa-scrolltop", "style"))
		})
	}
}

func TestScrollTopClick(t *testing.T) {
	t.Parallel()
	doc, u := mounted(t)
	u.OnScroll(2400)
	u.ScrollTopClicked()
	assert.Equal(t, 0, u.ScrollTop())
	assert.Equal(t, "smooth", attr(doc, "#fa-scrolltop", "data-fa-scroll"))
	assert.Equal(t, "opacity: 0; visibility: hidden;", attr(doc, "#fa-scrolltop", "style"))
}
