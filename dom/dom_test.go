package dom

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/net/html"
)

const sample = `<!DOCTYPE html><html><head><style>.box{color:red;margin:0}#x{color:blue}</style></head>
<body><div id="list"><div class="item"><article>A</article></div><div class="item"><div>B</div></div><div class="item"><article>C</article></div></div>
<p class="box" id="x" style="padding: 1px">text</p></body></html>`

func mustParse(t *testing.T, markup string) *Document {
	t.Helper()
	doc, err := ParseString(markup)
	require.NoError(t, err)
	return doc
}

func TestQuerySingleAndMany(t *testing.T) {
	t.Parallel()
	doc := mustParse(t, sample)
	doc.Do(func(tx *Tx) {
		one := Query(tx.Root(), "#list")
		n, ok := one.Single()
		require.True(t, ok)
		assert.Equal(t, "list", GetAttr(n, "id"))

		many := Query(tx.Root(), ".item")
		_, ok = many.Single()
		assert.False(t, ok)
		assert.Equal(t, 3, many.Len())

		assert.True(t, Query(tx.Root(), "#missing").Empty())
		assert.True(t, Query(tx.Root(), "[[bad").Empty())
	})
}

func TestQueryScopedToRoot(t *testing.T) {
	t.Parallel()
	doc := mustParse(t, sample)
	doc.Do(func(tx *Tx) {
		list := QueryFirst(tx.Root(), "#list")
		require.NotNil(t, list)
		assert.Equal(t, 2, Query(list, "article").Len())
		assert.True(t, Query(list, "p").Empty())
	})
}

func TestCSSMergesAndIsIdempotent(t *testing.T) {
	t.Parallel()
	doc := mustParse(t, sample)
	doc.Do(func(tx *Tx) {
		p := QueryFirst(tx.Root(), "p")
		styles := StyleMap{"marginBottom": "2rem", "position": "relative", "padding": "3px"}
		CSS(p, styles)
		first := GetAttr(p, "style")
		CSS(p, styles)
		assert.Equal(t, first, GetAttr(p, "style"))
		assert.Equal(t, "padding: 3px; margin-bottom: 2rem; position: relative;", first)

		CSS(p, StyleMap{"padding": ""})
		_, ok := InlineStyle(p)["padding"]
		assert.False(t, ok)
	})
}

func TestCSSKeepsUnterminatedDeclarations(t *testing.T) {
	t.Parallel()
	cases := []struct {
		name  string
		style string
		want  string
	}{
		{"single", `color: red`, "color: red; margin-bottom: 2rem;"},
		{"several", `color: red; padding: 1px`, "color: red; padding: 1px; margin-bottom: 2rem;"},
		{"important last", `color: red; padding: 1px !important`, "color: red; padding: 1px !important; margin-bottom: 2rem;"},
		{"terminated", `color: red; padding: 1px;`, "color: red; padding: 1px; margin-bottom: 2rem;"},
	}
	for _, tc := range cases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			doc := mustParse(t, `<html><body><p style="`+tc.style+`">x</p></body></html>`)
			doc.Do(func(tx *Tx) {
				p := QueryFirst(tx.Root(), "p")
				CSS(p, StyleMap{"marginBottom": "2rem"})
				assert.Equal(t, tc.want, GetAttr(p, "style"))
			})
		})
	}
}

func TestComputedStyleReadsUnterminatedInline(t *testing.T) {
	t.Parallel()
	doc := mustParse(t, `<html><body><p style="color: red; padding: 1px">x</p></body></html>`)
	doc.Do(func(tx *Tx) {
		props := ComputedStyle(QueryFirst(tx.Root(), "p"), nil)
		assert.Equal(t, "1px", props["padding"])
		assert.Equal(t, "red", props["color"])
	})
}

func TestKebabCase(t *testing.T) {
	t.Parallel()
	cases := map[string]string{
		"marginBottom":   "margin-bottom",
		"zIndex":         "z-index",
		"flex-basis":     "flex-basis",
		"gridTemplate":   "grid-template",
		"justifyContent": "justify-content",
	}
	for in, want := range cases {
		assert.Equal(t, want, KebabCase(in), in)
	}
}

func TestComputedStyleCascade(t *testing.T) {
	t.Parallel()
	doc := mustParse(t, sample)
	doc.Do(func(tx *Tx) {
		ss := CollectStylesheet(tx.Root())
		require.Equal(t, 2, ss.Len())
		p := QueryFirst(tx.Root(), "p")
		got := ComputedStyle(p, ss)
		assert.Equal(t, "blue", got["color"])
		assert.Equal(t, "0", got["margin"])
		assert.Equal(t, "1px", got["padding"])
	})
}

func TestTxRemoveAndEmptyDropListeners(t *testing.T) {
	t.Parallel()
	doc := mustParse(t, `<html><body><div id="a"><p id="p1"><span id="s1"></span></p><p id="p2"></p></div><div id="keep"></div></body></html>`)
	noop := func(*Tx, *Event) {}
	doc.Do(func(tx *Tx) {
		for _, id := range []string{"#a", "#p1", "#s1", "#p2", "#keep"} {
			tx.On(QueryFirst(tx.Root(), id), EventClick, noop)
		}
		p1 := QueryFirst(tx.Root(), "#p1")
		s1 := QueryFirst(tx.Root(), "#s1")
		require.NoError(t, tx.Remove(p1))
		assert.False(t, tx.HasListener(p1, EventClick))
		assert.False(t, tx.HasListener(s1, EventClick))
		assert.Len(t, doc.listeners, 3)

		a := QueryFirst(tx.Root(), "#a")
		p2 := QueryFirst(tx.Root(), "#p2")
		tx.Empty(a)
		assert.False(t, tx.HasListener(p2, EventClick))
		assert.True(t, tx.HasListener(a, EventClick))
		assert.True(t, tx.HasListener(QueryFirst(tx.Root(), "#keep"), EventClick))
		assert.Len(t, doc.listeners, 2)

		assert.ErrorIs(t, tx.Remove(p1), ErrDetached)
	})
}

func TestRemoveDetached(t *testing.T) {
	t.Parallel()
	doc := mustParse(t, sample)
	doc.Do(func(tx *Tx) {
		p := QueryFirst(tx.Root(), "p")
		require.NoError(t, Remove(p))
		assert.ErrorIs(t, Remove(p), ErrDetached)
	})
}

func TestInsertAdjacentPositions(t *testing.T) {
	t.Parallel()
	doc := mustParse(t, `<html><body><div id="t"><span>mid</span></div></body></html>`)
	doc.Do(func(tx *Tx) {
		target := QueryFirst(tx.Root(), "#t")
		require.NoError(t, InsertHTML(target, AfterBegin, `<i>first</i>`))
		require.NoError(t, InsertHTML(target, BeforeEnd, `<b>last</b>`))
		require.NoError(t, InsertHTML(target, BeforeBegin, `<hr id="before">`))
		require.NoError(t, InsertHTML(target, AfterEnd, `<hr id="after">`))
		assert.Equal(t, "<i>first</i><span>mid</span><b>last</b>", InnerHTML(target))
		assert.Equal(t, "before", GetAttr(prevElement(target), "id"))
		assert.Equal(t, "after", GetAttr(nextElement(target), "id"))
	})
}

func prevElement(n *html.Node) *html.Node {
	for c := n.PrevSibling; c != nil; c = c.PrevSibling {
		if c.Type == html.ElementNode {
			return c
		}
	}
	return nil
}

func nextElement(n *html.Node) *html.Node {
	for c := n.NextSibling; c != nil; c = c.NextSibling {
		if c.Type == html.ElementNode {
			return c
		}
	}
	return nil
}

func TestDispatchBubblesAndStops(t *testing.T) {
	t.Parallel()
	doc := mustParse(t, `<html><body><div id="outer"><a id="inner">x</a></div></body></html>`)
	var calls []string
	var inner, outer *html.Node
	doc.Do(func(tx *Tx) {
		inner = QueryFirst(tx.Root(), "#inner")
		outer = QueryFirst(tx.Root(), "#outer")
		tx.On(outer, EventClick, func(_ *Tx, ev *Event) { calls = append(calls, "outer") })
		tx.On(inner, EventClick, func(_ *Tx, ev *Event) { calls = append(calls, "inner") })
	})
	doc.Click(inner)
	assert.Equal(t, []string{"inner", "outer"}, calls)

	calls = nil
	doc.Do(func(tx *Tx) {
		tx.On(inner, EventClick, func(_ *Tx, ev *Event) { ev.StopImmediatePropagation() })
	})
	doc.Click(inner)
	assert.Equal(t, []string{"inner"}, calls)
}

func TestObserverReceivesFilteredMutations(t *testing.T) {
	t.Parallel()
	doc := mustParse(t, sample)
	obs := doc.Observe("data-liberty-position-name")
	defer obs.Disconnect()

	doc.Do(func(tx *Tx) {
		p := QueryFirst(tx.Root(), "p")
		tx.SetAttrs(p, map[string]string{"title": "ignored", "data-liberty-position-name": "ad"})
	})

	select {
	case batch := <-obs.C():
		require.Len(t, batch, 1)
		assert.Equal(t, "data-liberty-position-name", batch[0].Name)
	case <-time.After(time.Second):
		t.Fatal("no mutation delivered")
	}
}

func TestObserverDisconnectDoesNotBlock(t *testing.T) {
	t.Parallel()
	doc := mustParse(t, sample)
	obs := doc.Observe()
	obs.Disconnect()
	obs.Disconnect()
	done := make(chan struct{})
	go func() {
		for i := 0; i < 64; i++ {
			doc.Do(func(tx *Tx) {
				tx.SetAttrs(QueryFirst(tx.Root(), "p"), map[string]string{"data-x": "1"})
			})
		}
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("writes blocked on a disconnected observer")
	}
}
