package main

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"adtrim/dom"
)

const savedAdItem = `<html><head><style>#title { color: red } .big { font-size: 20px }</style></head><body>
<div class="site-base--left-banner">banner</div>
<h1 id="title" class="big" style="color: blue">Fahrrad</h1>
<div data-liberty-position-name="vip-top">ad</div>
</body></html>`

func TestRewriteFile(t *testing.T) {
	logger = zap.NewNop()
	dir := t.TempDir()
	in := filepath.Join(dir, "page.html")
	out := filepath.Join(dir, "out.html")
	require.NoError(t, os.WriteFile(in, []byte(savedAdItem), 0o644))

	rootCmd.SetArgs([]string{"rewrite", in, "--url", "https://www.kleinanzeigen.de/s-anzeige/fahrrad/1", "-o", out})
	require.NoError(t, rootCmd.Execute())

	got, err := os.ReadFile(out)
	require.NoError(t, err)
	assert.Contains(t, string(got), "Fahrrad")
	assert.NotContains(t, string(got), "site-base--left-banner")
	assert.NotContains(t, string(got), "vip-top")
}

func TestRewriteFileNeedsURL(t *testing.T) {
	logger = zap.NewNop()
	in := filepath.Join(t.TempDir(), "page.html")
	require.NoError(t, os.WriteFile(in, []byte(savedAdItem), 0o644))
	rewritePageURL = ""
	_, _, err := loadSource(t.Context(), in, nil)
	assert.ErrorContains(t, err, "--url is required")
}

func TestPrintComputed(t *testing.T) {
	logger = zap.NewNop()
	doc := mustDoc(t, savedAdItem)
	var buf bytes.Buffer
	printComputed(&buf, doc, "#title")
	assert.Contains(t, buf.String(), "color=blue")
	assert.Contains(t, buf.String(), "font-size=20px")
}

func mustDoc(t *testing.T, markup string) *dom.Document {
	t.Helper()
	doc, err := dom.ParseString(markup)
	require.NoError(t, err)
	return doc
}
