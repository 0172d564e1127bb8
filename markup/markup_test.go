package markup

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"adtrim/dom"
)

func TestElementsCarryExpectedIDs(t *testing.T) {
	t.Parallel()
	r := MustRenderer()
	cases := []struct {
		name string
		data any
		id   string
	}{
		{ImageLoader, nil, "fa-image-loading"},
		{PageLoader, LoadingText, "fa-loading"},
		{Liked, nil, "fa-liked"},
		{DescButton, DescButtonText, "fa-ad-load-desc-wrapper"},
		{GalleryDialog, nil, "fa-dialog"},
		{ScrollTop, nil, "fa-scrolltop"},
	}
	for _, tc := range cases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			n, err := r.Element(tc.name, tc.data)
			require.NoError(t, err)
			assert.Equal(t, tc.id, dom.GetAttr(n, "id"))
		})
	}
}

func TestDescButtonEscapesLabel(t *testing.T) {
	t.Parallel()
	s, err := MustRenderer().Render(DescButton, `<script>x</script>`)
	require.NoError(t, err)
	assert.NotContains(t, s, "<script>")
}

func TestUnknownTemplate(t *testing.T) {
	t.Parallel()
	_, err := MustRenderer().Render("nope", nil)
	assert.Error(t, err)
}
