package htmlx

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/net/html"
)

func parse(t *testing.T, s string) *html.Node {
	t.Helper()
	doc, err := html.Parse(strings.NewReader(s))
	require.NoError(t, err)
	return doc
}

func TestHelpers(t *testing.T) {
	doc := parse(t, `<div id="a" class="x  y"><span id="b">Hello <b>world</b></span></div>`)

	a := ByID(doc, "a")
	require.NotNil(t, a)
	assert.True(t, HasClass(a, "y"))
	assert.False(t, HasClass(a, "z"))

	b := ByID(doc, "b")
	require.NotNil(t, b)
	assert.Equal(t, "Hello world", Text(b))
	assert.True(t, HasAncestor(b, func(n *html.Node) bool { return Attr(n, "id") == "a" }))

	inner, err := InnerHTML(b)
	require.NoError(t, err)
	assert.Equal(t, "Hello <b>world</b>", inner)

	assert.Nil(t, ByID(doc, "missing"))
	assert.Equal(t, "", Attr(nil, "id"))
}
