package dom

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSimplify_StripsScriptsAndStyles(t *testing.T) {
	in := `<html><head><title>T</title><script>alert(1)</script><style>.x{}</style></head>
<body><div class="wrap"><p>Hello <b>world</b></p><!-- gone --></div></body></html>`

	out, err := Simplify(in)
	require.NoError(t, err)

	assert.Contains(t, out, "<title>T </title>")
	assert.Contains(t, out, "Hello")
	assert.Contains(t, out, "<b>world </b>")
	assert.NotContains(t, out, "alert(1)")
	assert.NotContains(t, out, "style")
	assert.NotContains(t, out, "gone")
}

func TestSimplify_KeepsWhitelistedAttributes(t *testing.T) {
	in := `<body><a href="/x" data-tracking="abc" class="link">go</a><input type="text" value=""></body>`

	out, err := Simplify(in)
	require.NoError(t, err)

	assert.Contains(t, out, `href="/x"`)
	assert.Contains(t, out, `class="link"`)
	assert.NotContains(t, out, "data-tracking")
	// value survives even when empty, void elements get no closing tag
	assert.Contains(t, out, `value=""`)
	assert.NotContains(t, out, "</input>")
}

func TestSimplify_DropsUnknownWrapperButKeepsChildren(t *testing.T) {
	in := `<body><custom-widget><span>inner</span></custom-widget></body>`

	out, err := Simplify(in)
	require.NoError(t, err)

	assert.NotContains(t, out, "custom-widget")
	assert.Contains(t, out, "<span>inner </span>")
}

func TestTextContent(t *testing.T) {
	in := `<div><p>one</p><script>skip()</script><span> two </span></div>`

	out, err := TextContent(in)
	require.NoError(t, err)
	assert.Equal(t, "one two", out)
}

func TestTextsAction_BuildsQuotedSelector(t *testing.T) {
	var res []string
	action := TextsAction(`div[class*="suggestion"] span`, &res)
	assert.NotNil(t, action)
}
