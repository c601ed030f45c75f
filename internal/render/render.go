// Package render turns model replies, which are markdown, into HTML for the
// web page or styled text for a terminal.
package render

import (
	"bytes"
	"html"

	"github.com/charmbracelet/glamour"
	"github.com/microcosm-cc/bluemonday"
	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/extension"
	gmhtml "github.com/yuin/goldmark/renderer/html"
)

var (
	markdown = goldmark.New(
		goldmark.WithExtensions(extension.GFM, extension.Linkify),
		goldmark.WithRendererOptions(gmhtml.WithHardWraps()),
	)
	policy = bluemonday.UGCPolicy()
)

// HTML converts markdown to sanitized HTML. Raw HTML in the reply is dropped
// by goldmark and anything that slips through is stripped by the policy.
func HTML(text string) string {
	var buf bytes.Buffer
	if err := markdown.Convert([]byte(text), &buf); err != nil {
		return "<p>" + html.EscapeString(text) + "</p>"
	}
	return string(policy.SanitizeBytes(buf.Bytes()))
}

func Terminal(text string, width int) string {
	if width <= 0 {
		width = 100
	}
	r, err := glamour.NewTermRenderer(
		glamour.WithAutoStyle(),
		glamour.WithWordWrap(width),
		glamour.WithEmoji(),
	)
	if err != nil {
		return text
	}
	styled, err := r.Render(text)
	if err != nil {
		return text
	}
	return styled
}
