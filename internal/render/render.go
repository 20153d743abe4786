// Package render produces the preview HTML pushed on the slow path.
//
// Rendering is plain goldmark with the GFM table and strikethrough
// extensions. Raw HTML in the source is omitted, not passed through:
// documents are edited by multiple participants and the preview is
// injected straight into their pages.
package render

import (
	"bytes"
	"context"

	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/extension"
)

// Markdown renders document source to preview HTML. Safe for concurrent
// use; goldmark parsers hold only configuration.
type Markdown struct {
	md goldmark.Markdown
}

// NewMarkdown builds the preview renderer.
func NewMarkdown() *Markdown {
	return &Markdown{
		md: goldmark.New(
			goldmark.WithExtensions(
				extension.Table,
				extension.Strikethrough,
			),
		),
	}
}

// Render converts markdown source to HTML.
func (m *Markdown) Render(_ context.Context, source string) (string, error) {
	var buf bytes.Buffer
	if err := m.md.Convert([]byte(source), &buf); err != nil {
		return "", err
	}
	return buf.String(), nil
}
