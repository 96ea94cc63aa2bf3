package parser

import (
	"bytes"
	"context"
	"fmt"

	md "github.com/JohannesKaufmann/html-to-markdown"
	"github.com/PuerkitoBio/goquery"
)

// extractHTML strips boilerplate elements with goquery, converts the
// remaining document to markdown, then reduces that to plain text with
// the markdown extractor so all formats feed the chunker the same way.
func extractHTML(ctx context.Context, data []byte) (string, error) {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(data))
	if err != nil {
		return "", fmt.Errorf("failed to parse HTML: %w", err)
	}

	doc.Find("script, style, nav, footer, aside").Remove()

	converter := md.NewConverter("", true, nil)
	markdown := converter.Convert(doc.Selection)

	return extractMarkdown(ctx, []byte(markdown))
}
