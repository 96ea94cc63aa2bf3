package parser

import (
	"context"
	"fmt"
	"strings"
	"unicode/utf8"
)

// extractText decodes a plain text file. Line endings are normalized
// so the chunker sees consistent paragraph boundaries.
func extractText(ctx context.Context, data []byte) (string, error) {
	if !utf8.Valid(data) {
		return "", fmt.Errorf("file is not valid UTF-8 text")
	}

	text := string(data)
	text = strings.ReplaceAll(text, "\r\n", "\n")
	text = strings.ReplaceAll(text, "\r", "\n")

	return text, nil
}
