// Package chunker splits document text into semantic chunks along
// paragraph and sentence boundaries.
package chunker

import (
	"strings"
	"unicode/utf8"

	"github.com/ternarybob/arbor"

	"github.com/ternarybob/distill/internal/common"
)

// Chunker splits text into chunks of roughly chunkSize characters.
// Splitting is deterministic: the same text and parameters always
// produce the same ordered chunk sequence.
//
// Policy: split on blank-line paragraph boundaries first; a paragraph
// longer than chunkSize is split into sentences which are greedily
// packed up to chunkSize; consecutive short paragraphs are greedily
// merged up to chunkSize; an accumulated chunk shorter than minLength
// is dropped rather than emitted.
type Chunker struct {
	chunkSize int
	overlap   int
	minLength int
	logger    arbor.ILogger
}

// New creates a chunker from configuration
func New(config *common.ChunkingConfig, logger arbor.ILogger) *Chunker {
	chunkSize := config.ChunkSize
	if chunkSize <= 0 {
		chunkSize = 1024
	}
	minLength := config.MinLength
	if minLength < 0 {
		minLength = 0
	}

	return &Chunker{
		chunkSize: chunkSize,
		overlap:   config.Overlap,
		minLength: minLength,
		logger:    logger,
	}
}

// Split chunks text into an ordered sequence. Empty text yields zero
// chunks.
func (c *Chunker) Split(text string) []string {
	paragraphs := splitParagraphs(text)

	chunks := []string{}
	current := ""

	for _, paragraph := range paragraphs {
		if length(paragraph) > c.chunkSize {
			// Oversize paragraph: flush whatever is accumulated, then
			// pack its sentences greedily
			if strings.TrimSpace(current) != "" {
				chunks = append(chunks, strings.TrimSpace(current))
				current = ""
			}

			chunkText := ""
			for _, sentence := range splitSentences(paragraph) {
				if length(chunkText)+length(sentence) <= c.chunkSize {
					if chunkText == "" {
						chunkText = sentence
					} else {
						chunkText += " " + sentence
					}
				} else {
					if chunkText != "" && length(chunkText) >= c.minLength {
						chunks = append(chunks, strings.TrimSpace(chunkText))
					}
					chunkText = sentence
				}
			}
			if chunkText != "" && length(chunkText) >= c.minLength {
				chunks = append(chunks, strings.TrimSpace(chunkText))
			}
			continue
		}

		// Merge consecutive paragraphs up to the chunk size
		test := paragraph
		if current != "" {
			test = current + "\n\n" + paragraph
		}

		if length(test) <= c.chunkSize {
			current = test
		} else {
			if current != "" && length(current) >= c.minLength {
				chunks = append(chunks, strings.TrimSpace(current))
			}
			current = paragraph
		}
	}

	// The final chunk is kept only if it meets the minimum length
	if current != "" && length(current) >= c.minLength {
		chunks = append(chunks, strings.TrimSpace(current))
	}

	if c.logger != nil {
		c.logger.Debug().
			Int("chunks", len(chunks)).
			Int("text_length", length(text)).
			Msg("Text chunked")
	}

	return chunks
}

// splitParagraphs splits on blank lines, trimming and dropping empties
func splitParagraphs(text string) []string {
	parts := strings.Split(text, "\n\n")
	paragraphs := make([]string, 0, len(parts))
	for _, p := range parts {
		trimmed := strings.TrimSpace(p)
		if trimmed != "" {
			paragraphs = append(paragraphs, trimmed)
		}
	}
	return paragraphs
}

// splitSentences breaks text at '.', '!' and '?' boundaries
func splitSentences(text string) []string {
	sentences := []string{}
	current := ""

	for _, r := range text {
		current += string(r)
		if (r == '.' || r == '!' || r == '?') && utf8.RuneCountInString(current) > 1 {
			sentences = append(sentences, strings.TrimSpace(current))
			current = ""
		}
	}

	if strings.TrimSpace(current) != "" {
		sentences = append(sentences, strings.TrimSpace(current))
	}

	return sentences
}

// length counts characters, not bytes, so multi-byte text chunks the
// same way regardless of encoding width
func length(s string) int {
	return utf8.RuneCountInString(s)
}
