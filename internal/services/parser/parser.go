// Package parser decodes raw uploaded bytes into plain text, one
// strategy per file extension.
package parser

import (
	"context"
	"fmt"
	"path/filepath"
	"sort"
	"strings"

	"github.com/ternarybob/arbor"

	"github.com/ternarybob/distill/internal/interfaces"
)

// extractFunc decodes one format's bytes to text
type extractFunc func(ctx context.Context, data []byte) (string, error)

// Service dispatches parsing by file extension
type Service struct {
	extractors map[string]extractFunc
	logger     arbor.ILogger
}

// Compile-time interface assertion
var _ interfaces.Parser = (*Service)(nil)

// NewService creates a parser service with the built-in extractors
func NewService(logger arbor.ILogger) *Service {
	s := &Service{
		extractors: make(map[string]extractFunc),
		logger:     logger,
	}

	pdf := newPDFExtractor(logger)

	s.extractors[".txt"] = extractText
	s.extractors[".md"] = extractMarkdown
	s.extractors[".html"] = extractHTML
	s.extractors[".htm"] = extractHTML
	s.extractors[".pdf"] = pdf.extract

	return s
}

// Parse decodes data into plain text based on the filename's extension.
// A zero-byte upload is valid and parses to the empty string.
func (s *Service) Parse(ctx context.Context, data []byte, filename string) (string, error) {
	ext := strings.ToLower(filepath.Ext(filename))

	extract, ok := s.extractors[ext]
	if !ok {
		return "", fmt.Errorf("unsupported file extension %q", ext)
	}

	if len(data) == 0 {
		return "", nil
	}

	text, err := extract(ctx, data)
	if err != nil {
		return "", fmt.Errorf("failed to parse %s: %w", filename, err)
	}

	s.logger.Debug().
		Str("filename", filename).
		Str("extension", ext).
		Int("bytes", len(data)).
		Int("text_length", len(text)).
		Msg("Document parsed")

	return text, nil
}

// SupportedExtensions lists the extensions with a registered extractor
func (s *Service) SupportedExtensions() []string {
	exts := make([]string, 0, len(s.extractors))
	for ext := range s.extractors {
		exts = append(exts, ext)
	}
	sort.Strings(exts)
	return exts
}
