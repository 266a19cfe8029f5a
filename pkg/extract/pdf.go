package extract

import (
	"fmt"
	"io"
	"regexp"
	"strings"

	"github.com/ledongthuc/pdf"
)

var (
	controlChars  = regexp.MustCompile(`[\x00-\x08\x0b\x0c\x0e-\x1f\x7f]`)
	hyphenBreak   = regexp.MustCompile(`(\w)-\n(\w)`)
	blankRuns     = regexp.MustCompile(`\n{3,}`)
	trailingSpace = regexp.MustCompile(`[ \t]+\n`)
)

// FromPDF extracts text from a PDF file, cleans it, and returns
// chunks.
func FromPDF(path string) ([]string, error) {
	f, reader, err := pdf.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open PDF: %w", err)
	}
	defer f.Close()

	textReader, err := reader.GetPlainText()
	if err != nil {
		return nil, fmt.Errorf("failed to extract PDF text: %w", err)
	}

	raw, err := io.ReadAll(textReader)
	if err != nil {
		return nil, fmt.Errorf("failed to read PDF text: %w", err)
	}

	cleaned := CleanPDFText(string(raw))
	if cleaned == "" {
		return nil, ErrEmptyContent
	}

	chunks := ChunkText(cleaned)
	if len(chunks) == 0 {
		return nil, ErrNoChunks
	}
	return chunks, nil
}

// CleanPDFText normalizes PDF extractor output: strips control
// characters, repairs hyphenation across line breaks, and collapses
// blank-line runs.
func CleanPDFText(text string) string {
	text = controlChars.ReplaceAllString(text, "")
	text = strings.ReplaceAll(text, "\r\n", "\n")
	text = hyphenBreak.ReplaceAllString(text, "$1$2")
	text = trailingSpace.ReplaceAllString(text, "\n")
	text = blankRuns.ReplaceAllString(text, "\n\n")
	return strings.TrimSpace(text)
}
