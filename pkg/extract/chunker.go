package extract

import (
	"strings"
)

// ChunkMarkdown splits markdown text on "##" headings, re-prefixing
// each section so the heading survives in the chunk. Oversized
// sections are length-split; fragments under MinChunkLen are dropped.
func ChunkMarkdown(text string) []string {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil
	}

	sections := strings.Split("\n"+text, "\n## ")
	var chunks []string
	for i, section := range sections {
		section = strings.TrimSpace(section)
		if section == "" {
			continue
		}
		if i > 0 {
			section = "## " + section
		}
		chunks = append(chunks, splitLong(section)...)
	}

	return filterShort(chunks)
}

// ChunkText splits plain text into chunks, keeping paragraphs together
// where possible and length-splitting oversized runs.
func ChunkText(text string) []string {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil
	}

	paragraphs := strings.Split(text, "\n\n")
	var chunks []string
	var current strings.Builder

	flush := func() {
		if current.Len() > 0 {
			chunks = append(chunks, splitLong(current.String())...)
			current.Reset()
		}
	}

	for _, para := range paragraphs {
		para = strings.TrimSpace(para)
		if para == "" {
			continue
		}
		if current.Len() > 0 && current.Len()+len(para)+2 > SplitTarget {
			flush()
		}
		if current.Len() > 0 {
			current.WriteString("\n\n")
		}
		current.WriteString(para)
	}
	flush()

	return filterShort(chunks)
}

// splitLong cuts text exceeding MaxChunkLen into overlapping windows
// of roughly SplitTarget characters, preferring to cut at a sentence
// or newline boundary once past 70% of the window.
func splitLong(text string) []string {
	if len(text) <= MaxChunkLen {
		return []string{text}
	}

	var parts []string
	start := 0
	for start < len(text) {
		end := start + SplitTarget
		if end >= len(text) {
			parts = append(parts, strings.TrimSpace(text[start:]))
			break
		}

		cut := findCut(text, start, end)
		parts = append(parts, strings.TrimSpace(text[start:cut]))

		next := cut - SplitOverlap
		if next <= start {
			next = cut
		}
		start = next
	}
	return parts
}

// findCut looks backwards from end for a sentence end or newline, but
// never cuts before 70% of the window.
func findCut(text string, start, end int) int {
	floor := start + SplitTarget*7/10
	for i := end; i > floor; i-- {
		switch text[i-1] {
		case '\n':
			return i
		case '.', '!', '?':
			if i == len(text) || text[i] == ' ' || text[i] == '\n' {
				return i
			}
		}
	}
	return end
}

// filterShort drops fragments under MinChunkLen.
func filterShort(chunks []string) []string {
	out := chunks[:0]
	for _, c := range chunks {
		if len(c) >= MinChunkLen {
			out = append(out, c)
		}
	}
	if len(out) == 0 {
		return nil
	}
	return out
}
