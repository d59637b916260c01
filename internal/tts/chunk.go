package tts

import (
	"fmt"
	"strings"
)

// chunkDelims are the break characters used when splitting text, in
// decreasing order of preference. Breaking at newlines keeps paragraphs
// intact; colons, periods, and commas are fallbacks for very long
// paragraphs and sentences.
var chunkDelims = []byte{'\n', ':', '.', ','}

// SplitText breaks text into chunks of at most maxChunkSize bytes, making
// chunks as large as possible. Chunks only break at delimiter characters,
// tried in order of preference. Returns an error if some span of text
// cannot be broken under the limit with any delimiter.
func SplitText(text string, maxChunkSize int) ([]string, error) {
	chunks := splitAtDelim(text, chunkDelims[0], maxChunkSize)

	// Re-split any oversized chunk with the next delimiter down.
	for _, delim := range chunkDelims[1:] {
		next := make([]string, 0, len(chunks))
		for _, chunk := range chunks {
			if len(chunk) > maxChunkSize {
				next = append(next, splitAtDelim(chunk, delim, maxChunkSize)...)
			} else {
				next = append(next, chunk)
			}
		}
		chunks = next
	}

	for _, chunk := range chunks {
		if len(chunk) > maxChunkSize {
			return nil, fmt.Errorf("cannot break text span of %d bytes under the %d byte limit", len(chunk), maxChunkSize)
		}
	}

	return chunks, nil
}

// splitAtDelim greedily breaks text at delim into chunks of at most
// maxChunkSize bytes. Best-effort: a span with no delimiter under the
// limit produces an oversized chunk for the caller to re-split.
func splitAtDelim(text string, delim byte, maxChunkSize int) []string {
	var chunks []string

	for len(text) > 0 {
		b := nextBreak(text, delim, maxChunkSize)
		chunk, rest := text[:b], text[b:]

		// The delimiter itself is dropped, not carried into the next
		// chunk.
		if len(rest) > 0 && rest[0] == delim {
			rest = rest[1:]
		}

		chunks = append(chunks, chunk)
		text = rest
	}

	return chunks
}

// nextBreak finds the largest index i of delim in text such that text[:i]
// fits under maxChunkSize. If no delimiter fits, the first occurrence is
// returned (and the resulting chunk is too big). If text has no delimiter
// at all, len(text) is returned.
func nextBreak(text string, delim byte, maxChunkSize int) int {
	lastCandidate := -1

	from := 0
	for {
		i := strings.IndexByte(text[from:], delim)
		if i < 0 {
			break
		}
		cur := from + i
		if cur <= maxChunkSize {
			lastCandidate = cur
		} else {
			if lastCandidate >= 0 {
				return lastCandidate
			}
			return cur
		}
		from = cur + 1
	}

	// The remaining text itself is the final breakpoint.
	if len(text) <= maxChunkSize {
		return len(text)
	}
	if lastCandidate >= 0 {
		return lastCandidate
	}
	return len(text)
}
