package chunker

import (
	"fmt"
	"strings"
)

// sentenceScan is how far back from a window's right edge the cutter looks
// for a sentence terminator.
const sentenceScan = 100

// WindowChunker splits text into overlapping character windows, cutting
// after the nearest '.', '!' or '?' when one is close to the window edge.
// Sizes are counted in runes so multi-byte text is never split mid-character.
type WindowChunker struct {
	chunkSize int
	overlap   int
}

func NewWindowChunker(chunkSize, overlap int) (*WindowChunker, error) {
	if chunkSize <= 0 {
		return nil, fmt.Errorf("chunk size must be positive, got %d", chunkSize)
	}
	if overlap < 0 || overlap >= chunkSize {
		return nil, fmt.Errorf("overlap must be in [0, %d), got %d", chunkSize, overlap)
	}
	return &WindowChunker{chunkSize: chunkSize, overlap: overlap}, nil
}

func (c *WindowChunker) ChunkSize() int { return c.chunkSize }
func (c *WindowChunker) Overlap() int   { return c.overlap }

// Split returns the ordered, whitespace-trimmed, non-empty chunks of content.
// Empty or whitespace-only content yields no chunks.
func (c *WindowChunker) Split(content string) []string {
	text := []rune(content)
	if len(text) <= c.chunkSize {
		if chunk := strings.TrimSpace(content); chunk != "" {
			return []string{chunk}
		}
		return nil
	}

	var chunks []string
	start := 0
	for start < len(text) {
		end := start + c.chunkSize
		if end < len(text) {
			end = c.cutAtSentence(text, start, end)
		} else {
			end = len(text)
		}

		if chunk := strings.TrimSpace(string(text[start:end])); chunk != "" {
			chunks = append(chunks, chunk)
		}

		if end >= len(text) {
			break
		}

		next := end - c.overlap
		if next <= start {
			// A short sentence cut would stall the window; continue without overlap.
			next = end
		}
		start = next
	}

	return chunks
}

// cutAtSentence returns the position just after the last terminator in
// text[max(start, end-sentenceScan)+1 : end], or end if there is none.
func (c *WindowChunker) cutAtSentence(text []rune, start, end int) int {
	lower := max(start, end-sentenceScan)
	for i := end - 1; i > lower; i-- {
		switch text[i] {
		case '.', '!', '?':
			return i + 1
		}
	}
	return end
}
