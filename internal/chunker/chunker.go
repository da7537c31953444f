// Package chunker cuts cleaned text into overlapping word windows.
package chunker

import (
	"errors"
	"fmt"
	"iter"
	"regexp"
	"slices"
	"strings"

	"course-rag/internal/models"
)

var ErrInvalidWindow = errors.New("chunk size must be positive and larger than overlap")

var (
	disallowedRe = regexp.MustCompile(`[^\p{L}\p{N}_\s.,!?;:()\-]`)
	spaceRe      = regexp.MustCompile(`\s+`)
)

// Chunker splits text into windows of size words, each window starting
// size-overlap words after the previous one.
type Chunker struct {
	size    int
	overlap int
}

// New validates the window. An overlap equal to or larger than the size would
// never advance.
func New(size, overlap int) (*Chunker, error) {
	if size <= 0 || overlap < 0 || size <= overlap {
		return nil, fmt.Errorf("%w: size=%d overlap=%d", ErrInvalidWindow, size, overlap)
	}
	return &Chunker{size: size, overlap: overlap}, nil
}

// Default returns the 500/100 word chunker.
func Default() *Chunker {
	return &Chunker{size: models.DefaultChunkSize, overlap: models.DefaultChunkOverlap}
}

func (c *Chunker) Size() int    { return c.size }
func (c *Chunker) Overlap() int { return c.overlap }

// Clean drops characters outside word characters and basic punctuation,
// collapses whitespace runs and trims.
func Clean(text string) string {
	if text == "" {
		return ""
	}
	text = disallowedRe.ReplaceAllString(text, "")
	text = spaceRe.ReplaceAllString(text, " ")
	return strings.TrimSpace(text)
}

// Chunk yields the windows of the cleaned text in order.
//
// Text of at most size words comes back as a single chunk equal to the
// cleaned text. Otherwise windows are emitted until the words left after the
// current window are fewer than overlap; those leftover words are folded
// into that final window instead of forming a tiny near-duplicate chunk.
func (c *Chunker) Chunk(text string) iter.Seq[string] {
	cleaned := Clean(text)
	return func(yield func(string) bool) {
		if cleaned == "" {
			return
		}
		words := strings.Fields(cleaned)
		if len(words) <= c.size {
			yield(cleaned)
			return
		}
		step := c.size - c.overlap
		for start := 0; start < len(words); start += step {
			end := min(start+c.size, len(words))
			last := len(words)-end < c.overlap
			if last {
				end = len(words)
			}
			if !yield(strings.Join(words[start:end], " ")) || last {
				return
			}
		}
	}
}

// Split collects Chunk into a slice.
func (c *Chunker) Split(text string) []string {
	return slices.Collect(c.Chunk(text))
}
