// Package chunk splits source text into overlapping segments sized for
// embedding.
//
// Splitting is deterministic: the same input always yields the same segments
// in the same order, which keeps vector IDs stable across re-ingestion.
package chunk

import (
	"errors"
	"fmt"
)

// Default splitting parameters, tuned for embedding models with a ~2048
// token input limit.
const (
	DefaultSize    = 500
	DefaultOverlap = 50
)

// ErrOverlapTooLarge indicates the configured overlap is not smaller than the
// chunk size. Such a splitter would never advance through the text.
var ErrOverlapTooLarge = errors.New("chunk overlap must be smaller than chunk size")

// Piece is one contiguous segment of a source text.
// Start is the byte offset of Text within the original input.
type Piece struct {
	Index int
	Start int
	Text  string
}

// Splitter splits text into fixed-size segments with overlap between
// consecutive segments. The zero value is not usable; use NewSplitter.
type Splitter struct {
	size          int
	overlap       int
	sentenceAware bool
}

// Option configures a Splitter.
type Option func(*Splitter)

// WithSentenceAware makes the splitter prefer cutting just after a sentence
// terminator (".", "?", "!") found within the overlap window, instead of a
// hard cut mid-sentence.
func WithSentenceAware() Option {
	return func(s *Splitter) {
		s.sentenceAware = true
	}
}

// NewSplitter creates a Splitter. size must be positive and overlap must be
// non-negative and strictly smaller than size; otherwise NewSplitter returns
// ErrOverlapTooLarge (overlap >= size) or a plain validation error.
func NewSplitter(size, overlap int, opts ...Option) (*Splitter, error) {
	if size <= 0 {
		return nil, fmt.Errorf("chunk size must be positive, got %d", size)
	}
	if overlap < 0 {
		return nil, fmt.Errorf("chunk overlap must be non-negative, got %d", overlap)
	}
	if overlap >= size {
		return nil, fmt.Errorf("%w: size=%d overlap=%d", ErrOverlapTooLarge, size, overlap)
	}

	s := &Splitter{size: size, overlap: overlap}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Size returns the configured chunk size.
func (s *Splitter) Size() int { return s.size }

// Overlap returns the configured overlap.
func (s *Splitter) Overlap() int { return s.overlap }

// Split cuts text into pieces. Empty text yields no pieces; text shorter than
// the chunk size yields exactly one piece containing the whole text.
//
// Consecutive pieces share overlap bytes: the last overlap bytes of piece n
// are the first overlap bytes of piece n+1. With the sentence-aware option a
// piece may end early at a sentence boundary inside the overlap window; the
// advance step is unchanged, so coverage of the full text is preserved.
func (s *Splitter) Split(text string) []Piece {
	if len(text) == 0 {
		return nil
	}

	var pieces []Piece
	step := s.size - s.overlap

	for start, index := 0, 0; start < len(text); start, index = start+step, index+1 {
		end := min(start+s.size, len(text))

		cut := end
		if s.sentenceAware && end < len(text) {
			if b := lastSentenceEnd(text, end, s.overlap); b > start {
				cut = b
			}
		}

		pieces = append(pieces, Piece{
			Index: index,
			Start: start,
			Text:  text[start:cut],
		})

		if end == len(text) {
			break
		}
	}

	return pieces
}

// lastSentenceEnd scans the window of `overlap` bytes ending at `end` for the
// last sentence terminator and returns the position just after it, or -1 if
// the window holds none.
func lastSentenceEnd(text string, end, overlap int) int {
	low := max(end-overlap, 0)
	for i := end - 1; i >= low; i-- {
		switch text[i] {
		case '.', '?', '!':
			return i + 1
		}
	}
	return -1
}
