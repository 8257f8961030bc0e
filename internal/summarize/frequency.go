// Package summarize provides a deterministic extractive summarizer.
//
// It ranks sentences by normalized token frequency and keeps the best ones in
// their original order. The orchestrator uses it as the degraded substitute
// when the LLM summarization stage fails; it needs no provider and always
// succeeds.
package summarize

import (
	"math"
	"regexp"
	"sort"
	"strings"
)

// DefaultMaxSentences bounds a summary when the caller passes a non-positive
// limit.
const DefaultMaxSentences = 3

var (
	sentencePattern = regexp.MustCompile(`(?m)(?U)([^.!?]+[.!?])`)
	tokenPattern    = regexp.MustCompile(`\p{L}+(?:'\p{L}+)*`)
)

// Extractive ranks sentences by word frequency with stopwords filtered.
type Extractive struct {
	stopwords map[string]struct{}
}

// NewExtractive creates a frequency-based sentence ranker.
func NewExtractive() *Extractive {
	return &Extractive{stopwords: defaultStopwords()}
}

// Summarize returns up to maxSentences of text, chosen by token-frequency
// score and emitted in original order. Text without sentence terminators is
// returned trimmed as-is.
func (e *Extractive) Summarize(text string, maxSentences int) string {
	if maxSentences <= 0 {
		maxSentences = DefaultMaxSentences
	}

	sentences := sentencePattern.FindAllString(text, -1)
	if len(sentences) == 0 {
		return strings.TrimSpace(text)
	}

	freq := make(map[string]float64)
	for _, sent := range sentences {
		for _, tok := range e.tokens(sent) {
			if _, ok := e.stopwords[tok]; ok {
				continue
			}
			freq[tok]++
		}
	}

	maxFreq := 0.0
	for _, v := range freq {
		maxFreq = math.Max(maxFreq, v)
	}
	if maxFreq > 0 {
		for k, v := range freq {
			freq[k] = v / maxFreq
		}
	}

	type scored struct {
		idx   int
		score float64
	}
	scores := make([]scored, len(sentences))
	for i, sent := range sentences {
		toks := e.tokens(sent)
		total := 0.0
		for _, tok := range toks {
			total += freq[tok]
		}
		// Length normalization avoids favoring long sentences outright.
		if n := float64(len(toks)); n > 0 {
			total /= math.Sqrt(n)
		}
		scores[i] = scored{idx: i, score: total}
	}

	sort.SliceStable(scores, func(i, j int) bool { return scores[i].score > scores[j].score })
	if maxSentences > len(scores) {
		maxSentences = len(scores)
	}

	selected := make([]int, maxSentences)
	for i := range selected {
		selected[i] = scores[i].idx
	}
	sort.Ints(selected)

	parts := make([]string, 0, len(selected))
	for _, idx := range selected {
		parts = append(parts, strings.TrimSpace(sentences[idx]))
	}
	return strings.Join(parts, " ")
}

func (e *Extractive) tokens(text string) []string {
	return tokenPattern.FindAllString(strings.ToLower(text), -1)
}

func defaultStopwords() map[string]struct{} {
	words := []string{
		"a", "an", "the", "and", "or", "but", "if", "then", "else", "for",
		"to", "of", "in", "on", "at", "by", "with", "as", "is", "are",
		"was", "were", "be", "been", "being", "it", "this", "that",
		"these", "those", "from", "up", "down", "over", "under", "than",
		"so", "such", "into", "about", "between", "through", "during",
		"before", "after", "out", "off", "own", "same", "too", "very",
		"can", "will", "just", "now",
	}
	m := make(map[string]struct{}, len(words))
	for _, w := range words {
		m[w] = struct{}{}
	}
	return m
}
