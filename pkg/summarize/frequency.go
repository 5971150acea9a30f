package summarize

import (
	"math"
	"regexp"
	"sort"
	"strings"
)

var (
	sentencePattern = regexp.MustCompile(`[^.!?\n]+[.!?]?`)
	tokenPattern    = regexp.MustCompile(`\p{L}+(?:['’]\p{L}+)*|\p{N}+`)
)

// FrequencySummarizer picks the highest-scoring sentences by normalized word
// frequency, keeping them in document order.
type FrequencySummarizer struct {
	stopwords map[string]struct{}
}

// NewFrequencySummarizer creates an extractive summarizer.
func NewFrequencySummarizer() *FrequencySummarizer {
	return &FrequencySummarizer{stopwords: defaultStopwords()}
}

// Extract returns up to maxSentences sentences of text.
func (s *FrequencySummarizer) Extract(text string, maxSentences int) string {
	if maxSentences <= 0 {
		maxSentences = 3
	}

	var sentences []string
	for _, m := range sentencePattern.FindAllString(text, -1) {
		if m = strings.TrimSpace(m); m != "" {
			sentences = append(sentences, m)
		}
	}
	if len(sentences) <= maxSentences {
		return strings.Join(sentences, " ")
	}

	freq := map[string]float64{}
	for _, sent := range sentences {
		for _, tok := range s.tokens(sent) {
			if _, stop := s.stopwords[tok]; !stop {
				freq[tok]++
			}
		}
	}
	maxF := 0.0
	for _, v := range freq {
		maxF = math.Max(maxF, v)
	}
	if maxF > 0 {
		for k, v := range freq {
			freq[k] = v / maxF
		}
	}

	type scored struct {
		idx   int
		score float64
	}
	scores := make([]scored, len(sentences))
	for i, sent := range sentences {
		toks := s.tokens(sent)
		total := 0.0
		for _, tok := range toks {
			total += freq[tok]
		}
		// Length normalization keeps long sentences from always winning.
		if len(toks) > 0 {
			total /= math.Sqrt(float64(len(toks)))
		}
		scores[i] = scored{i, total}
	}
	sort.SliceStable(scores, func(i, j int) bool { return scores[i].score > scores[j].score })

	selected := make([]int, maxSentences)
	for i := range selected {
		selected[i] = scores[i].idx
	}
	sort.Ints(selected)

	out := make([]string, len(selected))
	for i, idx := range selected {
		out[i] = sentences[idx]
	}
	return strings.Join(out, " ")
}

func (s *FrequencySummarizer) tokens(text string) []string {
	return tokenPattern.FindAllString(strings.ToLower(text), -1)
}

func defaultStopwords() map[string]struct{} {
	words := []string{
		"a", "an", "the", "and", "or", "but", "if", "then", "else", "for", "to", "of", "in", "on", "at", "by",
		"with", "as", "is", "are", "was", "were", "be", "been", "being", "it", "this", "that", "these", "those",
		"from", "up", "down", "over", "under", "again", "further", "than", "so", "such", "into", "about",
		"between", "through", "during", "before", "after", "above", "below", "out", "off", "own", "same",
		"too", "very", "can", "will", "just", "should", "now", "he", "she", "they", "we", "i", "his", "her",
		"their", "our", "has", "had", "have", "not", "no",
	}
	m := make(map[string]struct{}, len(words))
	for _, w := range words {
		m[w] = struct{}{}
	}
	return m
}
