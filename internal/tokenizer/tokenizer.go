package tokenizer

import (
	"strings"
	"unicode/utf8"

	"github.com/mluukkai/gptwrapper/internal/models"
)

// Encoding turns text into a sequence of token ids. Implementations are
// injected per model; this package never picks one itself.
type Encoding func(text string) []int

// Count sums the encoded token counts over all messages in the request.
// Missing content counts as the empty string.
func Count(opts models.StreamingOptions, encode Encoding) int {
	tokenCount := 0
	for _, message := range opts.Messages {
		tokenCount += len(encode(message.Content))
	}
	return tokenCount
}

// Heuristic returns a cheap estimator encoding for deployments without an
// exact tokenizer: one token per whitespace-separated word, plus one per
// started 4-rune chunk beyond the first for long words. Token ids are
// positional and carry no meaning.
func Heuristic() Encoding {
	return func(text string) []int {
		if text == "" {
			return nil
		}

		count := 0
		for _, word := range strings.Fields(text) {
			runes := utf8.RuneCountInString(word)
			count++
			if runes > 4 {
				count += (runes - 1) / 4
			}
		}

		tokens := make([]int, count)
		for i := range tokens {
			tokens[i] = i
		}
		return tokens
	}
}
