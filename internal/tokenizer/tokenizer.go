// Package tokenizer converts text into the token cost used for context window
// budgeting and session accounting.
//
// Counting is backed by the cl100k_base BPE codec from tiktoken-go/tokenizer,
// whose vocabulary is embedded in the binary, so no network access is needed.
// If the codec cannot be loaded the counter falls back to a rune/word
// heuristic. Both paths are deterministic, return zero for blank input and
// never decrease when text is appended, even in the middle of a word.
package tokenizer

import (
	"strings"

	"github.com/tiktoken-go/tokenizer"
)

const defaultEncoding = tokenizer.Cl100kBase

// pieceRunes bounds the length of the unit whose prefixes are encoded, so a
// long run without whitespace stays linear in its length.
const pieceRunes = 32

// Counter counts tokens. The zero value is not usable; call New.
type Counter struct {
	codec tokenizer.Codec
}

// New returns a Counter using the cl100k_base encoding.
func New() *Counter {
	codec, err := tokenizer.Get(defaultEncoding)
	if err != nil {
		return &Counter{}
	}
	return &Counter{codec: codec}
}

// Count returns the token cost of text.
//
// Text is split on whitespace and each word into pieces of at most pieceRunes
// runes. A piece costs the largest encoded length of any of its prefixes, so
// appending a rune can only keep or raise the total. BPE merges alone do not
// give that: "hel" may encode to more tokens than "hell".
func (c *Counter) Count(text string) int {
	if strings.TrimSpace(text) == "" {
		return 0
	}
	if c == nil || c.codec == nil {
		return Estimate(text)
	}
	total := 0
	for _, word := range strings.Fields(text) {
		runes := []rune(word)
		for start := 0; start < len(runes); start += pieceRunes {
			end := min(start+pieceRunes, len(runes))
			n, err := c.pieceCost(runes[start:end])
			if err != nil {
				return Estimate(text)
			}
			total += n
		}
	}
	return total
}

func (c *Counter) pieceCost(piece []rune) (int, error) {
	cost := 0
	for i := 1; i <= len(piece); i++ {
		ids, _, err := c.codec.Encode(string(piece[:i]))
		if err != nil {
			return 0, err
		}
		cost = max(cost, len(ids), 1)
	}
	return cost, nil
}

// Estimate returns a heuristic token estimate: max(runes/4, word count).
// Both terms only grow as text is appended.
func Estimate(text string) int {
	trimmed := strings.TrimSpace(text)
	if trimmed == "" {
		return 0
	}
	runes := len([]rune(trimmed))
	words := len(strings.Fields(trimmed))
	estimate := runes / 4
	if estimate < words {
		estimate = words
	}
	if estimate == 0 {
		estimate = 1
	}
	return estimate
}
