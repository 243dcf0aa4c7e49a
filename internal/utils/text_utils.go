package utils

import (
	"strings"
	"unicode"
	"unicode/utf8"

	"golang.org/x/text/unicode/norm"
)

// Tokenizer prepares message text for feature extraction. Normalization and
// truncation are deterministic so the same input always yields the same
// tokens regardless of when or where extraction runs.
type Tokenizer struct {
	tokenBudget int
}

// NewTokenizer creates a tokenizer that keeps at most tokenBudget tokens.
// A budget <= 0 means no truncation.
func NewTokenizer(tokenBudget int) *Tokenizer {
	return &Tokenizer{tokenBudget: tokenBudget}
}

// Tokenize lowercases, NFKC-normalizes, splits on non-letter/digit runes,
// and truncates to the token budget.
func (t *Tokenizer) Tokenize(text string) []string {
	text = norm.NFKC.String(SanitizeUTF8(text))
	text = strings.ToLower(text)

	tokens := strings.FieldsFunc(text, func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
	if t.tokenBudget > 0 && len(tokens) > t.tokenBudget {
		tokens = tokens[:t.tokenBudget]
	}
	return tokens
}

// TruncatedText returns the normalized text covered by the token budget,
// rejoined with single spaces. Phrase matching runs against this form so
// multi-word phrases survive tokenization.
func (t *Tokenizer) TruncatedText(text string) string {
	return strings.Join(t.Tokenize(text), " ")
}

// SanitizeUTF8 drops invalid UTF-8 sequences so normalization never sees
// garbage bytes.
func SanitizeUTF8(text string) string {
	if utf8.ValidString(text) {
		return text
	}
	result := make([]rune, 0, len(text))
	for i, r := range text {
		if r == utf8.RuneError {
			_, size := utf8.DecodeRuneInString(text[i:])
			if size == 1 {
				continue
			}
		}
		result = append(result, r)
	}
	return string(result)
}
