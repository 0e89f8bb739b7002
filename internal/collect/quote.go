// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package collect

import (
	"strings"
	"unicode"
)

// maxQuoteLen bounds quotes taken from abstracts without sentence breaks.
const maxQuoteLen = 400

// FirstSentence returns the first sentence of text, verbatim apart from
// surrounding whitespace. A sentence ends at '.', '!' or '?' followed by
// whitespace and an upper-case letter or digit, or at the end of text.
// Abbreviations such as "e.g. the" do not end a sentence.
func FirstSentence(text string) string {
	text = strings.TrimSpace(text)
	runes := []rune(text)
	for i, r := range runes {
		if r != '.' && r != '!' && r != '?' {
			continue
		}
		if i+1 == len(runes) {
			break
		}
		if !unicode.IsSpace(runes[i+1]) {
			continue
		}
		j := i + 1
		for j < len(runes) && unicode.IsSpace(runes[j]) {
			j++
		}
		if j < len(runes) && (unicode.IsUpper(runes[j]) || unicode.IsDigit(runes[j])) {
			return truncateRunes(string(runes[:i+1]))
		}
	}
	return truncateRunes(text)
}

func truncateRunes(s string) string {
	r := []rune(s)
	if len(r) <= maxQuoteLen {
		return s
	}
	return string(r[:maxQuoteLen])
}
