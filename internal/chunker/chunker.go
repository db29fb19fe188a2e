// Package chunker splits over-long text into pieces at sentence boundaries.
package chunker

import (
	"strings"
	"unicode"
	"unicode/utf8"
)

// DefaultMaxRunes is the default maximum length of one piece, in characters.
const DefaultMaxRunes = 400

// IsSentenceEnd reports whether r terminates a sentence.
func IsSentenceEnd(r rune) bool {
	switch r {
	case '.', '!', '?', ';', '…', '。', '！', '？', '；':
		return true
	}
	return false
}

// isCJKSentenceEnd reports whether r ends a sentence without needing trailing space.
func isCJKSentenceEnd(r rune) bool {
	switch r {
	case '。', '！', '？', '；':
		return true
	}
	return false
}

// IsCloser reports whether r may follow sentence punctuation inside the same sentence.
func IsCloser(r rune) bool {
	switch r {
	case '"', '\'', ')', ']', '}', '»', '”', '’', '」', '』':
		return true
	}
	return false
}

// Split splits text into pieces of at most maxRunes characters.
// Pieces break after sentence punctuation (the following whitespace stays
// with the earlier piece); a sentence that is still too long breaks between
// words. A single word longer than maxRunes is kept whole. Concatenating the
// pieces always reproduces text exactly.
func Split(text string, maxRunes int) []string {
	if text == "" {
		return nil
	}
	if maxRunes <= 0 {
		maxRunes = DefaultMaxRunes
	}
	if utf8.RuneCountInString(text) <= maxRunes {
		return []string{text}
	}

	var units []string
	for _, sentence := range Sentences(text) {
		if utf8.RuneCountInString(sentence) > maxRunes {
			units = append(units, pack(words(sentence), maxRunes)...)
			continue
		}
		units = append(units, sentence)
	}
	return pack(units, maxRunes)
}

// Sentences splits text after each sentence terminator and its trailing
// whitespace. Concatenating the result reproduces text.
func Sentences(text string) []string {
	var out []string
	start := 0
	i := 0
	for i < len(text) {
		r, size := utf8.DecodeRuneInString(text[i:])
		i += size
		if !IsSentenceEnd(r) {
			continue
		}
		// absorb repeated punctuation and closing quotes/brackets: "Really?!)"
		for i < len(text) {
			next, n := utf8.DecodeRuneInString(text[i:])
			if !IsSentenceEnd(next) && !IsCloser(next) {
				break
			}
			i += n
		}
		end := i
		for end < len(text) {
			next, n := utf8.DecodeRuneInString(text[end:])
			if !unicode.IsSpace(next) {
				break
			}
			end += n
		}
		if end == i && end < len(text) && !isCJKSentenceEnd(r) {
			// "3.14" or "e.g.x": no whitespace, not a boundary
			continue
		}
		out = append(out, text[start:end])
		start = end
		i = end
	}
	if start < len(text) {
		out = append(out, text[start:])
	}
	return out
}

// words splits text into word units, each carrying its trailing whitespace.
func words(text string) []string {
	var out []string
	start := 0
	inSpace := false
	for i, r := range text {
		space := unicode.IsSpace(r)
		if inSpace && !space {
			out = append(out, text[start:i])
			start = i
		}
		inSpace = space
	}
	if start < len(text) {
		out = append(out, text[start:])
	}
	return out
}

// pack greedily concatenates units into pieces that don't exceed maxRunes.
// An oversized unit gets its own piece.
func pack(units []string, maxRunes int) []string {
	var pieces []string
	var current strings.Builder
	currentRunes := 0

	flush := func() {
		if current.Len() > 0 {
			pieces = append(pieces, current.String())
			current.Reset()
			currentRunes = 0
		}
	}

	for _, unit := range units {
		n := utf8.RuneCountInString(unit)

		if n > maxRunes {
			flush()
			pieces = append(pieces, unit)
			continue
		}

		if currentRunes+n > maxRunes {
			flush()
		}

		current.WriteString(unit)
		currentRunes += n
	}

	flush()
	return pieces
}
