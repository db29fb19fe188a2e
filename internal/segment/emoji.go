package segment

import (
	"regexp"
	"strconv"
	"strings"

	"github.com/rivo/uniseg"
)

// markerPairs are the placeholder delimiters, in order of preference. The
// first pair whose runes do not occur in the input is used, so a placeholder
// can never be confused with text the user wrote.
var markerPairs = [][2]string{
	{"⟦", "⟧"},
	{"⟪", "⟫"},
	{"\uE000", "\uE001"},
}

// EmojiTable maps placeholder indexes to the original emoji grapheme clusters.
// It belongs to a single segmentation call.
type EmojiTable struct {
	open    string
	close   string
	entries []string
	pattern *regexp.Regexp
}

// newEmojiTable picks a marker pair that does not occur in text. If every
// pair occurs, extraction is disabled and emoji stay inline.
func newEmojiTable(text string) *EmojiTable {
	for _, pair := range markerPairs {
		if !strings.Contains(text, pair[0]) && !strings.Contains(text, pair[1]) {
			return &EmojiTable{
				open:    pair[0],
				close:   pair[1],
				pattern: regexp.MustCompile(regexp.QuoteMeta(pair[0]) + `\s*(\d+)\s*` + regexp.QuoteMeta(pair[1])),
			}
		}
	}
	return &EmojiTable{}
}

// Enabled reports whether emoji are being replaced by placeholders.
func (t *EmojiTable) Enabled() bool {
	return t != nil && t.pattern != nil
}

// Len returns the number of recorded emoji.
func (t *EmojiTable) Len() int {
	if t == nil {
		return 0
	}
	return len(t.entries)
}

// Get returns the emoji recorded at index i.
func (t *EmojiTable) Get(i int) (string, bool) {
	if t == nil || i < 0 || i >= len(t.entries) {
		return "", false
	}
	return t.entries[i], true
}

// Placeholder returns the placeholder token for index i.
func (t *EmojiTable) Placeholder(i int) string {
	return t.open + strconv.Itoa(i) + t.close
}

// Extract replaces every emoji grapheme cluster in s with a placeholder and
// records it.
func (t *EmojiTable) Extract(s string) string {
	if !t.Enabled() || !hasEmojiCandidate(s) {
		return s
	}
	var b strings.Builder
	b.Grow(len(s))
	gr := uniseg.NewGraphemes(s)
	for gr.Next() {
		if IsEmoji(gr.Runes()) {
			b.WriteString(t.Placeholder(len(t.entries)))
			t.entries = append(t.entries, gr.Str())
			continue
		}
		b.WriteString(gr.Str())
	}
	return b.String()
}

// Restore substitutes placeholders in s with their original emoji. Spacing
// a backend inserted inside a placeholder ("⟦ 3 ⟧") is tolerated; unknown
// indexes are left untouched.
func (t *EmojiTable) Restore(s string) string {
	if !t.Enabled() || len(t.entries) == 0 {
		return s
	}
	return t.pattern.ReplaceAllStringFunc(s, func(m string) string {
		sub := t.pattern.FindStringSubmatch(m)
		i, err := strconv.Atoi(sub[1])
		if err != nil {
			return m
		}
		if e, ok := t.Get(i); ok {
			return e
		}
		return m
	})
}

// hasEmojiCandidate is a fast pre-check: pure ASCII text holds no emoji.
func hasEmojiCandidate(s string) bool {
	for i := 0; i < len(s); i++ {
		if s[i] >= 0x80 {
			return true
		}
	}
	return false
}

// IsEmoji reports whether a grapheme cluster is an emoji: emoticons,
// pictographs, transport symbols, regional-indicator flags, dingbats,
// keycap sequences, skin-tone modified and ZWJ-joined sequences.
func IsEmoji(cluster []rune) bool {
	if len(cluster) == 0 {
		return false
	}
	for _, r := range cluster {
		switch r {
		case 0x20E3: // combining enclosing keycap
			return true
		case 0xFE0F: // emoji presentation selector
			return true
		}
	}
	return isPictographic(cluster[0])
}

func isPictographic(r rune) bool {
	switch {
	case r >= 0x1F000 && r <= 0x1FAFF: // pictographs, emoticons, transport, flags, supplemental
		return true
	case r >= 0x2600 && r <= 0x27BF: // misc symbols, dingbats
		return true
	case r == 0x231A, r == 0x231B, r == 0x2328, r == 0x23CF:
		return true
	case r >= 0x23E9 && r <= 0x23F3, r >= 0x23F8 && r <= 0x23FA:
		return true
	case r >= 0x2B05 && r <= 0x2B07, r == 0x2B1B, r == 0x2B1C, r == 0x2B50, r == 0x2B55:
		return true
	}
	return false
}

// CountEmoji returns the number of emoji grapheme clusters in s.
func CountEmoji(s string) int {
	n := 0
	gr := uniseg.NewGraphemes(s)
	for gr.Next() {
		if IsEmoji(gr.Runes()) {
			n++
		}
	}
	return n
}
