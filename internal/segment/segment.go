// Package segment splits chat text into typed segments that can be translated
// independently and reassembled without losing structure.
package segment

import (
	"regexp"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/pricofy/translation-router/internal/chunker"
	terrors "github.com/pricofy/translation-router/internal/errors"
)

// Kind classifies a segment.
type Kind string

const (
	KindLine           Kind = "line"
	KindEmptyLine      Kind = "emptyLine"
	KindParagraphBreak Kind = "paragraphBreak"
	KindSentence       Kind = "sentence"
	KindListItem       Kind = "listItem"
	KindCode           Kind = "code"
)

const fence = "```"

// listMarker matches bullets (- * + • ◦ ▪ ‣) and numbered markers (1. 2) ...).
var listMarker = regexp.MustCompile(`^[ \t]*(?:[-*+•◦▪‣]|\d{1,3}[.)])[ \t]+`)

// Segment is one typed piece of a document. Segments are joined with "\n"
// on reassembly, except Attached ones which continue the previous segment
// directly (pieces of a segment that was too long to translate in one call).
type Segment struct {
	Index    int
	Kind     Kind
	Text     string
	Attached bool
}

// Parts splits the segment text into the leading whitespace (plus list marker),
// the body handed to the backend, and the trailing whitespace.
func (s Segment) Parts() (lead, body, trail string) {
	t := s.Text
	i := len(t) - len(strings.TrimLeft(t, " \t"))
	if s.Kind == KindListItem && !s.Attached {
		if m := listMarker.FindString(t); m != "" {
			i = len(m)
		}
	}
	rest := t[i:]
	body = strings.TrimRight(rest, " \t\r\n")
	return t[:i], body, rest[len(body):]
}

// Body returns the text to translate. Soft line wraps inside a sentence are
// flattened to single spaces so the backend sees one sentence.
func (s Segment) Body() string {
	_, body, _ := s.Parts()
	if !strings.Contains(body, "\n") {
		return body
	}
	lines := strings.Split(body, "\n")
	for i := range lines {
		lines[i] = strings.TrimSpace(lines[i])
	}
	return strings.Join(lines, " ")
}

// WithBody returns a copy of s whose body is replaced, keeping the original
// indentation, list marker and trailing whitespace.
func (s Segment) WithBody(body string) Segment {
	lead, _, trail := s.Parts()
	s.Text = lead + body + trail
	return s
}

// Translatable reports whether the segment should be sent to the backend.
// Structural segments, code, and bodies without any letter are passed through.
func (s Segment) Translatable() bool {
	switch s.Kind {
	case KindLine, KindSentence, KindListItem:
	default:
		return false
	}
	_, body, _ := s.Parts()
	return strings.IndexFunc(body, unicode.IsLetter) >= 0
}

// Document is the result of one segmentation call.
type Document struct {
	Segments []Segment
	Emoji    *EmojiTable
}

// Reassemble joins segs (normally the document's segments, possibly with
// translated text) and restores emoji placeholders.
func (d *Document) Reassemble(segs []Segment) string {
	return Reassemble(segs, d.Emoji)
}

// Reassemble joins segments in order and substitutes emoji placeholders as
// the final pass.
func Reassemble(segs []Segment, table *EmojiTable) string {
	var b strings.Builder
	for i, s := range segs {
		if i > 0 && !s.Attached {
			b.WriteByte('\n')
		}
		b.WriteString(s.Text)
	}
	return table.Restore(b.String())
}

// Options tunes segmentation.
type Options struct {
	// MaxChunkRunes bounds the length of a translatable segment.
	MaxChunkRunes int
}

// Segmenter is stateless and safe for concurrent use.
type Segmenter struct {
	maxRunes int
}

// New creates a Segmenter.
func New(opts Options) *Segmenter {
	if opts.MaxChunkRunes <= 0 {
		opts.MaxChunkRunes = chunker.DefaultMaxRunes
	}
	return &Segmenter{maxRunes: opts.MaxChunkRunes}
}

// Segment splits text into an ordered segment sequence. Reassembling the
// returned segments unchanged reproduces text byte for byte.
func (sg *Segmenter) Segment(text string) (*Document, error) {
	if !utf8.ValidString(text) {
		return nil, terrors.NewSegmentation("text is not valid UTF-8")
	}

	table := newEmojiTable(text)
	lines := strings.Split(text, "\n")
	var segs []Segment

	for i := 0; i < len(lines); {
		line := lines[i]

		if isFence(line) {
			if end := closingFence(lines, i+1); end >= 0 {
				segs = append(segs, Segment{Kind: KindCode, Text: strings.Join(lines[i:end+1], "\n")})
				i = end + 1
				continue
			}
		}

		if isBlank(line) {
			j := i
			for j < len(lines) && isBlank(lines[j]) {
				j++
			}
			if j-i >= 2 {
				segs = append(segs, Segment{Kind: KindParagraphBreak, Text: strings.Join(lines[i:j], "\n")})
			} else {
				segs = append(segs, Segment{Kind: KindEmptyLine, Text: line})
			}
			i = j
			continue
		}

		if listMarker.MatchString(line) {
			segs = append(segs, sg.split(Segment{Kind: KindListItem, Text: table.Extract(line)})...)
			i++
			continue
		}

		// Plain line: merge soft-wrapped continuation lines into one sentence.
		group := []string{table.Extract(line)}
		i++
		for i < len(lines) && !endsSentence(group[len(group)-1]) && isPlain(lines[i]) {
			group = append(group, table.Extract(lines[i]))
			i++
		}
		kind := KindLine
		if len(group) > 1 {
			kind = KindSentence
		}
		segs = append(segs, sg.split(Segment{Kind: kind, Text: strings.Join(group, "\n")})...)
	}

	for i := range segs {
		segs[i].Index = i
	}
	return &Document{Segments: segs, Emoji: table}, nil
}

// split breaks a segment longer than the configured maximum into attached pieces.
func (sg *Segmenter) split(s Segment) []Segment {
	if utf8.RuneCountInString(s.Text) <= sg.maxRunes {
		return []Segment{s}
	}
	pieces := chunker.Split(s.Text, sg.maxRunes)
	out := make([]Segment, len(pieces))
	for i, p := range pieces {
		out[i] = Segment{Kind: s.Kind, Text: p, Attached: i > 0}
	}
	return out
}

func isFence(line string) bool {
	return strings.HasPrefix(strings.TrimLeft(line, " \t"), fence)
}

func closingFence(lines []string, from int) int {
	for j := from; j < len(lines); j++ {
		if isFence(lines[j]) {
			return j
		}
	}
	return -1
}

func isBlank(line string) bool {
	return strings.TrimSpace(line) == ""
}

// isPlain reports whether line can continue a soft-wrapped sentence.
func isPlain(line string) bool {
	return !isBlank(line) && !isFence(line) && !listMarker.MatchString(line)
}

// endsSentence reports whether line ends with sentence punctuation, ignoring
// trailing whitespace and closing quotes or brackets. An emoji placeholder is
// not punctuation, so "Hello 👋" still wraps onto the next line.
func endsSentence(line string) bool {
	line = strings.TrimRightFunc(line, unicode.IsSpace)
	line = strings.TrimRightFunc(line, chunker.IsCloser)
	r, _ := utf8.DecodeLastRuneInString(line)
	return r != utf8.RuneError && chunker.IsSentenceEnd(r)
}
