package chunker

import (
	"errors"
	"fmt"
	"strings"
	"unicode/utf8"
)

const (
	DefaultSize    = 500
	DefaultOverlap = 100
)

// DefaultSeparators lists split points from largest to smallest structure.
// The empty separator splits between runes and always succeeds.
var DefaultSeparators = []string{
	"\n\n",       // paragraphs
	"\nZone ",    // zone headings
	"\nSeason: ", // season blocks
	"\nLimits: ", // limit blocks
	"\n",
	". ",
	" ",
	"",
}

// ErrEmptyDocument is returned when a document yields no passages.
var ErrEmptyDocument = errors.New("document produced no passages")

// Passage is a contiguous span of the chunked text.
type Passage struct {
	Text     string `json:"text"`
	Position int    `json:"position"` // index in the split sequence
	Start    int    `json:"start"`    // byte offset, inclusive
	End      int    `json:"end"`      // byte offset, exclusive
}

// Options configures a Splitter. Size and Overlap are measured in runes.
type Options struct {
	Size       int
	Overlap    int
	Separators []string
}

// Splitter cuts text into overlapping passages.
type Splitter struct {
	size       int
	overlap    int
	separators []string
}

// New validates opts and returns a Splitter. A zero Size selects
// DefaultSize; nil Separators select DefaultSeparators.
func New(opts Options) (*Splitter, error) {
	size := opts.Size
	if size == 0 {
		size = DefaultSize
	}
	if size < 0 {
		return nil, fmt.Errorf("chunk size must be positive, got %d", size)
	}
	if opts.Overlap < 0 || opts.Overlap >= size {
		return nil, fmt.Errorf("chunk overlap must be in [0, %d), got %d", size, opts.Overlap)
	}
	seps := opts.Separators
	if len(seps) == 0 {
		seps = DefaultSeparators
	}
	seps = append([]string(nil), seps...)
	if seps[len(seps)-1] != "" {
		seps = append(seps, "")
	}
	return &Splitter{size: size, overlap: opts.Overlap, separators: seps}, nil
}

// span is a byte range of the source text and its length in runes.
type span struct {
	start, end int
	runes      int
}

// Split returns the passages of text in document order. Text that is empty
// or only whitespace yields nil.
func (s *Splitter) Split(text string) []Passage {
	if strings.TrimSpace(text) == "" {
		return nil
	}
	pieces := s.pieces(text, 0, len(text), s.separators, nil)
	return s.merge(text, pieces)
}

// pieces splits text[start:end] into contiguous spans no longer than the
// target size, trying separators in order.
func (s *Splitter) pieces(text string, start, end int, seps []string, out []span) []span {
	n := utf8.RuneCountInString(text[start:end])
	if n <= s.size {
		return append(out, span{start: start, end: end, runes: n})
	}

	sep, rest := "", seps
	for i, c := range seps {
		if c == "" || strings.Contains(text[start:end], c) {
			sep, rest = c, seps[i+1:]
			break
		}
	}
	if sep == "" {
		for i := start; i < end; {
			_, w := utf8.DecodeRuneInString(text[i:end])
			out = append(out, span{start: i, end: i + w, runes: 1})
			i += w
		}
		return out
	}

	// The separator stays at the head of the piece that follows it.
	cur := start
	from := start
	for {
		i := strings.Index(text[from:end], sep)
		if i < 0 {
			break
		}
		at := from + i
		if at > cur {
			out = s.piece(text, cur, at, rest, out)
			cur = at
		}
		from = at + len(sep)
	}
	return s.piece(text, cur, end, rest, out)
}

func (s *Splitter) piece(text string, start, end int, seps []string, out []span) []span {
	n := utf8.RuneCountInString(text[start:end])
	if n <= s.size {
		return append(out, span{start: start, end: end, runes: n})
	}
	return s.pieces(text, start, end, seps, out)
}

// merge packs consecutive pieces into passages of at most size runes. Each
// new passage begins with the trailing pieces of the previous one, up to
// overlap runes.
func (s *Splitter) merge(text string, pieces []span) []Passage {
	var out []Passage
	pending := -1

	emit := func(start, end int) {
		if strings.TrimSpace(text[start:end]) == "" {
			if len(out) > 0 {
				last := &out[len(out)-1]
				if end > last.End {
					last.End = end
					last.Text = text[last.Start:last.End]
				}
			} else if pending < 0 {
				pending = start
			}
			return
		}
		if pending >= 0 && pending < start {
			start = pending
		}
		pending = -1
		out = append(out, Passage{Text: text[start:end], Start: start, End: end})
	}

	head, total := 0, 0
	for i, p := range pieces {
		if i > head && total+p.runes > s.size {
			emit(pieces[head].start, pieces[i-1].end)
			for total > s.overlap || (total > 0 && total+p.runes > s.size) {
				total -= pieces[head].runes
				head++
			}
		}
		total += p.runes
	}
	if head < len(pieces) {
		emit(pieces[head].start, pieces[len(pieces)-1].end)
	}

	for i := range out {
		out[i].Position = i
	}
	return out
}
