// Package token splits text on tokenizer boundaries. It lazily loads the
// tiktoken cl100k_base encoding and falls back to whitespace tokens when the
// encoding cannot be initialised (for example offline, without a BPE cache).
package token

import (
	"strings"
	"sync"
	"unicode"
	"unicode/utf8"

	"github.com/pkoukk/tiktoken-go"
)

// EncodingName is the BPE encoding used for counting and breakpoints.
const EncodingName = "cl100k_base"

var (
	once     sync.Once
	encoding *tiktoken.Tiktoken
)

func loadEncoding() *tiktoken.Tiktoken {
	once.Do(func() {
		enc, err := tiktoken.GetEncoding(EncodingName)
		if err == nil {
			encoding = enc
		}
	})
	return encoding
}

// Tokenizer maps text to token boundaries.
type Tokenizer struct {
	enc *tiktoken.Tiktoken
}

// Default returns the cl100k_base tokenizer, or the whitespace fallback when
// the encoding is unavailable.
func Default() *Tokenizer {
	return &Tokenizer{enc: loadEncoding()}
}

// Whitespace returns a tokenizer that treats every whitespace-separated word
// as one token.
func Whitespace() *Tokenizer {
	return &Tokenizer{}
}

// Name reports which encoding backs t.
func (t *Tokenizer) Name() string {
	if t.enc == nil {
		return "whitespace"
	}
	return EncodingName
}

// Count returns the number of tokens in text.
func (t *Tokenizer) Count(text string) int {
	if text == "" {
		return 0
	}
	if t.enc == nil {
		return len(strings.Fields(text))
	}
	return len(t.enc.Encode(text, nil, nil))
}

// Boundaries returns byte offsets into text such that token i spans
// text[b[i]:b[i+1]]. The slice has Count(text)+1 entries and ends at
// len(text). Offsets are non-decreasing and never split a UTF-8 sequence.
func (t *Tokenizer) Boundaries(text string) []int {
	if text == "" {
		return []int{0}
	}
	if t.enc == nil {
		return wordBoundaries(text)
	}

	ids := t.enc.Encode(text, nil, nil)
	out := make([]int, 0, len(ids)+1)
	offset := 0
	for _, id := range ids {
		out = append(out, alignRune(text, offset))
		offset += len(t.enc.Decode([]int{id}))
	}
	out = append(out, len(text))
	return out
}

// Truncate keeps at most limit tokens of text.
func (t *Tokenizer) Truncate(text string, limit int) string {
	if limit <= 0 {
		return ""
	}
	bounds := t.Boundaries(text)
	if len(bounds)-1 <= limit {
		return text
	}
	return text[:bounds[limit]]
}

// wordBoundaries starts each token at a word; leading whitespace belongs to
// the first token and trailing whitespace to the last.
func wordBoundaries(text string) []int {
	if strings.TrimSpace(text) == "" {
		return []int{len(text)}
	}
	out := []int{0}
	inWord, seenWord := false, false
	for i, r := range text {
		space := unicode.IsSpace(r)
		if !space && !inWord {
			if seenWord {
				out = append(out, i)
			}
			seenWord = true
		}
		inWord = !space
	}
	return append(out, len(text))
}

func alignRune(text string, offset int) int {
	if offset >= len(text) {
		return len(text)
	}
	for offset < len(text) && !utf8.RuneStart(text[offset]) {
		offset++
	}
	return offset
}
