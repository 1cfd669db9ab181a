package trocr

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"unicode/utf8"
)

var specialTokens = map[string]bool{
	"<s>":    true,
	"</s>":   true,
	"<pad>":  true,
	"<unk>":  true,
	"<mask>": true,
}

// Tokenizer decodes byte-level BPE token ids back to text.
type Tokenizer struct {
	tokens  map[int64]string
	special map[int64]bool
	decoder map[rune]byte
}

// LoadTokenizer reads a vocab.json mapping token strings to ids.
func LoadTokenizer(path string) (*Tokenizer, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read vocabulary: %w", err)
	}
	var vocab map[string]int64
	if err := json.Unmarshal(data, &vocab); err != nil {
		return nil, fmt.Errorf("parse vocabulary %s: %w", path, err)
	}
	if len(vocab) == 0 {
		return nil, fmt.Errorf("vocabulary %s is empty", path)
	}
	return NewTokenizer(vocab), nil
}

func NewTokenizer(vocab map[string]int64) *Tokenizer {
	t := &Tokenizer{
		tokens:  make(map[int64]string, len(vocab)),
		special: make(map[int64]bool),
		decoder: make(map[rune]byte, 256),
	}
	for tok, id := range vocab {
		t.tokens[id] = tok
		if specialTokens[tok] {
			t.special[id] = true
		}
	}
	for b, r := range byteEncoder() {
		t.decoder[r] = byte(b)
	}
	return t
}

func (t *Tokenizer) Size() int { return len(t.tokens) }

// Decode skips special and unknown ids and maps the byte-level alphabet back
// to UTF-8.
func (t *Tokenizer) Decode(ids []int64) string {
	var sb strings.Builder
	for _, id := range ids {
		if t.special[id] {
			continue
		}
		if tok, ok := t.tokens[id]; ok {
			sb.WriteString(tok)
		}
	}

	joined := sb.String()
	buf := make([]byte, 0, len(joined))
	for _, r := range joined {
		if b, ok := t.decoder[r]; ok {
			buf = append(buf, b)
			continue
		}
		buf = utf8.AppendRune(buf, r)
	}
	return strings.TrimSpace(strings.ToValidUTF8(string(buf), "�"))
}

// byteEncoder is the GPT-2 table mapping every byte to a printable rune.
func byteEncoder() [256]rune {
	var table [256]rune
	var assigned [256]bool
	for _, rng := range [][2]int{{'!', '~'}, {0xA1, 0xAC}, {0xAE, 0xFF}} {
		for b := rng[0]; b <= rng[1]; b++ {
			table[b] = rune(b)
			assigned[b] = true
		}
	}
	n := 0
	for b := 0; b < 256; b++ {
		if !assigned[b] {
			table[b] = rune(256 + n)
			n++
		}
	}
	return table
}
