package trocr

import (
	"context"
	"errors"
	"image"
	"image/color"
	"math"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/anime-shed/text-extractor-go/internal/backend"
	"github.com/anime-shed/text-extractor-go/internal/normalizer"
)

// Test vocabulary: 0 start, 1 end, 2 "A", 3 "B".
const (
	tokStart int64 = 0
	tokEnd   int64 = 1
	tokA     int64 = 2
	tokB     int64 = 3
)

// tableStepper returns fixed next-token probabilities keyed by the
// generated prefix (start token excluded).
type tableStepper struct {
	table    map[string][]float64
	fallback []float64
	calls    int
}

func prefixKey(seq []int64) string {
	var sb strings.Builder
	for _, t := range seq[1:] {
		sb.WriteString(map[int64]string{tokA: "A", tokB: "B", tokEnd: "$", tokStart: "^"}[t])
	}
	return sb.String()
}

func (s *tableStepper) Step(_ context.Context, seqs [][]int64) ([][]float32, error) {
	s.calls++
	rows := make([][]float32, len(seqs))
	for i, seq := range seqs {
		probs, ok := s.table[prefixKey(seq)]
		if !ok {
			probs = s.fallback
		}
		row := make([]float32, len(probs))
		for j, p := range probs {
			row[j] = float32(math.Log(p))
		}
		rows[i] = row
	}
	return rows, nil
}

func greedyTrap() *tableStepper {
	return &tableStepper{
		table: map[string][]float64{
			"":  {0, 0, 0.6, 0.4},
			"A": {0, 0.5, 0.25, 0.25},
			"B": {0, 0.9, 0.05, 0.05},
		},
		fallback: []float64{0, 1, 0, 0},
	}
}

func searchConfig(beams, maxLen int) SearchConfig {
	return SearchConfig{NumBeams: beams, MaxLength: maxLen, LengthPenalty: 1, StartToken: tokStart, EOSToken: tokEnd}
}

func TestBeamSearch_BeatsGreedy(t *testing.T) {
	greedy, err := BeamSearch(context.Background(), greedyTrap(), searchConfig(1, 16))
	require.NoError(t, err)
	assert.Equal(t, []int64{tokStart, tokA, tokEnd}, greedy)

	beam, err := BeamSearch(context.Background(), greedyTrap(), searchConfig(2, 16))
	require.NoError(t, err)
	assert.Equal(t, []int64{tokStart, tokB, tokEnd}, beam)
}

func TestBeamSearch_RespectsMaxLength(t *testing.T) {
	never := &tableStepper{fallback: []float64{0, 0, 0.7, 0.3}}
	ids, err := BeamSearch(context.Background(), never, searchConfig(4, 5))
	require.NoError(t, err)
	assert.Len(t, ids, 5)
	assert.Equal(t, []int64{tokStart, tokA, tokA, tokA, tokA}, ids)
}

func TestBeamSearch_StopsEarly(t *testing.T) {
	s := greedyTrap()
	_, err := BeamSearch(context.Background(), s, searchConfig(2, 64))
	require.NoError(t, err)
	assert.Equal(t, 2, s.calls)
}

func TestBeamSearch_StopsOnceBeamsFinish(t *testing.T) {
	// After two steps both beams have ended. The live "BB" would score
	// better per token if decoding continued, but the search stops here.
	s := &tableStepper{
		table: map[string][]float64{
			"":  {0, 0, 0.5, 0.5},
			"A": {0, 0.6, 0.4, 0},
			"B": {0, 0.55, 0, 0.45},
		},
		fallback: []float64{0, 1, 0, 0},
	}
	ids, err := BeamSearch(context.Background(), s, searchConfig(2, 16))
	require.NoError(t, err)
	assert.Equal(t, []int64{tokStart, tokA, tokEnd}, ids)
	assert.Equal(t, 2, s.calls)
}

func TestBeamSearch_Errors(t *testing.T) {
	_, err := BeamSearch(context.Background(), greedyTrap(), searchConfig(2, 1))
	assert.Error(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = BeamSearch(ctx, greedyTrap(), searchConfig(2, 16))
	assert.ErrorIs(t, err, context.Canceled)
}

func encodeBytes(s string) string {
	enc := byteEncoder()
	var sb strings.Builder
	for _, b := range []byte(s) {
		sb.WriteRune(enc[b])
	}
	return sb.String()
}

func TestTokenizer_DecodesDevanagari(t *testing.T) {
	word := encodeBytes("नमस्ते")
	split := len([]rune(word)) / 2
	vocab := map[string]int64{"<s>": 0, "<pad>": 1, "</s>": 2}
	vocab[string([]rune(word)[:split])] = 10
	vocab[string([]rune(word)[split:])] = 11
	vocab[encodeBytes(" दुनिया")] = 12
	tok := NewTokenizer(vocab)

	assert.Equal(t, "नमस्ते दुनिया", tok.Decode([]int64{2, 10, 11, 12, 2, 1, 1}))
	assert.Equal(t, "", tok.Decode([]int64{0, 2}))
	assert.Equal(t, 6, tok.Size())
}

func TestByteEncoder_IsBijective(t *testing.T) {
	seen := map[rune]bool{}
	for _, r := range byteEncoder() {
		assert.False(t, seen[r], "duplicate rune %q", r)
		seen[r] = true
	}
	assert.Len(t, seen, 256)
	assert.Equal(t, 'Ġ', byteEncoder()[' '])
}

func TestLoadTokenizer(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "vocab.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"<s>":0,"a":5}`), 0o600))

	tok, err := LoadTokenizer(path)
	require.NoError(t, err)
	assert.Equal(t, "a", tok.Decode([]int64{0, 5}))

	_, err = LoadTokenizer(filepath.Join(dir, "missing.json"))
	assert.Error(t, err)
}

func TestPixelValues(t *testing.T) {
	white := image.NewGray(image.Rect(0, 0, 50, 20))
	for i := range white.Pix {
		white.Pix[i] = 255
	}
	px := PixelValues(white)
	require.Len(t, px, 3*ImageSize*ImageSize)
	for _, v := range []float32{px[0], px[len(px)/2], px[len(px)-1]} {
		assert.InDelta(t, 1.0, v, 1e-6)
	}

	black := PixelValues(image.NewGray(image.Rect(0, 0, 10, 10)))
	assert.InDelta(t, -1.0, black[0], 1e-6)
}

type fakeModel struct {
	stepper   Stepper
	encodeErr error
	released  int
	closed    bool
}

type fakeDecoder struct {
	Stepper
	model *fakeModel
}

func (d fakeDecoder) Close() error {
	d.model.released++
	return nil
}

func (m *fakeModel) Encode(_ context.Context, pixels []float32) (Decoder, error) {
	if m.encodeErr != nil {
		return nil, m.encodeErr
	}
	if len(pixels) != 3*ImageSize*ImageSize {
		return nil, errors.New("bad pixel tensor")
	}
	return fakeDecoder{Stepper: m.stepper, model: m}, nil
}

func (m *fakeModel) Close() error {
	m.closed = true
	return nil
}

func testImage() *normalizer.CanonicalImage {
	img := image.NewRGBA(image.Rect(0, 0, 8, 8))
	img.Set(1, 1, color.RGBA{A: 255})
	return normalizer.NewCanonicalImage(img, "png")
}

func TestAdapter_Recognize(t *testing.T) {
	model := &fakeModel{stepper: greedyTrap()}
	tok := NewTokenizer(map[string]int64{"<s>": tokStart, "</s>": tokEnd, "क": tokA, "ख": tokB})
	a := New(Config{Model: model, Tokenizer: tok, NumBeams: 2, StartToken: tokStart, EOSToken: tokEnd, PadToken: 9})

	_, err := a.Recognize(context.Background(), testImage(), 64)
	assert.ErrorIs(t, err, backend.ErrNotPrepared)

	require.NoError(t, a.Prepare(context.Background()))
	res, err := a.Recognize(context.Background(), testImage(), 64)
	require.NoError(t, err)

	assert.True(t, res.Success)
	assert.Equal(t, "ख", res.Text)
	assert.Equal(t, placeholderConfidence, res.Confidence)
	assert.Equal(t, "cpu", res.Device)
	assert.Equal(t, 1, model.released)

	require.NoError(t, a.Close())
	assert.True(t, model.closed)
}

func TestAdapter_EncodeFailureIsFatal(t *testing.T) {
	model := &fakeModel{encodeErr: errors.New("session crashed")}
	a := New(Config{Model: model, Tokenizer: NewTokenizer(map[string]int64{"<s>": 0})})
	require.NoError(t, a.Prepare(context.Background()))

	res, err := a.Recognize(context.Background(), testImage(), 64)
	require.NoError(t, err)
	assert.False(t, res.Success)
	assert.Equal(t, backend.OutcomeFatal, res.Outcome)
	assert.Contains(t, res.Message, "session crashed")
}

func TestAdapter_PrepareWithoutVocabulary(t *testing.T) {
	a := New(Config{VocabPath: filepath.Join(t.TempDir(), "none.json")})
	assert.Error(t, a.Prepare(context.Background()))
	assert.False(t, a.Describe().Ready)
}
