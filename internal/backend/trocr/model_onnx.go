//go:build cgo && onnx

package trocr

import (
	"context"
	"errors"
	"fmt"
	"os"

	ort "github.com/yalue/onnxruntime_go"
)

type onnxModel struct {
	encoder *ort.DynamicAdvancedSession
	decoder *ort.DynamicAdvancedSession
}

// OpenModel loads the encoder and decoder graphs into onnxruntime sessions.
func OpenModel(cfg Config) (Model, error) {
	for _, p := range []string{cfg.EncoderPath, cfg.DecoderPath} {
		if _, err := os.Stat(p); err != nil {
			return nil, fmt.Errorf("model file: %w", err)
		}
	}
	if cfg.LibraryPath != "" {
		ort.SetSharedLibraryPath(cfg.LibraryPath)
	}
	if !ort.IsInitialized() {
		if err := ort.InitializeEnvironment(); err != nil {
			return nil, fmt.Errorf("initialize onnxruntime: %w", err)
		}
	}

	enc, err := ort.NewDynamicAdvancedSession(cfg.EncoderPath,
		[]string{"pixel_values"}, []string{"last_hidden_state"}, nil)
	if err != nil {
		return nil, fmt.Errorf("encoder session: %w", err)
	}
	dec, err := ort.NewDynamicAdvancedSession(cfg.DecoderPath,
		[]string{"input_ids", "encoder_hidden_states"}, []string{"logits"}, nil)
	if err != nil {
		_ = enc.Destroy()
		return nil, fmt.Errorf("decoder session: %w", err)
	}
	return &onnxModel{encoder: enc, decoder: dec}, nil
}

func (m *onnxModel) Encode(ctx context.Context, pixels []float32) (Decoder, error) {
	in, err := ort.NewTensor(ort.NewShape(1, 3, ImageSize, ImageSize), pixels)
	if err != nil {
		return nil, fmt.Errorf("pixel tensor: %w", err)
	}
	defer func() { _ = in.Destroy() }()

	outs := []ort.Value{nil}
	if err := m.encoder.Run([]ort.Value{in}, outs); err != nil {
		return nil, fmt.Errorf("encoder run: %w", err)
	}
	hidden, ok := outs[0].(*ort.Tensor[float32])
	if !ok {
		_ = outs[0].Destroy()
		return nil, errors.New("encoder output is not a float32 tensor")
	}
	if len(hidden.GetShape()) != 3 {
		_ = hidden.Destroy()
		return nil, fmt.Errorf("unexpected encoder output shape %v", hidden.GetShape())
	}
	return &onnxDecoder{session: m.decoder, hidden: hidden}, nil
}

func (m *onnxModel) Close() error {
	return errors.Join(m.encoder.Destroy(), m.decoder.Destroy())
}

type onnxDecoder struct {
	session *ort.DynamicAdvancedSession
	hidden  *ort.Tensor[float32]
}

func (d *onnxDecoder) Step(ctx context.Context, seqs [][]int64) ([][]float32, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	batch, seqLen := len(seqs), len(seqs[0])
	ids := make([]int64, 0, batch*seqLen)
	for _, s := range seqs {
		ids = append(ids, s...)
	}
	idsT, err := ort.NewTensor(ort.NewShape(int64(batch), int64(seqLen)), ids)
	if err != nil {
		return nil, fmt.Errorf("input_ids tensor: %w", err)
	}
	defer func() { _ = idsT.Destroy() }()

	// Each beam attends to the same encoder states.
	hs := d.hidden.GetShape()
	states := d.hidden.GetData()
	repeated := make([]float32, 0, batch*len(states))
	for i := 0; i < batch; i++ {
		repeated = append(repeated, states...)
	}
	encT, err := ort.NewTensor(ort.NewShape(int64(batch), hs[1], hs[2]), repeated)
	if err != nil {
		return nil, fmt.Errorf("encoder_hidden_states tensor: %w", err)
	}
	defer func() { _ = encT.Destroy() }()

	outs := []ort.Value{nil}
	if err := d.session.Run([]ort.Value{idsT, encT}, outs); err != nil {
		return nil, fmt.Errorf("decoder run: %w", err)
	}
	defer func() { _ = outs[0].Destroy() }()
	logits, ok := outs[0].(*ort.Tensor[float32])
	if !ok {
		return nil, errors.New("decoder output is not a float32 tensor")
	}

	shape := logits.GetShape()
	if len(shape) != 3 {
		return nil, fmt.Errorf("unexpected logits shape %v", shape)
	}
	vocab := int(shape[2])
	data := logits.GetData()
	rows := make([][]float32, batch)
	for b := range rows {
		off := (b*seqLen + seqLen - 1) * vocab
		rows[b] = append([]float32(nil), data[off:off+vocab]...)
	}
	return rows, nil
}

func (d *onnxDecoder) Close() error {
	return d.hidden.Destroy()
}
