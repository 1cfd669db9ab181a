//go:build cgo && ocr

package tesseract

import (
	"context"
	"fmt"

	"github.com/otiai10/gosseract/v2"
)

type gosseractEngine struct {
	clientFactory func() *gosseract.Client
}

// NewEngine returns a Tesseract engine backed by libtesseract. A client is
// created per call since gosseract clients are not safe for concurrent use.
func NewEngine() (Engine, error) {
	return &gosseractEngine{clientFactory: gosseract.NewClient}, nil
}

func (e *gosseractEngine) Recognize(ctx context.Context, image []byte, languages []string) (Output, error) {
	c := e.clientFactory()
	defer c.Close()

	if err := c.SetLanguage(languages...); err != nil {
		return Output{}, fmt.Errorf("set languages: %w", err)
	}
	if err := c.SetImageFromBytes(image); err != nil {
		return Output{}, fmt.Errorf("set image: %w", err)
	}
	text, err := c.Text()
	if err != nil {
		return Output{}, fmt.Errorf("recognize text: %w", err)
	}

	boxes, err := c.GetBoundingBoxes(gosseract.RIL_WORD)
	if err != nil {
		return Output{}, fmt.Errorf("word boxes: %w", err)
	}
	confs := make([]float64, 0, len(boxes))
	for _, b := range boxes {
		confs = append(confs, b.Confidence)
	}
	return Output{Text: text, WordConfidences: confs}, nil
}

func (e *gosseractEngine) Version() string {
	return gosseract.Version()
}

func (e *gosseractEngine) Close() error { return nil }
