package normalizer

import (
	"context"
	"image"
)

// Preprocessor turns a 3-channel image into a binarized, denoised 3-channel
// image of the same size. Implementations may fail; the Normalizer falls back
// to the input in that case, and also when ctx is done first.
type Preprocessor interface {
	Name() string
	Preprocess(ctx context.Context, img *image.NRGBA) (*image.NRGBA, error)
}

// PreprocessParams are shared by every Preprocessor implementation.
type PreprocessParams struct {
	BlockSize      int
	C              float64
	H              float64
	TemplateWindow int
	SearchWindow   int
}

func DefaultPreprocessParams() PreprocessParams {
	return PreprocessParams{
		BlockSize:      11,
		C:              2,
		H:              10,
		TemplateWindow: 7,
		SearchWindow:   21,
	}
}
