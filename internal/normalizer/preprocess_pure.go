package normalizer

import (
	"context"
	"fmt"
	"image"

	"github.com/anime-shed/text-extractor-go/internal/imageproc"
)

type goPreprocessor struct {
	params PreprocessParams
}

// NewGoPreprocessor returns a preprocessor implemented with internal/imageproc.
func NewGoPreprocessor(p PreprocessParams) Preprocessor {
	return &goPreprocessor{params: p}
}

func (g *goPreprocessor) Name() string { return "go" }

func (g *goPreprocessor) Preprocess(ctx context.Context, img *image.NRGBA) (*image.NRGBA, error) {
	gray := imageproc.ToGray(img)

	bin, err := imageproc.AdaptiveMeanThreshold(gray, g.params.BlockSize, g.params.C)
	if err != nil {
		return nil, fmt.Errorf("adaptive threshold: %w", err)
	}

	denoised, err := imageproc.NonLocalMeans(ctx, bin, imageproc.NLMeansParams{
		H:              g.params.H,
		TemplateWindow: g.params.TemplateWindow,
		SearchWindow:   g.params.SearchWindow,
	})
	if err != nil {
		return nil, fmt.Errorf("denoise: %w", err)
	}
	return imageproc.GrayToNRGBA(denoised), nil
}
