//go:build gocv

package normalizer

import (
	"context"
	"fmt"
	"image"

	"gocv.io/x/gocv"

	"github.com/anime-shed/text-extractor-go/internal/imageproc"
)

type gocvPreprocessor struct {
	params PreprocessParams
}

// NewDefaultPreprocessor returns the OpenCV backed preprocessor.
func NewDefaultPreprocessor(p PreprocessParams) Preprocessor {
	return &gocvPreprocessor{params: p}
}

func (g *gocvPreprocessor) Name() string { return "opencv" }

func (g *gocvPreprocessor) Preprocess(ctx context.Context, img *image.NRGBA) (*image.NRGBA, error) {
	gray := imageproc.ToGray(img)

	src, err := gocv.ImageGrayToMatGray(gray)
	if err != nil {
		return nil, fmt.Errorf("gray to mat: %w", err)
	}
	defer src.Close()

	thresh := gocv.NewMat()
	defer thresh.Close()
	gocv.AdaptiveThreshold(src, &thresh, 255, gocv.AdaptiveThresholdMean, gocv.ThresholdBinary,
		g.params.BlockSize, float32(g.params.C))

	// FastNlMeans cannot be interrupted once started.
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	denoised := gocv.NewMat()
	defer denoised.Close()
	gocv.FastNlMeansDenoisingWithParams(thresh, &denoised, float32(g.params.H),
		g.params.TemplateWindow, g.params.SearchWindow)

	if err := ctx.Err(); err != nil {
		return nil, err
	}
	out, err := denoised.ToImage()
	if err != nil {
		return nil, fmt.Errorf("mat to image: %w", err)
	}
	return imageproc.GrayToNRGBA(imageproc.ToGray(out)), nil
}
