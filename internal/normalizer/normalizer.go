// Package normalizer converts raw image payloads into CanonicalImage values:
// decode, bound the size, force three channels and optionally binarize and
// denoise for OCR.
package normalizer

import (
	"bytes"
	"context"
	"encoding/base64"
	"fmt"
	"image"
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"
	"math"
	"strings"
	"time"

	"github.com/disintegration/imaging"
	"github.com/sirupsen/logrus"
	_ "golang.org/x/image/bmp"
	_ "golang.org/x/image/tiff"
	_ "golang.org/x/image/webp"

	apperrors "github.com/anime-shed/text-extractor-go/internal/errors"
	"github.com/anime-shed/text-extractor-go/internal/logger"
)

const DefaultMaxDimension = 2048

// Options control a single normalization call.
type Options struct {
	// MaxDimension bounds the longer side; 0 uses the Normalizer default.
	MaxDimension int
	Preprocess   bool
	// PreprocessTimeout bounds preprocessing on top of the caller's context.
	// On expiry the resized image is used unprocessed. 0 means ctx only.
	PreprocessTimeout time.Duration
}

// Normalizer is safe for concurrent use; it holds no per-call state.
type Normalizer struct {
	maxDimension int
	preprocessor Preprocessor
}

// New creates a Normalizer. A nil preprocessor selects the build default.
func New(maxDimension int, preprocessor Preprocessor) *Normalizer {
	if maxDimension <= 0 {
		maxDimension = DefaultMaxDimension
	}
	if preprocessor == nil {
		preprocessor = NewDefaultPreprocessor(DefaultPreprocessParams())
	}
	return &Normalizer{maxDimension: maxDimension, preprocessor: preprocessor}
}

// FromBytes decodes an encoded image and normalizes it. ctx only bounds the
// optional preprocessing step.
func (n *Normalizer) FromBytes(ctx context.Context, data []byte, opts Options) (*CanonicalImage, error) {
	if len(data) == 0 {
		return nil, apperrors.NewInvalidImageError("empty image payload", nil)
	}
	img, format, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, apperrors.NewInvalidImageError("invalid image data", err)
	}
	b := img.Bounds()
	if b.Dx() == 0 || b.Dy() == 0 {
		return nil, apperrors.NewInvalidImageError("image has zero area", nil)
	}
	return n.normalize(ctx, img, format, opts), nil
}

// FromBase64 accepts raw base64 or a data URL ("data:image/png;base64,....").
func (n *Normalizer) FromBase64(ctx context.Context, encoded string, opts Options) (*CanonicalImage, error) {
	data, err := DecodeBase64(encoded)
	if err != nil {
		return nil, err
	}
	return n.FromBytes(ctx, data, opts)
}

// DecodeBase64 strips an optional data URL prefix (everything up to and
// including the first comma) and decodes padded or unpadded standard base64.
func DecodeBase64(encoded string) ([]byte, error) {
	if i := strings.IndexByte(encoded, ','); i >= 0 {
		encoded = encoded[i+1:]
	}
	encoded = strings.Map(func(r rune) rune {
		switch r {
		case ' ', '\n', '\r', '\t':
			return -1
		}
		return r
	}, encoded)
	if encoded == "" {
		return nil, apperrors.NewInvalidImageError("invalid base64 image data", nil)
	}

	data, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		var rawErr error
		data, rawErr = base64.RawStdEncoding.DecodeString(strings.TrimRight(encoded, "="))
		if rawErr != nil {
			return nil, apperrors.NewInvalidImageError("invalid base64 image data", err)
		}
	}
	return data, nil
}

func (n *Normalizer) normalize(ctx context.Context, img image.Image, format string, opts Options) *CanonicalImage {
	maxDim := opts.MaxDimension
	if maxDim <= 0 {
		maxDim = n.maxDimension
	}

	b := img.Bounds()
	info := ImageInfo{
		Width:  b.Dx(),
		Height: b.Dy(),
		Mode:   colorModeName(img),
		Format: strings.ToUpper(format),
	}

	rgb := toOpaqueNRGBA(img)
	if w, h, ok := TargetSize(b.Dx(), b.Dy(), maxDim); ok {
		logger.WithFields(logrus.Fields{
			"from_width":  b.Dx(),
			"from_height": b.Dy(),
			"to_width":    w,
			"to_height":   h,
		}).Debug("Resizing image")
		rgb = imaging.Resize(rgb, w, h, imaging.Lanczos)
		forceOpaque(rgb)
	}

	out := &CanonicalImage{
		pix:       rgb,
		colorMode: ColorModeRGB,
		format:    format,
		original:  info,
	}
	if opts.Preprocess {
		if processed, err := n.runPreprocessor(ctx, rgb, opts.PreprocessTimeout); err != nil {
			logger.WithError(err).WithField("preprocessor", n.preprocessor.Name()).
				Warn("Preprocessing failed, using unprocessed image")
		} else {
			out.pix = processed
			out.preprocessed = true
		}
	}
	return out
}

// runPreprocessor converts panics, size changes and deadlines into errors so
// that a failing or slow preprocessor can never abort or stall normalization.
// A preprocessor that ignores ctx keeps running in the background until it
// returns; its result is dropped.
func (n *Normalizer) runPreprocessor(ctx context.Context, img *image.NRGBA, timeout time.Duration) (*image.NRGBA, error) {
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("preprocessing skipped: %w", err)
	}

	type outcome struct {
		img *image.NRGBA
		err error
	}
	done := make(chan outcome, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- outcome{err: fmt.Errorf("preprocessor panic: %v", r)}
			}
		}()
		out, err := n.preprocessor.Preprocess(ctx, img)
		done <- outcome{img: out, err: err}
	}()

	select {
	case <-ctx.Done():
		return nil, fmt.Errorf("preprocessing abandoned: %w", ctx.Err())
	case res := <-done:
		if res.err != nil {
			return nil, res.err
		}
		out := res.img
		if out == nil || out.Bounds().Dx() != img.Bounds().Dx() || out.Bounds().Dy() != img.Bounds().Dy() {
			return nil, fmt.Errorf("preprocessor %s returned an image of a different size", n.preprocessor.Name())
		}
		forceOpaque(out)
		return out, nil
	}
}

// TargetSize returns the bounded size for a w x h image. ok is false when the
// image already fits; images are never upscaled.
func TargetSize(w, h, maxDim int) (int, int, bool) {
	if w <= maxDim && h <= maxDim {
		return w, h, false
	}
	if w >= h {
		return maxDim, scaleSide(h, maxDim, w), true
	}
	return scaleSide(w, maxDim, h), maxDim, true
}

func scaleSide(short, maxDim, long int) int {
	v := int(math.Round(float64(short) * float64(maxDim) / float64(long)))
	if v < 1 {
		return 1
	}
	return v
}

func forceOpaque(img *image.NRGBA) {
	for i := 3; i < len(img.Pix); i += 4 {
		img.Pix[i] = 0xff
	}
}
