package imageproc

import (
	"context"
	"image"
	"math"
)

// NLMeansParams configures NonLocalMeans. The zero value is not usable; see
// DefaultNLMeansParams.
type NLMeansParams struct {
	H              float64 // filter strength
	TemplateWindow int     // patch size, odd
	SearchWindow   int     // search area size, odd
}

// DefaultNLMeansParams matches the usual OpenCV defaults for grayscale input.
func DefaultNLMeansParams() NLMeansParams {
	return NLMeansParams{H: 10, TemplateWindow: 7, SearchWindow: 21}
}

// NonLocalMeans denoises gray by replacing each pixel with a weighted average
// of pixels in its search window, weighting by patch similarity. Patch
// distances are evaluated per search offset with an integral image so the
// cost is independent of the template size.
//
// ctx is checked once per search offset; on cancellation the partial result
// is discarded and ctx.Err() is returned.
func NonLocalMeans(ctx context.Context, gray *image.Gray, p NLMeansParams) (*image.Gray, error) {
	if p.TemplateWindow < 1 || p.TemplateWindow%2 == 0 {
		return nil, errInvalidWindow("template", p.TemplateWindow)
	}
	if p.SearchWindow < 1 || p.SearchWindow%2 == 0 {
		return nil, errInvalidWindow("search", p.SearchWindow)
	}
	bounds := gray.Bounds()
	w, h := bounds.Dx(), bounds.Dy()
	if w == 0 || h == 0 {
		return nil, ErrEmptyImage
	}
	if p.H <= 0 {
		return copyGray(gray), nil
	}

	tr, sr := p.TemplateWindow/2, p.SearchWindow/2
	pad := tr + sr
	pw, ph := w+2*pad, h+2*pad
	padded := make([]float64, pw*ph)
	for py := 0; py < ph; py++ {
		row := gray.Pix[clamp(py-pad, 0, h-1)*gray.Stride:]
		for px := 0; px < pw; px++ {
			padded[py*pw+px] = float64(row[clamp(px-pad, 0, w-1)])
		}
	}

	// weights indexed by the rounded mean squared patch difference
	weights := make([]float64, 255*255+1)
	for i := range weights {
		weights[i] = math.Exp(-float64(i) / (p.H * p.H))
	}
	patchArea := float64(p.TemplateWindow * p.TemplateWindow)
	out := image.NewGray(image.Rect(0, 0, w, h))

	forEachStrip(h, 32, func(startY, endY int) {
		rows := endY - startY
		lr, lc := rows+2*tr, w+2*tr
		diff := make([]float64, lr*lc)
		integral := make([]float64, (lr+1)*(lc+1))
		acc := make([]float64, rows*w)
		wsum := make([]float64, rows*w)

		for dy := -sr; dy <= sr; dy++ {
			for dx := -sr; dx <= sr; dx++ {
				if ctx.Err() != nil {
					return
				}
				// squared differences around this strip, in padded coordinates
				for ly := 0; ly < lr; ly++ {
					py := startY + pad - tr + ly
					base := py * pw
					shifted := (py + dy) * pw
					for lx := 0; lx < lc; lx++ {
						px := pad - tr + lx
						d := padded[base+px] - padded[shifted+px+dx]
						diff[ly*lc+lx] = d * d
					}
				}
				for ly := 0; ly < lr; ly++ {
					var rowSum float64
					for lx := 0; lx < lc; lx++ {
						rowSum += diff[ly*lc+lx]
						integral[(ly+1)*(lc+1)+lx+1] = integral[ly*(lc+1)+lx+1] + rowSum
					}
				}

				t := p.TemplateWindow
				for y := 0; y < rows; y++ {
					py := startY + y + pad
					for x := 0; x < w; x++ {
						sum := integral[(y+t)*(lc+1)+x+t] - integral[y*(lc+1)+x+t] -
							integral[(y+t)*(lc+1)+x] + integral[y*(lc+1)+x]
						weight := weights[clamp(int(sum/patchArea+0.5), 0, len(weights)-1)]
						acc[y*w+x] += weight * padded[(py+dy)*pw+x+pad+dx]
						wsum[y*w+x] += weight
					}
				}
			}
		}

		for y := 0; y < rows; y++ {
			dst := out.Pix[(startY+y)*out.Stride:]
			for x := 0; x < w; x++ {
				dst[x] = uint8(clamp(int(math.Round(acc[y*w+x]/wsum[y*w+x])), 0, 255))
			}
		}
	})
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return out, nil
}

func copyGray(gray *image.Gray) *image.Gray {
	bounds := gray.Bounds()
	out := image.NewGray(image.Rect(0, 0, bounds.Dx(), bounds.Dy()))
	for y := 0; y < bounds.Dy(); y++ {
		copy(out.Pix[y*out.Stride:], gray.Pix[y*gray.Stride:y*gray.Stride+bounds.Dx()])
	}
	return out
}
