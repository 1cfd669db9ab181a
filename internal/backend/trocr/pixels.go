package trocr

import (
	"image"

	xdraw "golang.org/x/image/draw"
)

// ImageSize is the encoder's square input side.
const ImageSize = 384

// PixelValues resizes img to ImageSize x ImageSize and returns the
// normalized NCHW tensor data (mean 0.5, std 0.5).
func PixelValues(img image.Image) []float32 {
	dst := image.NewRGBA(image.Rect(0, 0, ImageSize, ImageSize))
	xdraw.BiLinear.Scale(dst, dst.Bounds(), img, img.Bounds(), xdraw.Src, nil)

	plane := ImageSize * ImageSize
	out := make([]float32, 3*plane)
	for y := 0; y < ImageSize; y++ {
		row := dst.Pix[y*dst.Stride:]
		for x := 0; x < ImageSize; x++ {
			i := y*ImageSize + x
			p := row[x*4 : x*4+3]
			out[i] = normalizePixel(p[0])
			out[plane+i] = normalizePixel(p[1])
			out[2*plane+i] = normalizePixel(p[2])
		}
	}
	return out
}

func normalizePixel(v uint8) float32 {
	return (float32(v)/255 - 0.5) / 0.5
}
