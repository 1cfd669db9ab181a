package imageproc

import (
	"image"
)

// OtsuThreshold returns the global threshold that maximizes the between-class
// variance of the intensity histogram.
func OtsuThreshold(gray *image.Gray) uint8 {
	bounds := gray.Bounds()
	w, h := bounds.Dx(), bounds.Dy()
	if w == 0 || h == 0 {
		return 0
	}

	var hist [256]int
	for y := 0; y < h; y++ {
		row := gray.Pix[y*gray.Stride : y*gray.Stride+w]
		for _, v := range row {
			hist[v]++
		}
	}

	total := float64(w * h)
	var sumAll float64
	for i, c := range hist {
		sumAll += float64(i * c)
	}

	var (
		sumBack   float64
		weightBg  float64
		bestVar   float64
		threshold uint8
	)
	for t := 0; t < 256; t++ {
		weightBg += float64(hist[t])
		if weightBg == 0 {
			continue
		}
		weightFg := total - weightBg
		if weightFg == 0 {
			break
		}
		sumBack += float64(t * hist[t])
		meanBg := sumBack / weightBg
		meanFg := (sumAll - sumBack) / weightFg
		between := weightBg * weightFg * (meanBg - meanFg) * (meanBg - meanFg)
		if between > bestVar {
			bestVar = between
			threshold = uint8(t)
		}
	}
	return threshold
}

// Binarize maps pixels above t to 255 and the rest to 0.
func Binarize(gray *image.Gray, t uint8) *image.Gray {
	bounds := gray.Bounds()
	w, h := bounds.Dx(), bounds.Dy()
	out := image.NewGray(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		src := gray.Pix[y*gray.Stride : y*gray.Stride+w]
		dst := out.Pix[y*out.Stride : y*out.Stride+w]
		for x, v := range src {
			if v > t {
				dst[x] = 0xff
			}
		}
	}
	return out
}

// Otsu binarizes gray with its Otsu threshold.
func Otsu(gray *image.Gray) *image.Gray {
	return Binarize(gray, OtsuThreshold(gray))
}

// AdaptiveMeanThreshold binarizes each pixel against the mean of its
// blockSize x blockSize neighbourhood minus c. Borders replicate edge pixels.
// blockSize must be odd and > 1.
func AdaptiveMeanThreshold(gray *image.Gray, blockSize int, c float64) (*image.Gray, error) {
	if blockSize < 3 || blockSize%2 == 0 {
		return nil, errInvalidBlockSize(blockSize)
	}
	bounds := gray.Bounds()
	w, h := bounds.Dx(), bounds.Dy()
	if w == 0 || h == 0 {
		return nil, ErrEmptyImage
	}

	r := blockSize / 2
	pw, ph := w+2*r, h+2*r
	// integral image over the replicate-padded source
	integral := make([]int64, (pw+1)*(ph+1))
	for py := 0; py < ph; py++ {
		sy := clamp(py-r, 0, h-1)
		row := gray.Pix[sy*gray.Stride:]
		var rowSum int64
		for px := 0; px < pw; px++ {
			rowSum += int64(row[clamp(px-r, 0, w-1)])
			integral[(py+1)*(pw+1)+px+1] = integral[py*(pw+1)+px+1] + rowSum
		}
	}

	area := float64(blockSize * blockSize)
	out := image.NewGray(image.Rect(0, 0, w, h))
	forEachStrip(h, 64, func(startY, endY int) {
		for y := startY; y < endY; y++ {
			src := gray.Pix[y*gray.Stride:]
			dst := out.Pix[y*out.Stride:]
			y0, y1 := y, y+blockSize
			for x := 0; x < w; x++ {
				x0, x1 := x, x+blockSize
				sum := integral[y1*(pw+1)+x1] - integral[y0*(pw+1)+x1] -
					integral[y1*(pw+1)+x0] + integral[y0*(pw+1)+x0]
				if float64(src[x]) > float64(sum)/area-c {
					dst[x] = 0xff
				}
			}
		}
	})
	return out, nil
}
