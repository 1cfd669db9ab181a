// Package imageproc holds the pixel-level primitives shared by the image
// normalizer and the local OCR engine: grayscale conversion, global (Otsu) and
// adaptive thresholding, and non-local-means denoising.
package imageproc

import (
	"image"
	"image/draw"
	"runtime"
	"sync"
)

// ToGray converts img to an 8-bit single-channel image anchored at (0,0).
func ToGray(img image.Image) *image.Gray {
	if g, ok := img.(*image.Gray); ok && g.Rect.Min == (image.Point{}) {
		return g
	}
	bounds := img.Bounds()
	gray := image.NewGray(image.Rect(0, 0, bounds.Dx(), bounds.Dy()))
	draw.Draw(gray, gray.Bounds(), img, bounds.Min, draw.Src)
	return gray
}

// GrayToNRGBA replicates a single channel into R, G and B with opaque alpha.
func GrayToNRGBA(gray *image.Gray) *image.NRGBA {
	bounds := gray.Bounds()
	out := image.NewNRGBA(image.Rect(0, 0, bounds.Dx(), bounds.Dy()))
	for y := 0; y < bounds.Dy(); y++ {
		src := gray.Pix[y*gray.Stride : y*gray.Stride+bounds.Dx()]
		dst := out.Pix[y*out.Stride : y*out.Stride+bounds.Dx()*4]
		for x, v := range src {
			dst[x*4] = v
			dst[x*4+1] = v
			dst[x*4+2] = v
			dst[x*4+3] = 0xff
		}
	}
	return out
}

// forEachStrip splits [0,height) into horizontal strips and runs fn on each
// concurrently. Small images run on the calling goroutine.
func forEachStrip(height, minRowsPerWorker int, fn func(startY, endY int)) {
	if height <= 0 {
		return
	}
	numWorkers := runtime.NumCPU()
	if maxWorkers := height / minRowsPerWorker; maxWorkers < numWorkers {
		numWorkers = maxWorkers
	}
	if numWorkers <= 1 {
		fn(0, height)
		return
	}
	rowsPerWorker := (height + numWorkers - 1) / numWorkers

	var wg sync.WaitGroup
	for startY := 0; startY < height; startY += rowsPerWorker {
		endY := startY + rowsPerWorker
		if endY > height {
			endY = height
		}
		wg.Add(1)
		go func(startY, endY int) {
			defer wg.Done()
			fn(startY, endY)
		}(startY, endY)
	}
	wg.Wait()
}

func clamp(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
