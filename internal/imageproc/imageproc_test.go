package imageproc

import (
	"context"
	"errors"
	"image"
	"image/color"
	"math/rand"
	"testing"
	"time"
)

// createBimodalImage returns a dark left half and a bright right half.
func createBimodalImage(w, h int, dark, bright uint8) *image.Gray {
	img := image.NewGray(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			v := dark
			if x >= w/2 {
				v = bright
			}
			img.SetGray(x, y, color.Gray{Y: v})
		}
	}
	return img
}

func TestOtsuThreshold_Bimodal(t *testing.T) {
	img := createBimodalImage(40, 20, 30, 220)
	th := OtsuThreshold(img)
	if th < 30 || th >= 220 {
		t.Fatalf("expected threshold between classes, got %d", th)
	}

	bin := Otsu(img)
	if bin.GrayAt(0, 0).Y != 0 {
		t.Errorf("expected dark side to become 0, got %d", bin.GrayAt(0, 0).Y)
	}
	if bin.GrayAt(39, 19).Y != 255 {
		t.Errorf("expected bright side to become 255, got %d", bin.GrayAt(39, 19).Y)
	}
}

func TestOtsuThreshold_Uniform(t *testing.T) {
	img := createBimodalImage(10, 10, 128, 128)
	bin := Otsu(img)
	for _, v := range bin.Pix {
		if v != bin.Pix[0] {
			t.Fatal("uniform image must binarize to a single value")
		}
	}
}

func TestAdaptiveMeanThreshold(t *testing.T) {
	// light background with a thin dark stroke
	img := createBimodalImage(30, 30, 200, 200)
	for y := 5; y < 25; y++ {
		img.SetGray(15, y, color.Gray{Y: 40})
	}

	out, err := AdaptiveMeanThreshold(img, 11, 2)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if out.Bounds() != img.Bounds() {
		t.Fatalf("bounds changed: %v -> %v", img.Bounds(), out.Bounds())
	}
	if out.GrayAt(15, 15).Y != 0 {
		t.Errorf("expected stroke pixel to be black, got %d", out.GrayAt(15, 15).Y)
	}
	if out.GrayAt(2, 2).Y != 255 {
		t.Errorf("expected background pixel to be white, got %d", out.GrayAt(2, 2).Y)
	}
}

func TestAdaptiveMeanThreshold_InvalidBlock(t *testing.T) {
	img := createBimodalImage(8, 8, 0, 255)
	for _, block := range []int{0, 1, 4, 10} {
		if _, err := AdaptiveMeanThreshold(img, block, 2); err == nil {
			t.Errorf("expected error for block size %d", block)
		}
	}
}

func TestNonLocalMeans_ReducesNoise(t *testing.T) {
	const w, h = 32, 32
	rng := rand.New(rand.NewSource(7))
	noisy := image.NewGray(image.Rect(0, 0, w, h))
	for i := range noisy.Pix {
		noisy.Pix[i] = uint8(128 + rng.Intn(21) - 10)
	}

	out, err := NonLocalMeans(context.Background(), noisy, DefaultNLMeansParams())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if out.Bounds().Dx() != w || out.Bounds().Dy() != h {
		t.Fatalf("unexpected size %v", out.Bounds())
	}
	if variance(out.Pix) >= variance(noisy.Pix) {
		t.Errorf("expected variance to drop: before=%.2f after=%.2f", variance(noisy.Pix), variance(out.Pix))
	}
}

func TestNonLocalMeans_ConstantImageUnchanged(t *testing.T) {
	img := createBimodalImage(16, 12, 90, 90)
	out, err := NonLocalMeans(context.Background(), img, DefaultNLMeansParams())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	for i, v := range out.Pix {
		if v != 90 {
			t.Fatalf("pixel %d changed to %d", i, v)
		}
	}
}

func TestNonLocalMeans_InvalidParams(t *testing.T) {
	img := createBimodalImage(8, 8, 0, 255)
	if _, err := NonLocalMeans(context.Background(), img, NLMeansParams{H: 10, TemplateWindow: 4, SearchWindow: 21}); err == nil {
		t.Error("expected error for even template window")
	}
	if _, err := NonLocalMeans(context.Background(), image.NewGray(image.Rect(0, 0, 0, 0)), DefaultNLMeansParams()); err != ErrEmptyImage {
		t.Errorf("expected ErrEmptyImage, got %v", err)
	}
}

func TestNonLocalMeans_Cancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	out, err := NonLocalMeans(ctx, createBimodalImage(64, 64, 10, 240), DefaultNLMeansParams())
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
	if out != nil {
		t.Error("cancelled denoise must not return a partial image")
	}
}

func TestNonLocalMeans_DeadlineBoundsLargeImage(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	start := time.Now()
	_, err := NonLocalMeans(ctx, createBimodalImage(2048, 2048, 10, 240), DefaultNLMeansParams())
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected context.DeadlineExceeded, got %v", err)
	}
	if elapsed := time.Since(start); elapsed > 2*time.Second {
		t.Errorf("denoise kept running %s past a 50ms deadline", elapsed)
	}
}

func TestGrayToNRGBA(t *testing.T) {
	g := createBimodalImage(4, 2, 10, 250)
	rgb := GrayToNRGBA(g)
	c := rgb.NRGBAAt(3, 1)
	if c.R != 250 || c.G != 250 || c.B != 250 || c.A != 255 {
		t.Errorf("unexpected pixel %+v", c)
	}
}

func TestToGray_OffsetBounds(t *testing.T) {
	src := image.NewNRGBA(image.Rect(5, 5, 9, 8))
	g := ToGray(src)
	if g.Bounds() != image.Rect(0, 0, 4, 3) {
		t.Errorf("expected origin-anchored bounds, got %v", g.Bounds())
	}
}

func variance(pix []uint8) float64 {
	var sum, sumSq float64
	for _, v := range pix {
		f := float64(v)
		sum += f
		sumSq += f * f
	}
	n := float64(len(pix))
	mean := sum / n
	return sumSq/n - mean*mean
}
