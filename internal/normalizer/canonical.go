package normalizer

import (
	"bytes"
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"fmt"
	"image"
	"image/jpeg"
	"image/png"
)

const (
	ColorModeRGB  = "RGB"
	ColorModeGray = "L"
)

// ImageInfo describes the decoded input before normalization.
type ImageInfo struct {
	Width  int    `json:"width"`
	Height int    `json:"height"`
	Mode   string `json:"mode"`
	Format string `json:"format"`
}

// CanonicalImage is the normalized, 3-channel representation handed to every
// backend. It is immutable once built; accessors never expose the internal
// buffer for writing.
type CanonicalImage struct {
	pix          *image.NRGBA
	colorMode    string
	format       string
	original     ImageInfo
	preprocessed bool
}

// NewCanonicalImage wraps an already normalized buffer. Alpha is forced opaque.
// It is exported for backends' tests and for callers that produce pixels
// without going through a Normalizer.
func NewCanonicalImage(img image.Image, format string) *CanonicalImage {
	rgb := toOpaqueNRGBA(img)
	b := rgb.Bounds()
	return &CanonicalImage{
		pix:       rgb,
		colorMode: ColorModeRGB,
		format:    format,
		original: ImageInfo{
			Width:  b.Dx(),
			Height: b.Dy(),
			Mode:   colorModeName(img),
			Format: format,
		},
	}
}

func (c *CanonicalImage) Width() int              { return c.pix.Rect.Dx() }
func (c *CanonicalImage) Height() int             { return c.pix.Rect.Dy() }
func (c *CanonicalImage) ColorMode() string       { return c.colorMode }
func (c *CanonicalImage) Format() string          { return c.format }
func (c *CanonicalImage) Preprocessed() bool      { return c.preprocessed }
func (c *CanonicalImage) OriginalInfo() ImageInfo { return c.original }

// Image returns a read-only view of the pixels. Callers must not modify it.
func (c *CanonicalImage) Image() image.Image {
	return c.pix
}

// RGBPixels returns a packed copy of the pixels, three bytes per pixel.
func (c *CanonicalImage) RGBPixels() []byte {
	w, h := c.Width(), c.Height()
	out := make([]byte, 0, w*h*3)
	for y := 0; y < h; y++ {
		row := c.pix.Pix[y*c.pix.Stride : y*c.pix.Stride+w*4]
		for x := 0; x < w; x++ {
			out = append(out, row[x*4], row[x*4+1], row[x*4+2])
		}
	}
	return out
}

// Fingerprint is a stable content hash of dimensions and pixels.
func (c *CanonicalImage) Fingerprint() string {
	h := sha256.New()
	var dims [8]byte
	binary.BigEndian.PutUint32(dims[:4], uint32(c.Width()))
	binary.BigEndian.PutUint32(dims[4:], uint32(c.Height()))
	h.Write(dims[:])
	h.Write(c.RGBPixels())
	return hex.EncodeToString(h.Sum(nil))
}

// Encode serializes the image as "png" or "jpeg".
func (c *CanonicalImage) Encode(format string) ([]byte, string, error) {
	var buf bytes.Buffer
	switch format {
	case "", "png":
		if err := png.Encode(&buf, c.pix); err != nil {
			return nil, "", fmt.Errorf("encode png: %w", err)
		}
		return buf.Bytes(), "image/png", nil
	case "jpeg", "jpg":
		if err := jpeg.Encode(&buf, c.pix, &jpeg.Options{Quality: 95}); err != nil {
			return nil, "", fmt.Errorf("encode jpeg: %w", err)
		}
		return buf.Bytes(), "image/jpeg", nil
	default:
		return nil, "", fmt.Errorf("unsupported encode format %q", format)
	}
}

func toOpaqueNRGBA(img image.Image) *image.NRGBA {
	b := img.Bounds()
	out := image.NewNRGBA(image.Rect(0, 0, b.Dx(), b.Dy()))
	for y := 0; y < b.Dy(); y++ {
		for x := 0; x < b.Dx(); x++ {
			r, g, bl, a := img.At(b.Min.X+x, b.Min.Y+y).RGBA()
			i := y*out.Stride + x*4
			// un-premultiply, then drop alpha
			if a != 0 && a != 0xffff {
				r = r * 0xffff / a
				g = g * 0xffff / a
				bl = bl * 0xffff / a
			}
			out.Pix[i] = uint8(r >> 8)
			out.Pix[i+1] = uint8(g >> 8)
			out.Pix[i+2] = uint8(bl >> 8)
			out.Pix[i+3] = 0xff
		}
	}
	return out
}

// colorModeName reports the source color model using the conventional short
// mode names.
func colorModeName(img image.Image) string {
	switch img.(type) {
	case *image.Gray:
		return "L"
	case *image.Gray16:
		return "I;16"
	case *image.Paletted:
		return "P"
	case *image.CMYK:
		return "CMYK"
	case *image.NRGBA, *image.RGBA, *image.NRGBA64, *image.RGBA64:
		if o, ok := img.(interface{ Opaque() bool }); ok && o.Opaque() {
			return "RGB"
		}
		return "RGBA"
	default:
		return "RGB"
	}
}
