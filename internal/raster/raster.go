// Package raster decodes image bytes and normalizes rasters to opaque RGB at a
// requested size.
package raster

import (
	"bytes"
	"errors"
	"fmt"
	"image"
	"image/color"
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"

	"github.com/nfnt/resize"
	_ "golang.org/x/image/bmp"
	_ "golang.org/x/image/tiff"
	_ "golang.org/x/image/webp"
)

var (
	ErrDecode    = errors.New("cannot decode image")
	ErrDimension = errors.New("degenerate image dimensions")
)

// Decode reads any registered format (png, jpeg, gif, webp, bmp, tiff).
func Decode(data []byte) (image.Image, string, error) {
	if len(data) == 0 {
		return nil, "", fmt.Errorf("%w: empty buffer", ErrDecode)
	}
	img, format, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, "", fmt.Errorf("%w: %v", ErrDecode, err)
	}
	b := img.Bounds()
	if b.Dx() <= 0 || b.Dy() <= 0 {
		return nil, "", fmt.Errorf("%w: %dx%d", ErrDimension, b.Dx(), b.Dy())
	}
	return img, format, nil
}

// RGB converts img to an opaque NRGBA raster anchored at (0,0). Alpha is dropped
// rather than composited, so a transparent red pixel stays red.
func RGB(img image.Image) *image.NRGBA {
	if n, ok := img.(*image.NRGBA); ok && opaque(n) && n.Rect.Min == (image.Point{}) {
		return n
	}
	b := img.Bounds()
	out := image.NewNRGBA(image.Rect(0, 0, b.Dx(), b.Dy()))
	for y := 0; y < b.Dy(); y++ {
		for x := 0; x < b.Dx(); x++ {
			c := color.NRGBAModel.Convert(img.At(b.Min.X+x, b.Min.Y+y)).(color.NRGBA)
			i := out.PixOffset(x, y)
			out.Pix[i+0] = c.R
			out.Pix[i+1] = c.G
			out.Pix[i+2] = c.B
			out.Pix[i+3] = 0xff
		}
	}
	return out
}

// Resize resamples img to w x h with the given filter and returns an opaque RGB raster.
// A raster already at the requested size is returned unchanged.
func Resize(img *image.NRGBA, w, h int, filter resize.InterpolationFunction) (*image.NRGBA, error) {
	if w <= 0 || h <= 0 {
		return nil, fmt.Errorf("%w: target %dx%d", ErrDimension, w, h)
	}
	if img.Bounds().Dx() == w && img.Bounds().Dy() == h {
		return img, nil
	}
	return RGB(resize.Resize(uint(w), uint(h), img, filter)), nil
}

// Planes splits an RGB raster into three float64 channel planes in row-major order.
func Planes(img *image.NRGBA) [3][]float64 {
	w, h := img.Bounds().Dx(), img.Bounds().Dy()
	var planes [3][]float64
	for c := range planes {
		planes[c] = make([]float64, w*h)
	}
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			i := img.PixOffset(x, y)
			k := y*w + x
			planes[0][k] = float64(img.Pix[i+0])
			planes[1][k] = float64(img.Pix[i+1])
			planes[2][k] = float64(img.Pix[i+2])
		}
	}
	return planes
}

func opaque(img *image.NRGBA) bool {
	for i := 3; i < len(img.Pix); i += 4 {
		if img.Pix[i] != 0xff {
			return false
		}
	}
	return true
}
