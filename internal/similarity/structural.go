package similarity

import (
	"fmt"
	"image"

	"github.com/nfnt/resize"

	"image-stand/internal/raster"
)

const (
	maxWindow = 7
	ssimK1    = 0.01
	ssimK2    = 0.03
	// 8-bit channels
	dataRange = 255.0
)

// WindowSize returns the SSIM window for a w x h raster: 7, shrunk to the largest
// odd number not exceeding the smaller dimension. Never even, never below 1 for
// non-degenerate rasters.
func WindowSize(w, h int) int {
	d := min(w, h)
	if d%2 == 0 {
		d--
	}
	return max(1, min(maxWindow, d))
}

// StructuralSimilarity resizes both images to the per-axis minimum of their sizes
// with a Lanczos filter and returns the mean SSIM over the R, G and B channels,
// in [-1, 1].
func StructuralSimilarity(img1, img2 image.Image) (float64, error) {
	rgb1, rgb2 := raster.RGB(img1), raster.RGB(img2)
	w := min(rgb1.Bounds().Dx(), rgb2.Bounds().Dx())
	h := min(rgb1.Bounds().Dy(), rgb2.Bounds().Dy())
	if w <= 0 || h <= 0 {
		return 0, fmt.Errorf("%w: target size %dx%d", ErrDimension, w, h)
	}

	var err error
	if rgb1, err = raster.Resize(rgb1, w, h, resize.Lanczos3); err != nil {
		return 0, err
	}
	if rgb2, err = raster.Resize(rgb2, w, h, resize.Lanczos3); err != nil {
		return 0, err
	}

	win := WindowSize(w, h)
	p1, p2 := raster.Planes(rgb1), raster.Planes(rgb2)
	var total float64
	for c := range p1 {
		total += meanSSIM(p1[c], p2[c], w, h, win)
	}
	return total / float64(len(p1)), nil
}

func structuralFromBytes(data1, data2 []byte) (float64, error) {
	img1, _, err := raster.Decode(data1)
	if err != nil {
		return 0, fmt.Errorf("image 1: %w", err)
	}
	img2, _, err := raster.Decode(data2)
	if err != nil {
		return 0, fmt.Errorf("image 2: %w", err)
	}
	return StructuralSimilarity(img1, img2)
}

// meanSSIM computes the mean of the SSIM map of one channel using a uniform win x win
// window and sample covariance. Only windows lying fully inside the raster are
// averaged, which is the border crop of the reference definition. A 1x1 window has
// no sample covariance, so population covariance is used and only the luminance
// term remains.
func meanSSIM(x, y []float64, w, h, win int) float64 {
	n := float64(win * win)
	covNorm := 1.0
	if win > 1 {
		covNorm = n / (n - 1)
	}
	c1 := (ssimK1 * dataRange) * (ssimK1 * dataRange)
	c2 := (ssimK2 * dataRange) * (ssimK2 * dataRange)

	sx := newIntegral(w, h, func(i int) float64 { return x[i] })
	sy := newIntegral(w, h, func(i int) float64 { return y[i] })
	sxx := newIntegral(w, h, func(i int) float64 { return x[i] * x[i] })
	syy := newIntegral(w, h, func(i int) float64 { return y[i] * y[i] })
	sxy := newIntegral(w, h, func(i int) float64 { return x[i] * y[i] })

	var sum float64
	var count int
	for top := 0; top+win <= h; top++ {
		for left := 0; left+win <= w; left++ {
			ux := sx.window(left, top, win) / n
			uy := sy.window(left, top, win) / n
			uxx := sxx.window(left, top, win) / n
			uyy := syy.window(left, top, win) / n
			uxy := sxy.window(left, top, win) / n

			vx := covNorm * (uxx - ux*ux)
			vy := covNorm * (uyy - uy*uy)
			vxy := covNorm * (uxy - ux*uy)

			num := (2*ux*uy + c1) * (2*vxy + c2)
			den := (ux*ux + uy*uy + c1) * (vx + vy + c2)
			sum += num / den
			count++
		}
	}
	return sum / float64(count)
}

// integral is a summed-area table with a zero row and column in front.
type integral struct {
	w   int
	sum []float64
}

func newIntegral(w, h int, at func(i int) float64) integral {
	stride := w + 1
	s := make([]float64, stride*(h+1))
	for yy := 0; yy < h; yy++ {
		var row float64
		for xx := 0; xx < w; xx++ {
			row += at(yy*w + xx)
			s[(yy+1)*stride+xx+1] = s[yy*stride+xx+1] + row
		}
	}
	return integral{w: w, sum: s}
}

func (t integral) window(left, top, size int) float64 {
	stride := t.w + 1
	r0, r1 := top*stride, (top+size)*stride
	c0, c1 := left, left+size
	return t.sum[r1+c1] - t.sum[r0+c1] - t.sum[r1+c0] + t.sum[r0+c0]
}
