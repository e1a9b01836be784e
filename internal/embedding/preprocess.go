package embedding

import (
	"image"
	"math"

	"github.com/nfnt/resize"

	"image-stand/internal/raster"
)

const clipInputSize = 224

var (
	clipMean = [3]float32{0.48145466, 0.4578275, 0.40821073}
	clipStd  = [3]float32{0.26862954, 0.26130258, 0.27577711}
)

// clipPixels prepares img the way the CLIP image processor does: shortest side to
// 224 with bicubic resampling, centre crop to 224x224, scale to [0,1], normalize
// with the CLIP channel statistics. The result is a 1x3x224x224 tensor in NCHW order.
func clipPixels(img image.Image) []float32 {
	rgb := raster.RGB(img)
	w, h := rgb.Bounds().Dx(), rgb.Bounds().Dy()

	nw, nh := clipInputSize, clipInputSize
	if w < h {
		nh = int(math.Round(float64(h) * clipInputSize / float64(w)))
	} else {
		nw = int(math.Round(float64(w) * clipInputSize / float64(h)))
	}
	nw, nh = max(nw, clipInputSize), max(nh, clipInputSize)
	scaled := raster.RGB(resize.Resize(uint(nw), uint(nh), rgb, resize.Bicubic))

	left := (nw - clipInputSize) / 2
	top := (nh - clipInputSize) / 2
	plane := clipInputSize * clipInputSize
	out := make([]float32, 3*plane)
	for y := 0; y < clipInputSize; y++ {
		for x := 0; x < clipInputSize; x++ {
			i := scaled.PixOffset(left+x, top+y)
			k := y*clipInputSize + x
			for c := 0; c < 3; c++ {
				v := float32(scaled.Pix[i+c]) / 255
				out[c*plane+k] = (v - clipMean[c]) / clipStd[c]
			}
		}
	}
	return out
}
