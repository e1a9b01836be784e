package embedding

import (
	"github.com/vitali-fedulov/images4"
)

// Icon returns a Loader for a perceptual embedding built from the images4 icon
// (an 11x11 thumbnail in three colour channels). It needs no model and is always
// available. Each value is centred on the icon mean, so cosine similarity
// measures shared structure rather than overall brightness. A flat icon (solid
// image) has nothing to centre and is returned as is.
func Icon() Loader {
	return func() (Encoder, error) {
		return iconEncoder{}, nil
	}
}

// Icon values are display levels premultiplied by 255; a spread of one level or
// less is a flat icon.
const flatIconSpread = 255

type iconEncoder struct{}

func (iconEncoder) Name() string { return "icon" }

func (iconEncoder) Encode(src Source) ([]float32, error) {
	icon := images4.Icon(src.Image)
	if len(icon.Pixels) == 0 {
		return nil, nil
	}

	var mean float64
	lo, hi := icon.Pixels[0], icon.Pixels[0]
	for _, p := range icon.Pixels {
		mean += float64(p)
		lo, hi = min(lo, p), max(hi, p)
	}
	mean /= float64(len(icon.Pixels))

	out := make([]float32, len(icon.Pixels))
	for i, p := range icon.Pixels {
		if hi-lo <= flatIconSpread {
			out[i] = float32(p)
		} else {
			out[i] = float32(float64(p) - mean)
		}
	}
	return out, nil
}

func (iconEncoder) Close() error { return nil }
