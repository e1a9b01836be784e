package similarity

import (
	"bytes"
	"image"
	"image/color"
	"image/png"
	"math"
	"testing"

	"image-stand/internal/embedding"
)

var (
	red  = color.NRGBA{R: 255, A: 255}
	blue = color.NRGBA{B: 255, A: 255}
)

func encodePNG(t testing.TB, img image.Image) []byte {
	t.Helper()
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		t.Fatalf("encode png: %v", err)
	}
	return buf.Bytes()
}

func solidPNG(t testing.TB, w, h int, c color.NRGBA) []byte {
	t.Helper()
	img := image.NewNRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.SetNRGBA(x, y, c)
		}
	}
	return encodePNG(t, img)
}

func gradientPNG(t testing.TB, w, h int) []byte {
	t.Helper()
	img := image.NewNRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.SetNRGBA(x, y, color.NRGBA{
				R: uint8(x * 255 / max(1, w-1)),
				G: uint8(y * 255 / max(1, h-1)),
				B: uint8((x*7 + y*13) % 256),
				A: 255,
			})
		}
	}
	return encodePNG(t, img)
}

// stubEmbedder returns vectors keyed by the exact image bytes. Unknown inputs are
// reported with status.
type stubEmbedder struct {
	vectors map[string]embedding.Vector
	status  embedding.Status
	calls   int
}

func (s *stubEmbedder) Extract(data []byte) embedding.Extraction {
	s.calls++
	if v, ok := s.vectors[string(data)]; ok {
		return embedding.Extraction{Vector: v, Status: embedding.StatusOK}
	}
	return embedding.Extraction{Status: s.status, Err: embedding.ErrUnavailable}
}

func unavailableEmbedder() *stubEmbedder {
	return &stubEmbedder{status: embedding.StatusUnavailable}
}

func newTestEngine(t testing.TB, emb Embedder, mutate func(*Options)) *Engine {
	t.Helper()
	opts := DefaultOptions()
	if mutate != nil {
		mutate(&opts)
	}
	e, err := NewEngine(emb, opts, nil, nil)
	if err != nil {
		t.Fatalf("NewEngine: %v", err)
	}
	return e
}

func almostEqual(a, b, tol float64) bool {
	return math.Abs(a-b) <= tol
}
