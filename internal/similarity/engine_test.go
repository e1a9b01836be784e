package similarity

import (
	"encoding/json"
	"errors"
	"strings"
	"testing"

	"image-stand/internal/embedding"
)

type fixedSource float64

func (f fixedSource) Sensitivity() float64 { return float64(f) }

func ptr[T any](v T) *T { return &v }

func TestNewEngineValidatesOptions(t *testing.T) {
	opts := DefaultOptions()
	opts.Thresholds = Thresholds{Min: 0.8, Max: 0.2}
	if _, err := NewEngine(nil, opts, nil, nil); !errors.Is(err, ErrInvalidParameter) {
		t.Errorf("inverted thresholds: expected ErrInvalidParameter, got %v", err)
	}

	opts = DefaultOptions()
	opts.DefaultMethod = "pixels"
	if _, err := NewEngine(nil, opts, nil, nil); !errors.Is(err, ErrInvalidParameter) {
		t.Errorf("unknown method: expected ErrInvalidParameter, got %v", err)
	}
}

func TestCompareScenarios(t *testing.T) {
	t.Run("identical images score high under hybrid", func(t *testing.T) {
		img := gradientPNG(t, 64, 64)
		emb := &stubEmbedder{vectors: map[string]embedding.Vector{string(img): {0.6, 0.8}}}
		e := newTestEngine(t, emb, nil)

		r, err := e.Compare(Request{Image1: img, Image2: img, Method: ptr(MethodHybrid), Sensitivity: ptr(1.0)})
		if err != nil {
			t.Fatalf("Compare: %v", err)
		}
		if !r.Success || r.MethodUsed() != MethodHybrid {
			t.Fatalf("unexpected result %+v", r)
		}
		if *r.SimilarityPercentage < 95 {
			t.Errorf("percentage = %v, want >= 95", *r.SimilarityPercentage)
		}
	})

	t.Run("solid colours under ssim", func(t *testing.T) {
		e := newTestEngine(t, nil, nil)
		r, err := e.Compare(Request{
			Image1: solidPNG(t, 256, 256, red),
			Image2: solidPNG(t, 256, 256, blue),
			Method: ptr(MethodStructural),
		})
		if err != nil {
			t.Fatalf("Compare: %v", err)
		}
		if *r.SimilarityPercentage != 66.67 {
			t.Errorf("percentage = %v, want 66.67", *r.SimilarityPercentage)
		}
	})

	t.Run("embedding falls back to ssim when the encoder is unavailable", func(t *testing.T) {
		e := newTestEngine(t, unavailableEmbedder(), nil)
		img1, img2 := gradientPNG(t, 32, 32), solidPNG(t, 32, 32, red)
		r, err := e.Compare(Request{Image1: img1, Image2: img2, Method: ptr(MethodEmbedding)})
		if err != nil {
			t.Fatalf("Compare: %v", err)
		}
		if !r.Success {
			t.Fatalf("expected success, got %v", *r.Error)
		}
		if r.MethodUsed() != MethodStructural {
			t.Errorf("method = %q, want %q", r.MethodUsed(), MethodStructural)
		}
		want := e.CompareStructural(img1, img2)
		if *r.SimilarityScore != *want.SimilarityScore {
			t.Errorf("score = %v, want structural %v", *r.SimilarityScore, *want.SimilarityScore)
		}
	})

	t.Run("higher sensitivity lowers a mid-range hybrid score", func(t *testing.T) {
		img1, img2 := solidPNG(t, 64, 64, red), solidPNG(t, 64, 64, blue)
		emb := &stubEmbedder{vectors: map[string]embedding.Vector{
			string(img1): {1, 0},
			string(img2): {0.6, 0.8},
		}}
		e := newTestEngine(t, emb, nil)

		var prev float64 = 101
		for _, s := range []float64{0.5, 1.0, 2.0} {
			r := e.CompareHybrid(img1, img2, 0.7, 0.3, s)
			if !r.Success || r.MethodUsed() != MethodHybrid {
				t.Fatalf("sensitivity %v: unexpected result %+v", s, r)
			}
			p := *r.SimilarityPercentage
			if p >= prev {
				t.Fatalf("sensitivity %v: percentage %v not below %v", s, p, prev)
			}
			prev = p
		}
		for _, s := range []float64{MinSensitivity, 5.0, MaxSensitivity} {
			r := e.CompareHybrid(img1, img2, 0.7, 0.3, s)
			if p := *r.SimilarityPercentage; p < 0 || p > 100 {
				t.Errorf("sensitivity %v: percentage %v outside [0,100]", s, p)
			}
		}
	})
}

func TestCompareRejectsSensitivityBeforeDecoding(t *testing.T) {
	for _, s := range []float64{0.05, 15.0} {
		emb := &stubEmbedder{status: embedding.StatusOK}
		e := newTestEngine(t, emb, nil)
		r, err := e.Compare(Request{Image1: []byte("junk"), Image2: []byte("junk"), Sensitivity: ptr(s)})
		if !errors.Is(err, ErrInvalidParameter) {
			t.Errorf("sensitivity %v: expected ErrInvalidParameter, got %v", s, err)
		}
		if errors.Is(err, ErrDecode) {
			t.Errorf("sensitivity %v: images were decoded", s)
		}
		if emb.calls != 0 {
			t.Errorf("sensitivity %v: embedder called %d times", s, emb.calls)
		}
		if r.Success || r.SimilarityPercentage != nil {
			t.Errorf("sensitivity %v: expected failed result, got %+v", s, r)
		}
	}
}

func TestCompareDefaults(t *testing.T) {
	img1, img2 := solidPNG(t, 16, 16, red), solidPNG(t, 16, 16, blue)
	emb := &stubEmbedder{vectors: map[string]embedding.Vector{
		string(img1): {1, 0},
		string(img2): {0.6, 0.8},
	}}
	e, err := NewEngine(emb, DefaultOptions(), fixedSource(2.0), nil)
	if err != nil {
		t.Fatalf("NewEngine: %v", err)
	}

	r, err := e.Compare(Request{Image1: img1, Image2: img2})
	if err != nil {
		t.Fatalf("Compare: %v", err)
	}
	if r.MethodUsed() != MethodHybrid {
		t.Errorf("default method = %q, want hybrid", r.MethodUsed())
	}
	want := e.CompareHybrid(img1, img2, DefaultEmbeddingWeight, DefaultSSIMWeight, 2.0)
	if *r.SimilarityPercentage != *want.SimilarityPercentage {
		t.Errorf("settings sensitivity not applied: %v vs %v", *r.SimilarityPercentage, *want.SimilarityPercentage)
	}

	override, _ := e.Compare(Request{Image1: img1, Image2: img2, Sensitivity: ptr(0.5)})
	if *override.SimilarityPercentage <= *r.SimilarityPercentage {
		t.Errorf("explicit sensitivity 0.5 should score above settings value 2.0: %v vs %v",
			*override.SimilarityPercentage, *r.SimilarityPercentage)
	}

	if _, err := e.Compare(Request{Image1: img1}); !errors.Is(err, ErrInvalidParameter) {
		t.Errorf("missing image: expected ErrInvalidParameter, got %v", err)
	}
}

func TestCompareEmbedding(t *testing.T) {
	img1, img2 := gradientPNG(t, 16, 16), solidPNG(t, 16, 16, red)
	vectors := map[string]embedding.Vector{
		string(img1): {1, 0},
		string(img2): {0.6, 0.8},
	}

	t.Run("score is the raw cosine", func(t *testing.T) {
		e := newTestEngine(t, &stubEmbedder{vectors: vectors}, nil)
		r := e.CompareEmbedding(img1, img2, 1.0)
		if r.MethodUsed() != MethodEmbedding {
			t.Fatalf("method = %q", r.MethodUsed())
		}
		if !almostEqual(*r.SimilarityScore, 0.6, 1e-4) {
			t.Errorf("score = %v, want 0.6", *r.SimilarityScore)
		}
		// 0.6 lies in the ambiguous band: 0.1 + 0.3*1.25 = 0.475.
		if !almostEqual(*r.SimilarityPercentage, 47.5, 0.01) {
			t.Errorf("percentage = %v, want 47.5", *r.SimilarityPercentage)
		}
	})

	t.Run("linear mapping when non-linear calibration is off", func(t *testing.T) {
		e := newTestEngine(t, &stubEmbedder{vectors: vectors}, func(o *Options) { o.UseNonlinear = false })
		r := e.CompareEmbedding(img1, img2, 3.0)
		if !almostEqual(*r.SimilarityPercentage, 60, 0.01) {
			t.Errorf("percentage = %v, want 60", *r.SimilarityPercentage)
		}
	})

	t.Run("negative cosine clamps to zero", func(t *testing.T) {
		e := newTestEngine(t, &stubEmbedder{vectors: map[string]embedding.Vector{
			string(img1): {1, 0},
			string(img2): {-1, 0},
		}}, nil)
		r := e.CompareEmbedding(img1, img2, 1.0)
		if *r.SimilarityScore != 0 || *r.SimilarityPercentage != 0 {
			t.Errorf("got %v / %v, want 0 / 0", *r.SimilarityScore, *r.SimilarityPercentage)
		}
	})

	t.Run("failed extraction falls back", func(t *testing.T) {
		emb := &stubEmbedder{vectors: map[string]embedding.Vector{string(img1): {1, 0}}, status: embedding.StatusFailed}
		e := newTestEngine(t, emb, nil)
		if r := e.CompareEmbedding(img1, img2, 1.0); r.MethodUsed() != MethodStructural {
			t.Errorf("method = %q, want ssim", r.MethodUsed())
		}
	})

	t.Run("invalid sensitivity", func(t *testing.T) {
		e := newTestEngine(t, &stubEmbedder{vectors: vectors}, nil)
		r := e.CompareEmbedding(img1, img2, 0)
		if r.Success || !strings.HasPrefix(*r.Error, "Embedding comparison failed") {
			t.Errorf("unexpected result %+v", r)
		}
	})
}

func TestCompareHybrid(t *testing.T) {
	img1, img2 := gradientPNG(t, 24, 24), solidPNG(t, 24, 24, blue)
	vectors := map[string]embedding.Vector{
		string(img1): {0.8, 0.6},
		string(img2): {0.6, 0.8},
	}

	t.Run("embedding-only weights match the embedding method", func(t *testing.T) {
		e := newTestEngine(t, &stubEmbedder{vectors: vectors}, nil)
		h := e.CompareHybrid(img1, img2, 1, 0, 1.0)
		m := e.CompareEmbedding(img1, img2, 1.0)
		if *h.SimilarityScore != *m.SimilarityScore {
			t.Errorf("score = %v, want %v", *h.SimilarityScore, *m.SimilarityScore)
		}
		if *h.SimilarityPercentage != *m.SimilarityPercentage {
			t.Errorf("percentage = %v, want %v", *h.SimilarityPercentage, *m.SimilarityPercentage)
		}
	})

	t.Run("non-positive weights use the defaults", func(t *testing.T) {
		e := newTestEngine(t, &stubEmbedder{vectors: vectors}, nil)
		got := e.CompareHybrid(img1, img2, 0, 0, 1.0)
		want := e.CompareHybrid(img1, img2, DefaultEmbeddingWeight, DefaultSSIMWeight, 1.0)
		if *got.SimilarityScore != *want.SimilarityScore {
			t.Errorf("score = %v, want %v", *got.SimilarityScore, *want.SimilarityScore)
		}
	})

	t.Run("unavailable embeddings return the ssim result", func(t *testing.T) {
		e := newTestEngine(t, unavailableEmbedder(), nil)
		got := e.CompareHybrid(img1, img2, 0.7, 0.3, 1.0)
		want := e.CompareStructural(img1, img2)
		if got.MethodUsed() != MethodStructural || *got.SimilarityScore != *want.SimilarityScore {
			t.Errorf("got %+v, want structural result", got)
		}
	})

	t.Run("ssim failure uses embeddings", func(t *testing.T) {
		junk := []byte("not an image")
		emb := &stubEmbedder{vectors: map[string]embedding.Vector{
			string(junk): {1, 0},
			string(img2): {1, 0},
		}}
		e := newTestEngine(t, emb, nil)
		r := e.CompareHybrid(junk, img2, 0.7, 0.3, 1.0)
		if r.MethodUsed() != MethodEmbedding {
			t.Errorf("method = %q, want embeddings", r.MethodUsed())
		}
	})

	t.Run("legacy adjustment when non-linear calibration is off", func(t *testing.T) {
		e := newTestEngine(t, &stubEmbedder{vectors: vectors}, func(o *Options) { o.UseNonlinear = false })
		r := e.CompareHybrid(img1, img2, 0.7, 0.3, 2.0)
		want := LegacyAdjust(*r.SimilarityScore, 2.0) * 100
		if !almostEqual(*r.SimilarityPercentage, want, 0.01) {
			t.Errorf("percentage = %v, want %v", *r.SimilarityPercentage, want)
		}
	})

	t.Run("nothing decodes", func(t *testing.T) {
		e := newTestEngine(t, unavailableEmbedder(), nil)
		r := e.CompareHybrid([]byte("a"), []byte("b"), 0.7, 0.3, 1.0)
		if r.Success || r.SimilarityPercentage != nil {
			t.Fatalf("expected failure, got %+v", r)
		}
	})
}

func TestResultJSON(t *testing.T) {
	e := newTestEngine(t, nil, nil)
	r := e.CompareStructural([]byte("x"), []byte("y"))
	raw, err := json.Marshal(r)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	if !strings.Contains(string(raw), `"similarity_percentage":null`) {
		t.Errorf("failed result should serialize a null percentage: %s", raw)
	}

	img := solidPNG(t, 4, 4, red)
	raw, _ = json.Marshal(e.CompareStructural(img, img))
	if !strings.Contains(string(raw), `"method":"ssim"`) {
		t.Errorf("unexpected method name: %s", raw)
	}
}
