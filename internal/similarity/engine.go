package similarity

import (
	"fmt"
	"math"

	"image-stand/internal/embedding"
	"image-stand/internal/logging"
)

const (
	DefaultEmbeddingWeight = 0.7
	DefaultSSIMWeight      = 0.3
)

// Embedder extracts embeddings. *embedding.ModelHandle satisfies it.
type Embedder interface {
	Extract(data []byte) embedding.Extraction
}

// SensitivitySource supplies the process-wide sensitivity at call time.
type SensitivitySource interface {
	Sensitivity() float64
}

// Options are read-only at call time.
type Options struct {
	DefaultMethod   Method
	EmbeddingWeight float64
	SSIMWeight      float64
	Thresholds      Thresholds
	UseNonlinear    bool
}

func DefaultOptions() Options {
	return Options{
		DefaultMethod:   MethodHybrid,
		EmbeddingWeight: DefaultEmbeddingWeight,
		SSIMWeight:      DefaultSSIMWeight,
		Thresholds:      DefaultThresholds(),
		UseNonlinear:    true,
	}
}

func (o Options) Validate() error {
	switch o.DefaultMethod {
	case MethodStructural, MethodEmbedding, MethodHybrid:
	default:
		return fmt.Errorf("%w: unknown default method %q", ErrInvalidParameter, o.DefaultMethod)
	}
	return o.Thresholds.Validate()
}

// Request is the input of Compare. Nil Method and Sensitivity mean "use the
// configured default" and "use the current settings value".
type Request struct {
	Image1      []byte
	Image2      []byte
	Method      *Method
	Sensitivity *float64
}

// Engine scores image pairs. It holds no per-call state and is safe for
// concurrent use as long as its Embedder is.
type Engine struct {
	embedder    Embedder
	opts        Options
	sensitivity SensitivitySource
	log         *logging.Logger
}

type fixedSensitivity float64

func (f fixedSensitivity) Sensitivity() float64 { return float64(f) }

type noEmbedder struct{}

func (noEmbedder) Extract([]byte) embedding.Extraction {
	return embedding.Extraction{Status: embedding.StatusUnavailable, Err: ErrModelUnavailable}
}

// NewEngine validates opts. A nil embedder behaves as permanently unavailable, a nil
// sensitivity source as DefaultSensitivity, a nil logger as logging.Discard().
func NewEngine(embedder Embedder, opts Options, sensitivity SensitivitySource, log *logging.Logger) (*Engine, error) {
	if err := opts.Validate(); err != nil {
		return nil, err
	}
	if embedder == nil {
		embedder = noEmbedder{}
	}
	if sensitivity == nil {
		sensitivity = fixedSensitivity(DefaultSensitivity)
	}
	if log == nil {
		log = logging.Discard()
	}
	return &Engine{embedder: embedder, opts: opts, sensitivity: sensitivity, log: log}, nil
}

func (e *Engine) Options() Options { return e.opts }

// Compare resolves the method and sensitivity of req and dispatches to the matching
// entry point. Parameter problems are returned as an error wrapping
// ErrInvalidParameter before any image is decoded; everything after that is
// reported through the Result.
func (e *Engine) Compare(req Request) (Result, error) {
	method := e.opts.DefaultMethod
	if req.Method != nil {
		method = *req.Method
	}
	sensitivity := e.sensitivity.Sensitivity()
	if req.Sensitivity != nil {
		sensitivity = *req.Sensitivity
	}

	if err := ValidateSensitivity(sensitivity); err != nil {
		return failed(err.Error()), err
	}
	if len(req.Image1) == 0 {
		err := fmt.Errorf("%w: first image is required", ErrInvalidParameter)
		return failed(err.Error()), err
	}
	if len(req.Image2) == 0 {
		err := fmt.Errorf("%w: second image is required", ErrInvalidParameter)
		return failed(err.Error()), err
	}

	switch method {
	case MethodStructural:
		return e.CompareStructural(req.Image1, req.Image2), nil
	case MethodEmbedding:
		return e.CompareEmbedding(req.Image1, req.Image2, sensitivity), nil
	case MethodHybrid:
		return e.CompareHybrid(req.Image1, req.Image2, e.opts.EmbeddingWeight, e.opts.SSIMWeight, sensitivity), nil
	default:
		err := fmt.Errorf("%w: unknown comparison method %q", ErrInvalidParameter, method)
		return failed(err.Error()), err
	}
}

// CompareStructural scores the pair with SSIM only. No calibration is applied.
func (e *Engine) CompareStructural(img1, img2 []byte) Result {
	raw, err := structuralFromBytes(img1, img2)
	if err != nil {
		e.log.Warnf("similarity: ssim: %v", err)
		return failed(fmt.Sprintf("Image comparison failed: %v", err))
	}
	return e.structuralResult(raw)
}

func (e *Engine) structuralResult(raw float64) Result {
	return succeeded(MethodStructural, raw, toPercentage(raw))
}

// CompareEmbedding scores the pair by cosine similarity of their embeddings. When
// either embedding cannot be produced it falls back to CompareStructural. The
// returned score is the raw cosine; the percentage is calibrated.
func (e *Engine) CompareEmbedding(img1, img2 []byte, sensitivity float64) Result {
	if err := ValidateSensitivity(sensitivity); err != nil {
		return failed(fmt.Sprintf("Embedding comparison failed: %v", err))
	}

	sim, ok := e.embeddingSimilarity(img1, img2)
	if !ok {
		return e.CompareStructural(img1, img2)
	}

	scaled := sim*2 - 1
	if e.opts.UseNonlinear {
		scaled = Calibrate(sim, sensitivity, e.opts.Thresholds.Min, e.opts.Thresholds.Max, true)
	}
	return succeeded(MethodEmbedding, sim, toPercentage(scaled))
}

// CompareHybrid blends SSIM and embedding similarity with the given weights, which
// are normalized to sum to 1 (DefaultEmbeddingWeight/DefaultSSIMWeight when the sum
// is not positive). If SSIM fails the embedding method is used instead; if the
// embeddings are unavailable the SSIM result is returned on its own.
func (e *Engine) CompareHybrid(img1, img2 []byte, embeddingWeight, ssimWeight, sensitivity float64) Result {
	if err := ValidateSensitivity(sensitivity); err != nil {
		return failed(fmt.Sprintf("Hybrid comparison failed: %v", err))
	}
	we, ws := normalizeWeights(embeddingWeight, ssimWeight)

	raw, err := structuralFromBytes(img1, img2)
	if err != nil {
		e.log.Warnf("similarity: hybrid: ssim failed, using embeddings: %v", err)
		return e.CompareEmbedding(img1, img2, sensitivity)
	}

	sim, ok := e.embeddingSimilarity(img1, img2)
	if !ok {
		return e.structuralResult(raw)
	}

	// The structural component enters at its reported precision.
	ssimNorm := (round(raw, 4) + 1) / 2
	combined := clamp(ssimNorm*ws+sim*we, 0, 1)

	var scaled float64
	if e.opts.UseNonlinear {
		scaled = Calibrate(combined, sensitivity, e.opts.Thresholds.Min, e.opts.Thresholds.Max, true)
	} else {
		scaled = LegacyAdjust(combined, sensitivity)*2 - 1
	}
	return succeeded(MethodHybrid, combined, toPercentage(scaled))
}

// embeddingSimilarity returns the cosine similarity clamped to [0,1], or false when
// either extraction is not OK.
func (e *Engine) embeddingSimilarity(img1, img2 []byte) (float64, bool) {
	ex1 := e.embedder.Extract(img1)
	if !ex1.OK() {
		e.log.Warnf("similarity: image 1 embedding %s, falling back to ssim: %v", ex1.Status, ex1.Err)
		return 0, false
	}
	ex2 := e.embedder.Extract(img2)
	if !ex2.OK() {
		e.log.Warnf("similarity: image 2 embedding %s, falling back to ssim: %v", ex2.Status, ex2.Err)
		return 0, false
	}
	return clamp(CosineSimilarity(ex1.Vector, ex2.Vector), 0, 1), true
}

func normalizeWeights(embeddingWeight, ssimWeight float64) (float64, float64) {
	total := embeddingWeight + ssimWeight
	if total <= 0 || math.IsNaN(total) || math.IsInf(total, 0) {
		return DefaultEmbeddingWeight, DefaultSSIMWeight
	}
	return embeddingWeight / total, ssimWeight / total
}
