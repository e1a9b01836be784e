package embedding

import (
	"fmt"
	"os"
	"sync"

	ort "github.com/yalue/onnxruntime_go"
)

const (
	defaultCLIPInput  = "pixel_values"
	defaultCLIPOutput = "image_embeds"
	defaultCLIPDims   = 512
)

// CLIPConfig points at a CLIP vision tower exported to ONNX (ViT-B/32 by default:
// input "pixel_values" 1x3x224x224, output "image_embeds" 1x512).
type CLIPConfig struct {
	ModelPath   string
	LibraryPath string
	InputName   string
	OutputName  string
	Dims        int
}

func (c CLIPConfig) withDefaults() CLIPConfig {
	if c.InputName == "" {
		c.InputName = defaultCLIPInput
	}
	if c.OutputName == "" {
		c.OutputName = defaultCLIPOutput
	}
	if c.Dims <= 0 {
		c.Dims = defaultCLIPDims
	}
	return c
}

// CLIP returns a Loader for the ONNX encoder. A missing model file or onnxruntime
// shared library makes the encoder unavailable.
func CLIP(cfg CLIPConfig) Loader {
	cfg = cfg.withDefaults()
	return func() (Encoder, error) {
		if cfg.ModelPath == "" {
			return nil, fmt.Errorf("%w: CLIP_MODEL_PATH not set", ErrUnavailable)
		}
		if _, err := os.Stat(cfg.ModelPath); err != nil {
			return nil, fmt.Errorf("%w: clip model: %v", ErrUnavailable, err)
		}
		if cfg.LibraryPath != "" {
			ort.SetSharedLibraryPath(cfg.LibraryPath)
		}
		if !ort.IsInitialized() {
			if err := ort.InitializeEnvironment(); err != nil {
				return nil, fmt.Errorf("%w: onnxruntime: %v", ErrUnavailable, err)
			}
		}

		input, err := ort.NewEmptyTensor[float32](ort.NewShape(1, 3, clipInputSize, clipInputSize))
		if err != nil {
			return nil, fmt.Errorf("%w: input tensor: %v", ErrUnavailable, err)
		}
		output, err := ort.NewEmptyTensor[float32](ort.NewShape(1, int64(cfg.Dims)))
		if err != nil {
			input.Destroy()
			return nil, fmt.Errorf("%w: output tensor: %v", ErrUnavailable, err)
		}
		session, err := ort.NewAdvancedSession(cfg.ModelPath,
			[]string{cfg.InputName}, []string{cfg.OutputName},
			[]ort.Value{input}, []ort.Value{output}, nil)
		if err != nil {
			input.Destroy()
			output.Destroy()
			return nil, fmt.Errorf("%w: onnx session: %v", ErrUnavailable, err)
		}
		return &clipEncoder{session: session, input: input, output: output}, nil
	}
}

// clipEncoder binds one input and one output tensor to its session, so runs are
// serialized.
type clipEncoder struct {
	mu      sync.Mutex
	session *ort.AdvancedSession
	input   *ort.Tensor[float32]
	output  *ort.Tensor[float32]
}

func (e *clipEncoder) Name() string { return "clip" }

func (e *clipEncoder) Encode(src Source) ([]float32, error) {
	pixels := clipPixels(src.Image)

	e.mu.Lock()
	defer e.mu.Unlock()
	copy(e.input.GetData(), pixels)
	if err := e.session.Run(); err != nil {
		return nil, fmt.Errorf("clip run: %w", err)
	}
	return append([]float32(nil), e.output.GetData()...), nil
}

func (e *clipEncoder) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	var firstErr error
	for _, destroy := range []func() error{e.session.Destroy, e.input.Destroy, e.output.Destroy} {
		if err := destroy(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}
