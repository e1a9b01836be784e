package embedding

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"google.golang.org/genai"
)

const (
	DefaultCaptionModel   = "gemini-2.0-flash-lite"
	DefaultEmbeddingModel = "text-embedding-004"

	captionPrompt = "Describe this image in detail for visual search: main subjects, their " +
		"attributes and arrangement, colours, style, setting and any visible text. " +
		"Answer with one plain paragraph."
)

// GeminiConfig configures the caption-then-embed encoder.
type GeminiConfig struct {
	APIKey         string
	CaptionModel   string
	EmbeddingModel string
	Timeout        time.Duration
}

// Gemini returns a Loader for a vision-language embedding served by the Gemini API:
// a multimodal model captions the image and the caption is embedded with the
// text embedding model. Without an API key the encoder is unavailable.
func Gemini(cfg GeminiConfig) Loader {
	if cfg.CaptionModel == "" {
		cfg.CaptionModel = DefaultCaptionModel
	}
	if cfg.EmbeddingModel == "" {
		cfg.EmbeddingModel = DefaultEmbeddingModel
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	return func() (Encoder, error) {
		if cfg.APIKey == "" {
			return nil, fmt.Errorf("%w: GOOGLE_API_KEY not set", ErrUnavailable)
		}
		client, err := genai.NewClient(context.Background(), &genai.ClientConfig{
			APIKey:  cfg.APIKey,
			Backend: genai.BackendGeminiAPI,
		})
		if err != nil {
			return nil, fmt.Errorf("%w: genai client: %v", ErrUnavailable, err)
		}
		return &geminiEncoder{client: client, cfg: cfg}, nil
	}
}

type geminiEncoder struct {
	client *genai.Client
	cfg    GeminiConfig
}

func (e *geminiEncoder) Name() string { return "gemini" }

func (e *geminiEncoder) Encode(src Source) ([]float32, error) {
	ctx, cancel := context.WithTimeout(context.Background(), e.cfg.Timeout)
	defer cancel()

	caption, err := e.caption(ctx, src)
	if err != nil {
		return nil, err
	}

	resp, err := e.client.Models.EmbedContent(ctx, e.cfg.EmbeddingModel, []*genai.Content{
		genai.NewContentFromText(caption, genai.RoleUser),
	}, nil)
	if err != nil {
		return nil, fmt.Errorf("embed content: %w", err)
	}
	if len(resp.Embeddings) == 0 || resp.Embeddings[0] == nil {
		return nil, errors.New("embed content: no embedding returned")
	}
	return resp.Embeddings[0].Values, nil
}

func (e *geminiEncoder) caption(ctx context.Context, src Source) (string, error) {
	parts := []*genai.Part{
		genai.NewPartFromBytes(src.Bytes, mimeType(src.Format)),
		genai.NewPartFromText(captionPrompt),
	}
	resp, err := e.client.Models.GenerateContent(ctx, e.cfg.CaptionModel, []*genai.Content{
		genai.NewContentFromParts(parts, genai.RoleUser),
	}, &genai.GenerateContentConfig{Temperature: genai.Ptr[float32](0)})
	if err != nil {
		return "", fmt.Errorf("generate caption: %w", err)
	}
	caption := strings.TrimSpace(resp.Text())
	if caption == "" {
		return "", errors.New("generate caption: empty response")
	}
	return caption, nil
}

func (e *geminiEncoder) Close() error { return nil }

func mimeType(format string) string {
	switch format {
	case "jpeg", "png", "gif", "webp", "bmp", "tiff":
		return "image/" + format
	default:
		return "application/octet-stream"
	}
}
