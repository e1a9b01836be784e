// Package speech converts recorded audio into text through a hosted model.
package speech

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"strings"

	openai "github.com/openai/openai-go/v2"
	"github.com/openai/openai-go/v2/option"
	"google.golang.org/genai"
)

const (
	ProviderGemini = "gemini"
	ProviderOpenAI = "openai"

	DefaultGeminiModel = "gemini-2.0-flash-lite"

	transcribePrompt = "Transcribe this audio to text. Return only the transcribed text without any additional commentary."
)

var (
	ErrNotConfigured = errors.New("speech-to-text API key not configured")
	ErrEmptyAudio    = errors.New("audio is empty")
)

type Transcriber interface {
	Transcribe(ctx context.Context, audio []byte, mimeType string) (string, error)
}

type Config struct {
	Provider     string
	GeminiAPIKey string
	OpenAIAPIKey string
	OpenAIURL    string // optional base URL override
}

// New returns the transcriber for cfg.Provider. A missing key is not an error here;
// the transcriber reports ErrNotConfigured when used.
func New(cfg Config) (Transcriber, error) {
	switch strings.ToLower(cfg.Provider) {
	case ProviderGemini, "":
		return &GeminiTranscriber{APIKey: cfg.GeminiAPIKey, Model: DefaultGeminiModel}, nil
	case ProviderOpenAI:
		return NewOpenAITranscriber(cfg.OpenAIAPIKey, cfg.OpenAIURL), nil
	default:
		return nil, fmt.Errorf("unknown speech provider %q", cfg.Provider)
	}
}

// GeminiTranscriber sends the audio inline to a multimodal Gemini model.
type GeminiTranscriber struct {
	APIKey string
	Model  string
}

func (g *GeminiTranscriber) Transcribe(ctx context.Context, audio []byte, mimeType string) (string, error) {
	if g.APIKey == "" {
		return "", fmt.Errorf("%w: set GOOGLE_API_KEY", ErrNotConfigured)
	}
	if len(audio) == 0 {
		return "", ErrEmptyAudio
	}

	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  g.APIKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return "", fmt.Errorf("genai client: %w", err)
	}

	parts := []*genai.Part{
		genai.NewPartFromText(transcribePrompt),
		genai.NewPartFromBytes(audio, normalizeMime(mimeType)),
	}
	resp, err := client.Models.GenerateContent(ctx, g.Model, []*genai.Content{
		genai.NewContentFromParts(parts, genai.RoleUser),
	}, &genai.GenerateContentConfig{
		Temperature:     genai.Ptr[float32](0.1),
		MaxOutputTokens: 1000,
	})
	if err != nil {
		return "", fmt.Errorf("generate content: %w", err)
	}
	return strings.TrimSpace(resp.Text()), nil
}

// OpenAITranscriber uses the Whisper transcription endpoint.
type OpenAITranscriber struct {
	configured bool
	client     openai.Client
}

func NewOpenAITranscriber(apiKey, baseURL string) *OpenAITranscriber {
	opts := []option.RequestOption{option.WithAPIKey(apiKey)}
	if baseURL != "" {
		opts = append(opts, option.WithBaseURL(baseURL))
	}
	return &OpenAITranscriber{configured: apiKey != "", client: openai.NewClient(opts...)}
}

func (o *OpenAITranscriber) Transcribe(ctx context.Context, audio []byte, mimeType string) (string, error) {
	if !o.configured {
		return "", fmt.Errorf("%w: set OPENAI_API_KEY", ErrNotConfigured)
	}
	if len(audio) == 0 {
		return "", ErrEmptyAudio
	}

	mimeType = normalizeMime(mimeType)
	resp, err := o.client.Audio.Transcriptions.New(ctx, openai.AudioTranscriptionNewParams{
		File:  openai.File(bytes.NewReader(audio), "recording."+extension(mimeType), mimeType),
		Model: openai.AudioModelWhisper1,
	})
	if err != nil {
		return "", fmt.Errorf("whisper: %w", err)
	}
	return strings.TrimSpace(resp.Text), nil
}

// normalizeMime drops codec parameters ("audio/webm;codecs=opus") and defaults to webm,
// which is what browsers record.
func normalizeMime(mimeType string) string {
	mimeType = strings.TrimSpace(strings.SplitN(mimeType, ";", 2)[0])
	if mimeType == "" || mimeType == "application/octet-stream" {
		return "audio/webm"
	}
	return mimeType
}

func extension(mimeType string) string {
	switch mimeType {
	case "audio/mpeg", "audio/mp3":
		return "mp3"
	case "audio/wav", "audio/x-wav", "audio/wave":
		return "wav"
	case "audio/ogg":
		return "ogg"
	case "audio/mp4", "audio/m4a", "audio/x-m4a":
		return "m4a"
	default:
		return "webm"
	}
}
