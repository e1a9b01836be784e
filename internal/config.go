package internal

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"image-stand/internal/embedding"
	"image-stand/internal/similarity"
)

type Config struct {
	Host string
	Port int

	KieAPIKey       string
	KieBaseURL      string
	KiePollInterval time.Duration
	KieMaxWait      time.Duration

	GeminiAPIKey   string
	OpenAIAPIKey   string
	SpeechProvider string // "gemini" or "openai"

	StorageBackend string // "local" or "s3"
	ImagesDir      string
	S3Endpoint     string
	S3Region       string
	S3Bucket       string
	S3AccessKey    string
	S3SecretKey    string
	ImagesPrefix   string
	CatalogKey     string // "images.json" - fingerprints of stored images

	MaxAge          time.Duration // 0 disables cleanup
	CleanupSchedule string

	SimilarityMethod      similarity.Method
	SimilaritySensitivity float64
	EmbeddingWeight       float64
	SSIMWeight            float64
	MinThreshold          float64
	MaxThreshold          float64
	UseNonlinear          bool

	EncoderBackend     string
	CLIPModelPath      string
	ONNXRuntimeLib     string
	EmbeddingCacheSize int

	CompareWorkers int // 0 = 3/4 of the CPUs
	CompareTimeout time.Duration

	ErrorsLog string
}

func LoadConfig() (Config, error) {
	cfg := Config{
		Host: firstNonEmpty(os.Getenv("HOST"), "0.0.0.0"),
		Port: 8000,

		KieAPIKey:       os.Getenv("KIE_API_KEY"),
		KieBaseURL:      firstNonEmpty(os.Getenv("KIE_BASE_URL"), "https://api.kie.ai"),
		KiePollInterval: 3 * time.Second,
		KieMaxWait:      120 * time.Second,

		GeminiAPIKey:   firstNonEmpty(os.Getenv("GOOGLE_API_KEY"), os.Getenv("GEMINI_API_KEY")),
		OpenAIAPIKey:   os.Getenv("OPENAI_API_KEY"),
		SpeechProvider: strings.ToLower(firstNonEmpty(os.Getenv("SPEECH_PROVIDER"), "gemini")),

		StorageBackend: strings.ToLower(firstNonEmpty(os.Getenv("STORAGE_BACKEND"), "local")),
		ImagesDir:      firstNonEmpty(os.Getenv("IMAGES_DIR"), "images"),
		S3Endpoint:     os.Getenv("S3_ENDPOINT"),
		S3Region:       os.Getenv("S3_REGION"),
		S3Bucket:       os.Getenv("S3_BUCKET"),
		S3AccessKey:    firstNonEmpty(os.Getenv("S3_ACCESS_KEY"), os.Getenv("S3_ACCESS_KEY_ID")),
		S3SecretKey:    firstNonEmpty(os.Getenv("S3_SECRET_ACCESS_KEY"), os.Getenv("S3_SECRET_ACCESS_KEY_ID")),
		ImagesPrefix:   firstNonEmpty(os.Getenv("IMAGES_PREFIX"), "images/"),
		CatalogKey:     "images.json",

		MaxAge:          0,
		CleanupSchedule: firstNonEmpty(os.Getenv("CLEANUP_SCHEDULE"), "@hourly"),

		SimilarityMethod:      similarity.MethodHybrid,
		SimilaritySensitivity: similarity.DefaultSensitivity,
		EmbeddingWeight:       similarity.DefaultEmbeddingWeight,
		SSIMWeight:            similarity.DefaultSSIMWeight,
		MinThreshold:          similarity.DefaultMinThreshold,
		MaxThreshold:          similarity.DefaultMaxThreshold,
		UseNonlinear:          true,

		EncoderBackend:     strings.ToLower(firstNonEmpty(os.Getenv("ENCODER_BACKEND"), embedding.BackendCLIP)),
		CLIPModelPath:      firstNonEmpty(os.Getenv("CLIP_MODEL_PATH"), "models/clip-vit-base-patch32-vision.onnx"),
		ONNXRuntimeLib:     os.Getenv("ONNXRUNTIME_LIB"),
		EmbeddingCacheSize: 256,

		CompareTimeout: 60 * time.Second,

		ErrorsLog: firstNonEmpty(os.Getenv("ERRORS_LOG"), "errors.log"),
	}

	// Load Port from env
	if v := os.Getenv("PORT"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.Port = n
		}
	}

	// Load kie.ai polling from env (e.g., "3s", "2m")
	if v := os.Getenv("KIE_POLL_INTERVAL"); v != "" {
		if d, err := time.ParseDuration(v); err == nil && d > 0 {
			cfg.KiePollInterval = d
		}
	}
	if v := os.Getenv("KIE_MAX_WAIT"); v != "" {
		if d, err := time.ParseDuration(v); err == nil && d > 0 {
			cfg.KieMaxWait = d
		}
	}

	// Load MaxAge from env
	if v := os.Getenv("MAX_AGE"); v != "" {
		if d, err := time.ParseDuration(v); err == nil && d >= 0 {
			cfg.MaxAge = d
		}
	}

	if v := os.Getenv("EMBEDDING_CACHE_SIZE"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n >= 0 {
			cfg.EmbeddingCacheSize = n
		}
	}

	if v := os.Getenv("COMPARE_WORKERS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.CompareWorkers = n
		}
	}

	if v := os.Getenv("COMPARE_TIMEOUT"); v != "" {
		if d, err := time.ParseDuration(v); err == nil && d > 0 {
			cfg.CompareTimeout = d
		}
	}

	// Calibration settings: an unparsable value is a load error.
	if v := os.Getenv("SIMILARITY_MODEL"); v != "" {
		m, err := similarity.ParseMethod(v)
		if err != nil {
			return cfg, fmt.Errorf("SIMILARITY_MODEL: %w", err)
		}
		cfg.SimilarityMethod = m
	}
	floats := []struct {
		name string
		dst  *float64
	}{
		{"SIMILARITY_SENSITIVITY", &cfg.SimilaritySensitivity},
		{"SIMILARITY_EMBEDDING_WEIGHT", &cfg.EmbeddingWeight},
		{"SIMILARITY_SSIM_WEIGHT", &cfg.SSIMWeight},
		{"SIMILARITY_MIN_THRESHOLD", &cfg.MinThreshold},
		{"SIMILARITY_MAX_THRESHOLD", &cfg.MaxThreshold},
	}
	for _, f := range floats {
		if err := envFloat(f.name, f.dst); err != nil {
			return cfg, err
		}
	}
	if v := os.Getenv("SIMILARITY_USE_NONLINEAR"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return cfg, fmt.Errorf("SIMILARITY_USE_NONLINEAR: %w", err)
		}
		cfg.UseNonlinear = b
	}

	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// Validate checks the settings a running server cannot recover from.
func (c Config) Validate() error {
	if err := similarity.ValidateSensitivity(c.SimilaritySensitivity); err != nil {
		return fmt.Errorf("SIMILARITY_SENSITIVITY: %w", err)
	}
	if err := c.Similarity().Validate(); err != nil {
		return err
	}
	switch c.StorageBackend {
	case "local":
	case "s3":
		if c.S3Endpoint == "" || c.S3Region == "" || c.S3Bucket == "" || c.S3AccessKey == "" || c.S3SecretKey == "" {
			return errors.New("S3_* env vars are required when STORAGE_BACKEND=s3")
		}
	default:
		return fmt.Errorf("STORAGE_BACKEND: unknown backend %q (want local or s3)", c.StorageBackend)
	}
	switch c.SpeechProvider {
	case "gemini", "openai":
	default:
		return fmt.Errorf("SPEECH_PROVIDER: unknown provider %q (want gemini or openai)", c.SpeechProvider)
	}
	return nil
}

// Similarity returns the engine options described by the config.
func (c Config) Similarity() similarity.Options {
	return similarity.Options{
		DefaultMethod:   c.SimilarityMethod,
		EmbeddingWeight: c.EmbeddingWeight,
		SSIMWeight:      c.SSIMWeight,
		Thresholds:      similarity.Thresholds{Min: c.MinThreshold, Max: c.MaxThreshold},
		UseNonlinear:    c.UseNonlinear,
	}
}

// Encoder returns the embedding backend selection.
func (c Config) Encoder() embedding.BackendConfig {
	return embedding.BackendConfig{
		Backend: c.EncoderBackend,
		CLIP: embedding.CLIPConfig{
			ModelPath:   c.CLIPModelPath,
			LibraryPath: c.ONNXRuntimeLib,
		},
		Gemini: embedding.GeminiConfig{
			APIKey: c.GeminiAPIKey,
		},
	}
}

func (c Config) Addr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

func envFloat(name string, dst *float64) error {
	v := os.Getenv(name)
	if v == "" {
		return nil
	}
	f, err := strconv.ParseFloat(strings.TrimSpace(v), 64)
	if err != nil {
		return fmt.Errorf("%s: %w", name, err)
	}
	*dst = f
	return nil
}

func firstNonEmpty(v ...string) string {
	for _, s := range v {
		if s != "" {
			return s
		}
	}
	return ""
}
