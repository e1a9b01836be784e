package internal

import (
	"errors"
	"testing"
	"time"

	"image-stand/internal/similarity"
)

// clearEnv blanks every variable LoadConfig reads that could leak in from the host.
func clearEnv(t *testing.T) {
	t.Helper()
	for _, name := range []string{
		"HOST", "PORT", "KIE_API_KEY", "KIE_BASE_URL", "KIE_POLL_INTERVAL", "KIE_MAX_WAIT",
		"GOOGLE_API_KEY", "GEMINI_API_KEY", "OPENAI_API_KEY", "SPEECH_PROVIDER",
		"STORAGE_BACKEND", "IMAGES_DIR", "S3_ENDPOINT", "S3_REGION", "S3_BUCKET",
		"S3_ACCESS_KEY", "S3_ACCESS_KEY_ID", "S3_SECRET_ACCESS_KEY", "S3_SECRET_ACCESS_KEY_ID",
		"IMAGES_PREFIX", "MAX_AGE", "CLEANUP_SCHEDULE",
		"SIMILARITY_MODEL", "SIMILARITY_SENSITIVITY", "SIMILARITY_EMBEDDING_WEIGHT",
		"SIMILARITY_SSIM_WEIGHT", "SIMILARITY_MIN_THRESHOLD", "SIMILARITY_MAX_THRESHOLD",
		"SIMILARITY_USE_NONLINEAR", "ENCODER_BACKEND", "CLIP_MODEL_PATH", "ONNXRUNTIME_LIB",
		"EMBEDDING_CACHE_SIZE", "COMPARE_WORKERS", "COMPARE_TIMEOUT", "ERRORS_LOG",
	} {
		t.Setenv(name, "")
	}
}

func TestLoadConfigDefaults(t *testing.T) {
	clearEnv(t)
	cfg, err := LoadConfig()
	if err != nil {
		t.Fatalf("LoadConfig: %v", err)
	}
	if cfg.Port != 8000 || cfg.Host != "0.0.0.0" {
		t.Errorf("addr = %s", cfg.Addr())
	}
	if cfg.SimilarityMethod != similarity.MethodHybrid {
		t.Errorf("method = %q", cfg.SimilarityMethod)
	}
	if cfg.SimilaritySensitivity != 1.0 || !cfg.UseNonlinear {
		t.Errorf("sensitivity = %v, nonlinear = %v", cfg.SimilaritySensitivity, cfg.UseNonlinear)
	}
	if cfg.StorageBackend != "local" || cfg.MaxAge != 0 {
		t.Errorf("storage = %q, max age = %v", cfg.StorageBackend, cfg.MaxAge)
	}
	opts := cfg.Similarity()
	if opts.Thresholds != similarity.DefaultThresholds() {
		t.Errorf("thresholds = %+v", opts.Thresholds)
	}
	if opts.EmbeddingWeight != 0.7 || opts.SSIMWeight != 0.3 {
		t.Errorf("weights = %v / %v", opts.EmbeddingWeight, opts.SSIMWeight)
	}
}

func TestLoadConfigOverrides(t *testing.T) {
	clearEnv(t)
	t.Setenv("PORT", "9090")
	t.Setenv("SIMILARITY_MODEL", "structural")
	t.Setenv("SIMILARITY_SENSITIVITY", "2.5")
	t.Setenv("SIMILARITY_USE_NONLINEAR", "false")
	t.Setenv("GEMINI_API_KEY", "gem-key")
	t.Setenv("COMPARE_WORKERS", "3")
	t.Setenv("COMPARE_TIMEOUT", "5s")
	t.Setenv("MAX_AGE", "2h")
	t.Setenv("ENCODER_BACKEND", "ICON")

	cfg, err := LoadConfig()
	if err != nil {
		t.Fatalf("LoadConfig: %v", err)
	}
	if cfg.Port != 9090 {
		t.Errorf("port = %d", cfg.Port)
	}
	if cfg.SimilarityMethod != similarity.MethodStructural {
		t.Errorf("method = %q", cfg.SimilarityMethod)
	}
	if cfg.SimilaritySensitivity != 2.5 || cfg.UseNonlinear {
		t.Errorf("sensitivity = %v, nonlinear = %v", cfg.SimilaritySensitivity, cfg.UseNonlinear)
	}
	if cfg.GeminiAPIKey != "gem-key" {
		t.Errorf("gemini key alias not honoured: %q", cfg.GeminiAPIKey)
	}
	if cfg.CompareWorkers != 3 || cfg.CompareTimeout != 5*time.Second || cfg.MaxAge != 2*time.Hour {
		t.Errorf("workers = %d, timeout = %v, max age = %v", cfg.CompareWorkers, cfg.CompareTimeout, cfg.MaxAge)
	}
	if cfg.Encoder().Backend != "icon" {
		t.Errorf("encoder backend = %q", cfg.Encoder().Backend)
	}
}

func TestLoadConfigRejectsBadCalibration(t *testing.T) {
	tests := []struct {
		name string
		env  map[string]string
	}{
		{"inverted thresholds", map[string]string{"SIMILARITY_MIN_THRESHOLD": "0.8", "SIMILARITY_MAX_THRESHOLD": "0.2"}},
		{"threshold above one", map[string]string{"SIMILARITY_MAX_THRESHOLD": "1.5"}},
		{"sensitivity out of range", map[string]string{"SIMILARITY_SENSITIVITY": "15"}},
		{"unparsable weight", map[string]string{"SIMILARITY_SSIM_WEIGHT": "heavy"}},
		{"unknown method", map[string]string{"SIMILARITY_MODEL": "pixels"}},
		{"bad nonlinear flag", map[string]string{"SIMILARITY_USE_NONLINEAR": "sometimes"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			clearEnv(t)
			for k, v := range tt.env {
				t.Setenv(k, v)
			}
			if _, err := LoadConfig(); err == nil {
				t.Error("expected error")
			}
		})
	}
}

func TestLoadConfigStorage(t *testing.T) {
	clearEnv(t)
	t.Setenv("STORAGE_BACKEND", "s3")
	if _, err := LoadConfig(); err == nil {
		t.Fatal("s3 without credentials should fail")
	}

	t.Setenv("S3_ENDPOINT", "http://localhost:9000")
	t.Setenv("S3_REGION", "us-east-1")
	t.Setenv("S3_BUCKET", "images")
	t.Setenv("S3_ACCESS_KEY_ID", "minio")
	t.Setenv("S3_SECRET_ACCESS_KEY", "minio123")
	cfg, err := LoadConfig()
	if err != nil {
		t.Fatalf("LoadConfig: %v", err)
	}
	if cfg.S3AccessKey != "minio" {
		t.Errorf("access key alias not honoured: %q", cfg.S3AccessKey)
	}

	t.Setenv("STORAGE_BACKEND", "ftp")
	if _, err := LoadConfig(); err == nil {
		t.Error("unknown storage backend should fail")
	}
}

func TestSettings(t *testing.T) {
	clearEnv(t)
	cfg, err := LoadConfig()
	if err != nil {
		t.Fatalf("LoadConfig: %v", err)
	}
	s := NewSettings(cfg)

	t.Run("sensitivity", func(t *testing.T) {
		if s.Sensitivity() != 1.0 {
			t.Errorf("initial sensitivity = %v", s.Sensitivity())
		}
		if err := s.SetSensitivity(3); err != nil {
			t.Fatalf("SetSensitivity(3): %v", err)
		}
		if s.Sensitivity() != 3 {
			t.Errorf("sensitivity = %v, want 3", s.Sensitivity())
		}
		for _, bad := range []float64{0.05, 10.5} {
			if err := s.SetSensitivity(bad); !errors.Is(err, similarity.ErrInvalidParameter) {
				t.Errorf("SetSensitivity(%v): expected ErrInvalidParameter, got %v", bad, err)
			}
		}
		if s.Sensitivity() != 3 {
			t.Errorf("rejected update changed sensitivity to %v", s.Sensitivity())
		}
	})

	t.Run("kie api key", func(t *testing.T) {
		if s.MaskedKieAPIKey() != "" {
			t.Errorf("masked key should be empty, got %q", s.MaskedKieAPIKey())
		}
		if err := s.SetKieAPIKey("short"); !errors.Is(err, ErrInvalidAPIKey) {
			t.Errorf("expected ErrInvalidAPIKey, got %v", err)
		}
		if err := s.SetKieAPIKey("  abcd1234567890wxyz  "); err != nil {
			t.Fatalf("SetKieAPIKey: %v", err)
		}
		if got := s.MaskedKieAPIKey(); got != "abcd...wxyz" {
			t.Errorf("masked = %q, want abcd...wxyz", got)
		}
	})
}
