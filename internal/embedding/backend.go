package embedding

import (
	"fmt"
	"strings"
)

const (
	BackendCLIP   = "clip"
	BackendGemini = "gemini"
	BackendIcon   = "icon"
	BackendNone   = "none"
)

// BackendConfig carries everything the encoders may need; each backend reads
// only its own fields.
type BackendConfig struct {
	Backend string
	CLIP    CLIPConfig
	Gemini  GeminiConfig
}

// NewLoader picks the encoder named by cfg.Backend.
func NewLoader(cfg BackendConfig) (Loader, error) {
	switch strings.ToLower(strings.TrimSpace(cfg.Backend)) {
	case BackendCLIP:
		return CLIP(cfg.CLIP), nil
	case BackendGemini:
		return Gemini(cfg.Gemini), nil
	case BackendIcon:
		return Icon(), nil
	case BackendNone, "":
		return Unavailable("encoder backend disabled"), nil
	default:
		return nil, fmt.Errorf("unknown encoder backend %q (want clip, gemini, icon or none)", cfg.Backend)
	}
}
