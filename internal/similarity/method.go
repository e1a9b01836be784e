package similarity

import (
	"fmt"
	"math"
	"strings"
)

// Method selects how two images are scored. The string values are the names
// exposed over the API.
type Method string

const (
	MethodStructural Method = "ssim"
	MethodEmbedding  Method = "embeddings"
	MethodHybrid     Method = "hybrid"
)

const (
	MinSensitivity     = 0.1
	MaxSensitivity     = 10.0
	DefaultSensitivity = 1.0
)

// ParseMethod maps a user supplied name onto a Method. Accepted aliases:
// "ssim"/"structural", "embeddings"/"embedding", "hybrid". Matching is case-insensitive.
func ParseMethod(s string) (Method, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "ssim", "structural":
		return MethodStructural, nil
	case "embeddings", "embedding":
		return MethodEmbedding, nil
	case "hybrid":
		return MethodHybrid, nil
	default:
		return "", fmt.Errorf("%w: unknown comparison method %q (want ssim, embeddings or hybrid)", ErrInvalidParameter, s)
	}
}

func (m Method) String() string { return string(m) }

// ValidateSensitivity rejects values outside [MinSensitivity, MaxSensitivity].
// Out-of-range values are never clamped.
func ValidateSensitivity(s float64) error {
	if math.IsNaN(s) || s < MinSensitivity || s > MaxSensitivity {
		return fmt.Errorf("%w: sensitivity %v outside [%.1f, %.1f]", ErrInvalidParameter, s, MinSensitivity, MaxSensitivity)
	}
	return nil
}
