package similarity

import (
	"errors"

	"image-stand/internal/embedding"
	"image-stand/internal/raster"
)

// Error kinds surfaced by the engine. Failed results carry their message; callers
// holding the wrapped error can match with errors.Is.
var (
	// ErrDecode indicates unreadable or corrupt image bytes.
	ErrDecode = raster.ErrDecode

	// ErrDimension indicates a degenerate image (zero width or height).
	ErrDimension = raster.ErrDimension

	// ErrModelUnavailable indicates the embedding encoder could not be loaded.
	// It is absorbed by falling back to the structural method.
	ErrModelUnavailable = embedding.ErrUnavailable

	// ErrInference indicates the encoder loaded but failed on this input.
	ErrInference = embedding.ErrInference

	// ErrInvalidParameter indicates a sensitivity outside [MinSensitivity, MaxSensitivity]
	// or a malformed method name.
	ErrInvalidParameter = errors.New("invalid parameter")
)
