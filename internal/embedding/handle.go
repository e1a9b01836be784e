package embedding

import (
	"crypto/sha256"
	"fmt"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"

	"image-stand/internal/logging"
	"image-stand/internal/raster"
)

// ModelHandle owns one encoder for the life of the process. The encoder is loaded
// on first use (or by Warm) exactly once; concurrent first callers block until
// that single load has finished. A failed load is permanent for the handle.
type ModelHandle struct {
	name string
	load Loader
	log  *logging.Logger

	once    sync.Once
	loaded  chan struct{}
	enc     Encoder
	loadErr error

	cache *lru.Cache[[sha256.Size]byte, Vector]
}

// Option configures a ModelHandle.
type Option func(*ModelHandle) error

// WithCache keeps up to size vectors keyed by the SHA-256 of the image bytes.
// A size of 0 disables caching.
func WithCache(size int) Option {
	return func(h *ModelHandle) error {
		if size <= 0 {
			h.cache = nil
			return nil
		}
		c, err := lru.New[[sha256.Size]byte, Vector](size)
		if err != nil {
			return fmt.Errorf("embedding cache: %w", err)
		}
		h.cache = c
		return nil
	}
}

// WithLogger sets the logger used for load and extraction messages.
func WithLogger(log *logging.Logger) Option {
	return func(h *ModelHandle) error {
		if log != nil {
			h.log = log
		}
		return nil
	}
}

// NewModelHandle wraps load. Nothing is loaded until Warm or Extract is called.
func NewModelHandle(name string, load Loader, opts ...Option) (*ModelHandle, error) {
	if load == nil {
		load = Unavailable("no encoder configured")
	}
	h := &ModelHandle{
		name:   name,
		load:   load,
		log:    logging.Discard(),
		loaded: make(chan struct{}),
	}
	for _, opt := range opts {
		if err := opt(h); err != nil {
			return nil, err
		}
	}
	return h, nil
}

// Unavailable returns a Loader that always reports ErrUnavailable.
func Unavailable(reason string) Loader {
	return func() (Encoder, error) {
		return nil, fmt.Errorf("%w: %s", ErrUnavailable, reason)
	}
}

func (h *ModelHandle) Name() string { return h.name }

// Warm loads the encoder now. Call it at startup to keep the load off the first
// request. The returned error wraps ErrUnavailable when the encoder cannot load.
func (h *ModelHandle) Warm() error {
	_, err := h.encoder()
	return err
}

// Available reports whether the encoder has been loaded successfully. It never
// triggers a load.
func (h *ModelHandle) Available() bool {
	select {
	case <-h.loaded:
		return h.loadErr == nil
	default:
		return false
	}
}

// Extract decodes data and returns its embedding. It never returns an error:
// unavailability and failures are reported through the Extraction status so the
// caller can fall back.
func (h *ModelHandle) Extract(data []byte) (ex Extraction) {
	enc, err := h.encoder()
	if err != nil {
		return Extraction{Status: StatusUnavailable, Err: err}
	}

	key := sha256.Sum256(data)
	if h.cache != nil {
		if v, ok := h.cache.Get(key); ok {
			return Extraction{Vector: v, Status: StatusOK}
		}
	}

	img, format, err := raster.Decode(data)
	if err != nil {
		return Extraction{Status: StatusFailed, Err: err}
	}

	defer func() {
		if r := recover(); r != nil {
			h.log.Errorf("embedding: %s panicked: %v", h.name, r)
			ex = Extraction{Status: StatusFailed, Err: fmt.Errorf("%w: %v", ErrInference, r)}
		}
	}()

	raw, err := enc.Encode(Source{Image: img, Bytes: data, Format: format})
	if err != nil {
		h.log.Warnf("embedding: %s failed: %v", h.name, err)
		return Extraction{Status: StatusFailed, Err: fmt.Errorf("%w: %v", ErrInference, err)}
	}
	if len(raw) == 0 {
		return Extraction{Status: StatusFailed, Err: fmt.Errorf("%w: empty vector", ErrInference)}
	}

	v := Normalize(raw)
	if h.cache != nil {
		h.cache.Add(key, v)
	}
	return Extraction{Vector: v, Status: StatusOK}
}

// Close releases the encoder if it was loaded. It does not wait for or trigger a load.
func (h *ModelHandle) Close() error {
	if !h.Available() {
		return nil
	}
	return h.enc.Close()
}

func (h *ModelHandle) encoder() (Encoder, error) {
	h.once.Do(func() {
		defer close(h.loaded)
		defer func() {
			if r := recover(); r != nil {
				h.enc = nil
				h.loadErr = fmt.Errorf("%w: loader panicked: %v", ErrUnavailable, r)
				h.log.Errorf("embedding: encoder %s loader panicked: %v", h.name, r)
			}
		}()
		start := time.Now()
		h.log.Infof("embedding: loading encoder %s", h.name)
		enc, err := h.load()
		if err != nil {
			h.loadErr = err
			h.log.Warnf("embedding: encoder %s unavailable, comparisons fall back to ssim: %v", h.name, err)
			return
		}
		h.enc = enc
		h.log.Infof("embedding: encoder %s loaded in %s", enc.Name(), time.Since(start).Round(time.Millisecond))
	})
	return h.enc, h.loadErr
}
