package internal

import (
	"errors"
	"strings"
	"sync"

	"image-stand/internal/similarity"
)

const minKieKeyLength = 10

var ErrInvalidAPIKey = errors.New("invalid API key format (must be at least 10 characters)")

// Settings holds values an operator may change while the server runs. Changes are
// kept in memory only and reset on restart.
type Settings struct {
	mu          sync.RWMutex
	sensitivity float64
	kieAPIKey   string
}

func NewSettings(cfg Config) *Settings {
	return &Settings{
		sensitivity: cfg.SimilaritySensitivity,
		kieAPIKey:   cfg.KieAPIKey,
	}
}

func (s *Settings) Sensitivity() float64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.sensitivity
}

// SetSensitivity rejects values outside [similarity.MinSensitivity, similarity.MaxSensitivity].
func (s *Settings) SetSensitivity(v float64) error {
	if err := similarity.ValidateSensitivity(v); err != nil {
		return err
	}
	s.mu.Lock()
	s.sensitivity = v
	s.mu.Unlock()
	return nil
}

func (s *Settings) KieAPIKey() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.kieAPIKey
}

func (s *Settings) SetKieAPIKey(key string) error {
	key = strings.TrimSpace(key)
	if len(key) < minKieKeyLength {
		return ErrInvalidAPIKey
	}
	s.mu.Lock()
	s.kieAPIKey = key
	s.mu.Unlock()
	return nil
}

// MaskedKieAPIKey returns the first and last four characters of the key, or "" when
// no key is set.
func (s *Settings) MaskedKieAPIKey() string {
	key := s.KieAPIKey()
	if key == "" {
		return ""
	}
	if len(key) <= 8 {
		return strings.Repeat("*", len(key))
	}
	return key[:4] + "..." + key[len(key)-4:]
}
