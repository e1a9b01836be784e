// Package embedding turns images into L2-normalized feature vectors using a
// pretrained encoder that is loaded at most once per process.
package embedding

import (
	"errors"
	"image"
	"math"
)

var (
	// ErrUnavailable means the encoder could not be loaded (missing model file,
	// runtime library or credentials). Callers fall back to a cheaper method.
	ErrUnavailable = errors.New("embedding encoder unavailable")

	// ErrInference means the encoder is loaded but failed on this input.
	ErrInference = errors.New("embedding inference failed")
)

// Vector is a unit-norm embedding. It is never mutated after creation.
type Vector []float32

// Source is a decoded image together with the bytes it came from. Local encoders
// read Image; remote encoders upload Bytes.
type Source struct {
	Image  image.Image
	Bytes  []byte
	Format string
}

// Encoder produces a raw (not necessarily normalized) feature vector.
type Encoder interface {
	Name() string
	Encode(src Source) ([]float32, error)
	Close() error
}

// Loader builds an Encoder. Loading may block for seconds (weights, sessions, clients).
type Loader func() (Encoder, error)

type Status int

const (
	StatusOK Status = iota
	StatusUnavailable
	StatusFailed
)

func (s Status) String() string {
	switch s {
	case StatusOK:
		return "ok"
	case StatusUnavailable:
		return "unavailable"
	case StatusFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// Extraction is the tagged outcome of one extraction. Vector is set only for
// StatusOK; Err explains the other two.
type Extraction struct {
	Vector Vector
	Status Status
	Err    error
}

func (e Extraction) OK() bool { return e.Status == StatusOK }

// Normalize returns v scaled to unit Euclidean norm. All-zero input stays zero.
func Normalize(v []float32) Vector {
	var sum float64
	for _, x := range v {
		sum += float64(x) * float64(x)
	}
	norm := math.Max(math.Sqrt(sum), 1e-12)
	out := make(Vector, len(v))
	for i, x := range v {
		out[i] = float32(float64(x) / norm)
	}
	return out
}
