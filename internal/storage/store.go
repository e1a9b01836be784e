// Package storage keeps generated images on local disk or in an S3-compatible
// bucket, together with a JSON catalog of their fingerprints.
package storage

import (
	"context"
	"errors"
	"fmt"
	"path"
	"strings"
	"time"

	"github.com/samber/lo"
)

var (
	ErrNotFound    = errors.New("image not found")
	ErrInvalidName = errors.New("invalid image name")
)

var imageExtensions = []string{".png", ".jpg", ".jpeg", ".webp", ".gif"}

// Store is a flat namespace of image files.
type Store interface {
	Save(ctx context.Context, name string, data []byte) error
	Open(ctx context.Context, name string) ([]byte, string, error)
	List(ctx context.Context) ([]Object, error)
	Delete(ctx context.Context, name string) error

	ReadJSON(ctx context.Context, key string, out any) (bool, error)
	WriteJSON(ctx context.Context, key string, v any) error
}

type Object struct {
	Name    string    `json:"name"`
	Size    int64     `json:"size"`
	ModTime time.Time `json:"mod_time"`
}

// GenerateFilename names a generated image after its task.
func GenerateFilename(taskID, ext string) string {
	ext = strings.TrimPrefix(strings.ToLower(ext), ".")
	if ext == "" {
		ext = "png"
	}
	return fmt.Sprintf("%s.%s", taskID, ext)
}

// SanitizeName accepts a bare file name with an image extension and rejects
// anything that could escape the store (separators, "..", hidden files).
func SanitizeName(name string) (string, error) {
	name = strings.TrimSpace(name)
	if name == "" || name != path.Base(name) || strings.ContainsAny(name, `/\`) || strings.HasPrefix(name, ".") {
		return "", fmt.Errorf("%w: %q", ErrInvalidName, name)
	}
	if !isImageName(name) {
		return "", fmt.Errorf("%w: %q has no image extension", ErrInvalidName, name)
	}
	return name, nil
}

// ContentType maps an image file name to its media type.
func ContentType(name string) string {
	switch strings.ToLower(path.Ext(name)) {
	case ".jpg", ".jpeg":
		return "image/jpeg"
	case ".webp":
		return "image/webp"
	case ".gif":
		return "image/gif"
	default:
		return "image/png"
	}
}

func isImageName(name string) bool {
	return lo.Contains(imageExtensions, strings.ToLower(path.Ext(name)))
}
