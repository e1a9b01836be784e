package generation

import (
	"errors"
	"fmt"
	"strings"

	"github.com/samber/lo"
)

var (
	AspectRatios  = []string{"1:1", "2:3", "3:2", "3:4", "4:3", "4:5", "5:4", "9:16", "16:9", "21:9", "auto"}
	Resolutions   = []string{"1K", "2K", "4K"}
	OutputFormats = []string{"png", "jpg"}
)

var ErrInvalidRequest = errors.New("invalid generation request")

// Request describes one text-to-image or image-edit job. Setting ImageURLs switches
// to the edit model.
type Request struct {
	Prompt       string
	ImageURLs    []string
	AspectRatio  string
	Resolution   string
	OutputFormat string
}

func (r Request) withDefaults() Request {
	r.Prompt = strings.TrimSpace(r.Prompt)
	if r.AspectRatio == "" {
		r.AspectRatio = "1:1"
	}
	if r.Resolution == "" {
		r.Resolution = "1K"
	}
	if r.OutputFormat == "" {
		r.OutputFormat = "png"
	}
	r.ImageURLs = lo.Filter(r.ImageURLs, func(u string, _ int) bool { return strings.TrimSpace(u) != "" })
	return r
}

func (r Request) Validate() error {
	r = r.withDefaults()
	if r.Prompt == "" {
		return fmt.Errorf("%w: prompt is required", ErrInvalidRequest)
	}
	if !lo.Contains(AspectRatios, r.AspectRatio) {
		return fmt.Errorf("%w: aspect ratio %q (want one of %s)", ErrInvalidRequest, r.AspectRatio, strings.Join(AspectRatios, ", "))
	}
	if !lo.Contains(Resolutions, r.Resolution) {
		return fmt.Errorf("%w: resolution %q (want one of %s)", ErrInvalidRequest, r.Resolution, strings.Join(Resolutions, ", "))
	}
	if !lo.Contains(OutputFormats, r.OutputFormat) {
		return fmt.Errorf("%w: output format %q (want png or jpg)", ErrInvalidRequest, r.OutputFormat)
	}
	return nil
}

// payload builds the createTask body.
func (r Request) payload() map[string]any {
	if len(r.ImageURLs) > 0 {
		return map[string]any{
			"model": ModelEdit,
			"input": map[string]any{
				"prompt":        r.Prompt,
				"image_urls":    r.ImageURLs,
				"output_format": r.OutputFormat,
				"image_size":    r.AspectRatio,
			},
		}
	}
	return map[string]any{
		"model": ModelGenerate,
		"input": map[string]any{
			"prompt":        r.Prompt,
			"aspect_ratio":  r.AspectRatio,
			"resolution":    r.Resolution,
			"output_format": r.OutputFormat,
		},
	}
}
