package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gorilla/mux"
	"github.com/samber/lo"

	"image-stand/internal"
	"image-stand/internal/generation"
	"image-stand/internal/logging"
	"image-stand/internal/pool"
	"image-stand/internal/similarity"
	"image-stand/internal/speech"
	"image-stand/internal/storage"
)

const (
	maxUploadBytes     = 32 << 20
	defaultAudioMime   = "audio/webm"
	downloadTimeout    = 60 * time.Second
	imagesRoutePrefix  = "/images/"
	defaultCompareWait = 60 * time.Second
)

// Generator is the part of generation.Client the handlers use.
type Generator interface {
	Generate(ctx context.Context, req generation.Request) (generation.Result, error)
	Download(ctx context.Context, url string) ([]byte, string, error)
}

// EncoderStatus reports on the embedding encoder. *embedding.ModelHandle satisfies it.
type EncoderStatus interface {
	Name() string
	Available() bool
}

// Deps are the collaborators of Handler. Transcriber, Catalog and Encoder may be nil.
type Deps struct {
	Engine         *similarity.Engine
	Settings       *internal.Settings
	Generator      Generator
	Transcriber    speech.Transcriber
	Store          storage.Store
	Catalog        *storage.Catalog
	Encoder        EncoderStatus
	Pool           *pool.Pool
	CompareTimeout time.Duration
	Log            *logging.Logger
}

// Handler holds the dependencies for HTTP handlers.
type Handler struct {
	engine         *similarity.Engine
	settings       *internal.Settings
	generator      Generator
	transcriber    speech.Transcriber
	store          storage.Store
	catalog        *storage.Catalog
	encoder        EncoderStatus
	pool           *pool.Pool
	compareTimeout time.Duration
	log            *logging.Logger
}

func NewHandler(d Deps) *Handler {
	h := &Handler{
		engine:         d.Engine,
		settings:       d.Settings,
		generator:      d.Generator,
		transcriber:    d.Transcriber,
		store:          d.Store,
		catalog:        d.Catalog,
		encoder:        d.Encoder,
		pool:           d.Pool,
		compareTimeout: d.CompareTimeout,
		log:            d.Log,
	}
	if h.log == nil {
		h.log = logging.Discard()
	}
	if h.pool == nil {
		h.pool = pool.New(pool.OptimalSize())
	}
	if h.compareTimeout <= 0 {
		h.compareTimeout = defaultCompareWait
	}
	return h
}

type healthResponse struct {
	Status           string `json:"status"`
	APIKeyConfigured bool   `json:"api_key_configured"`
	Encoder          string `json:"encoder"`
	EncoderAvailable bool   `json:"encoder_available"`
}

type generateResponse struct {
	Success   bool     `json:"success"`
	ImageURL  *string  `json:"image_url"`
	ImageURLs []string `json:"image_urls"`
	LocalURL  *string  `json:"local_url"`
	TaskID    *string  `json:"task_id"`
	State     *string  `json:"state"`
	Error     *string  `json:"error"`
}

type messageResponse struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
}

type sensitivityResponse struct {
	Success     bool     `json:"success"`
	Message     string   `json:"message"`
	Sensitivity *float64 `json:"sensitivity"`
}

type speechResponse struct {
	Success bool    `json:"success"`
	Text    *string `json:"text"`
	Error   *string `json:"error"`
}

type imagesResponse struct {
	Count  int      `json:"count"`
	Images []string `json:"images"`
}

// HandleHealth handles GET /api/health.
func (h *Handler) HandleHealth(w http.ResponseWriter, r *http.Request) {
	resp := healthResponse{
		Status:           "ok",
		APIKeyConfigured: h.settings.KieAPIKey() != "",
		Encoder:          "none",
	}
	if h.encoder != nil {
		resp.Encoder = h.encoder.Name()
		resp.EncoderAvailable = h.encoder.Available()
	}
	sendJSON(w, http.StatusOK, resp)
}

// HandleGenerate handles POST /api/generate. A successful image is downloaded
// and stored; a failed download still reports the generation as successful.
func (h *Handler) HandleGenerate(w http.ResponseWriter, r *http.Request) {
	if err := parseForm(r); err != nil {
		sendJSON(w, http.StatusBadRequest, generateResponse{Error: lo.ToPtr("Invalid form: " + err.Error())})
		return
	}

	req := generation.Request{
		Prompt:       r.FormValue("prompt"),
		AspectRatio:  formValue(r, "aspect_ratio", "1:1"),
		Resolution:   formValue(r, "resolution", "1K"),
		OutputFormat: formValue(r, "output_format", "png"),
	}
	if u := strings.TrimSpace(r.FormValue("image_url")); u != "" {
		req.ImageURLs = []string{u}
	}

	res, err := h.generator.Generate(r.Context(), req)
	resp := generateResponse{
		Success:   res.Success,
		ImageURL:  optional(res.ImageURL),
		ImageURLs: res.ImageURLs,
		TaskID:    optional(res.TaskID),
		State:     optional(res.State),
		Error:     optional(res.Error),
	}
	if err != nil {
		h.log.Warnf("api: generate: %v", err)
		sendJSON(w, generateStatus(err), resp)
		return
	}

	if res.ImageURL != "" {
		if name, err := h.storeGenerated(r.Context(), res.TaskID, req.OutputFormat, res.ImageURL); err != nil {
			h.log.Warnf("api: store generated image of task %s: %v", res.TaskID, err)
		} else {
			resp.LocalURL = lo.ToPtr(imagesRoutePrefix + name)
		}
	}
	sendJSON(w, http.StatusOK, resp)
}

func (h *Handler) storeGenerated(ctx context.Context, taskID, format, url string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, downloadTimeout)
	defer cancel()

	data, _, err := h.generator.Download(ctx, url)
	if err != nil {
		return "", err
	}
	name := storage.GenerateFilename(lo.Ternary(taskID != "", taskID, "unknown"), format)
	if err := h.store.Save(ctx, name, data); err != nil {
		return "", err
	}
	if h.catalog != nil {
		if _, err := h.catalog.Add(ctx, name, data); err != nil {
			h.log.Warnf("api: catalog %s: %v", name, err)
		}
	}
	return name, nil
}

func generateStatus(err error) int {
	switch {
	case errors.Is(err, generation.ErrInvalidRequest), errors.Is(err, generation.ErrNoAPIKey):
		return http.StatusBadRequest
	case errors.Is(err, generation.ErrTimeout):
		return http.StatusGatewayTimeout
	case errors.Is(err, context.Canceled):
		return http.StatusRequestTimeout
	default:
		return http.StatusBadGateway
	}
}

// HandleCompare handles POST /api/compare. The comparison runs on the worker pool.
// A comparison that starts but overruns the compare timeout is answered by the
// structural method, which also runs on the pool under its own timeout. When no
// slot frees up in time the answer is 503.
func (h *Handler) HandleCompare(w http.ResponseWriter, r *http.Request) {
	if err := parseForm(r); err != nil {
		sendJSON(w, http.StatusBadRequest, failedResult("Invalid form: "+err.Error()))
		return
	}

	req, err := compareRequest(r)
	if err != nil {
		sendJSON(w, http.StatusBadRequest, failedResult(err.Error()))
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), h.compareTimeout)
	defer cancel()

	type compared struct {
		res similarity.Result
		err error
	}
	out, err := pool.Do(ctx, h.pool, func() compared {
		res, err := h.engine.Compare(req)
		return compared{res, err}
	})

	switch {
	case errors.Is(err, pool.ErrBusy):
		h.sendBusy(w)
	case errors.Is(err, context.DeadlineExceeded):
		h.log.Warnf("api: compare exceeded %s, answering with ssim", h.compareTimeout)
		h.compareStructural(w, r, req)
	case err != nil:
		h.log.Errorf("api: compare: %v", err)
		sendJSON(w, http.StatusInternalServerError, failedResult(err.Error()))
	case out.err != nil:
		sendJSON(w, http.StatusBadRequest, out.res)
	default:
		sendJSON(w, http.StatusOK, out.res)
	}
}

func (h *Handler) compareStructural(w http.ResponseWriter, r *http.Request, req similarity.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), h.compareTimeout)
	defer cancel()

	res, err := pool.Do(ctx, h.pool, func() similarity.Result {
		return h.engine.CompareStructural(req.Image1, req.Image2)
	})
	switch {
	case errors.Is(err, pool.ErrBusy):
		h.sendBusy(w)
	case err != nil:
		h.log.Errorf("api: structural fallback: %v", err)
		sendJSON(w, http.StatusGatewayTimeout, failedResult("Comparison timed out"))
	default:
		sendJSON(w, http.StatusOK, res)
	}
}

func (h *Handler) sendBusy(w http.ResponseWriter) {
	h.log.Warnf("api: no free worker within %s", h.compareTimeout)
	w.Header().Set("Retry-After", "1")
	sendJSON(w, http.StatusServiceUnavailable, failedResult("Server busy, try again"))
}

// compareRequest reads the uploads and validates method and sensitivity before
// any work is queued.
func compareRequest(r *http.Request) (similarity.Request, error) {
	var req similarity.Request
	var err error

	if req.Image1, err = formFile(r, "image1"); err != nil {
		return req, err
	}
	if req.Image2, err = formFile(r, "image2"); err != nil {
		return req, err
	}
	if len(req.Image1) == 0 {
		return req, fmt.Errorf("%w: first image is required", similarity.ErrInvalidParameter)
	}
	if len(req.Image2) == 0 {
		return req, fmt.Errorf("%w: second image is required", similarity.ErrInvalidParameter)
	}

	if raw := strings.TrimSpace(r.FormValue("method")); raw != "" {
		m, err := similarity.ParseMethod(raw)
		if err != nil {
			return req, err
		}
		req.Method = &m
	}
	if raw := strings.TrimSpace(r.FormValue("sensitivity")); raw != "" {
		s, err := strconv.ParseFloat(raw, 64)
		if err != nil {
			return req, fmt.Errorf("%w: sensitivity %q is not a number", similarity.ErrInvalidParameter, raw)
		}
		if err := similarity.ValidateSensitivity(s); err != nil {
			return req, err
		}
		req.Sensitivity = &s
	}
	return req, nil
}

func failedResult(msg string) similarity.Result {
	return similarity.Result{Error: &msg}
}

// HandleSetKey handles POST /api/key. The key lives in memory until restart.
func (h *Handler) HandleSetKey(w http.ResponseWriter, r *http.Request) {
	var body struct {
		APIKey string `json:"api_key"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		sendJSON(w, http.StatusBadRequest, messageResponse{Message: "Invalid JSON: " + err.Error()})
		return
	}
	if err := h.settings.SetKieAPIKey(body.APIKey); err != nil {
		sendJSON(w, http.StatusBadRequest, messageResponse{Message: "Invalid API key format (must be at least 10 characters)"})
		return
	}
	h.log.Infof("api: kie.ai key updated (%s)", h.settings.MaskedKieAPIKey())
	sendJSON(w, http.StatusOK, messageResponse{Success: true, Message: "API key updated successfully"})
}

// HandleKeyStatus handles GET /api/key/status.
func (h *Handler) HandleKeyStatus(w http.ResponseWriter, r *http.Request) {
	masked := h.settings.MaskedKieAPIKey()
	if masked == "" {
		sendJSON(w, http.StatusOK, messageResponse{Message: "API key not configured"})
		return
	}
	sendJSON(w, http.StatusOK, messageResponse{Success: true, Message: "API key configured: " + masked})
}

// HandleGetSensitivity handles GET /api/sensitivity.
func (h *Handler) HandleGetSensitivity(w http.ResponseWriter, r *http.Request) {
	s := h.settings.Sensitivity()
	sendJSON(w, http.StatusOK, sensitivityResponse{
		Success:     true,
		Message:     fmt.Sprintf("Current sensitivity: %.2f", s),
		Sensitivity: &s,
	})
}

// HandleSetSensitivity handles POST /api/sensitivity.
func (h *Handler) HandleSetSensitivity(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Sensitivity *float64 `json:"sensitivity"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		sendJSON(w, http.StatusBadRequest, sensitivityResponse{Message: "Invalid JSON: " + err.Error()})
		return
	}
	if body.Sensitivity == nil {
		sendJSON(w, http.StatusBadRequest, sensitivityResponse{Message: "sensitivity is required"})
		return
	}
	if err := h.settings.SetSensitivity(*body.Sensitivity); err != nil {
		current := h.settings.Sensitivity()
		sendJSON(w, http.StatusBadRequest, sensitivityResponse{
			Message:     fmt.Sprintf("Sensitivity must be between %.1f and %.1f", similarity.MinSensitivity, similarity.MaxSensitivity),
			Sensitivity: &current,
		})
		return
	}
	s := h.settings.Sensitivity()
	h.log.Infof("api: sensitivity set to %.2f", s)
	sendJSON(w, http.StatusOK, sensitivityResponse{
		Success:     true,
		Message:     fmt.Sprintf("Sensitivity updated to %.2f", s),
		Sensitivity: &s,
	})
}

// HandleSpeechToText handles POST /api/speech-to-text.
func (h *Handler) HandleSpeechToText(w http.ResponseWriter, r *http.Request) {
	if h.transcriber == nil {
		sendJSON(w, http.StatusServiceUnavailable, speechResponse{Error: lo.ToPtr(speech.ErrNotConfigured.Error())})
		return
	}
	if err := parseForm(r); err != nil {
		sendJSON(w, http.StatusBadRequest, speechResponse{Error: lo.ToPtr("Invalid form: " + err.Error())})
		return
	}

	file, header, err := r.FormFile("audio")
	if err != nil {
		sendJSON(w, http.StatusBadRequest, speechResponse{Error: lo.ToPtr("audio file is required")})
		return
	}
	defer file.Close()
	audio, err := io.ReadAll(file)
	if err != nil {
		sendJSON(w, http.StatusBadRequest, speechResponse{Error: lo.ToPtr("read audio: " + err.Error())})
		return
	}

	mime := lo.Ternary(header.Header.Get("Content-Type") != "", header.Header.Get("Content-Type"), defaultAudioMime)
	text, err := h.transcriber.Transcribe(r.Context(), audio, mime)
	if err != nil {
		h.log.Warnf("api: speech-to-text: %v", err)
		status := http.StatusBadGateway
		if errors.Is(err, speech.ErrEmptyAudio) {
			status = http.StatusBadRequest
		} else if errors.Is(err, speech.ErrNotConfigured) {
			status = http.StatusServiceUnavailable
		}
		sendJSON(w, status, speechResponse{Error: lo.ToPtr(err.Error())})
		return
	}
	sendJSON(w, http.StatusOK, speechResponse{Success: true, Text: &text})
}

// HandleImage handles GET /images/{filename}.
func (h *Handler) HandleImage(w http.ResponseWriter, r *http.Request) {
	data, contentType, err := h.store.Open(r.Context(), mux.Vars(r)["filename"])
	if errors.Is(err, storage.ErrNotFound) || errors.Is(err, storage.ErrInvalidName) {
		sendJSON(w, http.StatusNotFound, map[string]string{"detail": "Image not found"})
		return
	}
	if err != nil {
		h.log.Errorf("api: open image: %v", err)
		sendJSON(w, http.StatusInternalServerError, map[string]string{"detail": err.Error()})
		return
	}
	w.Header().Set("Content-Type", contentType)
	w.Header().Set("Content-Length", strconv.Itoa(len(data)))
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(data)
}

// HandleListImages handles GET /api/images.
func (h *Handler) HandleListImages(w http.ResponseWriter, r *http.Request) {
	objects, err := h.store.List(r.Context())
	if err != nil {
		h.log.Errorf("api: list images: %v", err)
		sendJSON(w, http.StatusInternalServerError, map[string]string{"detail": err.Error()})
		return
	}
	sendJSON(w, http.StatusOK, imagesResponse{
		Count:  len(objects),
		Images: lo.Map(objects, func(o storage.Object, _ int) string { return imagesRoutePrefix + o.Name }),
	})
}

func parseForm(r *http.Request) error {
	if strings.HasPrefix(r.Header.Get("Content-Type"), "multipart/") {
		return r.ParseMultipartForm(maxUploadBytes)
	}
	return r.ParseForm()
}

func formValue(r *http.Request, key, fallback string) string {
	if v := strings.TrimSpace(r.FormValue(key)); v != "" {
		return v
	}
	return fallback
}

// formFile returns the bytes of an uploaded file, or nil when the field is absent.
func formFile(r *http.Request, field string) ([]byte, error) {
	f, _, err := r.FormFile(field)
	if errors.Is(err, http.ErrMissingFile) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", field, err)
	}
	defer f.Close()
	return io.ReadAll(f)
}

func optional(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

// sendJSON writes a JSON response with the given status code.
func sendJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}
