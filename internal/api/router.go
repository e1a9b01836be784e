// Package api exposes generation, comparison, speech-to-text and stored images over HTTP.
package api

import (
	"net/http"
	"time"

	"github.com/gorilla/mux"

	"image-stand/internal/logging"
)

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

// loggingMiddleware logs method, path, status and latency.
func loggingMiddleware(log *logging.Logger) mux.MiddlewareFunc {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
			next.ServeHTTP(rec, r)
			log.Infof("http: %s %s %d - %v", r.Method, r.URL.Path, rec.status, time.Since(start).Round(time.Microsecond))
		})
	}
}

func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type")

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			return
		}

		next.ServeHTTP(w, r)
	})
}

// NewRouter creates and configures the HTTP router.
func NewRouter(h *Handler) *mux.Router {
	r := mux.NewRouter()

	r.Use(loggingMiddleware(h.log))
	r.Use(corsMiddleware)

	r.HandleFunc("/", h.HandleHome).Methods("GET")
	r.HandleFunc("/api/health", h.HandleHealth).Methods("GET")
	r.HandleFunc("/api/generate", h.HandleGenerate).Methods("POST", "OPTIONS")
	r.HandleFunc("/api/compare", h.HandleCompare).Methods("POST", "OPTIONS")
	r.HandleFunc("/api/key", h.HandleSetKey).Methods("POST", "OPTIONS")
	r.HandleFunc("/api/key/status", h.HandleKeyStatus).Methods("GET")
	r.HandleFunc("/api/sensitivity", h.HandleGetSensitivity).Methods("GET")
	r.HandleFunc("/api/sensitivity", h.HandleSetSensitivity).Methods("POST", "OPTIONS")
	r.HandleFunc("/api/speech-to-text", h.HandleSpeechToText).Methods("POST", "OPTIONS")
	r.HandleFunc("/api/images", h.HandleListImages).Methods("GET")
	r.HandleFunc("/images/{filename}", h.HandleImage).Methods("GET")

	return r
}
