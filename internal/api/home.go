package api

import "net/http"

const homePage = `<!DOCTYPE html>
<html>
<head>
  <title>Image Stand API</title>
  <style>
    body { font-family: -apple-system, 'Segoe UI', Roboto, sans-serif; max-width: 800px; margin: 50px auto; padding: 20px; background: #1a1a2e; color: #eee; }
    h1 { color: #a855f7; }
    h2 { color: #818cf8; margin-top: 2rem; }
    code { background: #2d2d44; padding: 2px 8px; border-radius: 4px; }
    ul { line-height: 2; }
  </style>
</head>
<body>
  <h1>Image Stand API</h1>
  <p>Image generation through kie.ai and image similarity scoring.</p>
  <h2>Endpoints</h2>
  <ul>
    <li><code>POST /api/generate</code> generate an image from text, optionally editing <code>image_url</code></li>
    <li><code>POST /api/compare</code> compare two images (<code>method</code>: ssim, embeddings, hybrid)</li>
    <li><code>GET|POST /api/sensitivity</code> read or change comparison rigour</li>
    <li><code>POST /api/speech-to-text</code> transcribe an <code>audio</code> upload</li>
    <li><code>POST /api/key</code>, <code>GET /api/key/status</code> kie.ai API key</li>
    <li><code>GET /api/images</code>, <code>GET /images/{filename}</code> stored images</li>
    <li><code>GET /api/health</code> health check</li>
  </ul>
</body>
</html>
`

// HandleHome handles GET /.
func (h *Handler) HandleHome(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte(homePage))
}
