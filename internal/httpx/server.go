package httpx

import (
	"net/http"
	"path/filepath"
)

// NewMux wires the five API routes plus the catch-all static/SPA fallback,
// then layers the classification, metrics, CORS, and request-logging
// middleware around the whole thing — in that order, innermost first.
func NewMux(e Env) http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/api/challenge", e.Challenge)
	mux.HandleFunc("/api/challenge/verify", e.ChallengeVerify)
	mux.HandleFunc("/api/visit", e.Visit)
	mux.HandleFunc("/api/bot", e.Bot)
	mux.HandleFunc("/api/visit-status", e.VisitStatus)
	mux.HandleFunc("/", e.staticUIFallback)

	handler := Classify(e)(mux)
	handler = MetricsMiddleware(e)(handler)
	handler = cors(handler)
	return RequestLogger(handler)
}

// staticUIFallback serves dist/index.html for any GET not matched by a
// more specific route — the SPA entry point for the diagnostic UI (an
// external collaborator; this core only serves the file from disk).
func (e Env) staticUIFallback(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet && r.Method != http.MethodHead {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	http.ServeFile(w, r, filepath.Join(e.Cfg.StaticDir, "index.html"))
}
