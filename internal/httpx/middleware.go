package httpx

import (
	"log"
	"net/http"
	"path"
	"strconv"
	"strings"
	"time"

	"github.com/shortontech/sentry/internal/headers"
	"github.com/shortontech/sentry/internal/logging"
)

// isStaticAsset reports whether path names a file with an extension other
// than .html — static assets bypass all tracking and logging.
func isStaticAsset(p string) bool {
	ext := path.Ext(p)
	return ext != "" && ext != ".html"
}

func isAPIPath(p string) bool {
	return strings.HasPrefix(p, "/api/")
}

// isDocumentRequest reports the "browser navigating to a page" case: a GET
// outside /api/* whose Sec-Fetch-Dest is "document" or whose Accept header
// mentions text/html.
func isDocumentRequest(r *http.Request) bool {
	if r.Method != http.MethodGet || isAPIPath(r.URL.Path) {
		return false
	}
	if r.Header.Get("Sec-Fetch-Dest") == "document" {
		return true
	}
	return strings.Contains(r.Header.Get("Accept"), "text/html")
}

// Classify triages every request into static / document / other-API
// before the mux dispatches it. Static assets are served directly from
// StaticDir and never reach
// the mux. Document requests open a Visit Tracker session. Everything
// else runs the Header Evaluator for logging only — except the analysis
// endpoint itself, which does its own classification and logging.
func Classify(e Env) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			path := r.URL.Path

			if isStaticAsset(path) {
				http.ServeFile(w, r, staticFilePath(e.Cfg.StaticDir, path))
				return
			}

			ip := clientIP(r)

			switch {
			case isDocumentRequest(r):
				if e.Tracker != nil {
					e.Tracker.Open(ip)
				}
				if e.Log != nil {
					e.Log.Log(logging.TagHeaderAnalysis, ip, map[string]interface{}{"verdict": "pending"})
				}

			case path == "/api/bot":
				// The analysis endpoint classifies and logs itself.

			default:
				v := headers.Evaluate(r.Header)
				if e.Log != nil {
					e.Log.Log(logging.TagHeaderAnalysis, ip, v)
				}
			}

			next.ServeHTTP(w, r)
		})
	}
}

// staticFilePath joins the configured static directory with the request
// path, defending against traversal outside it.
func staticFilePath(dir, requestPath string) string {
	cleaned := path.Clean("/" + requestPath)
	return path.Join(dir, cleaned)
}

// MetricsMiddleware records request counts and latency by endpoint and
// method, when metrics are enabled.
func MetricsMiddleware(e Env) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		if e.Metrics == nil {
			return next
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
			next.ServeHTTP(rec, r)
			dur := time.Since(start)

			e.Metrics.ObserveHTTPDuration(r.URL.Path, r.Method, dur)
			e.Metrics.IncrementHTTPRequests(r.URL.Path, r.Method, strconv.Itoa(rec.status))
		})
	}
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (s *statusRecorder) WriteHeader(code int) {
	s.status = code
	s.ResponseWriter.WriteHeader(code)
}

// cors applies a permissive development CORS policy, matching the
// teacher's posture for this ambient concern.
func cors(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, DNT")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// RequestLogger logs one line per request at the transport level.
func RequestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		next.ServeHTTP(w, r)
		log.Printf("%s %s ua=%q dur=%s", r.Method, r.URL.Path, r.UserAgent(), time.Since(start))
	})
}
