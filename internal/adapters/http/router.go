// Package httpadapter serves the chat page and the upload and chat endpoints.
package httpadapter

import (
	"encoding/json"
	"net/http"
	"time"

	"golang.org/x/time/rate"

	"github.com/kirillkom/docchat/internal/config"
	"github.com/kirillkom/docchat/internal/core/ports"
	"github.com/kirillkom/docchat/internal/observability/metrics"
)

const (
	msgNoFile           = "No file uploaded"
	msgInvalidType      = "Invalid file type"
	msgExtractionFailed = "Could not extract text from file"
	msgFileTooLarge     = "file too large"
	msgUploaded         = "File uploaded and analyzed. You can now ask questions about it."
	msgEmptyMessage     = "Empty message"
	msgInternal         = "internal server error"

	maxChatBodyBytes = 1 << 20
)

type Router struct {
	uploader ports.DocumentUploader
	chatter  ports.DocumentChatter
	sessions SessionKeeper
	metrics  *metrics.HTTPServerMetrics
	cookies  sessionCookies
	limiter  *rate.Limiter

	maxUploadBytes  int64
	contextMaxChars int
	maxInFlight     int
	inFlightWait    time.Duration
}

func NewRouter(
	cfg config.Config,
	uploader ports.DocumentUploader,
	chatter ports.DocumentChatter,
	sessions SessionKeeper,
	m *metrics.HTTPServerMetrics,
) *Router {
	if m == nil {
		m = metrics.NewHTTPServerMetrics(cfg.ServiceName)
	}
	cookieName := cfg.SessionCookieName
	if cookieName == "" {
		cookieName = "session"
	}
	ttl := cfg.SessionTTL
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	secret := cfg.SessionSecret
	if secret == "" {
		secret = config.DefaultSessionSecret
	}
	maxUpload := cfg.MaxUploadBytes
	if maxUpload <= 0 {
		maxUpload = 32 << 20
	}

	return &Router{
		uploader: uploader,
		chatter:  chatter,
		sessions: sessions,
		metrics:  m,
		cookies: sessionCookies{
			secret: []byte(secret),
			name:   cookieName,
			ttl:    ttl,
			secure: cfg.SessionCookieSecure,
			now:    time.Now,
		},
		limiter:         newRateLimiter(cfg.APIRateLimitRPS, cfg.APIRateLimitBurst),
		maxUploadBytes:  maxUpload,
		contextMaxChars: cfg.ContextMaxChars,
		maxInFlight:     cfg.APIMaxInFlight,
		inFlightWait:    cfg.APIBackpressureWait,
	}
}

func (rt *Router) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.Handle("GET /healthz", rt.metrics.Instrument("/healthz", http.HandlerFunc(rt.healthz)))
	mux.Handle("GET /metrics", rt.metrics.Handler())
	mux.Handle("GET /{$}", rt.app("/", rt.index))
	mux.Handle("POST /upload", rt.app("/upload", rt.uploadDocument))
	mux.Handle("POST /chat", rt.app("/chat", rt.chat))
	return requestIDMiddleware(accessLogMiddleware(mux))
}

// app wraps a session-scoped route with traffic control and metrics.
func (rt *Router) app(route string, h http.HandlerFunc) http.Handler {
	var next http.Handler = rt.sessionMiddleware(h)
	next = routeMiddleware(route, next)
	next = backpressureMiddleware(next, rt.maxInFlight, rt.inFlightWait)
	next = rateLimitMiddleware(next, rt.limiter)
	return rt.metrics.Instrument(route, next)
}

func routeMiddleware(route string, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		traceRoute(r.Context(), route)
		next.ServeHTTP(w, r)
	})
}

func (rt *Router) healthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}
