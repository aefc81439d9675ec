// Package api serves the introcoach HTTP surface: JSON endpoints for
// evaluation and the take library, and a websocket stream that drives a
// recording session from a browser.
//
// Every route is wrapped in [observe.Middleware].
package api

import (
	"net/http"

	"github.com/MrWong99/introcoach/internal/app"
	"github.com/MrWong99/introcoach/internal/health"
	"github.com/MrWong99/introcoach/internal/observe"
	"github.com/MrWong99/introcoach/pkg/provider/stt/relay"
)

// Server routes HTTP requests into an [app.App].
type Server struct {
	app     *app.App
	relay   *relay.Provider
	mcp     http.Handler
	metrics http.Handler
	health  *health.Handler
	origins []string

	mux *http.ServeMux
}

// Option configures a [Server].
type Option func(*Server)

// WithRelay routes transcript messages from stream clients into r. Use it
// when the configured transcriber is the relay provider.
func WithRelay(r *relay.Provider) Option {
	return func(s *Server) { s.relay = r }
}

// WithMCP mounts h at /mcp.
func WithMCP(h http.Handler) Option {
	return func(s *Server) { s.mcp = h }
}

// WithMetricsHandler serves h at /metrics. Defaults to
// [observe.MetricsHandler].
func WithMetricsHandler(h http.Handler) Option {
	return func(s *Server) { s.metrics = h }
}

// WithOriginPatterns allows cross-origin websocket clients whose host
// matches one of patterns.
func WithOriginPatterns(patterns ...string) Option {
	return func(s *Server) { s.origins = patterns }
}

// New builds the router. Readiness checks the store and the LLM backend.
func New(a *app.App, opts ...Option) *Server {
	s := &Server{
		app:     a,
		metrics: observe.MetricsHandler(),
		mux:     http.NewServeMux(),
	}
	for _, o := range opts {
		o(s)
	}
	s.health = health.New([]health.Checker{
		health.Ping("store", a.Store()),
		{Name: "llm", Check: a.LLMReady},
	})
	s.routes()
	return s
}

func (s *Server) routes() {
	s.mux.HandleFunc("POST /v1/evaluate", s.handleEvaluate)
	s.mux.HandleFunc("POST /v1/voice-characteristics", s.handleVoiceCharacteristics)
	s.mux.HandleFunc("POST /v1/profile", s.handleProfile)
	s.mux.HandleFunc("GET /v1/personas", s.handlePersonas)

	s.mux.HandleFunc("GET /v1/takes", s.handleListTakes)
	s.mux.HandleFunc("GET /v1/takes/{id}", s.handleGetTake)
	s.mux.HandleFunc("DELETE /v1/takes/{id}", s.handleDeleteTake)
	s.mux.HandleFunc("GET /v1/takes/{id}/audio", s.handleTakeAudio)
	s.mux.HandleFunc("POST /v1/takes/{id}/analyze", s.handleAnalyzeTake)

	s.mux.HandleFunc("GET /v1/sessions/stream", s.handleStream)

	s.health.Register(s.mux)
	s.mux.Handle("GET /metrics", s.metrics)
	if s.mcp != nil {
		s.mux.Handle("/mcp", s.mcp)
	}
}

// ServeHTTP implements [http.Handler].
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.Handler().ServeHTTP(w, r)
}

// Handler returns the router wrapped in the observe middleware.
func (s *Server) Handler() http.Handler {
	return observe.Middleware(s.app.Metrics())(s.mux)
}
