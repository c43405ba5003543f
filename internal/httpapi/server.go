// Package httpapi serves the vendor-shaped chat endpoints over HTTP.
package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/yungtweek/chunkback/internal/cache"
	"github.com/yungtweek/chunkback/internal/config"
	"github.com/yungtweek/chunkback/internal/fault"
	"github.com/yungtweek/chunkback/internal/logger"
)

// maxBodyBytes bounds request bodies; prompts are small scripts.
const maxBodyBytes = 10 << 20

// Server owns the HTTP listener and the state shared by all requests: the
// correlation cache and the fault injector.
type Server struct {
	cfg          config.Config
	correlations *cache.Correlations
	faults       *fault.Injector
	sleep        func(ctx context.Context, d time.Duration) error

	httpServer *http.Server
}

// New builds a Server. correlations is shared across requests and closed by
// the caller.
func New(cfg config.Config, correlations *cache.Correlations) *Server {
	s := &Server{
		cfg:          cfg,
		correlations: correlations,
		faults:       fault.New(cfg.ErrorRate, cfg.ErrorMode),
	}
	s.httpServer = &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Port),
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s
}

// Handler returns the full middleware-wrapped router.
func (s *Server) Handler() http.Handler {
	api := http.NewServeMux()
	api.HandleFunc("POST /v1/chat/completions", s.handleChatCompletions)
	api.HandleFunc("POST /v1/messages", s.handleMessages)
	api.HandleFunc("POST /v1/models/{model}/generateContent", s.handleGenerateContent)
	api.HandleFunc("POST /v1beta/models/{model}/generateContent", s.handleGenerateContent)
	// {model}:generateContent and {model}:streamGenerateContent share one segment.
	api.HandleFunc("POST /v1beta/models/{action}", s.handleModelAction)
	api.HandleFunc("POST /v1/models/{action}", s.handleModelAction)

	root := http.NewServeMux()
	root.HandleFunc("GET /health", handleHealth)
	root.Handle("/", s.auth(api))

	return accessLog(recoverer(root))
}

// Run listens and serves until Shutdown. It returns nil after a graceful
// shutdown.
func (s *Server) Run() error {
	lis, err := net.Listen("tcp", s.httpServer.Addr)
	if err != nil {
		logger.Log.Errorw("[http] failed to listen", "addr", s.httpServer.Addr, "err", err)
		return err
	}
	return s.Serve(lis)
}

// Serve serves on an existing listener.
func (s *Server) Serve(lis net.Listener) error {
	logger.Log.Infow("[http] starting server", "addr", lis.Addr().String())
	if err := s.httpServer.Serve(lis); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Log.Errorw("[http] server stopped with error", "err", err)
		return err
	}
	logger.Log.Info("[http] server stopped gracefully")
	return nil
}

// Shutdown stops accepting connections and waits for in-flight streams until
// ctx is done.
func (s *Server) Shutdown(ctx context.Context) error {
	logger.Log.Infow("[http] shutdown", "addr", s.httpServer.Addr)
	return s.httpServer.Shutdown(ctx)
}

func handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

type errorBody struct {
	Error string `json:"error"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, errorBody{Error: msg})
}

// decodeBody reads a JSON request body into v.
func decodeBody(w http.ResponseWriter, r *http.Request, v any) error {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		return fmt.Errorf("invalid JSON body: %w", err)
	}
	return nil
}
