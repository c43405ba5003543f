package httpapi

import (
	"crypto/subtle"
	"net/http"
	"strings"
	"time"

	"github.com/yungtweek/chunkback/internal/logger"
)

// auth accepts the key as "Authorization: Bearer <key>", a bare
// Authorization value, x-api-key (Anthropic), x-goog-api-key or ?key= (Gemini).
func (s *Server) auth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.cfg.BypassAuth {
			next.ServeHTTP(w, r)
			return
		}

		key, ok := requestKey(r)
		if !ok {
			writeError(w, http.StatusUnauthorized, "Missing Authorization header")
			return
		}
		if subtle.ConstantTimeCompare([]byte(key), []byte(s.cfg.APIKey)) != 1 {
			logger.Log.Infow("[http][auth] rejected key", "path", r.URL.Path)
			writeError(w, http.StatusUnauthorized, "Invalid API key")
			return
		}
		next.ServeHTTP(w, r)
	})
}

func requestKey(r *http.Request) (string, bool) {
	if h := r.Header.Get("Authorization"); h != "" {
		return strings.TrimPrefix(h, "Bearer "), true
	}
	for _, name := range []string{"x-api-key", "x-goog-api-key"} {
		if v := r.Header.Get(name); v != "" {
			return v, true
		}
	}
	if v := r.URL.Query().Get("key"); v != "" {
		return v, true
	}
	return "", false
}

// statusRecorder remembers the status and whether the header went out, and
// keeps streaming working by forwarding Flush.
type statusRecorder struct {
	http.ResponseWriter
	status      int
	wroteHeader bool
	bytes       int
}

func (r *statusRecorder) WriteHeader(code int) {
	if r.wroteHeader {
		return
	}
	r.status = code
	r.wroteHeader = true
	r.ResponseWriter.WriteHeader(code)
}

func (r *statusRecorder) Write(b []byte) (int, error) {
	if !r.wroteHeader {
		r.WriteHeader(http.StatusOK)
	}
	n, err := r.ResponseWriter.Write(b)
	r.bytes += n
	return n, err
}

func (r *statusRecorder) Flush() {
	if f, ok := r.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

func (r *statusRecorder) Unwrap() http.ResponseWriter { return r.ResponseWriter }

func recorderFor(w http.ResponseWriter) *statusRecorder {
	if rec, ok := w.(*statusRecorder); ok {
		return rec
	}
	return &statusRecorder{ResponseWriter: w, status: http.StatusOK}
}

func accessLog(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := recorderFor(w)
		next.ServeHTTP(rec, r)
		logger.Log.Infow("[http] request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", rec.status,
			"bytes", rec.bytes,
			"durationMs", time.Since(start).Milliseconds(),
		)
	})
}

// recoverer turns a panic into a 500 when nothing has been sent yet; once a
// stream has started the connection is simply closed.
func recoverer(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		rec := recorderFor(w)
		defer func() {
			v := recover()
			if v == nil {
				return
			}
			if v == http.ErrAbortHandler {
				panic(v)
			}
			logger.Log.Errorw("[http] panic", "path", r.URL.Path, "panic", v)
			if !rec.wroteHeader {
				writeError(rec, http.StatusInternalServerError, "Internal server error")
				return
			}
			panic(http.ErrAbortHandler)
		}()
		next.ServeHTTP(rec, r)
	})
}
