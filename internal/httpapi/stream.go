package httpapi

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/yungtweek/chunkback/internal/cbpl"
	"github.com/yungtweek/chunkback/internal/logger"
	"github.com/yungtweek/chunkback/internal/render"
)

// turn is one validated request, ready to stream.
type turn struct {
	vendor render.Vendor
	model  string

	// prompt is compiled unless followUp is set, in which case answer is
	// streamed as plain text.
	prompt   string
	followUp bool
	answer   string

	// Optional overrides of the vendor defaults.
	contentType string
	emitter     func(w http.ResponseWriter) render.Emitter
	// alsoKeyByName stores scripted answers under the tool name as well.
	alsoKeyByName bool
}

// stream writes the whole response for t. Failures before the first byte
// become JSON errors; later failures just end the response.
func (s *Server) stream(w http.ResponseWriter, r *http.Request, t turn) {
	ctx := r.Context()
	tag := "[http][" + string(t.vendor) + "]"

	if s.faults.ShouldFail() {
		status := s.faults.HTTPStatus()
		logger.Log.Infow(tag+" injected error", "status", status, "mode", s.cfg.ErrorMode)
		writeError(w, status, "mock error")
		return
	}

	var compiled cbpl.CompiledPrompt
	if !t.followUp {
		compiled = s.compile(tag, t.prompt)
	}

	var em render.Emitter
	if t.emitter != nil {
		em = t.emitter(w)
	} else {
		var err error
		if em, err = t.vendor.NewEmitter(w, t.model); err != nil {
			logger.Log.Errorw(tag+" emitter", "err", err)
			writeError(w, http.StatusInternalServerError, "Internal server error")
			return
		}
	}

	contentType := t.contentType
	if contentType == "" {
		contentType = t.vendor.ContentType()
	}
	h := w.Header()
	h.Set("Content-Type", contentType)
	if contentType == "text/event-stream" {
		h.Set("Cache-Control", "no-cache")
		h.Set("Connection", "keep-alive")
	}
	w.WriteHeader(http.StatusOK)

	engine := s.engine(t)
	start := time.Now()
	var (
		res render.Result
		err error
	)
	if t.followUp {
		res, err = engine.RenderFollowUp(ctx, em, t.answer)
	} else {
		res, err = engine.Render(ctx, em, compiled)
	}

	switch {
	case err == nil:
		logger.Log.Infow(tag+" done",
			"model", t.model,
			"followUp", t.followUp,
			"frames", res.Frames,
			"toolCalls", len(res.ToolCalls),
			"finish", res.Reason.String(),
			"latencyMs", time.Since(start).Milliseconds(),
		)
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		logger.Log.Infow(tag+" canceled", "frames", res.Frames, "err", err)
	default:
		logger.Log.Warnw(tag+" stream aborted", "frames", res.Frames, "err", err)
	}
}

func (s *Server) compile(tag, prompt string) cbpl.CompiledPrompt {
	return cbpl.CompileReporting(prompt, s.cfg.StrictParse, logger.PromptLineReporter(tag))
}

// engine configures pacing from the server config and persists scripted
// answers before a tool call reaches the client.
func (s *Server) engine(t turn) *render.Engine {
	prefix := t.vendor.CallIDPrefix()
	return render.NewEngine(render.Options{
		DefaultChunkSize:    s.cfg.DefaultChunkSize,
		DefaultChunkLatency: s.cfg.DefaultChunkLatency(),
		FollowUpChunkSize:   s.cfg.FollowUpChunkSize,
		FollowUpLatency:     s.cfg.FollowUpLatency(),
		NewCallID:           func() string { return render.NewCallID(prefix) },
		Sleep:               s.sleep,
		OnToolCall: func(ctx context.Context, call render.ToolCall) error {
			if call.Answer == "" || s.correlations == nil {
				return nil
			}
			keys := []string{call.ID}
			if t.alsoKeyByName {
				keys = append(keys, call.Name)
			}
			// A failed write (already logged) only costs the follow-up; the
			// tool call still goes out.
			for _, k := range keys {
				_ = s.correlations.Remember(ctx, k, call.Answer)
			}
			return nil
		},
	})
}

// recall looks up scripted answers for the given keys in order.
func (s *Server) recall(ctx context.Context, keys ...string) (string, bool) {
	if s.correlations == nil {
		return "", false
	}
	for _, k := range keys {
		if v, ok := s.correlations.Recall(ctx, k); ok {
			return v, true
		}
	}
	return "", false
}
