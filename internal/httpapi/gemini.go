package httpapi

import (
	"net/http"
	"strings"

	"google.golang.org/genai"

	"github.com/yungtweek/chunkback/internal/logger"
	"github.com/yungtweek/chunkback/internal/render"
)

type generateContentRequest struct {
	Contents []*genai.Content `json:"contents"`
}

// handleGenerateContent serves POST /v1/models/{model}/generateContent and
// its v1beta twin.
func (s *Server) handleGenerateContent(w http.ResponseWriter, r *http.Request) {
	s.serveGemini(w, r, r.PathValue("model"), false)
}

// handleModelAction serves the colon form used by the Gemini SDKs:
// {model}:generateContent and {model}:streamGenerateContent.
func (s *Server) handleModelAction(w http.ResponseWriter, r *http.Request) {
	model, action, ok := strings.Cut(r.PathValue("action"), ":")
	if !ok || model == "" {
		http.NotFound(w, r)
		return
	}
	switch action {
	case "generateContent":
		s.serveGemini(w, r, model, false)
	case "streamGenerateContent":
		s.serveGemini(w, r, model, r.URL.Query().Get("alt") == "sse")
	default:
		http.NotFound(w, r)
	}
}

func (s *Server) serveGemini(w http.ResponseWriter, r *http.Request, model string, sse bool) {
	var req generateContentRequest
	if err := decodeBody(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if len(req.Contents) == 0 {
		writeError(w, http.StatusBadRequest, "Contents array is required")
		return
	}

	t := turn{vendor: render.Gemini, model: model, alsoKeyByName: true}
	if sse {
		t.contentType = "text/event-stream"
		t.emitter = func(w http.ResponseWriter) render.Emitter {
			em := render.NewGeminiEmitter(w, model)
			em.SSE = true
			return em
		}
	}

	if last := req.Contents[len(req.Contents)-1]; last != nil {
		for _, p := range last.Parts {
			if p == nil || p.FunctionResponse == nil {
				continue
			}
			fr := p.FunctionResponse
			// Gemini clients often omit the call id; fall back to the name.
			if answer, ok := s.recall(r.Context(), fr.ID, fr.Name); ok {
				logger.Log.Infow("[http][gemini] follow-up", "id", fr.ID, "name", fr.Name)
				t.followUp, t.answer = true, answer
				s.stream(w, r, t)
				return
			}
			break
		}
	}

	prompt, ok := lastUserContentText(req.Contents)
	if !ok {
		writeError(w, http.StatusBadRequest, "At least one user content is required")
		return
	}
	t.prompt = prompt
	s.stream(w, r, t)
}

func lastUserContentText(contents []*genai.Content) (string, bool) {
	for i := len(contents) - 1; i >= 0; i-- {
		c := contents[i]
		if c == nil || c.Role != genai.RoleUser {
			continue
		}
		var texts []string
		for _, p := range c.Parts {
			if p != nil && p.Text != "" {
				texts = append(texts, p.Text)
			}
		}
		return strings.Join(texts, "\n"), true
	}
	return "", false
}
