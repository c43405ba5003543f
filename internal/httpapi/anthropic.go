package httpapi

import (
	"bytes"
	"encoding/json"
	"net/http"
	"strings"

	"github.com/yungtweek/chunkback/internal/logger"
	"github.com/yungtweek/chunkback/internal/render"
)

type messagesRequest struct {
	Model    string         `json:"model"`
	Messages []inputMessage `json:"messages"`
}

type inputMessage struct {
	Role    string       `json:"role"`
	Content inputContent `json:"content"`
}

type inputBlock struct {
	Type      string `json:"type"`
	Text      string `json:"text,omitempty"`
	ToolUseID string `json:"tool_use_id,omitempty"`
}

// inputContent is either a plain string or an array of content blocks; a
// string decodes as a single text block.
type inputContent []inputBlock

func (c *inputContent) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if len(b) > 0 && b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		*c = inputContent{{Type: "text", Text: s}}
		return nil
	}
	var blocks []inputBlock
	if err := json.Unmarshal(b, &blocks); err != nil {
		return err
	}
	*c = blocks
	return nil
}

// handleMessages serves POST /v1/messages.
func (s *Server) handleMessages(w http.ResponseWriter, r *http.Request) {
	var req messagesRequest
	if err := decodeBody(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if len(req.Messages) == 0 {
		writeError(w, http.StatusBadRequest, "Messages array is required")
		return
	}

	t := turn{vendor: render.Anthropic, model: req.Model}

	last := req.Messages[len(req.Messages)-1]
	if last.Role == "user" {
		for _, b := range last.Content {
			if b.Type != "tool_result" {
				continue
			}
			if answer, ok := s.recall(r.Context(), b.ToolUseID); ok {
				logger.Log.Infow("[http][anthropic] follow-up", "toolUseId", b.ToolUseID)
				t.followUp, t.answer = true, answer
				s.stream(w, r, t)
				return
			}
			break
		}
	}

	prompt, ok := lastUserBlocksText(req.Messages)
	if !ok {
		writeError(w, http.StatusBadRequest, "At least one user message is required")
		return
	}
	t.prompt = prompt
	s.stream(w, r, t)
}

func lastUserBlocksText(msgs []inputMessage) (string, bool) {
	for i := len(msgs) - 1; i >= 0; i-- {
		if msgs[i].Role != "user" {
			continue
		}
		var texts []string
		for _, b := range msgs[i].Content {
			if b.Type == "text" {
				texts = append(texts, b.Text)
			}
		}
		return strings.Join(texts, "\n"), true
	}
	return "", false
}
