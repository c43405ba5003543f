package httpapi

import (
	"net/http"
	"strings"

	openai "github.com/sashabaranov/go-openai"

	"github.com/yungtweek/chunkback/internal/logger"
	"github.com/yungtweek/chunkback/internal/render"
)

type chatCompletionRequest struct {
	Model    string                         `json:"model"`
	Messages []openai.ChatCompletionMessage `json:"messages"`
}

// handleChatCompletions serves POST /v1/chat/completions.
func (s *Server) handleChatCompletions(w http.ResponseWriter, r *http.Request) {
	var req chatCompletionRequest
	if err := decodeBody(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if len(req.Messages) == 0 {
		writeError(w, http.StatusBadRequest, "Messages array is required")
		return
	}

	t := turn{vendor: render.OpenAI, model: req.Model}

	// A trailing tool message means the client is answering an earlier tool call.
	if id := trailingToolCallID(req.Messages); id != "" {
		if answer, ok := s.recall(r.Context(), id); ok {
			logger.Log.Infow("[http][openai] follow-up", "toolCallId", id)
			t.followUp, t.answer = true, answer
			s.stream(w, r, t)
			return
		}
	}

	prompt, ok := lastUserText(req.Messages)
	if !ok {
		writeError(w, http.StatusBadRequest, "At least one user message is required")
		return
	}
	t.prompt = prompt
	s.stream(w, r, t)
}

// trailingToolCallID returns the tool_call_id of the final message when that
// message is a tool result. Tool results earlier in the history are answered
// turns and never select follow-up mode.
func trailingToolCallID(msgs []openai.ChatCompletionMessage) string {
	if len(msgs) == 0 {
		return ""
	}
	last := msgs[len(msgs)-1]
	if last.Role != openai.ChatMessageRoleTool {
		return ""
	}
	return last.ToolCallID
}

// lastUserText returns the content of the last user message; text parts of a
// multi-part message are joined with newlines.
func lastUserText(msgs []openai.ChatCompletionMessage) (string, bool) {
	for i := len(msgs) - 1; i >= 0; i-- {
		m := msgs[i]
		if m.Role != openai.ChatMessageRoleUser {
			continue
		}
		if len(m.MultiContent) == 0 {
			return m.Content, true
		}
		var texts []string
		for _, p := range m.MultiContent {
			if p.Type == openai.ChatMessagePartTypeText && p.Text != "" {
				texts = append(texts, p.Text)
			}
		}
		return strings.Join(texts, "\n"), true
	}
	return "", false
}
