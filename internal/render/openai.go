package render

import (
	"io"
	"time"

	openai "github.com/sashabaranov/go-openai"
)

// OpenAIEmitter writes chat.completion.chunk server-sent events terminated by
// "data: [DONE]".
type OpenAIEmitter struct {
	sw       *streamWriter
	id       string
	model    string
	created  int64
	sentRole bool
}

func NewOpenAIEmitter(w io.Writer, model string) *OpenAIEmitter {
	if model == "" {
		model = "chunkback"
	}
	return &OpenAIEmitter{
		sw:      newStreamWriter(w),
		id:      NewCallID("chatcmpl-"),
		model:   model,
		created: time.Now().Unix(),
	}
}

func (e *OpenAIEmitter) Begin() error { return nil }

func (e *OpenAIEmitter) Text(chunk string, _ bool) error {
	return e.send(openai.ChatCompletionStreamChoiceDelta{Content: chunk}, "")
}

func (e *OpenAIEmitter) ToolCall(call ToolCall) error {
	idx := 0
	return e.send(openai.ChatCompletionStreamChoiceDelta{
		ToolCalls: []openai.ToolCall{{
			Index: &idx,
			ID:    call.ID,
			Type:  openai.ToolTypeFunction,
			Function: openai.FunctionCall{
				Name:      call.Name,
				Arguments: call.Arguments,
			},
		}},
	}, "")
}

func (e *OpenAIEmitter) Finish(reason FinishReason) error {
	fr := openai.FinishReasonStop
	if reason == FinishToolCall {
		fr = openai.FinishReasonToolCalls
	}
	if err := e.send(openai.ChatCompletionStreamChoiceDelta{}, fr); err != nil {
		return err
	}
	return e.sw.writeString("data: [DONE]\n\n")
}

// send writes one chunk; the first chunk of the stream carries the role.
func (e *OpenAIEmitter) send(delta openai.ChatCompletionStreamChoiceDelta, fr openai.FinishReason) error {
	if !e.sentRole {
		delta.Role = openai.ChatMessageRoleAssistant
		e.sentRole = true
	}
	return e.sw.writeSSE("", openai.ChatCompletionStreamResponse{
		ID:      e.id,
		Object:  "chat.completion.chunk",
		Created: e.created,
		Model:   e.model,
		Choices: []openai.ChatCompletionStreamChoice{{
			Index:        0,
			Delta:        delta,
			FinishReason: fr,
		}},
	})
}
