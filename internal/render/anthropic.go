package render

import (
	"encoding/json"
	"io"
	"strings"
)

type anthropicUsage struct {
	InputTokens  int `json:"input_tokens"`
	OutputTokens int `json:"output_tokens"`
}

type anthropicMessage struct {
	ID           string         `json:"id"`
	Type         string         `json:"type"`
	Role         string         `json:"role"`
	Model        string         `json:"model"`
	Content      []any          `json:"content"`
	StopReason   *string        `json:"stop_reason"`
	StopSequence *string        `json:"stop_sequence"`
	Usage        anthropicUsage `json:"usage"`
}

type anthropicContentBlock struct {
	Type  string          `json:"type"`
	Text  *string         `json:"text,omitempty"`
	ID    string          `json:"id,omitempty"`
	Name  string          `json:"name,omitempty"`
	Input json.RawMessage `json:"input,omitempty"`
}

type anthropicDelta struct {
	Type         string  `json:"type,omitempty"`
	Text         string  `json:"text,omitempty"`
	PartialJSON  *string `json:"partial_json,omitempty"`
	StopReason   string  `json:"stop_reason,omitempty"`
	StopSequence *string `json:"stop_sequence,omitempty"`
}

type anthropicEvent struct {
	Type         string                 `json:"type"`
	Message      *anthropicMessage      `json:"message,omitempty"`
	Index        *int                   `json:"index,omitempty"`
	ContentBlock *anthropicContentBlock `json:"content_block,omitempty"`
	Delta        *anthropicDelta        `json:"delta,omitempty"`
	Usage        *anthropicUsage        `json:"usage,omitempty"`
}

// AnthropicEmitter writes Messages API stream events: message_start, one or
// more content blocks, message_delta and message_stop.
type AnthropicEmitter struct {
	sw     *streamWriter
	id     string
	model  string
	next   int    // index of the next content block
	open   string // type of the open block, "" when none
	output strings.Builder
}

func NewAnthropicEmitter(w io.Writer, model string) *AnthropicEmitter {
	if model == "" {
		model = "chunkback"
	}
	return &AnthropicEmitter{
		sw:    newStreamWriter(w),
		id:    NewCallID("msg_"),
		model: model,
	}
}

func (e *AnthropicEmitter) Begin() error {
	return e.event(anthropicEvent{
		Type: "message_start",
		Message: &anthropicMessage{
			ID:      e.id,
			Type:    "message",
			Role:    "assistant",
			Model:   e.model,
			Content: []any{},
		},
	})
}

func (e *AnthropicEmitter) Text(chunk string, _ bool) error {
	if e.open != "text" {
		if err := e.closeBlock(); err != nil {
			return err
		}
		if err := e.openText(); err != nil {
			return err
		}
	}
	e.output.WriteString(chunk)
	idx := e.next - 1
	return e.event(anthropicEvent{
		Type:  "content_block_delta",
		Index: &idx,
		Delta: &anthropicDelta{Type: "text_delta", Text: chunk},
	})
}

func (e *AnthropicEmitter) ToolCall(call ToolCall) error {
	if err := e.closeBlock(); err != nil {
		return err
	}
	idx := e.startBlock("tool_use")
	if err := e.event(anthropicEvent{
		Type:  "content_block_start",
		Index: &idx,
		ContentBlock: &anthropicContentBlock{
			Type:  "tool_use",
			ID:    call.ID,
			Name:  call.Name,
			Input: json.RawMessage("{}"),
		},
	}); err != nil {
		return err
	}
	args := argsJSON(call.Arguments)
	e.output.WriteString(args)
	if err := e.event(anthropicEvent{
		Type:  "content_block_delta",
		Index: &idx,
		Delta: &anthropicDelta{Type: "input_json_delta", PartialJSON: &args},
	}); err != nil {
		return err
	}
	return e.closeBlock()
}

func (e *AnthropicEmitter) Finish(reason FinishReason) error {
	// Clients expect at least one content block.
	if e.next == 0 {
		if err := e.openText(); err != nil {
			return err
		}
	}
	if err := e.closeBlock(); err != nil {
		return err
	}

	stop := "end_turn"
	if reason == FinishToolCall {
		stop = "tool_use"
	}
	if err := e.event(anthropicEvent{
		Type:  "message_delta",
		Delta: &anthropicDelta{StopReason: stop},
		Usage: &anthropicUsage{OutputTokens: ApproxTokens(e.output.String())},
	}); err != nil {
		return err
	}
	return e.event(anthropicEvent{Type: "message_stop"})
}

func (e *AnthropicEmitter) openText() error {
	idx := e.startBlock("text")
	empty := ""
	return e.event(anthropicEvent{
		Type:         "content_block_start",
		Index:        &idx,
		ContentBlock: &anthropicContentBlock{Type: "text", Text: &empty},
	})
}

func (e *AnthropicEmitter) startBlock(kind string) int {
	idx := e.next
	e.next++
	e.open = kind
	return idx
}

func (e *AnthropicEmitter) closeBlock() error {
	if e.open == "" {
		return nil
	}
	e.open = ""
	idx := e.next - 1
	return e.event(anthropicEvent{Type: "content_block_stop", Index: &idx})
}

func (e *AnthropicEmitter) event(ev anthropicEvent) error {
	return e.sw.writeSSE(ev.Type, ev)
}
