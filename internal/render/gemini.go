package render

import (
	"io"
	"strings"

	"google.golang.org/genai"
)

// GeminiEmitter writes GenerateContentResponse objects as newline-delimited
// JSON, or as data-only server-sent events when SSE is set (the alt=sse form
// of streamGenerateContent). The final object carries finishReason STOP and
// usage metadata.
type GeminiEmitter struct {
	SSE bool

	sw     *streamWriter
	id     string
	model  string
	output strings.Builder
	done   bool
}

func NewGeminiEmitter(w io.Writer, model string) *GeminiEmitter {
	if model == "" {
		model = "chunkback"
	}
	return &GeminiEmitter{
		sw:    newStreamWriter(w),
		id:    NewCallID("resp_"),
		model: model,
	}
}

func (e *GeminiEmitter) Begin() error { return nil }

func (e *GeminiEmitter) Text(chunk string, last bool) error {
	e.output.WriteString(chunk)
	return e.send(&genai.Part{Text: chunk}, last)
}

// ToolCall always ends the response, so it carries the terminal fields.
func (e *GeminiEmitter) ToolCall(call ToolCall) error {
	e.output.WriteString(call.Arguments)
	return e.send(&genai.Part{
		FunctionCall: &genai.FunctionCall{
			ID:   call.ID,
			Name: call.Name,
			Args: argsObject(call.Arguments),
		},
	}, true)
}

func (e *GeminiEmitter) Finish(FinishReason) error {
	if e.done {
		return nil
	}
	return e.send(nil, true)
}

func (e *GeminiEmitter) send(part *genai.Part, final bool) error {
	content := &genai.Content{Role: genai.RoleModel, Parts: []*genai.Part{}}
	if part != nil {
		content.Parts = append(content.Parts, part)
	}
	cand := &genai.Candidate{Content: content}
	resp := &genai.GenerateContentResponse{
		Candidates:   []*genai.Candidate{cand},
		ModelVersion: e.model,
		ResponseID:   e.id,
	}
	if final {
		tokens := int32(ApproxTokens(e.output.String()))
		cand.FinishReason = genai.FinishReasonStop
		resp.UsageMetadata = &genai.GenerateContentResponseUsageMetadata{
			CandidatesTokenCount: tokens,
			TotalTokenCount:      tokens,
		}
		e.done = true
	}
	if e.SSE {
		return e.sw.writeSSE("", resp)
	}
	return e.sw.writeLine(resp)
}
