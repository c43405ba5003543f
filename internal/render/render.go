// Package render turns compiled prompts into vendor-shaped streaming
// responses.
//
// The Engine is vendor-neutral: it splits steps into chunk frames, paces
// them, mints tool call ids, and drives an Emitter. Each Emitter owns one wire
// format (OpenAI SSE, Anthropic SSE, Gemini newline-delimited JSON, or any
// other transport such as the gRPC script stream).
package render

import (
	"context"
	"time"

	"github.com/yungtweek/chunkback/internal/cbpl"
)

// FinishReason is the vendor-neutral reason a stream ended.
type FinishReason int

const (
	// FinishStop is a normal completion.
	FinishStop FinishReason = iota
	// FinishToolCall means the model is waiting for a tool result.
	FinishToolCall
)

func (r FinishReason) String() string {
	if r == FinishToolCall {
		return "tool_call"
	}
	return "stop"
}

// ToolCall is a rendered tool invocation with its minted id.
type ToolCall struct {
	ID        string
	Name      string
	Arguments string
	// Answer is the scripted reply for the follow-up turn, empty if none.
	Answer string
}

// Emitter writes one wire format. The engine calls Begin once, then Text and
// ToolCall in stream order, then Finish once. last is true for the final
// frame of the response. Any error aborts the stream.
type Emitter interface {
	Begin() error
	Text(chunk string, last bool) error
	ToolCall(call ToolCall) error
	Finish(reason FinishReason) error
}

// Options configure an Engine. Zero values fall back to the defaults below.
type Options struct {
	// DefaultChunkSize applies to steps without a CHUNKSIZE directive.
	DefaultChunkSize int
	// DefaultChunkLatency applies to steps without a CHUNKLATENCY directive.
	DefaultChunkLatency time.Duration
	// FollowUpChunkSize and FollowUpLatency pace scripted follow-up answers.
	FollowUpChunkSize int
	FollowUpLatency   time.Duration
	// NewCallID mints tool call ids.
	NewCallID func() string
	// OnToolCall runs before a tool call is written, so the scripted answer
	// can be persisted before the client is able to reply.
	OnToolCall func(ctx context.Context, call ToolCall) error
	// Sleep waits between chunks; it must return early with ctx.Err() when
	// ctx is done.
	Sleep func(ctx context.Context, d time.Duration) error
}

const (
	defaultChunkSize         = 10
	defaultFollowUpChunkSize = 10
)

// Engine schedules frames and drives emitters. It is safe for concurrent
// use; all per-stream state lives in the Emitter.
type Engine struct {
	opts Options
}

// NewEngine returns an Engine with defaults filled in.
func NewEngine(opts Options) *Engine {
	if opts.DefaultChunkSize <= 0 {
		opts.DefaultChunkSize = defaultChunkSize
	}
	if opts.FollowUpChunkSize <= 0 {
		opts.FollowUpChunkSize = defaultFollowUpChunkSize
	}
	if opts.NewCallID == nil {
		opts.NewCallID = func() string { return NewCallID("call_") }
	}
	if opts.Sleep == nil {
		opts.Sleep = sleepWithContext
	}
	return &Engine{opts: opts}
}

// Result summarizes a rendered stream.
type Result struct {
	Frames    int
	ToolCalls []ToolCall
	Reason    FinishReason
}

// Render streams a compiled prompt. Rendering stops after the first tool
// call: the conversation pauses until the client returns the tool result.
func (e *Engine) Render(ctx context.Context, em Emitter, p cbpl.CompiledPrompt) (Result, error) {
	return e.run(ctx, em, e.plan(p))
}

// RenderFollowUp streams a scripted answer as plain text and completes
// normally.
func (e *Engine) RenderFollowUp(ctx context.Context, em Emitter, answer string) (Result, error) {
	var frames []frame
	for i, c := range chunkRunes(answer, e.opts.FollowUpChunkSize) {
		f := frame{text: c}
		if i > 0 {
			f.delay = e.opts.FollowUpLatency
		}
		frames = append(frames, f)
	}
	return e.run(ctx, em, frames)
}

// frame is one scheduled write: a text chunk or a tool call, preceded by
// delay.
type frame struct {
	text  string
	call  *cbpl.ToolCall
	delay time.Duration
}

func (e *Engine) plan(p cbpl.CompiledPrompt) []frame {
	var frames []frame
	for _, step := range p.Steps {
		switch c := step.Command.(type) {
		case cbpl.Say:
			size := e.opts.DefaultChunkSize
			if step.ChunkSize != nil && *step.ChunkSize > 0 {
				size = *step.ChunkSize
			}
			latency := e.opts.DefaultChunkLatency
			if step.ChunkLatencyMs != nil {
				latency = time.Duration(*step.ChunkLatencyMs) * time.Millisecond
			}
			// No delay before the first chunk of a step.
			for i, chunk := range chunkRunes(c.Content, size) {
				f := frame{text: chunk}
				if i > 0 {
					f.delay = latency
				}
				frames = append(frames, f)
			}
		case cbpl.ToolCall:
			call := c
			return append(frames, frame{call: &call})
		}
	}
	return frames
}

func (e *Engine) run(ctx context.Context, em Emitter, frames []frame) (Result, error) {
	res := Result{Reason: FinishStop}
	if err := em.Begin(); err != nil {
		return res, err
	}

	for i, f := range frames {
		if err := ctx.Err(); err != nil {
			return res, err
		}
		if f.delay > 0 {
			if err := e.opts.Sleep(ctx, f.delay); err != nil {
				return res, err
			}
		}

		last := i == len(frames)-1
		if f.call != nil {
			call := ToolCall{
				ID:        e.opts.NewCallID(),
				Name:      f.call.ToolName,
				Arguments: f.call.Arguments,
				Answer:    f.call.Answer,
			}
			if e.opts.OnToolCall != nil {
				if err := e.opts.OnToolCall(ctx, call); err != nil {
					return res, err
				}
			}
			if err := em.ToolCall(call); err != nil {
				return res, err
			}
			res.ToolCalls = append(res.ToolCalls, call)
			res.Reason = FinishToolCall
		} else if err := em.Text(f.text, last); err != nil {
			return res, err
		}
		res.Frames++
	}

	return res, em.Finish(res.Reason)
}

// chunkRunes splits s into pieces of size runes; the last piece may be
// shorter. An empty string yields no chunks.
func chunkRunes(s string, size int) []string {
	if s == "" {
		return nil
	}
	rs := []rune(s)
	if size <= 0 || size >= len(rs) {
		return []string{s}
	}
	out := make([]string, 0, (len(rs)+size-1)/size)
	for i := 0; i < len(rs); i += size {
		end := i + size
		if end > len(rs) {
			end = len(rs)
		}
		out = append(out, string(rs[i:end]))
	}
	return out
}

func sleepWithContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// ApproxTokens provides a rough token estimate (4 runes ~= 1 token).
func ApproxTokens(s string) int {
	if s == "" {
		return 0
	}
	r := len([]rune(s))
	return (r + 3) / 4
}
