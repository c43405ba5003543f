// Package cbpl implements the chunkback prompt language: a line-oriented
// command language (SAY, CHUNKSIZE, CHUNKLATENCY, TOOLCALL) that scripts the
// output of the mock model.
//
// A prompt is compiled into an ordered list of executable steps. Directive
// commands (CHUNKSIZE, CHUNKLATENCY) never become steps; they only change the
// chunking applied to the steps that follow them.
package cbpl

// Command is one recognized instruction. The concrete type is one of Say,
// ChunkSize, ChunkLatency or ToolCall.
type Command interface {
	isCommand()
}

// Say streams Content as assistant text.
type Say struct {
	Content string
}

// ChunkSize sets the chunk length (in characters) for subsequent steps.
type ChunkSize struct {
	Size int
}

// ChunkLatency sets the delay between chunks for subsequent steps.
type ChunkLatency struct {
	LatencyMs int
}

// ToolCall asks the client to invoke ToolName with Arguments. Answer, when
// non-empty, is the scripted reply for the follow-up turn that carries the
// tool result.
type ToolCall struct {
	ToolName  string
	Arguments string
	Answer    string
}

func (Say) isCommand()          {}
func (ChunkSize) isCommand()    {}
func (ChunkLatency) isCommand() {}
func (ToolCall) isCommand()     {}

// Step is a Say or ToolCall annotated with the directives in effect when it
// was compiled. Nil directive fields mean "not set".
type Step struct {
	Command        Command
	ChunkSize      *int
	ChunkLatencyMs *int
}

// Verb returns the instruction keyword of the step's command.
func (s Step) Verb() string {
	switch s.Command.(type) {
	case Say:
		return KeywordSay
	case ToolCall:
		return KeywordToolCall
	}
	return ""
}

// CompiledPrompt is the ordered result of compiling one prompt.
type CompiledPrompt struct {
	Steps []Step
}

// Empty reports whether the prompt produced no steps.
func (p CompiledPrompt) Empty() bool {
	return len(p.Steps) == 0
}
