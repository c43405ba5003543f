package render

import (
	"fmt"
	"io"
)

// Vendor identifies a wire format.
type Vendor string

const (
	OpenAI    Vendor = "openai"
	Anthropic Vendor = "anthropic"
	Gemini    Vendor = "gemini"
)

// ContentType is the response media type for the vendor's stream.
func (v Vendor) ContentType() string {
	if v == Gemini {
		return "application/json"
	}
	return "text/event-stream"
}

// CallIDPrefix is the prefix of tool call ids minted for the vendor.
func (v Vendor) CallIDPrefix() string {
	switch v {
	case Anthropic:
		return "toolu_"
	case Gemini:
		return "fc_"
	default:
		return "call_"
	}
}

// NewEmitter returns a fresh emitter writing the vendor's format to w.
// Emitters hold per-stream state and must not be reused.
func (v Vendor) NewEmitter(w io.Writer, model string) (Emitter, error) {
	switch v {
	case OpenAI:
		return NewOpenAIEmitter(w, model), nil
	case Anthropic:
		return NewAnthropicEmitter(w, model), nil
	case Gemini:
		return NewGeminiEmitter(w, model), nil
	default:
		return nil, fmt.Errorf("unknown vendor %q", string(v))
	}
}
