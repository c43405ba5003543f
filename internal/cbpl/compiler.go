package cbpl

import (
	"fmt"
	"strings"

	"go.uber.org/multierr"
)

// LineError reports a non-empty prompt line that is not an instruction.
type LineError struct {
	Line int
	Text string
}

func (e *LineError) Error() string {
	return fmt.Sprintf("line %d: unrecognized instruction %q", e.Line, e.Text)
}

// Compile turns a prompt into executable steps. Lines that are not
// instructions are skipped, so prose mixed with directives never fails.
// Compile is pure: the same prompt always yields the same steps.
func Compile(prompt string) CompiledPrompt {
	p, _ := compile(prompt)
	return p
}

// CompileStrict compiles like Compile and additionally returns one
// *LineError per skipped line, combined with multierr. The compiled prompt
// is complete even when the error is non-nil.
func CompileStrict(prompt string) (CompiledPrompt, error) {
	return compile(prompt)
}

func compile(prompt string) (CompiledPrompt, error) {
	var (
		out          CompiledPrompt
		errs         error
		chunkSize    *int
		chunkLatency *int
	)

	for i, raw := range strings.Split(prompt, "\n") {
		line := strings.TrimSpace(raw)
		if line == "" {
			continue
		}

		cmd, ok := ParseLine(line)
		if !ok {
			errs = multierr.Append(errs, &LineError{Line: i + 1, Text: line})
			continue
		}

		switch c := cmd.(type) {
		case ChunkSize:
			chunkSize = intPtr(c.Size)
		case ChunkLatency:
			chunkLatency = intPtr(c.LatencyMs)
		case Say, ToolCall:
			// Each step gets its own copies so later directives cannot leak back.
			out.Steps = append(out.Steps, Step{
				Command:        c,
				ChunkSize:      copyInt(chunkSize),
				ChunkLatencyMs: copyInt(chunkLatency),
			})
		}
	}

	return out, errs
}

// CompileReporting compiles like Compile. When strict is set, report is called
// with the line number and text of each skipped line, in line order.
func CompileReporting(prompt string, strict bool, report func(line int, text string)) CompiledPrompt {
	p, err := compile(prompt)
	if strict && report != nil {
		for _, le := range LineErrors(err) {
			report(le.Line, le.Text)
		}
	}
	return p
}

// LineErrors unpacks the per-line diagnostics of a CompileStrict error.
func LineErrors(err error) []*LineError {
	var out []*LineError
	for _, e := range multierr.Errors(err) {
		if le, ok := e.(*LineError); ok {
			out = append(out, le)
		}
	}
	return out
}

func intPtr(v int) *int { return &v }

func copyInt(p *int) *int {
	if p == nil {
		return nil
	}
	return intPtr(*p)
}
