package render

import (
	"bufio"
	"bytes"
	"encoding/json"
	"io"
	"net/http"
	"strings"

	"github.com/google/uuid"
)

// streamWriter buffers frames and flushes them through to the client after
// every write. The first error sticks; later writes are no-ops returning it.
type streamWriter struct {
	bw      *bufio.Writer
	flusher http.Flusher
	err     error
}

func newStreamWriter(w io.Writer) *streamWriter {
	sw := &streamWriter{bw: bufio.NewWriter(w)}
	if f, ok := w.(http.Flusher); ok {
		sw.flusher = f
	}
	return sw
}

// writeSSE writes one server-sent event. An empty event name writes only the
// data line.
func (s *streamWriter) writeSSE(event string, v any) error {
	b, err := json.Marshal(v)
	if err != nil {
		return s.fail(err)
	}
	var sb strings.Builder
	if event != "" {
		sb.WriteString("event: ")
		sb.WriteString(event)
		sb.WriteByte('\n')
	}
	sb.WriteString("data: ")
	sb.Write(b)
	sb.WriteString("\n\n")
	return s.writeString(sb.String())
}

// writeLine writes v as one newline-terminated JSON object.
func (s *streamWriter) writeLine(v any) error {
	b, err := json.Marshal(v)
	if err != nil {
		return s.fail(err)
	}
	return s.writeString(string(b) + "\n")
}

func (s *streamWriter) writeString(str string) error {
	if s.err != nil {
		return s.err
	}
	if _, err := s.bw.WriteString(str); err != nil {
		return s.fail(err)
	}
	if err := s.bw.Flush(); err != nil {
		return s.fail(err)
	}
	if s.flusher != nil {
		s.flusher.Flush()
	}
	return nil
}

func (s *streamWriter) fail(err error) error {
	if s.err == nil {
		s.err = err
	}
	return s.err
}

// NewCallID mints a unique id with the given vendor prefix, e.g. "call_" or
// "toolu_".
func NewCallID(prefix string) string {
	return prefix + strings.ReplaceAll(uuid.NewString(), "-", "")[:24]
}

// argsObject returns tool arguments as a JSON object: a valid object passes
// through, empty arguments become {}, anything else is wrapped as
// {"input": raw}.
func argsObject(raw string) map[string]any {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return map[string]any{}
	}
	var obj map[string]any
	if err := json.Unmarshal([]byte(raw), &obj); err == nil && obj != nil {
		return obj
	}
	return map[string]any{"input": raw}
}

// argsJSON is argsObject as compact JSON text. A valid object keeps its key
// order.
func argsJSON(raw string) string {
	trimmed := strings.TrimSpace(raw)
	if strings.HasPrefix(trimmed, "{") {
		var buf bytes.Buffer
		if err := json.Compact(&buf, []byte(trimmed)); err == nil {
			return buf.String()
		}
	}
	b, err := json.Marshal(argsObject(raw))
	if err != nil {
		return "{}"
	}
	return string(b)
}
