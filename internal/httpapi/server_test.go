package httpapi

import (
	"bufio"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/anthropics/anthropic-sdk-go"
	openai "github.com/sashabaranov/go-openai"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/genai"

	"github.com/yungtweek/chunkback/internal/cache"
	"github.com/yungtweek/chunkback/internal/config"
)

func newTestServer(t *testing.T, mutate func(*config.Config)) *httptest.Server {
	t.Helper()
	cfg := config.Defaults()
	cfg.BypassAuth = true
	cfg.FollowUpLatencyMs = 0
	if mutate != nil {
		mutate(&cfg)
	}
	correlations := cache.NewCorrelations(cache.NewMemoryStore(), cfg.CacheTTL)
	s := New(cfg, correlations)
	s.sleep = func(context.Context, time.Duration) error { return nil }

	ts := httptest.NewServer(s.Handler())
	t.Cleanup(func() {
		ts.Close()
		correlations.Close()
	})
	return ts
}

func post(t *testing.T, ts *httptest.Server, path, body string, headers ...string) (*http.Response, string) {
	t.Helper()
	req, err := http.NewRequest(http.MethodPost, ts.URL+path, strings.NewReader(body))
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")
	for i := 0; i+1 < len(headers); i += 2 {
		req.Header.Set(headers[i], headers[i+1])
	}
	resp, err := ts.Client().Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	b, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return resp, string(b)
}

// sseData returns the data payloads of a server-sent event stream in order.
func sseData(t *testing.T, body string) []string {
	t.Helper()
	var out []string
	sc := bufio.NewScanner(strings.NewReader(body))
	for sc.Scan() {
		if v, ok := strings.CutPrefix(sc.Text(), "data: "); ok {
			out = append(out, v)
		}
	}
	require.NoError(t, sc.Err())
	return out
}

func openAIChunks(t *testing.T, body string) []openai.ChatCompletionStreamResponse {
	t.Helper()
	data := sseData(t, body)
	require.NotEmpty(t, data)
	require.Equal(t, "[DONE]", data[len(data)-1])
	var out []openai.ChatCompletionStreamResponse
	for _, d := range data[:len(data)-1] {
		var c openai.ChatCompletionStreamResponse
		require.NoError(t, json.Unmarshal([]byte(d), &c))
		out = append(out, c)
	}
	return out
}

func openAIText(chunks []openai.ChatCompletionStreamResponse) string {
	var sb strings.Builder
	for _, c := range chunks {
		sb.WriteString(c.Choices[0].Delta.Content)
	}
	return sb.String()
}

func TestHealthSkipsAuth(t *testing.T) {
	ts := newTestServer(t, func(c *config.Config) { c.BypassAuth = false })

	resp, err := ts.Client().Get(ts.URL + "/health")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	var body map[string]string
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	assert.Equal(t, "ok", body["status"])
}

func TestAuth(t *testing.T) {
	ts := newTestServer(t, func(c *config.Config) {
		c.BypassAuth = false
		c.APIKey = "cheesers1"
	})
	const body = `{"messages":[{"role":"user","content":"SAY \"hi\""}]}`

	cases := []struct {
		name    string
		headers []string
		path    string
		status  int
	}{
		{"missing", nil, "/v1/chat/completions", http.StatusUnauthorized},
		{"wrong bearer", []string{"Authorization", "Bearer nope"}, "/v1/chat/completions", http.StatusUnauthorized},
		{"bearer", []string{"Authorization", "Bearer cheesers1"}, "/v1/chat/completions", http.StatusOK},
		{"bare", []string{"Authorization", "cheesers1"}, "/v1/chat/completions", http.StatusOK},
		{"x-api-key", []string{"x-api-key", "cheesers1"}, "/v1/chat/completions", http.StatusOK},
		{"x-goog-api-key", []string{"x-goog-api-key", "cheesers1"}, "/v1/chat/completions", http.StatusOK},
		{"query key", nil, "/v1/chat/completions?key=cheesers1", http.StatusOK},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			resp, out := post(t, ts, tc.path, body, tc.headers...)
			assert.Equal(t, tc.status, resp.StatusCode, out)
			if tc.status == http.StatusUnauthorized {
				var e errorBody
				require.NoError(t, json.Unmarshal([]byte(out), &e))
				assert.NotEmpty(t, e.Error)
			}
		})
	}
}

// TestOpenAIHello streams a single short SAY and terminates with [DONE].
func TestOpenAIHello(t *testing.T) {
	ts := newTestServer(t, nil)
	resp, body := post(t, ts, "/v1/chat/completions",
		`{"model":"gpt-4o","messages":[{"role":"user","content":"SAY \"Hello\""}]}`)

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "text/event-stream", resp.Header.Get("Content-Type"))
	assert.Equal(t, "no-cache", resp.Header.Get("Cache-Control"))

	chunks := openAIChunks(t, body)
	assert.Equal(t, "Hello", openAIText(chunks))
	assert.Equal(t, "gpt-4o", chunks[0].Model)
	assert.Equal(t, openai.FinishReasonStop, chunks[len(chunks)-1].Choices[0].FinishReason)
}

func TestOpenAIChunkSize(t *testing.T) {
	ts := newTestServer(t, nil)
	_, body := post(t, ts, "/v1/chat/completions",
		`{"messages":[{"role":"user","content":"CHUNKSIZE 3\nSAY \"abcdefg\""}]}`)

	var parts []string
	for _, c := range openAIChunks(t, body) {
		if s := c.Choices[0].Delta.Content; s != "" {
			parts = append(parts, s)
		}
	}
	assert.Equal(t, []string{"abc", "def", "g"}, parts)
}

// TestOpenAIMultiPartContent joins the text parts of the last user message.
func TestOpenAIMultiPartContent(t *testing.T) {
	ts := newTestServer(t, nil)
	_, body := post(t, ts, "/v1/chat/completions", `{"messages":[
		{"role":"user","content":"SAY \"ignored\""},
		{"role":"assistant","content":"ok"},
		{"role":"user","content":[{"type":"text","text":"SAY \"one\""},{"type":"text","text":"SAY \"two\""}]}
	]}`)
	assert.Equal(t, "onetwo", openAIText(openAIChunks(t, body)))
}

// TestOpenAIToolCallFollowUp runs the full two-turn flow: the tool call, then
// the scripted answer once the client returns the tool result.
func TestOpenAIToolCallFollowUp(t *testing.T) {
	ts := newTestServer(t, nil)

	_, body := post(t, ts, "/v1/chat/completions", `{"messages":[{"role":"user",
		"content":"TOOLCALL \"get_weather\" {\"location\":\"San Francisco\"} \"sunny and 72F\""}]}`)
	chunks := openAIChunks(t, body)
	require.Len(t, chunks, 2)
	calls := chunks[0].Choices[0].Delta.ToolCalls
	require.Len(t, calls, 1)
	assert.Equal(t, "get_weather", calls[0].Function.Name)
	assert.Equal(t, openai.FinishReasonToolCalls, chunks[1].Choices[0].FinishReason)

	followUp := `{"messages":[
		{"role":"user","content":"whatever"},
		{"role":"assistant","tool_calls":[{"id":"` + calls[0].ID + `","type":"function","function":{"name":"get_weather","arguments":"{}"}}]},
		{"role":"tool","tool_call_id":"` + calls[0].ID + `","content":"72"}
	]}`
	_, body = post(t, ts, "/v1/chat/completions", followUp)
	chunks = openAIChunks(t, body)
	assert.Equal(t, "sunny and 72F", openAIText(chunks))
	assert.Equal(t, openai.FinishReasonStop, chunks[len(chunks)-1].Choices[0].FinishReason)

	// The answer is not consumed by reading it.
	_, body = post(t, ts, "/v1/chat/completions", followUp)
	assert.Equal(t, "sunny and 72F", openAIText(openAIChunks(t, body)))
}

// TestOpenAILaterTurnCompilesNewPrompt checks that an answered tool call in
// the history does not replay its answer once the user speaks again.
func TestOpenAILaterTurnCompilesNewPrompt(t *testing.T) {
	ts := newTestServer(t, nil)

	_, body := post(t, ts, "/v1/chat/completions", `{"messages":[{"role":"user",
		"content":"TOOLCALL \"get_weather\" {\"city\":\"SF\"} \"sunny and 72F\""}]}`)
	calls := openAIChunks(t, body)[0].Choices[0].Delta.ToolCalls
	require.Len(t, calls, 1)

	history := `{"messages":[
		{"role":"user","content":"weather?"},
		{"role":"assistant","tool_calls":[{"id":"` + calls[0].ID + `","type":"function","function":{"name":"get_weather","arguments":"{}"}}]},
		{"role":"tool","tool_call_id":"` + calls[0].ID + `","content":"72"},
		{"role":"assistant","content":"sunny and 72F"},
		{"role":"user","content":"SAY \"second turn\""}
	]}`
	_, body = post(t, ts, "/v1/chat/completions", history)
	assert.Equal(t, "second turn", openAIText(openAIChunks(t, body)))
}

// TestOpenAIUnknownToolCallIDCompilesPrompt falls back to the last user message.
func TestOpenAIUnknownToolCallIDCompilesPrompt(t *testing.T) {
	ts := newTestServer(t, nil)
	_, body := post(t, ts, "/v1/chat/completions", `{"messages":[
		{"role":"user","content":"SAY \"fresh\""},
		{"role":"tool","tool_call_id":"call_unknown","content":"x"}
	]}`)
	assert.Equal(t, "fresh", openAIText(openAIChunks(t, body)))
}

func TestValidationErrors(t *testing.T) {
	ts := newTestServer(t, nil)
	cases := []struct {
		path string
		body string
	}{
		{"/v1/chat/completions", `{"messages":[]}`},
		{"/v1/chat/completions", `{"messages":[{"role":"system","content":"hi"}]}`},
		{"/v1/chat/completions", `{not json`},
		{"/v1/messages", `{"messages":[]}`},
		{"/v1/messages", `{"messages":[{"role":"assistant","content":"hi"}]}`},
		{"/v1/models/gemini-pro/generateContent", `{"contents":[]}`},
		{"/v1beta/models/gemini-pro:generateContent", `{"contents":[{"role":"model","parts":[{"text":"x"}]}]}`},
	}
	for _, tc := range cases {
		resp, body := post(t, ts, tc.path, tc.body)
		assert.Equal(t, http.StatusBadRequest, resp.StatusCode, "%s %s", tc.path, tc.body)
		var e errorBody
		require.NoError(t, json.Unmarshal([]byte(body), &e))
		assert.NotEmpty(t, e.Error)
	}
}

func anthropicEvents(t *testing.T, body string) []anthropic.MessageStreamEventUnion {
	t.Helper()
	var out []anthropic.MessageStreamEventUnion
	for _, d := range sseData(t, body) {
		var ev anthropic.MessageStreamEventUnion
		require.NoError(t, json.Unmarshal([]byte(d), &ev))
		out = append(out, ev)
	}
	return out
}

func TestAnthropicToolUseFollowUp(t *testing.T) {
	ts := newTestServer(t, nil)

	_, body := post(t, ts, "/v1/messages", `{"model":"claude-x","max_tokens":100,"messages":[{"role":"user",
		"content":[{"type":"text","text":"TOOLCALL \"get_weather\" \"San Francisco\" \"The weather is 72°F and sunny\""}]}]}`)
	events := anthropicEvents(t, body)
	require.NotEmpty(t, events)
	assert.Equal(t, "message_stop", events[len(events)-1].Type)

	var toolID string
	for _, ev := range events {
		if ev.Type == "content_block_start" && ev.ContentBlock.Type == "tool_use" {
			assert.Equal(t, "get_weather", ev.ContentBlock.Name)
			toolID = ev.ContentBlock.ID
		}
		if ev.Type == "message_delta" {
			assert.Equal(t, anthropic.StopReasonToolUse, ev.Delta.StopReason)
		}
	}
	require.NotEmpty(t, toolID)

	_, body = post(t, ts, "/v1/messages", `{"messages":[
		{"role":"user","content":"weather?"},
		{"role":"assistant","content":[{"type":"tool_use","id":"`+toolID+`","name":"get_weather","input":{}}]},
		{"role":"user","content":[{"type":"tool_result","tool_use_id":"`+toolID+`","content":"72"}]}
	]}`)
	var text strings.Builder
	for _, ev := range anthropicEvents(t, body) {
		if ev.Type == "content_block_delta" {
			text.WriteString(ev.Delta.Text)
		}
		if ev.Type == "message_delta" {
			assert.Equal(t, anthropic.StopReasonEndTurn, ev.Delta.StopReason)
		}
	}
	assert.Equal(t, "The weather is 72°F and sunny", text.String())
}

func TestAnthropicStringContent(t *testing.T) {
	ts := newTestServer(t, nil)
	resp, body := post(t, ts, "/v1/messages", `{"messages":[{"role":"user","content":"SAY \"plain\""}]}`)
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	var text strings.Builder
	for _, ev := range anthropicEvents(t, body) {
		if ev.Type == "content_block_delta" {
			text.WriteString(ev.Delta.Text)
		}
	}
	assert.Equal(t, "plain", text.String())
}

func geminiObjects(t *testing.T, body string) []*genai.GenerateContentResponse {
	t.Helper()
	var out []*genai.GenerateContentResponse
	for _, line := range strings.Split(strings.TrimSpace(body), "\n") {
		resp := &genai.GenerateContentResponse{}
		require.NoError(t, json.Unmarshal([]byte(line), resp))
		out = append(out, resp)
	}
	return out
}

// TestGeminiFunctionCallFollowUpByName answers a functionResponse that
// carries only the function name.
func TestGeminiFunctionCallFollowUpByName(t *testing.T) {
	ts := newTestServer(t, nil)

	resp, body := post(t, ts, "/v1beta/models/gemini-2.0-flash/generateContent", `{"contents":[{"role":"user",
		"parts":[{"text":"TOOLCALL \"lookup\" {\"q\":\"x\"} \"found it\""}]}]}`)
	assert.Equal(t, "application/json", resp.Header.Get("Content-Type"))
	objs := geminiObjects(t, body)
	require.Len(t, objs, 1)
	calls := objs[0].FunctionCalls()
	require.Len(t, calls, 1)
	assert.Equal(t, "lookup", calls[0].Name)
	assert.Equal(t, map[string]any{"q": "x"}, calls[0].Args)
	assert.Equal(t, "gemini-2.0-flash", objs[0].ModelVersion)

	_, body = post(t, ts, "/v1/models/gemini-2.0-flash/generateContent", `{"contents":[
		{"role":"user","parts":[{"text":"hi"}]},
		{"role":"model","parts":[{"functionCall":{"name":"lookup","args":{}}}]},
		{"role":"user","parts":[{"functionResponse":{"name":"lookup","response":{"ok":true}}}]}
	]}`)
	var text strings.Builder
	objs = geminiObjects(t, body)
	for _, o := range objs {
		text.WriteString(o.Text())
	}
	assert.Equal(t, "found it", text.String())
	assert.Equal(t, genai.FinishReasonStop, objs[len(objs)-1].Candidates[0].FinishReason)
}

func TestGeminiColonRoutes(t *testing.T) {
	ts := newTestServer(t, nil)
	const body = `{"contents":[{"role":"user","parts":[{"text":"SAY \"hi there\""}]}]}`

	_, out := post(t, ts, "/v1beta/models/gemini-pro:generateContent", body)
	objs := geminiObjects(t, out)
	assert.Equal(t, "hi there", objs[0].Text())

	resp, out := post(t, ts, "/v1beta/models/gemini-pro:streamGenerateContent?alt=sse", body)
	assert.Equal(t, "text/event-stream", resp.Header.Get("Content-Type"))
	data := sseData(t, out)
	require.Len(t, data, 1)
	r := &genai.GenerateContentResponse{}
	require.NoError(t, json.Unmarshal([]byte(data[0]), r))
	assert.Equal(t, "hi there", r.Text())

	resp, _ = post(t, ts, "/v1beta/models/gemini-pro:countTokens", body)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestFaultInjection(t *testing.T) {
	ts := newTestServer(t, func(c *config.Config) {
		c.ErrorRate = 1
		c.ErrorMode = "429"
	})
	resp, body := post(t, ts, "/v1/chat/completions", `{"messages":[{"role":"user","content":"SAY \"x\""}]}`)
	assert.Equal(t, http.StatusTooManyRequests, resp.StatusCode)
	assert.Contains(t, body, "mock error")
}

// TestStrictParseStillStreams logs unknown lines but streams the rest.
func TestStrictParseStillStreams(t *testing.T) {
	ts := newTestServer(t, func(c *config.Config) { c.StrictParse = true })
	_, body := post(t, ts, "/v1/chat/completions",
		`{"messages":[{"role":"user","content":"hello\nSAY \"kept\"\nsay \"lower\""}]}`)
	assert.Equal(t, "kept", openAIText(openAIChunks(t, body)))
}

func TestRecovererBeforeHeaders(t *testing.T) {
	h := recoverer(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		panic("boom")
	}))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/v1/messages", nil))

	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.JSONEq(t, `{"error":"Internal server error"}`, rec.Body.String())
}

func TestRecovererAfterHeadersAborts(t *testing.T) {
	h := recoverer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		panic("boom")
	}))
	assert.PanicsWithValue(t, http.ErrAbortHandler, func() {
		h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/", nil))
	})
}
