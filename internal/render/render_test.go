package render

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/yungtweek/chunkback/internal/cbpl"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

// recorder is an Emitter that keeps every call as a readable line.
type recorder struct {
	mu     sync.Mutex
	events []string
	failAt int // 1-based index of the call that fails; 0 never
}

func (r *recorder) add(ev string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, ev)
	if r.failAt > 0 && len(r.events) == r.failAt {
		return errors.New("broken pipe")
	}
	return nil
}

func (r *recorder) Begin() error { return r.add("begin") }

func (r *recorder) Text(chunk string, last bool) error {
	if last {
		return r.add("text:" + chunk + ":last")
	}
	return r.add("text:" + chunk)
}

func (r *recorder) ToolCall(call ToolCall) error {
	return r.add("tool:" + call.ID + ":" + call.Name + ":" + call.Arguments)
}

func (r *recorder) Finish(reason FinishReason) error { return r.add("finish:" + reason.String()) }

// sleeps records requested delays without waiting.
type sleeps struct {
	mu sync.Mutex
	d  []time.Duration
}

func (s *sleeps) sleep(_ context.Context, d time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.d = append(s.d, d)
	return nil
}

func newTestEngine(s *sleeps, opts Options) *Engine {
	if opts.Sleep == nil {
		opts.Sleep = s.sleep
	}
	if opts.NewCallID == nil {
		n := 0
		opts.NewCallID = func() string {
			n++
			return "call_" + string(rune('0'+n))
		}
	}
	return NewEngine(opts)
}

func TestChunkRunes(t *testing.T) {
	cases := []struct {
		in   string
		size int
		want []string
	}{
		{"abcdefg", 3, []string{"abc", "def", "g"}},
		{"abcdef", 3, []string{"abc", "def"}},
		{"abc", 10, []string{"abc"}},
		{"abc", 0, []string{"abc"}},
		{"", 3, nil},
		{"héllo wörld", 4, []string{"héll", "o wö", "rld"}},
		{"日本語テキスト", 2, []string{"日本", "語テ", "キス", "ト"}},
	}
	for _, tc := range cases {
		got := chunkRunes(tc.in, tc.size)
		if diff := cmp.Diff(tc.want, got); diff != "" {
			t.Errorf("chunkRunes(%q, %d) mismatch (-want +got):\n%s", tc.in, tc.size, diff)
		}
		assert.Equal(t, tc.in, strings.Join(got, ""))
	}
}

// TestEngineChunksAndPaces checks chunk boundaries and that only chunks after
// the first of each step wait.
func TestEngineChunksAndPaces(t *testing.T) {
	s := &sleeps{}
	e := newTestEngine(s, Options{})
	rec := &recorder{}

	p := cbpl.Compile("CHUNKSIZE 3\nCHUNKLATENCY 20\nSAY \"abcdefg\"\nSAY \"xy\"")
	res, err := e.Render(context.Background(), rec, p)
	require.NoError(t, err)

	want := []string{
		"begin",
		"text:abc", "text:def", "text:g",
		"text:xy:last",
		"finish:stop",
	}
	if diff := cmp.Diff(want, rec.events); diff != "" {
		t.Fatalf("events mismatch (-want +got):\n%s", diff)
	}
	assert.Equal(t, []time.Duration{20 * time.Millisecond, 20 * time.Millisecond}, s.d)
	assert.Equal(t, 4, res.Frames)
	assert.Equal(t, FinishStop, res.Reason)
}

// TestEngineDefaults uses the configured default chunk size when the prompt
// sets none, and treats CHUNKSIZE 0 as unset.
func TestEngineDefaults(t *testing.T) {
	s := &sleeps{}
	e := newTestEngine(s, Options{DefaultChunkSize: 4, DefaultChunkLatency: 5 * time.Millisecond})

	rec := &recorder{}
	_, err := e.Render(context.Background(), rec, cbpl.Compile("CHUNKSIZE 0\nSAY \"abcdefgh\""))
	require.NoError(t, err)
	assert.Equal(t, []string{"begin", "text:abcd", "text:efgh:last", "finish:stop"}, rec.events)
	assert.Equal(t, []time.Duration{5 * time.Millisecond}, s.d)

	// An explicit zero latency overrides the default.
	s.d = nil
	rec = &recorder{}
	_, err = e.Render(context.Background(), rec, cbpl.Compile("CHUNKLATENCY 0\nSAY \"abcdefgh\""))
	require.NoError(t, err)
	assert.Empty(t, s.d)
}

// TestEngineStopsAtToolCall renders nothing after the first tool call and
// persists the answer before the call is written.
func TestEngineStopsAtToolCall(t *testing.T) {
	s := &sleeps{}
	rec := &recorder{}
	var hooked []ToolCall
	e := newTestEngine(s, Options{
		OnToolCall: func(_ context.Context, call ToolCall) error {
			hooked = append(hooked, call)
			return rec.add("hook:" + call.ID + ":" + call.Answer)
		},
	})

	p := cbpl.Compile(`SAY "Let me check"
TOOLCALL "get_weather" {"city":"SF"} "sunny and 72F"
SAY "never"
TOOLCALL "second" "x"`)
	res, err := e.Render(context.Background(), rec, p)
	require.NoError(t, err)

	want := []string{
		"begin",
		"text:Let me che",
		"text:ck",
		"hook:call_1:sunny and 72F",
		`tool:call_1:get_weather:{"city":"SF"}`,
		"finish:tool_call",
	}
	if diff := cmp.Diff(want, rec.events); diff != "" {
		t.Fatalf("events mismatch (-want +got):\n%s", diff)
	}
	require.Len(t, res.ToolCalls, 1)
	assert.Equal(t, FinishToolCall, res.Reason)
	assert.Equal(t, "get_weather", hooked[0].Name)
}

func TestEngineHookErrorAborts(t *testing.T) {
	rec := &recorder{}
	e := newTestEngine(&sleeps{}, Options{
		OnToolCall: func(context.Context, ToolCall) error { return errors.New("store down") },
	})
	_, err := e.Render(context.Background(), rec, cbpl.Compile(`TOOLCALL "f" "{}"`))
	require.EqualError(t, err, "store down")
	assert.Equal(t, []string{"begin"}, rec.events)
}

// TestEngineAbortsOnEmitError stops at the first failed write.
func TestEngineAbortsOnEmitError(t *testing.T) {
	rec := &recorder{failAt: 3}
	e := newTestEngine(&sleeps{}, Options{})
	_, err := e.Render(context.Background(), rec, cbpl.Compile("CHUNKSIZE 1\nSAY \"abcdef\""))
	require.Error(t, err)
	assert.Equal(t, []string{"begin", "text:a", "text:b"}, rec.events)
}

func TestEngineFollowUp(t *testing.T) {
	s := &sleeps{}
	rec := &recorder{}
	e := newTestEngine(s, Options{FollowUpLatency: 10 * time.Millisecond})

	res, err := e.RenderFollowUp(context.Background(), rec, "sunny and 72F")
	require.NoError(t, err)
	assert.Equal(t, []string{"begin", "text:sunny and ", "text:72F:last", "finish:stop"}, rec.events)
	assert.Equal(t, []time.Duration{10 * time.Millisecond}, s.d)
	assert.Equal(t, FinishStop, res.Reason)
}

// TestEngineEmptyPrompt still opens and finishes the stream.
func TestEngineEmptyPrompt(t *testing.T) {
	rec := &recorder{}
	e := newTestEngine(&sleeps{}, Options{})
	res, err := e.Render(context.Background(), rec, cbpl.Compile("hello there\nSAY \"\""))
	require.NoError(t, err)
	assert.Equal(t, []string{"begin", "finish:stop"}, rec.events)
	assert.Zero(t, res.Frames)
}

// TestEngineCancelDuringSleep returns promptly once the client goes away.
func TestEngineCancelDuringSleep(t *testing.T) {
	e := NewEngine(Options{})
	rec := &recorder{}

	ctx, cancel := context.WithCancel(context.Background())
	time.AfterFunc(20*time.Millisecond, cancel)

	start := time.Now()
	_, err := e.Render(ctx, rec, cbpl.Compile("CHUNKSIZE 1\nCHUNKLATENCY 10000\nSAY \"abc\""))
	require.ErrorIs(t, err, context.Canceled)
	assert.Less(t, time.Since(start), 5*time.Second)
	assert.Equal(t, []string{"begin", "text:a"}, rec.events)
}

func TestArgsObject(t *testing.T) {
	assert.Equal(t, map[string]any{}, argsObject(""))
	assert.Equal(t, map[string]any{}, argsObject("  "))
	assert.Equal(t, map[string]any{"city": "SF"}, argsObject(`{"city":"SF"}`))
	assert.Equal(t, map[string]any{"input": "Paris"}, argsObject("Paris"))
	assert.Equal(t, map[string]any{"input": "[1,2]"}, argsObject("[1,2]"))

	assert.Equal(t, `{"b":1,"a":2}`, argsJSON(`{ "b": 1, "a": 2 }`))
	assert.Equal(t, `{"input":"Paris"}`, argsJSON("Paris"))
	assert.Equal(t, `{}`, argsJSON(""))
}

func TestNewCallID(t *testing.T) {
	a, b := NewCallID("toolu_"), NewCallID("toolu_")
	assert.True(t, strings.HasPrefix(a, "toolu_"))
	assert.Len(t, a, len("toolu_")+24)
	assert.NotEqual(t, a, b)
}

func TestVendorNewEmitter(t *testing.T) {
	var sb strings.Builder
	for _, v := range []Vendor{OpenAI, Anthropic, Gemini} {
		em, err := v.NewEmitter(&sb, "m")
		require.NoError(t, err)
		require.NotNil(t, em)
	}
	_, err := Vendor("cohere").NewEmitter(&sb, "m")
	require.Error(t, err)

	assert.Equal(t, "application/json", Gemini.ContentType())
	assert.Equal(t, "text/event-stream", OpenAI.ContentType())
	assert.Equal(t, "toolu_", Anthropic.CallIDPrefix())
}
