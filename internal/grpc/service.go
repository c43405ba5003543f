package grpc

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/yungtweek/chunkback/internal/cache"
	"github.com/yungtweek/chunkback/internal/cbpl"
	"github.com/yungtweek/chunkback/internal/config"
	"github.com/yungtweek/chunkback/internal/fault"
	"github.com/yungtweek/chunkback/internal/logger"
	"github.com/yungtweek/chunkback/internal/render"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/peer"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"
)

// Response types sent on the stream.
const (
	TypeDelta    = "output_text.delta"
	TypeToolCall = "tool_call"
	TypeDone     = "output_text.done"
	TypeFailed   = "failed"
)

// ScriptService streams compiled prompts to workers that speak gRPC instead
// of a vendor HTTP API.
//
// Request fields: prompt, model, and tool_call_id. A tool_call_id with a
// remembered answer switches to follow-up mode and streams that answer.
type ScriptService struct {
	cfg          config.Config
	correlations *cache.Correlations
	faults       *fault.Injector
	sleep        func(ctx context.Context, d time.Duration) error
}

func NewScriptService(cfg config.Config, correlations *cache.Correlations) *ScriptService {
	return &ScriptService{
		cfg:          cfg,
		correlations: correlations,
		faults:       fault.New(cfg.ErrorRate, cfg.ErrorMode),
	}
}

func (s *ScriptService) Stream(req *structpb.Struct, stream ScriptStreamServer) (err error) {
	ctx := stream.Context()
	start := time.Now()
	var peerAddr string
	if p, ok := peer.FromContext(ctx); ok && p.Addr != nil {
		peerAddr = p.Addr.String()
	} else {
		peerAddr = "unknown"
	}

	fields := req.GetFields()
	prompt := fields["prompt"].GetStringValue()
	model := fields["model"].GetStringValue()
	toolCallID := fields["tool_call_id"].GetStringValue()
	logger.Log.Infow("[grpc][Stream] start", "peer", peerAddr, "model", model, "toolCallId", toolCallID)

	defer func() {
		// Log termination exactly once for all outcomes.
		switch {
		case err == nil:
			logger.Log.Infow("[grpc][Stream] done", "peer", peerAddr)
		case errors.Is(err, context.Canceled) || status.Code(err) == codes.Canceled:
			logger.Log.Infow("[grpc][Stream] canceled", "peer", peerAddr, "err", err)
		case errors.Is(err, context.DeadlineExceeded) || status.Code(err) == codes.DeadlineExceeded:
			logger.Log.Warnw("[grpc][Stream] deadline_exceeded", "peer", peerAddr, "err", err)
		default:
			logger.Log.Errorw("[grpc][Stream] error", "peer", peerAddr, "err", err)
		}

		// Best-effort: emit a final failed chunk so workers can finalize state.
		if err != nil {
			if m, mErr := structpb.NewStruct(map[string]any{
				"type":          TypeFailed,
				"finish_reason": err.Error(),
			}); mErr == nil {
				_ = stream.Send(m)
			}
		}
	}()

	// Error injection (before sending any chunks).
	if s.faults.ShouldFail() {
		logger.Log.Infow("[grpc][Stream] injected error", "mode", s.cfg.ErrorMode)
		return status.Error(s.faults.GRPCCode(), "mock error")
	}

	var answer string
	followUp := false
	if toolCallID != "" && s.correlations != nil {
		answer, followUp = s.correlations.Recall(ctx, toolCallID)
	}
	if !followUp && strings.TrimSpace(prompt) == "" {
		return status.Error(codes.InvalidArgument, "prompt is required")
	}

	em := &structEmitter{stream: stream, start: start}
	engine := render.NewEngine(render.Options{
		DefaultChunkSize:    s.cfg.DefaultChunkSize,
		DefaultChunkLatency: s.cfg.DefaultChunkLatency(),
		FollowUpChunkSize:   s.cfg.FollowUpChunkSize,
		FollowUpLatency:     s.cfg.FollowUpLatency(),
		Sleep:               s.sleep,
		OnToolCall: func(ctx context.Context, call render.ToolCall) error {
			if call.Answer == "" || s.correlations == nil {
				return nil
			}
			_ = s.correlations.Remember(ctx, call.ID, call.Answer)
			return nil
		},
	})

	var res render.Result
	if followUp {
		res, err = engine.RenderFollowUp(ctx, em, answer)
	} else {
		compiled := cbpl.CompileReporting(prompt, s.cfg.StrictParse, logger.PromptLineReporter("[grpc][Stream]"))
		res, err = engine.Render(ctx, em, compiled)
	}
	if err != nil {
		return err
	}
	logger.Log.Infow("[grpc][Stream] rendered", "peer", peerAddr, "frames", res.Frames, "finish", res.Reason.String())
	return nil
}

// structEmitter maps engine frames onto Struct messages.
type structEmitter struct {
	stream ScriptStreamServer
	start  time.Time
	index  int
	output strings.Builder
}

func (e *structEmitter) send(fields map[string]any) error {
	m, err := structpb.NewStruct(fields)
	if err != nil {
		return err
	}
	return e.stream.Send(m)
}

func (e *structEmitter) Begin() error { return nil }

func (e *structEmitter) Text(chunk string, _ bool) error {
	e.output.WriteString(chunk)
	idx := e.index
	e.index++
	return e.send(map[string]any{"type": TypeDelta, "text": chunk, "index": idx})
}

func (e *structEmitter) ToolCall(call render.ToolCall) error {
	idx := e.index
	e.index++
	return e.send(map[string]any{
		"type":      TypeToolCall,
		"index":     idx,
		"id":        call.ID,
		"name":      call.Name,
		"arguments": call.Arguments,
	})
}

func (e *structEmitter) Finish(reason render.FinishReason) error {
	fr := "stop"
	if reason == render.FinishToolCall {
		fr = "tool_calls"
	}
	return e.send(map[string]any{
		"type":              TypeDone,
		"finish_reason":     fr,
		"completion_tokens": render.ApproxTokens(e.output.String()),
		"latency_ms":        time.Since(e.start).Milliseconds(),
	})
}
