// Package orchestrator is the single entry point transports use to reach
// the tool servers: one call, a batch of calls, or an assembled bundle.
package orchestrator

import (
	"context"
	"encoding/json"
	"time"

	"go.uber.org/zap"

	"taleweave.ai/internal/protocol"
	"taleweave.ai/internal/runtime"
)

// Invoker dispatches one tool call; *tools.Registry implements it.
type Invoker interface {
	Invoke(ctx context.Context, subsystem, operation string, params map[string]any) (any, error)
}

// Observer receives status events. It is called synchronously and must not
// block.
type Observer func(protocol.StatusEvent)

type Options struct {
	// Queue serializes calls; nil runs them on the caller's goroutine.
	Queue      *runtime.Queue
	Observer   Observer
	PlayerName string
	Logger     *zap.Logger
	Now        func() time.Time
}

type Orchestrator struct {
	reg  Invoker
	opts Options
	log  *zap.Logger
}

func New(reg Invoker, opts Options) *Orchestrator {
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Orchestrator{reg: reg, opts: opts, log: opts.Logger}
}

func (o *Orchestrator) emit(ev protocol.StatusEvent) {
	if o.opts.Observer == nil {
		return
	}
	ev.At = o.opts.Now().UTC()
	o.opts.Observer(ev)
}

// ExecuteTool runs one call through the queue and reports its progress to
// the observer.
func (o *Orchestrator) ExecuteTool(ctx context.Context, call protocol.ToolCall) (any, error) {
	o.emit(protocol.StatusEvent{Kind: protocol.StatusToolStarted, Subsystem: call.Subsystem, Operation: call.Operation})
	start := time.Now()
	var (
		res any
		err error
	)
	if o.opts.Queue != nil {
		res, err = o.opts.Queue.Do(ctx, func(ctx context.Context) (any, error) {
			return o.reg.Invoke(ctx, call.Subsystem, call.Operation, call.Params)
		})
	} else {
		res, err = o.reg.Invoke(ctx, call.Subsystem, call.Operation, call.Params)
	}
	dur := time.Since(start).Milliseconds()
	if err != nil {
		o.emit(protocol.StatusEvent{
			Kind:       protocol.StatusToolFailed,
			Subsystem:  call.Subsystem,
			Operation:  call.Operation,
			Code:       protocol.CodeOf(err),
			Error:      err.Error(),
			DurationMS: dur,
		})
		return nil, err
	}
	o.emit(protocol.StatusEvent{Kind: protocol.StatusToolFinished, Subsystem: call.Subsystem, Operation: call.Operation, DurationMS: dur})
	return res, nil
}

// ExecuteBatch runs calls in order. A failing call leaves a nil result in its
// slot and an entry in Errors; it never stops the rest of the batch.
func (o *Orchestrator) ExecuteBatch(ctx context.Context, calls []protocol.ToolCall) protocol.BatchResult {
	start := time.Now()
	out := protocol.BatchResult{Results: make([]any, len(calls)), Errors: []protocol.CallError{}}
	for i, call := range calls {
		res, err := o.ExecuteTool(ctx, call)
		if err != nil {
			out.Errors = append(out.Errors, protocol.CallError{
				Index:     i,
				Subsystem: call.Subsystem,
				Operation: call.Operation,
				Code:      protocol.CodeOf(err),
				Error:     err.Error(),
			})
			continue
		}
		out.Results[i] = res
	}
	out.DurationMS = time.Since(start).Milliseconds()
	o.emit(protocol.StatusEvent{Kind: protocol.StatusBatchFinished, DurationMS: out.DurationMS})
	if len(out.Errors) > 0 {
		o.log.Debug("orchestrator: batch finished with errors", zap.Int("calls", len(calls)), zap.Int("errors", len(out.Errors)))
	}
	return out
}

// stringField pulls a top-level string field out of any JSON-shaped value.
func stringField(v any, key string) string {
	m, ok := v.(map[string]any)
	if !ok {
		b, err := json.Marshal(v)
		if err != nil {
			return ""
		}
		if err := json.Unmarshal(b, &m); err != nil {
			return ""
		}
	}
	s, _ := m[key].(string)
	return s
}
