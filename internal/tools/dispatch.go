package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/jxucoder/threadline/internal/assistant"
)

// Dispatcher services tool calls against a Registry.
type Dispatcher struct {
	registry *Registry
	limit    int
	logger   *slog.Logger
}

// NewDispatcher creates a Dispatcher running at most limit calls at once.
func NewDispatcher(registry *Registry, limit int, logger *slog.Logger) *Dispatcher {
	if limit <= 0 {
		limit = 1
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Dispatcher{registry: registry, limit: limit, logger: logger}
}

// Dispatch returns exactly one output per call, in call order. It never
// fails: every error is encoded into the matching output.
func (d *Dispatcher) Dispatch(ctx context.Context, calls []assistant.ToolCall) []assistant.ToolOutput {
	outputs := make([]assistant.ToolOutput, len(calls))

	var g errgroup.Group
	g.SetLimit(d.limit)
	for i, call := range calls {
		i, call := i, call
		g.Go(func() error {
			outputs[i] = assistant.ToolOutput{
				ToolCallID: call.ID,
				Output:     d.invoke(ctx, call),
			}
			return nil
		})
	}
	_ = g.Wait()

	return outputs
}

func (d *Dispatcher) invoke(ctx context.Context, call assistant.ToolCall) (out string) {
	start := time.Now()
	h, ok := d.registry.Lookup(call.Name)
	if !ok {
		d.logger.Warn("unknown tool", "tool", call.Name, "call_id", call.ID)
	}

	defer func() {
		if p := recover(); p != nil {
			d.logger.Error("tool panicked", "tool", call.Name, "call_id", call.ID, "panic", p)
			out = encode(h.Failure(fmt.Errorf("tool panicked: %v", p)))
		}
	}()

	args, err := h.Decode(call.Arguments)
	if err != nil {
		d.logger.Warn("tool arguments rejected", "tool", call.Name, "call_id", call.ID, "error", err)
		return encode(h.Failure(err))
	}

	result, err := h.Handle(ctx, args)
	if err != nil {
		d.logger.Warn("tool failed", "tool", call.Name, "call_id", call.ID, "error", err, "duration", time.Since(start))
		return encode(h.Failure(err))
	}

	d.logger.Debug("tool done", "tool", call.Name, "call_id", call.ID, "duration", time.Since(start))
	return encode(result)
}

func encode(v any) string {
	data, err := json.Marshal(v)
	if err != nil {
		fallback, _ := json.Marshal(map[string]any{"error": fmt.Sprintf("encoding tool output: %v", err), "results": []any{}})
		return string(fallback)
	}
	return string(data)
}
