package director

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	"dmagent/internal/faults"
	"dmagent/internal/game/extract"
)

// executeTools runs every call concurrently and returns the results in call
// order. The first failing call fails the batch.
func (d *Director) executeTools(ctx context.Context, t *turn, calls []extract.Call) ([]map[string]any, error) {
	ctx, span := d.tracer.Start(ctx, "turn.execute_tools",
		trace.WithAttributes(attribute.Int("tool_call_count", len(calls))))
	defer span.End()

	bound := make([]extract.Call, len(calls))
	for i, call := range calls {
		bound[i] = d.bindSession(t, call)
	}
	t.resp.ToolCalls = bound

	results := make([]map[string]any, len(bound))
	g, gctx := errgroup.WithContext(ctx)
	for i, call := range bound {
		g.Go(func() error {
			body, err := d.executor.Execute(gctx, call)
			if err != nil {
				d.opts.Metrics.ObserveToolCall(call.Name, "transport_error")
				return faults.Tool(fmt.Sprintf("tool %s could not be executed", call.Name), err)
			}
			if msg, failed := body["error"].(string); failed {
				d.opts.Metrics.ObserveToolCall(call.Name, "error")
				return faults.Tool(fmt.Sprintf("tool %s failed: %s", call.Name, msg), nil)
			}
			status := "ok"
			if _, unknown := body["notice"]; unknown {
				status = "unknown"
			}
			d.opts.Metrics.ObserveToolCall(call.Name, status)
			results[i] = body
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		span.RecordError(err)
		return nil, err
	}
	return results, nil
}

// bindSession pins a call to the turn's own session; a model cannot reach
// another player's records.
func (d *Director) bindSession(t *turn, call extract.Call) extract.Call {
	params := make(map[string]string, len(call.Params))
	for k, v := range call.Params {
		params[k] = v
	}
	if params["playerId"] != t.key.PlayerID || params["sessionId"] != t.key.SessionID {
		d.debug.Printf("%s named %s/%s, bound to %s", call.Name, params["playerId"], params["sessionId"], t.key)
	}
	params["playerId"] = t.key.PlayerID
	params["sessionId"] = t.key.SessionID
	call.Params = params
	return call
}
