package director

import (
	"context"
	"fmt"

	"dmagent/internal/game/actions"
	"dmagent/internal/game/dispatch"
	"dmagent/internal/game/extract"
)

// LocalExecutor runs calls in process through the dispatcher, using the same
// envelope a remote caller would send.
type LocalExecutor struct {
	dispatcher *dispatch.Dispatcher
}

func NewLocalExecutor(dispatcher *dispatch.Dispatcher) *LocalExecutor {
	return &LocalExecutor{dispatcher: dispatcher}
}

func (e *LocalExecutor) Execute(ctx context.Context, call extract.Call) (map[string]any, error) {
	raw, err := dispatch.EncodeEnvelope(CallRequest(call))
	if err != nil {
		return nil, fmt.Errorf("failed to encode %s: %w", call.Name, err)
	}
	return dispatch.ResultBody(e.dispatcher.Handle(ctx, raw))
}

// CallRequest converts an extracted call into a canonical action request.
func CallRequest(call extract.Call) actions.Request {
	params := make(map[string]any, len(call.Params))
	for k, v := range call.Params {
		params[k] = v
	}
	return actions.Request{Function: call.Name, Params: params}
}
