// Package dispatch routes action requests arriving in any supported calling
// convention to the action registry, and answers in the caller's convention.
package dispatch

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"dmagent/internal/debug"
	"dmagent/internal/game/actions"
)

// Runner executes canonical requests. *actions.Registry is the production
// implementation.
type Runner interface {
	Run(ctx context.Context, req actions.Request) actions.Result
}

// AgentResponse answers the parameter-list and flat conventions.
type AgentResponse struct {
	MessageVersion string        `json:"messageVersion"`
	Response       AgentFunction `json:"response"`
}

type AgentFunction struct {
	ActionGroup      string           `json:"actionGroup"`
	Function         string           `json:"function"`
	FunctionResponse FunctionResponse `json:"functionResponse"`
}

type FunctionResponse struct {
	ResponseBody ResponseBody `json:"responseBody"`
}

type ResponseBody struct {
	Text TextBody `json:"TEXT"`
}

type TextBody struct {
	Body string `json:"body"`
}

// HTTPResponse answers the envelope convention.
type HTTPResponse struct {
	StatusCode int    `json:"statusCode"`
	Body       string `json:"body"`
}

type Dispatcher struct {
	runner Runner
	debug  *debug.Logger
	tracer trace.Tracer
}

func New(runner Runner, debug *debug.Logger) *Dispatcher {
	return &Dispatcher{
		runner: runner,
		debug:  debug.With("dispatch"),
		tracer: otel.Tracer("dispatch"),
	}
}

// Handle decodes raw, runs it and returns the response in the same shape.
// Failures, including undecodable requests, are reported inside the response.
func (d *Dispatcher) Handle(ctx context.Context, raw []byte) []byte {
	ctx, span := d.tracer.Start(ctx, "actions.dispatch")
	defer span.End()

	req, shape, err := Decode(raw)
	span.SetAttributes(
		attribute.String("dispatch.shape", shape.String()),
		attribute.String("action.function", req.Function),
	)

	var res actions.Result
	if err != nil {
		span.RecordError(err)
		d.debug.Printf("decode failed (%s): %v", shape, err)
		fn := req.Function
		if fn == "" {
			fn = "unknown"
		}
		res = actions.Result{Function: fn, Body: map[string]any{"error": err.Error()}}
	} else {
		res = d.runner.Run(ctx, req)
	}

	out, err := Present(shape, res)
	if err != nil {
		// Only reachable when the result body holds something json cannot encode.
		d.debug.Printf("present failed: %v", err)
		out, _ = Present(shape, actions.Result{Function: res.Function, Body: map[string]any{"error": err.Error()}})
	}
	return out
}

// Present formats a canonical result for the given calling convention.
func Present(shape Shape, res actions.Result) ([]byte, error) {
	body, err := json.Marshal(res.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to encode result: %w", err)
	}

	if shape == ShapeEnvelope {
		status := http.StatusOK
		if _, failed := res.Error(); failed {
			status = http.StatusInternalServerError
		}
		return json.Marshal(HTTPResponse{StatusCode: status, Body: string(body)})
	}

	return json.Marshal(AgentResponse{
		MessageVersion: "1.0",
		Response: AgentFunction{
			ActionGroup: actions.ActionGroup,
			Function:    res.Function,
			FunctionResponse: FunctionResponse{
				ResponseBody: ResponseBody{Text: TextBody{Body: string(body)}},
			},
		},
	})
}

// ResultBody extracts the JSON result body from a response in either shape.
func ResultBody(resp []byte) (map[string]any, error) {
	var probe struct {
		StatusCode *int           `json:"statusCode"`
		Body       string         `json:"body"`
		Response   *AgentFunction `json:"response"`
	}
	if err := json.Unmarshal(resp, &probe); err != nil {
		return nil, fmt.Errorf("failed to decode response: %w", err)
	}

	var text string
	switch {
	case probe.StatusCode != nil:
		text = probe.Body
	case probe.Response != nil:
		text = probe.Response.FunctionResponse.ResponseBody.Text.Body
	default:
		return nil, fmt.Errorf("unrecognized response shape")
	}

	body, err := decodeObject([]byte(text))
	if err != nil {
		return nil, fmt.Errorf("failed to decode response body: %w", err)
	}
	return body, nil
}
