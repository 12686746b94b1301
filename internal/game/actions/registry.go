package actions

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"dmagent/internal/debug"
	"dmagent/internal/store"
)

// Request is the canonical form of an action invocation, whatever shape the
// caller used.
type Request struct {
	Function string
	Params   map[string]any
}

// Result is the canonical outcome. Body is the operation payload, a
// {notice, echo} pair for unknown functions, or {error} on failure.
type Result struct {
	Function string
	Body     map[string]any
}

// Error returns the failure message carried by the result, if any.
func (r Result) Error() (string, bool) {
	msg, ok := r.Body["error"].(string)
	return msg, ok
}

// Unknown reports whether the function was not recognized.
func (r Result) Unknown() bool {
	_, ok := r.Body["notice"]
	return ok
}

func errorResult(fn string, err error) Result {
	return Result{Function: fn, Body: map[string]any{"error": err.Error()}}
}

// Defaults returns the built-in game actions in schema order.
func Defaults() []Action {
	return []Action{
		&GetCharacterAction{},
		&SaveCharacterAction{},
		&AppendLogAction{},
	}
}

type Registry struct {
	actions map[string]Action
	order   []string
	store   store.StateStore
	debug   *debug.Logger
	tracer  trace.Tracer
}

// NewRegistry returns a registry with the default actions bound to st.
func NewRegistry(st store.StateStore, debug *debug.Logger) *Registry {
	r := &Registry{
		actions: make(map[string]Action),
		store:   st,
		debug:   debug.With("actions"),
		tracer:  otel.Tracer("actions"),
	}
	for _, a := range Defaults() {
		r.Register(a)
	}
	return r
}

func (r *Registry) Register(a Action) {
	if _, exists := r.actions[a.Name()]; !exists {
		r.order = append(r.order, a.Name())
	}
	r.actions[a.Name()] = a
}

func (r *Registry) Lookup(name string) (Action, bool) {
	a, ok := r.actions[name]
	return a, ok
}

// Names returns the registered action names in registration order.
func (r *Registry) Names() []string {
	return append([]string(nil), r.order...)
}

func (r *Registry) Actions() []Action {
	out := make([]Action, 0, len(r.order))
	for _, name := range r.order {
		out = append(out, r.actions[name])
	}
	return out
}

// Run executes req and always returns a result. Errors and panics become an
// {error} body; unknown functions become a notice echoing the parameters.
func (r *Registry) Run(ctx context.Context, req Request) (res Result) {
	ctx, span := r.tracer.Start(ctx, "actions."+spanSuffix(req.Function),
		trace.WithAttributes(attribute.String("action.function", req.Function)))
	defer span.End()

	defer func() {
		if p := recover(); p != nil {
			err := fmt.Errorf("panic in %s: %v", req.Function, p)
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			r.debug.Printf("%v", err)
			res = errorResult(req.Function, err)
		}
	}()

	params := req.Params
	if params == nil {
		params = map[string]any{}
	}

	action, ok := r.actions[req.Function]
	if !ok {
		r.debug.Printf("unknown function %q", req.Function)
		span.SetAttributes(attribute.Bool("action.unknown", true))
		return Result{Function: req.Function, Body: map[string]any{
			"notice": "Unknown function: " + req.Function,
			"echo":   params,
		}}
	}

	if err := action.Validate(params); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		r.debug.Printf("%s rejected: %v", req.Function, err)
		return errorResult(req.Function, err)
	}

	body, err := action.Execute(ctx, r.store, params)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		r.debug.Printf("%s failed: %v", req.Function, err)
		return errorResult(req.Function, err)
	}

	r.debug.Printf("%s ok", req.Function)
	return Result{Function: req.Function, Body: body}
}

func spanSuffix(fn string) string {
	if fn == "" {
		return "unknown"
	}
	return fn
}
