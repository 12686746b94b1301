package llm

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"github.com/openai/openai-go/shared"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"dmagent/internal/debug"
	"dmagent/internal/faults"
	"dmagent/internal/observability"
)

type contextKey string

const operationTypeKey contextKey = "operation_type"

type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

type Message struct {
	Role    Role
	Content string
}

// Request is a model-agnostic text completion request.
type Request struct {
	Model     string // optional override
	Messages  []Message
	MaxTokens int
}

type Service struct {
	client *openai.Client
	model  string
	debug  *debug.Logger
	tracer trace.Tracer
}

type Options struct {
	APIKey  string
	BaseURL string
	Model   string
	// Extra client options, appended after the ones derived above.
	ClientOptions []option.RequestOption
}

func NewService(opts Options, debug *debug.Logger) *Service {
	reqOpts := []option.RequestOption{option.WithAPIKey(opts.APIKey)}
	if opts.BaseURL != "" {
		reqOpts = append(reqOpts, option.WithBaseURL(opts.BaseURL))
	}
	reqOpts = append(reqOpts, opts.ClientOptions...)

	client := openai.NewClient(reqOpts...)
	return &Service{
		client: &client,
		model:  opts.Model,
		debug:  debug.With("llm"),
		tracer: otel.Tracer("llm-service"),
	}
}

// Complete sends the messages and returns the text of the first choice. An
// empty completion is a model fault.
func (s *Service) Complete(ctx context.Context, req Request) (string, error) {
	operationType := "llm.complete"
	if opType := getOperationType(ctx); opType != "" {
		operationType = opType
	}

	model := s.model
	if strings.TrimSpace(req.Model) != "" {
		model = req.Model
	}
	if model == "" {
		return "", faults.Model("no model configured", nil)
	}

	ctx, span := s.tracer.Start(ctx, operationType,
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(
			observability.CreateGenAIAttributes("openai", model, req.MaxTokens)...,
		),
	)
	defer span.End()

	attrs := []attribute.KeyValue{
		attribute.String("langfuse.observation.type", "generation"),
		attribute.String("game.operation_type", operationType),
		attribute.Int("gen_ai.request.messages", len(req.Messages)),
	}
	if sessionID := observability.GetSessionIDFromContext(ctx); sessionID != "" {
		attrs = append(attrs,
			attribute.String("langfuse.session.id", sessionID),
			attribute.String("session.id", sessionID),
		)
	}
	span.SetAttributes(attrs...)

	params := openai.ChatCompletionNewParams{
		Model:    shared.ChatModel(model),
		Messages: toOpenAIMessages(req.Messages),
	}
	if req.MaxTokens > 0 {
		params.MaxCompletionTokens = openai.Int(int64(req.MaxTokens))
	}

	s.debug.Printf("%s - model: %s, messages: %d, max tokens: %d", operationType, model, len(req.Messages), req.MaxTokens)

	startTime := time.Now()
	resp, err := s.client.Chat.Completions.New(ctx, params)
	if err != nil {
		span.SetAttributes(attribute.String("error.type", "llm_completion_error"))
		span.RecordError(err)
		s.debug.Printf("%s error: %v", operationType, err)
		if ctx.Err() != nil {
			return "", faults.Timeout("model invocation did not finish in time", err)
		}
		return "", faults.Model("model invocation failed", err)
	}

	if len(resp.Choices) == 0 {
		err := faults.Model("no completion choices returned", nil)
		span.RecordError(err)
		return "", err
	}

	content := resp.Choices[0].Message.Content
	duration := time.Since(startTime)
	if strings.TrimSpace(content) == "" {
		err := faults.Model(fmt.Sprintf("empty completion (finish reason %q)", resp.Choices[0].FinishReason), nil)
		span.RecordError(err)
		return "", err
	}

	span.SetAttributes(
		attribute.Int64("gen_ai.usage.input_tokens", resp.Usage.PromptTokens),
		attribute.Int64("gen_ai.usage.output_tokens", resp.Usage.CompletionTokens),
		attribute.Int64("response_time_ms", duration.Milliseconds()),
		attribute.String("langfuse.observation.output", content),
		attribute.String("langfuse.observation.model.name", model),
	)
	span.AddEvent("gen_ai.choice", trace.WithAttributes(
		attribute.String("gen_ai.system", "openai"),
		attribute.String("content", content),
	))

	s.debug.Printf("%s response length: %d, tokens: %d/%d, duration: %v",
		operationType, len(content), resp.Usage.PromptTokens, resp.Usage.CompletionTokens, duration)

	return content, nil
}

func toOpenAIMessages(msgs []Message) []openai.ChatCompletionMessageParamUnion {
	out := make([]openai.ChatCompletionMessageParamUnion, 0, len(msgs))
	for _, m := range msgs {
		switch m.Role {
		case RoleSystem:
			out = append(out, openai.SystemMessage(m.Content))
		case RoleAssistant:
			out = append(out, openai.AssistantMessage(m.Content))
		default:
			out = append(out, openai.UserMessage(m.Content))
		}
	}
	return out
}

// WithOperationType names the span of the next model call made with ctx.
func WithOperationType(ctx context.Context, opType string) context.Context {
	return context.WithValue(ctx, operationTypeKey, opType)
}

func getOperationType(ctx context.Context) string {
	if opType, ok := ctx.Value(operationTypeKey).(string); ok {
		return opType
	}
	return ""
}
