package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"os/exec"
	"strings"

	"github.com/modelcontextprotocol/go-sdk/mcp"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"dmagent/internal/debug"
	"dmagent/internal/game/extract"
)

// ActionClient executes tool calls against a remote action server.
type ActionClient struct {
	client  *mcp.Client
	session *mcp.ClientSession
	debug   *debug.Logger
	tracer  trace.Tracer
}

func NewActionClient(debug *debug.Logger) *ActionClient {
	client := mcp.NewClient(&mcp.Implementation{
		Name:    "dm-agent-director",
		Version: "v1.0.0",
	}, nil)

	return &ActionClient{
		client: client,
		debug:  debug.With("mcp-client"),
		tracer: otel.Tracer("mcp-client"),
	}
}

// ConnectCommand starts argv as a subprocess and talks to it over stdio.
func (c *ActionClient) ConnectCommand(ctx context.Context, argv []string) error {
	if len(argv) == 0 {
		return fmt.Errorf("action server command is empty")
	}
	cmd := exec.Command(argv[0], argv[1:]...)
	return c.Connect(ctx, &mcp.CommandTransport{Command: cmd})
}

func (c *ActionClient) Connect(ctx context.Context, transport mcp.Transport) error {
	session, err := c.client.Connect(ctx, transport, nil)
	if err != nil {
		return fmt.Errorf("failed to connect to MCP server: %w", err)
	}
	c.session = session
	c.debug.Printf("Connected to MCP action server")
	return nil
}

func (c *ActionClient) Close() error {
	if c.session != nil {
		return c.session.Close()
	}
	return nil
}

// Execute calls the tool named by call and returns its result body.
func (c *ActionClient) Execute(ctx context.Context, call extract.Call) (map[string]any, error) {
	if c.session == nil {
		return nil, fmt.Errorf("MCP client is not connected")
	}

	ctx, span := c.tracer.Start(ctx, "mcp.call_tool",
		trace.WithAttributes(attribute.String("tool_name", call.Name)))
	defer span.End()

	args := make(map[string]any, len(call.Params))
	for k, v := range call.Params {
		args[k] = v
	}

	result, err := c.session.CallTool(ctx, &mcp.CallToolParams{
		Name:      call.Name,
		Arguments: args,
	})
	if err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("failed to call %s: %w", call.Name, err)
	}

	if result.IsError {
		msg := contentText(result)
		c.debug.Printf("%s returned error: %s", call.Name, msg)
		return map[string]any{"error": msg}, nil
	}

	body, err := structuredBody(result)
	if err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("failed to decode %s result: %w", call.Name, err)
	}
	c.debug.Printf("%s result: %v", call.Name, body)
	return body, nil
}

func structuredBody(result *mcp.CallToolResult) (map[string]any, error) {
	if result.StructuredContent != nil {
		if body, ok := result.StructuredContent.(map[string]any); ok {
			return body, nil
		}
		raw, err := json.Marshal(result.StructuredContent)
		if err != nil {
			return nil, err
		}
		var body map[string]any
		if err := json.Unmarshal(raw, &body); err != nil {
			return nil, err
		}
		return body, nil
	}

	var body map[string]any
	if err := json.Unmarshal([]byte(contentText(result)), &body); err != nil {
		return nil, err
	}
	return body, nil
}

func contentText(result *mcp.CallToolResult) string {
	var parts []string
	for _, c := range result.Content {
		if text, ok := c.(*mcp.TextContent); ok {
			parts = append(parts, text.Text)
		}
	}
	return strings.Join(parts, "\n")
}
