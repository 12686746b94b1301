// Package mcp exposes the game actions as MCP tools and lets the director
// call them out of process.
package mcp

import (
	"context"
	"fmt"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"dmagent/internal/debug"
	"dmagent/internal/game/actions"
	"dmagent/internal/game/dispatch"
)

type GetCharacterInput struct {
	PlayerID  string `json:"playerId" jsonschema:"Player identifier"`
	SessionID string `json:"sessionId" jsonschema:"Session identifier"`
}

type SaveCharacterInput struct {
	PlayerID  string `json:"playerId" jsonschema:"Player identifier"`
	SessionID string `json:"sessionId" jsonschema:"Session identifier"`
	Character any    `json:"character" jsonschema:"Character data"`
}

type AppendLogInput struct {
	PlayerID  string `json:"playerId" jsonschema:"Player identifier"`
	SessionID string `json:"sessionId" jsonschema:"Session identifier"`
	Entry     string `json:"entry" jsonschema:"Log entry text"`
}

// NewServer builds an MCP server with one tool per game action, each routed
// through runner.
func NewServer(runner dispatch.Runner, version string, debug *debug.Logger) *mcp.Server {
	server := mcp.NewServer(&mcp.Implementation{Name: "dm-agent-actions", Version: version}, nil)
	log := debug.With("mcp-server")

	descriptions := map[string]string{}
	for _, f := range actions.Schema().Functions {
		descriptions[f.Name] = f.Description
	}

	mcp.AddTool(server, &mcp.Tool{Name: "get_character", Description: descriptions["get_character"]},
		handler(runner, log, "get_character", func(in GetCharacterInput) map[string]any {
			return map[string]any{"playerId": in.PlayerID, "sessionId": in.SessionID}
		}))
	mcp.AddTool(server, &mcp.Tool{Name: "save_character", Description: descriptions["save_character"]},
		handler(runner, log, "save_character", func(in SaveCharacterInput) map[string]any {
			return map[string]any{"playerId": in.PlayerID, "sessionId": in.SessionID, "character": in.Character}
		}))
	mcp.AddTool(server, &mcp.Tool{Name: "append_log", Description: descriptions["append_log"]},
		handler(runner, log, "append_log", func(in AppendLogInput) map[string]any {
			return map[string]any{"playerId": in.PlayerID, "sessionId": in.SessionID, "entry": in.Entry}
		}))

	return server
}

// handler adapts a typed tool input to a canonical request. The canonical
// result body, including an {error} body, is returned as structured content.
func handler[In any](runner dispatch.Runner, log *debug.Logger, name string, params func(In) map[string]any) mcp.ToolHandlerFor[In, map[string]any] {
	return func(ctx context.Context, _ *mcp.CallToolRequest, in In) (*mcp.CallToolResult, map[string]any, error) {
		res := runner.Run(ctx, actions.Request{Function: name, Params: params(in)})
		if msg, failed := res.Error(); failed {
			log.Printf("%s failed: %s", name, msg)
		}
		return nil, res.Body, nil
	}
}

// Serve runs server on transport until ctx is done or the peer disconnects.
func Serve(ctx context.Context, server *mcp.Server, transport mcp.Transport) error {
	if err := server.Run(ctx, transport); err != nil && ctx.Err() == nil {
		return fmt.Errorf("MCP server stopped: %w", err)
	}
	return nil
}

// ServeStdio serves on the process's stdin and stdout.
func ServeStdio(ctx context.Context, server *mcp.Server) error {
	return Serve(ctx, server, &mcp.StdioTransport{})
}
