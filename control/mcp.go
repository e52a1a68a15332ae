package control

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/hazyhaar/sentinel/keepalive"
)

// RegisterMCP registers the sentinel tools on an MCP server.
func (s *Service) RegisterMCP(srv *mcp.Server) {
	s.registerStartTool(srv)
	s.registerCancelTool(srv)
	s.registerListTool(srv)
	s.registerProbeTool(srv)
	s.registerSetupTool(srv)
	s.registerFiringsTool(srv)
}

// MCPHandler serves srv over the streamable HTTP transport.
func MCPHandler(srv *mcp.Server) http.Handler {
	return mcp.NewStreamableHTTPHandler(func(*http.Request) *mcp.Server { return srv }, nil)
}

// inputSchema builds a JSON Schema object with type "object".
func inputSchema(properties map[string]any, required []string) map[string]any {
	s := map[string]any{
		"type":       "object",
		"properties": properties,
	}
	if len(required) > 0 {
		s["required"] = required
	}
	return s
}

// addTool decodes the arguments into Req, calls fn and returns its result as
// JSON text. Failures become tool errors, not protocol errors.
func addTool[Req any](srv *mcp.Server, tool *mcp.Tool, fn func(ctx context.Context, req *Req) (any, error)) {
	srv.AddTool(tool, func(ctx context.Context, call *mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		var req Req
		if len(call.Params.Arguments) > 0 {
			if err := json.Unmarshal(call.Params.Arguments, &req); err != nil {
				var res mcp.CallToolResult
				res.SetError(fmt.Errorf("invalid arguments: %w", err))
				return &res, nil
			}
		}

		resp, err := fn(ctx, &req)
		if err != nil {
			var res mcp.CallToolResult
			res.SetError(err)
			return &res, nil
		}

		data, err := json.Marshal(resp)
		if err != nil {
			var res mcp.CallToolResult
			res.SetError(fmt.Errorf("marshal: %w", err))
			return &res, nil
		}
		return &mcp.CallToolResult{
			Content: []mcp.Content{&mcp.TextContent{Text: string(data)}},
		}, nil
	})
}

// --- start ---

type startRequest struct {
	IntervalMS int64 `json:"interval_ms,omitempty"`
}

func (s *Service) registerStartTool(srv *mcp.Server) {
	addTool(srv, &mcp.Tool{
		Name:        "sentinel_start",
		Description: "Start clicking the notebook connect button on a fixed interval. Returns the task handle needed to cancel it.",
		InputSchema: inputSchema(map[string]any{
			"interval_ms": map[string]any{"type": "integer", "description": "Firing period in milliseconds (default 60000)"},
		}, nil),
	}, func(_ context.Context, r *startRequest) (any, error) {
		return s.StartTask(time.Duration(r.IntervalMS) * time.Millisecond)
	})
}

// --- cancel ---

type cancelRequest struct {
	Handle string `json:"handle"`
}

func (s *Service) registerCancelTool(srv *mcp.Server) {
	addTool(srv, &mcp.Tool{
		Name:        "sentinel_cancel",
		Description: "Stop a task started with sentinel_start. Cancelling an unknown or already cancelled handle succeeds.",
		InputSchema: inputSchema(map[string]any{
			"handle": map[string]any{"type": "string", "description": "Task handle"},
		}, []string{"handle"}),
	}, func(_ context.Context, r *cancelRequest) (any, error) {
		s.CancelTask(keepalive.Handle(r.Handle))
		return map[string]string{"status": "cancelled", "handle": r.Handle}, nil
	})
}

// --- list ---

type listRequest struct{}

func (s *Service) registerListTool(srv *mcp.Server) {
	addTool(srv, &mcp.Tool{
		Name:        "sentinel_list",
		Description: "List running keep-alive tasks with their counters and the probed selectors.",
		InputSchema: inputSchema(map[string]any{}, nil),
	}, func(context.Context, *listRequest) (any, error) {
		return map[string]any{"tasks": s.Tasks(), "targets": s.Targets()}, nil
	})
}

// --- probe ---

func (s *Service) registerProbeTool(srv *mcp.Server) {
	addTool(srv, &mcp.Tool{
		Name:        "sentinel_probe",
		Description: "Run a single firing now and report which target, if any, was clicked.",
		InputSchema: inputSchema(map[string]any{}, nil),
	}, func(ctx context.Context, _ *listRequest) (any, error) {
		return s.Probe(ctx), nil
	})
}

// --- setup_persistence ---

type setupRequest struct {
	Project string `json:"project"`
}

func (s *Service) registerSetupTool(srv *mcp.Server) {
	addTool(srv, &mcp.Tool{
		Name:        "sentinel_setup_persistence",
		Description: "Mount the drive and create <root>/<project>/checkpoints and <root>/<project>/logs. Safe to repeat.",
		InputSchema: inputSchema(map[string]any{
			"project": map[string]any{"type": "string", "description": "Project name (single path element)"},
		}, []string{"project"}),
	}, func(ctx context.Context, r *setupRequest) (any, error) {
		return s.SetupPersistence(ctx, r.Project)
	})
}

// --- firings ---

type firingsRequest struct {
	Handle string `json:"handle,omitempty"`
	Limit  int    `json:"limit,omitempty"`
}

func (s *Service) registerFiringsTool(srv *mcp.Server) {
	addTool(srv, &mcp.Tool{
		Name:        "sentinel_firings",
		Description: "Recent firings from the ledger, newest first.",
		InputSchema: inputSchema(map[string]any{
			"handle": map[string]any{"type": "string", "description": "Restrict to one task"},
			"limit":  map[string]any{"type": "integer", "description": "Max results (default 50)"},
		}, nil),
	}, func(ctx context.Context, r *firingsRequest) (any, error) {
		return s.Firings(ctx, keepalive.Handle(r.Handle), r.Limit)
	})
}
