package crawl

import (
	"context"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/hazyhaar/pagewatch/kit"
)

// RegisterMCP registers the pagewatch admin tools on an MCP server.
func (svc *Service) RegisterMCP(srv *mcp.Server) {
	svc.registerSchedule(srv)
	svc.registerListSchedules(srv)
	svc.registerSetActive(srv)
	svc.registerStopAll(srv)
	svc.registerHistory(srv)
	svc.registerExtract(srv)
}

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

func (svc *Service) tool(srv *mcp.Server, tool *mcp.Tool, endpoint kit.Endpoint, decode func(*mcp.CallToolRequest) (*kit.MCPDecodeResult, error)) {
	wrapped := kit.Chain(kit.Logging(svc.logger, tool.Name))(endpoint)
	kit.RegisterMCPTool(srv, tool, wrapped, decode)
}

func (svc *Service) registerSchedule(srv *mcp.Server) {
	tool := &mcp.Tool{
		Name:        "pagewatch_schedule",
		Description: "Schedule recurring extraction of a page with email notification. Replaces any active schedule for the same url and email.",
		InputSchema: inputSchema(map[string]any{
			"url":           map[string]any{"type": "string", "description": "Page URL (http or https)"},
			"email":         map[string]any{"type": "string", "description": "Recipient email"},
			"frequency":     map[string]any{"type": "integer", "description": "Interval value"},
			"unit":          map[string]any{"type": "string", "description": "minutes or days (default days)"},
			"is_continuous": map[string]any{"type": "boolean", "description": "Repeat after each run (default true)"},
			"label":         map[string]any{"type": "string", "description": "Optional label stored with each attempt"},
		}, []string{"url", "email", "frequency"}),
	}
	endpoint := func(ctx context.Context, r any) (any, error) {
		return svc.CreateSchedule(ctx, *r.(*ScheduleRequest))
	}
	svc.tool(srv, tool, endpoint, kit.DecodeJSON[ScheduleRequest]())
}

func (svc *Service) registerListSchedules(srv *mcp.Server) {
	type req struct {
		All bool `json:"all"`
	}
	tool := &mcp.Tool{
		Name:        "pagewatch_list_schedules",
		Description: "List scheduled jobs ordered by next run. Paused and finished jobs are included when all is true.",
		InputSchema: inputSchema(map[string]any{
			"all": map[string]any{"type": "boolean", "description": "Include inactive jobs"},
		}, nil),
	}
	endpoint := func(ctx context.Context, r any) (any, error) {
		return svc.ListSchedules(ctx, r.(*req).All)
	}
	svc.tool(srv, tool, endpoint, kit.DecodeJSON[req]())
}

func (svc *Service) registerSetActive(srv *mcp.Server) {
	type req struct {
		ID     string `json:"id"`
		Active bool   `json:"active"`
	}
	tool := &mcp.Tool{
		Name:        "pagewatch_set_active",
		Description: "Pause (active=false) or resume (active=true) a scheduled job",
		InputSchema: inputSchema(map[string]any{
			"id":     map[string]any{"type": "string", "description": "Job ID"},
			"active": map[string]any{"type": "boolean", "description": "New active state"},
		}, []string{"id", "active"}),
	}
	endpoint := func(ctx context.Context, r any) (any, error) {
		p := r.(*req)
		return svc.SetActive(ctx, p.ID, p.Active)
	}
	svc.tool(srv, tool, endpoint, kit.DecodeJSON[req]())
}

func (svc *Service) registerStopAll(srv *mcp.Server) {
	type req struct{}
	tool := &mcp.Tool{
		Name:        "pagewatch_stop_all",
		Description: "Deactivate every active job",
		InputSchema: inputSchema(map[string]any{}, nil),
	}
	endpoint := func(ctx context.Context, _ any) (any, error) {
		n, err := svc.StopAll(ctx)
		if err != nil {
			return nil, err
		}
		return map[string]any{"status": "success", "count": n}, nil
	}
	svc.tool(srv, tool, endpoint, kit.DecodeJSON[req]())
}

func (svc *Service) registerHistory(srv *mcp.Server) {
	type req struct {
		URL   string `json:"url"`
		Limit int    `json:"limit"`
	}
	tool := &mcp.Tool{
		Name:        "pagewatch_history",
		Description: "List recent extraction attempts, newest first",
		InputSchema: inputSchema(map[string]any{
			"url":   map[string]any{"type": "string", "description": "Only attempts for this URL"},
			"limit": map[string]any{"type": "integer", "description": "Max results (default 10)"},
		}, nil),
	}
	endpoint := func(ctx context.Context, r any) (any, error) {
		p := r.(*req)
		return svc.History(ctx, p.URL, p.Limit)
	}
	svc.tool(srv, tool, endpoint, kit.DecodeJSON[req]())
}

func (svc *Service) registerExtract(srv *mcp.Server) {
	tool := &mcp.Tool{
		Name:        "pagewatch_extract",
		Description: "Extract a page now and record the attempt. Sends a notification when email is given.",
		InputSchema: inputSchema(map[string]any{
			"url":   map[string]any{"type": "string", "description": "Page URL (http or https)"},
			"email": map[string]any{"type": "string", "description": "Optional recipient email"},
		}, []string{"url"}),
	}
	endpoint := func(ctx context.Context, r any) (any, error) {
		return svc.ExtractNow(ctx, *r.(*ExtractRequest))
	}
	svc.tool(srv, tool, endpoint, kit.DecodeJSON[ExtractRequest]())
}
