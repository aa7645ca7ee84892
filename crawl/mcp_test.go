package crawl

import (
	"context"
	"encoding/json"
	"strings"
	"testing"

	"github.com/modelcontextprotocol/go-sdk/mcp"
)

var testImpl = &mcp.Implementation{Name: "pagewatch-test", Version: "0.0.1"}

func mcpSession(t *testing.T, env *testEnv) *mcp.ClientSession {
	t.Helper()
	srv := mcp.NewServer(testImpl, nil)
	env.svc.RegisterMCP(srv)

	serverT, clientT := mcp.NewInMemoryTransports()
	ctx := context.Background()
	go func() {
		_ = srv.Run(ctx, serverT)
	}()

	client := mcp.NewClient(testImpl, nil)
	session, err := client.Connect(ctx, clientT, nil)
	if err != nil {
		t.Fatalf("client connect: %v", err)
	}
	t.Cleanup(func() { session.Close() })
	return session
}

func callTool(t *testing.T, session *mcp.ClientSession, name string, args any) (string, bool) {
	t.Helper()
	result, err := session.CallTool(context.Background(), &mcp.CallToolParams{
		Name:      name,
		Arguments: args,
	})
	if err != nil {
		t.Fatalf("CallTool(%s): %v", name, err)
	}
	if len(result.Content) == 0 {
		t.Fatalf("CallTool(%s): empty content", name)
	}
	tc, ok := result.Content[0].(*mcp.TextContent)
	if !ok {
		t.Fatalf("CallTool(%s): expected TextContent, got %T", name, result.Content[0])
	}
	return tc.Text, result.IsError
}

func TestMCP_ListTools(t *testing.T) {
	env := newTestService(t, nil)
	session := mcpSession(t, env)

	res, err := session.ListTools(context.Background(), nil)
	if err != nil {
		t.Fatal(err)
	}
	want := map[string]bool{
		"pagewatch_schedule": true, "pagewatch_list_schedules": true, "pagewatch_set_active": true,
		"pagewatch_stop_all": true, "pagewatch_history": true, "pagewatch_extract": true,
	}
	for _, tool := range res.Tools {
		delete(want, tool.Name)
	}
	if len(want) != 0 {
		t.Errorf("missing tools: %v", want)
	}
}

func TestMCP_ScheduleAndPause(t *testing.T) {
	// WHAT: schedule, pause and list through MCP tools.
	// WHY: agents manage schedules through MCP only.
	env := newTestService(t, nil)
	session := mcpSession(t, env)

	text, isErr := callTool(t, session, "pagewatch_schedule", map[string]any{
		"url": "https://example.com/a", "email": "a@example.com", "frequency": 1,
	})
	if isErr {
		t.Fatalf("schedule: %s", text)
	}
	var res ScheduleResult
	if err := json.Unmarshal([]byte(text), &res); err != nil {
		t.Fatal(err)
	}

	text, isErr = callTool(t, session, "pagewatch_set_active", map[string]any{"id": res.ScheduleID, "active": false})
	if isErr {
		t.Fatalf("set_active: %s", text)
	}

	text, _ = callTool(t, session, "pagewatch_list_schedules", map[string]any{})
	var jobs []Job
	if err := json.Unmarshal([]byte(text), &jobs); err != nil {
		t.Fatal(err)
	}
	if len(jobs) != 0 {
		t.Errorf("active jobs: got %d, want 0", len(jobs))
	}

	evts, _ := env.svc.Events(context.Background(), 1)
	if len(evts) != 1 || evts[0].Actor != "mcp" {
		t.Errorf("event actor: got %+v, want mcp", evts)
	}
}

func TestMCP_InvalidInputIsToolError(t *testing.T) {
	// WHAT: validation errors come back as tool errors with the message.
	env := newTestService(t, nil)
	session := mcpSession(t, env)

	text, isErr := callTool(t, session, "pagewatch_schedule", map[string]any{
		"url": "https://example.com/a", "email": "nope", "frequency": 1,
	})
	if !isErr {
		t.Fatal("expected a tool error")
	}
	if !strings.Contains(text, "email") {
		t.Errorf("error text: got %q", text)
	}
}

func TestMCP_ExtractAndHistory(t *testing.T) {
	env := newTestService(t, nil)
	session := mcpSession(t, env)
	env.pages["https://example.com/news"] = []Record{{"title": "A"}}

	text, isErr := callTool(t, session, "pagewatch_extract", map[string]any{"url": "https://example.com/news"})
	if isErr {
		t.Fatalf("extract: %s", text)
	}
	text, _ = callTool(t, session, "pagewatch_history", map[string]any{"limit": 5})
	var hist []Attempt
	if err := json.Unmarshal([]byte(text), &hist); err != nil {
		t.Fatal(err)
	}
	if len(hist) != 1 || hist[0].Status != "success" {
		t.Errorf("history: %+v", hist)
	}

	text, isErr = callTool(t, session, "pagewatch_stop_all", nil)
	if isErr || !strings.Contains(text, `"count":0`) {
		t.Errorf("stop_all: got %q", text)
	}
}
