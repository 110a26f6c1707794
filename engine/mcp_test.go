package engine

import (
	"context"
	"encoding/json"
	"strings"
	"testing"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/hazyhaar/pagemark/annotation"
)

var testMCPImpl = &mcp.Implementation{Name: "pagemark-test", Version: "0.1.0"}

func mcpSession(t *testing.T) (*fixture, *mcp.ClientSession, annotation.Annotation) {
	t.Helper()
	f := setup(t, nil)
	a := stored(f.page, "p", 0, annotation.StatusOpen)
	f.store.items[a.ID] = a
	if err := f.eng.Load(context.Background(), pageURL); err != nil {
		t.Fatal(err)
	}

	srv := mcp.NewServer(testMCPImpl, nil)
	f.eng.RegisterMCP(srv)
	serverT, clientT := mcp.NewInMemoryTransports()
	ctx := context.Background()
	go func() { _ = srv.Run(ctx, serverT) }()

	client := mcp.NewClient(testMCPImpl, nil)
	session, err := client.Connect(ctx, clientT, nil)
	if err != nil {
		t.Fatalf("client connect: %v", err)
	}
	t.Cleanup(func() { session.Close() })
	return f, session, a
}

func mcpCall(t *testing.T, session *mcp.ClientSession, name string, args any) (string, bool) {
	t.Helper()
	result, err := session.CallTool(context.Background(), &mcp.CallToolParams{
		Name:      name,
		Arguments: args,
	})
	if err != nil {
		t.Fatalf("CallTool(%s): %v", name, err)
	}
	tc, ok := result.Content[0].(*mcp.TextContent)
	if !ok {
		t.Fatalf("CallTool(%s): expected TextContent", name)
	}
	return tc.Text, result.IsError
}

func mcpCallTool(t *testing.T, session *mcp.ClientSession, name string, args any) string {
	t.Helper()
	text, isErr := mcpCall(t, session, name, args)
	if isErr {
		t.Fatalf("CallTool(%s) tool error: %s", name, text)
	}
	return text
}

func TestMCP_ToolsListed(t *testing.T) {
	_, session, _ := mcpSession(t)
	res, err := session.ListTools(context.Background(), nil)
	if err != nil {
		t.Fatal(err)
	}
	want := map[string]bool{
		"pagemark_status": true, "pagemark_list": true, "pagemark_command": true,
		"pagemark_reply": true, "pagemark_edit_comment": true, "pagemark_resolve": true,
		"pagemark_delete": true, "pagemark_report": true,
	}
	for _, tool := range res.Tools {
		delete(want, tool.Name)
	}
	for name := range want {
		t.Errorf("missing tool %s", name)
	}
}

func TestMCP_List(t *testing.T) {
	_, session, a := mcpSession(t)

	var views []AnnotationView
	if err := json.Unmarshal([]byte(mcpCallTool(t, session, "pagemark_list", map[string]any{})), &views); err != nil {
		t.Fatal(err)
	}
	if len(views) != 1 || views[0].ID != a.ID {
		t.Errorf("views = %+v", views)
	}
	if err := json.Unmarshal([]byte(mcpCallTool(t, session, "pagemark_list", map[string]any{"status": "resolved"})), &views); err != nil {
		t.Fatal(err)
	}
	if len(views) != 0 {
		t.Errorf("resolved filter returned %d", len(views))
	}
}

func TestMCP_Command(t *testing.T) {
	f, session, _ := mcpSession(t)
	text := mcpCallTool(t, session, "pagemark_command", map[string]any{"kind": "draw_open", "on": false})
	var st Status
	if err := json.Unmarshal([]byte(text), &st); err != nil {
		t.Fatal(err)
	}
	if st.Visibility.Open || f.eng.Visibility().Open {
		t.Errorf("status = %+v", st)
	}
	if _, isErr := mcpCall(t, session, "pagemark_command", map[string]any{"kind": "explode"}); !isErr {
		t.Error("unknown command accepted")
	}
}

func TestMCP_ReplyAndEdit(t *testing.T) {
	f, session, a := mcpSession(t)

	var got annotation.Annotation
	json.Unmarshal([]byte(mcpCallTool(t, session, "pagemark_reply", map[string]any{"id": a.ID, "text": "fixed in #42"})), &got)
	if len(got.Comments) != 2 || got.Comments[1].Text != "fixed in #42" {
		t.Fatalf("comments = %+v", got.Comments)
	}

	cid := got.Comments[1].ID
	mcpCallTool(t, session, "pagemark_edit_comment", map[string]any{"id": a.ID, "comment_id": cid, "text": "fixed in #43"})
	stored, _ := f.store.get(a.ID)
	if stored.Comments[1].Text != "fixed in #43" || !stored.Comments[1].Edited {
		t.Errorf("stored comment = %+v", stored.Comments[1])
	}

	if _, isErr := mcpCall(t, session, "pagemark_edit_comment", map[string]any{"id": a.ID, "comment_id": cid, "text": "fixed in #43"}); !isErr {
		t.Error("unchanged edit accepted")
	}
	if _, isErr := mcpCall(t, session, "pagemark_reply", map[string]any{"id": a.ID, "text": strings.Repeat("x", 501)}); !isErr {
		t.Error("oversized reply accepted")
	}
}

func TestMCP_DestructiveNeedsConfirm(t *testing.T) {
	f, session, a := mcpSession(t)

	if _, isErr := mcpCall(t, session, "pagemark_delete", map[string]any{"id": a.ID}); !isErr {
		t.Fatal("delete without confirm accepted")
	}
	if _, ok := f.store.get(a.ID); !ok {
		t.Fatal("deleted without confirmation")
	}

	var got annotation.Annotation
	json.Unmarshal([]byte(mcpCallTool(t, session, "pagemark_resolve", map[string]any{"id": a.ID, "confirm": true})), &got)
	if got.Status != annotation.StatusResolved {
		t.Errorf("status = %s", got.Status)
	}

	mcpCallTool(t, session, "pagemark_delete", map[string]any{"id": a.ID, "confirm": true})
	if _, ok := f.store.get(a.ID); ok {
		t.Error("annotation still stored")
	}
}

func TestMCP_Report(t *testing.T) {
	_, session, _ := mcpSession(t)
	md := mcpCallTool(t, session, "pagemark_report", map[string]any{})
	if !strings.Contains(md, "Annotation 1") || !strings.Contains(md, "fix this") {
		t.Errorf("report:\n%s", md)
	}
}
