package engine

import (
	"context"
	"fmt"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/hazyhaar/pagemark/engine/internal/thread"
	"github.com/hazyhaar/pagemark/export"
	"github.com/hazyhaar/pagemark/kit"
)

// RegisterMCP registers the review tools on an MCP server.
func (e *Engine) RegisterMCP(srv *mcp.Server) {
	e.registerStatusTool(srv)
	e.registerListTool(srv)
	e.registerCommandTool(srv)
	e.registerReplyTool(srv)
	e.registerEditCommentTool(srv)
	e.registerResolveTool(srv)
	e.registerDeleteTool(srv)
	e.registerReportTool(srv)
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

func (e *Engine) register(srv *mcp.Server, tool *mcp.Tool, endpoint kit.Endpoint, decode func(*mcp.CallToolRequest) (*kit.MCPDecodeResult, error)) {
	endpoint = kit.Chain(kit.Logging(e.logger, tool.Name))(endpoint)
	kit.RegisterMCPTool(srv, tool, endpoint, decode)
}

var (
	idProp      = map[string]any{"type": "string", "description": "Annotation id"}
	confirmProp = map[string]any{"type": "boolean", "description": "Must be true: the action cannot be undone from the tool"}
)

// --- status ---

func (e *Engine) registerStatusTool(srv *mcp.Server) {
	tool := &mcp.Tool{
		Name:        "pagemark_status",
		Description: "Show the reviewed page URL, whether selection is active, the layer flags and the open thread.",
		InputSchema: inputSchema(map[string]any{}, nil),
	}
	endpoint := func(_ context.Context, _ any) (any, error) {
		return e.Status(), nil
	}
	decode := func(_ *mcp.CallToolRequest) (*kit.MCPDecodeResult, error) {
		return &kit.MCPDecodeResult{}, nil
	}
	e.register(srv, tool, endpoint, decode)
}

// --- list ---

type listReq struct {
	Status string `json:"status"`
}

func (e *Engine) registerListTool(srv *mcp.Server) {
	tool := &mcp.Tool{
		Name:        "pagemark_list",
		Description: "List the annotations of the reviewed page with their comments, anchor and whether their marker is shown.",
		InputSchema: inputSchema(map[string]any{
			"status": map[string]any{"type": "string", "enum": []string{"open", "resolved", "closed"}, "description": "Only annotations with this status"},
		}, nil),
	}
	endpoint := func(_ context.Context, req any) (any, error) {
		r := req.(*listReq)
		views := e.Views()
		if r.Status == "" {
			return views, nil
		}
		out := views[:0]
		for _, v := range views {
			if string(v.Status) == r.Status {
				out = append(out, v)
			}
		}
		return out, nil
	}
	decode := func(req *mcp.CallToolRequest) (*kit.MCPDecodeResult, error) {
		r, err := kit.DecodeArgs[listReq](req)
		if err != nil {
			return nil, err
		}
		return &kit.MCPDecodeResult{Request: r}, nil
	}
	e.register(srv, tool, endpoint, decode)
}

// --- command ---

func (e *Engine) registerCommandTool(srv *mcp.Server) {
	names := make([]string, 0, numCommands)
	for _, k := range CommandKinds() {
		names = append(names, k.String())
	}
	tool := &mcp.Tool{
		Name:        "pagemark_command",
		Description: "Run a host command: toggle selection, show or hide markers, or force a re-render.",
		InputSchema: inputSchema(map[string]any{
			"kind": map[string]any{"type": "string", "enum": names},
			"on":   map[string]any{"type": "boolean", "description": "Target state for draw_open and draw_resolved"},
		}, []string{"kind"}),
	}
	endpoint := func(_ context.Context, req any) (any, error) {
		if err := e.Execute(*req.(*Command)); err != nil {
			return nil, err
		}
		return e.Status(), nil
	}
	decode := func(req *mcp.CallToolRequest) (*kit.MCPDecodeResult, error) {
		cmd, err := kit.DecodeArgs[Command](req)
		if err != nil {
			return nil, err
		}
		return &kit.MCPDecodeResult{Request: cmd}, nil
	}
	e.register(srv, tool, endpoint, decode)
}

// --- reply ---

type replyReq struct {
	ID   string `json:"id"`
	Text string `json:"text"`
}

func (e *Engine) registerReplyTool(srv *mcp.Server) {
	tool := &mcp.Tool{
		Name:        "pagemark_reply",
		Description: "Append a comment to an annotation thread. Returns the annotation once saved.",
		InputSchema: inputSchema(map[string]any{
			"id":   idProp,
			"text": map[string]any{"type": "string", "maxLength": 500},
		}, []string{"id", "text"}),
	}
	endpoint := func(ctx context.Context, req any) (any, error) {
		r := req.(*replyReq)
		done, err := e.Reply(ctx, r.ID, r.Text)
		if err != nil {
			return nil, err
		}
		if err := await(ctx, done); err != nil {
			return nil, err
		}
		a, _ := e.Annotation(r.ID)
		return a, nil
	}
	decode := func(req *mcp.CallToolRequest) (*kit.MCPDecodeResult, error) {
		r, err := kit.DecodeArgs[replyReq](req)
		if err != nil {
			return nil, err
		}
		if r.ID == "" {
			return nil, fmt.Errorf("id is required")
		}
		return &kit.MCPDecodeResult{Request: r}, nil
	}
	e.register(srv, tool, endpoint, decode)
}

// --- edit comment ---

type editReq struct {
	ID        string `json:"id"`
	CommentID string `json:"comment_id"`
	Text      string `json:"text"`
}

func (e *Engine) registerEditCommentTool(srv *mcp.Server) {
	tool := &mcp.Tool{
		Name:        "pagemark_edit_comment",
		Description: "Replace the text of one comment. Unchanged or empty text is rejected.",
		InputSchema: inputSchema(map[string]any{
			"id":         idProp,
			"comment_id": map[string]any{"type": "string"},
			"text":       map[string]any{"type": "string", "maxLength": 500},
		}, []string{"id", "comment_id", "text"}),
	}
	endpoint := func(ctx context.Context, req any) (any, error) {
		r := req.(*editReq)
		done, err := e.EditComment(ctx, r.ID, r.CommentID, r.Text)
		if err != nil {
			return nil, err
		}
		if err := await(ctx, done); err != nil {
			return nil, err
		}
		a, _ := e.Annotation(r.ID)
		return a, nil
	}
	decode := func(req *mcp.CallToolRequest) (*kit.MCPDecodeResult, error) {
		r, err := kit.DecodeArgs[editReq](req)
		if err != nil {
			return nil, err
		}
		if r.ID == "" || r.CommentID == "" {
			return nil, fmt.Errorf("id and comment_id are required")
		}
		return &kit.MCPDecodeResult{Request: r}, nil
	}
	e.register(srv, tool, endpoint, decode)
}

// --- resolve / delete ---

type confirmReq struct {
	ID      string `json:"id"`
	Confirm bool   `json:"confirm"`
}

func decodeConfirm(req *mcp.CallToolRequest) (*kit.MCPDecodeResult, error) {
	r, err := kit.DecodeArgs[confirmReq](req)
	if err != nil {
		return nil, err
	}
	if r.ID == "" {
		return nil, fmt.Errorf("id is required")
	}
	res := &kit.MCPDecodeResult{Request: r}
	if r.Confirm {
		res.EnrichCtx = thread.WithConfirmation
	}
	return res, nil
}

func (e *Engine) registerResolveTool(srv *mcp.Server) {
	tool := &mcp.Tool{
		Name:        "pagemark_resolve",
		Description: "Toggle an annotation between open and resolved.",
		InputSchema: inputSchema(map[string]any{
			"id":      idProp,
			"confirm": confirmProp,
		}, []string{"id", "confirm"}),
	}
	endpoint := func(ctx context.Context, req any) (any, error) {
		r := req.(*confirmReq)
		done, err := e.ToggleResolved(ctx, r.ID)
		if err != nil {
			return nil, err
		}
		if err := await(ctx, done); err != nil {
			return nil, err
		}
		a, _ := e.Annotation(r.ID)
		return a, nil
	}
	e.register(srv, tool, endpoint, decodeConfirm)
}

func (e *Engine) registerDeleteTool(srv *mcp.Server) {
	tool := &mcp.Tool{
		Name:        "pagemark_delete",
		Description: "Delete an annotation and its whole thread.",
		InputSchema: inputSchema(map[string]any{
			"id":      idProp,
			"confirm": confirmProp,
		}, []string{"id", "confirm"}),
	}
	endpoint := func(ctx context.Context, req any) (any, error) {
		r := req.(*confirmReq)
		done, err := e.DeleteAnnotation(ctx, r.ID)
		if err != nil {
			return nil, err
		}
		if err := await(ctx, done); err != nil {
			return nil, err
		}
		return map[string]string{"status": "deleted", "id": r.ID}, nil
	}
	e.register(srv, tool, endpoint, decodeConfirm)
}

// --- report ---

func (e *Engine) registerReportTool(srv *mcp.Server) {
	tool := &mcp.Tool{
		Name:        "pagemark_report",
		Description: "Render the annotations of the reviewed page as a Markdown report.",
		InputSchema: inputSchema(map[string]any{}, nil),
	}
	endpoint := func(_ context.Context, _ any) (any, error) {
		return export.Markdown(export.Report{
			PageURL:     e.URL(),
			Generated:   e.now(),
			Annotations: e.Annotations(),
		})
	}
	decode := func(_ *mcp.CallToolRequest) (*kit.MCPDecodeResult, error) {
		return &kit.MCPDecodeResult{}, nil
	}
	e.register(srv, tool, endpoint, decode)
}
