package engine

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/hazyhaar/pagemark/connectivity"
	"github.com/hazyhaar/pagemark/engine/internal/thread"
)

// RegisterConnectivity registers the engine services on a connectivity
// Router.
//
// Registered services:
//
//	pagemark_command     : run a host command, returns the status
//	pagemark_status      : current status
//	pagemark_annotations : page annotations with display state
//	pagemark_reply       : append a comment to a thread
//	pagemark_resolve     : toggle open/resolved (needs "confirm": true)
//	pagemark_delete      : delete an annotation (needs "confirm": true)
//
// Each handler recovers panics and is bounded by twice PersistTimeout.
func (e *Engine) RegisterConnectivity(router *connectivity.Router) {
	wrap := connectivity.Chain(
		connectivity.Recovery(e.logger),
		connectivity.Logging(e.logger),
		connectivity.Timeout(2*e.cfg.PersistTimeout),
	)
	for name, h := range map[string]connectivity.Handler{
		"pagemark_command":     e.handleCommand,
		"pagemark_status":      e.handleStatus,
		"pagemark_annotations": e.handleAnnotations,
		"pagemark_reply":       e.handleReply,
		"pagemark_resolve":     e.handleResolve,
		"pagemark_delete":      e.handleDelete,
	} {
		router.RegisterLocal(name, wrap(h))
	}
}

func (e *Engine) handleCommand(ctx context.Context, payload []byte) ([]byte, error) {
	var cmd Command
	if err := json.Unmarshal(payload, &cmd); err != nil {
		return nil, fmt.Errorf("decode: %w", err)
	}
	if err := e.Execute(cmd); err != nil {
		return nil, err
	}
	return json.Marshal(e.Status())
}

func (e *Engine) handleStatus(ctx context.Context, _ []byte) ([]byte, error) {
	return json.Marshal(e.Status())
}

func (e *Engine) handleAnnotations(ctx context.Context, _ []byte) ([]byte, error) {
	return json.Marshal(e.Views())
}

type threadRequest struct {
	ID      string `json:"id"`
	Text    string `json:"text"`
	Confirm bool   `json:"confirm"`
}

func decodeThread(payload []byte) (threadRequest, error) {
	var req threadRequest
	if err := json.Unmarshal(payload, &req); err != nil {
		return req, fmt.Errorf("decode: %w", err)
	}
	if req.ID == "" {
		return req, fmt.Errorf("id is required")
	}
	return req, nil
}

func (e *Engine) handleReply(ctx context.Context, payload []byte) ([]byte, error) {
	req, err := decodeThread(payload)
	if err != nil {
		return nil, err
	}
	done, err := e.Reply(ctx, req.ID, req.Text)
	if err != nil {
		return nil, err
	}
	if err := await(ctx, done); err != nil {
		return nil, err
	}
	return e.marshalAnnotation(req.ID)
}

func (e *Engine) handleResolve(ctx context.Context, payload []byte) ([]byte, error) {
	req, err := decodeThread(payload)
	if err != nil {
		return nil, err
	}
	if req.Confirm {
		ctx = thread.WithConfirmation(ctx)
	}
	done, err := e.ToggleResolved(ctx, req.ID)
	if err != nil {
		return nil, err
	}
	if err := await(ctx, done); err != nil {
		return nil, err
	}
	return e.marshalAnnotation(req.ID)
}

func (e *Engine) handleDelete(ctx context.Context, payload []byte) ([]byte, error) {
	req, err := decodeThread(payload)
	if err != nil {
		return nil, err
	}
	if req.Confirm {
		ctx = thread.WithConfirmation(ctx)
	}
	done, err := e.DeleteAnnotation(ctx, req.ID)
	if err != nil {
		return nil, err
	}
	if err := await(ctx, done); err != nil {
		return nil, err
	}
	return json.Marshal(map[string]string{"status": "deleted", "id": req.ID})
}

func (e *Engine) marshalAnnotation(id string) ([]byte, error) {
	a, ok := e.Annotation(id)
	if !ok {
		return nil, fmt.Errorf("annotation %s not found", id)
	}
	return json.Marshal(a)
}
