package kit

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"strings"
	"testing"
)

func TestChain_Order(t *testing.T) {
	var order []string

	mw := func(name string) Middleware {
		return func(next Endpoint) Endpoint {
			return func(ctx context.Context, req any) (any, error) {
				order = append(order, name+"_before")
				resp, err := next(ctx, req)
				order = append(order, name+"_after")
				return resp, err
			}
		}
	}
	base := func(_ context.Context, _ any) (any, error) {
		order = append(order, "endpoint")
		return "ok", nil
	}

	resp, err := Chain(mw("a"), mw("b"))(base)(context.Background(), nil)
	if err != nil || resp != "ok" {
		t.Fatalf("resp = %v, %v", resp, err)
	}
	want := "a_before,b_before,endpoint,b_after,a_after"
	if got := strings.Join(order, ","); got != want {
		t.Fatalf("order = %s, want %s", got, want)
	}
}

func TestLogging(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug}))
	errFail := errors.New("fail")
	failing := Logging(logger, "reply")(func(context.Context, any) (any, error) { return nil, errFail })

	ctx := WithUserID(context.Background(), "usr_1")
	if _, err := failing(ctx, nil); !errors.Is(err, errFail) {
		t.Fatalf("err = %v", err)
	}
	out := buf.String()
	if !strings.Contains(out, "endpoint=reply") || !strings.Contains(out, "user_id=usr_1") || !strings.Contains(out, "level=WARN") {
		t.Errorf("log = %s", out)
	}
}

func TestContext(t *testing.T) {
	ctx := context.Background()
	if GetUserID(ctx) != "" || GetHandle(ctx) != "" || GetTraceID(ctx) != "" {
		t.Fatal("empty context carries values")
	}
	ctx = WithUserID(ctx, "usr_123")
	ctx = WithHandle(ctx, "alice")
	ctx = WithTraceID(ctx, "abcd")
	ctx = WithRemoteAddr(ctx, "10.0.0.1:5000")
	if GetUserID(ctx) != "usr_123" || GetHandle(ctx) != "alice" || GetTraceID(ctx) != "abcd" || GetRemoteAddr(ctx) != "10.0.0.1:5000" {
		t.Fatal("values lost")
	}
}
