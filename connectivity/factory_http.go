package connectivity

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/hazyhaar/pagemark/horosafe"
)

// httpRoute is the config of an "http" route.
//
//	{"timeout_ms": 1500, "token": "...", "content_type": "application/json"}
type httpRoute struct {
	endpoint    string
	ContentType string `json:"content_type"`
	Token       string `json:"token"`
	client      *http.Client
}

// HTTPFactory builds handlers that POST the payload to the route endpoint,
// typically a peer serving HTTPHandler at /{service}. Register it with:
//
//	router.RegisterTransport("http", connectivity.HTTPFactory())
func HTTPFactory() TransportFactory {
	return func(endpoint string, config json.RawMessage) (Handler, func(), error) {
		if err := horosafe.ValidateHTTPURL(endpoint); err != nil {
			return nil, nil, fmt.Errorf("connectivity/http: %w", err)
		}
		rt := &httpRoute{endpoint: endpoint, ContentType: "application/json"}
		if len(config) > 0 {
			if err := json.Unmarshal(config, rt); err != nil {
				return nil, nil, fmt.Errorf("connectivity/http: config: %w", err)
			}
		}
		rt.client = &http.Client{Timeout: callTimeout(config, 30*time.Second)}
		return rt.call, rt.client.CloseIdleConnections, nil
	}
}

func (rt *httpRoute) call(ctx context.Context, payload []byte) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, rt.endpoint, bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("connectivity/http: %w", err)
	}
	req.Header.Set("Content-Type", rt.ContentType)
	if rt.Token != "" {
		req.Header.Set("Authorization", "Bearer "+rt.Token)
	}
	resp, err := rt.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("connectivity/http: %w", err)
	}
	defer resp.Body.Close()

	body, err := horosafe.LimitedReadAll(resp.Body, horosafe.MaxBody)
	if err != nil {
		return nil, fmt.Errorf("connectivity/http: read %s: %w", rt.endpoint, err)
	}
	if resp.StatusCode/100 != 2 {
		return nil, fmt.Errorf("connectivity/http: %s answered %d: %s", rt.endpoint, resp.StatusCode, bytes.TrimSpace(body))
	}
	return body, nil
}
