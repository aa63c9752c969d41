package channel

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"herald/internal/config"
	"herald/internal/constants"
)

// HTTPGateway talks to a messaging gateway over its JSON API.
type HTTPGateway struct {
	baseURL string
	headers map[string]string
	client  *http.Client
}

func NewHTTPGateway(cfg config.HTTPChannelConfig) *HTTPGateway {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = constants.DefaultHTTPTimeout
	}

	return &HTTPGateway{
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
		headers: cfg.Headers,
		client: &http.Client{
			Timeout:   timeout,
			Transport: otelhttp.NewTransport(http.DefaultTransport),
		},
	}
}

type sendRequest struct {
	Recipient string `json:"recipient"`
	Content   string `json:"content"`
}

type sendResponse struct {
	MessageID string `json:"message_id"`
	Success   *bool  `json:"success,omitempty"`
	Error     string `json:"error,omitempty"`
}

type typingRequest struct {
	Recipient  string `json:"recipient"`
	DurationMS int64  `json:"duration_ms"`
}

type statusResponse struct {
	Connected bool `json:"connected"`
}

func (g *HTTPGateway) Send(ctx context.Context, tenantID, recipient, content string) (Result, error) {
	var resp sendResponse
	status, err := g.do(ctx, http.MethodPost, g.tenantURL(tenantID, "messages"), sendRequest{
		Recipient: recipient,
		Content:   content,
	}, &resp)
	if err != nil {
		return Result{Error: err.Error()}, err
	}

	if status < constants.HTTPStatusOKMin || status >= constants.HTTPStatusOKMax || (resp.Success != nil && !*resp.Success) {
		msg := resp.Error
		if msg == "" {
			msg = fmt.Sprintf("gateway returned status %d", status)
		}
		return Result{Error: msg}, fmt.Errorf("send to %s rejected: %s", recipient, msg)
	}

	return Result{Success: true, ProviderMessageID: resp.MessageID}, nil
}

func (g *HTTPGateway) SendTyping(ctx context.Context, tenantID, recipient string, duration time.Duration) error {
	status, err := g.do(ctx, http.MethodPost, g.tenantURL(tenantID, "typing"), typingRequest{
		Recipient:  recipient,
		DurationMS: duration.Milliseconds(),
	}, nil)
	if err != nil {
		return err
	}
	if status < constants.HTTPStatusOKMin || status >= constants.HTTPStatusOKMax {
		return fmt.Errorf("typing indicator returned status: %d", status)
	}
	return nil
}

func (g *HTTPGateway) CheckHealth(ctx context.Context, tenantID string) bool {
	var resp statusResponse
	status, err := g.do(ctx, http.MethodGet, g.tenantURL(tenantID, "status"), nil, &resp)
	if err != nil {
		return false
	}
	return status >= constants.HTTPStatusOKMin && status < constants.HTTPStatusOKMax && resp.Connected
}

// Ping checks the gateway itself, independent of any tenant session.
func (g *HTTPGateway) Ping(ctx context.Context) error {
	status, err := g.do(ctx, http.MethodGet, g.baseURL+"/health", nil, nil)
	if err != nil {
		return err
	}
	if status < constants.HTTPStatusOKMin || status >= constants.HTTPStatusOKMax {
		return fmt.Errorf("gateway health returned status: %d", status)
	}
	return nil
}

func (g *HTTPGateway) tenantURL(tenantID, path string) string {
	return fmt.Sprintf("%s/tenants/%s/%s", g.baseURL, url.PathEscape(tenantID), path)
}

func (g *HTTPGateway) do(ctx context.Context, method, target string, body, out interface{}) (int, error) {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return 0, fmt.Errorf("failed to encode request: %w", err)
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, target, reader)
	if err != nil {
		return 0, fmt.Errorf("failed to create request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	for k, v := range g.headers {
		req.Header.Set(k, v)
	}

	resp, err := g.client.Do(req)
	if err != nil {
		return 0, fmt.Errorf("gateway request failed: %w", err)
	}
	defer resp.Body.Close()

	if out != nil {
		// error responses may carry a JSON body too; an empty or non-JSON body is not fatal
		_ = json.NewDecoder(resp.Body).Decode(out)
	}
	return resp.StatusCode, nil
}
