package channel

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"herald/internal/config"
)

func newTestGateway(t *testing.T, handler http.HandlerFunc) *HTTPGateway {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return NewHTTPGateway(config.HTTPChannelConfig{
		BaseURL: srv.URL + "/",
		Headers: map[string]string{"X-Api-Key": "secret"},
		Timeout: time.Second,
	})
}

func TestHTTPGatewaySend(t *testing.T) {
	gw := newTestGateway(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/tenants/school-1/messages", r.URL.Path)
		assert.Equal(t, "secret", r.Header.Get("X-Api-Key"))

		var req sendRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "905550000000", req.Recipient)
		assert.Equal(t, "hello", req.Content)

		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"message_id":"wamid-1"}`))
	})

	res, err := gw.Send(context.Background(), "school-1", "905550000000", "hello")
	require.NoError(t, err)
	assert.True(t, res.Success)
	assert.Equal(t, "wamid-1", res.ProviderMessageID)
}

func TestHTTPGatewaySendFailures(t *testing.T) {
	tests := []struct {
		name    string
		status  int
		body    string
		wantErr string
	}{
		{name: "server error", status: http.StatusBadGateway, body: ``, wantErr: "gateway returned status 502"},
		{name: "explicit failure", status: http.StatusOK, body: `{"success":false,"error":"session closed"}`, wantErr: "session closed"},
		{name: "error body", status: http.StatusBadRequest, body: `{"error":"invalid number"}`, wantErr: "invalid number"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			gw := newTestGateway(t, func(w http.ResponseWriter, _ *http.Request) {
				w.WriteHeader(tt.status)
				_, _ = w.Write([]byte(tt.body))
			})

			res, err := gw.Send(context.Background(), "school-1", "905550000000", "hello")
			require.Error(t, err)
			assert.False(t, res.Success)
			assert.Contains(t, res.Error, tt.wantErr)
		})
	}
}

func TestHTTPGatewayUnreachable(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	srv.Close()
	gw := NewHTTPGateway(config.HTTPChannelConfig{BaseURL: srv.URL})

	res, err := gw.Send(context.Background(), "school-1", "905550000000", "hello")
	require.Error(t, err)
	assert.False(t, res.Success)
	assert.Error(t, gw.Ping(context.Background()))
}

func TestHTTPGatewayTypingAndHealth(t *testing.T) {
	gw := newTestGateway(t, func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/tenants/school-1/typing":
			var req typingRequest
			require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
			assert.Equal(t, int64(1500), req.DurationMS)
			w.WriteHeader(http.StatusNoContent)
		case "/tenants/school-1/status":
			_, _ = w.Write([]byte(`{"connected":true}`))
		case "/tenants/school-2/status":
			_, _ = w.Write([]byte(`{"connected":false}`))
		case "/health":
			w.WriteHeader(http.StatusOK)
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	})

	ctx := context.Background()
	require.NoError(t, gw.SendTyping(ctx, "school-1", "905550000000", 1500*time.Millisecond))
	assert.True(t, gw.CheckHealth(ctx, "school-1"))
	assert.False(t, gw.CheckHealth(ctx, "school-2"))
	assert.False(t, gw.CheckHealth(ctx, "school-3"))
	assert.NoError(t, gw.Ping(ctx))
}
