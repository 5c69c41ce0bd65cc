//go:build e2e

package e2e

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type cfg struct {
	APIBase string // http://localhost:8080
	Timeout time.Duration
}

func loadCfg() cfg {
	return cfg{
		APIBase: getenv("E2E_API_BASE", "http://localhost:8080"),
		Timeout: mustParseDur(getenv("E2E_TIMEOUT", "30s")),
	}
}

func getenv(k, def string) string {
	if v := os.Getenv(k); v != "" {
		return v
	}
	return def
}

func mustParseDur(s string) time.Duration {
	d, err := time.ParseDuration(s)
	if err != nil {
		panic(err)
	}
	return d
}

type record struct {
	ID           int64   `json:"id"`
	Status       string  `json:"status"`
	RetryCount   int     `json:"retry_count"`
	ErrorMessage *string `json:"error_message"`
}

type trackingEntry struct {
	Status   string         `json:"status"`
	Metadata map[string]any `json:"metadata"`
}

type page struct {
	Items      []record `json:"items"`
	TotalCount int      `json:"total_count"`
}

type client struct {
	t    *testing.T
	base string
	http *http.Client
}

func (c *client) do(method, path string, body any, out any) int {
	c.t.Helper()
	var rd io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		require.NoError(c.t, err)
		rd = bytes.NewReader(b)
	}
	req, err := http.NewRequest(method, c.base+path, rd)
	require.NoError(c.t, err)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Actor-ID", "e2e")
	resp, err := c.http.Do(req)
	require.NoError(c.t, err)
	defer resp.Body.Close()
	raw, _ := io.ReadAll(resp.Body)
	if out != nil && resp.StatusCode < 300 {
		require.NoError(c.t, json.Unmarshal(raw, out), "body: %s", raw)
	}
	c.t.Logf("[e2e] %s %s -> %d", method, path, resp.StatusCode)
	return resp.StatusCode
}

func waitHealthy(t *testing.T, c *client, timeout time.Duration) {
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		resp, err := c.http.Get(c.base + "/healthz")
		if err == nil {
			_ = resp.Body.Close()
			if resp.StatusCode == http.StatusOK {
				return
			}
		}
		time.Sleep(500 * time.Millisecond)
	}
	t.Fatalf("[e2e] api not healthy at %s", c.base)
}

func TestE2E_DeliveryLifecycle(t *testing.T) {
	cf := loadCfg()
	c := &client{t: t, base: cf.APIBase, http: &http.Client{Timeout: 10 * time.Second}}
	waitHealthy(t, c, cf.Timeout)

	subject := uuid.NewString()
	var rec record
	code := c.do(http.MethodPost, "/v1/notifications", map[string]any{
		"subject":         map[string]string{"type": "user", "id": subject},
		"channel":         "email",
		"recipient":       "e2e@example.com",
		"message_content": "hello from e2e",
	}, &rec)
	require.Equal(t, http.StatusCreated, code)
	require.Equal(t, "pending", rec.Status)

	code = c.do(http.MethodPost, "/v1/webhooks/status", map[string]any{
		"notification_id": rec.ID,
		"status":          "delivered",
		"provider_data":   map[string]any{"provider": "e2e"},
	}, nil)
	require.Equal(t, http.StatusOK, code)

	var got record
	require.Equal(t, http.StatusOK, c.do(http.MethodGet, fmt.Sprintf("/v1/notifications/%d", rec.ID), nil, &got))
	assert.Equal(t, "delivered", got.Status)

	var entries []trackingEntry
	require.Equal(t, http.StatusOK, c.do(http.MethodGet, fmt.Sprintf("/v1/notifications/%d/tracking", rec.ID), nil, &entries))
	require.Len(t, entries, 1)
	assert.Equal(t, "webhook", entries[0].Metadata["source"])

	// delivered never goes back to sent
	assert.Equal(t, http.StatusConflict, c.do(http.MethodPost, fmt.Sprintf("/v1/notifications/%d/sent", rec.ID), nil, nil))

	var p page
	require.Equal(t, http.StatusOK, c.do(http.MethodGet, "/v1/subjects/user/"+subject+"/notifications", nil, &p))
	assert.Equal(t, 1, p.TotalCount)
}

func TestE2E_FailAndRetry(t *testing.T) {
	cf := loadCfg()
	c := &client{t: t, base: cf.APIBase, http: &http.Client{Timeout: 10 * time.Second}}
	waitHealthy(t, c, cf.Timeout)

	var rec record
	require.Equal(t, http.StatusCreated, c.do(http.MethodPost, "/v1/notifications", map[string]any{
		"subject":         map[string]string{"type": "user", "id": uuid.NewString()},
		"channel":         "sms",
		"recipient":       "+10000000000",
		"message_content": "code 1234",
	}, &rec))

	var failed record
	require.Equal(t, http.StatusOK, c.do(http.MethodPost, fmt.Sprintf("/v1/notifications/%d/failed", rec.ID),
		map[string]any{"error_message": "carrier rejected"}, &failed))
	assert.Equal(t, "failed", failed.Status)
	require.NotNil(t, failed.ErrorMessage)
	assert.Equal(t, "carrier rejected", *failed.ErrorMessage)

	var retried record
	require.Equal(t, http.StatusOK, c.do(http.MethodPost, fmt.Sprintf("/v1/notifications/%d/retry", rec.ID), nil, &retried))
	assert.Equal(t, "pending", retried.Status)
	assert.Equal(t, 1, retried.RetryCount)

	assert.Equal(t, http.StatusConflict, c.do(http.MethodPost, fmt.Sprintf("/v1/notifications/%d/retry", rec.ID), nil, nil))
}
