package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

const maxErrorBody = 512

// apiClient is the HTTP plumbing shared by the gateway adapters. It turns
// transport failures and status codes into ErrUnavailable or ErrRejected.
type apiClient struct {
	name      string
	baseURL   string
	authToken string
	client    *http.Client
}

func newAPIClient(name, baseURL, authToken string, timeout time.Duration) *apiClient {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &apiClient{
		name:      name,
		baseURL:   strings.TrimRight(strings.TrimSpace(baseURL), "/"),
		authToken: authToken,
		client:    &http.Client{Timeout: timeout},
	}
}

func (c *apiClient) doJSON(ctx context.Context, method, path string, in any, out any, headers map[string]string) error {
	var body io.Reader
	if in != nil {
		encoded, err := json.Marshal(in)
		if err != nil {
			return err
		}
		body = bytes.NewReader(encoded)
	}
	if headers == nil {
		headers = map[string]string{}
	}
	if in != nil {
		headers["Content-Type"] = "application/json"
	}
	return c.do(ctx, method, path, body, out, headers)
}

func (c *apiClient) do(ctx context.Context, method, path string, body io.Reader, out any, headers map[string]string) error {
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+c.authToken)
	req.Header.Set("Accept", "application/json")
	for k, v := range headers {
		if v != "" {
			req.Header.Set(k, v)
		}
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %s request failed: path=%s: %v", ErrUnavailable, c.name, path, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("%w: %s response read failed: path=%s: %v", ErrUnavailable, c.name, path, err)
	}

	if resp.StatusCode >= 400 {
		return fmt.Errorf("%w: %s request failed: path=%s status=%d body=%s",
			classifyStatus(resp.StatusCode), c.name, path, resp.StatusCode, truncate(raw))
	}

	if out == nil || len(raw) == 0 {
		return nil
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("%s response decode failed: path=%s: %w", c.name, path, err)
	}
	return nil
}

func classifyStatus(code int) error {
	if code >= 500 || code == http.StatusTooManyRequests || code == http.StatusRequestTimeout {
		return ErrUnavailable
	}
	return ErrRejected
}

func truncate(body []byte) string {
	s := strings.TrimSpace(string(body))
	if len(s) > maxErrorBody {
		return s[:maxErrorBody] + "..."
	}
	return s
}

func amountOrDefault(amount *int64, fallback int64) int64 {
	if amount != nil {
		return *amount
	}
	return fallback
}
