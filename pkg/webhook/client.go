package webhook

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/sirupsen/logrus"
)

// Sink delivers a JSON payload to an external endpoint. Success is any 2xx
// response; there is no retry - callers treat failures as fire-and-forget.
type Sink interface {
	Post(ctx context.Context, endpoint string, payload interface{}) error
}

// Client JSON-over-HTTP 投递客户端
type Client struct {
	httpClient *http.Client
	logger     *logrus.Logger
}

func NewClient(timeout time.Duration, logger *logrus.Logger) *Client {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	if logger == nil {
		logger = logrus.New()
	}
	return &Client{
		httpClient: &http.Client{Timeout: timeout},
		logger:     logger,
	}
}

// Post sends one payload. The response body is read and discarded beyond
// error reporting; no response contract exists beyond the status code.
func (c *Client) Post(ctx context.Context, endpoint string, payload interface{}) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", "Checkops-Webhook/1.0")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("http request failed: %w", err)
	}
	defer resp.Body.Close()

	respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
	c.logger.Debugf("webhook: POST %s -> %d", endpoint, resp.StatusCode)

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("endpoint returned %d: %s", resp.StatusCode, string(respBody))
	}
	return nil
}
