// Package whatsapp sends messages through the third-party WhatsApp gateway.
package whatsapp

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

// APIError is a non-2xx answer from the gateway, kept for diagnostics.
type APIError struct {
	Status int
	Body   string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("gateway returned %d: %s", e.Status, e.Body)
}

// Client issues single send-message calls against the gateway. The gateway
// expects the raw API key in the Authorization header, without a bearer
// scheme.
type Client struct {
	httpClient *http.Client
}

func NewClient() *Client {
	return &Client{
		httpClient: &http.Client{Timeout: 15 * time.Second},
	}
}

type sendRequest struct {
	Number  string `json:"number"`
	Message string `json:"message"`
	IsGroup bool   `json:"isGroup,omitempty"`
}

// Send performs one POST {base}/send-message call. It never retries.
func (c *Client) Send(ctx context.Context, baseURL, apiKey, number, message string, isGroup bool) error {
	payload, err := json.Marshal(sendRequest{Number: number, Message: message, IsGroup: isGroup})
	if err != nil {
		return fmt.Errorf("marshal send request: %w", err)
	}

	url := strings.TrimRight(baseURL, "/") + "/send-message"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("build send request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", apiKey)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("call gateway: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return &APIError{Status: resp.StatusCode, Body: strings.TrimSpace(string(body))}
	}
	return nil
}
