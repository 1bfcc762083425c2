// Package mailrelay syncs subscribers to a MailRelay account.
package mailrelay

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
)

// ClientOption configures the client.
type ClientOption func(*Client)

// WithHTTPClient sets a custom HTTP client.
func WithHTTPClient(httpClient *http.Client) ClientOption {
	return func(c *Client) {
		c.httpClient = httpClient
	}
}

// Client is a MailRelay API client.
type Client struct {
	apiKey     string
	baseURL    string
	httpClient *http.Client
}

// NewClient creates a client for host, which is either an account host
// ("acme.ipzmarketing.com") or a full base URL.
func NewClient(host, apiKey string, opts ...ClientOption) *Client {
	base := strings.TrimSuffix(host, "/")
	if !strings.HasPrefix(base, "http://") && !strings.HasPrefix(base, "https://") {
		base = "https://" + base
	}
	c := &Client{
		apiKey:     apiKey,
		baseURL:    base + "/api/v1",
		httpClient: http.DefaultClient,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Subscriber is the body of the subscriber sync call.
type Subscriber struct {
	Email        string            `json:"email"`
	Name         string            `json:"name,omitempty"`
	Status       string            `json:"status"`
	GroupIDs     []int             `json:"group_ids,omitempty"`
	CustomFields map[string]string `json:"custom_fields,omitempty"`
}

// SyncSubscriber creates the subscriber or updates the one with the same
// email.
func (c *Client) SyncSubscriber(ctx context.Context, sub *Subscriber) error {
	if sub.Status == "" {
		sub.Status = "active"
	}
	body, err := json.Marshal(sub)
	if err != nil {
		return fmt.Errorf("failed to marshal subscriber: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/subscribers/sync", bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Auth-Token", c.apiKey)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return fmt.Errorf("mailrelay error (status %d): %s", resp.StatusCode, string(respBody))
	}
	return nil
}
