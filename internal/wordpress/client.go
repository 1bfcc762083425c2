// Package wordpress reads CRM resources published by the CMS plugin.
package wordpress

import (
	"context"
	"fmt"
	"net/url"
	"strconv"
	"strings"

	"github.com/tjfontaine/enterprise-crm-gateway/internal/domain"
	"github.com/tjfontaine/enterprise-crm-gateway/internal/pkg/restclient"
)

// Client talks to the CMS REST API under /wp-json.
type Client struct {
	rest *restclient.Client
}

// NewClient creates a client for the site at siteURL. The key is sent as
// X-API-Key on every request.
func NewClient(siteURL, apiKey string, opts ...restclient.Option) *Client {
	base := strings.TrimSuffix(siteURL, "/") + "/wp-json"
	if apiKey != "" {
		opts = append([]restclient.Option{restclient.WithHeader("X-API-Key", apiKey)}, opts...)
	}
	return &Client{rest: restclient.New(base, opts...)}
}

// Campaigns lists up to limit campaigns.
func (c *Client) Campaigns(ctx context.Context, limit int) ([]domain.Record, error) {
	return c.list(ctx, "wp/v2/campaigns", limit)
}

// Funnels lists up to limit funnels.
func (c *Client) Funnels(ctx context.Context, limit int) ([]domain.Record, error) {
	return c.list(ctx, "wp/v2/funnels", limit)
}

// Analytics fetches the plugin's analytics summary.
func (c *Client) Analytics(ctx context.Context) (domain.Record, error) {
	var out domain.Record
	if err := c.rest.GetJSON(ctx, "enterprise-crm/v1/analytics", nil, &out); err != nil {
		return nil, fmt.Errorf("analytics: %w", err)
	}
	if out == nil {
		out = domain.Record{}
	}
	return out, nil
}

func (c *Client) list(ctx context.Context, path string, limit int) ([]domain.Record, error) {
	var q url.Values
	if limit > 0 {
		// The CMS caps per_page at 100.
		q = url.Values{"per_page": {strconv.Itoa(min(limit, 100))}}
	}
	var rows []domain.Record
	if err := c.rest.GetJSON(ctx, path, q, &rows); err != nil {
		return nil, fmt.Errorf("list %s: %w", path, err)
	}
	if rows == nil {
		rows = []domain.Record{}
	}
	return rows, nil
}
