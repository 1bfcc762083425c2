// Package supabase reads from the hosted Postgres database through its
// PostgREST endpoint and follows row changes over its realtime websocket.
package supabase

import (
	"context"
	"fmt"
	"net/url"
	"strconv"

	"github.com/tjfontaine/enterprise-crm-gateway/internal/domain"
	"github.com/tjfontaine/enterprise-crm-gateway/internal/pkg/restclient"
)

// Client queries PostgREST tables.
type Client struct {
	rest *restclient.Client
}

// NewClient creates a client for the project at baseURL using the anon or
// service key. Extra restclient options control retries and timeouts.
func NewClient(baseURL, key string, opts ...restclient.Option) *Client {
	opts = append([]restclient.Option{
		restclient.WithHeader("apikey", key),
		restclient.WithHeader("Authorization", "Bearer "+key),
	}, opts...)
	return &Client{rest: restclient.New(baseURL+"/rest/v1", opts...)}
}

// ListRecent returns up to limit rows of table, newest first.
func (c *Client) ListRecent(ctx context.Context, table string, limit int) ([]domain.Record, error) {
	q := url.Values{}
	q.Set("select", "*")
	q.Set("order", "created_at.desc")
	if limit > 0 {
		q.Set("limit", strconv.Itoa(limit))
	}

	var rows []domain.Record
	if err := c.rest.GetJSON(ctx, table, q, &rows); err != nil {
		return nil, fmt.Errorf("list %s: %w", table, err)
	}
	if rows == nil {
		rows = []domain.Record{}
	}
	return rows, nil
}
