// Package webhook relays CRM events to an external automation endpoint.
//
// Delivery is fire-and-forget: Publish returns immediately and the POST runs
// in the background. A failed delivery is retried exactly once after the
// configured delay; if the retry fails too the event is logged and dropped.
package webhook

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/tjfontaine/enterprise-crm-gateway/internal/pkg/safehttp"
)

// Event names published by the gateway.
const (
	EventLeadCreated     = "lead.created"
	EventLeadUpdated     = "lead.updated"
	EventFunnelTriggered = "funnel.triggered"
	EventAIRequest       = "ai.request"
)

// Publisher accepts events for asynchronous delivery.
type Publisher interface {
	Publish(ctx context.Context, event string, data any)
}

// Payload is the JSON body POSTed to the automation endpoint.
type Payload struct {
	Event     string    `json:"event"`
	Data      any       `json:"data"`
	Timestamp time.Time `json:"timestamp"`
	Source    string    `json:"source"`
	SiteURL   string    `json:"site_url"`
}

// Config configures a Relay.
type Config struct {
	URL        string
	Source     string
	SiteURL    string
	Timeout    time.Duration
	RetryDelay time.Duration
	Headers    map[string]string

	// BlockPrivateTargets routes deliveries through safehttp so the
	// configured URL cannot reach loopback or private ranges.
	BlockPrivateTargets bool

	HTTPClient *http.Client
	Logger     *slog.Logger
}

// Relay posts events to a single webhook URL.
type Relay struct {
	url        string
	source     string
	siteURL    string
	timeout    time.Duration
	retryDelay time.Duration
	headers    map[string]string
	client     *http.Client
	logger     *slog.Logger
	now        func() time.Time

	mu      sync.Mutex
	closed  bool
	pending map[*time.Timer]struct{}
	wg      sync.WaitGroup
}

var _ Publisher = (*Relay)(nil)

// New creates a relay. A relay with an empty URL accepts and discards events.
func New(cfg Config) *Relay {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	if cfg.RetryDelay <= 0 {
		cfg.RetryDelay = 5 * time.Minute
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}

	client := cfg.HTTPClient
	if client == nil {
		var base http.RoundTripper = http.DefaultTransport
		if cfg.BlockPrivateTargets {
			base = safehttp.SafeTransport
		}
		client = &http.Client{Transport: otelhttp.NewTransport(base)}
	}

	return &Relay{
		url:        cfg.URL,
		source:     cfg.Source,
		siteURL:    cfg.SiteURL,
		timeout:    cfg.Timeout,
		retryDelay: cfg.RetryDelay,
		headers:    cfg.Headers,
		client:     client,
		logger:     cfg.Logger,
		now:        time.Now,
		pending:    make(map[*time.Timer]struct{}),
	}
}

// Enabled reports whether events are delivered anywhere.
func (r *Relay) Enabled() bool {
	return r.url != ""
}

// Publish schedules delivery of event and returns immediately. The caller's
// context contributes values (trace spans) but not cancellation.
func (r *Relay) Publish(ctx context.Context, event string, data any) {
	if !r.Enabled() {
		return
	}

	body, err := json.Marshal(&Payload{
		Event:     event,
		Data:      data,
		Timestamp: r.now().UTC(),
		Source:    r.source,
		SiteURL:   r.siteURL,
	})
	if err != nil {
		r.logger.Error("webhook payload encoding failed",
			slog.String("event", event),
			slog.String("error", err.Error()))
		return
	}

	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return
	}
	r.wg.Add(1)
	r.mu.Unlock()

	ctx = context.WithoutCancel(ctx)
	go func() {
		defer r.wg.Done()
		if err := r.send(ctx, body); err != nil {
			r.logger.Warn("webhook delivery failed, scheduling retry",
				slog.String("event", event),
				slog.Duration("retry_delay", r.retryDelay),
				slog.String("error", err.Error()))
			r.scheduleRetry(ctx, event, body)
		}
	}()
}

func (r *Relay) scheduleRetry(ctx context.Context, event string, body []byte) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return
	}

	r.wg.Add(1)
	var timer *time.Timer
	timer = time.AfterFunc(r.retryDelay, func() {
		defer r.wg.Done()

		r.mu.Lock()
		delete(r.pending, timer)
		r.mu.Unlock()

		if err := r.send(ctx, body); err != nil {
			r.logger.Error("webhook retry failed, dropping event",
				slog.String("event", event),
				slog.String("error", err.Error()))
		}
	})
	r.pending[timer] = struct{}{}
}

func (r *Relay) send(ctx context.Context, body []byte) error {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, r.url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	for k, v := range r.headers {
		req.Header.Set(k, v)
	}

	resp, err := r.client.Do(req)
	if err != nil {
		return fmt.Errorf("webhook request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return fmt.Errorf("webhook returned status %d: %s", resp.StatusCode, string(respBody))
	}
	io.Copy(io.Discard, resp.Body)
	return nil
}

// Close cancels retries that have not fired yet and waits for in-flight
// deliveries, or until ctx is done.
func (r *Relay) Close(ctx context.Context) error {
	r.mu.Lock()
	r.closed = true
	for timer := range r.pending {
		if timer.Stop() {
			r.wg.Done()
		}
		delete(r.pending, timer)
	}
	r.mu.Unlock()

	done := make(chan struct{})
	go func() {
		r.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
