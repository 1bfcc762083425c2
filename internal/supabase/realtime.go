package supabase

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"strconv"
	"strings"
	"sync/atomic"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"

	"github.com/tjfontaine/enterprise-crm-gateway/internal/domain"
)

const (
	DefaultHeartbeat = 30 * time.Second

	eventJoin      = "phx_join"
	eventReply     = "phx_reply"
	eventError     = "phx_error"
	eventClose     = "phx_close"
	eventHeartbeat = "heartbeat"
	eventChanges   = "postgres_changes"
)

// message is a Phoenix channel frame.
type message struct {
	Topic   string         `json:"topic"`
	Event   string         `json:"event"`
	Payload map[string]any `json:"payload"`
	Ref     string         `json:"ref,omitempty"`
}

// RealtimeOption configures a Realtime subscription.
type RealtimeOption func(*Realtime)

// WithHeartbeat sets the heartbeat interval.
func WithHeartbeat(d time.Duration) RealtimeOption {
	return func(r *Realtime) { r.heartbeat = d }
}

// WithReconnectBackoff sets the initial and maximum reconnect delays.
func WithReconnectBackoff(initial, max time.Duration) RealtimeOption {
	return func(r *Realtime) {
		r.initialBackoff = initial
		r.maxBackoff = max
	}
}

// WithRealtimeLogger sets the logger.
func WithRealtimeLogger(l *slog.Logger) RealtimeOption {
	return func(r *Realtime) { r.logger = l }
}

// Realtime follows row changes on one table of the public schema.
type Realtime struct {
	endpoint       string
	key            string
	table          string
	heartbeat      time.Duration
	initialBackoff time.Duration
	maxBackoff     time.Duration
	logger         *slog.Logger
	ref            atomic.Uint64
}

// NewRealtime creates a subscription to table on the project at baseURL.
func NewRealtime(baseURL, key, table string, opts ...RealtimeOption) *Realtime {
	r := &Realtime{
		endpoint:       websocketURL(baseURL, key),
		key:            key,
		table:          table,
		heartbeat:      DefaultHeartbeat,
		initialBackoff: time.Second,
		maxBackoff:     time.Minute,
		logger:         slog.Default(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Topic returns the channel topic joined for the table.
func (r *Realtime) Topic() string {
	return "realtime:public:" + r.table
}

// Run connects, joins the table channel and calls emit for every change
// until ctx is cancelled. Dropped connections are retried with exponential
// backoff; the backoff resets after a successful join.
func (r *Realtime) Run(ctx context.Context, emit func(domain.ChangeEvent)) error {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = r.initialBackoff
	b.MaxInterval = r.maxBackoff

	for {
		joined, err := r.session(ctx, emit)
		if ctx.Err() != nil {
			return nil
		}
		if joined {
			b.Reset()
		}

		wait := b.NextBackOff()
		r.logger.Warn("realtime connection lost",
			slog.String("table", r.table),
			slog.Duration("reconnect_in", wait),
			slog.Any("error", err))

		select {
		case <-ctx.Done():
			return nil
		case <-time.After(wait):
		}
	}
}

// session runs one connection. It reports whether the join succeeded.
func (r *Realtime) session(ctx context.Context, emit func(domain.ChangeEvent)) (bool, error) {
	conn, _, err := websocket.Dial(ctx, r.endpoint, nil)
	if err != nil {
		return false, fmt.Errorf("dial: %w", err)
	}
	defer conn.CloseNow()
	conn.SetReadLimit(1 << 20)

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	join := message{
		Topic: r.Topic(),
		Event: eventJoin,
		Payload: map[string]any{
			"config": map[string]any{
				"postgres_changes": []map[string]string{
					{"event": "*", "schema": "public", "table": r.table},
				},
			},
			"access_token": r.key,
		},
		Ref: r.nextRef(),
	}
	if err := wsjson.Write(ctx, conn, join); err != nil {
		return false, fmt.Errorf("join: %w", err)
	}

	go r.heartbeatLoop(ctx, conn)

	joined := false
	for {
		var msg message
		if err := wsjson.Read(ctx, conn, &msg); err != nil {
			if ctx.Err() != nil {
				conn.Close(websocket.StatusNormalClosure, "")
			}
			return joined, err
		}

		switch msg.Event {
		case eventReply:
			if msg.Topic == r.Topic() && msg.Ref == join.Ref {
				if status, _ := msg.Payload["status"].(string); status != "ok" {
					return false, fmt.Errorf("join rejected: %v", msg.Payload["response"])
				}
				joined = true
				r.logger.Info("realtime channel joined", slog.String("topic", msg.Topic))
			}
		case eventError, eventClose:
			if msg.Topic == r.Topic() {
				return joined, errors.New("channel closed by server: " + msg.Event)
			}
		default:
			if ev, ok := parseChange(r.table, msg); ok {
				emit(ev)
			}
		}
	}
}

func (r *Realtime) heartbeatLoop(ctx context.Context, conn *websocket.Conn) {
	ticker := time.NewTicker(r.heartbeat)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			hb := message{Topic: "phoenix", Event: eventHeartbeat, Payload: map[string]any{}, Ref: r.nextRef()}
			if err := wsjson.Write(ctx, conn, hb); err != nil {
				r.logger.Debug("heartbeat failed", slog.String("error", err.Error()))
				return
			}
		}
	}
}

func (r *Realtime) nextRef() string {
	return strconv.FormatUint(r.ref.Add(1), 10)
}

// parseChange extracts a change event from either the postgres_changes
// envelope or the legacy per-type events.
func parseChange(table string, msg message) (domain.ChangeEvent, bool) {
	var data map[string]any
	switch msg.Event {
	case eventChanges:
		data, _ = msg.Payload["data"].(map[string]any)
	case string(domain.ChangeInsert), string(domain.ChangeUpdate), string(domain.ChangeDelete):
		data = msg.Payload
	}
	if data == nil {
		return domain.ChangeEvent{}, false
	}

	ev := domain.ChangeEvent{Table: table}
	if t, ok := data["table"].(string); ok && t != "" {
		ev.Table = t
	}
	typ, _ := data["type"].(string)
	if typ == "" {
		typ, _ = data["eventType"].(string)
	}
	if typ == "" {
		typ = msg.Event
	}
	ev.Type = domain.ParseChangeType(typ)
	if rec, ok := data["record"].(map[string]any); ok {
		ev.Record = domain.Record(rec)
	}
	if old, ok := data["old_record"].(map[string]any); ok {
		ev.OldRecord = domain.Record(old)
	}
	return ev, true
}

func websocketURL(baseURL, key string) string {
	u, err := url.Parse(strings.TrimSuffix(baseURL, "/"))
	if err != nil {
		return baseURL
	}
	switch u.Scheme {
	case "https":
		u.Scheme = "wss"
	case "http":
		u.Scheme = "ws"
	}
	u.Path += "/realtime/v1/websocket"
	q := u.Query()
	q.Set("apikey", key)
	q.Set("vsn", "1.0.0")
	u.RawQuery = q.Encode()
	return u.String()
}
