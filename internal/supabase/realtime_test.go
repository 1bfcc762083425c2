package supabase

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"

	"github.com/tjfontaine/enterprise-crm-gateway/internal/domain"
)

func quiet() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// phoenixServer accepts a join, replies ok and then sends frames. With
// restartFirst the first connection is closed after its frames.
func phoenixServer(t *testing.T, restartFirst bool, frames func(conn int) []message) (*httptest.Server, *atomic.Int32) {
	t.Helper()
	var conns atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !strings.HasSuffix(r.URL.Path, "/realtime/v1/websocket") || r.URL.Query().Get("apikey") != "k" {
			http.Error(w, "bad path", http.StatusBadRequest)
			return
		}
		c, err := websocket.Accept(w, r, nil)
		if err != nil {
			return
		}
		defer c.CloseNow()
		n := int(conns.Add(1))

		ctx := r.Context()
		var join message
		if err := wsjson.Read(ctx, c, &join); err != nil {
			return
		}
		if join.Event != eventJoin || join.Topic != "realtime:public:contacts" {
			c.Close(websocket.StatusPolicyViolation, "unexpected join")
			return
		}
		wsjson.Write(ctx, c, message{
			Topic:   join.Topic,
			Event:   eventReply,
			Payload: map[string]any{"status": "ok", "response": map[string]any{}},
			Ref:     join.Ref,
		})
		for _, f := range frames(n) {
			if err := wsjson.Write(ctx, c, f); err != nil {
				return
			}
		}
		if n == 1 && restartFirst {
			c.Close(websocket.StatusGoingAway, "restart")
			return
		}
		for {
			var m message
			if err := wsjson.Read(ctx, c, &m); err != nil {
				return
			}
		}
	}))
	return srv, &conns
}

func change(typ string, record map[string]any) message {
	return message{
		Topic: "realtime:public:contacts",
		Event: eventChanges,
		Payload: map[string]any{
			"ids": []any{1},
			"data": map[string]any{
				"type":   typ,
				"table":  "contacts",
				"schema": "public",
				"record": record,
			},
		},
	}
}

func collect(t *testing.T, rt *Realtime, want int) []domain.ChangeEvent {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	events := make(chan domain.ChangeEvent, 16)
	done := make(chan struct{})
	go func() {
		rt.Run(ctx, func(ev domain.ChangeEvent) { events <- ev })
		close(done)
	}()

	var got []domain.ChangeEvent
	for len(got) < want {
		select {
		case ev := <-events:
			got = append(got, ev)
		case <-ctx.Done():
			t.Fatalf("received %d events, want %d", len(got), want)
		}
	}
	cancel()
	<-done
	return got
}

func TestRealtime_EmitsChanges(t *testing.T) {
	srv, _ := phoenixServer(t, false, func(int) []message {
		return []message{
			{Topic: "phoenix", Event: "presence_state", Payload: map[string]any{}},
			change("INSERT", map[string]any{"id": "c1", "email": "a@example.com"}),
			change("UPDATE", map[string]any{"id": "c1", "email": "b@example.com"}),
		}
	})
	defer srv.Close()

	rt := NewRealtime(srv.URL, "k", "contacts", WithRealtimeLogger(quiet()))
	got := collect(t, rt, 2)

	if got[0].Type != domain.ChangeInsert || got[0].TargetID() != "c1" {
		t.Errorf("first event = %+v", got[0])
	}
	if got[1].Type != domain.ChangeUpdate || got[1].Record["email"] != "b@example.com" {
		t.Errorf("second event = %+v", got[1])
	}
	if got[0].Table != "contacts" {
		t.Errorf("table = %q", got[0].Table)
	}
}

func TestRealtime_Reconnects(t *testing.T) {
	srv, conns := phoenixServer(t, true, func(n int) []message {
		return []message{change("INSERT", map[string]any{"id": "c" + string(rune('0'+n))})}
	})
	defer srv.Close()

	rt := NewRealtime(srv.URL, "k", "contacts",
		WithRealtimeLogger(quiet()),
		WithReconnectBackoff(5*time.Millisecond, 20*time.Millisecond))
	got := collect(t, rt, 2)

	if got[0].TargetID() != "c1" || got[1].TargetID() != "c2" {
		t.Errorf("ids = %s, %s", got[0].TargetID(), got[1].TargetID())
	}
	if conns.Load() < 2 {
		t.Errorf("connections = %d, want reconnect", conns.Load())
	}
}

func TestRealtime_Heartbeat(t *testing.T) {
	beats := make(chan message, 4)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		c, err := websocket.Accept(w, r, nil)
		if err != nil {
			return
		}
		defer c.CloseNow()
		for {
			var m message
			if err := wsjson.Read(r.Context(), c, &m); err != nil {
				return
			}
			if m.Event == eventHeartbeat {
				beats <- m
			}
		}
	}))
	defer srv.Close()

	rt := NewRealtime(srv.URL, "k", "contacts",
		WithRealtimeLogger(quiet()),
		WithHeartbeat(10*time.Millisecond))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go rt.Run(ctx, func(domain.ChangeEvent) {})

	select {
	case m := <-beats:
		if m.Topic != "phoenix" || m.Ref == "" {
			t.Errorf("heartbeat = %+v", m)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("no heartbeat received")
	}
}

func TestParseChange_Legacy(t *testing.T) {
	ev, ok := parseChange("contacts", message{
		Event: "DELETE",
		Payload: map[string]any{
			"type":       "DELETE",
			"old_record": map[string]any{"id": "c9"},
		},
	})
	if !ok {
		t.Fatal("parseChange() ok = false")
	}
	if ev.Type != domain.ChangeDelete || ev.TargetID() != "c9" {
		t.Errorf("event = %+v", ev)
	}

	if _, ok := parseChange("contacts", message{Event: eventReply}); ok {
		t.Error("reply frame parsed as change")
	}
}

func TestWebsocketURL(t *testing.T) {
	got := websocketURL("https://proj.supabase.co/", "abc")
	want := "wss://proj.supabase.co/realtime/v1/websocket?apikey=abc&vsn=1.0.0"
	if got != want {
		t.Errorf("websocketURL() = %q, want %q", got, want)
	}
}
