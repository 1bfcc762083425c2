package checkout

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync"
	"testing"

	"github.com/tjfontaine/enterprise-crm-gateway/internal/domain"
	"github.com/tjfontaine/enterprise-crm-gateway/internal/storage/memory"
)

// fakeStripe records the form-encoded session parameters it receives.
type fakeStripe struct {
	mu     sync.Mutex
	forms  []url.Values
	paths  []string
	status int
	body   string
}

func (f *fakeStripe) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	r.ParseForm()
	f.mu.Lock()
	f.forms = append(f.forms, r.PostForm)
	f.paths = append(f.paths, r.URL.Path)
	f.mu.Unlock()

	w.Header().Set("Content-Type", "application/json")
	if f.status != 0 {
		w.WriteHeader(f.status)
	}
	io.WriteString(w, f.body)
}

func newTestService(t *testing.T, fake *fakeStripe) (*Service, *memory.Store) {
	t.Helper()
	srv := httptest.NewServer(fake)
	t.Cleanup(srv.Close)

	store := memory.New()
	store.SaveBot(context.Background(), &domain.Bot{ID: "bot-1", Name: "Sales Bot", Description: "Qualifies leads", Price: 10})
	store.SaveBot(context.Background(), &domain.Bot{ID: "bot-2", Name: "Tiny Bot", Price: 19.99})

	svc := NewService(store, Config{
		SecretKey:  "sk_test_123",
		BaseURL:    srv.URL,
		Currency:   "usd",
		SuccessURL: "https://crm.example.com/success",
		CancelURL:  "https://crm.example.com/cancel",
		HTTPClient: srv.Client(),
		Logger:     slog.New(slog.NewTextHandler(io.Discard, nil)),
	})
	return svc, store
}

const sessionJSON = `{"id":"cs_test_123","object":"checkout.session","url":"https://checkout.stripe.com/c/pay/cs_test_123"}`

func TestService_CreateSession(t *testing.T) {
	fake := &fakeStripe{body: sessionJSON}
	svc, _ := newTestService(t, fake)

	sess, err := svc.CreateSession(context.Background(), &Request{BotID: "bot-1", UserID: "user-9"})
	if err != nil {
		t.Fatalf("CreateSession() error = %v", err)
	}
	if sess.ID != "cs_test_123" {
		t.Errorf("ID = %q, want cs_test_123", sess.ID)
	}

	if len(fake.forms) != 1 {
		t.Fatalf("stripe calls = %d, want 1", len(fake.forms))
	}
	if fake.paths[0] != "/v1/checkout/sessions" {
		t.Errorf("path = %q", fake.paths[0])
	}

	form := fake.forms[0]
	want := map[string]string{
		"mode":                                                 "payment",
		"line_items[0][price_data][unit_amount]":               "1000",
		"line_items[0][price_data][currency]":                  "usd",
		"line_items[0][price_data][product_data][name]":        "Sales Bot",
		"line_items[0][price_data][product_data][description]": "Qualifies leads",
		"line_items[0][quantity]":                              "1",
		"client_reference_id":                                  "user-9",
		"metadata[bot_id]":                                     "bot-1",
		"metadata[user_id]":                                    "user-9",
		"success_url":                                          "https://crm.example.com/success",
		"cancel_url":                                           "https://crm.example.com/cancel",
	}
	for k, v := range want {
		if got := form.Get(k); got != v {
			t.Errorf("%s = %q, want %q", k, got, v)
		}
	}
}

func TestService_UnitAmountRounding(t *testing.T) {
	fake := &fakeStripe{body: sessionJSON}
	svc, _ := newTestService(t, fake)

	if _, err := svc.CreateSession(context.Background(), &Request{BotID: "bot-2", UserID: "u"}); err != nil {
		t.Fatalf("CreateSession() error = %v", err)
	}
	if got := fake.forms[0].Get("line_items[0][price_data][unit_amount]"); got != "1999" {
		t.Errorf("unit_amount = %q, want 1999", got)
	}
}

func TestHandler(t *testing.T) {
	tests := []struct {
		name       string
		body       string
		stripe     *fakeStripe
		wantStatus int
		wantKey    string
	}{
		{"ok", `{"bot_id":"bot-1","user_id":"u1"}`, &fakeStripe{body: sessionJSON}, http.StatusOK, "id"},
		{"missing bot_id", `{"user_id":"u1"}`, &fakeStripe{body: sessionJSON}, http.StatusBadRequest, "error"},
		{"missing user_id", `{"bot_id":"bot-1"}`, &fakeStripe{body: sessionJSON}, http.StatusBadRequest, "error"},
		{"unknown bot", `{"bot_id":"nope","user_id":"u1"}`, &fakeStripe{body: sessionJSON}, http.StatusNotFound, "error"},
		{"malformed", `{"bot_id":`, &fakeStripe{body: sessionJSON}, http.StatusBadRequest, "error"},
		{
			"stripe failure",
			`{"bot_id":"bot-1","user_id":"u1"}`,
			&fakeStripe{status: http.StatusBadRequest, body: `{"error":{"message":"Invalid currency","type":"invalid_request_error"}}`},
			http.StatusInternalServerError,
			"error",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc, _ := newTestService(t, tt.stripe)
			h := NewHandler(svc)

			req := httptest.NewRequest(http.MethodPost, "/api/checkout", strings.NewReader(tt.body))
			rec := httptest.NewRecorder()
			h.ServeHTTP(rec, req)

			if rec.Code != tt.wantStatus {
				t.Errorf("status = %d, want %d", rec.Code, tt.wantStatus)
			}
			var body map[string]string
			json.NewDecoder(rec.Body).Decode(&body)
			if body[tt.wantKey] == "" {
				t.Errorf("body = %v, want %q", body, tt.wantKey)
			}
			if tt.wantStatus == http.StatusBadRequest && len(tt.stripe.forms) != 0 {
				t.Errorf("stripe called %d times for invalid request", len(tt.stripe.forms))
			}
		})
	}
}

type brokenBots struct{}

func (brokenBots) SaveBot(ctx context.Context, b *domain.Bot) error { return nil }
func (brokenBots) GetBot(ctx context.Context, id string) (*domain.Bot, error) {
	return nil, errors.New("dial tcp 10.0.0.5:5432: connect: connection refused")
}

func TestHandler_StorageFailureIsGeneric(t *testing.T) {
	svc := NewService(brokenBots{}, Config{
		SecretKey: "sk_test_123",
		Logger:    slog.New(slog.NewTextHandler(io.Discard, nil)),
	})

	req := httptest.NewRequest(http.MethodPost, "/api/checkout", strings.NewReader(`{"bot_id":"bot-1","user_id":"u1"}`))
	rec := httptest.NewRecorder()
	NewHandler(svc).ServeHTTP(rec, req)

	if rec.Code != http.StatusInternalServerError {
		t.Fatalf("status = %d, want 500", rec.Code)
	}
	raw := rec.Body.String()
	if strings.Contains(raw, "10.0.0.5") {
		t.Errorf("driver detail leaked: %s", raw)
	}
	var body map[string]string
	json.Unmarshal([]byte(raw), &body)
	if body["error"] != domain.InternalMessage {
		t.Errorf("error = %q, want %q", body["error"], domain.InternalMessage)
	}
}
