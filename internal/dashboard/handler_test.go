package dashboard

import (
	"bufio"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/tjfontaine/enterprise-crm-gateway/internal/domain"
	"github.com/tjfontaine/enterprise-crm-gateway/internal/server"
)

func newTestRouter(svc *Service) http.Handler {
	r := chi.NewRouter()
	server.Register(r, quiet(), NewHandler(svc, quiet()).Routes())
	return r
}

func TestHandler_SnapshotAndRefresh(t *testing.T) {
	contacts, cms := newFakes()
	svc := NewService(contacts, cms, WithLogger(quiet()))
	h := newTestRouter(svc)

	w := httptest.NewRecorder()
	h.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/dashboard", nil))
	var snap Snapshot
	if err := json.NewDecoder(w.Body).Decode(&snap); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if snap.Status != StatusLoading {
		t.Errorf("status before refresh = %s, want loading", snap.Status)
	}

	w = httptest.NewRecorder()
	h.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/api/dashboard/refresh", nil))
	if w.Code != http.StatusOK {
		t.Fatalf("refresh status = %d", w.Code)
	}
	snap = Snapshot{}
	json.NewDecoder(w.Body).Decode(&snap)
	if snap.Status != StatusOK || len(snap.Funnels) != 2 {
		t.Errorf("refreshed snapshot = %+v", snap)
	}
}

func TestHandler_Events(t *testing.T) {
	contacts, cms := newFakes()
	svc := NewService(contacts, cms, WithLogger(quiet()))
	svc.Refresh(context.Background())

	srv := httptest.NewServer(newTestRouter(svc))
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	req, _ := http.NewRequestWithContext(ctx, http.MethodGet, srv.URL+"/api/dashboard/events", nil)
	req.Header.Set("Accept", "text/event-stream")
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("request: %v", err)
	}
	defer resp.Body.Close()

	if ct := resp.Header.Get("Content-Type"); ct != "text/event-stream" {
		t.Fatalf("Content-Type = %q", ct)
	}

	frames := make(chan Snapshot, 4)
	go func() {
		sc := bufio.NewScanner(resp.Body)
		sc.Buffer(make([]byte, 64*1024), 1<<20)
		for sc.Scan() {
			line := sc.Text()
			if data, ok := strings.CutPrefix(line, "data: "); ok {
				var s Snapshot
				if json.Unmarshal([]byte(data), &s) == nil {
					frames <- s
				}
			}
		}
	}()

	first := <-frames
	if len(first.Contacts) != 2 {
		t.Fatalf("initial frame contacts = %d", len(first.Contacts))
	}

	// The subscription is registered before the initial frame is written.
	svc.ApplyEvent(domain.ChangeEvent{Type: domain.ChangeInsert, Record: rec("c9")})

	select {
	case next := <-frames:
		if next.Contacts[0].ID() != "c9" {
			t.Errorf("pushed contacts = %v", ids(next.Contacts))
		}
	case <-ctx.Done():
		t.Fatal("no pushed frame")
	}
}
