package memory

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/tjfontaine/enterprise-crm-gateway/internal/domain"
	"github.com/tjfontaine/enterprise-crm-gateway/internal/storage"
)

func TestMemoryStore_SaveContactIsIdempotentByEmail(t *testing.T) {
	store := New()
	ctx := context.Background()

	c := &domain.Contact{ID: "c-1", Email: "Lead@Example.com", FirstName: "Lee", Status: domain.ContactPending}
	if err := store.SaveContact(ctx, c); err != nil {
		t.Fatalf("SaveContact() error = %v", err)
	}
	again := &domain.Contact{ID: "c-2", Email: "lead@example.com", FirstName: "Lee", Status: domain.ContactPending}
	if err := store.SaveContact(ctx, again); err != nil {
		t.Fatalf("SaveContact() error = %v", err)
	}

	if again.ID != "c-1" {
		t.Errorf("ID = %v, want c-1", again.ID)
	}
	list, _ := store.ListContacts(ctx, storage.ListOptions{})
	if len(list) != 1 {
		t.Errorf("ListContacts() len = %d, want 1", len(list))
	}
}

func TestMemoryStore_ReturnsCopies(t *testing.T) {
	store := New()
	ctx := context.Background()

	store.SaveContact(ctx, &domain.Contact{ID: "1", Email: "a@example.com", Tags: []string{"x"}})
	got, _ := store.GetContactByEmail(ctx, "a@example.com")
	got.Tags[0] = "mutated"

	again, _ := store.GetContactByEmail(ctx, "a@example.com")
	if again.Tags[0] != "x" {
		t.Errorf("Tags[0] = %v, want x", again.Tags[0])
	}
}

func TestMemoryStore_NotFound(t *testing.T) {
	store := New()
	ctx := context.Background()

	if _, err := store.GetContactByEmail(ctx, "x@example.com"); !errors.Is(err, domain.ErrRecordNotFound) {
		t.Errorf("GetContactByEmail() error = %v", err)
	}
	if _, err := store.GetFunnel(ctx, "x"); !errors.Is(err, domain.ErrRecordNotFound) {
		t.Errorf("GetFunnel() error = %v", err)
	}
	if _, err := store.GetBot(ctx, "x"); !errors.Is(err, domain.ErrRecordNotFound) {
		t.Errorf("GetBot() error = %v", err)
	}
	if _, err := store.GetAPIKey(ctx, "x"); !errors.Is(err, domain.ErrRecordNotFound) {
		t.Errorf("GetAPIKey() error = %v", err)
	}
}

func TestMemoryStore_ListContactsPagination(t *testing.T) {
	store := New()
	ctx := context.Background()

	base := time.Now().Add(-time.Hour)
	for i, email := range []string{"a@x.io", "b@x.io", "c@x.io", "d@x.io"} {
		store.SaveContact(ctx, &domain.Contact{ID: email, Email: email, CreatedAt: base.Add(time.Duration(i) * time.Minute)})
	}

	tests := []struct {
		name  string
		opts  storage.ListOptions
		first string
		want  int
	}{
		{"all", storage.ListOptions{}, "d@x.io", 4},
		{"limit", storage.ListOptions{Limit: 2}, "d@x.io", 2},
		{"offset", storage.ListOptions{Limit: 2, Offset: 2}, "b@x.io", 2},
		{"past end", storage.ListOptions{Offset: 10}, "", 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := store.ListContacts(ctx, tt.opts)
			if err != nil {
				t.Fatalf("ListContacts() error = %v", err)
			}
			if len(got) != tt.want {
				t.Fatalf("len = %d, want %d", len(got), tt.want)
			}
			if tt.want > 0 && got[0].Email != tt.first {
				t.Errorf("first = %v, want %v", got[0].Email, tt.first)
			}
		})
	}
}

func TestMemoryStore_Analytics(t *testing.T) {
	store := New()
	ctx := context.Background()
	now := time.Now()

	store.SaveContact(ctx, &domain.Contact{ID: "1", Email: "a@x.io", Status: domain.ContactActive, CreatedAt: now.AddDate(0, -3, 0)})
	store.SaveContact(ctx, &domain.Contact{ID: "2", Email: "b@x.io", Status: domain.ContactPending})
	store.SaveFunnel(ctx, &domain.Funnel{ID: "f", Status: domain.FunnelActive})
	store.SaveCampaign(ctx, &domain.Campaign{ID: "c", Status: "paused"})

	a, err := store.Analytics(ctx, now.AddDate(0, 0, -30))
	if err != nil {
		t.Fatalf("Analytics() error = %v", err)
	}
	if a.TotalContacts != 2 || a.LeadsLast30Days != 1 {
		t.Errorf("contacts = %d, recent = %d", a.TotalContacts, a.LeadsLast30Days)
	}
	if a.ActiveFunnels != 1 || a.ActiveCampaigns != 0 {
		t.Errorf("active funnels = %d, active campaigns = %d", a.ActiveFunnels, a.ActiveCampaigns)
	}
}
