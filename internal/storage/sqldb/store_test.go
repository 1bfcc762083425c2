package sqldb

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/tjfontaine/enterprise-crm-gateway/internal/domain"
	"github.com/tjfontaine/enterprise-crm-gateway/internal/storage"
)

func newTestStore(t *testing.T, name string) *Store {
	t.Helper()
	store, err := NewSQLite("file:" + name + "?mode=memory&cache=shared")
	if err != nil {
		t.Fatalf("NewSQLite() error = %v", err)
	}
	t.Cleanup(func() { store.Close() })
	return store
}

func TestSQLDBStore_SaveContactUpsertsByEmail(t *testing.T) {
	store := newTestStore(t, "memdb1")
	ctx := context.Background()

	first := &domain.Contact{
		ID:        "c-1",
		Email:     "Ada@Example.com",
		FirstName: "Ada",
		Tags:      []string{"webinar"},
		Status:    domain.ContactPending,
	}
	if err := store.SaveContact(ctx, first); err != nil {
		t.Fatalf("SaveContact() error = %v", err)
	}

	// Same email, different id: the stored id must survive.
	second := &domain.Contact{
		ID:           "c-2",
		Email:        "ada@example.com",
		FirstName:    "Ada",
		LastName:     "Lovelace",
		Tags:         []string{"webinar", "pricing"},
		CustomFields: map[string]string{"plan": "pro"},
		Status:       domain.ContactActive,
	}
	if err := store.SaveContact(ctx, second); err != nil {
		t.Fatalf("SaveContact() error = %v", err)
	}

	got, err := store.GetContactByEmail(ctx, "ADA@example.com")
	if err != nil {
		t.Fatalf("GetContactByEmail() error = %v", err)
	}
	if got.ID != "c-1" {
		t.Errorf("ID = %v, want c-1", got.ID)
	}
	if second.ID != "c-1" {
		t.Errorf("caller ID = %v, want stored c-1", second.ID)
	}
	if !second.CreatedAt.Equal(got.CreatedAt) {
		t.Errorf("caller CreatedAt = %v, want stored %v", second.CreatedAt, got.CreatedAt)
	}
	if got.LastName != "Lovelace" {
		t.Errorf("LastName = %v, want Lovelace", got.LastName)
	}
	if len(got.Tags) != 2 {
		t.Errorf("Tags = %v, want 2 tags", got.Tags)
	}
	if got.CustomFields["plan"] != "pro" {
		t.Errorf("CustomFields = %v", got.CustomFields)
	}

	all, err := store.ListContacts(ctx, storage.ListOptions{})
	if err != nil {
		t.Fatalf("ListContacts() error = %v", err)
	}
	if len(all) != 1 {
		t.Errorf("ListContacts() len = %d, want 1", len(all))
	}
}

func TestSQLDBStore_GetContactNotFound(t *testing.T) {
	store := newTestStore(t, "memdb2")

	_, err := store.GetContactByEmail(context.Background(), "nobody@example.com")
	if !errors.Is(err, domain.ErrRecordNotFound) {
		t.Errorf("GetContactByEmail() error = %v, want ErrRecordNotFound", err)
	}
}

func TestSQLDBStore_ListContactsNewestFirst(t *testing.T) {
	store := newTestStore(t, "memdb3")
	ctx := context.Background()

	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	for i, email := range []string{"a@example.com", "b@example.com", "c@example.com"} {
		c := &domain.Contact{
			ID:        email,
			Email:     email,
			FirstName: "x",
			Status:    domain.ContactPending,
			CreatedAt: base.Add(time.Duration(i) * time.Hour),
		}
		if err := store.SaveContact(ctx, c); err != nil {
			t.Fatalf("SaveContact() error = %v", err)
		}
	}

	got, err := store.ListContacts(ctx, storage.ListOptions{Limit: 2})
	if err != nil {
		t.Fatalf("ListContacts() error = %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("len = %d, want 2", len(got))
	}
	if got[0].Email != "c@example.com" || got[1].Email != "b@example.com" {
		t.Errorf("order = %v, %v", got[0].Email, got[1].Email)
	}
}

func TestSQLDBStore_Funnels(t *testing.T) {
	store := newTestStore(t, "memdb4")
	ctx := context.Background()

	f := &domain.Funnel{
		ID:     "f-1",
		Name:   "Onboarding",
		Status: domain.FunnelActive,
		Steps: []domain.FunnelStep{
			{ID: "s1", Type: domain.StepEmail, Order: 1, Config: map[string]any{"template_id": "t-1"}},
			{ID: "s2", Type: domain.StepDelay, Order: 2},
		},
	}
	if err := store.SaveFunnel(ctx, f); err != nil {
		t.Fatalf("SaveFunnel() error = %v", err)
	}

	got, err := store.GetFunnel(ctx, "f-1")
	if err != nil {
		t.Fatalf("GetFunnel() error = %v", err)
	}
	if len(got.Steps) != 2 || got.Steps[0].Type != domain.StepEmail {
		t.Errorf("Steps = %+v", got.Steps)
	}
	if got.Steps[0].Config["template_id"] != "t-1" {
		t.Errorf("step config = %v", got.Steps[0].Config)
	}

	if _, err := store.GetFunnel(ctx, "missing"); !errors.Is(err, domain.ErrRecordNotFound) {
		t.Errorf("GetFunnel(missing) error = %v", err)
	}
}

func TestSQLDBStore_TemplatesByCategory(t *testing.T) {
	store := newTestStore(t, "memdb5")
	ctx := context.Background()

	for _, tpl := range []*domain.Template{
		{ID: "t1", Name: "Welcome", Subject: "Hi", Category: "onboarding"},
		{ID: "t2", Name: "Promo", Subject: "Sale", Category: "marketing"},
		{ID: "t3", Name: "Nudge", Subject: "Still there?", Category: "onboarding"},
	} {
		if err := store.SaveTemplate(ctx, tpl); err != nil {
			t.Fatalf("SaveTemplate() error = %v", err)
		}
	}

	tests := []struct {
		category string
		want     int
	}{
		{"", 3},
		{"onboarding", 2},
		{"marketing", 1},
		{"none", 0},
	}
	for _, tt := range tests {
		t.Run(tt.category, func(t *testing.T) {
			got, err := store.ListTemplates(ctx, tt.category)
			if err != nil {
				t.Fatalf("ListTemplates() error = %v", err)
			}
			if len(got) != tt.want {
				t.Errorf("len = %d, want %d", len(got), tt.want)
			}
		})
	}
}

func TestSQLDBStore_APIKeysAndBots(t *testing.T) {
	store := newTestStore(t, "memdb6")
	ctx := context.Background()

	if err := store.SaveAPIKey(ctx, &domain.APIKey{KeyHash: "abc", Label: "site", Active: true}); err != nil {
		t.Fatalf("SaveAPIKey() error = %v", err)
	}
	k, err := store.GetAPIKey(ctx, "abc")
	if err != nil {
		t.Fatalf("GetAPIKey() error = %v", err)
	}
	if !k.Active || k.Label != "site" {
		t.Errorf("key = %+v", k)
	}

	if err := store.SaveBot(ctx, &domain.Bot{ID: "b-1", Name: "Support Bot", Price: 19.99}); err != nil {
		t.Fatalf("SaveBot() error = %v", err)
	}
	b, err := store.GetBot(ctx, "b-1")
	if err != nil {
		t.Fatalf("GetBot() error = %v", err)
	}
	if b.UnitAmount() != 1999 {
		t.Errorf("UnitAmount() = %d, want 1999", b.UnitAmount())
	}
}

func TestSQLDBStore_Analytics(t *testing.T) {
	store := newTestStore(t, "memdb7")
	ctx := context.Background()

	now := time.Now().UTC()
	contacts := []*domain.Contact{
		{ID: "1", Email: "old@example.com", FirstName: "o", Status: domain.ContactActive, CreatedAt: now.AddDate(0, 0, -60)},
		{ID: "2", Email: "new@example.com", FirstName: "n", Status: domain.ContactPending, CreatedAt: now.AddDate(0, 0, -1)},
		{ID: "3", Email: "new2@example.com", FirstName: "n", Status: domain.ContactPending, CreatedAt: now},
	}
	for _, c := range contacts {
		if err := store.SaveContact(ctx, c); err != nil {
			t.Fatalf("SaveContact() error = %v", err)
		}
	}
	store.SaveFunnel(ctx, &domain.Funnel{ID: "f1", Name: "a", Status: domain.FunnelActive})
	store.SaveFunnel(ctx, &domain.Funnel{ID: "f2", Name: "b", Status: "draft"})
	store.SaveCampaign(ctx, &domain.Campaign{ID: "c1", Name: "spring", Status: "active"})

	a, err := store.Analytics(ctx, now.AddDate(0, 0, -30))
	if err != nil {
		t.Fatalf("Analytics() error = %v", err)
	}
	if a.TotalContacts != 3 {
		t.Errorf("TotalContacts = %d, want 3", a.TotalContacts)
	}
	if a.LeadsLast30Days != 2 {
		t.Errorf("LeadsLast30Days = %d, want 2", a.LeadsLast30Days)
	}
	if a.ContactsByStatus["pending"] != 2 || a.ContactsByStatus["active"] != 1 {
		t.Errorf("ContactsByStatus = %v", a.ContactsByStatus)
	}
	if a.TotalFunnels != 2 || a.ActiveFunnels != 1 {
		t.Errorf("funnels = %d/%d, want 1/2", a.ActiveFunnels, a.TotalFunnels)
	}
	if a.ActiveCampaigns != 1 {
		t.Errorf("ActiveCampaigns = %d, want 1", a.ActiveCampaigns)
	}
}

func TestSQLDBStore_FileBacked(t *testing.T) {
	path := filepath.Join(t.TempDir(), "crm.db")

	store, err := NewSQLite(path)
	if err != nil {
		t.Fatalf("NewSQLite() error = %v", err)
	}
	if err := store.SaveBot(context.Background(), &domain.Bot{ID: "b", Name: "b", Price: 1}); err != nil {
		t.Fatalf("SaveBot() error = %v", err)
	}
	store.Close()

	reopened, err := NewSQLite(path)
	if err != nil {
		t.Fatalf("NewSQLite() reopen error = %v", err)
	}
	defer reopened.Close()
	if _, err := reopened.GetBot(context.Background(), "b"); err != nil {
		t.Errorf("GetBot() after reopen error = %v", err)
	}
}

func TestNew_UnsupportedDriver(t *testing.T) {
	if _, err := New(Config{Driver: "oracle", DSN: "x"}); err == nil {
		t.Error("New() expected error for unsupported driver")
	}
}
