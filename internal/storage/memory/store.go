// Package memory provides an in-memory storage.Store, used in tests and for
// ephemeral deployments.
package memory

import (
	"context"
	"fmt"
	"maps"
	"slices"
	"sort"
	"sync"
	"time"

	"github.com/tjfontaine/enterprise-crm-gateway/internal/domain"
	"github.com/tjfontaine/enterprise-crm-gateway/internal/storage"
)

// Store is an in-memory implementation of storage.Store
type Store struct {
	mu        sync.RWMutex
	contacts  map[string]*domain.Contact // keyed by normalized email
	funnels   map[string]*domain.Funnel
	campaigns map[string]*domain.Campaign
	templates map[string]*domain.Template
	keys      map[string]*domain.APIKey
	bots      map[string]*domain.Bot
}

var _ storage.Store = (*Store)(nil)

// New creates a new in-memory store
func New() *Store {
	return &Store{
		contacts:  make(map[string]*domain.Contact),
		funnels:   make(map[string]*domain.Funnel),
		campaigns: make(map[string]*domain.Campaign),
		templates: make(map[string]*domain.Template),
		keys:      make(map[string]*domain.APIKey),
		bots:      make(map[string]*domain.Bot),
	}
}

func copyContact(c *domain.Contact) *domain.Contact {
	out := *c
	out.Tags = slices.Clone(c.Tags)
	out.CustomFields = maps.Clone(c.CustomFields)
	return &out
}

func (s *Store) SaveContact(ctx context.Context, c *domain.Contact) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	c.Email = domain.NormalizeEmail(c.Email)
	now := time.Now().UTC()
	c.UpdatedAt = now
	if existing, ok := s.contacts[c.Email]; ok {
		c.ID = existing.ID
		c.CreatedAt = existing.CreatedAt
	} else if c.CreatedAt.IsZero() {
		c.CreatedAt = now
	}
	if c.Tags == nil {
		c.Tags = []string{}
	}
	if c.CustomFields == nil {
		c.CustomFields = map[string]string{}
	}

	s.contacts[c.Email] = copyContact(c)
	return nil
}

func (s *Store) GetContactByEmail(ctx context.Context, email string) (*domain.Contact, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	c, ok := s.contacts[domain.NormalizeEmail(email)]
	if !ok {
		return nil, fmt.Errorf("contact %s: %w", email, domain.ErrRecordNotFound)
	}
	return copyContact(c), nil
}

func (s *Store) ListContacts(ctx context.Context, opts storage.ListOptions) ([]*domain.Contact, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]*domain.Contact, 0, len(s.contacts))
	for _, c := range s.contacts {
		result = append(result, copyContact(c))
	}
	sort.Slice(result, func(i, j int) bool {
		if !result[i].CreatedAt.Equal(result[j].CreatedAt) {
			return result[i].CreatedAt.After(result[j].CreatedAt)
		}
		return result[i].ID < result[j].ID
	})

	// Simple pagination
	start := opts.Offset
	if start >= len(result) {
		return []*domain.Contact{}, nil
	}

	end := start + opts.Limit
	if opts.Limit == 0 || end > len(result) {
		end = len(result)
	}

	return result[start:end], nil
}

func (s *Store) SaveFunnel(ctx context.Context, f *domain.Funnel) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if f.CreatedAt.IsZero() {
		f.CreatedAt = time.Now().UTC()
	}
	cp := *f
	cp.Steps = slices.Clone(f.Steps)
	s.funnels[f.ID] = &cp
	return nil
}

func (s *Store) GetFunnel(ctx context.Context, id string) (*domain.Funnel, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	f, ok := s.funnels[id]
	if !ok {
		return nil, fmt.Errorf("funnel %s: %w", id, domain.ErrRecordNotFound)
	}
	cp := *f
	cp.Steps = slices.Clone(f.Steps)
	return &cp, nil
}

func (s *Store) ListFunnels(ctx context.Context) ([]*domain.Funnel, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]*domain.Funnel, 0, len(s.funnels))
	for _, f := range s.funnels {
		cp := *f
		cp.Steps = slices.Clone(f.Steps)
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *Store) SaveCampaign(ctx context.Context, c *domain.Campaign) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if c.CreatedAt.IsZero() {
		c.CreatedAt = time.Now().UTC()
	}
	cp := *c
	s.campaigns[c.ID] = &cp
	return nil
}

func (s *Store) ListCampaigns(ctx context.Context) ([]*domain.Campaign, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]*domain.Campaign, 0, len(s.campaigns))
	for _, c := range s.campaigns {
		cp := *c
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *Store) SaveTemplate(ctx context.Context, t *domain.Template) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	cp := *t
	s.templates[t.ID] = &cp
	return nil
}

func (s *Store) ListTemplates(ctx context.Context, category string) ([]*domain.Template, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := []*domain.Template{}
	for _, t := range s.templates {
		if category != "" && t.Category != category {
			continue
		}
		cp := *t
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Name != out[j].Name {
			return out[i].Name < out[j].Name
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

func (s *Store) SaveAPIKey(ctx context.Context, k *domain.APIKey) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if k.CreatedAt.IsZero() {
		k.CreatedAt = time.Now().UTC()
	}
	cp := *k
	s.keys[k.KeyHash] = &cp
	return nil
}

func (s *Store) GetAPIKey(ctx context.Context, keyHash string) (*domain.APIKey, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	k, ok := s.keys[keyHash]
	if !ok {
		return nil, fmt.Errorf("api key: %w", domain.ErrRecordNotFound)
	}
	cp := *k
	return &cp, nil
}

func (s *Store) SaveBot(ctx context.Context, b *domain.Bot) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	cp := *b
	s.bots[b.ID] = &cp
	return nil
}

func (s *Store) GetBot(ctx context.Context, id string) (*domain.Bot, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	b, ok := s.bots[id]
	if !ok {
		return nil, fmt.Errorf("bot %s: %w", id, domain.ErrRecordNotFound)
	}
	cp := *b
	return &cp, nil
}

func (s *Store) Analytics(ctx context.Context, since time.Time) (*domain.Analytics, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	a := &domain.Analytics{ContactsByStatus: map[string]int{}}
	for _, c := range s.contacts {
		a.TotalContacts++
		a.ContactsByStatus[string(c.Status)]++
		if !c.CreatedAt.Before(since) {
			a.LeadsLast30Days++
		}
	}
	for _, f := range s.funnels {
		a.TotalFunnels++
		if f.Status == domain.FunnelActive {
			a.ActiveFunnels++
		}
	}
	for _, c := range s.campaigns {
		if c.Status == "active" {
			a.ActiveCampaigns++
		}
	}
	return a, nil
}

func (s *Store) Close() error {
	return nil
}
