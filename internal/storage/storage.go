// Package storage defines the persistence interfaces for CRM records.
package storage

import (
	"context"
	"time"

	"github.com/tjfontaine/enterprise-crm-gateway/internal/domain"
)

// ListOptions bounds list queries.
type ListOptions struct {
	Limit  int
	Offset int
}

// ContactStore persists contacts keyed by email.
type ContactStore interface {
	// SaveContact inserts the contact or, when a contact with the same email
	// exists, overwrites its mutable fields. The stored ID is never changed.
	SaveContact(ctx context.Context, c *domain.Contact) error
	GetContactByEmail(ctx context.Context, email string) (*domain.Contact, error)
	// ListContacts returns contacts newest first.
	ListContacts(ctx context.Context, opts ListOptions) ([]*domain.Contact, error)
}

// FunnelStore persists funnels together with their steps.
type FunnelStore interface {
	SaveFunnel(ctx context.Context, f *domain.Funnel) error
	GetFunnel(ctx context.Context, id string) (*domain.Funnel, error)
	ListFunnels(ctx context.Context) ([]*domain.Funnel, error)
}

// CampaignStore persists campaigns.
type CampaignStore interface {
	SaveCampaign(ctx context.Context, c *domain.Campaign) error
	ListCampaigns(ctx context.Context) ([]*domain.Campaign, error)
}

// TemplateStore persists email templates.
type TemplateStore interface {
	SaveTemplate(ctx context.Context, t *domain.Template) error
	// ListTemplates returns all templates, or only those in category when it
	// is non-empty.
	ListTemplates(ctx context.Context, category string) ([]*domain.Template, error)
}

// KeyStore persists hashed API keys.
type KeyStore interface {
	SaveAPIKey(ctx context.Context, k *domain.APIKey) error
	GetAPIKey(ctx context.Context, keyHash string) (*domain.APIKey, error)
}

// BotStore persists checkout products.
type BotStore interface {
	SaveBot(ctx context.Context, b *domain.Bot) error
	GetBot(ctx context.Context, id string) (*domain.Bot, error)
}

// AnalyticsStore computes aggregate counts.
type AnalyticsStore interface {
	// Analytics counts records; LeadsLast30Days counts contacts created at or
	// after since.
	Analytics(ctx context.Context, since time.Time) (*domain.Analytics, error)
}

// Store is the full persistence surface used by the gateway.
type Store interface {
	ContactStore
	FunnelStore
	CampaignStore
	TemplateStore
	KeyStore
	BotStore
	AnalyticsStore
	Close() error
}
