// Package leads implements the CMS lead-ingestion API: contact upsert,
// funnel triggers, templates and analytics.
package leads

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/tjfontaine/enterprise-crm-gateway/internal/domain"
	"github.com/tjfontaine/enterprise-crm-gateway/internal/mailrelay"
	"github.com/tjfontaine/enterprise-crm-gateway/internal/pkg/validate"
	"github.com/tjfontaine/enterprise-crm-gateway/internal/storage"
	"github.com/tjfontaine/enterprise-crm-gateway/internal/webhook"
)

// LeadInput is a form submission.
type LeadInput struct {
	Email        string            `json:"email" validate:"required,email"`
	FirstName    string            `json:"first_name" validate:"required"`
	LastName     string            `json:"last_name,omitempty"`
	Phone        string            `json:"phone,omitempty"`
	Company      string            `json:"company,omitempty"`
	Source       string            `json:"source,omitempty"`
	Tags         []string          `json:"tags,omitempty"`
	CustomFields map[string]string `json:"custom_fields,omitempty"`
}

// TriggerInput names the contact a funnel is started for.
type TriggerInput struct {
	Email string `json:"email" validate:"required,email"`
}

// Action describes what SubmitLead did.
type Action string

const (
	ActionCreated Action = "created"
	ActionUpdated Action = "updated"
)

// LeadResult is the outcome of SubmitLead.
type LeadResult struct {
	Contact *domain.Contact
	Action  Action
}

// SubscriberSyncer pushes contacts to the mailing list provider.
type SubscriberSyncer interface {
	SyncSubscriber(ctx context.Context, sub *mailrelay.Subscriber) error
}

// Store is the persistence the service needs.
type Store interface {
	storage.ContactStore
	storage.FunnelStore
	storage.TemplateStore
	storage.AnalyticsStore
}

// Service holds the lead-ingestion operations.
type Service struct {
	store     Store
	publisher webhook.Publisher
	syncer    SubscriberSyncer
	groupID   int
	logger    *slog.Logger
	now       func() time.Time

	// syncing holds emails with a push in flight; true marks a newer
	// submission waiting behind it.
	syncMu  sync.Mutex
	syncing map[string]bool
	wg      sync.WaitGroup
}

const syncTimeout = 15 * time.Second

// Option configures a Service.
type Option func(*Service)

// WithPublisher sets the webhook publisher for lead and funnel events.
func WithPublisher(p webhook.Publisher) Option {
	return func(s *Service) { s.publisher = p }
}

// WithSubscriberSync syncs every submitted lead into groupID.
func WithSubscriberSync(syncer SubscriberSyncer, groupID int) Option {
	return func(s *Service) {
		s.syncer = syncer
		s.groupID = groupID
	}
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Service) { s.logger = l }
}

// NewService creates a service over store.
func NewService(store Store, opts ...Option) *Service {
	s := &Service{
		store:  store,
		logger:  slog.Default(),
		now:     time.Now,
		syncing: make(map[string]bool),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// SubmitLead validates in and upserts the contact keyed by email. Invalid
// input is rejected before anything is stored. New contacts start pending;
// existing contacts keep their status and have the submission merged in.
func (s *Service) SubmitLead(ctx context.Context, in *LeadInput) (*LeadResult, error) {
	in.Email = domain.NormalizeEmail(in.Email)
	in.FirstName = strings.TrimSpace(in.FirstName)
	if err := validate.Struct(in); err != nil {
		return nil, err
	}

	incoming := &domain.Contact{
		Email:        in.Email,
		FirstName:    in.FirstName,
		LastName:     strings.TrimSpace(in.LastName),
		Phone:        strings.TrimSpace(in.Phone),
		Company:      strings.TrimSpace(in.Company),
		Source:       in.Source,
		Tags:         in.Tags,
		CustomFields: in.CustomFields,
	}

	existing, err := s.store.GetContactByEmail(ctx, in.Email)
	switch {
	case err == nil:
		existing.Merge(incoming)
		if err := s.store.SaveContact(ctx, existing); err != nil {
			return nil, fmt.Errorf("update contact: %w", err)
		}
		return s.finishLead(ctx, existing, ActionUpdated), nil

	case errors.Is(err, domain.ErrRecordNotFound):
		id := uuid.NewString()
		incoming.ID = id
		incoming.Status = domain.ContactPending
		incoming.CreatedAt = s.now().UTC()
		if err := s.store.SaveContact(ctx, incoming); err != nil {
			return nil, fmt.Errorf("create contact: %w", err)
		}
		// a concurrent submission created the row first
		action := ActionCreated
		if incoming.ID != id {
			action = ActionUpdated
		}
		return s.finishLead(ctx, incoming, action), nil

	default:
		return nil, fmt.Errorf("lookup contact: %w", err)
	}
}

func (s *Service) finishLead(ctx context.Context, c *domain.Contact, action Action) *LeadResult {
	event := webhook.EventLeadCreated
	if action == ActionUpdated {
		event = webhook.EventLeadUpdated
	}
	if s.publisher != nil {
		s.publisher.Publish(ctx, event, c)
	}
	s.syncSubscriber(c)
	return &LeadResult{Contact: c, Action: action}
}

// syncSubscriber queues c's email for a background push to the mailing
// list. Each email has at most one push in flight; submissions that arrive
// meanwhile collapse into one follow-up push of the stored contact, so the
// provider always ends on the newest data. Failures are logged only.
func (s *Service) syncSubscriber(c *domain.Contact) {
	if s.syncer == nil {
		return
	}

	s.syncMu.Lock()
	defer s.syncMu.Unlock()
	if _, running := s.syncing[c.Email]; running {
		s.syncing[c.Email] = true
		return
	}
	s.syncing[c.Email] = false
	s.wg.Add(1)
	go s.drainSync(c.Email)
}

func (s *Service) drainSync(email string) {
	defer s.wg.Done()
	for {
		s.pushSubscriber(email)

		s.syncMu.Lock()
		if !s.syncing[email] {
			delete(s.syncing, email)
			s.syncMu.Unlock()
			return
		}
		s.syncing[email] = false
		s.syncMu.Unlock()
	}
}

func (s *Service) pushSubscriber(email string) {
	ctx, cancel := context.WithTimeout(context.Background(), syncTimeout)
	defer cancel()

	c, err := s.store.GetContactByEmail(ctx, email)
	if err != nil {
		s.logger.Warn("subscriber sync skipped",
			slog.String("email", email),
			slog.String("error", err.Error()))
		return
	}

	sub := &mailrelay.Subscriber{
		Email:        c.Email,
		Name:         strings.TrimSpace(c.FirstName + " " + c.LastName),
		CustomFields: c.CustomFields,
	}
	if s.groupID > 0 {
		sub.GroupIDs = []int{s.groupID}
	}
	if err := s.syncer.SyncSubscriber(ctx, sub); err != nil {
		s.logger.Warn("subscriber sync failed",
			slog.String("email", email),
			slog.String("error", err.Error()))
	}
}

// TriggerFunnel starts funnel id for the contact with in.Email. The funnel
// must exist and be active, and the contact must exist.
func (s *Service) TriggerFunnel(ctx context.Context, funnelID string, in *TriggerInput) (*domain.Funnel, *domain.Contact, error) {
	in.Email = domain.NormalizeEmail(in.Email)
	if err := validate.Struct(in); err != nil {
		return nil, nil, err
	}

	funnel, err := s.store.GetFunnel(ctx, funnelID)
	if err != nil {
		if errors.Is(err, domain.ErrRecordNotFound) {
			return nil, nil, domain.ErrNotFound(fmt.Sprintf("funnel %s not found", funnelID))
		}
		return nil, nil, fmt.Errorf("lookup funnel: %w", err)
	}
	if funnel.Status != domain.FunnelActive {
		return nil, nil, domain.ErrConflict(fmt.Sprintf("funnel %s is not active", funnelID)).
			WithCode(domain.ErrorCodeFunnelInactive)
	}

	contact, err := s.store.GetContactByEmail(ctx, in.Email)
	if err != nil {
		if errors.Is(err, domain.ErrRecordNotFound) {
			return nil, nil, domain.ErrNotFound("contact not found").WithParam("email")
		}
		return nil, nil, fmt.Errorf("lookup contact: %w", err)
	}

	if s.publisher != nil {
		s.publisher.Publish(ctx, webhook.EventFunnelTriggered, map[string]any{
			"funnel":  funnel,
			"contact": contact,
		})
	}
	return funnel, contact, nil
}

// Templates lists templates, optionally filtered by category.
func (s *Service) Templates(ctx context.Context, category string) ([]*domain.Template, error) {
	return s.store.ListTemplates(ctx, category)
}

// Analytics summarises the store, counting leads from the last 30 days.
func (s *Service) Analytics(ctx context.Context) (*domain.Analytics, error) {
	return s.store.Analytics(ctx, s.now().AddDate(0, 0, -30))
}

// Close waits for background subscriber syncs, or until ctx is done.
func (s *Service) Close(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
