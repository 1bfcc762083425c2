// Package dashboard keeps a merged snapshot of CRM data from the hosted
// database and the CMS, refreshed on a timer and kept current by a change
// feed. Subscribers are pushed every new snapshot.
package dashboard

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"

	"github.com/tjfontaine/enterprise-crm-gateway/internal/domain"
)

// Resource names the datasets in a snapshot.
type Resource string

const (
	ResourceContacts  Resource = "contacts"
	ResourceCampaigns Resource = "campaigns"
	ResourceFunnels   Resource = "funnels"
	ResourceAnalytics Resource = "analytics"
)

// resources lists every dataset a refresh fetches.
var resources = []Resource{ResourceContacts, ResourceCampaigns, ResourceFunnels, ResourceAnalytics}

// Status is the overall health shown by the UI.
type Status string

const (
	StatusLoading Status = "loading"
	StatusOK      Status = "ok"
	StatusError   Status = "error"
)

const (
	DefaultRefreshInterval = 5 * time.Minute
	DefaultListCap         = 50
	DefaultRetries         = 3
	DefaultTable           = "contacts"
)

// Snapshot is the dashboard's current view.
type Snapshot struct {
	Status    Status              `json:"status"`
	Contacts  []domain.Record     `json:"contacts"`
	Campaigns []domain.Record     `json:"campaigns"`
	Funnels   []domain.Record     `json:"funnels"`
	Analytics domain.Record       `json:"analytics"`
	Errors    map[Resource]string `json:"errors,omitempty"`
	UpdatedAt time.Time           `json:"updated_at"`
	Version   uint64              `json:"version"`
}

func emptySnapshot() Snapshot {
	return Snapshot{
		Status:    StatusLoading,
		Contacts:  []domain.Record{},
		Campaigns: []domain.Record{},
		Funnels:   []domain.Record{},
		Analytics: domain.Record{},
	}
}

// ContactSource lists the newest rows of a table.
type ContactSource interface {
	ListRecent(ctx context.Context, table string, limit int) ([]domain.Record, error)
}

// CMSSource serves campaigns, funnels and analytics.
type CMSSource interface {
	Campaigns(ctx context.Context, limit int) ([]domain.Record, error)
	Funnels(ctx context.Context, limit int) ([]domain.Record, error)
	Analytics(ctx context.Context) (domain.Record, error)
}

// Feed delivers row changes until ctx is cancelled.
type Feed interface {
	Run(ctx context.Context, emit func(domain.ChangeEvent)) error
}

// Option configures a Service.
type Option func(*Service)

func WithFeed(f Feed) Option { return func(s *Service) { s.feed = f } }

func WithTable(table string) Option { return func(s *Service) { s.table = table } }

func WithListCap(n int) Option {
	return func(s *Service) {
		if n > 0 {
			s.listCap = n
		}
	}
}

func WithRefreshInterval(d time.Duration) Option {
	return func(s *Service) {
		if d > 0 {
			s.interval = d
		}
	}
}

// WithRetries sets how many consecutive fully failed refreshes flip the
// snapshot status to error.
func WithRetries(n int) Option {
	return func(s *Service) {
		if n > 0 {
			s.retries = n
		}
	}
}

func WithLogger(l *slog.Logger) Option { return func(s *Service) { s.logger = l } }

// Service owns the snapshot.
type Service struct {
	contacts ContactSource
	cms      CMSSource
	feed     Feed
	table    string
	listCap  int
	interval time.Duration
	retries  int
	logger   *slog.Logger

	mu       sync.RWMutex
	snap     Snapshot
	failures int
	// while a refresh is fetching, applied events are also kept here and
	// replayed over the fetched contacts
	fetching bool
	missed   []domain.ChangeEvent

	group singleflight.Group

	subsMu sync.Mutex
	subs   map[chan Snapshot]struct{}

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewService creates a dashboard over the given sources. Either source may
// be nil, in which case its resources stay empty.
func NewService(contacts ContactSource, cms CMSSource, opts ...Option) *Service {
	s := &Service{
		contacts: contacts,
		cms:      cms,
		table:    DefaultTable,
		listCap:  DefaultListCap,
		interval: DefaultRefreshInterval,
		retries:  DefaultRetries,
		logger:   slog.Default(),
		snap:     emptySnapshot(),
		subs:     make(map[chan Snapshot]struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Snapshot returns the current snapshot. Callers must not modify it.
func (s *Service) Snapshot() Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.snap
}

// Refresh fetches every resource and publishes the merged snapshot.
// Concurrent calls share one fetch.
func (s *Service) Refresh(ctx context.Context) Snapshot {
	v, _, _ := s.group.Do("refresh", func() (any, error) {
		return s.refresh(context.WithoutCancel(ctx)), nil
	})
	return v.(Snapshot)
}

type fetchResult struct {
	contacts  []domain.Record
	campaigns []domain.Record
	funnels   []domain.Record
	analytics domain.Record
	errs      map[Resource]error
}

var errNoSource = errors.New("source not configured")

// fetch runs every resource in parallel. Failures never cancel siblings;
// each is recorded and the resource defaults to empty.
func (s *Service) fetch(ctx context.Context) fetchResult {
	res := fetchResult{
		contacts:  []domain.Record{},
		campaigns: []domain.Record{},
		funnels:   []domain.Record{},
		analytics: domain.Record{},
	}
	var (
		mu   sync.Mutex
		errs = make(map[Resource]error)
	)
	record := func(r Resource, err error) {
		mu.Lock()
		errs[r] = err
		mu.Unlock()
	}

	var g errgroup.Group
	g.Go(func() error {
		if s.contacts == nil {
			record(ResourceContacts, errNoSource)
			return nil
		}
		rows, err := s.contacts.ListRecent(ctx, s.table, s.listCap)
		if err != nil {
			record(ResourceContacts, err)
			return nil
		}
		res.contacts = rows
		return nil
	})
	g.Go(func() error {
		if s.cms == nil {
			record(ResourceCampaigns, errNoSource)
			return nil
		}
		rows, err := s.cms.Campaigns(ctx, s.listCap)
		if err != nil {
			record(ResourceCampaigns, err)
			return nil
		}
		res.campaigns = rows
		return nil
	})
	g.Go(func() error {
		if s.cms == nil {
			record(ResourceFunnels, errNoSource)
			return nil
		}
		rows, err := s.cms.Funnels(ctx, s.listCap)
		if err != nil {
			record(ResourceFunnels, err)
			return nil
		}
		res.funnels = rows
		return nil
	})
	g.Go(func() error {
		if s.cms == nil {
			record(ResourceAnalytics, errNoSource)
			return nil
		}
		a, err := s.cms.Analytics(ctx)
		if err != nil {
			record(ResourceAnalytics, err)
			return nil
		}
		res.analytics = a
		return nil
	})
	_ = g.Wait()

	res.errs = errs
	return res
}

func (s *Service) refresh(ctx context.Context) Snapshot {
	s.mu.Lock()
	s.fetching, s.missed = true, nil
	s.mu.Unlock()

	res := s.fetch(ctx)

	for r, err := range res.errs {
		if !errors.Is(err, errNoSource) {
			s.logger.Warn("dashboard fetch failed",
				slog.String("resource", string(r)),
				slog.String("error", err.Error()))
		}
	}

	s.mu.Lock()
	next := s.snap
	next.Errors = nil
	if len(res.errs) > 0 {
		next.Errors = make(map[Resource]string, len(res.errs))
		for r, err := range res.errs {
			next.Errors[r] = err.Error()
		}
	}

	missed := s.missed
	s.fetching, s.missed = false, nil

	if len(res.errs) == len(resources) {
		// Nothing came back: keep the previous data until the failure
		// threshold, then show the error screen.
		s.failures++
		if s.failures >= s.retries {
			next.Status = StatusError
		}
	} else {
		s.failures = 0
		next.Status = StatusOK
		next.Contacts = replay(res.contacts, missed, s.listCap)
		next.Campaigns = res.campaigns
		next.Funnels = res.funnels
		next.Analytics = res.analytics
	}
	next.UpdatedAt = time.Now().UTC()
	next.Version++
	s.snap = next
	s.mu.Unlock()

	s.logger.Debug("dashboard refreshed",
		slog.String("status", string(next.Status)),
		slog.Int("contacts", len(next.Contacts)),
		slog.Int("errors", len(next.Errors)))

	s.publish(next)
	return next
}

// ApplyEvent folds a change on the watched table into the contacts list.
func (s *Service) ApplyEvent(ev domain.ChangeEvent) {
	if ev.Table != "" && ev.Table != s.table {
		return
	}

	s.mu.Lock()
	if s.fetching {
		s.missed = append(s.missed, ev)
	}
	contacts, changed := apply(s.snap.Contacts, ev, s.listCap)
	if !changed {
		s.mu.Unlock()
		return
	}
	next := s.snap
	next.Contacts = contacts
	next.Version++
	s.snap = next
	s.mu.Unlock()

	s.publish(next)
}

// replay folds events that arrived during a fetch over the fetched rows. An
// insert whose row the fetch already returned is not added twice.
func replay(records []domain.Record, events []domain.ChangeEvent, limit int) []domain.Record {
	for _, ev := range events {
		if ev.Type == domain.ChangeInsert && containsID(records, ev.TargetID()) {
			continue
		}
		records = Apply(records, ev, limit)
	}
	return records
}

func containsID(records []domain.Record, id string) bool {
	if id == "" {
		return false
	}
	for _, r := range records {
		if r.ID() == id {
			return true
		}
	}
	return false
}

// Subscribe returns a channel that receives every new snapshot. A slow
// subscriber only sees the latest one. Call the returned func to stop.
func (s *Service) Subscribe() (<-chan Snapshot, func()) {
	ch := make(chan Snapshot, 1)
	s.subsMu.Lock()
	s.subs[ch] = struct{}{}
	s.subsMu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			s.subsMu.Lock()
			delete(s.subs, ch)
			s.subsMu.Unlock()
		})
	}
}

func (s *Service) publish(snap Snapshot) {
	s.subsMu.Lock()
	defer s.subsMu.Unlock()

	for ch := range s.subs {
		select {
		case <-ch:
		default:
		}
		select {
		case ch <- snap:
		default:
		}
	}
}

// Start performs the initial refresh and runs the refresh ticker and the
// change feed in the background until Stop.
func (s *Service) Start(ctx context.Context) {
	ctx, cancel := context.WithCancel(ctx)
	s.cancel = cancel

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.Refresh(ctx)

		ticker := time.NewTicker(s.interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				s.Refresh(ctx)
			}
		}
	}()

	if s.feed != nil {
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			if err := s.feed.Run(ctx, s.ApplyEvent); err != nil {
				s.logger.Error("change feed stopped", slog.String("error", err.Error()))
			}
		}()
	}

	s.logger.Info("dashboard started",
		slog.Duration("refresh_interval", s.interval),
		slog.String("table", s.table),
		slog.Bool("feed", s.feed != nil))
}

// Stop cancels the background loops and waits for them or ctx.
func (s *Service) Stop(ctx context.Context) error {
	if s.cancel == nil {
		return nil
	}
	s.cancel()

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
