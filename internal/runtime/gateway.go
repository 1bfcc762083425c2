// Package runtime wires configuration, storage and the HTTP surface of the
// CRM gateway and manages its lifecycle.
package runtime

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"

	"github.com/go-chi/chi/v5"

	"github.com/tjfontaine/enterprise-crm-gateway/internal/airouter"
	"github.com/tjfontaine/enterprise-crm-gateway/internal/auth"
	"github.com/tjfontaine/enterprise-crm-gateway/internal/backend/ollama"
	"github.com/tjfontaine/enterprise-crm-gateway/internal/checkout"
	"github.com/tjfontaine/enterprise-crm-gateway/internal/config"
	"github.com/tjfontaine/enterprise-crm-gateway/internal/dashboard"
	"github.com/tjfontaine/enterprise-crm-gateway/internal/leads"
	"github.com/tjfontaine/enterprise-crm-gateway/internal/mailrelay"
	"github.com/tjfontaine/enterprise-crm-gateway/internal/pgfeed"
	"github.com/tjfontaine/enterprise-crm-gateway/internal/pkg/restclient"
	"github.com/tjfontaine/enterprise-crm-gateway/internal/server"
	"github.com/tjfontaine/enterprise-crm-gateway/internal/storage"
	"github.com/tjfontaine/enterprise-crm-gateway/internal/storage/memory"
	"github.com/tjfontaine/enterprise-crm-gateway/internal/storage/sqldb"
	"github.com/tjfontaine/enterprise-crm-gateway/internal/supabase"
	"github.com/tjfontaine/enterprise-crm-gateway/internal/tokens"
	"github.com/tjfontaine/enterprise-crm-gateway/internal/webhook"
	"github.com/tjfontaine/enterprise-crm-gateway/internal/wordpress"
)

// Gateway is the CRM gateway: AI routing, lead ingestion, checkout and the
// dashboard behind one HTTP server.
type Gateway struct {
	cfg     *config.Config
	watcher *config.Watcher
	store   storage.Store
	logger  *slog.Logger

	server    *server.Server
	relay     *webhook.Relay
	router    *airouter.Router
	leads     *leads.Service
	dashboard *dashboard.Service

	ctx     context.Context
	cancel  context.CancelFunc
	serveWg sync.WaitGroup
	mu      sync.Mutex
}

// New creates a gateway. A config source is required; when no storage option
// is given the configured storage driver is opened.
func New(opts ...Option) (*Gateway, error) {
	gw := &Gateway{logger: slog.Default()}

	for _, opt := range opts {
		if err := opt(gw); err != nil {
			return nil, fmt.Errorf("apply option: %w", err)
		}
	}

	if gw.cfg == nil {
		return nil, fmt.Errorf("config required (use WithFileConfig or WithConfig)")
	}

	if gw.store == nil {
		store, err := openStore(gw.cfg.Storage)
		if err != nil {
			return nil, fmt.Errorf("open storage: %w", err)
		}
		gw.store = store
	}

	return gw, nil
}

func openStore(cfg config.StorageConfig) (storage.Store, error) {
	switch cfg.Driver {
	case "memory":
		return memory.New(), nil
	case "sqlite", "sqlite3":
		return sqldb.NewSQLite(cfg.DSN)
	}
	return sqldb.New(sqldb.Config{Driver: cfg.Driver, DSN: cfg.DSN})
}

// Start builds every component, mounts the routes, starts the dashboard loop
// and serves HTTP in the background.
func (g *Gateway) Start(ctx context.Context) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.server != nil {
		return errors.New("gateway already started")
	}
	g.ctx, g.cancel = context.WithCancel(ctx)
	cfg := g.cfg

	if err := g.build(cfg); err != nil {
		g.cancel()
		return err
	}

	if g.dashboard != nil {
		g.dashboard.Start(g.ctx)
	}

	if g.watcher != nil {
		if err := g.watcher.Watch(g.ctx, g.reload); err != nil {
			g.logger.Warn("config hot reload disabled", slog.String("error", err.Error()))
		}
	}

	g.serveWg.Add(1)
	go func() {
		defer g.serveWg.Done()
		if err := g.server.Start(); err != nil {
			g.logger.Error("server error", slog.String("error", err.Error()))
		}
	}()

	g.logger.Info("gateway started",
		slog.Int("port", cfg.Server.Port),
		slog.Bool("webhook", g.relay.Enabled()),
		slog.Bool("dashboard", g.dashboard != nil))
	return nil
}

func (g *Gateway) build(cfg *config.Config) error {
	g.relay = webhook.New(webhook.Config{
		URL:                 cfg.Webhook.URL,
		Source:              cfg.Webhook.Source,
		SiteURL:             cfg.CMS.SiteURL,
		Timeout:             cfg.Webhook.Timeout,
		RetryDelay:          cfg.Webhook.RetryDelay,
		Headers:             cfg.Webhook.Headers,
		BlockPrivateTargets: cfg.Webhook.BlockPrivateTargets,
		Logger:              g.logger,
	})

	policy, fast, deep, err := buildAI(cfg.AI)
	if err != nil {
		return fmt.Errorf("init ai router: %w", err)
	}
	g.router = airouter.New(policy, fast, deep,
		airouter.WithPublisher(g.relay),
		airouter.WithTokenCounter(tokens.NewTiktokenCounter("")),
		airouter.WithLogger(g.logger))

	leadOpts := []leads.Option{leads.WithPublisher(g.relay), leads.WithLogger(g.logger)}
	if cfg.MailRelay.Host != "" && cfg.MailRelay.APIKey != "" {
		leadOpts = append(leadOpts, leads.WithSubscriberSync(
			mailrelay.NewClient(cfg.MailRelay.Host, cfg.MailRelay.APIKey),
			cfg.MailRelay.Group))
	}
	g.leads = leads.NewService(g.store, leadOpts...)

	checkoutSvc := checkout.NewService(g.store, checkout.Config{
		SecretKey:  cfg.Checkout.SecretKey,
		BaseURL:    cfg.Checkout.BaseURL,
		Currency:   cfg.Checkout.Currency,
		SuccessURL: cfg.Checkout.SuccessURL,
		CancelURL:  cfg.Checkout.CancelURL,
		Logger:     g.logger,
	})

	if cfg.Dashboard.Enabled {
		g.dashboard = g.buildDashboard(cfg.Dashboard)
	}

	srv := server.New(cfg.Server.Port, g.logger, cfg.Server.RequestTimeout)
	r := srv.Router

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		server.WriteJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	r.Method(http.MethodPost, "/api/ai", airouter.NewHandler(g.router))
	r.Method(http.MethodPost, "/api/checkout", checkout.NewHandler(checkoutSvc))

	r.Route(leads.Namespace, func(r chi.Router) {
		r.Use(server.AuthMiddleware(auth.NewAuthenticator(g.store)))
		server.Register(r, g.logger, leads.NewHandler(g.leads).Routes())
	})

	if g.dashboard != nil {
		server.Register(r, g.logger, dashboard.NewHandler(g.dashboard, g.logger).Routes())
	}

	g.server = srv
	return nil
}

func buildAI(cfg config.AIConfig) (*airouter.Policy, airouter.Backend, airouter.Backend, error) {
	policy, err := airouter.NewPolicy(cfg.MaxFastLength, cfg.DeepKeywords)
	if err != nil {
		return nil, nil, nil, err
	}
	fast := ollama.NewClient(cfg.Fast.Name, cfg.Fast.Model, ollama.WithBaseURL(cfg.Fast.BaseURL))
	deep := ollama.NewClient(cfg.Deep.Name, cfg.Deep.Model, ollama.WithBaseURL(cfg.Deep.BaseURL))
	return policy, fast, deep, nil
}

func (g *Gateway) buildDashboard(cfg config.DashboardConfig) *dashboard.Service {
	restOpts := []restclient.Option{
		restclient.WithRetries(cfg.Retries),
		restclient.WithAttemptTimeout(cfg.AttemptTimeout),
		restclient.WithLogger(g.logger),
	}

	var contacts dashboard.ContactSource
	if cfg.SupabaseURL != "" {
		contacts = supabase.NewClient(cfg.SupabaseURL, cfg.SupabaseKey, restOpts...)
	}
	var cms dashboard.CMSSource
	if cfg.CMSURL != "" {
		cms = wordpress.NewClient(cfg.CMSURL, cfg.CMSKey, restOpts...)
	}

	opts := []dashboard.Option{
		dashboard.WithTable(cfg.FeedTable),
		dashboard.WithListCap(cfg.ListCap),
		dashboard.WithRefreshInterval(cfg.RefreshInterval),
		dashboard.WithRetries(cfg.Retries),
		dashboard.WithLogger(g.logger),
	}

	if feed := g.buildFeed(cfg); feed != nil {
		opts = append(opts, dashboard.WithFeed(feed))
	}

	return dashboard.NewService(contacts, cms, opts...)
}

// buildFeed returns the configured change feed, or nil when none is usable.
func (g *Gateway) buildFeed(cfg config.DashboardConfig) dashboard.Feed {
	switch cfg.Feed {
	case "realtime":
		if cfg.SupabaseURL == "" {
			g.logger.Warn("realtime feed needs dashboard.supabase_url, change feed disabled")
			return nil
		}
		return supabase.NewRealtime(cfg.SupabaseURL, cfg.SupabaseKey, cfg.FeedTable,
			supabase.WithRealtimeLogger(g.logger))
	case "postgres":
		if cfg.DatabaseURL == "" {
			g.logger.Warn("postgres feed needs dashboard.database_url, change feed disabled")
			return nil
		}
		opts := []pgfeed.Option{pgfeed.WithLogger(g.logger)}
		if cfg.FeedInstall {
			opts = append(opts, pgfeed.WithTriggerInstall())
		}
		return pgfeed.NewListener(cfg.DatabaseURL, cfg.FeedChannel, cfg.FeedTable, opts...)
	case "", "none":
		return nil
	default:
		g.logger.Warn("unknown dashboard feed, change feed disabled", slog.String("feed", cfg.Feed))
		return nil
	}
}

// reload applies a changed config file. Only the AI routing settings are
// swapped live; everything else needs a restart.
func (g *Gateway) reload(cfg *config.Config) {
	policy, fast, deep, err := buildAI(cfg.AI)
	if err != nil {
		g.logger.Error("failed to reload ai routing, keeping previous settings",
			slog.String("error", err.Error()))
		return
	}
	g.router.Update(policy, fast, deep)

	g.mu.Lock()
	g.cfg = cfg
	g.mu.Unlock()

	g.logger.Info("reload complete",
		slog.Int("max_fast_length", cfg.AI.MaxFastLength),
		slog.String("fast_model", cfg.AI.Fast.Model),
		slog.String("deep_model", cfg.AI.Deep.Model))
}

// Handler returns the root HTTP handler. It is nil until Start.
func (g *Gateway) Handler() http.Handler {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.server == nil {
		return nil
	}
	return g.server.Router
}

// Router returns the AI router. It is nil until Start.
func (g *Gateway) Router() *airouter.Router {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.router
}

// Shutdown stops the server, the dashboard and pending webhook retries, then
// closes storage.
func (g *Gateway) Shutdown(ctx context.Context) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	g.logger.Info("shutting down gateway")

	if g.cancel != nil {
		g.cancel()
	}

	var errs []error
	if g.server != nil {
		if err := g.server.Shutdown(ctx); err != nil {
			g.logger.Error("failed to shutdown server", slog.String("error", err.Error()))
			errs = append(errs, err)
		}
		g.serveWg.Wait()
	}

	if g.dashboard != nil {
		if err := g.dashboard.Stop(ctx); err != nil {
			errs = append(errs, fmt.Errorf("stop dashboard: %w", err))
		}
	}

	if g.leads != nil {
		if err := g.leads.Close(ctx); err != nil {
			errs = append(errs, fmt.Errorf("close leads: %w", err))
		}
	}

	if g.relay != nil {
		if err := g.relay.Close(ctx); err != nil {
			errs = append(errs, fmt.Errorf("close webhook relay: %w", err))
		}
	}

	if g.store != nil {
		if err := g.store.Close(); err != nil {
			g.logger.Error("failed to close storage", slog.String("error", err.Error()))
			errs = append(errs, err)
		}
	}

	g.logger.Info("gateway shutdown complete")
	return errors.Join(errs...)
}
