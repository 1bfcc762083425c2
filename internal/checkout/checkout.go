// Package checkout creates hosted payment checkout sessions for bots.
package checkout

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/stripe/stripe-go/v76"
	"github.com/stripe/stripe-go/v76/checkout/session"

	"github.com/tjfontaine/enterprise-crm-gateway/internal/domain"
	"github.com/tjfontaine/enterprise-crm-gateway/internal/pkg/validate"
	"github.com/tjfontaine/enterprise-crm-gateway/internal/storage"
)

// Request asks for a checkout session for one bot.
type Request struct {
	BotID  string `json:"bot_id" validate:"required"`
	UserID string `json:"user_id" validate:"required"`
}

// Session is the created checkout session.
type Session struct {
	ID  string `json:"id"`
	URL string `json:"url,omitempty"`
}

// SessionCreator creates checkout sessions.
type SessionCreator interface {
	New(params *stripe.CheckoutSessionParams) (*stripe.CheckoutSession, error)
}

// Config configures the checkout service.
type Config struct {
	SecretKey  string
	BaseURL    string // Stripe API base; empty uses the default
	Currency   string
	SuccessURL string
	CancelURL  string
	HTTPClient *http.Client
	Logger     *slog.Logger
}

// Service creates checkout sessions for stored bots.
type Service struct {
	bots       storage.BotStore
	sessions   SessionCreator
	currency   string
	successURL string
	cancelURL  string
	logger     *slog.Logger
}

// NewService creates a service backed by the Stripe API.
func NewService(bots storage.BotStore, cfg Config) *Service {
	backendCfg := &stripe.BackendConfig{
		LeveledLogger:     &stripe.LeveledLogger{Level: stripe.LevelNull},
		MaxNetworkRetries: stripe.Int64(0),
	}
	if cfg.BaseURL != "" {
		backendCfg.URL = stripe.String(cfg.BaseURL)
	}
	if cfg.HTTPClient != nil {
		backendCfg.HTTPClient = cfg.HTTPClient
	}

	sc := &session.Client{
		B:   stripe.GetBackendWithConfig(stripe.APIBackend, backendCfg),
		Key: cfg.SecretKey,
	}
	return NewServiceWithCreator(bots, sc, cfg)
}

// NewServiceWithCreator creates a service over an explicit session creator.
func NewServiceWithCreator(bots storage.BotStore, sessions SessionCreator, cfg Config) *Service {
	if cfg.Currency == "" {
		cfg.Currency = string(stripe.CurrencyUSD)
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Service{
		bots:       bots,
		sessions:   sessions,
		currency:   cfg.Currency,
		successURL: cfg.SuccessURL,
		cancelURL:  cfg.CancelURL,
		logger:     cfg.Logger,
	}
}

// CreateSession looks up the bot and creates a one-item payment session
// priced at the bot's price in minor units.
func (s *Service) CreateSession(ctx context.Context, req *Request) (*Session, error) {
	if err := validate.Struct(req); err != nil {
		return nil, err
	}

	bot, err := s.bots.GetBot(ctx, req.BotID)
	if err != nil {
		if errors.Is(err, domain.ErrRecordNotFound) {
			return nil, domain.ErrNotFound(fmt.Sprintf("bot %s not found", req.BotID)).WithParam("bot_id")
		}
		return nil, fmt.Errorf("lookup bot: %w", err)
	}

	params := &stripe.CheckoutSessionParams{
		Mode: stripe.String(string(stripe.CheckoutSessionModePayment)),
		LineItems: []*stripe.CheckoutSessionLineItemParams{
			{
				PriceData: &stripe.CheckoutSessionLineItemPriceDataParams{
					Currency:   stripe.String(s.currency),
					UnitAmount: stripe.Int64(bot.UnitAmount()),
					ProductData: &stripe.CheckoutSessionLineItemPriceDataProductDataParams{
						Name: stripe.String(bot.Name),
					},
				},
				Quantity: stripe.Int64(1),
			},
		},
		ClientReferenceID: stripe.String(req.UserID),
	}
	if bot.Description != "" {
		params.LineItems[0].PriceData.ProductData.Description = stripe.String(bot.Description)
	}
	if s.successURL != "" {
		params.SuccessURL = stripe.String(s.successURL)
	}
	if s.cancelURL != "" {
		params.CancelURL = stripe.String(s.cancelURL)
	}
	params.Context = ctx
	params.AddMetadata("bot_id", bot.ID)
	params.AddMetadata("user_id", req.UserID)

	cs, err := s.sessions.New(params)
	if err != nil {
		var stripeErr *stripe.Error
		if errors.As(err, &stripeErr) {
			s.logger.Error("checkout session creation failed",
				slog.String("bot_id", bot.ID),
				slog.Int("status", stripeErr.HTTPStatusCode),
				slog.String("code", string(stripeErr.Code)),
				slog.String("error", stripeErr.Msg))
			return nil, domain.ErrServer(stripeErr.Msg)
		}
		s.logger.Error("checkout session creation failed",
			slog.String("bot_id", bot.ID),
			slog.String("error", err.Error()))
		return nil, fmt.Errorf("create checkout session: %w", err)
	}

	return &Session{ID: cs.ID, URL: cs.URL}, nil
}
