// Package airouter forwards chat prompts to one of two language-model
// backends chosen by a length and keyword heuristic.
package airouter

import (
	"context"
	"fmt"
	"log/slog"
	"sync/atomic"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/tjfontaine/enterprise-crm-gateway/internal/telemetry"
	"github.com/tjfontaine/enterprise-crm-gateway/internal/tokens"
	"github.com/tjfontaine/enterprise-crm-gateway/internal/webhook"
)

// Backend generates text for a prompt.
type Backend interface {
	Name() string
	Generate(ctx context.Context, prompt string) (string, error)
}

// Request is a chat prompt from a user.
type Request struct {
	Input    string `json:"input"`
	UserID   string `json:"userId"`
	Language string `json:"language,omitempty"`
}

// Response is the answer and the backend that produced it.
type Response struct {
	Tier     Tier
	Backend  string
	Text     string
	Fallback bool
}

// String renders the response tagged with the backend name.
func (r Response) String() string {
	return fmt.Sprintf("[%s] %s", r.Backend, r.Text)
}

// DefaultLanguage is used when a request does not name one.
const DefaultLanguage = "English"

// BuildPrompt prefixes input with the language instruction.
func BuildPrompt(input, language string) string {
	if language == "" {
		language = DefaultLanguage
	}
	return fmt.Sprintf("Respond in %s. %s", language, input)
}

// FallbackText is returned in place of a backend answer when the call fails.
func FallbackText(backend string) string {
	return fmt.Sprintf("The %s model is unavailable right now. Please try again.", backend)
}

// AIRequestEvent is published after each routed request.
type AIRequestEvent struct {
	UserID      string `json:"user_id"`
	Tier        Tier   `json:"tier"`
	Backend     string `json:"backend"`
	InputTokens int    `json:"input_tokens"`
	Fallback    bool   `json:"fallback"`
}

type routerState struct {
	policy *Policy
	fast   Backend
	deep   Backend
}

// Router dispatches requests. Its policy and backends can be swapped at
// runtime; each request sees one consistent set.
type Router struct {
	state     atomic.Pointer[routerState]
	publisher webhook.Publisher
	counter   tokens.Counter
	logger    *slog.Logger
	tracer    trace.Tracer
}

// Option configures a Router.
type Option func(*Router)

// WithPublisher publishes an ai.request event after every request.
func WithPublisher(p webhook.Publisher) Option {
	return func(r *Router) { r.publisher = p }
}

// WithTokenCounter sets the counter used for the input_tokens field.
func WithTokenCounter(c tokens.Counter) Option {
	return func(r *Router) { r.counter = c }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(r *Router) { r.logger = l }
}

// New creates a router.
func New(policy *Policy, fast, deep Backend, opts ...Option) *Router {
	r := &Router{
		logger: slog.Default(),
		tracer: telemetry.Tracer("airouter"),
	}
	for _, opt := range opts {
		opt(r)
	}
	if r.counter == nil {
		r.counter = tokens.NewEstimator()
	}
	r.Update(policy, fast, deep)
	return r
}

// Update atomically replaces the policy and backends.
func (r *Router) Update(policy *Policy, fast, deep Backend) {
	r.state.Store(&routerState{policy: policy, fast: fast, deep: deep})
}

// Policy returns the active policy.
func (r *Router) Policy() *Policy {
	return r.state.Load().policy
}

// Route sends the request to exactly one backend. Backend failures are
// logged and replaced by the fallback text; Route never fails.
func (r *Router) Route(ctx context.Context, req Request) Response {
	st := r.state.Load()

	tier := st.policy.Select(req.Input)
	backend := st.fast
	if tier == TierDeep {
		backend = st.deep
	}

	ctx, span := r.tracer.Start(ctx, "airouter.route",
		trace.WithAttributes(
			attribute.String("ai.tier", string(tier)),
			attribute.String("ai.backend", backend.Name()),
		))
	defer span.End()

	resp := Response{Tier: tier, Backend: backend.Name()}
	text, err := backend.Generate(ctx, BuildPrompt(req.Input, req.Language))
	if err != nil {
		r.logger.Warn("backend call failed, returning fallback",
			slog.String("backend", backend.Name()),
			slog.String("tier", string(tier)),
			slog.String("error", err.Error()))
		span.RecordError(err)
		span.SetStatus(codes.Error, "backend failed")
		resp.Text = FallbackText(backend.Name())
		resp.Fallback = true
	} else {
		resp.Text = text
	}

	if r.publisher != nil {
		r.publisher.Publish(ctx, webhook.EventAIRequest, &AIRequestEvent{
			UserID:      req.UserID,
			Tier:        tier,
			Backend:     backend.Name(),
			InputTokens: r.counter.Count(req.Input),
			Fallback:    resp.Fallback,
		})
	}

	return resp
}
