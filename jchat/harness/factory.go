package harness

import (
	"context"
	"database/sql"
	"time"

	"github.com/ZanzyTHEbar/journey-chat/jchat/chatmodel"
	"github.com/ZanzyTHEbar/journey-chat/jchat/config"
	"github.com/ZanzyTHEbar/journey-chat/jchat/harness/adapters"
	ports "github.com/ZanzyTHEbar/journey-chat/jchat/harness/ports"
	"github.com/ZanzyTHEbar/journey-chat/jchat/toolhost"
	"github.com/rs/zerolog"
)

const (
	minTimeout = time.Second
	maxTimeout = 10 * time.Minute
)

// Factory creates and wires session components from configuration.
type Factory struct {
	cfg    *config.Config
	db     *sql.DB // optional, for the audit log
	logger zerolog.Logger
}

func NewFactory(cfg *config.Config, db *sql.DB, logger zerolog.Logger) *Factory {
	return &Factory{cfg: cfg, db: db, logger: logger}
}

// CreateOrchestrator returns a fully wired orchestrator. An invalid
// configuration still yields an orchestrator, blocked with the
// ConfigurationError, so the presentation layer can show it.
func (f *Factory) CreateOrchestrator() *Orchestrator {
	if err := f.cfg.Validate(); err != nil {
		f.logger.Error().Err(err).Msg("configuration incomplete, session blocked")
		return NewOrchestrator(nil, nil,
			WithConfigurationError(err),
			WithLogger(f.logger),
		)
	}

	limiter := f.createRateLimiter()
	model := chatmodel.NewClient(chatmodel.Config{
		APIKey:       f.cfg.LLM.APIKey,
		BaseURL:      f.cfg.LLM.BaseURL,
		Model:        f.cfg.LLM.Model,
		Temperature:  f.cfg.LLM.Temperature,
		SystemPrompt: f.cfg.LLM.SystemPrompt,
		Timeout:      f.cfg.LLM.Timeout,
	},
		chatmodel.WithRateLimiter(limiter),
		chatmodel.WithRetry(f.cfg.Harness.RetryCount, f.cfg.Harness.RetryBackoff),
		chatmodel.WithLogger(f.logger.With().Str("component", "chatmodel").Logger()),
	)

	return NewOrchestrator(model, f.CreateToolHost(limiter),
		WithGuardrails(f.CreateGuardrails()),
		WithTracer(f.createTracer()),
		WithAuditSink(f.createAuditSink()),
		WithPolicy(f.CreatePolicy()),
		WithLogger(f.logger.With().Str("component", "orchestrator").Logger()),
	)
}

// CreateToolHost builds the JSON-RPC tool host client. A nil limiter creates one from config.
func (f *Factory) CreateToolHost(limiter ports.RateLimiter) *toolhost.Client {
	if limiter == nil {
		limiter = f.createRateLimiter()
	}
	return toolhost.NewClient(f.cfg.ToolHost.URL, f.cfg.ToolHost.RPCPath,
		toolhost.WithTimeout(f.cfg.ToolHost.Timeout),
		toolhost.WithCatalogCache(f.createCache(), f.cfg.Harness.CacheTTLSeconds),
		toolhost.WithRateLimiter(limiter),
		toolhost.WithRetry(f.cfg.Harness.RetryCount, f.cfg.Harness.RetryBackoff),
		toolhost.WithLogger(f.logger.With().Str("component", "toolhost").Logger()),
	)
}

func (f *Factory) createCache() ports.Cache {
	if !f.cfg.Harness.CacheEnabled {
		return &noOpCache{}
	}
	return adapters.NewLRUCache(f.cfg.Harness.CacheCapacity)
}

func (f *Factory) createRateLimiter() ports.RateLimiter {
	if !f.cfg.Harness.RateLimitEnabled {
		return &noOpRateLimiter{}
	}
	return adapters.NewTokenBucket(f.cfg.Harness.RateLimitCapacity, f.cfg.Harness.RateLimitRefillRate)
}

func (f *Factory) createTracer() ports.Tracer {
	if !f.cfg.Harness.EnableTracing {
		return &noOpTracer{}
	}
	return adapters.NewZerologTracer(f.logger)
}

func (f *Factory) createAuditSink() ports.AuditSink {
	if !f.cfg.Audit.Enabled || f.db == nil {
		return nil
	}
	return adapters.NewLibSQLAuditSink(f.db)
}

// CreateGuardrails creates guardrails from config. The allowlist is filled
// when the catalog loads.
func (f *Factory) CreateGuardrails() *Guardrails {
	return NewGuardrails(f.cfg.Harness.EnableGuardrails)
}

// CreatePolicy derives the per-call bounds from config with clamping.
func (f *Factory) CreatePolicy() *Policy {
	policy := &Policy{
		ModelTimeout: f.cfg.LLM.Timeout,
		ToolTimeout:  f.cfg.ToolHost.Timeout,
	}

	policy.ModelTimeout = f.clamp("model_timeout", policy.ModelTimeout)
	policy.ToolTimeout = f.clamp("tool_timeout", policy.ToolTimeout)
	return policy
}

func (f *Factory) clamp(name string, d time.Duration) time.Duration {
	switch {
	case d < minTimeout:
		f.logger.Warn().Dur(name, d).Msgf("%s clamped to minimum of %s", name, minTimeout)
		return minTimeout
	case d > maxTimeout:
		f.logger.Warn().Dur(name, d).Msgf("%s clamped to maximum of %s", name, maxTimeout)
		return maxTimeout
	}
	return d
}

// noOpCache implements Cache with no-op behavior for a disabled cache.
type noOpCache struct{}

func (c *noOpCache) Get(ctx context.Context, key string) ([]byte, bool) { return nil, false }
func (c *noOpCache) Set(ctx context.Context, key string, value []byte, ttlSeconds int) error {
	return nil
}
func (c *noOpCache) Delete(ctx context.Context, key string) error { return nil }

// noOpRateLimiter implements RateLimiter with no-op behavior.
type noOpRateLimiter struct{}

func (r *noOpRateLimiter) Acquire(ctx context.Context, key string) (release func(), err error) {
	return func() {}, nil
}

// noOpTracer implements Tracer with no-op behavior.
type noOpTracer struct{}

func (t *noOpTracer) StartSpan(ctx context.Context, name string, attrs map[string]any) (context.Context, func(err error)) {
	return ctx, func(err error) {}
}

func (t *noOpTracer) Event(ctx context.Context, name string, attrs map[string]any) {}

var (
	_ ports.Cache       = (*noOpCache)(nil)
	_ ports.RateLimiter = (*noOpRateLimiter)(nil)
	_ ports.Tracer      = (*noOpTracer)(nil)
)
