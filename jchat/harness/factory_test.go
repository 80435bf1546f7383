package harness

import (
	"context"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ZanzyTHEbar/journey-chat/jchat/config"
	ports "github.com/ZanzyTHEbar/journey-chat/jchat/harness/ports"
)

func validConfig() *config.Config {
	return &config.Config{
		LLM: config.LLMConfig{
			APIKey:  "sk-live-abc123",
			BaseURL: "https://api.openai.com/v1",
			Model:   "gpt-4o-mini",
			Timeout: 30 * time.Second,
		},
		ToolHost: config.ToolHostConfig{
			URL:     "http://localhost:8000",
			RPCPath: "/mcp",
			Timeout: 20 * time.Second,
		},
		Harness: config.HarnessConfig{
			CacheEnabled:        true,
			CacheCapacity:       8,
			RateLimitEnabled:    true,
			RateLimitCapacity:   5,
			RateLimitRefillRate: time.Second,
			EnableGuardrails:    true,
		},
	}
}

func TestFactory_InvalidConfigBlocksSession(t *testing.T) {
	cfg := validConfig()
	cfg.LLM.APIKey = "changeme"
	cfg.ToolHost.URL = ""

	o := NewFactory(cfg, nil, zerolog.Nop()).CreateOrchestrator()

	var cfgErr *ports.ConfigurationError
	require.ErrorAs(t, o.Blocked(), &cfgErr)
	assert.Equal(t, []string{
		"llm.api_key still holds a placeholder value",
		"toolhost.url is not set",
	}, cfgErr.Problems)

	_, err := o.Submit(context.Background(), "hello")
	assert.ErrorAs(t, err, &cfgErr)
	assert.Empty(t, o.History())
}

func TestFactory_ValidConfigIsNotBlocked(t *testing.T) {
	f := NewFactory(validConfig(), nil, zerolog.Nop())

	o := f.CreateOrchestrator()
	assert.NoError(t, o.Blocked())
	assert.Equal(t, StateIdle, o.State())
	assert.Equal(t, "http://localhost:8000/mcp", f.CreateToolHost(nil).Endpoint())
}

func TestFactory_CreatePolicyClampsTimeouts(t *testing.T) {
	cfg := validConfig()
	cfg.LLM.Timeout = 0
	cfg.ToolHost.Timeout = time.Hour

	policy := NewFactory(cfg, nil, zerolog.Nop()).CreatePolicy()
	assert.Equal(t, time.Second, policy.ModelTimeout)
	assert.Equal(t, 10*time.Minute, policy.ToolTimeout)

	policy = NewFactory(validConfig(), nil, zerolog.Nop()).CreatePolicy()
	assert.Equal(t, 30*time.Second, policy.ModelTimeout)
	assert.Equal(t, 20*time.Second, policy.ToolTimeout)
}
