package config

import (
	"fmt"
	"net/url"
	"path/filepath"
	"strings"
	"sync"
	"time"

	internal "github.com/ZanzyTHEbar/journey-chat/jchat"
	ports "github.com/ZanzyTHEbar/journey-chat/jchat/harness/ports"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"
)

// Config stores all configuration of the application.
// The values are read by viper from a config file or environment variables.
type Config struct {
	LLM      LLMConfig      `mapstructure:"llm"`
	ToolHost ToolHostConfig `mapstructure:"toolhost"`
	Harness  HarnessConfig  `mapstructure:"harness"`
	Audit    AuditConfig    `mapstructure:"audit"`
	Log      LogConfig      `mapstructure:"log"`
	Server   ServerConfig   `mapstructure:"server"`
}

// LLMConfig points at an OpenAI compatible chat completion endpoint.
type LLMConfig struct {
	APIKey       string        `mapstructure:"api_key"`
	BaseURL      string        `mapstructure:"base_url"`
	Model        string        `mapstructure:"model"`
	Temperature  float32       `mapstructure:"temperature"`
	SystemPrompt string        `mapstructure:"system_prompt"`
	Timeout      time.Duration `mapstructure:"timeout"` // per model call
}

// ToolHostConfig points at the JSON-RPC tool server.
type ToolHostConfig struct {
	URL     string        `mapstructure:"url"`
	RPCPath string        `mapstructure:"rpc_path"`
	Timeout time.Duration `mapstructure:"timeout"` // per RPC call
}

// HarnessConfig stores orchestration settings.
type HarnessConfig struct {
	// Catalog cache
	CacheEnabled    bool `mapstructure:"cache_enabled"`
	CacheCapacity   int  `mapstructure:"cache_capacity"`
	CacheTTLSeconds int  `mapstructure:"cache_ttl_seconds"` // 0 keeps entries until an explicit refresh

	// Rate limiting
	RateLimitEnabled    bool          `mapstructure:"rate_limit_enabled"`
	RateLimitCapacity   int           `mapstructure:"rate_limit_capacity"`
	RateLimitRefillRate time.Duration `mapstructure:"rate_limit_refill_rate"`

	// Retries apply to discovery and model calls, never to tools/call
	RetryCount   int           `mapstructure:"retry_count"`
	RetryBackoff time.Duration `mapstructure:"retry_backoff"`

	EnableGuardrails bool `mapstructure:"enable_guardrails"`
	EnableTracing    bool `mapstructure:"enable_tracing"`
}

// AuditConfig controls the optional tool invocation log.
type AuditConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	DSN     string `mapstructure:"dsn"`
}

type LogConfig struct {
	Level string `mapstructure:"level"`
}

type ServerConfig struct {
	Port int `mapstructure:"port"`
}

// Loader owns a viper instance so reloads and watches see the same sources.
type Loader struct {
	mu sync.Mutex
	v  *viper.Viper
}

func NewLoader() *Loader {
	return &Loader{v: viper.New()}
}

// LoadConfig reads configuration from file or environment variables.
func LoadConfig(configPath string) (*Config, error) {
	return NewLoader().Load(configPath)
}

// Load reads configPath, or searches the default locations when it is empty.
// A missing config file in the search locations is not an error.
func (l *Loader) Load(configPath string) (*Config, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	v := l.v
	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.AddConfigPath(".")
		v.AddConfigPath("..")
		v.AddConfigPath(filepath.Join("/etc", internal.DefaultAppName))
		v.AddConfigPath(internal.DefaultConfigPath)
		v.SetConfigName("config")
		v.SetConfigType("yaml")
	}

	setDefaults(v)

	v.SetEnvPrefix(internal.DefaultEnvPrefix)
	v.AutomaticEnv()
	// llm.api_key becomes JOURNEYCHAT_LLM_API_KEY
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	_ = v.BindEnv("llm.api_key", internal.DefaultEnvPrefix+"_LLM_API_KEY", "OPENAI_API_KEY")

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unable to decode into struct: %w", err)
	}
	return &cfg, nil
}

// ConfigFileUsed reports the file viper read, if any.
func (l *Loader) ConfigFileUsed() string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.v.ConfigFileUsed()
}

// Watch calls onChange with the re-decoded config whenever the config file changes.
// Only settings read per call (log level) take effect without a restart.
func (l *Loader) Watch(onChange func(*Config, fsnotify.Event)) {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.v.OnConfigChange(func(e fsnotify.Event) {
		l.mu.Lock()
		var cfg Config
		err := l.v.Unmarshal(&cfg)
		l.mu.Unlock()
		if err == nil {
			onChange(&cfg, e)
		}
	})
	l.v.WatchConfig()
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("llm.api_key", "")
	v.SetDefault("llm.base_url", internal.DefaultLLMBaseURL)
	v.SetDefault("llm.model", internal.DefaultModel)
	v.SetDefault("llm.temperature", 0.2)
	v.SetDefault("llm.system_prompt", internal.DefaultSystemPrompt)
	v.SetDefault("llm.timeout", "60s")

	v.SetDefault("toolhost.url", internal.DefaultToolHostURL)
	v.SetDefault("toolhost.rpc_path", internal.DefaultRPCPath)
	v.SetDefault("toolhost.timeout", "30s")

	v.SetDefault("harness.cache_enabled", true)
	v.SetDefault("harness.cache_capacity", 16)
	v.SetDefault("harness.cache_ttl_seconds", 0)
	v.SetDefault("harness.rate_limit_enabled", true)
	v.SetDefault("harness.rate_limit_capacity", 10)
	v.SetDefault("harness.rate_limit_refill_rate", "1s")
	v.SetDefault("harness.retry_count", 2)
	v.SetDefault("harness.retry_backoff", "250ms")
	v.SetDefault("harness.enable_guardrails", true)
	v.SetDefault("harness.enable_tracing", true)

	v.SetDefault("audit.enabled", false)
	v.SetDefault("audit.dsn", internal.DefaultAuditDSN)

	v.SetDefault("log.level", "info")
	v.SetDefault("server.port", internal.DefaultServerPort)
}

// Validate reports every missing or placeholder setting the session needs
// before any network call is made.
func (c *Config) Validate() error {
	var problems []string

	check := func(key, value string) {
		if strings.TrimSpace(value) == "" {
			problems = append(problems, key+" is not set")
		} else if IsPlaceholder(value) {
			problems = append(problems, key+" still holds a placeholder value")
		}
	}
	checkURL := func(key, value string) {
		check(key, value)
		if strings.TrimSpace(value) == "" || IsPlaceholder(value) {
			return
		}
		u, err := url.Parse(value)
		if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
			problems = append(problems, key+" is not a valid http(s) URL")
		}
	}

	check("llm.api_key", c.LLM.APIKey)
	check("llm.model", c.LLM.Model)
	checkURL("llm.base_url", c.LLM.BaseURL)
	checkURL("toolhost.url", c.ToolHost.URL)

	if len(problems) > 0 {
		return &ports.ConfigurationError{Problems: problems}
	}
	return nil
}

// IsPlaceholder recognises template values such as "changeme", "<your key>" or "sk-...".
func IsPlaceholder(value string) bool {
	v := strings.ToLower(strings.TrimSpace(value))
	switch v {
	case "changeme", "change-me", "change_me", "placeholder", "todo", "none", "null", "undefined", "your-api-key":
		return true
	}
	if strings.HasPrefix(v, "your-") || strings.HasPrefix(v, "your_") || strings.HasPrefix(v, "<") || strings.HasPrefix(v, "${") {
		return true
	}
	if strings.Contains(v, "...") {
		return true
	}
	if len(v) >= 3 && strings.Trim(v, "x") == "" {
		return true
	}
	return false
}
