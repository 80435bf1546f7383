package jchat

import (
	"os"
	"path/filepath"
)

const (
	DefaultAppName   = "journeychat"
	DefaultEnvPrefix = "JOURNEYCHAT"

	DefaultModel       = "gpt-4o-mini"
	DefaultLLMBaseURL  = "https://api.openai.com/v1"
	DefaultRPCPath     = "/mcp"
	DefaultToolHostURL = "http://localhost:8000"
	DefaultServerPort  = 8080
)

var (
	DefaultConfigPath = filepath.Join(userConfigDir(), DefaultAppName)
	DefaultDataDir    = filepath.Join(userDataDir(), DefaultAppName)
	DefaultAuditDSN   = filepath.Join(DefaultDataDir, "audit.db")
)

// DefaultSystemPrompt frames the assistant for journey analytics questions.
const DefaultSystemPrompt = `You are a marketing journey analytics assistant.
Answer questions about customer journeys, funnels and campaign performance.
When a question needs data, call the mcp_invoke function with the name of the tool to run
and its arguments. Otherwise answer directly and concisely.`

func userConfigDir() string {
	if dir, err := os.UserConfigDir(); err == nil {
		return dir
	}
	return "."
}

func userDataDir() string {
	if home, err := os.UserHomeDir(); err == nil {
		return filepath.Join(home, ".local", "share")
	}
	return "."
}
