package config

import (
	"os"
	"strconv"
	"time"

	"avatarchat/core"
)

// Config holds all scalar settings consumed from the environment. There is
// no dynamic discovery: every knob is a plain value with a default.
type Config struct {
	// Required credentials.
	DeepgramAPIKey   string
	OpenAIAPIKey     string
	AvatarTalkAPIKey string

	// Endpoints.
	AvatarTalkAPIBase string
	DeepgramAPIBase   string
	OpenAIAPIBase     string

	// Defaults applied when the browser init message omits a field.
	DefaultAvatar     string
	DefaultExpression string
	DefaultLanguage   string
	SystemPrompt      string

	// LLM.
	LLMModel string

	// Timeouts.
	ConnectTimeout     time.Duration
	LLMTimeout         time.Duration
	InitMessageTimeout time.Duration

	// Limits.
	MaxPromptLength    int
	MaxHistoryMessages int

	// HTTP.
	ListenAddr string
}

// Load reads configuration from the environment. Missing required API keys
// are fatal: the process must not start half-configured.
func Load() Config {
	cfg := Config{
		DeepgramAPIKey:   getEnv("DEEPGRAM_API_KEY", ""),
		OpenAIAPIKey:     getEnv("OPENAI_API_KEY", ""),
		AvatarTalkAPIKey: getEnv("AVATARTALK_API_KEY", ""),

		AvatarTalkAPIBase: getEnv("AVATARTALK_API_BASE", "wss://api.avatartalk.ai"),
		DeepgramAPIBase:   getEnv("DEEPGRAM_API_BASE", "wss://api.deepgram.com"),
		OpenAIAPIBase:     getEnv("OPENAI_API_BASE", ""),

		DefaultAvatar:     getEnv("DEFAULT_AVATAR", "mexican_woman"),
		DefaultExpression: getEnv("DEFAULT_EXPRESSION", "neutral"),
		DefaultLanguage:   getEnv("DEFAULT_LANGUAGE", "en"),
		SystemPrompt:      getEnv("SYSTEM_PROMPT", "You are a helpful and friendly AI avatar."),

		LLMModel: getEnv("LLM_MODEL", "gpt-4o-mini"),

		ConnectTimeout:     getEnvAsDuration("WS_CONNECT_TIMEOUT_SECONDS", 30),
		LLMTimeout:         getEnvAsDuration("LLM_TIMEOUT_SECONDS", 60),
		InitMessageTimeout: getEnvAsDuration("INIT_MESSAGE_TIMEOUT_SECONDS", 30),

		MaxPromptLength:    getEnvAsInt("MAX_PROMPT_LENGTH", 4000),
		MaxHistoryMessages: getEnvAsInt("MAX_HISTORY_MESSAGES", 30),

		ListenAddr: getEnv("LISTEN_ADDR", ":8080"),
	}

	missing := []string{}
	if cfg.OpenAIAPIKey == "" {
		missing = append(missing, "OPENAI_API_KEY")
	}
	if cfg.DeepgramAPIKey == "" {
		missing = append(missing, "DEEPGRAM_API_KEY")
	}
	if cfg.AvatarTalkAPIKey == "" {
		missing = append(missing, "AVATARTALK_API_KEY")
	}
	if len(missing) > 0 {
		core.GetLogger().Fatal("missing required API keys", "keys", missing)
	}

	return cfg
}

// getEnv gets an environment variable with a default fallback
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvAsInt gets an environment variable as integer with a default fallback
func getEnvAsInt(key string, defaultValue int) int {
	valStr := getEnv(key, "")
	if valStr == "" {
		return defaultValue
	}
	val, err := strconv.Atoi(valStr)
	if err != nil {
		return defaultValue
	}
	return val
}

// getEnvAsDuration reads a whole-seconds environment variable as a Duration.
func getEnvAsDuration(key string, defaultSeconds int) time.Duration {
	return time.Duration(getEnvAsInt(key, defaultSeconds)) * time.Second
}
