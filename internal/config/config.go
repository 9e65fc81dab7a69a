package config

import (
	"strings"

	"github.com/spf13/viper"
)

type Config struct {
	AppPort             int    `mapstructure:"APP_PORT"`
	DatabasePath        string `mapstructure:"DATABASE_PATH"`
	LogLevel            string `mapstructure:"LOG_LEVEL"`
	LogEncoding         string `mapstructure:"LOG_ENCODING"`
	InitialSystemPrompt string `mapstructure:"INITIAL_SYSTEM_PROMPT"`
	DefaultProvider     string `mapstructure:"DEFAULT_PROVIDER"`

	OpenRouterURL    string `mapstructure:"OPENROUTER_URL"`
	OpenRouterAPIKey string `mapstructure:"OPENROUTER_API_KEY"`
	GroqURL          string `mapstructure:"GROQ_URL"`
	GroqAPIKey       string `mapstructure:"GROQ_API_KEY"`
	GeminiURL        string `mapstructure:"GEMINI_URL"`
	GeminiAPIKey     string `mapstructure:"GEMINI_API_KEY"`
	OllamaURL        string `mapstructure:"OLLAMA_URL"`
	LMStudioURL      string `mapstructure:"LMSTUDIO_URL"`

	// ProviderRateLimit caps outbound requests per second for each provider.
	// Zero disables throttling.
	ProviderRateLimit  float64 `mapstructure:"PROVIDER_RATE_LIMIT"`
	CompareMaxParallel int     `mapstructure:"COMPARE_MAX_PARALLEL"`
	CompareStore       string  `mapstructure:"COMPARE_STORE"`
	RedisAddr          string  `mapstructure:"REDIS_ADDR"`
}

func LoadConfig() (*Config, error) {
	setDefaults()

	viper.SetConfigName(".env")
	viper.SetConfigType("env")
	viper.AddConfigPath(".")
	viper.AddConfigPath("./backend")

	viper.AutomaticEnv()
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, err
		}
	}

	var cfg Config
	if err := viper.Unmarshal(&cfg); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func setDefaults() {
	viper.SetDefault("APP_PORT", 8000)
	viper.SetDefault("DATABASE_PATH", "./data/polychat.db")
	viper.SetDefault("LOG_LEVEL", "INFO")
	viper.SetDefault("LOG_ENCODING", "json")
	viper.SetDefault("INITIAL_SYSTEM_PROMPT", "You are a helpful assistant.")
	viper.SetDefault("DEFAULT_PROVIDER", "ollama")

	viper.SetDefault("OPENROUTER_URL", "https://openrouter.ai/api/v1")
	viper.SetDefault("OPENROUTER_API_KEY", "")
	viper.SetDefault("GROQ_URL", "https://api.groq.com/openai/v1")
	viper.SetDefault("GROQ_API_KEY", "")
	viper.SetDefault("GEMINI_URL", "https://generativelanguage.googleapis.com/v1beta")
	viper.SetDefault("GEMINI_API_KEY", "")
	viper.SetDefault("OLLAMA_URL", "http://localhost:11434")
	viper.SetDefault("LMSTUDIO_URL", "http://localhost:1234")

	viper.SetDefault("PROVIDER_RATE_LIMIT", 0)
	viper.SetDefault("COMPARE_MAX_PARALLEL", 8)
	viper.SetDefault("COMPARE_STORE", "sqlite")
	viper.SetDefault("REDIS_ADDR", "localhost:6379")
}
