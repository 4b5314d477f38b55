package config

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/viper"
)

// Config holds all application configuration.
type Config struct {
	Server    ServerConfig    `mapstructure:"server"`
	Store     StoreConfig     `mapstructure:"store"`
	Redis     RedisConfig     `mapstructure:"redis"`
	Providers ProvidersConfig `mapstructure:"providers"`
	Auth      AuthConfig      `mapstructure:"auth"`
	Log       LogConfig       `mapstructure:"log"`
}

// ServerConfig holds HTTP server configuration.
type ServerConfig struct {
	Address      string        `mapstructure:"address"`
	ReadTimeout  time.Duration `mapstructure:"read_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
	IdleTimeout  time.Duration `mapstructure:"idle_timeout"`
	MaxBodyBytes int64         `mapstructure:"max_body_bytes"`
}

// StoreConfig holds the document store (BaaS) connection settings.
type StoreConfig struct {
	Endpoint    string            `mapstructure:"endpoint"`
	ProjectID   string            `mapstructure:"project_id"`
	APIKey      string            `mapstructure:"api_key"`
	DatabaseID  string            `mapstructure:"database_id"`
	Collections CollectionsConfig `mapstructure:"collections"`
}

// CollectionsConfig holds one collection ID per stored entity type.
type CollectionsConfig struct {
	Profiles string `mapstructure:"profiles"`
	Threads  string `mapstructure:"threads"`
	Messages string `mapstructure:"messages"`
	Pricing  string `mapstructure:"pricing"`
}

// Validate checks that every required store setting is present.
// The store client calls this before its first operation so a missing
// setting fails fast with a descriptive error instead of degrading.
func (c *StoreConfig) Validate() error {
	required := []struct {
		key   string
		value string
	}{
		{"store.endpoint", c.Endpoint},
		{"store.project_id", c.ProjectID},
		{"store.api_key", c.APIKey},
		{"store.database_id", c.DatabaseID},
		{"store.collections.profiles", c.Collections.Profiles},
		{"store.collections.threads", c.Collections.Threads},
		{"store.collections.messages", c.Collections.Messages},
		{"store.collections.pricing", c.Collections.Pricing},
	}
	for _, r := range required {
		if r.value == "" {
			return fmt.Errorf("missing required configuration %q", r.key)
		}
	}
	return nil
}

// RedisConfig holds Redis configuration. Redis is optional; an empty
// address disables caching.
type RedisConfig struct {
	Address  string `mapstructure:"address"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

// ProvidersConfig holds per-provider base URLs and the shared HTTP timeout.
type ProvidersConfig struct {
	OpenAIBaseURL    string        `mapstructure:"openai_base_url"`
	AnthropicBaseURL string        `mapstructure:"anthropic_base_url"`
	GoogleBaseURL    string        `mapstructure:"google_base_url"`
	MistralBaseURL   string        `mapstructure:"mistral_base_url"`
	RequestTimeout   time.Duration `mapstructure:"request_timeout"`
}

// AuthConfig holds authentication configuration.
type AuthConfig struct {
	JWTSecret string `mapstructure:"jwt_secret"`
}

// LogConfig holds logging configuration.
type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// Load loads configuration from file and environment.
func Load() (*Config, error) {
	v := viper.New()

	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	v.AddConfigPath("./configs")
	v.AddConfigPath("/etc/chatrelay")

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("read config: %w", err)
		}
		// Config file not found, use defaults and env
	}

	v.SetEnvPrefix("CHATRELAY")
	v.AutomaticEnv()

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	// Override with environment variables for sensitive values
	if key := os.Getenv("CHATRELAY_STORE_API_KEY"); key != "" {
		cfg.Store.APIKey = key
	}
	if secret := os.Getenv("CHATRELAY_JWT_SECRET"); secret != "" {
		cfg.Auth.JWTSecret = secret
	}
	if password := os.Getenv("CHATRELAY_REDIS_PASSWORD"); password != "" {
		cfg.Redis.Password = password
	}

	return &cfg, nil
}

// setDefaults sets default configuration values.
func setDefaults(v *viper.Viper) {
	// Server defaults
	v.SetDefault("server.address", ":8080")
	v.SetDefault("server.read_timeout", 30*time.Second)
	// Write timeout must cover long-lived token streams.
	v.SetDefault("server.write_timeout", 5*time.Minute)
	v.SetDefault("server.idle_timeout", 120*time.Second)
	v.SetDefault("server.max_body_bytes", int64(1<<20))

	// Redis defaults
	v.SetDefault("redis.address", "")
	v.SetDefault("redis.db", 0)

	// Provider defaults
	v.SetDefault("providers.openai_base_url", "https://api.openai.com/v1")
	v.SetDefault("providers.anthropic_base_url", "https://api.anthropic.com/v1")
	v.SetDefault("providers.google_base_url", "https://generativelanguage.googleapis.com/v1beta")
	v.SetDefault("providers.mistral_base_url", "https://api.mistral.ai/v1")
	v.SetDefault("providers.request_timeout", 2*time.Minute)

	// Log defaults
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")
}
