// Package config loads the transport configuration from config.json and
// applies environment overrides for deploy-time secrets.
package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"
)

const (
	envConfigPath  = "VUMITG_CONFIG"
	envBotToken    = "TELEGRAM_BOT_TOKEN"
	envBotUsername = "TELEGRAM_BOT_USERNAME"
	envAMQPURL     = "AMQP_URL"
	envRedisURL    = "REDIS_URL"
)

// Config is the root runtime configuration.
type Config struct {
	Transport TransportConfig `json:"transport"`
	AMQP      AMQPConfig      `json:"amqp"`
	Redis     RedisConfig     `json:"redis"`
	Logging   LoggingConfig   `json:"logging,omitempty"`
}

// TransportConfig configures the Telegram-facing side of the bridge.
type TransportConfig struct {
	// Name identifies this transport on the bus; routing keys and the
	// outbound queue derive from it.
	Name        string `json:"name"`
	BotUsername string `json:"bot_username"`
	BotToken    string `json:"bot_token"`

	// OutboundURL is the Telegram API base; the bot token is appended without
	// a separator, matching api.telegram.org/bot<token> addressing.
	OutboundURL string `json:"outbound_url"`

	// InboundURL is the public HTTPS URL registered as the webhook.
	InboundURL string `json:"inbound_url"`
	WebPath    string `json:"web_path"`
	Host       string `json:"host"`
	Port       int    `json:"port"`

	RequestTimeoutSeconds  int `json:"request_timeout_seconds"`
	DedupTTLSeconds        int `json:"dedup_ttl_seconds"`
	WebhookSetupAttempts   int `json:"webhook_setup_attempts"`
	SendRetryAttempts      int `json:"send_retry_attempts"`
	SendRetryBackoffMillis int `json:"send_retry_backoff_millis"`
}

// AMQPConfig configures the RabbitMQ bus connection.
type AMQPConfig struct {
	URL          string `json:"url"`
	Exchange     string `json:"exchange"`
	Prefetch     int    `json:"prefetch"`
	Workers      int    `json:"workers"`
	DialAttempts int    `json:"dial_attempts"`
}

// RedisConfig configures the deduplication store connection.
type RedisConfig struct {
	URL string `json:"url"`
}

// LoggingConfig controls structured log output format and verbosity.
type LoggingConfig struct {
	Format    string `json:"format,omitempty"`
	Level     string `json:"level,omitempty"`
	AddSource bool   `json:"add_source,omitempty"`
}

// Defaults applied when the file leaves a value unset.
const (
	DefaultName            = "telegram_transport"
	DefaultOutboundURL     = "https://api.telegram.org/bot"
	DefaultWebPath         = "/telegram"
	DefaultHost            = "0.0.0.0"
	DefaultPort            = 8443
	DefaultExchange        = "vumi"
	DefaultRequestTimeout  = 15
	DefaultDedupTTL        = 600
	DefaultWebhookAttempts = 5
	DefaultSendAttempts    = 4
	DefaultSendBackoff     = 500
)

// LoadConfig resolves config.json, unmarshals it, applies environment
// overrides and defaults, and validates required settings.
func LoadConfig() (*Config, error) {
	configPath, err := findConfigPath()
	if err != nil {
		return nil, err
	}

	content, err := os.ReadFile(configPath)
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}

	var cfg Config
	if err := json.Unmarshal(content, &cfg); err != nil {
		return nil, fmt.Errorf("parse config file: %w", err)
	}

	applyEnvOverrides(&cfg)
	applyDefaults(&cfg)

	if err := cfg.validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// RequestTimeout returns the per-request I/O bound as a duration.
func (c *Config) RequestTimeout() time.Duration {
	return time.Duration(c.Transport.RequestTimeoutSeconds) * time.Second
}

// DedupTTL returns the deduplication window as a duration.
func (c *Config) DedupTTL() time.Duration {
	return time.Duration(c.Transport.DedupTTLSeconds) * time.Second
}

// SendRetryBackoff returns the initial outbound retry backoff as a duration.
func (c *Config) SendRetryBackoff() time.Duration {
	return time.Duration(c.Transport.SendRetryBackoffMillis) * time.Millisecond
}

func (c *Config) validate() error {
	var missing []string
	if strings.TrimSpace(c.Transport.BotToken) == "" {
		missing = append(missing, "transport.bot_token")
	}
	if strings.TrimSpace(c.Transport.BotUsername) == "" {
		missing = append(missing, "transport.bot_username")
	}
	if strings.TrimSpace(c.Transport.InboundURL) == "" {
		missing = append(missing, "transport.inbound_url")
	}
	if strings.TrimSpace(c.AMQP.URL) == "" {
		missing = append(missing, "amqp.url")
	}
	if strings.TrimSpace(c.Redis.URL) == "" {
		missing = append(missing, "redis.url")
	}
	if len(missing) > 0 {
		return fmt.Errorf("missing required configuration: %s", strings.Join(missing, ", "))
	}

	return nil
}

func applyEnvOverrides(cfg *Config) {
	if token := strings.TrimSpace(os.Getenv(envBotToken)); token != "" {
		cfg.Transport.BotToken = token
	}
	if username := strings.TrimSpace(os.Getenv(envBotUsername)); username != "" {
		cfg.Transport.BotUsername = username
	}
	if url := strings.TrimSpace(os.Getenv(envAMQPURL)); url != "" {
		cfg.AMQP.URL = url
	}
	if url := strings.TrimSpace(os.Getenv(envRedisURL)); url != "" {
		cfg.Redis.URL = url
	}
}

func applyDefaults(cfg *Config) {
	if cfg.Transport.Name == "" {
		cfg.Transport.Name = DefaultName
	}
	if cfg.Transport.OutboundURL == "" {
		cfg.Transport.OutboundURL = DefaultOutboundURL
	}
	if cfg.Transport.WebPath == "" {
		cfg.Transport.WebPath = DefaultWebPath
	}
	if cfg.Transport.Host == "" {
		cfg.Transport.Host = DefaultHost
	}
	if cfg.Transport.Port == 0 {
		cfg.Transport.Port = DefaultPort
	}
	if cfg.Transport.RequestTimeoutSeconds <= 0 {
		cfg.Transport.RequestTimeoutSeconds = DefaultRequestTimeout
	}
	if cfg.Transport.DedupTTLSeconds <= 0 {
		cfg.Transport.DedupTTLSeconds = DefaultDedupTTL
	}
	if cfg.Transport.WebhookSetupAttempts <= 0 {
		cfg.Transport.WebhookSetupAttempts = DefaultWebhookAttempts
	}
	if cfg.Transport.SendRetryAttempts <= 0 {
		cfg.Transport.SendRetryAttempts = DefaultSendAttempts
	}
	if cfg.Transport.SendRetryBackoffMillis <= 0 {
		cfg.Transport.SendRetryBackoffMillis = DefaultSendBackoff
	}
	if cfg.AMQP.Exchange == "" {
		cfg.AMQP.Exchange = DefaultExchange
	}
	if cfg.AMQP.DialAttempts <= 0 {
		cfg.AMQP.DialAttempts = 5
	}
}

// findConfigPath resolves the active config file location.
//
// Precedence is VUMITG_CONFIG first, then cwd-local fallback paths.
func findConfigPath() (string, error) {
	if value := strings.TrimSpace(os.Getenv(envConfigPath)); value != "" {
		if info, err := os.Stat(value); err == nil && !info.IsDir() {
			return value, nil
		}
		return "", fmt.Errorf("%s does not point to a file: %s", envConfigPath, value)
	}

	cwd, err := os.Getwd()
	if err != nil {
		return "", fmt.Errorf("get current working directory: %w", err)
	}

	candidates := []string{
		filepath.Join(cwd, "config.json"),
		filepath.Join(cwd, "config", "config.json"),
	}

	for _, candidate := range candidates {
		if info, err := os.Stat(candidate); err == nil && !info.IsDir() {
			return candidate, nil
		}
	}

	return "", errors.New("config.json not found (checked " + candidates[0] + " and " + candidates[1] + ")")
}
