package config

import (
	"fmt"
	"os"
	"regexp"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
)

// EnvPrefix namespaces environment overrides, e.g. STUDIOZ_SERVER__PORT.
const EnvPrefix = "STUDIOZ_"

type Config struct {
	Server    ServerConfig    `koanf:"server"`
	Providers ProvidersConfig `koanf:"providers"`
	Preview   PreviewConfig   `koanf:"preview"`
	Failover  FailoverConfig  `koanf:"failover"`
	Quota     QuotaConfig     `koanf:"quota"`
	Storage   StorageConfig   `koanf:"storage"`
	Notify    NotifyConfig    `koanf:"notify"`
	Auth      AuthConfig      `koanf:"auth"`
	Telemetry TelemetryConfig `koanf:"telemetry"`
}

type ServerConfig struct {
	Port           int           `koanf:"port"`
	RequestTimeout time.Duration `koanf:"request_timeout"`
	// EnableTestEmail mounts GET /api/test-email for operators.
	EnableTestEmail bool `koanf:"enable_test_email"`
}

type ProvidersConfig struct {
	V0       V0Config       `koanf:"v0"`
	Claude   ClaudeConfig   `koanf:"claude"`
	Grok     GrokConfig     `koanf:"grok"`
	DeepSeek DeepSeekConfig `koanf:"deepseek"`
}

type V0Config struct {
	APIKey  string `koanf:"api_key"`
	BaseURL string `koanf:"base_url"`
}

type ClaudeConfig struct {
	APIKey      string  `koanf:"api_key"`
	BaseURL     string  `koanf:"base_url"`
	Model       string  `koanf:"model"`
	MaxTokens   int     `koanf:"max_tokens"`
	Temperature float64 `koanf:"temperature"`
}

type GrokConfig struct {
	APIKey    string        `koanf:"api_key"`
	Model     string        `koanf:"model"`
	MaxTokens int           `koanf:"max_tokens"`
	Timeout   time.Duration `koanf:"timeout"`
}

type DeepSeekConfig struct {
	APIKey string `koanf:"api_key"`
	// Endpoint is the Azure resource endpoint. When empty, BaseURL is used in
	// plain OpenAI-compatible mode.
	Endpoint   string `koanf:"endpoint"`
	APIVersion string `koanf:"api_version"`
	BaseURL    string `koanf:"base_url"`
	Model      string `koanf:"model"`
	MaxTokens  int    `koanf:"max_tokens"`
}

type PreviewConfig struct {
	// PublicHost is the externally reachable host used when rewriting preview URLs.
	PublicHost string `koanf:"public_host"`
	// InternalHost is the vendor preview domain, e.g. vusercontent.net.
	InternalHost string        `koanf:"internal_host"`
	UserAgent    string        `koanf:"user_agent"`
	CacheSize    int           `koanf:"cache_size"`
	CacheTTL     time.Duration `koanf:"cache_ttl"`
	FetchTimeout time.Duration `koanf:"fetch_timeout"`
}

type FailoverConfig struct {
	FirstResponseTimeout time.Duration `koanf:"first_response_timeout"`
	NotifyTimeout        time.Duration `koanf:"notify_timeout"`
}

type QuotaConfig struct {
	WindowHours  int            `koanf:"window_hours"`
	Anonymous    int            `koanf:"anonymous"`
	Entitlements map[string]int `koanf:"entitlements"`
}

type StorageConfig struct {
	Type   string       `koanf:"type"` // sqlite, memory
	SQLite SQLiteConfig `koanf:"sqlite"`
}

type SQLiteConfig struct {
	Path string `koanf:"path"`
}

type NotifyConfig struct {
	ResendAPIKey string `koanf:"resend_api_key"`
	From         string `koanf:"from"`
	To           string `koanf:"to"`
}

type AuthConfig struct {
	Keys []APIKeyConfig `koanf:"keys"`
}

type APIKeyConfig struct {
	KeyHash     string `koanf:"key_hash"`
	UserID      string `koanf:"user_id"`
	UserType    string `koanf:"user_type"`
	Description string `koanf:"description"`
}

type TelemetryConfig struct {
	Enabled     bool   `koanf:"enabled"`
	ServiceName string `koanf:"service_name"`
}

// defaults are applied to keys that neither the file nor the environment set.
var defaults = map[string]any{
	"server.port":                     8080,
	"server.request_timeout":          "5m",
	"providers.v0.base_url":           "https://api.v0.dev/v1",
	"providers.claude.model":          "claude-3-5-sonnet-20241022",
	"providers.claude.max_tokens":     4096,
	"providers.claude.temperature":    0.7,
	"providers.grok.model":            "grok-2-latest",
	"providers.grok.max_tokens":       4096,
	"providers.grok.timeout":          "2m",
	"providers.deepseek.model":        "DeepSeek-R1",
	"providers.deepseek.api_version":  "2024-05-01-preview",
	"providers.deepseek.max_tokens":   4096,
	"preview.internal_host":           "vusercontent.net",
	"preview.user_agent":              "AJ STUDIOZ Preview",
	"preview.cache_size":              256,
	"preview.cache_ttl":               "1h",
	"preview.fetch_timeout":           "15s",
	"failover.first_response_timeout": "60s",
	"failover.notify_timeout":         "10s",
	"quota.window_hours":              24,
	"quota.anonymous":                 3,
	"quota.entitlements.guest":        5,
	"quota.entitlements.regular":      50,
	"storage.type":                    "sqlite",
	"storage.sqlite.path":             "./data/studioz.db",
	"notify.from":                     "AJ STUDIOZ <noreply@ajstudioz.co.in>",
	"telemetry.service_name":          "studioz-gateway",
}

// vendorEnv maps the unprefixed variable names used by existing deployments.
// They fill a key only when neither the file nor a STUDIOZ_ variable set it.
var vendorEnv = map[string]string{
	"V0_API_KEY":              "providers.v0.api_key",
	"V0_API_URL":              "providers.v0.base_url",
	"ANTHROPIC_API_KEY":       "providers.claude.api_key",
	"XAI_API_KEY":             "providers.grok.api_key",
	"AZURE_DEEPSEEK_API_KEY":  "providers.deepseek.api_key",
	"AZURE_DEEPSEEK_ENDPOINT": "providers.deepseek.endpoint",
	"RESEND_API_KEY":          "notify.resend_api_key",
	"NOTIFY_EMAIL_TO":         "notify.to",
	"PUBLIC_PREVIEW_HOST":     "preview.public_host",
}

var envVarPattern = regexp.MustCompile(`\$\{([^}]+)\}`)

// Load reads path (optional; a missing file is not an error), then STUDIOZ_
// environment variables, then the vendor variables, then defaults.
func Load(path string) (*Config, error) {
	k := koanf.New(".")

	if path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			if !os.IsNotExist(err) {
				return nil, fmt.Errorf("load %s: %w", path, err)
			}
		}
	}

	if err := k.Load(env.Provider(EnvPrefix, ".", func(s string) string {
		return strings.Replace(strings.ToLower(strings.TrimPrefix(s, EnvPrefix)), "__", ".", -1)
	}), nil); err != nil {
		return nil, err
	}

	for name, key := range vendorEnv {
		if v := os.Getenv(name); v != "" && !k.Exists(key) {
			k.Set(key, v)
		}
	}

	for key, v := range defaults {
		if !k.Exists(key) {
			k.Set(key, v)
		}
	}

	var cfg Config
	if err := k.Unmarshal("", &cfg); err != nil {
		return nil, err
	}

	cfg.substituteSecrets()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) substituteSecrets() {
	secrets := []*string{
		&c.Providers.V0.APIKey,
		&c.Providers.Claude.APIKey,
		&c.Providers.Grok.APIKey,
		&c.Providers.DeepSeek.APIKey,
		&c.Providers.DeepSeek.Endpoint,
		&c.Notify.ResendAPIKey,
	}
	for _, s := range secrets {
		*s = substituteEnvVars(*s)
	}
}

// Validate rejects configurations the server cannot start with.
func (c *Config) Validate() error {
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("server.port %d out of range", c.Server.Port)
	}
	switch c.Storage.Type {
	case "sqlite", "memory":
	default:
		return fmt.Errorf("storage.type %q: want sqlite or memory", c.Storage.Type)
	}
	if c.Quota.WindowHours <= 0 {
		return fmt.Errorf("quota.window_hours must be positive")
	}
	for i, key := range c.Auth.Keys {
		if key.KeyHash == "" || key.UserID == "" {
			return fmt.Errorf("auth.keys[%d]: key_hash and user_id are required", i)
		}
	}
	return nil
}

func substituteEnvVars(s string) string {
	return envVarPattern.ReplaceAllStringFunc(s, func(match string) string {
		varName := envVarPattern.FindStringSubmatch(match)[1]
		return os.Getenv(varName)
	})
}
