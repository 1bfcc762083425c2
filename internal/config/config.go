package config

import (
	"os"
	"regexp"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
)

// EnvPrefix is the prefix for environment overrides. Nested keys use "__",
// so CRM_AI__FAST__MODEL sets ai.fast.model.
const EnvPrefix = "CRM_"

type Config struct {
	Server    ServerConfig    `koanf:"server"`
	Storage   StorageConfig   `koanf:"storage"`
	AI        AIConfig        `koanf:"ai"`
	CMS       CMSConfig       `koanf:"cms"`
	Webhook   WebhookConfig   `koanf:"webhook"`
	MailRelay MailRelayConfig `koanf:"mailrelay"`
	Checkout  CheckoutConfig  `koanf:"checkout"`
	Dashboard DashboardConfig `koanf:"dashboard"`
}

type ServerConfig struct {
	Port           int           `koanf:"port"`
	RequestTimeout time.Duration `koanf:"request_timeout"`
}

type StorageConfig struct {
	Driver string `koanf:"driver"` // sqlite, postgres, memory
	DSN    string `koanf:"dsn"`
}

// AIConfig configures the two inference backends and the routing heuristic.
type AIConfig struct {
	MaxFastLength int           `koanf:"max_fast_length"`
	DeepKeywords  string        `koanf:"deep_keywords"`
	Fast          BackendConfig `koanf:"fast"`
	Deep          BackendConfig `koanf:"deep"`
}

type BackendConfig struct {
	Name    string `koanf:"name"`
	Model   string `koanf:"model"`
	BaseURL string `koanf:"base_url"`
}

// CMSConfig configures the lead ingestion namespace.
type CMSConfig struct {
	SiteURL string `koanf:"site_url"`
}

type WebhookConfig struct {
	URL                 string            `koanf:"url"`
	Source              string            `koanf:"source"`
	Timeout             time.Duration     `koanf:"timeout"`
	RetryDelay          time.Duration     `koanf:"retry_delay"`
	BlockPrivateTargets bool              `koanf:"block_private_targets"`
	Headers             map[string]string `koanf:"headers"`
}

type MailRelayConfig struct {
	Host   string `koanf:"host"`
	APIKey string `koanf:"api_key"`
	Group  int    `koanf:"group"`
}

type CheckoutConfig struct {
	SecretKey  string `koanf:"secret_key"`
	BaseURL    string `koanf:"base_url"`
	Currency   string `koanf:"currency"`
	SuccessURL string `koanf:"success_url"`
	CancelURL  string `koanf:"cancel_url"`
}

// DashboardConfig configures the upstream data sources the dashboard merges.
type DashboardConfig struct {
	Enabled         bool          `koanf:"enabled"`
	SupabaseURL     string        `koanf:"supabase_url"`
	SupabaseKey     string        `koanf:"supabase_key"`
	CMSURL          string        `koanf:"cms_url"`
	CMSKey          string        `koanf:"cms_key"`
	RefreshInterval time.Duration `koanf:"refresh_interval"`
	ListCap         int           `koanf:"list_cap"`
	Retries         int           `koanf:"retries"`
	AttemptTimeout  time.Duration `koanf:"attempt_timeout"`
	Feed            string        `koanf:"feed"` // realtime, postgres, none
	FeedTable       string        `koanf:"feed_table"`
	FeedChannel     string        `koanf:"feed_channel"`
	FeedInstall     bool          `koanf:"feed_install"` // install the postgres notify trigger
	DatabaseURL     string        `koanf:"database_url"`
}

var defaults = map[string]any{
	"server.port":                8080,
	"server.request_timeout":     "30s",
	"storage.driver":             "sqlite",
	"storage.dsn":                "./data/crm.db",
	"ai.max_fast_length":         280,
	"ai.deep_keywords":           "strategy|plan|sequence|long-form|campaign",
	"ai.fast.name":               "fast",
	"ai.fast.model":              "llama3.1:8b",
	"ai.fast.base_url":           "http://localhost:11434",
	"ai.deep.name":               "deep",
	"ai.deep.model":              "llama3.1:70b",
	"ai.deep.base_url":           "http://localhost:11434",
	"webhook.source":             "enterprise-crm",
	"webhook.timeout":            "10s",
	"webhook.retry_delay":        "5m",
	"checkout.base_url":          "https://api.stripe.com",
	"checkout.currency":          "usd",
	"dashboard.refresh_interval": "5m",
	"dashboard.list_cap":         50,
	"dashboard.retries":          3,
	"dashboard.attempt_timeout":  "10s",
	"dashboard.feed":             "realtime",
	"dashboard.feed_table":       "contacts",
	"dashboard.feed_channel":     "contacts_changes",
	"dashboard.feed_install":     true,
}

var envVarPattern = regexp.MustCompile(`\$\{([^}]+)\}`)

// Load reads config.yaml from the working directory, then applies env overrides.
func Load() (*Config, error) {
	return LoadFile("config.yaml")
}

// LoadFile reads the given YAML file (a missing file is not an error), then
// applies CRM_ environment overrides and defaults.
func LoadFile(path string) (*Config, error) {
	k := koanf.New(".")

	if path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			// File not found is OK, we'll use env vars
			if !os.IsNotExist(err) {
				return nil, err
			}
		}
	}

	// Load environment variables (can override file config)
	if err := k.Load(env.Provider(EnvPrefix, ".", func(s string) string {
		return strings.Replace(strings.ToLower(strings.TrimPrefix(s, EnvPrefix)), "__", ".", -1)
	}), nil); err != nil {
		return nil, err
	}

	for key, value := range defaults {
		if !k.Exists(key) {
			k.Set(key, value)
		}
	}

	var cfg Config
	if err := k.Unmarshal("", &cfg); err != nil {
		return nil, err
	}

	cfg.substituteSecrets()
	return &cfg, nil
}

// substituteSecrets expands ${VAR} references in credential and URL fields.
func (c *Config) substituteSecrets() {
	for _, s := range []*string{
		&c.Storage.DSN,
		&c.AI.Fast.BaseURL,
		&c.AI.Deep.BaseURL,
		&c.CMS.SiteURL,
		&c.Webhook.URL,
		&c.MailRelay.Host,
		&c.MailRelay.APIKey,
		&c.Checkout.SecretKey,
		&c.Dashboard.SupabaseURL,
		&c.Dashboard.SupabaseKey,
		&c.Dashboard.CMSURL,
		&c.Dashboard.CMSKey,
		&c.Dashboard.DatabaseURL,
	} {
		*s = substituteEnvVars(*s)
	}
	for k, v := range c.Webhook.Headers {
		c.Webhook.Headers[k] = substituteEnvVars(v)
	}
}

func substituteEnvVars(s string) string {
	return envVarPattern.ReplaceAllStringFunc(s, func(match string) string {
		// Extract variable name from ${VAR_NAME}
		varName := envVarPattern.FindStringSubmatch(match)[1]
		return os.Getenv(varName)
	})
}
