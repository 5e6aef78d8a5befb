package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

const (
	envPrefix                = "GURUKUL"
	defaultHTTPAddress       = "0.0.0.0:8080"
	defaultDatabaseDriver    = "sqlite"
	defaultDatabasePath      = "gurukul.db"
	defaultLogLevel          = "info"
	defaultCookieName        = "__session"
	defaultWebhookTolerance  = 300
	defaultMediaRegion       = "us-east-1"
	defaultMediaPrefix       = "gurukul"
	defaultCORSAllowedOrigin = "http://localhost:3000"
)

// AppConfig captures runtime configuration for the API server.
type AppConfig struct {
	HTTPAddress string
	LogLevel    string

	DatabaseDriver string
	DatabasePath   string
	DatabaseDSN    string

	WebhookSigningSecret string
	WebhookTolerance     time.Duration

	SessionSigningSecret  string
	SessionIssuer         string
	SessionCookieName     string
	SessionJWKSURL        string
	SessionAllowedIssuers []string

	MediaBucket    string
	MediaRegion    string
	MediaEndpoint  string
	MediaAccessKey string
	MediaSecretKey string
	MediaPathStyle bool
	MediaPrefix    string

	CORSAllowedOrigins []string
}

// UsesJWKS reports whether caller sessions are verified against a JWKS document.
func (c AppConfig) UsesJWKS() bool {
	return c.SessionJWKSURL != ""
}

// MediaEnabled reports whether an object store bucket is configured.
func (c AppConfig) MediaEnabled() bool {
	return c.MediaBucket != ""
}

// NewViper returns a viper instance with defaults and env bindings configured.
func NewViper() *viper.Viper {
	configViper := viper.New()
	ApplyDefaults(configViper)
	return configViper
}

// ApplyDefaults configures defaults and env bindings on the provided viper instance.
func ApplyDefaults(configViper *viper.Viper) {
	configViper.SetEnvPrefix(envPrefix)
	configViper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	configViper.AutomaticEnv()

	configViper.SetDefault("http.address", defaultHTTPAddress)
	configViper.SetDefault("log.level", defaultLogLevel)
	configViper.SetDefault("database.driver", defaultDatabaseDriver)
	configViper.SetDefault("database.path", defaultDatabasePath)
	configViper.SetDefault("database.dsn", "")
	configViper.SetDefault("webhook.signing_secret", "")
	configViper.SetDefault("webhook.tolerance_seconds", defaultWebhookTolerance)
	configViper.SetDefault("session.signing_secret", "")
	configViper.SetDefault("session.issuer", "")
	configViper.SetDefault("session.cookie_name", defaultCookieName)
	configViper.SetDefault("session.jwks_url", "")
	configViper.SetDefault("session.allowed_issuers", "")
	configViper.SetDefault("media.bucket", "")
	configViper.SetDefault("media.region", defaultMediaRegion)
	configViper.SetDefault("media.endpoint", "")
	configViper.SetDefault("media.access_key", "")
	configViper.SetDefault("media.secret_key", "")
	configViper.SetDefault("media.path_style", false)
	configViper.SetDefault("media.prefix", defaultMediaPrefix)
	configViper.SetDefault("cors.allowed_origins", defaultCORSAllowedOrigin)
}

// Load parses runtime configuration from viper.
func Load(configViper *viper.Viper) (AppConfig, error) {
	cfg := AppConfig{
		HTTPAddress:           strings.TrimSpace(configViper.GetString("http.address")),
		LogLevel:              configViper.GetString("log.level"),
		DatabaseDriver:        strings.ToLower(strings.TrimSpace(configViper.GetString("database.driver"))),
		DatabasePath:          strings.TrimSpace(configViper.GetString("database.path")),
		DatabaseDSN:           strings.TrimSpace(configViper.GetString("database.dsn")),
		WebhookSigningSecret:  strings.TrimSpace(configViper.GetString("webhook.signing_secret")),
		WebhookTolerance:      time.Duration(configViper.GetInt("webhook.tolerance_seconds")) * time.Second,
		SessionSigningSecret:  configViper.GetString("session.signing_secret"),
		SessionIssuer:         strings.TrimSpace(configViper.GetString("session.issuer")),
		SessionCookieName:     strings.TrimSpace(configViper.GetString("session.cookie_name")),
		SessionJWKSURL:        strings.TrimSpace(configViper.GetString("session.jwks_url")),
		SessionAllowedIssuers: splitList(configViper.Get("session.allowed_issuers")),
		MediaBucket:           strings.TrimSpace(configViper.GetString("media.bucket")),
		MediaRegion:           strings.TrimSpace(configViper.GetString("media.region")),
		MediaEndpoint:         strings.TrimSpace(configViper.GetString("media.endpoint")),
		MediaAccessKey:        configViper.GetString("media.access_key"),
		MediaSecretKey:        configViper.GetString("media.secret_key"),
		MediaPathStyle:        configViper.GetBool("media.path_style"),
		MediaPrefix:           strings.Trim(strings.TrimSpace(configViper.GetString("media.prefix")), "/"),
		CORSAllowedOrigins:    splitList(configViper.Get("cors.allowed_origins")),
	}

	if err := cfg.validate(); err != nil {
		return AppConfig{}, err
	}

	return cfg, nil
}

func (c AppConfig) validate() error {
	if c.HTTPAddress == "" {
		return fmt.Errorf("http.address is required")
	}
	switch c.DatabaseDriver {
	case "sqlite":
		if c.DatabasePath == "" {
			return fmt.Errorf("database.path is required for the sqlite driver")
		}
	case "postgres":
		if c.DatabaseDSN == "" {
			return fmt.Errorf("database.dsn is required for the postgres driver")
		}
	default:
		return fmt.Errorf("database.driver must be sqlite or postgres, got %q", c.DatabaseDriver)
	}
	if c.WebhookSigningSecret == "" {
		return fmt.Errorf("webhook.signing_secret is required")
	}
	if c.WebhookTolerance <= 0 {
		return fmt.Errorf("webhook.tolerance_seconds must be positive")
	}
	if c.UsesJWKS() {
		if len(c.SessionAllowedIssuers) == 0 {
			return fmt.Errorf("session.allowed_issuers is required with session.jwks_url")
		}
	} else {
		if strings.TrimSpace(c.SessionSigningSecret) == "" {
			return fmt.Errorf("session.signing_secret or session.jwks_url is required")
		}
		if c.SessionIssuer == "" {
			return fmt.Errorf("session.issuer is required with session.signing_secret")
		}
	}
	if c.SessionCookieName == "" {
		return fmt.Errorf("session.cookie_name is required")
	}
	if c.MediaEnabled() {
		if c.MediaRegion == "" {
			return fmt.Errorf("media.region is required with media.bucket")
		}
		if c.MediaPrefix == "" {
			return fmt.Errorf("media.prefix is required with media.bucket")
		}
	}
	return nil
}

// splitList accepts either a list value or a comma/space separated string.
func splitList(raw interface{}) []string {
	var parts []string
	switch value := raw.(type) {
	case []string:
		parts = value
	case []interface{}:
		for _, item := range value {
			parts = append(parts, fmt.Sprint(item))
		}
	case string:
		parts = strings.FieldsFunc(value, func(r rune) bool {
			return r == ',' || r == ' '
		})
	}

	values := make([]string, 0, len(parts))
	for _, part := range parts {
		if trimmed := strings.TrimSpace(part); trimmed != "" {
			values = append(values, trimmed)
		}
	}
	return values
}
