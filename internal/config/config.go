package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

const (
	envPrefix            = "ECOSPIN"
	defaultHTTPAddress   = "0.0.0.0:8080"
	defaultDatabasePath  = "ecospin.db"
	defaultLogLevel      = "info"
	defaultTokenTTL      = 60
	defaultMediaDir      = "media"
	defaultRetentionDays = 30
)

// AppConfig captures runtime configuration for the API server.
type AppConfig struct {
	HTTPAddress   string
	DatabasePath  string
	LogLevel      string
	SigningSecret string
	TokenTTL      time.Duration

	// Proof media storage. When MediaBucket is empty, uploads land in
	// MediaDir on local disk.
	MediaBucket    string
	MediaEndpoint  string
	MediaBaseURL   string
	MediaAccessKey string
	MediaSecretKey string
	MediaDir       string

	RetentionDays int
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
	configViper.SetDefault("database.path", defaultDatabasePath)
	configViper.SetDefault("log.level", defaultLogLevel)
	configViper.SetDefault("token.ttl_minutes", defaultTokenTTL)
	configViper.SetDefault("media.dir", defaultMediaDir)
	configViper.SetDefault("notifications.retention_days", defaultRetentionDays)
}

// Load parses runtime configuration from viper.
func Load(configViper *viper.Viper) (AppConfig, error) {
	cfg := AppConfig{
		HTTPAddress:    configViper.GetString("http.address"),
		DatabasePath:   configViper.GetString("database.path"),
		LogLevel:       configViper.GetString("log.level"),
		SigningSecret:  configViper.GetString("auth.signing_secret"),
		TokenTTL:       time.Duration(configViper.GetInt("token.ttl_minutes")) * time.Minute,
		MediaBucket:    configViper.GetString("media.bucket"),
		MediaEndpoint:  configViper.GetString("media.endpoint"),
		MediaBaseURL:   configViper.GetString("media.base_url"),
		MediaAccessKey: configViper.GetString("media.access_key"),
		MediaSecretKey: configViper.GetString("media.secret_key"),
		MediaDir:       configViper.GetString("media.dir"),
		RetentionDays:  configViper.GetInt("notifications.retention_days"),
	}

	if err := cfg.validate(); err != nil {
		return AppConfig{}, err
	}

	return cfg, nil
}

func (c AppConfig) validate() error {
	if strings.TrimSpace(c.SigningSecret) == "" {
		return fmt.Errorf("auth.signing_secret is required")
	}
	if strings.TrimSpace(c.DatabasePath) == "" {
		return fmt.Errorf("database.path is required")
	}
	if c.TokenTTL <= 0 {
		return fmt.Errorf("token.ttl_minutes must be positive")
	}
	if c.MediaBucket != "" && (c.MediaAccessKey == "" || c.MediaSecretKey == "") {
		return fmt.Errorf("media.access_key and media.secret_key are required when media.bucket is set")
	}
	if c.RetentionDays <= 0 {
		return fmt.Errorf("notifications.retention_days must be positive")
	}
	return nil
}
