package config

import (
	"fmt"
	"strings"

	"github.com/spf13/viper"
)

const (
	envPrefix             = "HERALD"
	defaultHTTPAddress    = "0.0.0.0:8080"
	defaultDatabasePath   = "herald.db"
	defaultLogLevel       = "info"
	defaultTenantID       = "default"
	defaultTenantName     = "Herald Notifications"
	defaultTokenTTL       = 30
	defaultHeartbeat      = true
	defaultFCMCredentials = ""
)

// AppConfig captures runtime configuration for the API server.
type AppConfig struct {
	HTTPAddress        string
	DatabasePath       string
	LogLevel           string
	SigningSecret      string
	TokenTTLMinutes    int
	DefaultTenantID    string
	DefaultTenantName  string
	FCMProjectID       string
	FCMCredentialsFile string
	HeartbeatEnabled   bool
	DevAuthEnabled     bool
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
	configViper.SetDefault("tenant.default_id", defaultTenantID)
	configViper.SetDefault("tenant.default_name", defaultTenantName)
	configViper.SetDefault("fcm.project_id", "")
	configViper.SetDefault("fcm.credentials_file", defaultFCMCredentials)
	configViper.SetDefault("heartbeat.enabled", defaultHeartbeat)
	configViper.SetDefault("auth.dev_endpoint", false)
}

// Load parses runtime configuration from viper.
func Load(configViper *viper.Viper) (AppConfig, error) {
	cfg := AppConfig{
		HTTPAddress:        configViper.GetString("http.address"),
		DatabasePath:       configViper.GetString("database.path"),
		LogLevel:           configViper.GetString("log.level"),
		SigningSecret:      configViper.GetString("auth.signing_secret"),
		TokenTTLMinutes:    configViper.GetInt("token.ttl_minutes"),
		DefaultTenantID:    configViper.GetString("tenant.default_id"),
		DefaultTenantName:  configViper.GetString("tenant.default_name"),
		FCMProjectID:       configViper.GetString("fcm.project_id"),
		FCMCredentialsFile: configViper.GetString("fcm.credentials_file"),
		HeartbeatEnabled:   configViper.GetBool("heartbeat.enabled"),
		DevAuthEnabled:     configViper.GetBool("auth.dev_endpoint"),
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
	if strings.TrimSpace(c.DefaultTenantID) == "" {
		return fmt.Errorf("tenant.default_id is required")
	}
	return nil
}
