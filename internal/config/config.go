package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

const (
	envPrefix               = "SQUARE"
	defaultHTTPAddress      = "0.0.0.0:8080"
	defaultDatabasePath     = "square.db"
	defaultLogLevel         = "info"
	defaultTokenTTLSeconds  = 600
	defaultLeaderboardLimit = 10
)

// AppConfig captures runtime configuration for the API server. It is loaded once
// at startup and passed explicitly into the components that need it.
type AppConfig struct {
	HTTPAddress      string
	SigningSecret    string
	TokenTTL         time.Duration
	DatabasePath     string
	LogLevel         string
	LeaderboardLimit int
	AdminID          string
	AdminPassword    string
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
	configViper.SetDefault("auth.token_ttl_seconds", defaultTokenTTLSeconds)
	configViper.SetDefault("leaderboard.limit", defaultLeaderboardLimit)
}

// Load parses runtime configuration from viper.
func Load(configViper *viper.Viper) (AppConfig, error) {
	cfg := AppConfig{
		HTTPAddress:      configViper.GetString("http.address"),
		SigningSecret:    configViper.GetString("auth.signing_secret"),
		TokenTTL:         time.Duration(configViper.GetInt("auth.token_ttl_seconds")) * time.Second,
		DatabasePath:     configViper.GetString("database.path"),
		LogLevel:         configViper.GetString("log.level"),
		LeaderboardLimit: configViper.GetInt("leaderboard.limit"),
		AdminID:          configViper.GetString("admin.id"),
		AdminPassword:    configViper.GetString("admin.password"),
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
		return fmt.Errorf("auth.token_ttl_seconds must be positive")
	}
	if c.LeaderboardLimit <= 0 {
		return fmt.Errorf("leaderboard.limit must be positive")
	}
	if c.AdminID != "" && strings.TrimSpace(c.AdminPassword) == "" {
		return fmt.Errorf("admin.password is required when admin.id is set")
	}
	return nil
}
