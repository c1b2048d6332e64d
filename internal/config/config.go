package config

import (
	"errors"
	"fmt"
	"io/fs"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

const (
	envPrefix               = "MONOLITH"
	defaultHTTPAddress      = "0.0.0.0:8080"
	defaultDatabaseDriver   = "sqlite"
	defaultDatabasePath     = "monolith.db"
	defaultLogLevel         = "info"
	defaultLogEncoding      = "json"
	defaultPaymentsIssuer   = "monolith-payments"
	defaultEmailFrom        = "The Monolith <notify@monolith.example>"
	defaultNotifyWorkers    = 2
	defaultNotifyQueueSize  = 64
	defaultHeartbeatSeconds = 25
	allowedOriginsSeparator = ","
	driverSQLite            = "sqlite"
	driverPostgres          = "postgres"
	encodingJSON            = "json"
	encodingConsole         = "console"
)

// AppConfig captures runtime configuration for the API server.
type AppConfig struct {
	HTTPAddress    string
	EnablePprof    bool
	AllowedOrigins []string

	DatabaseDriver string
	DatabasePath   string
	DatabaseDSN    string

	LogLevel    string
	LogEncoding string

	PaymentsSigningSecret string
	PaymentsIssuer        string

	ResendAPIKey   string
	EmailFrom      string
	EmailEndpoint  string
	NotifyWorkers  int
	NotifyQueueLen int

	HeartbeatInterval time.Duration
}

// PaymentsEnabled reports whether signed payment events are accepted.
func (c AppConfig) PaymentsEnabled() bool {
	return c.PaymentsSigningSecret != ""
}

// EmailEnabled reports whether outbound email goes through Resend.
func (c AppConfig) EmailEnabled() bool {
	return c.ResendAPIKey != ""
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
	configViper.SetDefault("http.pprof", false)
	configViper.SetDefault("http.allowed_origins", "")
	configViper.SetDefault("database.driver", defaultDatabaseDriver)
	configViper.SetDefault("database.path", defaultDatabasePath)
	configViper.SetDefault("database.dsn", "")
	configViper.SetDefault("log.level", defaultLogLevel)
	configViper.SetDefault("log.encoding", defaultLogEncoding)
	configViper.SetDefault("payments.signing_secret", "")
	configViper.SetDefault("payments.issuer", defaultPaymentsIssuer)
	configViper.SetDefault("email.resend_api_key", "")
	configViper.SetDefault("email.from", defaultEmailFrom)
	configViper.SetDefault("email.endpoint", "")
	configViper.SetDefault("notifications.workers", defaultNotifyWorkers)
	configViper.SetDefault("notifications.queue_size", defaultNotifyQueueSize)
	configViper.SetDefault("realtime.heartbeat_seconds", defaultHeartbeatSeconds)
}

// LoadDotEnv loads variables from the given .env files into the process environment.
// Missing files are ignored; existing environment variables win.
func LoadDotEnv(paths ...string) error {
	if len(paths) == 0 {
		paths = []string{".env"}
	}
	for _, path := range paths {
		if err := godotenv.Load(path); err != nil {
			if isMissingFile(err) {
				continue
			}
			return fmt.Errorf("load %s: %w", path, err)
		}
	}
	return nil
}

// Load parses runtime configuration from viper.
func Load(configViper *viper.Viper) (AppConfig, error) {
	cfg := AppConfig{
		HTTPAddress:           strings.TrimSpace(configViper.GetString("http.address")),
		EnablePprof:           configViper.GetBool("http.pprof"),
		AllowedOrigins:        splitOrigins(configViper.GetString("http.allowed_origins")),
		DatabaseDriver:        strings.ToLower(strings.TrimSpace(configViper.GetString("database.driver"))),
		DatabasePath:          strings.TrimSpace(configViper.GetString("database.path")),
		DatabaseDSN:           strings.TrimSpace(configViper.GetString("database.dsn")),
		LogLevel:              configViper.GetString("log.level"),
		LogEncoding:           strings.ToLower(strings.TrimSpace(configViper.GetString("log.encoding"))),
		PaymentsSigningSecret: strings.TrimSpace(configViper.GetString("payments.signing_secret")),
		PaymentsIssuer:        strings.TrimSpace(configViper.GetString("payments.issuer")),
		ResendAPIKey:          strings.TrimSpace(configViper.GetString("email.resend_api_key")),
		EmailFrom:             strings.TrimSpace(configViper.GetString("email.from")),
		EmailEndpoint:         strings.TrimSpace(configViper.GetString("email.endpoint")),
		NotifyWorkers:         configViper.GetInt("notifications.workers"),
		NotifyQueueLen:        configViper.GetInt("notifications.queue_size"),
		HeartbeatInterval:     time.Duration(configViper.GetInt("realtime.heartbeat_seconds")) * time.Second,
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
	case driverSQLite:
		if c.DatabasePath == "" {
			return fmt.Errorf("database.path is required for the sqlite driver")
		}
	case driverPostgres:
		if c.DatabaseDSN == "" {
			return fmt.Errorf("database.dsn is required for the postgres driver")
		}
	default:
		return fmt.Errorf("database.driver %q is not supported", c.DatabaseDriver)
	}
	if c.LogEncoding != encodingJSON && c.LogEncoding != encodingConsole {
		return fmt.Errorf("log.encoding %q is not supported", c.LogEncoding)
	}
	if c.PaymentsEnabled() && c.PaymentsIssuer == "" {
		return fmt.Errorf("payments.issuer is required when payments.signing_secret is set")
	}
	if c.EmailEnabled() && c.EmailFrom == "" {
		return fmt.Errorf("email.from is required when email.resend_api_key is set")
	}
	if c.NotifyWorkers < 0 {
		return fmt.Errorf("notifications.workers must not be negative")
	}
	if c.NotifyQueueLen < 0 {
		return fmt.Errorf("notifications.queue_size must not be negative")
	}
	if c.HeartbeatInterval <= 0 {
		return fmt.Errorf("realtime.heartbeat_seconds must be positive")
	}
	return nil
}

func splitOrigins(raw string) []string {
	var origins []string
	for _, origin := range strings.Split(raw, allowedOriginsSeparator) {
		if trimmed := strings.TrimSpace(origin); trimmed != "" {
			origins = append(origins, trimmed)
		}
	}
	return origins
}

func isMissingFile(err error) bool {
	return errors.Is(err, fs.ErrNotExist)
}
