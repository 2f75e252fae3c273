package config

import (
	"fmt"
	"net"
	"strings"
	"time"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

// EnvPrefix is prepended to every environment variable override (STAFFHUB_PORT, ...).
const EnvPrefix = "STAFFHUB"

// Config is the process-level configuration, assembled from flags, environment and an
// optional config file. Runtime-tunable options live in the settings table instead.
type Config struct {
	Port        int
	Bind        string
	DBPath      string
	LogFile     string
	LogLevel    string
	PublicURL   string
	StaticDir   string
	CORSOrigins []string
	Dev         bool

	JWT      JWTConfig
	S3       S3Config
	Webhook  WebhookConfig
	Rate     RateConfig
	Timeouts TimeoutConfig
}

// JWTConfig configures bearer token signing.
type JWTConfig struct {
	Secret string
	Issuer string
	TTL    time.Duration
}

// S3Config points at an S3-compatible bucket used for documents.
type S3Config struct {
	Endpoint  string
	Region    string
	Bucket    string
	AccessKey string
	SecretKey string
	PathStyle bool
}

// Enabled reports whether document storage is configured.
func (c S3Config) Enabled() bool {
	return c.Bucket != ""
}

// WebhookConfig configures the outbound notification webhook.
type WebhookConfig struct {
	URL    string
	Secret string
}

// RateConfig holds ulule/limiter formatted rates, e.g. "600-M".
type RateConfig struct {
	RPC   string
	Login string
}

// RegisterFlags declares every command line flag understood by Load.
func RegisterFlags(flags *pflag.FlagSet) {
	flags.String("config", "", "Path to a config file (yaml, json or toml)")
	flags.IntP("port", "p", 8080, "HTTP server port")
	flags.StringP("bind", "b", "", "IP address to bind to (e.g., 127.0.0.1, 0.0.0.0)")
	flags.StringP("db", "d", "./staffhub.db", "SQLite database path")
	flags.String("log-file", "", "Log file path (defaults to staffhub.log next to the database)")
	flags.String("log-level", "info", "Log level: info, debug or trace")
	flags.String("public-url", "http://localhost:8080", "Public URL of the web client, used in emailed links")
	flags.String("static-dir", "", "Directory holding the built single-page client")
	flags.StringSlice("cors-origins", nil, "Origins allowed to call the API from a browser")
	flags.Bool("dev", false, "Development mode: relaxed security headers")

	flags.String("jwt-secret", "", "HMAC secret used to sign bearer tokens (required)")
	flags.String("jwt-issuer", "staffhub", "Issuer claim for bearer tokens")
	flags.Duration("jwt-ttl", 12*time.Hour, "Lifetime of issued bearer tokens")

	flags.String("s3-endpoint", "", "S3-compatible endpoint URL (empty for AWS)")
	flags.String("s3-region", "us-east-1", "S3 region")
	flags.String("s3-bucket", "", "Bucket for employee documents (empty disables documents)")
	flags.String("s3-access-key", "", "S3 access key id")
	flags.String("s3-secret-key", "", "S3 secret access key")
	flags.Bool("s3-path-style", false, "Use path-style bucket addressing (MinIO)")

	flags.String("webhook-url", "", "Webhook receiving notification events (mail relay, chat bridge)")
	flags.String("webhook-secret", "", "Shared secret sent in the X-Staffhub-Signature header")

	flags.String("rate-rpc", "600-M", "Per-IP request rate for the RPC endpoint")
	flags.String("rate-login", "10-M", "Per-IP rate for login and password reset attempts")

	flags.Duration("http-timeout", 30*time.Second, "Timeout for outbound HTTP requests")
	flags.Duration("request-timeout", 30*time.Second, "Timeout for a single RPC call")
	flags.Duration("shutdown-timeout", 30*time.Second, "Grace period for in-flight requests on shutdown")
}

// Load builds a Config from the flag set, environment variables and the config file.
func Load(flags *pflag.FlagSet) (*Config, error) {
	cfg, err := read(flags)
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadMaintenance builds a Config for commands that only open the database.
// Server settings such as the JWT secret are not checked.
func LoadMaintenance(flags *pflag.FlagSet) (*Config, error) {
	cfg, err := read(flags)
	if err != nil {
		return nil, err
	}
	if cfg.DBPath == "" {
		return nil, fmt.Errorf("database path is required")
	}
	return cfg, nil
}

func read(flags *pflag.FlagSet) (*Config, error) {
	v := viper.New()
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()

	if err := v.BindPFlags(flags); err != nil {
		return nil, fmt.Errorf("failed to bind flags: %w", err)
	}

	if path := v.GetString("config"); path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
		}
	}

	cfg := &Config{
		Port:        v.GetInt("port"),
		Bind:        v.GetString("bind"),
		DBPath:      v.GetString("db"),
		LogFile:     v.GetString("log-file"),
		LogLevel:    v.GetString("log-level"),
		PublicURL:   strings.TrimRight(v.GetString("public-url"), "/"),
		StaticDir:   v.GetString("static-dir"),
		CORSOrigins: v.GetStringSlice("cors-origins"),
		Dev:         v.GetBool("dev"),
		JWT: JWTConfig{
			Secret: v.GetString("jwt-secret"),
			Issuer: v.GetString("jwt-issuer"),
			TTL:    v.GetDuration("jwt-ttl"),
		},
		S3: S3Config{
			Endpoint:  v.GetString("s3-endpoint"),
			Region:    v.GetString("s3-region"),
			Bucket:    v.GetString("s3-bucket"),
			AccessKey: v.GetString("s3-access-key"),
			SecretKey: v.GetString("s3-secret-key"),
			PathStyle: v.GetBool("s3-path-style"),
		},
		Webhook: WebhookConfig{
			URL:    v.GetString("webhook-url"),
			Secret: v.GetString("webhook-secret"),
		},
		Rate: RateConfig{
			RPC:   v.GetString("rate-rpc"),
			Login: v.GetString("rate-login"),
		},
		Timeouts: TimeoutConfig{
			HTTPClient: v.GetDuration("http-timeout"),
			Request:    v.GetDuration("request-timeout"),
			Shutdown:   v.GetDuration("shutdown-timeout"),
		},
	}
	return cfg, nil
}

// Validate checks values that would otherwise fail late at runtime.
func (c *Config) Validate() error {
	if c.Port <= 0 || c.Port > 65535 {
		return fmt.Errorf("invalid port: %d", c.Port)
	}
	if c.Bind != "" && net.ParseIP(c.Bind) == nil {
		return fmt.Errorf("invalid bind address: %s", c.Bind)
	}
	if c.DBPath == "" {
		return fmt.Errorf("database path is required")
	}
	if len(c.JWT.Secret) < 32 {
		return fmt.Errorf("jwt secret must be at least 32 characters (set --jwt-secret or %s_JWT_SECRET)", EnvPrefix)
	}
	if c.JWT.TTL <= 0 {
		return fmt.Errorf("jwt ttl must be positive")
	}
	return nil
}

// Addr returns the listen address for the HTTP server.
func (c *Config) Addr() string {
	if c.Bind != "" {
		return net.JoinHostPort(c.Bind, fmt.Sprint(c.Port))
	}
	return fmt.Sprintf(":%d", c.Port)
}
