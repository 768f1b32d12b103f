// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

// Package config loads authd settings from defaults, a YAML file, the
// environment and command-line flags, in that order of precedence.
package config

import (
	"net"
	"net/url"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/posflag"
	"github.com/knadh/koanf/v2"
	"github.com/samber/oops"
	"github.com/spf13/pflag"

	"github.com/holomush/authd/internal/logging"
	"github.com/holomush/authd/internal/xdg"
)

// EnvPrefix prefixes every authd environment variable.
const EnvPrefix = "AUTHD_"

// Store drivers.
const (
	StorePostgres = "postgres"
	StoreMemory   = "memory"
)

// Mail drivers.
const (
	MailResend = "resend"
	MailLog    = "log"
)

// MinJWTSecretLen mirrors auth.MinSigningSecretLen.
const MinJWTSecretLen = 32

// Config is the resolved process configuration.
type Config struct {
	ListenAddr    string     `koanf:"listen_addr"`
	MetricsAddr   string     `koanf:"metrics_addr"`
	Log           LogConfig  `koanf:"log"`
	Store         string     `koanf:"store"`
	DatabaseURL   string     `koanf:"database_url"`
	DBMaxConns    int32      `koanf:"db_max_conns"`
	JWT           JWTConfig  `koanf:"jwt"`
	AppURL        string     `koanf:"app_url"`
	Mail          MailConfig `koanf:"mail"`
	HashWorkers   int        `koanf:"hash_workers"`
	SecureCookies bool       `koanf:"secure_cookies"`
}

// LogConfig selects the slog handler.
type LogConfig struct {
	Format string `koanf:"format"`
	Level  string `koanf:"level"`
}

// JWTConfig configures session signing.
type JWTConfig struct {
	Secret string        `koanf:"secret"`
	Issuer string        `koanf:"issuer"`
	TTL    time.Duration `koanf:"ttl"`
}

// MailConfig configures reset-link delivery.
type MailConfig struct {
	Driver   string `koanf:"driver"`
	APIKey   string `koanf:"api_key"`
	From     string `koanf:"from"`
	// Endpoint overrides the Resend API base URL.
	Endpoint string `koanf:"endpoint"`
}

func defaults() map[string]any {
	return map[string]any{
		"listen_addr":    ":8080",
		"metrics_addr":   ":9100",
		"log.format":     "json",
		"log.level":      "info",
		"store":          StorePostgres,
		"database_url":   "",
		"db_max_conns":   0,
		"jwt.secret":     "",
		"jwt.issuer":     "authd",
		"jwt.ttl":        "720h",
		"app_url":        "http://localhost:3000",
		"mail.driver":    MailLog,
		"mail.api_key":   "",
		"mail.from":      "onboarding@resend.dev",
		"mail.endpoint":  "",
		"hash_workers":   0,
		"secure_cookies": false,
	}
}

// envKeys maps AUTHD_* suffixes to config keys.
var envKeys = map[string]string{
	"LISTEN_ADDR":    "listen_addr",
	"METRICS_ADDR":   "metrics_addr",
	"LOG_FORMAT":     "log.format",
	"LOG_LEVEL":      "log.level",
	"STORE":          "store",
	"DATABASE_URL":   "database_url",
	"DB_MAX_CONNS":   "db_max_conns",
	"JWT_SECRET":     "jwt.secret",
	"JWT_ISSUER":     "jwt.issuer",
	"JWT_TTL":        "jwt.ttl",
	"APP_URL":        "app_url",
	"MAIL_DRIVER":    "mail.driver",
	"MAIL_API_KEY":   "mail.api_key",
	"MAIL_FROM":      "mail.from",
	"MAIL_ENDPOINT":  "mail.endpoint",
	"HASH_WORKERS":   "hash_workers",
	"SECURE_COOKIES": "secure_cookies",
}

// flagKeys maps command-line flags to config keys.
var flagKeys = map[string]string{
	"listen":       "listen_addr",
	"metrics-addr": "metrics_addr",
	"log-format":   "log.format",
	"log-level":    "log.level",
	"store":        "store",
	"database-url": "database_url",
	"app-url":      "app_url",
	"mail-driver":  "mail.driver",
}

// RegisterFlags adds the overridable settings to fs. Defaults shown in help
// come from the built-in defaults; unset flags never override other layers.
func RegisterFlags(fs *pflag.FlagSet) {
	d := defaults()
	fs.String("config", "", "path to a YAML config file")
	fs.String("listen", d["listen_addr"].(string), "API listen address")
	fs.String("metrics-addr", d["metrics_addr"].(string), "metrics/health listen address (empty disables)")
	fs.String("log-format", d["log.format"].(string), "log format (json, text)")
	fs.String("log-level", d["log.level"].(string), "log level (debug, info, warn, error)")
	fs.String("store", d["store"].(string), "credential store (postgres, memory)")
	fs.String("database-url", "", "PostgreSQL connection URL")
	fs.String("app-url", d["app_url"].(string), "public URL used in reset links")
	fs.String("mail-driver", d["mail.driver"].(string), "mail driver (resend, log)")
}

// Load resolves configuration. fs may be nil. The YAML file named by the
// "config" flag, or else $XDG_CONFIG_HOME/authd/config.yaml when it exists,
// is loaded before the environment.
func Load(fs *pflag.FlagSet) (*Config, error) {
	k := koanf.New(".")
	for key, val := range defaults() {
		if err := k.Set(key, val); err != nil {
			return nil, oops.Code("CONFIG_LOAD_FAILED").With("key", key).Wrap(err)
		}
	}

	path, err := configPath(fs)
	if err != nil {
		return nil, err
	}
	if path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return nil, oops.Code("CONFIG_LOAD_FAILED").With("path", path).Wrap(err)
		}
	}

	// Plain DATABASE_URL first so AUTHD_DATABASE_URL wins over it.
	if err := k.Load(env.Provider("DATABASE_URL", ".", func(s string) string {
		if s == "DATABASE_URL" {
			return "database_url"
		}
		return ""
	}), nil); err != nil {
		return nil, oops.Code("CONFIG_LOAD_FAILED").With("source", "env").Wrap(err)
	}
	if err := k.Load(env.Provider(EnvPrefix, ".", func(s string) string {
		return envKeys[strings.TrimPrefix(s, EnvPrefix)]
	}), nil); err != nil {
		return nil, oops.Code("CONFIG_LOAD_FAILED").With("source", "env").Wrap(err)
	}

	if fs != nil {
		if err := k.Load(posflag.ProviderWithFlag(fs, ".", k, func(f *pflag.Flag) (string, any) {
			key, ok := flagKeys[f.Name]
			if !ok {
				return "", nil
			}
			return key, posflag.FlagVal(fs, f)
		}), nil); err != nil {
			return nil, oops.Code("CONFIG_LOAD_FAILED").With("source", "flags").Wrap(err)
		}
	}

	var cfg Config
	if err := k.Unmarshal("", &cfg); err != nil {
		return nil, oops.Code("CONFIG_LOAD_FAILED").With("operation", "unmarshal").Wrap(err)
	}
	return &cfg, nil
}

// configPath returns the --config flag value, else the XDG config file if present.
func configPath(fs *pflag.FlagSet) (string, error) {
	if fs != nil {
		if path, err := fs.GetString("config"); err == nil && path != "" {
			return path, nil
		}
	}
	return xdg.FindConfigFile()
}

// Validate checks the settings needed to serve. Errors carry the offending key.
func (c *Config) Validate() error {
	if _, _, err := net.SplitHostPort(c.ListenAddr); err != nil {
		return invalid("listen_addr", "must be host:port", err)
	}
	if c.MetricsAddr != "" {
		if _, _, err := net.SplitHostPort(c.MetricsAddr); err != nil {
			return invalid("metrics_addr", "must be host:port", err)
		}
	}

	switch c.Log.Format {
	case "json", "text":
	default:
		return invalid("log.format", "must be json or text", nil)
	}
	if _, err := logging.ParseLevel(c.Log.Level); err != nil {
		return invalid("log.level", "must be debug, info, warn or error", nil)
	}

	switch c.Store {
	case StoreMemory:
	case StorePostgres:
		if c.DatabaseURL == "" {
			return invalid("database_url", "is required for the postgres store", nil)
		}
	default:
		return invalid("store", "must be postgres or memory", nil)
	}

	if len(c.JWT.Secret) < MinJWTSecretLen {
		return invalid("jwt.secret", "must be at least 32 bytes", nil)
	}
	if c.JWT.TTL <= 0 {
		return invalid("jwt.ttl", "must be positive", nil)
	}

	u, err := url.Parse(c.AppURL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return invalid("app_url", "must be an absolute http(s) URL", err)
	}

	switch c.Mail.Driver {
	case MailLog:
	case MailResend:
		if c.Mail.APIKey == "" {
			return invalid("mail.api_key", "is required for the resend driver", nil)
		}
	default:
		return invalid("mail.driver", "must be resend or log", nil)
	}

	if c.HashWorkers < 0 {
		return invalid("hash_workers", "must not be negative", nil)
	}
	return nil
}

func invalid(key, reason string, cause error) error {
	b := oops.Code("CONFIG_INVALID").With("key", key)
	if cause != nil {
		return b.Wrapf(cause, "%s %s", key, reason)
	}
	return b.Errorf("%s %s", key, reason)
}
