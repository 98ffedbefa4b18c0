// Package config loads BASE/config.json and the host overrides the daemon
// runs with. Credentials never live in config.json; see the credentials
// package.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"strings"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// Config is the daemon-wide configuration from BASE/config.json plus
// environment overrides.
type Config struct {
	ReviewBeforeSend bool     `mapstructure:"review_before_send"`
	Accounts         []string `mapstructure:"accounts"`

	IMAPAddr string `mapstructure:"imap_addr"`
	SMTPAddr string `mapstructure:"smtp_addr"`
}

// Load reads config.json from the given path. A missing file yields the
// defaults (no accounts). Environment variables prefixed MAILDECK_ override
// file values; a .env in the working directory is loaded first.
func Load(configFile string) (*Config, error) {
	// Development convenience: credentials and overrides from .env.
	_ = godotenv.Load()

	v := viper.New()
	v.SetConfigFile(configFile)
	v.SetConfigType("json")

	v.SetDefault("review_before_send", true)
	v.SetDefault("accounts", []string{})
	v.SetDefault("imap_addr", "imap.gmail.com:993")
	v.SetDefault("smtp_addr", "smtp.gmail.com:465")

	v.SetEnvPrefix("MAILDECK")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) && !errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate rejects malformed account entries.
func (c *Config) Validate() error {
	for _, account := range c.Accounts {
		if !strings.Contains(account, "@") {
			return fmt.Errorf("invalid account address %q", account)
		}
	}
	return nil
}
