// Copyright (c) 2025 Jeremy Hahn
// Copyright (c) 2025 Automate The Things, LLC
//
// This file is part of go-credstore.
//
// go-credstore is dual-licensed:
//
// 1. GNU Affero General Public License v3.0 (AGPL-3.0)
//    See LICENSE file or visit https://www.gnu.org/licenses/agpl-3.0.html
//
// 2. Commercial License
//    Contact licensing@automatethethings.com for commercial licensing options.

// Package config loads the credstore configuration file and turns it into
// factory and registry options.
package config

import (
	"fmt"
	"log"
	"os"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/jeremyhahn/go-credstore/pkg/backend/nss"
	p11 "github.com/jeremyhahn/go-credstore/pkg/backend/pkcs11"
	"github.com/jeremyhahn/go-credstore/pkg/keychain"
	"github.com/jeremyhahn/go-credstore/pkg/logging"
	"github.com/jeremyhahn/go-credstore/pkg/storekind"
)

// Environment variables applied over the file.
const (
	EnvLogLevel             = "CREDSTORE_LOG_LEVEL"
	EnvLogFormat            = "CREDSTORE_LOG_FORMAT"
	EnvNSSProfile           = "CREDSTORE_NSS_PROFILE"
	EnvNSSSharedDB          = "CREDSTORE_NSS_SHARED_DB"
	EnvRegistrationAttempts = "CREDSTORE_REGISTRATION_ATTEMPTS"
	EnvPKCS11Library        = "PKCS11_LIBRARY"
)

// Config represents the complete credstore configuration
type Config struct {
	Logging   LoggingConfig   `yaml:"logging"`
	Keystore  KeystoreConfig  `yaml:"keystore"`
	NSS       NSSConfig       `yaml:"nss"`
	SmartCard SmartCardConfig `yaml:"smartcard"`
	Metrics   MetricsConfig   `yaml:"metrics"`
}

// LoggingConfig controls logging behavior
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// KeystoreConfig holds the process toggles and the PKCS#11 registry
// settings.
type KeystoreConfig struct {
	// ForceReset and DoNotReusePKCS11 are ORed with the environment
	// toggles on every request.
	ForceReset       bool `yaml:"force_reset"`
	DoNotReusePKCS11 bool `yaml:"do_not_reuse_pkcs11"`

	RegistrationAttempts int    `yaml:"registration_attempts"`
	Strategy             string `yaml:"strategy"`
	TempDir              string `yaml:"temp_dir"`

	// PKCS11Library is the library used when none is given on the
	// command line.
	PKCS11Library string `yaml:"pkcs11_library"`
}

// NSSConfig controls where NSS databases are looked for
type NSSConfig struct {
	ProfileDir     string   `yaml:"profile_dir"`
	SharedDBDir    string   `yaml:"shared_db_dir"`
	IncludeDrivers []string `yaml:"include_drivers"`
}

// SmartCardConfig lists candidate driver libraries per card. An empty
// list keeps the built-in defaults.
type SmartCardConfig struct {
	DNIe      []string `yaml:"dnie"`
	Ceres     []string `yaml:"ceres"`
	Ceres430  []string `yaml:"ceres430"`
	SmartCafe []string `yaml:"smartcafe"`
}

// MetricsConfig controls Prometheus instrumentation
type MetricsConfig struct {
	Enabled bool `yaml:"enabled"`
}

// Default returns the configuration used when no file is given.
func Default() *Config {
	return &Config{
		Logging: LoggingConfig{
			Level:  "info",
			Format: "text",
		},
		Keystore: KeystoreConfig{
			RegistrationAttempts: 2,
			Strategy:             p11.StrategyAuto.String(),
		},
		Metrics: MetricsConfig{Enabled: true},
	}
}

// Load reads configuration from a YAML file and applies environment variable
// overrides. Keys missing from the file keep their defaults.
func Load(path string) (*Config, error) {
	// #nosec G304 - Config file path is provided by the user
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	return Parse(data)
}

// Parse decodes YAML configuration, applies environment overrides and
// validates the result.
func Parse(data []byte) (*Config, error) {
	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}
	return finish(cfg)
}

// FromEnv returns the defaults with environment overrides applied.
func FromEnv() (*Config, error) {
	return finish(Default())
}

func finish(cfg *Config) (*Config, error) {
	applyEnvOverrides(cfg)
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// applyEnvOverrides applies environment variable overrides to the configuration
func applyEnvOverrides(cfg *Config) {
	if level := os.Getenv(EnvLogLevel); level != "" {
		cfg.Logging.Level = level
	}
	if format := os.Getenv(EnvLogFormat); format != "" {
		cfg.Logging.Format = format
	}
	if dir := os.Getenv(EnvNSSProfile); dir != "" {
		cfg.NSS.ProfileDir = dir
	}
	if dir := os.Getenv(EnvNSSSharedDB); dir != "" {
		cfg.NSS.SharedDBDir = dir
	}
	if lib := os.Getenv(EnvPKCS11Library); lib != "" {
		cfg.Keystore.PKCS11Library = lib
	}
	if raw := os.Getenv(EnvRegistrationAttempts); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 {
			log.Printf("Warning: invalid %s value %q, using %d", EnvRegistrationAttempts, raw, cfg.Keystore.RegistrationAttempts)
		} else {
			cfg.Keystore.RegistrationAttempts = n
		}
	}
}

// Validate checks the configuration
func (c *Config) Validate() error {
	validLevels := map[string]bool{
		"debug": true, "info": true, "warn": true, "error": true,
	}
	if !validLevels[strings.ToLower(c.Logging.Level)] {
		return fmt.Errorf("invalid log level: %s (must be debug, info, warn or error)", c.Logging.Level)
	}
	validFormats := map[string]bool{"json": true, "text": true}
	if !validFormats[strings.ToLower(c.Logging.Format)] {
		return fmt.Errorf("invalid log format: %s (must be json or text)", c.Logging.Format)
	}

	if err := c.Registry().Validate(); err != nil {
		return err
	}

	for _, name := range c.NSS.IncludeDrivers {
		kind, err := storekind.ParseKind(name)
		if err != nil {
			return fmt.Errorf("nss include_drivers: %w", err)
		}
		if !kind.IsSmartCard() {
			return fmt.Errorf("nss include_drivers: %s is not a smart-card driver", kind)
		}
	}
	return nil
}

// Registry returns the PKCS#11 registry settings.
func (c *Config) Registry() *p11.Config {
	return &p11.Config{
		Attempts:   c.Keystore.RegistrationAttempts,
		Strategy:   c.Keystore.Strategy,
		TempDir:    c.Keystore.TempDir,
		DoNotReuse: c.Keystore.DoNotReusePKCS11,
	}
}

// Drivers returns the smart-card kinds named by nss.include_drivers.
func (c *Config) Drivers() []storekind.Kind {
	var kinds []storekind.Kind
	for _, name := range c.NSS.IncludeDrivers {
		if kind, err := storekind.ParseKind(name); err == nil {
			kinds = append(kinds, kind)
		}
	}
	return kinds
}

// Toggles returns the environment toggles ORed with the file's switches.
func (c *Config) Toggles() keychain.Toggles {
	forceReset := c.Keystore.ForceReset
	doNotReuse := c.Keystore.DoNotReusePKCS11
	return func() (keychain.ToggleSet, error) {
		set, err := keychain.EnvToggles()
		set.ForceReset = set.ForceReset || forceReset
		set.DoNotReusePKCS11 = set.DoNotReusePKCS11 || doNotReuse
		return set, err
	}
}

// Logger builds the logger described by the logging section.
func (c *Config) Logger() *logging.Logger {
	return logging.FromConfig(c.Logging.Level, c.Logging.Format)
}

// FactoryOptions returns the factory options for the file's NSS, smart-card
// and toggle settings. The registry is left to the caller.
func (c *Config) FactoryOptions(logger *logging.Logger) []keychain.Option {
	opts := []keychain.Option{
		keychain.WithLogger(logger),
		keychain.WithToggles(c.Toggles()),
		keychain.WithNSS(nss.Options{
			ProfileDir:  c.NSS.ProfileDir,
			SharedDBDir: c.NSS.SharedDBDir,
		}),
	}
	if drivers := c.Drivers(); len(drivers) > 0 {
		opts = append(opts, keychain.WithDrivers(drivers...))
	}
	for kind, libs := range map[storekind.Kind][]string{
		storekind.DNIe:      c.SmartCard.DNIe,
		storekind.Ceres:     c.SmartCard.Ceres,
		storekind.Ceres430:  c.SmartCard.Ceres430,
		storekind.SmartCafe: c.SmartCard.SmartCafe,
	} {
		if len(libs) > 0 {
			opts = append(opts, keychain.WithSmartCardLibraries(kind, libs...))
		}
	}
	return opts
}
