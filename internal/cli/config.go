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

package cli

import (
	"fmt"
	"io"
	"os"

	"github.com/jeremyhahn/go-credstore/internal/config"
	"github.com/jeremyhahn/go-credstore/internal/ui"
	p11 "github.com/jeremyhahn/go-credstore/pkg/backend/pkcs11"
	"github.com/jeremyhahn/go-credstore/pkg/keychain"
	"github.com/jeremyhahn/go-credstore/pkg/keystore"
	"github.com/jeremyhahn/go-credstore/pkg/logging"
	"github.com/jeremyhahn/go-credstore/pkg/metrics"
)

// Config holds global CLI configuration
type Config struct {
	// ConfigFile is the path to the YAML configuration file. Empty means
	// defaults plus environment overrides.
	ConfigFile string

	// OutputFormat controls output formatting (text, json)
	OutputFormat string

	// Verbose enables debug logging
	Verbose bool

	// NoColor disables colored text output
	NoColor bool

	// NoPrompt disables the interactive file prompt; a missing file or
	// library then cancels.
	NoPrompt bool

	// PasswordEnv names an environment variable holding the store
	// password. Empty means prompting on the terminal.
	PasswordEnv string
}

// NewConfig creates a new Config with default values
func NewConfig() *Config {
	return &Config{
		OutputFormat: string(OutputFormatText),
	}
}

// Load returns the application configuration.
func (c *Config) Load() (*config.Config, error) {
	var (
		cfg *config.Config
		err error
	)
	if c.ConfigFile != "" {
		cfg, err = config.Load(c.ConfigFile)
	} else {
		cfg, err = config.FromEnv()
	}
	if err != nil {
		return nil, err
	}
	if c.Verbose {
		cfg.Logging.Level = "debug"
	}
	return cfg, nil
}

// Printer returns a printer for w in the configured format.
func (c *Config) Printer(w io.Writer) *Printer {
	return NewPrinter(c.OutputFormat, w, c.NoColor)
}

// PasswordCallback returns the callback used for store passwords and PINs.
func (c *Config) PasswordCallback() (keystore.PasswordCallback, error) {
	if c.PasswordEnv != "" {
		secret, ok := os.LookupEnv(c.PasswordEnv)
		if !ok {
			return nil, fmt.Errorf("password variable %s is not set", c.PasswordEnv)
		}
		return keystore.StaticPassword([]byte(secret)), nil
	}
	return ui.NewTerminalPassword(os.Stdin, os.Stderr), nil
}

// Locator returns the file locator used when a file or library is missing.
func (c *Config) Locator() keystore.FileLocator {
	if c.NoPrompt {
		return nil
	}
	return ui.NewPromptLocator(os.Stdin, os.Stderr)
}

// newFactory builds the factory for one command run. Tests replace it.
var newFactory = func(cfg *config.Config, logger *logging.Logger, locator keystore.FileLocator) *keychain.Factory {
	if cfg.Metrics.Enabled {
		metrics.Enable()
	} else {
		metrics.Disable()
	}
	reg := p11.NewRegistry(append(cfg.Registry().Options(), p11.WithLogger(logger))...)
	opts := append(cfg.FactoryOptions(logger),
		keychain.WithRegistry(reg),
		keychain.WithLocator(locator),
	)
	return keychain.NewFactory(opts...)
}

// closeFactory releases the factory's cached view and its registry.
func closeFactory(f *keychain.Factory, logger *logging.Logger) {
	logger.MaybeError(f.Close())
	logger.MaybeError(f.Registry().Close())
}
