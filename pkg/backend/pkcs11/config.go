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

package pkcs11

import (
	"fmt"
	"strings"
)

// Request asks the registry for a module.
type Request struct {
	// Library is the path to the PKCS#11 library file.
	// Examples:
	//   - /usr/lib/x86_64-linux-gnu/opensc-pkcs11.so (OpenSC)
	//   - /usr/lib/libpkcs11-dnie.so (DNIe)
	//   - C:\Windows\System32\UsrPkcs11.dll (CERES)
	Library string `yaml:"library" json:"library" mapstructure:"library"`

	// Description is a human readable module name.
	Description string `yaml:"description,omitempty" json:"description,omitempty" mapstructure:"description"`

	// Slot is the slot number where the token is located.
	// Nil selects the first slot with a token present.
	Slot *int `yaml:"slot,omitempty" json:"slot,omitempty" mapstructure:"slot"`

	// ForceReset tears down any live registration for the library and
	// loads it again.
	ForceReset bool `yaml:"force-reset" json:"force_reset" mapstructure:"force-reset"`
}

// Validate checks the request.
func (r Request) Validate() error {
	if strings.TrimSpace(r.Library) == "" {
		return fmt.Errorf("%w: library path is required", ErrInvalidConfig)
	}
	if r.Slot != nil && *r.Slot < 0 {
		return fmt.Errorf("%w: slot must not be negative", ErrInvalidConfig)
	}
	return nil
}

// String returns a string representation of the request.
func (r Request) String() string {
	slot := "<not set>"
	if r.Slot != nil {
		slot = fmt.Sprintf("%d", *r.Slot)
	}
	return fmt.Sprintf("PKCS#11 Request{Library: %s, Description: %s, Slot: %s, ForceReset: %t}",
		r.Library, r.Description, slot, r.ForceReset)
}

// Config holds the registry settings read from the configuration file.
type Config struct {
	// Attempts is the number of load attempts per acquisition. Zero means
	// the default of two (one retry).
	Attempts int `yaml:"registration-attempts" json:"registration_attempts" mapstructure:"registration-attempts"`

	// Strategy is "auto", "descriptor-file" or "in-memory".
	Strategy string `yaml:"strategy" json:"strategy" mapstructure:"strategy"`

	// TempDir holds transient descriptor files. Empty means os.TempDir.
	TempDir string `yaml:"temp-dir,omitempty" json:"temp_dir,omitempty" mapstructure:"temp-dir"`

	// DoNotReuse disables registration reuse for the whole process.
	DoNotReuse bool `yaml:"do-not-reuse" json:"do_not_reuse" mapstructure:"do-not-reuse"`
}

// Validate checks the configuration.
func (c *Config) Validate() error {
	if c == nil {
		return ErrInvalidConfig
	}
	if c.Attempts < 0 {
		return fmt.Errorf("%w: registration attempts must not be negative", ErrInvalidConfig)
	}
	if _, err := ParseStrategy(c.Strategy); err != nil {
		return err
	}
	return nil
}

// Options converts the configuration to registry options.
func (c *Config) Options() []Option {
	if c == nil {
		return nil
	}
	strategy, _ := ParseStrategy(c.Strategy)
	opts := []Option{
		WithStrategy(strategy),
		WithDoNotReuse(c.DoNotReuse),
	}
	if c.Attempts > 0 {
		opts = append(opts, WithAttempts(c.Attempts))
	}
	if c.TempDir != "" {
		opts = append(opts, WithTempDir(c.TempDir))
	}
	return opts
}
