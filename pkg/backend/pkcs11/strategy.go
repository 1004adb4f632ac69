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
	"os"
	"strings"
)

// Strategy selects how a module is configured before loading.
type Strategy int

const (
	// StrategyAuto probes the environment on every load.
	StrategyAuto Strategy = iota

	// StrategyDescriptorFile writes the descriptor to a transient file and
	// loads the module from it.
	StrategyDescriptorFile

	// StrategyInMemory loads the module from the in-memory descriptor.
	StrategyInMemory
)

// String returns the configuration name of the strategy.
func (s Strategy) String() string {
	switch s {
	case StrategyDescriptorFile:
		return "descriptor-file"
	case StrategyInMemory:
		return "in-memory"
	default:
		return "auto"
	}
}

// ParseStrategy parses a configuration strategy name. Empty means auto;
// "modern" and "legacy" are accepted aliases.
func ParseStrategy(s string) (Strategy, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "auto":
		return StrategyAuto, nil
	case "descriptor-file", "file", "modern":
		return StrategyDescriptorFile, nil
	case "in-memory", "memory", "legacy":
		return StrategyInMemory, nil
	default:
		return StrategyAuto, fmt.Errorf("%w: unknown strategy %q", ErrInvalidConfig, s)
	}
}

// ProbeStrategy returns StrategyDescriptorFile when a file can be created
// in dir (os.TempDir when empty), StrategyInMemory otherwise.
func ProbeStrategy(dir string) Strategy {
	if dir == "" {
		dir = os.TempDir()
	}
	f, err := os.CreateTemp(dir, ".credstore-probe-*")
	if err != nil {
		return StrategyInMemory
	}
	name := f.Name()
	f.Close()
	os.Remove(name)
	return StrategyDescriptorFile
}
