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
	"bufio"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"
)

// ProviderPrefix prefixes generated module names.
const ProviderPrefix = "credstore-"

// CanonicalKey derives the registry key for a library path: the file's base
// name with dots, spaces and path separators replaced by underscores.
func CanonicalKey(library string) string {
	// filepath.Base only understands the host separator; normalize first so
	// Windows paths map the same on every platform.
	name := strings.ReplaceAll(strings.TrimSpace(library), `\`, "/")
	if i := strings.LastIndex(name, "/"); i >= 0 {
		name = name[i+1:]
	}
	return strings.NewReplacer(".", "_", " ", "_", "/", "_", `\`, "_").Replace(name)
}

// ProviderName returns the module name registered for key.
func ProviderName(key string) string {
	return ProviderPrefix + key
}

// Descriptor is the configuration a module is loaded from.
type Descriptor struct {
	Name        string
	Library     string
	Description string
	Slot        *int
}

// NewDescriptor builds the descriptor for a request.
func NewDescriptor(req Request) Descriptor {
	return Descriptor{
		Name:        ProviderName(CanonicalKey(req.Library)),
		Library:     req.Library,
		Description: req.Description,
		Slot:        req.Slot,
	}
}

// String renders the descriptor in its text form, one "key = value" per line.
func (d Descriptor) String() string {
	var b strings.Builder
	fmt.Fprintf(&b, "name = %s\n", d.Name)
	fmt.Fprintf(&b, "library = %s\n", d.Library)
	if d.Description != "" {
		fmt.Fprintf(&b, "description = %s\n", d.Description)
	}
	if d.Slot != nil {
		fmt.Fprintf(&b, "slot = %d\n", *d.Slot)
	}
	return b.String()
}

// Write stores the descriptor in a new file under dir and returns its path.
// The caller removes the file.
func (d Descriptor) Write(dir string) (string, error) {
	if dir == "" {
		dir = os.TempDir()
	}
	f, err := os.CreateTemp(dir, "credstore-pkcs11-*.cfg")
	if err != nil {
		return "", fmt.Errorf("pkcs11: create descriptor file: %w", err)
	}
	if _, err := io.WriteString(f, d.String()); err != nil {
		f.Close()
		os.Remove(f.Name())
		return "", fmt.Errorf("pkcs11: write descriptor file: %w", err)
	}
	if err := f.Close(); err != nil {
		os.Remove(f.Name())
		return "", fmt.Errorf("pkcs11: write descriptor file: %w", err)
	}
	return filepath.Clean(f.Name()), nil
}

// ParseDescriptor reads the text form written by Descriptor.String. Blank
// lines, comments and unknown keys are ignored.
func ParseDescriptor(r io.Reader) (Descriptor, error) {
	var d Descriptor
	sc := bufio.NewScanner(r)
	line := 0
	for sc.Scan() {
		line++
		text := strings.TrimSpace(sc.Text())
		if text == "" || strings.HasPrefix(text, "#") {
			continue
		}
		key, value, ok := strings.Cut(text, "=")
		if !ok {
			return Descriptor{}, fmt.Errorf("%w: descriptor line %d: missing '='", ErrInvalidConfig, line)
		}
		key = strings.ToLower(strings.TrimSpace(key))
		value = strings.TrimSpace(value)
		switch key {
		case "name":
			d.Name = value
		case "library":
			d.Library = value
		case "description":
			d.Description = value
		case "slot":
			n, err := strconv.Atoi(value)
			if err != nil || n < 0 {
				return Descriptor{}, fmt.Errorf("%w: descriptor line %d: bad slot %q", ErrInvalidConfig, line, value)
			}
			d.Slot = &n
		}
	}
	if err := sc.Err(); err != nil {
		return Descriptor{}, fmt.Errorf("pkcs11: read descriptor: %w", err)
	}
	if d.Library == "" {
		return Descriptor{}, fmt.Errorf("%w: descriptor has no library", ErrInvalidConfig)
	}
	return d, nil
}
