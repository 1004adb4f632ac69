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

package keychain

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/hashicorp/go-multierror"
)

// Environment variables read by EnvToggles.
const (
	EnvForceReset       = "CREDSTORE_FORCE_RESET"
	EnvDoNotReusePKCS11 = "CREDSTORE_DO_NOT_REUSE_PKCS11"
)

// ToggleSet holds the process-wide switches consulted on every request.
type ToggleSet struct {
	// ForceReset discards cached stores and native registrations.
	ForceReset bool

	// DoNotReusePKCS11 replaces PKCS#11 registrations on every acquire.
	DoNotReusePKCS11 bool
}

// Toggles reads the process switches. On error the returned set still holds
// every switch that could be read; the rest are false.
type Toggles func() (ToggleSet, error)

// StaticToggles always answers set.
func StaticToggles(set ToggleSet) Toggles {
	return func() (ToggleSet, error) {
		return set, nil
	}
}

// EnvToggles reads the switches from the environment. Unset or empty
// variables are false.
func EnvToggles() (ToggleSet, error) {
	return envToggles(os.LookupEnv)
}

func envToggles(lookup func(string) (string, bool)) (ToggleSet, error) {
	var (
		set  ToggleSet
		errs *multierror.Error
	)
	read := func(name string, dst *bool) {
		raw, ok := lookup(name)
		raw = strings.TrimSpace(raw)
		if !ok || raw == "" {
			return
		}
		v, err := strconv.ParseBool(raw)
		if err != nil {
			errs = multierror.Append(errs, fmt.Errorf("%s: %w", name, err))
			return
		}
		*dst = v
	}
	read(EnvForceReset, &set.ForceReset)
	read(EnvDoNotReusePKCS11, &set.DoNotReusePKCS11)
	return set, errs.ErrorOrNil()
}
