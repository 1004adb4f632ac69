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
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func lookupFrom(vars map[string]string) func(string) (string, bool) {
	return func(name string) (string, bool) {
		v, ok := vars[name]
		return v, ok
	}
}

func TestEnvToggles(t *testing.T) {
	tests := []struct {
		name    string
		vars    map[string]string
		want    ToggleSet
		wantErr bool
	}{
		{"unset", nil, ToggleSet{}, false},
		{"empty", map[string]string{EnvForceReset: " "}, ToggleSet{}, false},
		{"force reset", map[string]string{EnvForceReset: "true"}, ToggleSet{ForceReset: true}, false},
		{"both", map[string]string{EnvForceReset: "1", EnvDoNotReusePKCS11: "TRUE"}, ToggleSet{ForceReset: true, DoNotReusePKCS11: true}, false},
		{"explicit false", map[string]string{EnvDoNotReusePKCS11: "false"}, ToggleSet{}, false},
		{"one bad", map[string]string{EnvForceReset: "yes please", EnvDoNotReusePKCS11: "t"}, ToggleSet{DoNotReusePKCS11: true}, true},
		{"both bad", map[string]string{EnvForceReset: "x", EnvDoNotReusePKCS11: "y"}, ToggleSet{}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := envToggles(lookupFrom(tt.vars))
			if tt.wantErr {
				require.Error(t, err)
			} else {
				require.NoError(t, err)
			}
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestEnvToggles_Process(t *testing.T) {
	t.Setenv(EnvForceReset, "true")
	t.Setenv(EnvDoNotReusePKCS11, "")
	set, err := EnvToggles()
	require.NoError(t, err)
	assert.True(t, set.ForceReset)
	assert.False(t, set.DoNotReusePKCS11)
}
