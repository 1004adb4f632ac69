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
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jeremyhahn/go-credstore/pkg/keystore"
	"github.com/jeremyhahn/go-credstore/pkg/logging"
	"github.com/jeremyhahn/go-credstore/pkg/storekind"
)

func TestService_InitializeOnce(t *testing.T) {
	Reset()
	t.Cleanup(Reset)

	assert.False(t, IsInitialized())
	first := Initialize(WithPlatform(storekind.MacOS), WithLogger(logging.Discard()))
	second := Initialize(WithPlatform(storekind.Linux))
	assert.Same(t, first, second)
	assert.Equal(t, storekind.MacOS, Default().Platform())
	assert.True(t, IsInitialized())

	Reset()
	assert.False(t, IsInitialized())
}

func TestService_DefaultCreatesFactory(t *testing.T) {
	Reset()
	t.Cleanup(Reset)

	f := Default()
	require.NotNil(t, f)
	assert.Same(t, f, Default())
	assert.Equal(t, storekind.CurrentPlatform(), f.Platform())
}

func TestService_ObtainManager(t *testing.T) {
	Reset()
	t.Cleanup(Reset)
	Initialize(
		WithPlatform(storekind.Linux),
		WithLogger(logging.Discard()),
		WithToggles(StaticToggles(ToggleSet{})),
	)

	_, err := ObtainManager(context.Background(), storekind.WindowsCA, "", "", nil, nil)
	require.Error(t, err)
	assert.True(t, errors.Is(err, keystore.ErrUnsupported))
}
