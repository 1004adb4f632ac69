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

package testutil

import (
	"context"
	"sync/atomic"

	"github.com/jeremyhahn/go-credstore/pkg/keystore"
	"github.com/jeremyhahn/go-credstore/pkg/storekind"
)

// FakeManager is an in-memory keystore.Manager. Its entries are fixed at
// construction; Init records its arguments and returns InitErr.
type FakeManager struct {
	*keystore.Base

	InitErr  error
	CloseErr error

	Inits      atomic.Int32
	Closes     atomic.Int32
	LastParams keystore.Params
	LastReset  bool
}

var _ keystore.Manager = (*FakeManager)(nil)

// NewFakeManager returns a manager of kind holding one key-less entry per
// alias.
func NewFakeManager(kind storekind.Kind, aliases ...string) *FakeManager {
	m := &FakeManager{Base: keystore.NewBase(kind)}
	for _, a := range aliases {
		m.Base.Add(&keystore.Entry{Alias: a})
	}
	return m
}

// Init records the call.
func (m *FakeManager) Init(_ context.Context, params keystore.Params, _ keystore.PasswordCallback, forceReset bool) error {
	m.Inits.Add(1)
	m.LastParams = params
	m.LastReset = forceReset
	return m.InitErr
}

// Close counts the call and returns CloseErr. Entries are kept so tests can
// inspect a manager after its aggregate was closed.
func (m *FakeManager) Close() error {
	m.Closes.Add(1)
	return m.CloseErr
}
