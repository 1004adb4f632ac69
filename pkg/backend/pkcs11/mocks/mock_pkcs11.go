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

// Package mocks provides in-memory PKCS#11 loaders and modules for tests.
package mocks

import (
	"context"
	"crypto"
	"crypto/x509"
	"sync"
	"time"

	"github.com/jeremyhahn/go-credstore/pkg/backend/pkcs11"
)

// MockLoader is a pkcs11.Loader that hands out MockModules.
//
// Example usage:
//
//	loader := mocks.NewMockLoader()
//	loader.Failures = 1 // first load fails, the retry succeeds
//	reg := pkcs11.NewRegistry(pkcs11.WithLoader(loader))
type MockLoader struct {
	mu sync.Mutex

	// LoadFunc, when set, replaces the default behavior.
	LoadFunc func(ctx context.Context, d pkcs11.Descriptor) (pkcs11.Module, error)

	// Failures is the number of loads that fail with FailErr before loads
	// start succeeding. A negative value fails every load.
	Failures int
	FailErr  error

	// Delay is slept before each load, honoring ctx.
	Delay time.Duration

	// Entries, OpenErr and Signers configure every module created.
	Entries []pkcs11.TokenEntry
	OpenErr error
	Signers map[string]crypto.Signer

	// Call history.
	Loads   []pkcs11.Descriptor
	Modules []*MockModule
}

// NewMockLoader returns a loader whose modules expose no certificates.
func NewMockLoader() *MockLoader {
	return &MockLoader{
		FailErr: pkcs11.ErrLibraryNotFound,
		Signers: make(map[string]crypto.Signer),
	}
}

// Load records d and returns a new module, or the configured failure.
func (l *MockLoader) Load(ctx context.Context, d pkcs11.Descriptor) (pkcs11.Module, error) {
	if l.Delay > 0 {
		select {
		case <-time.After(l.Delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	l.Loads = append(l.Loads, d)
	if l.LoadFunc != nil {
		return l.LoadFunc(ctx, d)
	}
	if l.Failures != 0 {
		if l.Failures > 0 {
			l.Failures--
		}
		return nil, l.FailErr
	}
	m := &MockModule{
		Descriptor: d,
		Entries:    l.Entries,
		OpenErr:    l.OpenErr,
		Signers:    l.Signers,
	}
	l.Modules = append(l.Modules, m)
	return m, nil
}

// LoadCount returns the number of Load calls.
func (l *MockLoader) LoadCount() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.Loads)
}

// LastModule returns the most recently created module.
func (l *MockLoader) LastModule() *MockModule {
	l.mu.Lock()
	defer l.mu.Unlock()
	if len(l.Modules) == 0 {
		return nil
	}
	return l.Modules[len(l.Modules)-1]
}

// MockModule is an in-memory pkcs11.Module.
type MockModule struct {
	mu sync.Mutex

	Descriptor pkcs11.Descriptor
	Entries    []pkcs11.TokenEntry
	Signers    map[string]crypto.Signer

	// OpenErr is returned by Open. FinalizeErr is returned by Finalize.
	OpenErr     error
	FinalizeErr error

	// ExpectPIN, when set, makes Open fail with ErrPINIncorrect for any
	// other PIN.
	ExpectPIN []byte

	Opens     int
	LastPIN   []byte
	LastLogin bool
	Finalized bool
}

// Open returns a token over the configured entries.
func (m *MockModule) Open(ctx context.Context, slot *int, pin []byte, login bool) (*pkcs11.Token, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.Opens++
	m.LastPIN = append([]byte(nil), pin...)
	m.LastLogin = login

	if m.Finalized {
		return nil, pkcs11.ErrNotRegistered
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if m.OpenErr != nil {
		return nil, m.OpenErr
	}
	if m.ExpectPIN != nil && login && string(pin) != string(m.ExpectPIN) {
		return nil, pkcs11.ErrPINIncorrect
	}

	var slotID uint
	if slot != nil {
		slotID = uint(*slot)
	}
	signers := m.Signers
	return &pkcs11.Token{
		Label:   "mock token",
		Slot:    slotID,
		Entries: m.Entries,
		FindSigner: func(id, _ []byte) (crypto.Signer, error) {
			return signers[string(id)], nil
		},
	}, nil
}

// Finalize marks the module finalized.
func (m *MockModule) Finalize() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Finalized = true
	return m.FinalizeErr
}

// IsFinalized reports whether Finalize was called.
func (m *MockModule) IsFinalized() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.Finalized
}

// CertEntry builds a token entry for cert. A non-nil signer is registered
// on loader under id.
func CertEntry(loader *MockLoader, label string, id []byte, cert *x509.Certificate, signer crypto.Signer) pkcs11.TokenEntry {
	if signer != nil && loader != nil {
		loader.Signers[string(id)] = signer
	}
	return pkcs11.TokenEntry{
		Label:       label,
		ID:          id,
		Certificate: cert,
		HasKey:      signer != nil,
	}
}
