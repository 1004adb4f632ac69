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

// Package native exposes the operating system certificate stores: the
// Windows system stores and the Apple keychain.
package native

import (
	"context"
	"crypto/x509"
	"fmt"
	"sync"

	"github.com/jeremyhahn/go-credstore/pkg/keystore"
	"github.com/jeremyhahn/go-credstore/pkg/logging"
	"github.com/jeremyhahn/go-credstore/pkg/storekind"
)

// Snapshot is the content of an opened system store. Close releases the
// native handles that back the entries' signers.
type Snapshot struct {
	Entries []*keystore.Entry
	Close   func() error
}

// Opener opens the system store for kind. path is only meaningful for the
// Apple kind, where it names a keychain file.
type Opener func(ctx context.Context, kind storekind.Kind, path string) (*Snapshot, error)

// Option configures a Manager.
type Option func(*Manager)

// WithOpener replaces the platform store opener.
func WithOpener(open Opener) Option {
	return func(m *Manager) {
		m.open = open
	}
}

// WithLogger sets the logger.
func WithLogger(l *logging.Logger) Option {
	return func(m *Manager) {
		m.logger = l
	}
}

// Manager is a keystore.Manager over a system store.
type Manager struct {
	*keystore.Base
	logger *logging.Logger
	open   Opener

	mu       sync.Mutex
	snapshot *Snapshot
}

var _ keystore.Manager = (*Manager)(nil)

// NewWindows returns a manager for one of the Windows store kinds.
func NewWindows(kind storekind.Kind, opts ...Option) (*Manager, error) {
	switch kind {
	case storekind.Windows, storekind.WindowsAddressBook, storekind.WindowsCA:
	default:
		return nil, fmt.Errorf("%w: %s is not a Windows store kind", keystore.ErrConfiguration, kind)
	}
	return newManager(kind, opts), nil
}

// NewApple returns a manager for the Apple keychain.
func NewApple(opts ...Option) *Manager {
	return newManager(storekind.Apple, opts)
}

func newManager(kind storekind.Kind, opts []Option) *Manager {
	m := &Manager{
		Base: keystore.NewBase(kind),
		open: openSystemStore,
	}
	for _, opt := range opts {
		opt(m)
	}
	m.logger = logging.OrDefault(m.logger)
	return m
}

// Init opens the store. System stores never prompt: the password callback
// is ignored and the operating system handles any unlock dialog.
func (m *Manager) Init(ctx context.Context, params keystore.Params, _ keystore.PasswordCallback, _ bool) error {
	if err := ctx.Err(); err != nil {
		return keystore.Cancelled(err)
	}
	if params.Path != "" && m.Kind() != storekind.Apple {
		return fmt.Errorf("%w: %s does not take a file", keystore.ErrConfiguration, m.Kind())
	}

	snap, err := m.open(ctx, m.Kind(), params.Path)
	if err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		if snap.Close != nil {
			m.logger.MaybeError(snap.Close())
		}
		return keystore.Cancelled(err)
	}

	m.mu.Lock()
	prev := m.snapshot
	m.snapshot = snap
	m.mu.Unlock()
	if prev != nil && prev.Close != nil {
		m.logger.MaybeError(prev.Close())
	}

	m.Base.Reset()
	for _, e := range snap.Entries {
		m.Base.Add(e)
	}
	if params.Path != "" {
		m.Base.SetHandle(params.Path)
	}
	m.logger.Debug("system store opened", "kind", m.Kind(), "entries", len(snap.Entries))
	return nil
}

// Close releases the native store.
func (m *Manager) Close() error {
	m.mu.Lock()
	snap := m.snapshot
	m.snapshot = nil
	m.mu.Unlock()

	var err error
	if snap != nil && snap.Close != nil {
		err = snap.Close()
	}
	m.Base.Close()
	return err
}

// certificateSnapshot wraps certificates without private keys.
func certificateSnapshot(certs []*x509.Certificate) *Snapshot {
	snap := &Snapshot{Close: func() error { return nil }}
	for _, cert := range certs {
		snap.Entries = append(snap.Entries, &keystore.Entry{
			Alias:       keystore.AliasFor(cert),
			Certificate: cert,
			Chain:       []*x509.Certificate{cert},
		})
	}
	return snap
}
