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

// Package pkcs11 exposes a PKCS#11 token as a keystore.Manager.
//
// The manager obtains its module from the process-wide lifecycle registry in
// pkg/backend/pkcs11, logs in through the caller's password callback and
// lists every X.509 certificate on the token. Vendor smart-card drivers reuse
// it under their own store kind with WithKind.
//
// Example Usage:
//
//	m := pkcs11.NewManager(p11.Default())
//	err := m.Init(ctx, keystore.Params{
//	    Library:     "/usr/lib/opensc-pkcs11.so",
//	    Description: "OpenSC",
//	}, cb, false)
//	if err != nil {
//	    return err
//	}
//	for _, e := range m.Entries() {
//	    fmt.Println(e.Alias, e.HasKey())
//	}
package pkcs11

import (
	"context"
	"crypto"
	"crypto/x509"
	"fmt"
	"path/filepath"
	"strings"
	"sync"

	p11 "github.com/jeremyhahn/go-credstore/pkg/backend/pkcs11"
	"github.com/jeremyhahn/go-credstore/pkg/keystore"
	"github.com/jeremyhahn/go-credstore/pkg/logging"
	"github.com/jeremyhahn/go-credstore/pkg/storekind"
)

// Option configures a Manager.
type Option func(*Manager)

// WithKind reports kind instead of storekind.PKCS11.
func WithKind(kind storekind.Kind) Option {
	return func(m *Manager) {
		m.Base.SetKind(kind)
	}
}

// WithLogger sets the logger.
func WithLogger(l *logging.Logger) Option {
	return func(m *Manager) {
		if l != nil {
			m.logger = l
		}
	}
}

// WithPrompt overrides the PIN prompt.
func WithPrompt(prompt string) Option {
	return func(m *Manager) {
		m.prompt = prompt
	}
}

// Manager is a keystore.Manager over one PKCS#11 token.
type Manager struct {
	*keystore.Base

	registry *p11.Registry
	logger   *logging.Logger
	prompt   string

	mu    sync.Mutex
	reg   *p11.Registration
	token *p11.Token
}

var _ keystore.Manager = (*Manager)(nil)

// NewManager returns an uninitialized manager. A nil registry means
// p11.Default().
func NewManager(registry *p11.Registry, opts ...Option) *Manager {
	if registry == nil {
		registry = p11.Default()
	}
	m := &Manager{
		Base:     keystore.NewBase(storekind.PKCS11),
		registry: registry,
		logger:   logging.DefaultLogger(),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Init acquires the module for params.Library, logs in and loads the
// token's certificates. forceReset replaces any live registration of the
// same library.
func (m *Manager) Init(ctx context.Context, params keystore.Params, cb keystore.PasswordCallback, forceReset bool) error {
	if strings.TrimSpace(params.Library) == "" {
		return fmt.Errorf("%w: PKCS#11 library is required", keystore.ErrConfiguration)
	}

	reg, err := m.registry.Acquire(ctx, p11.Request{
		Library:     params.Library,
		Description: params.Description,
		Slot:        params.Slot,
		ForceReset:  forceReset,
	})
	if err != nil {
		return err
	}

	token, err := m.registry.Login(ctx, reg, cb, m.promptFor(params))
	if err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.reg = reg
	m.token = token
	m.Base.Reset()
	m.Base.SetHandle(reg)

	for _, te := range token.Entries {
		if te.Certificate == nil {
			continue
		}
		m.Base.Add(m.entry(te))
	}
	m.logger.Debug("pkcs11 token loaded",
		"kind", m.Kind().String(), "library", params.Library, "token", token.Label, "entries", len(token.Entries))
	return nil
}

func (m *Manager) promptFor(params keystore.Params) string {
	if m.prompt != "" {
		return m.prompt
	}
	name := params.Description
	if name == "" {
		name = filepath.Base(params.Library)
	}
	return fmt.Sprintf("PIN for %s (%s)", m.Kind().Name(), name)
}

func (m *Manager) entry(te p11.TokenEntry) *keystore.Entry {
	alias := te.Label
	if alias == "" {
		alias = keystore.AliasFor(te.Certificate)
	}
	alias = m.uniqueAlias(alias, te)

	e := &keystore.Entry{
		Alias:       alias,
		Certificate: te.Certificate,
		Chain:       []*x509.Certificate{te.Certificate},
		KeyID:       te.ID,
	}
	if te.HasKey {
		token := m.token
		id := append([]byte(nil), te.ID...)
		label := []byte(te.Label)
		e.Resolver = func() (crypto.Signer, error) {
			return token.Signer(id, label)
		}
	}
	return e
}

// uniqueAlias disambiguates a label shared by several certificates by
// appending the key id.
func (m *Manager) uniqueAlias(alias string, te p11.TokenEntry) string {
	if _, err := m.Base.Entry(alias); err != nil {
		return alias
	}
	candidate := fmt.Sprintf("%s (%x)", alias, te.ID)
	for i := 2; ; i++ {
		if _, err := m.Base.Entry(candidate); err != nil {
			return candidate
		}
		candidate = fmt.Sprintf("%s (%x-%d)", alias, te.ID, i)
	}
}

// Registration returns the registration backing the manager.
func (m *Manager) Registration() *p11.Registration {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.reg
}

// Token returns the opened token.
func (m *Manager) Token() *p11.Token {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.token
}

// Close drops the token view. The registration stays live for reuse; use
// the registry to tear it down.
func (m *Manager) Close() error {
	m.mu.Lock()
	m.token = nil
	m.reg = nil
	m.mu.Unlock()
	return m.Base.Close()
}
