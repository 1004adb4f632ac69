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

// Package keystore defines the uniform credential store contract shared by
// every backend: the Manager capability, credential entries, password
// callbacks, the file locator used to pick key store files, the aggregated
// manager that merges several stores into one view and a conditional
// singleton cache.
package keystore

import (
	"context"
	"io"
	"sync"

	"github.com/jeremyhahn/go-credstore/pkg/storekind"
)

// Params carries the kind-specific initialization parameters. Each kind reads
// the fields named by its catalog ParamShape and ignores the rest.
type Params struct {
	// Path is the key store file (file kinds) or keychain file (Apple).
	Path string

	// Reader supplies the key store contents directly. When set, Path is
	// informational only.
	Reader io.Reader

	// Library is the PKCS#11 module path.
	Library string

	// Description is a human readable name for the PKCS#11 module.
	Description string

	// Slot selects the PKCS#11 slot. Nil means the first slot with a token.
	Slot *int

	// UI is an opaque parent context for dialogs.
	UI any
}

// Manager is the uniform capability every credential store exposes.
type Manager interface {
	// Init opens the store. forceReset asks token-backed stores to drop any
	// cached native session and start over.
	Init(ctx context.Context, params Params, cb PasswordCallback, forceReset bool) error

	// Kind returns the store kind.
	Kind() storekind.Kind

	// Preferred reports whether entries from this store should be listed
	// ahead of others when aggregated.
	Preferred() bool
	SetPreferred(preferred bool)

	// Handle returns the underlying store handle. Its concrete type is
	// backend specific.
	Handle() any

	Aliases() []string
	Entries() []*Entry
	Entry(alias string) (*Entry, error)

	Close() error
}

// Composite is implemented by managers built from other managers.
type Composite interface {
	Managers() []Manager
}

// Base is an embeddable partial Manager holding the kind, the preferred
// flag, the native handle and an ordered alias table.
type Base struct {
	mu        sync.RWMutex
	kind      storekind.Kind
	preferred bool
	handle    any
	aliases   []string
	entries   map[string]*Entry
	closed    bool
}

// NewBase returns a Base for kind.
func NewBase(kind storekind.Kind) *Base {
	return &Base{
		kind:    kind,
		entries: make(map[string]*Entry),
	}
}

// Kind returns the store kind.
func (b *Base) Kind() storekind.Kind {
	return b.kind
}

// SetKind changes the reported kind. Used by adapters shared between kinds.
func (b *Base) SetKind(kind storekind.Kind) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.kind = kind
}

// Preferred reports the preferred flag.
func (b *Base) Preferred() bool {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.preferred
}

// SetPreferred sets the preferred flag.
func (b *Base) SetPreferred(preferred bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.preferred = preferred
}

// Handle returns the native handle.
func (b *Base) Handle() any {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.handle
}

// SetHandle stores the native handle.
func (b *Base) SetHandle(h any) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.handle = h
}

// Add appends e to the alias table. An alias already present keeps its
// first entry and Add returns false.
func (b *Base) Add(e *Entry) bool {
	if e == nil {
		return false
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, ok := b.entries[e.Alias]; ok {
		return false
	}
	b.entries[e.Alias] = e
	b.aliases = append(b.aliases, e.Alias)
	b.closed = false
	return true
}

// Reset drops every entry and reopens a closed Base.
func (b *Base) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.aliases = nil
	b.entries = make(map[string]*Entry)
	b.closed = false
}

// Aliases returns the aliases in insertion order.
func (b *Base) Aliases() []string {
	b.mu.RLock()
	defer b.mu.RUnlock()
	out := make([]string, len(b.aliases))
	copy(out, b.aliases)
	return out
}

// Entries returns the entries in alias order.
func (b *Base) Entries() []*Entry {
	b.mu.RLock()
	defer b.mu.RUnlock()
	out := make([]*Entry, 0, len(b.aliases))
	for _, alias := range b.aliases {
		out = append(out, b.entries[alias])
	}
	return out
}

// Entry returns the entry for alias.
func (b *Base) Entry(alias string) (*Entry, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.closed {
		return nil, ErrClosed
	}
	e, ok := b.entries[alias]
	if !ok {
		return nil, ErrEntryNotFound
	}
	return e, nil
}

// Closed reports whether Close was called since the last Add.
func (b *Base) Closed() bool {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.closed
}

// Close drops the entries and the handle.
func (b *Base) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.aliases = nil
	b.entries = make(map[string]*Entry)
	b.handle = nil
	b.closed = true
	return nil
}
