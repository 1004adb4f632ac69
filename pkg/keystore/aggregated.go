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

package keystore

import (
	"context"
	"fmt"
	"sync"

	"github.com/hashicorp/go-multierror"

	"github.com/jeremyhahn/go-credstore/pkg/storekind"
)

// Aggregated merges several managers into one view. Children may themselves
// be aggregates; lookups see the flattened leaves in order and the first
// entry seen for an alias wins.
type Aggregated struct {
	mu       sync.RWMutex
	kind     storekind.Kind
	children []Manager
	front    int // children added with AddPreferred
}

var (
	_ Manager   = (*Aggregated)(nil)
	_ Composite = (*Aggregated)(nil)
)

// NewAggregated returns an aggregate over children.
func NewAggregated(children ...Manager) (*Aggregated, error) {
	a := &Aggregated{}
	for _, c := range children {
		if err := a.Add(c); err != nil {
			return nil, err
		}
	}
	return a, nil
}

// WithKind fixes the kind reported by Kind regardless of the children.
func (a *Aggregated) WithKind(kind storekind.Kind) *Aggregated {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.kind = kind
	return a
}

// Add appends child. It rejects the aggregate itself and any manager that
// already contains the aggregate.
func (a *Aggregated) Add(child Manager) error {
	if err := a.checkChild(child); err != nil {
		return err
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	a.children = append(a.children, child)
	return nil
}

// AddPreferred inserts child ahead of every child added with Add, after
// those already added with AddPreferred, so its entries win alias
// collisions against the rest of the view.
func (a *Aggregated) AddPreferred(child Manager) error {
	if err := a.checkChild(child); err != nil {
		return err
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	i := a.front
	a.children = append(a.children, nil)
	copy(a.children[i+1:], a.children[i:])
	a.children[i] = child
	a.front++
	return nil
}

func (a *Aggregated) checkChild(child Manager) error {
	if child == nil {
		return fmt.Errorf("%w: nil manager", ErrConfiguration)
	}
	if child == Manager(a) || contains(child, a) {
		return ErrCycle
	}
	return nil
}

// Managers returns the direct children.
func (a *Aggregated) Managers() []Manager {
	a.mu.RLock()
	defer a.mu.RUnlock()
	out := make([]Manager, len(a.children))
	copy(out, a.children)
	return out
}

// Leaves returns every non-aggregate manager reachable from a, depth first
// in insertion order. A manager reachable twice is listed once.
func (a *Aggregated) Leaves() []Manager {
	var leaves []Manager
	seen := make(map[Manager]bool)
	var walk func(m Manager)
	walk = func(m Manager) {
		if seen[m] {
			return
		}
		seen[m] = true
		if c, ok := m.(Composite); ok {
			for _, child := range c.Managers() {
				walk(child)
			}
			return
		}
		leaves = append(leaves, m)
	}
	for _, child := range a.Managers() {
		walk(child)
	}
	return leaves
}

// ContainsKind reports whether a manager of kind is reachable from a.
func (a *Aggregated) ContainsKind(kind storekind.Kind) bool {
	return ContainsKind(a, kind)
}

// ContainsKind reports whether m, or any manager reachable from it, is of
// kind. Intermediate aggregates count by their own Kind as well.
func ContainsKind(m Manager, kind storekind.Kind) bool {
	if m == nil {
		return false
	}
	seen := make(map[Manager]bool)
	stack := []Manager{m}
	for len(stack) > 0 {
		cur := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		if seen[cur] {
			continue
		}
		seen[cur] = true
		c, composite := cur.(Composite)
		if !composite && cur.Kind() == kind {
			return true
		}
		if composite {
			stack = append(stack, c.Managers()...)
		}
	}
	return false
}

func contains(root Manager, target Manager) bool {
	seen := make(map[Manager]bool)
	stack := []Manager{root}
	for len(stack) > 0 {
		cur := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		if cur == target {
			return true
		}
		if seen[cur] {
			continue
		}
		seen[cur] = true
		if c, ok := cur.(Composite); ok {
			stack = append(stack, c.Managers()...)
		}
	}
	return false
}

// Init always fails: aggregates are composed from initialized managers.
func (a *Aggregated) Init(context.Context, Params, PasswordCallback, bool) error {
	return fmt.Errorf("%w: aggregated managers are not initialized directly", ErrConfiguration)
}

// Kind returns the fixed kind, or the kind of the first child.
func (a *Aggregated) Kind() storekind.Kind {
	a.mu.RLock()
	defer a.mu.RUnlock()
	if a.kind != "" {
		return a.kind
	}
	if len(a.children) > 0 {
		return a.children[0].Kind()
	}
	return ""
}

// Preferred reports whether any leaf is preferred.
func (a *Aggregated) Preferred() bool {
	for _, leaf := range a.Leaves() {
		if leaf.Preferred() {
			return true
		}
	}
	return false
}

// SetPreferred sets the flag on every leaf.
func (a *Aggregated) SetPreferred(preferred bool) {
	for _, leaf := range a.Leaves() {
		leaf.SetPreferred(preferred)
	}
}

// Handle returns the handles of the direct children.
func (a *Aggregated) Handle() any {
	children := a.Managers()
	handles := make([]any, len(children))
	for i, c := range children {
		handles[i] = c.Handle()
	}
	return handles
}

// Entries returns the union of the leaves' entries. On alias collisions the
// first entry seen wins.
func (a *Aggregated) Entries() []*Entry {
	var out []*Entry
	seen := make(map[string]bool)
	for _, leaf := range a.Leaves() {
		for _, e := range leaf.Entries() {
			if seen[e.Alias] {
				continue
			}
			seen[e.Alias] = true
			out = append(out, e)
		}
	}
	return out
}

// Aliases returns the aliases of Entries.
func (a *Aggregated) Aliases() []string {
	entries := a.Entries()
	out := make([]string, len(entries))
	for i, e := range entries {
		out[i] = e.Alias
	}
	return out
}

// Entry returns the first entry named alias.
func (a *Aggregated) Entry(alias string) (*Entry, error) {
	for _, leaf := range a.Leaves() {
		e, err := leaf.Entry(alias)
		if err == nil {
			return e, nil
		}
	}
	return nil, ErrEntryNotFound
}

// Close closes every child and returns the combined errors.
func (a *Aggregated) Close() error {
	var result *multierror.Error
	for _, c := range a.Managers() {
		if err := c.Close(); err != nil {
			result = multierror.Append(result, fmt.Errorf("%s: %w", c.Kind(), err))
		}
	}
	return result.ErrorOrNil()
}
