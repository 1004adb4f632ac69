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
	"context"
	"errors"
	"fmt"
	"os"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/hashicorp/go-multierror"

	"github.com/jeremyhahn/go-credstore/pkg/keystore"
	"github.com/jeremyhahn/go-credstore/pkg/logging"
	"github.com/jeremyhahn/go-credstore/pkg/metrics"
)

// DefaultAttempts is the number of load attempts per acquisition: the first
// try plus one retry.
const DefaultAttempts = 2

// State is the lifecycle state of a registration.
type State int

const (
	StateUnregistered State = iota
	StateConfiguring
	StateRegistered
)

// String returns the state name.
func (s State) String() string {
	switch s {
	case StateConfiguring:
		return "configuring"
	case StateRegistered:
		return "registered"
	default:
		return "unregistered"
	}
}

// Registration is a live module known to the registry.
type Registration struct {
	ID           uuid.UUID
	Key          string
	ProviderName string
	Library      string
	Description  string
	Slot         *int
	Module       Module
	CreatedAt    time.Time

	mu    sync.RWMutex
	state State
}

// State returns the current lifecycle state.
func (r *Registration) State() State {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.state
}

func (r *Registration) setState(s State) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.state = s
}

// Option configures a Registry.
type Option func(*Registry)

// WithLoader sets the module loader.
func WithLoader(l Loader) Option {
	return func(r *Registry) {
		if l != nil {
			r.loader = l
		}
	}
}

// WithLogger sets the logger.
func WithLogger(l *logging.Logger) Option {
	return func(r *Registry) {
		if l != nil {
			r.logger = l
		}
	}
}

// WithAttempts sets the number of load attempts per acquisition.
func WithAttempts(n int) Option {
	return func(r *Registry) {
		if n > 0 {
			r.attempts = n
		}
	}
}

// WithStrategy sets the configuration strategy.
func WithStrategy(s Strategy) Option {
	return func(r *Registry) {
		r.strategy = s
	}
}

// WithTempDir sets the directory for transient descriptor files.
func WithTempDir(dir string) Option {
	return func(r *Registry) {
		r.tempDir = dir
	}
}

// WithDoNotReuse disables reuse of live registrations for every request.
func WithDoNotReuse(v bool) Option {
	return func(r *Registry) {
		r.doNotReuse = v
	}
}

// Registry owns every native module loaded by the process. Requests for the
// same canonical key are serialized; requests for different keys proceed in
// parallel.
type Registry struct {
	loader     Loader
	logger     *logging.Logger
	attempts   int
	strategy   Strategy
	tempDir    string
	doNotReuse bool

	// mu guards the two maps only. It is never held while a module loads.
	mu    sync.Mutex
	locks map[string]*sync.Mutex
	regs  map[string]*Registration
}

// NewRegistry returns an empty registry.
func NewRegistry(opts ...Option) *Registry {
	r := &Registry{
		loader:   DefaultLoader(),
		logger:   logging.DefaultLogger(),
		attempts: DefaultAttempts,
		strategy: StrategyAuto,
		locks:    make(map[string]*sync.Mutex),
		regs:     make(map[string]*Registration),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

var (
	defaultMu       sync.Mutex
	defaultRegistry *Registry
)

// Default returns the process-wide registry.
func Default() *Registry {
	defaultMu.Lock()
	defer defaultMu.Unlock()
	if defaultRegistry == nil {
		defaultRegistry = NewRegistry()
	}
	return defaultRegistry
}

// SetDefault replaces the process-wide registry and returns the previous one.
func SetDefault(r *Registry) *Registry {
	defaultMu.Lock()
	defer defaultMu.Unlock()
	prev := defaultRegistry
	defaultRegistry = r
	return prev
}

func (r *Registry) keyLock(key string) *sync.Mutex {
	r.mu.Lock()
	defer r.mu.Unlock()
	l, ok := r.locks[key]
	if !ok {
		l = &sync.Mutex{}
		r.locks[key] = l
	}
	return l
}

func (r *Registry) get(key string) *Registration {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.regs[key]
}

func (r *Registry) put(reg *Registration) {
	r.mu.Lock()
	r.regs[reg.Key] = reg
	n := len(r.regs)
	r.mu.Unlock()
	metrics.SetLiveRegistrations(n)
}

// Acquire returns a registered module for req.Library, loading it when no
// live registration exists, when req.ForceReset is set or when the registry
// does not reuse registrations.
//
// A failed load is retried until the configured attempts are used up. A
// cancelled context or a cancellation reported by the loader stops at once.
// When every attempt fails the error wraps keystore.ErrInitialization and no
// registration is left behind.
func (r *Registry) Acquire(ctx context.Context, req Request) (*Registration, error) {
	if err := req.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %w", keystore.ErrConfiguration, err)
	}

	key := CanonicalKey(req.Library)
	lock := r.keyLock(key)
	lock.Lock()
	defer lock.Unlock()

	if existing := r.get(key); existing != nil {
		if !req.ForceReset && !r.doNotReuse {
			r.logger.Info("reusing pkcs11 registration",
				"key", key, "provider", existing.ProviderName, "id", existing.ID.String())
			metrics.RecordRegistration(metrics.ResultReused, 0)
			return existing, nil
		}
		r.teardown(existing, metrics.ReasonForceReset)
	}

	reg := &Registration{
		ID:           uuid.New(),
		Key:          key,
		ProviderName: ProviderName(key),
		Library:      req.Library,
		Description:  req.Description,
		Slot:         req.Slot,
		state:        StateConfiguring,
	}
	desc := NewDescriptor(req)

	var lastErr error
	attempts := 0
	for attempts < r.attempts {
		if err := ctx.Err(); err != nil {
			lastErr = keystore.Cancelled(err)
			break
		}
		attempts++
		mod, err := r.load(ctx, desc)
		if err == nil {
			reg.Module = mod
			reg.CreatedAt = time.Now()
			reg.setState(StateRegistered)
			r.put(reg)
			metrics.RecordRegistration(metrics.ResultSuccess, attempts)
			r.logger.Debug("registered pkcs11 module",
				"key", key, "library", req.Library, "attempts", attempts, "id", reg.ID.String())
			return reg, nil
		}
		lastErr = err
		if keystore.IsCancelled(err) {
			lastErr = keystore.Cancelled(err)
			break
		}
		r.logger.Warn("pkcs11 module load failed",
			"key", key, "library", req.Library, "attempt", attempts, "error", err.Error())
	}

	reg.setState(StateUnregistered)
	if keystore.IsCancelled(lastErr) {
		metrics.RecordRegistration(metrics.ResultCancelled, attempts)
		return nil, lastErr
	}
	metrics.RecordRegistration(metrics.ResultError, attempts)
	return nil, fmt.Errorf("%w: pkcs11 module %s failed after %d attempts: %w",
		keystore.ErrInitialization, req.Library, attempts, lastErr)
}

// load configures the module through the effective strategy.
func (r *Registry) load(ctx context.Context, d Descriptor) (Module, error) {
	strategy := r.strategy
	if strategy == StrategyAuto {
		strategy = ProbeStrategy(r.tempDir)
	}
	if strategy == StrategyInMemory {
		return r.loader.Load(ctx, d)
	}

	path, err := d.Write(r.tempDir)
	if err != nil {
		return nil, err
	}
	defer os.Remove(path)

	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("pkcs11: open descriptor file: %w", err)
	}
	parsed, err := ParseDescriptor(f)
	f.Close()
	if err != nil {
		return nil, err
	}
	return r.loader.Load(ctx, parsed)
}

// Login performs the second registration phase: it asks cb for the PIN and
// opens the token. A null callback opens the token without logging in.
//
// Any failure tears the registration down before returning, so the next
// Acquire for the same library loads a fresh module. A rejected PIN is
// reported as keystore.ErrCredentialRejected and a dismissed prompt as
// keystore.ErrCancelled.
func (r *Registry) Login(ctx context.Context, reg *Registration, cb keystore.PasswordCallback, prompt string) (*Token, error) {
	if reg == nil {
		return nil, fmt.Errorf("%w: %w", keystore.ErrInitialization, ErrNotRegistered)
	}
	lock := r.keyLock(reg.Key)
	lock.Lock()
	defer lock.Unlock()

	if r.get(reg.Key) != reg || reg.State() != StateRegistered {
		return nil, fmt.Errorf("%w: %w: %s", keystore.ErrInitialization, ErrNotRegistered, reg.Key)
	}

	login := !keystore.IsNull(cb)
	var pin []byte
	if login {
		secret, err := keystore.RequestSecret(ctx, cb, prompt)
		if err != nil {
			r.teardown(reg, metrics.ReasonLoginError)
			if keystore.IsCancelled(err) {
				return nil, keystore.Cancelled(err)
			}
			return nil, err
		}
		pin = secret
	}
	defer keystore.Zeroize(pin)

	tok, err := reg.Module.Open(ctx, reg.Slot, pin, login)
	if err != nil {
		r.teardown(reg, metrics.ReasonLoginError)
		switch {
		case keystore.IsCancelled(err):
			return nil, keystore.Cancelled(err)
		case errors.Is(err, ErrPINIncorrect), errors.Is(err, ErrPINLocked), keystore.IsCredentialRejected(err):
			return nil, fmt.Errorf("%w: %w", keystore.ErrCredentialRejected, err)
		default:
			return nil, fmt.Errorf("%w: open token: %w", keystore.ErrInitialization, err)
		}
	}
	return tok, nil
}

// teardown unregisters reg and finalizes its module, logging a finalize
// failure. The caller holds the key lock.
func (r *Registry) teardown(reg *Registration, reason string) {
	if err := r.finalize(reg, reason); err != nil {
		r.logger.Warn("pkcs11 module finalize failed", "key", reg.Key, "error", err.Error())
	}
}

// Lookup returns the live registration for key.
func (r *Registry) Lookup(key string) (*Registration, bool) {
	reg := r.get(key)
	return reg, reg != nil
}

// Live reports whether key has a live registration.
func (r *Registry) Live(key string) bool {
	return r.get(key) != nil
}

// Keys returns the keys of every live registration, sorted.
func (r *Registry) Keys() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	keys := make([]string, 0, len(r.regs))
	for k := range r.regs {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Registrations returns every live registration ordered by key.
func (r *Registry) Registrations() []*Registration {
	keys := r.Keys()
	out := make([]*Registration, 0, len(keys))
	for _, k := range keys {
		if reg := r.get(k); reg != nil {
			out = append(out, reg)
		}
	}
	return out
}

// Release tears down the registration for key. Releasing an unknown key is
// a no-op.
func (r *Registry) Release(key string) error {
	lock := r.keyLock(key)
	lock.Lock()
	defer lock.Unlock()

	reg := r.get(key)
	if reg == nil {
		return nil
	}
	return r.finalize(reg, metrics.ReasonRelease)
}

// finalize unregisters reg and finalizes its module. The caller holds the key
// lock.
func (r *Registry) finalize(reg *Registration, reason string) error {
	r.mu.Lock()
	if r.regs[reg.Key] == reg {
		delete(r.regs, reg.Key)
	}
	n := len(r.regs)
	r.mu.Unlock()
	metrics.SetLiveRegistrations(n)

	reg.setState(StateUnregistered)
	metrics.RecordTeardown(reason)
	r.logger.Info("removed pkcs11 registration",
		"key", reg.Key, "provider", reg.ProviderName, "reason", reason, "id", reg.ID.String())
	if reg.Module == nil {
		return nil
	}
	if err := reg.Module.Finalize(); err != nil {
		return fmt.Errorf("pkcs11: finalize %s: %w", reg.Key, err)
	}
	return nil
}

// Close tears down every registration.
func (r *Registry) Close() error {
	var result *multierror.Error
	for _, key := range r.Keys() {
		lock := r.keyLock(key)
		lock.Lock()
		if reg := r.get(key); reg != nil {
			if err := r.finalize(reg, metrics.ReasonClose); err != nil {
				result = multierror.Append(result, err)
			}
		}
		lock.Unlock()
	}
	return result.ErrorOrNil()
}
