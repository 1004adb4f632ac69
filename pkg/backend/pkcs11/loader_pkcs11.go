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

//go:build pkcs11

package pkcs11

import (
	"context"
	"crypto"
	"crypto/x509"
	"errors"
	"fmt"
	"sync"

	"github.com/ThalesGroup/crypto11"
	"github.com/miekg/pkcs11"
)

// findBatch is the object handle batch size used when enumerating a token.
const findBatch = 32

type nativeLoader struct{}

// DefaultLoader returns the cgo loader backed by miekg/pkcs11.
func DefaultLoader() Loader {
	return nativeLoader{}
}

func (nativeLoader) Load(ctx context.Context, d Descriptor) (Module, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	p := pkcs11.New(d.Library)
	if p == nil {
		return nil, fmt.Errorf("%w: %s", ErrLibraryNotFound, d.Library)
	}
	if err := p.Initialize(); err != nil && !isCode(err, pkcs11.CKR_CRYPTOKI_ALREADY_INITIALIZED) {
		p.Destroy()
		return nil, fmt.Errorf("pkcs11: initialize %s: %w", d.Library, err)
	}
	return &nativeModule{p11: p, desc: d}, nil
}

// nativeModule is a loaded library. Certificates are read through the raw
// miekg context; signers are resolved lazily through crypto11, which opens
// its own sessions against the same library.
type nativeModule struct {
	mu   sync.Mutex
	p11  *pkcs11.Ctx
	desc Descriptor

	session pkcs11.SessionHandle
	open    bool
	slot    uint
	pin     []byte
	login   bool

	c11 *crypto11.Context
}

func (m *nativeModule) Open(ctx context.Context, slot *int, pin []byte, login bool) (*Token, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.p11 == nil {
		return nil, ErrNotRegistered
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	slotID, err := m.selectSlot(slot)
	if err != nil {
		return nil, err
	}

	m.closeSessionLocked()
	session, err := m.p11.OpenSession(slotID, pkcs11.CKF_SERIAL_SESSION)
	if err != nil {
		return nil, fmt.Errorf("pkcs11: open session on slot %d: %w", slotID, err)
	}
	m.session = session
	m.open = true
	m.slot = slotID

	if login {
		if err := m.p11.Login(session, pkcs11.CKU_USER, string(pin)); err != nil {
			switch {
			case isCode(err, pkcs11.CKR_USER_ALREADY_LOGGED_IN):
			case isCode(err, pkcs11.CKR_PIN_INCORRECT), isCode(err, pkcs11.CKR_PIN_INVALID), isCode(err, pkcs11.CKR_PIN_LEN_RANGE):
				return nil, fmt.Errorf("%w: %w", ErrPINIncorrect, err)
			case isCode(err, pkcs11.CKR_PIN_LOCKED):
				return nil, fmt.Errorf("%w: %w", ErrPINLocked, err)
			default:
				return nil, fmt.Errorf("pkcs11: login: %w", err)
			}
		}
	}
	m.pin = append([]byte(nil), pin...)
	m.login = login

	label := ""
	if info, err := m.p11.GetTokenInfo(slotID); err == nil {
		label = info.Label
	}

	entries, err := m.certificates(session)
	if err != nil {
		return nil, err
	}

	return &Token{
		Label:      label,
		Slot:       slotID,
		Entries:    entries,
		FindSigner: m.findSigner,
	}, nil
}

func (m *nativeModule) selectSlot(slot *int) (uint, error) {
	slots, err := m.p11.GetSlotList(true)
	if err != nil {
		return 0, fmt.Errorf("pkcs11: list slots: %w", err)
	}
	if len(slots) == 0 {
		return 0, ErrTokenNotFound
	}
	if slot == nil {
		return slots[0], nil
	}
	for _, s := range slots {
		if s == uint(*slot) {
			return s, nil
		}
	}
	return 0, fmt.Errorf("%w: slot %d", ErrTokenNotFound, *slot)
}

func (m *nativeModule) certificates(session pkcs11.SessionHandle) ([]TokenEntry, error) {
	handles, err := m.find(session, []*pkcs11.Attribute{
		pkcs11.NewAttribute(pkcs11.CKA_CLASS, pkcs11.CKO_CERTIFICATE),
		pkcs11.NewAttribute(pkcs11.CKA_CERTIFICATE_TYPE, pkcs11.CKC_X_509),
	}, 0)
	if err != nil {
		return nil, err
	}

	var entries []TokenEntry
	for _, h := range handles {
		attrs, err := m.p11.GetAttributeValue(session, h, []*pkcs11.Attribute{
			pkcs11.NewAttribute(pkcs11.CKA_VALUE, nil),
			pkcs11.NewAttribute(pkcs11.CKA_LABEL, nil),
			pkcs11.NewAttribute(pkcs11.CKA_ID, nil),
		})
		if err != nil {
			continue
		}
		var value, label, id []byte
		for _, a := range attrs {
			switch a.Type {
			case pkcs11.CKA_VALUE:
				value = a.Value
			case pkcs11.CKA_LABEL:
				label = a.Value
			case pkcs11.CKA_ID:
				id = a.Value
			}
		}
		cert, err := x509.ParseCertificate(value)
		if err != nil {
			continue
		}
		hasKey := false
		if len(id) > 0 {
			keys, err := m.find(session, []*pkcs11.Attribute{
				pkcs11.NewAttribute(pkcs11.CKA_CLASS, pkcs11.CKO_PRIVATE_KEY),
				pkcs11.NewAttribute(pkcs11.CKA_ID, id),
			}, 1)
			hasKey = err == nil && len(keys) > 0
		}
		entries = append(entries, TokenEntry{
			Label:       string(label),
			ID:          id,
			Certificate: cert,
			HasKey:      hasKey,
		})
	}
	return entries, nil
}

// find returns the handles matching template, at most limit when limit > 0.
func (m *nativeModule) find(session pkcs11.SessionHandle, template []*pkcs11.Attribute, limit int) ([]pkcs11.ObjectHandle, error) {
	if err := m.p11.FindObjectsInit(session, template); err != nil {
		return nil, fmt.Errorf("pkcs11: find objects: %w", err)
	}
	defer m.p11.FindObjectsFinal(session)

	var out []pkcs11.ObjectHandle
	for {
		batch := findBatch
		if limit > 0 && limit-len(out) < batch {
			batch = limit - len(out)
		}
		handles, _, err := m.p11.FindObjects(session, batch)
		if err != nil {
			return nil, fmt.Errorf("pkcs11: find objects: %w", err)
		}
		out = append(out, handles...)
		if len(handles) == 0 || (limit > 0 && len(out) >= limit) {
			return out, nil
		}
	}
}

func (m *nativeModule) findSigner(id, label []byte) (crypto.Signer, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.p11 == nil {
		return nil, ErrNotRegistered
	}
	if m.c11 == nil {
		slot := int(m.slot)
		c11, err := crypto11.Configure(&crypto11.Config{
			Path:              m.desc.Library,
			SlotNumber:        &slot,
			Pin:               string(m.pin),
			LoginNotSupported: !m.login,
		})
		if err != nil {
			return nil, fmt.Errorf("pkcs11: configure signer context: %w", err)
		}
		m.c11 = c11
	}
	signer, err := m.c11.FindKeyPair(id, label)
	if err != nil {
		return nil, fmt.Errorf("pkcs11: find key pair: %w", err)
	}
	if signer == nil {
		return nil, fmt.Errorf("%w: id %x", ErrKeyNotFound, id)
	}
	return signer, nil
}

func (m *nativeModule) closeSessionLocked() {
	if m.open {
		m.p11.Logout(m.session)
		m.p11.CloseSession(m.session)
		m.open = false
	}
}

func (m *nativeModule) Finalize() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.p11 == nil {
		return nil
	}
	var errs []error
	if m.c11 != nil {
		if err := m.c11.Close(); err != nil {
			errs = append(errs, fmt.Errorf("pkcs11: close signer context: %w", err))
		}
		m.c11 = nil
	}
	m.closeSessionLocked()
	if err := m.p11.Finalize(); err != nil && !isCode(err, pkcs11.CKR_CRYPTOKI_NOT_INITIALIZED) {
		errs = append(errs, fmt.Errorf("pkcs11: finalize %s: %w", m.desc.Library, err))
	}
	m.p11.Destroy()
	m.p11 = nil
	for i := range m.pin {
		m.pin[i] = 0
	}
	m.pin = nil
	return errors.Join(errs...)
}

func isCode(err error, code uint) bool {
	var e pkcs11.Error
	return errors.As(err, &e) && uint(e) == code
}
