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

package cli

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/jeremyhahn/go-credstore/internal/config"
	"github.com/jeremyhahn/go-credstore/pkg/keychain"
	"github.com/jeremyhahn/go-credstore/pkg/keystore"
	"github.com/jeremyhahn/go-credstore/pkg/logging"
	"github.com/jeremyhahn/go-credstore/pkg/storekind"
)

// obtainFlags are the store selection flags shared by list and
// registrations.
type obtainFlags struct {
	kind        string
	path        string
	library     string
	description string
	slot        int
	forceReset  bool
	fallback    bool
}

func (o *obtainFlags) register(fs *pflag.FlagSet) {
	fs.StringVarP(&o.kind, "kind", "k", "", "store kind (see 'credstore kinds')")
	fs.StringVarP(&o.path, "file", "f", "", "key store file, or keychain file for apple")
	fs.StringVar(&o.library, "lib", "", "PKCS#11 library (default: keystore.pkcs11_library or PKCS11_LIBRARY)")
	fs.StringVar(&o.description, "desc", "", "PKCS#11 module description")
	fs.IntVar(&o.slot, "slot", -1, "PKCS#11 slot (-1 selects the first slot with a token)")
	fs.BoolVar(&o.forceReset, "force-reset", false, "drop cached stores and PKCS#11 registrations first")
	fs.BoolVar(&o.fallback, "fallback", false, "retry with the suggested kind when the store is unavailable")
}

func (o *obtainFlags) request(cfg *config.Config, cb keystore.PasswordCallback) (keychain.Request, error) {
	if o.kind == "" {
		return keychain.Request{}, fmt.Errorf("--kind is required")
	}
	kind, err := storekind.ParseKind(o.kind)
	if err != nil {
		return keychain.Request{}, err
	}
	req := keychain.Request{
		Kind:        kind,
		Description: o.description,
		Callback:    cb,
		ForceReset:  o.forceReset,
	}
	switch {
	case kind == storekind.PKCS11:
		req.Locator = o.library
		if req.Locator == "" {
			req.Locator = cfg.Keystore.PKCS11Library
		}
	default:
		req.Locator = o.path
	}
	if o.slot >= 0 {
		slot := o.slot
		req.Slot = &slot
	}
	return req, nil
}

// session is one command run: configuration, logger and factory.
type session struct {
	cfg     *config.Config
	logger  *logging.Logger
	factory *keychain.Factory
	cb      keystore.PasswordCallback
}

func openSession() (*session, error) {
	c := getConfig()
	cfg, err := c.Load()
	if err != nil {
		return nil, err
	}
	cb, err := c.PasswordCallback()
	if err != nil {
		return nil, err
	}
	logger := cfg.Logger()
	return &session{
		cfg:     cfg,
		logger:  logger,
		factory: newFactory(cfg, logger, c.Locator()),
		cb:      cb,
	}, nil
}

func (s *session) Close() {
	closeFactory(s.factory, s.logger)
}

// obtain opens the requested store. With fallback set, unavailable stores
// are replaced by their suggested alternative until one opens or no
// suggestion is left.
func (s *session) obtain(ctx context.Context, req keychain.Request, fallback bool, printer *Printer) (keystore.Manager, error) {
	tried := map[storekind.Kind]bool{}
	for {
		tried[req.Kind] = true
		printVerbose("opening %s store", req.Kind)
		m, err := s.factory.Obtain(ctx, req)
		if err == nil || !fallback {
			return m, err
		}
		alt, ok := keystore.AsAlternative(err)
		if !ok {
			return nil, err
		}
		next, has := alt.Suggestion()
		if !has || tried[next] {
			return nil, err
		}
		printer.PrintWarning("%v; trying %s", err, next)
		req = keychain.Request{
			Kind:       next,
			Callback:   req.Callback,
			UI:         req.UI,
			ForceReset: req.ForceReset,
		}
	}
}

var listFlags obtainFlags
var listPEM bool

// listCmd lists the entries of a store
var listCmd = &cobra.Command{
	Use:   "list",
	Short: "List the certificates of a store",
	Long: `Open a store and list its entries. Entries backed by a private key are
marked. Stores that need a file or library ask for one unless --no-prompt
is set.`,
	Example: `  credstore list --kind pkcs12 --file ~/id.p12
  credstore list --kind pkcs11 --lib /usr/lib/x86_64-linux-gnu/opensc-pkcs11.so
  credstore list --kind windows --fallback -o json`,
	RunE: func(cmd *cobra.Command, args []string) error {
		printer := getConfig().Printer(cmd.OutOrStdout())
		s, err := openSession()
		if err != nil {
			return err
		}
		defer s.Close()

		req, err := listFlags.request(s.cfg, s.cb)
		if err != nil {
			return err
		}
		m, err := s.obtain(cmd.Context(), req, listFlags.fallback, printer)
		if err != nil {
			return err
		}
		return printer.PrintEntries(m.Kind(), m.Entries(), listPEM)
	},
}

var registrationsFlags obtainFlags

// registrationsCmd shows the PKCS#11 registrations a store needed
var registrationsCmd = &cobra.Command{
	Use:   "registrations",
	Short: "Open a store and show the PKCS#11 modules it registered",
	RunE: func(cmd *cobra.Command, args []string) error {
		printer := getConfig().Printer(cmd.OutOrStdout())
		s, err := openSession()
		if err != nil {
			return err
		}
		defer s.Close()

		req, err := registrationsFlags.request(s.cfg, s.cb)
		if err != nil {
			return err
		}
		if _, err := s.obtain(cmd.Context(), req, registrationsFlags.fallback, printer); err != nil {
			return err
		}
		return printer.PrintRegistrations(s.factory.Registry().Registrations())
	},
}

func init() {
	listFlags.register(listCmd.Flags())
	listCmd.Flags().BoolVar(&listPEM, "pem", false, "print each certificate in PEM form")
	registrationsFlags.register(registrationsCmd.Flags())
}
