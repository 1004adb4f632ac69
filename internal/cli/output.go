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
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/fatih/color"

	p11 "github.com/jeremyhahn/go-credstore/pkg/backend/pkcs11"
	"github.com/jeremyhahn/go-credstore/pkg/encoding"
	"github.com/jeremyhahn/go-credstore/pkg/keystore"
	"github.com/jeremyhahn/go-credstore/pkg/storekind"
)

// OutputFormat defines the output format type
type OutputFormat string

const (
	OutputFormatText OutputFormat = "text"
	OutputFormatJSON OutputFormat = "json"
)

// Printer handles formatted output
type Printer struct {
	format OutputFormat
	writer io.Writer

	green  *color.Color
	yellow *color.Color
	red    *color.Color
	blue   *color.Color
}

// NewPrinter creates a new Printer. noColor turns color escapes off; they
// are also off whenever the process output is not a terminal.
func NewPrinter(format string, writer io.Writer, noColor bool) *Printer {
	p := &Printer{
		format: OutputFormat(format),
		writer: writer,
		green:  color.New(color.FgGreen),
		yellow: color.New(color.FgYellow),
		red:    color.New(color.FgRed),
		blue:   color.New(color.FgBlue, color.Bold),
	}
	if noColor {
		for _, c := range []*color.Color{p.green, p.yellow, p.red, p.blue} {
			c.DisableColor()
		}
	}
	return p
}

func (p *Printer) unknownFormat() error {
	return fmt.Errorf("unknown output format: %s", p.format)
}

// PrintKinds prints the catalog as seen from platform
func (p *Printer) PrintKinds(platform storekind.Platform, infos []storekind.Info) error {
	switch p.format {
	case OutputFormatJSON:
		out := make([]map[string]interface{}, len(infos))
		for i, info := range infos {
			alt, hasAlt := storekind.Alternate(info.Kind, platform)
			m := map[string]interface{}{
				"kind":       info.Kind,
				"name":       info.Name,
				"affinity":   info.Affinity,
				"params":     info.Params.String(),
				"supported":  storekind.SupportedOn(info.Kind, platform),
				"extensions": info.Extensions,
			}
			if hasAlt {
				m["alternate"] = alt
			}
			out[i] = m
		}
		return p.printJSON(map[string]interface{}{
			"platform": platform,
			"kinds":    out,
		})
	case OutputFormatText:
		p.blue.Fprintf(p.writer, "%-20s %-30s %-8s %-10s %s\n", "KIND", "NAME", "PLATFORM", "SUPPORTED", "ALTERNATE")
		fmt.Fprintln(p.writer, strings.Repeat("-", 84))
		for _, info := range infos {
			alt, hasAlt := storekind.Alternate(info.Kind, platform)
			altName := "-"
			if hasAlt {
				altName = string(alt)
			}
			supported := p.red.Sprintf("%-10s", "no")
			if storekind.SupportedOn(info.Kind, platform) {
				supported = p.green.Sprintf("%-10s", "yes")
			}
			fmt.Fprintf(p.writer, "%-20s %-30s %-8s %s %s\n",
				info.Kind, info.Name, info.Affinity, supported, altName)
		}
		return nil
	default:
		return p.unknownFormat()
	}
}

// PrintAlternate prints the fallback for kind on platform
func (p *Printer) PrintAlternate(kind storekind.Kind, platform storekind.Platform) error {
	alt, ok := storekind.Alternate(kind, platform)
	switch p.format {
	case OutputFormatJSON:
		m := map[string]interface{}{
			"kind":     kind,
			"platform": platform,
		}
		if ok {
			m["alternate"] = alt
		}
		return p.printJSON(m)
	case OutputFormatText:
		if !ok {
			fmt.Fprintf(p.writer, "%s has no alternative on %s\n", kind, platform)
			return nil
		}
		fmt.Fprintf(p.writer, "%s\n", alt)
		return nil
	default:
		return p.unknownFormat()
	}
}

// PrintEntries prints the entries of a store
func (p *Printer) PrintEntries(kind storekind.Kind, entries []*keystore.Entry, withPEM bool) error {
	switch p.format {
	case OutputFormatJSON:
		list := make([]map[string]interface{}, len(entries))
		for i, e := range entries {
			m := map[string]interface{}{
				"alias":        e.Alias,
				"has_key":      e.HasKey(),
				"chain_length": len(e.Chain),
			}
			if id := e.KeyIDHex(); id != "" {
				m["key_id"] = id
			}
			if c := e.Certificate; c != nil {
				m["subject"] = c.Subject.String()
				m["issuer"] = c.Issuer.String()
				m["serial_number"] = c.SerialNumber.String()
				m["not_before"] = c.NotBefore.UTC().Format(time.RFC3339)
				m["not_after"] = c.NotAfter.UTC().Format(time.RFC3339)
				data, err := encoding.EncodeCertificatePEM(c)
				if err != nil {
					return err
				}
				m["certificate"] = string(data)
			}
			if len(e.Chain) > 1 {
				data, err := encoding.EncodeCertificateChainPEM(e.Chain)
				if err != nil {
					return err
				}
				m["chain"] = string(data)
			}
			list[i] = m
		}
		return p.printJSON(map[string]interface{}{
			"kind":    kind,
			"entries": list,
		})
	case OutputFormatText:
		if len(entries) == 0 {
			fmt.Fprintf(p.writer, "No entries in %s store\n", kind)
			return nil
		}
		p.blue.Fprintf(p.writer, "%s store, %d entries\n", kind, len(entries))
		for _, e := range entries {
			key := ""
			if e.HasKey() {
				key = p.green.Sprint(" [key]")
			}
			fmt.Fprintf(p.writer, "  - %s%s\n", e.Alias, key)
			if c := e.Certificate; c != nil {
				fmt.Fprintf(p.writer, "      subject: %s\n", c.Subject)
				fmt.Fprintf(p.writer, "      issuer:  %s\n", c.Issuer)
				expiry := c.NotAfter.UTC().Format(time.RFC3339)
				if time.Now().After(c.NotAfter) {
					expiry = p.red.Sprint(expiry + " (expired)")
				}
				fmt.Fprintf(p.writer, "      expires: %s\n", expiry)
				if withPEM {
					data, err := entryPEM(e)
					if err != nil {
						return err
					}
					fmt.Fprint(p.writer, string(data))
				}
			}
		}
		return nil
	default:
		return p.unknownFormat()
	}
}

// entryPEM returns the entry's chain, leaf first, or the certificate alone
// when no chain is known.
func entryPEM(e *keystore.Entry) ([]byte, error) {
	if len(e.Chain) > 0 {
		return encoding.EncodeCertificateChainPEM(e.Chain)
	}
	return encoding.EncodeCertificatePEM(e.Certificate)
}

// PrintRegistrations prints live PKCS#11 registrations
func (p *Printer) PrintRegistrations(regs []*p11.Registration) error {
	switch p.format {
	case OutputFormatJSON:
		list := make([]map[string]interface{}, len(regs))
		for i, r := range regs {
			m := map[string]interface{}{
				"id":          r.ID.String(),
				"key":         r.Key,
				"provider":    r.ProviderName,
				"library":     r.Library,
				"description": r.Description,
				"state":       r.State().String(),
				"created_at":  r.CreatedAt.UTC().Format(time.RFC3339),
			}
			if r.Slot != nil {
				m["slot"] = *r.Slot
			}
			list[i] = m
		}
		return p.printJSON(map[string]interface{}{
			"registrations": list,
		})
	case OutputFormatText:
		if len(regs) == 0 {
			fmt.Fprintln(p.writer, "No live registrations")
			return nil
		}
		p.blue.Fprintf(p.writer, "%-24s %-12s %-36s %s\n", "PROVIDER", "STATE", "ID", "LIBRARY")
		for _, r := range regs {
			fmt.Fprintf(p.writer, "%-24s %-12s %-36s %s\n", r.ProviderName, r.State(), r.ID, r.Library)
		}
		return nil
	default:
		return p.unknownFormat()
	}
}

// PrintWarning prints a non-fatal notice
func (p *Printer) PrintWarning(format string, args ...interface{}) {
	if p.format == OutputFormatJSON {
		return
	}
	p.yellow.Fprintf(p.writer, "Warning: "+format+"\n", args...)
}

// PrintError prints an error, with the suggested fallback kind when there
// is one
func (p *Printer) PrintError(err error) error {
	alt, isAlt := keystore.AsAlternative(err)
	switch p.format {
	case OutputFormatJSON:
		m := map[string]interface{}{
			"status": "error",
			"error":  err.Error(),
		}
		if isAlt && alt.HasAlternate {
			m["alternate"] = alt.Alternate
		}
		if keystore.IsCancelled(err) {
			m["status"] = "cancelled"
		}
		return p.printJSON(m)
	case OutputFormatText:
		if keystore.IsCancelled(err) {
			p.yellow.Fprintln(p.writer, "Cancelled")
			return nil
		}
		p.red.Fprintf(p.writer, "Error: %v\n", err)
		if isAlt && alt.HasAlternate {
			fmt.Fprintf(p.writer, "Hint: try --kind %s\n", alt.Alternate)
		}
		return nil
	default:
		return p.unknownFormat()
	}
}

func (p *Printer) printJSON(data interface{}) error {
	encoder := json.NewEncoder(p.writer)
	encoder.SetIndent("", "  ")
	return encoder.Encode(data)
}
