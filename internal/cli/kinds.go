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
	"github.com/spf13/cobra"

	"github.com/jeremyhahn/go-credstore/pkg/storekind"
)

var kindsPlatform string

// kindsCmd lists the store catalog
var kindsCmd = &cobra.Command{
	Use:   "kinds",
	Short: "List the supported store kinds",
	Long: `List every store kind with its platform affinity, whether it can be
opened on the selected platform and the kind suggested when it cannot.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return getConfig().Printer(cmd.OutOrStdout()).PrintKinds(platformFlag(kindsPlatform), storekind.All())
	},
}

var alternatePlatform string

// alternateCmd prints the fallback for a kind
var alternateCmd = &cobra.Command{
	Use:   "alternate <kind>",
	Short: "Print the store kind to try when a kind is unavailable",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		kind, err := storekind.ParseKind(args[0])
		if err != nil {
			return err
		}
		return getConfig().Printer(cmd.OutOrStdout()).PrintAlternate(kind, platformFlag(alternatePlatform))
	},
}

func platformFlag(s string) storekind.Platform {
	if s == "" {
		return storekind.CurrentPlatform()
	}
	return storekind.ParsePlatform(s)
}

func init() {
	kindsCmd.Flags().StringVar(&kindsPlatform, "platform", "",
		"platform to evaluate (windows, macos, linux); defaults to the running one")
	alternateCmd.Flags().StringVar(&alternatePlatform, "platform", "",
		"platform to evaluate (windows, macos, linux); defaults to the running one")
}
