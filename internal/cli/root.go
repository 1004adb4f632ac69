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

// Package cli implements the credstore command line tool.
package cli

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var (
	// Global configuration
	globalConfig *Config
)

// rootCmd represents the base command
var rootCmd = &cobra.Command{
	Use:   "credstore",
	Short: "credstore - open certificate and key stores",
	Long: `credstore opens the credential stores found on a workstation and lists
their certificates and keys through one interface.

Supported stores:
  - pkcs12, jks, jks-case-exact, jceks, single:  key store files
  - pkcs11:                                      any PKCS#11 module
  - windows, windows-addressbook, windows-ca:    Windows certificate stores
  - apple:                                       macOS keychain
  - shared-nss, mozilla:                         NSS databases (Firefox)
  - dnie, ceres, ceres430, smartcafe:            smart-card drivers

When a store cannot be opened the error names the store to try instead.`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

// Execute runs the root command
func Execute() error {
	return rootCmd.Execute()
}

// ExecuteContext runs the root command with ctx. Cancelling ctx cancels any
// pending prompt.
func ExecuteContext(ctx context.Context) error {
	return rootCmd.ExecuteContext(ctx)
}

func init() {
	// Initialize global config
	globalConfig = NewConfig()

	// Persistent flags (available to all commands)
	pf := rootCmd.PersistentFlags()
	pf.StringVar(&globalConfig.ConfigFile, "config", "",
		"config file (YAML); defaults plus CREDSTORE_* variables when unset")
	pf.StringVarP(&globalConfig.OutputFormat, "output", "o", "text",
		"output format (text, json)")
	pf.BoolVarP(&globalConfig.Verbose, "verbose", "v", false,
		"debug logging")
	pf.BoolVar(&globalConfig.NoColor, "no-color", false,
		"disable colored output")
	pf.BoolVar(&globalConfig.NoPrompt, "no-prompt", false,
		"never ask for a missing file or library")
	pf.StringVar(&globalConfig.PasswordEnv, "password-env", "",
		"read the store password from this environment variable")

	// Add subcommands
	rootCmd.AddCommand(versionCmd)
	rootCmd.AddCommand(kindsCmd)
	rootCmd.AddCommand(alternateCmd)
	rootCmd.AddCommand(listCmd)
	rootCmd.AddCommand(registrationsCmd)
}

// getConfig returns the global configuration
func getConfig() *Config {
	return globalConfig
}

// HandleError prints an error and exits with code 1
func HandleError(err error) {
	printer := getConfig().Printer(os.Stderr)
	_ = printer.PrintError(err) // Error printing to stderr is best-effort
	os.Exit(1)
}

// printVerbose prints a message if verbose mode is enabled
func printVerbose(format string, args ...interface{}) {
	if globalConfig.Verbose {
		fmt.Fprintf(os.Stderr, "[VERBOSE] "+format+"\n", args...)
	}
}
