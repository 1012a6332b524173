package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

// version is overridden at release time via -ldflags "-X main.version=...".
var version = "0.2.4"

var (
	configPath string
	rootCmd    = &cobra.Command{
		Use:   "ghconfig",
		Short: "Bulk manager for GitHub Actions secrets and variables",
		Long: `ghconfig sets and deletes GitHub Actions Secrets and Variables across
every repository of an organization through the gh CLI. It reads the
desired state from flag files or a manifest, processes repositories
sequentially or with a worker pool, and records every run in a local
journal.`,
	}
)

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "config file path")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
