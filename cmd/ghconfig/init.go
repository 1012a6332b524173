package main

import (
	"fmt"
	"path/filepath"

	"github.com/boomit/github-config-manager/internal/config"
	"github.com/boomit/github-config-manager/internal/scaffold"
	"github.com/spf13/cobra"
)

var (
	initOrg      string
	initManifest string
)

func init() {
	initCmd := &cobra.Command{
		Use:   "init",
		Short: "Write a starter config file",
		RunE:  runInit,
	}
	initCmd.Flags().StringVarP(&initOrg, "org", "o", "", "GitHub organization or user to preconfigure")
	initCmd.Flags().StringVar(&initManifest, "manifest", "", "also write a starter manifest to this path")
	rootCmd.AddCommand(initCmd)
}

func runInit(cmd *cobra.Command, args []string) error {
	path := configPath
	if path == "" {
		path = config.DefaultConfigPath()
	}

	org := initOrg
	if org == "" {
		org = "your-org"
	}

	dbPath := filepath.Join(filepath.Dir(path), "history.db")
	if err := scaffold.WriteConfig(path, scaffold.ConfigData{Organization: org, DatabasePath: dbPath}); err != nil {
		return err
	}
	fmt.Printf("Wrote %s\n", path)

	if initManifest != "" {
		if err := scaffold.WriteManifest(initManifest, scaffold.ManifestData{Organization: org}); err != nil {
			return err
		}
		fmt.Printf("Wrote %s\n", initManifest)
	}
	return nil
}
