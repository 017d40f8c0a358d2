package main

import (
	"os"
	"path/filepath"

	"github.com/hyperjump/kagami/internal/config"
	"github.com/spf13/cobra"
)

const localConfigName = "config.yaml"

// NewRootCmd creates the root kagami command with all subcommands registered.
func NewRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "kagami",
		Short:         "Image and text similarity search over a CLIP embedding index",
		Long:          "kagami serves nearest-neighbour search over a prebuilt CLIP index fetched from a content store.",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	root.PersistentFlags().StringP("config", "c", "", "config file path (default ./config.yaml when present)")
	root.PersistentFlags().Bool("debug", false, "enable debug logging")

	root.AddCommand(
		newServeCmd(),
		newServeMinimalCmd(),
		newSearchCmd(),
		newStatusCmd(),
		newVersionCmd(),
	)
	return root
}

// resolveConfigPath returns the explicit path, or ./config.yaml when it
// exists, or "" to run on defaults and the environment alone.
func resolveConfigPath(explicit string) string {
	if explicit != "" {
		return explicit
	}
	if cwd, err := os.Getwd(); err == nil {
		fallback := filepath.Join(cwd, localConfigName)
		if _, err := os.Stat(fallback); err == nil {
			return fallback
		}
	}
	return ""
}

// loadConfig reads .env, then the config file chosen by the --config flag.
// Returns the config and the path actually loaded.
func loadConfig(cmd *cobra.Command) (*config.Config, string, error) {
	if err := config.LoadDotEnv(); err != nil {
		return nil, "", err
	}
	explicit, _ := cmd.Flags().GetString("config")
	path := resolveConfigPath(explicit)
	cfg, err := config.Load(path)
	if err != nil {
		return nil, "", err
	}
	if debug, _ := cmd.Flags().GetBool("debug"); debug {
		cfg.Debug = true
	}
	return cfg, path, nil
}
