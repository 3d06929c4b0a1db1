package main

import (
	"os"

	"github.com/polydrive/polydrive/internal/client/config"
	"github.com/spf13/cobra"
)

const configPathEnv = "POLYDRIVE_CONFIG_PATH"

// resolveConfigPath picks the config file, honoring (in order) the --config
// flag, POLYDRIVE_CONFIG_PATH and the default path. explicit reports whether
// the user asked for that file, in which case it must exist.
func resolveConfigPath(cmd *cobra.Command) (path string, explicit bool) {
	if flag := cmd.Flag("config"); flag != nil && flag.Changed {
		return flag.Value.String(), true
	}

	if envPath := os.Getenv(configPathEnv); envPath != "" {
		return envPath, true
	}

	return config.DefaultConfigPath, false
}
