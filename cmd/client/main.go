package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/fatih/color"
	"github.com/polydrive/polydrive/internal/client/command"
	"github.com/polydrive/polydrive/internal/client/config"
	"github.com/polydrive/polydrive/internal/version"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var errNoCommand = errors.New("no command provided. To start client in daemon mode, use --daemon.")

var (
	red  = color.New(color.FgHiRed, color.Bold).SprintFunc()
	cyan = color.New(color.FgHiCyan).SprintFunc()
)

// cfg is the effective configuration, loaded before any command runs
var cfg *config.Config

var rootCmd = &cobra.Command{
	Use:           "polydrive",
	Short:         "Keep local files in sync with a remote drive",
	Version:       version.Detailed(),
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		var err error
		if cfg, err = loadConfig(cmd); err != nil {
			cmd.SilenceUsage = true
			return err
		}

		verbose, _ := cmd.Flags().GetCount("verbose")
		daemon, _ := cmd.Flags().GetBool("daemon")
		logFile := ""
		if daemon {
			logFile = cfg.LogFile
		}
		return setupLogging(verbose, logFile)
	},
	RunE: func(cmd *cobra.Command, args []string) error {
		if daemon, _ := cmd.Flags().GetBool("daemon"); !daemon {
			return errNoCommand
		}
		cmd.SilenceUsage = true
		return runDaemon(cmd.Context(), cfg)
	},
}

func init() {
	rootCmd.Flags().SortFlags = false
	rootCmd.Flags().BoolP("daemon", "d", false, "Run the sync daemon")
	rootCmd.Flags().StringArrayP("watch", "w", nil, "Path or glob to watch, repeatable")
	rootCmd.PersistentFlags().StringP("config", "c", config.DefaultConfigPath, "Polydrive config file")
	rootCmd.PersistentFlags().String("socket", "", "Daemon control socket (default <state_dir>/polydrive.sock)")
	rootCmd.PersistentFlags().CountP("verbose", "v", "Increase log verbosity, -vv for trace")
}

func main() {
	// Setup root context with signal handling
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	err := rootCmd.ExecuteContext(ctx)
	closeLogging()
	if err != nil {
		fmt.Fprintf(os.Stderr, "%s %s\n", red("Error:"), err)
		if errors.Is(err, command.ErrDaemonNotReachable) {
			fmt.Fprintf(os.Stderr, "Start it with %s\n", cyan("polydrive --daemon"))
		}
		os.Exit(1)
	}
}

// loadConfig builds the effective config from defaults, the config file,
// POLYDRIVE_* environment variables and flags, in increasing precedence.
func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	v := viper.New()
	config.SetDefaults(v)

	path, explicit := resolveConfigPath(cmd)
	v.SetConfigFile(path)
	v.SetConfigType("yaml")

	if err := v.ReadInConfig(); err != nil {
		enoent := errors.Is(err, os.ErrNotExist)
		_, notFound := err.(viper.ConfigFileNotFoundError)
		if explicit || (!enoent && !notFound) {
			return nil, fmt.Errorf("config read '%s': %w", path, err)
		}
	}

	// Bind flags to viper
	if flag := cmd.Flags().Lookup("watch"); flag != nil {
		v.BindPFlag("watch", flag)
	}
	v.BindPFlag("socket_path", cmd.Flags().Lookup("socket"))

	// Set up environment variables
	v.SetEnvPrefix("POLYDRIVE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	return config.Load(v)
}
