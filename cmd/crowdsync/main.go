package main

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"runtime"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/crowdmap/crowdsync/internal/config"
	"github.com/crowdmap/crowdsync/internal/logging"
	"github.com/crowdmap/crowdsync/internal/ui"
)

var (
	// Version and GitCommit are set at build time with -ldflags.
	Version   = "dev"
	GitCommit = "unknown"

	configFile   string
	outputFormat string
	plainOutput  bool
	offline      bool

	v         = viper.New()
	cfg       *config.Config
	logger    *slog.Logger
	logCloser io.Closer
)

var rootCmd = &cobra.Command{
	Use:   "crowdsync",
	Short: "Offline-first client for crowdmapping deployments",
	Long: `crowdsync keeps a local cache of one or more crowdmapping deployments:
posts with their field values, survey forms, users, media and collections.

Reads are served from the cache when possible and fall back to the network.
Posts written while offline are kept pending and pushed later, by hand with
'crowdsync post push' or in the background with 'crowdsync daemon'.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		var err error
		cfg, err = config.Load(v, configFile)
		if err != nil {
			return err
		}
		logger, logCloser, err = logging.New(cfg.Log, os.Stderr)
		if err != nil {
			return err
		}
		slog.SetDefault(logger)
		ui.Init(os.Stdout, plainOutput || outputFormat != "table")
		return nil
	},
	PersistentPostRunE: func(cmd *cobra.Command, args []string) error {
		if logCloser != nil {
			return logCloser.Close()
		}
		return nil
	},
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("crowdsync %s (commit %s)\n", Version, GitCommit)
		fmt.Printf("Go version: %s, OS/Arch: %s/%s\n", runtime.Version(), runtime.GOOS, runtime.GOARCH)
	},
}

func init() {
	rootCmd.AddGroup(
		&cobra.Group{ID: "deployments", Title: "Deployments:"},
		&cobra.Group{ID: "content", Title: "Posts and forms:"},
		&cobra.Group{ID: "sync", Title: "Sync and cache:"},
	)

	flags := rootCmd.PersistentFlags()
	flags.StringVar(&configFile, "config", "", "Path to config file (default <data-dir>/config.toml)")
	flags.String("data-dir", config.DefaultDataDir(), "Directory holding the cache, outbox and config")
	flags.String("log-level", "info", "Log level: debug, info, warn, error")
	flags.String("log-file", "", "Also log to this file, rotated by size")
	flags.StringVarP(&outputFormat, "output", "o", "table", "Output format: table, yaml, json")
	flags.BoolVar(&plainOutput, "plain", false, "Disable colors")
	flags.BoolVar(&offline, "offline", false, "Never touch the network, read the cache only")

	_ = v.BindPFlag("data_dir", flags.Lookup("data-dir"))
	_ = v.BindPFlag("log.level", flags.Lookup("log-level"))
	_ = v.BindPFlag("log.file", flags.Lookup("log-file"))

	rootCmd.AddCommand(versionCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
