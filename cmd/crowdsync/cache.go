package main

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/crowdmap/crowdsync/internal/config"
	"github.com/crowdmap/crowdsync/internal/schema"
	"github.com/crowdmap/crowdsync/internal/store"
	"github.com/crowdmap/crowdsync/internal/ui"
)

var cacheCmd = &cobra.Command{
	Use:     "cache",
	GroupID: "sync",
	Short:   "Inspect or reset the local cache",
}

type tableStatus struct {
	Table string `json:"table" yaml:"table"`
	Rows  int    `json:"rows" yaml:"rows"`
	Error string `json:"error,omitempty" yaml:"error,omitempty"`
}

var cacheStatusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show row counts per table and check the stored schema",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		// Opened without bootstrapping so a stale schema can be reported.
		st, err := store.Open(cfg.Database, store.WithLogger(logger))
		if err != nil {
			return err
		}
		defer st.Close()

		var statuses []tableStatus
		stale := 0
		for _, t := range schema.Tables() {
			s := tableStatus{Table: t.Name}
			if err := st.TestSchema(ctx, t); err != nil {
				s.Error = err.Error()
				stale++
			} else if s.Rows, err = st.Count(ctx, t); err != nil {
				s.Error = err.Error()
			}
			statuses = append(statuses, s)
		}

		if err := render(statuses, func() string {
			rows := make([][]string, 0, len(statuses))
			for _, s := range statuses {
				state := ui.RenderPass("ok")
				if s.Error != "" {
					state = ui.RenderFail(s.Error)
				}
				rows = append(rows, []string{s.Table, strconv.Itoa(s.Rows), state})
			}
			out := ui.Table([]string{"TABLE", "ROWS", "SCHEMA"}, rows)
			if info, err := os.Stat(st.Path()); err == nil {
				out += "\n" + ui.KeyValue([][2]string{
					{"Location", st.Path()},
					{"Size", fmt.Sprintf("%.1f KiB", float64(info.Size())/1024)},
				})
			}
			return out
		}); err != nil {
			return err
		}
		if stale > 0 {
			return fmt.Errorf("%d tables do not match this version, run 'crowdsync cache reset'", stale)
		}
		return nil
	},
}

var cacheResetCmd = &cobra.Command{
	Use:   "reset",
	Short: "Drop and recreate every cached table",
	Long: `Drop every table of the cache and create it again empty. Pending posts
that were not pushed are lost. Logins are kept in the keyring.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		yes, _ := cmd.Flags().GetBool("yes")
		if !yes {
			ok, err := confirm(fmt.Sprintf("Delete everything cached in %s?", cfg.Database))
			if err != nil || !ok {
				return err
			}
		}

		st, err := store.Open(cfg.Database, store.WithLogger(logger))
		if err != nil {
			return err
		}
		defer st.Close()
		if err := st.Reset(ctx); err != nil {
			return err
		}
		fmt.Printf("%s Cache reset\n", ui.RenderPass("✓"))
		return nil
	},
}

var configCmd = &cobra.Command{
	Use:     "config",
	GroupID: "sync",
	Short:   "Show or write the configuration",
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Print the effective configuration",
	RunE: func(cmd *cobra.Command, args []string) error {
		settings := cfg.Settings()
		if remote, ok := settings["remote"].(map[string]any); ok && cfg.Remote.ClientSecret != "" {
			remote["client_secret"] = "********"
		}
		if outputFormat == "table" {
			return config.Encode(os.Stdout, settings)
		}
		return render(settings, nil)
	},
}

var configInitCmd = &cobra.Command{
	Use:   "init",
	Short: "Write the effective configuration to the config file",
	RunE: func(cmd *cobra.Command, args []string) error {
		force, _ := cmd.Flags().GetBool("force")
		path := configFile
		if path == "" {
			path = filepath.Join(cfg.DataDir, config.FileName)
		}
		if _, err := os.Stat(path); err == nil && !force {
			return fmt.Errorf("%s already exists, pass --force to overwrite", path)
		}
		if err := config.Write(path, cfg); err != nil {
			return err
		}
		fmt.Printf("%s Wrote %s\n", ui.RenderPass("✓"), path)
		return nil
	},
}

func init() {
	cacheResetCmd.Flags().BoolP("yes", "y", false, "Do not ask for confirmation")
	configInitCmd.Flags().Bool("force", false, "Overwrite an existing config file")

	cacheCmd.AddCommand(cacheStatusCmd, cacheResetCmd)
	configCmd.AddCommand(configShowCmd, configInitCmd)
	rootCmd.AddCommand(cacheCmd, configCmd)
}
