package main

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/crowdmap/crowdsync/internal/daemon"
	"github.com/crowdmap/crowdsync/internal/events"
	"github.com/crowdmap/crowdsync/internal/ui"
)

var daemonCmd = &cobra.Command{
	Use:     "daemon",
	GroupID: "sync",
	Short:   "Run the background sync daemon (foreground)",
	Long: `Run the sync daemon in the foreground until interrupted.

The daemon will:
  - Import drafts written to the outbox directory as pending posts
  - Push pending posts of every deployment on an interval
  - Refresh the first page of posts of every deployment on an interval
  - Stream sync events over WebSocket when events.addr is set

Drafts that can never be imported are moved to the outbox's rejected/
directory.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer cancel()

		var hub *events.Hub
		var publisher events.Publisher
		if cfg.Events.Addr != "" {
			hub = events.NewHub(&events.Config{Addr: cfg.Events.Addr, Buffer: cfg.Events.Buffer, Logger: logger})
			if err := hub.Start(); err != nil {
				return err
			}
			defer hub.Stop()
			publisher = hub
		}

		a, err := openApp(ctx, publisher)
		if err != nil {
			return err
		}
		defer a.Close()

		d, err := daemon.New(a.repo, a.syncer, &daemon.Config{
			OutboxDir:        cfg.Outbox,
			PushInterval:     cfg.Daemon.PushInterval,
			RefreshInterval:  cfg.Daemon.RefreshInterval,
			RefreshLimit:     cfg.Daemon.RefreshLimit,
			DebounceInterval: cfg.Daemon.Debounce,
			Logger:           logger,
		})
		if err != nil {
			return fmt.Errorf("failed to create daemon: %w", err)
		}

		fmt.Printf("%s Starting sync daemon...\n", ui.RenderAccent("→"))
		fmt.Printf("  Cache:  %s\n", cfg.Database)
		fmt.Printf("  Outbox: %s\n", cfg.Outbox)
		if hub != nil {
			fmt.Printf("  Events: ws://%s/ws\n", hub.Addr())
		}
		fmt.Println("\nPress Ctrl+C to stop")

		if err := d.Start(ctx); err != nil {
			return err
		}
		fmt.Printf("%s Daemon stopped\n", ui.RenderPass("✓"))
		return nil
	},
}

var syncCmd = &cobra.Command{
	Use:     "sync",
	GroupID: "sync",
	Short:   "Import the outbox, push pending posts and refresh every deployment once",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		if offline {
			return fmt.Errorf("sync needs the network, drop --offline")
		}
		a, err := openApp(ctx, nil)
		if err != nil {
			return err
		}
		defer a.Close()

		d, err := daemon.New(a.repo, a.syncer, &daemon.Config{
			OutboxDir:    cfg.Outbox,
			RefreshLimit: cfg.Daemon.RefreshLimit,
			Logger:       logger,
		})
		if err != nil {
			return err
		}
		defer d.Stop()

		imported, err := d.ImportOutbox(ctx)
		if err != nil {
			return err
		}
		result, pushErr := d.PushAll(ctx)
		refreshErr := d.RefreshAll(ctx)

		mark := ui.RenderPass("✓")
		if pushErr != nil || refreshErr != nil {
			mark = ui.RenderWarn("⚠")
		}
		fmt.Printf("%s Imported %d drafts, pushed %d posts, %d failed\n", mark, imported, result.Pushed, result.Failed)
		if pushErr != nil {
			return pushErr
		}
		return refreshErr
	},
}

func init() {
	rootCmd.AddCommand(daemonCmd, syncCmd)
}
