package main

import (
	"fmt"
	"log/slog"
	"path/filepath"

	"github.com/gofrs/flock"
	"github.com/spf13/cobra"

	"github.com/skysyncd/skysync/internal/controlplane"
	"github.com/skysyncd/skysync/internal/drivesdk"
	"github.com/skysyncd/skysync/internal/sync"
	"github.com/skysyncd/skysync/internal/utils"
	"github.com/skysyncd/skysync/internal/version"
)

func init() {
	rootCmd.AddCommand(newDaemonCmd())
}

func newDaemonCmd() *cobra.Command {
	var addr string

	cmd := &cobra.Command{
		Use:   "daemon",
		Short: "Run the sync daemon",
		RunE: func(cmd *cobra.Command, args []string) error {
			cmd.SilenceUsage = true
			slog.Info("skysync", "version", version.Version, "revision", version.Revision)

			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			if err := utils.EnsureDir(cfg.DataDir); err != nil {
				return err
			}

			// one daemon per installation
			lock := flock.New(filepath.Join(cfg.DataDir, "skysync.lock"))
			locked, err := lock.TryLock()
			if err != nil {
				return fmt.Errorf("acquire daemon lock: %w", err)
			}
			if !locked {
				return fmt.Errorf("another skysync daemon is already running for %s", cfg.DataDir)
			}
			defer lock.Unlock()

			deviceID, err := sync.DeviceID(cfg.DataDir)
			if err != nil {
				return fmt.Errorf("resolve device id: %w", err)
			}

			sdk := drivesdk.New(cfg.ServerURL, deviceID)
			defer sdk.Close()
			if cfg.RefreshToken == "" {
				return fmt.Errorf("not logged in, run 'skysync login' first")
			}
			tokens, err := sdk.RefreshToken(cmd.Context(), cfg.RefreshToken)
			if err != nil {
				return fmt.Errorf("refresh session: %w", err)
			}
			sdk.SetToken(tokens.AccessToken)
			cfg.RefreshToken = tokens.RefreshToken
			if err := cfg.Save(cfg.Path); err != nil {
				slog.Warn("failed to persist rotated refresh token", "error", err)
			}

			store := sync.NewStore(cfg.StatePath())
			if err := store.Open(); err != nil {
				return err
			}
			defer store.Close()

			manager := sync.NewManager(cfg, store, sdk, deviceID)
			if err := manager.StartAll(cmd.Context()); err != nil {
				return err
			}
			defer manager.StopAll()

			defer slog.Info("Bye!")
			return controlplane.New(addr, manager).Start(cmd.Context())
		},
	}

	cmd.Flags().StringVarP(&addr, "http-addr", "a", controlplane.DefaultAddr, "control plane bind address")
	return cmd
}
