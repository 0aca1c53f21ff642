package commands

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"keyward/internal/account"
	"keyward/internal/app"
)

var (
	configPath string
	passphrase string
	overrides  *app.Flags
	appCtx     *app.Wire

	// generatedDevice is set when the config named no device and init
	// made one up.
	generatedDevice bool
)

func Execute() error {
	root := &cobra.Command{
		Use:          "keyward",
		Short:        "Matrix end-to-end encryption key management",
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := app.Load(configPath)
			if err != nil {
				return err
			}
			overrides.Apply(cfg)

			if cfg.DeviceID == "" {
				if cmd.Name() != "init" {
					return fmt.Errorf("device_id not configured; run keyward init first")
				}
				cfg.DeviceID = account.NewDeviceID()
				generatedDevice = true
			}
			if passphrase == "" {
				passphrase = os.Getenv(app.EnvPassphrase)
			}
			if passphrase == "" && cfg.Store.Backend != app.BackendMemory {
				return fmt.Errorf("passphrase required (-p or %s)", app.EnvPassphrase)
			}

			level, err := cfg.Level()
			if err != nil {
				return err
			}
			logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))

			appCtx, err = app.NewWire(cmd.Context(), cfg, app.Options{
				Passphrase: passphrase,
				Logger:     logger,
			})
			if err != nil {
				return err
			}
			return appCtx.Machine.Load(cmd.Context())
		},
		PersistentPostRunE: func(cmd *cobra.Command, args []string) error {
			if appCtx == nil {
				return nil
			}
			return appCtx.Close()
		},
	}

	root.PersistentFlags().StringVar(&configPath, "config", "", "config file (default $"+app.EnvConfig+")")
	root.PersistentFlags().StringVarP(&passphrase, "passphrase", "p", "", "passphrase protecting the account")
	overrides = app.RegisterFlags(root.PersistentFlags())

	root.AddCommand(initCmd(), fingerprintCmd(), shareKeysCmd(), queryCmd(), devicesCmd(), syncCmd())
	return root.Execute()
}

// requireHomeserver fails commands that need the network when no
// homeserver is configured.
func requireHomeserver() error {
	if appCtx.Client == nil {
		return fmt.Errorf("no homeserver configured. use --homeserver")
	}
	return nil
}
