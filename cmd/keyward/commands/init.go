package commands

import (
	"fmt"

	"github.com/spf13/cobra"

	"keyward/internal/crypto"
)

func initCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "init",
		Short: "Create or load the local account and print its keys",
		RunE: func(cmd *cobra.Command, args []string) error {
			acc, err := appCtx.Machine.Account()
			if err != nil {
				return err
			}
			curve, ed := acc.IdentityKeys()
			cfg := appCtx.Config
			fmt.Printf("User:        %s\n", cfg.UserID)
			fmt.Printf("Device:      %s\n", cfg.DeviceID)
			fmt.Printf("Curve25519:  %s\n", curve)
			fmt.Printf("Ed25519:     %s\n", ed)
			fmt.Printf("Fingerprint: %s\n", crypto.Fingerprint(ed))
			if generatedDevice {
				fmt.Printf("\nNo device_id was configured. Add this to your config:\n  device_id: %s\n", cfg.DeviceID)
			}
			return nil
		},
	}
}
