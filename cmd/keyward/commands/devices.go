package commands

import (
	"fmt"

	"github.com/spf13/cobra"

	"keyward/internal/crypto"
	"keyward/internal/domain"
)

func devicesCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "devices <user>",
		Short: "List stored devices of a user",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			devices, err := appCtx.Machine.Devices(cmd.Context(), domain.UserID(args[0]))
			if err != nil {
				return err
			}
			if len(devices) == 0 {
				fmt.Println("no devices stored")
				return nil
			}
			for _, dev := range devices {
				state := dev.Trust.String()
				if dev.Deleted {
					state += ", deleted"
				}
				fmt.Printf("%-12s %-24q [%s]\n  %s\n", dev.DeviceID, dev.Name, state, crypto.Fingerprint(dev.SigningKey))
			}
			return nil
		},
	}
}
