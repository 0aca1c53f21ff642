package commands

import (
	"fmt"

	"github.com/spf13/cobra"

	"keyward/internal/crypto"
)

func fingerprintCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "fingerprint",
		Short: "Print the signing key fingerprint",
		RunE: func(cmd *cobra.Command, args []string) error {
			acc, err := appCtx.Machine.Account()
			if err != nil {
				return err
			}
			_, ed := acc.IdentityKeys()
			fmt.Printf("Fingerprint: %s\n", crypto.Fingerprint(ed))
			return nil
		},
	}
	return cmd
}
