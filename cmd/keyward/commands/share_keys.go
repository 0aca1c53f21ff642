package commands

import (
	"fmt"

	"github.com/spf13/cobra"
)

func shareKeysCmd() *cobra.Command {
	var count int
	cmd := &cobra.Command{
		Use:   "share-keys",
		Short: "Upload device keys and top up one-time keys",
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := requireHomeserver(); err != nil {
				return err
			}
			if err := appCtx.Machine.ShareKeys(cmd.Context(), count); err != nil {
				return err
			}
			acc, err := appCtx.Machine.Account()
			if err != nil {
				return err
			}
			fmt.Printf("Keys shared. Pool size %d, unpublished %d\n", acc.MaxOneTimeKeys, len(acc.UnpublishedKeyIDs()))
			return nil
		},
	}
	cmd.Flags().IntVar(&count, "count", 0, "one-time keys the server currently holds")
	return cmd
}
