package commands

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"keyward/internal/syncer"
)

// sync <file>: replay a saved /sync response.
func syncCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "sync <file>",
		Short: "Feed a saved /sync response through the key machinery",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			data, err := os.ReadFile(args[0])
			if err != nil {
				return err
			}
			resp, err := syncer.Parse(data)
			if err != nil {
				return err
			}
			if err := appCtx.Syncer.Dispatch(cmd.Context(), resp); err != nil {
				return fmt.Errorf("dispatching sync %s: %w", resp.NextBatch, err)
			}
			fmt.Printf("processed sync batch %s\n", resp.NextBatch)
			return nil
		},
	}
}
