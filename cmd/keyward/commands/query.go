package commands

import (
	"fmt"
	"sort"

	"github.com/spf13/cobra"

	"keyward/internal/domain"
)

// query <user>...: fetch, validate and store device lists.
func queryCmd() *cobra.Command {
	var includeUntracked bool
	cmd := &cobra.Command{
		Use:   "query <user>...",
		Short: "Fetch and validate device lists from the homeserver",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := requireHomeserver(); err != nil {
				return err
			}
			users := make([]domain.UserID, len(args))
			for i, a := range args {
				users[i] = domain.UserID(a)
			}

			result, err := appCtx.Machine.FetchKeys(cmd.Context(), users, "", includeUntracked)
			if err != nil {
				return err
			}
			if len(result) == 0 {
				fmt.Println("no keys returned (are these users tracked? try --include-untracked)")
				return nil
			}
			for _, user := range users {
				devices, ok := result[user]
				if !ok {
					continue
				}
				ids := make([]string, 0, len(devices))
				for id := range devices {
					ids = append(ids, string(id))
				}
				sort.Strings(ids)
				fmt.Printf("%s: %d valid device(s)\n", user, len(ids))
				for _, id := range ids {
					dev := devices[domain.DeviceID(id)]
					fmt.Printf("  %-12s %s  %q\n", id, dev.SigningKey, dev.Name)
				}
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&includeUntracked, "include-untracked", false, "also query users whose device lists are not tracked")
	return cmd
}
