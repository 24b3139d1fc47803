package cli

import (
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/multierr"

	"github.com/tweetarchive/tweets/internal/archive"
	"github.com/tweetarchive/tweets/internal/pipeline"
)

func newUsersCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "users",
		Short: "Collect the users mentioned or reposted in the archive into the user index",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			opts := pipeline.OptionsFromConfig(a.cfg)
			opts.Expand = false
			opts.Resolve = false
			opts.DeleteLowBitrate = false

			result, p, _, err := a.run(cmd.Context(), opts, false)
			if result == nil {
				return err
			}
			users := p.Users()
			err = multierr.Append(err, archive.NewWriter(a.cfg.DryRun).WriteUsers(a.outputPath(a.cfg.Archive.UsersFile), users))
			fmt.Fprintf(cmd.OutOrStdout(), "users: %d\n", len(users))
			return err
		},
	}
	addFilterFlags(cmd.Flags())
	return cmd
}
