package cli

import (
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/tweetarchive/tweets/internal/archive"
	"github.com/tweetarchive/tweets/internal/pipeline"
)

func newResolveCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "resolve",
		Short: "Resolve the shortened links of the archive into the url cache",
		Long: `resolve discovers every shortened link in the kept records, follows it
online and records the destination or the failure code in the url cache.
Nothing but the cache and the user index is written.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			opts := pipeline.OptionsFromConfig(a.cfg)
			opts.Expand = true
			opts.Resolve = true
			opts.DeleteLowBitrate = false

			result, p, _, err := a.run(cmd.Context(), opts, false)
			if result == nil {
				return err
			}
			err = multierr.Append(err, archive.NewWriter(a.cfg.DryRun).WriteUsers(a.outputPath(a.cfg.Archive.UsersFile), p.Users()))
			a.logger.Info("Resolved urls",
				zap.Int("checked", result.Resolve.Checked),
				zap.Int("resolved", result.Resolve.Resolved),
				zap.Int("failed", result.Resolve.Failed))
			printResolveStats(cmd.OutOrStdout(), result.Resolve)
			if n := result.Normalize.Rewritten; n > 0 {
				fmt.Fprintf(cmd.OutOrStdout(), "links upgraded: %d\n", n)
			}
			return err
		},
	}
	addResolveFlags(cmd.Flags())
	addFilterFlags(cmd.Flags())
	return cmd
}
