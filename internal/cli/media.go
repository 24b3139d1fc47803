package cli

import (
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/multierr"

	"github.com/tweetarchive/tweets/internal/archive"
	"github.com/tweetarchive/tweets/internal/media"
	"github.com/tweetarchive/tweets/internal/pipeline"
)

func newCountCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "count",
		Short: "Count the records in the archive",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ix, err := a.scan()
			if err != nil {
				return err
			}
			path, err := a.recordsPath(ix)
			if err != nil {
				return err
			}
			n, err := archive.CountRecords(path)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), n)
			return nil
		},
	}
}

// listKinds maps the list argument onto the index table it prints
var listKinds = map[string]func(*media.Index) map[string]string{
	"all":    func(ix *media.Index) map[string]string { return ix.Files },
	"js":     func(ix *media.Index) map[string]string { return ix.Scripts },
	"images": func(ix *media.Index) map[string]string { return ix.Images },
	"videos": func(ix *media.Index) map[string]string { return ix.Videos },
}

func newListCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:       "list [all|js|images|videos]",
		Short:     "List the archive files of one kind",
		Args:      cobra.MatchAll(cobra.MaximumNArgs(1), cobra.OnlyValidArgs),
		ValidArgs: []string{"all", "js", "images", "videos"},
		RunE: func(cmd *cobra.Command, args []string) error {
			kind := "all"
			if len(args) == 1 {
				kind = args[0]
			}
			ix, err := a.scan()
			if err != nil {
				return err
			}
			files := listKinds[kind](ix)
			for _, name := range media.Sorted(files) {
				fmt.Fprintln(cmd.OutOrStdout(), files[name])
			}
			return nil
		},
	}
}

func newMissingMediaCmd(a *app) *cobra.Command {
	var download bool
	cmd := &cobra.Command{
		Use:   "missing-media",
		Short: "Print the media referenced by records that has no local copy",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			opts := pipeline.OptionsFromConfig(a.cfg)
			opts.Expand = false
			opts.Resolve = false
			opts.DeleteLowBitrate = false

			result, _, ix, err := a.run(cmd.Context(), opts, true)
			if result == nil {
				return err
			}
			for _, name := range media.Sorted(result.Missing) {
				fmt.Fprintf(cmd.OutOrStdout(), "%s %s\n", name, result.Missing[name])
			}
			if !download || len(result.Missing) == 0 {
				return err
			}
			if a.cfg.Resolver.Offline {
				return multierr.Append(err, fmt.Errorf("%w: %d missing files not downloaded", media.ErrOffline, len(result.Missing)))
			}

			d := media.NewDownloader(a.cfg.Resolver.MaxTime, a.cfg.DryRun)
			fetched, dlErr := d.DownloadAll(cmd.Context(), ix.Root, result.Missing)
			fmt.Fprintf(cmd.OutOrStdout(), "downloaded: %d of %d\n", fetched, len(result.Missing))
			return multierr.Append(err, dlErr)
		},
	}
	addFilterFlags(cmd.Flags())
	cmd.Flags().BoolVar(&download, "download", false, "fetch the missing files into "+media.DownloadDir)
	return cmd
}

func newDupesCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "dupes",
		Short: "Collapse media files saved under several record ids",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ix, err := a.scan()
			if err != nil {
				return err
			}
			var paths []string
			for _, p := range ix.Paths {
				switch media.KindOf(p) {
				case media.KindImage, media.KindVideo:
					paths = append(paths, p)
				}
			}
			plan := media.PlanDupes(paths)
			fmt.Fprintf(cmd.OutOrStdout(), "duplicate groups: %d renames: %d deletes: %d\n",
				len(plan.Groups), len(plan.Renames), len(plan.Deletes))
			return plan.Apply(a.cfg.DryRun)
		},
	}
}
