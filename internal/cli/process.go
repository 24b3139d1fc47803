package cli

import (
	"context"
	"fmt"
	"io"
	"sort"

	"github.com/spf13/cobra"
	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/tweetarchive/tweets/internal/archive"
	"github.com/tweetarchive/tweets/internal/db"
	"github.com/tweetarchive/tweets/internal/media"
	"github.com/tweetarchive/tweets/internal/pipeline"
)

func newProcessCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "process",
		Short: "Filter, expand and rebuild the archive records and write the outputs",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.process(cmd.Context(), cmd.OutOrStdout())
		},
	}
	addResolveFlags(cmd.Flags())
	addFilterFlags(cmd.Flags())
	addOutputFlags(cmd.Flags())
	return cmd
}

// defaultFilename is the records output name for a format
func defaultFilename(format string) string {
	return "tweets." + format
}

func (a *app) process(ctx context.Context, out io.Writer) error {
	result, p, ix, err := a.run(ctx, pipeline.OptionsFromConfig(a.cfg), a.cfg.Media.Local)
	if result == nil {
		return err
	}

	w := archive.NewWriter(a.cfg.DryRun)
	err = multierr.Append(err, w.WriteUsers(a.outputPath(a.cfg.Archive.UsersFile), p.Users()))

	name := a.cfg.Output.Filename
	if name == "" {
		name = defaultFilename(a.cfg.Output.Format)
	}
	err = multierr.Append(err, w.WriteRecords(a.outputPath(name), result.Records, archive.OutputOptions{
		Format: a.cfg.Output.Format,
		Keep:   a.cfg.Filter.KeysFilter,
		Remove: a.cfg.Filter.KeysRemove,
		Clear:  true,
	}))

	if dir := a.cfg.Output.GrailbirdDir; dir != "" {
		err = multierr.Append(err, a.exportGrailbird(ix, dir, result, p))
	}
	if a.cfg.Database.Enabled {
		err = multierr.Append(err, a.exportDatabase(ctx, result, p))
	}

	a.logger.Info("Processed archive", zap.Stringer("result", result))
	printResult(out, result)
	return err
}

func (a *app) exportGrailbird(ix *media.Index, dir string, result *pipeline.Result, p *pipeline.Pipeline) error {
	account, err := archive.LoadAccount(ix)
	if err != nil {
		a.logger.Warn("Account details unavailable, grailbird user details skipped", zap.Error(err))
	}
	g := archive.NewGrailbird(archive.NewWriter(a.cfg.DryRun), dir, account, p.Users())
	_, err = g.Export(result.Records)
	return err
}

func (a *app) exportDatabase(ctx context.Context, result *pipeline.Result, p *pipeline.Pipeline) error {
	if a.cfg.DryRun {
		a.logger.Info("Dry run, database export skipped")
		return nil
	}
	database, err := db.New(&a.cfg.Database, a.cfg.Logging.Level)
	if err != nil {
		return err
	}
	defer database.Close()
	return database.Export(ctx, result.Records, p.Users())
}

func printResult(out io.Writer, result *pipeline.Result) {
	fmt.Fprintf(out, "kept: %d\n", result.Kept())
	for _, reason := range sortedReasons(result.Dropped) {
		fmt.Fprintf(out, "dropped (%s): %d\n", reason, result.Dropped[reason])
	}
	if len(result.Missing) > 0 {
		fmt.Fprintf(out, "missing media: %d\n", len(result.Missing))
	}
	if len(result.Superseded) > 0 {
		fmt.Fprintf(out, "superseded videos: %d (deleted %d)\n", len(result.Superseded), len(result.Deleted))
	}
	if s := result.Resolve; s.Checked > 0 || s.Skipped > 0 {
		printResolveStats(out, s)
	}
	if n := result.Normalize; n.Rewritten > 0 {
		fmt.Fprintf(out, "links upgraded: %d\n", n.Rewritten)
	}
}

func printResolveStats(out io.Writer, s pipeline.ResolveStats) {
	fmt.Fprintf(out, "urls checked: %d resolved: %d failed: %d expired: %d skipped: %d\n",
		s.Checked, s.Resolved, s.Failed, s.Expired, s.Skipped)
}

func sortedReasons(m map[pipeline.DropReason]int) []pipeline.DropReason {
	reasons := make([]pipeline.DropReason, 0, len(m))
	for r := range m {
		reasons = append(reasons, r)
	}
	sort.Slice(reasons, func(i, j int) bool { return reasons[i] < reasons[j] })
	return reasons
}
