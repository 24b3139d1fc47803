package cli

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/pflag"
	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/tweetarchive/tweets/internal/archive"
	"github.com/tweetarchive/tweets/internal/entities"
	"github.com/tweetarchive/tweets/internal/media"
	"github.com/tweetarchive/tweets/internal/models"
	"github.com/tweetarchive/tweets/internal/pipeline"
	"github.com/tweetarchive/tweets/internal/resolver"
	"github.com/tweetarchive/tweets/internal/urlcache"
)

func addResolveFlags(fs *pflag.FlagSet) {
	fs.Bool("urls-expand", false, "substitute known link destinations into record text")
	fs.Bool("urls-resolve", false, "resolve shortened links online (implies --urls-expand)")
	fs.Bool("force", false, "re-check links that previously failed")
	fs.Int("save-every", 125, "flush the url cache after this many checks")
	fs.Duration("sleep-under", 300*time.Millisecond, "pause after checks faster than this")
	fs.Duration("sleep", 100*time.Millisecond, "pause length after fast checks")
	fs.Int64("seed", 0, "fix the resolution order (0 picks a random order)")
	fs.Duration("connect-timeout", 3*time.Second, "connect timeout of one probe")
	fs.Duration("max-time", 30*time.Second, "time bound of one probe including redirects")
	fs.Bool("probe-status", true, "log the HTTP status of resolved destinations")
	fs.Bool("delete", false, "delete local videos superseded by a higher bitrate copy")
}

func addFilterFlags(fs *pflag.FlagSet) {
	fs.String("date-from", "", "keep records created at or after this date")
	fs.String("date-to", "", "keep records created at or before this date")
	fs.String("regexp", "", "keep records whose text matches, e.g. /golang/i")
	fs.String("regexp-save", "", "store the regexp match groups under this name")
	fs.Bool("no-retweets", false, "drop reposts")
	fs.Bool("no-mentions", false, "drop records starting with a mention")
	fs.String("keys-required", "", "comma separated keys a record must have")
	fs.String("keys-filter", "", "comma separated keys kept in the output")
	fs.String("keys-remove", "", "comma separated keys removed from the output")
}

func addOutputFlags(fs *pflag.FlagSet) {
	fs.String("format", "json", "output format: json|csv|txt")
	fs.String("filename", "", "output file name (default is tweets.<format>)")
	fs.String("grailbird", "", "write a grailbird tree into this directory")
	fs.String("grailbird-import", "", "merge the monthly files of a grailbird tree into the records")
}

// outputPath places name in the output directory unless it is absolute
func (a *app) outputPath(name string) string {
	if filepath.IsAbs(name) {
		return name
	}
	return filepath.Join(a.cfg.Archive.OutputDir, name)
}

func (a *app) scan() (*media.Index, error) {
	ix, err := media.Scan(a.cfg.Archive.Dir)
	if err != nil {
		return nil, err
	}
	a.logger.Debug("Scanned archive",
		zap.Int("files", len(ix.Files)),
		zap.Int("images", len(ix.Images)),
		zap.Int("videos", len(ix.Videos)))
	return ix, nil
}

// recordsPath finds the records file: a path as given, or a basename in the index
func (a *app) recordsPath(ix *media.Index) (string, error) {
	name := a.cfg.Archive.TweetsFile
	if fi, err := os.Stat(name); err == nil && !fi.IsDir() {
		return name, nil
	}
	return archive.Locate(ix, filepath.Base(name))
}

// loadRecords reads the records file and merges a grailbird import when configured
func (a *app) loadRecords(ix *media.Index) (archive.Set, error) {
	path, err := a.recordsPath(ix)
	if err != nil {
		return nil, err
	}
	records, err := archive.LoadRecords(path)
	if err != nil {
		return nil, err
	}
	set := archive.IndexByID(records)
	a.logger.Info("Loaded records", zap.String("path", path), zap.Int("count", len(set)))

	if dir := a.cfg.Output.GrailbirdImport; dir != "" {
		imported, err := archive.ImportGrailbird(dir)
		if err != nil {
			return nil, err
		}
		added, merged, err := set.Merge(imported)
		if err != nil {
			return nil, err
		}
		a.logger.Info("Imported grailbird records", zap.String("dir", dir), zap.Int("added", added), zap.Int("merged", merged))
	}
	return set, nil
}

// loadCache opens the url cache, mirrored to redis when configured. An
// unreadable cache file is reported and replaced by an empty cache.
func (a *app) loadCache() (*urlcache.Cache, func(), error) {
	mirror, err := urlcache.NewMirror(&a.cfg.Redis)
	if err != nil {
		return nil, nil, err
	}
	closer := func() {
		if mirror != nil {
			_ = mirror.Close()
		}
	}

	path := a.outputPath(a.cfg.Archive.URLsFile)
	cache, err := urlcache.Load(path, urlcache.WithDryRun(a.cfg.DryRun), urlcache.WithMirror(mirror))
	if errors.Is(err, urlcache.ErrCorrupt) {
		a.logger.Warn("Url cache unreadable, starting empty", zap.String("path", path), zap.Error(err))
		err = nil
	}
	if err != nil {
		closer()
		return nil, nil, err
	}
	cache.LogSummary()
	return cache, closer, nil
}

func (a *app) loadUsers() (models.Users, error) {
	return archive.LoadUsers(a.outputPath(a.cfg.Archive.UsersFile))
}

// newPipeline builds a pipeline from configuration. opts carries any
// command-specific overrides.
func (a *app) newPipeline(opts pipeline.Options, cache *urlcache.Cache, ix *media.Index, users models.Users, local bool) (*pipeline.Pipeline, error) {
	filter, err := pipeline.NewFilter(a.cfg.Filter, time.Now())
	if err != nil {
		return nil, err
	}

	var r pipeline.URLResolver
	if opts.Resolve {
		r = resolver.NewHTTP(resolver.OptionsFromConfig(&a.cfg.Resolver))
	}

	rebuilder := entities.New(ix, entities.Options{
		Local:      local,
		Root:       ix.Root,
		PathPrefix: a.cfg.Media.PathPrefix,
	})
	return pipeline.New(opts, filter, cache, r, rebuilder, users), nil
}

// run executes the pipeline over every loaded record
func (a *app) run(ctx context.Context, opts pipeline.Options, local bool) (*pipeline.Result, *pipeline.Pipeline, *media.Index, error) {
	ix, err := a.scan()
	if err != nil {
		return nil, nil, nil, err
	}
	set, err := a.loadRecords(ix)
	if err != nil {
		return nil, nil, nil, err
	}
	users, err := a.loadUsers()
	if err != nil {
		return nil, nil, nil, err
	}
	cache, closeCache, err := a.loadCache()
	if err != nil {
		return nil, nil, nil, err
	}
	defer closeCache()

	p, err := a.newPipeline(opts, cache, ix, users, local)
	if err != nil {
		return nil, nil, nil, err
	}
	result, err := p.Run(ctx, set.Sorted())
	if cache.Dirty() {
		err = multierr.Append(err, cache.Flush())
	}
	return result, p, ix, err
}
