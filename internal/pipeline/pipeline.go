// Package pipeline runs the per-run record transformation: filtering, link
// discovery, URL resolution, cache normalization and entity rebuilding.
package pipeline

import (
	"context"
	"fmt"
	"sort"
	"time"

	otelmetric "go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/tweetarchive/tweets/internal/entities"
	"github.com/tweetarchive/tweets/internal/links"
	"github.com/tweetarchive/tweets/internal/media"
	"github.com/tweetarchive/tweets/internal/models"
	"github.com/tweetarchive/tweets/internal/urlcache"
	"github.com/tweetarchive/tweets/pkg/config"
	"github.com/tweetarchive/tweets/pkg/logging"
	"github.com/tweetarchive/tweets/pkg/telemetry"
)

// Options configures one run
type Options struct {
	// Expand substitutes known destinations into record text
	Expand bool
	// Resolve discovers shortened links and resolves them online
	Resolve bool
	// Force re-checks entries holding a dead or retryable status
	Force     bool
	SaveEvery int
	// Sleep pauses after any check that finished in under SleepUnder
	SleepUnder time.Duration
	Sleep      time.Duration
	// Seed fixes the resolution order; zero picks a random one
	Seed int64
	// DeleteLowBitrate removes local video copies superseded by a better one
	DeleteLowBitrate bool
	DryRun           bool
}

// OptionsFromConfig maps configuration onto Options
func OptionsFromConfig(cfg *config.Config) Options {
	return Options{
		Expand:           cfg.Resolver.Expand,
		Resolve:          cfg.Resolver.Resolve,
		Force:            cfg.Resolver.Force,
		SaveEvery:        cfg.Resolver.SaveEvery,
		SleepUnder:       cfg.Resolver.SleepUnder,
		Sleep:            cfg.Resolver.Sleep,
		Seed:             cfg.Resolver.Seed,
		DeleteLowBitrate: cfg.Media.Delete,
		DryRun:           cfg.DryRun,
	}
}

// Result is the outcome of a run
type Result struct {
	// Records are the kept records in ascending id order
	Records []*models.Record
	Dropped map[DropReason]int
	// Missing maps media basenames with no local copy to their remote URL
	Missing map[string]string
	// Superseded lists local video files replaced by a higher bitrate copy
	Superseded []string
	// Deleted lists the superseded files removed in this run
	Deleted   []string
	Resolve   ResolveStats
	Normalize links.NormalizeStats
}

// Kept returns the number of records kept
func (r *Result) Kept() int {
	return len(r.Records)
}

// Pipeline owns the records and user index of one run. The cache, resolver
// and rebuilder are side tables shared by every record.
type Pipeline struct {
	opts      Options
	filter    *Filter
	cache     *urlcache.Cache
	rewriter  *links.Rewriter
	resolver  URLResolver
	rebuilder *entities.Rebuilder
	users     models.Users
	logger    *zap.Logger
	now       func() time.Time

	kept    otelmetric.Int64Counter
	dropped otelmetric.Int64Counter
}

// New creates a pipeline. resolver may be nil when nothing is resolved
// online; rebuilder may be nil to keep entities as loaded.
func New(opts Options, filter *Filter, cache *urlcache.Cache, resolver URLResolver, rebuilder *entities.Rebuilder, users models.Users) *Pipeline {
	if filter == nil {
		filter = &Filter{}
	}
	if users == nil {
		users = models.Users{}
	}
	return &Pipeline{
		opts:      opts,
		filter:    filter,
		cache:     cache,
		rewriter:  links.NewRewriter(cache),
		resolver:  resolver,
		rebuilder: rebuilder,
		users:     users,
		logger:    logging.WithComponent("pipeline"),
		now:       time.Now,
		kept:      telemetry.Counter("tweets_records_kept_total", "Records kept by the filters"),
		dropped:   telemetry.Counter("tweets_records_dropped_total", "Records dropped by the filters"),
	}
}

// Users returns the user index, including users collected by Run
func (p *Pipeline) Users() models.Users {
	return p.users
}

// Run processes records in a single pass and returns the kept records with
// their rebuilt entities. Errors from cache flushes and file deletions are
// collected; the records are still returned.
func (p *Pipeline) Run(ctx context.Context, records []*models.Record) (*Result, error) {
	ctx, span := telemetry.StartSpan(ctx, "pipeline.Run")
	defer span.End()

	result := &Result{Dropped: map[DropReason]int{}, Missing: map[string]string{}}
	var errs error

	kept := p.Prepare(ctx, records, result)

	if p.opts.Resolve {
		stats, err := p.ResolveAll(ctx)
		result.Resolve = stats
		errs = multierr.Append(errs, err)

		result.Normalize = links.Normalize(p.cache)
		p.logger.Info("Normalized url cache",
			zap.Int("https_hosts", result.Normalize.HTTPSHosts),
			zap.Int("rewritten", result.Normalize.Rewritten))
		if p.cache.Dirty() {
			errs = multierr.Append(errs, p.cache.Flush())
		}
	}

	result.Records = p.Finalize(kept, result)

	if p.opts.DeleteLowBitrate && len(result.Superseded) > 0 {
		removed, err := media.Remove(result.Superseded, p.opts.DryRun)
		for _, path := range removed {
			if p.opts.DryRun {
				p.logger.Info("Would delete", zap.String("path", path))
			} else {
				p.logger.Info("Deleted", zap.String("path", path))
			}
		}
		if !p.opts.DryRun {
			result.Deleted = removed
		}
		errs = multierr.Append(errs, err)
	}

	span.SetAttributes(attribute.Int("kept", result.Kept()))
	return result, errs
}

// Prepare filters records, registers their links with the cache and collects
// users. It returns the kept records keyed by id.
func (p *Pipeline) Prepare(ctx context.Context, records []*models.Record, result *Result) map[int64]*models.Record {
	kept := make(map[int64]*models.Record, len(records))
	for _, rec := range records {
		out, reason := p.filter.Apply(rec)
		if reason != Kept {
			result.Dropped[reason]++
			p.dropped.Add(ctx, 1, otelmetric.WithAttributes(attribute.String("reason", string(reason))))
			continue
		}

		if p.opts.Expand {
			p.rewriter.RegisterExpansions(out.URLs())
			if rt := out.RetweetedStatus; rt != nil {
				p.rewriter.RegisterExpansions(rt.URLs())
			}
			out.Text = p.rewriter.Rewrite(out.Text)
		}
		if p.opts.Resolve {
			p.rewriter.MarkShortened(out.Text)
		}

		p.collectUsers(out)
		kept[out.ID.Int64()] = out
		p.kept.Add(ctx, 1)
	}

	dropped := 0
	for _, n := range result.Dropped {
		dropped += n
	}
	p.logger.Info("Records to be processed", zap.Int("kept", len(kept)), zap.Int("dropped", dropped))
	return kept
}

// collectUsers adds the reposted author, replacing known fields, and the
// mentioned accounts, only when not yet known.
func (p *Pipeline) collectUsers(rec *models.Record) {
	if rt := rec.RetweetedStatus; rt != nil && rt.User != nil {
		if _, known := p.users.Get(rt.User.ScreenName); !known {
			p.logger.Debug("Adding user", zap.String("screen_name", rt.User.ScreenName))
		}
		p.users.Add(rt.User, true)
	}
	for _, m := range rec.Mentions() {
		p.users.Add(&models.User{
			ID:         m.ID,
			IDStr:      m.IDStr,
			ScreenName: m.ScreenName,
			Name:       m.Name,
		}, false)
	}
}

// Finalize substitutes resolved links into each record's text and rebuilds
// its entities from that final text.
func (p *Pipeline) Finalize(kept map[int64]*models.Record, result *Result) []*models.Record {
	ids := make([]int64, 0, len(kept))
	for id := range kept {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })

	out := make([]*models.Record, 0, len(ids))
	for _, id := range ids {
		rec := kept[id]
		if p.opts.Resolve || p.opts.Expand {
			rec.Text = p.rewriter.Rewrite(rec.Text)
		}
		if p.rebuilder != nil {
			rebuilt, report := p.rebuilder.Rebuild(rec)
			for name, url := range report.Missing {
				if _, ok := result.Missing[name]; !ok {
					result.Missing[name] = url
				}
			}
			for _, path := range report.Delete {
				result.Superseded = appendUnique(result.Superseded, path)
			}
			rec = rebuilt
		}
		out = append(out, rec)
	}
	if len(result.Missing) > 0 {
		p.logger.Info("Missing media files", zap.Int("count", len(result.Missing)))
	}
	return out
}

func appendUnique(list []string, item string) []string {
	for _, existing := range list {
		if existing == item {
			return list
		}
	}
	return append(list, item)
}

// String summarises a result for logs
func (r *Result) String() string {
	return fmt.Sprintf("kept=%d dropped=%v missing=%d resolved=%d failed=%d",
		r.Kept(), r.Dropped, len(r.Missing), r.Resolve.Resolved, r.Resolve.Failed)
}
