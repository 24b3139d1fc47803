package pipeline

import (
	"context"
	"math/rand"
	"time"

	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/tweetarchive/tweets/internal/links"
	"github.com/tweetarchive/tweets/internal/resolver"
	"github.com/tweetarchive/tweets/internal/urlcache"
	"github.com/tweetarchive/tweets/pkg/telemetry"
)

// URLResolver resolves one URL to its destination or a status code
type URLResolver interface {
	Resolve(ctx context.Context, rawURL string) resolver.Result
	Offline() bool
}

// ResolveStats counts what the resolution pass did
type ResolveStats struct {
	Checked  int
	Resolved int
	Failed   int
	Expired  int
	Skipped  int
	Flushes  int
}

// settled reports whether a cached status code is left alone without force.
// Zero marks hosts that are never contacted.
func settled(code int) bool {
	return code == 0 || resolver.IsDead(code) || resolver.IsRetryable(code)
}

// ResolveAll walks the cache in random order and resolves every entry that
// needs it: pending entries, resolved entries still pointing at a shortener,
// and failed entries when forced. The cache is flushed every SaveEvery
// entries and once at the end.
func (p *Pipeline) ResolveAll(ctx context.Context) (ResolveStats, error) {
	var stats ResolveStats
	if p.resolver == nil || p.resolver.Offline() {
		p.logger.Info("Offline, not resolving urls")
		return stats, nil
	}

	ctx, span := telemetry.StartSpan(ctx, "pipeline.ResolveAll")
	defer span.End()

	keys := p.cache.Keys()
	seed := p.opts.Seed
	if seed == 0 {
		seed = time.Now().UnixNano()
	}
	rand.New(rand.NewSource(seed)).Shuffle(len(keys), func(i, j int) { keys[i], keys[j] = keys[j], keys[i] })

	p.logger.Info("Resolving urls", zap.Int("entries", len(keys)))

	var errs error
	for _, url := range keys {
		if err := ctx.Err(); err != nil {
			errs = multierr.Append(errs, err)
			break
		}
		stats.Checked++

		if links.Host(url) == "" || links.IsExpired(url) {
			p.cache.Set(url, urlcache.Code(0))
			stats.Expired++
			continue
		}

		v, _ := p.cache.Get(url)
		switch {
		case v.IsResolved():
			target, _ := v.URL()
			if !links.IsShortener(target) {
				continue
			}
			p.logger.Info("Checking short url", zap.String("url", url), zap.String("target", target))
			p.throttle(ctx, func() { p.followUp(ctx, url, target, &stats) })

		case v.IsCode():
			code, _ := v.StatusCode()
			if settled(code) && !p.opts.Force {
				p.logger.Debug("Not checking url", zap.String("url", url), zap.Int("status", code))
				stats.Skipped++
				continue
			}
			p.throttle(ctx, func() { p.check(ctx, url, &stats) })

		default:
			p.throttle(ctx, func() { p.check(ctx, url, &stats) })
		}

		if p.opts.SaveEvery > 0 && stats.Checked%p.opts.SaveEvery == 0 && p.cache.Dirty() {
			errs = multierr.Append(errs, p.cache.Flush())
			stats.Flushes++
		}
	}

	if stats.Checked > 0 {
		errs = multierr.Append(errs, p.cache.Flush())
		stats.Flushes++
	}
	p.logger.Info("Resolved urls",
		zap.Int("checked", stats.Checked),
		zap.Int("resolved", stats.Resolved),
		zap.Int("failed", stats.Failed),
		zap.Int("expired", stats.Expired),
		zap.Int("skipped", stats.Skipped))
	return stats, errs
}

// check resolves url and stores the outcome
func (p *Pipeline) check(ctx context.Context, url string, stats *ResolveStats) {
	p.logger.Info("Checking url", zap.String("url", url))
	res := p.resolver.Resolve(ctx, url)
	p.store(url, res, stats)
}

// followUp resolves a target that is still a shortener, and once more if the
// destination is yet another shortener. A failed follow-up keeps the
// resolution already held.
func (p *Pipeline) followUp(ctx context.Context, url, target string, stats *ResolveStats) {
	for i := 0; i < 2 && links.IsShortener(target); i++ {
		res := p.resolver.Resolve(ctx, target)
		if !res.OK() {
			p.logger.Info("Failed short url", zap.String("url", url), zap.String("target", target), zap.Int("status", res.Status))
			stats.Failed++
			return
		}
		p.logger.Info("Resolved short url", zap.String("url", url), zap.String("target", target), zap.String("destination", res.URL))
		p.cache.Set(url, urlcache.Resolved(res.URL))
		stats.Resolved++
		target = res.URL
	}
}

func (p *Pipeline) store(url string, res resolver.Result, stats *ResolveStats) {
	switch {
	case res.Offline:
	case res.OK():
		p.logger.Info("Found url", zap.String("url", url), zap.String("target", res.URL))
		p.cache.Set(url, urlcache.Resolved(res.URL))
		stats.Resolved++
	default:
		p.logger.Info("Failed url", zap.String("url", url), zap.Int("status", res.Status))
		p.cache.Set(url, urlcache.Code(res.Status))
		stats.Failed++
	}
}

// throttle runs fn and pauses afterwards when it finished quickly
func (p *Pipeline) throttle(ctx context.Context, fn func()) {
	start := p.now()
	fn()
	if p.opts.Sleep <= 0 || p.now().Sub(start) >= p.opts.SleepUnder {
		return
	}
	p.logger.Debug("Sleep", zap.Duration("duration", p.opts.Sleep))
	select {
	case <-ctx.Done():
	case <-time.After(p.opts.Sleep):
	}
}
