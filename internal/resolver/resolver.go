package resolver

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/attribute"
	otelmetric "go.opentelemetry.io/otel/metric"
	"go.uber.org/zap"

	"github.com/tweetarchive/tweets/pkg/config"
	"github.com/tweetarchive/tweets/pkg/logging"
	"github.com/tweetarchive/tweets/pkg/telemetry"
)

// maxHops bounds how many times one Resolve call re-targets itself
const maxHops = 3

// Result is the outcome of resolving one URL. Exactly one of URL (with
// Status StatusOK) or a non-zero Status is meaningful, unless Offline is set.
type Result struct {
	URL    string
	Status int
	// Offline is set when no network access was attempted
	Offline bool
}

// OK reports whether the URL was resolved
func (r Result) OK() bool {
	return !r.Offline && r.Status == StatusOK && r.URL != ""
}

// Options configures a Resolver
type Options struct {
	ConnectTimeout time.Duration
	// MaxTime bounds a whole probe including redirects; zero means ten times ConnectTimeout
	MaxTime     time.Duration
	Offline     bool
	ProbeStatus bool
}

// OptionsFromConfig maps resolver configuration onto Options
func OptionsFromConfig(cfg *config.ResolverConfig) Options {
	return Options{
		ConnectTimeout: cfg.ConnectTimeout,
		MaxTime:        cfg.MaxTime,
		Offline:        cfg.Offline,
		ProbeStatus:    cfg.ProbeStatus,
	}
}

// Override adjusts the timeouts of a single Resolve call
type Override struct {
	ConnectTimeout time.Duration
	MaxTime        time.Duration
}

// Resolver turns short URLs into their destination. It memoizes results for
// the lifetime of the value, so construct one per run.
type Resolver struct {
	transport Transport
	secondary SecondaryChecker
	opts      Options
	memo      map[string]Result
	logger    *zap.Logger

	probes   otelmetric.Int64Counter
	duration otelmetric.Float64Histogram
	resolved otelmetric.Int64Counter
	failed   otelmetric.Int64Counter
}

// New returns a resolver. secondary may be nil to skip the secondary check.
func New(transport Transport, secondary SecondaryChecker, opts Options) *Resolver {
	if opts.ConnectTimeout <= 0 {
		opts.ConnectTimeout = 3 * time.Second
	}
	if opts.MaxTime <= 0 {
		opts.MaxTime = opts.ConnectTimeout * 10
	}
	return &Resolver{
		transport: transport,
		secondary: secondary,
		opts:      opts,
		memo:      make(map[string]Result),
		logger:    logging.WithComponent("resolver"),
		probes:    telemetry.Counter("tweets_url_probes_total", "Primary URL probes issued"),
		duration:  telemetry.Histogram("tweets_url_probe_duration_seconds", "Duration of one primary URL probe"),
		resolved:  telemetry.Counter("tweets_urls_resolved_total", "URLs resolved to a destination"),
		failed:    telemetry.Counter("tweets_urls_failed_total", "URLs that resolved to a status code"),
	}
}

// NewHTTP returns a resolver over the network with the secondary check enabled
func NewHTTP(opts Options) *Resolver {
	transport := NewHTTPTransport(opts.ConnectTimeout)
	return New(transport, NewSpiderChecker(5*time.Second), opts)
}

// Offline reports whether the resolver never touches the network
func (r *Resolver) Offline() bool {
	return r.opts.Offline
}

// Resolve resolves rawURL with the default timeouts
func (r *Resolver) Resolve(ctx context.Context, rawURL string) Result {
	return r.ResolveWith(ctx, rawURL, Override{})
}

// ResolveWith resolves rawURL, following redirects. Transport failures are
// reported through Result.Status, never as errors.
func (r *Resolver) ResolveWith(ctx context.Context, rawURL string, o Override) Result {
	if r.opts.Offline {
		return Result{URL: rawURL, Offline: true}
	}

	if res, ok := r.memo[rawURL]; ok && !IsRetryable(res.Status) && !IsDead(res.Status) {
		return res
	}

	ctx, span := telemetry.StartSpan(ctx, "resolver.Resolve")
	defer span.End()

	connect, maxTime := r.opts.ConnectTimeout, r.opts.MaxTime
	if o.ConnectTimeout > 0 {
		connect = o.ConnectTimeout
		if o.MaxTime <= 0 {
			maxTime = connect * 10
		}
	}
	if o.MaxTime > 0 {
		maxTime = o.MaxTime
	}

	res := r.resolve(ctx, rawURL, connect, maxTime)

	span.SetAttributes(
		attribute.String("url", rawURL),
		attribute.Int("status", res.Status),
	)
	if res.OK() {
		r.resolved.Add(ctx, 1)
	} else {
		r.failed.Add(ctx, 1, otelmetric.WithAttributes(attribute.Int("status", res.Status)))
	}

	r.memo[rawURL] = res
	return res
}

func (r *Resolver) resolve(ctx context.Context, rawURL string, connect, maxTime time.Duration) Result {
	target := rawURL
	retried := false

	for hop := 0; hop < maxHops; hop++ {
		effective, status := r.probe(ctx, target, connect, maxTime)
		r.logger.Debug("Probed url",
			zap.String("url", target),
			zap.String("effective", effective),
			zap.Int("status", status))

		if status == StatusOK {
			r.probeStatus(ctx, effective, connect, maxTime)
			return Result{URL: effective, Status: StatusOK}
		}

		// one retry against the last URL reached before the failure
		if IsRetryable(status) && !retried && effective != "" && effective != target {
			retried = true
			target = effective
			continue
		}

		if effective == target && r.secondary != nil {
			check := r.secondary.Check(ctx, target)
			r.logger.Debug("Secondary check",
				zap.String("url", target),
				zap.Stringer("outcome", check.Outcome))
			switch check.Outcome {
			case SecondaryBroken:
				return Result{Status: StatusSecondaryFailed}
			case SecondaryExists:
				return Result{URL: target, Status: StatusOK}
			case SecondaryFound:
				if check.URL != target {
					target = check.URL
					continue
				}
			}
		}
		return Result{Status: status}
	}

	// hop budget exhausted while still being redirected elsewhere
	return Result{Status: StatusTooManyRedirects}
}

func (r *Resolver) probe(ctx context.Context, target string, connect, maxTime time.Duration) (string, int) {
	ctx, cancel := context.WithTimeout(WithConnectTimeout(ctx, connect), maxTime)
	defer cancel()
	r.probes.Add(ctx, 1)
	start := time.Now()
	effective, status := r.transport.Probe(ctx, target)
	r.duration.Record(ctx, time.Since(start).Seconds(), otelmetric.WithAttributes(attribute.Int("status", status)))
	return effective, status
}

// probeStatus logs the HTTP status of a resolved URL; it never changes the result
func (r *Resolver) probeStatus(ctx context.Context, target string, connect, maxTime time.Duration) {
	if !r.opts.ProbeStatus {
		return
	}
	ctx, cancel := context.WithTimeout(WithConnectTimeout(ctx, connect), maxTime)
	defer cancel()

	code, err := r.transport.HTTPStatus(ctx, target)
	if err != nil {
		r.logger.Debug("Status probe failed", zap.String("url", target), zap.Error(err))
		return
	}
	if code >= 400 {
		r.logger.Info("Resolved url answers with an error status",
			zap.String("url", target),
			zap.Int("http_status", code))
	}
}
