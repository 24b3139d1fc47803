package pipeline

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tweetarchive/tweets/internal/entities"
	"github.com/tweetarchive/tweets/internal/models"
	"github.com/tweetarchive/tweets/internal/resolver"
	"github.com/tweetarchive/tweets/internal/urlcache"
)

// stubTransport resolves from a table and counts probes per URL
type stubTransport struct {
	answers map[string]string
	calls   map[string]int
}

func newStub(answers map[string]string) *stubTransport {
	return &stubTransport{answers: answers, calls: map[string]int{}}
}

func (s *stubTransport) Probe(_ context.Context, rawURL string) (string, int) {
	s.calls[rawURL]++
	if target, ok := s.answers[rawURL]; ok {
		return target, resolver.StatusOK
	}
	return rawURL, resolver.StatusCouldNotResolveHost
}

func (s *stubTransport) HTTPStatus(context.Context, string) (int, error) {
	return 200, nil
}

func newCache(t *testing.T, entries map[string]urlcache.Value) *urlcache.Cache {
	t.Helper()
	c := urlcache.New(filepath.Join(t.TempDir(), "urls.json"))
	for k, v := range entries {
		c.Set(k, v)
	}
	return c
}

func newPipeline(opts Options, cache *urlcache.Cache, stub *stubTransport) *Pipeline {
	var r URLResolver
	if stub != nil {
		r = resolver.New(stub, nil, resolver.Options{})
	}
	return New(opts, nil, cache, r, entities.New(nil, entities.Options{}), nil)
}

func mustGet(t *testing.T, c *urlcache.Cache, url string) urlcache.Value {
	t.Helper()
	v, ok := c.Get(url)
	require.True(t, ok, url)
	return v
}

func TestResolveAllSkipsSettledCodes(t *testing.T) {
	cache := newCache(t, map[string]urlcache.Value{
		"http://bit.ly/dead":  urlcache.Code(resolver.StatusCouldNotResolveHost),
		"http://bit.ly/retry": urlcache.Code(55),
		"http://4sq.com/gone": urlcache.Pending(),
		"http://bit.ly/new":   urlcache.Pending(),
		"http://bit.ly/odd":   urlcache.Code(22),
	})
	stub := newStub(map[string]string{
		"http://bit.ly/new": "https://example.com/new",
		"http://bit.ly/odd": "https://example.com/odd",
	})
	p := newPipeline(Options{Resolve: true, SaveEvery: 2, Seed: 1}, cache, stub)

	stats, err := p.ResolveAll(context.Background())
	require.NoError(t, err)

	assert.Zero(t, stub.calls["http://bit.ly/dead"])
	assert.Zero(t, stub.calls["http://bit.ly/retry"])
	assert.Zero(t, stub.calls["http://4sq.com/gone"])
	assert.Equal(t, 2, stats.Skipped)
	assert.Equal(t, 1, stats.Expired)
	assert.Equal(t, 2, stats.Resolved)
	assert.False(t, cache.Dirty())

	assert.Equal(t, urlcache.Code(0), mustGet(t, cache, "http://4sq.com/gone"))
	assert.Equal(t, urlcache.Resolved("https://example.com/new"), mustGet(t, cache, "http://bit.ly/new"))
	assert.Equal(t, urlcache.Resolved("https://example.com/odd"), mustGet(t, cache, "http://bit.ly/odd"))
	assert.Equal(t, urlcache.Code(resolver.StatusCouldNotResolveHost), mustGet(t, cache, "http://bit.ly/dead"))

	// a second run changes nothing and contacts nothing new
	before := len(stub.calls)
	_, err = p.ResolveAll(context.Background())
	require.NoError(t, err)
	assert.Equal(t, before, len(stub.calls))
	assert.Zero(t, stub.calls["http://bit.ly/dead"])
}

func TestResolveAllForce(t *testing.T) {
	cache := newCache(t, map[string]urlcache.Value{
		"http://bit.ly/dead": urlcache.Code(resolver.StatusCouldNotResolveHost),
		"http://bit.ly/back": urlcache.Code(resolver.StatusTimeout),
	})
	stub := newStub(map[string]string{"http://bit.ly/back": "https://example.com/back"})
	p := newPipeline(Options{Resolve: true, Force: true}, cache, stub)

	_, err := p.ResolveAll(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 1, stub.calls["http://bit.ly/dead"])
	assert.Equal(t, urlcache.Code(resolver.StatusCouldNotResolveHost), mustGet(t, cache, "http://bit.ly/dead"))
	assert.Equal(t, urlcache.Resolved("https://example.com/back"), mustGet(t, cache, "http://bit.ly/back"))
}

func TestResolveAllFollowsShortenerTargets(t *testing.T) {
	cache := newCache(t, map[string]urlcache.Value{
		"http://t.co/a": urlcache.Resolved("http://bit.ly/b"),
		"http://t.co/c": urlcache.Resolved("http://bit.ly/gone"),
		"http://t.co/d": urlcache.Resolved("https://example.com/done"),
	})
	stub := newStub(map[string]string{"http://bit.ly/b": "https://example.com/final"})
	p := newPipeline(Options{Resolve: true}, cache, stub)

	_, err := p.ResolveAll(context.Background())
	require.NoError(t, err)

	assert.Equal(t, urlcache.Resolved("https://example.com/final"), mustGet(t, cache, "http://t.co/a"))
	// a failed follow-up keeps what was already known
	assert.Equal(t, urlcache.Resolved("http://bit.ly/gone"), mustGet(t, cache, "http://t.co/c"))
	assert.Equal(t, urlcache.Resolved("https://example.com/done"), mustGet(t, cache, "http://t.co/d"))
	assert.Zero(t, stub.calls["https://example.com/done"])
}

func TestResolveAllOffline(t *testing.T) {
	cache := newCache(t, map[string]urlcache.Value{"http://bit.ly/x": urlcache.Pending()})
	stub := newStub(nil)
	p := New(Options{Resolve: true}, nil, cache, resolver.New(stub, nil, resolver.Options{Offline: true}), nil, nil)

	stats, err := p.ResolveAll(context.Background())
	require.NoError(t, err)
	assert.Zero(t, stats.Checked)
	assert.Empty(t, stub.calls)
	assert.True(t, mustGet(t, cache, "http://bit.ly/x").IsPending())
}

func TestResolveAllCancelled(t *testing.T) {
	cache := newCache(t, map[string]urlcache.Value{"http://bit.ly/x": urlcache.Pending()})
	stub := newStub(nil)
	p := newPipeline(Options{Resolve: true}, cache, stub)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := p.ResolveAll(ctx)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Empty(t, stub.calls)
}

func TestThrottleSleepsAfterFastChecks(t *testing.T) {
	p := newPipeline(Options{Sleep: 20 * time.Millisecond, SleepUnder: time.Hour}, newCache(t, nil), nil)

	start := time.Now()
	p.throttle(context.Background(), func() {})
	assert.GreaterOrEqual(t, time.Since(start), 20*time.Millisecond)

	p.opts.SleepUnder = 0
	start = time.Now()
	p.throttle(context.Background(), func() {})
	assert.Less(t, time.Since(start), 20*time.Millisecond)
}

func sourceRecords() []*models.Record {
	return []*models.Record{
		{
			ID:        2,
			FullText:  "RT @carol: see http://t.co/abc",
			CreatedAt: "Sun Dec 02 10:00:00 +0000 2018",
			Entities: &models.Entities{
				URLs: []models.URLEntity{{URL: "http://t.co/abc", ExpandedURL: "http://bit.ly/xyz", Indices: models.Span{Start: 15, End: 30}}},
			},
			RetweetedStatus: &models.Record{
				ID:       9,
				FullText: "see http://t.co/abc",
				User:     &models.User{ID: 8, IDStr: "8", ScreenName: "carol", Name: "Carol"},
			},
		},
		{
			ID:        1,
			FullText:  "hello @bob",
			CreatedAt: "Sat Nov 10 22:35:01 +0000 2018",
			Entities: &models.Entities{
				UserMentions: []models.MentionEntity{{ScreenName: "bob", ID: 7, IDStr: "7", Indices: models.Span{Start: 6, End: 10}}},
			},
		},
		{
			ID:       3,
			FullText: "@bob thanks",
		},
	}
}

func TestRunEndToEnd(t *testing.T) {
	cache := newCache(t, nil)
	stub := newStub(map[string]string{"http://bit.ly/xyz": "https://example.com/page"})
	p := newPipeline(Options{Expand: true, Resolve: true, Seed: 7}, cache, stub)
	p.filter = &Filter{NoMentions: true}

	result, err := p.Run(context.Background(), sourceRecords())
	require.NoError(t, err)

	require.Len(t, result.Records, 2)
	assert.Equal(t, 1, result.Dropped[DropMention])

	hello := result.Records[0]
	assert.Equal(t, int64(1), hello.ID.Int64())
	assert.Equal(t, "hello @bob", hello.FinalText())
	require.Len(t, hello.Mentions(), 1)
	assert.Equal(t, models.Span{Start: 6, End: 10}, hello.Mentions()[0].Indices)
	assert.Equal(t, int64(1541889301), hello.CreatedAtUnix)

	rt := result.Records[1]
	assert.Equal(t, "carol", rt.RepostedScreenName)
	assert.Equal(t, "RT @carol: see https://example.com/page", rt.Text)
	assert.Equal(t, "RT @carol: see http://t.co/abc", rt.FullText)
	require.Len(t, rt.URLs(), 1)
	assert.Equal(t, "https://example.com/page", rt.URLs()[0].URL)
	assert.Equal(t, models.Span{Start: 15, End: 39}, rt.URLs()[0].Indices)
	assert.Equal(t, &models.Span{Start: 0, End: 39}, rt.DisplayTextRange)

	assert.Equal(t, urlcache.Resolved("https://example.com/page"), mustGet(t, cache, "http://t.co/abc"))
	assert.Equal(t, urlcache.Resolved("https://example.com/page"), mustGet(t, cache, "http://bit.ly/xyz"))
	assert.Equal(t, 1, stub.calls["http://bit.ly/xyz"])
	assert.Zero(t, stub.calls["http://t.co/abc"])

	carol, ok := p.Users().Get("carol")
	require.True(t, ok)
	assert.Equal(t, int64(8), carol.ID.Int64())
	_, ok = p.Users().Get("bob")
	assert.True(t, ok)
}

func TestRunExcludesRepostsAndKeepsMentionSpan(t *testing.T) {
	cache := newCache(t, nil)
	stub := newStub(map[string]string{"http://t.co/abc": "https://example.com/page"})
	p := newPipeline(Options{Expand: true, Resolve: true}, cache, stub)
	p.filter = &Filter{NoReposts: true}

	records := []*models.Record{
		{
			ID:        2,
			FullText:  "RT @bob: see http://t.co/abc",
			CreatedAt: "Sun Dec 02 10:00:00 +0000 2018",
			Entities: &models.Entities{
				URLs: []models.URLEntity{{URL: "http://t.co/abc", Indices: models.Span{Start: 13, End: 28}}},
			},
		},
		{
			ID:        1,
			FullText:  "hello @bob",
			CreatedAt: "Sat Nov 10 22:35:01 +0000 2018",
			Entities: &models.Entities{
				UserMentions: []models.MentionEntity{{ScreenName: "bob", ID: 7, IDStr: "7", Indices: models.Span{Start: 6, End: 10}}},
			},
		},
	}

	result, err := p.Run(context.Background(), records)
	require.NoError(t, err)

	assert.Equal(t, 1, result.Dropped[DropRepost])
	require.Len(t, result.Records, 1)
	kept := result.Records[0]
	assert.Equal(t, int64(1), kept.ID.Int64())
	assert.Equal(t, "hello @bob", kept.FinalText())
	require.Len(t, kept.Mentions(), 1)
	assert.Equal(t, "bob", kept.Mentions()[0].ScreenName)
	assert.Equal(t, models.Span{Start: 6, End: 10}, kept.Mentions()[0].Indices)
	assert.Zero(t, stub.calls["http://t.co/abc"])
	_, cached := cache.Get("http://t.co/abc")
	assert.False(t, cached)
	_, ok := p.Users().Get("bob")
	assert.True(t, ok)
}

func TestRunUpgradesToHTTPS(t *testing.T) {
	cache := newCache(t, map[string]urlcache.Value{
		"http://t.co/x": urlcache.Resolved("http://example.org/a?utm_source=tw"),
		"http://t.co/y": urlcache.Resolved("https://example.org/b"),
	})
	stub := newStub(nil)
	p := newPipeline(Options{Resolve: true}, cache, stub)

	result, err := p.Run(context.Background(), []*models.Record{{ID: 1, FullText: "see http://t.co/x"}})
	require.NoError(t, err)

	require.Len(t, result.Records, 1)
	assert.Equal(t, "see https://example.org/a", result.Records[0].Text)
	assert.Equal(t, 1, result.Normalize.Rewritten)
	assert.Empty(t, stub.calls)
}

func TestRunWithoutResolutionKeepsText(t *testing.T) {
	cache := newCache(t, map[string]urlcache.Value{"http://t.co/x": urlcache.Resolved("https://example.org/a")})
	p := newPipeline(Options{}, cache, nil)

	result, err := p.Run(context.Background(), []*models.Record{{ID: 1, FullText: "see http://t.co/x #go"}})
	require.NoError(t, err)

	rec := result.Records[0]
	assert.Equal(t, "see http://t.co/x #go", rec.FinalText())
	require.Len(t, rec.Entities.Hashtags, 1)
	assert.Equal(t, models.Span{Start: 18, End: 21}, rec.Entities.Hashtags[0].Indices)
}
